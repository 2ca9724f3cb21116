package transport

import (
	"time"

	"github.com/danmuck/knet/internal/observability"
	"github.com/danmuck/knet/internal/queue"
	"github.com/rs/zerolog/log"
)

// broker is the only goroutine that mutates the connection table and the only
// one that publishes Events. It runs until the accept loop, every reader and
// every writer are gone, so the last disconnect notice is always handled.
func (s *Server[T]) broker() {
	defer close(s.brokerDone)
	log.Debug().Str("component", "transport.broker").Str("server", s.id).Msg("started")

	for ev := range s.internal.Out() {
		switch {
		case ev.peer != nil:
			s.handleNewPeer(ev.peer)
		case ev.gone != nil:
			s.handleNotice(*ev.gone)
		default:
			s.emit(Event[T]{Kind: EventData, ID: ev.id, Value: ev.value})
		}
	}

	s.mu.Lock()
	leftover := s.table
	s.table = nil
	s.mu.Unlock()
	for _, c := range leftover {
		if c != nil {
			observability.RecordDropped(observability.SideServer, c.outbound.Drain())
		}
	}
	observability.RecordActive(0)
	s.events.Close()
	log.Debug().Str("component", "transport.broker").Str("server", s.id).Msg("stopped")
}

func (s *Server[T]) handleNewPeer(p *newPeer) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		p.reply <- assignment{err: ErrServerClosed}
		return
	}
	id, ok := s.assignLocked()
	if !ok {
		s.mu.Unlock()
		observability.RecordRefused()
		p.reply <- assignment{err: ErrTableFull}
		return
	}
	c := &connection[T]{
		id:          id,
		outbound:    queue.New[T](),
		shutdown:    p.shutdown,
		remote:      p.conn.RemoteAddr().String(),
		connectedAt: time.Now(),
	}
	s.insertLocked(c)
	active := s.activeLocked()
	s.mu.Unlock()

	s.producers.Add(1)
	go s.writeLoop(p.conn, c, p.readerDone)
	p.reply <- assignment{id: id}

	observability.RecordActive(active)
	log.Info().
		Str("component", "transport.broker").
		Uint32("slot", uint32(id)).
		Str("remote", c.remote).
		Int("active", active).
		Msg("peer connected")
	s.emit(Event[T]{Kind: EventNewConnection, ID: id})
}

func (s *Server[T]) handleNotice(n notice[T]) {
	s.mu.Lock()
	if c := s.lookupLocked(n.id); c != nil && c.outbound == n.leftover {
		s.table[n.id] = nil
	}
	active := s.activeLocked()
	s.mu.Unlock()

	dropped := n.leftover.Drain()
	observability.RecordDropped(observability.SideServer, dropped)
	observability.RecordActive(active)
	log.Info().
		Str("component", "transport.broker").
		Uint32("slot", uint32(n.id)).
		Int("dropped", dropped).
		Int("active", active).
		Msg("peer disconnected")
	s.emit(Event[T]{Kind: EventConnectionDrop, ID: n.id})
}

// assignLocked picks the lowest free slot, or the next new one.
func (s *Server[T]) assignLocked() (SlotID, bool) {
	for i, c := range s.table {
		if c == nil {
			return SlotID(i), true
		}
	}
	if s.cfg.MaxConnections > 0 && len(s.table) >= s.cfg.MaxConnections {
		return 0, false
	}
	return SlotID(len(s.table)), true
}

func (s *Server[T]) insertLocked(c *connection[T]) {
	for int(c.id) >= len(s.table) {
		s.table = append(s.table, nil)
	}
	s.table[c.id] = c
}

func (s *Server[T]) activeLocked() int {
	n := 0
	for _, c := range s.table {
		if c != nil {
			n++
		}
	}
	return n
}

func (s *Server[T]) emit(ev Event[T]) {
	observability.RecordEvent(ev.Kind.String())
	_ = s.events.Push(ev)
}
