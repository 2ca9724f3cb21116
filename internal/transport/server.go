package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/danmuck/knet/internal/observability"
	"github.com/danmuck/knet/internal/protocol/codec"
	"github.com/danmuck/knet/internal/protocol/frame"
	"github.com/danmuck/knet/internal/queue"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Server accepts framed connections and funnels their activity through one
// broker goroutine. Writes from the application go straight to the target
// connection's outbound queue.
type Server[T any] struct {
	cfg   ServerConfig
	id    string
	codec codec.Codec[T]
	ln    net.Listener

	// guards table and closed; only the broker mutates table
	mu     sync.RWMutex
	table  []*connection[T]
	closed bool

	internal *queue.Queue[wireEvent[T]]
	events   *queue.Queue[Event[T]]

	// accept loop, readers and writers; the internal queue closes when all are gone
	producers  sync.WaitGroup
	brokerDone chan struct{}
	done       chan struct{}
	err        error

	closeOnce sync.Once
	closeErr  error
}

// connection is one occupied table slot.
type connection[T any] struct {
	id          SlotID
	outbound    *queue.Queue[T]
	shutdown    *signal
	remote      string
	connectedAt time.Time
}

// wireEvent is a new peer announcement, a disconnect notice, or a decoded value.
type wireEvent[T any] struct {
	peer  *newPeer
	gone  *notice[T]
	id    SlotID
	value T
}

type newPeer struct {
	conn       net.Conn
	shutdown   *signal
	readerDone <-chan struct{}
	reply      chan assignment
}

type assignment struct {
	id  SlotID
	err error
}

// notice is sent by an exiting writer so the broker can free its slot. It
// travels on the internal queue behind the peer's last value.
type notice[T any] struct {
	id       SlotID
	leftover *queue.Queue[T]
}

// RunServer binds cfg.ListenAddr and starts serving. The returned channel
// carries every Event and is closed once the server has fully stopped.
func RunServer[T any](ctx context.Context, cfg ServerConfig, c codec.Codec[T]) (*Server[T], <-chan Event[T], error) {
	cfg = cfg.WithDefaults()
	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return nil, nil, err
	}
	s, events := Serve(ctx, ln, cfg, c)
	return s, events, nil
}

// Serve runs a server on an existing listener. Cancelling ctx closes it.
func Serve[T any](ctx context.Context, ln net.Listener, cfg ServerConfig, c codec.Codec[T]) (*Server[T], <-chan Event[T]) {
	observability.RegisterMetrics()
	cfg = cfg.WithDefaults()
	s := &Server[T]{
		cfg:        cfg,
		id:         uuid.NewString(),
		codec:      c,
		ln:         ln,
		internal:   queue.New[wireEvent[T]](),
		events:     queue.New[Event[T]](),
		brokerDone: make(chan struct{}),
		done:       make(chan struct{}),
	}

	go s.broker()

	s.producers.Add(1)
	go s.acceptLoop()
	go func() {
		s.producers.Wait()
		s.internal.Close()
	}()
	go func() {
		select {
		case <-ctx.Done():
			_ = s.Close()
		case <-s.done:
		}
	}()

	log.Info().
		Str("component", "transport.server").
		Str("server", s.id).
		Str("addr", ln.Addr().String()).
		Msg("listening")
	return s, s.events.Out()
}

func (s *Server[T]) ID() string {
	return s.id
}

func (s *Server[T]) Addr() net.Addr {
	return s.ln.Addr()
}

// Close stops accepting and disconnects every peer. Use Wait for completion.
func (s *Server[T]) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		if err := s.ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			s.closeErr = err
		}
	})
	return s.closeErr
}

// Wait blocks until the accept loop and broker are done. It returns the
// listener error that ended the server, or nil after Close.
func (s *Server[T]) Wait() error {
	<-s.done
	return s.err
}

// Done is closed once the server has fully stopped.
func (s *Server[T]) Done() <-chan struct{} {
	return s.done
}

// WriteAll queues v for every connection in the table at the time of the call.
// It stops at the first connection whose queue is already closed.
func (s *Server[T]) WriteAll(v T) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.table {
		if c == nil {
			continue
		}
		if err := c.outbound.Push(v); err != nil {
			return &SendError{ID: c.id, Err: ErrChannelClosed}
		}
	}
	return nil
}

// Write queues v for the connection at id only.
func (s *Server[T]) Write(v T, id SlotID) error {
	s.mu.RLock()
	c := s.lookupLocked(id)
	s.mu.RUnlock()
	if c == nil {
		return fmt.Errorf("%w: slot %d", ErrUnknownConnection, id)
	}
	if err := c.outbound.Push(v); err != nil {
		return &SendError{ID: id, Err: ErrChannelClosed}
	}
	return nil
}

// Disconnect closes the connection at id from the server side. Values already
// queued for it are written first. The slot is freed asynchronously and a
// ConnectionDrop event follows.
func (s *Server[T]) Disconnect(id SlotID) error {
	s.mu.RLock()
	c := s.lookupLocked(id)
	s.mu.RUnlock()
	if c == nil {
		return fmt.Errorf("%w: slot %d", ErrUnknownConnection, id)
	}
	c.shutdown.Fire()
	return nil
}

// Connections returns a snapshot of the occupied slots in id order.
func (s *Server[T]) Connections() []ConnectionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ConnectionInfo, 0, len(s.table))
	for _, c := range s.table {
		if c == nil {
			continue
		}
		out = append(out, ConnectionInfo{
			ID:          c.id,
			Remote:      c.remote,
			ConnectedAt: c.connectedAt,
			Pending:     c.outbound.Len(),
		})
	}
	return out
}

func (s *Server[T]) lookupLocked(id SlotID) *connection[T] {
	if int(id) >= len(s.table) {
		return nil
	}
	return s.table[id]
}

func (s *Server[T]) acceptLoop() {
	defer close(s.done)

	var tempDelay time.Duration
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if s.isClosed() || errors.Is(err, net.ErrClosed) {
				break
			}
			if isTemporary(err) {
				if tempDelay == 0 {
					tempDelay = 5 * time.Millisecond
				} else {
					tempDelay *= 2
				}
				if max := 1 * time.Second; tempDelay > max {
					tempDelay = max
				}
				log.Warn().
					Str("component", "transport.server").
					Err(err).
					Dur("retry_in", tempDelay).
					Msg("accept error")
				time.Sleep(tempDelay)
				continue
			}
			s.err = err
			log.Error().
				Str("component", "transport.server").
				Str("server", s.id).
				Err(err).
				Msg("listener failed")
			break
		}
		tempDelay = 0
		observability.RecordAccept()
		log.Debug().
			Str("component", "transport.server").
			Str("remote", conn.RemoteAddr().String()).
			Msg("accepted")

		s.producers.Add(1)
		go s.readLoop(conn)
	}

	s.shutdownPeers()
	_ = s.ln.Close()
	s.producers.Done()
	<-s.brokerDone
	log.Info().
		Str("component", "transport.server").
		Str("server", s.id).
		Msg("stopped")
}

// shutdownPeers marks the server closed and fires every live connection's
// shutdown signal. Holding the lock excludes the broker inserting a peer the
// sweep would miss.
func (s *Server[T]) shutdownPeers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for _, c := range s.table {
		if c != nil {
			c.shutdown.Fire()
		}
	}
}

func (s *Server[T]) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// readLoop announces the peer, waits for its slot, then forwards every decoded
// value to the broker. It never touches the table.
func (s *Server[T]) readLoop(conn net.Conn) {
	defer s.producers.Done()
	readerDone := make(chan struct{})
	defer close(readerDone)

	shutdown := newSignal()
	reply := make(chan assignment, 1)
	peer := &newPeer{conn: conn, shutdown: shutdown, readerDone: readerDone, reply: reply}
	if err := s.internal.Push(wireEvent[T]{peer: peer}); err != nil {
		_ = conn.Close()
		return
	}
	a := <-reply
	if a.err != nil {
		log.Warn().
			Str("component", "transport.server").
			Str("remote", conn.RemoteAddr().String()).
			Err(a.err).
			Msg("connection refused")
		_ = conn.Close()
		return
	}
	defer shutdown.Fire()

	id := a.id
	reader := bufio.NewReader(conn)
	for {
		if s.cfg.ReadTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		}
		v, err := frame.ReadFrame(reader, s.codec, s.cfg.Limits)
		if err != nil {
			logReadEnd("transport.server", &id, err)
			return
		}
		observability.RecordFrameIn(observability.SideServer)
		if err := s.internal.Push(wireEvent[T]{id: id, value: v}); err != nil {
			return
		}
	}
}

// writeLoop drains one connection's outbound queue onto its socket. When it
// stops it closes the socket, waits for the reader to finish, and reports back
// to the broker.
func (s *Server[T]) writeLoop(conn net.Conn, c *connection[T], readerDone <-chan struct{}) {
	defer s.producers.Done()

	id := c.id
	w := frameWriter[T]{
		conn:    conn,
		codec:   s.codec,
		limits:  s.cfg.Limits,
		timeout: s.cfg.WriteTimeout,
		side:    observability.SideServer,
		slot:    &id,
	}
	err := w.run(c.outbound, c.shutdown)
	// Write and WriteAll fail with ErrChannelClosed from here on.
	c.outbound.Close()
	_ = conn.Close()
	if err != nil {
		log.Warn().
			Str("component", "transport.server").
			Uint32("slot", uint32(id)).
			Err(err).
			Msg("write failed")
	}
	<-readerDone
	_ = s.internal.Push(wireEvent[T]{gone: &notice[T]{id: id, leftover: c.outbound}})
}

func isTemporary(err error) bool {
	var t interface{ Temporary() bool }
	return errors.As(err, &t) && t.Temporary()
}
