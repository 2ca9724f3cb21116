package transport

import (
	"net"
	"sync"
	"time"

	"github.com/danmuck/knet/internal/observability"
	"github.com/danmuck/knet/internal/protocol/codec"
	"github.com/danmuck/knet/internal/protocol/frame"
	"github.com/danmuck/knet/internal/queue"
	"github.com/rs/zerolog/log"
)

// signal is a one-shot shutdown notification, safe to fire from any goroutine.
type signal struct {
	once sync.Once
	ch   chan struct{}
}

func newSignal() *signal {
	return &signal{ch: make(chan struct{})}
}

func (s *signal) Fire() {
	s.once.Do(func() { close(s.ch) })
}

func (s *signal) Done() <-chan struct{} {
	return s.ch
}

// frameWriter writes values from one outbound queue to one socket.
type frameWriter[T any] struct {
	conn    net.Conn
	codec   codec.Codec[T]
	limits  frame.Limits
	timeout time.Duration
	side    string
	slot    *SlotID
}

// run services outbound and shutdown until either ends. On shutdown it closes
// outbound, writes what was already queued and stops. A non-nil error is a socket failure.
func (w frameWriter[T]) run(outbound *queue.Queue[T], shutdown *signal) error {
	out := outbound.Out()
	for {
		select {
		case v, ok := <-out:
			if !ok {
				return nil
			}
			if err := w.write(v); err != nil {
				return err
			}
		case <-shutdown.Done():
			// later pushes fail, so the flush ends with what was already queued
			outbound.Close()
			for v := range out {
				if err := w.write(v); err != nil {
					return err
				}
			}
			return nil
		}
	}
}

func (w frameWriter[T]) write(v T) error {
	if w.timeout > 0 {
		_ = w.conn.SetWriteDeadline(time.Now().Add(w.timeout))
	}
	err := frame.WriteFrame(w.conn, w.codec, v, w.limits)
	if err == nil {
		observability.RecordFrameOut(w.side)
		return nil
	}
	if frame.IsValueError(err) {
		event := log.Warn().Str("component", "transport."+w.side).Err(err)
		if w.slot != nil {
			event = event.Uint32("slot", uint32(*w.slot))
		}
		event.Msg("dropping unencodable value")
		observability.RecordDropped(w.side, 1)
		return nil
	}
	return err
}
