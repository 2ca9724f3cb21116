package transport

import (
	"bufio"
	"context"
	"errors"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/danmuck/knet/internal/observability"
	"github.com/danmuck/knet/internal/protocol/codec"
	"github.com/danmuck/knet/internal/protocol/frame"
	"github.com/danmuck/knet/internal/queue"
	"github.com/rs/zerolog/log"
)

// Client is one framed connection to a server. It runs a reader and a writer
// goroutine over the same socket.
type Client[T any] struct {
	cfg   ClientConfig
	conn  net.Conn
	codec codec.Codec[T]

	outbound *queue.Queue[T]
	inbound  *queue.Queue[T]
	shutdown *signal
	done     chan struct{}
}

// Dial connects to cfg.Address and starts the client goroutines. The returned
// channel yields decoded values and is closed when the connection is down.
func Dial[T any](ctx context.Context, cfg ClientConfig, c codec.Codec[T]) (*Client[T], <-chan T, error) {
	cfg = cfg.WithDefaults()
	if cfg.Address == "" {
		return nil, nil, &ConnectError{Err: ErrAddressRequired}
	}

	conn, attempts, err := dial(ctx, cfg)
	if err != nil {
		return nil, nil, &ConnectError{Addr: cfg.Address, Attempts: attempts, Err: err}
	}
	log.Debug().
		Str("component", "transport.client").
		Str("remote", conn.RemoteAddr().String()).
		Int("attempts", attempts).
		Msg("connected")

	cl := &Client[T]{
		cfg:      cfg,
		conn:     conn,
		codec:    c,
		outbound: queue.New[T](),
		inbound:  queue.New[T](),
		shutdown: newSignal(),
		done:     make(chan struct{}),
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		cl.readLoop()
	}()
	go func() {
		defer wg.Done()
		cl.writeLoop()
	}()
	go func() {
		wg.Wait()
		close(cl.done)
	}()
	return cl, cl.inbound.Out(), nil
}

func dial(ctx context.Context, cfg ClientConfig) (net.Conn, int, error) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	dialer := net.Dialer{Timeout: cfg.ConnectTimeout}
	var attempt int
	for {
		attempt++
		conn, err := dialer.DialContext(ctx, "tcp", cfg.Address)
		if err == nil {
			return conn, attempt, nil
		}
		log.Warn().
			Str("component", "transport.client").
			Str("addr", cfg.Address).
			Int("attempt", attempt).
			Err(err).
			Msg("dial failed")
		if attempt >= cfg.MaxConnectAttempts {
			return nil, attempt, err
		}
		timer := time.NewTimer(cfg.Backoff.Delay(attempt, rng))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, attempt, ctx.Err()
		case <-timer.C:
		}
	}
}

// Send queues v for the writer. It returns once queued, not once written.
func (c *Client[T]) Send(v T) error {
	if err := c.outbound.Push(v); err != nil {
		return ErrChannelClosed
	}
	return nil
}

// Close stops accepting values, lets the writer flush what is queued, and
// closes the socket. The inbound channel closes after that.
func (c *Client[T]) Close() error {
	c.outbound.Close()
	return nil
}

// Done is closed once both client goroutines have exited.
func (c *Client[T]) Done() <-chan struct{} {
	return c.done
}

func (c *Client[T]) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

func (c *Client[T]) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

func (c *Client[T]) readLoop() {
	defer c.inbound.Close()
	defer c.shutdown.Fire()

	reader := bufio.NewReader(c.conn)
	for {
		if c.cfg.ReadTimeout > 0 {
			_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		}
		v, err := frame.ReadFrame(reader, c.codec, c.cfg.Limits)
		if err != nil {
			logReadEnd("transport.client", nil, err)
			return
		}
		observability.RecordFrameIn(observability.SideClient)
		if err := c.inbound.Push(v); err != nil {
			return
		}
	}
}

func (c *Client[T]) writeLoop() {
	w := frameWriter[T]{
		conn:    c.conn,
		codec:   c.codec,
		limits:  c.cfg.Limits,
		timeout: c.cfg.WriteTimeout,
		side:    observability.SideClient,
	}
	err := w.run(c.outbound, c.shutdown)
	c.outbound.Close()
	_ = c.conn.Close()
	dropped := c.outbound.Drain()
	observability.RecordDropped(observability.SideClient, dropped)

	event := log.Debug()
	if err != nil {
		event = log.Warn().Err(err)
	}
	event.
		Str("component", "transport.client").
		Int("dropped", dropped).
		Msg("writer stopped")
}

func logReadEnd(component string, slot *SlotID, err error) {
	event := log.Debug()
	if !frame.IsDisconnect(err) && !errors.Is(err, net.ErrClosed) {
		event = log.Warn()
	}
	if slot != nil {
		event = event.Uint32("slot", uint32(*slot))
	}
	event.Str("component", component).Err(err).Msg("reader stopped")
}
