package transport

import (
	"context"
	"errors"
	"io"
	"math/rand"
	"net"
	"testing"
	"time"

	"github.com/danmuck/knet/internal/protocol/codec"
	"github.com/danmuck/knet/internal/testutil/testlog"
)

func closedAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()
	return addr
}

func TestDialConnectError(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultClientConfig()
	cfg.Address = closedAddr(t)
	cfg.ConnectTimeout = 500 * time.Millisecond

	_, _, err := Dial[codec.Variant](context.Background(), cfg, testCodec())
	if !errors.Is(err, ErrConnect) {
		t.Fatalf("expected ErrConnect, got %v", err)
	}
	var ce *ConnectError
	if !errors.As(err, &ce) || ce.Attempts != 1 || ce.Addr != cfg.Address {
		t.Fatalf("unexpected connect error: %#v", err)
	}
}

func TestDialRetriesUpToMaxAttempts(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultClientConfig()
	cfg.Address = closedAddr(t)
	cfg.ConnectTimeout = 200 * time.Millisecond
	cfg.MaxConnectAttempts = 3
	cfg.Backoff = BackoffConfig{InitialDelay: time.Millisecond, Multiplier: 2, MaxDelay: 5 * time.Millisecond}

	_, _, err := Dial[codec.Variant](context.Background(), cfg, testCodec())
	var ce *ConnectError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ConnectError, got %v", err)
	}
	if ce.Attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", ce.Attempts)
	}
}

func TestDialRequiresAddress(t *testing.T) {
	testlog.Start(t)
	_, _, err := Dial[codec.Variant](context.Background(), ClientConfig{Address: "  "}, testCodec())
	if !errors.Is(err, ErrConnect) || !errors.Is(err, ErrAddressRequired) {
		t.Fatalf("expected address error, got %v", err)
	}
}

func TestDialCancelledContext(t *testing.T) {
	testlog.Start(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cfg := DefaultClientConfig()
	cfg.Address = closedAddr(t)
	_, _, err := Dial[codec.Variant](ctx, cfg, testCodec())
	if !errors.Is(err, ErrConnect) {
		t.Fatalf("expected ErrConnect, got %v", err)
	}
}

func TestClientWritesCodecBytes(t *testing.T) {
	testlog.Start(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	c := testCodec()
	v := codec.Int32Variant("Integer", -2)
	want, err := c.Serialize(v)
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}

	got := make(chan []byte, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, len(want))
		if _, err := io.ReadFull(conn, buf); err != nil {
			return
		}
		got <- buf
		// echo it back so the client decodes the same frame
		_, _ = conn.Write(buf)
	}()

	cl, in := dialClient(t, ln.Addr().String())
	if err := cl.Send(v); err != nil {
		t.Fatalf("send: %v", err)
	}
	select {
	case raw := <-got:
		if string(raw) != string(want) {
			t.Fatalf("wire bytes mismatch: got=%v want=%v", raw, want)
		}
	case <-time.After(waitTimeout):
		t.Fatalf("server did not receive frame")
	}
	if echoed := nextValue(t, in); !echoed.Equal(v) {
		t.Fatalf("echo mismatch: got=%+v", echoed)
	}
	expectClosed(t, in)
}

func TestClientStreamClosesOnPeerClose(t *testing.T) {
	testlog.Start(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			_ = conn.Close()
		}
	}()

	cl, in := dialClient(t, ln.Addr().String())
	expectClosed(t, in)
	select {
	case <-cl.Done():
	case <-time.After(waitTimeout):
		t.Fatalf("client goroutines did not exit")
	}
	if err := cl.Send(codec.Uint8Variant("Byte", 1)); !errors.Is(err, ErrChannelClosed) {
		t.Fatalf("expected ErrChannelClosed after peer close, got %v", err)
	}
}

func TestClientSendAfterClose(t *testing.T) {
	testlog.Start(t)
	srv, events := startServer(t, DefaultServerConfig())
	cl, in := dialClient(t, srv.Addr().String())
	expectEvent(t, events, EventNewConnection)

	if err := cl.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := cl.Send(codec.Uint8Variant("Byte", 1)); !errors.Is(err, ErrChannelClosed) {
		t.Fatalf("expected ErrChannelClosed, got %v", err)
	}
	expectClosed(t, in)
	expectEvent(t, events, EventConnectionDrop)
}

func TestClientUnencodableValueIsDropped(t *testing.T) {
	testlog.Start(t)
	srv, events := startServer(t, DefaultServerConfig())
	cl, _ := dialClient(t, srv.Addr().String())
	expectEvent(t, events, EventNewConnection)

	if err := cl.Send(codec.Variant{Name: "Missing", Data: []byte{1}}); err != nil {
		t.Fatalf("send: %v", err)
	}
	good := codec.Uint8Variant("Byte", 3)
	if err := cl.Send(good); err != nil {
		t.Fatalf("send: %v", err)
	}
	if ev := expectEvent(t, events, EventData); !ev.Value.Equal(good) {
		t.Fatalf("expected connection to survive bad value, got %+v", ev)
	}
}

func TestBackoffDelay(t *testing.T) {
	b := BackoffConfig{InitialDelay: 100 * time.Millisecond, Multiplier: 2, MaxDelay: time.Second}
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{5, time.Second},
	}
	for _, tc := range cases {
		if got := b.Delay(tc.attempt, nil); got != tc.want {
			t.Fatalf("attempt %d: got=%s want=%s", tc.attempt, got, tc.want)
		}
	}

	b.Jitter = true
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 20; i++ {
		got := b.Delay(2, rng)
		if got < 100*time.Millisecond || got > 300*time.Millisecond {
			t.Fatalf("jittered delay out of range: %s", got)
		}
	}
}
