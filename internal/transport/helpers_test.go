package transport

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/knet/internal/protocol/codec"
)

const waitTimeout = 3 * time.Second

func testCodec() *codec.Tagged {
	return codec.MustTagged(
		codec.VariantSpec{Name: "Byte", Size: 1},
		codec.VariantSpec{Name: "Integer", Size: 4},
	)
}

func startServer(t *testing.T, cfg ServerConfig) (*Server[codec.Variant], <-chan Event[codec.Variant]) {
	t.Helper()
	cfg.ListenAddr = "127.0.0.1:0"
	ctx, cancel := context.WithCancel(context.Background())
	srv, events, err := RunServer[codec.Variant](ctx, cfg, testCodec())
	if err != nil {
		cancel()
		t.Fatalf("run server: %v", err)
	}
	t.Cleanup(func() {
		cancel()
		select {
		case <-srv.Done():
		case <-time.After(waitTimeout):
			t.Errorf("server did not stop")
		}
	})
	return srv, events
}

func dialClient(t *testing.T, addr string) (*Client[codec.Variant], <-chan codec.Variant) {
	t.Helper()
	cfg := DefaultClientConfig()
	cfg.Address = addr
	cfg.ConnectTimeout = time.Second
	cl, in, err := Dial[codec.Variant](context.Background(), cfg, testCodec())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = cl.Close() })
	return cl, in
}

func nextEvent(t *testing.T, events <-chan Event[codec.Variant]) Event[codec.Variant] {
	t.Helper()
	select {
	case ev, ok := <-events:
		if !ok {
			t.Fatalf("event stream closed")
		}
		return ev
	case <-time.After(waitTimeout):
		t.Fatalf("timed out waiting for event")
	}
	return Event[codec.Variant]{}
}

func expectEvent(t *testing.T, events <-chan Event[codec.Variant], kind EventKind) Event[codec.Variant] {
	t.Helper()
	ev := nextEvent(t, events)
	if ev.Kind != kind {
		t.Fatalf("unexpected event kind: got=%s want=%s (id=%d)", ev.Kind, kind, ev.ID)
	}
	return ev
}

func nextValue(t *testing.T, in <-chan codec.Variant) codec.Variant {
	t.Helper()
	select {
	case v, ok := <-in:
		if !ok {
			t.Fatalf("client stream closed")
		}
		return v
	case <-time.After(waitTimeout):
		t.Fatalf("timed out waiting for value")
	}
	return codec.Variant{}
}

func expectNoValue(t *testing.T, in <-chan codec.Variant, wait time.Duration) {
	t.Helper()
	select {
	case v, ok := <-in:
		if ok {
			t.Fatalf("unexpected value: %+v", v)
		}
		t.Fatalf("client stream closed unexpectedly")
	case <-time.After(wait):
	}
}

func expectClosed(t *testing.T, in <-chan codec.Variant) {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case _, ok := <-in:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatalf("client stream not closed")
		}
	}
}

// stallBroker parks the broker inside a new-peer handshake backed by a pipe, so
// notices pushed afterwards stay queued until the returned release runs.
func stallBroker(t *testing.T, srv *Server[codec.Variant]) func() {
	t.Helper()
	local, remote := net.Pipe()
	readerDone := make(chan struct{})
	shutdown := newSignal()
	reply := make(chan assignment)
	peer := &newPeer{conn: local, shutdown: shutdown, readerDone: readerDone, reply: reply}
	if err := srv.internal.Push(wireEvent[codec.Variant]{peer: peer}); err != nil {
		t.Fatalf("push stalling peer: %v", err)
	}
	var once sync.Once
	release := func() {
		once.Do(func() {
			select {
			case <-reply:
			case <-time.After(waitTimeout):
				t.Errorf("broker never answered stalling peer")
			}
			shutdown.Fire()
			close(readerDone)
			_ = remote.Close()
		})
	}
	t.Cleanup(release)
	return release
}
