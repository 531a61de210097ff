package server

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/kstaniek/go-osc-bridge/internal/logging"
	"github.com/kstaniek/go-osc-bridge/internal/metrics"
)

// syncBuffer is a goroutine-safe sink.
type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

func startServer(t *testing.T, sink io.Writer) (*Server, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	srv := NewServer(
		WithStream(sink),
		WithLogger(logging.Discard()),
		WithReadDeadline(50*time.Millisecond),
		WithHandshakeTimeout(time.Second),
		WithListenAddr("127.0.0.1:0"),
	)
	go func() { _ = srv.Serve(ctx) }()
	select {
	case <-srv.Ready():
	case <-time.After(time.Second):
		t.Fatalf("server did not signal readiness")
	}
	return srv, cancel
}

func dial(t *testing.T, srv *Server) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", srv.Addr(), time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func readGreeting(t *testing.T, conn net.Conn) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, len(greeting))
	if _, err := io.ReadFull(conn, buf); err != nil {
		t.Fatalf("read greeting: %v", err)
	}
	if !bytes.Equal(buf, greeting) {
		t.Fatalf("greeting = % X", buf)
	}
}

func waitUntil(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// TestSmokeServer attaches a host and moves bytes both ways.
func TestSmokeServer(t *testing.T) {
	sink := &syncBuffer{}
	srv, cancel := startServer(t, sink)
	defer cancel()

	conn := dial(t, srv)
	defer conn.Close()
	readGreeting(t, conn)
	waitUntil(t, srv.Connected, "host attach")

	if _, err := conn.Write([]byte("\xC0/echo\xC0")); err != nil {
		t.Fatalf("write: %v", err)
	}
	waitUntil(t, func() bool { return sink.String() == "\xC0/echo\xC0" }, "bytes in sink")

	if _, err := srv.Write([]byte("reply")); err != nil {
		t.Fatalf("server write: %v", err)
	}
	buf := make([]byte, 5)
	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	if _, err := io.ReadFull(conn, buf); err != nil || string(buf) != "reply" {
		t.Fatalf("read reply %q: %v", buf, err)
	}
}

func TestSecondHostRejected(t *testing.T) {
	srv, cancel := startServer(t, io.Discard)
	defer cancel()
	first := dial(t, srv)
	defer first.Close()
	readGreeting(t, first)
	waitUntil(t, srv.Connected, "first host attach")

	before := metrics.Snap().LinkRejects
	second := dial(t, srv)
	defer second.Close()
	_ = second.SetReadDeadline(time.Now().Add(time.Second))
	if _, err := second.Read(make([]byte, 1)); err == nil {
		t.Fatalf("second host must be disconnected without data")
	}
	waitUntil(t, func() bool { return metrics.Snap().LinkRejects > before }, "reject metric")

	// Once the first host leaves a new one may attach.
	_ = first.Close()
	waitUntil(t, func() bool { return !srv.Connected() }, "detach")
	third := dial(t, srv)
	defer third.Close()
	readGreeting(t, third)
}

func TestWriteWithoutHostDiscards(t *testing.T) {
	srv := NewServer(WithLogger(logging.Discard()))
	n, err := srv.Write([]byte("lost"))
	if err != nil || n != 4 {
		t.Fatalf("Write = %d, %v", n, err)
	}
	if srv.totalDiscarded.Load() != 1 {
		t.Fatalf("discarded write not counted")
	}
}

func TestServeListenError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	srv := NewServer(WithListenAddr(ln.Addr().String()), WithLogger(logging.Discard()))
	if err := srv.Serve(context.Background()); !errors.Is(err, ErrListen) {
		t.Fatalf("Serve err = %v, want ErrListen", err)
	}
	if !errors.Is(srv.LastError(), ErrListen) {
		t.Fatalf("LastError = %v", srv.LastError())
	}
}

func TestShutdownClosesHost(t *testing.T) {
	srv, cancel := startServer(t, io.Discard)
	defer cancel()
	conn := dial(t, srv)
	defer conn.Close()
	readGreeting(t, conn)
	waitUntil(t, srv.Connected, "host attach")
	ctx, c2 := context.WithTimeout(context.Background(), time.Second)
	defer c2()
	if err := srv.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	if _, err := conn.Read(make([]byte, 1)); err == nil {
		t.Fatalf("expected closed connection after shutdown")
	}
}

func TestMapErrToMetric(t *testing.T) {
	cases := map[error]string{
		ErrConnRead:  metrics.ErrLinkRead,
		ErrConnWrite: metrics.ErrLinkWrite,
		ErrBusy:      metrics.ErrLinkAccept,
		ErrContext:   "context",
		io.EOF:       "other",
	}
	for err, want := range cases {
		if got := mapErrToMetric(err); got != want {
			t.Fatalf("mapErrToMetric(%v) = %q, want %q", err, got, want)
		}
	}
}
