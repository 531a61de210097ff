package serial

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kstaniek/go-osc-bridge/internal/metrics"
)

// fakePort implements Port, recording writes.
type fakePort struct {
	mu      sync.Mutex
	written bytes.Buffer
	block   chan struct{}
	err     error
}

func (f *fakePort) Read(p []byte) (int, error) { return 0, nil }

func (f *fakePort) Write(p []byte) (int, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	return f.written.Write(p)
}

func (f *fakePort) Close() error { return nil }

func (f *fakePort) bytes() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]byte(nil), f.written.Bytes()...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

func TestTXWriterPreservesOrder(t *testing.T) {
	fp := &fakePort{}
	w := NewTXWriter(context.Background(), fp, 2)
	defer w.Close()
	var want []byte
	for i := 0; i < 50; i++ {
		chunk := []byte{byte(i), byte(i + 1)}
		want = append(want, chunk...)
		if _, err := w.Write(chunk); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	waitFor(t, func() bool { return len(fp.bytes()) == len(want) })
	if !bytes.Equal(fp.bytes(), want) {
		t.Fatalf("written bytes out of order")
	}
}

func TestTXWriterCopiesInput(t *testing.T) {
	fp := &fakePort{}
	w := NewTXWriter(context.Background(), fp, 4)
	defer w.Close()
	buf := []byte("abc")
	_, _ = w.Write(buf)
	buf[0] = 'X'
	waitFor(t, func() bool { return len(fp.bytes()) == 3 })
	if string(fp.bytes()) != "abc" {
		t.Fatalf("writer kept a reference to the caller buffer: %q", fp.bytes())
	}
}

func TestTXWriterTrySendOverflow(t *testing.T) {
	fp := &fakePort{block: make(chan struct{})}
	w := NewTXWriter(context.Background(), fp, 1)
	defer w.Close()
	defer close(fp.block)
	before := metrics.Snap().Errors
	_ = w.TrySend([]byte{1})
	waitFor(t, func() bool { return w.Pending() == 0 })
	if err := w.TrySend([]byte{2}); err != nil {
		t.Fatalf("second TrySend: %v", err)
	}
	if err := w.TrySend([]byte{3}); !errors.Is(err, ErrTxOverflow) {
		t.Fatalf("expected ErrTxOverflow, got %v", err)
	}
	if metrics.Snap().Errors <= before {
		t.Fatalf("overflow not counted")
	}
}

func TestTXWriterWriteError(t *testing.T) {
	fp := &fakePort{err: errors.New("gone")}
	w := NewTXWriter(context.Background(), fp, 1)
	defer w.Close()
	before := metrics.Snap().Errors
	_, _ = w.Write([]byte{1})
	waitFor(t, func() bool { return metrics.Snap().Errors > before })
}

func TestTXWriterClosed(t *testing.T) {
	w := NewTXWriter(context.Background(), &fakePort{}, 1)
	w.Close()
	if _, err := w.Write([]byte{1}); err == nil {
		t.Fatalf("expected error after close")
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open("nope", "/dev/null", 9600, time.Millisecond); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
}
