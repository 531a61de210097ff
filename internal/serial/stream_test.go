package serial

import (
	"bytes"
	"io"
	"sync"
	"testing"

	"github.com/kstaniek/go-osc-bridge/internal/metrics"
)

func TestStreamReadPeek(t *testing.T) {
	s := NewStream()
	if s.Available() != 0 {
		t.Fatalf("new stream not empty")
	}
	if _, err := s.ReadByte(); err != io.EOF {
		t.Fatalf("ReadByte on empty: %v", err)
	}
	before := metrics.Snap().RxBytes
	_, _ = s.Write([]byte{1, 2, 3})
	if got := metrics.Snap().RxBytes - before; got != 3 {
		t.Fatalf("rx bytes metric +%d, want 3", got)
	}
	if c, err := s.PeekByte(); err != nil || c != 1 {
		t.Fatalf("PeekByte = %d, %v", c, err)
	}
	if s.Available() != 3 {
		t.Fatalf("peek consumed a byte")
	}
	var got []byte
	for s.Available() > 0 {
		c, _ := s.ReadByte()
		got = append(got, c)
	}
	if !bytes.Equal(got, []byte{1, 2, 3}) {
		t.Fatalf("got % X", got)
	}
}

func TestStreamSignal(t *testing.T) {
	s := NewStream()
	_, _ = s.Write([]byte{1})
	_, _ = s.Write([]byte{2})
	select {
	case <-s.Signal():
	default:
		t.Fatalf("expected signal after write")
	}
	select {
	case <-s.Signal():
		t.Fatalf("signal must not queue more than once")
	default:
	}
}

func TestStreamReclaimsLargeBuffer(t *testing.T) {
	s := NewStream()
	_, _ = s.Write(make([]byte, 2*reclaimThreshold))
	for s.Available() > 0 {
		_, _ = s.ReadByte()
	}
	if cap(s.buf) != 0 {
		t.Fatalf("expected large buffer to be released, cap=%d", cap(s.buf))
	}
}

func TestStreamConcurrentWriter(t *testing.T) {
	s := NewStream()
	const total = 10000
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < total; i++ {
			_, _ = s.Write([]byte{byte(i)})
		}
	}()
	n := 0
	for n < total {
		if s.Available() == 0 {
			<-s.Signal()
			continue
		}
		c, err := s.ReadByte()
		if err != nil {
			t.Fatalf("ReadByte: %v", err)
		}
		if c != byte(n) {
			t.Fatalf("byte %d = %d, out of order", n, c)
		}
		n++
	}
	wg.Wait()
}
