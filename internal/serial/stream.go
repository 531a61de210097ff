package serial

import (
	"io"
	"sync"

	"github.com/kstaniek/go-osc-bridge/internal/metrics"
)

// reclaimThreshold is the capacity above which a fully drained receive
// buffer is dropped and reallocated, so a burst does not pin a large array.
const reclaimThreshold = 16 * 1024

// Stream buffers bytes received from the link. One goroutine feeds it with
// Write; the bridge loop drains it through Available, PeekByte and ReadByte,
// which never block.
type Stream struct {
	mu     sync.Mutex
	buf    []byte
	off    int
	signal chan struct{}
}

// NewStream returns an empty Stream.
func NewStream() *Stream { return &Stream{signal: make(chan struct{}, 1)} }

// Write appends p. It always consumes all of p.
func (s *Stream) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	s.mu.Lock()
	s.buf = append(s.buf, p...)
	s.mu.Unlock()
	metrics.AddRxBytes(len(p))
	select {
	case s.signal <- struct{}{}:
	default:
	}
	return len(p), nil
}

// Signal fires after new bytes were written. It is level triggered with a
// depth of one, so a reader should drain everything before waiting again.
func (s *Stream) Signal() <-chan struct{} { return s.signal }

// Available returns the number of unread bytes.
func (s *Stream) Available() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buf) - s.off
}

// PeekByte returns the next byte without consuming it.
func (s *Stream) PeekByte() (byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.off >= len(s.buf) {
		return 0, io.EOF
	}
	return s.buf[s.off], nil
}

// ReadByte consumes and returns the next byte.
func (s *Stream) ReadByte() (byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.off >= len(s.buf) {
		return 0, io.EOF
	}
	c := s.buf[s.off]
	s.off++
	if s.off == len(s.buf) {
		if cap(s.buf) > reclaimThreshold {
			s.buf = nil
		} else {
			s.buf = s.buf[:0]
		}
		s.off = 0
	}
	return c, nil
}
