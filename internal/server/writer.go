package server

import (
	"fmt"
	"time"
)

const writeTimeout = 5 * time.Second

// Write sends p to the attached host. With no host attached the bytes are
// discarded, like output on a serial port nobody listens to. A failed write
// drops the connection; the caller counts the error.
func (s *Server) Write(p []byte) (int, error) {
	s.connMu.Lock()
	conn := s.conn
	if conn == nil {
		s.connMu.Unlock()
		s.totalDiscarded.Add(1)
		return len(p), nil
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	n, err := conn.Write(p)
	s.connMu.Unlock()
	if err != nil {
		wrap := fmt.Errorf("%w: %v", ErrConnWrite, err)
		s.setError(wrap)
		_ = conn.Close()
		return n, wrap
	}
	return n, nil
}
