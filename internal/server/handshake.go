package server

import (
	"net"
	"time"

	"github.com/kstaniek/go-osc-bridge/internal/slip"
)

var greeting = []byte{slip.End, slip.End}

// greet sends an empty frame so the host knows the link is attached. Hosts
// treat it like any heartbeat.
func (s *Server) greet(c net.Conn) error {
	_ = c.SetWriteDeadline(time.Now().Add(s.handshakeTimeout))
	defer func() { _ = c.SetWriteDeadline(time.Time{}) }()
	_, err := c.Write(greeting)
	return err
}
