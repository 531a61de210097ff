package server

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/kstaniek/go-osc-bridge/internal/metrics"
)

// startReader copies bytes from the host into the sink until the connection
// ends. A partial frame left by a dropped host stays in the sink.
func (s *Server) startReader(ctxDone <-chan struct{}, conn net.Conn, logger *slog.Logger) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			_ = conn.Close()
			if s.detach(conn) {
				s.totalDisconnected.Add(1)
				logger.Info("host_disconnected")
			}
		}()
		buf := make([]byte, readBufSize)
		for {
			select {
			case <-ctxDone:
				return
			default:
			}
			_ = conn.SetReadDeadline(time.Now().Add(s.readDeadline))
			n, err := conn.Read(buf)
			if n > 0 {
				_, _ = s.sink.Write(buf[:n])
			}
			if err != nil {
				if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
					return
				}
				if ne, ok := err.(net.Error); ok && ne.Timeout() {
					continue
				}
				wrap := fmt.Errorf("%w: %v", ErrConnRead, err)
				metrics.IncError(mapErrToMetric(wrap))
				s.setError(wrap)
				logger.Warn("conn_read_error", "error", wrap)
				return
			}
		}
	}()
}
