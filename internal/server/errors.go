package server

import (
	"errors"

	"github.com/kstaniek/go-osc-bridge/internal/metrics"
)

// Sentinel errors used for wrapping so callers can classify via errors.Is.
var (
	ErrListen    = errors.New("listen")
	ErrAccept    = errors.New("accept")
	ErrHandshake = errors.New("handshake")
	ErrConnRead  = errors.New("conn_read")
	ErrConnWrite = errors.New("conn_write")
	ErrBusy      = errors.New("link_busy")
	ErrContext   = errors.New("context_cancelled")
)

// mapErrToMetric maps wrapped sentinel errors to metrics labels.
func mapErrToMetric(err error) string {
	switch {
	case errors.Is(err, ErrConnRead):
		return metrics.ErrLinkRead
	case errors.Is(err, ErrConnWrite), errors.Is(err, ErrHandshake):
		return metrics.ErrLinkWrite
	case errors.Is(err, ErrAccept), errors.Is(err, ErrListen), errors.Is(err, ErrBusy):
		return metrics.ErrLinkAccept
	case errors.Is(err, ErrContext):
		return "context"
	default:
		return "other"
	}
}
