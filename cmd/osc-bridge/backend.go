package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kstaniek/go-osc-bridge/internal/serial"
	"github.com/kstaniek/go-osc-bridge/internal/server"
)

// link is the physical side of the bridge: bytes read from it land in the
// stream, tx carries device output back.
type link struct {
	tx      *serial.TXWriter
	srv     *server.Server // tcp backend only
	cleanup func()
}

// initBackend selects the backend, starts its RX loop and returns the link.
// It returns an error instead of exiting the process to allow graceful handling by the caller.
func initBackend(ctx context.Context, cancel context.CancelFunc, cfg *appConfig, stream *serial.Stream, l *slog.Logger, wg *sync.WaitGroup) (*link, error) {
	switch cfg.backend {
	case "serial":
		return initSerialBackend(ctx, cfg, stream, l, wg)
	case "tcp":
		return initTCPBackend(ctx, cancel, cfg, stream, l, wg)
	default:
		return nil, fmt.Errorf("unknown backend %q (use serial|tcp)", cfg.backend)
	}
}
