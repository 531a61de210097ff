package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kstaniek/go-osc-bridge/internal/serial"
	"github.com/kstaniek/go-osc-bridge/internal/server"
)

// initTCPBackend serves the link on a TCP listener for a single host.
func initTCPBackend(ctx context.Context, cancel context.CancelFunc, cfg *appConfig, stream *serial.Stream, l *slog.Logger, wg *sync.WaitGroup) (*link, error) {
	srv := server.NewServer(
		server.WithListenAddr(cfg.listenAddr),
		server.WithStream(stream),
		server.WithLogger(l),
		server.WithHandshakeTimeout(cfg.handshakeTO),
		server.WithReadDeadline(cfg.clientReadTO),
	)
	w := serial.NewTXWriter(ctx, srv, txQueueSize)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := srv.Serve(ctx); err != nil {
			l.Error("tcp_server_error", "error", err)
			cancel()
		}
	}()
	cleanup := func() {
		sctx, scancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer scancel()
		_ = srv.Shutdown(sctx)
		w.Close()
		if err := srv.LastError(); err != nil {
			l.Info("tcp_last_error", "error", err)
		}
	}
	return &link{tx: w, srv: srv, cleanup: cleanup}, nil
}
