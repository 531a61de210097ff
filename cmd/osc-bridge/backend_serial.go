package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/kstaniek/go-osc-bridge/internal/metrics"
	"github.com/kstaniek/go-osc-bridge/internal/serial"
)

// sleepFn allows tests to intercept backoff sleeps.
var sleepFn = time.Sleep

// openSerialPort is a hook for tests (overridden in unit tests).
var openSerialPort = serial.Open

// initSerialBackend opens the serial port and launches the RX loop feeding stream.
func initSerialBackend(ctx context.Context, cfg *appConfig, stream *serial.Stream, l *slog.Logger, wg *sync.WaitGroup) (*link, error) {
	sp, err := openSerialPort(cfg.serialDriver, cfg.serialDev, cfg.baud, cfg.serialReadTO)
	if err != nil {
		return nil, fmt.Errorf("open serial: %w", err)
	}
	l.Info("serial_open", "device", cfg.serialDev, "driver", cfg.serialDriver, "baud", cfg.baud)
	metrics.SetLinkConnected(true)
	w := serial.NewTXWriter(ctx, sp, txQueueSize)
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer l.Info("serial_rx_end")
		defer metrics.SetLinkConnected(false)
		buf := make([]byte, serialReadBufSize)
		backoff := rxBackoffMin
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			n, err := sp.Read(buf)
			if n > 0 {
				_, _ = stream.Write(buf[:n])
				backoff = rxBackoffMin
			}
			if err != nil {
				if ctx.Err() != nil { // shutting down
					return
				}
				var perr *os.PathError
				if errors.As(err, &perr) {
					l.Error("serial_lost", "error", err)
					return // device removed or fatal
				}
				if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
					continue // read timeout
				}
				metrics.IncError(metrics.ErrLinkRead)
				l.Warn("serial_read_error", "error", err, "backoff", backoff)
				sleepFn(backoff)
				backoff *= 2
				if backoff > rxBackoffMax {
					backoff = rxBackoffMax
				}
			}
		}
	}()
	return &link{tx: w, cleanup: func() { _ = sp.Close(); w.Close() }}, nil
}
