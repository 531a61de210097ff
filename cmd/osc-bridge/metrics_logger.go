package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kstaniek/go-osc-bridge/internal/metrics"
)

// startMetricsLogger logs a counter snapshot every interval. txPending, when
// set, reports the link TX queue depth.
func startMetricsLogger(ctx context.Context, interval time.Duration, txPending func() int, l *slog.Logger, wg *sync.WaitGroup) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				snap := metrics.Snap()
				pending := 0
				if txPending != nil {
					pending = txPending()
				}
				l.Info("metrics_snapshot",
					"tx_pending", pending,
					"rx_bytes", snap.RxBytes,
					"tx_bytes", snap.TxBytes,
					"frames_rx", snap.FramesRx,
					"frames_tx", snap.FramesTx,
					"dispatches", snap.Dispatches,
					"unmatched", snap.Unmatched,
					"protocol_errors", snap.ProtocolErrors,
					"validation_errors", snap.ValidationErrors,
					"transfers_committed", snap.Committed,
					"transfers_discarded", snap.Discarded,
					"errors", snap.Errors,
				)
			case <-ctx.Done():
				return
			}
		}
	}()
}
