package serial

import (
	"context"
	"errors"
	"io"

	"github.com/kstaniek/go-osc-bridge/internal/logging"
	"github.com/kstaniek/go-osc-bridge/internal/metrics"
	"github.com/kstaniek/go-osc-bridge/internal/transport"
)

var ErrTxOverflow = errors.New("serial tx overflow")

// TXWriter funnels all link writes through one goroutine.
type TXWriter struct {
	ctx  context.Context
	base *transport.AsyncTx[[]byte]
}

// NewTXWriter creates a TXWriter writing to dst with a queue of buf chunks.
func NewTXWriter(parent context.Context, dst io.Writer, buf int) *TXWriter {
	send := func(p []byte) error {
		n, err := dst.Write(p)
		metrics.AddTxBytes(n)
		return err
	}
	hooks := transport.Hooks{
		OnError: func(err error) {
			metrics.IncError(metrics.ErrLinkWrite)
			logging.L().Error("link_write_error", "error", err)
		},
		OnDrop: func() error {
			metrics.IncError(metrics.ErrLinkOverflow)
			return ErrTxOverflow
		},
	}
	return &TXWriter{ctx: parent, base: transport.NewAsyncTx(parent, buf, send, hooks)}
}

// Write queues a copy of p, waiting for room. Frames are written in several
// chunks and a dropped chunk would corrupt the stream, so Write never drops.
func (w *TXWriter) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	cp := make([]byte, len(p))
	copy(cp, p)
	if err := w.base.SendWait(w.ctx, cp); err != nil {
		return 0, err
	}
	return len(p), nil
}

// TrySend queues a copy of p, dropping it with ErrTxOverflow when the queue
// is full. Only use it for self-contained frames.
func (w *TXWriter) TrySend(p []byte) error {
	cp := make([]byte, len(p))
	copy(cp, p)
	return w.base.Send(cp)
}

// Pending returns the number of queued chunks.
func (w *TXWriter) Pending() int { return w.base.Len() }

// Close stops the writer and waits for pending goroutine exit.
func (w *TXWriter) Close() { w.base.Close() }
