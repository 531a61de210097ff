package bridge

import (
	"fmt"
	"io"

	"github.com/kstaniek/go-osc-bridge/internal/metrics"
	"github.com/kstaniek/go-osc-bridge/internal/osc"
	"github.com/kstaniek/go-osc-bridge/internal/slip"
)

// Response addresses.
const (
	AddrSuccess    = "/r/success"
	AddrError      = "/r/error"
	AddrRawSuccess = "/raw/r/success"
	AddrRawError   = "/raw/r/error"
)

// Respond sends a success response for id with an optional value.
func (b *Bridge) Respond(id RequestID, value ...any) error {
	metrics.IncResponse(metrics.OutcomeSuccess)
	return b.respond(AddrSuccess, id, value)
}

// RespondError sends an error response for id with an optional value,
// usually a reason string.
func (b *Bridge) RespondError(id RequestID, value ...any) error {
	metrics.IncResponse(metrics.OutcomeError)
	return b.respond(AddrError, id, value)
}

func (b *Bridge) respond(addr string, id RequestID, value []any) error {
	args := make([]any, 0, 1+len(value))
	args = append(args, int32(id))
	args = append(args, value...)
	m, err := osc.NewMessage(addr, args...)
	if err != nil {
		return fmt.Errorf("respond %s: %w", addr, err)
	}
	return b.Send(m)
}

// BeginRespond announces a raw success response for id and opens the frame
// that carries its payload. Everything written to the returned writer is
// escaped into that frame until EndRespond closes it.
func (b *Bridge) BeginRespond(id RequestID) (io.Writer, error) {
	metrics.IncResponse(metrics.OutcomeSuccess)
	return b.beginRaw(AddrRawSuccess, id)
}

// BeginRespondError is BeginRespond for a raw error response.
func (b *Bridge) BeginRespondError(id RequestID) (io.Writer, error) {
	metrics.IncResponse(metrics.OutcomeError)
	return b.beginRaw(AddrRawError, id)
}

func (b *Bridge) beginRaw(addr string, id RequestID) (io.Writer, error) {
	m, err := osc.NewMessage(addr, int32(id))
	if err != nil {
		return nil, err
	}
	if err := b.Send(m); err != nil {
		return nil, err
	}
	if err := b.enc.BeginPacket(); err != nil {
		return nil, err
	}
	return b.enc, nil
}

// EndRespond closes the frame opened by BeginRespond or BeginRespondError.
func (b *Bridge) EndRespond() error { return b.endFrame() }

func (b *Bridge) endFrame() error {
	if err := b.enc.EndPacket(); err != nil {
		return err
	}
	metrics.IncFramesTx()
	return nil
}

// Send writes m as one frame. It fails with ErrFrameOpen while a raw
// response or log frame is still open. A write error abandons the frame;
// later sends start a new one.
func (b *Bridge) Send(m *osc.Message) error {
	if b.enc.Open() {
		return ErrFrameOpen
	}
	if err := b.enc.BeginPacket(); err != nil {
		return b.sendFailed(m.Address, err)
	}
	if _, err := m.WriteTo(b.enc); err != nil {
		_ = b.enc.EndPacket()
		return b.sendFailed(m.Address, err)
	}
	if err := b.endFrame(); err != nil {
		return b.sendFailed(m.Address, err)
	}
	return nil
}

// frameSender is a link writer that can queue a complete frame without
// blocking, dropping it when the link is backed up.
type frameSender interface {
	TrySend(p []byte) error
}

var heartbeatFrame = []byte{slip.End, slip.End}

// Heartbeat sends an empty frame. When the link writer is a frameSender the
// frame is dropped instead of waiting for a congested link.
func (b *Bridge) Heartbeat() error {
	if b.enc.Open() {
		return ErrFrameOpen
	}
	if fs, ok := b.w.(frameSender); ok {
		if err := fs.TrySend(heartbeatFrame); err != nil {
			return b.sendFailed("heartbeat", err)
		}
		metrics.IncFramesTx()
		return nil
	}
	if err := b.enc.BeginPacket(); err != nil {
		return b.sendFailed("heartbeat", err)
	}
	if err := b.endFrame(); err != nil {
		return b.sendFailed("heartbeat", err)
	}
	return nil
}

// Idle reports whether no outgoing frame is open, i.e. whether bytes may be
// written to the link without splitting a frame.
func (b *Bridge) Idle() bool { return !b.enc.Open() }

func (b *Bridge) sendFailed(addr string, err error) error {
	metrics.IncError(metrics.ErrSend)
	b.logger.Error("send_error", "address", addr, "error", err)
	return fmt.Errorf("send %s: %w", addr, err)
}

// ValidateData reports whether m carries exactly n arguments whose type tags
// match types position by position. On mismatch it logs the first difference
// to the host and returns false; the caller must then respond with an error.
func (b *Bridge) ValidateData(m *osc.Message, types string, n int) bool {
	if got := m.Len(); got != n {
		b.validationFailed(m, fmt.Sprintf("expected %d arguments got %d", n, got))
		return false
	}
	for i := 0; i < n; i++ {
		var want byte
		if i < len(types) {
			want = types[i]
		}
		if got := m.TypeTag(i); got != want {
			b.validationFailed(m, fmt.Sprintf("wrong type for argument %d, expected '%c' got '%c'", i, want, got))
			return false
		}
	}
	return true
}

func (b *Bridge) validationFailed(m *osc.Message, text string) {
	metrics.IncValidationError()
	b.logger.Warn("validation_failed", "address", m.Address, "detail", text)
	_ = b.notify.RawError(text)
}
