// Package bridge dispatches OSC requests received over a SLIP framed link and
// encodes the matching responses.
//
// One Bridge owns the link for the life of the process. It is driven by
// calling Update from a single loop; handlers run on that loop and answer
// through Respond, RespondError or the BeginRespond/EndRespond bracket.
// An address under RawPrefix switches the following frame to raw mode, whose
// bytes go straight to the installed RawHandler.
package bridge

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/kstaniek/go-osc-bridge/internal/logging"
	"github.com/kstaniek/go-osc-bridge/internal/metrics"
	"github.com/kstaniek/go-osc-bridge/internal/osc"
	"github.com/kstaniek/go-osc-bridge/internal/slip"
)

const (
	// MaxMethods is the capacity of the method registry.
	MaxMethods = 32
	// RawPrefix marks addresses whose next frame is raw.
	RawPrefix = "/raw/"
	// DefaultMaxMessageSize bounds one buffered structured frame.
	DefaultMaxMessageSize = 8 * 1024
)

var (
	ErrMethodCapacity = errors.New("method registry full")
	ErrPatternEmpty   = errors.New("empty method pattern")
	ErrNilHandler     = errors.New("nil method handler")
	ErrFrameOpen      = errors.New("response frame still open")
)

// RequestID correlates a request with its single response.
type RequestID uint16

// ID returns the RequestID carried in the first argument of m.
func ID(m *osc.Message) RequestID { return RequestID(uint16(m.Int(0))) }

// Handler reacts to a dispatched message.
type Handler func(m *osc.Message)

// RawHandler consumes raw frames. OnRawByte runs once per payload byte and
// OnRawEnd once when the frame ends.
type RawHandler interface {
	OnRawByte(c byte)
	OnRawEnd()
}

type method struct {
	pattern string
	handler Handler
}

// Bridge is the single owner of the link state: decoder, encoder, method
// registry and mode. It is not safe for concurrent use.
type Bridge struct {
	dec     *slip.Decoder
	enc     *slip.Encoder
	w       io.Writer
	methods [MaxMethods]method
	n       int
	mode    Mode
	raw     RawHandler

	msg      []byte
	maxMsg   int
	overflow bool
	// frameLen counts payload bytes of the frame in progress, in either mode.
	frameLen int
	invalid  uint64

	logger *slog.Logger
	notify *Notifier
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithLogger sets the local logger (default logging.L()).
func WithLogger(l *slog.Logger) Option {
	return func(b *Bridge) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithMaxMessageSize bounds a buffered structured frame. Larger frames are
// dropped as protocol errors.
func WithMaxMessageSize(n int) Option {
	return func(b *Bridge) {
		if n > 0 {
			b.maxMsg = n
		}
	}
}

// New returns a Bridge reading frames from src and writing frames to w.
func New(src slip.Source, w io.Writer, opts ...Option) *Bridge {
	b := &Bridge{
		dec:    slip.NewDecoder(src),
		enc:    slip.NewEncoder(w),
		w:      w,
		maxMsg: DefaultMaxMessageSize,
		logger: logging.L(),
	}
	for _, o := range opts {
		o(b)
	}
	b.notify = &Notifier{b: b}
	return b
}

// Log returns the notifier sending one-way diagnostics to the host.
func (b *Bridge) Log() *Notifier { return b.notify }

// Mode returns the interpretation mode of the next frame.
func (b *Bridge) Mode() Mode { return b.mode }

// Methods returns the number of registered methods.
func (b *Bridge) Methods() int { return b.n }

// AddMethod registers h for every address matching pattern. Registrations
// beyond MaxMethods are rejected and logged; earlier ones are unaffected.
func (b *Bridge) AddMethod(pattern string, h Handler) error {
	if pattern == "" {
		return ErrPatternEmpty
	}
	if h == nil {
		return ErrNilHandler
	}
	if b.n >= MaxMethods {
		metrics.IncMethodRejected()
		metrics.IncError(metrics.ErrRegistryFull)
		b.logger.Error("method_registry_full", "pattern", pattern, "capacity", MaxMethods)
		_ = b.notify.Error("maximum amount of methods reached")
		return fmt.Errorf("%w: %s", ErrMethodCapacity, pattern)
	}
	b.methods[b.n] = method{pattern: pattern, handler: h}
	b.n++
	b.logger.Debug("method_added", "pattern", pattern)
	return nil
}

// SetRawHandler installs the consumer of raw frames, replacing any previous one.
func (b *Bridge) SetRawHandler(h RawHandler) { b.raw = h }

// Update drains every byte currently available on the link, completing and
// handling as many frames as it can. It never waits for input: a partial
// frame stays buffered until a later call. Handlers run synchronously, so
// storage I/O done by a RawHandler stalls the caller.
func (b *Bridge) Update() {
	for {
		for b.dec.Available() {
			if c, ok := b.dec.Read(); ok {
				b.consume(c)
			}
		}
		if !b.dec.EndOfPacket() {
			break
		}
		b.finishFrame()
	}
	if inv := b.dec.InvalidEscapes(); inv != b.invalid {
		metrics.AddMalformed(inv - b.invalid)
		b.logger.Warn("slip_invalid_escape", "total", inv)
		b.invalid = inv
	}
}

func (b *Bridge) consume(c byte) {
	b.frameLen++
	if b.mode == ModeRaw {
		if b.raw != nil {
			b.raw.OnRawByte(c)
		}
		return
	}
	if len(b.msg) >= b.maxMsg {
		b.overflow = true
		return
	}
	b.msg = append(b.msg, c)
}

func (b *Bridge) finishFrame() {
	n := b.frameLen
	b.frameLen = 0
	if n == 0 {
		// Heartbeat. Also seen when the opening END of a frame arrives alone.
		metrics.IncHeartbeat()
		b.mode = b.mode.next(evIgnored)
		return
	}
	metrics.IncFramesRx()
	if b.mode == ModeRaw {
		metrics.IncRawFrame(n)
		if b.raw != nil {
			b.raw.OnRawEnd()
		} else {
			b.logger.Warn("raw_frame_dropped", "bytes", n, "reason", "no raw handler")
		}
		b.mode = b.mode.next(evRawEnd)
		return
	}
	data := b.msg
	overflow := b.overflow
	b.msg = b.msg[:0]
	b.overflow = false
	if overflow {
		metrics.IncProtocolError()
		metrics.IncError(metrics.ErrMessageTooBig)
		b.logger.Error("osc_input_error", "error", "message too big", "bytes", n, "max", b.maxMsg)
		_ = b.notify.Error("OSC input error")
		b.mode = b.mode.next(evIgnored)
		return
	}
	m, err := osc.Parse(data)
	if err != nil {
		metrics.IncProtocolError()
		b.logger.Error("osc_input_error", "error", err, "bytes", n)
		_ = b.notify.Error("OSC input error")
		b.mode = b.mode.next(evIgnored)
		return
	}
	metrics.IncStructured()
	b.dispatch(m)
}

// dispatch switches mode before running handlers, so a raw method handler
// sees its own arguments while the following frame is already raw.
func (b *Bridge) dispatch(m *osc.Message) {
	if strings.HasPrefix(m.Address, RawPrefix) {
		b.mode = b.mode.next(evRawAddress)
	} else {
		b.mode = b.mode.next(evMessage)
	}
	hits := 0
	for i := 0; i < b.n; i++ {
		if osc.Match(b.methods[i].pattern, m.Address) {
			hits++
			b.methods[i].handler(m)
		}
	}
	if hits == 0 {
		metrics.IncUnmatched()
		b.logger.Debug("osc_unmatched", "address", m.Address)
		return
	}
	metrics.AddDispatches(hits)
	b.logger.Debug("osc_dispatch", "address", m.Address, "handlers", hits, "mode", b.mode.String())
}
