// Package slip implements the byte-stuffed framing used on the bridge link.
//
// A frame is written as END, payload, END. Literal END and ESC bytes inside
// the payload are replaced by two-byte escape sequences. Two consecutive END
// bytes with nothing in between form an empty frame, which hosts send as a
// heartbeat.
//
// The Decoder works one byte at a time on top of a non-blocking Source so the
// caller never has to buffer a whole frame just to find its boundary.
package slip

import (
	"bufio"
	"errors"
	"io"
)

// Reserved marker bytes (RFC 1055).
const (
	End    byte = 0xC0
	Esc    byte = 0xDB
	EscEnd byte = 0xDC
	EscEsc byte = 0xDD
)

// Source is the raw byte stream under a Decoder. Available reports how many
// bytes can be consumed without blocking; PeekByte and ReadByte are only
// called when Available is positive.
type Source interface {
	Available() int
	PeekByte() (byte, error)
	io.ByteReader
}

type state uint8

const (
	stateChar state = iota
	stateFirstEnd
	stateSecondEnd
	stateEscaped
)

func (s state) String() string {
	switch s {
	case stateChar:
		return "char"
	case stateFirstEnd:
		return "first_end"
	case stateSecondEnd:
		return "second_end"
	case stateEscaped:
		return "escaped"
	default:
		return "unknown"
	}
}

// Decoder turns a stuffed byte stream back into payload bytes and frame
// boundaries. It is not safe for concurrent use.
type Decoder struct {
	src   Source
	state state
	// invalid counts escape sequences with an unknown second byte.
	invalid uint64
}

// NewDecoder returns a Decoder reading from src.
func NewDecoder(src Source) *Decoder { return &Decoder{src: src} }

// Available reports whether a decoded data byte is ready. Marker bytes met on
// the way are consumed and drive the state machine; they are never data.
// A second END right after the first leaves the decoder in the end-of-frame
// condition and reports false until EndOfPacket consumes it.
func (d *Decoder) Available() bool {
	for d.src.Available() > 0 {
		switch d.state {
		case stateEscaped:
			c, err := d.src.PeekByte()
			if err != nil {
				return false
			}
			if c != End {
				return true
			}
			// ESC END: the escape is broken but the boundary still counts.
			_, _ = d.src.ReadByte()
			d.invalid++
			d.state = stateFirstEnd
		case stateSecondEnd:
			return false
		case stateFirstEnd:
			c, err := d.src.PeekByte()
			if err != nil {
				return false
			}
			if c == End {
				_, _ = d.src.ReadByte()
				d.state = stateSecondEnd
				return false
			}
			d.state = stateChar
		case stateChar:
			c, err := d.src.PeekByte()
			if err != nil {
				return false
			}
			switch c {
			case Esc:
				_, _ = d.src.ReadByte()
				d.state = stateEscaped
			case End:
				_, _ = d.src.ReadByte()
				d.state = stateFirstEnd
			default:
				return true
			}
		}
	}
	return false
}

// Read returns the next decoded byte. ok is false at a frame boundary, when
// no byte is buffered, or when an invalid escape sequence was dropped.
func (d *Decoder) Read() (c byte, ok bool) {
	for d.src.Available() > 0 {
		switch d.state {
		case stateFirstEnd, stateSecondEnd:
			return 0, false
		case stateEscaped:
			raw, err := d.src.ReadByte()
			if err != nil {
				return 0, false
			}
			d.state = stateChar
			if v, valid := unescape(raw); valid {
				return v, true
			}
			d.invalid++
			if raw == End {
				d.state = stateFirstEnd
			}
			return 0, false
		default:
			raw, err := d.src.ReadByte()
			if err != nil {
				return 0, false
			}
			switch raw {
			case Esc:
				d.state = stateEscaped
			case End:
				d.state = stateFirstEnd
				return 0, false
			default:
				return raw, true
			}
		}
	}
	return 0, false
}

// Peek is Read without consuming the byte.
func (d *Decoder) Peek() (byte, bool) {
	if !d.Available() {
		return 0, false
	}
	raw, err := d.src.PeekByte()
	if err != nil {
		return 0, false
	}
	if d.state == stateEscaped {
		return unescape(raw)
	}
	return raw, true
}

// EndOfPacket reports a completed frame exactly once and resets the decoder.
// A lone END is treated as complete when the stream has nothing else
// buffered; a following END is swallowed as the opening marker of the next
// frame pair.
func (d *Decoder) EndOfPacket() bool {
	switch d.state {
	case stateSecondEnd:
		d.state = stateChar
		return true
	case stateFirstEnd:
		if d.src.Available() > 0 {
			if c, err := d.src.PeekByte(); err == nil && c == End {
				_, _ = d.src.ReadByte()
			}
		}
		d.state = stateChar
		return true
	}
	return false
}

// InvalidEscapes returns how many malformed escape sequences were dropped.
func (d *Decoder) InvalidEscapes() uint64 { return d.invalid }

func unescape(c byte) (byte, bool) {
	switch c {
	case EscEnd:
		return End, true
	case EscEsc:
		return Esc, true
	}
	return 0, false
}

// ErrNoPacket is returned by EndPacket when no frame was begun.
var ErrNoPacket = errors.New("slip: end without begin")

// Encoder writes stuffed frames. Writes are buffered until EndPacket, which
// terminates the frame and flushes it to the link.
//
// A write error abandons the frame in progress: buffered bytes are dropped
// and the encoder is closed again. Bytes that already reached the link form
// a frame the peer rejects as malformed, and the next BeginPacket starts a
// fresh one.
type Encoder struct {
	dst  io.Writer
	w    *bufio.Writer
	open bool
}

// NewEncoder returns an Encoder writing to w.
func NewEncoder(w io.Writer) *Encoder { return &Encoder{dst: w, w: bufio.NewWriter(w)} }

// BeginPacket writes the opening END marker.
func (e *Encoder) BeginPacket() error {
	if err := e.w.WriteByte(End); err != nil {
		return e.abort(err)
	}
	e.open = true
	return nil
}

// WriteByte writes c, escaping it when it equals a reserved marker.
func (e *Encoder) WriteByte(c byte) error {
	var err error
	switch c {
	case End:
		if err = e.w.WriteByte(Esc); err == nil {
			err = e.w.WriteByte(EscEnd)
		}
	case Esc:
		if err = e.w.WriteByte(Esc); err == nil {
			err = e.w.WriteByte(EscEsc)
		}
	default:
		err = e.w.WriteByte(c)
	}
	if err != nil {
		return e.abort(err)
	}
	return nil
}

func (e *Encoder) abort(err error) error {
	e.w.Reset(e.dst)
	e.open = false
	return err
}

// Write escapes and writes p. It implements io.Writer so message encoders and
// io.Copy can stream straight into an open frame.
func (e *Encoder) Write(p []byte) (int, error) {
	for i, c := range p {
		if err := e.WriteByte(c); err != nil {
			return i, err
		}
	}
	return len(p), nil
}

// WriteString is Write for strings.
func (e *Encoder) WriteString(s string) (int, error) {
	for i := 0; i < len(s); i++ {
		if err := e.WriteByte(s[i]); err != nil {
			return i, err
		}
	}
	return len(s), nil
}

// EndPacket writes the closing END marker and flushes the frame.
func (e *Encoder) EndPacket() error {
	if !e.open {
		return ErrNoPacket
	}
	e.open = false
	if err := e.w.WriteByte(End); err != nil {
		return e.abort(err)
	}
	if err := e.w.Flush(); err != nil {
		return e.abort(err)
	}
	return nil
}

// Open reports whether a frame has been begun and not yet ended.
func (e *Encoder) Open() bool { return e.open }

// Encode returns payload as one complete frame.
func Encode(payload []byte) []byte {
	out := make([]byte, 0, len(payload)+2)
	out = append(out, End)
	for _, c := range payload {
		switch c {
		case End:
			out = append(out, Esc, EscEnd)
		case Esc:
			out = append(out, Esc, EscEsc)
		default:
			out = append(out, c)
		}
	}
	return append(out, End)
}
