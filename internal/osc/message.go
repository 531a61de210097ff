// Package osc is the message layer of the link: typed accessors and address
// matching over Open Sound Control messages, with the wire encoding done by
// github.com/hypebeast/go-osc.
package osc

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	goosc "github.com/hypebeast/go-osc/osc"
)

// Type tags understood by the codec.
const (
	TypeInt32   byte = 'i'
	TypeFloat32 byte = 'f'
	TypeString  byte = 's'
	TypeBlob    byte = 'b'
	TypeInt64   byte = 'h'
	TypeFloat64 byte = 'd'
	TypeTime    byte = 't'
	TypeTrue    byte = 'T'
	TypeFalse   byte = 'F'
	TypeNil     byte = 'N'
)

var (
	ErrTruncated       = errors.New("osc: truncated message")
	ErrBadAddress      = errors.New("osc: address must start with '/'")
	ErrBadTypeTags     = errors.New("osc: type tags must start with ','")
	ErrUnsupportedType = errors.New("osc: unsupported type tag")
	ErrUnterminated    = errors.New("osc: unterminated string")
	ErrMalformed       = errors.New("osc: malformed arguments")
)

// Timetag is the 64-bit NTP style time tag carried by 't' arguments.
type Timetag uint64

// Arg is a single typed argument.
type Arg struct {
	Tag   byte
	Value any
}

// Message is an addressed list of typed arguments.
type Message struct {
	Address string
	Args    []Arg
}

// NewMessage builds a message, converting Go values to OSC arguments.
// Supported values: int32, int, uint16, int64, float32, float64, string,
// []byte, bool, Timetag and nil.
func NewMessage(address string, values ...any) (*Message, error) {
	m := &Message{Address: address}
	for _, v := range values {
		if err := m.Add(v); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Add appends one Go value as an argument.
func (m *Message) Add(v any) error {
	var a Arg
	switch x := v.(type) {
	case int32:
		a = Arg{TypeInt32, x}
	case int:
		a = Arg{TypeInt32, int32(x)}
	case uint16:
		a = Arg{TypeInt32, int32(x)}
	case int64:
		a = Arg{TypeInt64, x}
	case float32:
		a = Arg{TypeFloat32, x}
	case float64:
		a = Arg{TypeFloat64, x}
	case string:
		a = Arg{TypeString, x}
	case []byte:
		a = Arg{TypeBlob, x}
	case bool:
		if x {
			a = Arg{TypeTrue, true}
		} else {
			a = Arg{TypeFalse, false}
		}
	case Timetag:
		a = Arg{TypeTime, x}
	case nil:
		a = Arg{TypeNil, nil}
	default:
		return fmt.Errorf("%w: %T", ErrUnsupportedType, v)
	}
	m.Args = append(m.Args, a)
	return nil
}

// Len returns the number of arguments.
func (m *Message) Len() int { return len(m.Args) }

// TypeTag returns the tag of argument i, or 0 when i is out of range.
func (m *Message) TypeTag(i int) byte {
	if i < 0 || i >= len(m.Args) {
		return 0
	}
	return m.Args[i].Tag
}

// TypeTags returns the tags of all arguments without the leading comma.
func (m *Message) TypeTags() string {
	var b strings.Builder
	for _, a := range m.Args {
		b.WriteByte(a.Tag)
	}
	return b.String()
}

// Int returns argument i as int32; zero when absent or not an int.
func (m *Message) Int(i int) int32 {
	if i < 0 || i >= len(m.Args) {
		return 0
	}
	switch v := m.Args[i].Value.(type) {
	case int32:
		return v
	case int64:
		return int32(v)
	}
	return 0
}

// Float returns argument i as float32; zero when absent or not a float.
func (m *Message) Float(i int) float32 {
	if i < 0 || i >= len(m.Args) {
		return 0
	}
	switch v := m.Args[i].Value.(type) {
	case float32:
		return v
	case float64:
		return float32(v)
	}
	return 0
}

// Str returns argument i as string; empty when absent or not a string.
func (m *Message) Str(i int) string {
	if i < 0 || i >= len(m.Args) {
		return ""
	}
	s, _ := m.Args[i].Value.(string)
	return s
}

// Blob returns argument i as bytes; nil when absent or not a blob.
func (m *Message) Blob(i int) []byte {
	if i < 0 || i >= len(m.Args) {
		return nil
	}
	b, _ := m.Args[i].Value.([]byte)
	return b
}

// Bool returns argument i as a boolean. Integers are true when non-zero.
func (m *Message) Bool(i int) bool {
	if i < 0 || i >= len(m.Args) {
		return false
	}
	switch v := m.Args[i].Value.(type) {
	case bool:
		return v
	case int32:
		return v != 0
	}
	return false
}

// MarshalBinary encodes the message.
func (m *Message) MarshalBinary() ([]byte, error) {
	if !strings.HasPrefix(m.Address, "/") {
		return nil, ErrBadAddress
	}
	wire := goosc.NewMessage(m.Address)
	for i, a := range m.Args {
		v, err := a.wireValue()
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		wire.Append(v)
	}
	return wire.MarshalBinary()
}

// WriteTo encodes the message into w.
func (m *Message) WriteTo(w io.Writer) (int64, error) {
	data, err := m.MarshalBinary()
	if err != nil {
		return 0, err
	}
	n, err := w.Write(data)
	return int64(n), err
}

// wireValue checks that Value fits Tag and returns it in the form the wire
// encoder expects.
func (a Arg) wireValue() (any, error) {
	ok := false
	var v any = a.Value
	switch a.Tag {
	case TypeInt32:
		_, ok = a.Value.(int32)
	case TypeFloat32:
		_, ok = a.Value.(float32)
	case TypeString:
		_, ok = a.Value.(string)
	case TypeBlob:
		_, ok = a.Value.([]byte)
	case TypeInt64:
		_, ok = a.Value.(int64)
	case TypeFloat64:
		_, ok = a.Value.(float64)
	case TypeTime:
		var t Timetag
		if t, ok = a.Value.(Timetag); ok {
			v = *goosc.NewTimetagFromTimetag(uint64(t))
		}
	case TypeTrue:
		v, ok = true, true
	case TypeFalse:
		v, ok = false, true
	case TypeNil:
		v, ok = nil, true
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, a.Tag)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %q holds %T", ErrUnsupportedType, a.Tag, a.Value)
	}
	return v, nil
}

// Parse decodes one message from data. The address and type-tag header is
// checked here, so a message without type tags (no arguments) is accepted
// and errors name what is wrong. Arguments are decoded by go-osc, and the
// frame must be the exact encoding of what it decodes to; bytes after the
// last argument are ignored.
func Parse(data []byte) (m *Message, err error) {
	address, rest, err := readPaddedString(data)
	if err != nil {
		return nil, fmt.Errorf("address: %w", err)
	}
	if !strings.HasPrefix(address, "/") {
		return nil, ErrBadAddress
	}
	if len(rest) == 0 {
		return &Message{Address: address}, nil
	}
	tags, _, err := readPaddedString(rest)
	if err != nil {
		return nil, fmt.Errorf("type tags: %w", err)
	}
	if !strings.HasPrefix(tags, ",") {
		return nil, ErrBadTypeTags
	}
	for i := 1; i < len(tags); i++ {
		if !strings.ContainsRune(knownTags, rune(tags[i])) {
			return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, tags[i])
		}
	}

	// go-osc trusts the length prefixes it reads.
	defer func() {
		if r := recover(); r != nil {
			m, err = nil, fmt.Errorf("%w: %v", ErrMalformed, r)
		}
	}()
	pkt, err := goosc.ParsePacket(string(data))
	if err != nil {
		return nil, decodeError(err)
	}
	wire, ok := pkt.(*goosc.Message)
	if !ok || wire == nil {
		return nil, ErrBadAddress
	}
	canon, err := wire.MarshalBinary()
	if err != nil {
		return nil, decodeError(err)
	}
	if !bytes.HasPrefix(data, canon) {
		if len(canon) > len(data) {
			return nil, decodeError(io.ErrUnexpectedEOF)
		}
		return nil, fmt.Errorf("%w: non-canonical encoding", ErrMalformed)
	}
	m = &Message{Address: address, Args: make([]Arg, 0, len(wire.Arguments))}
	for _, v := range wire.Arguments {
		a, err := argFromWire(v)
		if err != nil {
			return nil, err
		}
		m.Args = append(m.Args, a)
	}
	return m, nil
}

const knownTags = "ifsbhdtTFN"

// decodeError classifies an argument decoding failure. Running out of input
// matches both ErrMalformed and ErrTruncated.
func decodeError(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %w", ErrMalformed, ErrTruncated)
	}
	return fmt.Errorf("%w: %v", ErrMalformed, err)
}

func argFromWire(v any) (Arg, error) {
	switch x := v.(type) {
	case int32:
		return Arg{TypeInt32, x}, nil
	case float32:
		return Arg{TypeFloat32, x}, nil
	case string:
		return Arg{TypeString, x}, nil
	case []byte:
		return Arg{TypeBlob, x}, nil
	case int64:
		return Arg{TypeInt64, x}, nil
	case float64:
		return Arg{TypeFloat64, x}, nil
	case goosc.Timetag:
		return Arg{TypeTime, Timetag(x.TimeTag())}, nil
	case bool:
		if x {
			return Arg{TypeTrue, true}, nil
		}
		return Arg{TypeFalse, false}, nil
	case nil:
		return Arg{TypeNil, nil}, nil
	}
	return Arg{}, fmt.Errorf("%w: %T", ErrUnsupportedType, v)
}

func readPaddedString(data []byte) (string, []byte, error) {
	i := bytes.IndexByte(data, 0)
	if i < 0 {
		return "", nil, ErrUnterminated
	}
	size := i + 4 - i%4
	if size > len(data) {
		return "", nil, ErrTruncated
	}
	return string(data[:i]), data[size:], nil
}
