package bridge

import (
	"fmt"
	"io"

	"github.com/kstaniek/go-osc-bridge/internal/osc"
)

// Level is the severity of a host notification.
type Level uint8

const (
	LevelInfo Level = iota
	LevelWarn
	LevelError
	LevelDump
)

func (l Level) String() string {
	switch l {
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	case LevelDump:
		return "dump"
	default:
		return "undefined"
	}
}

// Address returns the notification address for l, under RawPrefix when raw.
func (l Level) Address(raw bool) string {
	if raw {
		return "/raw/log/" + l.String()
	}
	return "/log/" + l.String()
}

// Notifier sends one-way diagnostics to the host. They carry no RequestID
// and expect no answer.
type Notifier struct{ b *Bridge }

// Log sends text as a /log/<level> message.
func (n *Notifier) Log(l Level, text string) error {
	m, err := osc.NewMessage(l.Address(false), text)
	if err != nil {
		return err
	}
	return n.b.Send(m)
}

func (n *Notifier) Info(text string) error  { return n.Log(LevelInfo, text) }
func (n *Notifier) Warn(text string) error  { return n.Log(LevelWarn, text) }
func (n *Notifier) Error(text string) error { return n.Log(LevelError, text) }
func (n *Notifier) Dump(text string) error  { return n.Log(LevelDump, text) }

// Begin announces a raw /raw/log/<level> notification and opens the frame
// carrying its text. Close it with End.
func (n *Notifier) Begin(l Level) (io.Writer, error) {
	m, err := osc.NewMessage(l.Address(true))
	if err != nil {
		return nil, err
	}
	if err := n.b.Send(m); err != nil {
		return nil, err
	}
	if err := n.b.enc.BeginPacket(); err != nil {
		return nil, err
	}
	return n.b.enc, nil
}

// End closes the frame opened by Begin.
func (n *Notifier) End() error { return n.b.endFrame() }

// Raw sends text through the Begin/End bracket.
func (n *Notifier) Raw(l Level, text string) error {
	w, err := n.Begin(l)
	if err != nil {
		return err
	}
	_, werr := io.WriteString(w, text)
	if err := n.End(); err != nil {
		return err
	}
	return werr
}

// RawError sends text as a raw error notification.
func (n *Notifier) RawError(text string) error { return n.Raw(LevelError, text) }

// Rawf formats and sends a raw notification.
func (n *Notifier) Rawf(l Level, format string, args ...any) error {
	return n.Raw(l, fmt.Sprintf(format, args...))
}
