package bridge

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/kstaniek/go-osc-bridge/internal/logging"
	"github.com/kstaniek/go-osc-bridge/internal/osc"
	"github.com/kstaniek/go-osc-bridge/internal/serial"
)

func TestValidateData(t *testing.T) {
	msg := func(args ...any) *osc.Message {
		m, err := osc.NewMessage("/v", args...)
		if err != nil {
			t.Fatalf("NewMessage: %v", err)
		}
		return m
	}
	cases := []struct {
		name  string
		m     *osc.Message
		types string
		n     int
		ok    bool
		log   string
	}{
		{"exact", msg(int32(1), "a", "b", int32(2)), "issi", 4, true, ""},
		{"too few", msg(int32(1)), "is", 2, false, "expected 2 arguments got 1"},
		{"too many", msg(int32(1), "x", int32(0)), "is", 2, false, "expected 2 arguments got 3"},
		{"wrong type", msg(int32(1), int32(5)), "is", 2, false, "wrong type for argument 1, expected 's' got 'i'"},
		{"first mismatch wins", msg("x", float32(1)), "ii", 2, false, "wrong type for argument 0, expected 'i' got 's'"},
		{"no arguments", msg(), "", 0, true, ""},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			h := newHarness(t)
			if got := h.b.ValidateData(c.m, c.types, c.n); got != c.ok {
				t.Fatalf("ValidateData = %v, want %v", got, c.ok)
			}
			outs := h.outputs(t)
			if c.ok {
				if len(outs) != 0 {
					t.Fatalf("valid data produced output %+v", outs)
				}
				return
			}
			if len(outs) != 2 || outs[0].msg.Address != "/raw/log/error" {
				t.Fatalf("expected raw error log, got %+v", outs)
			}
			if string(outs[1].raw) != c.log {
				t.Fatalf("log text %q, want %q", outs[1].raw, c.log)
			}
		})
	}
}

func TestResponses(t *testing.T) {
	h := newHarness(t)
	_ = h.b.Respond(7)
	_ = h.b.Respond(8, int32(42))
	_ = h.b.RespondError(9, "nope")
	w, err := h.b.BeginRespond(10)
	if err != nil {
		t.Fatalf("BeginRespond: %v", err)
	}
	_, _ = io.WriteString(w, "File:\xC0\xDB")
	if err := h.b.EndRespond(); err != nil {
		t.Fatalf("EndRespond: %v", err)
	}
	w, _ = h.b.BeginRespondError(11)
	_, _ = io.WriteString(w, "bad")
	_ = h.b.EndRespond()

	outs := h.outputs(t)
	if len(outs) != 7 {
		t.Fatalf("got %d frames, want 7: %+v", len(outs), outs)
	}
	check := func(i int, addr, tags string) *osc.Message {
		t.Helper()
		m := outs[i].msg
		if m == nil || m.Address != addr || m.TypeTags() != tags {
			t.Fatalf("frame %d = %+v, want %s %s", i, m, addr, tags)
		}
		return m
	}
	if m := check(0, AddrSuccess, "i"); m.Int(0) != 7 {
		t.Fatalf("id = %d", m.Int(0))
	}
	if m := check(1, AddrSuccess, "ii"); m.Int(1) != 42 {
		t.Fatalf("value = %d", m.Int(1))
	}
	if m := check(2, AddrError, "is"); m.Str(1) != "nope" {
		t.Fatalf("reason = %q", m.Str(1))
	}
	if m := check(3, AddrRawSuccess, "i"); m.Int(0) != 10 {
		t.Fatalf("raw id = %d", m.Int(0))
	}
	if string(outs[4].raw) != "File:\xC0\xDB" {
		t.Fatalf("raw payload = % X", outs[4].raw)
	}
	check(5, AddrRawError, "i")
	if string(outs[6].raw) != "bad" {
		t.Fatalf("raw error payload = %q", outs[6].raw)
	}
}

func TestSendWhileFrameOpen(t *testing.T) {
	h := newHarness(t)
	if _, err := h.b.BeginRespond(1); err != nil {
		t.Fatalf("BeginRespond: %v", err)
	}
	if h.b.Idle() {
		t.Fatalf("Idle while a response frame is open")
	}
	if err := h.b.Respond(2); !errors.Is(err, ErrFrameOpen) {
		t.Fatalf("Respond inside open frame: %v", err)
	}
	if err := h.b.Heartbeat(); !errors.Is(err, ErrFrameOpen) {
		t.Fatalf("Heartbeat inside open frame: %v", err)
	}
	_ = h.b.EndRespond()
	if !h.b.Idle() {
		t.Fatalf("not idle after EndRespond")
	}
}

type failOnceWriter struct {
	failed bool
	buf    bytes.Buffer
}

func (w *failOnceWriter) Write(p []byte) (int, error) {
	if !w.failed {
		w.failed = true
		return 0, errors.New("boom")
	}
	return w.buf.Write(p)
}

func TestRespondAfterWriteError(t *testing.T) {
	w := &failOnceWriter{}
	b := New(serial.NewStream(), w, WithLogger(logging.Discard()))
	if err := b.Respond(1); err == nil {
		t.Fatalf("first Respond should fail")
	}
	if !b.Idle() {
		t.Fatalf("bridge not idle after failed send")
	}
	if err := b.Respond(2); err != nil {
		t.Fatalf("second Respond: %v", err)
	}
	frames := decodeFrames(w.buf.Bytes())
	if len(frames) != 1 {
		t.Fatalf("frames = %d", len(frames))
	}
	m, err := osc.Parse(frames[0])
	if err != nil || m.Address != AddrSuccess || m.Int(0) != 2 {
		t.Fatalf("got %+v, %v", m, err)
	}
}

func TestRequestIDWraps(t *testing.T) {
	m, _ := osc.NewMessage("/x", int32(65536+5))
	if ID(m) != 5 {
		t.Fatalf("ID = %d", ID(m))
	}
}
