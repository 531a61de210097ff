package bridge

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/kstaniek/go-osc-bridge/internal/logging"
	"github.com/kstaniek/go-osc-bridge/internal/metrics"
	"github.com/kstaniek/go-osc-bridge/internal/osc"
	"github.com/kstaniek/go-osc-bridge/internal/serial"
	"github.com/kstaniek/go-osc-bridge/internal/slip"
)

type harness struct {
	b   *Bridge
	in  *serial.Stream
	out *bytes.Buffer
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	in := serial.NewStream()
	out := &bytes.Buffer{}
	opts = append([]Option{WithLogger(logging.Discard())}, opts...)
	return &harness{b: New(in, out, opts...), in: in, out: out}
}

func frame(t *testing.T, addr string, args ...any) []byte {
	t.Helper()
	m, err := osc.NewMessage(addr, args...)
	if err != nil {
		t.Fatalf("NewMessage: %v", err)
	}
	wire, err := m.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}
	return slip.Encode(wire)
}

func (h *harness) feed(frames ...[]byte) {
	for _, f := range frames {
		_, _ = h.in.Write(f)
	}
	h.b.Update()
}

// output is one frame the device sent: a message, or the raw payload that
// followed a /raw/ message.
type output struct {
	msg *osc.Message
	raw []byte
}

func (h *harness) outputs(t *testing.T) []output {
	t.Helper()
	frames := decodeFrames(h.out.Bytes())
	h.out.Reset()
	var out []output
	rawNext := false
	for _, f := range frames {
		if rawNext {
			out = append(out, output{raw: f})
			rawNext = false
			continue
		}
		m, err := osc.Parse(f)
		if err != nil {
			t.Fatalf("device sent unparsable frame % X: %v", f, err)
		}
		out = append(out, output{msg: m})
		rawNext = strings.HasPrefix(m.Address, RawPrefix)
	}
	return out
}

func decodeFrames(data []byte) [][]byte {
	s := serial.NewStream()
	_, _ = s.Write(data)
	d := slip.NewDecoder(s)
	var out [][]byte
	var cur []byte
	for {
		for d.Available() {
			if c, ok := d.Read(); ok {
				cur = append(cur, c)
			}
		}
		if !d.EndOfPacket() {
			break
		}
		if len(cur) > 0 {
			out = append(out, cur)
		}
		cur = nil
	}
	return out
}

func TestDispatchFanOut(t *testing.T) {
	h := newHarness(t)
	var wild, exact, other int
	_ = h.b.AddMethod("/e/*/*", func(*osc.Message) { wild++ })
	_ = h.b.AddMethod("/e/1/2", func(*osc.Message) { exact++ })
	_ = h.b.AddMethod("/e/1", func(*osc.Message) { other++ })
	before := metrics.Snap()
	h.feed(frame(t, "/e/1/2", int32(1)))
	if wild != 1 || exact != 1 || other != 0 {
		t.Fatalf("wild=%d exact=%d other=%d, want 1 1 0", wild, exact, other)
	}
	after := metrics.Snap()
	if after.Dispatches-before.Dispatches != 2 {
		t.Fatalf("dispatches +%d, want 2", after.Dispatches-before.Dispatches)
	}
	h.feed(frame(t, "/nothing/here"))
	if metrics.Snap().Unmatched-after.Unmatched != 1 {
		t.Fatalf("unmatched message not counted")
	}
}

func TestRegistryCapacity(t *testing.T) {
	h := newHarness(t)
	calls := 0
	for i := 0; i < MaxMethods; i++ {
		if err := h.b.AddMethod(fmt.Sprintf("/m/%d", i), func(*osc.Message) { calls++ }); err != nil {
			t.Fatalf("AddMethod %d: %v", i, err)
		}
	}
	rejected := false
	if err := h.b.AddMethod("/m/extra", func(*osc.Message) { rejected = true }); !errors.Is(err, ErrMethodCapacity) {
		t.Fatalf("33rd registration: err = %v", err)
	}
	if h.b.Methods() != MaxMethods {
		t.Fatalf("Methods() = %d", h.b.Methods())
	}
	outs := h.outputs(t)
	if len(outs) != 1 || outs[0].msg.Address != "/log/error" {
		t.Fatalf("expected one /log/error notification, got %+v", outs)
	}
	h.feed(frame(t, "/m/0"), frame(t, "/m/31"), frame(t, "/m/extra"))
	if calls != 2 || rejected {
		t.Fatalf("calls=%d rejected=%v", calls, rejected)
	}
}

func TestAddMethodInvalid(t *testing.T) {
	h := newHarness(t)
	if err := h.b.AddMethod("", func(*osc.Message) {}); !errors.Is(err, ErrPatternEmpty) {
		t.Fatalf("err = %v", err)
	}
	if err := h.b.AddMethod("/x", nil); !errors.Is(err, ErrNilHandler) {
		t.Fatalf("err = %v", err)
	}
}

type rawRecorder struct {
	data []byte
	ends int
}

func (r *rawRecorder) OnRawByte(c byte) { r.data = append(r.data, c) }
func (r *rawRecorder) OnRawEnd()        { r.ends++ }

func TestRawModeSwitch(t *testing.T) {
	h := newHarness(t)
	rec := &rawRecorder{}
	h.b.SetRawHandler(rec)
	var got *osc.Message
	modeDuringHandler := ModeStructured
	_ = h.b.AddMethod("/raw/file/write", func(m *osc.Message) {
		got = m
		modeDuringHandler = h.b.Mode()
	})
	h.feed(frame(t, "/raw/file/write", int32(9), "dir", "f.txt", int32(0)))
	if got == nil || got.Str(2) != "f.txt" || ID(got) != 9 {
		t.Fatalf("raw method handler did not get its structured arguments: %+v", got)
	}
	if modeDuringHandler != ModeRaw || h.b.Mode() != ModeRaw {
		t.Fatalf("mode must switch before dispatch, handler saw %v", modeDuringHandler)
	}
	// A heartbeat does not end the raw session.
	h.feed([]byte{slip.End, slip.End})
	if h.b.Mode() != ModeRaw || rec.ends != 0 {
		t.Fatalf("heartbeat changed raw state: mode=%v ends=%d", h.b.Mode(), rec.ends)
	}
	payload := []byte{'/', 'x', 0, slip.End, slip.Esc, 0xFF}
	h.feed(slip.Encode(payload))
	if !bytes.Equal(rec.data, payload) || rec.ends != 1 {
		t.Fatalf("raw data % X ends=%d", rec.data, rec.ends)
	}
	if h.b.Mode() != ModeStructured {
		t.Fatalf("mode after raw frame = %v", h.b.Mode())
	}
	// A raw-looking payload is parsed normally once back in structured mode.
	hit := false
	_ = h.b.AddMethod("/after", func(*osc.Message) { hit = true })
	h.feed(frame(t, "/after"))
	if !hit {
		t.Fatalf("structured dispatch after raw frame failed")
	}
}

func TestRawFrameWithoutHandler(t *testing.T) {
	h := newHarness(t)
	_ = h.b.AddMethod("/raw/x", func(*osc.Message) {})
	h.feed(frame(t, "/raw/x"), slip.Encode([]byte("payload")))
	if h.b.Mode() != ModeStructured {
		t.Fatalf("mode = %v", h.b.Mode())
	}
}

func TestUpdateKeepsPartialFrame(t *testing.T) {
	h := newHarness(t)
	calls := 0
	_ = h.b.AddMethod("/echo/int", func(m *osc.Message) { calls++ })
	f := frame(t, "/echo/int", int32(1), int32(42))
	for i := 0; i < len(f)-1; i++ {
		h.feed(f[i : i+1])
		if calls != 0 {
			t.Fatalf("dispatched after %d of %d bytes", i+1, len(f))
		}
	}
	h.feed(f[len(f)-1:])
	if calls != 1 {
		t.Fatalf("calls = %d after full frame", calls)
	}
}

func TestUpdateHandlesBackToBackFrames(t *testing.T) {
	h := newHarness(t)
	var ids []RequestID
	_ = h.b.AddMethod("/echo/int", func(m *osc.Message) { ids = append(ids, ID(m)) })
	var all []byte
	for i := 0; i < 5; i++ {
		all = append(all, frame(t, "/echo/int", int32(i), int32(0))...)
	}
	h.feed(all)
	if len(ids) != 5 || ids[4] != 4 {
		t.Fatalf("ids = %v", ids)
	}
}

func TestMalformedFrameDropped(t *testing.T) {
	h := newHarness(t)
	calls := 0
	_ = h.b.AddMethod("/*", func(*osc.Message) { calls++ })
	before := metrics.Snap().ProtocolErrors
	h.feed(slip.Encode([]byte("not osc")))
	if calls != 0 {
		t.Fatalf("handler ran for malformed frame")
	}
	if metrics.Snap().ProtocolErrors-before != 1 {
		t.Fatalf("protocol error not counted")
	}
	outs := h.outputs(t)
	if len(outs) != 1 || outs[0].msg.Address != "/log/error" || outs[0].msg.Str(0) != "OSC input error" {
		t.Fatalf("expected only an OSC input error log, got %+v", outs)
	}
	if h.b.Mode() != ModeStructured {
		t.Fatalf("mode changed on malformed frame")
	}
}

func TestOversizedFrameDropped(t *testing.T) {
	h := newHarness(t, WithMaxMessageSize(16))
	calls := 0
	_ = h.b.AddMethod("/long/*", func(*osc.Message) { calls++ })
	h.feed(frame(t, "/long/address/that/does/not/fit"))
	if calls != 0 {
		t.Fatalf("oversized frame dispatched")
	}
	_ = h.b.AddMethod("/ok", func(*osc.Message) { calls++ })
	h.feed(frame(t, "/ok"))
	if calls != 1 {
		t.Fatalf("bridge did not recover after oversized frame")
	}
}

func TestHeartbeatCounted(t *testing.T) {
	h := newHarness(t)
	before := metrics.Snap().Heartbeats
	h.feed([]byte{slip.End, slip.End})
	if metrics.Snap().Heartbeats-before != 1 {
		t.Fatalf("heartbeat not counted")
	}
	if err := h.b.Heartbeat(); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}
	if !bytes.Equal(h.out.Bytes(), []byte{slip.End, slip.End}) {
		t.Fatalf("heartbeat wire = % X", h.out.Bytes())
	}
}

// queueWriter records whole frames passed to TrySend and refuses them once
// full is set.
type queueWriter struct {
	bytes.Buffer
	queued [][]byte
	full   bool
}

var errQueueFull = errors.New("queue full")

func (q *queueWriter) TrySend(p []byte) error {
	if q.full {
		return errQueueFull
	}
	q.queued = append(q.queued, append([]byte(nil), p...))
	return nil
}

func TestHeartbeatUsesFrameSender(t *testing.T) {
	q := &queueWriter{}
	b := New(serial.NewStream(), q, WithLogger(logging.Discard()))
	if err := b.Heartbeat(); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}
	if len(q.queued) != 1 || !bytes.Equal(q.queued[0], []byte{slip.End, slip.End}) || q.Len() != 0 {
		t.Fatalf("queued = % X, written = % X", q.queued, q.Bytes())
	}
	q.full = true
	if err := b.Heartbeat(); !errors.Is(err, errQueueFull) {
		t.Fatalf("err = %v, want errQueueFull", err)
	}
	// Regular frames still go through the blocking writer.
	if err := b.Respond(1); err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if len(decodeFrames(q.Bytes())) != 1 {
		t.Fatalf("response not written")
	}
}

func TestInvalidEscapeCounted(t *testing.T) {
	h := newHarness(t)
	before := metrics.Snap().Malformed
	h.feed([]byte{slip.End, 'a', slip.Esc, 'z', slip.End})
	if metrics.Snap().Malformed-before != 1 {
		t.Fatalf("invalid escape not counted")
	}
}

func TestModeTransitions(t *testing.T) {
	cases := []struct {
		from Mode
		ev   event
		want Mode
	}{
		{ModeStructured, evMessage, ModeStructured},
		{ModeStructured, evRawAddress, ModeRaw},
		{ModeStructured, evIgnored, ModeStructured},
		{ModeRaw, evIgnored, ModeRaw},
		{ModeRaw, evRawEnd, ModeStructured},
	}
	for _, c := range cases {
		if got := c.from.next(c.ev); got != c.want {
			t.Fatalf("%v --%d--> %v, want %v", c.from, c.ev, got, c.want)
		}
	}
}
