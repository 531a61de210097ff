// Package client talks to a bridge device from the host side: it sends
// requests with 16-bit correlation ids, matches the responses (including raw
// responses whose payload arrives in the following frame) and surfaces the
// device's log notifications.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/kstaniek/go-osc-bridge/internal/logging"
	"github.com/kstaniek/go-osc-bridge/internal/osc"
	"github.com/kstaniek/go-osc-bridge/internal/serial"
	"github.com/kstaniek/go-osc-bridge/internal/slip"
)

// DefaultResponseTimeout bounds a request when its context has no deadline.
const DefaultResponseTimeout = time.Second

var (
	ErrTimeout   = errors.New("response timeout")
	ErrClosed    = errors.New("client closed")
	ErrEmptyFile = errors.New("file can't be empty")
)

// RemoteError is an error response from the device.
type RemoteError struct {
	ID     uint16
	Reason string
}

func (e *RemoteError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("request %d failed", e.ID)
	}
	return e.Reason
}

// Response is a successful reply.
type Response struct {
	// Message is the /r/success or /raw/r/success message.
	Message *osc.Message
	// Raw holds the payload frame of a raw response.
	Raw []byte
}

// Value returns the optional value argument of a structured response.
func (r *Response) Value() any {
	if r.Message == nil || r.Message.Len() < 2 {
		return nil
	}
	return r.Message.Args[1].Value
}

// LogEntry is a device notification. Raw notifications carry their text in
// the frame after the header and are delivered the same way.
type LogEntry struct {
	Level string
	Text  string
	Raw   bool
}

type result struct {
	resp *Response
	err  error
}

// Client is safe for concurrent use.
type Client struct {
	rwc     io.ReadWriteCloser
	timeout time.Duration
	logger  *slog.Logger

	wmu sync.Mutex
	enc *slip.Encoder

	mu      sync.Mutex
	nextID  int
	pending map[uint16]chan result
	logs    []func(LogEntry)
	closed  bool
	err     error

	// rawNext consumes the next non-empty frame. Only the RX goroutine uses it.
	rawNext func([]byte)
	done    chan struct{}
}

// Option configures a Client.
type Option func(*Client)

// WithResponseTimeout sets the timeout applied when a request context has no
// deadline.
func WithResponseTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLogger sets the logger (default logging.L()).
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// New starts a client on rwc. Close releases it.
func New(rwc io.ReadWriteCloser, opts ...Option) *Client {
	c := &Client{
		rwc:     rwc,
		timeout: DefaultResponseTimeout,
		logger:  logging.L(),
		enc:     slip.NewEncoder(rwc),
		nextID:  -1,
		pending: make(map[uint16]chan result),
		done:    make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	go c.readLoop()
	return c
}

// Done is closed when the link fails or the client is closed.
func (c *Client) Done() <-chan struct{} { return c.done }

// Err returns the error that ended the client, if any.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close closes the link and fails pending requests with ErrClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	err := c.rwc.Close()
	c.fail(ErrClosed)
	return err
}

// OnLog registers fn for every device notification. fn runs on the receive
// goroutine and must not block.
func (c *Client) OnLog(fn func(LogEntry)) {
	c.mu.Lock()
	c.logs = append(c.logs, fn)
	c.mu.Unlock()
}

// newID returns the next 16-bit request id, wrapping after 65535.
func (c *Client) newID() uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	if c.nextID > 0xFFFF {
		c.nextID = 0
	}
	return uint16(c.nextID)
}

func (c *Client) register(id uint16) (chan result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	ch := make(chan result, 1)
	c.pending[id] = ch
	return ch, nil
}

func (c *Client) unregister(id uint16) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Client) resolve(id uint16, r result) {
	c.mu.Lock()
	ch, ok := c.pending[id]
	delete(c.pending, id)
	c.mu.Unlock()
	if !ok {
		c.logger.Debug("response_unmatched", "id", id)
		return
	}
	ch <- r
}

func (c *Client) fail(err error) {
	c.mu.Lock()
	if c.err == nil {
		c.err = err
	}
	pending := c.pending
	c.pending = make(map[uint16]chan result)
	c.mu.Unlock()
	for _, ch := range pending {
		ch <- result{err: err}
	}
}

// Notify sends a one-way message.
func (c *Client) Notify(address string, args ...any) error {
	m, err := osc.NewMessage(address, args...)
	if err != nil {
		return err
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.writeMessage(m)
}

// Heartbeat sends an empty frame.
func (c *Client) Heartbeat() error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.writeFrame(nil)
}

// writeMessage and writeFrame require wmu.
func (c *Client) writeMessage(m *osc.Message) error {
	if err := c.enc.BeginPacket(); err != nil {
		return err
	}
	if _, err := m.WriteTo(c.enc); err != nil {
		_ = c.enc.EndPacket()
		return err
	}
	return c.enc.EndPacket()
}

func (c *Client) writeFrame(p []byte) error {
	if err := c.enc.BeginPacket(); err != nil {
		return err
	}
	if _, err := c.enc.Write(p); err != nil {
		_ = c.enc.EndPacket()
		return err
	}
	return c.enc.EndPacket()
}

// Request sends address with a fresh RequestId prepended to args and waits
// for the matching response.
func (c *Client) Request(ctx context.Context, address string, args ...any) (*Response, error) {
	return c.do(ctx, address, args, nil)
}

// do sends the request and, when raw is not nil, the raw frame right after
// it while still holding the write lock so nothing can slip in between.
func (c *Client) do(ctx context.Context, address string, args []any, raw []byte) (*Response, error) {
	id := c.newID()
	m, err := osc.NewMessage(address, append([]any{int32(id)}, args...)...)
	if err != nil {
		return nil, err
	}
	ch, err := c.register(id)
	if err != nil {
		return nil, err
	}
	defer c.unregister(id)
	c.wmu.Lock()
	err = c.writeMessage(m)
	if err == nil && raw != nil {
		err = c.writeFrame(raw)
	}
	c.wmu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("send %s: %w", address, err)
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	select {
	case r := <-ch:
		return r.resp, r.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%s: %w", address, ErrTimeout)
		}
		return nil, ctx.Err()
	}
}

func (c *Client) readLoop() {
	defer close(c.done)
	src := serial.NewStream()
	dec := slip.NewDecoder(src)
	var frame []byte
	buf := make([]byte, 4096)
	for {
		n, err := c.rwc.Read(buf)
		if n > 0 {
			_, _ = src.Write(buf[:n])
			for {
				for dec.Available() {
					if b, ok := dec.Read(); ok {
						frame = append(frame, b)
					}
				}
				if !dec.EndOfPacket() {
					break
				}
				if len(frame) > 0 {
					c.handleFrame(frame)
					frame = nil
				}
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) || c.isClosed() {
				c.fail(ErrClosed)
			} else {
				c.fail(fmt.Errorf("link read: %w", err))
			}
			return
		}
	}
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Client) handleFrame(f []byte) {
	if next := c.rawNext; next != nil {
		c.rawNext = nil
		next(f)
		return
	}
	m, err := osc.Parse(f)
	if err != nil {
		c.logger.Debug("frame_unknown", "error", err, "bytes", len(f))
		return
	}
	addr := m.Address
	isRaw := strings.HasPrefix(addr, "/raw/")
	switch {
	case addr == "/r/success" || addr == "/r/error":
		id := uint16(m.Int(0))
		if addr == "/r/success" {
			c.resolve(id, result{resp: &Response{Message: m}})
			return
		}
		c.resolve(id, result{err: &RemoteError{ID: id, Reason: m.Str(1)}})
	case addr == "/raw/r/success" || addr == "/raw/r/error":
		id := uint16(m.Int(0))
		success := addr == "/raw/r/success"
		c.rawNext = func(p []byte) {
			if success {
				c.resolve(id, result{resp: &Response{Message: m, Raw: p}})
				return
			}
			c.resolve(id, result{err: &RemoteError{ID: id, Reason: string(p)}})
		}
	case strings.HasPrefix(addr, "/log/"):
		c.emit(LogEntry{Level: strings.TrimPrefix(addr, "/log/"), Text: m.Str(0)})
	case strings.HasPrefix(addr, "/raw/log/"):
		level := strings.TrimPrefix(addr, "/raw/log/")
		c.rawNext = func(p []byte) { c.emit(LogEntry{Level: level, Text: string(p), Raw: true}) }
	case isRaw:
		c.rawNext = func(p []byte) { c.logger.Debug("raw_frame_ignored", "address", addr, "bytes", len(p)) }
	default:
		c.logger.Debug("message_unhandled", "address", addr)
	}
}

func (c *Client) emit(e LogEntry) {
	c.mu.Lock()
	fns := append([]func(LogEntry){}, c.logs...)
	c.mu.Unlock()
	for _, fn := range fns {
		fn(e)
	}
}
