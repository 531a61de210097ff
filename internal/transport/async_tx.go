package transport

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// AsyncTx funnels writes of items of type T through a single goroutine
// (fan-in). Send never blocks: when the buffer is full it invokes the OnDrop
// hook and returns its error. SendWait blocks until there is room, which is
// what a byte stream needs when dropping a chunk would corrupt a frame.
//
// Life-cycle:
//
//	a := NewAsyncTx(ctx, buf, sendFn, hooks)
//	a.Send(item)
//	a.Close()
//
// After Close every Send/SendWait returns ErrAsyncTxClosed. Items still queued
// when Close runs are discarded.
type AsyncTx[T any] struct {
	mu     sync.Mutex
	ch     chan T
	space  chan struct{} // signalled by the worker after each dequeue
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	send   func(T) error
	hooks  Hooks
	closed atomic.Bool // set when Close is called; prevents enqueue after shutdown
}

// Hooks customize AsyncTx behavior.
type Hooks struct {
	// OnError is called when send returns a non-nil error (item not sent).
	OnError func(error)
	// OnAfter is called only after a successful send.
	OnAfter func()
	// OnDrop is called when the buffer is full; its returned error is returned
	// from Send. If nil, the overflow is silent (best-effort fire-and-forget).
	OnDrop func() error
}

// ErrAsyncTxClosed is returned for sends after Close.
var ErrAsyncTxClosed = errors.New("async tx closed")

// NewAsyncTx constructs an AsyncTx with a buffered channel of size buf.
func NewAsyncTx[T any](parent context.Context, buf int, send func(T) error, hooks Hooks) *AsyncTx[T] {
	ctx, cancel := context.WithCancel(parent)
	a := &AsyncTx[T]{
		ch:     make(chan T, buf),
		space:  make(chan struct{}, 1),
		ctx:    ctx,
		cancel: cancel,
		send:   send,
		hooks:  hooks,
	}
	a.wg.Add(1)
	go a.loop()
	return a
}

func (a *AsyncTx[T]) loop() {
	defer a.wg.Done()
	for {
		select {
		case item, ok := <-a.ch:
			if !ok { // channel closed
				return
			}
			select {
			case a.space <- struct{}{}:
			default:
			}
			if err := a.send(item); err != nil {
				if a.hooks.OnError != nil {
					a.hooks.OnError(err)
				}
				continue
			}
			if a.hooks.OnAfter != nil {
				a.hooks.OnAfter()
			}
		case <-a.ctx.Done():
			return
		}
	}
}

// Send queues an item or returns the drop error if the buffer is full.
func (a *AsyncTx[T]) Send(item T) error {
	// Fast-path check so steady-state sends avoid taking the lock when already shut down.
	if a.closed.Load() {
		return ErrAsyncTxClosed
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed.Load() {
		return ErrAsyncTxClosed
	}
	select {
	case a.ch <- item:
		return nil
	default:
		if a.hooks.OnDrop != nil {
			return a.hooks.OnDrop()
		}
		return nil
	}
}

// SendWait queues an item, waiting for buffer space until ctx is done or the
// writer is closed.
func (a *AsyncTx[T]) SendWait(ctx context.Context, item T) error {
	for {
		if a.closed.Load() {
			return ErrAsyncTxClosed
		}
		a.mu.Lock()
		if a.closed.Load() {
			a.mu.Unlock()
			return ErrAsyncTxClosed
		}
		select {
		case a.ch <- item:
			a.mu.Unlock()
			return nil
		default:
		}
		a.mu.Unlock()
		// Buffer full: wait outside the lock so Close can proceed.
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-a.ctx.Done():
			return ErrAsyncTxClosed
		case <-a.space:
		}
	}
}

// Len reports the number of queued items.
func (a *AsyncTx[T]) Len() int { return len(a.ch) }

// Close stops the worker and waits for all pending operations to finish.
func (a *AsyncTx[T]) Close() {
	if a.closed.Swap(true) { // already closed
		return
	}
	// Cancel context to stop loop, then close channel under the send lock to avoid races.
	a.cancel()
	a.mu.Lock()
	close(a.ch)
	a.mu.Unlock()
	a.wg.Wait()
}
