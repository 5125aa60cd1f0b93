// Package cancel provides a shared cancellation flag polled by long-running
// acquisition and crawl loops.
package cancel

import (
	"context"
	"sync"
)

// Token is a one-way cancellation flag. Once set it stays set. A nil *Token
// is valid and never reports cancellation.
type Token struct {
	once sync.Once
	done chan struct{}
	mu   sync.Mutex
}

// New returns an unset token.
func New() *Token {
	return &Token{done: make(chan struct{})}
}

func (t *Token) init() {
	t.mu.Lock()
	if t.done == nil {
		t.done = make(chan struct{})
	}
	t.mu.Unlock()
}

// Set marks the token cancelled. Safe to call more than once.
func (t *Token) Set() {
	if t == nil {
		return
	}
	t.init()
	t.once.Do(func() { close(t.done) })
}

// IsSet reports whether Set has been called.
func (t *Token) IsSet() bool {
	if t == nil {
		return false
	}
	t.init()
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Done returns a channel closed when the token is set. A nil token returns a
// nil channel, which blocks forever in a select.
func (t *Token) Done() <-chan struct{} {
	if t == nil {
		return nil
	}
	t.init()
	return t.done
}

// Context derives a context from parent that is cancelled when the token is
// set. The returned stop func releases the watcher goroutine.
func (t *Token) Context(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancelFn := context.WithCancel(parent)
	if t == nil {
		return ctx, cancelFn
	}
	done := t.Done()
	go func() {
		select {
		case <-done:
			cancelFn()
		case <-ctx.Done():
		}
	}()
	return ctx, cancelFn
}

// Cancelled reports whether either the context is done or the token is set.
func Cancelled(ctx context.Context, t *Token) bool {
	if t.IsSet() {
		return true
	}
	if ctx == nil {
		return false
	}
	return ctx.Err() != nil
}
