package wit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rojolang/rintento-go/pkg/intent"
)

var errReleased = errors.New("wit: token released")

// Token is the cancellation token shared by every step of one session.
//
// It fires on explicit Cancel, on cancellation of the parent context, or when
// the idle timer expires before the next Rearm. The cause is kept so Err can
// tell a timeout from a plain cancellation.
type Token struct {
	ctx    context.Context
	cancel context.CancelCauseFunc
	idle   time.Duration

	mu    sync.Mutex
	timer *time.Timer
}

// NewToken derives a token from parent. A non-positive idle disables the timer.
func NewToken(parent context.Context, idle time.Duration) *Token {
	ctx, cancel := context.WithCancelCause(parent)
	t := &Token{ctx: ctx, cancel: cancel, idle: idle}
	if idle > 0 {
		t.timer = time.AfterFunc(idle, func() { t.cancel(intent.ErrTimeout) })
	}
	return t
}

// Context is done once the token fired
func (t *Token) Context() context.Context {
	return t.ctx
}

// Cancel fires the token. Safe to call concurrently and repeatedly.
func (t *Token) Cancel() {
	t.cancel(intent.ErrCanceled)
}

// Rearm restarts the idle timer after a completed step
func (t *Token) Rearm() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil && t.ctx.Err() == nil {
		t.timer.Reset(t.idle)
	}
}

// Err returns nil while the token has not fired, otherwise ErrTimeout or ErrCanceled
func (t *Token) Err() error {
	if t.ctx.Err() == nil {
		return nil
	}
	cause := context.Cause(t.ctx)
	switch {
	case errors.Is(cause, intent.ErrTimeout), errors.Is(cause, context.DeadlineExceeded):
		return intent.ErrTimeout
	}
	return intent.ErrCanceled
}

// Release stops the timer and frees the context. Err is meaningless afterwards.
func (t *Token) Release() {
	t.mu.Lock()
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.mu.Unlock()
	t.cancel(errReleased)
}
