package wit

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/rojolang/rintento-go/pkg/intent"
)

// ErrPending is returned by Result before completion
var ErrPending = errors.New("wit: recognition pending")

// PendingState is the lifecycle state of a recognition
type PendingState string

const (
	Pending   PendingState = "pending"
	Completed PendingState = "completed"
	Canceled  PendingState = "canceled"
)

// Callback receives the outcome of a recognition
type Callback func(utterances intent.Utterances, err error)

// PendingRecognition is a cancelable handle over one in-flight session.
// Exactly one transition out of Pending happens and Done closes exactly once.
type PendingRecognition struct {
	ID string

	session Session
	cancel  context.CancelCauseFunc
	done    chan struct{}

	mu         sync.Mutex
	state      PendingState
	utterances intent.Utterances
	err        error
}

// run is the body executed for the session, usually Session.Run behind a semaphore
type runFunc func(ctx context.Context, id string) (intent.Utterances, error)

func startPending(parent context.Context, s Session, run runFunc, executor Executor, callback Callback) *PendingRecognition {
	ctx, cancel := context.WithCancelCause(parent)
	p := &PendingRecognition{
		ID:      uuid.NewString(),
		session: s,
		cancel:  cancel,
		done:    make(chan struct{}),
		state:   Pending,
	}
	if executor == nil {
		executor = Async
	}
	go func() {
		defer cancel(nil)
		utterances, err := run(ctx, p.ID)
		utterances, err = p.complete(utterances, err)
		if callback != nil {
			executor.Execute(func() { callback(utterances, err) })
		}
	}()
	return p
}

// Start wraps arbitrary recognition work in a pending handle. Callback and
// executor options apply; the state observer does not.
func Start(parent context.Context, run func(ctx context.Context) (intent.Utterances, error), opts ...RecognizeOption) *PendingRecognition {
	var o recognizeOptions
	for _, opt := range opts {
		opt(&o)
	}
	wrapped := func(ctx context.Context, _ string) (intent.Utterances, error) {
		return run(ctx)
	}
	return startPending(parent, nil, wrapped, o.executor, o.callback)
}

func (p *PendingRecognition) complete(utterances intent.Utterances, err error) (intent.Utterances, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == Canceled {
		utterances, err = nil, intent.ErrCanceled
	} else {
		p.state = Completed
	}
	p.utterances, p.err = utterances, err
	close(p.done)
	return utterances, err
}

// Cancel requests cancellation. It is a no-op once the recognition completed.
func (p *PendingRecognition) Cancel() {
	p.mu.Lock()
	if p.state != Pending {
		p.mu.Unlock()
		return
	}
	p.state = Canceled
	p.mu.Unlock()
	p.cancel(intent.ErrCanceled)
}

// Done is closed once the result is available
func (p *PendingRecognition) Done() <-chan struct{} {
	return p.done
}

func (p *PendingRecognition) State() PendingState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Session returns the underlying session, for state inspection
func (p *PendingRecognition) Session() Session {
	return p.session
}

// Result returns the outcome, or ErrPending while the session runs
func (p *PendingRecognition) Result() (intent.Utterances, error) {
	select {
	case <-p.done:
	default:
		return nil, ErrPending
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.utterances, p.err
}

// Wait blocks until the result is available or ctx is done
func (p *PendingRecognition) Wait(ctx context.Context) (intent.Utterances, error) {
	select {
	case <-p.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return p.Result()
}
