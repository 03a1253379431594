// Package channel provides a fixed-capacity FIFO connecting one producer to
// one consumer with backpressure, end-of-stream and cancellation signaling.
package channel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
)

var (
	// ErrCanceled is returned by every operation once Cancel was called.
	ErrCanceled = errors.New("channel: canceled")
	// ErrClosed is returned by Push after Close.
	ErrClosed = errors.New("channel: closed")
)

// Bounded holds at most Cap items that were pushed but not yet popped.
//
// Pop returns io.EOF once the channel is closed and drained. Cancel wakes all
// blocked operations and makes every later one fail with ErrCanceled, even
// when items remain buffered.
type Bounded[T any] struct {
	mu       sync.Mutex
	items    []T
	head     int
	size     int
	closed   bool
	canceled bool
	// changed is closed and replaced on every state change
	changed chan struct{}
}

// New creates a channel holding up to capacity items
func New[T any](capacity int) (*Bounded[T], error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("channel: capacity must be positive, got %d", capacity)
	}
	return &Bounded[T]{
		items:   make([]T, capacity),
		changed: make(chan struct{}),
	}, nil
}

// MustNew is like New but panics on invalid capacity
func MustNew[T any](capacity int) *Bounded[T] {
	c, err := New[T](capacity)
	if err != nil {
		panic(err)
	}
	return c
}

// Push appends item, blocking while the channel is full.
func (c *Bounded[T]) Push(ctx context.Context, item T) error {
	for {
		c.mu.Lock()
		if c.canceled {
			c.mu.Unlock()
			return ErrCanceled
		}
		if c.closed {
			c.mu.Unlock()
			return ErrClosed
		}
		if c.size < len(c.items) {
			c.items[(c.head+c.size)%len(c.items)] = item
			c.size++
			c.notifyLocked()
			c.mu.Unlock()
			return nil
		}
		wait := c.changed
		c.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Pop removes the oldest item, blocking while the channel is empty.
func (c *Bounded[T]) Pop(ctx context.Context) (T, error) {
	var zero T
	for {
		c.mu.Lock()
		if c.canceled {
			c.mu.Unlock()
			return zero, ErrCanceled
		}
		if c.size > 0 {
			item := c.items[c.head]
			c.items[c.head] = zero
			c.head = (c.head + 1) % len(c.items)
			c.size--
			c.notifyLocked()
			c.mu.Unlock()
			return item, nil
		}
		if c.closed {
			c.mu.Unlock()
			return zero, io.EOF
		}
		wait := c.changed
		c.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

// Close marks the end of the stream. Buffered items can still be popped.
func (c *Bounded[T]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.notifyLocked()
}

// Cancel aborts the channel, dropping buffered items.
func (c *Bounded[T]) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.canceled {
		return
	}
	c.canceled = true
	var zero T
	for i := range c.items {
		c.items[i] = zero
	}
	c.size = 0
	c.notifyLocked()
}

func (c *Bounded[T]) notifyLocked() {
	close(c.changed)
	c.changed = make(chan struct{})
}

// Len returns the number of buffered items
func (c *Bounded[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

func (c *Bounded[T]) Cap() int {
	return len(c.items)
}

func (c *Bounded[T]) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Bounded[T]) Canceled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.canceled
}
