package channel

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBounded_InvalidCapacity(t *testing.T) {
	_, err := New[int](0)
	assert.Error(t, err)
	_, err = New[int](-3)
	assert.Error(t, err)
	assert.Panics(t, func() { MustNew[int](0) })
}

func TestBounded_FIFO(t *testing.T) {
	ctx := context.Background()
	for capacity := 1; capacity <= 8; capacity++ {
		for n := 0; n <= capacity; n++ {
			c := MustNew[int](capacity)
			for i := 0; i < n; i++ {
				require.NoError(t, c.Push(ctx, i))
			}
			assert.Equal(t, n, c.Len())
			for i := 0; i < n; i++ {
				v, err := c.Pop(ctx)
				require.NoError(t, err)
				assert.Equal(t, i, v, "capacity=%d n=%d", capacity, n)
			}
		}
	}
}

func TestBounded_FIFOAcrossWraparound(t *testing.T) {
	ctx := context.Background()
	c := MustNew[int](3)
	done := make(chan []int)
	go func() {
		var got []int
		for {
			v, err := c.Pop(ctx)
			if err == io.EOF {
				done <- got
				return
			}
			got = append(got, v)
		}
	}()

	var want []int
	for i := 0; i < 100; i++ {
		require.NoError(t, c.Push(ctx, i))
		want = append(want, i)
	}
	c.Close()
	assert.Equal(t, want, <-done)
}

func TestBounded_FullPushBlocksUntilPop(t *testing.T) {
	ctx := context.Background()
	c := MustNew[string](2)
	require.NoError(t, c.Push(ctx, "a"))
	require.NoError(t, c.Push(ctx, "b"))

	pushed := make(chan error, 1)
	go func() { pushed <- c.Push(ctx, "c") }()

	select {
	case err := <-pushed:
		t.Fatalf("push on full channel returned early: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	v, err := c.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", v)

	select {
	case err := <-pushed:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("push did not resume after pop")
	}
	assert.Equal(t, 2, c.Len())
}

func TestBounded_CancelUnblocksPush(t *testing.T) {
	ctx := context.Background()
	c := MustNew[int](1)
	require.NoError(t, c.Push(ctx, 1))

	pushed := make(chan error, 1)
	go func() { pushed <- c.Push(ctx, 2) }()
	time.Sleep(20 * time.Millisecond)
	c.Cancel()

	select {
	case err := <-pushed:
		assert.ErrorIs(t, err, ErrCanceled)
	case <-time.After(time.Second):
		t.Fatal("cancel did not unblock push")
	}

	_, err := c.Pop(ctx)
	assert.ErrorIs(t, err, ErrCanceled)
	assert.ErrorIs(t, c.Push(ctx, 3), ErrCanceled)
	assert.True(t, c.Canceled())
	assert.Equal(t, 0, c.Len())
}

func TestBounded_CancelUnblocksPop(t *testing.T) {
	ctx := context.Background()
	c := MustNew[int](4)
	popped := make(chan error, 1)
	go func() {
		_, err := c.Pop(ctx)
		popped <- err
	}()
	time.Sleep(20 * time.Millisecond)
	c.Cancel()
	c.Cancel()

	select {
	case err := <-popped:
		assert.ErrorIs(t, err, ErrCanceled)
	case <-time.After(time.Second):
		t.Fatal("cancel did not unblock pop")
	}
}

func TestBounded_CloseDrainsThenEOF(t *testing.T) {
	ctx := context.Background()
	c := MustNew[int](4)
	require.NoError(t, c.Push(ctx, 1))
	require.NoError(t, c.Push(ctx, 2))
	c.Close()
	c.Close()
	assert.True(t, c.Closed())
	assert.ErrorIs(t, c.Push(ctx, 3), ErrClosed)

	v, err := c.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	v, err = c.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, v)
	_, err = c.Pop(ctx)
	assert.ErrorIs(t, err, io.EOF)
	_, err = c.Pop(ctx)
	assert.ErrorIs(t, err, io.EOF)
}

func TestBounded_CloseWakesBlockedPop(t *testing.T) {
	c := MustNew[int](1)
	popped := make(chan error, 1)
	go func() {
		_, err := c.Pop(context.Background())
		popped <- err
	}()
	time.Sleep(20 * time.Millisecond)
	c.Close()
	select {
	case err := <-popped:
		assert.ErrorIs(t, err, io.EOF)
	case <-time.After(time.Second):
		t.Fatal("close did not wake pop")
	}
}

func TestBounded_ContextCancel(t *testing.T) {
	c := MustNew[int](1)
	require.NoError(t, c.Push(context.Background(), 1))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := c.Push(ctx, 2)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// the channel itself is untouched
	assert.False(t, c.Canceled())
	v, err := c.Pop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	ctx2, cancel2 := context.WithCancel(context.Background())
	cancel2()
	_, err = c.Pop(ctx2)
	assert.ErrorIs(t, err, context.Canceled)
}
