package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutTakeOrdering(t *testing.T) {
	q := NewBounded[int](10)
	for i := 0; i < 5; i++ {
		require.NoError(t, q.Put(context.Background(), i))
	}

	for i := 0; i < 5; i++ {
		v, ok := q.Take(time.Second)
		require.True(t, ok)
		assert.Equal(t, i, v)
	}

	_, ok := q.Take(10 * time.Millisecond)
	assert.False(t, ok)
}

func TestBackpressure(t *testing.T) {
	q := NewBounded[int](4)
	for i := 0; i < 4; i++ {
		require.NoError(t, q.Put(context.Background(), i))
	}

	blocked := make(chan error, 1)
	go func() {
		blocked <- q.Put(context.Background(), 4)
	}()

	select {
	case <-blocked:
		t.Fatal("5th put should block on a full queue")
	case <-time.After(100 * time.Millisecond):
	}

	// A single take unblocks exactly one put.
	v, ok := q.Take(time.Second)
	require.True(t, ok)
	assert.Equal(t, 0, v)

	select {
	case err := <-blocked:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("put did not unblock after a take")
	}

	// Order is preserved across the blocking handoff.
	for want := 1; want <= 4; want++ {
		v, ok := q.Take(time.Second)
		require.True(t, ok)
		assert.Equal(t, want, v)
	}
}

func TestPutHonorsContextCancellation(t *testing.T) {
	q := NewBounded[int](1)
	require.NoError(t, q.Put(context.Background(), 0))

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() {
		result <- q.Put(ctx, 1)
	}()

	cancel()
	select {
	case err := <-result:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancelled put did not return")
	}
}

func TestDrain(t *testing.T) {
	q := NewBounded[int](10)
	for i := 0; i < 6; i++ {
		require.NoError(t, q.Put(context.Background(), i))
	}

	assert.Equal(t, []int{0, 1, 2, 3}, q.Drain(4))
	assert.Equal(t, []int{4, 5}, q.Drain(10))
	assert.Nil(t, q.Drain(10))
}

func TestCloseWakesProducerAndConsumer(t *testing.T) {
	q := NewBounded[int](1)
	require.NoError(t, q.Put(context.Background(), 0))

	putResult := make(chan error, 1)
	go func() {
		putResult <- q.Put(context.Background(), 1)
	}()
	time.Sleep(50 * time.Millisecond)
	q.Close()

	select {
	case err := <-putResult:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("blocked put did not observe close")
	}

	// Elements enqueued before close stay takeable.
	v, ok := q.Take(time.Second)
	require.True(t, ok)
	assert.Equal(t, 0, v)

	// A closed empty queue returns immediately.
	start := time.Now()
	_, ok = q.Take(5 * time.Second)
	assert.False(t, ok)
	assert.Less(t, time.Since(start), time.Second)
}
