package respqueue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetBlocksUntilPush(t *testing.T) {
	q := New[int](2)
	done := make(chan int, 1)
	go func() {
		v, err := q.Get(0)
		if err == nil {
			done <- v
		}
	}()

	time.Sleep(10 * time.Millisecond)
	q.Push(42)

	select {
	case v := <-done:
		assert.Equal(t, 42, v)
	case <-time.After(time.Second):
		t.Fatal("Get never returned")
	}
}

func TestGetTimesOut(t *testing.T) {
	q := New[int](1)
	_, err := q.Get(5 * time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestDrainDiscardsQueuedMessages(t *testing.T) {
	q := New[int](4)
	q.Push(1)
	q.Push(2)
	q.Push(3)
	require.Equal(t, 3, q.Len())

	discarded := q.Drain()
	assert.Equal(t, 3, discarded)
	assert.Equal(t, 0, q.Len())
}

func TestPushReportsDropWhenFull(t *testing.T) {
	q := New[int](1)
	assert.False(t, q.Push(1))
	assert.True(t, q.Push(2))
	assert.Equal(t, 1, q.Len())
}

func TestFIFOOrder(t *testing.T) {
	q := New[int](3)
	q.Push(1)
	q.Push(2)
	q.Push(3)
	for _, want := range []int{1, 2, 3} {
		got, err := q.Get(time.Second)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}
