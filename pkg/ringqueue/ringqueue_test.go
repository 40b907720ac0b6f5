package ringqueue_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamgraph-io/streamgraph/pkg/ringqueue"
)

func TestPushTryPopFIFOOrder(t *testing.T) {
	q := ringqueue.New[int]()
	q.Push(1)
	q.Push(2)
	q.Push(3)
	require.Equal(t, 3, q.Len())

	v, ok := q.TryPop()
	require.True(t, ok)
	assert.Equal(t, 1, v)

	v, ok = q.TryPop()
	require.True(t, ok)
	assert.Equal(t, 2, v)
}

func TestTryPopEmptyReturnsFalse(t *testing.T) {
	q := ringqueue.New[string]()
	_, ok := q.TryPop()
	assert.False(t, ok)
}

func TestPopBlocksUntilPush(t *testing.T) {
	q := ringqueue.New[int]()
	result := make(chan int, 1)
	go func() {
		v, ok := q.Pop(context.Background())
		if ok {
			result <- v
		}
	}()

	select {
	case <-result:
		t.Fatal("Pop returned before a Push")
	case <-time.After(20 * time.Millisecond):
	}

	q.Push(42)
	select {
	case v := <-result:
		assert.Equal(t, 42, v)
	case <-time.After(time.Second):
		t.Fatal("Pop never woke up")
	}
}

func TestPopUnblocksOnClose(t *testing.T) {
	q := ringqueue.New[int]()
	done := make(chan bool, 1)
	go func() {
		_, ok := q.Pop(context.Background())
		done <- ok
	}()
	time.Sleep(10 * time.Millisecond)
	q.Close()
	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Pop never unblocked on Close")
	}
}

func TestPopUnblocksOnContextCancel(t *testing.T) {
	q := ringqueue.New[int]()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan bool, 1)
	go func() {
		_, ok := q.Pop(ctx)
		done <- ok
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()
	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Pop never unblocked on cancel")
	}
}

func TestPushAfterCloseIsNoOp(t *testing.T) {
	q := ringqueue.New[int]()
	q.Close()
	q.Push(1)
	assert.Equal(t, 0, q.Len())
}
