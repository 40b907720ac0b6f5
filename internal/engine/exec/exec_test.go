package exec_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamgraph-io/streamgraph/internal/engine/exec"
)

func TestSyncRunsOnCaller(t *testing.T) {
	var ran bool
	exec.Sync{}.Submit(func() { ran = true })
	assert.True(t, ran)
}

func TestThreadRunsSubmissionsInOrder(t *testing.T) {
	th := exec.NewThread("test")
	defer th.Close()

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	wg.Add(5)
	for i := 0; i < 5; i++ {
		i := i
		th.Submit(func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			wg.Done()
		})
	}
	wg.Wait()
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestThreadSurvivesPanickingTask(t *testing.T) {
	th := exec.NewThread("test")
	defer th.Close()

	th.Submit(func() { panic("boom") })

	done := make(chan struct{})
	th.Submit(func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not survive a panicking task")
	}
}

func TestPoolDistributesAcrossWorkers(t *testing.T) {
	p := exec.NewPool(4)
	defer p.Close()

	var count atomic.Int64
	var wg sync.WaitGroup
	wg.Add(20)
	for i := 0; i < 20; i++ {
		p.Submit(func() {
			count.Add(1)
			wg.Done()
		})
	}
	wg.Wait()
	assert.EqualValues(t, 20, count.Load())
}

func TestCloseIsIdempotent(t *testing.T) {
	th := exec.NewThread("test")
	th.Close()
	require.NotPanics(t, func() { th.Close() })
}
