// Package exec provides the three executor shapes the signal/slot core
// and the filter wrapper submit work to: run it on the caller, run it on
// one dedicated worker, or run it on a shared worker pool.
package exec

import (
	"context"
	"sync"

	"github.com/streamgraph-io/streamgraph/pkg/ringqueue"
)

// Executor runs a submitted function, synchronously or on some worker.
// Submit never blocks the caller past what the implementation documents.
type Executor interface {
	Submit(fn func())
}

// Sync runs every submission on the calling goroutine before returning.
type Sync struct{}

// Submit runs fn synchronously.
func (Sync) Submit(fn func()) { fn() }

func safeCall(fn func()) {
	// A task panicking must not take its worker goroutine down with it:
	// the original pool's run loop wraps every task in a catch-all for
	// the same reason ("should not occur").
	defer func() { recover() }()
	fn()
}

// worker is the shared dedicated-goroutine engine behind Thread and Pool:
// N goroutines draining one FIFO, stopped by pushing one nil sentinel per
// goroutine and joining.
type worker struct {
	queue   *ringqueue.Queue[func()]
	wg      sync.WaitGroup
	closeMu sync.Mutex
	closed  bool
}

func newWorker(count int) *worker {
	w := &worker{queue: ringqueue.New[func()]()}
	w.wg.Add(count)
	for i := 0; i < count; i++ {
		go w.run()
	}
	return w
}

func (w *worker) run() {
	defer w.wg.Done()
	ctx := context.Background()
	for {
		fn, ok := w.queue.Pop(ctx)
		if !ok || fn == nil {
			return
		}
		safeCall(fn)
	}
}

func (w *worker) submit(fn func()) {
	if fn == nil {
		panic("exec: cannot submit a nil function")
	}
	w.queue.Push(fn)
}

// stop pushes one sentinel per worker goroutine, waits for them all to
// exit, then releases the queue. Idempotent.
func (w *worker) stop(count int) {
	w.closeMu.Lock()
	if w.closed {
		w.closeMu.Unlock()
		return
	}
	w.closed = true
	w.closeMu.Unlock()

	for i := 0; i < count; i++ {
		w.queue.Push(nil)
	}
	w.wg.Wait()
	w.queue.Close()
}

// Thread is a single dedicated worker goroutine with an unbounded FIFO.
type Thread struct {
	name string
	w    *worker
}

// NewThread starts a dedicated worker goroutine, labeled name for
// diagnostics.
func NewThread(name string) *Thread {
	return &Thread{name: name, w: newWorker(1)}
}

// Submit enqueues fn to run on the dedicated worker, in submission order.
func (t *Thread) Submit(fn func()) { t.w.submit(fn) }

// Close stops the worker goroutine, pushing a sentinel and joining it.
func (t *Thread) Close() { t.w.stop(1) }

// Pool is N worker goroutines sharing one FIFO.
type Pool struct {
	count int
	w     *worker
}

// NewPool starts count worker goroutines sharing one FIFO.
func NewPool(count int) *Pool {
	if count <= 0 {
		panic("exec: pool needs at least one worker")
	}
	return &Pool{count: count, w: newWorker(count)}
}

// Submit enqueues fn to run on whichever worker picks it up next. Submit
// order is preserved per-consumer, but with count > 1 workers there is no
// guarantee a later submission won't complete before an earlier one.
func (p *Pool) Submit(fn func()) { p.w.submit(fn) }

// Close stops every worker goroutine.
func (p *Pool) Close() { p.w.stop(p.count) }
