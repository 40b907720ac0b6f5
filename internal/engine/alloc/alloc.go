// Package alloc provides the bounded block allocator that backs every
// filter output: a fixed number of in-flight buffers, handed out by Alloc
// and returned by Free, so a producer that outruns its consumer blocks
// instead of growing memory without bound.
package alloc

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/streamgraph-io/streamgraph/pkg/ringqueue"
)

// Recommended pool sizes, mirroring the two presets the original runtime
// shipped: a generous default and a low-latency minimum.
const (
	NumBlocksDefault    = 10
	NumBlocksLowLatency = 2
)

// ErrUnblocked is returned by Alloc once Unblock has been called: the pool
// is shutting down and will hand out no further blocks.
var ErrUnblocked = errors.New("alloc: pool unblocked")

type event int

const (
	eventBlockFree event = iota
	eventExit
)

// Pool is a fixed-capacity pool of interchangeable tokens. A token does not
// carry a payload itself — callers pair an Alloc/Free cycle with whatever
// buffer or sample they actually allocate, the same way the original's
// IAllocator gated allocation of raw memory blocks.
type Pool struct {
	maxBlocks int
	queue     *ringqueue.Queue[event]
	allocated atomic.Int64
	unblocked atomic.Bool
}

// New returns a Pool that can have at most maxBlocks tokens outstanding at
// once. maxBlocks must be at least 1.
func New(maxBlocks int) *Pool {
	if maxBlocks <= 0 {
		panic("alloc: cannot create a pool with 0 blocks")
	}
	p := &Pool{maxBlocks: maxBlocks, queue: ringqueue.New[event]()}
	for i := 0; i < maxBlocks; i++ {
		p.queue.Push(eventBlockFree)
	}
	return p
}

// Alloc blocks until a block is available, ctx is done, or the pool has
// been unblocked.
func (p *Pool) Alloc(ctx context.Context) error {
	if ev, ok := p.queue.TryPop(); ok {
		return p.handle(ev)
	}
	ev, ok := p.queue.Pop(ctx)
	if !ok {
		if err := ctx.Err(); err != nil {
			return err
		}
		return ErrUnblocked
	}
	return p.handle(ev)
}

func (p *Pool) handle(ev event) error {
	switch ev {
	case eventExit:
		// Put the sentinel back so every other blocked or future Alloc
		// also observes the shutdown, instead of consuming it once.
		p.queue.Push(eventExit)
		return ErrUnblocked
	default:
		p.allocated.Add(1)
		return nil
	}
}

// Free returns a previously allocated block to the pool.
func (p *Pool) Free() {
	p.allocated.Add(-1)
	p.queue.Push(eventBlockFree)
}

// Unblock causes every current and future blocked Alloc to return
// ErrUnblocked. Idempotent.
func (p *Pool) Unblock() {
	if p.unblocked.CompareAndSwap(false, true) {
		p.queue.Push(eventExit)
	}
}

// Close releases the pool's internal resources. It panics if blocks are
// still outstanding: a filter that hasn't freed every sample it allocated
// is a programming error, the same fatal assertion the original allocator
// made at destruction time.
func (p *Pool) Close() {
	if n := p.allocated.Load(); n != 0 {
		panic(fmt.Sprintf("alloc: pool closed with %d block(s) still outstanding", n))
	}
	p.queue.Close()
}

// Outstanding returns the number of blocks currently allocated and not yet
// freed.
func (p *Pool) Outstanding() int64 {
	return p.allocated.Load()
}
