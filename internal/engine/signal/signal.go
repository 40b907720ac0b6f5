// Package signal implements the signal/slot primitive that the core's
// ports build on: an ordered map from subscription id to a bound
// (executor, callback) pair, with emit submitting each callback to its
// own executor.
package signal

import (
	"github.com/streamgraph-io/streamgraph/internal/engine/exec"
	"github.com/streamgraph-io/streamgraph/pkg/ordermap"
)

// Callback is a subscriber function over a single argument of type Arg.
type Callback[Arg any] func(Arg)

type subscription[Arg any] struct {
	executor exec.Executor
	callback Callback[Arg]
}

// Signal is an ordered collection of subscribers, each bound to the
// executor it was connected with. A Signal with a zero value default
// executor dispatches synchronously; construct with New to pick another
// default.
type Signal[Arg any] struct {
	subs            ordermap.Map[subscription[Arg]]
	defaultExecutor exec.Executor
}

// New returns a Signal whose subscribers connected without an explicit
// executor run on defaultExecutor. A nil defaultExecutor falls back to
// Sync, running inline.
func New[Arg any](defaultExecutor exec.Executor) *Signal[Arg] {
	if defaultExecutor == nil {
		defaultExecutor = exec.Sync{}
	}
	return &Signal[Arg]{defaultExecutor: defaultExecutor}
}

// Connect appends cb, dispatched on executor when emitted. Returns a
// connection id usable with Disconnect. If executor is nil, the signal's
// default executor is used.
func (s *Signal[Arg]) Connect(cb Callback[Arg], executor exec.Executor) int {
	if executor == nil {
		executor = s.defaultExecutor
	}
	return s.subs.Insert(subscription[Arg]{executor: executor, callback: cb})
}

// Disconnect removes the subscription with the given id, reporting
// whether it was present.
func (s *Signal[Arg]) Disconnect(id int) bool {
	return s.subs.Delete(id)
}

// DisconnectAll removes every subscription.
func (s *Signal[Arg]) DisconnectAll() {
	s.subs.Clear()
}

// NumConnections returns the number of current subscribers.
func (s *Signal[Arg]) NumConnections() int {
	return s.subs.Len()
}

// Emit submits arg to every current subscriber's executor, in connect
// order, and returns the number of subscribers notified. Individual
// executors define the observable completion order thereafter.
func (s *Signal[Arg]) Emit(arg Arg) int {
	n := 0
	s.subs.Range(func(_ int, sub subscription[Arg]) {
		n++
		cb := sub.callback
		sub.executor.Submit(func() { cb(arg) })
	})
	return n
}
