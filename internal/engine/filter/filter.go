// Package filter wraps a user processing Module with an owned executor,
// lazily-realized input ports, end-of-stream accounting and exception
// forwarding to the owning pipeline.
package filter

import (
	"context"
	"fmt"
	"sync"

	"github.com/streamgraph-io/streamgraph/internal/engine/exec"
	"github.com/streamgraph-io/streamgraph/internal/engine/port"
	"github.com/streamgraph-io/streamgraph/internal/engine/sample"
	"github.com/streamgraph-io/streamgraph/internal/engine/stats"
)

// InputSpec describes one declared input of a Module.
type InputSpec struct {
	AcceptMultiple  bool
	HasDeclaredKind bool
	DeclaredKind    sample.Kind
	// Loose marks an auto-declared input used only to trigger a source's
	// activation; it never carries real stream data.
	Loose bool
}

// Module is the user processing capability a Filter wraps. A Module does
// not own its Inputs: the Filter lazily realizes a port.Input per declared
// index and drives it, calling back into the module only to do the actual
// processing work.
type Module interface {
	NumInputs() int
	NumOutputs() int
	Output(i int) *port.Output
	InputSpec(i int) InputSpec
	// ProcessInput handles one non-EOS sample dispatched on input i.
	ProcessInput(i int, s *sample.Sample) error
	// ProcessSource drives one tick of a source module (NumInputs() == 0,
	// or a single loose input). done reports the module is exhausted and
	// the source loop should stop rescheduling itself.
	ProcessSource() (done bool, err error)
	Flush() error
}

// Notifier is how a Filter reports terminal conditions to its owning
// pipeline controller.
type Notifier interface {
	EndOfStream(f *Filter)
	Exception(f *Filter, err error)
}

// Config configures a new Filter.
type Config struct {
	Name     string
	Module   Module
	Executor exec.Executor
	Notify   Notifier
	// Stats, if non-nil, is used to allocate one row per realized input,
	// named "<Name>.input<i>".
	Stats *stats.Registry
}

// Filter wraps a Module with an owned executor, lazily-realized Inputs,
// EOS accounting and exception forwarding.
type Filter struct {
	name     string
	module   Module
	executor exec.Executor
	notify   Notifier
	statsReg *stats.Registry

	ctx    context.Context
	cancel context.CancelFunc

	mu                  sync.Mutex
	inputs              []*port.Input
	expectedCompletions int
	eosCount            int
	sourceStarted       bool
	stopped             bool
}

// New constructs a Filter per cfg. No Inputs are realized yet.
func New(cfg Config) *Filter {
	ctx, cancel := context.WithCancel(context.Background())
	return &Filter{
		name:     cfg.Name,
		module:   cfg.Module,
		executor: cfg.Executor,
		notify:   cfg.Notify,
		statsReg: cfg.Stats,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Name returns the filter's name, used for stats row naming and Dump().
func (f *Filter) Name() string { return f.name }

// NumInputs delegates to the wrapped module.
func (f *Filter) NumInputs() int { return f.module.NumInputs() }

// NumOutputs delegates to the wrapped module.
func (f *Filter) NumOutputs() int { return f.module.NumOutputs() }

// Output returns the module's output i.
func (f *Filter) Output(i int) *port.Output { return f.module.Output(i) }

// Input lazily realizes (on first call) and returns the port.Input mirroring
// the module's declared input i, wired to dispatch through this filter's
// executor and driven by a dedicated pop loop.
func (f *Filter) Input(i int) *port.Input {
	f.mu.Lock()
	defer f.mu.Unlock()
	for len(f.inputs) <= i {
		f.inputs = append(f.inputs, nil)
	}
	if f.inputs[i] == nil {
		f.inputs[i] = f.newInput(i)
	}
	return f.inputs[i]
}

func (f *Filter) newInput(i int) *port.Input {
	spec := f.module.InputSpec(i)

	var row *stats.Row
	if f.statsReg != nil {
		if r, err := f.statsReg.AllocateRow(fmt.Sprintf("%s.input%d", f.name, i)); err == nil {
			row = r
		}
	}

	in := port.NewInput(port.Config{
		Executor:        f.executor,
		AcceptMultiple:  spec.AcceptMultiple,
		HasDeclaredKind: spec.HasDeclaredKind,
		DeclaredKind:    spec.DeclaredKind,
		StatsRow:        row,
		OnSample: func(s *sample.Sample) error {
			return f.safeProcessInput(i, s)
		},
		OnEOS: func() {
			f.handleInputEOS()
		},
		OnError: func(err error) {
			f.fail(err)
		},
	})

	ctx := f.ctx
	go func() {
		for in.Process(ctx) {
		}
	}()
	return in
}

// IsSource reports whether the module declares zero inputs, or a single
// loose input used only to trigger activation.
func (f *Filter) IsSource() bool {
	n := f.module.NumInputs()
	if n == 0 {
		return true
	}
	if n == 1 && f.module.InputSpec(0).Loose {
		return true
	}
	return false
}

// StartSource sets the expected-completion count to 1 and submits the
// source's processing loop on the executor. Idempotent, and a no-op if
// the filter isn't a source.
func (f *Filter) StartSource() {
	f.mu.Lock()
	if !f.IsSource() || f.sourceStarted {
		f.mu.Unlock()
		return
	}
	f.sourceStarted = true
	f.expectedCompletions = 1
	f.mu.Unlock()
	f.executor.Submit(f.runSourceTick)
}

// StopSource sets a flag observed by the source's processing loop at its
// next iteration, after which it reports end-of-stream instead of
// rescheduling itself.
func (f *Filter) StopSource() {
	f.mu.Lock()
	f.stopped = true
	f.mu.Unlock()
}

func (f *Filter) runSourceTick() {
	f.mu.Lock()
	stopped := f.stopped
	f.mu.Unlock()
	if stopped {
		f.handleInputEOS()
		return
	}

	done, err := f.safeProcessSource()
	if err != nil {
		f.fail(err)
		return
	}
	if done {
		f.handleInputEOS()
		return
	}
	f.executor.Submit(f.runSourceTick)
}

// Connect subscribes output to input index idx. allowMultiple widens the
// input's multi-fan-in policy for this and future connections. Records one
// more expected completion.
func (f *Filter) Connect(output *port.Output, idx int, allowMultiple bool) error {
	in := f.Input(idx)
	if allowMultiple {
		in.SetAcceptMultiple(true)
	}
	if err := output.Connect(in); err != nil {
		return err
	}
	f.mu.Lock()
	f.expectedCompletions++
	f.mu.Unlock()
	return nil
}

// Disconnect drops output's subscription to input index idx and decrements
// the expected-completion count.
func (f *Filter) Disconnect(idx int, output *port.Output) error {
	in := f.Input(idx)
	if err := output.Disconnect(in); err != nil {
		return err
	}
	f.mu.Lock()
	if f.expectedCompletions > 0 {
		f.expectedCompletions--
	}
	f.mu.Unlock()
	return nil
}

// NumConnectedInputs counts realized Inputs with at least one connected
// Output. Never forces realization of a declared-but-unqueried input.
func (f *Filter) NumConnectedInputs() int {
	f.mu.Lock()
	inputs := append([]*port.Input(nil), f.inputs...)
	f.mu.Unlock()
	n := 0
	for _, in := range inputs {
		if in != nil && in.NumConnections() > 0 {
			n++
		}
	}
	return n
}

// NumConnectedOutputs counts the module's outputs with at least one
// connected Input.
func (f *Filter) NumConnectedOutputs() int {
	n := 0
	for i := 0; i < f.module.NumOutputs(); i++ {
		if f.module.Output(i).NumConnections() > 0 {
			n++
		}
	}
	return n
}

// HasConnections reports whether any input or output currently has a live
// connection.
func (f *Filter) HasConnections() bool {
	return f.NumConnectedInputs() > 0 || f.NumConnectedOutputs() > 0
}

// Close releases the filter's background input-pop goroutines. Called by
// the owning pipeline on removal or teardown.
func (f *Filter) Close() {
	f.cancel()
	f.mu.Lock()
	inputs := append([]*port.Input(nil), f.inputs...)
	f.mu.Unlock()
	for _, in := range inputs {
		if in != nil {
			in.Close()
		}
	}
}

func (f *Filter) handleInputEOS() {
	f.mu.Lock()
	f.eosCount++
	eos := f.eosCount
	expected := f.expectedCompletions
	f.mu.Unlock()

	if eos > expected {
		panic(fmt.Sprintf("filter %s: eos_count %d exceeds expected completions %d", f.name, eos, expected))
	}
	if eos == expected {
		f.finish()
	}
}

func (f *Filter) finish() {
	if err := f.safeFlush(); err != nil && f.notify != nil {
		f.notify.Exception(f, err)
	}
	for i := 0; i < f.module.NumOutputs(); i++ {
		f.module.Output(i).Post(nil)
	}
	if f.notify != nil {
		f.notify.EndOfStream(f)
	}
}

func (f *Filter) fail(err error) {
	f.mu.Lock()
	already := f.stopped
	f.stopped = true
	f.mu.Unlock()
	if already {
		return
	}
	f.cancel()
	if f.notify != nil {
		f.notify.Exception(f, err)
	}
}

func (f *Filter) safeProcessInput(i int, s *sample.Sample) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("filter %s: input %d processing panicked: %v", f.name, i, r)
		}
	}()
	return f.module.ProcessInput(i, s)
}

func (f *Filter) safeProcessSource() (done bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("filter %s: source processing panicked: %v", f.name, r)
		}
	}()
	return f.module.ProcessSource()
}

func (f *Filter) safeFlush() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("filter %s: flush panicked: %v", f.name, r)
		}
	}()
	return f.module.Flush()
}
