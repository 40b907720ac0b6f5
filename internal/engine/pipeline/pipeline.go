// Package pipeline owns a set of filters, wires them together, and drives
// start-up and shutdown: computing which filters are sinks, tracking how
// many of them remain to report end-of-stream, and propagating the first
// exception raised by any filter.
package pipeline

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/streamgraph-io/streamgraph/internal/engine/exec"
	"github.com/streamgraph-io/streamgraph/internal/engine/filter"
	"github.com/streamgraph-io/streamgraph/internal/engine/stats"
)

// CompletionGranularity is how often WaitForEndOfStream re-checks its
// predicate, bounding how long an exception raised between broadcasts can
// go unobserved.
const CompletionGranularity = 200 * time.Millisecond

// ErrUnknownFilter is returned by RemoveModule for a filter this pipeline
// doesn't own.
var ErrUnknownFilter = errors.New("pipeline: filter not owned by this pipeline")

// Threading selects how filters are scheduled.
type Threading int

const (
	// Mono gives the whole pipeline a single cooperative worker.
	Mono Threading = iota + 1
	// OnePerModule gives each filter an independent worker goroutine.
	OnePerModule
)

// Options configures a new Pipeline.
type Options struct {
	Threading Threading
	// Stats, if non-nil, is handed to every added filter for per-input row
	// allocation.
	Stats *stats.Registry
}

// OutputPin identifies one output of a filter.
type OutputPin struct {
	Filter *filter.Filter
	Index  int
}

// InputPin identifies one input of a filter.
type InputPin struct {
	Filter *filter.Filter
	Index  int
}

type edge struct {
	out OutputPin
	in  InputPin
}

// Pipeline owns a vector of filters, computes topology (which filters are
// sinks), and tracks completion/exception state for WaitForEndOfStream.
// Not safe for concurrent Start/Connect/RemoveModule calls from multiple
// goroutines beyond what's documented per method — matching the source's
// "not thread-safe" contract for the public topology-mutating API.
type Pipeline struct {
	mu sync.Mutex

	threading      Threading
	statsReg       *stats.Registry
	sharedExecutor exec.Executor

	filters      []*filter.Filter
	edges        []edge
	nextAutoName int

	started bool
	sinks   map[*filter.Filter]bool

	expectedCompletions  int
	remainingCompletions int

	cond *sync.Cond
	eptr error
}

// New constructs an empty Pipeline. opts.Threading defaults to
// OnePerModule.
func New(opts Options) *Pipeline {
	p := &Pipeline{
		threading: opts.Threading,
		statsReg:  opts.Stats,
		sinks:     make(map[*filter.Filter]bool),
	}
	if p.threading == 0 {
		p.threading = OnePerModule
	}
	if p.threading == Mono {
		p.sharedExecutor = exec.NewThread("pipeline")
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// AddModule wraps mod in a Filter, wires its executor per the threading
// policy, and adds it to the pipeline. name is used for stats-row naming
// and Dump(); an empty name is replaced with an auto-generated one.
func (p *Pipeline) AddModule(name string, mod filter.Module) *filter.Filter {
	p.mu.Lock()
	if name == "" {
		name = fmt.Sprintf("module%d", p.nextAutoName)
	}
	p.nextAutoName++
	executor := p.executorForLocked(name)
	p.mu.Unlock()

	f := filter.New(filter.Config{
		Name:     name,
		Module:   mod,
		Executor: executor,
		Notify:   p,
		Stats:    p.statsReg,
	})

	p.mu.Lock()
	p.filters = append(p.filters, f)
	p.mu.Unlock()
	return f
}

func (p *Pipeline) executorForLocked(name string) exec.Executor {
	if p.threading == Mono {
		return p.sharedExecutor
	}
	return exec.NewThread(name)
}

// Connect wires out to in, subject to allowMultiple. Only legal before
// Start(); use ConnectDynamic to add connections to a running pipeline.
func (p *Pipeline) Connect(out OutputPin, in InputPin, allowMultiple bool) error {
	p.mu.Lock()
	started := p.started
	p.mu.Unlock()
	if started {
		panic("pipeline: Connect called after Start; use ConnectDynamic for runtime topology changes")
	}
	return p.connect(out, in, allowMultiple)
}

// ConnectDynamic wires out to in on an already-started pipeline.
func (p *Pipeline) ConnectDynamic(out OutputPin, in InputPin, allowMultiple bool) error {
	return p.connect(out, in, allowMultiple)
}

func (p *Pipeline) connect(out OutputPin, in InputPin, allowMultiple bool) error {
	if out.Filter == nil || in.Filter == nil {
		return nil // defensive no-op, matching the source's null-pointer tolerance
	}
	if err := in.Filter.Connect(out.Filter.Output(out.Index), in.Index, allowMultiple); err != nil {
		return err
	}

	p.mu.Lock()
	p.edges = append(p.edges, edge{out: out, in: in})
	p.computeTopologyLocked()
	p.mu.Unlock()
	return nil
}

// Disconnect drops the connection between out and in.
func (p *Pipeline) Disconnect(out OutputPin, in InputPin) error {
	if out.Filter == nil || in.Filter == nil {
		return nil
	}
	if err := in.Filter.Disconnect(in.Index, out.Filter.Output(out.Index)); err != nil {
		return err
	}

	p.mu.Lock()
	for i, e := range p.edges {
		if e.out == out && e.in == in {
			p.edges = append(p.edges[:i], p.edges[i+1:]...)
			break
		}
	}
	p.computeTopologyLocked()
	p.mu.Unlock()
	return nil
}

// RemoveModule removes f from the pipeline. f must have no live
// connections; violating this is fatal, matching the source's invariant
// ("only possible when the module is disconnected").
func (p *Pipeline) RemoveModule(f *filter.Filter) error {
	if f.HasConnections() {
		panic(fmt.Sprintf("pipeline: cannot remove filter %s with live connections", f.Name()))
	}

	p.mu.Lock()
	idx := -1
	for i, ff := range p.filters {
		if ff == f {
			idx = i
			break
		}
	}
	if idx < 0 {
		p.mu.Unlock()
		return ErrUnknownFilter
	}
	p.filters = append(p.filters[:idx], p.filters[idx+1:]...)
	p.computeTopologyLocked()
	p.mu.Unlock()

	f.Close()
	return nil
}

// isSink reports whether f has at least one connected input and zero
// connected outputs.
func isSink(f *filter.Filter) bool {
	return f.NumConnectedInputs() > 0 && f.NumConnectedOutputs() == 0
}

// computeTopologyLocked recomputes the sink set and resets the completion
// counters. Caller must hold p.mu.
func (p *Pipeline) computeTopologyLocked() {
	sinks := make(map[*filter.Filter]bool)
	count := 0
	for _, f := range p.filters {
		if isSink(f) {
			sinks[f] = true
			count++
		}
	}
	p.sinks = sinks
	p.expectedCompletions = count
	p.remainingCompletions = count
}

// Start computes topology and starts every source filter.
func (p *Pipeline) Start() {
	p.mu.Lock()
	p.computeTopologyLocked()
	p.started = true
	filters := append([]*filter.Filter(nil), p.filters...)
	p.mu.Unlock()

	for _, f := range filters {
		if f.IsSource() {
			f.StartSource()
		}
	}
}

// WaitForEndOfStream blocks until every sink has reported end-of-stream, or
// a filter raised an exception. On exception, it calls ExitSync and
// returns the (wrapped) error.
func (p *Pipeline) WaitForEndOfStream() error {
	p.mu.Lock()
	for p.remainingCompletions > 0 && p.eptr == nil {
		p.waitTimeoutLocked(CompletionGranularity)
	}
	err := p.eptr
	p.mu.Unlock()

	if err != nil {
		p.ExitSync()
		return err
	}
	return nil
}

// waitTimeoutLocked waits on the condition variable, guaranteeing a wakeup
// at least every d even with no Broadcast, so an exception captured between
// signals is still observed promptly. Caller must hold p.mu; Cond.Wait
// releases and reacquires it.
func (p *Pipeline) waitTimeoutLocked(d time.Duration) {
	timer := time.AfterFunc(d, func() {
		p.mu.Lock()
		p.cond.Broadcast()
		p.mu.Unlock()
	})
	p.cond.Wait()
	timer.Stop()
}

// ExitSync asks every source to stop; this propagates through the graph as
// ordinary end-of-stream.
func (p *Pipeline) ExitSync() {
	p.mu.Lock()
	filters := append([]*filter.Filter(nil), p.filters...)
	p.mu.Unlock()

	for _, f := range filters {
		if f.IsSource() {
			f.StopSource()
		}
	}
}

// EndOfStream implements filter.Notifier: if f is (still) a sink, it
// decrements the remaining-completion count and wakes any waiter.
func (p *Pipeline) EndOfStream(f *filter.Filter) {
	p.mu.Lock()
	if p.sinks[f] && p.remainingCompletions > 0 {
		p.remainingCompletions--
	}
	p.cond.Broadcast()
	p.mu.Unlock()
}

// Exception implements filter.Notifier: captures the first exception
// raised by any filter and wakes any waiter.
func (p *Pipeline) Exception(f *filter.Filter, err error) {
	p.mu.Lock()
	if p.eptr == nil {
		p.eptr = fmt.Errorf("filter %s: %w", f.Name(), err)
	}
	p.cond.Broadcast()
	p.mu.Unlock()
}

// Dump renders the pipeline's filters and connections as a DOT-language
// graph.
func (p *Pipeline) Dump() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	var b strings.Builder
	b.WriteString("digraph pipeline {\n")
	for _, f := range p.filters {
		b.WriteString(fmt.Sprintf("  %q;\n", f.Name()))
	}
	for _, e := range p.edges {
		b.WriteString(fmt.Sprintf("  %q -> %q [label=%q];\n",
			e.out.Filter.Name(), e.in.Filter.Name(),
			fmt.Sprintf("%d->%d", e.out.Index, e.in.Index)))
	}
	b.WriteString("}\n")
	return b.String()
}
