// Package port implements the Output/Input pair every filter exposes:
// Output adapts a signal whose emitted value is a Sample (or nil for
// end-of-stream); Input owns a FIFO queue plus the owning filter's
// executor reference and drives dispatch into the filter.
package port

import (
	"context"
	"errors"
	"sync"

	"github.com/streamgraph-io/streamgraph/internal/engine/exec"
	"github.com/streamgraph-io/streamgraph/internal/engine/sample"
	"github.com/streamgraph-io/streamgraph/internal/engine/signal"
	"github.com/streamgraph-io/streamgraph/internal/engine/stats"
	"github.com/streamgraph-io/streamgraph/pkg/ringqueue"
)

var (
	// ErrAlreadyConnected is returned by Output.Connect when the input is
	// already a subscriber of that output.
	ErrAlreadyConnected = errors.New("port: input already connected to this output")
	// ErrNotConnected is returned by Output.Disconnect when the input
	// isn't currently a subscriber.
	ErrNotConnected = errors.New("port: input not connected to this output")
	// ErrMultipleConnectionsNotAllowed is returned connecting a second
	// output to an input that didn't opt into multi-fan-in.
	ErrMultipleConnectionsNotAllowed = errors.New("port: input does not accept multiple connections")
	// ErrMetadataMismatch is returned when the output's declared stream
	// kind disagrees with what the input expects.
	ErrMetadataMismatch = errors.New("port: output and input metadata kinds are incompatible")
	// ErrMetadataSet is returned when Output.SetMetadata is called twice.
	ErrMetadataSet = errors.New("port: metadata already set")
)

// Output is an adapter over a signal whose emitted type is *sample.Sample
// (nil denoting end-of-stream), plus the declared metadata of the stream
// it produces.
type Output struct {
	mu          sync.Mutex
	metadata    *sample.Metadata
	metadataSet bool
	sig         *signal.Signal[*sample.Sample]
	conns       map[*Input]int
}

// NewOutput returns an unconnected Output with no declared metadata.
func NewOutput() *Output {
	return &Output{
		sig:   signal.New[*sample.Sample](exec.Sync{}),
		conns: make(map[*Input]int),
	}
}

// SetMetadata declares the stream's metadata, once. Samples subsequently
// posted are expected to carry metadata equal to this declaration.
func (o *Output) SetMetadata(m *sample.Metadata) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.metadataSet {
		return ErrMetadataSet
	}
	o.metadata = m
	o.metadataSet = true
	return nil
}

// Metadata returns the declared metadata, or nil if none was set.
func (o *Output) Metadata() *sample.Metadata {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.metadata
}

// Connect subscribes in to this output. Delivery runs on the caller's
// goroutine (the poster's thread), matching the ordering guarantee that
// an input's enqueue happens synchronously with Post. Fails if in already
// has a non-multi-fan-in connection, or if both sides declare an
// incompatible stream kind.
func (o *Output) Connect(in *Input) error {
	if err := checkMetadataCompat(o.Metadata(), in); err != nil {
		return err
	}
	if err := in.addConnection(); err != nil {
		return err
	}

	o.mu.Lock()
	if _, ok := o.conns[in]; ok {
		o.mu.Unlock()
		in.removeConnection()
		return ErrAlreadyConnected
	}
	id := o.sig.Connect(func(s *sample.Sample) { in.Push(s) }, exec.Sync{})
	o.conns[in] = id
	o.mu.Unlock()
	return nil
}

// Disconnect removes in's subscription.
func (o *Output) Disconnect(in *Input) error {
	o.mu.Lock()
	id, ok := o.conns[in]
	if ok {
		delete(o.conns, in)
	}
	o.mu.Unlock()
	if !ok {
		return ErrNotConnected
	}
	o.sig.Disconnect(id)
	in.removeConnection()
	return nil
}

// NumConnections returns the number of subscribed inputs.
func (o *Output) NumConnections() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.conns)
}

// Post emits s to every connected input, in connect order. Posting nil
// signals end-of-stream on this output.
func (o *Output) Post(s *sample.Sample) int {
	return o.sig.Emit(s)
}

func checkMetadataCompat(outMeta *sample.Metadata, in *Input) error {
	in.mu.Lock()
	declared := in.hasDeclaredKind
	kind := in.declaredKind
	in.mu.Unlock()

	if outMeta == nil || !declared {
		return nil
	}
	if outMeta.Kind != kind {
		return ErrMetadataMismatch
	}
	return nil
}

// Config constructs an Input bound to its owning filter's executor and
// dispatch hooks.
type Config struct {
	// Executor is the owning filter's executor; Process submits the
	// per-sample work (or the EOS task) to it.
	Executor exec.Executor
	// AcceptMultiple allows more than one Output to connect to this Input.
	AcceptMultiple bool
	// HasDeclaredKind/DeclaredKind express the stream kind this input
	// expects, checked against a connecting Output's declared metadata.
	HasDeclaredKind bool
	DeclaredKind    sample.Kind
	// StatsRow, if non-nil, is incremented once per sample processed.
	StatsRow *stats.Row
	// OnSample is invoked (via Executor) with every non-EOS sample
	// popped from the queue — the filter's wrapped processing entry.
	OnSample func(*sample.Sample) error
	// OnEOS is invoked (via Executor) once a nil sample is popped.
	OnEOS func()
	// OnError is invoked, inline on the executor goroutine, if OnSample
	// returns an error.
	OnError func(error)
}

// Input owns a FIFO queue of samples plus the owning filter's executor
// reference and a statistics row handle.
type Input struct {
	mu sync.Mutex

	queue    *ringqueue.Queue[*sample.Sample]
	executor exec.Executor
	statsRow *stats.Row

	acceptMultiple  bool
	connections     int
	hasDeclaredKind bool
	declaredKind    sample.Kind

	metadata *sample.Metadata

	onSample func(*sample.Sample) error
	onEOS    func()
	onError  func(error)
}

// NewInput constructs an Input per cfg.
func NewInput(cfg Config) *Input {
	return &Input{
		queue:           ringqueue.New[*sample.Sample](),
		executor:        cfg.Executor,
		statsRow:        cfg.StatsRow,
		acceptMultiple:  cfg.AcceptMultiple,
		hasDeclaredKind: cfg.HasDeclaredKind,
		declaredKind:    cfg.DeclaredKind,
		onSample:        cfg.OnSample,
		onEOS:           cfg.OnEOS,
		onError:         cfg.OnError,
	}
}

// Push enqueues s. Non-blocking. A nil sample denotes end-of-stream from
// upstream.
func (in *Input) Push(s *sample.Sample) {
	in.queue.Push(s)
}

// Pop blocks for the next sample, as Process would see it, without
// dispatching it to the filter. For filters needing pull semantics.
func (in *Input) Pop(ctx context.Context) (*sample.Sample, bool) {
	return in.queue.Pop(ctx)
}

// TryPop returns immediately: ok is false if the queue is empty.
func (in *Input) TryPop() (*sample.Sample, bool) {
	return in.queue.TryPop()
}

// Process pops one queued sample (blocking until one, or ctx, or Close),
// increments the stats row, and dispatches: a nil sample submits the EOS
// hook to the executor; any other sample updates the cached metadata and
// submits the sample hook to the executor. Returns false once the queue
// is closed and empty (see Close), or ctx is done.
func (in *Input) Process(ctx context.Context) bool {
	s, ok := in.queue.Pop(ctx)
	if !ok {
		return false
	}
	if in.statsRow != nil {
		in.statsRow.Increment()
	}
	if s == nil {
		if in.onEOS != nil {
			in.executor.Submit(in.onEOS)
		}
		return true
	}

	in.UpdateMetadata(s)
	if in.onSample != nil {
		cb := in.onSample
		in.executor.Submit(func() {
			if err := cb(s); err != nil && in.onError != nil {
				in.onError(err)
			}
		})
	}
	return true
}

// Close unblocks any goroutine currently in Pop/Process waiting on this
// input's queue.
func (in *Input) Close() {
	in.queue.Close()
}

// UpdateMetadata caches s's metadata if it differs from what's cached,
// reporting whether it changed. A nil sample or a sample with no
// metadata attached is a no-op.
func (in *Input) UpdateMetadata(s *sample.Sample) bool {
	if s == nil {
		return false
	}
	m := s.Metadata()
	if m == nil {
		return false
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.metadata == m {
		return false
	}
	in.metadata = m
	return true
}

// Metadata returns the most recently cached metadata, or nil if no
// sample carrying metadata has arrived yet.
func (in *Input) Metadata() *sample.Metadata {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.metadata
}

// NumConnections returns the number of outputs currently connected here.
func (in *Input) NumConnections() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.connections
}

// SetAcceptMultiple widens (or narrows) whether more than one Output may
// connect here. Filters call this from Connect, which receives the
// allow-multiple flag per call rather than baking it in at construction.
func (in *Input) SetAcceptMultiple(accept bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.acceptMultiple = accept
}

// AcceptMultiple reports the current multi-fan-in setting.
func (in *Input) AcceptMultiple() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.acceptMultiple
}

func (in *Input) addConnection() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if !in.acceptMultiple && in.connections >= 1 {
		return ErrMultipleConnectionsNotAllowed
	}
	in.connections++
	return nil
}

func (in *Input) removeConnection() {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.connections > 0 {
		in.connections--
	}
}
