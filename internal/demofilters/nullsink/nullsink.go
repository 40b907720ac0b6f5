// Package nullsink implements the illustrative terminal filter used in
// place of a full DASH/HLS packager: a sink that simply counts the
// samples it receives per input in in-memory atomic counters, proving the
// filter contract is exercisable end to end without
// pulling in an under-tested segment writer.
package nullsink

import (
	"log/slog"
	"sync/atomic"

	"github.com/streamgraph-io/streamgraph/internal/engine/filter"
	"github.com/streamgraph-io/streamgraph/internal/engine/port"
	"github.com/streamgraph-io/streamgraph/internal/engine/sample"
)

// Config configures a Module.
type Config struct {
	// NumInputs is how many independent inputs this sink declares; each
	// may optionally accept multi-fan-in (see AcceptMultiple).
	NumInputs int
	// AcceptMultiple allows more than one Output to connect to each input.
	AcceptMultiple bool
	Logger         *slog.Logger
}

// Module counts samples received on each declared input.
type Module struct {
	acceptMultiple bool
	logger         *slog.Logger
	counts         []atomic.Int64
}

// New returns a Module with cfg.NumInputs declared inputs (at least 1).
func New(cfg Config) *Module {
	n := cfg.NumInputs
	if n < 1 {
		n = 1
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Module{
		acceptMultiple: cfg.AcceptMultiple,
		logger:         logger,
		counts:         make([]atomic.Int64, n),
	}
}

// NumInputs implements filter.Module.
func (m *Module) NumInputs() int { return len(m.counts) }

// NumOutputs implements filter.Module: a sink declares none.
func (m *Module) NumOutputs() int { return 0 }

// Output implements filter.Module; a sink has no outputs to return.
func (m *Module) Output(int) *port.Output { return nil }

// InputSpec implements filter.Module.
func (m *Module) InputSpec(int) filter.InputSpec {
	return filter.InputSpec{AcceptMultiple: m.acceptMultiple}
}

// ProcessInput counts s and drops it.
func (m *Module) ProcessInput(i int, s *sample.Sample) error {
	if s == nil {
		return nil
	}
	n := m.counts[i].Add(1)
	if n%1000 == 0 {
		m.logger.Debug("nullsink received samples", slog.Int("input", i), slog.Int64("count", n))
	}
	return nil
}

// ProcessSource implements filter.Module; never called since NumInputs > 0.
func (m *Module) ProcessSource() (bool, error) { return true, nil }

// Flush implements filter.Module; nothing to release.
func (m *Module) Flush() error { return nil }

// Count returns the number of samples received on input i so far.
func (m *Module) Count(i int) int64 { return m.counts[i].Load() }
