package pipelinecfg

import (
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/streamgraph-io/streamgraph/internal/engine/stats"
)

// Housekeeper periodically logs a snapshot of a stats.Registry while a
// pipeline runs, the way the teacher's scheduler runs internal recurring
// jobs against a cron.Cron engine rather than a bare time.Ticker.
type Housekeeper struct {
	cron   *cron.Cron
	logger *slog.Logger
}

// NewHousekeeper builds a Housekeeper that, once Start is called, logs reg's
// current snapshot on cfg.Cron's schedule. If cfg.Enabled is false, Start
// becomes a no-op.
func NewHousekeeper(cfg HousekeepingConfig, reg *stats.Registry, logger *slog.Logger) (*Housekeeper, error) {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Housekeeper{logger: logger}
	if !cfg.Enabled {
		return h, nil
	}

	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	h.cron = cron.New(cron.WithParser(parser), cron.WithChain(
		cron.Recover(cron.DefaultLogger),
	))

	if _, err := h.cron.AddFunc(cfg.Cron, func() { h.logSnapshot(reg) }); err != nil {
		return nil, fmt.Errorf("pipelinecfg: invalid housekeeping cron expression %q: %w", cfg.Cron, err)
	}
	return h, nil
}

// Start begins the cron engine. No-op if housekeeping was disabled.
func (h *Housekeeper) Start() {
	if h.cron != nil {
		h.cron.Start()
	}
}

// Stop halts the cron engine and waits for any in-flight job to finish.
func (h *Housekeeper) Stop() {
	if h.cron != nil {
		<-h.cron.Stop().Done()
	}
}

func (h *Housekeeper) logSnapshot(reg *stats.Registry) {
	for _, row := range reg.Snapshot() {
		h.logger.Info("stats row", slog.String("name", row.Name), slog.Int64("value", int64(row.Value)))
	}
}
