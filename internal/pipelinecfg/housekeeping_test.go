package pipelinecfg

import (
	"bytes"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamgraph-io/streamgraph/internal/engine/stats"
)

func TestHousekeeperDisabledIsNoop(t *testing.T) {
	reg := stats.NewAnonymous()
	defer reg.Close()

	h, err := NewHousekeeper(HousekeepingConfig{Enabled: false}, reg, slog.Default())
	require.NoError(t, err)
	h.Start() // must not panic with no cron engine
	h.Stop()
}

func TestHousekeeperRejectsInvalidCronExpression(t *testing.T) {
	reg := stats.NewAnonymous()
	defer reg.Close()

	_, err := NewHousekeeper(HousekeepingConfig{Enabled: true, Cron: "not a cron expr"}, reg, slog.Default())
	require.Error(t, err)
}

func TestHousekeeperLogsSnapshotOnSchedule(t *testing.T) {
	reg := stats.NewAnonymous()
	defer reg.Close()
	row, err := reg.AllocateRow("demux.input0")
	require.NoError(t, err)
	row.Set(42)

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	h, err := NewHousekeeper(HousekeepingConfig{Enabled: true, Cron: "@every 10ms"}, reg, logger)
	require.NoError(t, err)
	h.Start()
	defer h.Stop()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if bytes.Contains(buf.Bytes(), []byte("demux.input0")) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	assert.Contains(t, buf.String(), "demux.input0")
}
