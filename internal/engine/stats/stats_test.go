package stats_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamgraph-io/streamgraph/internal/engine/stats"
)

func TestAllocateRowAndIncrement(t *testing.T) {
	r := stats.NewAnonymous()
	defer r.Close()

	row, err := r.AllocateRow("demux.input0")
	require.NoError(t, err)
	assert.EqualValues(t, 0, row.Value())

	assert.EqualValues(t, 1, row.Increment())
	assert.EqualValues(t, 2, row.Increment())
	assert.EqualValues(t, 2, row.Value())

	row.Set(100)
	assert.EqualValues(t, 100, row.Value())
}

func TestTableFullAfterMaxRows(t *testing.T) {
	r := stats.NewAnonymous()
	defer r.Close()

	for i := 0; i < stats.MaxRows; i++ {
		_, err := r.AllocateRow("row")
		require.NoError(t, err)
	}
	_, err := r.AllocateRow("overflow")
	assert.ErrorIs(t, err, stats.ErrTableFull)
}

func TestSnapshotReturnsRowsInAllocationOrder(t *testing.T) {
	r := stats.NewAnonymous()
	defer r.Close()

	row1, err := r.AllocateRow("demux.input0")
	require.NoError(t, err)
	row2, err := r.AllocateRow("sink.input0")
	require.NoError(t, err)
	row1.Set(7)
	row2.Increment()
	row2.Increment()

	snap := r.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, stats.Snapshot{Name: "demux.input0", Value: 7}, snap[0])
	assert.Equal(t, stats.Snapshot{Name: "sink.input0", Value: 2}, snap[1])
}

func TestOpenMmapBackedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.bin")
	r, err := stats.Open(path)
	if err != nil {
		t.Skipf("mmap-backed stats unsupported on this platform: %v", err)
	}
	defer r.Close()

	row, err := r.AllocateRow("source.output0")
	require.NoError(t, err)
	row.Set(42)
	assert.EqualValues(t, 42, row.Value())
}
