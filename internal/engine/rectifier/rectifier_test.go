package rectifier

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamgraph-io/streamgraph/internal/engine/port"
	"github.com/streamgraph-io/streamgraph/internal/engine/sample"
	"github.com/streamgraph-io/streamgraph/pkg/clock"
	"github.com/streamgraph-io/streamgraph/pkg/fraction"
)

const testFrameRateHz = 25

func videoMetadata() *sample.Metadata { return &sample.Metadata{Kind: sample.KindVideo} }
func audioMetadata(rate, channels int) *sample.Metadata {
	return &sample.Metadata{Kind: sample.KindAudio, SampleRate: rate, Channels: channels}
}

// collector subscribes a sink to an output and records every posted sample.
type collector struct {
	mu       sync.Mutex
	received []*sample.Sample
}

func attachCollector(t *testing.T, out *port.Output) *collector {
	t.Helper()
	c := &collector{}
	in := port.NewInput(port.Config{
		Executor: syncExecutor{},
		OnSample: func(s *sample.Sample) error {
			c.mu.Lock()
			c.received = append(c.received, s)
			c.mu.Unlock()
			return nil
		},
	})
	require.NoError(t, out.Connect(in))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() {
		for in.Process(ctx) {
		}
	}()
	return c
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.received)
}

func (c *collector) last() *sample.Sample {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.received) == 0 {
		return nil
	}
	return c.received[len(c.received)-1]
}

// syncExecutor runs submitted work inline, avoiding a dependency on the
// exec package's concrete Sync type from this test (keeps the test package
// import graph narrow).
type syncExecutor struct{}

func (syncExecutor) Submit(fn func()) { fn() }

func waitForCollector(t *testing.T, c *collector, n int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if c.count() >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	require.GreaterOrEqual(t, c.count(), n)
}

func TestMasterFrameEmittedAtContinuousOutputPTS(t *testing.T) {
	c := clock.NewManual(1.0)
	m := New(Config{Clock: c, FrameRate: fraction.New(testFrameRateHz, 1), NumStreams: 1})
	t.Cleanup(func() { _ = m.Flush() })

	videoOut := attachCollector(t, m.Output(0))

	v := sample.NewRaw(4)
	require.NoError(t, v.SetMetadata(videoMetadata()))
	v.SetPTS(0)
	require.NoError(t, m.ProcessInput(0, v))

	periodTicks := fraction.New(1, testFrameRateHz).ToTicks(int64(sample.Rate))
	c.Advance(time.Second / testFrameRateHz)
	waitForCollector(t, videoOut, 1)
	assert.Equal(t, int64(0), videoOut.last().PTS())

	v2 := sample.NewRaw(4)
	require.NoError(t, v2.SetMetadata(videoMetadata()))
	v2.SetPTS(periodTicks)
	require.NoError(t, m.ProcessInput(0, v2))

	c.Advance(time.Second / testFrameRateHz)
	waitForCollector(t, videoOut, 2)
	assert.Equal(t, periodTicks, videoOut.last().PTS())
}

// Scenario 6's gap-fill half: a master frame missing for one tick does not
// stall or skip the output — the previous master frame's payload is
// repeated at the next continuous k*T output timestamp, and the pipeline
// emits exactly one frame per elapsed tick (ceil(duration*frameRate)).
func TestMasterFrameGapIsFilledByRepeatingPreviousFrame(t *testing.T) {
	c := clock.NewManual(1.0)
	m := New(Config{Clock: c, FrameRate: fraction.New(testFrameRateHz, 1), NumStreams: 1})
	t.Cleanup(func() { _ = m.Flush() })

	videoOut := attachCollector(t, m.Output(0))
	periodTicks := fraction.New(1, testFrameRateHz).ToTicks(int64(sample.Rate))

	v1 := sample.NewRaw(4)
	require.NoError(t, v1.SetMetadata(videoMetadata()))
	v1.SetPTS(0)
	buf1, err := v1.MutableBytes()
	require.NoError(t, err)
	copy(buf1, []byte{1, 2, 3, 4})
	require.NoError(t, m.ProcessInput(0, v1))

	// Tick 1: the master frame is present and emitted.
	c.Advance(time.Second / testFrameRateHz)
	waitForCollector(t, videoOut, 1)
	first := videoOut.last()
	assert.Equal(t, int64(0), first.PTS())
	assert.Equal(t, []byte{1, 2, 3, 4}, first.Bytes())

	// Tick 2: no new master frame is queued (a dropped frame). The
	// rectifier still produces a frame at the next continuous timestamp,
	// repeating the previous master frame's payload.
	c.Advance(time.Second / testFrameRateHz)
	waitForCollector(t, videoOut, 2)
	second := videoOut.last()
	assert.Equal(t, periodTicks, second.PTS())
	assert.Equal(t, []byte{1, 2, 3, 4}, second.Bytes())

	// Tick 3: a fresh master frame arrives; output resumes from it, still
	// one frame per tick regardless of the earlier gap.
	v2 := sample.NewRaw(4)
	require.NoError(t, v2.SetMetadata(videoMetadata()))
	v2.SetPTS(2 * periodTicks)
	buf2, err := v2.MutableBytes()
	require.NoError(t, err)
	copy(buf2, []byte{9, 9, 9, 9})
	require.NoError(t, m.ProcessInput(0, v2))

	c.Advance(time.Second / testFrameRateHz)
	waitForCollector(t, videoOut, 3)
	third := videoOut.last()
	assert.Equal(t, 2*periodTicks, third.PTS())
	assert.Equal(t, []byte{9, 9, 9, 9}, third.Bytes())

	assert.Equal(t, 3, videoOut.count(), "exactly one frame per elapsed tick")
}

func TestAudioStreamProducesExactFrameCountPerTick(t *testing.T) {
	c := clock.NewManual(1.0)
	m := New(Config{Clock: c, FrameRate: fraction.New(testFrameRateHz, 1), NumStreams: 2})
	t.Cleanup(func() { _ = m.Flush() })

	videoOut := attachCollector(t, m.Output(0))
	audioOut := attachCollector(t, m.Output(1))

	const sampleRate = 48000
	const channels = 2
	bytesPerFrame := pcmBytesPerSample * channels

	v := sample.NewRaw(4)
	require.NoError(t, v.SetMetadata(videoMetadata()))
	v.SetPTS(0)
	require.NoError(t, m.ProcessInput(0, v))

	periodTicks := fraction.New(1, testFrameRateHz).ToTicks(int64(sample.Rate))
	expectedFrames := periodTicks * sampleRate / int64(sample.Rate)

	a := sample.NewRaw(int(expectedFrames) * bytesPerFrame)
	require.NoError(t, a.SetMetadata(audioMetadata(sampleRate, channels)))
	a.SetPTS(0)
	require.NoError(t, m.ProcessInput(1, a))

	c.Advance(time.Second / testFrameRateHz)
	waitForCollector(t, videoOut, 1)
	waitForCollector(t, audioOut, 1)

	got := audioOut.last()
	assert.Equal(t, int(expectedFrames)*bytesPerFrame, len(got.Bytes()))
}

func TestSubtitleHeartbeatEmittedEveryTick(t *testing.T) {
	c := clock.NewManual(1.0)
	m := New(Config{Clock: c, FrameRate: fraction.New(testFrameRateHz, 1), NumStreams: 2})
	t.Cleanup(func() { _ = m.Flush() })

	videoOut := attachCollector(t, m.Output(0))
	subOut := attachCollector(t, m.Output(1))

	v := sample.NewRaw(4)
	require.NoError(t, v.SetMetadata(videoMetadata()))
	v.SetPTS(0)
	require.NoError(t, m.ProcessInput(0, v))

	s := sample.NewRaw(0)
	require.NoError(t, s.SetMetadata(&sample.Metadata{Kind: sample.KindSubtitle}))
	s.SetPTS(0)
	require.NoError(t, m.ProcessInput(1, s))

	c.Advance(time.Second / testFrameRateHz)
	waitForCollector(t, videoOut, 1)
	waitForCollector(t, subOut, 1) // at least the heartbeat
}

func TestEmitOnePeriodPanicsWithoutMasterStream(t *testing.T) {
	// Built directly rather than via New, so no background tick loop is
	// racing this goroutine's direct emitOnePeriod call (which is expected
	// to panic here).
	m := &Module{
		framePeriod: fraction.New(1, testFrameRateHz),
		clock:       clock.NewManual(0),
		log:         noopLogger{},
		streams:     make([]streamState, 1),
	}
	m.streams[0].output = port.NewOutput()

	assert.Panics(t, func() { m.emitOnePeriod(fraction.New(1, testFrameRateHz)) })
}

func TestFlushIsIdempotent(t *testing.T) {
	c := clock.NewManual(1.0)
	m := New(Config{Clock: c, FrameRate: fraction.New(testFrameRateHz, 1), NumStreams: 1})
	require.NoError(t, m.Flush())
	require.NoError(t, m.Flush())
}
