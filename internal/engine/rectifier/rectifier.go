// Package rectifier implements the representative stateful filter: it
// resynchronizes one master video stream plus zero or more audio and
// subtitle streams onto a continuous output timeline, ticking at a fixed
// frame period.
package rectifier

import (
	"context"
	"encoding/binary"
	"sync"
	"time"

	"github.com/streamgraph-io/streamgraph/internal/engine/filter"
	"github.com/streamgraph-io/streamgraph/internal/engine/port"
	"github.com/streamgraph-io/streamgraph/internal/engine/sample"
	"github.com/streamgraph-io/streamgraph/pkg/clock"
	"github.com/streamgraph-io/streamgraph/pkg/fraction"
)

// analyzeWindow is half a second of tolerance, in clock ticks — a positive
// value means the master stream is expected to arrive ahead of slave
// streams by up to this much.
const analyzeWindow = int64(sample.Rate) / 2

// subtitleHideAttr is the Sample attribute key a subtitle-producing filter
// may set (via SetAttribute, big-endian int64 ticks) to declare an event's
// hide time distinct from its PTS. If absent, the event's PTS is treated as
// its hide time (a point event). The generic Sample type carries no
// subtitle-page structure, so this attribute convention stands in for the
// original's DataSubtitle::page.hideTimestamp field.
const subtitleHideAttr = 1

// pcmBytesPerSample is the assumed sample width for audio streams this
// filter rectifies: 16-bit signed, one sample per channel per frame. A
// representative filter does not aim to support arbitrary PCM formats.
const pcmBytesPerSample = 2

// Logger is the minimal logging capability the Module needs.
type Logger interface {
	Warn(msg string, args ...any)
	Info(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any) {}
func (noopLogger) Info(string, ...any) {}

// Config configures a new Module.
type Config struct {
	Clock clock.Clock
	// FrameRate is the output tick rate, e.g. 25/1 for 25fps.
	FrameRate fraction.Fraction
	// NumStreams is the number of paired input/output stream slots.
	// Exactly one connected input must declare Kind == sample.KindVideo;
	// it becomes the master.
	NumStreams int
	Logger     Logger
}

type record struct {
	creationTicks int64
	sample        *sample.Sample
}

type streamState struct {
	output   *port.Output
	data     []record
	blank    *sample.Sample
	metadata *sample.Metadata
}

// Module rectifies NumStreams paired input/output streams onto a
// continuous output timeline, driven by its own periodic tick loop.
type Module struct {
	framePeriod fraction.Fraction
	clock       clock.Clock
	log         Logger

	mu       sync.Mutex
	streams  []streamState
	numTicks int64

	cancel  context.CancelFunc
	stopped bool
}

// New constructs a Module and immediately starts its periodic tick loop.
func New(cfg Config) *Module {
	if cfg.NumStreams <= 0 {
		panic("rectifier: NumStreams must be positive")
	}
	if cfg.Clock == nil {
		panic("rectifier: Clock must not be nil")
	}
	log := cfg.Logger
	if log == nil {
		log = noopLogger{}
	}

	m := &Module{
		framePeriod: cfg.FrameRate.Inverse(),
		clock:       cfg.Clock,
		log:         log,
		streams:     make([]streamState, cfg.NumStreams),
	}
	for i := range m.streams {
		m.streams[i].output = port.NewOutput()
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	go m.run(ctx)
	return m
}

// NumInputs returns the configured stream count.
func (m *Module) NumInputs() int { return len(m.streams) }

// NumOutputs returns the configured stream count (one output per input,
// paired by index).
func (m *Module) NumOutputs() int { return len(m.streams) }

// Output returns stream i's output port.
func (m *Module) Output(i int) *port.Output { return m.streams[i].output }

// InputSpec declares no constraints: any of the paired streams may carry
// any media kind, and which one is master is resolved at tick time.
func (m *Module) InputSpec(int) filter.InputSpec { return filter.InputSpec{} }

// ProcessInput queues s on stream i, tagged with the arrival clock time,
// and caches its metadata. Queuing happens continuously as samples arrive;
// the periodic tick loop is what drains and rectifies the queue.
func (m *Module) ProcessInput(i int, s *sample.Sample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stream := &m.streams[i]
	stream.data = append(stream.data, record{creationTicks: m.clock.NowTicks(), sample: s})
	if md := s.Metadata(); md != nil {
		stream.metadata = md
	}
	return nil
}

// ProcessSource is unused: a Module is never a source (it always declares
// NumStreams >= 1 real inputs).
func (m *Module) ProcessSource() (bool, error) { return true, nil }

// Flush stops the periodic tick loop. Idempotent.
func (m *Module) Flush() error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return nil
	}
	m.stopped = true
	m.mu.Unlock()
	m.cancel()
	return nil
}

func toDuration(f fraction.Fraction) time.Duration {
	if f.Num <= 0 {
		return 0
	}
	return time.Duration(f.Num) * time.Second / time.Duration(f.Den)
}

func (m *Module) run(ctx context.Context) {
	next := m.clock.Now().Add(m.framePeriod)
	for {
		wait := next.Sub(m.clock.Now())
		d := toDuration(wait)
		if d < 0 {
			d = 0
		}
		if err := m.clock.Sleep(ctx, d); err != nil {
			return
		}
		m.emitOnePeriod(next)
		next = next.Add(m.framePeriod)
	}
}

// emitOnePeriod posts one media period on every connected, metadata-bearing
// output. now is the scheduled tick time (not wall-clock-at-call-time).
//
// "in" media times are the master stream's own, possibly gappy, presentation
// times, used only to synchronize slave streams against the master. "out"
// media times are perfectly continuous and never depend on input framing.
func (m *Module) emitOnePeriod(now fraction.Fraction) {
	m.mu.Lock()
	defer m.mu.Unlock()

	nowTicks := now.ToTicks(int64(sample.Rate))
	periodTicks := m.framePeriod.ToTicks(int64(sample.Rate))

	m.discardOutdatedDataLocked(nowTicks - analyzeWindow)

	outStart := m.numTicks * periodTicks
	outStop := (m.numTicks + 1) * periodTicks

	masterIdx := m.masterStreamIndexLocked()
	if masterIdx < 0 {
		panic("rectifier: no master stream: requires exactly one connected video stream")
	}

	master := &m.streams[masterIdx]
	masterFrame := chooseNextMasterFrame(master, nowTicks-analyzeWindow, periodTicks)
	if masterFrame == nil {
		m.log.Warn("rectifier: no available reference data for clock time yet", "clockTicks", nowTicks)
		return
	}

	inStart := masterFrame.PTS()
	inStop := inStart + (outStop - outStart)

	if m.numTicks == 0 {
		m.log.Info("rectifier: first available reference clock time", "clockTicks", nowTicks)
	}

	outFrame := sample.NewReference(masterFrame)
	outFrame.SetPTS(outStart)
	master.output.Post(outFrame)
	m.discardStreamOutdatedDataLocked(masterIdx, outStart-analyzeWindow)

	for i := range m.streams {
		if i == masterIdx {
			continue
		}
		stream := &m.streams[i]
		if stream.metadata == nil {
			continue
		}
		if stream.output.Metadata() == nil {
			_ = stream.output.SetMetadata(stream.metadata)
		}
		switch stream.metadata.Kind {
		case sample.KindAudio:
			m.emitAudioLocked(i, inStart, inStop, outStart, outStop)
		case sample.KindSubtitle:
			m.emitSubtitleLocked(i, inStart, outStart)
		case sample.KindVideo:
			panic("rectifier: only one video stream is supported")
		default:
			panic("rectifier: unhandled media kind")
		}
	}

	m.numTicks++
}

func (m *Module) masterStreamIndexLocked() int {
	for i := range m.streams {
		if md := m.streams[i].metadata; md != nil && md.Kind == sample.KindVideo {
			return i
		}
	}
	return -1
}

// chooseNextMasterFrame introduces latency: a freshly-arrived frame is held
// back for one period (returned again as "blank" on the next call) to
// absorb phase changes at the source, e.g. on input reconnection.
func chooseNextMasterFrame(stream *streamState, refTicks, periodTicks int64) *sample.Sample {
	if len(stream.data) == 0 {
		return stream.blank
	}
	stream.blank = stream.data[0].sample
	if abs64(stream.data[0].creationTicks-refTicks) < periodTicks {
		return stream.blank
	}
	r := stream.data[0].sample
	stream.data = stream.data[1:]
	return r
}

func (m *Module) discardOutdatedDataLocked(removalTicks int64) {
	for i := range m.streams {
		m.discardStreamOutdatedDataLocked(i, removalTicks)
	}
}

func (m *Module) discardStreamOutdatedDataLocked(i int, removalTicks int64) {
	stream := &m.streams[i]
	kept := stream.data[:0]
	for _, rec := range stream.data {
		if rec.creationTicks >= removalTicks {
			kept = append(kept, rec)
		}
	}
	stream.data = kept
}

func (m *Module) emitAudioLocked(i int, inStart, inStop, outStart, outStop int64) {
	stream := &m.streams[i]
	sampleRate := stream.metadata.SampleRate
	channels := stream.metadata.Channels
	if sampleRate == 0 || channels == 0 {
		return
	}
	bytesPerFrame := pcmBytesPerSample * channels

	toFrames := func(ticks int64) int64 {
		return ticks * int64(sampleRate) / int64(sample.Rate)
	}

	outStartF, outStopF := toFrames(outStart), toFrames(outStop)
	inStartF, inStopF := toFrames(inStart), toFrames(inStop)

	frameCount := outStopF - outStartF
	if frameCount <= 0 {
		return
	}

	out := sample.NewRaw(int(frameCount) * bytesPerFrame)
	out.SetPTS(outStart)
	buf, err := out.MutableBytes()
	if err != nil {
		m.log.Warn("rectifier: audio output buffer not writable", "error", err.Error())
		return
	}

	// Drop samples that end before the input period even starts.
	kept := stream.data[:0]
	for idx, rec := range stream.data {
		frames := int64(len(rec.sample.Bytes())) / int64(bytesPerFrame)
		recStart := toFrames(rec.sample.PTS())
		if recStart+frames < inStartF {
			continue
		}
		kept = append(kept, stream.data[idx])
	}
	stream.data = kept

	var written int64
	for _, rec := range stream.data {
		payload := rec.sample.Bytes()
		frames := int64(len(payload)) / int64(bytesPerFrame)
		recStart := toFrames(rec.sample.PTS())
		recStop := recStart + frames

		left := max64(recStart, inStartF)
		right := min64(recStop, inStopF)
		if left >= right {
			continue
		}

		srcOff := (left - recStart) * int64(bytesPerFrame)
		dstOff := (left - inStartF) * int64(bytesPerFrame)
		n := (right - left) * int64(bytesPerFrame)
		copy(buf[dstOff:dstOff+n], payload[srcOff:srcOff+n])
		written += right - left
	}

	if written != inStopF-inStartF {
		m.log.Warn("rectifier: incomplete audio period, expect glitches",
			"writtenFrames", written, "expectedFrames", inStopF-inStartF)
	}

	stream.output.Post(out)
}

// emitSubtitleLocked dispatches every queued subtitle event whose hide time
// has reached the input period's start, re-anchored to the output period,
// then emits a liveness heartbeat. Subtitle data may arrive out of order
// and isn't assumed sorted.
func (m *Module) emitSubtitleLocked(i int, inStart, outStart int64) {
	stream := &m.streams[i]
	delta := outStart - inStart

	kept := stream.data[:0]
	for _, rec := range stream.data {
		hide := rec.sample.PTS()
		if raw, err := rec.sample.Attribute(subtitleHideAttr); err == nil {
			hide = decodeTicks(raw)
		}
		if hide < inStart {
			kept = append(kept, rec)
			continue
		}

		out := sample.NewReference(rec.sample)
		out.SetPTS(rec.sample.PTS() + delta)
		if raw, err := rec.sample.Attribute(subtitleHideAttr); err == nil {
			_ = out.SetAttribute(subtitleHideAttr, encodeTicks(decodeTicks(raw)+delta))
		}
		stream.output.Post(out)
	}
	stream.data = kept

	heartbeat := sample.NewRaw(0)
	heartbeat.SetPTS(outStart)
	stream.output.Post(heartbeat)
}

func encodeTicks(v int64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	return b[:]
}

func decodeTicks(b []byte) int64 {
	return int64(binary.BigEndian.Uint64(b))
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
