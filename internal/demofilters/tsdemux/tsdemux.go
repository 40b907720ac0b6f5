// Package tsdemux implements the illustrative source filter that exercises
// mediacommon's MPEG-TS reader: it demuxes an MPEG-TS byte stream into
// timestamped video and audio elementary-stream samples on two outputs,
// the way a TS-to-UDP streamer or MP4-to-TS remuxer's front end would feed
// the rest of a pipeline.
package tsdemux

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h265"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mpegts"

	"github.com/streamgraph-io/streamgraph/internal/engine/filter"
	"github.com/streamgraph-io/streamgraph/internal/engine/port"
	"github.com/streamgraph-io/streamgraph/internal/engine/sample"
)

// tickRate90k is the MPEG-TS PCR/PTS tick rate; sample.Rate (180000) is
// exactly double it, so every PTS/DTS this filter emits is the
// mediacommon value multiplied by two.
const tickRate90k = 90000

const (
	outVideo = 0
	outAudio = 1
)

// Config configures a Module.
type Config struct {
	// Reader is the MPEG-TS byte source.
	Reader io.Reader
	Logger *slog.Logger
}

type pendingItem struct {
	video bool
	s     *sample.Sample
}

// Module is a source filter (NumInputs() == 0) demuxing MPEG-TS from
// Config.Reader onto a video output (index 0) and an audio output (index 1).
type Module struct {
	r      io.Reader
	logger *slog.Logger

	videoOut *port.Output
	audioOut *port.Output

	reader *mpegts.Reader
	inited bool
	initErr error

	videoMeta *sample.Metadata
	audioMeta *sample.Metadata

	pending []pendingItem
}

// New returns a Module reading from cfg.Reader. Initialization (reading
// until PAT/PMT resolve) happens lazily, on the first ProcessSource call.
func New(cfg Config) *Module {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Module{
		r:        cfg.Reader,
		logger:   logger,
		videoOut: port.NewOutput(),
		audioOut: port.NewOutput(),
	}
}

// NumInputs implements filter.Module: a source declares none.
func (m *Module) NumInputs() int { return 0 }

// NumOutputs implements filter.Module.
func (m *Module) NumOutputs() int { return 2 }

// Output implements filter.Module.
func (m *Module) Output(i int) *port.Output {
	if i == outAudio {
		return m.audioOut
	}
	return m.videoOut
}

// InputSpec implements filter.Module; never called since NumInputs() == 0.
func (m *Module) InputSpec(int) filter.InputSpec { return filter.InputSpec{} }

// ProcessInput implements filter.Module; never called since NumInputs() == 0.
func (m *Module) ProcessInput(int, *sample.Sample) error { return nil }

// ProcessSource drains one demuxed sample per call, reading further MPEG-TS
// data as needed. done is true once the reader reaches EOF or fails to
// initialize.
func (m *Module) ProcessSource() (done bool, err error) {
	if !m.inited {
		m.inited = true
		if err := m.init(); err != nil {
			m.initErr = err
		}
	}
	if m.initErr != nil {
		return true, m.initErr
	}

	for len(m.pending) == 0 {
		if err := m.reader.Read(); err != nil {
			if errors.Is(err, io.EOF) {
				return true, nil
			}
			return true, fmt.Errorf("tsdemux: read: %w", err)
		}
	}

	item := m.pending[0]
	m.pending = m.pending[1:]
	if item.video {
		m.videoOut.Post(item.s)
	} else {
		m.audioOut.Post(item.s)
	}
	return false, nil
}

// Flush implements filter.Module; the underlying reader has no separate
// teardown beyond letting Read return io.EOF.
func (m *Module) Flush() error { return nil }

func (m *Module) init() error {
	m.reader = &mpegts.Reader{R: m.r}
	if err := m.reader.Initialize(); err != nil {
		return fmt.Errorf("tsdemux: initializing mpegts reader: %w", err)
	}
	for _, track := range m.reader.Tracks() {
		m.setupTrack(track)
	}
	m.reader.OnDecodeError(func(err error) {
		m.logger.Debug("tsdemux: decode error", slog.String("error", err.Error()))
	})
	return nil
}

func (m *Module) setupTrack(track *mpegts.Track) {
	switch codec := track.Codec.(type) {
	case *mpegts.CodecH264:
		m.videoMeta = &sample.Metadata{Kind: sample.KindVideo, Codec: "h264"}
		m.reader.OnDataH264(track, func(pts, dts int64, au [][]byte) error {
			return m.handleVideo(pts, dts, au, false)
		})
		m.logger.Debug("tsdemux: found video track", slog.String("codec", "h264"))

	case *mpegts.CodecH265:
		m.videoMeta = &sample.Metadata{Kind: sample.KindVideo, Codec: "h265"}
		m.reader.OnDataH265(track, func(pts, dts int64, au [][]byte) error {
			return m.handleVideo(pts, dts, au, true)
		})
		m.logger.Debug("tsdemux: found video track", slog.String("codec", "h265"))

	case *mpegts.CodecMPEG4Audio:
		sampleRate := codec.Config.SampleRate
		if sampleRate <= 0 {
			sampleRate = 48000
		}
		m.audioMeta = &sample.Metadata{
			Kind:       sample.KindAudio,
			Codec:      "aac",
			SampleRate: sampleRate,
			Channels:   codec.Config.ChannelCount,
		}
		frameDuration := int64(1024 * tickRate90k / sampleRate)
		m.reader.OnDataMPEG4Audio(track, func(pts int64, aus [][]byte) error {
			return m.handleAudio(pts, frameDuration, aus)
		})
		m.logger.Debug("tsdemux: found audio track",
			slog.String("codec", "aac"), slog.Int("sample_rate", sampleRate))

	default:
		m.logger.Debug("tsdemux: unsupported track", slog.Uint64("pid", uint64(track.PID)))
	}
}

func (m *Module) handleVideo(pts, dts int64, au [][]byte, hevc bool) error {
	if len(au) == 0 {
		return nil
	}
	var keyframe bool
	if hevc {
		keyframe = h265.IsRandomAccess(au)
	} else {
		keyframe = h264.IsRandomAccess(au)
	}

	annexB, err := h264.AnnexB(au).Marshal()
	if err != nil || len(annexB) == 0 {
		return nil
	}

	s := sample.NewRaw(len(annexB))
	buf, _ := s.MutableBytes()
	copy(buf, annexB)
	s.SetPTS(pts * 2)
	s.SetDTS(dts * 2)
	if keyframe {
		s.SetFlags(sample.FlagKeyframe)
	}
	if err := s.SetMetadata(m.videoMeta); err != nil {
		return err
	}
	m.pending = append(m.pending, pendingItem{video: true, s: s})
	return nil
}

func (m *Module) handleAudio(pts, frameDuration int64, aus [][]byte) error {
	current := pts
	for _, au := range aus {
		if len(au) == 0 {
			continue
		}
		s := sample.NewRaw(len(au))
		buf, _ := s.MutableBytes()
		copy(buf, au)
		s.SetPTS(current * 2)
		if err := s.SetMetadata(m.audioMeta); err != nil {
			return err
		}
		m.pending = append(m.pending, pendingItem{video: false, s: s})
		current += frameDuration
	}
	return nil
}
