// Package tsmux implements the illustrative sink filter that exercises
// go-astits' MPEG-TS muxer: it re-wraps video and audio elementary-stream
// samples into MPEG-TS PES packets written to a byte sink, the write-side
// counterpart to tsdemux, the kind of component a TS-to-UDP streamer or an
// MP4-to-TS remuxer would use at its output.
package tsmux

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/asticode/go-astits"

	"github.com/streamgraph-io/streamgraph/internal/engine/filter"
	"github.com/streamgraph-io/streamgraph/internal/engine/port"
	"github.com/streamgraph-io/streamgraph/internal/engine/sample"
)

const (
	inVideo = 0
	inAudio = 1

	videoPID uint16 = 256
	audioPID uint16 = 257

	// PES stream id ranges per the MPEG-2 systems spec: 0xE0-0xEF video,
	// 0xC0-0xDF audio.
	streamIDVideo uint8 = 0xe0
	streamIDAudio uint8 = 0xc0
)

// Config configures a Module.
type Config struct {
	// Writer receives the muxed MPEG-TS byte stream.
	Writer io.Writer
	Logger *slog.Logger
}

// Module is a sink filter with two declared inputs: video (index 0) and
// audio (index 1).
type Module struct {
	w      io.Writer
	logger *slog.Logger

	mux        *astits.Muxer
	tablesSent bool
}

// New returns a Module muxing onto cfg.Writer.
func New(cfg Config) *Module {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	m := &Module{w: cfg.Writer, logger: logger}
	m.mux = astits.NewMuxer(context.Background(), cfg.Writer)
	if err := m.mux.AddElementaryStream(astits.PMTElementaryStream{
		ElementaryPID: videoPID,
		StreamType:    astits.StreamTypeH264Video,
	}); err != nil {
		logger.Error("tsmux: adding video elementary stream", slog.String("error", err.Error()))
	}
	if err := m.mux.AddElementaryStream(astits.PMTElementaryStream{
		ElementaryPID: audioPID,
		StreamType:    astits.StreamTypeAACAudio,
	}); err != nil {
		logger.Error("tsmux: adding audio elementary stream", slog.String("error", err.Error()))
	}
	m.mux.SetPCRPID(videoPID)
	return m
}

// NumInputs implements filter.Module.
func (m *Module) NumInputs() int { return 2 }

// NumOutputs implements filter.Module: a sink declares none.
func (m *Module) NumOutputs() int { return 0 }

// Output implements filter.Module; a sink has no outputs to return.
func (m *Module) Output(int) *port.Output { return nil }

// InputSpec implements filter.Module.
func (m *Module) InputSpec(i int) filter.InputSpec {
	if i == inAudio {
		return filter.InputSpec{HasDeclaredKind: true, DeclaredKind: sample.KindAudio}
	}
	return filter.InputSpec{HasDeclaredKind: true, DeclaredKind: sample.KindVideo}
}

// ProcessInput muxes s into a PES packet on the appropriate PID.
func (m *Module) ProcessInput(i int, s *sample.Sample) error {
	if s == nil {
		return nil
	}

	if !m.tablesSent {
		if _, err := m.mux.WriteTables(); err != nil {
			return fmt.Errorf("tsmux: writing tables: %w", err)
		}
		m.tablesSent = true
	}

	pid := videoPID
	streamID := streamIDVideo
	if i == inAudio {
		pid = audioPID
		streamID = streamIDAudio
	}

	// s.PTS() is in sample.Rate (180000Hz) ticks; PES clock references are
	// expressed in the 90kHz MPEG-TS base.
	ptsBase := s.PTS() / 2

	_, err := m.mux.WriteData(&astits.MuxerData{
		PID: pid,
		PES: &astits.PESData{
			Header: &astits.PESHeader{
				StreamID: streamID,
				OptionalHeader: &astits.PESOptionalHeader{
					MarkerBits:      2,
					PTSDTSIndicator: astits.PTSDTSIndicatorOnlyPTS,
					PTS:             &astits.ClockReference{Base: ptsBase},
				},
			},
			Data: s.Bytes(),
		},
	})
	if err != nil {
		return fmt.Errorf("tsmux: writing data: %w", err)
	}
	return nil
}

// ProcessSource implements filter.Module; never called since NumInputs() > 0.
func (m *Module) ProcessSource() (bool, error) { return true, nil }

// Flush implements filter.Module; nothing further to write once every
// input has reached end-of-stream.
func (m *Module) Flush() error { return nil }
