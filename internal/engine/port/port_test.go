package port_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamgraph-io/streamgraph/internal/engine/exec"
	"github.com/streamgraph-io/streamgraph/internal/engine/port"
	"github.com/streamgraph-io/streamgraph/internal/engine/sample"
)

func TestPostDeliversToConnectedInputInOrder(t *testing.T) {
	out := port.NewOutput()
	var mu sync.Mutex
	var received []*sample.Sample
	in := port.NewInput(port.Config{
		Executor: exec.Sync{},
		OnSample: func(s *sample.Sample) error {
			mu.Lock()
			received = append(received, s)
			mu.Unlock()
			return nil
		},
	})
	require.NoError(t, out.Connect(in))

	s1 := sample.NewRaw(1)
	s1.SetPTS(10)
	s2 := sample.NewRaw(1)
	s2.SetPTS(20)
	out.Post(s1)
	out.Post(s2)

	ctx := context.Background()
	require.True(t, in.Process(ctx))
	require.True(t, in.Process(ctx))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 2)
	assert.Equal(t, int64(10), received[0].PTS())
	assert.Equal(t, int64(20), received[1].PTS())
}

func TestProcessOnNilSampleSubmitsEOS(t *testing.T) {
	var eosCalled bool
	in := port.NewInput(port.Config{
		Executor: exec.Sync{},
		OnEOS:    func() { eosCalled = true },
	})
	in.Push(nil)
	require.True(t, in.Process(context.Background()))
	assert.True(t, eosCalled)
}

func TestConnectFailsWithoutMultiFanInOptIn(t *testing.T) {
	out1 := port.NewOutput()
	out2 := port.NewOutput()
	in := port.NewInput(port.Config{Executor: exec.Sync{}})

	require.NoError(t, out1.Connect(in))
	err := out2.Connect(in)
	assert.ErrorIs(t, err, port.ErrMultipleConnectionsNotAllowed)
}

func TestConnectSucceedsWithMultiFanInOptIn(t *testing.T) {
	out1 := port.NewOutput()
	out2 := port.NewOutput()
	in := port.NewInput(port.Config{Executor: exec.Sync{}, AcceptMultiple: true})

	require.NoError(t, out1.Connect(in))
	require.NoError(t, out2.Connect(in))
	assert.Equal(t, 2, in.NumConnections())
}

func TestConnectFailsOnMetadataKindMismatch(t *testing.T) {
	out := port.NewOutput()
	require.NoError(t, out.SetMetadata(&sample.Metadata{Kind: sample.KindAudio}))
	in := port.NewInput(port.Config{
		Executor:        exec.Sync{},
		HasDeclaredKind: true,
		DeclaredKind:    sample.KindVideo,
	})

	err := out.Connect(in)
	assert.ErrorIs(t, err, port.ErrMetadataMismatch)
}

func TestDisconnectStopsFurtherDelivery(t *testing.T) {
	out := port.NewOutput()
	var count int
	in := port.NewInput(port.Config{
		Executor: exec.Sync{},
		OnSample: func(*sample.Sample) error { count++; return nil },
	})
	require.NoError(t, out.Connect(in))
	require.NoError(t, out.Disconnect(in))

	out.Post(sample.NewRaw(1))
	assert.Equal(t, 0, in.NumConnections())
	_, ok := in.TryPop()
	assert.False(t, ok)
}

func TestUpdateMetadataReportsChangeOnlyOnce(t *testing.T) {
	in := port.NewInput(port.Config{Executor: exec.Sync{}})
	s1 := sample.NewRaw(1)
	md := &sample.Metadata{Kind: sample.KindVideo}
	require.NoError(t, s1.SetMetadata(md))

	assert.True(t, in.UpdateMetadata(s1))

	s2 := sample.NewRaw(1)
	require.NoError(t, s2.SetMetadata(md))
	assert.False(t, in.UpdateMetadata(s2))
}
