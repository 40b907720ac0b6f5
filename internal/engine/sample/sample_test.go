package sample_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamgraph-io/streamgraph/internal/engine/sample"
)

func TestSetMetadataOnce(t *testing.T) {
	s := sample.NewRaw(4)
	md := &sample.Metadata{Kind: sample.KindVideo, Codec: "h264"}
	require.NoError(t, s.SetMetadata(md))
	assert.Same(t, md, s.Metadata())

	err := s.SetMetadata(&sample.Metadata{Kind: sample.KindAudio})
	assert.ErrorIs(t, err, sample.ErrMetadataSet)
	assert.Same(t, md, s.Metadata())
}

func TestSetAttributeOnceAndRetrieve(t *testing.T) {
	s := sample.NewRaw(0)
	require.NoError(t, s.SetAttribute(1, []byte("pts=100")))

	v, err := s.Attribute(1)
	require.NoError(t, err)
	assert.Equal(t, []byte("pts=100"), v)

	err = s.SetAttribute(1, []byte("pts=200"))
	assert.ErrorIs(t, err, sample.ErrAttributeSet)
}

func TestGetUnsetAttributeFails(t *testing.T) {
	s := sample.NewRaw(0)
	_, err := s.Attribute(42)
	assert.ErrorIs(t, err, sample.ErrAttributeUnset)
}

func TestSetEmptyAttributeFails(t *testing.T) {
	s := sample.NewRaw(0)
	err := s.SetAttribute(1, nil)
	assert.ErrorIs(t, err, sample.ErrEmptyAttribute)
}

func TestNewReferenceSharesPayloadAndInheritsMetadata(t *testing.T) {
	parent := sample.NewRaw(4)
	copy(parent.Bytes(), []byte{1, 2, 3, 4})
	md := &sample.Metadata{Kind: sample.KindVideo}
	require.NoError(t, parent.SetMetadata(md))
	parent.SetPTS(1000)
	parent.SetFlags(sample.FlagKeyframe)

	ref := sample.NewReference(parent)
	assert.Equal(t, parent.Bytes(), ref.Bytes())
	assert.Same(t, md, ref.Metadata())
	assert.Equal(t, int64(1000), ref.PTS())
	assert.True(t, ref.Keyframe())

	// The payload is shared: mutating the parent's owned buffer is visible
	// through the reference since no copy was made.
	parent.Bytes()[0] = 9
	assert.Equal(t, byte(9), ref.Bytes()[0])
}

func TestReferenceToReferenceCollapses(t *testing.T) {
	root := sample.NewRaw(1)
	mid := sample.NewReference(root)
	leaf := sample.NewReference(mid)

	require.NoError(t, root.SetAttribute(7, []byte("x")))
	_ = leaf // leaf shares root's bytes, not mid's wrapper
	assert.Equal(t, root.Bytes(), leaf.Bytes())
}

func TestReferenceIsNotWritableInPlace(t *testing.T) {
	parent := sample.NewRaw(4)
	ref := sample.NewReference(parent)

	assert.True(t, parent.Recyclable())
	_, err := ref.MutableBytes()
	assert.ErrorIs(t, err, sample.ErrSharedPayload)

	err = ref.Resize(8)
	assert.ErrorIs(t, err, sample.ErrSharedPayload)
}

func TestCopyAttributesFrom(t *testing.T) {
	src := sample.NewRaw(0)
	require.NoError(t, src.SetAttribute(1, []byte("a")))
	require.NoError(t, src.SetAttribute(2, []byte("b")))

	dst := sample.NewRaw(0)
	require.NoError(t, sample.CopyAttributesFrom(dst, src))

	v, err := dst.Attribute(1)
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), v)

	v, err = dst.Attribute(2)
	require.NoError(t, err)
	assert.Equal(t, []byte("b"), v)
}

func TestCopyAttributesFromFailsIfDestinationAlreadyHasAttributes(t *testing.T) {
	src := sample.NewRaw(0)
	require.NoError(t, src.SetAttribute(1, []byte("a")))

	dst := sample.NewRaw(0)
	require.NoError(t, dst.SetAttribute(9, []byte("pre-existing")))

	err := sample.CopyAttributesFrom(dst, src)
	assert.ErrorIs(t, err, sample.ErrAttributeSet)
}

func TestResizePreservesPrefix(t *testing.T) {
	s := sample.NewRaw(2)
	copy(s.Bytes(), []byte{1, 2})
	require.NoError(t, s.Resize(4))
	assert.Equal(t, []byte{1, 2, 0, 0}, s.Bytes())
}
