// Package sample implements the unit of dataflow carried between filters:
// a timed, metadata-bearing buffer that is either owned outright or shared
// zero-copy from another sample, mirroring the original runtime's
// DataRaw/DataBaseRef split.
package sample

import (
	"errors"
	"sync"

	"github.com/streamgraph-io/streamgraph/pkg/clock"
)

// Rate is the tick rate PTS/DTS are expressed in, shared with pkg/clock.
const Rate = clock.Rate

// Flags are the cue bits carried on every sample.
type Flags uint32

const (
	// FlagDiscontinuity marks a break in otherwise-monotone presentation
	// time on this stream.
	FlagDiscontinuity Flags = 1 << iota
	// FlagKeyframe marks a sample decodable without reference to prior
	// samples.
	FlagKeyframe
)

// Kind identifies the media kind a stream carries.
type Kind int

const (
	KindUnknown Kind = iota
	KindVideo
	KindAudio
	KindSubtitle
)

func (k Kind) String() string {
	switch k {
	case KindVideo:
		return "video"
	case KindAudio:
		return "audio"
	case KindSubtitle:
		return "subtitle"
	default:
		return "unknown"
	}
}

// Metadata is a shared, immutable description of the stream a sample
// belongs to. Callers must not mutate a Metadata value once attached to a
// sample; copy it first if a derived variant is needed.
type Metadata struct {
	Kind         Kind
	Codec        string
	CodecPrivate []byte

	SampleRate int
	Channels   int

	Width, Height int
	FrameRateNum  int64
	FrameRateDen  int64

	Bitrate uint64
}

var (
	// ErrAttributeSet is returned when an attribute key is written twice.
	ErrAttributeSet = errors.New("sample: attribute already set")
	// ErrAttributeUnset is returned when reading a key that was never set.
	ErrAttributeUnset = errors.New("sample: attribute not set")
	// ErrEmptyAttribute is returned when setting an attribute to nil/empty data.
	ErrEmptyAttribute = errors.New("sample: cannot set an empty attribute")
	// ErrMetadataSet is returned when metadata is attached a second time.
	ErrMetadataSet = errors.New("sample: metadata already set")
	// ErrNotRecyclable is returned by mutating operations on a sample that
	// isn't safe to write to in place.
	ErrNotRecyclable = errors.New("sample: sample is not recyclable")
	// ErrSharedPayload is returned by mutating operations on a sample that
	// references another sample's payload.
	ErrSharedPayload = errors.New("sample: payload is a shared reference")
)

// payload is the storage backing a Sample: either an owned buffer or a
// zero-copy reference into another Sample's payload.
type payload interface {
	bytes() []byte
	recyclable() bool
}

type ownedPayload struct {
	buf []byte
}

func (p *ownedPayload) bytes() []byte   { return p.buf }
func (p *ownedPayload) recyclable() bool { return true }

// sharedPayload references another Sample's payload without copying it.
// Recyclability delegates to the referenced sample, matching the original
// DataBaseRef::isRecyclable() forwarding.
type sharedPayload struct {
	ref *Sample
}

func (p *sharedPayload) bytes() []byte    { return p.ref.Bytes() }
func (p *sharedPayload) recyclable() bool { return p.ref.Recyclable() }

// Sample is the unit of dataflow. The zero value is not usable; construct
// with NewRaw or NewReference. A nil *Sample denotes end-of-stream
// wherever one is expected in a Push/post call.
type Sample struct {
	mu sync.Mutex

	payload payload

	metadataSet bool
	metadata    *Metadata

	pts, dts int64
	flags    Flags

	attrOrder []int
	attrs     map[int][]byte
}

// NewRaw allocates an owned, recyclable sample of size bytes.
func NewRaw(size int) *Sample {
	return &Sample{payload: &ownedPayload{buf: make([]byte, size)}}
}

// NewReference creates a sample that shares parent's payload zero-copy and
// inherits its metadata, timestamps and flags. If parent already
// references another sample, the new sample references that underlying
// sample directly rather than chaining, matching the original's
// ref-to-ref collapsing.
func NewReference(parent *Sample) *Sample {
	s := &Sample{}
	if parent == nil {
		return s
	}

	parent.mu.Lock()
	s.pts = parent.pts
	s.dts = parent.dts
	s.flags = parent.flags
	s.metadata = parent.metadata
	s.metadataSet = parent.metadataSet
	underlying := parent
	if ref, ok := parent.payload.(*sharedPayload); ok {
		underlying = ref.ref
	}
	parent.mu.Unlock()

	s.payload = &sharedPayload{ref: underlying}
	return s
}

// SetMetadata attaches m, once. A second call returns ErrMetadataSet.
func (s *Sample) SetMetadata(m *Metadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.metadataSet {
		return ErrMetadataSet
	}
	s.metadata = m
	s.metadataSet = true
	return nil
}

// Metadata returns the attached metadata, or nil if none was set.
func (s *Sample) Metadata() *Metadata {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metadata
}

// SetAttribute attaches data under key, once. Setting an empty slice or an
// already-set key is an error.
func (s *Sample) SetAttribute(key int, data []byte) error {
	if len(data) == 0 {
		return ErrEmptyAttribute
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attrs == nil {
		s.attrs = make(map[int][]byte)
	}
	if _, ok := s.attrs[key]; ok {
		return ErrAttributeSet
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	s.attrs[key] = cp
	s.attrOrder = append(s.attrOrder, key)
	return nil
}

// Attribute retrieves the bytes set under key. ErrAttributeUnset if never set.
func (s *Sample) Attribute(key int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.attrs[key]
	if !ok {
		return nil, ErrAttributeUnset
	}
	return v, nil
}

// CopyAttributesFrom copies src's entire attribute map onto dst. dst must
// have no attributes of its own yet, since a partial merge could silently
// shadow a key dst already set — callers that need that should copy before
// setting any attribute of their own.
func CopyAttributesFrom(dst, src *Sample) error {
	src.mu.Lock()
	order := make([]int, len(src.attrOrder))
	copy(order, src.attrOrder)
	attrs := make(map[int][]byte, len(src.attrs))
	for k, v := range src.attrs {
		cp := make([]byte, len(v))
		copy(cp, v)
		attrs[k] = cp
	}
	src.mu.Unlock()

	dst.mu.Lock()
	defer dst.mu.Unlock()
	if len(dst.attrs) != 0 {
		return ErrAttributeSet
	}
	dst.attrOrder = order
	dst.attrs = attrs
	return nil
}

// PTS returns the presentation time in Rate ticks.
func (s *Sample) PTS() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pts
}

// SetPTS sets the presentation time in Rate ticks.
func (s *Sample) SetPTS(ticks int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pts = ticks
}

// DTS returns the decoding time in Rate ticks.
func (s *Sample) DTS() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dts
}

// SetDTS sets the decoding time in Rate ticks.
func (s *Sample) SetDTS(ticks int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dts = ticks
}

// Flags returns the cue flags.
func (s *Sample) Flags() Flags {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flags
}

// SetFlags overwrites the cue flags.
func (s *Sample) SetFlags(f Flags) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flags = f
}

// Keyframe reports whether FlagKeyframe is set.
func (s *Sample) Keyframe() bool { return s.Flags()&FlagKeyframe != 0 }

// Discontinuity reports whether FlagDiscontinuity is set.
func (s *Sample) Discontinuity() bool { return s.Flags()&FlagDiscontinuity != 0 }

// Bytes returns the sample's payload. Safe to call concurrently with
// reads; the payload must not be mutated once the sample has been posted.
func (s *Sample) Bytes() []byte {
	return s.payload.bytes()
}

// Recyclable reports whether the payload may be written to in place. A
// shared reference delegates to the sample it references.
func (s *Sample) Recyclable() bool {
	return s.payload.recyclable()
}

// MutableBytes returns the underlying buffer for in-place writes. It fails
// on a non-recyclable sample or a shared reference, either of which must
// not be written to in place.
func (s *Sample) MutableBytes() ([]byte, error) {
	if !s.Recyclable() {
		return nil, ErrNotRecyclable
	}
	owned, ok := s.payload.(*ownedPayload)
	if !ok {
		return nil, ErrSharedPayload
	}
	return owned.buf, nil
}

// Resize grows or shrinks an owned, recyclable sample's buffer in place,
// preserving existing content up to the smaller of the old and new sizes.
func (s *Sample) Resize(n int) error {
	if !s.Recyclable() {
		return ErrNotRecyclable
	}
	owned, ok := s.payload.(*ownedPayload)
	if !ok {
		return ErrSharedPayload
	}
	next := make([]byte, n)
	copy(next, owned.buf)
	owned.buf = next
	return nil
}
