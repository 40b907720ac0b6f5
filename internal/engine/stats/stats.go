// Package stats implements the fixed-size counter table exposed to
// external monitoring processes: 256 rows of a zero-padded 255-byte name
// plus an int32 value, the same layout whether the table lives in a
// memory-mapped file (see Open) or only in process memory (see
// NewAnonymous).
package stats

import (
	"bytes"
	"encoding/binary"
	"errors"
	"sync"
)

const (
	// MaxRows is the fixed row count of the table.
	MaxRows = 256
	// NameSize is the zero-padded name field width, in bytes.
	NameSize = 255
	rowSize  = NameSize + 4 // name + little-endian int32 value
)

// TableSize is the total byte size of the backing region.
const TableSize = MaxRows * rowSize

// ErrTableFull is returned by AllocateRow once every row is taken.
var ErrTableFull = errors.New("stats: table is full")

// backing abstracts the byte storage under the table: an mmap'd file on
// platforms that support it, or a plain slice otherwise.
type backing interface {
	bytes() []byte
	close() error
}

// Registry is the fixed-size table. The zero value is not usable;
// construct with NewAnonymous or Open.
type Registry struct {
	mu      sync.Mutex
	back    backing
	nextRow int
}

// NewAnonymous returns a Registry backed only by process memory, for
// filters that don't need an external reader attached.
func NewAnonymous() *Registry {
	return &Registry{back: &memBacking{buf: make([]byte, TableSize)}}
}

// Close releases the backing region. Safe to call on an anonymous registry.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.back.close()
}

// Row is a handle to one allocated table row.
type Row struct {
	reg    *Registry
	offset int
}

// AllocateRow claims the next free row, writes its name (truncated to
// NameSize bytes, zero-padded), and returns a handle for Set/Increment.
// Matches the table's own termination convention: the first row past the
// highest allocated one has an all-zero name.
func (r *Registry) AllocateRow(name string) (*Row, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.nextRow >= MaxRows {
		return nil, ErrTableFull
	}
	idx := r.nextRow
	r.nextRow++

	offset := idx * rowSize
	buf := r.back.bytes()
	nameBytes := make([]byte, NameSize)
	copy(nameBytes, name)
	copy(buf[offset:offset+NameSize], nameBytes)
	binary.LittleEndian.PutUint32(buf[offset+NameSize:offset+rowSize], 0)

	return &Row{reg: r, offset: offset}, nil
}

// Set writes v as the row's value.
func (row *Row) Set(v int32) {
	row.reg.mu.Lock()
	defer row.reg.mu.Unlock()
	buf := row.reg.back.bytes()
	binary.LittleEndian.PutUint32(buf[row.offset+NameSize:row.offset+rowSize], uint32(v))
}

// Increment adds 1 to the row's value and returns the new value. Each
// filter's input increments its row once per sample processed.
func (row *Row) Increment() int32 {
	row.reg.mu.Lock()
	defer row.reg.mu.Unlock()
	buf := row.reg.back.bytes()
	cur := int32(binary.LittleEndian.Uint32(buf[row.offset+NameSize : row.offset+rowSize]))
	cur++
	binary.LittleEndian.PutUint32(buf[row.offset+NameSize:row.offset+rowSize], uint32(cur))
	return cur
}

// Value reads the row's current value.
func (row *Row) Value() int32 {
	row.reg.mu.Lock()
	defer row.reg.mu.Unlock()
	buf := row.reg.back.bytes()
	return int32(binary.LittleEndian.Uint32(buf[row.offset+NameSize : row.offset+rowSize]))
}

// Snapshot is one row's name and current value at the time of Snapshot.
type Snapshot struct {
	Name  string
	Value int32
}

// Snapshot reads every allocated row, in allocation order. Unlike an
// external reader scanning the raw backing region, it already knows
// nextRow and so never has to rely on the empty-name termination
// convention to stop.
func (r *Registry) Snapshot() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	buf := r.back.bytes()
	out := make([]Snapshot, 0, r.nextRow)
	for idx := 0; idx < r.nextRow; idx++ {
		offset := idx * rowSize
		name := string(bytes.TrimRight(buf[offset:offset+NameSize], "\x00"))
		value := int32(binary.LittleEndian.Uint32(buf[offset+NameSize : offset+rowSize]))
		out = append(out, Snapshot{Name: name, Value: value})
	}
	return out
}

type memBacking struct {
	buf []byte
}

func (m *memBacking) bytes() []byte { return m.buf }
func (m *memBacking) close() error  { return nil }
