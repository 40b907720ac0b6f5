//go:build unix

package stats

import (
	"os"
	"syscall"
)

// mmapBacking is a region backed by a memory-mapped file: any process
// that mmaps the same path sees live updates, the "named shared-memory
// region" the external interface promises.
type mmapBacking struct {
	file *os.File
	data []byte
}

func (m *mmapBacking) bytes() []byte { return m.data }

func (m *mmapBacking) close() error {
	err := syscall.Munmap(m.data)
	if cerr := m.file.Close(); err == nil {
		err = cerr
	}
	return err
}

// Open returns a Registry backed by a memory-mapped file at path, created
// (or truncated) to the fixed table size. Any other process that mmaps
// the same path observes row updates as they happen.
func Open(path string) (*Registry, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	if err := f.Truncate(TableSize); err != nil {
		f.Close()
		return nil, err
	}
	data, err := syscall.Mmap(int(f.Fd()), 0, TableSize, syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &Registry{back: &mmapBacking{file: f, data: data}}, nil
}
