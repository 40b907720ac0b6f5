//go:build !unix

package stats

import "os"

// Open is unsupported on this platform; callers fall back to
// NewAnonymous. No pack example targets Windows for this kind of
// shared-memory-backed diagnostics table.
func Open(path string) (*Registry, error) {
	return nil, &os.PathError{Op: "open", Path: path, Err: os.ErrInvalid}
}
