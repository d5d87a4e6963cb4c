//go:build !linux

package osio

import "os"

// Fdatasync falls back to a full fsync on platforms without a separate
// data-only sync.
func Fdatasync(f *os.File) error {
	return f.Sync()
}
