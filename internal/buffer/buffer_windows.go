//go:build windows

package buffer

import "fmt"

// NewFileBacked is unavailable on Windows builds; the mmap-backed artifact
// store currently depends on golang.org/x/sys/unix. Use an in-memory Buffer
// via New instead.
func NewFileBacked(path string, initialCapacity uint64) (*Buffer, error) {
	return nil, fmt.Errorf("buffer: file-backed GrowableBuffer is only supported on unix builds")
}
