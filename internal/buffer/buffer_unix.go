//go:build !windows

package buffer

import (
	"os"

	"golang.org/x/sys/unix"
)

// NewFileBacked returns a GrowableBuffer backed by a memory-mapped sparse
// file at path, so that after a clean Finalize the artifact survives
// process restarts (spec §4.1 "Backing policy"). Grounded on
// calvinalkan-agent-task's cache_binary.go mmap usage.
func NewFileBacked(path string, initialCapacity uint64) (*Buffer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, ErrIO
	}
	fb := &fileBacking{file: f}
	if initialCapacity > 0 {
		if err := fb.grow(initialCapacity); err != nil {
			_ = f.Close()
			return nil, err
		}
	}
	b := &Buffer{capacity: initialCapacity, backing: fb}
	return b, nil
}

// fileBacking is the mmap-backed backingStore.
type fileBacking struct {
	file *os.File
	data []byte // current mapping; nil until grow() is first called
	size uint64
}

func (fb *fileBacking) bytes() []byte { return fb.data }

func (fb *fileBacking) grow(n uint64) error {
	if n <= fb.size && fb.data != nil {
		return nil
	}
	if fb.data != nil {
		if err := unix.Munmap(fb.data); err != nil {
			return ErrIO
		}
		fb.data = nil
	}
	if err := fb.file.Truncate(int64(n)); err != nil {
		return ErrOutOfSpace
	}
	if n == 0 {
		fb.size = 0
		return nil
	}
	data, err := unix.Mmap(int(fb.file.Fd()), 0, int(n), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return ErrOutOfSpace
	}
	fb.data = data
	fb.size = n
	return nil
}

func (fb *fileBacking) sync(upTo uint64) error {
	if fb.data == nil {
		return nil
	}
	n := upTo
	if n > uint64(len(fb.data)) {
		n = uint64(len(fb.data))
	}
	if n == 0 {
		return nil
	}
	if err := unix.Msync(fb.data[:n], unix.MS_ASYNC); err != nil {
		return ErrIO
	}
	return nil
}

func (fb *fileBacking) truncate(n uint64) error {
	if err := fb.grow(n); err != nil {
		return err
	}
	if fb.data != nil {
		if err := unix.Msync(fb.data, unix.MS_SYNC); err != nil {
			return ErrIO
		}
	}
	return fb.file.Truncate(int64(n))
}

func (fb *fileBacking) close() error {
	if fb.data != nil {
		if err := unix.Munmap(fb.data); err != nil {
			_ = fb.file.Close()
			return ErrIO
		}
		fb.data = nil
	}
	return fb.file.Close()
}
