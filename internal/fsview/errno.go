package fsview

import (
	"errors"
	"os"
	"syscall"

	"github.com/castfs/castfs/internal/registry"
	"github.com/castfs/castfs/internal/transcoder"
)

// errnoFromOSError maps a directory/file stat failure to the errno the
// file-system adapter must surface (spec §7: "the file-system adapter maps
// core errors to POSIX errno values").
func errnoFromOSError(err error) syscall.Errno {
	switch {
	case err == nil:
		return 0
	case os.IsNotExist(err):
		return syscall.ENOENT
	case os.IsPermission(err):
		return syscall.EACCES
	default:
		return syscall.EIO
	}
}

// errnoFromCoreError maps the cache core's sentinel errors (spec §7
// taxonomy) to errno.
func errnoFromCoreError(err error) syscall.Errno {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, transcoder.ErrSourceMissing):
		return syscall.ENOENT
	case errors.Is(err, transcoder.ErrUnsupportedCodec):
		return syscall.ENOSYS
	case errors.Is(err, transcoder.ErrSourceCorrupt):
		return syscall.EIO
	case errors.Is(err, registry.ErrClosed):
		return syscall.ESTALE
	default:
		return syscall.EIO
	}
}
