//go:build !linux
// +build !linux

package fsview

import (
	"context"
	"fmt"
)

// Mount is unavailable on non-Linux builds because fsview depends on go-fuse.
func Mount(mountPoint string, fsys *FS, allowOther bool) error {
	return fmt.Errorf("fsview mount is only supported on linux builds")
}

// MountBackground is unavailable on non-Linux builds because fsview
// depends on go-fuse.
func MountBackground(_ context.Context, mountPoint string, fsys *FS, allowOther bool) (func(), error) {
	return nil, fmt.Errorf("fsview mount is only supported on linux builds")
}
