//go:build linux
// +build linux

package fsview

import (
	"context"
	"os"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
)

// PassthroughFileNode serves a real file whose name and bytes are
// unchanged by the view (spec §6: "all other names pass through
// unchanged") — anything not recognized as a decodable source extension:
// artwork, playlists, already-target-format files under a non-auto_copy
// recipe, arbitrary sidecar files.
type PassthroughFileNode struct {
	fs.Inode
	realPath string
}

var _ fs.NodeGetattrer = (*PassthroughFileNode)(nil)
var _ fs.NodeOpener = (*PassthroughFileNode)(nil)
var _ fs.NodeReader = (*PassthroughFileNode)(nil)

func (n *PassthroughFileNode) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	info, err := os.Stat(n.realPath)
	if err != nil {
		return errnoFromOSError(err)
	}
	out.Size = uint64(info.Size())
	out.Mode = fuse.S_IFREG | 0444
	mtime := info.ModTime()
	out.SetTimes(nil, &mtime, nil)
	return 0
}

func (n *PassthroughFileNode) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	f, err := os.Open(n.realPath)
	if err != nil {
		return nil, 0, errnoFromOSError(err)
	}
	return &passthroughHandle{f: f}, 0, 0
}

func (n *PassthroughFileNode) Read(ctx context.Context, f fs.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	ph, ok := f.(*passthroughHandle)
	if !ok || ph == nil {
		return nil, syscall.EIO
	}
	nread, err := ph.f.ReadAt(dest, off)
	if err != nil && nread == 0 {
		return nil, syscall.EIO
	}
	return fuse.ReadResultData(dest[:nread]), 0
}

func (n *PassthroughFileNode) Release(ctx context.Context, f fs.FileHandle) syscall.Errno {
	if ph, ok := f.(*passthroughHandle); ok && ph != nil {
		_ = ph.f.Close()
	}
	return 0
}

var _ fs.NodeReleaser = (*PassthroughFileNode)(nil)

type passthroughHandle struct {
	f *os.File
}
