//go:build linux
// +build linux

package fsview

import (
	"context"
	"os"
	"path/filepath"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
)

// DirNode mirrors one real directory under a FS's SourceDir. Every lookup
// and readdir re-reads the real directory on demand rather than caching a
// snapshot, so the mirror reflects concurrent changes under source_dir
// (adapted from the teacher's MoviesDirNode/MovieDirNode, generalized from
// a two-level catalog split into an arbitrarily deep recursive mirror).
type DirNode struct {
	fs.Inode
	fsys     *FS
	realPath string
}

var _ fs.NodeLookuper = (*DirNode)(nil)
var _ fs.NodeReaddirer = (*DirNode)(nil)

// NewRoot constructs the root node of the mirrored tree.
func NewRoot(fsys *FS) *DirNode {
	return &DirNode{fsys: fsys, realPath: fsys.SourceDir}
}

func (d *DirNode) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	ents, err := os.ReadDir(d.realPath)
	if err != nil {
		return nil, errnoFromOSError(err)
	}
	out := make([]fuse.DirEntry, 0, len(ents))
	for _, e := range ents {
		name, _ := virtualName(e.Name(), e.IsDir(), d.fsys.Recipe)
		mode := uint32(fuse.S_IFREG)
		if e.IsDir() {
			mode = fuse.S_IFDIR
		}
		out = append(out, fuse.DirEntry{
			Name: name,
			Ino:  inoFromString(filepath.Join(d.realPath, e.Name())),
			Mode: mode,
		})
	}
	return fs.NewListDirStream(out), 0
}

func (d *DirNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	ents, err := os.ReadDir(d.realPath)
	if err != nil {
		return nil, errnoFromOSError(err)
	}
	for _, e := range ents {
		vname, decodable := virtualName(e.Name(), e.IsDir(), d.fsys.Recipe)
		if vname != name {
			continue
		}
		realPath := filepath.Join(d.realPath, e.Name())

		if e.IsDir() {
			child := &DirNode{fsys: d.fsys, realPath: realPath}
			ch := d.NewInode(ctx, child, fs.StableAttr{Mode: fuse.S_IFDIR, Ino: inoFromString(realPath)})
			out.Mode = fuse.S_IFDIR | 0755
			out.SetEntryTimeout(entryTimeout)
			out.SetAttrTimeout(attrTimeout)
			return ch, 0
		}

		info, ierr := e.Info()
		if ierr != nil {
			return nil, errnoFromOSError(ierr)
		}

		if decodable {
			vf := &VirtualFileNode{fsys: d.fsys, sourcePath: realPath, sourceMtime: info.ModTime()}
			ch := d.NewInode(ctx, vf, fs.StableAttr{Mode: fuse.S_IFREG, Ino: inoFromString(realPath)})
			out.Mode = fuse.S_IFREG | 0444
			out.Size = vf.currentSize()
			out.SetEntryTimeout(entryTimeout)
			out.SetAttrTimeout(attrTimeout)
			return ch, 0
		}

		pf := &PassthroughFileNode{realPath: realPath}
		ch := d.NewInode(ctx, pf, fs.StableAttr{Mode: fuse.S_IFREG, Ino: inoFromString(realPath)})
		out.Mode = fuse.S_IFREG | 0444
		out.Size = uint64(info.Size())
		out.SetEntryTimeout(entryTimeout)
		out.SetAttrTimeout(attrTimeout)
		return ch, 0
	}
	return nil, syscall.ENOENT
}
