//go:build linux
// +build linux

package fsview

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
)

// Mount mounts the view at mountPoint and blocks until the process
// receives SIGINT/SIGTERM or the FUSE server exits on its own (adapted
// from the teacher's vodfs.MountWithAllowOther).
func Mount(mountPoint string, fsys *FS, allowOther bool) error {
	server, err := mountServer(mountPoint, fsys, allowOther)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	go func() {
		<-ctx.Done()
		log.Println("fsview: unmounting")
		_ = server.Unmount()
	}()

	server.Wait()
	stop()
	return nil
}

// MountBackground mounts the view without blocking and returns an unmount
// function; ctx cancellation also triggers unmount (adapted from the
// teacher's vodfs.MountBackground). Nothing in this module calls it;
// cmd/castfs uses the blocking Mount.
func MountBackground(ctx context.Context, mountPoint string, fsys *FS, allowOther bool) (unmount func(), err error) {
	server, err := mountServer(mountPoint, fsys, allowOther)
	if err != nil {
		return nil, err
	}
	go func() {
		<-ctx.Done()
		_ = server.Unmount()
	}()
	return func() { _ = server.Unmount() }, nil
}

func mountServer(mountPoint string, fsys *FS, allowOther bool) (*fuse.Server, error) {
	root := NewRoot(fsys)
	opts := &fs.Options{
		MountOptions: fuse.MountOptions{
			Debug:      false,
			AllowOther: allowOther,
			FsName:     "castfs",
			Name:       "castfs",
		},
	}
	return fs.Mount(mountPoint, root, opts)
}
