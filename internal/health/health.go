// Package health implements readiness probes for the admin HTTP server's
// /healthz endpoint: is the cache root writable, is the source directory
// reachable, and is there still headroom above min_diskspace.
package health

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"golang.org/x/sys/unix"
)

// CheckCacheRoot verifies root exists and a process can create and remove
// a file in it, catching read-only remounts or permission regressions
// before a producer discovers them mid-transcode.
func CheckCacheRoot(root string) error {
	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("cache_root: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("cache_root: %s is not a directory", root)
	}
	probe, err := os.CreateTemp(root, ".health-*")
	if err != nil {
		return fmt.Errorf("cache_root: not writable: %w", err)
	}
	name := probe.Name()
	probe.Close()
	if err := os.Remove(name); err != nil {
		return fmt.Errorf("cache_root: cannot remove probe file: %w", err)
	}
	return nil
}

// CheckSourceDir verifies dir exists and is readable. Returns the first
// error encountered, or nil if the directory can be listed.
func CheckSourceDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("source_dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("source_dir: %s is not a directory", dir)
	}
	f, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("source_dir: not readable: %w", err)
	}
	defer f.Close()
	if _, err := f.Readdirnames(1); err != nil && err != io.EOF {
		// io.EOF just means the directory is empty, which is healthy; any
		// other error indicates a real reachability problem (e.g. a
		// dangling network mount).
		return fmt.Errorf("source_dir: %w", err)
	}
	return nil
}

// CheckDiskSpace reports an error if the filesystem backing root has less
// than minFreeBytes available, mirroring the pressure check
// internal/registry/evict.go performs before an eviction pass.
func CheckDiskSpace(root string, minFreeBytes int64) error {
	var stat unix.Statfs_t
	if err := unix.Statfs(filepath.Clean(root), &stat); err != nil {
		return fmt.Errorf("disk_space: statfs %s: %w", root, err)
	}
	free := int64(stat.Bavail) * int64(stat.Bsize)
	if free < minFreeBytes {
		return fmt.Errorf("disk_space: %s free, want at least %s",
			humanize.Bytes(uint64(free)), humanize.Bytes(uint64(minFreeBytes)))
	}
	return nil
}

// Check runs every readiness probe and returns the first failure, or nil
// if the instance is ready to serve. ctx is accepted for symmetry with
// the original provider-reachability checks this package replaced, even
// though the current probes are all local filesystem calls with no
// natural cancellation point.
func Check(ctx context.Context, cacheRoot, sourceDir string, minFreeBytes int64) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	if err := CheckCacheRoot(cacheRoot); err != nil {
		return err
	}
	if err := CheckSourceDir(sourceDir); err != nil {
		return err
	}
	if err := CheckDiskSpace(cacheRoot, minFreeBytes); err != nil {
		return err
	}
	return nil
}
