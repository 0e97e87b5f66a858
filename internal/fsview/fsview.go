// Package fsview adapts the cache core onto a FUSE view (spec §6): a
// full recursive mirror of source_dir in which files with decodable
// source extensions are renamed to the target extension and served
// through internal/reader.Coordinator, while directories and every other
// file pass through unchanged. Grounded on the teacher's internal/vodfs
// package, reworked from its flat Movies/TV catalog split into a 1:1
// recursive directory mirror driven by a single internal/recipe.TargetRecipe.
package fsview

import (
	"time"

	"github.com/castfs/castfs/internal/recipe"
	"github.com/castfs/castfs/internal/registry"
)

// entryTimeout and attrTimeout bound how long the kernel caches a
// directory entry/inode's attributes before re-asking the adapter. Kept
// short since cache entries transition state (Producing -> Finished)
// while a file stays open.
const (
	entryTimeout = 1 * time.Second
	attrTimeout  = 1 * time.Second
)

// FS holds the configuration shared by every node in the mounted tree.
type FS struct {
	// SourceDir is the real directory the view mirrors.
	SourceDir string
	// Recipe is applied to every decodable file in SourceDir (one mount,
	// one target format; spec §6).
	Recipe recipe.TargetRecipe
	Reg    *registry.Registry
}

func (f *FS) key(sourcePath string) recipe.CacheKey {
	return recipe.CacheKey{SourcePath: sourcePath, Recipe: f.Recipe}
}
