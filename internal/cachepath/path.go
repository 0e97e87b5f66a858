// Package cachepath derives the on-disk artifact and info-sidecar paths
// for a cache key (spec §6: "Persisted state layout").
package cachepath

import (
	"path/filepath"
	"strings"

	"github.com/castfs/castfs/internal/recipe"
)

// InfoSuffix is appended to the artifact path to name its sidecar.
const InfoSuffix = ".info"

// Layout resolves cache keys to on-disk paths under a single
// {cache_root}/{mount_id} tree.
type Layout struct {
	CacheRoot string
	MountID   string
}

// Artifact returns the path of the encoded-bytes file for key.
func (l Layout) Artifact(key recipe.CacheKey) string {
	return filepath.Join(l.CacheRoot, l.MountID, l.relativePath(key)+"."+key.Recipe.Ext())
}

// Info returns the path of key's sidecar info record.
func (l Layout) Info(key recipe.CacheKey) string {
	return l.Artifact(key) + InfoSuffix
}

// relativePath maps the source path into a filesystem-safe relative path
// scoped by the cache key's hash (source path plus recipe), so two recipes
// for the same source never collide on disk (sanitizeID pattern, adapted
// from the teacher's internal/cache/path.go).
func (l Layout) relativePath(key recipe.CacheKey) string {
	safe := sanitize(key.SourcePath)
	return filepath.Join(safe, key.Hash()[:16])
}

func sanitize(p string) string {
	s := strings.ReplaceAll(p, "\x00", "_")
	s = strings.TrimPrefix(s, string(filepath.Separator))
	s = strings.ReplaceAll(s, "..", "_")
	if s == "" {
		s = "unknown"
	}
	return s
}
