package registry

import (
	"os"

	"github.com/castfs/castfs/internal/buffer"
	"github.com/castfs/castfs/internal/cacheentry"
	"github.com/castfs/castfs/internal/recipe"
)

// tryHydrate attempts to resurrect a Finished entry from an on-disk
// {artifact, info} pair (spec §4.6 "Hydration"). It reports ok=false when
// no usable pair exists, deleting any stale pair it finds along the way.
func (r *Registry) tryHydrate(key recipe.CacheKey, artifact, infoPath string) (*cacheentry.CacheEntry, bool) {
	rec, err := cacheentry.ReadInfo(infoPath)
	if err != nil {
		return nil, false
	}

	srcInfo, err := os.Stat(key.SourcePath)
	if err != nil {
		// Source vanished: the artifact can't be verified fresh, so it is
		// stale by definition.
		r.removeStalePair(artifact, infoPath)
		return nil, false
	}

	if !rec.SourceMtime.Equal(srcInfo.ModTime()) || rec.Errored || !rec.Finished {
		r.removeStalePair(artifact, infoPath)
		return nil, false
	}

	buf, err := buffer.NewFileBacked(artifact, rec.EncodedSize)
	if err != nil {
		r.removeStalePair(artifact, infoPath)
		return nil, false
	}
	if err := buf.Finalize(rec.EncodedSize); err != nil {
		_ = buf.Close()
		r.removeStalePair(artifact, infoPath)
		return nil, false
	}

	return cacheentry.Hydrate(key, buf, rec), true
}

func (r *Registry) removeStalePair(artifact, infoPath string) {
	_ = os.Remove(artifact)
	_ = os.Remove(infoPath)
}
