package registry

import (
	"log"
	"os"
	"sort"
	"time"

	"golang.org/x/sys/unix"
)

// Budget bounds a single Prune call: byte ceiling and free-space floor for
// the cache volume (spec §4.6 "Eviction policy").
type Budget struct {
	MaxCacheSize int64 // 0 = unlimited
	MinDiskspace int64 // 0 = no floor
}

// Prune evaluates the three eviction rules in order (spec §4.6):
//  1. stale source_mtime
//  2. older than expiry_age
//  3. size/diskspace pressure, LRU by accessed_at, skipping ref_count > 0
//
// It returns the number of entries deleted.
func (r *Registry) Prune(budget Budget) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	deleted := 0
	deleted += r.evictStaleLocked()
	deleted += r.evictExpiredLocked()
	deleted += r.evictUnderPressureLocked(budget)
	return deleted
}

func (r *Registry) evictStaleLocked() int {
	n := 0
	for _, h := range r.snapshotLocked() {
		if h.Entry.RefCount() > 0 {
			continue
		}
		srcInfo, err := os.Stat(h.Key.SourcePath)
		stale := err != nil || !h.Entry.SourceMtime().Equal(srcInfo.ModTime())
		if stale {
			r.deleteLocked(h)
			n++
		}
	}
	return n
}

func (r *Registry) evictExpiredLocked() int {
	if r.policy.ExpiryAge <= 0 {
		return 0
	}
	n := 0
	cutoff := time.Now().Add(-r.policy.ExpiryAge)
	for _, h := range r.snapshotLocked() {
		if h.Entry.RefCount() > 0 {
			continue
		}
		if _, ok := r.entries[h.Key]; !ok {
			continue // already removed by an earlier rule this pass
		}
		if h.Entry.CreatedAt().Before(cutoff) {
			r.deleteLocked(h)
			n++
		}
	}
	return n
}

func (r *Registry) evictUnderPressureLocked(budget Budget) int {
	n := 0
	for r.underPressureLocked(budget) {
		victim := r.lruVictimLocked()
		if victim == nil {
			break // nothing left that's safe to evict
		}
		r.deleteLocked(victim)
		n++
	}
	return n
}

// underPressureLocked reports whether total cache size exceeds
// budget.MaxCacheSize, or free space on the cache volume is below
// budget.MinDiskspace.
func (r *Registry) underPressureLocked(budget Budget) bool {
	if budget.MaxCacheSize > 0 {
		var total int64
		for _, h := range r.entries {
			total += int64(h.Entry.EncodedSize())
		}
		if total > budget.MaxCacheSize {
			return true
		}
	}
	if budget.MinDiskspace > 0 {
		var stat unix.Statfs_t
		if err := unix.Statfs(r.layout.CacheRoot, &stat); err == nil {
			free := int64(stat.Bavail) * int64(stat.Bsize)
			if free < budget.MinDiskspace {
				return true
			}
		}
	}
	return false
}

// lruVictimLocked returns the least-recently-accessed evictable entry
// (ref_count == 0), preferring the secondary index's ordering when
// available and falling back to a linear scan over the live map.
func (r *Registry) lruVictimLocked() *CacheEntryHandle {
	if r.idx != nil {
		if hashes, err := r.idx.leastRecentlyAccessed(len(r.entries)); err == nil {
			for _, h := range hashes {
				for _, handle := range r.entries {
					if handle.Key.Hash() == h && handle.Entry.RefCount() == 0 {
						return handle
					}
				}
			}
		} else {
			log.Printf("registry: index LRU query failed, falling back to linear scan: %v", err)
		}
	}

	var (
		victim *CacheEntryHandle
		oldest time.Time
	)
	for _, h := range r.entries {
		if h.Entry.RefCount() != 0 {
			continue
		}
		at := h.Entry.AccessedAt()
		if victim == nil || at.Before(oldest) {
			victim, oldest = h, at
		}
	}
	return victim
}

func (r *Registry) snapshotLocked() []*CacheEntryHandle {
	out := make([]*CacheEntryHandle, 0, len(r.entries))
	for _, h := range r.entries {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.String() < out[j].Key.String() })
	return out
}
