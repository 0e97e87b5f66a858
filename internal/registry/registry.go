// Package registry implements the process-wide cache registry (spec §4.5):
// a reference-counted map from CacheKey to CacheEntry, with disk hydration,
// eviction, and a SQLite-backed secondary index for fast LRU ordering.
package registry

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/castfs/castfs/internal/buffer"
	"github.com/castfs/castfs/internal/cacheentry"
	"github.com/castfs/castfs/internal/cachepath"
	"github.com/castfs/castfs/internal/recipe"
	"github.com/castfs/castfs/internal/transcoder"
)

// ErrClosed is returned by Open once Shutdown has completed.
var ErrClosed = errors.New("registry: closed")

// Policy collects the eviction/producer knobs the registry needs, mirroring
// the subset of config.Config it consumes directly.
type Policy struct {
	ExpiryAge    time.Duration
	SuspendAfter time.Duration
	AbortAfter   time.Duration
	DisableCache bool

	// MaxProducers caps the number of simultaneously active producer
	// goroutines (spec §5 "Bounded concurrency"). 0 means unlimited.
	MaxProducers int
}

// Registry is the process-wide cache registry. The zero value is not
// usable; construct with New.
type Registry struct {
	layout cachepath.Layout
	policy Policy

	// mu protects entries. Registry methods call into CacheEntry (and so
	// take per-entry mutexes) while holding mu, but no CacheEntry code ever
	// takes mu, so the order is always mu before an entry mutex, avoiding
	// the lock-order inversion spec §4.5 calls out explicitly.
	mu      sync.RWMutex
	entries map[recipe.CacheKey]*CacheEntryHandle

	shuttingDown atomic.Bool

	idx *index // secondary LRU index; nil when disabled

	// producerSlots bounds concurrently active producers (spec §5). A
	// buffered channel used as a counting semaphore; nil when
	// Policy.MaxProducers is 0 (unbounded). New producers above the cap
	// wait here, with their requesting reader, exactly as spec §5
	// describes ("new producers above the cap wait ... on a process-wide
	// condition variable").
	producerSlots chan struct{}
}

// CacheEntryHandle pairs a CacheEntry with the on-disk paths needed to
// evict or reopen it.
type CacheEntryHandle struct {
	Entry    *cacheentry.CacheEntry
	Key      recipe.CacheKey
	Artifact string
	InfoPath string
}

// New constructs a Registry rooted at layout, applying policy, and opens
// (or creates) its secondary index database under layout.CacheRoot.
func New(layout cachepath.Layout, policy Policy) (*Registry, error) {
	r := &Registry{
		layout:  layout,
		policy:  policy,
		entries: make(map[recipe.CacheKey]*CacheEntryHandle),
	}
	if policy.MaxProducers > 0 {
		r.producerSlots = make(chan struct{}, policy.MaxProducers)
	}
	if !policy.DisableCache {
		idxPath := filepath.Join(layout.CacheRoot, layout.MountID, "index.db")
		if err := os.MkdirAll(filepath.Dir(idxPath), 0o755); err != nil {
			return nil, fmt.Errorf("registry: prepare index dir: %w", err)
		}
		idx, err := openIndex(idxPath)
		if err != nil {
			return nil, fmt.Errorf("registry: open index: %w", err)
		}
		r.idx = idx
	}
	return r, nil
}

// Open resolves key to a CacheEntry: returns the already-live entry with an
// incremented reference count, hydrates a finished entry from disk, or
// creates a brand new entry and starts its producer.
func (r *Registry) Open(key recipe.CacheKey) (*CacheEntryHandle, error) {
	if r.shuttingDown.Load() {
		return nil, ErrClosed
	}

	r.mu.Lock()
	if h, ok := r.entries[key]; ok {
		r.mu.Unlock()
		h.Entry.Attach()
		r.touchIndex(h)
		return h, nil
	}
	r.mu.Unlock()

	// Bounded concurrency (spec §5): creating a brand new entry may start
	// a producer, so this call — the requesting reader — blocks here for
	// a free slot before creating one, rather than queuing inside the
	// producer itself. Done without holding mu so a producer finishing
	// elsewhere (which releases its slot) is never blocked behind this call.
	r.acquireProducerSlot()

	r.mu.Lock()
	if h, ok := r.entries[key]; ok {
		// Another caller created the entry while this one waited for a
		// slot it no longer needs.
		r.mu.Unlock()
		r.releaseProducerSlot()
		h.Entry.Attach()
		r.touchIndex(h)
		return h, nil
	}

	artifact := r.layout.Artifact(key)
	infoPath := r.layout.Info(key)
	h := &CacheEntryHandle{Key: key, Artifact: artifact, InfoPath: infoPath}

	entry, created, err := r.openOrHydrateLocked(key, artifact, infoPath)
	if err != nil {
		r.mu.Unlock()
		r.releaseProducerSlot()
		return nil, err
	}
	h.Entry = entry
	r.entries[key] = h
	r.mu.Unlock()

	// This call's own reference: a freshly created entry's ref_count so
	// far only reflects the producer's implicit hold (or, for a hydrated
	// entry, nothing at all), so the first opener must register itself
	// too (spec §3 "ref_count: number of live readers + 1 while producer
	// is running").
	entry.Attach()

	r.touchIndex(h)
	if created {
		log.Printf("registry: opened new entry key=%q artifact=%s", key, artifact)
		go r.releaseProducerSlotWhenDone(entry)
	} else {
		log.Printf("registry: hydrated entry key=%q artifact=%s", key, artifact)
		r.releaseProducerSlot() // hydrated straight to Finished: no producer to wait on
	}
	return h, nil
}

// acquireProducerSlot blocks until a producer slot is free, or returns
// immediately when bounded concurrency is disabled.
func (r *Registry) acquireProducerSlot() {
	if r.producerSlots != nil {
		r.producerSlots <- struct{}{}
	}
}

// releaseProducerSlot frees one producer slot.
func (r *Registry) releaseProducerSlot() {
	if r.producerSlots != nil {
		<-r.producerSlots
	}
}

// releaseProducerSlotWhenDone blocks until entry's producer reaches
// Finished or Errored, then frees its slot, reusing the same condvar
// wakeup persistInfoWhenDone waits on rather than polling.
func (r *Registry) releaseProducerSlotWhenDone(entry *cacheentry.CacheEntry) {
	_, _, _, _ = entry.WaitFor(^uint64(0))
	r.releaseProducerSlot()
}

// openOrHydrateLocked must be called with r.mu held. It calls into the new
// CacheEntry (Open) under r.mu, which is safe because no CacheEntry code
// takes r.mu.
func (r *Registry) openOrHydrateLocked(key recipe.CacheKey, artifact, infoPath string) (*cacheentry.CacheEntry, bool, error) {
	if !r.policy.DisableCache {
		if entry, ok := r.tryHydrate(key, artifact, infoPath); ok {
			return entry, false, nil
		}
	}

	var (
		buf *buffer.Buffer
		err error
	)
	if r.policy.DisableCache {
		buf = buffer.New(0)
	} else {
		if mkErr := os.MkdirAll(filepath.Dir(artifact), 0o755); mkErr != nil {
			return nil, false, fmt.Errorf("registry: prepare artifact dir: %w", mkErr)
		}
		buf, err = buffer.NewFileBacked(artifact, 0)
		if err != nil {
			return nil, false, fmt.Errorf("registry: create artifact: %w", err)
		}
	}

	entry := cacheentry.New(key, buf, r.policy.SuspendAfter, r.policy.AbortAfter, &r.shuttingDown)
	entry.Open(key.SourcePath, func() (transcoder.Transcoder, error) {
		return transcoder.New(filepath.Ext(key.SourcePath), key.Recipe)
	})
	if !r.policy.DisableCache {
		go r.persistInfoWhenDone(entry, infoPath)
	}
	return entry, true, nil
}

// persistInfoWhenDone blocks on entry's own condvar until it reaches
// Finished or Errored, then writes its info sidecar so a future process
// can hydrate it (spec §4.6). It reuses WaitFor with an unreachable target
// so it wakes only on the finished/errored broadcast, never busy-polling.
func (r *Registry) persistInfoWhenDone(entry *cacheentry.CacheEntry, infoPath string) {
	_, _, _, _ = entry.WaitFor(^uint64(0))
	rec := entry.InfoSnapshot()
	if err := cacheentry.WriteInfo(infoPath, rec); err != nil {
		log.Printf("registry: persist info failed path=%s err=%v", infoPath, err)
	}
}

// Close releases one reference on h. If the reference count reaches zero
// and the entry is errored, erase is requested, or caching is disabled,
// the entry and its on-disk artifacts are deleted (spec §4.5 close).
func (r *Registry) Close(h *CacheEntryHandle, erase bool) {
	h.Entry.Release()

	r.mu.Lock()
	defer r.mu.Unlock()

	if h.Entry.RefCount() > 0 {
		return
	}
	errored, _ := h.Entry.LastError()
	if !(errored || erase || r.policy.DisableCache) {
		return
	}
	r.deleteLocked(h)
}

// deleteLocked removes h from the map and its on-disk artifacts. Must be
// called with r.mu held.
func (r *Registry) deleteLocked(h *CacheEntryHandle) {
	delete(r.entries, h.Key)
	if r.idx != nil {
		r.idx.remove(h.Key.Hash())
	}
	if err := h.Entry.Close(); err != nil {
		log.Printf("registry: close buffer failed key=%q err=%v", h.Key, err)
	}
	if !r.policy.DisableCache {
		_ = os.Remove(h.Artifact)
		_ = os.Remove(h.InfoPath)
	}
	log.Printf("registry: deleted entry key=%q artifact=%s size=%s age=%s",
		h.Key, h.Artifact, humanize.Bytes(h.Entry.EncodedSize()), humanize.Time(h.Entry.CreatedAt()))
}

// touchIndex records the entry's current size/access time in the secondary
// index, if one is enabled. Index updates are logged-and-ignored on
// failure: the index is an acceleration structure, not the source of
// truth (CacheEntry.accessedAt remains authoritative for reads).
func (r *Registry) touchIndex(h *CacheEntryHandle) {
	if r.idx == nil {
		return
	}
	if err := r.idx.upsert(indexRow{
		Hash:       h.Key.Hash(),
		SourcePath: h.Key.SourcePath,
		Artifact:   h.Artifact,
		Size:       int64(h.Entry.EncodedSize()),
		AccessedAt: h.Entry.AccessedAt().UnixNano(),
		CreatedAt:  h.Entry.CreatedAt().UnixNano(),
	}); err != nil {
		log.Printf("registry: index upsert failed key=%q err=%v", h.Key, err)
	}
}

// Peek returns the already-live handle for key without attaching a
// reference or starting a producer, for getattr's "size is the current
// best known value" rule (spec §6): a stat call must observe an
// in-flight entry's progress without itself opening one.
func (r *Registry) Peek(key recipe.CacheKey) (*CacheEntryHandle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.entries[key]
	return h, ok
}

// Snapshot returns every live handle, for maintenance/diagnostics use.
func (r *Registry) Snapshot() []*CacheEntryHandle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*CacheEntryHandle, 0, len(r.entries))
	for _, h := range r.entries {
		out = append(out, h)
	}
	return out
}

// ShuttingDownFlag exposes the global shutdown flag that every producer
// loop checks (spec §4.7); the maintenance ticker does not read it.
func (r *Registry) ShuttingDownFlag() *atomic.Bool { return &r.shuttingDown }

// Shutdown flips the shutting_down flag so every producer loop aborts, and
// closes the secondary index.
func (r *Registry) Shutdown() error {
	r.shuttingDown.Store(true)
	if r.idx != nil {
		return r.idx.close()
	}
	return nil
}
