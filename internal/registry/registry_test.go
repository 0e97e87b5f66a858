package registry

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/castfs/castfs/internal/cachepath"
	"github.com/castfs/castfs/internal/recipe"
)

// writeSource creates a small source file whose content the passthrough
// transcoder will copy verbatim, avoiding any dependency on external
// flac/lame/ffmpeg binaries during tests.
func writeSource(t *testing.T, dir, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func testLayout(t *testing.T) cachepath.Layout {
	t.Helper()
	return cachepath.Layout{CacheRoot: t.TempDir(), MountID: "testmount"}
}

func passthroughKey(source string) recipe.CacheKey {
	return recipe.CacheKey{SourcePath: source, Recipe: recipe.TargetRecipe{Format: recipe.FormatMP3, AutoCopy: true}}
}

// waitInfoPersisted waits for the registry's background persistInfoWhenDone
// goroutine to have written h's info sidecar, so a subsequent registry
// instance can hydrate from it deterministically in tests.
func waitInfoPersisted(t *testing.T, h *CacheEntryHandle) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := os.Stat(h.InfoPath); err == nil {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("info sidecar never appeared at %s", h.InfoPath)
		}
		time.Sleep(time.Millisecond)
	}
}

func waitFinished(t *testing.T, h *CacheEntryHandle) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		if h.Entry.Finished() {
			return
		}
		if errored, err := h.Entry.LastError(); errored {
			t.Fatalf("entry errored: %v", err)
		}
		if time.Now().After(deadline) {
			t.Fatalf("entry never finished, state=%s", h.Entry.State())
		}
		time.Sleep(time.Millisecond)
	}
}

func TestOpen_createsAndFinishesEntry(t *testing.T) {
	srcDir := t.TempDir()
	src := writeSource(t, srcDir, "a.mp3", []byte("hello world"))

	r, err := New(testLayout(t), Policy{SuspendAfter: time.Hour, AbortAfter: 2 * time.Hour})
	if err != nil {
		t.Fatal(err)
	}
	defer r.Shutdown()

	h, err := r.Open(passthroughKey(src))
	if err != nil {
		t.Fatal(err)
	}
	waitFinished(t, h)

	if h.Entry.EncodedSize() != uint64(len("hello world")) {
		t.Fatalf("encodedSize=%d", h.Entry.EncodedSize())
	}
	if _, err := os.Stat(h.Artifact); err != nil {
		t.Fatalf("artifact not written: %v", err)
	}
}

func TestOpen_secondOpenSharesEntryAndIncrementsRefCount(t *testing.T) {
	srcDir := t.TempDir()
	src := writeSource(t, srcDir, "a.mp3", []byte("data"))

	r, err := New(testLayout(t), Policy{SuspendAfter: time.Hour, AbortAfter: 2 * time.Hour})
	if err != nil {
		t.Fatal(err)
	}
	defer r.Shutdown()

	key := passthroughKey(src)
	h1, err := r.Open(key)
	if err != nil {
		t.Fatal(err)
	}
	waitFinished(t, h1)

	h2, err := r.Open(key)
	if err != nil {
		t.Fatal(err)
	}
	if h1.Entry != h2.Entry {
		t.Fatal("expected the same entry to be reused")
	}
	if h2.Entry.RefCount() < 2 {
		t.Fatalf("refCount=%d, want >= 2", h2.Entry.RefCount())
	}
}

func TestClose_deletesArtifactWhenErasedAndRefCountZero(t *testing.T) {
	srcDir := t.TempDir()
	src := writeSource(t, srcDir, "a.mp3", []byte("data"))

	r, err := New(testLayout(t), Policy{SuspendAfter: time.Hour, AbortAfter: 2 * time.Hour})
	if err != nil {
		t.Fatal(err)
	}
	defer r.Shutdown()

	h, err := r.Open(passthroughKey(src))
	if err != nil {
		t.Fatal(err)
	}
	waitFinished(t, h)

	r.Close(h, true)

	if _, err := os.Stat(h.Artifact); !os.IsNotExist(err) {
		t.Fatalf("expected artifact removed, stat err=%v", err)
	}
	if got, err := r.Open(passthroughKey(src)); err != nil || got.Entry == h.Entry {
		t.Fatalf("expected a fresh entry after erase, got same=%v err=%v", got.Entry == h.Entry, err)
	}
}

func TestClose_keepsEntryWhenNotErased(t *testing.T) {
	srcDir := t.TempDir()
	src := writeSource(t, srcDir, "a.mp3", []byte("data"))

	r, err := New(testLayout(t), Policy{SuspendAfter: time.Hour, AbortAfter: 2 * time.Hour})
	if err != nil {
		t.Fatal(err)
	}
	defer r.Shutdown()

	key := passthroughKey(src)
	h, err := r.Open(key)
	if err != nil {
		t.Fatal(err)
	}
	waitFinished(t, h)

	r.Close(h, false)

	h2, err := r.Open(key)
	if err != nil {
		t.Fatal(err)
	}
	if h2.Entry != h.Entry {
		t.Fatal("expected entry to remain cached across close/reopen")
	}
}

func TestOpen_hydratesFromDiskAcrossRegistries(t *testing.T) {
	srcDir := t.TempDir()
	src := writeSource(t, srcDir, "a.mp3", []byte("persisted bytes"))
	layout := testLayout(t)
	key := passthroughKey(src)

	r1, err := New(layout, Policy{SuspendAfter: time.Hour, AbortAfter: 2 * time.Hour})
	if err != nil {
		t.Fatal(err)
	}
	h1, err := r1.Open(key)
	if err != nil {
		t.Fatal(err)
	}
	waitFinished(t, h1)
	waitInfoPersisted(t, h1)
	// Release our reference but keep the artifact on disk.
	r1.Close(h1, false)
	if err := r1.Shutdown(); err != nil {
		t.Fatal(err)
	}

	r2, err := New(layout, Policy{SuspendAfter: time.Hour, AbortAfter: 2 * time.Hour})
	if err != nil {
		t.Fatal(err)
	}
	defer r2.Shutdown()

	h2, err := r2.Open(key)
	if err != nil {
		t.Fatal(err)
	}
	if !h2.Entry.Finished() {
		t.Fatalf("expected hydrated entry to be Finished immediately, state=%s", h2.Entry.State())
	}
	if h2.Entry.EncodedSize() != uint64(len("persisted bytes")) {
		t.Fatalf("encodedSize=%d", h2.Entry.EncodedSize())
	}
}

func TestOpen_staleMtimeForcesRetranscode(t *testing.T) {
	srcDir := t.TempDir()
	src := writeSource(t, srcDir, "a.mp3", []byte("v1"))
	layout := testLayout(t)
	key := passthroughKey(src)

	r1, err := New(layout, Policy{SuspendAfter: time.Hour, AbortAfter: 2 * time.Hour})
	if err != nil {
		t.Fatal(err)
	}
	h1, err := r1.Open(key)
	if err != nil {
		t.Fatal(err)
	}
	waitFinished(t, h1)
	waitInfoPersisted(t, h1)
	r1.Close(h1, false)
	if err := r1.Shutdown(); err != nil {
		t.Fatal(err)
	}

	// Mutate the source so its mtime no longer matches the persisted info.
	later := time.Now().Add(time.Hour)
	if err := os.WriteFile(src, []byte("v2, longer content"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(src, later, later); err != nil {
		t.Fatal(err)
	}

	r2, err := New(layout, Policy{SuspendAfter: time.Hour, AbortAfter: 2 * time.Hour})
	if err != nil {
		t.Fatal(err)
	}
	defer r2.Shutdown()

	h2, err := r2.Open(key)
	if err != nil {
		t.Fatal(err)
	}
	waitFinished(t, h2)
	if h2.Entry.EncodedSize() != uint64(len("v2, longer content")) {
		t.Fatalf("expected freshly transcoded content, encodedSize=%d", h2.Entry.EncodedSize())
	}
}

func TestPrune_evictsStaleSourceMtime(t *testing.T) {
	srcDir := t.TempDir()
	src := writeSource(t, srcDir, "a.mp3", []byte("data"))

	r, err := New(testLayout(t), Policy{SuspendAfter: time.Hour, AbortAfter: 2 * time.Hour})
	if err != nil {
		t.Fatal(err)
	}
	defer r.Shutdown()

	key := passthroughKey(src)
	h, err := r.Open(key)
	if err != nil {
		t.Fatal(err)
	}
	waitFinished(t, h)
	r.Close(h, false) // ref_count back to zero, entry stays cached

	later := time.Now().Add(time.Hour)
	if err := os.Chtimes(src, later, later); err != nil {
		t.Fatal(err)
	}

	deleted := r.Prune(Budget{})
	if deleted != 1 {
		t.Fatalf("deleted=%d, want 1", deleted)
	}
	if len(r.Snapshot()) != 0 {
		t.Fatalf("expected entry evicted, snapshot=%v", r.Snapshot())
	}
}

func TestPrune_evictsUnderSizePressureLRU(t *testing.T) {
	srcDir := t.TempDir()
	srcA := writeSource(t, srcDir, "a.mp3", []byte("aaaaaaaaaa"))
	srcB := writeSource(t, srcDir, "b.mp3", []byte("bbbbbbbbbb"))

	r, err := New(testLayout(t), Policy{SuspendAfter: time.Hour, AbortAfter: 2 * time.Hour})
	if err != nil {
		t.Fatal(err)
	}
	defer r.Shutdown()

	hA, err := r.Open(passthroughKey(srcA))
	if err != nil {
		t.Fatal(err)
	}
	waitFinished(t, hA)
	r.Close(hA, false)

	time.Sleep(10 * time.Millisecond) // ensure distinct accessed_at ordering

	hB, err := r.Open(passthroughKey(srcB))
	if err != nil {
		t.Fatal(err)
	}
	waitFinished(t, hB)
	r.Close(hB, false)

	// Budget allows only one entry's worth of bytes: the least-recently
	// accessed (a.mp3) should be evicted, b.mp3 should survive.
	deleted := r.Prune(Budget{MaxCacheSize: 10})
	if deleted != 1 {
		t.Fatalf("deleted=%d, want 1", deleted)
	}
	snap := r.Snapshot()
	if len(snap) != 1 || snap[0].Key.SourcePath != srcB {
		t.Fatalf("expected only b.mp3 to survive, snapshot=%v", snap)
	}
}

func TestPrune_skipsEntriesWithLiveReaders(t *testing.T) {
	srcDir := t.TempDir()
	src := writeSource(t, srcDir, "a.mp3", []byte("data"))

	r, err := New(testLayout(t), Policy{SuspendAfter: time.Hour, AbortAfter: 2 * time.Hour})
	if err != nil {
		t.Fatal(err)
	}
	defer r.Shutdown()

	key := passthroughKey(src)
	h, err := r.Open(key)
	if err != nil {
		t.Fatal(err)
	}
	waitFinished(t, h)
	// Do not Close: ref_count stays >= 1.

	later := time.Now().Add(time.Hour)
	if err := os.Chtimes(src, later, later); err != nil {
		t.Fatal(err)
	}

	deleted := r.Prune(Budget{})
	if deleted != 0 {
		t.Fatalf("deleted=%d, want 0 (entry has a live reader)", deleted)
	}
}

func TestOpen_boundedConcurrencyLimitsActiveProducers(t *testing.T) {
	srcDir := t.TempDir()
	srcA := writeSource(t, srcDir, "a.mp3", []byte("aaaa"))
	srcB := writeSource(t, srcDir, "b.mp3", []byte("bbbb"))

	r, err := New(testLayout(t), Policy{SuspendAfter: time.Hour, AbortAfter: 2 * time.Hour, MaxProducers: 1})
	if err != nil {
		t.Fatal(err)
	}
	defer r.Shutdown()

	ha, err := r.Open(passthroughKey(srcA))
	if err != nil {
		t.Fatal(err)
	}
	waitFinished(t, ha)

	// a.mp3's producer has already finished and released its slot, so a
	// second distinct key must still be able to open and finish promptly
	// even though MaxProducers=1 permits only one active producer at a time.
	hb, err := r.Open(passthroughKey(srcB))
	if err != nil {
		t.Fatal(err)
	}
	waitFinished(t, hb)

	if got := ha.Entry.EncodedSize(); got != 4 {
		t.Errorf("a encoded size=%d, want 4", got)
	}
	if got := hb.Entry.EncodedSize(); got != 4 {
		t.Errorf("b encoded size=%d, want 4", got)
	}
}
