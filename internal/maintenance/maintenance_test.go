package maintenance

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/castfs/castfs/internal/cachepath"
	"github.com/castfs/castfs/internal/recipe"
	"github.com/castfs/castfs/internal/registry"
)

func writeSource(t *testing.T, dir, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func passthroughKey(source string) recipe.CacheKey {
	return recipe.CacheKey{SourcePath: source, Recipe: recipe.TargetRecipe{Format: recipe.FormatMP3, AutoCopy: true}}
}

func waitFinished(t *testing.T, h *registry.CacheEntryHandle) {
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

func TestPruneNow_evictsStaleEntry(t *testing.T) {
	srcDir := t.TempDir()
	src := writeSource(t, srcDir, "a.mp3", []byte("data"))

	reg, err := registry.New(
		cachepath.Layout{CacheRoot: t.TempDir(), MountID: "testmount"},
		registry.Policy{SuspendAfter: time.Hour, AbortAfter: 2 * time.Hour},
	)
	if err != nil {
		t.Fatal(err)
	}
	defer reg.Shutdown()

	h, err := reg.Open(passthroughKey(src))
	if err != nil {
		t.Fatal(err)
	}
	waitFinished(t, h)
	reg.Close(h, false)

	later := time.Now().Add(time.Hour)
	if err := os.Chtimes(src, later, later); err != nil {
		t.Fatal(err)
	}

	r := New(reg, srcDir, registry.Budget{}, time.Hour, 0)
	n := r.PruneNow()
	if n != 1 {
		t.Fatalf("PruneNow deleted=%d, want 1", n)
	}
}

func TestStart_tickRespectsIsLeader(t *testing.T) {
	srcDir := t.TempDir()
	src := writeSource(t, srcDir, "a.mp3", []byte("data"))

	reg, err := registry.New(
		cachepath.Layout{CacheRoot: t.TempDir(), MountID: "testmount"},
		registry.Policy{SuspendAfter: time.Hour, AbortAfter: 2 * time.Hour},
	)
	if err != nil {
		t.Fatal(err)
	}
	defer reg.Shutdown()

	h, err := reg.Open(passthroughKey(src))
	if err != nil {
		t.Fatal(err)
	}
	waitFinished(t, h)
	reg.Close(h, false)

	later := time.Now().Add(time.Hour)
	if err := os.Chtimes(src, later, later); err != nil {
		t.Fatal(err)
	}

	r := New(reg, srcDir, registry.Budget{}, 5*time.Millisecond, 0)
	r.IsLeader = func() bool { return false }
	r.Start()
	time.Sleep(50 * time.Millisecond)
	r.Stop()

	if len(reg.Snapshot()) != 1 {
		t.Fatalf("expected stale entry to survive while not leader, snapshot=%v", reg.Snapshot())
	}

	r2 := New(reg, srcDir, registry.Budget{}, 5*time.Millisecond, 0)
	r2.Start()
	deadline := time.Now().Add(2 * time.Second)
	for len(reg.Snapshot()) != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("expected leader tick to eventually evict stale entry, snapshot=%v", reg.Snapshot())
		}
		time.Sleep(time.Millisecond)
	}
	r2.Stop()
}

func TestScanSourceTree_countsFilesAndBytes(t *testing.T) {
	srcDir := t.TempDir()
	writeSource(t, srcDir, "a.mp3", []byte("12345"))
	writeSource(t, srcDir, "b.flac", []byte("1234567890"))
	if err := os.Mkdir(filepath.Join(srcDir, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	writeSource(t, filepath.Join(srcDir, "sub"), "c.ogg", []byte("123"))

	r := New(nil, srcDir, registry.Budget{}, time.Hour, 0)
	count, total, err := r.ScanSourceTree(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if count != 3 {
		t.Fatalf("count=%d, want 3", count)
	}
	if total != 18 {
		t.Fatalf("total=%d, want 18", total)
	}
}

func TestScanSourceTree_throttledByLimiter(t *testing.T) {
	srcDir := t.TempDir()
	for i := 0; i < 5; i++ {
		writeSource(t, srcDir, string(rune('a'+i))+".mp3", []byte("x"))
	}

	r := New(nil, srcDir, registry.Budget{}, time.Hour, 10) // 10 entries/sec
	start := time.Now()
	count, _, err := r.ScanSourceTree(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if count != 5 {
		t.Fatalf("count=%d, want 5", count)
	}
	// With burst capacity 11 (entriesPerSecond+1) all 5 tokens are
	// immediately available, so this mainly checks the limiter doesn't
	// block when well under its burst.
	if time.Since(start) > time.Second {
		t.Fatalf("scan took unexpectedly long: %v", time.Since(start))
	}
}
