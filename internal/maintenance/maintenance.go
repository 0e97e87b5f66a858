// Package maintenance drives periodic eviction (spec §4.6) and a
// throttled source-tree scan used for diagnostics and capacity planning.
package maintenance

import (
	"context"
	"io/fs"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/time/rate"

	"github.com/castfs/castfs/internal/registry"
)

// Runner owns the periodic maintenance ticker (spec §4.7: "Every tick ...
// only the leader performs prune"). It is not itself a leader election
// mechanism; IsLeader lets the caller (internal/leader, or a single-
// instance cmd/castfs that always returns true) gate the tick.
type Runner struct {
	reg       *registry.Registry
	budget    registry.Budget
	interval  time.Duration
	sourceDir string

	// IsLeader reports whether this process should perform the tick's
	// prune. Defaults to always-true (single-instance mode) if nil.
	IsLeader func() bool

	// scanLimiter throttles ScanSourceTree's directory walk so a large
	// source tree doesn't starve the host of I/O during a scan.
	scanLimiter *rate.Limiter

	stop chan struct{}
	wg   sync.WaitGroup
}

// New constructs a Runner. entriesPerSecond bounds ScanSourceTree's walk
// rate (0 disables the throttle, allowing unlimited scan speed).
func New(reg *registry.Registry, sourceDir string, budget registry.Budget, interval time.Duration, entriesPerSecond float64) *Runner {
	var limiter *rate.Limiter
	if entriesPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(entriesPerSecond), int(entriesPerSecond)+1)
	}
	return &Runner{
		reg:         reg,
		budget:      budget,
		interval:    interval,
		sourceDir:   sourceDir,
		scanLimiter: limiter,
		stop:        make(chan struct{}),
	}
}

// Start launches the maintenance ticker goroutine. Stop must be called to
// release it; Start must not be called twice on the same Runner.
func (r *Runner) Start() {
	r.wg.Add(1)
	go r.tickLoop()
}

// Stop signals the ticker goroutine to exit and waits for it.
func (r *Runner) Stop() {
	close(r.stop)
	r.wg.Wait()
}

func (r *Runner) tickLoop() {
	defer r.wg.Done()
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			if r.isLeader() {
				r.PruneNow()
			}
		}
	}
}

func (r *Runner) isLeader() bool {
	if r.IsLeader == nil {
		return true
	}
	return r.IsLeader()
}

// PruneNow runs one eviction pass immediately (spec §4.6 trigger (c):
// "on explicit CLI request"; also used by the ticker for trigger (a)).
func (r *Runner) PruneNow() int {
	n := r.reg.Prune(r.budget)
	if n > 0 {
		log.Printf("maintenance: pruned %d entries against budget max_cache_size=%s min_diskspace=%s",
			n, humanize.Bytes(uint64(r.budget.MaxCacheSize)), humanize.Bytes(uint64(r.budget.MinDiskspace)))
	}
	return n
}

// EnsureBudget runs one eviction pass immediately, exactly like PruneNow.
// It does not look at any entry's predicted_size, and nothing in this
// module calls it: registry.Open starts a new entry without pruning, so a
// new entry's size is checked against the budget only on the next tick or
// an explicit prune.
func (r *Runner) EnsureBudget() {
	r.PruneNow()
}

// ScanSourceTree walks sourceDir, counting files and total bytes, pausing
// per scanLimiter between directory entries so a large tree doesn't
// compete with producer I/O for disk bandwidth. It is not on any read's
// hot path, and internal/diag snapshots do not call it.
func (r *Runner) ScanSourceTree(ctx context.Context) (fileCount int, totalBytes int64, err error) {
	walkErr := filepath.WalkDir(r.sourceDir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if r.scanLimiter != nil {
			if err := r.scanLimiter.Wait(ctx); err != nil {
				return err
			}
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil // transient stat race; skip rather than abort the whole scan
		}
		fileCount++
		totalBytes += info.Size()
		return nil
	})
	if walkErr != nil {
		return fileCount, totalBytes, walkErr
	}
	return fileCount, totalBytes, nil
}
