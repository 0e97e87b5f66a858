package metrics

import (
	"context"
	"time"

	"github.com/castfs/castfs/internal/cacheentry"
	"github.com/castfs/castfs/internal/registry"
)

// RunCollector periodically samples reg's snapshot into the package-level
// gauges, in the style of TorrX's updateEngineMetrics ticker loop
// (services/torrent-engine/cmd/server/main.go), adapted from one ticker
// per concern (session state, torrent list, health) to a single tick since
// a registry snapshot is cheap relative to the engine's multiple RPCs.
func RunCollector(ctx context.Context, reg *registry.Registry, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sample(reg)
		}
	}
}

func sample(reg *registry.Registry) {
	snap := reg.Snapshot()
	CacheEntriesTotal.Set(float64(len(snap)))

	counts := map[cacheentry.State]int{}
	var bytesOnDisk, watermark uint64
	for _, h := range snap {
		counts[h.Entry.State()]++
		if h.Entry.Finished() {
			bytesOnDisk += h.Entry.EncodedSize()
		} else {
			watermark += h.Entry.Watermark()
		}
	}
	for _, s := range []cacheentry.State{
		cacheentry.Fresh, cacheentry.Opening, cacheentry.Producing,
		cacheentry.Suspended, cacheentry.Finished, cacheentry.Errored, cacheentry.Closing,
	} {
		CacheEntryStateTotal.WithLabelValues(s.String()).Set(float64(counts[s]))
	}
	CacheBytesOnDisk.Set(float64(bytesOnDisk))
	WatermarkBytesTotal.Set(float64(watermark))
}
