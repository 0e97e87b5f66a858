// Command castfs mounts a read-only, on-demand transcoding view over a
// directory of lossless/arbitrary source media (spec.md): decodable files
// are renamed to a single target format and transcoded into a byte-level
// cache on first read; every other file passes through unchanged.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/netutil"

	"github.com/castfs/castfs/internal/cachepath"
	"github.com/castfs/castfs/internal/config"
	"github.com/castfs/castfs/internal/diag"
	"github.com/castfs/castfs/internal/fsview"
	"github.com/castfs/castfs/internal/health"
	"github.com/castfs/castfs/internal/leader"
	"github.com/castfs/castfs/internal/maintenance"
	"github.com/castfs/castfs/internal/metrics"
	"github.com/castfs/castfs/internal/registry"
	"github.com/castfs/castfs/internal/supervisor"
)

// maxAdminConns bounds the admin HTTP listener's concurrent connections,
// in the style of TorrX's rateLimitMiddleware guarding a shared resource
// from an unbounded number of clients.
const maxAdminConns = 32

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	var err error
	switch os.Args[1] {
	case "mount":
		err = runMount(os.Args[2:])
	case "prune":
		err = runPrune(os.Args[2:])
	case "supervise":
		err = runSupervise(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatal(err)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: castfs <mount|prune|supervise> [flags]")
}

// runMount is the long-running verb: it opens the registry, starts
// maintenance/leader-election/metrics/health, and blocks on the FUSE
// mount until signaled.
func runMount(args []string) error {
	if err := preloadEnvFile(args); err != nil {
		return fmt.Errorf("mount: load env file: %w", err)
	}
	cfg := config.Load()

	fset := flag.NewFlagSet("mount", flag.ExitOnError)
	fset.String("env-file", "", "KEY=VALUE env file loaded before defaults are read (handled via pre-scan, ahead of flag.Parse)")
	fset.StringVar(&cfg.SourceDir, "source-dir", cfg.SourceDir, "directory of source media to mirror")
	fset.StringVar(&cfg.MountPoint, "mount", cfg.MountPoint, "FUSE mount point")
	fset.StringVar(&cfg.CacheRoot, "cache-root", cfg.CacheRoot, "directory under which cached artifacts live")
	fset.StringVar(&cfg.MountID, "mount-id", cfg.MountID, "identifier scoping this mount's cache tree and leader lock")
	fset.StringVar(&cfg.AdminAddr, "admin-addr", cfg.AdminAddr, "admin HTTP listen address (metrics/healthz); empty disables it")
	diagDump := fset.String("diag-dump", "", "path to write a diagnostic snapshot to on SIGUSR1")
	allowOther := fset.Bool("allow-other", false, "allow other users/processes to access the mount")
	fset.Int64Var(&cfg.MaxCacheSize, "max-cache-size", cfg.MaxCacheSize, "byte ceiling triggering LRU eviction; 0 = unlimited")
	fset.Int64Var(&cfg.MinDiskspace, "min-diskspace", cfg.MinDiskspace, "free-space floor on the cache volume")
	fset.DurationVar(&cfg.ExpiryAge, "expiry-age", cfg.ExpiryAge, "wall-clock age at which an entry is unconditionally evicted")
	fset.DurationVar(&cfg.SuspendAfter, "suspend-threshold", cfg.SuspendAfter, "idle time before a producer suspends")
	fset.DurationVar(&cfg.AbortAfter, "abort-threshold", cfg.AbortAfter, "idle time before a suspended producer is aborted")
	fset.IntVar(&cfg.MaxProducers, "max-producers", cfg.MaxProducers, "cap on concurrent producer threads; 0 = unlimited")
	fset.BoolVar(&cfg.DisableCache, "disable-cache", cfg.DisableCache, "delete every entry on last close instead of retaining it")
	fset.DurationVar(&cfg.MaintenanceInterval, "maintenance-interval", cfg.MaintenanceInterval, "how often the maintenance ticker evaluates eviction")
	fset.StringVar((*string)(&cfg.Recipe.Format), "target-format", string(cfg.Recipe.Format), "target container/codec (mp3|mp4)")
	fset.IntVar(&cfg.Recipe.BitrateKbps, "bitrate-kbps", cfg.Recipe.BitrateKbps, "target bitrate in kbps; 0 = encoder default/VBR")
	fset.BoolVar(&cfg.Recipe.VBR, "vbr", cfg.Recipe.VBR, "use variable bitrate encoding")
	fset.BoolVar(&cfg.Recipe.ReplayGain, "replaygain", cfg.Recipe.ReplayGain, "apply ReplayGain during transcode")
	fset.IntVar(&cfg.Recipe.SampleRateCap, "sample-rate-cap", cfg.Recipe.SampleRateCap, "maximum output sample rate in Hz; 0 = no cap")
	fset.IntVar(&cfg.Recipe.EncoderQuality, "encoder-quality", cfg.Recipe.EncoderQuality, "encoder quality knob; 0 = encoder default")
	fset.BoolVar(&cfg.Recipe.AutoCopy, "auto-copy", cfg.Recipe.AutoCopy, "serve an already-compatible source as a passthrough instead of re-encoding")
	if err := fset.Parse(args); err != nil {
		return err
	}

	if cfg.SourceDir == "" {
		return fmt.Errorf("mount: -source-dir (or CASTFS_SOURCE_DIR) is required")
	}

	reg, err := registry.New(
		cachepath.Layout{CacheRoot: cfg.CacheRoot, MountID: cfg.MountID},
		registry.Policy{
			ExpiryAge:    cfg.ExpiryAge,
			SuspendAfter: cfg.SuspendAfter,
			AbortAfter:   cfg.AbortAfter,
			DisableCache: cfg.DisableCache,
			MaxProducers: cfg.MaxProducers,
		},
	)
	if err != nil {
		return fmt.Errorf("mount: open registry: %w", err)
	}
	defer reg.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	elector := leader.New(filepath.Join(cfg.CacheRoot, cfg.MountID, "leader.lock"))
	go func() {
		if err := elector.Run(ctx, 5*time.Second); err != nil {
			log.Printf("castfs: leader election stopped: %v", err)
			return
		}
		log.Printf("castfs: acquired maintenance leadership mount_id=%s", cfg.MountID)
	}()
	defer elector.Release()

	maint := maintenance.New(reg, cfg.SourceDir, registry.Budget{MaxCacheSize: cfg.MaxCacheSize, MinDiskspace: cfg.MinDiskspace}, cfg.MaintenanceInterval, 0)
	maint.IsLeader = elector.IsLeader
	maint.Start()
	defer maint.Stop()

	metrics.Register(prometheus.DefaultRegisterer)
	go metrics.RunCollector(ctx, reg, cfg.MaintenanceInterval)
	go reportLeaderGauge(ctx, elector)

	if *diagDump != "" {
		go watchDiagDumpSignal(ctx, reg, elector, *diagDump)
	}

	var adminServer *http.Server
	if cfg.AdminAddr != "" {
		adminServer, err = startAdminServer(cfg.AdminAddr, cfg.CacheRoot, cfg.SourceDir, cfg.MinDiskspace)
		if err != nil {
			return fmt.Errorf("mount: start admin server: %w", err)
		}
		defer adminServer.Shutdown(context.Background())
	}

	fsys := &fsview.FS{SourceDir: cfg.SourceDir, Recipe: cfg.Recipe, Reg: reg}
	log.Printf("castfs: mounting %s -> %s (target=%s)", cfg.SourceDir, cfg.MountPoint, cfg.Recipe.Format)
	return fsview.Mount(cfg.MountPoint, fsys, *allowOther)
}

// runPrune performs a single maintenance pass against an existing
// cache_root/mount_id and exits, for spec §4.6 trigger (c): "on explicit
// CLI request."
func runPrune(args []string) error {
	if err := preloadEnvFile(args); err != nil {
		return fmt.Errorf("prune: load env file: %w", err)
	}
	cfg := config.Load()
	fset := flag.NewFlagSet("prune", flag.ExitOnError)
	fset.String("env-file", "", "KEY=VALUE env file loaded before defaults are read (handled via pre-scan, ahead of flag.Parse)")
	fset.StringVar(&cfg.CacheRoot, "cache-root", cfg.CacheRoot, "directory under which cached artifacts live")
	fset.StringVar(&cfg.MountID, "mount-id", cfg.MountID, "identifier scoping this mount's cache tree")
	fset.Int64Var(&cfg.MaxCacheSize, "max-cache-size", cfg.MaxCacheSize, "byte ceiling triggering LRU eviction; 0 = unlimited")
	fset.Int64Var(&cfg.MinDiskspace, "min-diskspace", cfg.MinDiskspace, "free-space floor on the cache volume")
	fset.DurationVar(&cfg.ExpiryAge, "expiry-age", cfg.ExpiryAge, "wall-clock age at which an entry is unconditionally evicted")
	if err := fset.Parse(args); err != nil {
		return err
	}

	reg, err := registry.New(
		cachepath.Layout{CacheRoot: cfg.CacheRoot, MountID: cfg.MountID},
		registry.Policy{ExpiryAge: cfg.ExpiryAge, SuspendAfter: cfg.SuspendAfter, AbortAfter: cfg.AbortAfter},
	)
	if err != nil {
		return fmt.Errorf("prune: open registry: %w", err)
	}
	defer reg.Shutdown()

	n := reg.Prune(registry.Budget{MaxCacheSize: cfg.MaxCacheSize, MinDiskspace: cfg.MinDiskspace})
	log.Printf("prune: evicted %d entries", n)
	return nil
}

// runSupervise launches and restarts a fleet of child "castfs mount"
// processes from a JSON config, one per library (adapted from the
// teacher's supervisor.json wiring).
func runSupervise(args []string) error {
	fset := flag.NewFlagSet("supervise", flag.ExitOnError)
	configPath := fset.String("config", "supervisor.json", "path to the supervisor instance config")
	if err := fset.Parse(args); err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return supervisor.Run(ctx, *configPath)
}

// preloadEnvFile pre-scans args for -env-file/--env-file (with or without
// "=") and, if present, loads it before config.Load reads the environment,
// since flag defaults are captured at flag.NewFlagSet time and cannot be
// retroactively overridden once flag.Parse has run.
func preloadEnvFile(args []string) error {
	for i, a := range args {
		switch {
		case a == "-env-file" || a == "--env-file":
			if i+1 < len(args) {
				return config.LoadEnvFile(args[i+1])
			}
		case strings.HasPrefix(a, "-env-file="):
			return config.LoadEnvFile(strings.TrimPrefix(a, "-env-file="))
		case strings.HasPrefix(a, "--env-file="):
			return config.LoadEnvFile(strings.TrimPrefix(a, "--env-file="))
		}
	}
	return nil
}

func startAdminServer(addr, cacheRoot, sourceDir string, minFreeBytes int64) (*http.Server, error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := health.Check(r.Context(), cacheRoot, sourceDir, minFreeBytes); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	ln = netutil.LimitListener(ln, maxAdminConns)

	server := &http.Server{Handler: mux}
	go func() {
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Printf("castfs: admin server: %v", err)
		}
	}()
	log.Printf("castfs: admin listening on %s", addr)
	return server, nil
}

// reportLeaderGauge mirrors the elector's current hold into the
// leader_held gauge every 2 seconds, since leader.Elector
// itself carries no Prometheus dependency.
func reportLeaderGauge(ctx context.Context, e *leader.Elector) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if e.IsLeader() {
				metrics.LeaderHeld.Set(1)
			} else {
				metrics.LeaderHeld.Set(0)
			}
		}
	}
}

// watchDiagDumpSignal writes a diagnostic snapshot to dumpPath whenever
// the process receives SIGUSR1, for operator-triggered inspection without
// restarting the mount.
func watchDiagDumpSignal(ctx context.Context, reg *registry.Registry, e *leader.Elector, dumpPath string) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGUSR1)
	defer signal.Stop(sig)
	for {
		select {
		case <-ctx.Done():
			return
		case <-sig:
			snap := diag.Build(reg, e.IsLeader(), time.Now())
			if err := diag.Dump(dumpPath, snap); err != nil {
				log.Printf("castfs: diag dump failed: %v", err)
				continue
			}
			log.Printf("castfs: diag snapshot written to %s (%d entries)", dumpPath, len(snap.Entries))
		}
	}
}
