// Package config holds the cache daemon's environment-driven settings.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/castfs/castfs/internal/recipe"
)

// Config holds every option the core cache recognizes (spec §6). CLI
// flag parsing, logging sinks, and the FUSE adapter's own options live in
// cmd/castfs and internal/fsview respectively.
type Config struct {
	// SourceDir is the directory of lossless source files presented
	// through the virtual view.
	SourceDir string
	// MountPoint is where internal/fsview mounts the virtual view.
	MountPoint string

	CacheRoot     string // directory under which artifacts+info sidecars live
	MountID       string // per-build/per-instance identifier used in the path layout and leader election
	MaxCacheSize  int64  // byte ceiling triggering LRU eviction; 0 = unlimited
	MinDiskspace  int64  // free-space floor on the cache volume
	ExpiryAge     time.Duration
	SuspendAfter  time.Duration // suspend_threshold
	AbortAfter    time.Duration // abort_threshold
	MaxProducers  int           // cap on concurrent producer threads; 0 = unlimited
	DisableCache  bool          // if true, entries are always deleted on last close

	// MaintenanceInterval is how often the maintenance ticker wakes to
	// evaluate eviction. Not part of spec §6's option table (that table
	// names the policy knobs, not the ticker cadence) but required to
	// drive internal/maintenance.
	MaintenanceInterval time.Duration

	// TranscodeBytesPerSec is loaded from CASTFS_TRANSCODE_BYTES_PER_SEC but
	// not applied: cmd/castfs never hands it to a producer, so transcodes
	// run unthrottled whatever its value.
	TranscodeBytesPerSec int64

	AdminAddr string // admin HTTP (metrics/healthz) listen address; "" disables it

	// Recipe is applied uniformly to every source file exposed through the
	// virtual view: every mount serves exactly one target format, matching
	// spec §6's "readdir rewrites decodable source extensions to the target
	// extension" model (one castfs process, one output recipe).
	Recipe recipe.TargetRecipe
}

// Load reads configuration from the environment, applying defaults for
// anything unset.
func Load() *Config {
	c := &Config{
		SourceDir:            os.Getenv("CASTFS_SOURCE_DIR"),
		MountPoint:           getEnv("CASTFS_MOUNT", "/mnt/castfs"),
		CacheRoot:            getEnv("CASTFS_CACHE_ROOT", "/var/cache/castfs"),
		MountID:              getEnv("CASTFS_MOUNT_ID", ""),
		MaxCacheSize:         getEnvInt64("CASTFS_MAX_CACHE_SIZE", 0),
		MinDiskspace:         getEnvInt64("CASTFS_MIN_DISKSPACE", 0),
		ExpiryAge:            getEnvDuration("CASTFS_EXPIRY_AGE", 0),
		SuspendAfter:         getEnvDuration("CASTFS_SUSPEND_THRESHOLD", 10*time.Second),
		AbortAfter:           getEnvDuration("CASTFS_ABORT_THRESHOLD", 60*time.Second),
		MaxProducers:         getEnvInt("CASTFS_MAX_PRODUCERS", 0),
		DisableCache:         getEnvBool("CASTFS_DISABLE_CACHE", false),
		MaintenanceInterval:  getEnvDuration("CASTFS_MAINTENANCE_INTERVAL", 1*time.Minute),
		TranscodeBytesPerSec: getEnvInt64("CASTFS_TRANSCODE_BYTES_PER_SEC", 0),
		AdminAddr:            getEnv("CASTFS_ADMIN_ADDR", ""),
		Recipe: recipe.TargetRecipe{
			Format:         recipe.Format(getEnv("CASTFS_TARGET_FORMAT", string(recipe.FormatMP3))),
			BitrateKbps:    getEnvInt("CASTFS_BITRATE_KBPS", 0),
			VBR:            getEnvBool("CASTFS_VBR", false),
			ReplayGain:     getEnvBool("CASTFS_REPLAYGAIN", false),
			SampleRateCap:  getEnvInt("CASTFS_SAMPLE_RATE_CAP", 0),
			EncoderQuality: getEnvInt("CASTFS_ENCODER_QUALITY", 0),
			AutoCopy:       getEnvBool("CASTFS_AUTO_COPY", true),
		},
	}
	if c.MountID == "" {
		c.MountID = uuid.NewString()
	}
	if c.SuspendAfter <= 0 {
		c.SuspendAfter = 10 * time.Second
	}
	if c.AbortAfter <= c.SuspendAfter {
		c.AbortAfter = c.SuspendAfter + 50*time.Second
	}
	if c.MaintenanceInterval <= 0 {
		c.MaintenanceInterval = 1 * time.Minute
	}
	return c
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvInt64(key string, defaultVal int64) int64 {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "1" || strings.EqualFold(v, "true") || strings.EqualFold(v, "yes")
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
