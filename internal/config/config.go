// Package config carries immutable coordinator configuration and derives
// the per-process session identity used to stamp lock records.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Defaults for recognized configuration keys (spec.md §6.2).
const (
	DefaultTimeout           = 600 * time.Second
	DefaultStaleThreshold    = 2 * time.Hour
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultMaxRetries        = 3
	DefaultRetryDelay        = 5 * time.Second
	DefaultCleanupOnStart    = true
)

const (
	rootDirName  = ".latchlock"
	locksSubdir  = "locks"
)

// Options is the recognized configuration snapshot external callers build
// (from a CLI, a config file, environment variables, ...) and hand to
// FromOptions. The core never loads it itself — that is out of scope.
//
// Enabled/CleanupOnStart are expressed as their inverse so that a missing
// (zero-value) field means "use the documented default" rather than
// silently meaning "disabled", mirroring crackerjack's own
// disable_global_locks option.
type Options struct {
	DisableGlobalLocks bool          `yaml:"disable_global_locks" env:"LATCHLOCK_DISABLE_GLOBAL_LOCKS"`
	Timeout            time.Duration `yaml:"timeout" env:"LATCHLOCK_TIMEOUT" env-default:"600s"`
	LockDir            string        `yaml:"lock_dir" env:"LATCHLOCK_LOCK_DIR"`
	StaleThreshold     time.Duration `yaml:"stale_threshold" env:"LATCHLOCK_STALE_THRESHOLD" env-default:"2h"`
	HeartbeatInterval  time.Duration `yaml:"heartbeat_interval" env:"LATCHLOCK_HEARTBEAT_INTERVAL" env-default:"30s"`
	MaxRetries         int           `yaml:"max_retries" env:"LATCHLOCK_MAX_RETRIES" env-default:"3"`
	RetryDelay         time.Duration `yaml:"retry_delay" env:"LATCHLOCK_RETRY_DELAY" env-default:"5s"`
	SkipCleanupOnStart bool          `yaml:"skip_cleanup_on_start" env:"LATCHLOCK_SKIP_CLEANUP_ON_START"`
}

// SessionIdentity identifies the current process for lock ownership.
type SessionIdentity struct {
	Hostname  string
	PID       int
	SessionID string
}

func currentIdentity() SessionIdentity {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	pid := os.Getpid()
	return SessionIdentity{
		Hostname:  host,
		PID:       pid,
		SessionID: fmt.Sprintf("%s_%d", host, pid),
	}
}

// LockConfig is immutable configuration for the coordinator, constructed
// once per process.
type LockConfig struct {
	Enabled           bool
	Timeout           time.Duration
	StaleThreshold    time.Duration
	HeartbeatInterval time.Duration
	MaxRetries        int
	RetryDelay        time.Duration
	CleanupOnStart    bool
	LockDir           string

	identity SessionIdentity
}

// FromOptions builds a LockConfig from an already-loaded configuration
// snapshot, applying documented defaults to any zero-valued duration/count
// field. It creates LockDir (recursively) and restricts it to owner-only
// permissions; failures to do either are propagated.
func FromOptions(opts Options) (*LockConfig, error) {
	cfg := &LockConfig{
		Enabled:           !opts.DisableGlobalLocks,
		Timeout:           orDefaultDuration(opts.Timeout, DefaultTimeout),
		StaleThreshold:    orDefaultDuration(opts.StaleThreshold, DefaultStaleThreshold),
		HeartbeatInterval: orDefaultDuration(opts.HeartbeatInterval, DefaultHeartbeatInterval),
		MaxRetries:        orDefaultInt(opts.MaxRetries, DefaultMaxRetries),
		RetryDelay:        orDefaultDuration(opts.RetryDelay, DefaultRetryDelay),
		CleanupOnStart:    !opts.SkipCleanupOnStart,
		LockDir:           opts.LockDir,
		identity:          currentIdentity(),
	}

	if cfg.LockDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, errors.Wrap(err, "resolve home directory for default lock_dir")
		}
		cfg.LockDir = filepath.Join(home, rootDirName, locksSubdir)
	}

	if err := os.MkdirAll(cfg.LockDir, 0o700); err != nil {
		return nil, errors.Wrapf(err, "create lock directory %q", cfg.LockDir)
	}
	if err := os.Chmod(cfg.LockDir, 0o700); err != nil {
		return nil, errors.Wrapf(err, "restrict permissions on lock directory %q", cfg.LockDir)
	}

	return cfg, nil
}

func orDefaultDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func orDefaultInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// Identity returns the session identity this config was derived with.
func (c *LockConfig) Identity() SessionIdentity {
	return c.identity
}

var sanitizer = strings.NewReplacer("/", "_", string(filepath.Separator), "_")

// LockPath returns the on-disk path for a hook's lock file. Separators in
// hookName are replaced with underscores so a hook name can never escape
// LockDir.
func (c *LockConfig) LockPath(hookName string) string {
	return filepath.Join(c.LockDir, sanitizer.Replace(hookName)+".lock")
}
