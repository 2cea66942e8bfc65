// Package cleanup scans a lock directory for lock files that can be
// removed: ones whose owner has stopped heartbeating past the stale
// threshold, and ones that can no longer be parsed at all.
package cleanup

import (
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/latchwork/latchwork/internal/lockrecord"
	"github.com/latchwork/latchwork/internal/stats"
)

// Result summarizes one cleanup pass.
type Result struct {
	Scanned int
	Removed int
	Skipped int
}

// Scan walks every *.lock file directly inside lockDir and removes the
// ones whose heartbeat is older than maxAge. Files that fail to parse with
// lockrecord.ErrCorrupted are removed too (they can never be renewed or
// reclaimed). Files with lockrecord.ErrForeignSchema are left alone: a
// schema this binary doesn't recognize might still have a live owner. reg
// may be nil; when non-nil, a stale reclaim is recorded against the hook
// name recovered from the record (or the file's base name when the record
// itself could not be parsed).
func Scan(lockDir string, maxAge time.Duration, reg *stats.Registry) (Result, error) {
	entries, err := os.ReadDir(lockDir)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{}, nil
		}
		return Result{}, errors.Wrapf(err, "read lock directory %q", lockDir)
	}

	var res Result
	now := time.Now()
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".lock" {
			continue
		}
		res.Scanned++

		path := filepath.Join(lockDir, entry.Name())
		hookName, remove := evaluate(path, now, maxAge)
		if !remove {
			res.Skipped++
			continue
		}

		if err := lockrecord.Remove(path); err != nil {
			log.Error().Err(err).Str("path", path).Msg("cleanup: failed to remove stale lock file")
			res.Skipped++
			continue
		}
		res.Removed++
		if reg != nil {
			reg.RecordStaleReclaim(hookName)
		}
		log.Info().Str("hook", hookName).Str("path", path).Msg("cleanup: removed stale lock file")
	}

	return res, nil
}

func evaluate(path string, now time.Time, maxAge time.Duration) (hookName string, remove bool) {
	base := filepath.Base(path)
	hookName = base[:len(base)-len(filepath.Ext(base))]

	rec, err := lockrecord.Read(path)
	switch {
	case err == nil:
		if rec.HookName != "" {
			hookName = rec.HookName
		}
		return hookName, rec.HeartbeatAge(now) > maxAge
	case errors.Is(err, lockrecord.ErrCorrupted):
		return hookName, true
	case errors.Is(err, lockrecord.ErrNotFound):
		// Removed by someone else between the directory listing and now.
		return hookName, false
	default:
		// Foreign schema, or an IO error reading it: leave it alone.
		return hookName, false
	}
}
