// Package lockrecord handles reading, atomically creating, and atomically
// rewriting the small JSON record stored at each hook's lock file path.
package lockrecord

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/latchwork/latchwork/internal/config"
)

// SchemaVersion is bumped on incompatible on-disk format changes.
const SchemaVersion = "1"

var (
	// ErrAlreadyHeld is returned by WriteExclusive when the target path
	// already has a directory entry (link exists).
	ErrAlreadyHeld = errors.New("lock record already held")
	// ErrNotFound is returned by Read when the path does not exist.
	ErrNotFound = errors.New("lock record not found")
	// ErrCorrupted is returned by Read when the file exists but cannot be
	// deserialized.
	ErrCorrupted = errors.New("lock record corrupted")
	// ErrForeignSchema is returned by Read when the record's schema_version
	// is set and differs from SchemaVersion. Such a record is left alone:
	// it has a live, just-unrecognized owner, not an absent one.
	ErrForeignSchema = errors.New("lock record schema not recognized")
	// ErrOwnershipLost is returned by RewriteAtomic when the record on disk
	// no longer names the expected session.
	ErrOwnershipLost = errors.New("lock record ownership changed")
)

// Record is the on-disk contract (spec.md §6.1). Field names are part of
// the contract so other sessions and debug tooling can inspect them.
type Record struct {
	SessionID     string    `json:"session_id"`
	Hostname      string    `json:"hostname"`
	PID           int       `json:"pid"`
	HookName      string    `json:"hook_name"`
	AcquiredAt    time.Time `json:"acquired_at"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	SchemaVersion string    `json:"schema_version"`
	LockID        string    `json:"lock_id,omitempty"`
}

// New builds a fresh Record for hookName stamped with identity's session
// and the current time for both acquired_at and last_heartbeat.
func New(identity config.SessionIdentity, hookName string) *Record {
	now := time.Now()
	return &Record{
		SessionID:     identity.SessionID,
		Hostname:      identity.Hostname,
		PID:           identity.PID,
		HookName:      hookName,
		AcquiredAt:    now,
		LastHeartbeat: now,
		SchemaVersion: SchemaVersion,
		LockID:        uuid.NewString(),
	}
}

// HeartbeatAge returns the duration since last_heartbeat was last stamped,
// falling back to acquired_at when last_heartbeat was never recorded (a
// record written by a version of this schema that predates the field).
func (r *Record) HeartbeatAge(now time.Time) time.Duration {
	if r.LastHeartbeat.IsZero() {
		return now.Sub(r.AcquiredAt)
	}
	return now.Sub(r.LastHeartbeat)
}

// Read parses a lock record from path.
func Read(path string) (*Record, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is derived from a sanitized hook name
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrapf(err, "read lock record %q", path)
	}
	if len(data) == 0 {
		// WriteExclusive only links a fully written temp file into place, so
		// an empty file at a lock path is treated as corrupted, and callers
		// reclaim it like any other unparseable record.
		return nil, errors.Wrapf(ErrCorrupted, "lock record %q is empty", path)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, errors.Wrapf(ErrCorrupted, "lock record %q: %v", path, err)
	}
	if rec.SchemaVersion != "" && rec.SchemaVersion != SchemaVersion {
		return nil, errors.Wrapf(ErrForeignSchema, "lock record %q has schema %q", path, rec.SchemaVersion)
	}
	return &rec, nil
}

// WriteExclusive atomically creates path with rec's contents. It fails
// with ErrAlreadyHeld if path already exists. The implementation writes
// rec to a temp sibling, then links the temp path onto path with a
// primitive that fails when the target exists (os.Link on POSIX) rather
// than a rename, which would silently replace a concurrent holder's lock.
// The temp sibling is always removed afterward regardless of outcome.
func WriteExclusive(path string, rec *Record) (err error) {
	dir := filepath.Dir(path)
	tmpPath := filepath.Join(dir, tmpName(filepath.Base(path)))

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal lock record")
	}
	data = append(data, '\n')

	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return errors.Wrap(err, "write temp lock record")
	}
	defer func() { _ = os.Remove(tmpPath) }()

	if err := os.Link(tmpPath, path); err != nil {
		if os.IsExist(err) {
			return ErrAlreadyHeld
		}
		return errors.Wrap(err, "link lock record into place")
	}
	return nil
}

func tmpName(base string) string {
	return "." + base + "." + uuid.NewString() + ".tmp"
}

// RewriteAtomic re-reads path, verifies it is still owned by
// expectedSessionID, and if so rewrites its last_heartbeat to now via a
// write-temp-then-rename. If ownership no longer matches, it returns
// ErrOwnershipLost without writing anything (the I3 boundary).
func RewriteAtomic(path, expectedSessionID string) error {
	rec, err := Read(path)
	if err != nil {
		return err
	}
	if rec.SessionID != expectedSessionID {
		return ErrOwnershipLost
	}

	rec.LastHeartbeat = time.Now()
	return writeReplace(path, rec)
}

func writeReplace(path string, rec *Record) (err error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".heartbeat-*.tmp")
	if err != nil {
		return errors.Wrap(err, "create heartbeat temp file")
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	data, merr := json.MarshalIndent(rec, "", "  ")
	if merr != nil {
		_ = tmp.Close()
		return errors.Wrap(merr, "marshal lock record")
	}
	data = append(data, '\n')

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, "write heartbeat temp file")
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, "chmod heartbeat temp file")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "close heartbeat temp file")
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return errors.Wrap(err, "rename heartbeat temp file into place")
	}
	return nil
}

// Remove deletes the lock record at path. A missing file is not an error.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "remove lock record %q", path)
	}
	return nil
}
