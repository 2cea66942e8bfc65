package cleanup

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/latchwork/latchwork/internal/config"
	"github.com/latchwork/latchwork/internal/lockrecord"
	"github.com/latchwork/latchwork/internal/stats"
)

func writeFreshRecord(t *testing.T, dir, hookName string, age time.Duration) string {
	t.Helper()
	path := filepath.Join(dir, hookName+".lock")
	rec := lockrecord.New(config.SessionIdentity{Hostname: "h", PID: 1, SessionID: "h_1"}, hookName)
	rec.LastHeartbeat = time.Now().Add(-age)
	if err := lockrecord.WriteExclusive(path, rec); err != nil {
		t.Fatalf("WriteExclusive: %v", err)
	}
	return path
}

func TestScanRemovesStaleLocks(t *testing.T) {
	dir := t.TempDir()
	stalePath := writeFreshRecord(t, dir, "stale-hook", 3*time.Hour)
	freshPath := writeFreshRecord(t, dir, "fresh-hook", time.Minute)

	reg := stats.NewRegistry()
	res, err := Scan(dir, time.Hour, reg)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if res.Scanned != 2 || res.Removed != 1 || res.Skipped != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if _, err := os.Stat(stalePath); !os.IsNotExist(err) {
		t.Fatalf("expected stale lock file removed, stat err=%v", err)
	}
	if _, err := os.Stat(freshPath); err != nil {
		t.Fatalf("expected fresh lock file kept: %v", err)
	}
	if snap := reg.Snapshot("stale-hook"); snap.StaleReclaimed != 1 {
		t.Fatalf("expected stale reclaim recorded, got %d", snap.StaleReclaimed)
	}
}

func TestScanRemovesCorruptedFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broken.lock")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	res, err := Scan(dir, time.Hour, nil)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if res.Removed != 1 {
		t.Fatalf("expected corrupted file removed, got %+v", res)
	}
}

func TestScanLeavesForeignSchemaAlone(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "future.lock")
	rec := lockrecord.New(config.SessionIdentity{Hostname: "h", PID: 1, SessionID: "h_1"}, "future")
	rec.SchemaVersion = "99"
	rec.LastHeartbeat = time.Now().Add(-10 * time.Hour)
	if err := lockrecord.WriteExclusive(path, rec); err != nil {
		t.Fatalf("WriteExclusive: %v", err)
	}

	res, err := Scan(dir, time.Hour, nil)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if res.Removed != 0 || res.Skipped != 1 {
		t.Fatalf("expected foreign-schema file left alone, got %+v", res)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected file kept: %v", err)
	}
}

func TestScanMissingDirIsNotError(t *testing.T) {
	res, err := Scan(filepath.Join(t.TempDir(), "missing"), time.Hour, nil)
	if err != nil {
		t.Fatalf("Scan on missing dir: %v", err)
	}
	if res.Scanned != 0 {
		t.Fatalf("expected empty result, got %+v", res)
	}
}

func TestScanIgnoresNonLockFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hi"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	res, err := Scan(dir, time.Hour, nil)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if res.Scanned != 0 {
		t.Fatalf("expected non-.lock files ignored, got %+v", res)
	}
}
