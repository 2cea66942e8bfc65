package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromOptionsAppliesDefaults(t *testing.T) {
	cfg, err := FromOptions(Options{LockDir: t.TempDir()})
	require.NoError(t, err)

	assert.True(t, cfg.Enabled)
	assert.Equal(t, DefaultTimeout, cfg.Timeout)
	assert.Equal(t, DefaultStaleThreshold, cfg.StaleThreshold)
	assert.Equal(t, DefaultHeartbeatInterval, cfg.HeartbeatInterval)
	assert.Equal(t, DefaultMaxRetries, cfg.MaxRetries)
	assert.Equal(t, DefaultRetryDelay, cfg.RetryDelay)
	assert.True(t, cfg.CleanupOnStart)
}

func TestFromOptionsDisableInversion(t *testing.T) {
	cfg, err := FromOptions(Options{
		LockDir:            t.TempDir(),
		DisableGlobalLocks: true,
		SkipCleanupOnStart: true,
	})
	require.NoError(t, err)

	assert.False(t, cfg.Enabled)
	assert.False(t, cfg.CleanupOnStart)
}

func TestFromOptionsHonorsExplicitValues(t *testing.T) {
	cfg, err := FromOptions(Options{
		LockDir:           t.TempDir(),
		Timeout:           5 * time.Second,
		StaleThreshold:    time.Minute,
		HeartbeatInterval: time.Second,
		MaxRetries:        1,
		RetryDelay:        time.Millisecond,
	})
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, cfg.Timeout)
	assert.Equal(t, time.Minute, cfg.StaleThreshold)
	assert.Equal(t, time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, 1, cfg.MaxRetries)
	assert.Equal(t, time.Millisecond, cfg.RetryDelay)
}

func TestFromOptionsDefaultsLockDirUnderHome(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg, err := FromOptions(Options{})
	require.NoError(t, err)
	assert.Contains(t, cfg.LockDir, rootDirName)
	assert.Contains(t, cfg.LockDir, locksSubdir)
}

func TestLockPathSanitizesSeparators(t *testing.T) {
	cfg, err := FromOptions(Options{LockDir: t.TempDir()})
	require.NoError(t, err)

	path := cfg.LockPath("some/nested name")
	assert.Equal(t, filepath.Join(cfg.LockDir, "some_nested name.lock"), path)
}

func TestIdentityIsStableAcrossCalls(t *testing.T) {
	cfg, err := FromOptions(Options{LockDir: t.TempDir()})
	require.NoError(t, err)

	id1 := cfg.Identity()
	id2 := cfg.Identity()
	assert.Equal(t, id1, id2)
	assert.NotEmpty(t, id1.SessionID)
	assert.Equal(t, id1.PID, id2.PID)
}
