// Package coordinator implements the two-tier hook lock: a per-process
// mutex backed by a per-host advisory file lock, so that hooks running
// concurrently within one process and across independent processes on the
// same machine never execute the same named hook at once.
package coordinator

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/thejerf/suture/v4"

	"github.com/latchwork/latchwork/internal/cleanup"
	"github.com/latchwork/latchwork/internal/config"
	"github.com/latchwork/latchwork/internal/heartbeat"
	"github.com/latchwork/latchwork/internal/lockrecord"
	"github.com/latchwork/latchwork/internal/stats"
)

// jitterFraction bounds the randomized portion added to each retry delay,
// so many processes racing for the same lock don't retry in lockstep.
const jitterFraction = 0.10

// heartbeatStopWait bounds how long Release/timeout unwinding waits for a
// heartbeat task to actually stop before giving up and logging.
const heartbeatStopWait = 2 * time.Second

// Guard represents a held hook lock. Release is idempotent; the zero value
// is not usable.
type Guard interface {
	// Release gives up the lock. Safe to call more than once.
	Release()
}

// ErrUnregisterHeld is returned by Unregister when hookName's lock is
// currently held in this process.
var ErrUnregisterHeld = errors.New("coordinator: cannot unregister a hook whose lock is currently held")

// Coordinator is the core lock manager. One Coordinator should be shared
// by every hook executor within a process.
type Coordinator struct {
	cfg *config.LockConfig
	reg *stats.Registry

	mu           sync.Mutex // guards the fields below
	held         map[string]struct{} // per-process mutex currently held
	activeGlobal map[string]struct{} // file lock currently held by this process

	locks    map[string]*sync.Mutex // one in-process mutex per hook name
	required map[string]struct{}    // hooks that require the lock at all
	timeouts map[string]time.Duration

	sup     *suture.Supervisor
	supCtx  context.Context
	supStop context.CancelFunc
	supDone <-chan error
}

// New builds a Coordinator from cfg. If cfg.CleanupOnStart is set, it
// scans cfg.LockDir once for stale lock files before returning.
func New(cfg *config.LockConfig) (*Coordinator, error) {
	// Work on a private copy so SetGlobalEnabled never mutates the
	// caller's LockConfig.
	own := *cfg
	c := &Coordinator{
		cfg:          &own,
		reg:          stats.NewRegistry(),
		held:         make(map[string]struct{}),
		activeGlobal: make(map[string]struct{}),
		locks:        make(map[string]*sync.Mutex),
		required:     make(map[string]struct{}),
		timeouts:     make(map[string]time.Duration),
	}

	c.supCtx, c.supStop = context.WithCancel(context.Background())
	c.sup = suture.NewSimple("latchlock-heartbeats")
	c.supDone = c.sup.ServeBackground(c.supCtx)

	if cfg.CleanupOnStart {
		if _, err := cleanup.Scan(cfg.LockDir, cfg.StaleThreshold, c.reg); err != nil {
			return nil, err
		}
	}

	return c, nil
}

// Close stops the heartbeat supervisor. It does not release any currently
// held guards; callers are expected to release their own guards first.
func (c *Coordinator) Close() {
	c.supStop()
	<-c.supDone
}

// Register marks hookName as requiring the lock, with an optional
// per-hook timeout override (zero means use cfg.Timeout).
func (c *Coordinator) Register(hookName string, timeout time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.required[hookName] = struct{}{}
	if timeout > 0 {
		c.timeouts[hookName] = timeout
	}
}

// Unregister removes hookName from the required set and drops its
// accumulated statistics. It refuses to unregister a hook whose lock is
// currently held in this process.
func (c *Coordinator) Unregister(hookName string) error {
	c.mu.Lock()
	if _, held := c.held[hookName]; held {
		c.mu.Unlock()
		return errors.Wrapf(ErrUnregisterHeld, "hook %q", hookName)
	}
	delete(c.required, hookName)
	delete(c.timeouts, hookName)
	c.mu.Unlock()
	c.reg.Reset(hookName)
	return nil
}

// RequiresLock reports whether hookName was registered as needing the
// lock.
func (c *Coordinator) RequiresLock(hookName string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.required[hookName]
	return ok
}

// SetTimeout overrides the acquisition timeout for a single hook.
func (c *Coordinator) SetTimeout(hookName string, timeout time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timeouts[hookName] = timeout
}

// GetTimeout returns the effective timeout for hookName: its override if
// set, otherwise the coordinator's default.
func (c *Coordinator) GetTimeout(hookName string) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.timeouts[hookName]; ok {
		return t
	}
	return c.cfg.Timeout
}

// SetGlobalEnabled toggles whether Acquire takes the file-lock tier at
// all. It does not release any lock already held; guards created before
// the toggle keep whatever tier they were created with.
func (c *Coordinator) SetGlobalEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg.Enabled = enabled
}

// GlobalEnabled reports the current global enable state.
func (c *Coordinator) GlobalEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg.Enabled
}

// IsHeldInProcess reports whether hookName's per-process mutex is
// currently held by this process (any goroutine).
func (c *Coordinator) IsHeldInProcess(hookName string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.held[hookName]
	return ok
}

// IsActiveGlobal reports whether this process currently owns hookName's
// on-disk file lock.
func (c *Coordinator) IsActiveGlobal(hookName string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.activeGlobal[hookName]
	return ok
}

// Stats returns the current statistics snapshot for hookName.
func (c *Coordinator) Stats(hookName string) stats.Snapshot {
	return c.reg.Snapshot(hookName)
}

// AllStats returns statistics for every hook tracked so far.
func (c *Coordinator) AllStats() []stats.Snapshot {
	return c.reg.All()
}

// ResetStats clears statistics for hookName, or every hook when hookName
// is empty.
func (c *Coordinator) ResetStats(hookName string) {
	c.reg.Reset(hookName)
}

// CleanupStale runs one cleanup pass over the lock directory immediately.
// maxAge of zero uses the coordinator's configured stale threshold.
func (c *Coordinator) CleanupStale(maxAge time.Duration) (cleanup.Result, error) {
	if maxAge <= 0 {
		maxAge = c.cfg.StaleThreshold
	}
	return cleanup.Scan(c.cfg.LockDir, maxAge, c.reg)
}

// Status is a point-in-time aggregate view composed from the coordinator's
// already-specified accessors, useful for a CLI or debug endpoint.
type Status struct {
	Enabled       bool
	LockDir       string
	HeldInProcess []string
	ActiveGlobal  []string
	Required      []string
	Stats         []stats.Snapshot
}

// Status returns a snapshot of the coordinator's current state.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	held := make([]string, 0, len(c.held))
	for name := range c.held {
		held = append(held, name)
	}
	active := make([]string, 0, len(c.activeGlobal))
	for name := range c.activeGlobal {
		active = append(active, name)
	}
	required := make([]string, 0, len(c.required))
	for name := range c.required {
		required = append(required, name)
	}
	enabled := c.cfg.Enabled
	lockDir := c.cfg.LockDir
	c.mu.Unlock()

	return Status{
		Enabled:       enabled,
		LockDir:       lockDir,
		HeldInProcess: held,
		ActiveGlobal:  active,
		Required:      required,
		Stats:         c.reg.All(),
	}
}

func (c *Coordinator) mutexFor(hookName string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.locks[hookName]
	if !ok {
		m = &sync.Mutex{}
		c.locks[hookName] = m
	}
	return m
}

// guard implements Guard. Release ordering: record execution time, cancel
// and await the heartbeat task (if any), remove the on-disk lock file if
// this session still owns it, drop tracking state, then unlock the
// in-process mutex — in that order, so the file lock never outlives the
// mutex that protects this process's own concurrent callers.
type guard struct {
	c          *Coordinator
	hookName   string
	path       string // empty when this guard only holds the per-process mutex
	sessionID  string
	mu         *sync.Mutex
	mutexHeld  bool
	acquiredAt time.Time

	once       sync.Once
	hbToken    suture.ServiceToken
	hasHbToken bool
}

func (g *guard) Release() {
	g.once.Do(func() {
		g.c.reg.RecordExecution(g.hookName, time.Since(g.acquiredAt))

		if g.hasHbToken {
			if err := g.c.sup.RemoveAndWait(g.hbToken, heartbeatStopWait); err != nil {
				log.Warn().Err(err).Str("hook", g.hookName).Msg("heartbeat task did not stop cleanly")
			}
		}

		if g.path != "" {
			if rec, err := lockrecord.Read(g.path); err == nil && rec.SessionID == g.sessionID {
				if err := lockrecord.Remove(g.path); err != nil {
					log.Error().Err(err).Str("hook", g.hookName).Msg("failed to remove lock file on release")
				}
			}
			g.c.mu.Lock()
			delete(g.c.activeGlobal, g.hookName)
			g.c.mu.Unlock()
		}

		g.c.mu.Lock()
		delete(g.c.held, g.hookName)
		g.c.mu.Unlock()

		if g.mutexHeld && g.mu != nil {
			g.mu.Unlock()
		}

		log.Debug().Str("hook", g.hookName).Msg("released hook lock")
	})
}

// Acquire takes the two-tier lock for hookName, blocking (subject to ctx
// and the effective timeout) until it succeeds.
//
// Protocol (spec.md §4.4.2):
//  1. If hookName was never Register'd, return a no-op Guard immediately.
//  2. If the coordinator is globally disabled, skip the file-lock tier
//     entirely — acquire only the per-process mutex, bounded by the
//     effective timeout, and return a guard that releases just the mutex.
//     Per-process exclusion still holds even with the file tier off.
//  3. Otherwise: reclaim a stale file lock if one is found, then retry
//     file-lock acquisition with backoff, start a heartbeat once it
//     succeeds, and finally take the per-process mutex.
func (c *Coordinator) Acquire(ctx context.Context, hookName string) (Guard, error) {
	if !c.RequiresLock(hookName) {
		return noop{}, nil
	}

	timeout := c.GetTimeout(hookName)
	ctx, cancel := context.WithDeadline(ctx, time.Now().Add(timeout))
	defer cancel()

	start := time.Now()
	c.reg.RecordAttempt(hookName)
	mu := c.mutexFor(hookName)

	if !c.GlobalEnabled() {
		if _, err := lockMutex(ctx, mu); err != nil {
			c.reg.RecordTimeout(hookName)
			return nil, err
		}

		c.mu.Lock()
		c.held[hookName] = struct{}{}
		c.mu.Unlock()

		c.reg.RecordSuccess(hookName, time.Since(start))
		log.Debug().Str("hook", hookName).Msg("acquired per-process lock only (global lock disabled)")

		return &guard{
			c:          c,
			hookName:   hookName,
			mu:         mu,
			mutexHeld:  true,
			acquiredAt: time.Now(),
		}, nil
	}

	path := c.cfg.LockPath(hookName)
	identity := c.cfg.Identity()

	c.reclaimIfStale(path, hookName)

	if err := c.acquireFileLock(ctx, path, identity, hookName); err != nil {
		if errors.Is(err, ErrTimeout) {
			c.reg.RecordTimeout(hookName)
		} else {
			c.reg.RecordFailure(hookName)
		}
		return nil, err
	}

	c.mu.Lock()
	c.activeGlobal[hookName] = struct{}{}
	c.mu.Unlock()

	var hbToken suture.ServiceToken
	hasHbToken := false
	if c.cfg.HeartbeatInterval > 0 {
		task := heartbeat.New(hookName, path, identity.SessionID, c.cfg.HeartbeatInterval, func(reason error) {
			c.reg.RecordHeartbeatFailure(hookName)
		})
		hbToken = c.sup.Add(task)
		hasHbToken = true
	}

	contended, err := lockMutex(ctx, mu)
	if err != nil {
		if hasHbToken {
			_ = c.sup.RemoveAndWait(hbToken, heartbeatStopWait)
		}
		if rec, rerr := lockrecord.Read(path); rerr == nil && rec.SessionID == identity.SessionID {
			_ = lockrecord.Remove(path)
		}
		c.mu.Lock()
		delete(c.activeGlobal, hookName)
		c.mu.Unlock()
		c.reg.RecordTimeout(hookName)
		return nil, err
	}

	g := &guard{
		c:          c,
		hookName:   hookName,
		path:       path,
		sessionID:  identity.SessionID,
		mu:         mu,
		mutexHeld:  true,
		acquiredAt: time.Now(),
		hbToken:    hbToken,
		hasHbToken: hasHbToken,
	}

	c.mu.Lock()
	c.held[hookName] = struct{}{}
	c.mu.Unlock()

	_ = contended
	c.reg.RecordSuccess(hookName, time.Since(start))
	log.Debug().Str("hook", hookName).Dur("wait", time.Since(start)).Msg("acquired hook lock")

	return g, nil
}

// reclaimIfStale removes path's lock record if it is unparseable, or if it
// is older than the configured stale threshold, once, before the
// acquisition loop begins.
func (c *Coordinator) reclaimIfStale(path, hookName string) {
	existing, err := lockrecord.Read(path)
	switch {
	case err == nil:
		if existing.HeartbeatAge(time.Now()) <= c.cfg.StaleThreshold {
			return
		}
	case errors.Is(err, lockrecord.ErrCorrupted):
		// Fall through: an unparseable record can never be renewed or
		// reclaimed by its owner, so it is reclaimable on sight.
	default:
		return
	}
	if rmErr := lockrecord.Remove(path); rmErr == nil {
		c.reg.RecordStaleReclaim(hookName)
		log.Warn().Str("hook", hookName).Msg("reclaimed stale lock file")
	}
}

// lockMutex locks mu, honoring ctx's deadline/cancellation. If the context
// expires first, it spawns a detached goroutine that waits for the
// original Lock() call to eventually succeed and immediately unlocks it,
// so the mutex is never left permanently held by an acquisition attempt
// this call abandoned.
func lockMutex(ctx context.Context, mu *sync.Mutex) (contended bool, err error) {
	// A mutex that locks on the first attempt is never contended from our
	// point of view: nobody else was in line ahead of us.
	if mu.TryLock() {
		return false, nil
	}

	acquired := make(chan struct{})
	go func() {
		mu.Lock()
		close(acquired)
	}()

	select {
	case <-acquired:
		return true, nil
	case <-ctx.Done():
		go func() {
			<-acquired
			mu.Unlock()
		}()
		return false, ErrTimeout
	}
}

// acquireFileLock retries WriteExclusive with exponential backoff for up
// to max_retries attempts (spec.md §4.4.2 step 4: attempts 1..=max_retries),
// until it succeeds or ctx expires. A stale or unparseable lock encountered
// mid-retry (another process having taken it, or left garbage, between our
// pre-check and now) is reclaimed in place, same as the pre-loop check.
func (c *Coordinator) acquireFileLock(ctx context.Context, path string, identity config.SessionIdentity, hookName string) error {
	delay := c.cfg.RetryDelay

	for attempt := 1; attempt <= c.cfg.MaxRetries; attempt++ {
		rec := lockrecord.New(identity, hookName)
		err := lockrecord.WriteExclusive(path, rec)
		if err == nil {
			return nil
		}
		if !errors.Is(err, lockrecord.ErrAlreadyHeld) {
			return err
		}

		if c.reclaimIfHeldStale(path, hookName) {
			attempt--
			continue
		}

		if attempt >= c.cfg.MaxRetries {
			return ErrTimeout
		}

		wait := backoff(delay, attempt-1) + jitter(delay)
		select {
		case <-ctx.Done():
			return ErrTimeout
		case <-time.After(wait):
		}
	}
	return ErrTimeout
}

// reclaimIfHeldStale mirrors reclaimIfStale for a lock file already known to
// exist (WriteExclusive just failed with ErrAlreadyHeld): it removes the
// file and reports true when the existing record is unparseable or past the
// stale threshold, so the caller can retry the write without burning a
// backoff cycle.
func (c *Coordinator) reclaimIfHeldStale(path, hookName string) bool {
	existing, err := lockrecord.Read(path)
	switch {
	case err == nil:
		if existing.HeartbeatAge(time.Now()) <= c.cfg.StaleThreshold {
			return false
		}
	case errors.Is(err, lockrecord.ErrCorrupted):
	default:
		return false
	}
	if rmErr := lockrecord.Remove(path); rmErr != nil {
		return false
	}
	c.reg.RecordStaleReclaim(hookName)
	log.Warn().Str("hook", hookName).Msg("reclaimed stale lock file")
	return true
}

// backoff returns delay doubled once per prior attempt: delay, 2*delay,
// 4*delay, ...
func backoff(delay time.Duration, attempt int) time.Duration {
	if attempt <= 0 {
		return delay
	}
	return delay << uint(attempt)
}

func jitter(base time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(float64(base)*jitterFraction) + 1))
}

// noop is the Guard returned for a hook that was never registered as
// requiring the lock.
type noop struct{}

func (noop) Release() {}
