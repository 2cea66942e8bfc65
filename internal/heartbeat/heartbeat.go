// Package heartbeat runs the background task that periodically refreshes a
// held lock record's last_heartbeat timestamp, so other processes can tell
// a live holder from a crashed one.
package heartbeat

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/thejerf/suture/v4"

	"github.com/latchwork/latchwork/internal/lockrecord"
)

// maxConsecutiveFailures is how many rewrite failures in a row make the
// task give up and stop on its own, rather than spin forever against a
// lock file that is never coming back.
const maxConsecutiveFailures = 3

// FailureHook is invoked once, from the task's own goroutine, the moment
// the task stops itself for a reason other than context cancellation
// (missing lock file, ownership lost, or too many consecutive IO errors).
// It must not block.
type FailureHook func(reason error)

// Task refreshes a single lock record's heartbeat on a fixed interval
// until its context is canceled or it decides to stop itself. It
// implements suture.Service so a coordinator can supervise it directly.
type Task struct {
	path      string
	sessionID string
	interval  time.Duration
	hookName  string
	onStop    FailureHook
}

// New builds a Task for the lock record at path, owned by sessionID,
// refreshing every interval. onStop may be nil.
func New(hookName, path, sessionID string, interval time.Duration, onStop FailureHook) *Task {
	return &Task{
		path:      path,
		sessionID: sessionID,
		interval:  interval,
		hookName:  hookName,
		onStop:    onStop,
	}
}

// Serve runs the refresh loop until ctx is canceled or the task
// self-terminates. It satisfies suture.Service. A self-termination
// returns suture.ErrDoNotRestart — without it, the supervisor would treat
// the returned nil/error as a crash and restart the task against a lock
// file it just gave up on.
func (t *Task) Serve(ctx context.Context) error {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			err := lockrecord.RewriteAtomic(t.path, t.sessionID)
			switch {
			case err == nil:
				failures = 0
			case err == lockrecord.ErrOwnershipLost:
				log.Warn().Str("hook", t.hookName).Msg("heartbeat stopping: ownership lost")
				t.notify(err)
				return suture.ErrDoNotRestart
			case err == lockrecord.ErrNotFound:
				log.Warn().Str("hook", t.hookName).Msg("heartbeat stopping: lock file missing")
				t.notify(err)
				return suture.ErrDoNotRestart
			default:
				failures++
				log.Error().Err(err).Str("hook", t.hookName).Int("failures", failures).Msg("heartbeat rewrite failed")
				if failures >= maxConsecutiveFailures {
					t.notify(err)
					return suture.ErrDoNotRestart
				}
			}
		}
	}
}

func (t *Task) notify(reason error) {
	if t.onStop != nil {
		t.onStop(reason)
	}
}
