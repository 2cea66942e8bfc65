// Package executor runs a batch of hooks against a Coordinator, either one
// at a time or concurrently, only ever calling the coordinator through its
// RequiresLock/Acquire contract.
package executor

import (
	"context"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/latchwork/latchwork/internal/coordinator"
)

// Coordinator is the minimal surface an executor needs from a lock
// coordinator. *coordinator.Coordinator satisfies it; tests use a fake.
type Coordinator interface {
	RequiresLock(hookName string) bool
	Acquire(ctx context.Context, hookName string) (Guard, error)
}

// Guard is a held lock that can be released.
type Guard = coordinator.Guard

// Hook is one unit of work an executor runs.
type Hook struct {
	Name string
	Run  func(ctx context.Context) error
}

func runGuarded(ctx context.Context, c Coordinator, h Hook) error {
	if !c.RequiresLock(h.Name) {
		return h.Run(ctx)
	}

	g, err := c.Acquire(ctx, h.Name)
	if err != nil {
		return err
	}
	defer g.Release()

	return h.Run(ctx)
}

// Sequential runs hooks one after another in order, stopping at the first
// error.
func Sequential(ctx context.Context, c Coordinator, hooks []Hook) error {
	for _, h := range hooks {
		if err := runGuarded(ctx, c, h); err != nil {
			return err
		}
	}
	return nil
}

// Parallel runs hooks concurrently, bounded by maxConcurrency (values <= 0
// mean unbounded), and returns the first error encountered; the remaining
// in-flight hooks are canceled via ctx.
func Parallel(ctx context.Context, c Coordinator, hooks []Hook, maxConcurrency int64) error {
	g, gctx := errgroup.WithContext(ctx)

	var sem *semaphore.Weighted
	if maxConcurrency > 0 {
		sem = semaphore.NewWeighted(maxConcurrency)
	}

	for _, h := range hooks {
		h := h
		g.Go(func() error {
			if sem != nil {
				if err := sem.Acquire(gctx, 1); err != nil {
					return err
				}
				defer sem.Release(1)
			}
			return runGuarded(gctx, c, h)
		})
	}

	return g.Wait()
}
