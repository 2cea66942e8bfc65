package executor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

// fakeCoordinator is an in-memory stand-in that serializes holders with
// one mutex per hook name and counts guard releases, so tests can assert
// mutual exclusion without touching the real filesystem-backed
// coordinator.
type fakeCoordinator struct {
	mu       sync.Mutex
	locks    map[string]*sync.Mutex
	required map[string]bool
	released int32
}

func newFakeCoordinator(required ...string) *fakeCoordinator {
	req := make(map[string]bool)
	for _, name := range required {
		req[name] = true
	}
	return &fakeCoordinator{locks: make(map[string]*sync.Mutex), required: req}
}

func (f *fakeCoordinator) RequiresLock(name string) bool {
	return f.required[name]
}

func (f *fakeCoordinator) Acquire(ctx context.Context, name string) (Guard, error) {
	f.mu.Lock()
	m, ok := f.locks[name]
	if !ok {
		m = &sync.Mutex{}
		f.locks[name] = m
	}
	f.mu.Unlock()
	m.Lock()
	return lockGuard{m: m, released: &f.released}, nil
}

type lockGuard struct {
	m        *sync.Mutex
	released *int32
}

func (g lockGuard) Release() {
	atomic.AddInt32(g.released, 1)
	g.m.Unlock()
}

func TestSequentialRunsInOrder(t *testing.T) {
	c := newFakeCoordinator()
	var order []string
	hooks := []Hook{
		{Name: "a", Run: func(ctx context.Context) error { order = append(order, "a"); return nil }},
		{Name: "b", Run: func(ctx context.Context) error { order = append(order, "b"); return nil }},
		{Name: "c", Run: func(ctx context.Context) error { order = append(order, "c"); return nil }},
	}

	if err := Sequential(context.Background(), c, hooks); err != nil {
		t.Fatalf("Sequential: %v", err)
	}
	if got := len(order); got != 3 || order[0] != "a" || order[1] != "b" || order[2] != "c" {
		t.Fatalf("unexpected order: %v", order)
	}
}

func TestSequentialStopsOnFirstError(t *testing.T) {
	c := newFakeCoordinator()
	boom := errors.New("boom")
	var ran []string
	hooks := []Hook{
		{Name: "a", Run: func(ctx context.Context) error { ran = append(ran, "a"); return nil }},
		{Name: "b", Run: func(ctx context.Context) error { ran = append(ran, "b"); return boom }},
		{Name: "c", Run: func(ctx context.Context) error { ran = append(ran, "c"); return nil }},
	}

	err := Sequential(context.Background(), c, hooks)
	if err != boom {
		t.Fatalf("expected boom, got %v", err)
	}
	if len(ran) != 2 {
		t.Fatalf("expected hook c to be skipped, ran=%v", ran)
	}
}

func TestSequentialSkipsLockForUnrequiredHook(t *testing.T) {
	c := newFakeCoordinator("needs-lock")
	hooks := []Hook{
		{Name: "no-lock", Run: func(ctx context.Context) error { return nil }},
	}

	if err := Sequential(context.Background(), c, hooks); err != nil {
		t.Fatalf("Sequential: %v", err)
	}
	if c.released != 0 {
		t.Fatalf("expected no guard to be acquired/released for an unrequired hook, released=%d", c.released)
	}
}

func TestParallelMutualExclusionPerHookName(t *testing.T) {
	c := newFakeCoordinator("shared")
	const n = 10
	var inside int32
	var maxObserved int32

	hooks := make([]Hook, n)
	for i := range hooks {
		hooks[i] = Hook{Name: "shared", Run: func(ctx context.Context) error {
			cur := atomic.AddInt32(&inside, 1)
			for {
				max := atomic.LoadInt32(&maxObserved)
				if cur <= max || atomic.CompareAndSwapInt32(&maxObserved, max, cur) {
					break
				}
			}
			atomic.AddInt32(&inside, -1)
			return nil
		}}
	}

	if err := Parallel(context.Background(), c, hooks, 4); err != nil {
		t.Fatalf("Parallel: %v", err)
	}
	if maxObserved != 1 {
		t.Fatalf("expected mutual exclusion on shared hook, observed max=%d", maxObserved)
	}
}

func TestParallelReturnsFirstError(t *testing.T) {
	c := newFakeCoordinator()
	boom := errors.New("boom")
	hooks := []Hook{
		{Name: "a", Run: func(ctx context.Context) error { return nil }},
		{Name: "b", Run: func(ctx context.Context) error { return boom }},
	}

	err := Parallel(context.Background(), c, hooks, 0)
	if err != boom {
		t.Fatalf("expected boom, got %v", err)
	}
}
