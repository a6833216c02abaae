// Package runlock makes "at most one processor run at a time" explicit across
// processes. Correctness does not depend on it: the store's guarded writes
// already make concurrent runs safe. The lock only avoids duplicate provider
// calls when a manual run overlaps a scheduled one.
package runlock

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
)

// ErrHeld is returned by Acquire when another process holds the lock.
var ErrHeld = errors.New("run lock held by another instance")

// Locker acquires the run lock without blocking. The returned release func
// must be called exactly once.
type Locker interface {
	Acquire(ctx context.Context) (release func(), err error)
}

// Noop always succeeds.
type Noop struct{}

func (Noop) Acquire(ctx context.Context) (func(), error) {
	return func() {}, nil
}

// Local serializes runs within one process. Used when no shared lock is
// configured so a manual run cannot overlap a scheduled one.
type Local struct {
	mu sync.Mutex
}

func (l *Local) Acquire(ctx context.Context) (func(), error) {
	if !l.mu.TryLock() {
		return nil, ErrHeld
	}
	return l.mu.Unlock, nil
}

// AdvisoryKey derives a stable Postgres advisory lock key from a name.
func AdvisoryKey(name string) int64 {
	h := fnv.New64a()
	h.Write([]byte(name))
	return int64(h.Sum64())
}
