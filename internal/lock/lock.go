// Package lock serializes work on a single ledger row across goroutines or processes.
package lock

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotAcquired = errors.New("lock_not_acquired")
	ErrEmptyKey    = errors.New("lock key is empty")
)

// Release gives the lock back. It is safe to call more than once.
type Release func(ctx context.Context) error

// Locker acquires an exclusive lease on key, waiting until ctx is done.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Release, error)
}

func PayableKey(entryID string) string {
	return "opsledger:lock:payable:" + entryID
}

// JobKey guards a scheduler job so only one process runs it at a time.
func JobKey(job string) string {
	return "opsledger:lock:job:" + job
}
