/*
Package lock provides per-key mutual exclusion for worker accounts.

Every ledger append and every per-worker commit runs while holding the
worker's key, so the read-balance / validate / write-entry sequence is never
interleaved for the same worker. Distinct keys never block each other.

IMPLEMENTATIONS:
  - Local: in-process, for a single server instance
  - Redis: SET NX with an owner token, for several instances sharing a store
*/
package lock

import (
	"context"
	"errors"
	"sort"
)

// ErrNotAcquired is returned when a lock could not be taken before the
// context ended.
var ErrNotAcquired = errors.New("lock not acquired")

// Locker acquires the lock for key, blocking until it is free or ctx ends.
// The returned release func must be called exactly once.
type Locker interface {
	Lock(ctx context.Context, key string) (release func(), err error)
}

// WithLocks takes every key in sorted order, runs fn, and releases them in
// reverse. Sorted acquisition keeps multi-key callers from deadlocking.
func WithLocks(ctx context.Context, l Locker, keys []string, fn func() error) error {
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)

	releases := make([]func(), 0, len(sorted))
	defer func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}()

	var prev string
	for i, key := range sorted {
		if i > 0 && key == prev {
			continue
		}
		prev = key
		release, err := l.Lock(ctx, key)
		if err != nil {
			return err
		}
		releases = append(releases, release)
	}
	return fn()
}
