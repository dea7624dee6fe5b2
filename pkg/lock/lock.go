// Package lock provides per-key advisory locks used to serialize
// reconciliation passes of the same account.
package lock

import (
	"context"
	"errors"
	"time"
)

var ErrNotAcquired = errors.New("lock: already held")

// Release gives up a held lock. It is safe to call more than once.
type Release func(ctx context.Context) error

type Locker interface {
	// Acquire takes the lock for key or fails with ErrNotAcquired without
	// waiting. The lock expires on its own after ttl.
	Acquire(ctx context.Context, key string, ttl time.Duration) (Release, error)
}

// Nop never blocks anyone.
type Nop struct{}

func (Nop) Acquire(context.Context, string, time.Duration) (Release, error) {
	return func(context.Context) error { return nil }, nil
}

// WithLock runs fn while holding key.
func WithLock(ctx context.Context, l Locker, key string, ttl time.Duration, fn func() error) error {
	release, err := l.Acquire(ctx, key, ttl)
	if err != nil {
		return err
	}

	fnErr := fn()
	if err := release(context.WithoutCancel(ctx)); err != nil && fnErr == nil {
		return err
	}
	return fnErr
}
