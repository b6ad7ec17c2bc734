package cache

import (
	"context"
	"errors"
	"time"
)

// ErrLockTimeout is returned when a lock could not be acquired in time.
var ErrLockTimeout = errors.New("cache: timed out waiting for lock")

// Lock is an advisory distributed lock built on Backend.Add. The lease
// expires after TTL so a crashed holder cannot wedge the key forever.
type Lock struct {
	backend Backend
	key     string
	ttl     time.Duration
	poll    time.Duration
}

// NewLock creates a lock on key with the given lease.
func NewLock(b Backend, key string, ttl time.Duration) *Lock {
	return &Lock{backend: b, key: key, ttl: ttl, poll: 5 * time.Millisecond}
}

// TryAcquire takes the lock if it is free.
func (l *Lock) TryAcquire(ctx context.Context) (bool, error) {
	return l.backend.Add(ctx, l.key, []byte{1}, l.ttl)
}

// Acquire spins until the lock is taken, timeout elapses or ctx is done.
func (l *Lock) Acquire(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	wait := l.poll
	for {
		ok, err := l.TryAcquire(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if time.Now().After(deadline) {
			return ErrLockTimeout
		}

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		if wait < 100*time.Millisecond {
			wait *= 2
		}
	}
}

// Release frees the lock.
func (l *Lock) Release(ctx context.Context) error {
	return l.backend.Delete(ctx, l.key)
}
