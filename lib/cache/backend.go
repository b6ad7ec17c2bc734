// Package cache holds the key-value backends that persist component trees
// between requests and the storage primitives behind the per-component
// serial queue.
//
// Two backends are provided:
//   - Memory: an in-process LRU, for single-process deployments and tests
//   - Redis: shared between worker processes, with atomic list operations
//
// Anything implementing Backend can be plugged in; implementing
// ListBackend as well lets the serial queue use atomic list operations
// instead of a spin lock.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss is returned by Get when the key is absent or expired.
var ErrMiss = errors.New("cache: miss")

// Backend is a key-value cache with expiring entries.
type Backend interface {
	// Get returns the stored value or ErrMiss.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set stores val under key. A zero ttl means no expiry.
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	// Add stores val only if key is absent. It reports whether the value
	// was stored.
	Add(ctx context.Context, key string, val []byte, ttl time.Duration) (bool, error)
	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
}

// ListBackend is implemented by backends with atomic list primitives.
type ListBackend interface {
	Backend
	// Push appends val to the list at key and returns the new length.
	Push(ctx context.Context, key string, val []byte, ttl time.Duration) (int64, error)
	// Range returns every element of the list at key.
	Range(ctx context.Context, key string) ([][]byte, error)
	// PopFront removes up to n elements from the head of the list and
	// returns the elements left behind. The removal and the read are one
	// atomic step.
	PopFront(ctx context.Context, key string, n int) ([][]byte, error)
}

// IsMiss reports whether err is a cache miss.
func IsMiss(err error) bool {
	return errors.Is(err, ErrMiss)
}
