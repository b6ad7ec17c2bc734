package cache

import (
	"context"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Queue is an ordered list of opaque entries stored under one key.
//
// On a ListBackend the operations map onto atomic list commands. On a
// plain Backend the list is stored as a single msgpack value and every
// mutation runs under a Lock.
type Queue struct {
	backend Backend
	key     string
	ttl     time.Duration
	timeout time.Duration
}

// NewQueue creates a queue at key. ttl bounds how long an abandoned queue
// survives; it is also used as the lease and wait time of the mutation
// lock on plain backends.
func NewQueue(b Backend, key string, ttl time.Duration) *Queue {
	return &Queue{backend: b, key: key, ttl: ttl, timeout: ttl}
}

// Append adds entry at the tail and returns the queue length including
// it.
func (q *Queue) Append(ctx context.Context, entry []byte) (int, error) {
	if lb, ok := q.backend.(ListBackend); ok {
		n, err := lb.Push(ctx, q.key, entry, q.ttl)
		return int(n), err
	}

	var n int
	err := q.locked(ctx, func(entries [][]byte) ([][]byte, error) {
		entries = append(entries, entry)
		n = len(entries)
		return entries, nil
	})
	return n, err
}

// Entries returns the queue contents, head first.
func (q *Queue) Entries(ctx context.Context) ([][]byte, error) {
	if lb, ok := q.backend.(ListBackend); ok {
		return lb.Range(ctx, q.key)
	}
	return q.load(ctx)
}

// PopFront removes n entries from the head and returns the entries that
// remain. An Append racing with it lands either before the removal, and is
// returned, or after it, and sees the shortened queue.
func (q *Queue) PopFront(ctx context.Context, n int) ([][]byte, error) {
	if lb, ok := q.backend.(ListBackend); ok {
		return lb.PopFront(ctx, q.key, n)
	}
	var rest [][]byte
	err := q.locked(ctx, func(entries [][]byte) ([][]byte, error) {
		if n >= len(entries) {
			return nil, nil
		}
		if n > 0 {
			entries = entries[n:]
		}
		rest = append([][]byte(nil), entries...)
		return entries, nil
	})
	return rest, err
}

func (q *Queue) load(ctx context.Context) ([][]byte, error) {
	raw, err := q.backend.Get(ctx, q.key)
	if IsMiss(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var entries [][]byte
	if err := msgpack.Unmarshal(raw, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (q *Queue) locked(ctx context.Context, mutate func([][]byte) ([][]byte, error)) error {
	lock := NewLock(q.backend, q.key+":lock", q.ttl)
	if err := lock.Acquire(ctx, q.timeout); err != nil {
		return err
	}
	defer lock.Release(context.WithoutCancel(ctx))

	entries, err := q.load(ctx)
	if err != nil {
		return err
	}
	entries, err = mutate(entries)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return q.backend.Delete(ctx, q.key)
	}
	raw, err := msgpack.Marshal(entries)
	if err != nil {
		return err
	}
	return q.backend.Set(ctx, q.key, raw, q.ttl)
}

// Clear drops the whole queue.
func (q *Queue) Clear(ctx context.Context) error {
	return q.backend.Delete(ctx, q.key)
}
