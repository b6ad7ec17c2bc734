package cache

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

type memoryEntry struct {
	val     []byte
	list    [][]byte
	expires time.Time
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expires.IsZero() && now.After(e.expires)
}

// Memory is an in-process LRU backend. It is safe for concurrent use and
// implements ListBackend.
type Memory struct {
	mu    sync.Mutex
	items *lru.Cache[string, memoryEntry]
	now   func() time.Time
}

// DefaultMemorySize is the number of entries kept by NewMemory(0).
const DefaultMemorySize = 4096

// NewMemory creates a memory backend holding at most size entries.
func NewMemory(size int) *Memory {
	if size <= 0 {
		size = DefaultMemorySize
	}
	items, err := lru.New[string, memoryEntry](size)
	if err != nil {
		panic("cache: " + err.Error())
	}
	return &Memory{items: items, now: time.Now}
}

func (m *Memory) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return m.now().Add(ttl)
}

func (m *Memory) lookup(key string) (memoryEntry, bool) {
	e, ok := m.items.Get(key)
	if !ok {
		return memoryEntry{}, false
	}
	if e.expired(m.now()) {
		m.items.Remove(key)
		return memoryEntry{}, false
	}
	return e, true
}

// Get implements Backend.
func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.lookup(key)
	if !ok || e.val == nil {
		return nil, ErrMiss
	}
	out := make([]byte, len(e.val))
	copy(out, e.val)
	return out, nil
}

// Set implements Backend.
func (m *Memory) Set(_ context.Context, key string, val []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := make([]byte, len(val))
	copy(stored, val)
	m.items.Add(key, memoryEntry{val: stored, expires: m.expiry(ttl)})
	return nil
}

// Add implements Backend.
func (m *Memory) Add(_ context.Context, key string, val []byte, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.lookup(key); ok {
		return false, nil
	}
	stored := make([]byte, len(val))
	copy(stored, val)
	m.items.Add(key, memoryEntry{val: stored, expires: m.expiry(ttl)})
	return true, nil
}

// Delete implements Backend.
func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.items.Remove(key)
	return nil
}

// Push implements ListBackend.
func (m *Memory) Push(_ context.Context, key string, val []byte, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, _ := m.lookup(key)
	stored := make([]byte, len(val))
	copy(stored, val)
	e.list = append(e.list, stored)
	e.val = nil
	e.expires = m.expiry(ttl)
	m.items.Add(key, e)
	return int64(len(e.list)), nil
}

// Range implements ListBackend.
func (m *Memory) Range(_ context.Context, key string) ([][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.lookup(key)
	if !ok {
		return nil, nil
	}
	out := make([][]byte, len(e.list))
	copy(out, e.list)
	return out, nil
}

// PopFront implements ListBackend.
func (m *Memory) PopFront(_ context.Context, key string, n int) ([][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.lookup(key)
	if !ok {
		return nil, nil
	}
	if n >= len(e.list) {
		m.items.Remove(key)
		return nil, nil
	}
	rest := make([][]byte, len(e.list)-max(n, 0))
	copy(rest, e.list[max(n, 0):])
	e.list = rest
	m.items.Add(key, e)

	out := make([][]byte, len(rest))
	copy(out, rest)
	return out, nil
}

// Len returns the number of live entries.
func (m *Memory) Len() int {
	return m.items.Len()
}
