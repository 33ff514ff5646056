package cache

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"
)

type entry struct {
	val     []byte
	expires time.Time
}

// Memory is an in-process cache with per-key TTL, used by tests and
// single-instance deployments without Redis.
type Memory struct {
	mu   sync.Mutex
	data map[string]entry
	now  func() time.Time
}

// NewMemory returns an empty cache.
func NewMemory() *Memory {
	return &Memory{data: map[string]entry{}, now: time.Now}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}
	if !e.expires.IsZero() && !m.now().Before(e.expires) {
		delete(m.data, key)
		return nil, false, nil
	}
	return append([]byte(nil), e.val...), true, nil
}

func (m *Memory) Set(_ context.Context, key string, val []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := entry{val: append([]byte(nil), val...)}
	if ttl > 0 {
		e.expires = m.now().Add(ttl)
	}
	m.data[key] = e
	return nil
}

func (m *Memory) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

// Incr treats a missing or expired key as 0, like Redis INCR. An existing
// TTL is kept.
func (m *Memory) Incr(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.data[key]
	if ok && !e.expires.IsZero() && !m.now().Before(e.expires) {
		ok = false
	}
	var n int64
	if ok {
		var err error
		if n, err = strconv.ParseInt(string(e.val), 10, 64); err != nil {
			return 0, fmt.Errorf("value at %q is not an integer", key)
		}
	} else {
		e = entry{}
	}
	n++
	e.val = []byte(strconv.FormatInt(n, 10))
	m.data[key] = e
	return n, nil
}
