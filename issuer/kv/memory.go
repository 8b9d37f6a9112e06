package kv

import (
	"context"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/meridianid/issuer/issuer/core"
)

type entry struct {
	value   []byte
	expires time.Time
}

// MemoryStore is an in-process core.KV used by tests and single-node
// deployments that don't need Redis. It mirrors RedisStore's TTL semantics
// with a background-free, check-on-read expiry.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]entry
	clock   core.Clock
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore(clock core.Clock) *MemoryStore {
	if clock == nil {
		clock = core.RealClock{}
	}
	return &MemoryStore{entries: make(map[string]entry), clock: clock}
}

func (m *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok || m.expired(e) {
		delete(m.entries, key)
		return nil, core.ErrNotFound
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, nil
}

func (m *MemoryStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var expires time.Time
	if ttl > 0 {
		expires = m.clock.Now().Add(ttl)
	}
	stored := make([]byte, len(value))
	copy(stored, value)
	m.entries[key] = entry{value: stored, expires: expires}
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

func (m *MemoryStore) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok || m.expired(e) {
		return false, nil
	}
	return true, nil
}

func (m *MemoryStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	if e, ok := m.entries[key]; ok && !m.expired(e) {
		n = decodeCounter(e.value)
	}
	n++

	var expires time.Time
	if ttl > 0 {
		expires = m.clock.Now().Add(ttl)
	} else if e, ok := m.entries[key]; ok {
		expires = e.expires
	}
	m.entries[key] = entry{value: encodeCounter(n), expires: expires}
	return n, nil
}

func (m *MemoryStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var keys []string
	for k, e := range m.entries {
		if m.expired(e) {
			continue
		}
		if matched, _ := filepath.Match(pattern, k); matched {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (m *MemoryStore) expired(e entry) bool {
	return !e.expires.IsZero() && m.clock.Now().After(e.expires)
}

func encodeCounter(n int64) []byte {
	return []byte(strconv.FormatInt(n, 10))
}

func decodeCounter(b []byte) int64 {
	n, _ := strconv.ParseInt(string(b), 10, 64)
	return n
}
