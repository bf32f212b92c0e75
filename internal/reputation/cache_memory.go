package reputation

import (
	"context"
	"sync"
	"time"
)

// Compile-time check that MemoryCache implements Cache.
var _ Cache = (*MemoryCache)(nil)

type memoryEntry struct {
	verdict   Verdict
	expiresAt time.Time
}

// MemoryCache is the in-process verdict cache used when Redis is not
// configured.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryCache creates an empty in-memory verdict cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (m *MemoryCache) Get(ctx context.Context, ip string) (*Verdict, bool, error) {
	m.mu.RLock()
	entry, ok := m.entries[ip]
	m.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if m.now().After(entry.expiresAt) {
		m.mu.Lock()
		delete(m.entries, ip)
		m.mu.Unlock()
		return nil, false, nil
	}
	v := entry.verdict
	return &v, true, nil
}

func (m *MemoryCache) Set(ctx context.Context, ip string, v *Verdict, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[ip] = memoryEntry{verdict: *v, expiresAt: m.now().Add(ttl)}
	return nil
}
