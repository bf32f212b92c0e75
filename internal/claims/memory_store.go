package claims

import (
	"context"
	"sync"
	"time"
)

// Compile-time check that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-memory replay-guard store for demo/development
// mode.
type MemoryStore struct {
	mu         sync.Mutex
	challenges map[string]*Challenge
	attempts   map[string]time.Time // identity → last attempt
	dedup      map[string]time.Time // content hash → expiry
}

// NewMemoryStore creates a new in-memory claims store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		challenges: make(map[string]*Challenge),
		attempts:   make(map[string]time.Time),
		dedup:      make(map[string]time.Time),
	}
}

func (m *MemoryStore) CreateChallenge(ctx context.Context, ch *Challenge) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *ch
	m.challenges[ch.Nonce] = &cp
	return nil
}

func (m *MemoryStore) ConsumeChallenge(ctx context.Context, nonce, identityID, rewardID string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch, ok := m.challenges[nonce]
	if !ok || ch.IdentityID != identityID || ch.RewardID != rewardID {
		return ErrChallengeNotFound
	}
	if ch.Used {
		return ErrChallengeUsed
	}
	if now.After(ch.ExpiresAt) {
		return ErrChallengeExpired
	}
	ch.Used = true
	usedAt := now
	ch.UsedAt = &usedAt
	return nil
}

func (m *MemoryStore) ReserveCooldown(ctx context.Context, identityID string, now time.Time, interval time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if last, ok := m.attempts[identityID]; ok && now.Sub(last) < interval {
		return false, nil
	}
	m.attempts[identityID] = now
	return true, nil
}

func (m *MemoryStore) SaveDedup(ctx context.Context, contentHash string, now time.Time, window time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if expiry, ok := m.dedup[contentHash]; ok && now.Before(expiry) {
		return false, nil
	}
	m.dedup[contentHash] = now.Add(window)
	return true, nil
}

func (m *MemoryStore) PruneExpired(ctx context.Context, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for nonce, ch := range m.challenges {
		if now.After(ch.ExpiresAt) {
			delete(m.challenges, nonce)
		}
	}
	for hash, expiry := range m.dedup {
		if now.After(expiry) {
			delete(m.dedup, hash)
		}
	}
	return nil
}
