package rewards

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Compile-time check that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-memory rewards store for demo/development mode.
type MemoryStore struct {
	mu      sync.RWMutex
	rewards map[string]*Reward
	wallets map[string]string
}

// NewMemoryStore creates a new in-memory rewards store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rewards: make(map[string]*Reward),
		wallets: make(map[string]string),
	}
}

func (m *MemoryStore) Create(ctx context.Context, r *Reward) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.rewards[r.ID]; ok {
		return ErrDuplicateReward
	}
	now := time.Now()
	cp := *r
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	m.rewards[r.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Reward, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.rewards[id]
	if !ok {
		return nil, ErrRewardNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) MarkConfirmed(ctx context.Context, id, txRef string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rewards[id]
	if !ok {
		return ErrRewardNotFound
	}
	if r.Status == StatusConfirmed {
		return ErrAlreadyConfirmed
	}
	r.Status = StatusConfirmed
	r.TxRef = txRef
	r.ConfirmedAt = at
	r.UpdatedAt = at
	return nil
}

func (m *MemoryStore) ListByIdentity(ctx context.Context, identityID string, limit int) ([]*Reward, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Reward
	for _, r := range m.rewards {
		if r.IdentityID == identityID {
			cp := *r
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MemoryStore) SetWallet(ctx context.Context, identityID, address string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.wallets[identityID] = address
	return nil
}

func (m *MemoryStore) GetWallet(ctx context.Context, identityID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	addr, ok := m.wallets[identityID]
	if !ok {
		return "", ErrNoWallet
	}
	return addr, nil
}
