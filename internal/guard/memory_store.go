package guard

import (
	"context"
	"math/big"
	"sync"
)

// Compile-time checks.
var (
	_ BreakerStore    = (*MemoryStore)(nil)
	_ DailyLimitStore = (*MemoryStore)(nil)
)

// MemoryStore backs both guard stores for demo/development mode.
type MemoryStore struct {
	mu       sync.Mutex
	state    *BreakerState
	counters map[string]*big.Int // recipient|day → raw total
}

// NewMemoryStore creates a new in-memory guard store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{counters: make(map[string]*big.Int)}
}

func (m *MemoryStore) GetState(ctx context.Context) (*BreakerState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == nil {
		return nil, ErrStateNotFound
	}
	cp := *m.state
	return &cp, nil
}

func (m *MemoryStore) SetState(ctx context.Context, state *BreakerState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *state
	m.state = &cp
	return nil
}

func counterKey(recipient, day string) string {
	return recipient + "|" + day
}

func (m *MemoryStore) Add(ctx context.Context, recipient, day string, amount, cap *big.Int) (*big.Int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := counterKey(recipient, day)
	current, ok := m.counters[key]
	if !ok {
		current = big.NewInt(0)
	}

	next := new(big.Int).Add(current, amount)
	if next.Cmp(cap) > 0 {
		return new(big.Int).Set(current), false, nil
	}
	m.counters[key] = next
	return new(big.Int).Set(next), true, nil
}

func (m *MemoryStore) Subtract(ctx context.Context, recipient, day string, amount *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := counterKey(recipient, day)
	current, ok := m.counters[key]
	if !ok {
		return nil
	}
	next := new(big.Int).Sub(current, amount)
	if next.Sign() < 0 {
		next.SetInt64(0)
	}
	m.counters[key] = next
	return nil
}

func (m *MemoryStore) Total(ctx context.Context, recipient, day string) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.counters[counterKey(recipient, day)]
	if !ok {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(current), nil
}
