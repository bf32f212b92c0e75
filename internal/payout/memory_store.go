package payout

import (
	"context"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"
)

// Compile-time check that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-memory payout store for demo/development mode.
type MemoryStore struct {
	payouts  map[string]*PayoutTransaction // by ID
	byReward map[string]string             // rewardID → ID
	mu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory payout store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		payouts:  make(map[string]*PayoutTransaction),
		byReward: make(map[string]string),
	}
}

func (m *MemoryStore) Create(ctx context.Context, p *PayoutTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byReward[p.RewardID]; ok {
		return ErrDuplicateClaim
	}
	cp := *p
	m.payouts[p.ID] = &cp
	m.byReward[p.RewardID] = p.ID
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*PayoutTransaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.payouts[id]
	if !ok {
		return nil, ErrPayoutNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) GetByReward(ctx context.Context, rewardID string) (*PayoutTransaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byReward[rewardID]
	if !ok {
		return nil, ErrPayoutNotFound
	}
	cp := *m.payouts[id]
	return &cp, nil
}

func (m *MemoryStore) ClaimForProcessing(ctx context.Context, id string) (*PayoutTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.payouts[id]
	if !ok {
		return nil, ErrPayoutNotFound
	}
	if p.Status != StatusPending && p.Status != StatusFailed {
		return nil, ErrNotClaimable
	}
	p.Status = StatusProcessing
	p.FailReason = ""
	p.Attempts++
	p.UpdatedAt = time.Now()
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) MarkCompleted(ctx context.Context, id, txHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.payouts[id]
	if !ok {
		return ErrPayoutNotFound
	}
	if p.Status != StatusProcessing {
		return ErrBadTransition
	}
	now := time.Now()
	p.Status = StatusCompleted
	p.TxHash = txHash
	p.CompletedAt = now
	p.UpdatedAt = now
	return nil
}

func (m *MemoryStore) MarkFailed(ctx context.Context, id, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.payouts[id]
	if !ok {
		return ErrPayoutNotFound
	}
	if p.Status != StatusProcessing {
		return ErrBadTransition
	}
	p.Status = StatusFailed
	p.FailReason = reason
	p.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) SetTxHash(ctx context.Context, id, txHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.payouts[id]
	if !ok {
		return ErrPayoutNotFound
	}
	if p.Status != StatusProcessing {
		return ErrBadTransition
	}
	p.TxHash = txHash
	p.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) ReleaseToPending(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.payouts[id]
	if !ok {
		return ErrPayoutNotFound
	}
	if p.Status != StatusProcessing {
		return ErrBadTransition
	}
	p.Status = StatusPending
	p.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) ListByStatus(ctx context.Context, status Status, limit int) ([]*PayoutTransaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*PayoutTransaction
	for _, p := range m.payouts {
		if p.Status == status {
			cp := *p
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

func (m *MemoryStore) ListStaleProcessing(ctx context.Context, olderThan time.Time, limit int) ([]*PayoutTransaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*PayoutTransaction
	for _, p := range m.payouts {
		if p.Status == StatusProcessing && p.UpdatedAt.Before(olderThan) {
			cp := *p
			result = append(result, &cp)
			if limit > 0 && len(result) >= limit {
				break
			}
		}
	}
	return result, nil
}

func (m *MemoryStore) ListCompletedSince(ctx context.Context, since time.Time, limit int) ([]*PayoutTransaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*PayoutTransaction
	for _, p := range m.payouts {
		if p.Status == StatusCompleted && p.CompletedAt.After(since) {
			cp := *p
			result = append(result, &cp)
			if limit > 0 && len(result) >= limit {
				break
			}
		}
	}
	return result, nil
}

func (m *MemoryStore) SumCompletedAmount(ctx context.Context, recipients []string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	wanted := make(map[string]bool, len(recipients))
	for _, r := range recipients {
		wanted[r] = true
	}

	total := new(big.Rat)
	for _, p := range m.payouts {
		if p.Status == StatusCompleted && wanted[p.Recipient] {
			amt, ok := new(big.Rat).SetString(p.Amount)
			if !ok {
				continue
			}
			total.Add(total, amt)
		}
	}
	sum := strings.TrimRight(strings.TrimRight(total.FloatString(18), "0"), ".")
	if sum == "" {
		sum = "0"
	}
	return sum, nil
}

func (m *MemoryStore) CountByStatus(ctx context.Context) (map[Status]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[Status]int)
	for _, p := range m.payouts {
		counts[p.Status]++
	}
	return counts, nil
}

func (m *MemoryStore) CountCompletedSince(ctx context.Context, since time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, p := range m.payouts {
		if p.Status == StatusCompleted && p.CompletedAt.After(since) {
			count++
		}
	}
	return count, nil
}
