package guard

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skillmint/skillmint/internal/token"
)

type fakeCounter struct {
	mu    sync.Mutex
	count int
	err   error
}

func (f *fakeCounter) CountCompletedSince(ctx context.Context, since time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count, f.err
}

type fakeBalance struct {
	balance *big.Int
	err     error
}

func (f *fakeBalance) TreasuryBalance(ctx context.Context) (*big.Int, error) {
	return f.balance, f.err
}

func mustTokens(t *testing.T, s string) *big.Int {
	t.Helper()
	v, err := token.Parse(s)
	require.NoError(t, err)
	return v
}

func TestBreaker_AllowsUnderThreshold(t *testing.T) {
	b, err := NewBreaker(NewMemoryStore(), &fakeCounter{count: 19}, nil, 20, "")
	require.NoError(t, err)

	assert.NoError(t, b.Allow(context.Background()))
}

func TestBreaker_TripsOnBurst(t *testing.T) {
	store := NewMemoryStore()
	counter := &fakeCounter{count: 20}
	b, err := NewBreaker(store, counter, nil, 20, "")
	require.NoError(t, err)
	ctx := context.Background()

	err = b.Allow(ctx)
	require.ErrorIs(t, err, ErrBreakerOpen)

	// The trip is durable: even with the burst over, payouts stay blocked.
	counter.mu.Lock()
	counter.count = 0
	counter.mu.Unlock()
	assert.ErrorIs(t, b.Allow(ctx), ErrBreakerOpen)

	state, err := b.State(ctx)
	require.NoError(t, err)
	assert.True(t, state.Tripped)
	assert.Equal(t, TriggerBurst, state.Trigger)
	assert.Equal(t, "system", state.TrippedBy)
	assert.False(t, state.TrippedAt.IsZero())
}

func TestBreaker_ResetReopensTraffic(t *testing.T) {
	store := NewMemoryStore()
	counter := &fakeCounter{count: 20}
	b, err := NewBreaker(store, counter, nil, 20, "")
	require.NoError(t, err)
	ctx := context.Background()

	require.ErrorIs(t, b.Allow(ctx), ErrBreakerOpen)

	counter.mu.Lock()
	counter.count = 0
	counter.mu.Unlock()
	require.NoError(t, b.Reset(ctx, "ops@skillmint"))

	assert.NoError(t, b.Allow(ctx))
}

func TestBreaker_TripsOnBalanceFloor(t *testing.T) {
	balance := &fakeBalance{balance: mustTokens(t, "500")}
	b, err := NewBreaker(NewMemoryStore(), &fakeCounter{}, balance, 20, "1000")
	require.NoError(t, err)
	ctx := context.Background()

	err = b.Allow(ctx)
	require.ErrorIs(t, err, ErrBreakerOpen)
	assert.Contains(t, err.Error(), "below floor")

	state, _ := b.State(ctx)
	assert.Equal(t, TriggerBalance, state.Trigger)
}

func TestBreaker_BalanceReadFailureDoesNotTrip(t *testing.T) {
	balance := &fakeBalance{err: errors.New("rpc down")}
	b, err := NewBreaker(NewMemoryStore(), &fakeCounter{}, balance, 20, "1000")
	require.NoError(t, err)

	assert.NoError(t, b.Allow(context.Background()))
}

func TestBreaker_OperatorTrip(t *testing.T) {
	b, err := NewBreaker(NewMemoryStore(), &fakeCounter{}, nil, 20, "")
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, b.Trip(ctx, TriggerOperator, "ops@skillmint", "incident 4711"))
	err = b.Allow(ctx)
	require.ErrorIs(t, err, ErrBreakerOpen)
	assert.Contains(t, err.Error(), "incident 4711")
}

// ----------------------------------------------------------------------------
// Daily limit
// ----------------------------------------------------------------------------

const testRecipient = "0x1111111111111111111111111111111111111111"

func TestDailyLimit_CapScenario(t *testing.T) {
	limit, err := NewDailyLimit(NewMemoryStore(), "150000")
	require.NoError(t, err)
	ctx := context.Background()

	// Recipient has already claimed 140,000 of 150,000 today.
	require.NoError(t, limit.Reserve(ctx, testRecipient, "140000"))

	// 20,000 is rejected with the remaining allowance reported.
	err = limit.Reserve(ctx, testRecipient, "20000")
	var capErr *CapExceededError
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, "10000", capErr.Remaining)
	assert.Equal(t, "20000", capErr.Requested)

	// 5,000 still fits.
	require.NoError(t, limit.Reserve(ctx, testRecipient, "5000"))

	remaining, err := limit.Remaining(ctx, testRecipient)
	require.NoError(t, err)
	assert.Equal(t, "5000", remaining)
}

func TestDailyLimit_ExactUnderConcurrency(t *testing.T) {
	// Remaining allowance covers exactly K-1 of K concurrent claims.
	const k = 10
	limit, err := NewDailyLimit(NewMemoryStore(), "9000")
	require.NoError(t, err)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < k; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := limit.Reserve(context.Background(), testRecipient, "1000"); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, k-1, wins, "reservation must be exact under concurrency")
}

func TestDailyLimit_RollbackRestoresAllowance(t *testing.T) {
	limit, err := NewDailyLimit(NewMemoryStore(), "1000")
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, limit.Reserve(ctx, testRecipient, "800"))
	err = limit.Reserve(ctx, testRecipient, "300")
	require.Error(t, err)

	require.NoError(t, limit.Rollback(ctx, testRecipient, "800"))

	remaining, err := limit.Remaining(ctx, testRecipient)
	require.NoError(t, err)
	assert.Equal(t, "1000", remaining, "rollback must restore the pre-reservation allowance")

	require.NoError(t, limit.Reserve(ctx, testRecipient, "300"))
}

func TestDailyLimit_PerRecipientAndPerDay(t *testing.T) {
	store := NewMemoryStore()
	limit, err := NewDailyLimit(store, "100")
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, limit.Reserve(ctx, testRecipient, "100"))
	// A different recipient has a full allowance.
	require.NoError(t, limit.Reserve(ctx, "0x2222222222222222222222222222222222222222", "100"))

	// Tomorrow the counter starts over.
	limit.now = func() time.Time { return time.Now().Add(24 * time.Hour) }
	require.NoError(t, limit.Reserve(ctx, testRecipient, "100"))
}

func TestDailyLimit_SingleOversizedReservation(t *testing.T) {
	limit, err := NewDailyLimit(NewMemoryStore(), "100")
	require.NoError(t, err)

	err = limit.Reserve(context.Background(), testRecipient, "150")
	var capErr *CapExceededError
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, "100", capErr.Remaining)
}
