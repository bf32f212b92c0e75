package payout

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skillmint/skillmint/internal/testutil"
)

func TestPostgresStore_StateMachine(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	now := time.Now()
	pt := &PayoutTransaction{
		ID:        "pay_pg1",
		RewardID:  "rwd_pg1",
		Recipient: "0x1111111111111111111111111111111111111111",
		Amount:    "100",
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, store.Create(ctx, pt))

	// Duplicate reward rejected by the unique index.
	dup := *pt
	dup.ID = "pay_pg2"
	assert.ErrorIs(t, store.Create(ctx, &dup), ErrDuplicateClaim)

	claimed, err := store.ClaimForProcessing(ctx, pt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, claimed.Status)
	assert.Equal(t, 1, claimed.Attempts)

	_, err = store.ClaimForProcessing(ctx, pt.ID)
	assert.ErrorIs(t, err, ErrNotClaimable)

	require.NoError(t, store.MarkCompleted(ctx, pt.ID, "0xfeed"))
	got, err := store.Get(ctx, pt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, "0xfeed", got.TxHash)
	assert.False(t, got.CompletedAt.IsZero())

	// Completed is terminal.
	assert.ErrorIs(t, store.MarkFailed(ctx, pt.ID, "x"), ErrBadTransition)

	count, err := store.CountCompletedSince(ctx, now.Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestPostgresStore_ConcurrentClaims(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	now := time.Now()
	pt := &PayoutTransaction{
		ID:        "pay_pgrace",
		RewardID:  "rwd_pgrace",
		Recipient: "0x2222222222222222222222222222222222222222",
		Amount:    "50",
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, store.Create(ctx, pt))

	const n = 10
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.ClaimForProcessing(ctx, pt.ID); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
}

func TestPostgresStore_FailedRetryAndRelease(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	now := time.Now()
	pt := &PayoutTransaction{
		ID:        "pay_pgretry",
		RewardID:  "rwd_pgretry",
		Recipient: "0x3333333333333333333333333333333333333333",
		Amount:    "75",
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, store.Create(ctx, pt))

	_, err := store.ClaimForProcessing(ctx, pt.ID)
	require.NoError(t, err)
	require.NoError(t, store.MarkFailed(ctx, pt.ID, "network error during broadcast"))

	claimed, err := store.ClaimForProcessing(ctx, pt.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, claimed.Attempts)
	assert.Empty(t, claimed.FailReason)

	require.NoError(t, store.ReleaseToPending(ctx, pt.ID))
	got, err := store.Get(ctx, pt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)

	stale, err := store.ListStaleProcessing(ctx, time.Now().Add(time.Minute), 10)
	require.NoError(t, err)
	assert.Empty(t, stale)
}
