package rewards

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skillmint/skillmint/internal/testutil"
)

func TestPostgresStore_RewardLifecycle(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()
	now := time.Now()

	r := &Reward{
		ID:               "rwd_pg1",
		IdentityID:       "usr_1",
		ActivityID:       "course_go101",
		Amount:           "250",
		Status:           StatusEarned,
		EnrolledAt:       now.Add(-2 * time.Hour),
		CompletedAt:      now,
		ExpectedDuration: 2 * time.Hour,
		MinDuration:      10 * time.Minute,
	}
	require.NoError(t, store.Create(ctx, r))
	assert.ErrorIs(t, store.Create(ctx, r), ErrDuplicateReward)

	got, err := store.Get(ctx, "rwd_pg1")
	require.NoError(t, err)
	assert.Equal(t, StatusEarned, got.Status)
	assert.Equal(t, 2*time.Hour, got.ExpectedDuration)
	assert.Equal(t, 10*time.Minute, got.MinDuration)

	require.NoError(t, store.MarkConfirmed(ctx, "rwd_pg1", "0xsettled", now))
	assert.ErrorIs(t, store.MarkConfirmed(ctx, "rwd_pg1", "0xother", now), ErrAlreadyConfirmed)

	got, err = store.Get(ctx, "rwd_pg1")
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, got.Status)
	assert.Equal(t, "0xsettled", got.TxRef)

	_, err = store.Get(ctx, "rwd_missing")
	assert.ErrorIs(t, err, ErrRewardNotFound)
	assert.ErrorIs(t, store.MarkConfirmed(ctx, "rwd_missing", "0x", now), ErrRewardNotFound)
}

func TestPostgresStore_ListByIdentity(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()
	now := time.Now()

	for i, id := range []string{"rwd_a", "rwd_b"} {
		require.NoError(t, store.Create(ctx, &Reward{
			ID: id, IdentityID: "usr_1", ActivityID: "act", Amount: "10",
			Status:     StatusEarned,
			EnrolledAt: now, CompletedAt: now,
			CreatedAt: now.Add(time.Duration(i) * time.Second),
		}))
	}
	require.NoError(t, store.Create(ctx, &Reward{
		ID: "rwd_other", IdentityID: "usr_2", ActivityID: "act", Amount: "10",
		Status: StatusEarned, EnrolledAt: now, CompletedAt: now,
	}))

	list, err := store.ListByIdentity(ctx, "usr_1", 10)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestPostgresStore_Wallets(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	_, err := store.GetWallet(ctx, "usr_1")
	assert.ErrorIs(t, err, ErrNoWallet)

	require.NoError(t, store.SetWallet(ctx, "usr_1", "0xaaaa"))
	require.NoError(t, store.SetWallet(ctx, "usr_1", "0xbbbb"))

	addr, err := store.GetWallet(ctx, "usr_1")
	require.NoError(t, err)
	assert.Equal(t, "0xbbbb", addr, "wallet updates overwrite")
}
