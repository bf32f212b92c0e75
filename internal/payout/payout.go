// Package payout implements the settlement ledger for SKILL reward payouts.
//
// Every payout is a row moving through a small state machine:
//
//	pending → processing → completed
//	pending → processing → failed
//	failed  → processing            (operator retry)
//
// All transitions are conditional updates. Two workers racing to settle
// the same payout both attempt the pending→processing transition; the
// loser observes ErrNotClaimable and backs off. Records stuck in
// processing after a crash are released back to pending only by an
// explicit operator action, never by a timer, because the broadcast may
// have succeeded.
package payout

import (
	"context"
	"errors"
	"time"
)

var (
	ErrPayoutNotFound = errors.New("payout not found")
	ErrNotClaimable   = errors.New("payout not in a claimable state")
	ErrBadTransition  = errors.New("payout state transition precondition failed")
	ErrDuplicateClaim = errors.New("reward already has a payout")
)

// Status is a payout's position in the settlement state machine.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// PayoutTransaction is one reward settlement. Amount is a whole-token
// decimal string; raw on-chain units are derived at broadcast time.
type PayoutTransaction struct {
	ID          string    `json:"id"`
	RewardID    string    `json:"rewardId"`
	IdentityID  string    `json:"identityId"`
	Recipient   string    `json:"recipient"`
	Amount      string    `json:"amount"`
	Status      Status    `json:"status"`
	TxHash      string    `json:"txHash,omitempty"`
	FailReason  string    `json:"failReason,omitempty"`
	Attempts    int       `json:"attempts"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
	CompletedAt time.Time `json:"completedAt,omitempty"`
}

// Store persists payout records. Implementations must make the
// transition methods atomic conditional updates.
type Store interface {
	Create(ctx context.Context, p *PayoutTransaction) error
	Get(ctx context.Context, id string) (*PayoutTransaction, error)
	GetByReward(ctx context.Context, rewardID string) (*PayoutTransaction, error)

	// ClaimForProcessing transitions pending or failed to processing and
	// returns the claimed record. Any other current state yields
	// ErrNotClaimable.
	ClaimForProcessing(ctx context.Context, id string) (*PayoutTransaction, error)

	// MarkCompleted transitions processing to completed, recording the
	// transaction hash.
	MarkCompleted(ctx context.Context, id, txHash string) error

	// MarkFailed transitions processing to failed with a reason.
	MarkFailed(ctx context.Context, id, reason string) error

	// SetTxHash records a broadcast hash on a processing record without
	// changing state (confirmation still outstanding).
	SetTxHash(ctx context.Context, id, txHash string) error

	// ReleaseToPending transitions processing back to pending. Operator
	// action for crash recovery only.
	ReleaseToPending(ctx context.Context, id string) error

	ListByStatus(ctx context.Context, status Status, limit int) ([]*PayoutTransaction, error)
	CountByStatus(ctx context.Context) (map[Status]int, error)
	ListStaleProcessing(ctx context.Context, olderThan time.Time, limit int) ([]*PayoutTransaction, error)
	ListCompletedSince(ctx context.Context, since time.Time, limit int) ([]*PayoutTransaction, error)
	CountCompletedSince(ctx context.Context, since time.Time) (int, error)

	// SumCompletedAmount totals settled amounts for the given
	// recipients, in whole tokens. Used for cluster risk scoring.
	SumCompletedAmount(ctx context.Context, recipients []string) (string, error)
}
