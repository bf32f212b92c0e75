// Package guard holds the two payout gates: a global circuit breaker
// and a per-recipient daily limit.
//
// The breaker is a single switch checked before every payout. It trips
// itself on a confirmed-payout burst or a treasury balance below the
// floor, and only an operator resets it. Trip events are persisted for
// audit, so a restart cannot silently re-open the pipeline.
//
// The daily limit is an atomic increment-if-under-cap reservation keyed
// by (recipient, UTC date). Reservation and rollback bracket each
// settlement attempt so a failed broadcast restores the allowance.
package guard

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"
)

var (
	// ErrBreakerOpen blocks all payouts until an operator reset.
	ErrBreakerOpen = errors.New("circuit breaker is open")

	ErrStateNotFound = errors.New("breaker state not initialized")
)

// Trip triggers, persisted with the state for audit.
const (
	TriggerBurst    = "burst"
	TriggerBalance  = "balance_floor"
	TriggerOperator = "operator"
)

// BreakerState is the persisted circuit breaker switch.
type BreakerState struct {
	Tripped   bool      `json:"tripped"`
	Trigger   string    `json:"trigger,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	TrippedBy string    `json:"trippedBy,omitempty"`
	TrippedAt time.Time `json:"trippedAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// BreakerStore persists the breaker switch.
type BreakerStore interface {
	GetState(ctx context.Context) (*BreakerState, error)
	SetState(ctx context.Context, state *BreakerState) error
}

// DailyLimitStore is the atomic counter backing the daily cap. Add must
// be a single atomic increment-if-under-cap operation: two concurrent
// reservations for the same recipient must never both pass on a stale
// read.
type DailyLimitStore interface {
	// Add increments the (recipient, day) counter by amount iff the new
	// total stays within cap. Returns the resulting total and whether
	// the reservation was applied; on a rejected reservation the
	// returned total is the unchanged current value.
	Add(ctx context.Context, recipient, day string, amount, cap *big.Int) (*big.Int, bool, error)

	// Subtract releases a prior reservation, flooring at zero.
	Subtract(ctx context.Context, recipient, day string, amount *big.Int) error

	// Total returns the counter value, zero if absent.
	Total(ctx context.Context, recipient, day string) (*big.Int, error)
}

// Store is the full persistence surface for both gates. The memory and
// Postgres stores implement it; the constructors take the narrow slice
// they need.
type Store interface {
	BreakerStore
	DailyLimitStore
}

// CapExceededError reports a rejected reservation with the allowance
// still available today, in whole tokens.
type CapExceededError struct {
	Requested string
	Remaining string
}

func (e *CapExceededError) Error() string {
	return fmt.Sprintf("daily payout cap exceeded: requested %s, %s remaining today", e.Requested, e.Remaining)
}
