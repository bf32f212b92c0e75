package guard

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/skillmint/skillmint/internal/logging"
	"github.com/skillmint/skillmint/internal/metrics"
	"github.com/skillmint/skillmint/internal/token"
)

const (
	// burstWindow is the trailing window for the confirmed-payout burst
	// check.
	burstWindow = time.Minute

	// balanceCheckInterval throttles treasury balance reads so Allow
	// does not hit the RPC endpoint on every payout.
	balanceCheckInterval = 30 * time.Second
)

// CompletedCounter counts recently confirmed payouts. The payout store
// satisfies this.
type CompletedCounter interface {
	CountCompletedSince(ctx context.Context, since time.Time) (int, error)
}

// BalanceSource reads the treasury's token balance in raw units.
type BalanceSource interface {
	TreasuryBalance(ctx context.Context) (*big.Int, error)
}

// Breaker is the global payout switch.
type Breaker struct {
	store          BreakerStore
	completed      CompletedCounter
	balance        BalanceSource
	burstThreshold int
	floor          *big.Int // raw units

	mu              sync.Mutex
	lastBalanceRead time.Time
}

// NewBreaker creates the breaker. floor is in whole tokens; a nil or
// absent balance source disables the floor check.
func NewBreaker(store BreakerStore, completed CompletedCounter, balance BalanceSource, burstThreshold int, floorTokens string) (*Breaker, error) {
	b := &Breaker{
		store:          store,
		completed:      completed,
		balance:        balance,
		burstThreshold: burstThreshold,
	}
	if floorTokens != "" && balance != nil {
		floor, err := token.Parse(floorTokens)
		if err != nil {
			return nil, fmt.Errorf("invalid treasury floor %q: %w", floorTokens, err)
		}
		b.floor = floor
	}
	return b, nil
}

// Allow returns nil when payouts may proceed. A tripped switch, a
// confirmed-payout burst, or a treasury balance under the floor all
// block, and the two automatic conditions trip the switch durably as a
// side effect.
func (b *Breaker) Allow(ctx context.Context) error {
	state, err := b.store.GetState(ctx)
	if err != nil && err != ErrStateNotFound {
		return fmt.Errorf("breaker state read failed: %w", err)
	}
	if state != nil && state.Tripped {
		return fmt.Errorf("%w: %s", ErrBreakerOpen, state.Reason)
	}

	count, err := b.completed.CountCompletedSince(ctx, time.Now().Add(-burstWindow))
	if err != nil {
		return fmt.Errorf("burst window count failed: %w", err)
	}
	if count >= b.burstThreshold {
		reason := fmt.Sprintf("%d confirmed payouts in %s (threshold %d)", count, burstWindow, b.burstThreshold)
		if err := b.Trip(ctx, TriggerBurst, "system", reason); err != nil {
			return err
		}
		return fmt.Errorf("%w: %s", ErrBreakerOpen, reason)
	}

	if err := b.checkBalanceFloor(ctx); err != nil {
		return err
	}
	return nil
}

func (b *Breaker) checkBalanceFloor(ctx context.Context) error {
	if b.floor == nil {
		return nil
	}

	b.mu.Lock()
	due := time.Since(b.lastBalanceRead) >= balanceCheckInterval
	if due {
		b.lastBalanceRead = time.Now()
	}
	b.mu.Unlock()
	if !due {
		return nil
	}

	balance, err := b.balance.TreasuryBalance(ctx)
	if err != nil {
		// A failed read is not a low balance; log and let traffic flow.
		logging.FromContext(ctx).Warn("treasury balance read failed", "error", err)
		return nil
	}
	metrics.TreasuryBalance.Set(token.Float(balance))

	if balance.Cmp(b.floor) < 0 {
		reason := fmt.Sprintf("treasury balance %s below floor %s",
			token.Format(balance), token.Format(b.floor))
		if err := b.Trip(ctx, TriggerBalance, "system", reason); err != nil {
			return err
		}
		return fmt.Errorf("%w: %s", ErrBreakerOpen, reason)
	}
	return nil
}

// Trip opens the switch and persists the event.
func (b *Breaker) Trip(ctx context.Context, trigger, by, reason string) error {
	now := time.Now()
	state := &BreakerState{
		Tripped:   true,
		Trigger:   trigger,
		Reason:    reason,
		TrippedBy: by,
		TrippedAt: now,
		UpdatedAt: now,
	}
	if err := b.store.SetState(ctx, state); err != nil {
		return fmt.Errorf("persist breaker trip: %w", err)
	}

	metrics.BreakerTrips.WithLabelValues(trigger).Inc()
	logging.FromContext(ctx).Error("circuit breaker tripped",
		"trigger", trigger, "by", by, "reason", reason)
	return nil
}

// Reset closes the switch. Operator action only.
func (b *Breaker) Reset(ctx context.Context, by string) error {
	state := &BreakerState{Tripped: false, UpdatedAt: time.Now()}
	if err := b.store.SetState(ctx, state); err != nil {
		return fmt.Errorf("persist breaker reset: %w", err)
	}
	logging.FromContext(ctx).Info("circuit breaker reset", "by", by)
	return nil
}

// State returns the current persisted switch state.
func (b *Breaker) State(ctx context.Context) (*BreakerState, error) {
	state, err := b.store.GetState(ctx)
	if err == ErrStateNotFound {
		return &BreakerState{Tripped: false}, nil
	}
	return state, err
}
