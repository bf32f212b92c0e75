package guard

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/skillmint/skillmint/internal/metrics"
	"github.com/skillmint/skillmint/internal/token"
)

// dayKey buckets reservations by UTC date.
func dayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// DailyLimit enforces the per-recipient daily payout cap.
type DailyLimit struct {
	store DailyLimitStore
	cap   *big.Int // raw units
	now   func() time.Time
}

// NewDailyLimit creates the limiter. capTokens is in whole tokens.
func NewDailyLimit(store DailyLimitStore, capTokens string) (*DailyLimit, error) {
	c, err := token.Parse(capTokens)
	if err != nil {
		return nil, fmt.Errorf("invalid daily cap %q: %w", capTokens, err)
	}
	return &DailyLimit{store: store, cap: c, now: time.Now}, nil
}

// Reserve atomically claims amount of the recipient's daily allowance.
// On rejection it returns a CapExceededError carrying the remaining
// allowance.
func (d *DailyLimit) Reserve(ctx context.Context, recipient, amount string) error {
	amt, err := token.Parse(amount)
	if err != nil {
		return fmt.Errorf("invalid reservation amount %q: %w", amount, err)
	}

	total, ok, err := d.store.Add(ctx, recipient, dayKey(d.now()), amt, d.cap)
	if err != nil {
		return fmt.Errorf("daily cap reservation: %w", err)
	}
	if !ok {
		metrics.DailyCapRejections.Inc()
		remaining := new(big.Int).Sub(d.cap, total)
		if remaining.Sign() < 0 {
			remaining.SetInt64(0)
		}
		return &CapExceededError{
			Requested: amount,
			Remaining: token.Format(remaining),
		}
	}
	return nil
}

// Rollback restores a reservation after a failed settlement.
func (d *DailyLimit) Rollback(ctx context.Context, recipient, amount string) error {
	amt, err := token.Parse(amount)
	if err != nil {
		return fmt.Errorf("invalid rollback amount %q: %w", amount, err)
	}
	return d.store.Subtract(ctx, recipient, dayKey(d.now()), amt)
}

// Remaining returns the recipient's unclaimed allowance for today, in
// whole tokens.
func (d *DailyLimit) Remaining(ctx context.Context, recipient string) (string, error) {
	total, err := d.store.Total(ctx, recipient, dayKey(d.now()))
	if err != nil {
		return "", err
	}
	remaining := new(big.Int).Sub(d.cap, total)
	if remaining.Sign() < 0 {
		remaining.SetInt64(0)
	}
	return token.Format(remaining), nil
}
