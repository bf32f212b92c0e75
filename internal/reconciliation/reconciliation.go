// Package reconciliation runs report-only consistency checks: payouts
// stuck in processing, and treasury balance against the outstanding
// payout liability. It never mutates payout state; stuck records are
// surfaced for an operator to release or retry.
package reconciliation

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/skillmint/skillmint/internal/logging"
	"github.com/skillmint/skillmint/internal/payout"
	"github.com/skillmint/skillmint/internal/token"
)

const (
	// staleAfter is how long a payout may sit in processing before the
	// report flags it.
	staleAfter = 10 * time.Minute

	sweepLimit = 500
)

// PayoutSource is the slice of the payout store the checks read.
type PayoutSource interface {
	ListStaleProcessing(ctx context.Context, olderThan time.Time, limit int) ([]*payout.PayoutTransaction, error)
	ListByStatus(ctx context.Context, status payout.Status, limit int) ([]*payout.PayoutTransaction, error)
}

// BalanceSource reads the treasury's on-chain SKILL balance.
type BalanceSource interface {
	TreasuryBalance(ctx context.Context) (*big.Int, error)
}

// LiabilityResult compares treasury funds against unsettled payouts.
type LiabilityResult struct {
	Covered         bool   `json:"covered"`
	TreasuryBalance string `json:"treasuryBalance"`
	Outstanding     string `json:"outstanding"`
	Headroom        string `json:"headroom"`
}

// Report is the outcome of one reconciliation run.
type Report struct {
	StuckPayouts []*payout.PayoutTransaction `json:"stuckPayouts"`
	Liability    *LiabilityResult            `json:"liability,omitempty"`
	RanAt        time.Time                   `json:"ranAt"`
}

// Runner performs the reconciliation checks.
type Runner struct {
	payouts PayoutSource
	balance BalanceSource
	now     func() time.Time
}

// NewRunner creates a reconciliation runner. balance may be nil when no
// chain client is configured; the liability check is skipped then.
func NewRunner(payouts PayoutSource, balance BalanceSource) *Runner {
	return &Runner{payouts: payouts, balance: balance, now: time.Now}
}

// RunAll executes every check and returns the combined report.
func (r *Runner) RunAll(ctx context.Context) (*Report, error) {
	started := r.now()
	defer func() {
		reconcileDuration.Observe(time.Since(started).Seconds())
	}()

	report := &Report{RanAt: started}

	stuck, err := r.CheckStuckPayouts(ctx)
	if err != nil {
		reconcileErrors.Inc()
		return nil, err
	}
	report.StuckPayouts = stuck

	if r.balance != nil {
		liability, err := r.CheckLiability(ctx)
		if err != nil {
			reconcileErrors.Inc()
			return nil, err
		}
		report.Liability = liability
	}
	return report, nil
}

// CheckStuckPayouts lists payouts sitting in processing longer than the
// stale threshold.
func (r *Runner) CheckStuckPayouts(ctx context.Context) ([]*payout.PayoutTransaction, error) {
	stuck, err := r.payouts.ListStaleProcessing(ctx, r.now().Add(-staleAfter), sweepLimit)
	if err != nil {
		return nil, fmt.Errorf("list stale processing: %w", err)
	}
	reconcileStuckPayouts.Set(float64(len(stuck)))

	if len(stuck) > 0 {
		log := logging.FromContext(ctx)
		for _, pt := range stuck {
			log.Warn("payout stuck in processing",
				"payout_id", pt.ID,
				"tx_hash", pt.TxHash,
				"updated_at", pt.UpdatedAt)
		}
	}
	return stuck, nil
}

// CheckLiability sums unsettled payouts and compares them against the
// treasury balance.
func (r *Runner) CheckLiability(ctx context.Context) (*LiabilityResult, error) {
	outstanding := new(big.Int)
	for _, status := range []payout.Status{payout.StatusPending, payout.StatusProcessing} {
		list, err := r.payouts.ListByStatus(ctx, status, sweepLimit)
		if err != nil {
			return nil, fmt.Errorf("list %s payouts: %w", status, err)
		}
		for _, pt := range list {
			amount, err := token.Parse(pt.Amount)
			if err != nil {
				continue
			}
			outstanding.Add(outstanding, amount)
		}
	}

	balance, err := r.balance.TreasuryBalance(ctx)
	if err != nil {
		return nil, fmt.Errorf("treasury balance: %w", err)
	}

	headroom := new(big.Int).Sub(balance, outstanding)
	covered := headroom.Sign() >= 0
	if covered {
		reconcileUnderfunded.Set(0)
	} else {
		reconcileUnderfunded.Set(1)
		logging.FromContext(ctx).Error("treasury cannot cover outstanding payouts",
			"balance", token.Format(balance),
			"outstanding", token.Format(outstanding))
	}

	return &LiabilityResult{
		Covered:         covered,
		TreasuryBalance: token.Format(balance),
		Outstanding:     token.Format(outstanding),
		Headroom:        token.Format(headroom),
	}, nil
}
