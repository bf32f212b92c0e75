// Package submitter turns an authorized payout into a broadcast transfer.
//
// It owns retry policy: fee escalation across attempts, nonce
// re-allocation on desync, and the bounded receipt-polling loop for
// flows that need a mined confirmation. Policy rejections never reach
// this package; by the time a payout arrives here it has already passed
// the breaker, the daily cap, and the fraud checks.
package submitter

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/skillmint/skillmint/internal/chain"
	"github.com/skillmint/skillmint/internal/logging"
	"github.com/skillmint/skillmint/internal/metrics"
	"github.com/skillmint/skillmint/internal/nonce"
)

var (
	// ErrConfirmTimeout means the broadcast was accepted but no receipt
	// appeared within the polling budget. The caller must leave the
	// payout in processing for reconciliation, not mark it failed.
	ErrConfirmTimeout = errors.New("submitter: confirmation polling budget exhausted")

	// ErrExecutionFailed means the transfer mined but reverted.
	ErrExecutionFailed = errors.New("submitter: transfer reverted on chain")
)

const (
	// DefaultMaxAttempts bounds broadcast retries for synchronous flows.
	DefaultMaxAttempts = 3

	// DefaultConfirmAttempts bounds receipt polls at one per second.
	DefaultConfirmAttempts = 60

	defaultPollInterval = time.Second
)

// Ledger is the slice of the chain client the submitter needs.
type Ledger interface {
	QuoteGasPrice(ctx context.Context) (*big.Int, error)
	SignTransfer(nonce uint64, gasPrice *big.Int, to common.Address, amount *big.Int) (*types.Transaction, error)
	Broadcast(ctx context.Context, tx *types.Transaction) error
	Receipt(ctx context.Context, txHash string) (*types.Receipt, error)
}

// Sequencer issues treasury sequence numbers and accepts desync reports.
type Sequencer interface {
	Acquire(ctx context.Context) (*nonce.Lease, error)
	Invalidate(reason string)
}

// FeePolicy computes the gas price bid for a given attempt. Swappable so
// the escalation curve is configuration, not control flow.
type FeePolicy interface {
	Bid(quote *big.Int, attempt int) *big.Int
}

// LinearEscalation bids quote*(Base + Step*attempt).
type LinearEscalation struct {
	Base int64
	Step int64
}

func (p LinearEscalation) Bid(quote *big.Int, attempt int) *big.Int {
	mult := p.Base + p.Step*int64(attempt)
	return new(big.Int).Mul(quote, big.NewInt(mult))
}

// DefaultFeePolicy escalates 8x, 10x, 12x the network quote across the
// three synchronous attempts.
var DefaultFeePolicy FeePolicy = LinearEscalation{Base: 8, Step: 2}

// Result describes an accepted broadcast.
type Result struct {
	TxHash   string
	Nonce    uint64
	GasPrice *big.Int
	Attempt  int
}

// Submitter builds, signs, and broadcasts treasury transfers.
type Submitter struct {
	ledger          Ledger
	seq             Sequencer
	fees            FeePolicy
	maxAttempts     int
	confirmAttempts int
	pollInterval    time.Duration
}

// Option configures the submitter.
type Option func(*Submitter)

// WithFeePolicy replaces the fee escalation curve.
func WithFeePolicy(p FeePolicy) Option {
	return func(s *Submitter) { s.fees = p }
}

// WithMaxAttempts sets the broadcast retry ceiling.
func WithMaxAttempts(n int) Option {
	return func(s *Submitter) { s.maxAttempts = n }
}

// WithConfirmAttempts sets the receipt polling budget.
func WithConfirmAttempts(n int) Option {
	return func(s *Submitter) { s.confirmAttempts = n }
}

// WithPollInterval sets the receipt polling interval (used in tests).
func WithPollInterval(d time.Duration) Option {
	return func(s *Submitter) { s.pollInterval = d }
}

// New creates a submitter over the given ledger and sequencer.
func New(ledger Ledger, seq Sequencer, opts ...Option) *Submitter {
	s := &Submitter{
		ledger:          ledger,
		seq:             seq,
		fees:            DefaultFeePolicy,
		maxAttempts:     DefaultMaxAttempts,
		confirmAttempts: DefaultConfirmAttempts,
		pollInterval:    defaultPollInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit broadcasts a SKILL transfer and returns once the network
// accepts it. Nonce-desync errors invalidate the sequence cache and
// retry with a fresh allocation and a higher fee bid; terminal on-chain
// errors return immediately.
func (s *Submitter) Submit(ctx context.Context, to common.Address, amount *big.Int) (*Result, error) {
	log := logging.FromContext(ctx)

	var lastErr error
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		res, err := s.attempt(ctx, to, amount, attempt)
		if err == nil {
			if attempt > 0 {
				log.Info("broadcast succeeded after retry",
					"tx_hash", res.TxHash, "attempt", attempt)
			}
			return res, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if chain.IsTerminalError(err) {
			return nil, err
		}

		cause := "transient"
		if chain.IsNonceError(err) {
			cause = "nonce"
			s.seq.Invalidate("desync")
		}
		metrics.PayoutSubmitRetries.WithLabelValues(cause).Inc()
		log.Warn("broadcast attempt failed",
			"attempt", attempt, "cause", cause, "error", err)
		lastErr = err
	}
	return nil, fmt.Errorf("submitter: %d attempts exhausted: %w", s.maxAttempts, lastErr)
}

func (s *Submitter) attempt(ctx context.Context, to common.Address, amount *big.Int, attempt int) (*Result, error) {
	quote, err := s.ledger.QuoteGasPrice(ctx)
	if err != nil {
		return nil, err
	}
	bid := s.fees.Bid(quote, attempt)

	// The sequence lock is held from here until the broadcast resolves,
	// so numbers reach the network in allocation order with no gaps.
	lease, err := s.seq.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	tx, err := s.ledger.SignTransfer(lease.Value, bid, to, amount)
	if err != nil {
		lease.Abandon()
		return nil, err
	}

	if err := s.ledger.Broadcast(ctx, tx); err != nil {
		lease.Abandon()
		return nil, err
	}
	lease.Complete()

	return &Result{
		TxHash:   tx.Hash().Hex(),
		Nonce:    lease.Value,
		GasPrice: bid,
		Attempt:  attempt,
	}, nil
}

// SubmitAndConfirm broadcasts a transfer and polls for its receipt. On
// ErrConfirmTimeout the transaction may still mine later; the payout
// must stay in processing. A mined-but-reverted receipt returns
// ErrExecutionFailed.
func (s *Submitter) SubmitAndConfirm(ctx context.Context, to common.Address, amount *big.Int) (*Result, *types.Receipt, error) {
	res, err := s.Submit(ctx, to, amount)
	if err != nil {
		return nil, nil, err
	}

	start := time.Now()
	for i := 0; i < s.confirmAttempts; i++ {
		receipt, err := s.ledger.Receipt(ctx, res.TxHash)
		if err == nil {
			metrics.ConfirmationDuration.Observe(time.Since(start).Seconds())
			if receipt.Status != types.ReceiptStatusSuccessful {
				return res, receipt, ErrExecutionFailed
			}
			return res, receipt, nil
		}
		if !errors.Is(err, chain.ErrReceiptNotFound) {
			logging.FromContext(ctx).Warn("receipt poll failed",
				"tx_hash", res.TxHash, "error", err)
		}

		select {
		case <-ctx.Done():
			return res, nil, ctx.Err()
		case <-time.After(s.pollInterval):
		}
	}
	return res, nil, ErrConfirmTimeout
}
