package payout

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/skillmint/skillmint/internal/chain"
	"github.com/skillmint/skillmint/internal/idgen"
	"github.com/skillmint/skillmint/internal/logging"
	"github.com/skillmint/skillmint/internal/metrics"
	"github.com/skillmint/skillmint/internal/submitter"
	"github.com/skillmint/skillmint/internal/token"
)

// Broadcaster is the slice of the transaction submitter the service uses.
type Broadcaster interface {
	Submit(ctx context.Context, to common.Address, amount *big.Int) (*submitter.Result, error)
	SubmitAndConfirm(ctx context.Context, to common.Address, amount *big.Int) (*submitter.Result, *types.Receipt, error)
}

// Breaker gates every payout. Allow returns a descriptive error while
// the breaker is open.
type Breaker interface {
	Allow(ctx context.Context) error
}

// DailyLimiter reserves against the per-recipient daily cap and rolls
// reservations back when settlement ultimately fails.
type DailyLimiter interface {
	Reserve(ctx context.Context, recipient, amount string) error
	Rollback(ctx context.Context, recipient, amount string) error
}

// Blacklist answers whether a recipient address is blocked.
type Blacklist interface {
	IsBlacklisted(ctx context.Context, address string) (bool, error)
}

// RewardFinalizer is notified once a payout settles, so the reward
// record and certificate can be issued. Failures here are logged, not
// propagated: the transfer already happened.
type RewardFinalizer interface {
	Finalize(ctx context.Context, rewardID, txHash string) error
}

// EventPublisher pushes payout lifecycle events to the ops feed.
type EventPublisher interface {
	PublishPayout(event string, p *PayoutTransaction)
}

// Service drives payouts through the settlement state machine.
type Service struct {
	store     Store
	sub       Broadcaster
	breaker   Breaker
	limits    DailyLimiter
	blacklist Blacklist
	finalizer RewardFinalizer
	events    EventPublisher
}

// ServiceOption configures optional service collaborators.
type ServiceOption func(*Service)

// WithBlacklist wires the fraud blacklist check.
func WithBlacklist(b Blacklist) ServiceOption {
	return func(s *Service) { s.blacklist = b }
}

// WithFinalizer wires the reward finalization hook.
func WithFinalizer(f RewardFinalizer) ServiceOption {
	return func(s *Service) { s.finalizer = f }
}

// WithEvents wires the ops event feed.
func WithEvents(e EventPublisher) ServiceOption {
	return func(s *Service) { s.events = e }
}

// NewService creates a payout service.
func NewService(store Store, sub Broadcaster, breaker Breaker, limits DailyLimiter, opts ...ServiceOption) *Service {
	s := &Service{
		store:   store,
		sub:     sub,
		breaker: breaker,
		limits:  limits,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EnqueuePayout records a pending payout for a reward. The actual
// broadcast happens in Process; enqueueing never touches the network.
func (s *Service) EnqueuePayout(ctx context.Context, rewardID, identityID, recipient, amount string) (*PayoutTransaction, error) {
	if _, err := token.Parse(amount); err != nil {
		return nil, fmt.Errorf("invalid payout amount %q: %w", amount, err)
	}
	if !common.IsHexAddress(recipient) {
		return nil, fmt.Errorf("invalid recipient address %q", recipient)
	}

	now := time.Now()
	pt := &PayoutTransaction{
		ID:         idgen.WithPrefix("pay_"),
		RewardID:   rewardID,
		IdentityID: identityID,
		Recipient:  recipient,
		Amount:     amount,
		Status:     StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.Create(ctx, pt); err != nil {
		return nil, err
	}

	metrics.PayoutsTotal.WithLabelValues(string(StatusPending)).Inc()
	s.publish("payout.enqueued", pt)
	return pt, nil
}

// Process claims a payout and settles it on chain. With confirm set the
// call blocks until the transfer mines or the polling budget runs out;
// without it the call returns as soon as the network accepts the
// broadcast. Exactly one concurrent caller wins the claim; the rest get
// ErrNotClaimable.
func (s *Service) Process(ctx context.Context, id string, confirm bool) (*PayoutTransaction, error) {
	log := logging.FromContext(ctx)

	pt, err := s.store.ClaimForProcessing(ctx, id)
	if err != nil {
		return nil, err
	}
	metrics.PayoutsTotal.WithLabelValues(string(StatusProcessing)).Inc()
	s.publish("payout.processing", pt)

	// Policy gates run before any network interaction.
	if err := s.breaker.Allow(ctx); err != nil {
		return nil, s.fail(ctx, pt, fmt.Sprintf("circuit breaker: %v", err), err)
	}
	if s.blacklist != nil {
		blocked, err := s.blacklist.IsBlacklisted(ctx, pt.Recipient)
		if err != nil {
			return nil, s.fail(ctx, pt, "blacklist check unavailable", err)
		}
		if blocked {
			err := fmt.Errorf("recipient %s is blacklisted", pt.Recipient)
			return nil, s.fail(ctx, pt, "recipient blacklisted", err)
		}
	}
	if err := s.limits.Reserve(ctx, pt.Recipient, pt.Amount); err != nil {
		return nil, s.fail(ctx, pt, err.Error(), err)
	}

	amountRaw, err := token.Parse(pt.Amount)
	if err != nil {
		s.rollback(ctx, pt)
		return nil, s.fail(ctx, pt, "invalid stored amount", err)
	}
	recipient := common.HexToAddress(pt.Recipient)

	var res *submitter.Result
	if confirm {
		res, _, err = s.sub.SubmitAndConfirm(ctx, recipient, amountRaw)
	} else {
		res, err = s.sub.Submit(ctx, recipient, amountRaw)
	}

	switch {
	case errors.Is(err, submitter.ErrConfirmTimeout):
		// Broadcast accepted but unconfirmed. The reservation stands and
		// the record stays processing for operator reconciliation; the
		// transfer may still mine.
		if res != nil && res.TxHash != "" {
			if hashErr := s.store.SetTxHash(ctx, pt.ID, res.TxHash); hashErr != nil {
				log.Error("failed to record unconfirmed tx hash",
					"payout_id", pt.ID, "tx_hash", res.TxHash, "error", hashErr)
			}
			pt.TxHash = res.TxHash
		}
		log.Warn("payout unconfirmed within polling budget",
			"payout_id", pt.ID, "tx_hash", pt.TxHash)
		return pt, err

	case err != nil:
		s.rollback(ctx, pt)
		log.Error("payout broadcast failed", "payout_id", pt.ID, "error", err)
		return nil, s.fail(ctx, pt, publicReason(err), err)
	}

	if err := s.store.MarkCompleted(ctx, pt.ID, res.TxHash); err != nil {
		// The transfer is on chain; surface loudly but do not roll back.
		log.Error("transfer broadcast but completion not recorded",
			"payout_id", pt.ID, "tx_hash", res.TxHash, "error", err)
		return nil, fmt.Errorf("payout %s settled (tx %s) but state update failed: %w", pt.ID, res.TxHash, err)
	}

	pt.Status = StatusCompleted
	pt.TxHash = res.TxHash
	pt.CompletedAt = time.Now()
	metrics.PayoutsTotal.WithLabelValues(string(StatusCompleted)).Inc()
	s.publish("payout.completed", pt)

	if s.finalizer != nil {
		if err := s.finalizer.Finalize(ctx, pt.RewardID, pt.TxHash); err != nil {
			log.Error("reward finalization failed",
				"payout_id", pt.ID, "reward_id", pt.RewardID, "error", err)
		}
	}

	log.Info("payout completed",
		"payout_id", pt.ID, "recipient", pt.Recipient,
		"amount", pt.Amount, "tx_hash", pt.TxHash, "nonce", res.Nonce)
	return pt, nil
}

// GetStatus returns a payout by ID.
func (s *Service) GetStatus(ctx context.Context, id string) (*PayoutTransaction, error) {
	return s.store.Get(ctx, id)
}

// GetByReward returns the payout settling a given reward.
func (s *Service) GetByReward(ctx context.Context, rewardID string) (*PayoutTransaction, error) {
	return s.store.GetByReward(ctx, rewardID)
}

// Release returns a stuck processing record to pending. Operator-only:
// the caller must have verified the broadcast never happened.
func (s *Service) Release(ctx context.Context, id string) error {
	if err := s.store.ReleaseToPending(ctx, id); err != nil {
		return err
	}
	logging.FromContext(ctx).Info("payout released to pending", "payout_id", id)
	return nil
}

func (s *Service) fail(ctx context.Context, pt *PayoutTransaction, reason string, cause error) error {
	if err := s.store.MarkFailed(ctx, pt.ID, reason); err != nil {
		logging.FromContext(ctx).Error("failed to mark payout failed",
			"payout_id", pt.ID, "reason", reason, "error", err)
	}
	pt.Status = StatusFailed
	pt.FailReason = reason
	metrics.PayoutsTotal.WithLabelValues(string(StatusFailed)).Inc()
	s.publish("payout.failed", pt)
	return cause
}

func (s *Service) rollback(ctx context.Context, pt *PayoutTransaction) {
	if err := s.limits.Rollback(ctx, pt.Recipient, pt.Amount); err != nil {
		logging.FromContext(ctx).Error("daily cap rollback failed",
			"payout_id", pt.ID, "recipient", pt.Recipient, "error", err)
	}
}

func (s *Service) publish(event string, pt *PayoutTransaction) {
	if s.events != nil {
		cp := *pt
		s.events.PublishPayout(event, &cp)
	}
}

// publicReason maps broadcast errors to a user-safe failure reason.
// Raw provider messages can leak endpoint and key configuration, so
// they only go to logs.
func publicReason(err error) string {
	if errors.Is(err, submitter.ErrExecutionFailed) {
		return "transfer reverted on chain"
	}
	if chain.IsTerminalError(err) {
		return "on-chain execution failed"
	}
	return "network error during broadcast"
}
