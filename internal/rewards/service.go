package rewards

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/skillmint/skillmint/internal/claims"
	"github.com/skillmint/skillmint/internal/logging"
	"github.com/skillmint/skillmint/internal/token"
)

// Service resolves claimable rewards and finalizes them after
// settlement. Satisfies the claim flow's RewardSource and the payout
// service's RewardFinalizer.
type Service struct {
	store  Store
	issuer CertificateIssuer
}

// ServiceOption configures optional collaborators.
type ServiceOption func(*Service)

// WithIssuer wires the certificate issuer.
func WithIssuer(issuer CertificateIssuer) ServiceOption {
	return func(s *Service) { s.issuer = issuer }
}

// NewService creates the rewards service.
func NewService(store Store, opts ...ServiceOption) *Service {
	s := &Service{store: store}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register records a newly earned reward after validating the amount.
func (s *Service) Register(ctx context.Context, r *Reward) error {
	if _, err := token.Parse(r.Amount); err != nil {
		return fmt.Errorf("invalid reward amount: %w", err)
	}
	r.Status = StatusEarned
	return s.store.Create(ctx, r)
}

// Get returns one reward.
func (s *Service) Get(ctx context.Context, id string) (*Reward, error) {
	return s.store.Get(ctx, id)
}

// ListByIdentity returns an identity's rewards, newest first.
func (s *Service) ListByIdentity(ctx context.Context, identityID string, limit int) ([]*Reward, error) {
	return s.store.ListByIdentity(ctx, identityID, limit)
}

// GetClaimable resolves a reward plus its beneficiary wallet for the
// claim flow. Confirmed or unknown rewards are not claimable.
func (s *Service) GetClaimable(ctx context.Context, rewardID string) (*claims.ClaimableReward, error) {
	r, err := s.store.Get(ctx, rewardID)
	if err != nil {
		if errors.Is(err, ErrRewardNotFound) {
			return nil, claims.ErrRewardNotClaimable
		}
		return nil, err
	}
	if r.Status != StatusEarned {
		return nil, claims.ErrRewardNotClaimable
	}

	wallet, err := s.GetBeneficiaryAddress(ctx, r.IdentityID)
	if err != nil {
		if errors.Is(err, ErrNoWallet) {
			return nil, claims.ErrRewardNotClaimable
		}
		return nil, err
	}

	return &claims.ClaimableReward{
		ID:               r.ID,
		IdentityID:       r.IdentityID,
		Beneficiary:      wallet,
		Amount:           r.Amount,
		ActivityID:       r.ActivityID,
		EnrolledAt:       r.EnrolledAt,
		CompletedAt:      r.CompletedAt,
		ExpectedDuration: r.ExpectedDuration,
		MinDuration:      r.MinDuration,
	}, nil
}

// GetBeneficiaryAddress returns the identity's payout wallet.
func (s *Service) GetBeneficiaryAddress(ctx context.Context, identityID string) (string, error) {
	return s.store.GetWallet(ctx, identityID)
}

// SetBeneficiaryAddress registers the identity's payout wallet.
func (s *Service) SetBeneficiaryAddress(ctx context.Context, identityID, address string) error {
	if !common.IsHexAddress(address) {
		return fmt.Errorf("invalid wallet address %q", address)
	}
	return s.store.SetWallet(ctx, identityID, strings.ToLower(address))
}

// Finalize marks the reward confirmed with its settling transaction and
// issues the certificate. Called by the payout service after the
// transfer is on chain, so issuance failures are logged rather than
// unwinding anything.
func (s *Service) Finalize(ctx context.Context, rewardID, txHash string) error {
	r, err := s.store.Get(ctx, rewardID)
	if err != nil {
		return err
	}

	if err := s.store.MarkConfirmed(ctx, rewardID, txHash, time.Now()); err != nil {
		if errors.Is(err, ErrAlreadyConfirmed) {
			return nil
		}
		return err
	}

	if s.issuer != nil {
		cert := &Certificate{
			RewardID:   r.ID,
			IdentityID: r.IdentityID,
			ActivityID: r.ActivityID,
			TxRef:      txHash,
			IssuedAt:   time.Now(),
		}
		if err := s.issuer.Issue(ctx, cert); err != nil {
			logging.FromContext(ctx).Error("certificate issuance failed",
				"reward_id", rewardID, "error", err)
		}
	}
	return nil
}
