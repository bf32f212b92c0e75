// Package rewards holds the reward records being settled and the
// boundary to the learning platform: beneficiary wallet resolution and
// certificate issuance after a confirmed payout.
package rewards

import (
	"context"
	"errors"
	"time"
)

var (
	ErrRewardNotFound   = errors.New("reward not found")
	ErrAlreadyConfirmed = errors.New("reward already confirmed")
	ErrDuplicateReward  = errors.New("reward already exists")
	ErrNoWallet         = errors.New("identity has no wallet address")
)

// Status represents the state of a reward.
type Status string

const (
	// StatusEarned means the reward is claimable.
	StatusEarned Status = "earned"
	// StatusConfirmed means the payout settled on-chain.
	StatusConfirmed Status = "confirmed"
)

// Reward is an off-chain SKILL reward earned by completing an activity.
type Reward struct {
	ID         string `json:"id"`
	IdentityID string `json:"identityId"`
	ActivityID string `json:"activityId"`
	Amount     string `json:"amount"` // whole tokens, decimal string
	Status     Status `json:"status"`
	TxRef      string `json:"txRef,omitempty"`

	// Completion evidence, consumed by the fraud checks.
	EnrolledAt       time.Time     `json:"enrolledAt"`
	CompletedAt      time.Time     `json:"completedAt"`
	ExpectedDuration time.Duration `json:"expectedDuration"`
	MinDuration      time.Duration `json:"minDuration"`

	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
	ConfirmedAt time.Time `json:"confirmedAt,omitempty"`
}

// Store persists rewards and the identity → wallet mapping.
type Store interface {
	Create(ctx context.Context, r *Reward) error
	Get(ctx context.Context, id string) (*Reward, error)

	// MarkConfirmed records the settling transaction, once. A reward
	// already confirmed returns ErrAlreadyConfirmed.
	MarkConfirmed(ctx context.Context, id, txRef string, at time.Time) error

	ListByIdentity(ctx context.Context, identityID string, limit int) ([]*Reward, error)

	SetWallet(ctx context.Context, identityID, address string) error
	GetWallet(ctx context.Context, identityID string) (string, error)
}

// Certificate is the completion credential issued after settlement.
// Rendering is out of scope; issuers receive the facts and do the rest.
type Certificate struct {
	RewardID   string    `json:"rewardId"`
	IdentityID string    `json:"identityId"`
	ActivityID string    `json:"activityId"`
	TxRef      string    `json:"txRef"`
	IssuedAt   time.Time `json:"issuedAt"`
}

// CertificateIssuer issues certificates for confirmed rewards.
type CertificateIssuer interface {
	Issue(ctx context.Context, cert *Certificate) error
}
