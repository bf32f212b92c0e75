// Package claims guards the claim endpoint against replay and abuse.
//
// Every claim must present a single-use signed challenge, a fresh
// timestamp, and survive a per-identity cooldown plus a short-window
// dedup on the request content. All four checks are durable so a deploy
// never resets protection.
package claims

import (
	"context"
	"errors"
	"time"
)

// Guard errors, mapped to HTTP statuses by the handler.
var (
	ErrChallengeNotFound = errors.New("challenge not found")
	ErrChallengeExpired  = errors.New("challenge expired")
	ErrChallengeUsed     = errors.New("challenge already used")
	ErrStaleTimestamp    = errors.New("timestamp outside accepted window")
	ErrBadSignature      = errors.New("signature does not match beneficiary")
	ErrCooldown          = errors.New("too many claim attempts, slow down")
	ErrDuplicateRequest  = errors.New("duplicate claim request")
)

// Challenge is a single-use nonce binding a claim to one reward.
type Challenge struct {
	Nonce      string     `json:"nonce"`
	IdentityID string     `json:"identityId"`
	RewardID   string     `json:"rewardId"`
	CreatedAt  time.Time  `json:"createdAt"`
	ExpiresAt  time.Time  `json:"expiresAt"`
	Used       bool       `json:"used"`
	UsedAt     *time.Time `json:"usedAt,omitempty"`
}

// Store persists the replay-guard state.
type Store interface {
	CreateChallenge(ctx context.Context, ch *Challenge) error

	// ConsumeChallenge marks the challenge used, exactly once. The
	// nonce must belong to the given identity and reward.
	ConsumeChallenge(ctx context.Context, nonce, identityID, rewardID string, now time.Time) error

	// ReserveCooldown records a claim attempt if the identity's last
	// attempt is older than interval. Returns false while the cooldown
	// is still running.
	ReserveCooldown(ctx context.Context, identityID string, now time.Time, interval time.Duration) (bool, error)

	// SaveDedup stores the request content hash unless an unexpired
	// copy exists. Returns false for the duplicate.
	SaveDedup(ctx context.Context, contentHash string, now time.Time, window time.Duration) (bool, error)

	// PruneExpired drops expired challenges and dedup entries.
	PruneExpired(ctx context.Context, now time.Time) error
}
