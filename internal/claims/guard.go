package claims

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/skillmint/skillmint/internal/idgen"
	"github.com/skillmint/skillmint/internal/metrics"
)

const (
	// ChallengeTTL is how long a minted challenge stays signable.
	ChallengeTTL = 60 * time.Second

	// timestampWindow bounds claim timestamps symmetrically: stale and
	// implausibly-future timestamps are both rejected.
	timestampWindow = 120 * time.Second

	// cooldownInterval is the minimum spacing between claim attempts
	// per identity.
	cooldownInterval = 30 * time.Second

	// dedupWindow rejects near-simultaneous duplicate submissions.
	dedupWindow = 60 * time.Second
)

// IssuedChallenge is the mint response handed to the client.
type IssuedChallenge struct {
	Nonce     string `json:"nonce"`
	Message   string `json:"message"`
	ExpiresIn int    `json:"expiresIn"`
}

// AuthRequest is a claim submission to authorize.
type AuthRequest struct {
	RewardID    string
	IdentityID  string
	Beneficiary string
	Amount      string
	Nonce       string
	Timestamp   int64
	Signature   string
}

// Guard runs the replay/rate checks in front of settlement.
type Guard struct {
	store Store
	now   func() time.Time
}

// NewGuard creates the replay guard on the given store.
func NewGuard(store Store) *Guard {
	return &Guard{store: store, now: time.Now}
}

// IssueChallenge mints a single-use challenge bound to (reward,
// identity). The returned message shows the exact string to sign, with
// the timestamp left for the client to fill at signing time.
func (g *Guard) IssueChallenge(ctx context.Context, rewardID, identityID string) (*IssuedChallenge, error) {
	now := g.now()
	ch := &Challenge{
		Nonce:      idgen.Hex(16),
		IdentityID: identityID,
		RewardID:   rewardID,
		CreatedAt:  now,
		ExpiresAt:  now.Add(ChallengeTTL),
	}
	if err := g.store.CreateChallenge(ctx, ch); err != nil {
		return nil, fmt.Errorf("mint challenge: %w", err)
	}
	return &IssuedChallenge{
		Nonce:     ch.Nonce,
		Message:   fmt.Sprintf("Skillmint Claim|%s|%s|{unix-timestamp}", rewardID, ch.Nonce),
		ExpiresIn: int(ChallengeTTL.Seconds()),
	}, nil
}

// Authorize runs all four replay checks. Any error means the claim must
// not reach settlement.
func (g *Guard) Authorize(ctx context.Context, req *AuthRequest) error {
	now := g.now()

	ts := time.Unix(req.Timestamp, 0)
	if ts.Before(now.Add(-timestampWindow)) || ts.After(now.Add(timestampWindow)) {
		return g.reject("timestamp", ErrStaleTimestamp)
	}

	message := ChallengeMessage(req.RewardID, req.Nonce, req.Timestamp)
	if err := VerifySignature(message, req.Signature, req.Beneficiary); err != nil {
		return g.reject("signature", ErrBadSignature)
	}

	if err := g.store.ConsumeChallenge(ctx, req.Nonce, req.IdentityID, req.RewardID, now); err != nil {
		switch err {
		case ErrChallengeNotFound, ErrChallengeExpired, ErrChallengeUsed:
			return g.reject("challenge", err)
		default:
			return fmt.Errorf("consume challenge: %w", err)
		}
	}

	ok, err := g.store.ReserveCooldown(ctx, req.IdentityID, now, cooldownInterval)
	if err != nil {
		return fmt.Errorf("cooldown check: %w", err)
	}
	if !ok {
		return g.reject("cooldown", ErrCooldown)
	}

	ok, err = g.store.SaveDedup(ctx, ContentHash(req), now, dedupWindow)
	if err != nil {
		return fmt.Errorf("dedup check: %w", err)
	}
	if !ok {
		return g.reject("duplicate", ErrDuplicateRequest)
	}
	return nil
}

// PruneExpired drops expired guard state.
func (g *Guard) PruneExpired(ctx context.Context) error {
	return g.store.PruneExpired(ctx, g.now())
}

func (g *Guard) reject(reason string, err error) error {
	metrics.ClaimRejections.WithLabelValues(reason).Inc()
	return err
}

// ContentHash fingerprints the semantic content of a claim request so
// near-simultaneous duplicates collide.
func ContentHash(req *AuthRequest) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%s",
		req.IdentityID, req.RewardID, req.Beneficiary, req.Amount)))
	return hex.EncodeToString(sum[:])
}
