package claims

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/skillmint/skillmint/internal/fraud"
	"github.com/skillmint/skillmint/internal/logging"
	"github.com/skillmint/skillmint/internal/payout"
)

// ClaimableReward is the slice of a reward the claim flow needs.
type ClaimableReward struct {
	ID               string
	IdentityID       string
	Beneficiary      string
	Amount           string
	ActivityID       string
	EnrolledAt       time.Time
	CompletedAt      time.Time
	ExpectedDuration time.Duration
	MinDuration      time.Duration
}

// RewardSource resolves claimable rewards. The rewards service
// satisfies this.
type RewardSource interface {
	GetClaimable(ctx context.Context, rewardID string) (*ClaimableReward, error)
}

// ErrRewardNotClaimable is returned by RewardSource for rewards that
// are missing, already settled, or otherwise not payable.
var ErrRewardNotClaimable = errors.New("reward not claimable")

// FraudChecker runs the anti-abuse evaluation. The fraud engine
// satisfies this.
type FraudChecker interface {
	Evaluate(ctx context.Context, claim *fraud.ClaimContext) ([]fraud.Finding, error)
	CheckRegistration(ctx context.Context, reg *fraud.RegistrationContext) ([]fraud.Finding, error)
}

// Settler drives settlement. The payout service satisfies this.
type Settler interface {
	EnqueuePayout(ctx context.Context, rewardID, identityID, recipient, amount string) (*payout.PayoutTransaction, error)
	Process(ctx context.Context, id string, confirm bool) (*payout.PayoutTransaction, error)
	GetStatus(ctx context.Context, id string) (*payout.PayoutTransaction, error)
	GetByReward(ctx context.Context, rewardID string) (*payout.PayoutTransaction, error)
}

// Handler provides the public claim endpoints.
type Handler struct {
	guard   *Guard
	rewards RewardSource
	checker FraudChecker
	settler Settler
}

// NewHandler creates the claims handler.
func NewHandler(guard *Guard, rewards RewardSource, checker FraudChecker, settler Settler) *Handler {
	return &Handler{guard: guard, rewards: rewards, checker: checker, settler: settler}
}

// RegisterRoutes sets up the claim flow routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/claims/challenge", h.CreateChallenge)
	r.POST("/claims", h.SubmitClaim)
	r.GET("/payouts/:id", h.GetPayout)
	r.POST("/registrations/check", h.CheckRegistration)
}

type challengeRequest struct {
	RewardID string `json:"rewardId" binding:"required"`
}

// CreateChallenge mints a single-use signing challenge for a reward.
func (h *Handler) CreateChallenge(c *gin.Context) {
	var req challengeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	reward, err := h.rewards.GetClaimable(c.Request.Context(), req.RewardID)
	if err != nil {
		if errors.Is(err, ErrRewardNotClaimable) {
			c.JSON(http.StatusNotFound, gin.H{"error": "reward_not_claimable"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	issued, err := h.guard.IssueChallenge(c.Request.Context(), reward.ID, reward.IdentityID)
	if err != nil {
		logging.FromContext(c.Request.Context()).Error("challenge mint failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	c.JSON(http.StatusOK, issued)
}

type claimRequest struct {
	RewardID    string `json:"rewardId" binding:"required"`
	Nonce       string `json:"nonce" binding:"required"`
	Timestamp   int64  `json:"timestamp" binding:"required"`
	Signature   string `json:"signature" binding:"required"`
	Fingerprint string `json:"fingerprint"`
	Timezone    string `json:"timezone"`
}

// SubmitClaim authorizes and enqueues a payout, settling asynchronously.
func (h *Handler) SubmitClaim(c *gin.Context) {
	ctx := c.Request.Context()
	log := logging.FromContext(ctx)

	var req claimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	reward, err := h.rewards.GetClaimable(ctx, req.RewardID)
	if err != nil {
		if errors.Is(err, ErrRewardNotClaimable) {
			c.JSON(http.StatusNotFound, gin.H{"error": "reward_not_claimable"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	err = h.guard.Authorize(ctx, &AuthRequest{
		RewardID:    reward.ID,
		IdentityID:  reward.IdentityID,
		Beneficiary: reward.Beneficiary,
		Amount:      reward.Amount,
		Nonce:       req.Nonce,
		Timestamp:   req.Timestamp,
		Signature:   req.Signature,
	})
	if err != nil {
		h.rejectClaim(c, err)
		return
	}

	findings, err := h.checker.Evaluate(ctx, &fraud.ClaimContext{
		IdentityID:       reward.IdentityID,
		Recipient:        reward.Beneficiary,
		IP:               c.ClientIP(),
		Fingerprint:      req.Fingerprint,
		Timezone:         req.Timezone,
		ActivityID:       reward.ActivityID,
		EnrolledAt:       reward.EnrolledAt,
		CompletedAt:      reward.CompletedAt,
		ExpectedDuration: reward.ExpectedDuration,
		MinDuration:      reward.MinDuration,
	})
	if err != nil {
		log.Error("fraud evaluation failed", "reward_id", reward.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	if blocking := fraud.Blocking(findings); blocking != nil {
		c.JSON(http.StatusForbidden, gin.H{
			"error":  "claim_blocked",
			"reason": blocking.Reason,
		})
		return
	}

	pt, err := h.settler.EnqueuePayout(ctx, reward.ID, reward.IdentityID, reward.Beneficiary, reward.Amount)
	if err != nil {
		if errors.Is(err, payout.ErrDuplicateClaim) {
			if existing, gerr := h.settler.GetByReward(ctx, reward.ID); gerr == nil {
				c.JSON(http.StatusAccepted, gin.H{
					"status":   string(existing.Status),
					"payoutId": existing.ID,
				})
				return
			}
		}
		log.Error("enqueue payout failed", "reward_id", reward.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	// Settlement continues after the response; confirmation is picked
	// up by a later retry or the reconciliation report, so the HTTP
	// path only waits for broadcast.
	bg := context.WithoutCancel(ctx)
	go func() {
		if _, err := h.settler.Process(bg, pt.ID, false); err != nil {
			logging.FromContext(bg).Warn("async settlement failed",
				"payout_id", pt.ID, "error", err)
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{
		"status":   string(payout.StatusProcessing),
		"payoutId": pt.ID,
	})
}

// GetPayout returns the status of one payout.
func (h *Handler) GetPayout(c *gin.Context) {
	pt, err := h.settler.GetStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, payout.ErrPayoutNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "payout_not_found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	resp := gin.H{
		"id":     pt.ID,
		"status": string(pt.Status),
	}
	if pt.TxHash != "" {
		resp["txHash"] = pt.TxHash
	}
	if pt.FailReason != "" {
		resp["failReason"] = pt.FailReason
	}
	c.JSON(http.StatusOK, resp)
}

type registrationRequest struct {
	IdentityID  string `json:"identityId" binding:"required"`
	Recipient   string `json:"recipient" binding:"required"`
	Fingerprint string `json:"fingerprint"`
	Timezone    string `json:"timezone"`
}

// CheckRegistration lets the enrollment layer screen a new signup.
func (h *Handler) CheckRegistration(c *gin.Context) {
	var req registrationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	findings, err := h.checker.CheckRegistration(c.Request.Context(), &fraud.RegistrationContext{
		IdentityID:  req.IdentityID,
		Recipient:   req.Recipient,
		IP:          c.ClientIP(),
		Fingerprint: req.Fingerprint,
		Timezone:    req.Timezone,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	if blocking := fraud.Blocking(findings); blocking != nil {
		c.JSON(http.StatusOK, gin.H{"allowed": false, "reason": blocking.Reason})
		return
	}
	c.JSON(http.StatusOK, gin.H{"allowed": true})
}

func (h *Handler) rejectClaim(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrStaleTimestamp), errors.Is(err, ErrBadSignature):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": err.Error()})
	case errors.Is(err, ErrCooldown):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate_limited", "message": err.Error()})
	case errors.Is(err, ErrDuplicateRequest):
		c.JSON(http.StatusConflict, gin.H{"error": "duplicate_claim", "message": err.Error()})
	case errors.Is(err, ErrChallengeNotFound), errors.Is(err, ErrChallengeExpired), errors.Is(err, ErrChallengeUsed):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_challenge", "message": err.Error()})
	default:
		logging.FromContext(c.Request.Context()).Error("claim authorization failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}
