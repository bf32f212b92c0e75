package rewards

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/skillmint/skillmint/internal/idgen"
	"github.com/skillmint/skillmint/internal/logging"
)

// Handler provides the learning-platform boundary: reward registration
// and beneficiary wallet management.
type Handler struct {
	service *Service
}

// NewHandler creates a new rewards handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up the reward registry routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/rewards", h.RegisterReward)
	r.GET("/rewards/:id", h.GetReward)
	r.GET("/identities/:identityId/rewards", h.ListRewards)
	r.PUT("/identities/:identityId/wallet", h.SetWallet)
	r.GET("/identities/:identityId/wallet", h.GetWallet)
}

type registerRewardRequest struct {
	ID              string    `json:"id"`
	IdentityID      string    `json:"identityId" binding:"required"`
	ActivityID      string    `json:"activityId" binding:"required"`
	Amount          string    `json:"amount" binding:"required"`
	EnrolledAt      time.Time `json:"enrolledAt"`
	CompletedAt     time.Time `json:"completedAt"`
	ExpectedSeconds int64     `json:"expectedDurationSeconds"`
	MinSeconds      int64     `json:"minDurationSeconds"`
}

// RegisterReward handles POST /v1/rewards. The learning platform calls
// this when an activity completes; the reward becomes claimable.
func (h *Handler) RegisterReward(c *gin.Context) {
	var req registerRewardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}

	if req.ID == "" {
		req.ID = idgen.WithPrefix("rwd_")
	}

	now := time.Now()
	reward := &Reward{
		ID:               req.ID,
		IdentityID:       req.IdentityID,
		ActivityID:       req.ActivityID,
		Amount:           req.Amount,
		EnrolledAt:       req.EnrolledAt,
		CompletedAt:      req.CompletedAt,
		ExpectedDuration: time.Duration(req.ExpectedSeconds) * time.Second,
		MinDuration:      time.Duration(req.MinSeconds) * time.Second,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := h.service.Register(c.Request.Context(), reward); err != nil {
		if errors.Is(err, ErrDuplicateReward) {
			c.JSON(http.StatusConflict, gin.H{
				"error":   "duplicate_reward",
				"message": "A reward with this ID is already registered",
			})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_reward",
			"message": err.Error(),
		})
		return
	}

	logging.L(c.Request.Context()).Info("reward registered",
		"reward_id", reward.ID,
		"identity_id", reward.IdentityID,
		"amount", reward.Amount,
	)

	c.JSON(http.StatusCreated, gin.H{"reward": reward})
}

// GetReward handles GET /v1/rewards/:id
func (h *Handler) GetReward(c *gin.Context) {
	reward, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrRewardNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Reward not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"reward": reward})
}

// ListRewards handles GET /v1/identities/:identityId/rewards
func (h *Handler) ListRewards(c *gin.Context) {
	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
			if limit > 200 {
				limit = 200
			}
		}
	}

	rewards, err := h.service.ListByIdentity(c.Request.Context(), c.Param("identityId"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"rewards": rewards,
		"count":   len(rewards),
	})
}

type setWalletRequest struct {
	Address string `json:"address" binding:"required"`
}

// SetWallet handles PUT /v1/identities/:identityId/wallet
func (h *Handler) SetWallet(c *gin.Context) {
	var req setWalletRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	identityID := c.Param("identityId")
	if err := h.service.SetBeneficiaryAddress(c.Request.Context(), identityID, req.Address); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_address",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"identityId": identityID,
		"wallet":     req.Address,
	})
}

// GetWallet handles GET /v1/identities/:identityId/wallet
func (h *Handler) GetWallet(c *gin.Context) {
	identityID := c.Param("identityId")

	address, err := h.service.GetBeneficiaryAddress(c.Request.Context(), identityID)
	if err != nil {
		if errors.Is(err, ErrNoWallet) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "no_wallet",
				"message": "Identity has no wallet address registered",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"identityId": identityID,
		"wallet":     address,
	})
}
