package admin

import (
	"context"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/skillmint/skillmint/internal/fraud"
	"github.com/skillmint/skillmint/internal/guard"
	"github.com/skillmint/skillmint/internal/nonce"
	"github.com/skillmint/skillmint/internal/payout"
	"github.com/skillmint/skillmint/internal/token"
)

// BreakerControl abstracts circuit breaker operations for admin handlers.
type BreakerControl interface {
	Trip(ctx context.Context, trigger, by, reason string) error
	Reset(ctx context.Context, by string) error
	State(ctx context.Context) (*guard.BreakerState, error)
}

// NonceControl abstracts nonce allocator operations for admin handlers.
type NonceControl interface {
	Invalidate(reason string)
	Unstable() bool
	ResetEvents() []nonce.ResetEvent
}

// BlacklistStore is the blacklist slice of the fraud store.
type BlacklistStore interface {
	AddToBlacklist(ctx context.Context, entry *fraud.BlacklistEntry) error
	RemoveFromBlacklist(ctx context.Context, address string) error
	ListBlacklist(ctx context.Context, limit int) ([]*fraud.BlacklistEntry, error)
	ListClusters(ctx context.Context, limit int) ([]*fraud.WalletCluster, error)
	ListSinks(ctx context.Context, limit int) ([]*fraud.SinkAddress, error)
	ListDumps(ctx context.Context, limit int) ([]*fraud.DumpRecord, error)
}

// ClusterSweeper runs the wallet clustering sweep on demand.
type ClusterSweeper interface {
	RunClusterSweep(ctx context.Context) ([]*fraud.WalletCluster, error)
}

// DumpSweeper runs the dump monitor sweep on demand.
type DumpSweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// PayoutControl abstracts payout recovery operations.
type PayoutControl interface {
	Release(ctx context.Context, id string) error
	Process(ctx context.Context, id string, confirm bool) (*payout.PayoutTransaction, error)
	GetStatus(ctx context.Context, id string) (*payout.PayoutTransaction, error)
}

// PayoutCounter provides payout counts for the dashboard.
type PayoutCounter interface {
	CountByStatus(ctx context.Context) (map[payout.Status]int, error)
}

// BalanceSource reads the treasury's token balance.
type BalanceSource interface {
	TreasuryBalance(ctx context.Context) (*big.Int, error)
}

// Handler provides admin HTTP endpoints.
type Handler struct {
	breaker      BreakerControl
	nonces       NonceControl
	blacklist    BlacklistStore
	clusterSweep ClusterSweeper
	dumpSweep    DumpSweeper
	payouts      PayoutControl
	counts       PayoutCounter
	balance      BalanceSource
}

// NewHandler creates a new admin handler.
func NewHandler() *Handler {
	return &Handler{}
}

// WithBreaker sets the circuit breaker control.
func (h *Handler) WithBreaker(b BreakerControl) *Handler {
	h.breaker = b
	return h
}

// WithNonces sets the nonce allocator control.
func (h *Handler) WithNonces(n NonceControl) *Handler {
	h.nonces = n
	return h
}

// WithBlacklist sets the fraud store for blacklist and sweep listings.
func (h *Handler) WithBlacklist(s BlacklistStore) *Handler {
	h.blacklist = s
	return h
}

// WithClusterSweeper sets the on-demand cluster sweeper.
func (h *Handler) WithClusterSweeper(s ClusterSweeper) *Handler {
	h.clusterSweep = s
	return h
}

// WithDumpSweeper sets the on-demand dump sweeper.
func (h *Handler) WithDumpSweeper(s DumpSweeper) *Handler {
	h.dumpSweep = s
	return h
}

// WithPayouts sets the payout service for release/retry operations.
func (h *Handler) WithPayouts(p PayoutControl) *Handler {
	h.payouts = p
	return h
}

// WithPayoutCounter sets the payout count source for the dashboard.
func (h *Handler) WithPayoutCounter(c PayoutCounter) *Handler {
	h.counts = c
	return h
}

// WithBalance sets the treasury balance source for the dashboard.
func (h *Handler) WithBalance(b BalanceSource) *Handler {
	h.balance = b
	return h
}

// RegisterRoutes sets up admin routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/admin/breaker", h.breakerState)
	r.POST("/admin/breaker/trip", h.tripBreaker)
	r.POST("/admin/breaker/reset", h.resetBreaker)
	r.POST("/admin/nonce/invalidate", h.invalidateNonce)
	r.GET("/admin/blacklist", h.listBlacklist)
	r.POST("/admin/blacklist", h.addToBlacklist)
	r.DELETE("/admin/blacklist/:address", h.removeFromBlacklist)
	r.POST("/admin/sweeps/clusters", h.runClusterSweep)
	r.POST("/admin/sweeps/dumps", h.runDumpSweep)
	r.POST("/admin/payouts/:id/release", h.releasePayout)
	r.POST("/admin/payouts/:id/retry", h.retryPayout)
	r.GET("/admin/dashboard", h.dashboard)
}

func (h *Handler) breakerState(c *gin.Context) {
	if h.breaker == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "breaker not configured"})
		return
	}

	state, err := h.breaker.State(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read breaker state", "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"breaker": state})
}

// tripBreaker halts all payouts until an operator resets.
func (h *Handler) tripBreaker(c *gin.Context) {
	if h.breaker == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "breaker not configured"})
		return
	}

	var req struct {
		Reason string `json:"reason" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "reason is required"})
		return
	}

	if err := h.breaker.Trip(c.Request.Context(), "manual", "operator", req.Reason); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to trip breaker", "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"tripped": true, "reason": req.Reason})
}

func (h *Handler) resetBreaker(c *gin.Context) {
	if h.breaker == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "breaker not configured"})
		return
	}

	if err := h.breaker.Reset(c.Request.Context(), "operator"); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to reset breaker", "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"reset": true})
}

// invalidateNonce forces a fresh PendingNonceAt fetch on the next acquire.
func (h *Handler) invalidateNonce(c *gin.Context) {
	if h.nonces == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "nonce allocator not configured"})
		return
	}

	var req struct {
		Reason string `json:"reason"`
	}
	_ = c.ShouldBindJSON(&req)
	if req.Reason == "" {
		req.Reason = "manual"
	}

	h.nonces.Invalidate(req.Reason)

	c.JSON(http.StatusOK, gin.H{"invalidated": true, "reason": req.Reason})
}

func (h *Handler) listBlacklist(c *gin.Context) {
	if h.blacklist == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "fraud store not configured"})
		return
	}

	limit := 100
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 1000 {
			limit = parsed
		}
	}

	entries, err := h.blacklist.ListBlacklist(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list blacklist", "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"blacklist": entries, "count": len(entries)})
}

func (h *Handler) addToBlacklist(c *gin.Context) {
	if h.blacklist == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "fraud store not configured"})
		return
	}

	var req struct {
		Address string `json:"address" binding:"required"`
		Reason  string `json:"reason" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "address and reason are required"})
		return
	}

	entry := &fraud.BlacklistEntry{
		Address:   strings.ToLower(req.Address),
		Reason:    req.Reason,
		Severity:  fraud.SeverityBlocked,
		Source:    "operator",
		CreatedAt: time.Now(),
	}
	if err := h.blacklist.AddToBlacklist(c.Request.Context(), entry); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to add to blacklist", "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"added": true, "address": entry.Address})
}

func (h *Handler) removeFromBlacklist(c *gin.Context) {
	if h.blacklist == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "fraud store not configured"})
		return
	}

	address := strings.ToLower(c.Param("address"))
	if err := h.blacklist.RemoveFromBlacklist(c.Request.Context(), address); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to remove from blacklist", "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"removed": true, "address": address})
}

func (h *Handler) runClusterSweep(c *gin.Context) {
	if h.clusterSweep == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "fraud engine not configured"})
		return
	}

	clusters, err := h.clusterSweep.RunClusterSweep(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "cluster sweep failed", "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"clusters": clusters, "count": len(clusters)})
}

func (h *Handler) runDumpSweep(c *gin.Context) {
	if h.dumpSweep == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "dump monitor not configured"})
		return
	}

	created, err := h.dumpSweep.Sweep(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "dump sweep failed", "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"newDumpRecords": created})
}

// releasePayout moves a stuck processing payout back to pending. Crash
// recovery only; verify the broadcast never landed before calling this.
func (h *Handler) releasePayout(c *gin.Context) {
	if h.payouts == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "payout service not configured"})
		return
	}

	id := c.Param("id")
	pt, err := h.payouts.GetStatus(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "payout not found", "message": err.Error()})
		return
	}

	if pt.Status != payout.StatusProcessing {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_status",
			"message": "Only processing payouts can be released",
			"status":  string(pt.Status),
		})
		return
	}

	if err := h.payouts.Release(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to release payout", "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"released": true, "payoutId": id})
}

// retryPayout re-runs a failed payout in broadcast-and-confirm mode so
// the operator gets a definitive outcome.
func (h *Handler) retryPayout(c *gin.Context) {
	if h.payouts == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "payout service not configured"})
		return
	}

	id := c.Param("id")
	pt, err := h.payouts.GetStatus(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "payout not found", "message": err.Error()})
		return
	}

	if pt.Status != payout.StatusFailed && pt.Status != payout.StatusPending {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_status",
			"message": "Only failed or pending payouts can be retried",
			"status":  string(pt.Status),
		})
		return
	}

	result, err := h.payouts.Process(c.Request.Context(), id, true)
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "retry_failed", "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"payout": result})
}

// dashboard aggregates the security posture in one response.
func (h *Handler) dashboard(c *gin.Context) {
	ctx := c.Request.Context()
	out := gin.H{}

	if h.counts != nil {
		counts, err := h.counts.CountByStatus(ctx)
		if err == nil {
			out["payouts"] = counts
		}
	}

	if h.breaker != nil {
		if state, err := h.breaker.State(ctx); err == nil {
			out["breaker"] = state
		}
	}

	if h.nonces != nil {
		events := h.nonces.ResetEvents()
		out["nonce"] = gin.H{
			"unstable":    h.nonces.Unstable(),
			"resetEvents": events,
			"resetCount":  len(events),
		}
	}

	if h.blacklist != nil {
		if clusters, err := h.blacklist.ListClusters(ctx, 50); err == nil {
			out["clusters"] = clusters
		}
		if sinks, err := h.blacklist.ListSinks(ctx, 50); err == nil {
			out["flaggedSinks"] = sinks
		}
		if dumps, err := h.blacklist.ListDumps(ctx, 50); err == nil {
			out["recentDumps"] = dumps
		}
	}

	if h.balance != nil {
		if bal, err := h.balance.TreasuryBalance(ctx); err == nil {
			out["treasuryBalance"] = token.Format(bal)
		} else {
			out["treasuryBalanceError"] = err.Error()
		}
	}

	c.JSON(http.StatusOK, gin.H{"dashboard": out})
}
