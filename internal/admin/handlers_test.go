package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skillmint/skillmint/internal/fraud"
	"github.com/skillmint/skillmint/internal/guard"
	"github.com/skillmint/skillmint/internal/nonce"
	"github.com/skillmint/skillmint/internal/payout"
)

const testSecret = "swordfish"

type fakeNonces struct {
	mu          sync.Mutex
	invalidated []string
}

func (f *fakeNonces) Invalidate(reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated = append(f.invalidated, reason)
}

func (f *fakeNonces) Unstable() bool { return false }

func (f *fakeNonces) ResetEvents() []nonce.ResetEvent { return nil }

type fakePayouts struct {
	store     *payout.MemoryStore
	processed []string
}

func (f *fakePayouts) Release(ctx context.Context, id string) error {
	return f.store.ReleaseToPending(ctx, id)
}

func (f *fakePayouts) Process(ctx context.Context, id string, confirm bool) (*payout.PayoutTransaction, error) {
	f.processed = append(f.processed, id)
	pt, err := f.store.ClaimForProcessing(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := f.store.MarkCompleted(ctx, id, "0xretry"); err != nil {
		return nil, err
	}
	pt.Status = payout.StatusCompleted
	return pt, nil
}

func (f *fakePayouts) GetStatus(ctx context.Context, id string) (*payout.PayoutTransaction, error) {
	return f.store.Get(ctx, id)
}

type fakeBalance struct{ balance *big.Int }

func (f *fakeBalance) TreasuryBalance(ctx context.Context) (*big.Int, error) {
	return f.balance, nil
}

func setupRouter(t *testing.T, h *Handler) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	grp := r.Group("/v1", AuthMiddleware(testSecret))
	h.RegisterRoutes(grp)
	return r
}

func doJSON(t *testing.T, r *gin.Engine, method, path, secret string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if secret != "" {
		req.Header.Set("X-Admin-Secret", secret)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func newBreaker(t *testing.T) *guard.Breaker {
	t.Helper()
	store := payout.NewMemoryStore()
	b, err := guard.NewBreaker(guard.NewMemoryStore(), store, nil, 20, "")
	require.NoError(t, err)
	return b
}

func TestAuthMiddleware(t *testing.T) {
	h := NewHandler().WithBreaker(newBreaker(t))
	r := setupRouter(t, h)

	w := doJSON(t, r, http.MethodGet, "/v1/admin/breaker", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doJSON(t, r, http.MethodGet, "/v1/admin/breaker", "wrong", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doJSON(t, r, http.MethodGet, "/v1/admin/breaker", testSecret, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuthMiddleware_Disabled(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	grp := r.Group("/v1", AuthMiddleware(""))
	NewHandler().WithBreaker(newBreaker(t)).RegisterRoutes(grp)

	w := doJSON(t, r, http.MethodGet, "/v1/admin/breaker", "anything", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestTripAndResetBreaker(t *testing.T) {
	b := newBreaker(t)
	r := setupRouter(t, NewHandler().WithBreaker(b))

	w := doJSON(t, r, http.MethodPost, "/v1/admin/breaker/trip", testSecret,
		gin.H{"reason": "suspicious burst"})
	require.Equal(t, http.StatusOK, w.Code)

	state, err := b.State(context.Background())
	require.NoError(t, err)
	assert.True(t, state.Tripped)
	assert.Equal(t, "manual", state.Trigger)
	assert.Equal(t, "operator", state.TrippedBy)

	w = doJSON(t, r, http.MethodPost, "/v1/admin/breaker/reset", testSecret, nil)
	require.Equal(t, http.StatusOK, w.Code)

	state, err = b.State(context.Background())
	require.NoError(t, err)
	assert.False(t, state.Tripped)
}

func TestTripBreaker_RequiresReason(t *testing.T) {
	r := setupRouter(t, NewHandler().WithBreaker(newBreaker(t)))

	w := doJSON(t, r, http.MethodPost, "/v1/admin/breaker/trip", testSecret, gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestInvalidateNonce(t *testing.T) {
	nonces := &fakeNonces{}
	r := setupRouter(t, NewHandler().WithNonces(nonces))

	w := doJSON(t, r, http.MethodPost, "/v1/admin/nonce/invalidate", testSecret,
		gin.H{"reason": "desync observed"})
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, nonces.invalidated, 1)
	assert.Equal(t, "desync observed", nonces.invalidated[0])
}

func TestBlacklistLifecycle(t *testing.T) {
	store := fraud.NewMemoryStore()
	r := setupRouter(t, NewHandler().WithBlacklist(store))
	addr := "0xBADBADBADBADBADBADBADBADBADBADBADBADBAD1"

	w := doJSON(t, r, http.MethodPost, "/v1/admin/blacklist", testSecret,
		gin.H{"address": addr, "reason": "farm operator"})
	require.Equal(t, http.StatusOK, w.Code)

	blocked, err := store.IsBlacklisted(context.Background(), addr)
	require.NoError(t, err)
	assert.True(t, blocked)

	w = doJSON(t, r, http.MethodGet, "/v1/admin/blacklist", testSecret, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var listResp struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listResp))
	assert.Equal(t, 1, listResp.Count)

	w = doJSON(t, r, http.MethodDelete, "/v1/admin/blacklist/"+addr, testSecret, nil)
	require.Equal(t, http.StatusOK, w.Code)

	blocked, err = store.IsBlacklisted(context.Background(), addr)
	require.NoError(t, err)
	assert.False(t, blocked)
}

func TestReleasePayout(t *testing.T) {
	store := payout.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, &payout.PayoutTransaction{
		ID: "pay_1", RewardID: "rwd_1", Recipient: "0xabc", Amount: "100",
		Status: payout.StatusPending,
	}))
	_, err := store.ClaimForProcessing(ctx, "pay_1")
	require.NoError(t, err)

	fp := &fakePayouts{store: store}
	r := setupRouter(t, NewHandler().WithPayouts(fp))

	w := doJSON(t, r, http.MethodPost, "/v1/admin/payouts/pay_1/release", testSecret, nil)
	require.Equal(t, http.StatusOK, w.Code)

	pt, err := store.Get(ctx, "pay_1")
	require.NoError(t, err)
	assert.Equal(t, payout.StatusPending, pt.Status)

	// A pending payout cannot be released again.
	w = doJSON(t, r, http.MethodPost, "/v1/admin/payouts/pay_1/release", testSecret, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRetryPayout(t *testing.T) {
	store := payout.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, &payout.PayoutTransaction{
		ID: "pay_1", RewardID: "rwd_1", Recipient: "0xabc", Amount: "100",
		Status: payout.StatusPending,
	}))
	_, err := store.ClaimForProcessing(ctx, "pay_1")
	require.NoError(t, err)
	require.NoError(t, store.MarkFailed(ctx, "pay_1", "rpc timeout"))

	fp := &fakePayouts{store: store}
	r := setupRouter(t, NewHandler().WithPayouts(fp))

	w := doJSON(t, r, http.MethodPost, "/v1/admin/payouts/pay_1/retry", testSecret, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, fp.processed, 1)

	pt, err := store.Get(ctx, "pay_1")
	require.NoError(t, err)
	assert.Equal(t, payout.StatusCompleted, pt.Status)

	// Completed payouts cannot be retried.
	w = doJSON(t, r, http.MethodPost, "/v1/admin/payouts/pay_1/retry", testSecret, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDashboard(t *testing.T) {
	payouts := payout.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, payouts.Create(ctx, &payout.PayoutTransaction{
		ID: "pay_1", RewardID: "rwd_1", Recipient: "0xabc", Amount: "100",
		Status: payout.StatusPending,
	}))

	h := NewHandler().
		WithBreaker(newBreaker(t)).
		WithNonces(&fakeNonces{}).
		WithBlacklist(fraud.NewMemoryStore()).
		WithPayoutCounter(payouts).
		WithBalance(&fakeBalance{balance: big.NewInt(1e18)})
	r := setupRouter(t, h)

	w := doJSON(t, r, http.MethodGet, "/v1/admin/dashboard", testSecret, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Dashboard struct {
			Payouts         map[string]int `json:"payouts"`
			TreasuryBalance string         `json:"treasuryBalance"`
			Nonce           struct {
				Unstable bool `json:"unstable"`
			} `json:"nonce"`
			Breaker struct {
				Tripped bool `json:"tripped"`
			} `json:"breaker"`
		} `json:"dashboard"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	assert.Equal(t, 1, resp.Dashboard.Payouts["pending"])
	assert.Equal(t, "1", resp.Dashboard.TreasuryBalance)
	assert.False(t, resp.Dashboard.Nonce.Unstable)
	assert.False(t, resp.Dashboard.Breaker.Tripped)
}
