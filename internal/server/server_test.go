package server

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/gin-gonic/gin"

	"github.com/skillmint/skillmint/internal/chain"
	"github.com/skillmint/skillmint/internal/config"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// mockRPC implements chain.RPCClient without a live node.
type mockRPC struct{}

func (m *mockRPC) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return 7, nil
}

func (m *mockRPC) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (m *mockRPC) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	return nil
}

func (m *mockRPC) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	return &types.Receipt{Status: types.ReceiptStatusSuccessful}, nil
}

func (m *mockRPC) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	// balanceOf: one million SKILL in raw units.
	bal, _ := new(big.Int).SetString("1000000000000000000000000", 10)
	out := make([]byte, 32)
	bal.FillBytes(out)
	return out, nil
}

func (m *mockRPC) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	return nil, nil
}

func (m *mockRPC) BlockNumber(ctx context.Context) (uint64, error) {
	return 100, nil
}

func (m *mockRPC) Close() {}

// testConfig returns a minimal config for testing
func testConfig() *config.Config {
	return &config.Config{
		Port:              "0",
		Env:               "development",
		LogLevel:          "error",
		RPCURL:            "https://sepolia.base.org",
		ChainID:           84532,
		TreasuryKey:       "0000000000000000000000000000000000000000000000000000000000000001",
		TokenContract:     "0x41C3DdE96a8871Dcf458A275b95E73A53057f1A3",
		ConfirmAttempts:   1,
		DailyPayoutCap:    "150000",
		TreasuryFloor:     "1000",
		BurstTripCount:    20,
		SubmitMaxAttempts: 1,
		FraudScoreBlock:   85,
		RateLimitRPM:      6000,
	}
}

// newTestServer creates a server with a mocked chain client
func newTestServer(t *testing.T) *Server {
	t.Helper()

	cfg := testConfig()
	treasury, err := chain.New(chain.Config{
		TreasuryKey:   cfg.TreasuryKey,
		ChainID:       cfg.ChainID,
		TokenContract: cfg.TokenContract,
	}, chain.WithClient(&mockRPC{}))
	if err != nil {
		t.Fatalf("Failed to create treasury: %v", err)
	}

	s, err := New(cfg, WithTreasury(treasury))
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	return s
}

// ---------------------------------------------------------------------------
// Health endpoint tests
// ---------------------------------------------------------------------------

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health", nil)
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		// Reconciliation timer only runs after Run(), so full health
		// reports degraded here.
		t.Errorf("Expected 503 (degraded before Run), got %d", w.Code)
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}

	checks, ok := resp["checks"].(map[string]interface{})
	if !ok {
		t.Fatalf("Expected checks map, got %v", resp["checks"])
	}
	if checks["rpc"] != "healthy" {
		t.Errorf("Expected rpc check 'healthy', got %v", checks["rpc"])
	}
	if checks["nonce"] != "healthy" {
		t.Errorf("Expected nonce check 'healthy', got %v", checks["nonce"])
	}
}

func TestLivenessEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health/live", nil)
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}
}

func TestReadinessEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health/ready", nil)
	s.router.ServeHTTP(w, req)

	// Server hasn't called Run() so ready is false
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 (not ready), got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// Route registration tests
// ---------------------------------------------------------------------------

func TestCoreRoutesRegistered(t *testing.T) {
	s := newTestServer(t)

	routes := s.router.Routes()
	expected := []string{
		"GET:/health",
		"GET:/health/live",
		"GET:/health/ready",
		"GET:/metrics",
		"GET:/ws",
		"POST:/v1/claims/challenge",
		"POST:/v1/claims",
		"GET:/v1/payouts/:id",
		"POST:/v1/registrations/check",
		"POST:/v1/rewards",
		"PUT:/v1/identities/:identityId/wallet",
		"GET:/v1/receipts/:id",
		"POST:/v1/receipts/verify",
		"GET:/v1/admin/dashboard",
		"POST:/v1/admin/breaker/trip",
		"POST:/v1/admin/payouts/:id/retry",
	}

	routeSet := make(map[string]bool)
	for _, route := range routes {
		routeSet[route.Method+":"+route.Path] = true
	}

	for _, e := range expected {
		if !routeSet[e] {
			t.Errorf("Core route %s not registered", e)
		}
	}
}

// ---------------------------------------------------------------------------
// Claim flow tests
// ---------------------------------------------------------------------------

func TestChallengeUnknownReward(t *testing.T) {
	s := newTestServer(t)

	body := `{"rewardId":"rwd_missing"}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/claims/challenge", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown reward, got %d: %s", w.Code, w.Body.String())
	}
}

func TestChallengeForRegisteredReward(t *testing.T) {
	s := newTestServer(t)

	do := func(method, path, body string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		s.router.ServeHTTP(w, req)
		return w
	}

	w := do("POST", "/v1/rewards",
		`{"id":"rwd_1","identityId":"user_1","activityId":"course_go","amount":"250"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201 registering reward, got %d: %s", w.Code, w.Body.String())
	}

	w = do("PUT", "/v1/identities/user_1/wallet",
		`{"address":"0xaaaa000000000000000000000000000000000001"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 setting wallet, got %d: %s", w.Code, w.Body.String())
	}

	w = do("POST", "/v1/claims/challenge", `{"rewardId":"rwd_1"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 issuing challenge, got %d: %s", w.Code, w.Body.String())
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if resp["nonce"] == nil || resp["nonce"] == "" {
		t.Error("Expected nonce in challenge response")
	}
}

// ---------------------------------------------------------------------------
// Admin gate test
// ---------------------------------------------------------------------------

func TestAdminDisabledWithoutSecret(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/v1/admin/dashboard", nil)
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 (admin disabled), got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// 404 test
// ---------------------------------------------------------------------------

func TestNotFoundRoute(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/v1/nonexistent", nil)
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
}
