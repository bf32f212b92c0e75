package rewards

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupHandlerRouter(t *testing.T) (*gin.Engine, *MemoryStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	store := NewMemoryStore()
	r := gin.New()
	NewHandler(NewService(store)).RegisterRoutes(r.Group("/v1"))
	return r, store
}

func handlerJSON(t *testing.T, r *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRegisterReward(t *testing.T) {
	r, _ := setupHandlerRouter(t)

	w := handlerJSON(t, r, http.MethodPost, "/v1/rewards", gin.H{
		"id":                      "rwd_1",
		"identityId":              "user_1",
		"activityId":              "course_go",
		"amount":                  "250",
		"enrolledAt":              time.Now().Add(-2 * time.Hour).Format(time.RFC3339),
		"completedAt":             time.Now().Format(time.RFC3339),
		"expectedDurationSeconds": 3600,
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var resp struct {
		Reward Reward `json:"reward"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "rwd_1", resp.Reward.ID)
	assert.Equal(t, StatusEarned, resp.Reward.Status)
	assert.Equal(t, time.Hour, resp.Reward.ExpectedDuration)

	// Same ID again conflicts.
	w = handlerJSON(t, r, http.MethodPost, "/v1/rewards", gin.H{
		"id": "rwd_1", "identityId": "user_1", "activityId": "course_go", "amount": "250",
	})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestRegisterReward_GeneratesID(t *testing.T) {
	r, _ := setupHandlerRouter(t)

	w := handlerJSON(t, r, http.MethodPost, "/v1/rewards", gin.H{
		"identityId": "user_1", "activityId": "course_go", "amount": "10",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var resp struct {
		Reward Reward `json:"reward"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Contains(t, resp.Reward.ID, "rwd_")
}

func TestRegisterReward_InvalidAmount(t *testing.T) {
	r, _ := setupHandlerRouter(t)

	w := handlerJSON(t, r, http.MethodPost, "/v1/rewards", gin.H{
		"identityId": "user_1", "activityId": "course_go", "amount": "-5",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetReward(t *testing.T) {
	r, _ := setupHandlerRouter(t)

	w := handlerJSON(t, r, http.MethodPost, "/v1/rewards", gin.H{
		"id": "rwd_1", "identityId": "user_1", "activityId": "course_go", "amount": "250",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = handlerJSON(t, r, http.MethodGet, "/v1/rewards/rwd_1", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = handlerJSON(t, r, http.MethodGet, "/v1/rewards/rwd_missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListRewardsByIdentity(t *testing.T) {
	r, _ := setupHandlerRouter(t)

	for _, id := range []string{"rwd_1", "rwd_2"} {
		w := handlerJSON(t, r, http.MethodPost, "/v1/rewards", gin.H{
			"id": id, "identityId": "user_1", "activityId": "course_go", "amount": "10",
		})
		require.Equal(t, http.StatusCreated, w.Code)
	}

	w := handlerJSON(t, r, http.MethodGet, "/v1/identities/user_1/rewards", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)
}

func TestWalletLifecycle(t *testing.T) {
	r, _ := setupHandlerRouter(t)

	// No wallet yet.
	w := handlerJSON(t, r, http.MethodGet, "/v1/identities/user_1/wallet", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	addr := "0x52908400098527886E0F7030069857D2E4169EE7"
	w = handlerJSON(t, r, http.MethodPut, "/v1/identities/user_1/wallet", gin.H{"address": addr})
	require.Equal(t, http.StatusOK, w.Code)

	w = handlerJSON(t, r, http.MethodGet, "/v1/identities/user_1/wallet", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Wallet string `json:"wallet"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "0x52908400098527886e0f7030069857d2e4169ee7", resp.Wallet, "stored lowercased")

	// Invalid address rejected.
	w = handlerJSON(t, r, http.MethodPut, "/v1/identities/user_1/wallet", gin.H{"address": "nope"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
