package fraud

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	walletA = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	walletB = "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	walletC = "0xcccccccccccccccccccccccccccccccccccccccc"
)

func TestEvaluate_CleanClaim(t *testing.T) {
	e := NewEngine(NewMemoryStore())

	findings, err := e.Evaluate(context.Background(), &ClaimContext{
		IdentityID: "usr_1",
		Recipient:  walletA,
		ActivityID: "course_go101",
		Timezone:   "Europe/Berlin",
	})
	require.NoError(t, err)
	assert.Empty(t, findings)
}

func TestEvaluate_BlacklistedRecipient(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.AddToBlacklist(context.Background(), &BlacklistEntry{
		Address: walletA, Reason: "manual", Severity: SeverityBlocked,
		Source: "operator", CreatedAt: time.Now(),
	}))
	e := NewEngine(store)

	findings, err := e.Evaluate(context.Background(), &ClaimContext{Recipient: walletA})
	require.NoError(t, err)

	blocking := Blocking(findings)
	require.NotNil(t, blocking)
	assert.Equal(t, "blacklist", blocking.Check)
}

func TestCheckRegistration_IPVelocity(t *testing.T) {
	e := NewEngine(NewMemoryStore())
	ctx := context.Background()

	for i := 0; i < maxRegistrationsPerIP; i++ {
		findings, err := e.CheckRegistration(ctx, &RegistrationContext{
			IdentityID: fmt.Sprintf("usr_%d", i),
			Recipient:  fmt.Sprintf("0x%040d", i),
			IP:         "203.0.113.7",
		})
		require.NoError(t, err)
		assert.Nil(t, Blocking(findings), "registration %d should pass", i)
	}

	findings, err := e.CheckRegistration(ctx, &RegistrationContext{
		IdentityID: "usr_over",
		Recipient:  walletA,
		IP:         "203.0.113.7",
	})
	require.NoError(t, err)
	blocking := Blocking(findings)
	require.NotNil(t, blocking)
	assert.Equal(t, "registration_velocity", blocking.Check)
}

func TestCheckRegistration_FingerprintVelocity(t *testing.T) {
	e := NewEngine(NewMemoryStore())
	ctx := context.Background()

	for i := 0; i < maxRegistrationsPerFingerprint; i++ {
		findings, err := e.CheckRegistration(ctx, &RegistrationContext{
			IdentityID:  fmt.Sprintf("usr_%d", i),
			Recipient:   fmt.Sprintf("0x%040d", i),
			IP:          fmt.Sprintf("198.51.100.%d", i),
			Fingerprint: "same-device-payload",
		})
		require.NoError(t, err)
		assert.Nil(t, Blocking(findings))
	}

	findings, err := e.CheckRegistration(ctx, &RegistrationContext{
		IdentityID:  "usr_over",
		Recipient:   walletA,
		IP:          "198.51.100.99",
		Fingerprint: "same-device-payload",
	})
	require.NoError(t, err)
	require.NotNil(t, Blocking(findings))
}

func TestEvaluate_CompletionVelocitySuspiciousNotBlocking(t *testing.T) {
	e := NewEngine(NewMemoryStore())
	now := time.Now()

	findings, err := e.Evaluate(context.Background(), &ClaimContext{
		Recipient:        walletA,
		ActivityID:       "course_go101",
		EnrolledAt:       now.Add(-3 * time.Minute),
		CompletedAt:      now,
		ExpectedDuration: 2 * time.Hour, // 3min is 2.5% of expected
	})
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, "completion_velocity", findings[0].Check)
	assert.Equal(t, SeveritySuspicious, findings[0].Severity)
	assert.False(t, findings[0].Blocking, "suspicious completions are logged, not blocked")
	assert.Nil(t, Blocking(findings))
}

func TestEvaluate_CompletionBelowFloor(t *testing.T) {
	e := NewEngine(NewMemoryStore())
	now := time.Now()

	findings, err := e.Evaluate(context.Background(), &ClaimContext{
		Recipient:   walletA,
		EnrolledAt:  now.Add(-20 * time.Second),
		CompletedAt: now,
		MinDuration: time.Minute,
	})
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Contains(t, findings[0].Reason, "floor")
}

func TestEvaluate_ParallelCompletionAutoBlacklists(t *testing.T) {
	store := NewMemoryStore()
	e := NewEngine(store)
	ctx := context.Background()

	wallets := []string{walletA, walletB, walletC}
	var last []Finding
	for _, w := range wallets {
		findings, err := e.Evaluate(ctx, &ClaimContext{
			Recipient:  w,
			ActivityID: "quiz_sql",
		})
		require.NoError(t, err)
		last = findings
	}

	blocking := Blocking(last)
	require.NotNil(t, blocking)
	assert.Equal(t, "parallel_completion", blocking.Check)

	// All implicated addresses are blacklisted, not just the last one.
	for _, w := range wallets {
		blocked, err := store.IsBlacklisted(ctx, w)
		require.NoError(t, err)
		assert.True(t, blocked, "%s should be blacklisted", w)
	}
}

func TestEvaluate_TimezoneAnomaly(t *testing.T) {
	store := NewMemoryStore()
	e := NewEngine(store)
	ctx := context.Background()

	var last []Finding
	for i := 0; i < timezoneThreshold; i++ {
		findings, err := e.Evaluate(ctx, &ClaimContext{
			Recipient:  fmt.Sprintf("0x%040d", i),
			ActivityID: fmt.Sprintf("course_%d", i), // distinct activities
			Timezone:   "Pacific/Kiritimati",
		})
		require.NoError(t, err)
		last = findings
	}

	blocking := Blocking(last)
	require.NotNil(t, blocking)
	assert.Equal(t, "timezone_anomaly", blocking.Check)
}

func TestRunClusterSweep_FingerprintOfThreeBlocks(t *testing.T) {
	store := NewMemoryStore()
	e := NewEngine(store)
	ctx := context.Background()

	hash := HashFingerprint("shared-laptop")
	for i, w := range []string{walletA, walletB, walletC} {
		require.NoError(t, store.RecordRegistration(ctx, &RegistrationEvent{
			IdentityID:      fmt.Sprintf("usr_%d", i),
			Recipient:       w,
			FingerprintHash: hash,
			CreatedAt:       time.Now(),
		}))
	}

	clusters, err := e.RunClusterSweep(ctx)
	require.NoError(t, err)
	require.Len(t, clusters, 1)
	assert.True(t, clusters[0].AutoBlocked)
	assert.Equal(t, ClusterFingerprint, clusters[0].Kind)
	assert.Len(t, clusters[0].Wallets, 3)

	for _, w := range []string{walletA, walletB, walletC} {
		blocked, err := store.IsBlacklisted(ctx, w)
		require.NoError(t, err)
		assert.True(t, blocked)
	}
}

func TestRunClusterSweep_FingerprintOfTwoOnlyRecorded(t *testing.T) {
	store := NewMemoryStore()
	e := NewEngine(store)
	ctx := context.Background()

	hash := HashFingerprint("shared-phone")
	for i, w := range []string{walletA, walletB} {
		require.NoError(t, store.RecordRegistration(ctx, &RegistrationEvent{
			IdentityID:      fmt.Sprintf("usr_%d", i),
			Recipient:       w,
			FingerprintHash: hash,
			CreatedAt:       time.Now(),
		}))
	}

	clusters, err := e.RunClusterSweep(ctx)
	require.NoError(t, err)
	require.Len(t, clusters, 1)
	assert.False(t, clusters[0].AutoBlocked, "two wallets are recorded, not blocked")

	for _, w := range []string{walletA, walletB} {
		blocked, err := store.IsBlacklisted(ctx, w)
		require.NoError(t, err)
		assert.False(t, blocked)
	}
}

func TestRunClusterSweep_IPThresholds(t *testing.T) {
	store := NewMemoryStore()
	e := NewEngine(store)
	ctx := context.Background()

	// Five wallets behind one IP: detected but not blocked.
	for i := 0; i < ipDetectSize; i++ {
		require.NoError(t, store.RecordRegistration(ctx, &RegistrationEvent{
			IdentityID: fmt.Sprintf("usr_%d", i),
			Recipient:  fmt.Sprintf("0x%040d", i),
			IP:         "192.0.2.1",
			CreatedAt:  time.Now(),
		}))
	}

	clusters, err := e.RunClusterSweep(ctx)
	require.NoError(t, err)
	require.Len(t, clusters, 1)
	assert.Equal(t, ClusterIP, clusters[0].Kind)
	assert.False(t, clusters[0].AutoBlocked)
}

func TestHashFingerprint_Deterministic(t *testing.T) {
	a := HashFingerprint("payload")
	b := HashFingerprint("payload")
	c := HashFingerprint("other")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}
