package fraud

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/skillmint/skillmint/internal/idgen"
	"github.com/skillmint/skillmint/internal/logging"
	"github.com/skillmint/skillmint/internal/metrics"
)

const (
	velocityWindow = 24 * time.Hour

	// Registration velocity ceilings per IP and per device in the
	// trailing 24h.
	maxRegistrationsPerIP          = 5
	maxRegistrationsPerFingerprint = 3

	// Parallel completion: distinct beneficiaries finishing the same
	// activity inside this window indicate coordinated automation.
	parallelWindow    = 60 * time.Second
	parallelThreshold = 3

	// Timezone anomaly: beneficiaries sharing a timezone signal
	// completing within the hour.
	timezoneWindow    = time.Hour
	timezoneThreshold = 10

	// Completion counts as suspicious under this fraction of the
	// activity's expected duration.
	minExpectedFraction = 0.10

	// Clustering thresholds: shared fingerprint ≥2 wallets or shared IP
	// ≥5 wallets is recorded; ≥3 / ≥10 auto-blocks.
	fingerprintDetectSize = 2
	fingerprintBlockSize  = 3
	ipDetectSize          = 5
	ipBlockSize           = 10
)

// IPChecker is the reputation lookup consulted per claim.
type IPChecker interface {
	Verdict(ctx context.Context, ip string) (blocked bool, reason string, err error)
}

// RewardTotaler sums completed payout amounts for a set of recipients,
// in whole tokens. The payout store satisfies this.
type RewardTotaler interface {
	SumCompletedAmount(ctx context.Context, recipients []string) (string, error)
}

// Engine runs the anti-abuse checks.
type Engine struct {
	store      Store
	reputation IPChecker
	totaler    RewardTotaler
	now        func() time.Time
}

// EngineOption configures optional engine collaborators.
type EngineOption func(*Engine)

// WithReputation wires the external IP reputation lookup.
func WithReputation(c IPChecker) EngineOption {
	return func(e *Engine) { e.reputation = c }
}

// WithRewardTotaler wires aggregate-reward lookups for risk scoring.
func WithRewardTotaler(t RewardTotaler) EngineOption {
	return func(e *Engine) { e.totaler = t }
}

// NewEngine creates a fraud engine over the given evidence store.
func NewEngine(store Store, opts ...EngineOption) *Engine {
	e := &Engine{store: store, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// IsBlacklisted answers the payout gate's blacklist check.
func (e *Engine) IsBlacklisted(ctx context.Context, address string) (bool, error) {
	return e.store.IsBlacklisted(ctx, address)
}

// CheckRegistration guards new claimant identity creation. A blocking
// finding means the registration must be refused.
func (e *Engine) CheckRegistration(ctx context.Context, reg *RegistrationContext) ([]Finding, error) {
	var findings []Finding
	since := e.now().Add(-velocityWindow)

	if reg.IP != "" {
		count, err := e.store.CountRegistrationsByIP(ctx, reg.IP, since)
		if err != nil {
			return nil, fmt.Errorf("registration velocity by IP: %w", err)
		}
		if count >= maxRegistrationsPerIP {
			findings = append(findings, e.record("registration_velocity", SeverityBlocked, true,
				fmt.Sprintf("%d registrations from IP in 24h (limit %d)", count, maxRegistrationsPerIP)))
		}
	}

	hash := HashFingerprint(reg.Fingerprint)
	if reg.Fingerprint != "" {
		count, err := e.store.CountRegistrationsByFingerprint(ctx, hash, since)
		if err != nil {
			return nil, fmt.Errorf("registration velocity by fingerprint: %w", err)
		}
		if count >= maxRegistrationsPerFingerprint {
			findings = append(findings, e.record("registration_velocity", SeverityBlocked, true,
				fmt.Sprintf("%d registrations from device in 24h (limit %d)", count, maxRegistrationsPerFingerprint)))
		}
	}

	if Blocking(findings) == nil {
		err := e.store.RecordRegistration(ctx, &RegistrationEvent{
			IdentityID:      reg.IdentityID,
			Recipient:       reg.Recipient,
			IP:              reg.IP,
			FingerprintHash: hash,
			Timezone:        reg.Timezone,
			CreatedAt:       e.now(),
		})
		if err != nil {
			return nil, fmt.Errorf("record registration: %w", err)
		}
	}
	return findings, nil
}

// Evaluate runs every claim-time check and returns all findings.
// Blocking findings short-circuit nothing here: the caller decides via
// Blocking(findings), so non-fatal evidence is always recorded.
func (e *Engine) Evaluate(ctx context.Context, claim *ClaimContext) ([]Finding, error) {
	log := logging.FromContext(ctx)
	var findings []Finding

	blocked, err := e.store.IsBlacklisted(ctx, claim.Recipient)
	if err != nil {
		return nil, fmt.Errorf("blacklist check: %w", err)
	}
	if blocked {
		findings = append(findings, e.record("blacklist", SeverityBlocked, true,
			"recipient address is blacklisted"))
	}

	if e.reputation != nil && claim.IP != "" {
		repBlocked, reason, err := e.reputation.Verdict(ctx, claim.IP)
		switch {
		case err != nil:
			// Provider outage is not evidence against the claimant.
			log.Warn("ip reputation lookup failed", "ip", claim.IP, "error", err)
		case repBlocked:
			findings = append(findings, e.record("ip_reputation", SeverityBlocked, true, reason))
		}
	}

	if f := e.completionVelocity(claim); f != nil {
		findings = append(findings, *f)
	}

	parallel, err := e.parallelCompletion(ctx, claim)
	if err != nil {
		return nil, err
	}
	findings = append(findings, parallel...)

	timezone, err := e.timezoneAnomaly(ctx, claim)
	if err != nil {
		return nil, err
	}
	findings = append(findings, timezone...)

	if err := e.store.RecordCompletion(ctx, &CompletionEvent{
		ActivityID: claim.ActivityID,
		IdentityID: claim.IdentityID,
		Recipient:  claim.Recipient,
		Timezone:   claim.Timezone,
		CreatedAt:  e.now(),
	}); err != nil {
		return nil, fmt.Errorf("record completion: %w", err)
	}

	for _, f := range findings {
		log.Warn("fraud finding",
			"check", f.Check, "severity", string(f.Severity),
			"blocking", f.Blocking, "recipient", claim.Recipient, "reason", f.Reason)
	}
	return findings, nil
}

// completionVelocity flags completions faster than the per-activity
// floor or under 10% of the expected duration. Suspicious, not
// blocking: humans occasionally rush, bots always do.
func (e *Engine) completionVelocity(claim *ClaimContext) *Finding {
	if claim.EnrolledAt.IsZero() || claim.CompletedAt.IsZero() {
		return nil
	}
	elapsed := claim.CompletedAt.Sub(claim.EnrolledAt)

	if claim.MinDuration > 0 && elapsed < claim.MinDuration {
		f := e.record("completion_velocity", SeveritySuspicious, false,
			fmt.Sprintf("completed in %s, floor is %s", elapsed.Round(time.Second), claim.MinDuration))
		return &f
	}
	if claim.ExpectedDuration > 0 {
		fraction := float64(elapsed) / float64(claim.ExpectedDuration)
		if fraction < minExpectedFraction {
			f := e.record("completion_velocity", SeveritySuspicious, false,
				fmt.Sprintf("completed in %.0f%% of expected duration", fraction*100))
			return &f
		}
	}
	return nil
}

// parallelCompletion auto-blacklists bursts of distinct beneficiaries
// finishing the same activity within seconds of each other.
func (e *Engine) parallelCompletion(ctx context.Context, claim *ClaimContext) ([]Finding, error) {
	if claim.ActivityID == "" {
		return nil, nil
	}
	recent, err := e.store.ListCompletionsByActivity(ctx, claim.ActivityID, e.now().Add(-parallelWindow))
	if err != nil {
		return nil, fmt.Errorf("parallel completion check: %w", err)
	}

	distinct := map[string]bool{claim.Recipient: true}
	for _, ev := range recent {
		distinct[ev.Recipient] = true
	}
	if len(distinct) < parallelThreshold {
		return nil, nil
	}

	reason := fmt.Sprintf("%d distinct beneficiaries completed activity %s within %s",
		len(distinct), claim.ActivityID, parallelWindow)
	if err := e.blacklistAll(ctx, distinct, "parallel_completion", reason); err != nil {
		return nil, err
	}
	return []Finding{e.record("parallel_completion", SeverityBlocked, true, reason)}, nil
}

// timezoneAnomaly auto-blacklists beneficiary bursts sharing a timezone
// signal within the hour.
func (e *Engine) timezoneAnomaly(ctx context.Context, claim *ClaimContext) ([]Finding, error) {
	if claim.Timezone == "" {
		return nil, nil
	}
	recent, err := e.store.ListCompletionsByTimezone(ctx, claim.Timezone, e.now().Add(-timezoneWindow))
	if err != nil {
		return nil, fmt.Errorf("timezone anomaly check: %w", err)
	}

	distinct := map[string]bool{claim.Recipient: true}
	for _, ev := range recent {
		distinct[ev.Recipient] = true
	}
	if len(distinct) < timezoneThreshold {
		return nil, nil
	}

	reason := fmt.Sprintf("%d distinct beneficiaries sharing timezone %q within %s",
		len(distinct), claim.Timezone, timezoneWindow)
	if err := e.blacklistAll(ctx, distinct, "timezone_anomaly", reason); err != nil {
		return nil, err
	}
	return []Finding{e.record("timezone_anomaly", SeverityBlocked, true, reason)}, nil
}

func (e *Engine) blacklistAll(ctx context.Context, addresses map[string]bool, source, reason string) error {
	for addr := range addresses {
		err := e.store.AddToBlacklist(ctx, &BlacklistEntry{
			Address:   addr,
			Reason:    reason,
			Severity:  SeverityBlocked,
			Source:    source,
			CreatedAt: e.now(),
		})
		if err != nil {
			return fmt.Errorf("auto-blacklist %s: %w", addr, err)
		}
	}
	return nil
}

func (e *Engine) record(check string, severity Severity, blocking bool, reason string) Finding {
	metrics.FraudFindings.WithLabelValues(check, string(severity)).Inc()
	return Finding{Check: check, Severity: severity, Reason: reason, Blocking: blocking}
}

// RunClusterSweep groups beneficiaries sharing a device fingerprint or
// IP, records the clusters, and auto-blacklists members of groups past
// the block size.
func (e *Engine) RunClusterSweep(ctx context.Context) ([]*WalletCluster, error) {
	log := logging.FromContext(ctx)
	var clusters []*WalletCluster

	fpGroups, err := e.store.FingerprintGroups(ctx, fingerprintDetectSize)
	if err != nil {
		return nil, fmt.Errorf("fingerprint groups: %w", err)
	}
	for _, g := range fpGroups {
		c, err := e.saveClusterFromGroup(ctx, ClusterFingerprint, g, fingerprintBlockSize)
		if err != nil {
			return nil, err
		}
		clusters = append(clusters, c)
	}

	ipGroups, err := e.store.IPGroups(ctx, ipDetectSize)
	if err != nil {
		return nil, fmt.Errorf("ip groups: %w", err)
	}
	for _, g := range ipGroups {
		c, err := e.saveClusterFromGroup(ctx, ClusterIP, g, ipBlockSize)
		if err != nil {
			return nil, err
		}
		clusters = append(clusters, c)
	}

	if len(clusters) > 0 {
		log.Info("cluster sweep finished", "clusters", len(clusters))
	}
	return clusters, nil
}

func (e *Engine) saveClusterFromGroup(ctx context.Context, kind ClusterKind, g Group, blockSize int) (*WalletCluster, error) {
	cluster := &WalletCluster{
		ID:          idgen.WithPrefix("clu_"),
		Kind:        kind,
		Key:         g.Key,
		Wallets:     g.Wallets,
		RiskScore:   e.riskScore(ctx, g),
		AutoBlocked: len(g.Wallets) >= blockSize,
		DetectedAt:  e.now(),
	}
	if err := e.store.SaveCluster(ctx, cluster); err != nil {
		return nil, fmt.Errorf("save cluster: %w", err)
	}

	if cluster.AutoBlocked {
		members := make(map[string]bool, len(g.Wallets))
		for _, w := range g.Wallets {
			members[w] = true
		}
		reason := fmt.Sprintf("%d wallets sharing %s %s", len(g.Wallets), kind, g.Key)
		if err := e.blacklistAll(ctx, members, "clustering", reason); err != nil {
			return nil, err
		}
		metrics.FraudFindings.WithLabelValues("clustering", string(SeverityBlocked)).Inc()
	} else {
		metrics.FraudFindings.WithLabelValues("clustering", string(SeverityInfo)).Inc()
	}
	return cluster, nil
}

// riskScore weighs cluster size against the rewards its members have
// already extracted. Size saturates at 10 wallets, rewards at 50,000
// tokens.
func (e *Engine) riskScore(ctx context.Context, g Group) float64 {
	sizeTerm := math.Min(float64(len(g.Wallets))/10.0, 1.0)

	var rewardTerm float64
	if e.totaler != nil {
		total, err := e.totaler.SumCompletedAmount(ctx, g.Wallets)
		if err == nil {
			if v, perr := strconv.ParseFloat(total, 64); perr == nil {
				rewardTerm = math.Min(v/50000.0, 1.0)
			}
		}
	}

	score := 0.6*sizeTerm + 0.4*rewardTerm
	return math.Round(score*1000) / 1000
}
