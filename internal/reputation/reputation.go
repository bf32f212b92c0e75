// Package reputation looks up IP addresses against an external
// reputation provider and classifies them for the anti-abuse checks.
//
// Verdicts are cached for 24 hours, in Redis when configured and in
// memory otherwise, so a claimant retrying a claim does not burn a
// provider lookup every time.
package reputation

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/skillmint/skillmint/internal/logging"
)

// DefaultFraudScoreBlock is the provider fraud score at or above which
// a claim is blocked.
const DefaultFraudScoreBlock = 85

const cacheTTL = 24 * time.Hour

// Verdict is a cached classification of one IP.
type Verdict struct {
	IP         string    `json:"ip"`
	Blocked    bool      `json:"blocked"`
	Reason     string    `json:"reason,omitempty"`
	VPN        bool      `json:"vpn"`
	Proxy      bool      `json:"proxy"`
	Tor        bool      `json:"tor"`
	Datacenter bool      `json:"datacenter"`
	FraudScore int       `json:"fraudScore"`
	CheckedAt  time.Time `json:"checkedAt"`
}

// Cache stores verdicts with a TTL.
type Cache interface {
	Get(ctx context.Context, ip string) (*Verdict, bool, error)
	Set(ctx context.Context, ip string, v *Verdict, ttl time.Duration) error
}

// Checker classifies claimant IPs. Implements the fraud engine's
// IPChecker.
type Checker struct {
	provider  Provider
	cache     Cache
	threshold int
}

// Option configures a Checker.
type Option func(*Checker)

// WithCache sets the verdict cache backend.
func WithCache(c Cache) Option {
	return func(ch *Checker) { ch.cache = c }
}

// WithFraudScoreThreshold overrides the blocking fraud score.
func WithFraudScoreThreshold(score int) Option {
	return func(ch *Checker) { ch.threshold = score }
}

// NewChecker creates a reputation checker backed by the given provider.
func NewChecker(provider Provider, opts ...Option) *Checker {
	c := &Checker{
		provider:  provider,
		cache:     NewMemoryCache(),
		threshold: DefaultFraudScoreBlock,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Verdict classifies the IP, consulting the cache first. Private and
// loopback addresses always pass without a provider lookup.
func (c *Checker) Verdict(ctx context.Context, ip string) (bool, string, error) {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false, "", fmt.Errorf("reputation: invalid ip %q", ip)
	}
	if parsed.IsPrivate() || parsed.IsLoopback() || parsed.IsLinkLocalUnicast() {
		return false, "", nil
	}

	if cached, ok, err := c.cache.Get(ctx, ip); err != nil {
		// A broken cache should not take claims down with it.
		logging.FromContext(ctx).Warn("reputation cache read failed", "error", err)
	} else if ok {
		return cached.Blocked, cached.Reason, nil
	}

	report, err := c.provider.Lookup(ctx, ip)
	if err != nil {
		return false, "", fmt.Errorf("reputation lookup: %w", err)
	}

	v := c.classify(ip, report)
	if err := c.cache.Set(ctx, ip, v, cacheTTL); err != nil {
		logging.FromContext(ctx).Warn("reputation cache write failed", "error", err)
	}
	return v.Blocked, v.Reason, nil
}

func (c *Checker) classify(ip string, r *Report) *Verdict {
	v := &Verdict{
		IP:         ip,
		VPN:        r.VPN,
		Proxy:      r.Proxy,
		Tor:        r.Tor,
		Datacenter: r.Datacenter,
		FraudScore: r.FraudScore,
		CheckedAt:  time.Now(),
	}
	switch {
	case r.Tor:
		v.Blocked, v.Reason = true, "tor exit node"
	case r.VPN:
		v.Blocked, v.Reason = true, "vpn detected"
	case r.Proxy:
		v.Blocked, v.Reason = true, "proxy detected"
	case r.Datacenter:
		v.Blocked, v.Reason = true, "datacenter ip"
	case r.FraudScore >= c.threshold:
		v.Blocked, v.Reason = true, fmt.Sprintf("fraud score %d", r.FraudScore)
	}
	return v
}
