// Package fraud implements the anti-abuse checks run before a payout is
// authorized, plus the periodic sweeps that work offline evidence:
// wallet clustering over shared devices and IPs, and post-payout dump
// tracking on chain.
//
// Each heuristic is an independent predicate producing Findings. A
// blocking finding short-circuits the claim with a specific reason;
// non-blocking findings are recorded for operator review so clusters
// can be assembled later.
package fraud

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

var ErrNotFound = errors.New("fraud record not found")

// Severity grades a finding.
type Severity string

const (
	SeverityInfo       Severity = "info"
	SeveritySuspicious Severity = "suspicious"
	SeverityBlocked    Severity = "blocked"
)

// Finding is one check's verdict on a claim.
type Finding struct {
	Check    string   `json:"check"`
	Severity Severity `json:"severity"`
	Reason   string   `json:"reason"`
	Blocking bool     `json:"blocking"`
}

// Blocking returns the first blocking finding, or nil.
func Blocking(findings []Finding) *Finding {
	for i := range findings {
		if findings[i].Blocking {
			return &findings[i]
		}
	}
	return nil
}

// ClaimContext carries everything the engine inspects for one claim.
type ClaimContext struct {
	IdentityID  string
	Recipient   string
	IP          string
	Fingerprint string // raw device data, hashed before storage
	Timezone    string

	// Completion evidence for the activity being rewarded.
	ActivityID       string
	EnrolledAt       time.Time
	CompletedAt      time.Time
	ExpectedDuration time.Duration
	MinDuration      time.Duration
}

// RegistrationContext carries the signals checked at identity creation.
type RegistrationContext struct {
	IdentityID  string
	Recipient   string
	IP          string
	Fingerprint string
	Timezone    string
}

// BlacklistEntry is a blocked beneficiary address.
type BlacklistEntry struct {
	Address   string    `json:"address"`
	Reason    string    `json:"reason"`
	Severity  Severity  `json:"severity"`
	Source    string    `json:"source"` // check name or "operator"
	CreatedAt time.Time `json:"createdAt"`
}

// RegistrationEvent is one identity registration, kept for velocity
// checks and clustering.
type RegistrationEvent struct {
	IdentityID      string    `json:"identityId"`
	Recipient       string    `json:"recipient"`
	IP              string    `json:"ip"`
	FingerprintHash string    `json:"fingerprintHash"`
	Timezone        string    `json:"timezone"`
	CreatedAt       time.Time `json:"createdAt"`
}

// CompletionEvent is one rewarded activity completion.
type CompletionEvent struct {
	ActivityID string    `json:"activityId"`
	IdentityID string    `json:"identityId"`
	Recipient  string    `json:"recipient"`
	Timezone   string    `json:"timezone"`
	CreatedAt  time.Time `json:"createdAt"`
}

// ClusterKind distinguishes what the wallets in a cluster share.
type ClusterKind string

const (
	ClusterFingerprint ClusterKind = "fingerprint"
	ClusterIP          ClusterKind = "ip"
)

// WalletCluster is a group of beneficiaries sharing a device
// fingerprint or IP.
type WalletCluster struct {
	ID          string      `json:"id"`
	Kind        ClusterKind `json:"kind"`
	Key         string      `json:"key"` // fingerprint hash or IP
	Wallets     []string    `json:"wallets"`
	RiskScore   float64     `json:"riskScore"`
	AutoBlocked bool        `json:"autoBlocked"`
	DetectedAt  time.Time   `json:"detectedAt"`
}

// DumpRecord is one observed outbound transfer from a recently rewarded
// wallet.
type DumpRecord struct {
	ID             string    `json:"id"`
	Wallet         string    `json:"wallet"`
	Destination    string    `json:"destination"`
	Amount         string    `json:"amount"`
	DumpTxHash     string    `json:"dumpTxHash"`
	ElapsedSeconds int64     `json:"elapsedSeconds"`
	Severity       Severity  `json:"severity"`
	CreatedAt      time.Time `json:"createdAt"`
}

// SinkAddress is a destination collecting dumps from multiple rewarded
// wallets.
type SinkAddress struct {
	Address       string    `json:"address"`
	UniqueSenders int       `json:"uniqueSenders"`
	Flagged       bool      `json:"flagged"`
	FirstSeenAt   time.Time `json:"firstSeenAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Group is the raw material for one cluster: wallets sharing a key.
type Group struct {
	Key     string
	Wallets []string
}

// Store persists fraud evidence.
type Store interface {
	// Blacklist.
	AddToBlacklist(ctx context.Context, entry *BlacklistEntry) error
	RemoveFromBlacklist(ctx context.Context, address string) error
	IsBlacklisted(ctx context.Context, address string) (bool, error)
	ListBlacklist(ctx context.Context, limit int) ([]*BlacklistEntry, error)

	// Registration velocity.
	RecordRegistration(ctx context.Context, ev *RegistrationEvent) error
	CountRegistrationsByIP(ctx context.Context, ip string, since time.Time) (int, error)
	CountRegistrationsByFingerprint(ctx context.Context, hash string, since time.Time) (int, error)

	// Completion evidence.
	RecordCompletion(ctx context.Context, ev *CompletionEvent) error
	ListCompletionsByActivity(ctx context.Context, activityID string, since time.Time) ([]*CompletionEvent, error)
	ListCompletionsByTimezone(ctx context.Context, timezone string, since time.Time) ([]*CompletionEvent, error)

	// Clustering.
	FingerprintGroups(ctx context.Context, minSize int) ([]Group, error)
	IPGroups(ctx context.Context, minSize int) ([]Group, error)
	SaveCluster(ctx context.Context, cluster *WalletCluster) error
	ListClusters(ctx context.Context, limit int) ([]*WalletCluster, error)

	// Dump tracking. RecordDump is idempotent per DumpTxHash; the bool
	// reports whether a new record was created.
	RecordDump(ctx context.Context, rec *DumpRecord) (bool, error)
	ListDumps(ctx context.Context, limit int) ([]*DumpRecord, error)

	// Sink promotion. AddSinkSender registers sender as a source for the
	// destination and returns the updated unique-sender count.
	AddSinkSender(ctx context.Context, destination, sender string) (int, error)
	FlagSink(ctx context.Context, address string) error
	IsFlaggedSink(ctx context.Context, address string) (bool, error)
	ListSinks(ctx context.Context, limit int) ([]*SinkAddress, error)
}

// HashFingerprint derives the stored fingerprint key server-side, so
// raw device payloads never persist and clients cannot choose their own
// cluster key by sending a pre-hashed value.
func HashFingerprint(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
