// Package nonce serializes access to the treasury's transaction sequence.
//
// Every on-chain payout goes out from a single signer, so sequence numbers
// must be issued in strict FIFO order and held until the transaction is
// actually broadcast. The allocator caches the pending nonce locally,
// refreshes it when stale, and tears the cache down whenever the network
// reports a desync so the next acquirer re-reads chain state.
package nonce

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/skillmint/skillmint/internal/metrics"
)

const (
	// cacheStaleness bounds how long a cached sequence value is trusted
	// without re-reading the pending nonce from the network.
	cacheStaleness = 30 * time.Second

	// unstableThreshold and unstableWindow define the reset rate that
	// marks the allocator unhealthy. Crossing it means something else is
	// spending from the treasury key and operators need to look.
	unstableThreshold = 5
	unstableWindow    = time.Minute
)

// ChainSource provides the authoritative pending nonce.
type ChainSource interface {
	PendingNonce(ctx context.Context) (uint64, error)
}

// ResetEvent records one cache invalidation for diagnostics.
type ResetEvent struct {
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}

// Lease is an exclusively held sequence number. Exactly one of Complete
// or Abandon must be called; until then no other acquirer can proceed.
type Lease struct {
	Value uint64

	a    *Allocator
	gen  uint64
	done bool
}

// Complete marks the broadcast as accepted by the network: the cache
// advances past the leased value and the lock is released.
func (l *Lease) Complete() {
	if l.done {
		return
	}
	l.done = true

	l.a.mu.Lock()
	// An invalidation during the lease wins; don't resurrect the cache.
	if l.a.gen == l.gen {
		next := l.Value + 1
		l.a.cached = &next
		l.a.refreshedAt = time.Now()
	}
	l.a.mu.Unlock()

	l.a.lock.unlock()
}

// Abandon releases the lock without advancing the cache. Used when the
// broadcast never reached the network, so the value stays reusable.
func (l *Lease) Abandon() {
	if l.done {
		return
	}
	l.done = true
	l.a.lock.unlock()
}

// Allocator issues treasury sequence numbers in strict FIFO order.
type Allocator struct {
	source    ChainSource
	staleness time.Duration

	lock fifoLock

	mu          sync.Mutex
	cached      *uint64
	refreshedAt time.Time
	gen         uint64
	resets      []ResetEvent
}

// Option configures the allocator.
type Option func(*Allocator)

// WithStaleness overrides the cache staleness bound (used in tests).
func WithStaleness(d time.Duration) Option {
	return func(a *Allocator) { a.staleness = d }
}

// New creates an allocator backed by the given chain source.
func New(source ChainSource, opts ...Option) *Allocator {
	a := &Allocator{
		source:    source,
		staleness: cacheStaleness,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Acquire blocks until this caller holds the sequence lock, then returns
// a lease on the next sequence number. Callers arrive at the network in
// the same order they called Acquire. If the cache is cold or stale and
// the chain read fails, the error is returned as-is: a guessed sequence
// number would silently burn or collide, so there is no fallback.
func (a *Allocator) Acquire(ctx context.Context) (*Lease, error) {
	if err := a.lock.lock(ctx); err != nil {
		return nil, err
	}

	a.mu.Lock()
	if a.cached == nil || time.Since(a.refreshedAt) >= a.staleness {
		gen := a.gen
		a.mu.Unlock()

		fresh, err := a.source.PendingNonce(ctx)
		if err != nil {
			a.lock.unlock()
			return nil, fmt.Errorf("nonce: refresh failed: %w", err)
		}

		a.mu.Lock()
		if a.gen == gen {
			a.cached = &fresh
			a.refreshedAt = time.Now()
		} else if a.cached == nil {
			// Invalidated mid-fetch; our read is the freshest view anyway.
			a.cached = &fresh
			a.refreshedAt = time.Now()
		}
	}

	lease := &Lease{Value: *a.cached, a: a, gen: a.gen}
	a.mu.Unlock()
	return lease, nil
}

// Invalidate discards the cached sequence value so the next Acquire
// re-reads chain state. Called on nonce-desync broadcast errors and by
// operators after out-of-band treasury activity.
func (a *Allocator) Invalidate(reason string) {
	now := time.Now()

	a.mu.Lock()
	a.cached = nil
	a.gen++
	a.resets = append(a.resets, ResetEvent{Reason: reason, At: now})
	a.pruneLocked(now)
	a.mu.Unlock()

	metrics.NonceResets.WithLabelValues(reason).Inc()
}

// Unstable reports whether the reset rate over the trailing window has
// crossed the health threshold.
func (a *Allocator) Unstable() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pruneLocked(time.Now())
	return len(a.resets) >= unstableThreshold
}

// ResetEvents returns the recent invalidations for the health endpoint.
func (a *Allocator) ResetEvents() []ResetEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pruneLocked(time.Now())
	out := make([]ResetEvent, len(a.resets))
	copy(out, a.resets)
	return out
}

func (a *Allocator) pruneLocked(now time.Time) {
	cutoff := now.Add(-unstableWindow)
	i := 0
	for i < len(a.resets) && a.resets[i].At.Before(cutoff) {
		i++
	}
	if i > 0 {
		a.resets = append([]ResetEvent(nil), a.resets[i:]...)
	}
}

// settlementLockKey is the advisory lock key claimed by the settlement
// process. Arbitrary but stable; two instances pointed at the same
// database cannot both hold it.
const settlementLockKey int64 = 0x534b494c4c01

// AcquireSingletonLock claims a session-scoped Postgres advisory lock
// that guarantees only one settlement process runs against a treasury
// key at a time. The lock lives on a dedicated connection; the caller
// must keep the returned conn open for the process lifetime and Close
// it on shutdown, which releases the lock.
func AcquireSingletonLock(ctx context.Context, db *sql.DB) (*sql.Conn, error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("nonce: advisory lock connection failed: %w", err)
	}

	var acquired bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", settlementLockKey).Scan(&acquired); err != nil {
		conn.Close()
		return nil, fmt.Errorf("nonce: advisory lock query failed: %w", err)
	}
	if !acquired {
		conn.Close()
		return nil, fmt.Errorf("nonce: another settlement instance holds the treasury lock")
	}
	return conn, nil
}
