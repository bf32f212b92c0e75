package fraud

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// Compile-time check that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-memory fraud evidence store for demo/development
// mode.
type MemoryStore struct {
	mu            sync.RWMutex
	blacklist     map[string]*BlacklistEntry
	registrations []*RegistrationEvent
	completions   []*CompletionEvent
	clusters      []*WalletCluster
	dumps         map[string]*DumpRecord // by dump tx hash
	sinks         map[string]*SinkAddress
	sinkSenders   map[string]map[string]bool // destination → senders
}

// NewMemoryStore creates a new in-memory fraud store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		blacklist:   make(map[string]*BlacklistEntry),
		dumps:       make(map[string]*DumpRecord),
		sinks:       make(map[string]*SinkAddress),
		sinkSenders: make(map[string]map[string]bool),
	}
}

func addrKey(address string) string { return strings.ToLower(address) }

func (m *MemoryStore) AddToBlacklist(ctx context.Context, entry *BlacklistEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := addrKey(entry.Address)
	if _, ok := m.blacklist[key]; ok {
		return nil
	}
	cp := *entry
	m.blacklist[key] = &cp
	return nil
}

func (m *MemoryStore) RemoveFromBlacklist(ctx context.Context, address string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := addrKey(address)
	if _, ok := m.blacklist[key]; !ok {
		return ErrNotFound
	}
	delete(m.blacklist, key)
	return nil
}

func (m *MemoryStore) IsBlacklisted(ctx context.Context, address string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.blacklist[addrKey(address)]
	return ok, nil
}

func (m *MemoryStore) ListBlacklist(ctx context.Context, limit int) ([]*BlacklistEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*BlacklistEntry
	for _, e := range m.blacklist {
		cp := *e
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MemoryStore) RecordRegistration(ctx context.Context, ev *RegistrationEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *ev
	m.registrations = append(m.registrations, &cp)
	return nil
}

func (m *MemoryStore) CountRegistrationsByIP(ctx context.Context, ip string, since time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, ev := range m.registrations {
		if ev.IP == ip && ev.CreatedAt.After(since) {
			count++
		}
	}
	return count, nil
}

func (m *MemoryStore) CountRegistrationsByFingerprint(ctx context.Context, hash string, since time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, ev := range m.registrations {
		if ev.FingerprintHash == hash && ev.CreatedAt.After(since) {
			count++
		}
	}
	return count, nil
}

func (m *MemoryStore) RecordCompletion(ctx context.Context, ev *CompletionEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *ev
	m.completions = append(m.completions, &cp)
	return nil
}

func (m *MemoryStore) ListCompletionsByActivity(ctx context.Context, activityID string, since time.Time) ([]*CompletionEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*CompletionEvent
	for _, ev := range m.completions {
		if ev.ActivityID == activityID && ev.CreatedAt.After(since) {
			cp := *ev
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (m *MemoryStore) ListCompletionsByTimezone(ctx context.Context, timezone string, since time.Time) ([]*CompletionEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*CompletionEvent
	for _, ev := range m.completions {
		if ev.Timezone == timezone && ev.CreatedAt.After(since) {
			cp := *ev
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (m *MemoryStore) FingerprintGroups(ctx context.Context, minSize int) ([]Group, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byHash := make(map[string]map[string]bool)
	for _, ev := range m.registrations {
		if ev.FingerprintHash == "" {
			continue
		}
		if byHash[ev.FingerprintHash] == nil {
			byHash[ev.FingerprintHash] = make(map[string]bool)
		}
		byHash[ev.FingerprintHash][addrKey(ev.Recipient)] = true
	}
	return groupsOfSize(byHash, minSize), nil
}

func (m *MemoryStore) IPGroups(ctx context.Context, minSize int) ([]Group, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byIP := make(map[string]map[string]bool)
	for _, ev := range m.registrations {
		if ev.IP == "" {
			continue
		}
		if byIP[ev.IP] == nil {
			byIP[ev.IP] = make(map[string]bool)
		}
		byIP[ev.IP][addrKey(ev.Recipient)] = true
	}
	return groupsOfSize(byIP, minSize), nil
}

func groupsOfSize(byKey map[string]map[string]bool, minSize int) []Group {
	var result []Group
	for key, wallets := range byKey {
		if len(wallets) < minSize {
			continue
		}
		g := Group{Key: key}
		for w := range wallets {
			g.Wallets = append(g.Wallets, w)
		}
		sort.Strings(g.Wallets)
		result = append(result, g)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Key < result[j].Key })
	return result
}

func (m *MemoryStore) SaveCluster(ctx context.Context, cluster *WalletCluster) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *cluster
	cp.Wallets = append([]string(nil), cluster.Wallets...)
	m.clusters = append(m.clusters, &cp)
	return nil
}

func (m *MemoryStore) ListClusters(ctx context.Context, limit int) ([]*WalletCluster, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*WalletCluster
	for _, c := range m.clusters {
		cp := *c
		cp.Wallets = append([]string(nil), c.Wallets...)
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].DetectedAt.After(result[j].DetectedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MemoryStore) RecordDump(ctx context.Context, rec *DumpRecord) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.dumps[rec.DumpTxHash]; ok {
		return false, nil
	}
	cp := *rec
	m.dumps[rec.DumpTxHash] = &cp
	return true, nil
}

func (m *MemoryStore) ListDumps(ctx context.Context, limit int) ([]*DumpRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*DumpRecord
	for _, d := range m.dumps {
		cp := *d
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MemoryStore) AddSinkSender(ctx context.Context, destination, sender string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	dest := addrKey(destination)
	if m.sinkSenders[dest] == nil {
		m.sinkSenders[dest] = make(map[string]bool)
	}
	m.sinkSenders[dest][addrKey(sender)] = true
	count := len(m.sinkSenders[dest])

	now := time.Now()
	sink, ok := m.sinks[dest]
	if !ok {
		sink = &SinkAddress{Address: dest, FirstSeenAt: now}
		m.sinks[dest] = sink
	}
	sink.UniqueSenders = count
	sink.UpdatedAt = now
	return count, nil
}

func (m *MemoryStore) FlagSink(ctx context.Context, address string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sink, ok := m.sinks[addrKey(address)]
	if !ok {
		return ErrNotFound
	}
	sink.Flagged = true
	sink.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) IsFlaggedSink(ctx context.Context, address string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sink, ok := m.sinks[addrKey(address)]
	return ok && sink.Flagged, nil
}

func (m *MemoryStore) ListSinks(ctx context.Context, limit int) ([]*SinkAddress, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*SinkAddress
	for _, s := range m.sinks {
		cp := *s
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].UniqueSenders > result[j].UniqueSenders
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}
