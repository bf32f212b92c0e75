package fraud

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// PostgresStore persists fraud evidence in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed fraud store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) AddToBlacklist(ctx context.Context, entry *BlacklistEntry) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO wallet_blacklist (address, reason, severity, source, created_at)
		VALUES (LOWER($1), $2, $3, $4, $5)
		ON CONFLICT (address) DO NOTHING
	`, entry.Address, entry.Reason, string(entry.Severity), entry.Source, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("add to blacklist: %w", err)
	}
	return nil
}

func (p *PostgresStore) RemoveFromBlacklist(ctx context.Context, address string) error {
	result, err := p.db.ExecContext(ctx,
		`DELETE FROM wallet_blacklist WHERE address = LOWER($1)`, address)
	if err != nil {
		return fmt.Errorf("remove from blacklist: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) IsBlacklisted(ctx context.Context, address string) (bool, error) {
	var exists bool
	err := p.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM wallet_blacklist WHERE address = LOWER($1))`,
		address).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("blacklist lookup: %w", err)
	}
	return exists, nil
}

func (p *PostgresStore) ListBlacklist(ctx context.Context, limit int) ([]*BlacklistEntry, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT address, reason, severity, source, created_at
		FROM wallet_blacklist ORDER BY created_at DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list blacklist: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*BlacklistEntry
	for rows.Next() {
		var e BlacklistEntry
		var severity string
		if err := rows.Scan(&e.Address, &e.Reason, &severity, &e.Source, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Severity = Severity(severity)
		result = append(result, &e)
	}
	return result, rows.Err()
}

func (p *PostgresStore) RecordRegistration(ctx context.Context, ev *RegistrationEvent) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO device_fingerprints (identity_id, recipient, ip, fingerprint_hash, timezone, created_at)
		VALUES ($1, LOWER($2), $3, $4, $5, $6)
	`, ev.IdentityID, ev.Recipient, ev.IP, ev.FingerprintHash, ev.Timezone, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("record registration: %w", err)
	}
	return nil
}

func (p *PostgresStore) CountRegistrationsByIP(ctx context.Context, ip string, since time.Time) (int, error) {
	var count int
	err := p.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM device_fingerprints WHERE ip = $1 AND created_at > $2
	`, ip, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count registrations by ip: %w", err)
	}
	return count, nil
}

func (p *PostgresStore) CountRegistrationsByFingerprint(ctx context.Context, hash string, since time.Time) (int, error) {
	var count int
	err := p.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM device_fingerprints WHERE fingerprint_hash = $1 AND created_at > $2
	`, hash, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count registrations by fingerprint: %w", err)
	}
	return count, nil
}

func (p *PostgresStore) RecordCompletion(ctx context.Context, ev *CompletionEvent) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO activity_completions (activity_id, identity_id, recipient, timezone, created_at)
		VALUES ($1, $2, LOWER($3), $4, $5)
	`, ev.ActivityID, ev.IdentityID, ev.Recipient, ev.Timezone, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("record completion: %w", err)
	}
	return nil
}

func (p *PostgresStore) ListCompletionsByActivity(ctx context.Context, activityID string, since time.Time) ([]*CompletionEvent, error) {
	return p.listCompletions(ctx, `
		SELECT activity_id, identity_id, recipient, timezone, created_at
		FROM activity_completions WHERE activity_id = $1 AND created_at > $2
	`, activityID, since)
}

func (p *PostgresStore) ListCompletionsByTimezone(ctx context.Context, timezone string, since time.Time) ([]*CompletionEvent, error) {
	return p.listCompletions(ctx, `
		SELECT activity_id, identity_id, recipient, timezone, created_at
		FROM activity_completions WHERE timezone = $1 AND created_at > $2
	`, timezone, since)
}

func (p *PostgresStore) listCompletions(ctx context.Context, query string, args ...interface{}) ([]*CompletionEvent, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list completions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*CompletionEvent
	for rows.Next() {
		var ev CompletionEvent
		if err := rows.Scan(&ev.ActivityID, &ev.IdentityID, &ev.Recipient, &ev.Timezone, &ev.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, &ev)
	}
	return result, rows.Err()
}

func (p *PostgresStore) FingerprintGroups(ctx context.Context, minSize int) ([]Group, error) {
	return p.groups(ctx, `
		SELECT fingerprint_hash, ARRAY_AGG(DISTINCT recipient)
		FROM device_fingerprints
		WHERE fingerprint_hash <> ''
		GROUP BY fingerprint_hash
		HAVING COUNT(DISTINCT recipient) >= $1
	`, minSize)
}

func (p *PostgresStore) IPGroups(ctx context.Context, minSize int) ([]Group, error) {
	return p.groups(ctx, `
		SELECT ip, ARRAY_AGG(DISTINCT recipient)
		FROM device_fingerprints
		WHERE ip <> ''
		GROUP BY ip
		HAVING COUNT(DISTINCT recipient) >= $1
	`, minSize)
}

func (p *PostgresStore) groups(ctx context.Context, query string, minSize int) ([]Group, error) {
	rows, err := p.db.QueryContext(ctx, query, minSize)
	if err != nil {
		return nil, fmt.Errorf("group query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []Group
	for rows.Next() {
		var g Group
		if err := rows.Scan(&g.Key, pq.Array(&g.Wallets)); err != nil {
			return nil, err
		}
		result = append(result, g)
	}
	return result, rows.Err()
}

func (p *PostgresStore) SaveCluster(ctx context.Context, cluster *WalletCluster) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO wallet_clusters (id, kind, cluster_key, wallets, risk_score, auto_blocked, detected_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		cluster.ID, string(cluster.Kind), cluster.Key, pq.Array(cluster.Wallets),
		cluster.RiskScore, cluster.AutoBlocked, cluster.DetectedAt,
	)
	if err != nil {
		return fmt.Errorf("save cluster: %w", err)
	}
	return nil
}

func (p *PostgresStore) ListClusters(ctx context.Context, limit int) ([]*WalletCluster, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, kind, cluster_key, wallets, risk_score, auto_blocked, detected_at
		FROM wallet_clusters ORDER BY detected_at DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list clusters: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*WalletCluster
	for rows.Next() {
		var c WalletCluster
		var kind string
		if err := rows.Scan(&c.ID, &kind, &c.Key, pq.Array(&c.Wallets),
			&c.RiskScore, &c.AutoBlocked, &c.DetectedAt); err != nil {
			return nil, err
		}
		c.Kind = ClusterKind(kind)
		result = append(result, &c)
	}
	return result, rows.Err()
}

func (p *PostgresStore) RecordDump(ctx context.Context, rec *DumpRecord) (bool, error) {
	result, err := p.db.ExecContext(ctx, `
		INSERT INTO dump_records (id, wallet, destination, amount, dump_tx_hash, elapsed_seconds, severity, created_at)
		VALUES ($1, LOWER($2), LOWER($3), $4::NUMERIC(30,18), $5, $6, $7, $8)
		ON CONFLICT (dump_tx_hash) DO NOTHING
	`,
		rec.ID, rec.Wallet, rec.Destination, rec.Amount, rec.DumpTxHash,
		rec.ElapsedSeconds, string(rec.Severity), rec.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("record dump: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return rows > 0, nil
}

func (p *PostgresStore) ListDumps(ctx context.Context, limit int) ([]*DumpRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, wallet, destination, amount::TEXT, dump_tx_hash, elapsed_seconds, severity, created_at
		FROM dump_records ORDER BY created_at DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list dumps: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*DumpRecord
	for rows.Next() {
		var d DumpRecord
		var severity string
		if err := rows.Scan(&d.ID, &d.Wallet, &d.Destination, &d.Amount,
			&d.DumpTxHash, &d.ElapsedSeconds, &severity, &d.CreatedAt); err != nil {
			return nil, err
		}
		d.Severity = Severity(severity)
		result = append(result, &d)
	}
	return result, rows.Err()
}

func (p *PostgresStore) AddSinkSender(ctx context.Context, destination, sender string) (int, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sink_senders (destination, sender, created_at)
		VALUES (LOWER($1), LOWER($2), NOW())
		ON CONFLICT (destination, sender) DO NOTHING
	`, destination, sender)
	if err != nil {
		return 0, fmt.Errorf("insert sink sender: %w", err)
	}

	var count int
	err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM sink_senders WHERE destination = LOWER($1)
	`, destination).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count sink senders: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sink_addresses (address, unique_senders, flagged, first_seen_at, updated_at)
		VALUES (LOWER($1), $2, FALSE, NOW(), NOW())
		ON CONFLICT (address) DO UPDATE SET
			unique_senders = EXCLUDED.unique_senders,
			updated_at = NOW()
	`, destination, count)
	if err != nil {
		return 0, fmt.Errorf("upsert sink: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return count, nil
}

func (p *PostgresStore) FlagSink(ctx context.Context, address string) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE sink_addresses SET flagged = TRUE, updated_at = NOW()
		WHERE address = LOWER($1)
	`, address)
	if err != nil {
		return fmt.Errorf("flag sink: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) IsFlaggedSink(ctx context.Context, address string) (bool, error) {
	var flagged bool
	err := p.db.QueryRowContext(ctx, `
		SELECT flagged FROM sink_addresses WHERE address = LOWER($1)
	`, address).Scan(&flagged)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("sink lookup: %w", err)
	}
	return flagged, nil
}

func (p *PostgresStore) ListSinks(ctx context.Context, limit int) ([]*SinkAddress, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT address, unique_senders, flagged, first_seen_at, updated_at
		FROM sink_addresses ORDER BY unique_senders DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list sinks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*SinkAddress
	for rows.Next() {
		var s SinkAddress
		if err := rows.Scan(&s.Address, &s.UniqueSenders, &s.Flagged, &s.FirstSeenAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, &s)
	}
	return result, rows.Err()
}
