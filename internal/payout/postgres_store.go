package payout

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// PostgresStore implements Store backed by PostgreSQL. State
// transitions are single UPDATE statements with the expected state in
// the WHERE clause; a zero row count means the precondition failed.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed payout store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const payoutColumns = `id, reward_id, identity_id, recipient, amount,
	status, tx_hash, fail_reason, attempts,
	created_at, updated_at, completed_at`

func (p *PostgresStore) Create(ctx context.Context, pt *PayoutTransaction) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO payouts (
			id, reward_id, identity_id, recipient, amount,
			status, tx_hash, fail_reason, attempts,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5::NUMERIC(30,18), $6, $7, $8, $9, $10, $11)
	`,
		pt.ID, pt.RewardID, pt.IdentityID, pt.Recipient, pt.Amount,
		string(pt.Status), pt.TxHash, pt.FailReason, pt.Attempts,
		pt.CreatedAt, pt.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateClaim
		}
		return fmt.Errorf("insert payout: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*PayoutTransaction, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+payoutColumns+` FROM payouts WHERE id = $1`, id)

	pt, err := scanPayout(row)
	if err == sql.ErrNoRows {
		return nil, ErrPayoutNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get payout: %w", err)
	}
	return pt, nil
}

func (p *PostgresStore) GetByReward(ctx context.Context, rewardID string) (*PayoutTransaction, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+payoutColumns+` FROM payouts WHERE reward_id = $1`, rewardID)

	pt, err := scanPayout(row)
	if err == sql.ErrNoRows {
		return nil, ErrPayoutNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get payout by reward: %w", err)
	}
	return pt, nil
}

func (p *PostgresStore) ClaimForProcessing(ctx context.Context, id string) (*PayoutTransaction, error) {
	row := p.db.QueryRowContext(ctx, `
		UPDATE payouts SET
			status = 'processing',
			fail_reason = '',
			attempts = attempts + 1,
			updated_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'failed')
		RETURNING `+payoutColumns, id)

	pt, err := scanPayout(row)
	if err == sql.ErrNoRows {
		// Distinguish missing from unclaimable for the caller.
		if _, getErr := p.Get(ctx, id); getErr == ErrPayoutNotFound {
			return nil, ErrPayoutNotFound
		}
		return nil, ErrNotClaimable
	}
	if err != nil {
		return nil, fmt.Errorf("claim payout: %w", err)
	}
	return pt, nil
}

func (p *PostgresStore) MarkCompleted(ctx context.Context, id, txHash string) error {
	return p.transition(ctx, `
		UPDATE payouts SET
			status = 'completed', tx_hash = $2,
			completed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'processing'
	`, id, txHash)
}

func (p *PostgresStore) MarkFailed(ctx context.Context, id, reason string) error {
	return p.transition(ctx, `
		UPDATE payouts SET
			status = 'failed', fail_reason = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'processing'
	`, id, reason)
}

func (p *PostgresStore) SetTxHash(ctx context.Context, id, txHash string) error {
	return p.transition(ctx, `
		UPDATE payouts SET tx_hash = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'processing'
	`, id, txHash)
}

func (p *PostgresStore) ReleaseToPending(ctx context.Context, id string) error {
	return p.transition(ctx, `
		UPDATE payouts SET status = 'pending', updated_at = NOW()
		WHERE id = $1 AND status = 'processing'
	`, id)
}

func (p *PostgresStore) transition(ctx context.Context, query string, args ...interface{}) error {
	result, err := p.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("payout transition: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return ErrBadTransition
	}
	return nil
}

func (p *PostgresStore) ListByStatus(ctx context.Context, status Status, limit int) ([]*PayoutTransaction, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+payoutColumns+` FROM payouts
		WHERE status = $1 ORDER BY created_at DESC LIMIT $2
	`, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("list by status: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanPayouts(rows)
}

func (p *PostgresStore) ListStaleProcessing(ctx context.Context, olderThan time.Time, limit int) ([]*PayoutTransaction, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+payoutColumns+` FROM payouts
		WHERE status = 'processing' AND updated_at < $1
		ORDER BY updated_at ASC LIMIT $2
	`, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale processing: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanPayouts(rows)
}

func (p *PostgresStore) ListCompletedSince(ctx context.Context, since time.Time, limit int) ([]*PayoutTransaction, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+payoutColumns+` FROM payouts
		WHERE status = 'completed' AND completed_at > $1
		ORDER BY completed_at DESC LIMIT $2
	`, since, limit)
	if err != nil {
		return nil, fmt.Errorf("list completed since: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanPayouts(rows)
}

func (p *PostgresStore) SumCompletedAmount(ctx context.Context, recipients []string) (string, error) {
	var sum string
	err := p.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount), 0)::TEXT FROM payouts
		WHERE status = 'completed' AND recipient = ANY($1)
	`, pq.Array(recipients)).Scan(&sum)
	if err != nil {
		return "", fmt.Errorf("sum completed amount: %w", err)
	}
	return sum, nil
}

func (p *PostgresStore) CountByStatus(ctx context.Context) (map[Status]int, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM payouts GROUP BY status
	`)
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[Status]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[Status(status)] = count
	}
	return counts, rows.Err()
}

func (p *PostgresStore) CountCompletedSince(ctx context.Context, since time.Time) (int, error) {
	var count int
	err := p.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM payouts
		WHERE status = 'completed' AND completed_at > $1
	`, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count completed: %w", err)
	}
	return count, nil
}

// scannable abstracts *sql.Row and *sql.Rows for shared scanning logic.
type scannable interface {
	Scan(dest ...interface{}) error
}

func scanPayout(row scannable) (*PayoutTransaction, error) {
	var pt PayoutTransaction
	var status string
	var txHash, failReason sql.NullString
	var completedAt sql.NullTime

	err := row.Scan(
		&pt.ID, &pt.RewardID, &pt.IdentityID, &pt.Recipient, &pt.Amount,
		&status, &txHash, &failReason, &pt.Attempts,
		&pt.CreatedAt, &pt.UpdatedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	pt.Status = Status(status)
	pt.TxHash = txHash.String
	pt.FailReason = failReason.String
	if completedAt.Valid {
		pt.CompletedAt = completedAt.Time
	}
	return &pt, nil
}

func scanPayouts(rows *sql.Rows) ([]*PayoutTransaction, error) {
	var result []*PayoutTransaction
	for rows.Next() {
		pt, err := scanPayout(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, pt)
	}
	return result, rows.Err()
}

// isUniqueViolation matches the Postgres unique_violation error class.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
