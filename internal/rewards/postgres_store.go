package rewards

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

// PostgresStore implements Store backed by PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed rewards store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const rewardColumns = `id, identity_id, activity_id, amount, status, tx_ref,
	enrolled_at, completed_at, expected_duration_seconds, min_duration_seconds,
	created_at, updated_at, confirmed_at`

func (p *PostgresStore) Create(ctx context.Context, r *Reward) error {
	now := time.Now()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO rewards (
			id, identity_id, activity_id, amount, status, tx_ref,
			enrolled_at, completed_at, expected_duration_seconds, min_duration_seconds,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4::NUMERIC(30,18), $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		r.ID, r.IdentityID, r.ActivityID, r.Amount, string(r.Status), r.TxRef,
		r.EnrolledAt, r.CompletedAt,
		int64(r.ExpectedDuration.Seconds()), int64(r.MinDuration.Seconds()),
		r.CreatedAt, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateReward
		}
		return fmt.Errorf("insert reward: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Reward, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+rewardColumns+` FROM rewards WHERE id = $1`, id)

	r, err := scanReward(row)
	if err == sql.ErrNoRows {
		return nil, ErrRewardNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get reward: %w", err)
	}
	return r, nil
}

func (p *PostgresStore) MarkConfirmed(ctx context.Context, id, txRef string, at time.Time) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE rewards SET
			status = 'confirmed', tx_ref = $2, confirmed_at = $3, updated_at = $3
		WHERE id = $1 AND status = 'earned'
	`, id, txRef, at)
	if err != nil {
		return fmt.Errorf("confirm reward: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		if _, getErr := p.Get(ctx, id); getErr != nil {
			return getErr
		}
		return ErrAlreadyConfirmed
	}
	return nil
}

func (p *PostgresStore) ListByIdentity(ctx context.Context, identityID string, limit int) ([]*Reward, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+rewardColumns+` FROM rewards
		WHERE identity_id = $1 ORDER BY created_at DESC LIMIT $2
	`, identityID, limit)
	if err != nil {
		return nil, fmt.Errorf("list rewards: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*Reward
	for rows.Next() {
		r, err := scanReward(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

func (p *PostgresStore) SetWallet(ctx context.Context, identityID, address string) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO identity_wallets (identity_id, address, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (identity_id) DO UPDATE SET address = $2, updated_at = NOW()
	`, identityID, address)
	if err != nil {
		return fmt.Errorf("set wallet: %w", err)
	}
	return nil
}

func (p *PostgresStore) GetWallet(ctx context.Context, identityID string) (string, error) {
	var address string
	err := p.db.QueryRowContext(ctx,
		`SELECT address FROM identity_wallets WHERE identity_id = $1`, identityID).
		Scan(&address)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNoWallet
	}
	if err != nil {
		return "", fmt.Errorf("get wallet: %w", err)
	}
	return address, nil
}

// scannable abstracts *sql.Row and *sql.Rows for shared scanning logic.
type scannable interface {
	Scan(dest ...interface{}) error
}

func scanReward(row scannable) (*Reward, error) {
	var r Reward
	var status string
	var txRef sql.NullString
	var confirmedAt sql.NullTime
	var expectedSecs, minSecs int64

	err := row.Scan(
		&r.ID, &r.IdentityID, &r.ActivityID, &r.Amount, &status, &txRef,
		&r.EnrolledAt, &r.CompletedAt, &expectedSecs, &minSecs,
		&r.CreatedAt, &r.UpdatedAt, &confirmedAt,
	)
	if err != nil {
		return nil, err
	}

	r.Status = Status(status)
	r.TxRef = txRef.String
	r.ExpectedDuration = time.Duration(expectedSecs) * time.Second
	r.MinDuration = time.Duration(minSecs) * time.Second
	if confirmedAt.Valid {
		r.ConfirmedAt = confirmedAt.Time
	}
	return &r, nil
}

// isUniqueViolation matches the Postgres unique_violation error class.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
