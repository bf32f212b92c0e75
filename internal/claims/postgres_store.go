package claims

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// PostgresStore is the durable replay-guard store.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a claims store backed by Postgres.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) CreateChallenge(ctx context.Context, ch *Challenge) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO claim_nonces (nonce, identity_id, reward_id, created_at, expires_at, used)
		VALUES ($1, $2, $3, $4, $5, FALSE)`,
		ch.Nonce, ch.IdentityID, ch.RewardID, ch.CreatedAt, ch.ExpiresAt)
	if err != nil {
		return fmt.Errorf("insert challenge: %w", err)
	}
	return nil
}

func (s *PostgresStore) ConsumeChallenge(ctx context.Context, nonce, identityID, rewardID string, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE claim_nonces
		SET used = TRUE, used_at = $4
		WHERE nonce = $1 AND identity_id = $2 AND reward_id = $3
		  AND used = FALSE AND expires_at > $4`,
		nonce, identityID, rewardID, now)
	if err != nil {
		return fmt.Errorf("consume challenge: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 1 {
		return nil
	}

	// Lost the CAS: classify why for the caller.
	var used bool
	var expiresAt time.Time
	err = s.db.QueryRowContext(ctx, `
		SELECT used, expires_at FROM claim_nonces
		WHERE nonce = $1 AND identity_id = $2 AND reward_id = $3`,
		nonce, identityID, rewardID).Scan(&used, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrChallengeNotFound
	}
	if err != nil {
		return fmt.Errorf("classify challenge: %w", err)
	}
	if used {
		return ErrChallengeUsed
	}
	return ErrChallengeExpired
}

func (s *PostgresStore) ReserveCooldown(ctx context.Context, identityID string, now time.Time, interval time.Duration) (bool, error) {
	var reserved string
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO claim_attempts (identity_id, last_attempt_at)
		VALUES ($1, $2)
		ON CONFLICT (identity_id) DO UPDATE SET last_attempt_at = $2
		WHERE claim_attempts.last_attempt_at <= $3
		RETURNING identity_id`,
		identityID, now, now.Add(-interval)).Scan(&reserved)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reserve cooldown: %w", err)
	}
	return true, nil
}

func (s *PostgresStore) SaveDedup(ctx context.Context, contentHash string, now time.Time, window time.Duration) (bool, error) {
	var saved string
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO claim_dedup (content_hash, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (content_hash) DO UPDATE SET expires_at = $2
		WHERE claim_dedup.expires_at <= $3
		RETURNING content_hash`,
		contentHash, now.Add(window), now).Scan(&saved)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("save dedup: %w", err)
	}
	return true, nil
}

func (s *PostgresStore) PruneExpired(ctx context.Context, now time.Time) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM claim_nonces WHERE expires_at < $1`, now); err != nil {
		return fmt.Errorf("prune challenges: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM claim_dedup WHERE expires_at < $1`, now); err != nil {
		return fmt.Errorf("prune dedup: %w", err)
	}
	return nil
}
