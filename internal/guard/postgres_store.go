package guard

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"
	"time"
)

// Compile-time checks.
var (
	_ BreakerStore    = (*PostgresStore)(nil)
	_ DailyLimitStore = (*PostgresStore)(nil)
)

// PostgresStore persists the breaker switch and daily counters.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed guard store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// The breaker is a single-row table; id = TRUE enforces the singleton.

func (p *PostgresStore) GetState(ctx context.Context) (*BreakerState, error) {
	var state BreakerState
	var trigger, reason, trippedBy sql.NullString
	var trippedAt sql.NullTime

	err := p.db.QueryRowContext(ctx, `
		SELECT tripped, trip_trigger, reason, tripped_by, tripped_at, updated_at
		FROM circuit_breaker_state WHERE id = TRUE
	`).Scan(&state.Tripped, &trigger, &reason, &trippedBy, &trippedAt, &state.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrStateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get breaker state: %w", err)
	}

	state.Trigger = trigger.String
	state.Reason = reason.String
	state.TrippedBy = trippedBy.String
	if trippedAt.Valid {
		state.TrippedAt = trippedAt.Time
	}
	return &state, nil
}

func (p *PostgresStore) SetState(ctx context.Context, state *BreakerState) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO circuit_breaker_state (id, tripped, trip_trigger, reason, tripped_by, tripped_at, updated_at)
		VALUES (TRUE, $1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			tripped = EXCLUDED.tripped,
			trip_trigger = EXCLUDED.trip_trigger,
			reason = EXCLUDED.reason,
			tripped_by = EXCLUDED.tripped_by,
			tripped_at = EXCLUDED.tripped_at,
			updated_at = EXCLUDED.updated_at
	`,
		state.Tripped, state.Trigger, state.Reason, state.TrippedBy,
		nullTimeOrValue(state.TrippedAt), state.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("set breaker state: %w", err)
	}
	return nil
}

// Add is a single upsert whose cap predicate runs inside the statement,
// so two concurrent reservations serialize on the row and cannot both
// pass a stale total.
func (p *PostgresStore) Add(ctx context.Context, recipient, day string, amount, cap *big.Int) (*big.Int, bool, error) {
	// The ON CONFLICT predicate only guards the update path; a first
	// reservation of the day that alone exceeds the cap is rejected here.
	if amount.Cmp(cap) > 0 {
		current, err := p.Total(ctx, recipient, day)
		if err != nil {
			return nil, false, err
		}
		return current, false, nil
	}

	var totalStr string
	err := p.db.QueryRowContext(ctx, `
		INSERT INTO daily_payout_counters (recipient, day, total, updated_at)
		VALUES ($1, $2, $3::NUMERIC(40,0), NOW())
		ON CONFLICT (recipient, day) DO UPDATE SET
			total = daily_payout_counters.total + EXCLUDED.total,
			updated_at = NOW()
		WHERE daily_payout_counters.total + EXCLUDED.total <= $4::NUMERIC(40,0)
		RETURNING total::TEXT
	`, recipient, day, amount.String(), cap.String()).Scan(&totalStr)

	if err == sql.ErrNoRows {
		// Predicate rejected the update; read the unchanged total.
		current, terr := p.Total(ctx, recipient, day)
		if terr != nil {
			return nil, false, terr
		}
		return current, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("daily counter add: %w", err)
	}

	total, ok := new(big.Int).SetString(totalStr, 10)
	if !ok {
		return nil, false, fmt.Errorf("daily counter add: bad total %q", totalStr)
	}
	return total, true, nil
}

func (p *PostgresStore) Subtract(ctx context.Context, recipient, day string, amount *big.Int) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE daily_payout_counters
		SET total = GREATEST(total - $3::NUMERIC(40,0), 0), updated_at = NOW()
		WHERE recipient = $1 AND day = $2
	`, recipient, day, amount.String())
	if err != nil {
		return fmt.Errorf("daily counter subtract: %w", err)
	}
	return nil
}

func (p *PostgresStore) Total(ctx context.Context, recipient, day string) (*big.Int, error) {
	var totalStr string
	err := p.db.QueryRowContext(ctx, `
		SELECT total::TEXT FROM daily_payout_counters
		WHERE recipient = $1 AND day = $2
	`, recipient, day).Scan(&totalStr)
	if err == sql.ErrNoRows {
		return big.NewInt(0), nil
	}
	if err != nil {
		return nil, fmt.Errorf("daily counter total: %w", err)
	}

	total, ok := new(big.Int).SetString(totalStr, 10)
	if !ok {
		return nil, fmt.Errorf("daily counter total: bad value %q", totalStr)
	}
	return total, nil
}

// nullTimeOrValue returns a sql.NullTime: valid if t is non-zero, null otherwise.
func nullTimeOrValue(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}
