package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/sawpanic/aureon/internal/persistence"
)

const uniqueViolation = "23505"

type executionRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewExecutionRepo creates a PostgreSQL execution repository.
func NewExecutionRepo(db *sqlx.DB, timeout time.Duration) persistence.ExecutionRepo {
	return &executionRepo{db: db, timeout: timeout}
}

const executionColumns = `id, opportunity_id, venue, symbol, side, quantity, price, notional, status, venue_order_id, mode, reasons, error, created_at`

func (r *executionRepo) Insert(ctx context.Context, e persistence.Execution) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO executions (` + executionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	// reasons is NOT NULL; a nil slice would bind as NULL
	reasons := e.Reasons
	if reasons == nil {
		reasons = []string{}
	}
	_, err := r.db.ExecContext(ctx, query,
		e.ID, e.OpportunityID, e.Venue, e.Symbol, e.Side,
		e.Quantity, e.Price, e.Notional, e.Status, e.VenueOrderID,
		e.Mode, pq.StringArray(reasons), e.Error, e.CreatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == uniqueViolation {
			return fmt.Errorf("duplicate execution %s: %w", e.ID, err)
		}
		return fmt.Errorf("failed to insert execution: %w", err)
	}
	return nil
}

func (r *executionRepo) Latest(ctx context.Context, limit int) ([]persistence.Execution, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT ` + executionColumns + `
		FROM executions
		ORDER BY created_at DESC
		LIMIT $1`

	rows, err := r.db.QueryxContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest executions: %w", err)
	}
	defer rows.Close()

	var out []persistence.Execution
	for rows.Next() {
		var e persistence.Execution
		var reasons pq.StringArray
		err := rows.Scan(&e.ID, &e.OpportunityID, &e.Venue, &e.Symbol, &e.Side,
			&e.Quantity, &e.Price, &e.Notional, &e.Status, &e.VenueOrderID,
			&e.Mode, &reasons, &e.Error, &e.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		e.Reasons = []string(reasons)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate executions: %w", err)
	}
	return out, nil
}

func (r *executionRepo) CountTradedSince(ctx context.Context, since time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT COUNT(*)
		FROM executions
		WHERE status = ANY($1) AND created_at >= $2`

	var count int64
	if err := r.db.QueryRowxContext(ctx, query, pq.Array(persistence.TradedStatuses), since).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count executions: %w", err)
	}
	return count, nil
}

func (r *executionRepo) LastTradeAt(ctx context.Context, venue, symbol string) (time.Time, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT created_at
		FROM executions
		WHERE venue = $1 AND symbol = $2 AND status = ANY($3)
		ORDER BY created_at DESC
		LIMIT 1`

	var at time.Time
	err := r.db.QueryRowxContext(ctx, query, venue, symbol, pq.Array(persistence.TradedStatuses)).Scan(&at)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, persistence.ErrNotFound
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to query last trade for %s/%s: %w", venue, symbol, err)
	}
	return at, nil
}

func (r *executionRepo) OpenPositions(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT COUNT(*) FROM (
			SELECT venue, symbol
			FROM executions
			WHERE status = ANY($1)
			GROUP BY venue, symbol
			HAVING SUM(CASE WHEN side = 'buy' THEN quantity ELSE -quantity END) <> 0
		) AS open_positions`

	var count int64
	if err := r.db.QueryRowxContext(ctx, query, pq.Array(persistence.TradedStatuses)).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count open positions: %w", err)
	}
	return count, nil
}
