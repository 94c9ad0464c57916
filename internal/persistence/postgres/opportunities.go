package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/sawpanic/aureon/internal/persistence"
)

type opportunityRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewOpportunityRepo creates a PostgreSQL opportunity repository.
func NewOpportunityRepo(db *sqlx.DB, timeout time.Duration) persistence.OpportunityRepo {
	return &opportunityRepo{db: db, timeout: timeout}
}

func (r *opportunityRepo) Insert(ctx context.Context, o persistence.Opportunity) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO opportunities (id, profile, venue, symbol, direction, change_pct, weighted, confidence, price, detected_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := r.db.ExecContext(ctx, query,
		o.ID, o.Profile, o.Venue, o.Symbol, o.Direction,
		o.ChangePct, o.Weighted, o.Confidence, o.Price, o.DetectedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == uniqueViolation {
			return fmt.Errorf("duplicate opportunity %s: %w", o.ID, err)
		}
		return fmt.Errorf("failed to insert opportunity: %w", err)
	}
	return nil
}

func (r *opportunityRepo) Latest(ctx context.Context, limit int) ([]persistence.Opportunity, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, profile, venue, symbol, direction, change_pct, weighted, confidence, price, detected_at
		FROM opportunities
		ORDER BY detected_at DESC
		LIMIT $1`

	var out []persistence.Opportunity
	if err := r.db.SelectContext(ctx, &out, query, limit); err != nil {
		return nil, fmt.Errorf("failed to query latest opportunities: %w", err)
	}
	return out, nil
}

func (r *opportunityRepo) CountSince(ctx context.Context, since time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var count int64
	err := r.db.QueryRowxContext(ctx, `SELECT COUNT(*) FROM opportunities WHERE detected_at >= $1`, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count opportunities: %w", err)
	}
	return count, nil
}
