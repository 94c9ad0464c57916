package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS opportunities (
		id          UUID PRIMARY KEY,
		profile     TEXT NOT NULL,
		venue       TEXT NOT NULL,
		symbol      TEXT NOT NULL,
		direction   TEXT NOT NULL,
		change_pct  DOUBLE PRECISION NOT NULL,
		weighted    DOUBLE PRECISION NOT NULL,
		confidence  DOUBLE PRECISION NOT NULL,
		price       DOUBLE PRECISION NOT NULL,
		detected_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS opportunities_detected_at_idx ON opportunities (detected_at DESC)`,
	`CREATE TABLE IF NOT EXISTS executions (
		id             UUID PRIMARY KEY,
		opportunity_id UUID NOT NULL,
		venue          TEXT NOT NULL,
		symbol         TEXT NOT NULL,
		side           TEXT NOT NULL,
		quantity       NUMERIC(36, 18) NOT NULL DEFAULT 0,
		price          NUMERIC(36, 18) NOT NULL DEFAULT 0,
		notional       NUMERIC(36, 18) NOT NULL DEFAULT 0,
		status         TEXT NOT NULL,
		venue_order_id TEXT NOT NULL DEFAULT '',
		mode           TEXT NOT NULL,
		reasons        TEXT[] NOT NULL DEFAULT '{}',
		error          TEXT NOT NULL DEFAULT '',
		created_at     TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS executions_created_at_idx ON executions (created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS executions_venue_symbol_idx ON executions (venue, symbol, created_at DESC)`,
}

// Migrate creates the tables the repositories use. It is idempotent.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration step %d: %w", i+1, err)
		}
	}
	return nil
}
