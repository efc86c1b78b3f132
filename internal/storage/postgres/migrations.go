package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schema is applied statement by statement on startup.
// Timestamps are Unix milliseconds. Audit meta is TEXT so the hashed bytes
// are stored verbatim.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS groups (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		created_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS group_members (
		group_id TEXT NOT NULL REFERENCES groups(id) ON DELETE CASCADE,
		user_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		PRIMARY KEY (group_id, user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS expenses (
		id TEXT PRIMARY KEY,
		group_id TEXT NOT NULL REFERENCES groups(id),
		paid_by_id TEXT NOT NULL,
		total_cents BIGINT NOT NULL,
		currency TEXT NOT NULL,
		mode TEXT NOT NULL,
		date BIGINT NOT NULL,
		note TEXT,
		created_by TEXT NOT NULL,
		created_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS expense_splits (
		expense_id TEXT NOT NULL REFERENCES expenses(id) ON DELETE CASCADE,
		user_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		amount_cents BIGINT NOT NULL,
		PRIMARY KEY (expense_id, user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS settlements (
		id TEXT PRIMARY KEY,
		group_id TEXT NOT NULL REFERENCES groups(id),
		from_user_id TEXT NOT NULL,
		to_user_id TEXT NOT NULL,
		amount_cents BIGINT NOT NULL,
		currency TEXT NOT NULL,
		date BIGINT NOT NULL,
		note TEXT,
		created_by TEXT NOT NULL,
		created_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS group_balances (
		group_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		balance_cents BIGINT NOT NULL DEFAULT 0,
		PRIMARY KEY (group_id, user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS audit_log (
		seq BIGINT PRIMARY KEY,
		id TEXT NOT NULL UNIQUE,
		actor_id TEXT,
		group_id TEXT,
		action TEXT NOT NULL,
		target_type TEXT,
		target_id TEXT,
		meta TEXT NOT NULL,
		ip TEXT,
		user_agent TEXT,
		prev_hash TEXT,
		chain_hash TEXT NOT NULL,
		created_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS idempotency_keys (
		key TEXT NOT NULL,
		scope TEXT NOT NULL,
		method TEXT NOT NULL,
		path TEXT NOT NULL,
		body_hash TEXT NOT NULL,
		status TEXT NOT NULL,
		status_code INTEGER NOT NULL DEFAULT 0,
		response TEXT,
		claimed_at BIGINT NOT NULL,
		expires_at BIGINT NOT NULL,
		PRIMARY KEY (key, scope)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_expenses_group_created ON expenses(group_id, created_at, id)`,
	`CREATE INDEX IF NOT EXISTS idx_settlements_group_created ON settlements(group_id, created_at, id)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_log_group ON audit_log(group_id, seq)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_log_actor ON audit_log(actor_id, seq)`,
	`CREATE INDEX IF NOT EXISTS idx_idempotency_keys_expires_at ON idempotency_keys(expires_at)`,
}

func runMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	for i, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration statement %d: %w", i, err)
		}
	}
	return nil
}
