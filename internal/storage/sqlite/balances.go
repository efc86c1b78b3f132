package sqlite

import (
	"context"
	"fmt"

	"github.com/mmynk/splitledger/internal/models"
)

// ApplyDeltas upsert-increments balances inside the caller's transaction.
// Rows are created lazily on the first delta for a (group, user).
func (t *txStore) ApplyDeltas(ctx context.Context, groupID string, deltas []models.Delta) error {
	for _, d := range deltas {
		_, err := t.q.ExecContext(ctx, `
			INSERT INTO group_balances (group_id, user_id, balance_cents) VALUES (?, ?, ?)
			ON CONFLICT(group_id, user_id) DO UPDATE SET
				balance_cents = group_balances.balance_cents + excluded.balance_cents`,
			groupID, d.UserID, d.DeltaCents,
		)
		if err != nil {
			return fmt.Errorf("failed to apply delta for %s: %w", d.UserID, err)
		}
	}
	return nil
}

// GetBalances returns a group's balances ordered by user ID.
func (r queries) GetBalances(ctx context.Context, groupID string) ([]models.Balance, error) {
	rows, err := r.q.QueryContext(ctx,
		"SELECT group_id, user_id, balance_cents FROM group_balances WHERE group_id = ? ORDER BY user_id",
		groupID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get balances: %w", err)
	}
	defer rows.Close()

	balances := make([]models.Balance, 0)
	for rows.Next() {
		var b models.Balance
		if err := rows.Scan(&b.GroupID, &b.UserID, &b.BalanceCents); err != nil {
			return nil, fmt.Errorf("failed to scan balance: %w", err)
		}
		balances = append(balances, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate balances: %w", err)
	}
	return balances, nil
}
