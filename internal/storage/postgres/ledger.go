package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/mmynk/splitledger/internal/models"
	"github.com/mmynk/splitledger/internal/storage"
)

// CreateGroup persists a group and its members.
func (t *txStore) CreateGroup(ctx context.Context, group *models.Group) error {
	if group.CreatedAt == 0 {
		group.CreatedAt = time.Now().Unix()
	}
	if _, err := t.q.Exec(ctx,
		`INSERT INTO groups (id, name, created_at) VALUES ($1, $2, $3)`,
		group.ID, group.Name, group.CreatedAt,
	); err != nil {
		return fmt.Errorf("failed to insert group: %w", err)
	}
	for i, userID := range group.Members {
		if _, err := t.q.Exec(ctx,
			`INSERT INTO group_members (group_id, user_id, position) VALUES ($1, $2, $3)`,
			group.ID, userID, i,
		); err != nil {
			return fmt.Errorf("failed to insert group member: %w", err)
		}
	}
	return nil
}

func (r queries) GetGroup(ctx context.Context, groupID string) (*models.Group, error) {
	group := &models.Group{}
	err := r.q.QueryRow(ctx,
		`SELECT id, name, created_at FROM groups WHERE id = $1`, groupID,
	).Scan(&group.ID, &group.Name, &group.CreatedAt)
	if err != nil {
		return nil, notFound(err, "group", groupID)
	}

	rows, err := r.q.Query(ctx,
		`SELECT user_id FROM group_members WHERE group_id = $1 ORDER BY position`, groupID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get group members: %w", err)
	}
	group.Members, err = pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan group members: %w", err)
	}
	return group, nil
}

func (r queries) LedgerGroupIDs(ctx context.Context) ([]string, error) {
	rows, err := r.q.Query(ctx, `
		SELECT group_id FROM group_balances
		UNION SELECT group_id FROM expenses
		UNION SELECT group_id FROM settlements
		ORDER BY 1`)
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger groups: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan ledger groups: %w", err)
	}
	return ids, nil
}

// ApplyDeltas upsert-increments balances inside the caller's transaction.
func (t *txStore) ApplyDeltas(ctx context.Context, groupID string, deltas []models.Delta) error {
	for _, d := range deltas {
		if _, err := t.q.Exec(ctx, `
			INSERT INTO group_balances (group_id, user_id, balance_cents) VALUES ($1, $2, $3)
			ON CONFLICT (group_id, user_id) DO UPDATE SET
				balance_cents = group_balances.balance_cents + EXCLUDED.balance_cents`,
			groupID, d.UserID, d.DeltaCents,
		); err != nil {
			return fmt.Errorf("failed to apply delta for %s: %w", d.UserID, err)
		}
	}
	return nil
}

func (r queries) GetBalances(ctx context.Context, groupID string) ([]models.Balance, error) {
	rows, err := r.q.Query(ctx,
		`SELECT group_id, user_id, balance_cents FROM group_balances WHERE group_id = $1 ORDER BY user_id`,
		groupID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get balances: %w", err)
	}
	balances, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Balance, error) {
		var b models.Balance
		err := row.Scan(&b.GroupID, &b.UserID, &b.BalanceCents)
		return b, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan balances: %w", err)
	}
	return balances, nil
}

const expenseColumns = "id, group_id, paid_by_id, total_cents, currency, mode, date, note, created_by, created_at"

func (t *txStore) InsertExpense(ctx context.Context, e *models.Expense) error {
	if _, err := t.q.Exec(ctx,
		`INSERT INTO expenses (`+expenseColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		e.ID, e.GroupID, e.PaidByID, e.TotalCents, e.Currency, string(e.Mode),
		toMillis(e.Date), nullString(e.Note), e.CreatedBy, toMillis(e.CreatedAt),
	); err != nil {
		return fmt.Errorf("failed to insert expense: %w", err)
	}

	batch := &pgx.Batch{}
	for i, s := range e.Splits {
		batch.Queue(
			`INSERT INTO expense_splits (expense_id, user_id, position, amount_cents) VALUES ($1, $2, $3, $4)`,
			e.ID, s.UserID, i, s.AmountCents,
		)
	}
	if batch.Len() == 0 {
		return nil
	}
	if err := t.q.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to insert expense splits: %w", err)
	}
	return nil
}

func (r queries) GetExpense(ctx context.Context, expenseID string) (*models.Expense, error) {
	e, err := scanExpense(r.q.QueryRow(ctx,
		`SELECT `+expenseColumns+` FROM expenses WHERE id = $1`, expenseID,
	))
	if err != nil {
		return nil, notFound(err, "expense", expenseID)
	}
	expenses := []models.Expense{*e}
	if err := r.attachSplits(ctx, expenses); err != nil {
		return nil, err
	}
	return &expenses[0], nil
}

func (r queries) ListExpenses(ctx context.Context, groupID string, limit int, after *storage.ExpenseCursor) ([]models.Expense, error) {
	var a args
	where := []string{"group_id = " + a.add(groupID)}
	if after != nil {
		ms := toMillis(after.CreatedAt)
		where = append(where, fmt.Sprintf("(created_at < %s OR (created_at = %s AND id < %s))",
			a.add(ms), a.add(ms), a.add(after.ID)))
	}
	query := `SELECT ` + expenseColumns + ` FROM expenses WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		query += " LIMIT " + a.add(limit)
	}

	rows, err := r.q.Query(ctx, query, a...)
	if err != nil {
		return nil, fmt.Errorf("failed to list expenses: %w", err)
	}
	expenses, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Expense, error) {
		e, err := scanExpense(row)
		if err != nil {
			return models.Expense{}, err
		}
		return *e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan expenses: %w", err)
	}
	if err := r.attachSplits(ctx, expenses); err != nil {
		return nil, err
	}
	return expenses, nil
}

// attachSplits loads the splits of every expense with one query.
func (r queries) attachSplits(ctx context.Context, expenses []models.Expense) error {
	if len(expenses) == 0 {
		return nil
	}
	ids := make([]string, len(expenses))
	index := make(map[string]int, len(expenses))
	for i := range expenses {
		ids[i] = expenses[i].ID
		index[expenses[i].ID] = i
		expenses[i].Splits = make([]models.Split, 0)
	}

	rows, err := r.q.Query(ctx,
		`SELECT expense_id, user_id, amount_cents FROM expense_splits
		 WHERE expense_id = ANY($1) ORDER BY expense_id, position`,
		ids,
	)
	if err != nil {
		return fmt.Errorf("failed to get expense splits: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			expenseID string
			s         models.Split
		)
		if err := rows.Scan(&expenseID, &s.UserID, &s.AmountCents); err != nil {
			return fmt.Errorf("failed to scan expense split: %w", err)
		}
		i := index[expenseID]
		expenses[i].Splits = append(expenses[i].Splits, s)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to iterate expense splits: %w", err)
	}
	return nil
}

func scanExpense(row pgx.Row) (*models.Expense, error) {
	var (
		e                 models.Expense
		mode              string
		note              *string
		date, createdAtMs int64
	)
	if err := row.Scan(&e.ID, &e.GroupID, &e.PaidByID, &e.TotalCents, &e.Currency, &mode,
		&date, &note, &e.CreatedBy, &createdAtMs); err != nil {
		return nil, err
	}
	e.Mode = models.SplitMode(mode)
	e.Date = fromMillis(date)
	e.CreatedAt = fromMillis(createdAtMs)
	e.Note = deref(note)
	return &e, nil
}

const settlementColumns = "id, group_id, from_user_id, to_user_id, amount_cents, currency, date, note, created_by, created_at"

func (t *txStore) InsertSettlement(ctx context.Context, s *models.Settlement) error {
	if _, err := t.q.Exec(ctx,
		`INSERT INTO settlements (`+settlementColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		s.ID, s.GroupID, s.FromUserID, s.ToUserID, s.AmountCents, s.Currency,
		toMillis(s.Date), nullString(s.Note), s.CreatedBy, toMillis(s.CreatedAt),
	); err != nil {
		return fmt.Errorf("failed to insert settlement: %w", err)
	}
	return nil
}

func (r queries) GetSettlement(ctx context.Context, settlementID string) (*models.Settlement, error) {
	s, err := scanSettlement(r.q.QueryRow(ctx,
		`SELECT `+settlementColumns+` FROM settlements WHERE id = $1`, settlementID,
	))
	if err != nil {
		return nil, notFound(err, "settlement", settlementID)
	}
	return s, nil
}

func (r queries) ListSettlements(ctx context.Context, groupID string) ([]models.Settlement, error) {
	rows, err := r.q.Query(ctx,
		`SELECT `+settlementColumns+` FROM settlements WHERE group_id = $1 ORDER BY created_at, id`,
		groupID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list settlements by group: %w", err)
	}
	settlements, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Settlement, error) {
		s, err := scanSettlement(row)
		if err != nil {
			return models.Settlement{}, err
		}
		return *s, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan settlements: %w", err)
	}
	return settlements, nil
}

func scanSettlement(row pgx.Row) (*models.Settlement, error) {
	var (
		s                 models.Settlement
		note              *string
		date, createdAtMs int64
	)
	if err := row.Scan(&s.ID, &s.GroupID, &s.FromUserID, &s.ToUserID, &s.AmountCents, &s.Currency,
		&date, &note, &s.CreatedBy, &createdAtMs); err != nil {
		return nil, err
	}
	s.Date = fromMillis(date)
	s.CreatedAt = fromMillis(createdAtMs)
	s.Note = deref(note)
	return &s, nil
}
