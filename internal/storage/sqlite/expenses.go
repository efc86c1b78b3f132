package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/mmynk/splitledger/internal/models"
	"github.com/mmynk/splitledger/internal/storage"
)

const expenseColumns = "id, group_id, paid_by_id, total_cents, currency, mode, date, note, created_by, created_at"

// InsertExpense persists an expense and its splits.
func (t *txStore) InsertExpense(ctx context.Context, e *models.Expense) error {
	_, err := t.q.ExecContext(ctx,
		"INSERT INTO expenses ("+expenseColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		e.ID, e.GroupID, e.PaidByID, e.TotalCents, e.Currency, string(e.Mode),
		toMillis(e.Date), nullString(e.Note), e.CreatedBy, toMillis(e.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert expense: %w", err)
	}

	for i, s := range e.Splits {
		_, err = t.q.ExecContext(ctx,
			"INSERT INTO expense_splits (expense_id, user_id, position, amount_cents) VALUES (?, ?, ?, ?)",
			e.ID, s.UserID, i, s.AmountCents,
		)
		if err != nil {
			return fmt.Errorf("failed to insert expense split: %w", err)
		}
	}
	return nil
}

// GetExpense retrieves an expense by ID, including its splits.
func (r queries) GetExpense(ctx context.Context, expenseID string) (*models.Expense, error) {
	row := r.q.QueryRowContext(ctx,
		"SELECT "+expenseColumns+" FROM expenses WHERE id = ?",
		expenseID,
	)
	e, err := scanExpense(row)
	if err != nil {
		return nil, notFound(err, "expense", expenseID)
	}

	if e.Splits, err = r.expenseSplits(ctx, e.ID); err != nil {
		return nil, err
	}
	return e, nil
}

// ListExpenses returns expenses newest first, starting after the cursor.
func (r queries) ListExpenses(ctx context.Context, groupID string, limit int, after *storage.ExpenseCursor) ([]models.Expense, error) {
	var (
		where = []string{"group_id = ?"}
		args  = []any{groupID}
	)
	if after != nil {
		ms := toMillis(after.CreatedAt)
		where = append(where, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, ms, ms, after.ID)
	}

	query := "SELECT " + expenseColumns + " FROM expenses WHERE " + strings.Join(where, " AND ") +
		" ORDER BY created_at DESC, id DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list expenses: %w", err)
	}

	expenses := make([]models.Expense, 0)
	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan expense: %w", err)
		}
		expenses = append(expenses, *e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate expenses: %w", err)
	}

	// Splits are loaded after the expense cursor is closed so a transaction
	// never holds two open statements.
	for i := range expenses {
		if expenses[i].Splits, err = r.expenseSplits(ctx, expenses[i].ID); err != nil {
			return nil, err
		}
	}
	return expenses, nil
}

func (r queries) expenseSplits(ctx context.Context, expenseID string) ([]models.Split, error) {
	rows, err := r.q.QueryContext(ctx,
		"SELECT user_id, amount_cents FROM expense_splits WHERE expense_id = ? ORDER BY position",
		expenseID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get expense splits: %w", err)
	}
	defer rows.Close()

	splits := make([]models.Split, 0)
	for rows.Next() {
		var s models.Split
		if err := rows.Scan(&s.UserID, &s.AmountCents); err != nil {
			return nil, fmt.Errorf("failed to scan expense split: %w", err)
		}
		splits = append(splits, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate expense splits: %w", err)
	}
	return splits, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanExpense(row scanner) (*models.Expense, error) {
	var (
		e                 models.Expense
		mode              string
		note              sql.NullString
		date, createdAtMs int64
	)
	if err := row.Scan(&e.ID, &e.GroupID, &e.PaidByID, &e.TotalCents, &e.Currency, &mode,
		&date, &note, &e.CreatedBy, &createdAtMs); err != nil {
		return nil, err
	}
	e.Mode = models.SplitMode(mode)
	e.Date = fromMillis(date)
	e.CreatedAt = fromMillis(createdAtMs)
	if note.Valid {
		e.Note = note.String
	}
	return &e, nil
}
