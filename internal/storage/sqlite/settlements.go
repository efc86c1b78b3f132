package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/mmynk/splitledger/internal/models"
)

const settlementColumns = "id, group_id, from_user_id, to_user_id, amount_cents, currency, date, note, created_by, created_at"

// InsertSettlement persists a new settlement to the database.
func (t *txStore) InsertSettlement(ctx context.Context, s *models.Settlement) error {
	_, err := t.q.ExecContext(ctx,
		"INSERT INTO settlements ("+settlementColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		s.ID, s.GroupID, s.FromUserID, s.ToUserID, s.AmountCents, s.Currency,
		toMillis(s.Date), nullString(s.Note), s.CreatedBy, toMillis(s.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert settlement: %w", err)
	}
	return nil
}

// GetSettlement retrieves a settlement by ID.
func (r queries) GetSettlement(ctx context.Context, settlementID string) (*models.Settlement, error) {
	row := r.q.QueryRowContext(ctx,
		"SELECT "+settlementColumns+" FROM settlements WHERE id = ?",
		settlementID,
	)
	s, err := scanSettlement(row)
	if err != nil {
		return nil, notFound(err, "settlement", settlementID)
	}
	return s, nil
}

// ListSettlements retrieves all settlements for a group, oldest first.
func (r queries) ListSettlements(ctx context.Context, groupID string) ([]models.Settlement, error) {
	rows, err := r.q.QueryContext(ctx,
		"SELECT "+settlementColumns+" FROM settlements WHERE group_id = ? ORDER BY created_at, id",
		groupID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list settlements by group: %w", err)
	}
	defer rows.Close()

	settlements := make([]models.Settlement, 0)
	for rows.Next() {
		s, err := scanSettlement(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan settlement: %w", err)
		}
		settlements = append(settlements, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate settlements: %w", err)
	}
	return settlements, nil
}

func scanSettlement(row scanner) (*models.Settlement, error) {
	var (
		s                 models.Settlement
		note              sql.NullString
		date, createdAtMs int64
	)
	if err := row.Scan(&s.ID, &s.GroupID, &s.FromUserID, &s.ToUserID, &s.AmountCents, &s.Currency,
		&date, &note, &s.CreatedBy, &createdAtMs); err != nil {
		return nil, err
	}
	s.Date = fromMillis(date)
	s.CreatedAt = fromMillis(createdAtMs)
	if note.Valid {
		s.Note = note.String
	}
	return &s, nil
}
