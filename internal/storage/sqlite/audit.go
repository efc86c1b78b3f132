package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/mmynk/splitledger/internal/models"
	"github.com/mmynk/splitledger/internal/storage"
)

const auditColumns = "seq, id, actor_id, group_id, action, target_type, target_id, meta, ip, user_agent, prev_hash, chain_hash, created_at"

// LockAuditTail returns the last audit entry. Appends are already serialized by
// the write transaction, so no extra lock is taken.
func (t *txStore) LockAuditTail(ctx context.Context) (*models.AuditEntry, error) {
	row := t.q.QueryRowContext(ctx,
		"SELECT "+auditColumns+" FROM audit_log ORDER BY seq DESC LIMIT 1",
	)
	e, err := scanAuditEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get audit tail: %w", err)
	}
	return e, nil
}

// InsertAuditEntry appends an entry. The log is append-only; there is no
// update or delete path.
func (t *txStore) InsertAuditEntry(ctx context.Context, e *models.AuditEntry) error {
	_, err := t.q.ExecContext(ctx,
		"INSERT INTO audit_log ("+auditColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		e.Seq, e.ID, nullString(e.ActorID), nullString(e.GroupID), e.Action,
		nullString(e.TargetType), nullString(e.TargetID), string(e.Meta),
		nullString(e.IP), nullString(e.UserAgent), nullString(e.PrevHash), e.ChainHash, toMillis(e.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}

// GetAuditEntry retrieves an audit entry by ID.
func (r queries) GetAuditEntry(ctx context.Context, entryID string) (*models.AuditEntry, error) {
	row := r.q.QueryRowContext(ctx,
		"SELECT "+auditColumns+" FROM audit_log WHERE id = ?",
		entryID,
	)
	e, err := scanAuditEntry(row)
	if err != nil {
		return nil, notFound(err, "audit entry", entryID)
	}
	return e, nil
}

// ScanAuditChain returns entries in chain order.
func (r queries) ScanAuditChain(ctx context.Context, afterSeq int64, limit int) ([]models.AuditEntry, error) {
	rows, err := r.q.QueryContext(ctx,
		"SELECT "+auditColumns+" FROM audit_log WHERE seq > ? ORDER BY seq LIMIT ?",
		afterSeq, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan audit chain: %w", err)
	}
	return collectAuditEntries(rows)
}

// ListAuditEntries returns filtered entries, newest first.
func (r queries) ListAuditEntries(ctx context.Context, f storage.AuditFilter) ([]models.AuditEntry, error) {
	var (
		where []string
		args  []any
	)
	if f.GroupID != "" {
		where = append(where, "group_id = ?")
		args = append(args, f.GroupID)
	}
	if f.ActorID != "" {
		where = append(where, "actor_id = ?")
		args = append(args, f.ActorID)
	}
	if f.Action != "" {
		where = append(where, "action = ?")
		args = append(args, f.Action)
	}
	if f.BeforeSeq > 0 {
		where = append(where, "seq < ?")
		args = append(args, f.BeforeSeq)
	}

	query := "SELECT " + auditColumns + " FROM audit_log"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	return collectAuditEntries(rows)
}

func collectAuditEntries(rows *sql.Rows) ([]models.AuditEntry, error) {
	defer rows.Close()

	entries := make([]models.AuditEntry, 0)
	for rows.Next() {
		e, err := scanAuditEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit entries: %w", err)
	}
	return entries, nil
}

func scanAuditEntry(row scanner) (*models.AuditEntry, error) {
	var (
		e                                      models.AuditEntry
		actorID, groupID, targetType, targetID sql.NullString
		ip, userAgent, prevHash                sql.NullString
		meta                                   string
		createdAtMs                            int64
	)
	if err := row.Scan(&e.Seq, &e.ID, &actorID, &groupID, &e.Action, &targetType, &targetID,
		&meta, &ip, &userAgent, &prevHash, &e.ChainHash, &createdAtMs); err != nil {
		return nil, err
	}
	e.ActorID = actorID.String
	e.GroupID = groupID.String
	e.TargetType = targetType.String
	e.TargetID = targetID.String
	e.IP = ip.String
	e.UserAgent = userAgent.String
	e.PrevHash = prevHash.String
	e.Meta = []byte(meta)
	e.CreatedAt = fromMillis(createdAtMs)
	return &e, nil
}
