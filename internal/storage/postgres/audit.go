package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/mmynk/splitledger/internal/models"
	"github.com/mmynk/splitledger/internal/storage"
)

const (
	auditColumns = "seq, id, actor_id, group_id, action, target_type, target_id, meta, ip, user_agent, prev_hash, chain_hash, created_at"

	// auditLockKey names the advisory lock guarding the audit log tail.
	auditLockKey = "splitledger.audit_log.tail"
)

// LockAuditTail takes the transaction-scoped advisory lock and returns the
// last entry. Concurrent appenders queue on the lock until this transaction
// commits or rolls back.
func (t *txStore) LockAuditTail(ctx context.Context) (*models.AuditEntry, error) {
	if _, err := t.q.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, auditLockKey); err != nil {
		return nil, fmt.Errorf("failed to lock audit tail: %w", err)
	}

	e, err := scanAuditEntry(t.q.QueryRow(ctx,
		`SELECT `+auditColumns+` FROM audit_log ORDER BY seq DESC LIMIT 1`,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get audit tail: %w", err)
	}
	return e, nil
}

func (t *txStore) InsertAuditEntry(ctx context.Context, e *models.AuditEntry) error {
	if _, err := t.q.Exec(ctx,
		`INSERT INTO audit_log (`+auditColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		e.Seq, e.ID, nullString(e.ActorID), nullString(e.GroupID), e.Action,
		nullString(e.TargetType), nullString(e.TargetID), string(e.Meta),
		nullString(e.IP), nullString(e.UserAgent), nullString(e.PrevHash), e.ChainHash, toMillis(e.CreatedAt),
	); err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}

func (r queries) GetAuditEntry(ctx context.Context, entryID string) (*models.AuditEntry, error) {
	e, err := scanAuditEntry(r.q.QueryRow(ctx,
		`SELECT `+auditColumns+` FROM audit_log WHERE id = $1`, entryID,
	))
	if err != nil {
		return nil, notFound(err, "audit entry", entryID)
	}
	return e, nil
}

func (r queries) ScanAuditChain(ctx context.Context, afterSeq int64, limit int) ([]models.AuditEntry, error) {
	rows, err := r.q.Query(ctx,
		`SELECT `+auditColumns+` FROM audit_log WHERE seq > $1 ORDER BY seq LIMIT $2`,
		afterSeq, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan audit chain: %w", err)
	}
	return collectAuditEntries(rows)
}

func (r queries) ListAuditEntries(ctx context.Context, f storage.AuditFilter) ([]models.AuditEntry, error) {
	var (
		a     args
		where []string
	)
	if f.GroupID != "" {
		where = append(where, "group_id = "+a.add(f.GroupID))
	}
	if f.ActorID != "" {
		where = append(where, "actor_id = "+a.add(f.ActorID))
	}
	if f.Action != "" {
		where = append(where, "action = "+a.add(f.Action))
	}
	if f.BeforeSeq > 0 {
		where = append(where, "seq < "+a.add(f.BeforeSeq))
	}

	query := `SELECT ` + auditColumns + ` FROM audit_log`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq DESC"
	if f.Limit > 0 {
		query += " LIMIT " + a.add(f.Limit)
	}

	rows, err := r.q.Query(ctx, query, a...)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	return collectAuditEntries(rows)
}

func collectAuditEntries(rows pgx.Rows) ([]models.AuditEntry, error) {
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.AuditEntry, error) {
		e, err := scanAuditEntry(row)
		if err != nil {
			return models.AuditEntry{}, err
		}
		return *e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan audit entries: %w", err)
	}
	return entries, nil
}

func scanAuditEntry(row pgx.Row) (*models.AuditEntry, error) {
	var (
		e                                      models.AuditEntry
		actorID, groupID, targetType, targetID *string
		ip, userAgent, prevHash                *string
		meta                                   string
		createdAtMs                            int64
	)
	if err := row.Scan(&e.Seq, &e.ID, &actorID, &groupID, &e.Action, &targetType, &targetID,
		&meta, &ip, &userAgent, &prevHash, &e.ChainHash, &createdAtMs); err != nil {
		return nil, err
	}
	e.ActorID = deref(actorID)
	e.GroupID = deref(groupID)
	e.TargetType = deref(targetType)
	e.TargetID = deref(targetID)
	e.IP = deref(ip)
	e.UserAgent = deref(userAgent)
	e.PrevHash = deref(prevHash)
	e.Meta = []byte(meta)
	e.CreatedAt = fromMillis(createdAtMs)
	return &e, nil
}
