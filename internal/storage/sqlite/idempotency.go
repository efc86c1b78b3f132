package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mmynk/splitledger/internal/models"
)

// InsertIdempotency claims (key, scope) unless it is already present.
func (t *txStore) InsertIdempotency(ctx context.Context, rec *models.IdempotencyRecord) (bool, error) {
	res, err := t.q.ExecContext(ctx, `
		INSERT INTO idempotency_keys (key, scope, method, path, body_hash, status, claimed_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key, scope) DO NOTHING`,
		rec.Key, rec.Scope, rec.Method, rec.Path, rec.BodyHash, string(rec.Status),
		toMillis(rec.ClaimedAt), toMillis(rec.ExpiresAt),
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert idempotency record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n == 1, nil
}

// GetIdempotencyForUpdate reads a record. The enclosing write transaction
// already holds the database write lock.
func (t *txStore) GetIdempotencyForUpdate(ctx context.Context, key, scope string) (*models.IdempotencyRecord, error) {
	var (
		rec                      models.IdempotencyRecord
		status                   string
		response                 sql.NullString
		claimedAtMs, expiresAtMs int64
	)
	err := t.q.QueryRowContext(ctx, `
		SELECT key, scope, method, path, body_hash, status, status_code, response, claimed_at, expires_at
		FROM idempotency_keys WHERE key = ? AND scope = ?`,
		key, scope,
	).Scan(&rec.Key, &rec.Scope, &rec.Method, &rec.Path, &rec.BodyHash, &status, &rec.StatusCode,
		&response, &claimedAtMs, &expiresAtMs)
	if err != nil {
		return nil, notFound(err, "idempotency record", key)
	}

	rec.Status = models.IdempotencyStatus(status)
	if response.Valid {
		rec.Response = []byte(response.String)
	}
	rec.ClaimedAt = fromMillis(claimedAtMs)
	rec.ExpiresAt = fromMillis(expiresAtMs)
	return &rec, nil
}

// ReclaimIdempotency resets an existing record to rec's in-progress claim.
func (t *txStore) ReclaimIdempotency(ctx context.Context, rec *models.IdempotencyRecord) error {
	_, err := t.q.ExecContext(ctx, `
		UPDATE idempotency_keys
		SET method = ?, path = ?, body_hash = ?, status = ?, status_code = 0, response = NULL,
			claimed_at = ?, expires_at = ?
		WHERE key = ? AND scope = ?`,
		rec.Method, rec.Path, rec.BodyHash, string(rec.Status),
		toMillis(rec.ClaimedAt), toMillis(rec.ExpiresAt), rec.Key, rec.Scope,
	)
	if err != nil {
		return fmt.Errorf("failed to reclaim idempotency record: %w", err)
	}
	return nil
}

// CompleteIdempotency stores the response and marks the record done.
func (t *txStore) CompleteIdempotency(ctx context.Context, key, scope string, statusCode int, response []byte) error {
	_, err := t.q.ExecContext(ctx, `
		UPDATE idempotency_keys SET status = ?, status_code = ?, response = ?
		WHERE key = ? AND scope = ?`,
		string(models.IdempotencyDone), statusCode, string(response), key, scope,
	)
	if err != nil {
		return fmt.Errorf("failed to complete idempotency record: %w", err)
	}
	return nil
}

// DeleteIdempotency removes a record.
func (t *txStore) DeleteIdempotency(ctx context.Context, key, scope string) error {
	_, err := t.q.ExecContext(ctx,
		"DELETE FROM idempotency_keys WHERE key = ? AND scope = ?",
		key, scope,
	)
	if err != nil {
		return fmt.Errorf("failed to delete idempotency record: %w", err)
	}
	return nil
}

// PurgeIdempotency deletes expired records.
func (t *txStore) PurgeIdempotency(ctx context.Context, now time.Time) (int64, error) {
	res, err := t.q.ExecContext(ctx,
		"DELETE FROM idempotency_keys WHERE expires_at <= ?",
		toMillis(now),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to purge idempotency records: %w", err)
	}
	return res.RowsAffected()
}
