package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/mmynk/splitledger/internal/models"
)

func (t *txStore) InsertIdempotency(ctx context.Context, rec *models.IdempotencyRecord) (bool, error) {
	tag, err := t.q.Exec(ctx, `
		INSERT INTO idempotency_keys (key, scope, method, path, body_hash, status, claimed_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (key, scope) DO NOTHING`,
		rec.Key, rec.Scope, rec.Method, rec.Path, rec.BodyHash, string(rec.Status),
		toMillis(rec.ClaimedAt), toMillis(rec.ExpiresAt),
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert idempotency record: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// GetIdempotencyForUpdate row-locks the record until the transaction ends.
func (t *txStore) GetIdempotencyForUpdate(ctx context.Context, key, scope string) (*models.IdempotencyRecord, error) {
	var (
		rec                      models.IdempotencyRecord
		status                   string
		response                 *string
		claimedAtMs, expiresAtMs int64
	)
	err := t.q.QueryRow(ctx, `
		SELECT key, scope, method, path, body_hash, status, status_code, response, claimed_at, expires_at
		FROM idempotency_keys WHERE key = $1 AND scope = $2
		FOR UPDATE`,
		key, scope,
	).Scan(&rec.Key, &rec.Scope, &rec.Method, &rec.Path, &rec.BodyHash, &status, &rec.StatusCode,
		&response, &claimedAtMs, &expiresAtMs)
	if err != nil {
		return nil, notFound(err, "idempotency record", key)
	}

	rec.Status = models.IdempotencyStatus(status)
	if response != nil {
		rec.Response = []byte(*response)
	}
	rec.ClaimedAt = fromMillis(claimedAtMs)
	rec.ExpiresAt = fromMillis(expiresAtMs)
	return &rec, nil
}

func (t *txStore) ReclaimIdempotency(ctx context.Context, rec *models.IdempotencyRecord) error {
	if _, err := t.q.Exec(ctx, `
		UPDATE idempotency_keys
		SET method = $1, path = $2, body_hash = $3, status = $4, status_code = 0, response = NULL,
			claimed_at = $5, expires_at = $6
		WHERE key = $7 AND scope = $8`,
		rec.Method, rec.Path, rec.BodyHash, string(rec.Status),
		toMillis(rec.ClaimedAt), toMillis(rec.ExpiresAt), rec.Key, rec.Scope,
	); err != nil {
		return fmt.Errorf("failed to reclaim idempotency record: %w", err)
	}
	return nil
}

func (t *txStore) CompleteIdempotency(ctx context.Context, key, scope string, statusCode int, response []byte) error {
	if _, err := t.q.Exec(ctx, `
		UPDATE idempotency_keys SET status = $1, status_code = $2, response = $3
		WHERE key = $4 AND scope = $5`,
		string(models.IdempotencyDone), statusCode, string(response), key, scope,
	); err != nil {
		return fmt.Errorf("failed to complete idempotency record: %w", err)
	}
	return nil
}

func (t *txStore) DeleteIdempotency(ctx context.Context, key, scope string) error {
	if _, err := t.q.Exec(ctx,
		`DELETE FROM idempotency_keys WHERE key = $1 AND scope = $2`, key, scope,
	); err != nil {
		return fmt.Errorf("failed to delete idempotency record: %w", err)
	}
	return nil
}

func (t *txStore) PurgeIdempotency(ctx context.Context, now time.Time) (int64, error) {
	tag, err := t.q.Exec(ctx,
		`DELETE FROM idempotency_keys WHERE expires_at <= $1`, toMillis(now),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to purge idempotency records: %w", err)
	}
	return tag.RowsAffected(), nil
}
