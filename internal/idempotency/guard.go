// Package idempotency makes retried mutations safe.
//
// A request carrying an Idempotency-Key is claimed under (key, scope) before it
// runs. The claim is a committed in_progress record; the handler then runs in
// its own transaction, which also stores the response and marks the record
// done, so a committed mutation always has a replayable response. A later
// request with the same key and body replays that response, a different body
// is a Conflict, and a request arriving while the first is still running gets
// Processing immediately.
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mmynk/splitledger/internal/apperr"
	"github.com/mmynk/splitledger/internal/canonical"
	"github.com/mmynk/splitledger/internal/metrics"
	"github.com/mmynk/splitledger/internal/models"
	"github.com/mmynk/splitledger/internal/storage"
)

const (
	// DefaultTTL is how long a completed response stays replayable.
	DefaultTTL = 24 * time.Hour

	// DefaultLease is how long an in_progress claim is honoured before an
	// identical request may take it over.
	DefaultLease = 2 * time.Minute

	claimAttempts = 3
)

// Request identifies one submission.
type Request struct {
	// Key is the client-supplied Idempotency-Key. Empty disables the guard.
	Key string

	// Scope is the caller identity plus the route shape, e.g.
	// "user:u1|path:POST /api/groups/{groupID}/expenses".
	Scope string

	Method string
	Path   string

	// Body is the payload whose canonical hash must match on replay.
	Body any
}

// Response is the captured outcome of a handler.
type Response struct {
	StatusCode int
	Body       json.RawMessage

	// Replayed is set when the response came from a stored record.
	Replayed bool
}

// Handler performs the mutation inside tx and returns its response.
type Handler func(ctx context.Context, tx storage.Tx) (Response, error)

// Guard runs handlers at most once per (key, scope).
type Guard struct {
	store   storage.Store
	ttl     time.Duration
	lease   time.Duration
	now     func() time.Time
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Option configures a Guard.
type Option func(*Guard)

func WithTTL(d time.Duration) Option        { return func(g *Guard) { g.ttl = d } }
func WithLease(d time.Duration) Option      { return func(g *Guard) { g.lease = d } }
func WithClock(now func() time.Time) Option { return func(g *Guard) { g.now = now } }
func WithLogger(l *slog.Logger) Option      { return func(g *Guard) { g.logger = l } }
func WithMetrics(m *metrics.Metrics) Option { return func(g *Guard) { g.metrics = m } }

// New creates a Guard over store.
func New(store storage.Store, opts ...Option) *Guard {
	g := &Guard{
		store:  store,
		ttl:    DefaultTTL,
		lease:  DefaultLease,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Run executes fn at most once for req's (Key, Scope).
//
// Outcomes:
//   - no key: fn runs in a plain transaction
//   - first claim, expired record, or abandoned claim: fn runs, response stored
//   - done with the same body hash: stored response replayed, fn not called
//   - different body hash: apperr Conflict
//   - in progress: apperr Processing
//
// If fn fails the claim is released so the client may retry with the same key.
func (g *Guard) Run(ctx context.Context, req Request, fn Handler) (Response, error) {
	if req.Key == "" {
		g.metrics.ObserveIdempotency(metrics.OutcomeUnkeyed)
		return g.execute(ctx, fn, nil)
	}

	bodyHash, err := canonical.HashBase64(req.Body)
	if err != nil {
		return Response{}, apperr.Validation("request body is not valid JSON: %v", err)
	}

	claim, replay, err := g.claim(ctx, req, bodyHash)
	if err != nil {
		return Response{}, err
	}
	if replay != nil {
		g.metrics.ObserveIdempotency(metrics.OutcomeReplayed)
		g.logger.Debug("idempotent replay", "key", req.Key, "scope", req.Scope)
		return *replay, nil
	}

	resp, err := g.execute(ctx, fn, claim)
	if err != nil {
		g.release(ctx, claim)
		return Response{}, err
	}
	g.metrics.ObserveIdempotency(metrics.OutcomeExecuted)
	return resp, nil
}

// claim takes ownership of (key, scope) or decides the request's outcome from
// the existing record.
func (g *Guard) claim(ctx context.Context, req Request, bodyHash string) (*models.IdempotencyRecord, *Response, error) {
	now := g.now().UTC().Truncate(time.Millisecond)
	rec := &models.IdempotencyRecord{
		Key:       req.Key,
		Scope:     req.Scope,
		Method:    req.Method,
		Path:      req.Path,
		BodyHash:  bodyHash,
		Status:    models.IdempotencyInProgress,
		ClaimedAt: now,
		ExpiresAt: now.Add(g.ttl),
	}

	var replay *Response
	err := g.store.WithTx(ctx, func(tx storage.Tx) error {
		for attempt := 0; attempt < claimAttempts; attempt++ {
			inserted, err := tx.InsertIdempotency(ctx, rec)
			if err != nil {
				return apperr.Persistence(err, "failed to claim idempotency key")
			}
			if inserted {
				return nil
			}

			existing, err := tx.GetIdempotencyForUpdate(ctx, req.Key, req.Scope)
			if errors.Is(err, storage.ErrNotFound) {
				// Released between our insert and read; try again.
				continue
			}
			if err != nil {
				return apperr.Persistence(err, "failed to read idempotency key")
			}

			switch {
			case !now.Before(existing.ExpiresAt):
				return g.reclaim(ctx, tx, rec, "expired")
			case existing.BodyHash != bodyHash:
				g.metrics.ObserveIdempotency(metrics.OutcomeConflict)
				return apperr.Conflict("Idempotency-Key reused with different payload")
			case existing.Status == models.IdempotencyDone:
				replay = &Response{StatusCode: existing.StatusCode, Body: existing.Response, Replayed: true}
				return nil
			case now.Sub(existing.ClaimedAt) >= g.lease:
				return g.reclaim(ctx, tx, rec, "abandoned")
			default:
				g.metrics.ObserveIdempotency(metrics.OutcomeProcessing)
				return apperr.Processing("request with this Idempotency-Key is still processing; retry with the same key")
			}
		}
		return apperr.Processing("could not claim Idempotency-Key; retry with the same key")
	})
	if err != nil {
		return nil, nil, tag(err, "failed to claim idempotency key")
	}
	if replay != nil {
		return nil, replay, nil
	}
	return rec, nil, nil
}

func (g *Guard) reclaim(ctx context.Context, tx storage.Tx, rec *models.IdempotencyRecord, why string) error {
	if err := tx.ReclaimIdempotency(ctx, rec); err != nil {
		return apperr.Persistence(err, "failed to reclaim idempotency key")
	}
	g.metrics.ObserveIdempotency(metrics.OutcomeReclaimed)
	g.logger.Info("reclaimed idempotency key", "key", rec.Key, "scope", rec.Scope, "reason", why)
	return nil
}

// execute runs fn in one transaction. With a claim, it first confirms the
// claim is still ours and stores the response before commit.
func (g *Guard) execute(ctx context.Context, fn Handler, claim *models.IdempotencyRecord) (Response, error) {
	var resp Response
	err := g.store.WithTx(ctx, func(tx storage.Tx) error {
		if claim != nil {
			if err := g.checkOwnership(ctx, tx, claim); err != nil {
				return err
			}
		}

		var err error
		if resp, err = fn(ctx, tx); err != nil {
			return err
		}

		if claim != nil {
			if err := tx.CompleteIdempotency(ctx, claim.Key, claim.Scope, resp.StatusCode, resp.Body); err != nil {
				return apperr.Persistence(err, "failed to store idempotent response")
			}
		}
		return nil
	})
	if err != nil {
		return Response{}, tag(err, "failed to execute mutation")
	}
	return resp, nil
}

// checkOwnership locks the record and fails with Processing if another
// executor has reclaimed it since our claim.
func (g *Guard) checkOwnership(ctx context.Context, tx storage.Tx, claim *models.IdempotencyRecord) error {
	current, err := tx.GetIdempotencyForUpdate(ctx, claim.Key, claim.Scope)
	if errors.Is(err, storage.ErrNotFound) {
		return apperr.Processing("idempotency claim was lost; retry with the same key")
	}
	if err != nil {
		return apperr.Persistence(err, "failed to lock idempotency key")
	}
	if !owns(current, claim) {
		return apperr.Processing("request with this Idempotency-Key is still processing; retry with the same key")
	}
	return nil
}

func owns(current, claim *models.IdempotencyRecord) bool {
	return current.Status == models.IdempotencyInProgress &&
		current.BodyHash == claim.BodyHash &&
		current.ClaimedAt.Equal(claim.ClaimedAt)
}

// release deletes our in_progress claim after a failed execution. It runs
// even if ctx was cancelled.
func (g *Guard) release(ctx context.Context, claim *models.IdempotencyRecord) {
	ctx = context.WithoutCancel(ctx)
	err := g.store.WithTx(ctx, func(tx storage.Tx) error {
		current, err := tx.GetIdempotencyForUpdate(ctx, claim.Key, claim.Scope)
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if !owns(current, claim) {
			return nil
		}
		return tx.DeleteIdempotency(ctx, claim.Key, claim.Scope)
	})
	if err != nil {
		g.logger.Error("failed to release idempotency key", "key", claim.Key, "scope", claim.Scope, "error", err)
	}
}

// PurgeExpired deletes every record whose expiry has passed.
func (g *Guard) PurgeExpired(ctx context.Context) (int64, error) {
	var n int64
	err := g.store.WithTx(ctx, func(tx storage.Tx) error {
		var err error
		n, err = tx.PurgeIdempotency(ctx, g.now().UTC())
		return err
	})
	if err != nil {
		return 0, apperr.Persistence(err, "failed to purge idempotency keys")
	}
	g.metrics.ObservePurge(n)
	return n, nil
}

// tag classifies untagged errors (begin/commit failures) as persistence errors.
func tag(err error, msg string) error {
	if apperr.Tagged(err) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return apperr.Persistence(err, msg)
}

// ScopeFor builds the canonical scope string for an actor and route pattern.
func ScopeFor(actorID, method, route string) string {
	if actorID == "" {
		actorID = "anon"
	}
	return fmt.Sprintf("user:%s|path:%s %s", actorID, method, route)
}
