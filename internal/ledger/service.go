// Package ledger records expenses and settlements for groups and serves the
// projections derived from them.
//
// Every mutation runs the same pipeline inside one transaction:
// validate, split, persist, project balances, append to the audit chain.
// The transaction is wrapped by the idempotency guard, so a retried request
// with the same Idempotency-Key is applied at most once. Committed mutations
// invalidate the group's cached reads.
package ledger

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/mmynk/splitledger/internal/apperr"
	"github.com/mmynk/splitledger/internal/audit"
	"github.com/mmynk/splitledger/internal/cache"
	"github.com/mmynk/splitledger/internal/idempotency"
	"github.com/mmynk/splitledger/internal/metrics"
	"github.com/mmynk/splitledger/internal/models"
	"github.com/mmynk/splitledger/internal/storage"
)

// Actor is the authenticated caller of an operation. An empty UserID is only
// accepted from trusted operator tooling.
type Actor struct {
	UserID    string
	IP        string
	UserAgent string
}

// Call carries the transport details of a mutation.
type Call struct {
	Actor Actor

	// IdempotencyKey is the client-supplied key. Empty runs the mutation
	// without deduplication.
	IdempotencyKey string

	// Method and Route form the idempotency scope together with the actor.
	// Route is the route shape, not the concrete path. When empty the
	// operation name is used.
	Method string
	Route  string
	Path   string
}

// Options configures a Service. Nil fields get defaults built on Clock.
type Options struct {
	Guard   *idempotency.Guard
	Chain   *audit.Chain
	Cache   *cache.Cache
	Clock   func() time.Time
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Service is the ledger core. It is safe for concurrent use.
type Service struct {
	store   storage.Store
	guard   *idempotency.Guard
	chain   *audit.Chain
	cache   *cache.Cache
	now     func() time.Time
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New creates a Service over store.
func New(store storage.Store, opts Options) (*Service, error) {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Guard == nil {
		opts.Guard = idempotency.New(store,
			idempotency.WithClock(opts.Clock),
			idempotency.WithLogger(opts.Logger),
			idempotency.WithMetrics(opts.Metrics),
		)
	}
	if opts.Chain == nil {
		opts.Chain = audit.NewChain(audit.WithClock(opts.Clock))
	}
	if opts.Cache == nil {
		c, err := cache.New(cache.Options{Clock: opts.Clock, Logger: opts.Logger, Metrics: opts.Metrics})
		if err != nil {
			return nil, err
		}
		opts.Cache = c
	}

	return &Service{
		store:   store,
		guard:   opts.Guard,
		chain:   opts.Chain,
		cache:   opts.Cache,
		now:     opts.Clock,
		logger:  opts.Logger,
		metrics: opts.Metrics,
	}, nil
}

// Guard exposes the idempotency guard for the purge worker.
func (s *Service) Guard() *idempotency.Guard {
	return s.guard
}

// timestamp returns the current time in the precision the stores keep.
func (s *Service) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Millisecond)
}

// loadGroup returns the group and checks that actor may act on it.
func loadGroup(ctx context.Context, r storage.Reader, groupID, actorID string) (*models.Group, error) {
	if groupID == "" {
		return nil, apperr.Validation("group id is required")
	}
	group, err := r.GetGroup(ctx, groupID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.NotFound("group %s not found", groupID)
	}
	if err != nil {
		return nil, apperr.Persistence(err, "failed to load group")
	}
	if actorID != "" && !group.HasMember(actorID) {
		return nil, apperr.Forbidden("user %s is not a member of group %s", actorID, groupID)
	}
	return group, nil
}

// Authorize checks that groupID exists and actor belongs to it.
func (s *Service) Authorize(ctx context.Context, actor Actor, groupID string) error {
	_, err := loadGroup(ctx, s.store, groupID, actor.UserID)
	return err
}

// invalidate drops the group's cached reads after a commit.
func (s *Service) invalidate(groupID string) {
	s.cache.Invalidate(groupID)
	s.logger.Debug("group cache invalidated", "group_id", groupID)
}
