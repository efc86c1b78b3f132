package ledger

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/mmynk/splitledger/internal/apperr"
	"github.com/mmynk/splitledger/internal/audit"
	"github.com/mmynk/splitledger/internal/calculator"
	"github.com/mmynk/splitledger/internal/idempotency"
	"github.com/mmynk/splitledger/internal/models"
	"github.com/mmynk/splitledger/internal/storage"
)

// Mutation kinds.
const (
	KindExpense    = "expense"
	KindSettlement = "settlement"
)

// Mutation outcomes reported to metrics besides the error kinds.
const (
	outcomeCommitted = "committed"
	outcomeReplayed  = "replayed"
)

// MutationResult is the committed outcome of a mutation. It is also the body
// stored for idempotent replay, so a replay returns the same IDs.
type MutationResult struct {
	Kind    string `json:"kind"`
	ID      string `json:"id"`
	GroupID string `json:"groupId"`

	Expense    *models.Expense    `json:"expense,omitempty"`
	Settlement *models.Settlement `json:"settlement,omitempty"`

	// Deltas are the balance changes applied, one per affected member.
	Deltas []models.Delta `json:"deltas"`

	AuditEntryID string `json:"auditEntryId"`

	// Replayed is set when the result came from a stored idempotent response.
	Replayed bool `json:"replayed"`
}

// mutation is one pass through the pipeline.
type mutation struct {
	kind    string
	groupID string
	call    Call

	// input is hashed for idempotency together with groupID.
	input any

	// apply validates, persists, projects and audits inside tx.
	apply func(ctx context.Context, tx storage.Tx) (*MutationResult, error)
}

// fingerprint is the request body the idempotency hash covers. The group is
// part of it because the scope holds the route shape, not the concrete path.
type fingerprint struct {
	GroupID string `json:"groupId"`
	Input   any    `json:"input"`
}

func (s *Service) mutate(ctx context.Context, m mutation) (*MutationResult, error) {
	start := time.Now()

	method, route := m.call.Method, m.call.Route
	if method == "" {
		method = "RPC"
	}
	if route == "" {
		route = m.kind
	}
	req := idempotency.Request{
		Key:    m.call.IdempotencyKey,
		Scope:  idempotency.ScopeFor(m.call.Actor.UserID, method, route),
		Method: method,
		Path:   m.call.Path,
		Body:   fingerprint{GroupID: m.groupID, Input: m.input},
	}

	resp, err := s.guard.Run(ctx, req, func(ctx context.Context, tx storage.Tx) (idempotency.Response, error) {
		res, err := m.apply(ctx, tx)
		if err != nil {
			return idempotency.Response{}, err
		}
		body, err := json.Marshal(res)
		if err != nil {
			return idempotency.Response{}, apperr.Internal("failed to encode %s result: %v", m.kind, err)
		}
		return idempotency.Response{StatusCode: http.StatusCreated, Body: body}, nil
	})
	if err != nil {
		kind := apperr.KindOf(err)
		s.metrics.ObserveMutation(m.kind, kind.String(), time.Since(start))
		switch kind {
		case apperr.KindPersistence, apperr.KindInternal:
			s.logger.Error("mutation failed", "kind", m.kind, "group_id", m.groupID, "error", err)
		default:
			s.logger.Info("mutation rejected", "kind", m.kind, "group_id", m.groupID, "reason", kind.String(), "error", err)
		}
		return nil, err
	}

	var res MutationResult
	if err := json.Unmarshal(resp.Body, &res); err != nil {
		return nil, apperr.Internal("failed to decode stored %s result: %v", m.kind, err)
	}
	res.Replayed = resp.Replayed

	if res.Replayed {
		s.metrics.ObserveMutation(m.kind, outcomeReplayed, time.Since(start))
		s.logger.Info("mutation replayed", "kind", m.kind, "group_id", m.groupID, "id", res.ID)
		return &res, nil
	}

	s.invalidate(m.groupID)
	s.metrics.ObserveMutation(m.kind, outcomeCommitted, time.Since(start))
	s.logger.Info("mutation committed",
		"kind", m.kind,
		"group_id", m.groupID,
		"id", res.ID,
		"audit_entry_id", res.AuditEntryID,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return &res, nil
}

// project applies deltas to the group's balances after checking they net to zero.
func project(ctx context.Context, tx storage.Tx, groupID string, deltas []models.Delta) error {
	sum, err := calculator.SumDeltas(deltas)
	if err != nil {
		return err
	}
	if sum != 0 {
		return apperr.Internal("deltas for group %s sum to %d, not zero", groupID, sum)
	}
	if err := tx.ApplyDeltas(ctx, groupID, deltas); err != nil {
		return apperr.Persistence(err, "failed to apply balance deltas")
	}
	return nil
}

// record appends ev to the audit chain inside tx.
func (s *Service) record(ctx context.Context, tx storage.Tx, actor Actor, groupID, targetType, targetID string, meta audit.Meta) (*models.AuditEntry, error) {
	entry, err := s.chain.Append(ctx, tx, audit.Event{
		ActorID:    actor.UserID,
		GroupID:    groupID,
		TargetType: targetType,
		TargetID:   targetID,
		Meta:       meta,
		IP:         actor.IP,
		UserAgent:  actor.UserAgent,
	})
	if err != nil {
		return nil, apperr.Persistence(err, "failed to append audit entry")
	}
	return entry, nil
}
