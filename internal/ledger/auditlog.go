package ledger

import (
	"context"
	"errors"
	"strconv"

	"github.com/mmynk/splitledger/internal/apperr"
	"github.com/mmynk/splitledger/internal/audit"
	"github.com/mmynk/splitledger/internal/models"
	"github.com/mmynk/splitledger/internal/storage"
)

// VerifyAuditChain walks the audit log and reports the first entry whose link
// or hash does not match. With fromID set, verification starts at that entry.
func (s *Service) VerifyAuditChain(ctx context.Context, fromID string) (*audit.VerifyResult, error) {
	res, err := s.chain.Verify(ctx, s.store, fromID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.NotFound("audit entry %s not found", fromID)
	}
	if err != nil {
		return nil, apperr.Persistence(err, "failed to read audit log")
	}
	if !res.OK {
		s.logger.Error("audit chain broken",
			"first_bad_entry_id", res.FirstBadEntryID,
			"first_bad_seq", res.FirstBadSeq,
			"reason", res.Reason,
		)
	}
	return res, nil
}

// AuditQuery selects audit entries. Empty fields match everything.
type AuditQuery struct {
	GroupID string `json:"groupId,omitempty"`
	ActorID string `json:"actorId,omitempty"`
	Action  string `json:"action,omitempty"`
}

// AuditPage is one page of audit entries, newest first.
type AuditPage struct {
	Items []models.AuditEntry `json:"items"`

	// NextCursor is the sequence number to continue before; empty on the
	// last page.
	NextCursor string `json:"nextCursor,omitempty"`
}

// ListAuditEntries returns a page of audit entries matching q.
func (s *Service) ListAuditEntries(ctx context.Context, q AuditQuery, limit int, cursor string) (*AuditPage, error) {
	limit = clampLimit(limit)
	filter := storage.AuditFilter{
		GroupID: q.GroupID,
		ActorID: q.ActorID,
		Action:  q.Action,
		Limit:   limit + 1,
	}
	if cursor != "" {
		seq, err := strconv.ParseInt(cursor, 10, 64)
		if err != nil || seq <= 0 {
			return nil, apperr.Validation("malformed cursor %q", cursor)
		}
		filter.BeforeSeq = seq
	}

	entries, err := s.store.ListAuditEntries(ctx, filter)
	if err != nil {
		return nil, apperr.Persistence(err, "failed to list audit entries")
	}

	page := &AuditPage{Items: entries}
	if len(entries) > limit {
		page.Items = entries[:limit]
		page.NextCursor = strconv.FormatInt(page.Items[limit-1].Seq, 10)
	}
	if page.Items == nil {
		page.Items = []models.AuditEntry{}
	}
	return page, nil
}
