// Package audit maintains the append-only, hash-chained audit log.
//
// Every entry stores chainHash = sha256hex(prevHash + ":" + root), where root is
// the sha256hex of the canonical JSON of the entry's payload and prevHash is
// the previous entry's chainHash. The first entry has no prevHash and stores
// sha256hex(root). Recomputing the chain from the first entry reproduces every
// stored hash, so any edit, deletion, insertion or reorder is detected.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mmynk/splitledger/internal/canonical"
	"github.com/mmynk/splitledger/internal/id"
	"github.com/mmynk/splitledger/internal/models"
	"github.com/mmynk/splitledger/internal/storage"
)

// timeFormat matches ISO-8601 with millisecond precision in UTC.
const timeFormat = "2006-01-02T15:04:05.000Z"

// verifyBatch is the number of entries read per query while verifying.
const verifyBatch = 500

// Event describes an action to record.
type Event struct {
	ActorID    string
	GroupID    string
	TargetType string
	TargetID   string
	Meta       Meta
	IP         string
	UserAgent  string
}

// payload is the hashed view of an entry. Absent optional fields hash as null.
type payload struct {
	ID         string          `json:"id"`
	Seq        int64           `json:"seq"`
	At         string          `json:"at"`
	ActorID    *string         `json:"actorUserId"`
	GroupID    *string         `json:"groupId"`
	Action     string          `json:"action"`
	TargetType *string         `json:"targetType"`
	TargetID   *string         `json:"targetId"`
	Meta       json.RawMessage `json:"meta"`
	IP         *string         `json:"ip"`
	UserAgent  *string         `json:"userAgent"`
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Chain appends to and verifies the audit log.
type Chain struct {
	redactor *Redactor
	now      func() time.Time
}

// Option configures a Chain.
type Option func(*Chain)

// WithRedactor replaces the default redactor.
func WithRedactor(r *Redactor) Option {
	return func(c *Chain) { c.redactor = r }
}

// WithClock sets the time source used for entry timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Chain) { c.now = now }
}

// NewChain creates a Chain using DefaultRedactor and the wall clock.
func NewChain(opts ...Option) *Chain {
	c := &Chain{redactor: DefaultRedactor(), now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Append redacts the event's metadata, links it to the current tail and
// inserts it inside tx. The tail lock taken here is held until tx ends, so
// appends are strictly serialized.
func (c *Chain) Append(ctx context.Context, tx storage.Tx, ev Event) (*models.AuditEntry, error) {
	if ev.Meta == nil {
		return nil, errors.New("audit: event has no meta")
	}

	tree, err := c.redactor.Redact(ev.Meta)
	if err != nil {
		return nil, err
	}
	meta, err := canonical.JSON(tree)
	if err != nil {
		return nil, fmt.Errorf("audit: encode meta: %w", err)
	}

	tail, err := tx.LockAuditTail(ctx)
	if err != nil {
		return nil, fmt.Errorf("audit: %w", err)
	}

	entry := &models.AuditEntry{
		ID:         id.NewAudit(),
		Seq:        1,
		ActorID:    ev.ActorID,
		GroupID:    ev.GroupID,
		Action:     string(ev.Meta.Action()),
		TargetType: ev.TargetType,
		TargetID:   ev.TargetID,
		Meta:       meta,
		IP:         ev.IP,
		UserAgent:  ev.UserAgent,
		CreatedAt:  c.now().UTC().Truncate(time.Millisecond),
	}
	if tail != nil {
		entry.Seq = tail.Seq + 1
		entry.PrevHash = tail.ChainHash
	}

	if entry.ChainHash, err = ComputeHash(entry); err != nil {
		return nil, err
	}
	if err := tx.InsertAuditEntry(ctx, entry); err != nil {
		return nil, fmt.Errorf("audit: %w", err)
	}
	return entry, nil
}

// RootHash returns the sha256hex of the canonical payload of e.
func RootHash(e *models.AuditEntry) (string, error) {
	meta := e.Meta
	if len(meta) == 0 {
		meta = json.RawMessage(`{}`)
	}
	b, err := canonical.JSON(payload{
		ID:         e.ID,
		Seq:        e.Seq,
		At:         e.CreatedAt.UTC().Format(timeFormat),
		ActorID:    optional(e.ActorID),
		GroupID:    optional(e.GroupID),
		Action:     e.Action,
		TargetType: optional(e.TargetType),
		TargetID:   optional(e.TargetID),
		Meta:       meta,
		IP:         optional(e.IP),
		UserAgent:  optional(e.UserAgent),
	})
	if err != nil {
		return "", fmt.Errorf("audit: encode payload: %w", err)
	}
	return canonical.SHA256Hex(b), nil
}

// LinkHash combines a previous chain hash with a payload root.
func LinkHash(prevHash, root string) string {
	if prevHash == "" {
		return canonical.SHA256Hex([]byte(root))
	}
	return canonical.SHA256Hex([]byte(prevHash + ":" + root))
}

// ComputeHash returns the chain hash e should carry given its PrevHash.
func ComputeHash(e *models.AuditEntry) (string, error) {
	root, err := RootHash(e)
	if err != nil {
		return "", err
	}
	return LinkHash(e.PrevHash, root), nil
}

// VerifyResult holds the outcome of a hash chain verification.
type VerifyResult struct {
	OK              bool   `json:"ok"`
	Checked         int    `json:"checked"`
	FirstBadEntryID string `json:"firstBadEntryId,omitempty"`
	FirstBadSeq     int64  `json:"firstBadSeq,omitempty"`
	Reason          string `json:"reason,omitempty"`
}

// Verify walks the log in creation order and reports the first entry whose
// link or hash does not match. With fromID set, verification starts at that
// entry and trusts its PrevHash as the anchor.
func (c *Chain) Verify(ctx context.Context, r storage.Reader, fromID string) (*VerifyResult, error) {
	var (
		afterSeq   int64
		expectPrev string
	)
	if fromID != "" {
		start, err := r.GetAuditEntry(ctx, fromID)
		if err != nil {
			return nil, fmt.Errorf("audit: verify start: %w", err)
		}
		afterSeq = start.Seq - 1
		expectPrev = start.PrevHash
	}

	result := &VerifyResult{OK: true}
	for {
		batch, err := r.ScanAuditChain(ctx, afterSeq, verifyBatch)
		if err != nil {
			return nil, fmt.Errorf("audit: verify: %w", err)
		}
		for i := range batch {
			e := &batch[i]
			if reason := checkEntry(e, afterSeq+1, expectPrev); reason != "" {
				result.OK = false
				result.FirstBadEntryID = e.ID
				result.FirstBadSeq = e.Seq
				result.Reason = reason
				return result, nil
			}
			result.Checked++
			afterSeq = e.Seq
			expectPrev = e.ChainHash
		}
		if len(batch) < verifyBatch {
			return result, nil
		}
	}
}

func checkEntry(e *models.AuditEntry, wantSeq int64, wantPrev string) string {
	if e.Seq != wantSeq {
		return fmt.Sprintf("sequence gap: expected %d, found %d", wantSeq, e.Seq)
	}
	if e.PrevHash != wantPrev {
		return "prev_hash does not match previous entry"
	}
	got, err := ComputeHash(e)
	if err != nil {
		return err.Error()
	}
	if got != e.ChainHash {
		return "chain_hash mismatch"
	}
	return ""
}
