// Package storage provides abstractions for persistent ledger storage.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/mmynk/splitledger/internal/models"
)

// ErrNotFound is returned by lookups that match no row.
var ErrNotFound = errors.New("storage: not found")

// Store defines the interface for ledger storage operations.
// This abstraction allows swapping storage backends (SQLite, PostgreSQL)
// without changing the ledger layer.
type Store interface {
	Reader

	// WithTx runs fn inside a single database transaction. The transaction
	// commits if fn returns nil and rolls back otherwise, including when ctx
	// is cancelled before commit.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// Close releases any resources held by the store.
	Close() error
}

// Reader holds the read operations shared by the store and its transactions.
type Reader interface {
	// GetGroup returns the group with its members in join order.
	GetGroup(ctx context.Context, groupID string) (*models.Group, error)

	// GetBalances returns the projected balances of a group ordered by user ID.
	GetBalances(ctx context.Context, groupID string) ([]models.Balance, error)

	// LedgerGroupIDs returns every group that has expenses, settlements or
	// balance rows, ordered by ID.
	LedgerGroupIDs(ctx context.Context) ([]string, error)

	GetExpense(ctx context.Context, expenseID string) (*models.Expense, error)

	// ListExpenses returns a page of a group's expenses, newest first by
	// (CreatedAt, ID). A nil after starts at the newest expense. A limit of
	// zero or less returns every expense.
	ListExpenses(ctx context.Context, groupID string, limit int, after *ExpenseCursor) ([]models.Expense, error)

	GetSettlement(ctx context.Context, settlementID string) (*models.Settlement, error)

	// ListSettlements returns every settlement of a group, oldest first.
	ListSettlements(ctx context.Context, groupID string) ([]models.Settlement, error)

	GetAuditEntry(ctx context.Context, entryID string) (*models.AuditEntry, error)

	// ScanAuditChain returns up to limit entries with Seq > afterSeq in
	// ascending order.
	ScanAuditChain(ctx context.Context, afterSeq int64, limit int) ([]models.AuditEntry, error)

	// ListAuditEntries returns entries matching filter, newest first.
	ListAuditEntries(ctx context.Context, filter AuditFilter) ([]models.AuditEntry, error)
}

// Tx is the set of operations available inside a transaction.
type Tx interface {
	Reader

	CreateGroup(ctx context.Context, group *models.Group) error

	InsertExpense(ctx context.Context, expense *models.Expense) error
	InsertSettlement(ctx context.Context, settlement *models.Settlement) error

	// ApplyDeltas upsert-increments the (groupID, userID) balance rows.
	ApplyDeltas(ctx context.Context, groupID string, deltas []models.Delta) error

	// LockAuditTail serializes audit appends and returns the current last
	// entry, or nil when the log is empty. The lock is held until the
	// transaction ends.
	LockAuditTail(ctx context.Context) (*models.AuditEntry, error)
	InsertAuditEntry(ctx context.Context, entry *models.AuditEntry) error

	// InsertIdempotency inserts rec unless a record with the same (Key, Scope)
	// exists. It reports whether the row was inserted.
	InsertIdempotency(ctx context.Context, rec *models.IdempotencyRecord) (bool, error)

	// GetIdempotencyForUpdate returns the record and locks it for the rest of
	// the transaction.
	GetIdempotencyForUpdate(ctx context.Context, key, scope string) (*models.IdempotencyRecord, error)

	// ReclaimIdempotency overwrites an existing record with rec, resetting it
	// to the in-progress state described by rec.
	ReclaimIdempotency(ctx context.Context, rec *models.IdempotencyRecord) error

	// CompleteIdempotency marks the record done with the captured response.
	CompleteIdempotency(ctx context.Context, key, scope string, statusCode int, response []byte) error

	DeleteIdempotency(ctx context.Context, key, scope string) error

	// PurgeIdempotency deletes every record that expired at or before now and
	// returns the number of rows removed.
	PurgeIdempotency(ctx context.Context, now time.Time) (int64, error)
}

// ExpenseCursor is the position after which the next expense page starts.
type ExpenseCursor struct {
	CreatedAt time.Time
	ID        string
}

// AuditFilter selects audit entries. Empty fields match everything.
type AuditFilter struct {
	GroupID string
	ActorID string
	Action  string

	// BeforeSeq restricts results to entries with Seq < BeforeSeq when non-zero.
	BeforeSeq int64

	Limit int
}
