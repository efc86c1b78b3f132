package ledger

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmynk/splitledger/internal/apperr"
	"github.com/mmynk/splitledger/internal/audit"
	"github.com/mmynk/splitledger/internal/cache"
	"github.com/mmynk/splitledger/internal/calculator"
	"github.com/mmynk/splitledger/internal/id"
	"github.com/mmynk/splitledger/internal/models"
	"github.com/mmynk/splitledger/internal/storage"
)

// Page size bounds for listings.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
	maxNoteLength   = 500
)

var currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)

// Allocation is one beneficiary's input for an exact, percent or shares split.
// Only the field matching the mode is read.
type Allocation struct {
	UserID      string           `json:"userId"`
	AmountCents int64            `json:"amountCents,omitempty"`
	Percent     *decimal.Decimal `json:"percent,omitempty"`
	Shares      int64            `json:"shares,omitempty"`
}

// CreateExpenseInput describes a new expense.
type CreateExpenseInput struct {
	PaidByID   string           `json:"paidById"`
	TotalCents int64            `json:"totalCents"`
	Currency   string           `json:"currency"`
	Mode       models.SplitMode `json:"mode"`

	// Items are the per-user allocations for exact, percent and shares splits.
	Items []Allocation `json:"items,omitempty"`

	// Beneficiaries are the users an equal split divides across. Empty
	// means every group member in join order.
	Beneficiaries []string `json:"beneficiaries,omitempty"`

	// Date defaults to the commit time.
	Date *time.Time `json:"date,omitempty"`
	Note string     `json:"note,omitempty"`
}

// CreateExpense records an expense paid by one member and split across
// beneficiaries, applies the resulting balance deltas and audits it.
func (s *Service) CreateExpense(ctx context.Context, call Call, groupID string, in CreateExpenseInput) (*MutationResult, error) {
	in.Currency = strings.ToUpper(strings.TrimSpace(in.Currency))
	in.Note = strings.TrimSpace(in.Note)

	return s.mutate(ctx, mutation{
		kind:    KindExpense,
		groupID: groupID,
		call:    call,
		input:   in,
		apply: func(ctx context.Context, tx storage.Tx) (*MutationResult, error) {
			group, err := loadGroup(ctx, tx, groupID, call.Actor.UserID)
			if err != nil {
				return nil, err
			}
			participants, err := validateExpense(group, in)
			if err != nil {
				return nil, err
			}

			splits, err := calculator.ComputeSplit(in.TotalCents, in.Mode, participants)
			if err != nil {
				return nil, err
			}

			now := s.timestamp()
			expense := &models.Expense{
				ID:         id.NewExpense(),
				GroupID:    groupID,
				PaidByID:   in.PaidByID,
				TotalCents: in.TotalCents,
				Currency:   in.Currency,
				Mode:       in.Mode,
				Splits:     splits,
				Date:       dateOr(in.Date, now),
				Note:       in.Note,
				CreatedBy:  call.Actor.UserID,
				CreatedAt:  now,
			}
			if err := tx.InsertExpense(ctx, expense); err != nil {
				return nil, apperr.Persistence(err, "failed to insert expense")
			}

			deltas := calculator.ExpenseDeltas(expense.PaidByID, expense.TotalCents, expense.Splits)
			if err := project(ctx, tx, groupID, deltas); err != nil {
				return nil, err
			}

			entry, err := s.record(ctx, tx, call.Actor, groupID, audit.TargetExpense, expense.ID, audit.ExpenseCreated{
				ExpenseID:  expense.ID,
				PaidByID:   expense.PaidByID,
				TotalCents: expense.TotalCents,
				Currency:   expense.Currency,
				Mode:       expense.Mode,
				Splits:     expense.Splits,
				Note:       expense.Note,
			})
			if err != nil {
				return nil, err
			}

			return &MutationResult{
				Kind:         KindExpense,
				ID:           expense.ID,
				GroupID:      groupID,
				Expense:      expense,
				Deltas:       deltas,
				AuditEntryID: entry.ID,
			}, nil
		},
	})
}

// validateExpense checks in against group and returns the split participants.
func validateExpense(group *models.Group, in CreateExpenseInput) ([]calculator.Participant, error) {
	if in.TotalCents <= 0 {
		return nil, apperr.Validation("totalCents must be positive")
	}
	if in.TotalCents > calculator.MaxAmountCents {
		return nil, apperr.Validation("totalCents exceeds the maximum of %d", calculator.MaxAmountCents)
	}
	if err := validateCurrency(in.Currency); err != nil {
		return nil, err
	}
	if len(in.Note) > maxNoteLength {
		return nil, apperr.Validation("note must be at most %d characters", maxNoteLength)
	}
	if in.PaidByID == "" {
		return nil, apperr.Validation("paidById is required")
	}
	if !group.HasMember(in.PaidByID) {
		return nil, apperr.Validation("payer %s is not a member of the group", in.PaidByID)
	}
	if !in.Mode.Valid() {
		return nil, apperr.Validation("unknown split mode %q", in.Mode)
	}

	var participants []calculator.Participant
	if in.Mode == models.SplitEqual {
		users := in.Beneficiaries
		if len(users) == 0 {
			users = group.Members
		}
		for _, u := range users {
			participants = append(participants, calculator.Participant{UserID: u})
		}
	} else {
		if len(in.Items) == 0 {
			return nil, apperr.Validation("items are required for a %s split", in.Mode)
		}
		for _, item := range in.Items {
			p := calculator.Participant{
				UserID:      item.UserID,
				AmountCents: item.AmountCents,
				Shares:      item.Shares,
			}
			if in.Mode == models.SplitPercent {
				if item.Percent == nil {
					return nil, apperr.Validation("percent is required for user %s", item.UserID)
				}
				p.Percent = *item.Percent
			}
			participants = append(participants, p)
		}
	}

	for _, p := range participants {
		if p.UserID != "" && !group.HasMember(p.UserID) {
			return nil, apperr.Validation("beneficiary %s is not a member of the group", p.UserID)
		}
	}
	return participants, nil
}

func validateCurrency(c string) error {
	if !currencyPattern.MatchString(c) {
		return apperr.Validation("currency must be a three-letter ISO code, got %q", c)
	}
	return nil
}

func dateOr(d *time.Time, now time.Time) time.Time {
	if d == nil || d.IsZero() {
		return now
	}
	return d.UTC().Truncate(time.Millisecond)
}

// ExpensePage is one page of a group's expenses, newest first.
type ExpensePage struct {
	Items []models.Expense `json:"items"`

	// NextCursor continues the listing; empty on the last page.
	NextCursor string `json:"nextCursor,omitempty"`
}

// ListExpenses returns a page of the group's expenses. The first page is
// served from the read cache.
func (s *Service) ListExpenses(ctx context.Context, actor Actor, groupID string, limit int, cursor string) (*ExpensePage, error) {
	if err := s.Authorize(ctx, actor, groupID); err != nil {
		return nil, err
	}
	limit = clampLimit(limit)

	if cursor == "" {
		page, err := cache.Fetch(ctx, s.cache, cache.ExpensesFirstPageKey(groupID, limit), func(ctx context.Context) (ExpensePage, error) {
			return s.loadExpensePage(ctx, groupID, limit, nil)
		})
		if err != nil {
			return nil, err
		}
		return &page, nil
	}

	after, err := DecodeExpenseCursor(cursor)
	if err != nil {
		return nil, err
	}
	page, err := s.loadExpensePage(ctx, groupID, limit, after)
	if err != nil {
		return nil, err
	}
	return &page, nil
}

func (s *Service) loadExpensePage(ctx context.Context, groupID string, limit int, after *storage.ExpenseCursor) (ExpensePage, error) {
	items, err := s.store.ListExpenses(ctx, groupID, limit+1, after)
	if err != nil {
		return ExpensePage{}, apperr.Persistence(err, "failed to list expenses")
	}

	page := ExpensePage{Items: items}
	if len(items) > limit {
		page.Items = items[:limit]
		last := page.Items[limit-1]
		page.NextCursor = EncodeExpenseCursor(storage.ExpenseCursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}
	if page.Items == nil {
		page.Items = []models.Expense{}
	}
	return page, nil
}

// GetExpense returns one expense of the group.
func (s *Service) GetExpense(ctx context.Context, actor Actor, groupID, expenseID string) (*models.Expense, error) {
	if err := s.Authorize(ctx, actor, groupID); err != nil {
		return nil, err
	}
	expense, err := s.store.GetExpense(ctx, expenseID)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && expense.GroupID != groupID) {
		return nil, apperr.NotFound("expense %s not found", expenseID)
	}
	if err != nil {
		return nil, apperr.Persistence(err, "failed to load expense")
	}
	return expense, nil
}

// EncodeExpenseCursor renders c as "<createdAt RFC3339 ms>|<id>".
func EncodeExpenseCursor(c storage.ExpenseCursor) string {
	return c.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00") + "|" + c.ID
}

// DecodeExpenseCursor parses a cursor produced by EncodeExpenseCursor.
func DecodeExpenseCursor(s string) (*storage.ExpenseCursor, error) {
	at, expenseID, ok := strings.Cut(s, "|")
	if !ok || expenseID == "" {
		return nil, apperr.Validation("malformed cursor %q", s)
	}
	t, err := time.Parse(time.RFC3339Nano, at)
	if err != nil {
		return nil, apperr.Validation("malformed cursor %q: %v", s, err)
	}
	return &storage.ExpenseCursor{CreatedAt: t.UTC(), ID: expenseID}, nil
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultPageSize
	case limit > MaxPageSize:
		return MaxPageSize
	default:
		return limit
	}
}
