package ledger

import (
	"context"
	"strings"
	"time"

	"github.com/mmynk/splitledger/internal/apperr"
	"github.com/mmynk/splitledger/internal/audit"
	"github.com/mmynk/splitledger/internal/calculator"
	"github.com/mmynk/splitledger/internal/id"
	"github.com/mmynk/splitledger/internal/models"
	"github.com/mmynk/splitledger/internal/storage"
)

// DefaultCurrency is used for settlements submitted without one.
const DefaultCurrency = "USD"

// RecordSettlementInput describes a payment from one member to another.
type RecordSettlementInput struct {
	FromUserID  string     `json:"fromUserId"`
	ToUserID    string     `json:"toUserId"`
	AmountCents int64      `json:"amountCents"`
	Currency    string     `json:"currency,omitempty"`
	Date        *time.Time `json:"date,omitempty"`
	Note        string     `json:"note,omitempty"`
}

// RecordSettlement records that FromUserID paid ToUserID. The payer's balance
// moves up and the payee's moves down by the amount.
func (s *Service) RecordSettlement(ctx context.Context, call Call, groupID string, in RecordSettlementInput) (*MutationResult, error) {
	in.Currency = strings.ToUpper(strings.TrimSpace(in.Currency))
	if in.Currency == "" {
		in.Currency = DefaultCurrency
	}
	in.Note = strings.TrimSpace(in.Note)

	return s.mutate(ctx, mutation{
		kind:    KindSettlement,
		groupID: groupID,
		call:    call,
		input:   in,
		apply: func(ctx context.Context, tx storage.Tx) (*MutationResult, error) {
			group, err := loadGroup(ctx, tx, groupID, call.Actor.UserID)
			if err != nil {
				return nil, err
			}
			if err := validateSettlement(group, in); err != nil {
				return nil, err
			}

			now := s.timestamp()
			settlement := &models.Settlement{
				ID:          id.NewSettlement(),
				GroupID:     groupID,
				FromUserID:  in.FromUserID,
				ToUserID:    in.ToUserID,
				AmountCents: in.AmountCents,
				Currency:    in.Currency,
				Date:        dateOr(in.Date, now),
				Note:        in.Note,
				CreatedBy:   call.Actor.UserID,
				CreatedAt:   now,
			}
			if err := tx.InsertSettlement(ctx, settlement); err != nil {
				return nil, apperr.Persistence(err, "failed to insert settlement")
			}

			deltas := calculator.SettlementDeltas(settlement.FromUserID, settlement.ToUserID, settlement.AmountCents)
			if err := project(ctx, tx, groupID, deltas); err != nil {
				return nil, err
			}

			entry, err := s.record(ctx, tx, call.Actor, groupID, audit.TargetSettlement, settlement.ID, audit.SettlementRecorded{
				SettlementID: settlement.ID,
				FromUserID:   settlement.FromUserID,
				ToUserID:     settlement.ToUserID,
				AmountCents:  settlement.AmountCents,
				Currency:     settlement.Currency,
				Note:         settlement.Note,
			})
			if err != nil {
				return nil, err
			}

			return &MutationResult{
				Kind:         KindSettlement,
				ID:           settlement.ID,
				GroupID:      groupID,
				Settlement:   settlement,
				Deltas:       deltas,
				AuditEntryID: entry.ID,
			}, nil
		},
	})
}

func validateSettlement(group *models.Group, in RecordSettlementInput) error {
	if in.AmountCents <= 0 {
		return apperr.Validation("amountCents must be positive")
	}
	if in.AmountCents > calculator.MaxAmountCents {
		return apperr.Validation("amountCents exceeds the maximum of %d", calculator.MaxAmountCents)
	}
	if err := validateCurrency(in.Currency); err != nil {
		return err
	}
	if len(in.Note) > maxNoteLength {
		return apperr.Validation("note must be at most %d characters", maxNoteLength)
	}
	if in.FromUserID == "" || in.ToUserID == "" {
		return apperr.Validation("fromUserId and toUserId are required")
	}
	if in.FromUserID == in.ToUserID {
		return apperr.Validation("cannot settle with yourself")
	}
	for _, u := range []string{in.FromUserID, in.ToUserID} {
		if !group.HasMember(u) {
			return apperr.Validation("user %s is not a member of the group", u)
		}
	}
	return nil
}

// ListSettlements returns every settlement of the group, oldest first.
func (s *Service) ListSettlements(ctx context.Context, actor Actor, groupID string) ([]models.Settlement, error) {
	if err := s.Authorize(ctx, actor, groupID); err != nil {
		return nil, err
	}
	settlements, err := s.store.ListSettlements(ctx, groupID)
	if err != nil {
		return nil, apperr.Persistence(err, "failed to list settlements")
	}
	if settlements == nil {
		settlements = []models.Settlement{}
	}
	return settlements, nil
}
