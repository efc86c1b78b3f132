package calculator

import (
	"sort"

	"github.com/mmynk/splitledger/internal/apperr"
	"github.com/mmynk/splitledger/internal/models"
)

// ExpenseDeltas derives the zero-sum balance changes of an expense: the payer
// is credited the full total and every split owner is debited their share.
// Deltas for the same user are merged and the result is sorted by user ID.
func ExpenseDeltas(paidByID string, totalCents int64, splits []models.Split) []models.Delta {
	acc := map[string]int64{paidByID: totalCents}
	for _, s := range splits {
		acc[s.UserID] -= s.AmountCents
	}
	return sortedDeltas(acc)
}

// SettlementDeltas derives the balance changes of a settlement: the payer's
// balance improves and the receiver's balance decreases by the same amount.
func SettlementDeltas(fromUserID, toUserID string, amountCents int64) []models.Delta {
	acc := map[string]int64{}
	acc[fromUserID] += amountCents
	acc[toUserID] -= amountCents
	return sortedDeltas(acc)
}

// AddCents returns a+b, or false when the sum does not fit in an int64.
func AddCents(a, b int64) (int64, bool) {
	sum := a + b
	if (b > 0 && sum < a) || (b < 0 && sum > a) {
		return 0, false
	}
	return sum, true
}

// SumDeltas returns the net of a delta set. A self-balancing event sums to
// zero. A sum that overflows is an internal error, never a wrapped value.
func SumDeltas(deltas []models.Delta) (int64, error) {
	var sum int64
	for _, d := range deltas {
		next, ok := AddCents(sum, d.DeltaCents)
		if !ok {
			return 0, apperr.Internal("balance deltas overflow int64")
		}
		sum = next
	}
	return sum, nil
}

// ProjectBalances recomputes member balances from raw expenses and settlements.
// It is the reference the stored projection is reconciled against.
//
// Algorithm:
// - For each expense: payer contributed +total, each split owner owes -amount
// - For each settlement: payer's balance improves, receiver's balance decreases
// - Users netting to zero are still reported if any event moved their balance
func ProjectBalances(groupID string, expenses []models.Expense, settlements []models.Settlement) ([]models.Balance, error) {
	acc := make(map[string]int64)
	apply := func(deltas []models.Delta) error {
		for _, d := range deltas {
			next, ok := AddCents(acc[d.UserID], d.DeltaCents)
			if !ok {
				return apperr.Internal("balance of %s in group %s overflows int64", d.UserID, groupID)
			}
			acc[d.UserID] = next
		}
		return nil
	}
	for _, e := range expenses {
		if err := apply(ExpenseDeltas(e.PaidByID, e.TotalCents, e.Splits)); err != nil {
			return nil, err
		}
	}
	for _, s := range settlements {
		if err := apply(SettlementDeltas(s.FromUserID, s.ToUserID, s.AmountCents)); err != nil {
			return nil, err
		}
	}

	out := make([]models.Balance, 0, len(acc))
	for userID, cents := range acc {
		out = append(out, models.Balance{GroupID: groupID, UserID: userID, BalanceCents: cents})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func sortedDeltas(acc map[string]int64) []models.Delta {
	out := make([]models.Delta, 0, len(acc))
	for userID, cents := range acc {
		if cents == 0 {
			continue
		}
		out = append(out, models.Delta{UserID: userID, DeltaCents: cents})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}
