package calculator

import (
	"sort"

	"github.com/mmynk/splitledger/internal/models"
)

type position struct {
	userID string
	amount int64
}

// SuggestTransfers proposes payments that bring every balance to zero.
//
// Debtors (negative balances) and creditors (positive balances) are each sorted
// by user ID ascending, then matched greedily: the current debtor pays the
// current creditor min(owed, due), and whichever side reaches zero advances.
// For n non-zero participants at most n-1 transfers are produced.
//
// The input must sum to zero; any surplus on one side is left unmatched.
func SuggestTransfers(balances []models.Balance) []models.Transfer {
	var debtors, creditors []position
	for _, b := range balances {
		switch {
		case b.BalanceCents < 0:
			debtors = append(debtors, position{userID: b.UserID, amount: -b.BalanceCents})
		case b.BalanceCents > 0:
			creditors = append(creditors, position{userID: b.UserID, amount: b.BalanceCents})
		}
	}
	sort.SliceStable(debtors, func(i, j int) bool { return debtors[i].userID < debtors[j].userID })
	sort.SliceStable(creditors, func(i, j int) bool { return creditors[i].userID < creditors[j].userID })

	transfers := make([]models.Transfer, 0)
	i, j := 0, 0
	for i < len(debtors) && j < len(creditors) {
		pay := min(debtors[i].amount, creditors[j].amount)
		transfers = append(transfers, models.Transfer{
			FromUserID:  debtors[i].userID,
			ToUserID:    creditors[j].userID,
			AmountCents: pay,
		})
		debtors[i].amount -= pay
		creditors[j].amount -= pay

		if debtors[i].amount == 0 {
			i++
		}
		if creditors[j].amount == 0 {
			j++
		}
	}
	return transfers
}
