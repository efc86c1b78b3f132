package calculator

import (
	"github.com/shopspring/decimal"

	"github.com/mmynk/splitledger/internal/apperr"
	"github.com/mmynk/splitledger/internal/models"
)

var hundred = decimal.NewFromInt(100)

// MaxAmountCents is the largest amount accepted anywhere in the ledger. It is
// the largest integer a JSON number carries exactly, and it leaves int64
// headroom for percent splits that round to 100 from above.
const MaxAmountCents int64 = 1<<53 - 1

// Participant is one beneficiary of a split together with the allocation
// input its rule needs. Only the field matching the mode is read.
type Participant struct {
	UserID string

	// AmountCents is the caller-supplied share for SplitExact.
	AmountCents int64

	// Percent is the share for SplitPercent (e.g. "33.33").
	Percent decimal.Decimal

	// Shares is the integer weight for SplitShares.
	Shares int64
}

// ComputeSplit divides totalCents among participants according to mode.
//
// The returned splits are in participant order and always sum to totalCents.
// Identical inputs always produce identical outputs. Invalid input is reported
// as an apperr validation error.
func ComputeSplit(totalCents int64, mode models.SplitMode, participants []Participant) ([]models.Split, error) {
	if totalCents < 0 {
		return nil, apperr.Validation("total cannot be negative")
	}
	if totalCents > MaxAmountCents {
		return nil, apperr.Validation("total exceeds the maximum of %d cents", MaxAmountCents)
	}
	if len(participants) == 0 {
		return nil, apperr.Validation("must have at least one participant")
	}
	seen := make(map[string]bool, len(participants))
	for _, p := range participants {
		if p.UserID == "" {
			return nil, apperr.Validation("participant user id is required")
		}
		if seen[p.UserID] {
			return nil, apperr.Validation("participant %q listed more than once", p.UserID)
		}
		seen[p.UserID] = true
	}

	switch mode {
	case models.SplitEqual:
		return equalSplit(totalCents, participants), nil
	case models.SplitExact:
		return exactSplit(totalCents, participants)
	case models.SplitPercent:
		return percentSplit(totalCents, participants)
	case models.SplitShares:
		return sharesSplit(totalCents, participants)
	default:
		return nil, apperr.Validation("unknown split mode %q", mode)
	}
}

// equalSplit gives everyone floor(total/n) and one extra cent to each of the
// first total%n participants.
func equalSplit(totalCents int64, participants []Participant) []models.Split {
	n := int64(len(participants))
	base := totalCents / n
	remainder := totalCents - base*n

	out := make([]models.Split, len(participants))
	for i, p := range participants {
		amount := base
		if int64(i) < remainder {
			amount++
		}
		out[i] = models.Split{UserID: p.UserID, AmountCents: amount}
	}
	return out
}

func exactSplit(totalCents int64, participants []Participant) ([]models.Split, error) {
	out := make([]models.Split, len(participants))
	var sum int64
	for i, p := range participants {
		if p.AmountCents < 0 {
			return nil, apperr.Validation("amount for %q cannot be negative", p.UserID)
		}
		if p.AmountCents > totalCents-sum {
			return nil, apperr.Validation("exact amounts exceed the total of %d", totalCents)
		}
		sum += p.AmountCents
		out[i] = models.Split{UserID: p.UserID, AmountCents: p.AmountCents}
	}
	if sum != totalCents {
		return nil, apperr.Validation("exact amounts sum to %d, expected %d", sum, totalCents)
	}
	return out, nil
}

func percentSplit(totalCents int64, participants []Participant) ([]models.Split, error) {
	totalPercent := decimal.Zero
	for _, p := range participants {
		if p.Percent.IsNegative() {
			return nil, apperr.Validation("percent for %q cannot be negative", p.UserID)
		}
		totalPercent = totalPercent.Add(p.Percent)
	}
	// Tolerate rounding drift such as 99.999 or 100.001.
	if !totalPercent.Round(0).Equal(hundred) {
		return nil, apperr.Validation("percentages sum to %s, expected 100", totalPercent.String())
	}

	total := decimal.NewFromInt(totalCents)
	out := make([]models.Split, len(participants))
	for i, p := range participants {
		q, _ := total.Mul(p.Percent).QuoRem(hundred, 0)
		out[i] = models.Split{UserID: p.UserID, AmountCents: q.IntPart()}
	}
	distributeLeftover(out, totalCents)
	return out, nil
}

func sharesSplit(totalCents int64, participants []Participant) ([]models.Split, error) {
	// Weights are summed in decimal; their int64 sum can wrap.
	totalShares := decimal.Zero
	for _, p := range participants {
		if p.Shares < 0 {
			return nil, apperr.Validation("shares for %q cannot be negative", p.UserID)
		}
		totalShares = totalShares.Add(decimal.NewFromInt(p.Shares))
	}
	if !totalShares.IsPositive() {
		return nil, apperr.Validation("total shares must be positive")
	}

	total := decimal.NewFromInt(totalCents)
	divisor := totalShares
	out := make([]models.Split, len(participants))
	for i, p := range participants {
		q, _ := total.Mul(decimal.NewFromInt(p.Shares)).QuoRem(divisor, 0)
		out[i] = models.Split{UserID: p.UserID, AmountCents: q.IntPart()}
	}
	distributeLeftover(out, totalCents)
	return out, nil
}

// distributeLeftover hands out the cents lost to flooring one per index, in
// order, wrapping around until exhausted. Percentages that round to 100 but
// exceed it can over-allocate; the excess is taken back the same way from
// non-zero shares. Whole wrap-around rounds are applied at once, so the cost
// does not depend on the size of the leftover.
func distributeLeftover(out []models.Split, totalCents int64) {
	var allocated int64
	for _, s := range out {
		allocated += s.AmountCents
	}

	if remainder := totalCents - allocated; remainder > 0 {
		n := int64(len(out))
		rounds, extra := remainder/n, remainder%n
		for i := range out {
			out[i].AmountCents += rounds
			if int64(i) < extra {
				out[i].AmountCents++
			}
		}
		return
	}

	// Each pass either finishes or empties at least one share.
	excess := allocated - totalCents
	for excess > 0 {
		var positive []int
		minAmount := int64(0)
		for i, s := range out {
			if s.AmountCents > 0 {
				if len(positive) == 0 || s.AmountCents < minAmount {
					minAmount = s.AmountCents
				}
				positive = append(positive, i)
			}
		}
		k := int64(len(positive))
		if rounds := min(excess/k, minAmount); rounds > 0 {
			for _, i := range positive {
				out[i].AmountCents -= rounds
			}
			excess -= rounds * k
			continue
		}
		for _, i := range positive[:excess] {
			out[i].AmountCents--
		}
		excess = 0
	}
}
