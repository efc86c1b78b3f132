package models

import "time"

// SplitMode selects the allocation rule used to divide an expense.
type SplitMode string

const (
	// SplitEqual divides the total evenly; leftover cents go to the first beneficiaries.
	SplitEqual SplitMode = "equal"
	// SplitExact takes caller-supplied amounts that must sum to the total.
	SplitExact SplitMode = "exact"
	// SplitPercent takes per-user percentages that must round to 100.
	SplitPercent SplitMode = "percent"
	// SplitShares takes integer weights.
	SplitShares SplitMode = "shares"
)

// Valid reports whether m is a known split mode.
func (m SplitMode) Valid() bool {
	switch m {
	case SplitEqual, SplitExact, SplitPercent, SplitShares:
		return true
	}
	return false
}

// Expense represents a payment by one member on behalf of the group.
type Expense struct {
	// ID is the unique identifier for the expense ("exp_" prefix).
	ID string `json:"id"`

	// GroupID is the group this expense belongs to.
	GroupID string `json:"groupId"`

	// PaidByID is the member who paid the full amount.
	PaidByID string `json:"paidById"`

	// TotalCents is the full amount paid, in minor units.
	TotalCents int64 `json:"totalCents"`

	// Currency is the ISO currency code.
	Currency string `json:"currency"`

	// Mode is the allocation rule the splits were computed with.
	Mode SplitMode `json:"mode"`

	// Splits are the per-beneficiary shares. They always sum to TotalCents.
	Splits []Split `json:"splits"`

	// Date is when the expense happened, as reported by the caller.
	Date time.Time `json:"date"`

	// Note is an optional description (e.g., "Groceries").
	Note string `json:"note,omitempty"`

	// CreatedBy is the user ID who submitted the expense.
	CreatedBy string `json:"createdBy"`

	// CreatedAt is when the expense was committed.
	CreatedAt time.Time `json:"createdAt"`
}

// Split is one beneficiary's share of an expense.
type Split struct {
	UserID      string `json:"userId"`
	AmountCents int64  `json:"amountCents"`
}
