package models

import "time"

// Settlement represents a payment between group members to clear debts.
type Settlement struct {
	// ID is the unique identifier for the settlement ("stl_" prefix).
	ID string `json:"id"`

	// GroupID is the group this settlement belongs to.
	GroupID string `json:"groupId"`

	// FromUserID is the user who paid (debtor settling up).
	// Their balance moves up by AmountCents.
	FromUserID string `json:"fromUserId"`

	// ToUserID is the user who received payment (creditor being paid).
	// Their balance moves down by AmountCents.
	ToUserID string `json:"toUserId"`

	// AmountCents is the payment amount in minor units.
	AmountCents int64 `json:"amountCents"`

	// Currency is the ISO currency code, "USD" when not supplied.
	Currency string `json:"currency"`

	// Date is when the payment happened, as reported by the caller.
	Date time.Time `json:"date"`

	// Note is an optional description for the settlement.
	Note string `json:"note,omitempty"`

	// CreatedBy is the user ID who recorded this settlement.
	CreatedBy string `json:"createdBy"`

	// CreatedAt is when the settlement was committed.
	CreatedAt time.Time `json:"createdAt"`
}
