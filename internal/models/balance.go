package models

// Balance is the projected running balance of one member in one group.
// Positive = owed money, negative = owes money.
type Balance struct {
	GroupID      string `json:"groupId"`
	UserID       string `json:"userId"`
	BalanceCents int64  `json:"balanceCents"`
}

// Delta is a signed change to one member's balance.
type Delta struct {
	UserID     string `json:"userId"`
	DeltaCents int64  `json:"deltaCents"`
}

// Transfer is a suggested payment that moves money from a debtor to a creditor.
type Transfer struct {
	FromUserID  string `json:"fromUserId"`
	ToUserID    string `json:"toUserId"`
	AmountCents int64  `json:"amountCents"`
}
