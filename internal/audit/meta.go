package audit

import "github.com/mmynk/splitledger/internal/models"

// Action names a mutating operation recorded in the log.
type Action string

const (
	ActionExpenseCreated     Action = "expense.create"
	ActionSettlementRecorded Action = "settlement.create"
	ActionGroupCreated       Action = "group.create"
)

// Target types.
const (
	TargetExpense    = "expense"
	TargetSettlement = "settlement"
	TargetGroup      = "group"
)

// Meta is the typed metadata of one action. Each action has exactly one
// meta type, so entries of the same action always share a shape.
type Meta interface {
	Action() Action
}

// ExpenseCreated is recorded when an expense commits.
type ExpenseCreated struct {
	ExpenseID  string           `json:"expenseId"`
	PaidByID   string           `json:"paidById"`
	TotalCents int64            `json:"totalCents"`
	Currency   string           `json:"currency"`
	Mode       models.SplitMode `json:"mode"`
	Splits     []models.Split   `json:"splits"`
	Note       string           `json:"note,omitempty"`
}

func (ExpenseCreated) Action() Action { return ActionExpenseCreated }

// SettlementRecorded is recorded when a settlement commits.
type SettlementRecorded struct {
	SettlementID string `json:"settlementId"`
	FromUserID   string `json:"fromUserId"`
	ToUserID     string `json:"toUserId"`
	AmountCents  int64  `json:"amountCents"`
	Currency     string `json:"currency"`
	Note         string `json:"note,omitempty"`
}

func (SettlementRecorded) Action() Action { return ActionSettlementRecorded }

// GroupCreated is recorded when the operator tooling creates a group.
type GroupCreated struct {
	Name    string   `json:"name"`
	Members []string `json:"members"`
}

func (GroupCreated) Action() Action { return ActionGroupCreated }
