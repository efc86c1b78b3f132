package service

import (
	"github.com/mmynk/splitledger/internal/audit"
	"github.com/mmynk/splitledger/internal/ledger"
	"github.com/mmynk/splitledger/internal/models"
)

// LedgerService procedure names.
const (
	LedgerServiceName = "splitledger.v1.LedgerService"

	CreateExpenseProcedure    = "/" + LedgerServiceName + "/CreateExpense"
	RecordSettlementProcedure = "/" + LedgerServiceName + "/RecordSettlement"
	GetBalancesProcedure      = "/" + LedgerServiceName + "/GetBalances"
	SuggestTransfersProcedure = "/" + LedgerServiceName + "/SuggestTransfers"
	ListExpensesProcedure     = "/" + LedgerServiceName + "/ListExpenses"
	ListSettlementsProcedure  = "/" + LedgerServiceName + "/ListSettlements"
	ListAuditEntriesProcedure = "/" + LedgerServiceName + "/ListAuditEntries"
	VerifyAuditChainProcedure = "/" + LedgerServiceName + "/VerifyAuditChain"
	CheckBalancesProcedure    = "/" + LedgerServiceName + "/CheckBalances"
)

// IdempotencyKeyHeader is the request header carrying the idempotency key.
const IdempotencyKeyHeader = "Idempotency-Key"

type CreateExpenseRequest struct {
	GroupID string `json:"groupId"`
	ledger.CreateExpenseInput
}

type CreateExpenseResponse struct {
	Result *ledger.MutationResult `json:"result"`
}

type RecordSettlementRequest struct {
	GroupID string `json:"groupId"`
	ledger.RecordSettlementInput
}

type RecordSettlementResponse struct {
	Result *ledger.MutationResult `json:"result"`
}

type GetBalancesRequest struct {
	GroupID string `json:"groupId"`
}

type GetBalancesResponse struct {
	Balances []models.Balance `json:"balances"`
}

type SuggestTransfersRequest struct {
	GroupID string `json:"groupId"`
}

type SuggestTransfersResponse struct {
	Transfers []models.Transfer `json:"transfers"`
}

type ListExpensesRequest struct {
	GroupID string `json:"groupId"`
	Limit   int    `json:"limit,omitempty"`
	Cursor  string `json:"cursor,omitempty"`
}

type ListExpensesResponse struct {
	ledger.ExpensePage
}

type ListSettlementsRequest struct {
	GroupID string `json:"groupId"`
}

type ListSettlementsResponse struct {
	Settlements []models.Settlement `json:"settlements"`
}

// ListAuditEntriesRequest selects audit entries. Without a group the caller
// only sees their own actions.
type ListAuditEntriesRequest struct {
	GroupID string `json:"groupId,omitempty"`
	Action  string `json:"action,omitempty"`
	Limit   int    `json:"limit,omitempty"`
	Cursor  string `json:"cursor,omitempty"`
}

type ListAuditEntriesResponse struct {
	ledger.AuditPage
}

type VerifyAuditChainRequest struct {
	FromID string `json:"fromId,omitempty"`
}

type VerifyAuditChainResponse struct {
	audit.VerifyResult
}

type CheckBalancesRequest struct {
	GroupID string `json:"groupId"`
}

type CheckBalancesResponse struct {
	ledger.ConsistencyReport
}
