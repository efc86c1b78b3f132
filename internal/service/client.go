package service

import (
	"context"
	"strings"

	"connectrpc.com/connect"
)

// LedgerServiceClient calls a remote LedgerService.
type LedgerServiceClient struct {
	createExpense    *connect.Client[CreateExpenseRequest, CreateExpenseResponse]
	recordSettlement *connect.Client[RecordSettlementRequest, RecordSettlementResponse]
	getBalances      *connect.Client[GetBalancesRequest, GetBalancesResponse]
	suggestTransfers *connect.Client[SuggestTransfersRequest, SuggestTransfersResponse]
	listExpenses     *connect.Client[ListExpensesRequest, ListExpensesResponse]
	listSettlements  *connect.Client[ListSettlementsRequest, ListSettlementsResponse]
	listAuditEntries *connect.Client[ListAuditEntriesRequest, ListAuditEntriesResponse]
	verifyAuditChain *connect.Client[VerifyAuditChainRequest, VerifyAuditChainResponse]
	checkBalances    *connect.Client[CheckBalancesRequest, CheckBalancesResponse]
}

// NewLedgerServiceClient constructs a client for the LedgerService at baseURL
// (e.g., http://localhost:8080).
func NewLedgerServiceClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *LedgerServiceClient {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = append([]connect.ClientOption{connect.WithCodec(jsonCodec{})}, opts...)
	return &LedgerServiceClient{
		createExpense:    connect.NewClient[CreateExpenseRequest, CreateExpenseResponse](httpClient, baseURL+CreateExpenseProcedure, opts...),
		recordSettlement: connect.NewClient[RecordSettlementRequest, RecordSettlementResponse](httpClient, baseURL+RecordSettlementProcedure, opts...),
		getBalances:      connect.NewClient[GetBalancesRequest, GetBalancesResponse](httpClient, baseURL+GetBalancesProcedure, opts...),
		suggestTransfers: connect.NewClient[SuggestTransfersRequest, SuggestTransfersResponse](httpClient, baseURL+SuggestTransfersProcedure, opts...),
		listExpenses:     connect.NewClient[ListExpensesRequest, ListExpensesResponse](httpClient, baseURL+ListExpensesProcedure, opts...),
		listSettlements:  connect.NewClient[ListSettlementsRequest, ListSettlementsResponse](httpClient, baseURL+ListSettlementsProcedure, opts...),
		listAuditEntries: connect.NewClient[ListAuditEntriesRequest, ListAuditEntriesResponse](httpClient, baseURL+ListAuditEntriesProcedure, opts...),
		verifyAuditChain: connect.NewClient[VerifyAuditChainRequest, VerifyAuditChainResponse](httpClient, baseURL+VerifyAuditChainProcedure, opts...),
		checkBalances:    connect.NewClient[CheckBalancesRequest, CheckBalancesResponse](httpClient, baseURL+CheckBalancesProcedure, opts...),
	}
}

func (c *LedgerServiceClient) CreateExpense(ctx context.Context, req *connect.Request[CreateExpenseRequest]) (*connect.Response[CreateExpenseResponse], error) {
	return c.createExpense.CallUnary(ctx, req)
}

func (c *LedgerServiceClient) RecordSettlement(ctx context.Context, req *connect.Request[RecordSettlementRequest]) (*connect.Response[RecordSettlementResponse], error) {
	return c.recordSettlement.CallUnary(ctx, req)
}

func (c *LedgerServiceClient) GetBalances(ctx context.Context, req *connect.Request[GetBalancesRequest]) (*connect.Response[GetBalancesResponse], error) {
	return c.getBalances.CallUnary(ctx, req)
}

func (c *LedgerServiceClient) SuggestTransfers(ctx context.Context, req *connect.Request[SuggestTransfersRequest]) (*connect.Response[SuggestTransfersResponse], error) {
	return c.suggestTransfers.CallUnary(ctx, req)
}

func (c *LedgerServiceClient) ListExpenses(ctx context.Context, req *connect.Request[ListExpensesRequest]) (*connect.Response[ListExpensesResponse], error) {
	return c.listExpenses.CallUnary(ctx, req)
}

func (c *LedgerServiceClient) ListSettlements(ctx context.Context, req *connect.Request[ListSettlementsRequest]) (*connect.Response[ListSettlementsResponse], error) {
	return c.listSettlements.CallUnary(ctx, req)
}

func (c *LedgerServiceClient) ListAuditEntries(ctx context.Context, req *connect.Request[ListAuditEntriesRequest]) (*connect.Response[ListAuditEntriesResponse], error) {
	return c.listAuditEntries.CallUnary(ctx, req)
}

func (c *LedgerServiceClient) VerifyAuditChain(ctx context.Context, req *connect.Request[VerifyAuditChainRequest]) (*connect.Response[VerifyAuditChainResponse], error) {
	return c.verifyAuditChain.CallUnary(ctx, req)
}

func (c *LedgerServiceClient) CheckBalances(ctx context.Context, req *connect.Request[CheckBalancesRequest]) (*connect.Response[CheckBalancesResponse], error) {
	return c.checkBalances.CallUnary(ctx, req)
}
