package service

import (
	"context"
	"log/slog"
	"net"
	"net/http"

	"connectrpc.com/connect"

	"github.com/mmynk/splitledger/internal/ledger"
	"github.com/mmynk/splitledger/internal/middleware"
)

// LedgerService implements the Connect LedgerService over the ledger core.
type LedgerService struct {
	ledger *ledger.Service
}

// NewLedgerService creates a new LedgerService.
func NewLedgerService(l *ledger.Service) *LedgerService {
	return &LedgerService{ledger: l}
}

// NewLedgerServiceHandler builds an HTTP handler serving every LedgerService
// procedure. It returns the path to mount the handler on.
func NewLedgerServiceHandler(svc *LedgerService, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(jsonCodec{})}, opts...)

	mux := http.NewServeMux()
	mux.Handle(CreateExpenseProcedure, connect.NewUnaryHandler(CreateExpenseProcedure, svc.CreateExpense, opts...))
	mux.Handle(RecordSettlementProcedure, connect.NewUnaryHandler(RecordSettlementProcedure, svc.RecordSettlement, opts...))
	mux.Handle(GetBalancesProcedure, connect.NewUnaryHandler(GetBalancesProcedure, svc.GetBalances, opts...))
	mux.Handle(SuggestTransfersProcedure, connect.NewUnaryHandler(SuggestTransfersProcedure, svc.SuggestTransfers, opts...))
	mux.Handle(ListExpensesProcedure, connect.NewUnaryHandler(ListExpensesProcedure, svc.ListExpenses, opts...))
	mux.Handle(ListSettlementsProcedure, connect.NewUnaryHandler(ListSettlementsProcedure, svc.ListSettlements, opts...))
	mux.Handle(ListAuditEntriesProcedure, connect.NewUnaryHandler(ListAuditEntriesProcedure, svc.ListAuditEntries, opts...))
	mux.Handle(VerifyAuditChainProcedure, connect.NewUnaryHandler(VerifyAuditChainProcedure, svc.VerifyAuditChain, opts...))
	mux.Handle(CheckBalancesProcedure, connect.NewUnaryHandler(CheckBalancesProcedure, svc.CheckBalances, opts...))
	return "/" + LedgerServiceName + "/", mux
}

// actorFrom builds the ledger actor from the authenticated context.
func actorFrom(ctx context.Context, h http.Header, peer connect.Peer) ledger.Actor {
	ip := peer.Addr
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	return ledger.Actor{
		UserID:    middleware.GetUserID(ctx),
		IP:        ip,
		UserAgent: h.Get("User-Agent"),
	}
}

// callFrom builds the mutation call for an RPC. The procedure is the route
// shape of the idempotency scope.
func callFrom[T any](ctx context.Context, req *connect.Request[T]) ledger.Call {
	procedure := req.Spec().Procedure
	return ledger.Call{
		Actor:          actorFrom(ctx, req.Header(), req.Peer()),
		IdempotencyKey: req.Header().Get(IdempotencyKeyHeader),
		Method:         http.MethodPost,
		Route:          procedure,
		Path:           procedure,
	}
}

// CreateExpense records an expense.
func (s *LedgerService) CreateExpense(ctx context.Context, req *connect.Request[CreateExpenseRequest]) (*connect.Response[CreateExpenseResponse], error) {
	slog.Info("CreateExpense request received",
		"group_id", req.Msg.GroupID,
		"mode", req.Msg.Mode,
		"total_cents", req.Msg.TotalCents,
	)

	res, err := s.ledger.CreateExpense(ctx, callFrom(ctx, req), req.Msg.GroupID, req.Msg.CreateExpenseInput)
	if err != nil {
		return nil, connectError(err)
	}
	return connect.NewResponse(&CreateExpenseResponse{Result: res}), nil
}

// RecordSettlement records a payment between two members.
func (s *LedgerService) RecordSettlement(ctx context.Context, req *connect.Request[RecordSettlementRequest]) (*connect.Response[RecordSettlementResponse], error) {
	slog.Info("RecordSettlement request received",
		"group_id", req.Msg.GroupID,
		"amount_cents", req.Msg.AmountCents,
	)

	res, err := s.ledger.RecordSettlement(ctx, callFrom(ctx, req), req.Msg.GroupID, req.Msg.RecordSettlementInput)
	if err != nil {
		return nil, connectError(err)
	}
	return connect.NewResponse(&RecordSettlementResponse{Result: res}), nil
}

// GetBalances returns the group's projected balances.
func (s *LedgerService) GetBalances(ctx context.Context, req *connect.Request[GetBalancesRequest]) (*connect.Response[GetBalancesResponse], error) {
	balances, err := s.ledger.GetBalances(ctx, actorFrom(ctx, req.Header(), req.Peer()), req.Msg.GroupID)
	if err != nil {
		return nil, connectError(err)
	}
	return connect.NewResponse(&GetBalancesResponse{Balances: balances}), nil
}

// SuggestTransfers returns the payments that would settle the group.
func (s *LedgerService) SuggestTransfers(ctx context.Context, req *connect.Request[SuggestTransfersRequest]) (*connect.Response[SuggestTransfersResponse], error) {
	transfers, err := s.ledger.SuggestTransfers(ctx, actorFrom(ctx, req.Header(), req.Peer()), req.Msg.GroupID)
	if err != nil {
		return nil, connectError(err)
	}
	return connect.NewResponse(&SuggestTransfersResponse{Transfers: transfers}), nil
}

// ListExpenses returns a page of the group's expenses.
func (s *LedgerService) ListExpenses(ctx context.Context, req *connect.Request[ListExpensesRequest]) (*connect.Response[ListExpensesResponse], error) {
	page, err := s.ledger.ListExpenses(ctx, actorFrom(ctx, req.Header(), req.Peer()), req.Msg.GroupID, req.Msg.Limit, req.Msg.Cursor)
	if err != nil {
		return nil, connectError(err)
	}
	return connect.NewResponse(&ListExpensesResponse{ExpensePage: *page}), nil
}

// ListSettlements returns the group's settlements.
func (s *LedgerService) ListSettlements(ctx context.Context, req *connect.Request[ListSettlementsRequest]) (*connect.Response[ListSettlementsResponse], error) {
	settlements, err := s.ledger.ListSettlements(ctx, actorFrom(ctx, req.Header(), req.Peer()), req.Msg.GroupID)
	if err != nil {
		return nil, connectError(err)
	}
	return connect.NewResponse(&ListSettlementsResponse{Settlements: settlements}), nil
}

// ListAuditEntries returns a page of audit entries.
func (s *LedgerService) ListAuditEntries(ctx context.Context, req *connect.Request[ListAuditEntriesRequest]) (*connect.Response[ListAuditEntriesResponse], error) {
	actor := actorFrom(ctx, req.Header(), req.Peer())
	q := ledger.AuditQuery{GroupID: req.Msg.GroupID, Action: req.Msg.Action}
	if q.GroupID != "" {
		if err := s.ledger.Authorize(ctx, actor, q.GroupID); err != nil {
			return nil, connectError(err)
		}
	} else {
		q.ActorID = actor.UserID
	}

	page, err := s.ledger.ListAuditEntries(ctx, q, req.Msg.Limit, req.Msg.Cursor)
	if err != nil {
		return nil, connectError(err)
	}
	return connect.NewResponse(&ListAuditEntriesResponse{AuditPage: *page}), nil
}

// VerifyAuditChain checks the integrity of the audit log.
func (s *LedgerService) VerifyAuditChain(ctx context.Context, req *connect.Request[VerifyAuditChainRequest]) (*connect.Response[VerifyAuditChainResponse], error) {
	slog.Info("VerifyAuditChain request received", "from_id", req.Msg.FromID)

	res, err := s.ledger.VerifyAuditChain(ctx, req.Msg.FromID)
	if err != nil {
		return nil, connectError(err)
	}
	return connect.NewResponse(&VerifyAuditChainResponse{VerifyResult: *res}), nil
}

// CheckBalances compares a group's projection against its raw history.
func (s *LedgerService) CheckBalances(ctx context.Context, req *connect.Request[CheckBalancesRequest]) (*connect.Response[CheckBalancesResponse], error) {
	if err := s.ledger.Authorize(ctx, actorFrom(ctx, req.Header(), req.Peer()), req.Msg.GroupID); err != nil {
		return nil, connectError(err)
	}

	report, err := s.ledger.CheckBalances(ctx, req.Msg.GroupID)
	if err != nil {
		return nil, connectError(err)
	}
	return connect.NewResponse(&CheckBalancesResponse{ConsistencyReport: *report}), nil
}
