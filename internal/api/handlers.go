package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/mmynk/splitledger/internal/apperr"
	"github.com/mmynk/splitledger/internal/ledger"
	"github.com/mmynk/splitledger/internal/middleware"
)

// maxBodyBytes bounds mutation request bodies.
const maxBodyBytes = 1 << 20

// Handler holds the HTTP handlers of the REST API.
type Handler struct {
	ledger *ledger.Service
}

// NewHandler creates a new Handler over the ledger core.
func NewHandler(l *ledger.Service) *Handler {
	return &Handler{ledger: l}
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	RequestID string `json:"requestId,omitempty"`
}

// =============================================================================
// MUTATIONS
// =============================================================================

// CreateExpense handles POST /api/groups/{groupID}/expenses.
func (h *Handler) CreateExpense(w http.ResponseWriter, r *http.Request) {
	var in ledger.CreateExpenseInput
	if !decodeBody(w, r, &in) {
		return
	}

	res, err := h.ledger.CreateExpense(r.Context(), callFrom(r), chi.URLParam(r, "groupID"), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeMutation(w, res)
}

// RecordSettlement handles POST /api/groups/{groupID}/settlements.
func (h *Handler) RecordSettlement(w http.ResponseWriter, r *http.Request) {
	var in ledger.RecordSettlementInput
	if !decodeBody(w, r, &in) {
		return
	}

	res, err := h.ledger.RecordSettlement(r.Context(), callFrom(r), chi.URLParam(r, "groupID"), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeMutation(w, res)
}

func writeMutation(w http.ResponseWriter, res *ledger.MutationResult) {
	if res.Replayed {
		w.Header().Set("Idempotent-Replayed", "true")
	}
	writeJSON(w, http.StatusCreated, res)
}

// =============================================================================
// READS
// =============================================================================

// ListExpenses handles GET /api/groups/{groupID}/expenses?limit=&cursor=.
func (h *Handler) ListExpenses(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}
	page, err := h.ledger.ListExpenses(r.Context(), actorFrom(r), chi.URLParam(r, "groupID"), limit, r.URL.Query().Get("cursor"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// GetExpense handles GET /api/groups/{groupID}/expenses/{expenseID}.
func (h *Handler) GetExpense(w http.ResponseWriter, r *http.Request) {
	expense, err := h.ledger.GetExpense(r.Context(), actorFrom(r), chi.URLParam(r, "groupID"), chi.URLParam(r, "expenseID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, expense)
}

// ListSettlements handles GET /api/groups/{groupID}/settlements.
func (h *Handler) ListSettlements(w http.ResponseWriter, r *http.Request) {
	settlements, err := h.ledger.ListSettlements(r.Context(), actorFrom(r), chi.URLParam(r, "groupID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": settlements})
}

// SuggestTransfers handles GET /api/groups/{groupID}/settlements/suggest.
func (h *Handler) SuggestTransfers(w http.ResponseWriter, r *http.Request) {
	transfers, err := h.ledger.SuggestTransfers(r.Context(), actorFrom(r), chi.URLParam(r, "groupID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transfers": transfers})
}

// GetBalances handles GET /api/groups/{groupID}/balances.
func (h *Handler) GetBalances(w http.ResponseWriter, r *http.Request) {
	balances, err := h.ledger.GetBalances(r.Context(), actorFrom(r), chi.URLParam(r, "groupID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"balances": balances})
}

// CheckBalances handles GET /api/groups/{groupID}/balances/check.
func (h *Handler) CheckBalances(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupID")
	if err := h.ledger.Authorize(r.Context(), actorFrom(r), groupID); err != nil {
		writeError(w, r, err)
		return
	}
	report, err := h.ledger.CheckBalances(r.Context(), groupID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// ListGroupActivity handles GET /api/groups/{groupID}/activity?action=&limit=&cursor=.
func (h *Handler) ListGroupActivity(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupID")
	if err := h.ledger.Authorize(r.Context(), actorFrom(r), groupID); err != nil {
		writeError(w, r, err)
		return
	}
	h.listAudit(w, r, ledger.AuditQuery{GroupID: groupID, Action: r.URL.Query().Get("action")})
}

// ListOwnAudit handles GET /api/audit?action=&limit=&cursor=. Callers only
// see their own actions.
func (h *Handler) ListOwnAudit(w http.ResponseWriter, r *http.Request) {
	h.listAudit(w, r, ledger.AuditQuery{ActorID: middleware.GetUserID(r.Context()), Action: r.URL.Query().Get("action")})
}

func (h *Handler) listAudit(w http.ResponseWriter, r *http.Request, q ledger.AuditQuery) {
	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}
	page, err := h.ledger.ListAuditEntries(r.Context(), q, limit, r.URL.Query().Get("cursor"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// VerifyAuditChain handles GET /api/audit/verify?fromId=.
func (h *Handler) VerifyAuditChain(w http.ResponseWriter, r *http.Request) {
	res, err := h.ledger.VerifyAuditChain(r.Context(), r.URL.Query().Get("fromId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// =============================================================================
// HELPERS
// =============================================================================

func actorFrom(r *http.Request) ledger.Actor {
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	return ledger.Actor{
		UserID:    middleware.GetUserID(r.Context()),
		IP:        ip,
		UserAgent: r.UserAgent(),
	}
}

// callFrom builds the mutation call. The chi route pattern is the route
// shape of the idempotency scope.
func callFrom(r *http.Request) ledger.Call {
	route := r.URL.Path
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			route = pattern
		}
	}
	return ledger.Call{
		Actor:          actorFrom(r),
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
		Method:         r.Method,
		Route:          route,
		Path:           r.URL.Path,
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, r, apperr.Validation("invalid request body: %v", err))
		return false
	}
	return true
}

func queryLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil {
		writeError(w, r, apperr.Validation("limit must be an integer"))
		return 0, false
	}
	return limit, true
}

// statusFor maps an error kind to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, context.Canceled):
		return 499
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindForbidden:
		return http.StatusForbidden
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindProcessing:
		return http.StatusTooEarly
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	resp := ErrorResponse{
		Error:     apperr.KindOf(err).String(),
		Message:   err.Error(),
		RequestID: middleware.GetRequestID(r.Context()),
	}
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "path", r.URL.Path, "request_id", resp.RequestID, "error", err)
		resp.Message = "internal error"
	}
	if status == http.StatusTooEarly {
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Warn("failed to write response", "error", err)
	}
}
