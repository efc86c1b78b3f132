/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the REST router (chi), its middleware stack and routes. The
  serve command mounts the Connect LedgerService and /metrics on the same
  router, so both APIs share the middleware stack and the ledger core.

MIDDLEWARE STACK:
  1. Recoverer:    Panic recovery (500 instead of crash)
  2. RequestID:    UUID correlation ID, echoed as X-Request-ID
  3. AccessLog:    slog access log
  4. CORS:         Cross-origin requests for browser clients
  5. Authenticate: Bearer JWT, sets the actor (all /api routes)

ROUTES:
  POST /api/groups/{groupID}/expenses               Create expense (Idempotency-Key)
  GET  /api/groups/{groupID}/expenses               List expenses (limit, cursor)
  GET  /api/groups/{groupID}/expenses/{expenseID}   Get expense
  POST /api/groups/{groupID}/settlements            Record settlement (Idempotency-Key)
  GET  /api/groups/{groupID}/settlements            List settlements
  GET  /api/groups/{groupID}/settlements/suggest    Suggested transfers
  GET  /api/groups/{groupID}/balances               Balances
  GET  /api/groups/{groupID}/balances/check         Projection consistency check
  GET  /api/groups/{groupID}/activity               Group audit entries
  GET  /api/audit                                   Caller's own audit entries
  GET  /api/audit/verify                            Audit chain verification

IDEMPOTENCY:
  The scope of an Idempotency-Key is the caller plus the matched route
  pattern, e.g. "user:u1|path:POST /api/groups/{groupID}/expenses".
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/mmynk/splitledger/internal/auth"
	"github.com/mmynk/splitledger/internal/middleware"
)

// RouterOptions configures NewRouter.
type RouterOptions struct {
	// AllowedOrigins for CORS. Empty allows any origin without credentials.
	AllowedOrigins []string
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, jwtManager *auth.JWTManager, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.AccessLog)

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", "X-Request-ID", "Connect-Protocol-Version", "Connect-Timeout-Ms"},
		ExposedHeaders:   []string{"X-Request-ID", "Idempotent-Replayed", "Connect-Protocol-Version"},
		AllowCredentials: len(opts.AllowedOrigins) > 0,
		MaxAge:           300,
	}))

	r.Get("/healthz", h.Health)

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Authenticate(jwtManager))

		r.Route("/groups/{groupID}", func(r chi.Router) {
			r.Route("/expenses", func(r chi.Router) {
				r.Get("/", h.ListExpenses)
				r.Post("/", h.CreateExpense)
				r.Get("/{expenseID}", h.GetExpense)
			})

			r.Route("/settlements", func(r chi.Router) {
				r.Get("/", h.ListSettlements)
				r.Post("/", h.RecordSettlement)
				r.Get("/suggest", h.SuggestTransfers)
			})

			r.Get("/balances", h.GetBalances)
			r.Get("/balances/check", h.CheckBalances)
			r.Get("/activity", h.ListGroupActivity)
		})

		r.Route("/audit", func(r chi.Router) {
			r.Get("/", h.ListOwnAudit)
			r.Get("/verify", h.VerifyAuditChain)
		})
	})

	return r
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
