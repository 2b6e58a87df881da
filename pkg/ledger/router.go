package ledger

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/proofpulse/evidence-ledger/pkg/authz"
)

// RouterConfig customizes the ledger API router.
type RouterConfig struct {
	// RoleExtractor decides who may repair. Default: authz.HeaderRoleExtractor
	RoleExtractor authz.RoleExtractor

	// AppendMiddleware wraps POST /events, e.g. idempotency replay.
	AppendMiddleware []func(http.Handler) http.Handler
}

// Router creates the chi.Router for the ledger API. Mount it under
// /internal/ledger.
func Router(engine *Engine, cfg RouterConfig) chi.Router {
	r := chi.NewRouter()

	r.Get("/health", HealthHandler())

	r.With(cfg.AppendMiddleware...).Post("/events", AppendEventHandler(engine))
	r.Get("/events/{eventId}", GetEventHandler(engine))

	r.Get("/chains", ListChainsHandler(engine))
	r.Get("/chains/head", ChainHeadHandler(engine))
	r.Get("/chains/events", ListChainEventsHandler(engine))
	r.Get("/chains/verify", VerifyChainHandler(engine))
	r.With(authz.RequireRole(authz.RoleOperator, cfg.RoleExtractor)).
		Post("/chains/repair", RepairChainHandler(engine))

	return r
}
