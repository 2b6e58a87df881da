package jobs

import (
	"github.com/go-chi/chi/v5"

	"github.com/proofpulse/evidence-ledger/pkg/authz"
)

// Router serves sweep runs. Starting a sweep requires the operator role.
func Router(store *RunStore, sweeper *Sweeper, roles authz.RoleExtractor) chi.Router {
	r := chi.NewRouter()
	r.Get("/", ListRunsHandler(store))
	r.Get("/{runId}", GetRunHandler(store))
	r.With(authz.RequireRole(authz.RoleOperator, roles)).Post("/", TriggerHandler(sweeper))
	return r
}
