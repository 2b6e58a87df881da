package audit

import (
	"github.com/go-chi/chi/v5"

	"github.com/proofpulse/evidence-ledger/pkg/authz"
)

// Router serves the audit trail. Reading it requires the operator role.
func Router(store *Store, roles authz.RoleExtractor) chi.Router {
	r := chi.NewRouter()
	r.With(authz.RequireRole(authz.RoleOperator, roles)).Get("/events", ListHandler(store))
	return r
}
