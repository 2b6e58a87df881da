package attest

import (
	"github.com/go-chi/chi/v5"
)

// Router creates the chi.Router for attestations. Mount it under
// /internal/ledger/attestations.
func Router(a *Attestor, v *Verifier) chi.Router {
	r := chi.NewRouter()

	r.Post("/generate", GenerateHandler(a))
	r.Post("/verify", VerifyHandler(v))
	r.Get("/{bundleId}", GetBundleHandler(a))

	return r
}
