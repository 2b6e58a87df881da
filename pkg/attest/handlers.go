package attest

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/proofpulse/evidence-ledger/pkg/ledger"
)

const maxBundleBytes = 1 << 20

// GenerateHandler handles POST /attestations/generate.
func GenerateHandler(a *Attestor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID, artifactID, ok := ledger.PairParams(w, r)
		if !ok {
			return
		}
		out, err := a.GenerateAndStore(r.Context(), projectID, artifactID, r.URL.Query().Get("issuer"))
		if err != nil {
			RespondError(w, err)
			return
		}
		ledger.RespondJSON(w, http.StatusOK, out)
	}
}

// GetBundleHandler handles GET /attestations/{bundleId}. The stored
// canonical JSON is returned unchanged.
func GetBundleHandler(a *Attestor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := a.Get(r.Context(), chi.URLParam(r, "bundleId"))
		if err != nil {
			RespondError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	}
}

// VerifyHandler handles POST /attestations/verify: 200 when the bundle
// holds, 409 when any check fails.
func VerifyHandler(v *Verifier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBundleBytes))
		if err != nil {
			RespondError(w, &ledger.ValidationError{Reason: "could not read request body", Err: err})
			return
		}
		bundle, err := DecodeBundle(body)
		if err != nil {
			RespondError(w, err)
			return
		}
		res, err := v.Verify(r.Context(), bundle)
		if err != nil {
			RespondError(w, err)
			return
		}
		status := http.StatusOK
		if !res.OK {
			status = http.StatusConflict
		}
		ledger.RespondJSON(w, status, res)
	}
}

// RespondError maps attestation errors, deferring the rest to
// ledger.RespondError.
func RespondError(w http.ResponseWriter, err error) {
	var (
		cerr *CryptoError
		ierr *InvalidChainError
	)
	switch {
	case errors.As(err, &cerr):
		ledger.RespondJSON(w, http.StatusBadRequest, map[string]any{
			"ok":      false,
			"error":   "crypto_error",
			"message": cerr.Error(),
		})
	case errors.As(err, &ierr):
		ledger.RespondJSON(w, http.StatusConflict, map[string]any{
			"error":        "chain_invalid",
			"message":      ierr.Error(),
			"verification": ierr.Report,
		})
	default:
		ledger.RespondError(w, err)
	}
}
