package jobs

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/proofpulse/evidence-ledger/pkg/authz"
	"github.com/proofpulse/evidence-ledger/pkg/ledger"
)

// ListRunsHandler handles GET /sweeps.
// Query params: pageSize, pageToken
func ListRunsHandler(store *RunStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pageSize := 0
		if ps := r.URL.Query().Get("pageSize"); ps != "" {
			v, err := strconv.Atoi(ps)
			if err != nil || v <= 0 {
				ledger.RespondError(w, &ledger.ValidationError{Field: "pageSize", Reason: "must be a positive integer"})
				return
			}
			pageSize = v
		}

		runs, next, err := store.List(r.Context(), pageSize, r.URL.Query().Get("pageToken"))
		if errors.Is(err, ErrInvalidPageToken) {
			ledger.RespondError(w, &ledger.ValidationError{Field: "pageToken", Reason: "malformed page token", Err: err})
			return
		}
		if err != nil {
			ledger.RespondError(w, &ledger.StorageFault{Op: "list sweep runs", Err: err})
			return
		}
		if runs == nil {
			runs = []SweepRun{}
		}
		ledger.RespondJSON(w, http.StatusOK, map[string]any{
			"items":         runs,
			"nextPageToken": next,
			"size":          len(runs),
		})
	}
}

// GetRunHandler handles GET /sweeps/{runId}.
func GetRunHandler(store *RunStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "runId")
		run, err := store.Get(r.Context(), id)
		if err != nil {
			ledger.RespondError(w, &ledger.StorageFault{Op: "get sweep run", Err: err})
			return
		}
		if run == nil {
			ledger.RespondError(w, &ledger.NotFoundError{Resource: "sweep run", ID: id})
			return
		}
		ledger.RespondJSON(w, http.StatusOK, run)
	}
}

// TriggerHandler handles POST /sweeps. It starts a sweep and answers 202
// with the running run, or 409 when one is already in progress.
func TriggerHandler(sweeper *Sweeper) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		run, err := sweeper.Trigger(r.Context(), authz.Actor(r.Context()))
		if errors.Is(err, ErrSweepRunning) {
			ledger.RespondJSON(w, http.StatusConflict, map[string]any{
				"error":   "sweep_running",
				"message": err.Error(),
			})
			return
		}
		if err != nil {
			ledger.RespondError(w, &ledger.StorageFault{Op: "start sweep", Err: err})
			return
		}
		ledger.RespondJSON(w, http.StatusAccepted, run)
	}
}
