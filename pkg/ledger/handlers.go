package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/proofpulse/evidence-ledger/pkg/authz"
)

const (
	maxEventBodyBytes = 1 << 20
	defaultPageSize   = 100
	maxPageSize       = 1000
)

// appendResponse is the body returned by POST /events.
type appendResponse struct {
	OK bool `json:"ok"`
	*AppendResult
}

// AppendEventHandler handles POST /events.
func AppendEventHandler(engine *Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxEventBodyBytes))
		dec.DisallowUnknownFields()

		var ev EvidenceEvent
		if err := dec.Decode(&ev); err != nil {
			RespondError(w, &ValidationError{Reason: "malformed request body", Err: err})
			return
		}

		result, err := engine.Append(r.Context(), ev)
		if err != nil {
			RespondError(w, err)
			return
		}
		RespondJSON(w, http.StatusOK, appendResponse{OK: true, AppendResult: result})
	}
}

// GetEventHandler handles GET /events/{eventId}.
func GetEventHandler(engine *Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ev, err := engine.GetEvent(r.Context(), chi.URLParam(r, "eventId"))
		if err != nil {
			RespondError(w, err)
			return
		}
		RespondJSON(w, http.StatusOK, ev)
	}
}

// ListChainsHandler handles GET /chains.
func ListChainsHandler(engine *Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		chains, err := engine.ListChains(r.Context())
		if err != nil {
			RespondError(w, err)
			return
		}
		if chains == nil {
			chains = []ChainSummary{}
		}
		RespondJSON(w, http.StatusOK, map[string]any{"items": chains, "size": len(chains)})
	}
}

// ChainHeadHandler handles GET /chains/head?projectId=&artifactId=.
func ChainHeadHandler(engine *Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID, artifactID, ok := PairParams(w, r)
		if !ok {
			return
		}
		head, err := engine.Head(r.Context(), projectID, artifactID)
		if err != nil {
			RespondError(w, err)
			return
		}
		RespondJSON(w, http.StatusOK, head)
	}
}

// ListChainEventsHandler handles GET /chains/events.
// Query params: projectId, artifactId, pageSize, pageToken
func ListChainEventsHandler(engine *Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID, artifactID, ok := PairParams(w, r)
		if !ok {
			return
		}
		pageSize := defaultPageSize
		if ps := r.URL.Query().Get("pageSize"); ps != "" {
			if v, err := strconv.Atoi(ps); err == nil && v > 0 {
				pageSize = min(v, maxPageSize)
			}
		}

		page, err := engine.ListEvents(r.Context(), projectID, artifactID, pageSize, r.URL.Query().Get("pageToken"))
		if err != nil {
			RespondError(w, err)
			return
		}
		RespondJSON(w, http.StatusOK, page)
	}
}

// VerifyChainHandler handles GET /chains/verify. Every outcome, including
// a missing or broken chain, is a 200 with the report.
func VerifyChainHandler(engine *Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID, artifactID, ok := PairParams(w, r)
		if !ok {
			return
		}
		report, err := engine.Verify(r.Context(), projectID, artifactID)
		if err != nil {
			RespondError(w, err)
			return
		}
		RespondJSON(w, http.StatusOK, report)
	}
}

// RepairChainHandler handles POST /chains/repair.
func RepairChainHandler(engine *Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID, artifactID, ok := PairParams(w, r)
		if !ok {
			return
		}
		result, err := engine.Repair(r.Context(), projectID, artifactID, authz.Actor(r.Context()))
		if err != nil {
			RespondError(w, err)
			return
		}
		RespondJSON(w, http.StatusOK, result)
	}
}

// HealthHandler handles GET /health.
func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		RespondJSON(w, http.StatusOK, map[string]any{"ok": true, "service": "evidence-ledger"})
	}
}

// PairParams reads the required projectId and artifactId query parameters,
// writing a 400 when either is missing.
func PairParams(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	projectID := r.URL.Query().Get("projectId")
	artifactID := r.URL.Query().Get("artifactId")
	if projectID == "" || artifactID == "" {
		RespondError(w, &ValidationError{Reason: "projectId and artifactId query parameters are required"})
		return "", "", false
	}
	return projectID, artifactID, true
}

// RespondJSON writes data as a JSON response.
func RespondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// RespondError maps ledger errors to HTTP statuses and writes
// {"error": code, "message": text} plus any identifying fields.
func RespondError(w http.ResponseWriter, err error) {
	var (
		verr *ValidationError
		cerr *ConflictError
		nerr *NotFoundError
		rerr *RepairError
		serr *StorageFault
	)
	switch {
	case errors.As(err, &verr):
		body := map[string]any{"error": "validation_error", "message": verr.Error()}
		if verr.Field != "" {
			body["field"] = verr.Field
		}
		RespondJSON(w, http.StatusBadRequest, body)
	case errors.As(err, &cerr):
		RespondJSON(w, http.StatusConflict, map[string]any{
			"error":   "conflict",
			"message": cerr.Error(),
			"eventId": cerr.EventID,
		})
	case errors.As(err, &nerr):
		body := map[string]any{"error": "not_found", "message": nerr.Error()}
		if nerr.ProjectID != "" || nerr.ArtifactID != "" {
			body["projectId"] = nerr.ProjectID
			body["artifactId"] = nerr.ArtifactID
		}
		RespondJSON(w, http.StatusNotFound, body)
	case errors.As(err, &rerr):
		RespondJSON(w, http.StatusInternalServerError, map[string]any{
			"error":       "repair_failed",
			"message":     rerr.Error(),
			"failedIndex": rerr.Index,
		})
	case errors.As(err, &serr):
		RespondJSON(w, http.StatusInternalServerError, map[string]any{
			"error":   "storage_fault",
			"message": serr.Error(),
		})
	default:
		RespondJSON(w, http.StatusInternalServerError, map[string]any{
			"error":   "internal_error",
			"message": fmt.Sprintf("%v", err),
		})
	}
}
