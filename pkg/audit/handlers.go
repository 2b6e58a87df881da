package audit

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
)

// ListHandler handles GET /audit/events.
// Query params: action, actor, projectId, artifactId, pageSize, pageToken
func ListHandler(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		filter := Filter{
			Action:     q.Get("action"),
			Actor:      q.Get("actor"),
			ProjectID:  q.Get("projectId"),
			ArtifactID: q.Get("artifactId"),
		}
		pageSize := 0
		if ps := q.Get("pageSize"); ps != "" {
			v, err := strconv.Atoi(ps)
			if err != nil || v <= 0 {
				writeError(w, http.StatusBadRequest, "validation_error", "pageSize must be a positive integer")
				return
			}
			pageSize = v
		}

		records, next, total, err := store.List(r.Context(), filter, pageSize, q.Get("pageToken"))
		if errors.Is(err, ErrInvalidPageToken) {
			writeError(w, http.StatusBadRequest, "validation_error", err.Error())
			return
		}
		if err != nil {
			slog.Error("list audit records failed", "error", err)
			writeError(w, http.StatusInternalServerError, "storage_fault", "failed to list audit records")
			return
		}
		if records == nil {
			records = []Record{}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"items":         records,
			"nextPageToken": next,
			"totalSize":     total,
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": code, "message": message})
}
