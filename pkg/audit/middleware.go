package audit

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/proofpulse/evidence-ledger/pkg/authz"
)

// Middleware records repair and attestation-generation requests after the
// handler completes. Writes are best effort: a failed audit write is logged
// and never fails the request.
func Middleware(store *Store, cfg *Config, roles authz.RoleExtractor, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if roles == nil {
		roles = authz.HeaderRoleExtractor
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg == nil || !cfg.Enabled || store == nil {
				next.ServeHTTP(w, r)
				return
			}
			action := actionFor(r.Method, r.URL.Path)
			if action == "" {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			outcome := outcomeFromStatus(status)
			if outcome == "denied" && !cfg.LogDenied {
				return
			}

			ctx := r.Context()
			q := r.URL.Query()
			rec := &Record{
				ID:         uuid.NewString(),
				Action:     action,
				Actor:      authz.Actor(ctx),
				Role:       string(roles(r)),
				ProjectID:  truncate(q.Get("projectId"), 64),
				ArtifactID: truncate(q.Get("artifactId"), 128),
				Outcome:    outcome,
				StatusCode: status,
				RequestID:  middleware.GetReqID(ctx),
				Method:     r.Method,
				Path:       truncate(r.URL.Path, 255),
				DurationMs: time.Since(start).Milliseconds(),
				CreatedAt:  start.UTC(),
			}
			// The request context may already be cancelled by a disconnect.
			if err := store.Append(context.WithoutCancel(ctx), rec); err != nil {
				logger.Error("failed to write audit record", "error", err, "action", action, "requestID", rec.RequestID)
			}
		})
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
