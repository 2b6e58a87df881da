// Package server assembles the ledger HTTP API.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/proofpulse/evidence-ledger/pkg/attest"
	"github.com/proofpulse/evidence-ledger/pkg/audit"
	"github.com/proofpulse/evidence-ledger/pkg/authz"
	"github.com/proofpulse/evidence-ledger/pkg/idempotency"
	"github.com/proofpulse/evidence-ledger/pkg/jobs"
	"github.com/proofpulse/evidence-ledger/pkg/ledger"
)

// BasePath is where the ledger API is mounted.
const BasePath = "/internal/ledger"

// Server wires the ledger engine and attestation service to HTTP.
type Server struct {
	engine        *ledger.Engine
	attestor      *attest.Attestor
	verifier      *attest.Verifier
	roleExtractor authz.RoleExtractor
	idempotency   *idempotency.Config
	auditStore    *audit.Store
	auditConfig   *audit.Config
	sweepStore    *jobs.RunStore
	sweeper       *jobs.Sweeper
	logger        *slog.Logger
	startedAt     time.Time
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithAttestation enables the /attestations routes.
func WithAttestation(a *attest.Attestor, v *attest.Verifier) ServerOption {
	return func(s *Server) {
		s.attestor = a
		s.verifier = v
	}
}

// WithRoleExtractor sets how the operator role is determined.
func WithRoleExtractor(extractor authz.RoleExtractor) ServerOption {
	return func(s *Server) { s.roleExtractor = extractor }
}

// WithIdempotency configures Idempotency-Key replay on appends.
func WithIdempotency(cfg *idempotency.Config) ServerOption {
	return func(s *Server) { s.idempotency = cfg }
}

// WithAudit records operator actions and serves them under /audit.
func WithAudit(store *audit.Store, cfg *audit.Config) ServerOption {
	return func(s *Server) {
		s.auditStore = store
		s.auditConfig = cfg
	}
}

// WithSweeps serves integrity sweep runs under /sweeps.
func WithSweeps(store *jobs.RunStore, sweeper *jobs.Sweeper) ServerOption {
	return func(s *Server) {
		s.sweepStore = store
		s.sweeper = sweeper
	}
}

// NewServer creates a Server for engine.
func NewServer(engine *ledger.Engine, logger *slog.Logger, opts ...ServerOption) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		engine:        engine,
		roleExtractor: authz.HeaderRoleExtractor,
		idempotency:   idempotency.DefaultConfig(),
		logger:        logger,
		startedAt:     time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes builds the router.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(accessLog(s.logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", idempotency.Header, authz.RoleHeader, authz.UserHeader},
		ExposedHeaders:   []string{idempotency.ReplayHeader},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(authz.IdentityMiddleware)

	r.Get("/healthz", s.healthHandler)
	r.Get("/livez", s.healthHandler)
	r.Get("/readyz", s.readyHandler)

	api := ledger.Router(s.engine, ledger.RouterConfig{
		RoleExtractor:    s.roleExtractor,
		AppendMiddleware: []func(http.Handler) http.Handler{idempotency.Middleware(s.idempotency, s.logger)},
	})
	if s.attestor != nil && s.verifier != nil {
		api.Mount("/attestations", attest.Router(s.attestor, s.verifier))
	}
	if s.sweepStore != nil && s.sweeper != nil {
		api.Mount("/sweeps", jobs.Router(s.sweepStore, s.sweeper, s.roleExtractor))
	}
	if s.auditStore == nil {
		r.Mount(BasePath, api)
		return r
	}
	api.Mount("/audit", audit.Router(s.auditStore, s.roleExtractor))
	r.Mount(BasePath, audit.Middleware(s.auditStore, s.auditConfig, s.roleExtractor, s.logger)(api))

	return r
}

// healthHandler reports liveness.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "alive",
		"uptime": time.Since(s.startedAt).Round(time.Second).String(),
	})
}

// readyHandler reports readiness, which requires the database.
func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	dbStatus := map[string]string{"status": "up"}
	ready := true
	if err := s.engine.Ping(r.Context()); err != nil {
		dbStatus["status"] = "down"
		dbStatus["error"] = err.Error()
		ready = false
	}

	attestStatus := map[string]string{"status": "not_configured"}
	if s.attestor != nil {
		attestStatus["status"] = "up"
		attestStatus["publicKeyB64"] = s.attestor.PublicKeyBase64()
	}

	status, code := "ready", http.StatusOK
	if !ready {
		status, code = "not_ready", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status": status,
		"components": map[string]any{
			"database":    dbStatus,
			"attestation": attestStatus,
		},
	})
}

func accessLog(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Debug("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"requestId", middleware.GetReqID(r.Context()))
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
