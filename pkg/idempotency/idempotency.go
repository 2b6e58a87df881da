// Package idempotency replays stored responses for retried writes that
// carry an Idempotency-Key header.
package idempotency

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/opencontainers/go-digest"

	"github.com/proofpulse/evidence-ledger/pkg/cache"
)

const (
	// Header carries the client-chosen key.
	Header = "Idempotency-Key"
	// ReplayHeader is set to "true" on replayed responses.
	ReplayHeader = "Idempotent-Replay"

	maxKeyLength = 255

	// DefaultMaxBodyBytes matches the append handler's body limit.
	DefaultMaxBodyBytes = 1 << 20
)

// Config controls the middleware.
type Config struct {
	// Enabled turns replay on. Default: true
	Enabled bool

	// Required rejects writes without a key. Default: false
	Required bool

	// TTL is how long a response stays replayable. Default: 300s
	TTL time.Duration

	// MaxEntries bounds the number of remembered keys. Default: 4096
	MaxEntries int

	// MaxBodyBytes bounds the request body read for fingerprinting.
	// Zero means DefaultMaxBodyBytes.
	MaxBodyBytes int64
}

// DefaultConfig returns the default middleware configuration.
func DefaultConfig() *Config {
	return &Config{
		Enabled:    true,
		TTL:          300 * time.Second,
		MaxEntries:   4096,
		MaxBodyBytes: DefaultMaxBodyBytes,
	}
}

type storedResponse struct {
	Fingerprint string `json:"fingerprint"`
	Status      int    `json:"status"`
	ContentType string `json:"contentType"`
	Body        []byte `json:"body"`
}

// captureWriter records the status and body written by the wrapped handler.
type captureWriter struct {
	http.ResponseWriter
	statusCode int
	body       bytes.Buffer
	written    bool
}

func (w *captureWriter) WriteHeader(code int) {
	if !w.written {
		w.statusCode = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *captureWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.statusCode = http.StatusOK
		w.written = true
	}
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

// Middleware returns handler middleware for cfg. Only 2xx responses are
// remembered, so a failed write can be retried under the same key. Reusing
// a key with a different request body is answered with 422.
func Middleware(cfg *Config, logger *slog.Logger) func(http.Handler) http.Handler {
	if cfg == nil || !cfg.Enabled {
		return func(next http.Handler) http.Handler { return next }
	}
	if logger == nil {
		logger = slog.Default()
	}
	store := cache.NewLRUCache(cfg.MaxEntries, cfg.TTL)
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(Header)
			if key == "" {
				if cfg.Required {
					writeError(w, http.StatusBadRequest, "validation_error", Header+" header is required")
					return
				}
				next.ServeHTTP(w, r)
				return
			}
			if len(key) > maxKeyLength {
				writeError(w, http.StatusBadRequest, "validation_error", Header+" header is too long")
				return
			}

			body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
			if err != nil {
				var tooLarge *http.MaxBytesError
				if errors.As(err, &tooLarge) {
					writeError(w, http.StatusRequestEntityTooLarge, "request_too_large",
						fmt.Sprintf("request body exceeds %d bytes", maxBody))
					return
				}
				writeError(w, http.StatusBadRequest, "validation_error", "could not read request body")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
			fingerprint := digest.FromBytes(body).String()
			cacheKey := "idem:" + r.Method + " " + r.URL.Path + " " + key

			if raw, ok := store.Get(cacheKey); ok {
				var prev storedResponse
				if err := json.Unmarshal(raw, &prev); err == nil {
					if prev.Fingerprint != fingerprint {
						writeError(w, http.StatusUnprocessableEntity, "idempotency_key_reused",
							"idempotency key was already used with a different request body")
						return
					}
					logger.Debug("replaying idempotent response", "key", key, "status", prev.Status)
					if prev.ContentType != "" {
						w.Header().Set("Content-Type", prev.ContentType)
					}
					w.Header().Set(ReplayHeader, "true")
					w.WriteHeader(prev.Status)
					_, _ = w.Write(prev.Body)
					return
				}
				store.Invalidate(cacheKey)
			}

			cw := &captureWriter{ResponseWriter: w}
			next.ServeHTTP(cw, r)

			if cw.statusCode < 200 || cw.statusCode > 299 {
				return
			}
			raw, err := json.Marshal(storedResponse{
				Fingerprint: fingerprint,
				Status:      cw.statusCode,
				ContentType: cw.Header().Get("Content-Type"),
				Body:        cw.body.Bytes(),
			})
			if err != nil {
				logger.Warn("could not store idempotent response", "key", key, "error", err)
				return
			}
			store.Set(cacheKey, raw)
		})
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code, "message": message})
}
