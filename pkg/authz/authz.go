// Package authz guards the ledger's administrative endpoints. Callers carry
// a role (viewer or operator) and an identity; repair requires operator.
package authz

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// Role is a caller's access level.
type Role string

const (
	// RoleViewer may append, read, verify and attest.
	RoleViewer Role = "viewer"
	// RoleOperator may additionally repair chains.
	RoleOperator Role = "operator"
)

// Request headers read by the default extractors. They are meant to be set
// by a trusted proxy in front of the service.
const (
	RoleHeader = "X-User-Role"
	UserHeader = "X-Remote-User"
)

// RoleExtractor derives the caller's role from a request.
type RoleExtractor func(r *http.Request) Role

// HeaderRoleExtractor reads X-User-Role. Anything but "operator" is a viewer.
func HeaderRoleExtractor(r *http.Request) Role {
	if strings.EqualFold(strings.TrimSpace(r.Header.Get(RoleHeader)), string(RoleOperator)) {
		return RoleOperator
	}
	return RoleViewer
}

// AllowAllRoleExtractor grants operator to every caller. Development only.
func AllowAllRoleExtractor(*http.Request) Role { return RoleOperator }

// RequireRole rejects callers below role with 403.
func RequireRole(role Role, extractor RoleExtractor) func(http.Handler) http.Handler {
	if extractor == nil {
		extractor = HeaderRoleExtractor
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !satisfies(extractor(r), role) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				_ = json.NewEncoder(w).Encode(map[string]string{
					"error":   "forbidden",
					"message": fmt.Sprintf("role %s required", role),
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func satisfies(have, want Role) bool {
	switch want {
	case RoleViewer:
		return true
	case RoleOperator:
		return have == RoleOperator
	default:
		return false
	}
}

type identityKey struct{}

// Identity is the caller named by the upstream proxy.
type Identity struct {
	User string
}

// WithIdentity attaches id to ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext returns the identity stored by IdentityMiddleware.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

// Actor names the caller for audit fields such as repairedBy.
func Actor(ctx context.Context) string {
	if id, ok := IdentityFromContext(ctx); ok && id.User != "" {
		return id.User
	}
	return "anonymous"
}

// IdentityMiddleware stores the X-Remote-User caller in the request context.
func IdentityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := strings.TrimSpace(r.Header.Get(UserHeader))
		if user == "" {
			user = "anonymous"
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), Identity{User: user})))
	})
}

// Mode selects the role extractor.
type Mode string

const (
	ModeHeader Mode = "header"
	ModeJWT    Mode = "jwt"
	ModeNone   Mode = "none"
)

// Config selects and configures role extraction.
type Config struct {
	// Mode is header, jwt or none. Default: header
	Mode Mode
	JWT  JWTRoleExtractorConfig
}

// DefaultConfig returns header-based role extraction.
func DefaultConfig() *Config {
	return &Config{Mode: ModeHeader}
}

// NewRoleExtractor builds the extractor selected by cfg.
func NewRoleExtractor(cfg *Config) (RoleExtractor, error) {
	switch Mode(strings.ToLower(string(cfg.Mode))) {
	case ModeHeader, "":
		return HeaderRoleExtractor, nil
	case ModeJWT:
		return NewJWTRoleExtractor(cfg.JWT)
	case ModeNone:
		return AllowAllRoleExtractor, nil
	default:
		return nil, fmt.Errorf("unknown auth mode %q (want header, jwt or none)", cfg.Mode)
	}
}
