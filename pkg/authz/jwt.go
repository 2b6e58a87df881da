package authz

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// JWTRoleExtractorConfig configures role extraction from bearer tokens.
type JWTRoleExtractorConfig struct {
	// RoleClaim is a dot-separated claim path, e.g. "realm_access.roles".
	// Default: "role"
	RoleClaim string

	// OperatorValue is the claim value (or array member) granting operator.
	// Default: "operator"
	OperatorValue string

	// PublicKeyPath is a PEM RSA public key for RS256 verification. When
	// empty, tokens are decoded without verification and a trusted proxy
	// must have validated them.
	PublicKeyPath string

	// Issuer and Audience are checked when non-empty.
	Issuer   string
	Audience string

	Logger *slog.Logger
}

type jwtRoleExtractor struct {
	cfg    JWTRoleExtractorConfig
	key    *rsa.PublicKey
	parser *jwt.Parser
}

// NewJWTRoleExtractor returns a RoleExtractor reading "Authorization: Bearer".
// Missing, invalid or expired tokens yield RoleViewer.
func NewJWTRoleExtractor(cfg JWTRoleExtractorConfig) (RoleExtractor, error) {
	if cfg.RoleClaim == "" {
		cfg.RoleClaim = "role"
	}
	if cfg.OperatorValue == "" {
		cfg.OperatorValue = string(RoleOperator)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	var opts []jwt.ParserOption
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	x := &jwtRoleExtractor{cfg: cfg, parser: jwt.NewParser(opts...)}

	if cfg.PublicKeyPath != "" {
		key, err := loadRSAPublicKey(cfg.PublicKeyPath)
		if err != nil {
			return nil, err
		}
		x.key = key
		cfg.Logger.Info("jwt roles: verifying RS256 signatures", "keyPath", cfg.PublicKeyPath)
	} else {
		cfg.Logger.Warn("jwt roles: no public key configured, tokens are not verified")
	}
	return x.role, nil
}

func loadRSAPublicKey(path string) (*rsa.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read jwt public key %s: %w", path, err)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM block in %s", path)
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse jwt public key: %w", err)
	}
	key, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("jwt public key is %T, want RSA", parsed)
	}
	return key, nil
}

func (x *jwtRoleExtractor) role(r *http.Request) Role {
	raw := bearerToken(r)
	if raw == "" {
		return RoleViewer
	}
	claims, err := x.claims(raw)
	if err != nil {
		x.cfg.Logger.Debug("jwt rejected, treating caller as viewer", "error", err)
		return RoleViewer
	}
	return roleFromClaims(claims, x.cfg.RoleClaim, x.cfg.OperatorValue)
}

func (x *jwtRoleExtractor) claims(raw string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	if x.key == nil {
		if _, _, err := x.parser.ParseUnverified(raw, claims); err != nil {
			return nil, err
		}
		return claims, nil
	}
	_, err := x.parser.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return x.key, nil
	})
	if err != nil {
		return nil, err
	}
	return claims, nil
}

func bearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// roleFromClaims follows path through nested claim objects. A string claim
// must equal operatorValue; an array claim must contain it.
func roleFromClaims(claims jwt.MapClaims, path, operatorValue string) Role {
	var cur any = map[string]any(claims)
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return RoleViewer
		}
		if cur, ok = m[part]; !ok {
			return RoleViewer
		}
	}

	switch v := cur.(type) {
	case string:
		if strings.EqualFold(v, operatorValue) {
			return RoleOperator
		}
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && strings.EqualFold(s, operatorValue) {
				return RoleOperator
			}
		}
	}
	return RoleViewer
}
