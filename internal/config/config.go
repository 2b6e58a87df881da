// Package config loads ledger-server settings from flags, LEDGER_*
// environment variables and an optional YAML file.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/proofpulse/evidence-ledger/internal/db"
	"github.com/proofpulse/evidence-ledger/pkg/attest"
	"github.com/proofpulse/evidence-ledger/pkg/audit"
	"github.com/proofpulse/evidence-ledger/pkg/authz"
	"github.com/proofpulse/evidence-ledger/pkg/blobstore"
	"github.com/proofpulse/evidence-ledger/pkg/cache"
	"github.com/proofpulse/evidence-ledger/pkg/ha"
	"github.com/proofpulse/evidence-ledger/pkg/idempotency"
	"github.com/proofpulse/evidence-ledger/pkg/jobs"
)

// EnvPrefix prefixes every environment variable, e.g. LEDGER_DB_DSN.
const EnvPrefix = "LEDGER"

// legacyEnv maps settings to the variable names older deployments use.
var legacyEnv = map[string]string{
	"attest-private-key-b64": "PP_ATTEST_PRIVATE_KEY_B64",
	"attest-public-key-b64":  "PP_ATTEST_PUBLIC_KEY_B64",
	"s3-bucket":              "PP_S3_BUCKET",
	"s3-endpoint":            "PP_S3_ENDPOINT",
	"s3-presign-minutes":     "PP_S3_PRESIGN_MINUTES",
	"db-dsn":                 "DATABASE_URL",
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string
	Format string
}

// Config is the complete server configuration.
type Config struct {
	Listen      string
	Log         LogConfig
	DB          *db.Config
	Issuer      string
	Keys        attest.KeyConfig
	Auth        *authz.Config
	Blob        *blobstore.Config
	Cache       *cache.CacheConfig
	HA          *ha.HAConfig
	Idempotency *idempotency.Config
	Audit       *audit.Config
	Sweep       *jobs.Config
}

// RegisterFlags defines every setting on fs with its default.
func RegisterFlags(fs *pflag.FlagSet) {
	dbDefaults := db.DefaultConfig()
	blobDefaults := blobstore.DefaultConfig()
	cacheDefaults := cache.DefaultCacheConfig()
	haDefaults := ha.DefaultHAConfig()
	idemDefaults := idempotency.DefaultConfig()
	auditDefaults := audit.DefaultConfig()
	sweepDefaults := jobs.DefaultConfig()

	fs.String("config", "", "Path to a YAML config file")
	fs.String("listen", ":8080", "Address to listen on")
	fs.String("log-level", "info", "Log level: debug, info, warn, error")
	fs.String("log-format", "text", "Log format: text or json")

	fs.String("db-type", dbDefaults.Type, "Database type: sqlite, postgres or mysql")
	fs.String("db-dsn", dbDefaults.DSN, "Database connection string")
	fs.Int("db-max-open-conns", dbDefaults.MaxOpenConns, "Connection pool size (postgres and mysql)")

	fs.String("issuer", attest.DefaultIssuer, "Default attestation issuer")
	fs.String("key-dir", "", "Directory holding attest_ed25519.pem; created on first start")
	fs.String("attest-private-key-b64", "", "Base64 PKCS#8 Ed25519 private key")
	fs.String("attest-public-key-b64", "", "Base64 X.509 SPKI Ed25519 public key")

	fs.String("auth-mode", string(authz.ModeHeader), "Role source: header, jwt or none")
	fs.String("jwt-role-claim", "role", "JWT claim path holding the role")
	fs.String("jwt-operator-value", "operator", "Claim value that grants the operator role")
	fs.String("jwt-public-key-path", "", "PEM RSA public key for verifying JWTs")
	fs.String("jwt-issuer", "", "Required JWT issuer")
	fs.String("jwt-audience", "", "Required JWT audience")

	fs.String("blob-backend", "", "Bundle store: local or s3 (default: s3 when a bucket is set)")
	fs.String("blob-dir", blobDefaults.Dir, "Local bundle store directory")
	fs.String("s3-bucket", "", "S3 bucket for bundles")
	fs.String("s3-prefix", blobDefaults.Prefix, "S3 key prefix")
	fs.String("s3-endpoint", "", "S3-compatible endpoint URL")
	fs.String("s3-region", blobDefaults.Region, "S3 region")
	fs.Int("s3-presign-minutes", blobDefaults.PresignMinutes, "Lifetime of presigned download URLs")

	fs.Bool("cache-enabled", cacheDefaults.Enabled, "Cache bundle reads")
	fs.Duration("cache-ttl", cacheDefaults.TTL, "Bundle cache TTL")
	fs.Int("cache-max-size", cacheDefaults.MaxSize, "Bundle cache entries")

	fs.Bool("migration-lock-enabled", haDefaults.MigrationLockEnabled, "Run migrations under the migration lock")
	fs.String("chain-lock-mode", string(haDefaults.ChainLockMode), "Chain lock: auto, advisory or local")

	fs.Bool("idempotency-enabled", idemDefaults.Enabled, "Replay responses for repeated Idempotency-Key values")
	fs.Bool("idempotency-required", idemDefaults.Required, "Reject appends without an Idempotency-Key")
	fs.Duration("idempotency-ttl", idemDefaults.TTL, "How long an Idempotency-Key is remembered")

	fs.Bool("audit-enabled", auditDefaults.Enabled, "Record repair and attestation requests")
	fs.Bool("audit-log-denied", auditDefaults.LogDenied, "Also record requests denied with 403")
	fs.Int("audit-retention-days", auditDefaults.RetentionDays, "Days of audit records to keep (0 keeps all)")

	fs.Bool("sweep-enabled", sweepDefaults.Enabled, "Verify every chain on a schedule")
	fs.Duration("sweep-interval", sweepDefaults.Interval, "Time between integrity sweeps")
	fs.Int("sweep-concurrency", sweepDefaults.Concurrency, "Chains verified in parallel during a sweep")
	fs.Int("sweep-retention-days", sweepDefaults.RetentionDays, "Days of sweep runs to keep (0 keeps all)")
}

// Load resolves settings with precedence flag > environment > file >
// default.
func Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(fs); err != nil {
		return nil, fmt.Errorf("bind flags: %w", err)
	}
	for key, legacy := range legacyEnv {
		primary := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, "-", "_"))
		if err := v.BindEnv(key, primary, legacy); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	lockMode, err := ha.ParseChainLockMode(v.GetString("chain-lock-mode"))
	if err != nil {
		return nil, err
	}
	haCfg := ha.DefaultHAConfig()
	haCfg.MigrationLockEnabled = v.GetBool("migration-lock-enabled")
	haCfg.ChainLockMode = lockMode

	cfg := &Config{
		Listen: v.GetString("listen"),
		Log: LogConfig{
			Level:  v.GetString("log-level"),
			Format: v.GetString("log-format"),
		},
		DB: &db.Config{
			Type:          v.GetString("db-type"),
			DSN:           v.GetString("db-dsn"),
			MaxOpenConns:  v.GetInt("db-max-open-conns"),
			SlowThreshold: db.DefaultConfig().SlowThreshold,
		},
		Issuer: v.GetString("issuer"),
		Keys: attest.KeyConfig{
			PrivateKeyB64: v.GetString("attest-private-key-b64"),
			PublicKeyB64:  v.GetString("attest-public-key-b64"),
			Dir:           v.GetString("key-dir"),
		},
		Auth: &authz.Config{
			Mode: authz.Mode(v.GetString("auth-mode")),
			JWT: authz.JWTRoleExtractorConfig{
				RoleClaim:     v.GetString("jwt-role-claim"),
				OperatorValue: v.GetString("jwt-operator-value"),
				PublicKeyPath: v.GetString("jwt-public-key-path"),
				Issuer:        v.GetString("jwt-issuer"),
				Audience:      v.GetString("jwt-audience"),
			},
		},
		Blob: &blobstore.Config{
			Backend:        blobstore.Backend(v.GetString("blob-backend")),
			Dir:            v.GetString("blob-dir"),
			Bucket:         v.GetString("s3-bucket"),
			Prefix:         v.GetString("s3-prefix"),
			Region:         v.GetString("s3-region"),
			Endpoint:       v.GetString("s3-endpoint"),
			PresignMinutes: v.GetInt("s3-presign-minutes"),
		},
		Cache: &cache.CacheConfig{
			Enabled: v.GetBool("cache-enabled"),
			TTL:     v.GetDuration("cache-ttl"),
			MaxSize: v.GetInt("cache-max-size"),
		},
		HA: haCfg,
		Idempotency: &idempotency.Config{
			Enabled:    v.GetBool("idempotency-enabled"),
			Required:   v.GetBool("idempotency-required"),
			TTL:          v.GetDuration("idempotency-ttl"),
			MaxEntries:   idempotency.DefaultConfig().MaxEntries,
			MaxBodyBytes: idempotency.DefaultMaxBodyBytes,
		},
		Audit: &audit.Config{
			Enabled:       v.GetBool("audit-enabled"),
			LogDenied:     v.GetBool("audit-log-denied"),
			RetentionDays: v.GetInt("audit-retention-days"),
		},
		Sweep: &jobs.Config{
			Enabled:       v.GetBool("sweep-enabled"),
			Interval:      v.GetDuration("sweep-interval"),
			Concurrency:   v.GetInt("sweep-concurrency"),
			RetentionDays: v.GetInt("sweep-retention-days"),
		},
	}
	return cfg, nil
}

// NewLogger builds the slog logger described by cfg.
func NewLogger(cfg LogConfig, w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	opts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(cfg.Format) {
	case "text", "":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("invalid log format %q (want text or json)", cfg.Format)
	}
}

// ShutdownTimeout bounds graceful shutdown.
const ShutdownTimeout = 30 * time.Second
