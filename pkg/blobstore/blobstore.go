// Package blobstore persists generated attestation bundles. A Store is a
// flat key/value space; keys are restricted to [A-Za-z0-9._-] so they are
// safe as file names and object key suffixes.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"
)

// ErrNotFound is returned by Get for a key that was never stored.
var ErrNotFound = errors.New("blob not found")

var keyPattern = regexp.MustCompile(`^[A-Za-z0-9._-]{1,200}$`)

// Store is the capability the attestation service needs from storage.
type Store interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Exists(ctx context.Context, key string) (bool, error)
}

// Presigner is implemented by stores that can hand out time-limited
// download URLs.
type Presigner interface {
	PresignGet(ctx context.Context, key string) (url string, ttl time.Duration, err error)
}

// ValidateKey rejects keys outside the allowed alphabet, including any
// path separators and "..".
func ValidateKey(key string) error {
	if !keyPattern.MatchString(key) || key == "." || key == ".." {
		return fmt.Errorf("invalid blob key %q", key)
	}
	return nil
}

// Backend names a Store implementation.
type Backend string

const (
	BackendLocal Backend = "local"
	BackendS3    Backend = "s3"
)

// Config selects and configures the bundle store.
type Config struct {
	// Backend is local or s3. An empty backend with a bucket set means s3.
	Backend Backend

	// Dir is the local store directory. Default: "data/attestations"
	Dir string

	// S3 settings. Endpoint is for S3-compatible services (MinIO,
	// LocalStack) and switches to path-style addressing.
	Bucket         string
	Prefix         string
	Region         string
	Endpoint       string
	PresignMinutes int
}

// DefaultConfig returns a local store configuration.
func DefaultConfig() *Config {
	return &Config{
		Dir:            "data/attestations",
		Prefix:         "attestations/",
		Region:         "us-east-1",
		PresignMinutes: 15,
	}
}

// New builds the Store selected by cfg.
func New(cfg *Config) (Store, error) {
	backend := cfg.Backend
	if backend == "" {
		backend = BackendLocal
		if cfg.Bucket != "" {
			backend = BackendS3
		}
	}
	switch backend {
	case BackendLocal:
		return NewLocalStore(cfg.Dir)
	case BackendS3:
		return NewS3Store(cfg)
	default:
		return nil, fmt.Errorf("unknown blob backend %q (want local or s3)", backend)
	}
}
