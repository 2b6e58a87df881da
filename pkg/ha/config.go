// Package ha provides the locking primitives that keep the ledger correct
// when several replicas share one database: a migration lock around schema
// changes and pair-scoped chain locks around append and repair.
package ha

import (
	"fmt"
	"os"
	"strings"
)

// ChainLockMode selects how pair-scoped chain locks are taken.
type ChainLockMode string

const (
	// ChainLockAuto uses advisory locks on PostgreSQL and the in-process
	// lock on every other dialect.
	ChainLockAuto ChainLockMode = "auto"
	// ChainLockAdvisory requires PostgreSQL transaction-scoped advisory locks.
	ChainLockAdvisory ChainLockMode = "advisory"
	// ChainLockLocal serializes within this process only. Safe for a single
	// replica.
	ChainLockLocal ChainLockMode = "local"
)

// ParseChainLockMode validates a mode name. The empty string means auto.
func ParseChainLockMode(s string) (ChainLockMode, error) {
	switch m := ChainLockMode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ChainLockAuto, nil
	case ChainLockAuto, ChainLockAdvisory, ChainLockLocal:
		return m, nil
	default:
		return "", fmt.Errorf("unknown chain lock mode %q (want auto, advisory or local)", s)
	}
}

// HAConfig holds configuration for multi-replica safety.
type HAConfig struct {
	// MigrationLockEnabled controls whether AutoMigrate runs under the
	// migration lock. Default: true
	MigrationLockEnabled bool

	// ChainLockMode selects the append/repair lock strategy. Default: auto
	ChainLockMode ChainLockMode

	// Identity names this replica in lock rows and repair markers.
	// Defaults to POD_NAME or the hostname.
	Identity string
}

// DefaultHAConfig returns an HAConfig with sensible defaults.
func DefaultHAConfig() *HAConfig {
	return &HAConfig{
		MigrationLockEnabled: true,
		ChainLockMode:        ChainLockAuto,
		Identity:             defaultIdentity(),
	}
}

func defaultIdentity() string {
	if v := os.Getenv("POD_NAME"); v != "" {
		return v
	}
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		return "unknown"
	}
	return hostname
}
