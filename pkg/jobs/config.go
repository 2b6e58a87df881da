// Package jobs runs scheduled integrity sweeps: every interval it verifies
// every chain and records the outcome as a sweep run.
package jobs

import (
	"time"

	"github.com/proofpulse/evidence-ledger/pkg/ledger"
)

// Config controls sweep scheduling.
type Config struct {
	Enabled       bool          // Whether scheduled sweeps run. Default true.
	Interval      time.Duration // Time between scheduled sweeps. Default 1h.
	Concurrency   int           // Chains verified in parallel. Default 8.
	RetentionDays int           // How long to keep finished runs. Default 30.
}

// DefaultConfig returns the default sweep configuration.
func DefaultConfig() *Config {
	return &Config{
		Enabled:       true,
		Interval:      time.Hour,
		Concurrency:   ledger.DefaultVerifyAllConcurrency,
		RetentionDays: 30,
	}
}
