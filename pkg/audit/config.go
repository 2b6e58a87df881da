package audit

// Config controls the operator audit trail.
type Config struct {
	Enabled       bool // Whether the audit middleware records actions
	LogDenied     bool // Whether to record denied (403) attempts
	RetentionDays int  // Default 90; 0 keeps records forever
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Enabled:       true,
		LogDenied:     true,
		RetentionDays: 90,
	}
}
