package jobs

import (
	"time"
)

// RunState is the lifecycle state of a sweep run.
type RunState string

const (
	RunStateRunning   RunState = "running"
	RunStateSucceeded RunState = "succeeded"
	RunStateFailed    RunState = "failed"
)

// Trigger names what started a run.
type Trigger string

const (
	TriggerSchedule Trigger = "schedule"
	TriggerManual   Trigger = "manual"
)

// SweepRun is one pass of VerifyAll. A succeeded run may still have found
// invalid chains; failed means the sweep itself could not finish.
type SweepRun struct {
	ID            string     `gorm:"primaryKey;column:id;type:varchar(36)" json:"id"`
	Trigger       Trigger    `gorm:"column:trigger_source;type:varchar(16);not null" json:"trigger"`
	RequestedBy   string     `gorm:"column:requested_by;type:varchar(255);not null" json:"requestedBy"`
	State         RunState   `gorm:"column:state;type:varchar(16);not null;index:idx_sweep_state" json:"state"`
	StartedAt     time.Time  `gorm:"column:started_at;not null;precision:6;index:idx_sweep_started" json:"startedAt"`
	FinishedAt    *time.Time `gorm:"column:finished_at;precision:6" json:"finishedAt,omitempty"`
	ChainsChecked int        `gorm:"column:chains_checked" json:"chainsChecked"`
	InvalidChains []string   `gorm:"column:invalid_chains;type:text;serializer:json" json:"invalidChains"`
	LastError     string     `gorm:"column:last_error;type:text" json:"lastError,omitempty"`
	DurationMs    int64      `gorm:"column:duration_ms" json:"durationMs"`
}

// TableName returns the GORM table name.
func (SweepRun) TableName() string { return "verification_sweeps" }

// IsTerminal reports whether the run has finished.
func (r *SweepRun) IsTerminal() bool {
	return r.State == RunStateSucceeded || r.State == RunStateFailed
}
