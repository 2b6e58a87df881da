package audit

import "time"

// Record is one audited operator action. Records are append-only apart
// from retention cleanup.
type Record struct {
	ID         string    `gorm:"primaryKey;column:id;type:varchar(36)" json:"id"`
	Action     string    `gorm:"column:action;type:varchar(64);not null;index:idx_audit_action_time,priority:1" json:"action"`
	Actor      string    `gorm:"column:actor;type:varchar(255);not null;index:idx_audit_actor_time,priority:1" json:"actor"`
	Role       string    `gorm:"column:role;type:varchar(32)" json:"role"`
	ProjectID  string    `gorm:"column:project_id;type:varchar(64);index:idx_audit_pair_time,priority:1" json:"projectId,omitempty"`
	ArtifactID string    `gorm:"column:artifact_id;type:varchar(128);index:idx_audit_pair_time,priority:2" json:"artifactId,omitempty"`
	Outcome    string    `gorm:"column:outcome;type:varchar(16);not null" json:"outcome"` // success, failure, denied
	StatusCode int       `gorm:"column:status_code" json:"statusCode"`
	RequestID  string    `gorm:"column:request_id;type:varchar(128)" json:"requestId,omitempty"`
	Method     string    `gorm:"column:method;type:varchar(16)" json:"method"`
	Path       string    `gorm:"column:path;type:varchar(255)" json:"path"`
	DurationMs int64     `gorm:"column:duration_ms" json:"durationMs"`
	CreatedAt  time.Time `gorm:"column:created_at;not null;precision:6;index:idx_audit_action_time,priority:2;index:idx_audit_actor_time,priority:2;index:idx_audit_pair_time,priority:3" json:"createdAt"`
}

// TableName overrides the default GORM table name.
func (Record) TableName() string { return "ledger_audit_events" }
