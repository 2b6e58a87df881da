package ledger

import (
	"time"
)

// EventRecord is one stored ledger row. ChainIndex, PrevHash and EventHash
// are written only by the Engine.
type EventRecord struct {
	EventID       string    `gorm:"primaryKey;column:event_id;type:varchar(36)" json:"eventId"`
	SchemaVersion int       `gorm:"column:schema_version;not null" json:"schemaVersion"`
	ProjectID     string    `gorm:"column:project_id;type:varchar(64);not null;uniqueIndex:idx_evidence_chain_position,priority:1" json:"projectId"`
	ArtifactID    string    `gorm:"column:artifact_id;type:varchar(128);not null;uniqueIndex:idx_evidence_chain_position,priority:2" json:"artifactId"`
	ChainIndex    int64     `gorm:"column:chain_index;not null;uniqueIndex:idx_evidence_chain_position,priority:3" json:"chainIndex"`
	Source        string    `gorm:"column:source;type:varchar(255);not null" json:"source"`
	Type          string    `gorm:"column:event_type;type:varchar(255);not null" json:"type"`
	Timestamp     time.Time `gorm:"column:ts;not null;precision:6" json:"timestamp"`
	// Payload holds the canonical JSON text of the payload object.
	Payload   string    `gorm:"column:payload;type:text;not null" json:"-"`
	PrevHash  *string   `gorm:"column:prev_hash;type:varchar(64)" json:"prevHash"`
	EventHash string    `gorm:"column:event_hash;type:varchar(64);not null" json:"eventHash"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
}

// TableName overrides the default GORM table name.
func (EventRecord) TableName() string { return "evidence_events" }

// prevHashOrEmpty is the prevHash input to ChainHash.
func (r *EventRecord) prevHashOrEmpty() string {
	if r.PrevHash == nil {
		return ""
	}
	return *r.PrevHash
}

// RepairRecord marks one run of Repair over a chain.
type RepairRecord struct {
	ID               string    `gorm:"primaryKey;column:id;type:varchar(36)" json:"id"`
	ProjectID        string    `gorm:"column:project_id;type:varchar(64);not null;index:idx_chain_repairs_pair,priority:1" json:"projectId"`
	ArtifactID       string    `gorm:"column:artifact_id;type:varchar(128);not null;index:idx_chain_repairs_pair,priority:2" json:"artifactId"`
	RepairedAt       time.Time `gorm:"column:repaired_at;not null;precision:6;index:idx_chain_repairs_pair,priority:3" json:"repairedAt"`
	RepairedBy       string    `gorm:"column:repaired_by;type:varchar(255)" json:"repairedBy,omitempty"`
	RowsRewritten    int       `gorm:"column:rows_rewritten;not null" json:"rowsRewritten"`
	PreviousHeadHash string    `gorm:"column:previous_head_hash;type:varchar(64)" json:"previousHeadHash"`
	HeadChainIndex   int64     `gorm:"column:head_chain_index" json:"headChainIndex"`
	HeadHash         string    `gorm:"column:head_hash;type:varchar(64)" json:"headHash"`
}

// TableName overrides the default GORM table name.
func (RepairRecord) TableName() string { return "chain_repairs" }
