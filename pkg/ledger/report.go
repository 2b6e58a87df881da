package ledger

import (
	"encoding/json"
	"time"
)

// Verify failure reasons.
const (
	ReasonNoChain           = "no_chain"
	ReasonPrevHashMismatch  = "prev_hash mismatch"
	ReasonEventHashMismatch = "event_hash mismatch"
	ReasonVerificationError = "verification_error"
)

// RepairWarning accompanies every repair result.
const RepairWarning = "repair invalidates attestations issued against previous hash values"

// VerifyReport is the outcome of verifying one chain. A broken chain is a
// normal result with Valid=false, never an error.
type VerifyReport struct {
	ProjectID   string    `json:"projectId"`
	ArtifactID  string    `json:"artifactId"`
	ComputedAt  time.Time `json:"computedAt"`
	Valid       bool      `json:"valid"`
	TotalEvents int64     `json:"totalEvents"`

	FirstMismatchIndex *int64  `json:"firstMismatchIndex,omitempty"`
	Reason             string  `json:"reason,omitempty"`
	Detail             string  `json:"detail,omitempty"`
	StoredPrevHash     *string `json:"storedPrevHash,omitempty"`
	ExpectedPrevHash   *string `json:"expectedPrevHash,omitempty"`
	StoredEventHash    *string `json:"storedEventHash,omitempty"`
	ExpectedEventHash  *string `json:"expectedEventHash,omitempty"`

	HeadChainIndex *int64 `json:"headChainIndex,omitempty"`
	HeadHash       string `json:"headHash,omitempty"`
}

// Found reports whether the chain had any rows.
func (r *VerifyReport) Found() bool {
	return r.Reason != ReasonNoChain
}

// AppendResult is returned by a successful append.
type AppendResult struct {
	EventID    string  `json:"eventId"`
	ChainIndex int64   `json:"chainIndex"`
	PrevHash   *string `json:"prevHash"`
	EventHash  string  `json:"eventHash"`
}

// ChainHead is the last event of a chain.
type ChainHead struct {
	ProjectID  string `json:"projectId"`
	ArtifactID string `json:"artifactId"`
	ChainIndex int64  `json:"chainIndex"`
	EventHash  string `json:"eventHash"`
}

// RepairResult reports a completed repair and the chain's state afterwards.
type RepairResult struct {
	RepairID      string        `json:"repairId,omitempty"`
	RowsRewritten int           `json:"rowsRewritten"`
	Warning       string        `json:"warning"`
	Report        *VerifyReport `json:"report"`
}

func ptr[T any](v T) *T { return &v }

// StoredEvent is the external view of a stored row.
type StoredEvent struct {
	EventID       string          `json:"eventId"`
	SchemaVersion int             `json:"schemaVersion"`
	ProjectID     string          `json:"projectId"`
	ArtifactID    string          `json:"artifactId"`
	Source        string          `json:"source"`
	Timestamp     string          `json:"timestamp"`
	Type          string          `json:"type"`
	Payload       json.RawMessage `json:"payload"`
	ChainIndex    int64           `json:"chainIndex"`
	PrevHash      *string         `json:"prevHash"`
	EventHash     string          `json:"eventHash"`
}

func newStoredEvent(rec *EventRecord) *StoredEvent {
	return &StoredEvent{
		EventID:       rec.EventID,
		SchemaVersion: rec.SchemaVersion,
		ProjectID:     rec.ProjectID,
		ArtifactID:    rec.ArtifactID,
		Source:        rec.Source,
		Timestamp:     FormatTimestamp(rec.Timestamp),
		Type:          rec.Type,
		Payload:       json.RawMessage(rec.Payload),
		ChainIndex:    rec.ChainIndex,
		PrevHash:      rec.PrevHash,
		EventHash:     rec.EventHash,
	}
}

// EventPage is one page of a chain listing.
type EventPage struct {
	Items         []*StoredEvent `json:"items"`
	NextPageToken string         `json:"nextPageToken"`
	Size          int            `json:"size"`
}
