package ledger

import (
	"fmt"
)

// ValidationError rejects an event before any storage is touched.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid event: " + e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// ConflictError reports an eventId that is already stored.
type ConflictError struct {
	EventID string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("event %s already exists", e.EventID)
}

// NotFoundError reports a chain, event or bundle that does not exist.
type NotFoundError struct {
	Resource   string
	ID         string
	ProjectID  string
	ArtifactID string
}

func (e *NotFoundError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
	}
	return fmt.Sprintf("%s not found for projectId=%s artifactId=%s", e.Resource, e.ProjectID, e.ArtifactID)
}

// chainNotFound is the NotFoundError for a (projectId, artifactId) pair
// with no rows.
func chainNotFound(projectID, artifactID string) *NotFoundError {
	return &NotFoundError{Resource: "chain", ProjectID: projectID, ArtifactID: artifactID}
}

// StorageFault wraps a persistence failure. The request that hit it did not
// change the ledger.
type StorageFault struct {
	Op  string
	Err error
}

func (e *StorageFault) Error() string {
	return fmt.Sprintf("storage fault during %s: %v", e.Op, e.Err)
}

func (e *StorageFault) Unwrap() error { return e.Err }

// RepairError names the row at which a repair stopped. Rows before Index
// were rewritten and committed.
type RepairError struct {
	Index int64
	Err   error
}

func (e *RepairError) Error() string {
	return fmt.Sprintf("repair stopped at chainIndex %d: %v", e.Index, e.Err)
}

func (e *RepairError) Unwrap() error { return e.Err }
