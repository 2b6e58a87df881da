package ledger

import (
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/proofpulse/evidence-ledger/pkg/canonical"
)

// SupportedSchemaVersion is the only event schema version accepted.
const SupportedSchemaVersion = 1

var (
	projectIDPattern  = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)
	artifactIDPattern = regexp.MustCompile(`^[a-zA-Z0-9./:_-]+$`)
)

const (
	minIDLength         = 3
	maxProjectIDLength  = 64
	maxArtifactIDLength = 128

	// maxLabelLength matches the varchar(255) source and event_type columns.
	maxLabelLength = 255
)

// EvidenceEvent is an event as submitted for append. Integrity fields are
// assigned by the Engine and are not part of the input.
type EvidenceEvent struct {
	SchemaVersion int             `json:"schemaVersion"`
	EventID       string          `json:"eventId"`
	ProjectID     string          `json:"projectId"`
	ArtifactID    string          `json:"artifactId"`
	Source        string          `json:"source"`
	Timestamp     time.Time       `json:"timestamp"`
	Type          string          `json:"type"`
	Payload       canonical.Value `json:"payload"`
}

// Normalize validates e and returns the form that is hashed and stored:
// lower-case eventId, trimmed labels, UTC microsecond timestamp and a
// non-null payload object.
func (e EvidenceEvent) Normalize() (EvidenceEvent, error) {
	if e.SchemaVersion != SupportedSchemaVersion {
		return e, &ValidationError{Field: "schemaVersion", Reason: "unsupported schemaVersion; only 1 is accepted"}
	}

	id, err := uuid.Parse(strings.TrimSpace(e.EventID))
	if err != nil {
		return e, &ValidationError{Field: "eventId", Reason: "must be a UUID", Err: err}
	}
	e.EventID = id.String()

	if err := checkIdentifier("projectId", e.ProjectID, maxProjectIDLength, projectIDPattern); err != nil {
		return e, err
	}
	if err := checkIdentifier("artifactId", e.ArtifactID, maxArtifactIDLength, artifactIDPattern); err != nil {
		return e, err
	}

	if e.Source, err = checkLabel("source", e.Source); err != nil {
		return e, err
	}
	if e.Type, err = checkLabel("type", e.Type); err != nil {
		return e, err
	}

	if e.Timestamp.IsZero() {
		return e, &ValidationError{Field: "timestamp", Reason: "must be an ISO-8601 instant"}
	}
	e.Timestamp = NormalizeTimestamp(e.Timestamp)

	switch e.Payload.Kind() {
	case canonical.KindNull:
		e.Payload = canonical.EmptyObject()
	case canonical.KindObject:
	default:
		return e, &ValidationError{Field: "payload", Reason: "must be a JSON object, got " + e.Payload.Kind().String()}
	}

	return e, nil
}

func checkIdentifier(field, value string, maxLen int, pattern *regexp.Regexp) error {
	switch {
	case len(value) < minIDLength || len(value) > maxLen:
		return &ValidationError{Field: field, Reason: "length must be between 3 and " + strconv.Itoa(maxLen)}
	case !pattern.MatchString(value):
		return &ValidationError{Field: field, Reason: "contains characters outside " + pattern.String()}
	}
	return nil
}

func checkLabel(field, value string) (string, error) {
	value = strings.TrimSpace(value)
	switch {
	case value == "":
		return value, &ValidationError{Field: field, Reason: "must not be empty"}
	case !utf8.ValidString(value):
		return value, &ValidationError{Field: field, Reason: "must be valid UTF-8"}
	case utf8.RuneCountInString(value) > maxLabelLength:
		return value, &ValidationError{Field: field, Reason: "must be at most " + strconv.Itoa(maxLabelLength) + " characters"}
	}
	return value, nil
}

// ChainKey is the lock key for a pair.
func ChainKey(projectID, artifactID string) string {
	return projectID + "|" + artifactID
}
