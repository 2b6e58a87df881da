package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"gorm.io/gorm"
)

// EventStore reads and writes ledger rows through GORM.
type EventStore struct {
	db *gorm.DB
}

// NewEventStore creates an EventStore backed by db.
func NewEventStore(db *gorm.DB) *EventStore {
	return &EventStore{db: db}
}

// AutoMigrate creates or updates the ledger tables.
func (s *EventStore) AutoMigrate() error {
	return s.db.AutoMigrate(&EventRecord{}, &RepairRecord{})
}

// DB exposes the underlying handle for transaction scoping.
func (s *EventStore) DB() *gorm.DB { return s.db }

// withTx returns a store bound to an open transaction.
func (s *EventStore) withTx(tx *gorm.DB) *EventStore {
	return &EventStore{db: tx}
}

// Head returns the highest-index row of a chain, or nil if it has none.
func (s *EventStore) Head(ctx context.Context, projectID, artifactID string) (*EventRecord, error) {
	var rec EventRecord
	err := s.db.WithContext(ctx).
		Where("project_id = ? AND artifact_id = ?", projectID, artifactID).
		Order("chain_index DESC").
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load chain head: %w", err)
	}
	return &rec, nil
}

// LoadChain returns every row of a chain ordered by chainIndex. All rows
// are read by a single query, so the result is one consistent snapshot.
func (s *EventStore) LoadChain(ctx context.Context, projectID, artifactID string) ([]EventRecord, error) {
	var rows []EventRecord
	err := s.db.WithContext(ctx).
		Where("project_id = ? AND artifact_id = ?", projectID, artifactID).
		Order("chain_index ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load chain: %w", err)
	}
	return rows, nil
}

// GetEvent returns a row by eventId, or nil if absent.
func (s *EventStore) GetEvent(ctx context.Context, eventID string) (*EventRecord, error) {
	var rec EventRecord
	err := s.db.WithContext(ctx).Where("event_id = ?", eventID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get event: %w", err)
	}
	return &rec, nil
}

// EventExists reports whether eventID is already stored in any chain.
func (s *EventStore) EventExists(ctx context.Context, eventID string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&EventRecord{}).Where("event_id = ?", eventID).Count(&count).Error; err != nil {
		return false, fmt.Errorf("check event id: %w", err)
	}
	return count > 0, nil
}

// Insert writes a new row.
func (s *EventStore) Insert(ctx context.Context, rec *EventRecord) error {
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// UpdateIntegrity rewrites only the hash fields of one row.
func (s *EventStore) UpdateIntegrity(ctx context.Context, eventID string, prevHash *string, eventHash string) error {
	result := s.db.WithContext(ctx).Model(&EventRecord{}).
		Where("event_id = ?", eventID).
		Updates(map[string]any{"prev_hash": prevHash, "event_hash": eventHash})
	if result.Error != nil {
		return fmt.Errorf("update integrity fields: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("update integrity fields: event %s vanished", eventID)
	}
	return nil
}

// ChainSummary describes one chain in a listing.
type ChainSummary struct {
	ProjectID      string `json:"projectId"`
	ArtifactID     string `json:"artifactId"`
	TotalEvents    int64  `json:"totalEvents"`
	HeadChainIndex int64  `json:"headChainIndex"`
}

// ListChains summarizes every chain, ordered by pair.
func (s *EventStore) ListChains(ctx context.Context) ([]ChainSummary, error) {
	var out []ChainSummary
	err := s.db.WithContext(ctx).Model(&EventRecord{}).
		Select("project_id, artifact_id, COUNT(*) AS total_events, MAX(chain_index) AS head_chain_index").
		Group("project_id, artifact_id").
		Order("project_id ASC, artifact_id ASC").
		Scan(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list chains: %w", err)
	}
	return out, nil
}

// ListEvents returns a page of a chain's rows ordered by chainIndex. The
// page token is the last chainIndex of the previous page.
func (s *EventStore) ListEvents(ctx context.Context, projectID, artifactID string, pageSize int, pageToken string) ([]EventRecord, string, error) {
	query := s.db.WithContext(ctx).
		Where("project_id = ? AND artifact_id = ?", projectID, artifactID).
		Order("chain_index ASC")

	if pageToken != "" {
		after, err := strconv.ParseInt(pageToken, 10, 64)
		if err != nil {
			return nil, "", &ValidationError{Field: "pageToken", Reason: "must be a chain index", Err: err}
		}
		query = query.Where("chain_index > ?", after)
	}

	var rows []EventRecord
	if err := query.Limit(pageSize + 1).Find(&rows).Error; err != nil {
		return nil, "", fmt.Errorf("list events: %w", err)
	}

	var next string
	if len(rows) > pageSize {
		rows = rows[:pageSize]
		next = strconv.FormatInt(rows[len(rows)-1].ChainIndex, 10)
	}
	return rows, next, nil
}

// InsertRepair records a repair marker.
func (s *EventStore) InsertRepair(ctx context.Context, rec *RepairRecord) error {
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("record repair: %w", err)
	}
	return nil
}

// LatestRepair returns the most recent repair of a chain that rewrote at
// least one row, or nil.
func (s *EventStore) LatestRepair(ctx context.Context, projectID, artifactID string) (*RepairRecord, error) {
	var rec RepairRecord
	err := s.db.WithContext(ctx).
		Where("project_id = ? AND artifact_id = ? AND rows_rewritten > 0", projectID, artifactID).
		Order("repaired_at DESC").
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load latest repair: %w", err)
	}
	return &rec, nil
}
