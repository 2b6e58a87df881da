package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// ErrInvalidPageToken is returned for a page token that is not a timestamp.
var ErrInvalidPageToken = errors.New("invalid page token")

// Filter narrows a listing. Empty fields match everything.
type Filter struct {
	Action     string
	Actor      string
	ProjectID  string
	ArtifactID string
}

// Store persists audit records.
type Store struct {
	db *gorm.DB
}

// NewStore creates a Store.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// AutoMigrate creates the audit table.
func (s *Store) AutoMigrate() error {
	if err := s.db.AutoMigrate(&Record{}); err != nil {
		return fmt.Errorf("migrate audit table: %w", err)
	}
	return nil
}

// Append writes one record.
func (s *Store) Append(ctx context.Context, rec *Record) error {
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("append audit record: %w", err)
	}
	return nil
}

// List returns records newest first. pageToken is the createdAt of the last
// record of the previous page in RFC 3339 form.
func (s *Store) List(ctx context.Context, f Filter, pageSize int, pageToken string) ([]Record, string, int64, error) {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	base := s.filtered(ctx, f)
	var total int64
	if err := base.Model(&Record{}).Count(&total).Error; err != nil {
		return nil, "", 0, fmt.Errorf("count audit records: %w", err)
	}

	query := s.filtered(ctx, f).Order("created_at DESC").Order("id DESC").Limit(pageSize + 1)
	if pageToken != "" {
		t, err := time.Parse(time.RFC3339Nano, pageToken)
		if err != nil {
			return nil, "", 0, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
		}
		query = query.Where("created_at < ?", t)
	}

	var records []Record
	if err := query.Find(&records).Error; err != nil {
		return nil, "", 0, fmt.Errorf("list audit records: %w", err)
	}

	var next string
	if len(records) > pageSize {
		next = records[pageSize-1].CreatedAt.UTC().Format(time.RFC3339Nano)
		records = records[:pageSize]
	}
	return records, next, total, nil
}

func (s *Store) filtered(ctx context.Context, f Filter) *gorm.DB {
	q := s.db.WithContext(ctx)
	if f.Action != "" {
		q = q.Where("action = ?", f.Action)
	}
	if f.Actor != "" {
		q = q.Where("actor = ?", f.Actor)
	}
	if f.ProjectID != "" {
		q = q.Where("project_id = ?", f.ProjectID)
	}
	if f.ArtifactID != "" {
		q = q.Where("artifact_id = ?", f.ArtifactID)
	}
	return q
}

// DeleteOlderThan removes records created before cutoff and reports how
// many were deleted.
func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result := s.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&Record{})
	if result.Error != nil {
		return 0, fmt.Errorf("delete old audit records: %w", result.Error)
	}
	return result.RowsAffected, nil
}
