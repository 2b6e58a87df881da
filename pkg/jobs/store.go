package jobs

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

// RunStore persists sweep runs.
type RunStore struct {
	db *gorm.DB
}

// NewRunStore creates a RunStore.
func NewRunStore(db *gorm.DB) *RunStore {
	return &RunStore{db: db}
}

// AutoMigrate creates the sweep table.
func (s *RunStore) AutoMigrate() error {
	if err := s.db.AutoMigrate(&SweepRun{}); err != nil {
		return fmt.Errorf("migrate sweep table: %w", err)
	}
	return nil
}

// Create inserts a new run.
func (s *RunStore) Create(ctx context.Context, run *SweepRun) error {
	if err := s.db.WithContext(ctx).Create(run).Error; err != nil {
		return fmt.Errorf("create sweep run: %w", err)
	}
	return nil
}

// Finish stores the terminal fields of run.
func (s *RunStore) Finish(ctx context.Context, run *SweepRun) error {
	err := s.db.WithContext(ctx).Model(run).
		Select("state", "finished_at", "chains_checked", "invalid_chains", "last_error", "duration_ms").
		Updates(run).Error
	if err != nil {
		return fmt.Errorf("finish sweep run %s: %w", run.ID, err)
	}
	return nil
}

// Get returns a run by id, or nil when it does not exist.
func (s *RunStore) Get(ctx context.Context, id string) (*SweepRun, error) {
	var run SweepRun
	err := s.db.WithContext(ctx).First(&run, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get sweep run: %w", err)
	}
	return &run, nil
}

// List returns runs newest first. pageToken is the startedAt of the last
// run of the previous page in RFC 3339 form.
func (s *RunStore) List(ctx context.Context, pageSize int, pageToken string) ([]SweepRun, string, error) {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	query := s.db.WithContext(ctx).Order("started_at DESC").Limit(pageSize + 1)
	if pageToken != "" {
		t, err := time.Parse(time.RFC3339Nano, pageToken)
		if err != nil {
			return nil, "", fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
		}
		query = query.Where("started_at < ?", t)
	}

	var runs []SweepRun
	if err := query.Find(&runs).Error; err != nil {
		return nil, "", fmt.Errorf("list sweep runs: %w", err)
	}

	var next string
	if len(runs) > pageSize {
		next = runs[pageSize-1].StartedAt.UTC().Format(time.RFC3339Nano)
		runs = runs[:pageSize]
	}
	return runs, next, nil
}

// MarkInterrupted fails runs left running by a previous process.
func (s *RunStore) MarkInterrupted(ctx context.Context, now time.Time) (int64, error) {
	result := s.db.WithContext(ctx).Model(&SweepRun{}).
		Where("state = ?", RunStateRunning).
		Updates(map[string]any{
			"state":       RunStateFailed,
			"finished_at": now,
			"last_error":  "interrupted by restart",
		})
	if result.Error != nil {
		return 0, fmt.Errorf("mark interrupted sweeps: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// DeleteOlderThan removes finished runs that ended before cutoff.
func (s *RunStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("state IN ? AND finished_at < ?", []RunState{RunStateSucceeded, RunStateFailed}, cutoff).
		Delete(&SweepRun{})
	if result.Error != nil {
		return 0, fmt.Errorf("delete old sweep runs: %w", result.Error)
	}
	return result.RowsAffected, nil
}
