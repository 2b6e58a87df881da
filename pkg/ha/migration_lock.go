package ha

import (
	"context"
	"fmt"
	"hash/crc32"
	"time"

	"gorm.io/gorm"
)

const migrationLockName = "evidence-ledger-migration"

// MigrationLocker serializes schema migrations across replicas.
type MigrationLocker interface {
	// WithLock blocks until the lock is held, runs fn, then releases it.
	WithLock(ctx context.Context, fn func() error) error
}

// NewMigrationLocker picks a session advisory lock on PostgreSQL and a
// lock-row table elsewhere. holder is recorded in the lock row.
func NewMigrationLocker(db *gorm.DB, holder string) MigrationLocker {
	if db == nil {
		return noopMigrationLock{}
	}
	if db.Dialector.Name() == "postgres" {
		return &pgMigrationLock{
			db:     db,
			lockID: int64(crc32.ChecksumIEEE([]byte(migrationLockName))),
		}
	}
	if holder == "" {
		holder = defaultIdentity()
	}
	// The table must exist before the first concurrent WithLock.
	_ = db.AutoMigrate(&migrationLockRecord{})
	return &tableMigrationLock{db: db, holder: holder}
}

type noopMigrationLock struct{}

func (noopMigrationLock) WithLock(_ context.Context, fn func() error) error {
	return fn()
}

type pgMigrationLock struct {
	db     *gorm.DB
	lockID int64
}

func (l *pgMigrationLock) WithLock(ctx context.Context, fn func() error) error {
	if err := l.db.WithContext(ctx).Exec("SELECT pg_advisory_lock(?)", l.lockID).Error; err != nil {
		return fmt.Errorf("acquire migration advisory lock: %w", err)
	}
	defer func() {
		_ = l.db.Exec("SELECT pg_advisory_unlock(?)", l.lockID).Error
	}()
	return fn()
}

type migrationLockRecord struct {
	ID       string    `gorm:"primaryKey;column:id;type:varchar(64)"`
	LockedAt time.Time `gorm:"column:locked_at"`
	LockedBy string    `gorm:"column:locked_by;type:varchar(255)"`
}

func (migrationLockRecord) TableName() string { return "ledger_migration_lock" }

// tableMigrationLock inserts a single well-known row; the primary key makes
// the insert fail while another holder owns it. Rows older than
// staleLockAge are treated as abandoned by a crashed replica.
type tableMigrationLock struct {
	db     *gorm.DB
	holder string
}

const (
	lockAttempts = 30
	lockRetry    = time.Second
	staleLockAge = 5 * time.Minute
	migrationRow = "migration"
)

func (l *tableMigrationLock) WithLock(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < lockAttempts; attempt++ {
		l.db.WithContext(ctx).
			Where("id = ? AND locked_at < ?", migrationRow, time.Now().Add(-staleLockAge)).
			Delete(&migrationLockRecord{})

		row := migrationLockRecord{ID: migrationRow, LockedAt: time.Now(), LockedBy: l.holder}
		if lastErr = l.db.WithContext(ctx).Create(&row).Error; lastErr == nil {
			defer l.db.Where("id = ?", migrationRow).Delete(&migrationLockRecord{})
			return fn()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(lockRetry):
		}
	}
	return fmt.Errorf("acquire migration lock after %d attempts: %w", lockAttempts, lastErr)
}
