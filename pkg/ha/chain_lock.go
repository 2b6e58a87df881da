package ha

import (
	"context"
	"fmt"
	"sync"

	"gorm.io/gorm"
)

// ChainLocker grants exclusive, pair-scoped access to one chain for the
// duration of a single database transaction. Locks for different keys never
// block each other. Implementations do not retry: a failure to lock is
// returned to the caller.
type ChainLocker interface {
	// WithChainLock opens a transaction on db, holds the lock for key until
	// the transaction ends, and runs fn inside it. An error returned by fn
	// rolls the transaction back.
	WithChainLock(ctx context.Context, db *gorm.DB, key string, fn func(tx *gorm.DB) error) error
}

// NewChainLocker returns the locker for mode on the dialect behind db.
func NewChainLocker(db *gorm.DB, mode ChainLockMode) (ChainLocker, error) {
	dialect := ""
	if db != nil {
		dialect = db.Dialector.Name()
	}
	switch mode {
	case ChainLockAuto, "":
		if dialect == "postgres" {
			return pgAdvisoryChainLock{}, nil
		}
		return NewLocalChainLocker(), nil
	case ChainLockAdvisory:
		if dialect != "postgres" {
			return nil, fmt.Errorf("chain lock mode %q requires postgres, got %q", mode, dialect)
		}
		return pgAdvisoryChainLock{}, nil
	case ChainLockLocal:
		return NewLocalChainLocker(), nil
	default:
		return nil, fmt.Errorf("unknown chain lock mode %q", mode)
	}
}

// pgAdvisoryChainLock takes a transaction-scoped advisory lock, so
// PostgreSQL releases it on commit or rollback.
type pgAdvisoryChainLock struct{}

func (pgAdvisoryChainLock) WithChainLock(ctx context.Context, db *gorm.DB, key string, fn func(tx *gorm.DB) error) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", key).Error; err != nil {
			return fmt.Errorf("acquire chain lock %s: %w", key, err)
		}
		return fn(tx)
	})
}

// LocalChainLocker is an in-process keyed lock. Entries are reference
// counted and dropped once no caller holds or waits for them.
type LocalChainLocker struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	sem  chan struct{}
	refs int
}

// NewLocalChainLocker creates an empty LocalChainLocker.
func NewLocalChainLocker() *LocalChainLocker {
	return &LocalChainLocker{locks: make(map[string]*keyedLock)}
}

// WithChainLock implements ChainLocker.
func (l *LocalChainLocker) WithChainLock(ctx context.Context, db *gorm.DB, key string, fn func(tx *gorm.DB) error) error {
	unlock, err := l.acquire(ctx, key)
	if err != nil {
		return fmt.Errorf("acquire chain lock %s: %w", key, err)
	}
	defer unlock()
	return db.WithContext(ctx).Transaction(fn)
}

func (l *LocalChainLocker) acquire(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyedLock{sem: make(chan struct{}, 1)}
		l.locks[key] = kl
	}
	kl.refs++
	l.mu.Unlock()

	select {
	case kl.sem <- struct{}{}:
		return func() {
			<-kl.sem
			l.release(key, kl)
		}, nil
	case <-ctx.Done():
		l.release(key, kl)
		return nil, ctx.Err()
	}
}

func (l *LocalChainLocker) release(key string, kl *keyedLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, key)
	}
}

// held reports how many keys currently have holders or waiters.
func (l *LocalChainLocker) held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
