// Package db opens the ledger database.
package db

import (
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	TypeSQLite   = "sqlite"
	TypePostgres = "postgres"
	TypeMySQL    = "mysql"
)

// Config selects the database.
type Config struct {
	// Type is sqlite, postgres or mysql. Default: sqlite
	Type string

	// DSN is the driver connection string. For sqlite it is a file path.
	DSN string

	// MaxOpenConns bounds the pool. Ignored for sqlite, which is always
	// a single connection. Default: 20
	MaxOpenConns int

	// SlowThreshold logs queries slower than this. Default: 500ms
	SlowThreshold time.Duration
}

// DefaultConfig returns a local sqlite configuration.
func DefaultConfig() *Config {
	return &Config{
		Type:          TypeSQLite,
		DSN:           "ledger.db",
		MaxOpenConns:  20,
		SlowThreshold: 500 * time.Millisecond,
	}
}

// Open connects to the configured database. Driver errors are translated
// to gorm errors so callers can match gorm.ErrDuplicatedKey.
func Open(cfg *Config) (*gorm.DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN is required (use --db-dsn or LEDGER_DB_DSN)")
	}

	var dialector gorm.Dialector
	switch strings.ToLower(cfg.Type) {
	case TypeSQLite, "":
		dialector = sqlite.Open(cfg.DSN)
	case TypePostgres, "postgresql":
		dialector = postgres.Open(cfg.DSN)
	case TypeMySQL:
		dialector = mysql.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database type %q (want sqlite, postgres or mysql)", cfg.Type)
	}

	gormLogger := logger.Default.LogMode(logger.Warn)
	if cfg.SlowThreshold > 0 {
		gormLogger = logger.New(logWriter{}, logger.Config{
			SlowThreshold:             cfg.SlowThreshold,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		})
	}

	gdb, err := gorm.Open(dialector, &gorm.Config{
		Logger:         gormLogger,
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", cfg.Type, err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}
	if gdb.Dialector.Name() == TypeSQLite {
		sqlDB.SetMaxOpenConns(1)
	} else if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	return gdb, nil
}
