// Package repo persists accounts, personas and transcripts with GORM on
// SQLite (pure Go driver, no cgo).
package repo

import (
	"fmt"
	"os"
	"path/filepath"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/tbourn/persona-chat/internal/domain"
)

// Applied once on open.
var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA foreign_keys=ON",
	"PRAGMA busy_timeout=5000",
}

// OpenOption customizes the handle returned by OpenSQLite.
type OpenOption func(*openConfig)

type openConfig struct {
	tracing bool
	silent  bool
}

// WithTracing turns every statement into a span under the caller's context.
func WithTracing() OpenOption { return func(c *openConfig) { c.tracing = true } }

// WithSilentLogger mutes GORM's statement logger.
func WithSilentLogger() OpenOption { return func(c *openConfig) { c.silent = true } }

// OpenSQLite opens or creates the database at path. The parent directory
// must exist.
func OpenSQLite(path string, opts ...OpenOption) (*gorm.DB, error) {
	var oc openConfig
	for _, o := range opts {
		o(&oc)
	}

	// sqlite reports a missing directory as "out of memory (14)" on some
	// platforms; check it ourselves.
	if dir := filepath.Dir(path); dir != "." {
		if _, err := os.Stat(dir); err != nil {
			return nil, fmt.Errorf("repo: database directory: %w", err)
		}
	}

	gcfg := &gorm.Config{}
	if oc.silent {
		gcfg.Logger = logger.Default.LogMode(logger.Silent)
	}
	db, err := gorm.Open(sqlite.Open(path), gcfg)
	if err != nil {
		return nil, fmt.Errorf("repo: open %s: %w", path, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// One connection that never expires: the PRAGMAs below are per connection.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxIdleTime(0)
	sqlDB.SetConnMaxLifetime(0)

	for _, p := range pragmas {
		if err := db.Exec(p).Error; err != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("repo: %s: %w", p, err)
		}
	}

	if oc.tracing {
		if err := db.Use(tracing.NewPlugin()); err != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("repo: tracing plugin: %w", err)
		}
	}
	return db, nil
}

// AutoMigrate creates or updates every table used by the service.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.User{},
		&domain.Session{},
		&domain.Setting{},
		&domain.Profile{},
		&domain.Transcript{},
		&domain.Message{},
	)
}

// Close releases the underlying connection pool.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
