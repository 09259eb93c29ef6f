// Package repo implements the data persistence layer for the call archive,
// backed by GORM. This file contains database bootstrapping helpers for
// SQLite (pure Go driver), tracing, schema migrations, and the error
// classification shared by the repository functions.
package repo

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/tbourn/callvault/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound so callers only need one sentinel.
var ErrNotFound = gorm.ErrRecordNotFound

// ErrDuplicate indicates a unique-constraint violation: an idempotency key
// already admitted, or an alert already raised for (call_id, alert_type).
var ErrDuplicate = errors.New("duplicate")

// tracingPlugin is a seam so tests can open databases without a tracer.
var tracingPlugin = func() gorm.Plugin { return tracing.NewPlugin(tracing.WithoutMetrics()) }

// connPragmas are per-connection settings, so they ride on the DSN and
// every pooled connection gets them.
const connPragmas = "?_pragma=busy_timeout(5000)&_pragma=synchronous(FULL)&_pragma=foreign_keys(1)"

// OpenSQLite opens (or creates) a SQLite database and applies PRAGMAs.
func OpenSQLite(path string) (*gorm.DB, error) {
	// Fail early if parent directory does not exist (instead of sqlite "out of memory (14)" on Windows).
	if dir := filepath.Dir(path); dir != "." {
		if _, err := os.Stat(dir); err != nil {
			return nil, err
		}
	}

	db, err := gorm.Open(sqlite.Open(path+connPragmas), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if p := tracingPlugin(); p != nil {
		if err := db.Use(p); err != nil {
			return nil, err
		}
	}

	// journal_mode is a property of the file; the rest live in connPragmas.
	db.Exec("PRAGMA journal_mode=WAL;")

	// Pool
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(10)
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetConnMaxIdleTime(5 * time.Minute)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}

	return db, nil
}

// AutoMigrate creates or updates every archive table.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.CallRecord{},
		&domain.EmailDispatchLog{},
		&domain.AlertEvent{},
		&domain.TransferEvent{},
		&domain.EmailTemplate{},
		&domain.IngestionReceipt{},
	)
}

// Ping checks that the database answers within ctx.
func Ping(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// isDuplicate detects unique-constraint violations across drivers that may
// not map to gorm.ErrDuplicatedKey.
func isDuplicate(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	// glebarez/sqlite often returns plain-text errors for UNIQUE violations;
	// Postgres says "duplicate key value violates unique constraint".
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint") ||
		strings.Contains(low, "constraint failed: unique") ||
		strings.Contains(low, "duplicate key")
}

// escapeLike escapes LIKE wildcards so user input matches literally.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
