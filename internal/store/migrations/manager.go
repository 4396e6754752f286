// Package migrations applies the durable store's schema to a SQLite
// database via goose, using the embedded SQL files in sql/ as the single
// source of truth: schema_meta versioning, additive-only migrations.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"

	"github.com/pressly/goose/v3"
)

//go:embed sql/*.sql
var migrationFiles embed.FS

// Manager drives goose against one opened *sql.DB. Unlike a generic
// multi-driver migration runner, this one is pinned to the sqlite3 dialect
// and to the embedded filesystem above -- there is exactly one schema and
// one store backend in this system.
type Manager struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewManager wraps db for migration use. db's dialect must be sqlite.
func NewManager(db *sql.DB, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := goose.SetDialect("sqlite3"); err != nil {
		return nil, fmt.Errorf("set goose dialect: %w", err)
	}
	goose.SetBaseFS(migrationFiles)
	goose.SetLogger(goose.NopLogger())
	return &Manager{db: db, logger: logger}, nil
}

// Up applies every migration that has not yet run.
func (m *Manager) Up(ctx context.Context) error {
	before, err := goose.GetDBVersion(m.db)
	if err != nil {
		return fmt.Errorf("read current schema version: %w", err)
	}
	if err := goose.UpContext(ctx, m.db, "sql"); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	after, err := goose.GetDBVersion(m.db)
	if err != nil {
		return fmt.Errorf("read schema version after migration: %w", err)
	}
	if after != before {
		m.logger.Info("schema migrated", "from_version", before, "to_version", after)
	}
	return nil
}

// Version reports the schema version currently applied to db.
func (m *Manager) Version(ctx context.Context) (int64, error) {
	return goose.GetDBVersionContext(ctx, m.db)
}
