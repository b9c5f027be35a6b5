// Package store persists entity bindings and states in SQLite. It implements
// entity.Sink so the materializer mirrors every change into the database.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/theoremus-urban-solutions/transit-departures/utils"
)

// schemaSQL is applied by EnsureSchema.
//
//go:embed schema.sql
var schemaSQL string

// DB wraps a SQLite connection with write serialization.
type DB struct {
	conn    *sql.DB
	writeMu sync.Mutex
	logger  *slog.Logger
}

// Connect opens path with WAL journaling and foreign keys enabled, and ensures the
// schema exists.
func Connect(ctx context.Context, path string, logger *slog.Logger) (*DB, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite has a single writer; one connection plus writeMu avoids nested
	// transaction errors when pruning runs alongside state writes.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(time.Hour)

	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	for _, pragma := range []string{
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	} {
		if _, err := conn.ExecContext(ctx, pragma); err != nil {
			logger.Warn("failed to set pragma", "pragma", pragma, "error", err)
		}
	}

	db := &DB{conn: conn, logger: logger.With("component", "store")}
	if err := db.EnsureSchema(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	db.logger.Info("connected to SQLite database", "path", path)
	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// EnsureSchema creates tables if they don't exist.
func (db *DB) EnsureSchema(ctx context.Context) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()
	if _, err := db.conn.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Prune deletes state history older than retention.
func (db *DB) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := utils.Iso8601(time.Now().Add(-retention))

	db.writeMu.Lock()
	defer db.writeMu.Unlock()
	res, err := db.conn.ExecContext(ctx, "DELETE FROM entity_state_history WHERE updated_at_utc < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune history: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		db.logger.Info("pruned state history", "rows", n, "retention", retention)
	}
	return n, nil
}
