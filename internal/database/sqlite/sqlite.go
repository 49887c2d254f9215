// Package sqlite is the default local run store, backed by the pure-Go
// modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kozaktomas/eigenfaces/internal/config"
	"github.com/kozaktomas/eigenfaces/internal/database"
	"github.com/kozaktomas/eigenfaces/internal/database/sqlstore"
)

// Dialect is the SQLite schema of the run store.
var Dialect = sqlstore.Dialect{
	Name:       "sqlite",
	DriverName: "sqlite",
	Schema: []string{`
		CREATE TABLE IF NOT EXISTS runs (
			id              TEXT PRIMARY KEY,
			created_at      INTEGER NOT NULL,
			dataset         TEXT NOT NULL DEFAULT '',
			components      INTEGER NOT NULL,
			dim             INTEGER NOT NULL,
			normalized      BOOLEAN NOT NULL DEFAULT 0,
			identities      TEXT NOT NULL,
			mean            BLOB NOT NULL,
			eigenvalues     BLOB NOT NULL,
			total_variance  REAL NOT NULL DEFAULT 0,
			eigenfaces      BLOB NOT NULL,
			train_loadings  BLOB NOT NULL,
			test_loadings   BLOB NOT NULL,
			matches         TEXT NOT NULL,
			identity_count  INTEGER NOT NULL,
			recognized      INTEGER NOT NULL,
			rate            REAL NOT NULL,
			mean_margin     REAL NOT NULL,
			worst_margin    REAL NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS runs_created_at_idx ON runs(created_at)`,
	},
}

// Open opens (creating if needed) the SQLite database at path and applies
// the schema. Use ":memory:" for a throwaway store.
func Open(ctx context.Context, path string) (*sqlstore.Store, error) {
	if path == "" {
		return nil, errors.New("SQLite path is required")
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite: %w", err)
	}
	// SQLite serializes writers; one connection also keeps :memory: databases shared.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping SQLite: %w", err)
	}

	store := sqlstore.New(db, Dialect)
	if err := store.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return store, nil
}

// Initialize opens the configured SQLite file and registers it as the
// active run store.
func Initialize(ctx context.Context, cfg *config.DatabaseConfig) error {
	if cfg == nil {
		return errors.New("database config is required")
	}
	store, err := Open(ctx, cfg.SQLitePath)
	if err != nil {
		return err
	}
	database.RegisterBackend(Dialect.Name,
		func() database.RunReader { return store },
		func() database.RunWriter { return store },
		store.Close,
	)
	return nil
}
