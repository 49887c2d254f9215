package mariadb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/kozaktomas/eigenfaces/internal/config"
	"github.com/kozaktomas/eigenfaces/internal/database"
	"github.com/kozaktomas/eigenfaces/internal/database/sqlstore"
)

// Dialect is the MariaDB/MySQL schema of the run store. Eigenfaces of a
// 64x64 model exceed the 64 KiB BLOB limit, hence LONGBLOB.
var Dialect = sqlstore.Dialect{
	Name:       "mariadb",
	DriverName: "mysql",
	Schema: []string{`
		CREATE TABLE IF NOT EXISTS runs (
			id              VARCHAR(36) NOT NULL PRIMARY KEY,
			created_at      BIGINT NOT NULL,
			dataset         VARCHAR(255) NOT NULL DEFAULT '',
			components      INT NOT NULL,
			dim             INT NOT NULL,
			normalized      BOOLEAN NOT NULL DEFAULT FALSE,
			identities      LONGTEXT NOT NULL,
			mean            LONGBLOB NOT NULL,
			eigenvalues     BLOB NOT NULL,
			total_variance  DOUBLE NOT NULL DEFAULT 0,
			eigenfaces      LONGBLOB NOT NULL,
			train_loadings  LONGBLOB NOT NULL,
			test_loadings   LONGBLOB NOT NULL,
			matches         LONGTEXT NOT NULL,
			identity_count  INT NOT NULL,
			recognized      INT NOT NULL,
			rate            DOUBLE NOT NULL,
			mean_margin     DOUBLE NOT NULL,
			worst_margin    DOUBLE NOT NULL,
			INDEX runs_created_at_idx (created_at)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	},
}

// NewPool creates a MariaDB connection pool and applies the run store schema.
func NewPool(dsn string) (*sqlstore.Store, error) {
	if dsn == "" {
		return nil, errors.New("MariaDB DSN is required")
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MariaDB: %w", err)
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MariaDB: %w", err)
	}

	store := sqlstore.New(db, Dialect)
	if err := store.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return store, nil
}

// Initialize connects to the configured MariaDB server and registers it as
// the active run store.
func Initialize(cfg *config.DatabaseConfig) error {
	if cfg == nil || cfg.MariaDBDSN == "" {
		return errors.New("MariaDB DSN is required")
	}
	store, err := NewPool(cfg.MariaDBDSN)
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
