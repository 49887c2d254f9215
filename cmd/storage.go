package cmd

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/kozaktomas/eigenfaces/internal/config"
	"github.com/kozaktomas/eigenfaces/internal/database/mariadb"
	"github.com/kozaktomas/eigenfaces/internal/database/postgres"
	"github.com/kozaktomas/eigenfaces/internal/database/sqlite"
)

// storageBackend picks the run store: PostgreSQL when DATABASE_URL is set,
// MariaDB when MARIADB_DSN is set, the local SQLite file otherwise.
func storageBackend(cfg *config.DatabaseConfig) string {
	switch {
	case cfg.URL != "":
		return "postgres"
	case cfg.MariaDBDSN != "":
		return "mariadb"
	default:
		return "sqlite"
	}
}

// initStorage initializes and registers the configured run store.
// Callers must defer database.Close().
func initStorage(ctx context.Context, cfg *config.DatabaseConfig) error {
	backend := storageBackend(cfg)
	var err error
	switch backend {
	case "postgres":
		err = postgres.Initialize(ctx, cfg)
	case "mariadb":
		err = mariadb.Initialize(cfg)
	default:
		err = sqlite.Initialize(ctx, cfg)
	}
	if err != nil {
		return fmt.Errorf("failed to initialize %s storage: %w", backend, err)
	}
	log.Debug().Str("backend", backend).Msg("storage initialized")
	return nil
}
