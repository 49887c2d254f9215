// Package sqlstore implements database.RunWriter on top of sqlx for engines
// without a vector type. Arrays are stored as little-endian float64 BLOBs;
// identities and the match table as JSON.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/kozaktomas/eigenfaces/internal/database"
)

// Dialect carries the engine specific schema. Queries use "?" placeholders,
// which both SQLite and MySQL accept.
type Dialect struct {
	Name       string
	DriverName string // database/sql driver name, used for sqlx bind types
	Schema     []string
}

// Store is a run repository over a *sqlx.DB.
type Store struct {
	db      *sqlx.DB
	dialect Dialect
}

// runRow is the full runs row as read by GetRun.
type runRow struct {
	CreatedAt     int64   `db:"created_at"`
	Dataset       string  `db:"dataset"`
	Components    int     `db:"components"`
	Dim           int     `db:"dim"`
	Normalized    bool    `db:"normalized"`
	Identities    string  `db:"identities"`
	Mean          []byte  `db:"mean"`
	Eigenvalues   []byte  `db:"eigenvalues"`
	TotalVariance float64 `db:"total_variance"`
	Eigenfaces    []byte  `db:"eigenfaces"`
	TrainLoadings []byte  `db:"train_loadings"`
	TestLoadings  []byte  `db:"test_loadings"`
	Matches       string  `db:"matches"`
}

// summaryRow holds the denormalized summary columns read by ListRuns.
type summaryRow struct {
	ID            string  `db:"id"`
	CreatedAt     int64   `db:"created_at"`
	Dataset       string  `db:"dataset"`
	Components    int     `db:"components"`
	Dim           int     `db:"dim"`
	Normalized    bool    `db:"normalized"`
	IdentityCount int     `db:"identity_count"`
	Recognized    int     `db:"recognized"`
	Rate          float64 `db:"rate"`
	MeanMargin    float64 `db:"mean_margin"`
	WorstMargin   float64 `db:"worst_margin"`
}

var _ database.RunWriter = (*Store)(nil)

// New wraps db. Call Migrate before use.
func New(db *sql.DB, dialect Dialect) *Store {
	return &Store{db: sqlx.NewDb(db, dialect.DriverName), dialect: dialect}
}

// DB returns the underlying sqlx.DB for direct access.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// Migrate creates the schema if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	for i, stmt := range s.dialect.Schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s schema statement %d: %w", s.dialect.Name, i+1, err)
		}
	}
	return nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			return fmt.Errorf("closing database connection: %w", err)
		}
	}
	return nil
}

// SaveRun stores a complete run, replacing any run with the same ID.
func (s *Store) SaveRun(ctx context.Context, run *database.StoredRun) error {
	if err := run.Validate(); err != nil {
		return fmt.Errorf("invalid run: %w", err)
	}

	identities, err := json.Marshal(run.Identities)
	if err != nil {
		return fmt.Errorf("marshal identities: %w", err)
	}
	matches, err := json.Marshal(run.Matches)
	if err != nil {
		return fmt.Errorf("marshal matches: %w", err)
	}
	summary := run.Summary()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM runs WHERE id = ?", run.ID.String()); err != nil {
		return fmt.Errorf("delete previous run: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (
			id, created_at, dataset, components, dim, normalized,
			identities, mean, eigenvalues, total_variance, eigenfaces, train_loadings, test_loadings, matches,
			identity_count, recognized, rate, mean_margin, worst_margin
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.ID.String(), run.CreatedAt.UnixNano(), run.Dataset, run.Components, run.Dim, run.Normalized,
		string(identities), EncodeFloats(run.Mean), EncodeFloats(run.Eigenvalues), run.TotalVariance,
		encodeRows(run.Eigenfaces), encodeRows(run.TrainLoadings), encodeRows(run.TestLoadings), string(matches),
		summary.Identities, summary.Recognized, summary.Rate, summary.MeanMargin, summary.WorstMargin,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID, returns database.ErrRunNotFound if missing
func (s *Store) GetRun(ctx context.Context, id uuid.UUID) (*database.StoredRun, error) {
	var row runRow
	err := s.db.GetContext(ctx, &row, `
		SELECT created_at, dataset, components, dim, normalized,
		       identities, mean, eigenvalues, total_variance, eigenfaces, train_loadings, test_loadings, matches
		FROM runs
		WHERE id = ?
	`, id.String())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, database.ErrRunNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query run: %w", err)
	}

	run := &database.StoredRun{
		ID:            id,
		CreatedAt:     time.Unix(0, row.CreatedAt).UTC(),
		Dataset:       row.Dataset,
		Components:    row.Components,
		Dim:           row.Dim,
		Normalized:    row.Normalized,
		TotalVariance: row.TotalVariance,
	}
	if err := json.Unmarshal([]byte(row.Identities), &run.Identities); err != nil {
		return nil, fmt.Errorf("decode identities: %w", err)
	}
	if err := json.Unmarshal([]byte(row.Matches), &run.Matches); err != nil {
		return nil, fmt.Errorf("decode matches: %w", err)
	}
	if run.Mean, err = DecodeFloats(row.Mean); err != nil {
		return nil, fmt.Errorf("decode mean: %w", err)
	}
	if run.Eigenvalues, err = DecodeFloats(row.Eigenvalues); err != nil {
		return nil, fmt.Errorf("decode eigenvalues: %w", err)
	}
	if run.Eigenfaces, err = decodeRows(row.Eigenfaces, run.Dim); err != nil {
		return nil, fmt.Errorf("decode eigenfaces: %w", err)
	}
	if run.TrainLoadings, err = decodeRows(row.TrainLoadings, run.Components); err != nil {
		return nil, fmt.Errorf("decode train loadings: %w", err)
	}
	if run.TestLoadings, err = decodeRows(row.TestLoadings, run.Components); err != nil {
		return nil, fmt.Errorf("decode test loadings: %w", err)
	}
	return run, nil
}

// ListRuns returns run summaries, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]database.RunSummary, error) {
	var rows []summaryRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, created_at, dataset, components, dim, normalized,
		       identity_count, recognized, rate, mean_margin, worst_margin
		FROM runs
		ORDER BY created_at DESC, id
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}

	summaries := make([]database.RunSummary, 0, len(rows))
	for _, row := range rows {
		id, err := uuid.Parse(row.ID)
		if err != nil {
			return nil, fmt.Errorf("parse run id %q: %w", row.ID, err)
		}
		summaries = append(summaries, database.RunSummary{
			ID:          id,
			CreatedAt:   time.Unix(0, row.CreatedAt).UTC(),
			Dataset:     row.Dataset,
			Components:  row.Components,
			Dim:         row.Dim,
			Normalized:  row.Normalized,
			Identities:  row.IdentityCount,
			Recognized:  row.Recognized,
			Rate:        row.Rate,
			MeanMargin:  row.MeanMargin,
			WorstMargin: row.WorstMargin,
		})
	}
	return summaries, nil
}

// CountRuns returns the total number of stored runs
func (s *Store) CountRuns(ctx context.Context) (int, error) {
	var count int
	if err := s.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM runs"); err != nil {
		return 0, fmt.Errorf("count runs: %w", err)
	}
	return count, nil
}

// DeleteRun removes a run.
func (s *Store) DeleteRun(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM runs WHERE id = ?", id.String())
	if err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("run %s: %w", id, database.ErrRunNotFound)
	}
	return nil
}
