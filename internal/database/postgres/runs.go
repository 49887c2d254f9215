package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/kozaktomas/eigenfaces/internal/database"
	"github.com/kozaktomas/eigenfaces/internal/facematch"
)

// RunRepository provides PostgreSQL-backed storage of evaluation runs.
// Train loadings are mirrored into a pgvector column so FindNearest can rank
// enrolled identities inside the database.
type RunRepository struct {
	pool *Pool
}

// NewRunRepository creates a new PostgreSQL run repository
func NewRunRepository(pool *Pool) *RunRepository {
	return &RunRepository{pool: pool}
}

var (
	_ database.RunWriter       = (*RunRepository)(nil)
	_ database.NearestSearcher = (*RunRepository)(nil)
)

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}

// SaveRun stores a complete run in one transaction, replacing any run with the same ID.
func (r *RunRepository) SaveRun(ctx context.Context, run *database.StoredRun) error {
	if err := run.Validate(); err != nil {
		return fmt.Errorf("invalid run: %w", err)
	}

	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM runs WHERE id = $1", run.ID); err != nil {
		return fmt.Errorf("delete previous run: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, created_at, dataset, components, dim, normalized, mean, eigenvalues, total_variance)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, run.ID, run.CreatedAt, run.Dataset, run.Components, run.Dim, run.Normalized,
		pq.Array(run.Mean), pq.Array(run.Eigenvalues), run.TotalVariance)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	for j, col := range run.Eigenfaces {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO run_eigenfaces (run_id, component, eigenface) VALUES ($1, $2, $3)",
			run.ID, j, pq.Array(col))
		if err != nil {
			return fmt.Errorf("insert eigenface %d: %w", j, err)
		}
	}

	for i, label := range run.Identities {
		m := run.Matches[i]
		_, err := tx.ExecContext(ctx, `
			INSERT INTO run_identities (
				run_id, idx, identity, train_loading, test_loading, train_vec,
				self_distance, closest_index, closest_distance, margin
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`, run.ID, i, label,
			pq.Array(run.TrainLoadings[i]), pq.Array(run.TestLoadings[i]),
			pgvector.NewVector(toFloat32(run.TrainLoadings[i])),
			m.SelfDistance, m.ClosestIndex, m.ClosestDistance, m.Margin)
		if err != nil {
			return fmt.Errorf("insert identity %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID, returns database.ErrRunNotFound if missing
func (r *RunRepository) GetRun(ctx context.Context, id uuid.UUID) (*database.StoredRun, error) {
	run := &database.StoredRun{ID: id}
	var mean, eigenvalues pq.Float64Array

	err := r.pool.QueryRow(ctx, `
		SELECT created_at, dataset, components, dim, normalized, mean, eigenvalues, total_variance
		FROM runs
		WHERE id = $1
	`, id).Scan(&run.CreatedAt, &run.Dataset, &run.Components, &run.Dim, &run.Normalized,
		&mean, &eigenvalues, &run.TotalVariance)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, database.ErrRunNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query run: %w", err)
	}
	run.Mean = mean
	run.Eigenvalues = eigenvalues

	if err := r.loadEigenfaces(ctx, run); err != nil {
		return nil, err
	}
	if err := r.loadIdentities(ctx, run); err != nil {
		return nil, err
	}
	return run, nil
}

func (r *RunRepository) loadEigenfaces(ctx context.Context, run *database.StoredRun) error {
	rows, err := r.pool.Query(ctx,
		"SELECT eigenface FROM run_eigenfaces WHERE run_id = $1 ORDER BY component", run.ID)
	if err != nil {
		return fmt.Errorf("query eigenfaces: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var col pq.Float64Array
		if err := rows.Scan(&col); err != nil {
			return fmt.Errorf("scan eigenface: %w", err)
		}
		run.Eigenfaces = append(run.Eigenfaces, col)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate eigenfaces: %w", err)
	}
	return nil
}

func (r *RunRepository) loadIdentities(ctx context.Context, run *database.StoredRun) error {
	rows, err := r.pool.Query(ctx, `
		SELECT idx, identity, train_loading, test_loading,
		       self_distance, closest_index, closest_distance, margin
		FROM run_identities
		WHERE run_id = $1
		ORDER BY idx
	`, run.ID)
	if err != nil {
		return fmt.Errorf("query identities: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			label       string
			train, test pq.Float64Array
			m           facematch.MatchResult
		)
		if err := rows.Scan(&m.TrainIndex, &label, &train, &test,
			&m.SelfDistance, &m.ClosestIndex, &m.ClosestDistance, &m.Margin); err != nil {
			return fmt.Errorf("scan identity: %w", err)
		}
		run.Identities = append(run.Identities, label)
		run.TrainLoadings = append(run.TrainLoadings, train)
		run.TestLoadings = append(run.TestLoadings, test)
		run.Matches = append(run.Matches, m)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate identities: %w", err)
	}
	return nil
}

// ListRuns returns run summaries, newest first. Recognition statistics are
// aggregated from the stored match table.
func (r *RunRepository) ListRuns(ctx context.Context, limit int) ([]database.RunSummary, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT r.id, r.created_at, r.dataset, r.components, r.dim, r.normalized,
		       COUNT(i.idx),
		       COUNT(i.idx) FILTER (WHERE i.closest_index = i.idx OR i.margin = 0),
		       COALESCE(AVG(i.margin), 0),
		       COALESCE(MAX(i.margin), 0)
		FROM runs r
		LEFT JOIN run_identities i ON i.run_id = r.id
		GROUP BY r.id
		ORDER BY r.created_at DESC, r.id
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var summaries []database.RunSummary
	for rows.Next() {
		var s database.RunSummary
		if err := rows.Scan(&s.ID, &s.CreatedAt, &s.Dataset, &s.Components, &s.Dim, &s.Normalized,
			&s.Identities, &s.Recognized, &s.MeanMargin, &s.WorstMargin); err != nil {
			return nil, fmt.Errorf("scan run summary: %w", err)
		}
		if s.Identities > 0 {
			s.Rate = float64(s.Recognized) / float64(s.Identities)
		}
		summaries = append(summaries, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return summaries, nil
}

// CountRuns returns the total number of stored runs
func (r *RunRepository) CountRuns(ctx context.Context) (int, error) {
	var count int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM runs").Scan(&count); err != nil {
		return 0, fmt.Errorf("count runs: %w", err)
	}
	return count, nil
}

// DeleteRun removes a run; eigenfaces and identities cascade.
func (r *RunRepository) DeleteRun(ctx context.Context, id uuid.UUID) error {
	res, err := r.pool.Exec(ctx, "DELETE FROM runs WHERE id = $1", id)
	if err != nil {
		return err
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

// nearestOverfetch widens the float32 pgvector shortlist before the exact
// float64 re-rank.
const nearestOverfetch = 3

// FindNearest ranks the run's enrolled identities by L2 distance to loading
// using pgvector, then re-ranks the shortlist by exact squared distance from
// the float64 copy.
func (r *RunRepository) FindNearest(ctx context.Context, runID uuid.UUID, loading []float64, limit int) ([]database.Candidate, error) {
	if limit < 1 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, `
		SELECT idx, identity, train_loading
		FROM run_identities
		WHERE run_id = $1
		ORDER BY train_vec <-> $2, idx
		LIMIT $3
	`, runID, pgvector.NewVector(toFloat32(loading)), limit*nearestOverfetch)
	if err != nil {
		return nil, fmt.Errorf("query nearest identities: %w", err)
	}
	defer rows.Close()

	var candidates []database.Candidate
	for rows.Next() {
		var (
			c     database.Candidate
			train pq.Float64Array
		)
		if err := rows.Scan(&c.TrainIndex, &c.Identity, &train); err != nil {
			return nil, fmt.Errorf("scan nearest identity: %w", err)
		}
		d, err := facematch.SquaredDistance(loading, train)
		if err != nil {
			return nil, err
		}
		c.Distance = d
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate nearest identities: %w", err)
	}

	database.SortCandidates(candidates)
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates, nil
}
