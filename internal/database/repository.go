package database

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrRunNotFound is returned when a run ID is unknown to the store.
var ErrRunNotFound = errors.New("run not found")

// RunReader provides read-only access to stored evaluation runs
type RunReader interface {
	// GetRun retrieves a run by ID, returns ErrRunNotFound if missing
	GetRun(ctx context.Context, id uuid.UUID) (*StoredRun, error)
	// ListRuns returns summaries of the most recent runs, newest first
	ListRuns(ctx context.Context, limit int) ([]RunSummary, error)
	// CountRuns returns the total number of stored runs
	CountRuns(ctx context.Context) (int, error)
}

// RunWriter provides write access to evaluation runs
type RunWriter interface {
	RunReader

	// SaveRun stores a complete run (replaces an existing run with the same ID)
	SaveRun(ctx context.Context, run *StoredRun) error

	// DeleteRun removes a run and everything stored with it
	DeleteRun(ctx context.Context, id uuid.UUID) error
}

// NearestSearcher is implemented by backends that can rank a run's enrolled
// identities against a probe loading without building an in-memory index.
type NearestSearcher interface {
	FindNearest(ctx context.Context, runID uuid.UUID, loading []float64, limit int) ([]Candidate, error)
}
