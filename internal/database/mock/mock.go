// Package mock provides mock implementations of database interfaces for testing.
package mock

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/kozaktomas/eigenfaces/internal/database"
	"github.com/kozaktomas/eigenfaces/internal/facematch"
)

// MockRunStore is a mock implementation of database.RunWriter and
// database.NearestSearcher backed by a map.
type MockRunStore struct {
	mu   sync.RWMutex
	runs map[uuid.UUID]*database.StoredRun

	// Error injection
	GetError         error
	ListError        error
	CountError       error
	SaveError        error
	DeleteError      error
	FindNearestError error

	// Call tracking
	FindNearestCalls int
}

var (
	_ database.RunWriter       = (*MockRunStore)(nil)
	_ database.NearestSearcher = (*MockRunStore)(nil)
)

// NewMockRunStore creates a new mock run store
func NewMockRunStore() *MockRunStore {
	return &MockRunStore{
		runs: make(map[uuid.UUID]*database.StoredRun),
	}
}

// AddRun adds a run to the mock store
func (m *MockRunStore) AddRun(run *database.StoredRun) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[run.ID] = run
}

// GetRun retrieves a run by ID
func (m *MockRunStore) GetRun(ctx context.Context, id uuid.UUID) (*database.StoredRun, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, fmt.Errorf("run %s: %w", id, database.ErrRunNotFound)
	}
	return run, nil
}

// ListRuns returns summaries newest first
func (m *MockRunStore) ListRuns(ctx context.Context, limit int) ([]database.RunSummary, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	summaries := make([]database.RunSummary, 0, len(m.runs))
	for _, run := range m.runs {
		summaries = append(summaries, run.Summary())
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].CreatedAt.After(summaries[j].CreatedAt)
	})
	if limit >= 0 && len(summaries) > limit {
		summaries = summaries[:limit]
	}
	return summaries, nil
}

// CountRuns returns the number of runs
func (m *MockRunStore) CountRuns(ctx context.Context) (int, error) {
	if m.CountError != nil {
		return 0, m.CountError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.runs), nil
}

// SaveRun stores a run
func (m *MockRunStore) SaveRun(ctx context.Context, run *database.StoredRun) error {
	if m.SaveError != nil {
		return m.SaveError
	}
	if err := run.Validate(); err != nil {
		return err
	}
	m.AddRun(run)
	return nil
}

// DeleteRun removes a run
func (m *MockRunStore) DeleteRun(ctx context.Context, id uuid.UUID) error {
	if m.DeleteError != nil {
		return m.DeleteError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[id]; !ok {
		return fmt.Errorf("run %s: %w", id, database.ErrRunNotFound)
	}
	delete(m.runs, id)
	return nil
}

// FindNearest ranks enrolled identities by brute force
func (m *MockRunStore) FindNearest(ctx context.Context, runID uuid.UUID, loading []float64, limit int) ([]database.Candidate, error) {
	m.mu.Lock()
	m.FindNearestCalls++
	m.mu.Unlock()

	if m.FindNearestError != nil {
		return nil, m.FindNearestError
	}
	run, err := m.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	candidates := make([]database.Candidate, 0, len(run.TrainLoadings))
	for i, w := range run.TrainLoadings {
		d, err := facematch.SquaredDistance(loading, w)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, database.Candidate{TrainIndex: i, Identity: run.Identities[i], Distance: d})
	}
	database.SortCandidates(candidates)
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates, nil
}

// MockRunReader hides the NearestSearcher capability of a store, forcing
// callers onto the in-memory gallery index.
type MockRunReader struct {
	Store *MockRunStore
}

// GetRun delegates to the wrapped store
func (r MockRunReader) GetRun(ctx context.Context, id uuid.UUID) (*database.StoredRun, error) {
	return r.Store.GetRun(ctx, id)
}

// ListRuns delegates to the wrapped store
func (r MockRunReader) ListRuns(ctx context.Context, limit int) ([]database.RunSummary, error) {
	return r.Store.ListRuns(ctx, limit)
}

// CountRuns delegates to the wrapped store
func (r MockRunReader) CountRuns(ctx context.Context) (int, error) {
	return r.Store.CountRuns(ctx)
}
