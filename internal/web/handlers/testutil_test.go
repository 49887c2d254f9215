package handlers

import (
	"context"
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/eigenfaces/internal/config"
	"github.com/kozaktomas/eigenfaces/internal/database"
	"github.com/kozaktomas/eigenfaces/internal/eigenface"
	"github.com/kozaktomas/eigenfaces/internal/metrics"
)

// testConfig creates a minimal config for testing
func testConfig() *config.Config {
	cfg := config.Defaults()
	return &cfg
}

// requestWithChiParams creates a request with chi URL parameters
func requestWithChiParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

var unitFaces = [][]float64{
	{1, 0, 0, 0},
	{0, 1, 0, 0},
	{0, 0, 1, 0},
}

// newTestRun evaluates three orthogonal identities where the first two test
// images are swapped.
func newTestRun(t *testing.T) *database.StoredRun {
	t.Helper()
	probes := [][]float64{unitFaces[1], unitFaces[0], unitFaces[2]}
	res, err := eigenface.Run(context.Background(), unitFaces, probes, eigenface.PipelineConfig{Components: 2})
	if err != nil {
		t.Fatalf("pipeline run failed: %v", err)
	}
	run, err := database.NewStoredRun("unit", []string{"alice", "bob", "carol"}, res)
	if err != nil {
		t.Fatalf("NewStoredRun failed: %v", err)
	}
	return run
}

// newTestHandler creates a runs handler reading from reader
func newTestHandler(reader database.RunReader) *RunsHandler {
	h := NewRunsHandler(testConfig(), database.NewGalleryCache(), metrics.NewRegistry())
	h.getReader = func(ctx context.Context) (database.RunReader, error) {
		return reader, nil
	}
	return h
}
