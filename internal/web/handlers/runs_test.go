package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/kozaktomas/eigenfaces/internal/database"
	"github.com/kozaktomas/eigenfaces/internal/database/mock"
	"github.com/kozaktomas/eigenfaces/internal/facematch"
)

func TestHealthCheck(t *testing.T) {
	rec := httptest.NewRecorder()
	HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "ok" {
		t.Errorf("expected status ok, got %v", body)
	}
}

func TestRunsHandler_List(t *testing.T) {
	store := mock.NewMockRunStore()
	run := newTestRun(t)
	store.AddRun(run)
	h := newTestHandler(store)

	rec := httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/api/v1/runs", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Runs  []database.RunSummary `json:"runs"`
		Total int                   `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Total != 1 || len(body.Runs) != 1 {
		t.Fatalf("expected one run, got %+v", body)
	}
	if body.Runs[0].ID != run.ID || body.Runs[0].Recognized != 1 {
		t.Errorf("unexpected summary %+v", body.Runs[0])
	}
}

func TestRunsHandler_List_Errors(t *testing.T) {
	tests := []struct {
		name     string
		query    string
		listErr  error
		expected int
	}{
		{name: "invalid limit", query: "?limit=abc", expected: http.StatusBadRequest},
		{name: "zero limit", query: "?limit=0", expected: http.StatusBadRequest},
		{name: "store failure", listErr: errors.New("boom"), expected: http.StatusInternalServerError},
		{name: "empty store", expected: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := mock.NewMockRunStore()
			store.ListError = tt.listErr
			h := newTestHandler(store)

			rec := httptest.NewRecorder()
			h.List(rec, httptest.NewRequest(http.MethodGet, "/api/v1/runs"+tt.query, nil))

			if rec.Code != tt.expected {
				t.Errorf("expected status %d, got %d", tt.expected, rec.Code)
			}
		})
	}
}

func TestRunsHandler_NoBackend(t *testing.T) {
	h := newTestHandler(nil)
	h.getReader = func(ctx context.Context) (database.RunReader, error) {
		return nil, errors.New("storage backend not initialized")
	}

	rec := httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/api/v1/runs", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", rec.Code)
	}
}

func TestRunsHandler_Get(t *testing.T) {
	store := mock.NewMockRunStore()
	run := newTestRun(t)
	store.AddRun(run)
	h := newTestHandler(store)

	tests := []struct {
		name     string
		id       string
		expected int
	}{
		{name: "found", id: run.ID.String(), expected: http.StatusOK},
		{name: "unknown", id: uuid.NewString(), expected: http.StatusNotFound},
		{name: "malformed", id: "not-a-uuid", expected: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := requestWithChiParams(httptest.NewRequest(http.MethodGet, "/api/v1/runs/"+tt.id, nil),
				map[string]string{"id": tt.id})
			rec := httptest.NewRecorder()
			h.Get(rec, req)

			if rec.Code != tt.expected {
				t.Fatalf("expected status %d, got %d: %s", tt.expected, rec.Code, rec.Body.String())
			}
			if tt.expected != http.StatusOK {
				return
			}
			var detail RunDetail
			if err := json.Unmarshal(rec.Body.Bytes(), &detail); err != nil {
				t.Fatal(err)
			}
			if len(detail.Labels) != 3 || detail.Labels[0] != "alice" {
				t.Errorf("unexpected labels %v", detail.Labels)
			}
			if len(detail.ExplainedVariance) != 2 {
				t.Errorf("expected 2 explained variance ratios, got %v", detail.ExplainedVariance)
			}
		})
	}
}

func TestRunsHandler_Matches(t *testing.T) {
	store := mock.NewMockRunStore()
	run := newTestRun(t)
	store.AddRun(run)
	h := newTestHandler(store)

	req := requestWithChiParams(httptest.NewRequest(http.MethodGet, "/", nil),
		map[string]string{"id": run.ID.String()})
	rec := httptest.NewRecorder()
	h.Matches(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var body struct {
		Matches []facematch.LabeledMatch `json:"matches"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if len(body.Matches) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(body.Matches))
	}
	first := body.Matches[0]
	if first.Identity != "alice" || first.ClosestIdentity != "bob" || first.Recognized {
		t.Errorf("unexpected first row %+v", first)
	}
	// Image numbers in the API are 1-based.
	if first.TrainImage != 1 || first.ClosestImage != 2 {
		t.Errorf("expected train image 1 closest to test image 2, got %d and %d", first.TrainImage, first.ClosestImage)
	}
	if body.Matches[2].TrainImage != 3 {
		t.Errorf("expected last train image 3, got %d", body.Matches[2].TrainImage)
	}
	if math.Abs(first.Margin-2) > 1e-8 {
		t.Errorf("expected margin 2, got %v", first.Margin)
	}
	if !body.Matches[2].Recognized {
		t.Errorf("expected carol to be recognized")
	}
}

func identifyRequest(t *testing.T, id string, body any) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/runs/"+id+"/identify", &buf)
	req.Header.Set("Content-Type", "application/json")
	return requestWithChiParams(req, map[string]string{"id": id})
}

func TestRunsHandler_Identify(t *testing.T) {
	store := mock.NewMockRunStore()
	run := newTestRun(t)
	store.AddRun(run)

	tests := []struct {
		name   string
		reader database.RunReader
		source string
	}{
		{name: "database search", reader: store, source: "database"},
		{name: "hnsw gallery", reader: mock.MockRunReader{Store: store}, source: "hnsw"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(tt.reader)
			rec := httptest.NewRecorder()
			h.Identify(rec, identifyRequest(t, run.ID.String(), IdentifyRequest{Pixels: unitFaces[1], Limit: 2}))

			if rec.Code != http.StatusOK {
				t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
			}
			var resp IdentifyResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatal(err)
			}
			if resp.Source != tt.source {
				t.Errorf("expected source %s, got %s", tt.source, resp.Source)
			}
			if len(resp.Candidates) != 2 {
				t.Fatalf("expected 2 candidates, got %d", len(resp.Candidates))
			}
			if resp.Candidates[0].Identity != "bob" || resp.Candidates[0].Distance > 1e-9 {
				t.Errorf("unexpected top candidate %+v", resp.Candidates[0])
			}
			if resp.ReconstructionError > 1e-9 {
				t.Errorf("expected exact reconstruction of a training face, got %v", resp.ReconstructionError)
			}
			if got := testutil.ToFloat64(h.metrics.IdentifyRequests.WithLabelValues("ok")); got != 1 {
				t.Errorf("expected one ok identify request, got %v", got)
			}
		})
	}
}

func TestRunsHandler_Identify_Errors(t *testing.T) {
	store := mock.NewMockRunStore()
	run := newTestRun(t)
	store.AddRun(run)
	h := newTestHandler(store)

	tests := []struct {
		name     string
		id       string
		body     any
		expected int
	}{
		{name: "wrong dimension", id: run.ID.String(), body: IdentifyRequest{Pixels: []float64{1, 2}}, expected: http.StatusBadRequest},
		{name: "empty pixels", id: run.ID.String(), body: IdentifyRequest{}, expected: http.StatusBadRequest},
		{name: "limit too large", id: run.ID.String(), body: IdentifyRequest{Pixels: unitFaces[0], Limit: 1000}, expected: http.StatusBadRequest},
		{name: "unknown field", id: run.ID.String(), body: map[string]any{"pixels": unitFaces[0], "k": 3}, expected: http.StatusBadRequest},
		{name: "unknown run", id: uuid.NewString(), body: IdentifyRequest{Pixels: unitFaces[0]}, expected: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.Identify(rec, identifyRequest(t, tt.id, tt.body))

			if rec.Code != tt.expected {
				t.Errorf("expected status %d, got %d: %s", tt.expected, rec.Code, rec.Body.String())
			}
			if !strings.Contains(rec.Body.String(), "error") {
				t.Errorf("expected error body, got %s", rec.Body.String())
			}
		})
	}
}
