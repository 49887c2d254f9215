package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/kozaktomas/eigenfaces/internal/config"
	"github.com/kozaktomas/eigenfaces/internal/constants"
	"github.com/kozaktomas/eigenfaces/internal/database"
	"github.com/kozaktomas/eigenfaces/internal/eigenface"
	"github.com/kozaktomas/eigenfaces/internal/facematch"
	"github.com/kozaktomas/eigenfaces/internal/metrics"
)

// RunsHandler serves stored evaluation runs.
type RunsHandler struct {
	config    *config.Config
	getReader func(ctx context.Context) (database.RunReader, error)
	gallery   *database.GalleryCache
	metrics   *metrics.Registry
}

// NewRunsHandler creates a runs handler reading from the registered storage backend.
func NewRunsHandler(cfg *config.Config, gallery *database.GalleryCache, m *metrics.Registry) *RunsHandler {
	return &RunsHandler{
		config:    cfg,
		getReader: database.GetRunReader,
		gallery:   gallery,
		metrics:   m,
	}
}

// RunDetail is the response of GET /runs/{id}.
type RunDetail struct {
	database.RunSummary
	Labels            []string  `json:"identity_labels"`
	Eigenvalues       []float64 `json:"eigenvalues"`
	ExplainedVariance []float64 `json:"explained_variance"`
}

// List handles GET /api/v1/runs.
func (h *RunsHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := constants.DefaultRunListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, constants.MaxRunListLimit)
	}

	reader, err := h.getReader(r.Context())
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	runs, err := reader.ListRuns(r.Context(), limit)
	if err != nil {
		log.Error().Err(err).Msg("listing runs")
		respondError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	total, err := reader.CountRuns(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("counting runs")
		respondError(w, http.StatusInternalServerError, "failed to count runs")
		return
	}
	if runs == nil {
		runs = []database.RunSummary{}
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"runs":  runs,
		"total": total,
	})
}

// loadRun resolves the {id} parameter to a stored run, writing the error
// response itself when it returns nil.
func (h *RunsHandler) loadRun(w http.ResponseWriter, r *http.Request) (database.RunReader, *database.StoredRun) {
	raw := chi.URLParam(r, "id")
	id, err := parseRunID(raw)
	if err != nil {
		log.Debug().Str("id", sanitizeForLog(raw)).Msg("invalid run id")
		respondError(w, http.StatusBadRequest, err.Error())
		return nil, nil
	}
	reader, err := h.getReader(r.Context())
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, err.Error())
		return nil, nil
	}
	run, err := reader.GetRun(r.Context(), id)
	if err != nil {
		status := statusForError(err)
		if status == http.StatusInternalServerError {
			log.Error().Err(err).Str("run_id", id.String()).Msg("loading run")
			respondError(w, status, "failed to load run")
			return nil, nil
		}
		respondError(w, status, err.Error())
		return nil, nil
	}
	return reader, run
}

// Get handles GET /api/v1/runs/{id}.
func (h *RunsHandler) Get(w http.ResponseWriter, r *http.Request) {
	_, run := h.loadRun(w, r)
	if run == nil {
		return
	}

	detail := RunDetail{
		RunSummary:  run.Summary(),
		Labels:      run.Identities,
		Eigenvalues: run.Eigenvalues,
	}
	if basis, err := run.Basis(); err == nil {
		detail.ExplainedVariance = basis.ExplainedVariance()
	}
	respondJSON(w, http.StatusOK, detail)
}

// Matches handles GET /api/v1/runs/{id}/matches.
func (h *RunsHandler) Matches(w http.ResponseWriter, r *http.Request) {
	_, run := h.loadRun(w, r)
	if run == nil {
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"matches": facematch.Label(run.Matches, run.Identities),
		"summary": facematch.Summarize(run.Matches),
	})
}

// IdentifyRequest is the body of POST /runs/{id}/identify.
type IdentifyRequest struct {
	Pixels []float64 `json:"pixels"`
	Limit  int       `json:"limit"`
}

// IdentifyResponse reports the probe's loading and the closest enrolled identities.
type IdentifyResponse struct {
	Loading             []float64            `json:"loading"`
	ReconstructionError float64              `json:"reconstruction_error"`
	Candidates          []database.Candidate `json:"candidates"`
	Source              string               `json:"source"` // "database" or "hnsw"
}

// Identify handles POST /api/v1/runs/{id}/identify.
func (h *RunsHandler) Identify(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	result := "error"
	defer func() {
		h.metrics.IdentifyRequests.WithLabelValues(result).Inc()
		h.metrics.ObserveStage("identify", nil, time.Since(start))
	}()

	var req IdentifyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		result = "bad_request"
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	limit := req.Limit
	if limit == 0 {
		limit = constants.DefaultIdentifyLimit
	}
	if limit < 1 || limit > constants.MaxIdentifyLimit {
		result = "bad_request"
		respondError(w, http.StatusBadRequest, "limit out of range")
		return
	}

	reader, run := h.loadRun(w, r)
	if run == nil {
		result = "not_found"
		return
	}

	resp, err := h.identify(r.Context(), reader, run, req.Pixels, limit)
	if err != nil {
		status := statusForError(err)
		if status == http.StatusInternalServerError {
			log.Error().Err(err).Str("run_id", run.ID.String()).Msg("identify failed")
			respondError(w, status, "identify failed")
			return
		}
		result = "bad_request"
		respondError(w, status, err.Error())
		return
	}

	result = "ok"
	h.metrics.Solves.WithLabelValues("probe").Inc()
	log.Debug().Str("run_id", run.ID.String()).Str("source", resp.Source).
		Int("candidates", len(resp.Candidates)).Msg("identified probe")
	respondJSON(w, http.StatusOK, resp)
}

func (h *RunsHandler) identify(ctx context.Context, reader database.RunReader, run *database.StoredRun, pixels []float64, limit int) (*IdentifyResponse, error) {
	if len(pixels) == 0 {
		return nil, eigenface.ErrEmptyInput
	}
	basis, err := run.Basis()
	if err != nil {
		return nil, err
	}
	solver, err := eigenface.NewSolver(basis)
	if err != nil {
		return nil, err
	}
	centered, err := eigenface.CenterVector(pixels, eigenface.MeanFace(run.Mean))
	if err != nil {
		return nil, err
	}
	w, err := solver.Solve(centered)
	if err != nil {
		return nil, err
	}
	recErr, err := eigenface.ReconstructionError(centered, w, basis)
	if err != nil {
		return nil, err
	}

	resp := &IdentifyResponse{Loading: w, ReconstructionError: recErr}
	if searcher, ok := reader.(database.NearestSearcher); ok {
		resp.Source = "database"
		resp.Candidates, err = searcher.FindNearest(ctx, run.ID, w, limit)
	} else {
		resp.Source = "hnsw"
		var idx *database.GalleryIndex
		idx, err = h.gallery.Get(run)
		if err == nil {
			resp.Candidates, err = idx.Search(w, limit)
		}
	}
	if err != nil {
		return nil, err
	}
	if resp.Candidates == nil {
		resp.Candidates = []database.Candidate{}
	}
	return resp, nil
}
