package database

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kozaktomas/eigenfaces/internal/eigenface"
	"github.com/kozaktomas/eigenfaces/internal/facematch"
)

// StoredRun is a persisted evaluation run: the fitted model (mean face,
// eigenfaces, eigenvalues), per-identity loadings and the match table.
type StoredRun struct {
	ID         uuid.UUID
	CreatedAt  time.Time
	Dataset    string
	Components int
	Dim        int
	Normalized bool

	Identities    []string    // index-aligned with loadings and matches
	Mean          []float64   // length Dim
	Eigenvalues   []float64   // descending, length Components
	TotalVariance float64     // trace of A·Aᵀ over all training faces
	Eigenfaces    [][]float64 // Components columns of length Dim
	TrainLoadings [][]float64
	TestLoadings  [][]float64
	Matches       []facematch.MatchResult
}

// RunSummary is the list view of a stored run.
type RunSummary struct {
	ID          uuid.UUID `json:"id"`
	CreatedAt   time.Time `json:"created_at"`
	Dataset     string    `json:"dataset"`
	Components  int       `json:"components"`
	Dim         int       `json:"dim"`
	Normalized  bool      `json:"normalized"`
	Identities  int       `json:"identities"`
	Recognized  int       `json:"recognized"`
	Rate        float64   `json:"rate"`
	MeanMargin  float64   `json:"mean_margin"`
	WorstMargin float64   `json:"worst_margin"`
}

// Candidate is an enrolled identity returned by a nearest-neighbor search.
type Candidate struct {
	TrainIndex int     `json:"train_index"`
	Identity   string  `json:"identity"`
	Distance   float64 `json:"distance"` // squared Euclidean in loading space
}

// NewStoredRun captures a pipeline result for persistence under a fresh ID.
func NewStoredRun(dataset string, identities []string, res *eigenface.Result) (*StoredRun, error) {
	if res == nil || res.Basis == nil {
		return nil, fmt.Errorf("storing run: %w", eigenface.ErrEmptyInput)
	}
	if len(identities) != len(res.TrainLoadings) {
		return nil, fmt.Errorf("%d identities for %d loadings: %w",
			len(identities), len(res.TrainLoadings), eigenface.ErrDimensionMismatch)
	}

	k := res.Basis.K()
	eigenfaces := make([][]float64, k)
	for j := range eigenfaces {
		eigenfaces[j] = res.Basis.Column(j)
	}

	return &StoredRun{
		ID:            uuid.New(),
		CreatedAt:     time.Now().UTC(),
		Dataset:       dataset,
		Components:    k,
		Dim:           res.Basis.Dim(),
		Normalized:    res.Basis.Normalized(),
		Identities:    append([]string(nil), identities...),
		Mean:          append([]float64(nil), res.Mean...),
		Eigenvalues:   res.Basis.Eigenvalues(),
		TotalVariance: res.Basis.TotalVariance(),
		Eigenfaces:    eigenfaces,
		TrainLoadings: loadingRows(res.TrainLoadings),
		TestLoadings:  loadingRows(res.TestLoadings),
		Matches:       append([]facematch.MatchResult(nil), res.Matches...),
	}, nil
}

func loadingRows(ls []eigenface.Loading) [][]float64 {
	out := make([][]float64, len(ls))
	for i, l := range ls {
		out[i] = append([]float64(nil), l...)
	}
	return out
}

// Basis rebuilds the eigenface basis of the run.
func (r *StoredRun) Basis() (*eigenface.Basis, error) {
	b, err := eigenface.NewBasisFromColumns(r.Eigenfaces, r.Eigenvalues, r.TotalVariance, r.Normalized)
	if err != nil {
		return nil, fmt.Errorf("run %s basis: %w", r.ID, err)
	}
	return b, nil
}

// Project maps a raw probe face into the run's loading space.
func (r *StoredRun) Project(face []float64) (eigenface.Loading, error) {
	basis, err := r.Basis()
	if err != nil {
		return nil, err
	}
	solver, err := eigenface.NewSolver(basis)
	if err != nil {
		return nil, err
	}
	return eigenface.Project(face, eigenface.MeanFace(r.Mean), solver)
}

// Summary computes the list view of the run from its match table.
func (r *StoredRun) Summary() RunSummary {
	s := facematch.Summarize(r.Matches)
	return RunSummary{
		ID:          r.ID,
		CreatedAt:   r.CreatedAt,
		Dataset:     r.Dataset,
		Components:  r.Components,
		Dim:         r.Dim,
		Normalized:  r.Normalized,
		Identities:  len(r.Identities),
		Recognized:  s.Recognized,
		Rate:        s.Rate,
		MeanMargin:  s.MeanMargin,
		WorstMargin: s.WorstMargin,
	}
}

// Validate checks the internal consistency of a run before it is written.
func (r *StoredRun) Validate() error {
	n := len(r.Identities)
	switch {
	case r.Components < 1 || r.Dim < 1:
		return fmt.Errorf("run has k=%d d=%d: %w", r.Components, r.Dim, eigenface.ErrEmptyInput)
	case len(r.Mean) != r.Dim:
		return fmt.Errorf("mean has %d values, want %d: %w", len(r.Mean), r.Dim, eigenface.ErrDimensionMismatch)
	case len(r.Eigenvalues) != r.Components || len(r.Eigenfaces) != r.Components:
		return fmt.Errorf("%d eigenvalues and %d eigenfaces for k=%d: %w",
			len(r.Eigenvalues), len(r.Eigenfaces), r.Components, eigenface.ErrDimensionMismatch)
	case len(r.TrainLoadings) != n || len(r.TestLoadings) != n || len(r.Matches) != n:
		return fmt.Errorf("%d identities with %d/%d loadings and %d matches: %w",
			n, len(r.TrainLoadings), len(r.TestLoadings), len(r.Matches), eigenface.ErrDimensionMismatch)
	}
	for j, col := range r.Eigenfaces {
		if len(col) != r.Dim {
			return fmt.Errorf("eigenface %d has %d values, want %d: %w", j, len(col), r.Dim, eigenface.ErrDimensionMismatch)
		}
	}
	for i := range n {
		if len(r.TrainLoadings[i]) != r.Components || len(r.TestLoadings[i]) != r.Components {
			return fmt.Errorf("loadings %d do not have %d components: %w", i, r.Components, eigenface.ErrDimensionMismatch)
		}
	}
	return nil
}
