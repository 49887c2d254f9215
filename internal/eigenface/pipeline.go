package eigenface

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/mat"

	"github.com/kozaktomas/eigenfaces/internal/facematch"
	"github.com/kozaktomas/eigenfaces/internal/metrics"
)

// DefaultComponents is the default number of eigenfaces k.
const DefaultComponents = 6

// PipelineConfig configures a pipeline run.
type PipelineConfig struct {
	Components int    // k, number of eigenfaces
	UnitNorm   bool   // scale eigenfaces to unit length
	Workers    int    // concurrent loading solves, < 1 means GOMAXPROCS
	Progress   func() // called after every loading solve (train and test)
}

// Result holds every artifact of one evaluation run.
type Result struct {
	Mean          MeanFace
	Basis         *Basis
	TrainLoadings []Loading
	TestLoadings  []Loading
	Distances     *mat.Dense
	Matches       []facematch.MatchResult
	Summary       facematch.Summary
}

// Run executes mean-centering, basis construction, loading solves and
// matching. train and test must be index-aligned by identity.
func Run(ctx context.Context, train, test [][]float64, cfg PipelineConfig) (*Result, error) {
	if cfg.Components == 0 {
		cfg.Components = DefaultComponents
	}
	m := metrics.Default()

	res, err := run(ctx, train, test, cfg, m)
	if err != nil {
		m.Runs.WithLabelValues("error").Inc()
		return nil, err
	}
	m.Runs.WithLabelValues("ok").Inc()
	return res, nil
}

func run(ctx context.Context, train, test [][]float64, cfg PipelineConfig, m *metrics.Registry) (*Result, error) {
	res := &Result{}

	// Stage 1: mean-centering (train mean applied to both sets).
	start := time.Now()
	mean, err := ComputeMean(train)
	var a *mat.Dense
	var testCentered *mat.Dense
	if err == nil {
		a, err = CenterAll(train, mean)
	}
	if err == nil {
		testCentered, err = CenterAll(test, mean)
	}
	m.ObserveStage(StageNormalize, err, time.Since(start))
	if err != nil {
		return nil, err
	}
	res.Mean = mean
	n, d := a.Dims()
	log.Debug().Str("stage", StageNormalize).Int("rows", n).Int("cols", d).Dur("duration", time.Since(start)).Msg("centered training and test sets")

	// Stage 2: eigenfaces.
	start = time.Now()
	var opts []BasisOption
	if cfg.UnitNorm {
		opts = append(opts, WithUnitNorm())
	}
	basis, err := BuildBasis(a, cfg.Components, opts...)
	m.ObserveStage(StageBasis, err, time.Since(start))
	if err != nil {
		return nil, err
	}
	res.Basis = basis
	log.Debug().Str("stage", StageBasis).Int("k", basis.K()).Floats64("eigenvalues", basis.Eigenvalues()).
		Dur("duration", time.Since(start)).Msg("built eigenface basis")

	// Stage 3: loadings, same solver for train and test.
	start = time.Now()
	solveOpts := []SolveOption{WithWorkers(cfg.Workers)}
	if cfg.Progress != nil {
		solveOpts = append(solveOpts, WithProgress(cfg.Progress))
	}
	res.TrainLoadings, err = SolveAll(ctx, rows(a), basis, solveOpts...)
	if err == nil {
		m.Solves.WithLabelValues("train").Add(float64(len(res.TrainLoadings)))
		res.TestLoadings, err = SolveAll(ctx, rows(testCentered), basis, solveOpts...)
	}
	m.ObserveStage(StageLoadings, err, time.Since(start))
	if err != nil {
		return nil, err
	}
	m.Solves.WithLabelValues("test").Add(float64(len(res.TestLoadings)))
	log.Debug().Str("stage", StageLoadings).Int("train", len(res.TrainLoadings)).Int("test", len(res.TestLoadings)).
		Dur("duration", time.Since(start)).Msg("solved loadings")

	// Stage 4: matching.
	start = time.Now()
	trainL, testL := asFloats(res.TrainLoadings), asFloats(res.TestLoadings)
	if len(trainL) != len(testL) {
		err = stageErr(StageMatch, len(trainL), len(testL),
			fmt.Errorf("train and test sets differ in size: %w", facematch.ErrLengthMismatch))
	}
	if err == nil {
		res.Distances, err = facematch.DistanceMatrix(trainL, testL)
	}
	if err == nil {
		res.Matches, err = facematch.MatchDistances(res.Distances)
	}
	m.ObserveStage(StageMatch, err, time.Since(start))
	if err != nil {
		var se *StageError
		if !errors.As(err, &se) {
			err = stageErr(StageMatch, len(trainL), len(testL), err)
		}
		return nil, err
	}
	res.Summary = facematch.Summarize(res.Matches)
	log.Debug().Str("stage", StageMatch).Int("recognized", res.Summary.Recognized).Int("total", res.Summary.Total).
		Dur("duration", time.Since(start)).Msg("matched loadings")

	return res, nil
}

// Project centers face with the stored mean and solves its loading.
func Project(face []float64, mean MeanFace, solver *Solver) (Loading, error) {
	centered, err := CenterVector(face, mean)
	if err != nil {
		return nil, err
	}
	return solver.Solve(centered)
}

func rows(a *mat.Dense) [][]float64 {
	n, _ := a.Dims()
	out := make([][]float64, n)
	for i := range out {
		out[i] = a.RawRowView(i)
	}
	return out
}

func asFloats(ls []Loading) [][]float64 {
	out := make([][]float64, len(ls))
	for i, l := range ls {
		out[i] = l
	}
	return out
}
