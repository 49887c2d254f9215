package eigenface

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sync"
	"sync/atomic"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Loading is the k-dimensional least-squares coefficient vector of one face.
type Loading []float64

// maxCondition bounds the condition number of the column-scaled BᵀB, the
// matrix with unit diagonal. Eigenface lengths differ by the square roots of
// their eigenvalues, so the cap is applied after removing that scale.
const maxCondition = 1e12

// minColumnRatio is the smallest squared eigenface length, relative to the
// longest one, that still counts as a basis direction.
const minColumnRatio = 1e-20

// Solver solves the normal equations (BᵀB)·w = Bᵀ·face for a fixed basis.
// With D = diag(BᵀB) it factorizes D^-½·BᵀB·D^-½ once; Solve is safe for
// concurrent use.
type Solver struct {
	basis *Basis
	scale []float64 // 1/‖b_j‖
	chol  mat.Cholesky
}

// NewSolver factorizes BᵀB for basis.
func NewSolver(basis *Basis) (*Solver, error) {
	if basis == nil {
		return nil, stageErr(StageLoadings, 0, 0, ErrEmptyInput)
	}
	d, k := basis.Dim(), basis.K()

	var gram mat.SymDense
	gram.SymOuterK(1, basis.vectors.T())

	diag := make([]float64, k)
	for j := range diag {
		diag[j] = gram.At(j, j)
	}
	longest := floats.Max(diag)
	s := &Solver{basis: basis, scale: make([]float64, k)}
	for j, v := range diag {
		if !(v > longest*minColumnRatio) {
			return nil, stageErr(StageLoadings, d, k,
				fmt.Errorf("eigenface %d has squared length %.3g: %w", j, v, ErrSingularSystem))
		}
		s.scale[j] = 1 / math.Sqrt(v)
	}

	scaled := mat.NewSymDense(k, nil)
	for i := 0; i < k; i++ {
		for j := i; j < k; j++ {
			scaled.SetSym(i, j, gram.At(i, j)*s.scale[i]*s.scale[j])
		}
	}
	if ok := s.chol.Factorize(scaled); !ok {
		return nil, stageErr(StageLoadings, d, k,
			fmt.Errorf("basis gram matrix is not positive definite: %w", ErrSingularSystem))
	}
	if cond := s.chol.Cond(); math.IsInf(cond, 0) || math.IsNaN(cond) || cond > maxCondition {
		return nil, stageErr(StageLoadings, d, k,
			fmt.Errorf("basis gram matrix condition %.3g: %w", cond, ErrSingularSystem))
	}
	return s, nil
}

// Solve returns the loading w minimizing ‖face − B·w‖² (no intercept term).
func (s *Solver) Solve(face []float64) (Loading, error) {
	d, k := s.basis.Dim(), s.basis.K()
	if len(face) != d {
		return nil, stageErr(StageLoadings, 1, len(face),
			fmt.Errorf("face length %d, basis dimension %d: %w", len(face), d, ErrDimensionMismatch))
	}

	var rhs mat.VecDense
	rhs.MulVec(s.basis.vectors.T(), mat.NewVecDense(d, face))
	for j, c := range s.scale {
		rhs.SetVec(j, rhs.AtVec(j)*c)
	}

	y := mat.NewVecDense(k, nil)
	if err := s.chol.SolveVecTo(y, &rhs); err != nil {
		return nil, stageErr(StageLoadings, d, k, fmt.Errorf("%w: %v", ErrSingularSystem, err))
	}
	w := mat.Col(nil, 0, y)
	floats.Mul(w, s.scale)
	return Loading(w), nil
}

// Solve computes the loading of a single face against basis.
func Solve(face []float64, basis *Basis) (Loading, error) {
	s, err := NewSolver(basis)
	if err != nil {
		return nil, err
	}
	return s.Solve(face)
}

type solveOptions struct {
	workers  int
	progress func()
}

// SolveOption configures SolveAll.
type SolveOption func(*solveOptions)

// WithWorkers sets the number of concurrent solves. Values below 1 use GOMAXPROCS.
func WithWorkers(n int) SolveOption {
	return func(o *solveOptions) {
		o.workers = n
	}
}

// WithProgress registers a callback invoked after every completed solve.
func WithProgress(fn func()) SolveOption {
	return func(o *solveOptions) {
		o.progress = fn
	}
}

// SolveAll computes the loading of every face against basis. The result is
// index-aligned with faces. The first failure aborts the batch.
func SolveAll(ctx context.Context, faces [][]float64, basis *Basis, opts ...SolveOption) ([]Loading, error) {
	o := solveOptions{workers: runtime.GOMAXPROCS(0)}
	for _, opt := range opts {
		opt(&o)
	}
	if o.workers < 1 {
		o.workers = runtime.GOMAXPROCS(0)
	}

	solver, err := NewSolver(basis)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	loadings := make([]Loading, len(faces))
	var (
		firstErr error
		errOnce  sync.Once
		solved   int64
		wg       sync.WaitGroup
	)
	sem := make(chan struct{}, o.workers)

	for i := range faces {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			if ctx.Err() != nil {
				return
			}

			w, err := solver.Solve(faces[idx])
			if err != nil {
				errOnce.Do(func() {
					firstErr = fmt.Errorf("face %d: %w", idx, err)
					cancel()
				})
				return
			}
			loadings[idx] = w
			atomic.AddInt64(&solved, 1)
			if o.progress != nil {
				o.progress()
			}
		}(i)
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	if err := ctx.Err(); err != nil && int(solved) != len(faces) {
		return nil, fmt.Errorf("solving loadings: %w", err)
	}
	return loadings, nil
}

// Reconstruct returns B·w, the face approximation encoded by w (mean not added).
func Reconstruct(w Loading, basis *Basis) ([]float64, error) {
	if len(w) != basis.K() {
		return nil, stageErr(StageLoadings, basis.Dim(), basis.K(),
			fmt.Errorf("loading length %d: %w", len(w), ErrDimensionMismatch))
	}
	var out mat.VecDense
	out.MulVec(basis.vectors, mat.NewVecDense(len(w), []float64(w)))
	return mat.Col(nil, 0, &out), nil
}

// ReconstructionError returns ‖face − B·w‖² for a centered face.
func ReconstructionError(face []float64, w Loading, basis *Basis) (float64, error) {
	rec, err := Reconstruct(w, basis)
	if err != nil {
		return 0, err
	}
	if len(face) != len(rec) {
		return 0, stageErr(StageLoadings, 1, len(face),
			fmt.Errorf("face length %d, basis dimension %d: %w", len(face), len(rec), ErrDimensionMismatch))
	}
	floats.Sub(rec, face)
	return floats.Dot(rec, rec), nil
}
