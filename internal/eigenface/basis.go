package eigenface

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Basis holds the top-k eigenfaces derived from a centered training matrix.
// It is immutable after BuildBasis returns.
type Basis struct {
	vectors     *mat.Dense // d×k eigenfaces, one per column
	gram        *mat.Dense // n×k eigenvectors of A·Aᵀ
	eigenvalues []float64  // descending, length k
	total       float64    // trace of A·Aᵀ
	normalized  bool
}

type basisOptions struct {
	unitNorm bool
}

// BasisOption configures BuildBasis.
type BasisOption func(*basisOptions)

// WithUnitNorm scales every eigenface to unit length.
// Without it the eigenfaces are left as v = Aᵀ·u with squared norm λ.
func WithUnitNorm() BasisOption {
	return func(o *basisOptions) {
		o.unitNorm = true
	}
}

// BuildBasis computes the top-k eigenfaces of the centered n×d matrix a
// using the Gram-matrix trick: it decomposes the n×n matrix A·Aᵀ instead of
// the d×d covariance and maps each eigenvector back with v = Aᵀ·u.
func BuildBasis(a *mat.Dense, k int, opts ...BasisOption) (*Basis, error) {
	if a == nil || a.IsEmpty() {
		return nil, stageErr(StageBasis, 0, 0, ErrEmptyInput)
	}
	n, d := a.Dims()
	if k < 1 || k > n {
		return nil, stageErr(StageBasis, n, d,
			fmt.Errorf("k=%d with n=%d samples: %w", k, n, ErrInsufficientSamples))
	}

	var o basisOptions
	for _, opt := range opts {
		opt(&o)
	}

	// M = A·Aᵀ
	var m mat.SymDense
	m.SymOuterK(1, a)

	var es mat.EigenSym
	if ok := es.Factorize(&m, true); !ok {
		return nil, stageErr(StageBasis, n, n,
			fmt.Errorf("gram eigen decomposition did not converge: %w", ErrSingularSystem))
	}

	// gonum returns eigenvalues in ascending order.
	values := es.Values(nil)
	var u mat.Dense
	es.VectorsTo(&u)

	eigenvalues := make([]float64, k)
	uk := mat.NewDense(n, k, nil)
	for j := 0; j < k; j++ {
		src := n - 1 - j
		eigenvalues[j] = values[src]
		uk.SetCol(j, mat.Col(nil, src, &u))
	}

	var v mat.Dense
	v.Mul(a.T(), uk)

	if o.unitNorm {
		col := make([]float64, d)
		for j := 0; j < k; j++ {
			mat.Col(col, j, &v)
			norm := floats.Norm(col, 2)
			if norm == 0 {
				continue
			}
			floats.Scale(1/norm, col)
			v.SetCol(j, col)
		}
	}

	return &Basis{
		vectors:     &v,
		gram:        uk,
		eigenvalues: eigenvalues,
		total:       floats.Sum(values),
		normalized:  o.unitNorm,
	}, nil
}

// Vectors returns the d×k eigenface matrix. The caller must not modify it.
func (b *Basis) Vectors() *mat.Dense { return b.vectors }

// GramVectors returns the n×k eigenvectors of A·Aᵀ in the same order as the eigenfaces.
func (b *Basis) GramVectors() *mat.Dense { return b.gram }

// Eigenvalues returns a copy of the retained eigenvalues in descending order.
func (b *Basis) Eigenvalues() []float64 {
	out := make([]float64, len(b.eigenvalues))
	copy(out, b.eigenvalues)
	return out
}

// Dim returns the vector dimension d.
func (b *Basis) Dim() int {
	r, _ := b.vectors.Dims()
	return r
}

// K returns the number of eigenfaces.
func (b *Basis) K() int {
	_, c := b.vectors.Dims()
	return c
}

// Normalized reports whether the eigenfaces were scaled to unit length.
func (b *Basis) Normalized() bool { return b.normalized }

// Column returns a copy of eigenface j.
func (b *Basis) Column(j int) []float64 {
	return mat.Col(nil, j, b.vectors)
}

// ExplainedVariance returns the fraction of total variance captured by each eigenface.
func (b *Basis) ExplainedVariance() []float64 {
	out := make([]float64, len(b.eigenvalues))
	if b.total <= 0 {
		return out
	}
	for i, v := range b.eigenvalues {
		out[i] = v / b.total
	}
	return out
}

// TotalVariance returns the trace of A·Aᵀ, the sum of all n eigenvalues
// including the ones that were not retained.
func (b *Basis) TotalVariance() float64 { return b.total }

// NewBasisFromColumns rebuilds a basis from stored eigenfaces, e.g. a persisted run.
// totalVariance is the trace reported by TotalVariance on the original basis;
// a non-positive value falls back to the sum of the retained eigenvalues.
// Gram vectors are not available on a rebuilt basis.
func NewBasisFromColumns(columns [][]float64, eigenvalues []float64, totalVariance float64, normalized bool) (*Basis, error) {
	k := len(columns)
	if k == 0 {
		return nil, stageErr(StageBasis, 0, 0, ErrEmptyInput)
	}
	if len(eigenvalues) != k {
		return nil, stageErr(StageBasis, k, len(eigenvalues),
			fmt.Errorf("%d eigenvalues for %d eigenfaces: %w", len(eigenvalues), k, ErrDimensionMismatch))
	}
	d := len(columns[0])
	if d == 0 {
		return nil, stageErr(StageBasis, 0, k, ErrEmptyInput)
	}
	v := mat.NewDense(d, k, nil)
	for j, col := range columns {
		if len(col) != d {
			return nil, stageErr(StageBasis, d, k,
				fmt.Errorf("eigenface %d has length %d: %w", j, len(col), ErrDimensionMismatch))
		}
		v.SetCol(j, col)
	}
	ev := make([]float64, k)
	copy(ev, eigenvalues)
	if totalVariance <= 0 {
		totalVariance = floats.Sum(ev)
	}
	return &Basis{
		vectors:     v,
		eigenvalues: ev,
		total:       totalVariance,
		normalized:  normalized,
	}, nil
}
