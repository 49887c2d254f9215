package eigenface

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// MeanFace is the elementwise average of the training vectors.
type MeanFace []float64

// ComputeMean returns the elementwise mean of vectors.
// All vectors must share the length of the first one.
func ComputeMean(vectors [][]float64) (MeanFace, error) {
	if len(vectors) == 0 {
		return nil, stageErr(StageNormalize, 0, 0, ErrEmptyInput)
	}

	d := len(vectors[0])
	if d == 0 {
		return nil, stageErr(StageNormalize, len(vectors), 0, ErrEmptyInput)
	}

	mean := make([]float64, d)
	for i, v := range vectors {
		if len(v) != d {
			return nil, stageErr(StageNormalize, len(vectors), d,
				fmt.Errorf("vector %d has length %d: %w", i, len(v), ErrDimensionMismatch))
		}
		floats.Add(mean, v)
	}
	floats.Scale(1/float64(len(vectors)), mean)

	return mean, nil
}

// CenterVector returns v - mean as a new slice.
func CenterVector(v []float64, mean MeanFace) ([]float64, error) {
	if len(v) != len(mean) {
		return nil, stageErr(StageNormalize, 1, len(v),
			fmt.Errorf("vector length %d, mean length %d: %w", len(v), len(mean), ErrDimensionMismatch))
	}
	out := make([]float64, len(v))
	floats.SubTo(out, v, mean)
	return out, nil
}

// CenterAll centers every vector against mean and stacks the results as rows
// of an n×d matrix. The mean is never recomputed from vectors.
func CenterAll(vectors [][]float64, mean MeanFace) (*mat.Dense, error) {
	if len(vectors) == 0 {
		return nil, stageErr(StageNormalize, 0, len(mean), ErrEmptyInput)
	}
	if len(mean) == 0 {
		return nil, stageErr(StageNormalize, len(vectors), 0, ErrEmptyInput)
	}

	d := len(mean)
	data := make([]float64, len(vectors)*d)
	for i, v := range vectors {
		if len(v) != d {
			return nil, stageErr(StageNormalize, len(vectors), d,
				fmt.Errorf("vector %d has length %d: %w", i, len(v), ErrDimensionMismatch))
		}
		floats.SubTo(data[i*d:(i+1)*d], v, mean)
	}
	return mat.NewDense(len(vectors), d, data), nil
}
