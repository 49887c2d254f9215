package eigenface

import (
	"errors"
	"fmt"
)

// Sentinel errors returned (wrapped in a *StageError) by the pipeline stages.
// Callers match them with errors.Is.
var (
	// ErrEmptyInput is returned when no vectors are supplied to mean computation.
	ErrEmptyInput = errors.New("eigenface: empty input")

	// ErrDimensionMismatch is returned when a vector length differs from the expected d.
	ErrDimensionMismatch = errors.New("eigenface: dimension mismatch")

	// ErrInsufficientSamples is returned when k exceeds the sample count n (or k < 1).
	ErrInsufficientSamples = errors.New("eigenface: insufficient samples")

	// ErrSingularSystem is returned when the normal-equations matrix is not invertible
	// or the Gram-matrix decomposition fails to converge.
	ErrSingularSystem = errors.New("eigenface: singular system")
)

// Stage names used in errors, logs and metrics.
const (
	StageNormalize = "normalize"
	StageBasis     = "basis"
	StageLoadings  = "loadings"
	StageMatch     = "match"
)

// StageError reports the failing stage and the offending dimensions.
type StageError struct {
	Stage string
	Rows  int
	Cols  int
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage failed (%dx%d): %v", e.Stage, e.Rows, e.Cols, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func stageErr(stage string, rows, cols int, err error) error {
	return &StageError{Stage: stage, Rows: rows, Cols: cols, Err: err}
}
