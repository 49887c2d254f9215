package facematch

import (
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"sync"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// ErrLengthMismatch is returned when loading sets or loadings have incompatible lengths.
var ErrLengthMismatch = errors.New("facematch: length mismatch")

// MatchResult holds the verification outcome for one train image.
// Indices are 0-based in Go and 1-based image numbers in JSON.
type MatchResult struct {
	TrainIndex      int     // 0-based
	SelfDistance    float64 // d(i, i)
	ClosestIndex    int     // 0-based argmin
	ClosestDistance float64 // d(i, closest)
	Margin          float64 // self - closest, >= 0
}

type matchJSON struct {
	TrainImage      int     `json:"train_image_index"`
	SelfDistance    float64 `json:"distance_to_test_image"`
	ClosestImage    int     `json:"closest_test_image"`
	ClosestDistance float64 `json:"closest_distance"`
	Margin          float64 `json:"distance_to_closest_test_image"`
}

// MarshalJSON writes the train and closest test images as 1-based numbers.
func (r MatchResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(matchJSON{
		TrainImage:      r.TrainIndex + 1,
		SelfDistance:    r.SelfDistance,
		ClosestImage:    r.ClosestIndex + 1,
		ClosestDistance: r.ClosestDistance,
		Margin:          r.Margin,
	})
}

// UnmarshalJSON reads the form written by MarshalJSON.
func (r *MatchResult) UnmarshalJSON(data []byte) error {
	var m matchJSON
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	if m.TrainImage < 1 || m.ClosestImage < 1 {
		return fmt.Errorf("image numbers start at 1, got train %d closest %d", m.TrainImage, m.ClosestImage)
	}
	*r = MatchResult{
		TrainIndex:      m.TrainImage - 1,
		SelfDistance:    m.SelfDistance,
		ClosestIndex:    m.ClosestImage - 1,
		ClosestDistance: m.ClosestDistance,
		Margin:          m.Margin,
	}
	return nil
}

// Recognized reports whether the true test image is the (tied-)closest one.
func (r MatchResult) Recognized() bool {
	return r.Margin == 0
}

// LabeledMatch is a match row with identity labels resolved, as shown to
// users. Image numbers are 1-based.
type LabeledMatch struct {
	TrainImage      int     `json:"train_image_index"`
	Identity        string  `json:"identity"`
	SelfDistance    float64 `json:"distance_to_test_image"`
	ClosestImage    int     `json:"closest_test_image"`
	ClosestIdentity string  `json:"closest_identity"`
	ClosestDistance float64 `json:"closest_distance"`
	Margin          float64 `json:"distance_to_closest_test_image"`
	Recognized      bool    `json:"recognized"`
}

// Label resolves identity labels for results. labels is indexed like the
// train set; indices outside it get an empty label.
func Label(results []MatchResult, labels []string) []LabeledMatch {
	label := func(i int) string {
		if i < 0 || i >= len(labels) {
			return ""
		}
		return labels[i]
	}
	rows := make([]LabeledMatch, len(results))
	for i, r := range results {
		rows[i] = LabeledMatch{
			TrainImage:      r.TrainIndex + 1,
			Identity:        label(r.TrainIndex),
			SelfDistance:    r.SelfDistance,
			ClosestImage:    r.ClosestIndex + 1,
			ClosestIdentity: label(r.ClosestIndex),
			ClosestDistance: r.ClosestDistance,
			Margin:          r.Margin,
			Recognized:      r.ClosestIndex == r.TrainIndex || r.Recognized(),
		}
	}
	return rows
}

// SquaredDistance returns ‖a − b‖².
func SquaredDistance(a, b []float64) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("loading lengths %d and %d: %w", len(a), len(b), ErrLengthMismatch)
	}
	var sum float64
	for i := range a {
		diff := a[i] - b[i]
		sum += diff * diff
	}
	return sum, nil
}

// DistanceMatrix returns the len(train)×len(test) matrix of squared Euclidean
// distances. Rows are computed concurrently.
func DistanceMatrix(train, test [][]float64) (*mat.Dense, error) {
	if len(train) == 0 || len(test) == 0 {
		return nil, fmt.Errorf("empty loading set (train=%d, test=%d): %w", len(train), len(test), ErrLengthMismatch)
	}
	k := len(train[0])
	for i := range train {
		if len(train[i]) != k {
			return nil, fmt.Errorf("train loading %d has length %d, want %d: %w", i, len(train[i]), k, ErrLengthMismatch)
		}
	}
	for j := range test {
		if len(test[j]) != k {
			return nil, fmt.Errorf("test loading %d has length %d, want %d: %w", j, len(test[j]), k, ErrLengthMismatch)
		}
	}

	dist := mat.NewDense(len(train), len(test), nil)
	sem := make(chan struct{}, runtime.GOMAXPROCS(0))
	var wg sync.WaitGroup
	for i := range train {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			diff := make([]float64, k)
			row := dist.RawRowView(i)
			for j := range test {
				floats.SubTo(diff, train[i], test[j])
				row[j] = floats.Dot(diff, diff)
			}
		}(i)
	}
	wg.Wait()

	return dist, nil
}

// Match compares every train loading against every test loading. Both sets
// must be index-aligned by identity; that alignment is not verified here.
func Match(train, test [][]float64) ([]MatchResult, error) {
	if len(train) != len(test) {
		return nil, fmt.Errorf("train set has %d loadings, test set %d: %w", len(train), len(test), ErrLengthMismatch)
	}
	dist, err := DistanceMatrix(train, test)
	if err != nil {
		return nil, err
	}
	return MatchDistances(dist)
}

// MatchDistances derives match results from a square distance matrix.
// Ties for the closest test image go to the smallest index.
func MatchDistances(dist mat.Matrix) ([]MatchResult, error) {
	n, m := dist.Dims()
	if n != m {
		return nil, fmt.Errorf("distance matrix is %dx%d: %w", n, m, ErrLengthMismatch)
	}

	results := make([]MatchResult, n)
	for i := 0; i < n; i++ {
		closest := 0
		best := dist.At(i, 0)
		for j := 1; j < m; j++ {
			if d := dist.At(i, j); d < best {
				best = d
				closest = j
			}
		}
		self := dist.At(i, i)
		results[i] = MatchResult{
			TrainIndex:      i,
			SelfDistance:    self,
			ClosestIndex:    closest,
			ClosestDistance: best,
			Margin:          self - best,
		}
	}
	return results, nil
}

// Summary aggregates match results.
type Summary struct {
	Total       int     `json:"total"`
	Recognized  int     `json:"recognized"`
	Failures    []int   `json:"failures,omitempty"` // 1-based train images whose closest test image is another identity
	Rate        float64 `json:"recognition_rate"`
	MeanMargin  float64 `json:"mean_margin"`
	WorstMargin float64 `json:"worst_margin"`
}

// Summarize computes the recognition rate and margin statistics.
func Summarize(results []MatchResult) Summary {
	s := Summary{Total: len(results)}
	if len(results) == 0 {
		return s
	}
	var sum float64
	for _, r := range results {
		sum += r.Margin
		if r.Margin > s.WorstMargin {
			s.WorstMargin = r.Margin
		}
		if r.ClosestIndex == r.TrainIndex || r.Recognized() {
			s.Recognized++
			continue
		}
		s.Failures = append(s.Failures, r.TrainIndex+1)
	}
	s.Rate = float64(s.Recognized) / float64(s.Total)
	s.MeanMargin = sum / float64(s.Total)
	return s
}
