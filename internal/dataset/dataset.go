// Package dataset loads face vectors with identity labels and splits them into
// one train and one test example per identity.
package dataset

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/kozaktomas/eigenfaces/internal/eigenface"
	"github.com/kozaktomas/eigenfaces/internal/facematch"
)

// ErrUnsupportedFormat is returned for files that are neither JSON nor CSV.
var ErrUnsupportedFormat = errors.New("dataset: unsupported file format")

// FaceSet is an ordered collection of face vectors with one label per vector.
type FaceSet struct {
	Side    int         `json:"side,omitempty"` // image side length, informational
	Vectors [][]float64 `json:"-"`
	Labels  []string    `json:"-"`
}

// Len returns the number of faces.
func (s FaceSet) Len() int {
	return len(s.Vectors)
}

// Dim returns the vector length of the first face, or 0 for an empty set.
func (s FaceSet) Dim() int {
	if len(s.Vectors) == 0 {
		return 0
	}
	return len(s.Vectors[0])
}

// Validate checks that every vector has length dim and every vector has a label.
func (s FaceSet) Validate(dim int) error {
	if len(s.Labels) != len(s.Vectors) {
		return fmt.Errorf("%d labels for %d vectors: %w", len(s.Labels), len(s.Vectors), eigenface.ErrDimensionMismatch)
	}
	for i, v := range s.Vectors {
		if len(v) != dim {
			return fmt.Errorf("face %d (%s) has %d values, want %d: %w", i, s.Labels[i], len(v), dim, eigenface.ErrDimensionMismatch)
		}
	}
	return nil
}

type jsonFace struct {
	Label  string    `json:"label"`
	Pixels []float64 `json:"pixels"`
}

type jsonFile struct {
	Side  int        `json:"side"`
	Faces []jsonFace `json:"faces"`
}

// Load reads a face set from path. The format is chosen by extension:
// .json ({"side":64,"faces":[{"label":"s1","pixels":[...]}]}) or
// .csv (label,p0,p1,... per line, no header).
func Load(path string) (FaceSet, error) {
	f, err := os.Open(path) //nolint:gosec // path is user-provided CLI argument
	if err != nil {
		return FaceSet{}, fmt.Errorf("opening dataset: %w", err)
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return ReadJSON(f)
	case ".csv":
		return ReadCSV(f)
	default:
		return FaceSet{}, fmt.Errorf("%s: %w", filepath.Ext(path), ErrUnsupportedFormat)
	}
}

// ReadJSON decodes a JSON face set.
func ReadJSON(r io.Reader) (FaceSet, error) {
	var jf jsonFile
	if err := json.NewDecoder(r).Decode(&jf); err != nil {
		return FaceSet{}, fmt.Errorf("decoding JSON dataset: %w", err)
	}
	set := FaceSet{
		Side:    jf.Side,
		Vectors: make([][]float64, len(jf.Faces)),
		Labels:  make([]string, len(jf.Faces)),
	}
	for i, face := range jf.Faces {
		set.Vectors[i] = face.Pixels
		set.Labels[i] = face.Label
	}
	return set, nil
}

// WriteJSON encodes a face set in the format read by ReadJSON.
func WriteJSON(w io.Writer, set FaceSet) error {
	jf := jsonFile{Side: set.Side, Faces: make([]jsonFace, len(set.Vectors))}
	for i := range set.Vectors {
		jf.Faces[i] = jsonFace{Label: set.Labels[i], Pixels: set.Vectors[i]}
	}
	if err := json.NewEncoder(w).Encode(jf); err != nil {
		return fmt.Errorf("encoding JSON dataset: %w", err)
	}
	return nil
}

// ReadCSV decodes a CSV face set with one "label,p0,p1,..." record per face.
func ReadCSV(r io.Reader) (FaceSet, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var set FaceSet
	line := 0
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return FaceSet{}, fmt.Errorf("reading CSV line %d: %w", line, err)
		}
		if len(record) < 2 {
			return FaceSet{}, fmt.Errorf("CSV line %d: expected label and at least one value", line)
		}
		vec := make([]float64, len(record)-1)
		for j, field := range record[1:] {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return FaceSet{}, fmt.Errorf("CSV line %d column %d: %w", line, j+2, err)
			}
			vec[j] = v
		}
		set.Labels = append(set.Labels, record[0])
		set.Vectors = append(set.Vectors, vec)
	}
	return set, nil
}

// Split selects one train and one test vector per identity: the first
// observed image goes to train, the last observed image to test. Identities
// are ordered by first appearance and compared after NormalizeIdentity.
// Identities with a single image are skipped and returned in skipped.
func Split(set FaceSet) (train, test FaceSet, skipped []string, err error) {
	if len(set.Labels) != len(set.Vectors) {
		return FaceSet{}, FaceSet{}, nil,
			fmt.Errorf("%d labels for %d vectors: %w", len(set.Labels), len(set.Vectors), eigenface.ErrDimensionMismatch)
	}
	if len(set.Vectors) == 0 {
		return FaceSet{}, FaceSet{}, nil, fmt.Errorf("splitting dataset: %w", eigenface.ErrEmptyInput)
	}

	type span struct {
		label       string
		first, last int
	}
	var order []string
	spans := make(map[string]*span)
	for i, label := range set.Labels {
		key := facematch.NormalizeIdentity(label)
		s, ok := spans[key]
		if !ok {
			spans[key] = &span{label: label, first: i, last: i}
			order = append(order, key)
			continue
		}
		s.last = i
	}

	train = FaceSet{Side: set.Side}
	test = FaceSet{Side: set.Side}
	for _, key := range order {
		s := spans[key]
		if s.first == s.last {
			skipped = append(skipped, s.label)
			continue
		}
		train.Vectors = append(train.Vectors, set.Vectors[s.first])
		train.Labels = append(train.Labels, s.label)
		test.Vectors = append(test.Vectors, set.Vectors[s.last])
		test.Labels = append(test.Labels, s.label)
	}
	if train.Len() == 0 {
		return FaceSet{}, FaceSet{}, skipped, fmt.Errorf("no identity has two images: %w", eigenface.ErrEmptyInput)
	}
	return train, test, skipped, nil
}
