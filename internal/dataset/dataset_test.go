package dataset

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kozaktomas/eigenfaces/internal/eigenface"
)

func TestReadCSV(t *testing.T) {
	input := "s1,1,2,3\ns2, 4, 5, 6\n"

	set, err := ReadCSV(strings.NewReader(input))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if set.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", set.Len())
	}
	if set.Dim() != 3 {
		t.Errorf("Dim() = %d, want 3", set.Dim())
	}
	if set.Labels[1] != "s2" {
		t.Errorf("Labels[1] = %q, want s2", set.Labels[1])
	}
	if set.Vectors[1][2] != 6 {
		t.Errorf("Vectors[1][2] = %v, want 6", set.Vectors[1][2])
	}
}

func TestReadCSV_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "label only", input: "s1\n"},
		{name: "not a number", input: "s1,1,abc\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ReadCSV(strings.NewReader(tt.input)); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestJSONRoundTrip(t *testing.T) {
	set := FaceSet{
		Side:    2,
		Vectors: [][]float64{{1, 2, 3, 4}, {5, 6, 7, 8}},
		Labels:  []string{"a", "b"},
	}

	var buf bytes.Buffer
	if err := WriteJSON(&buf, set); err != nil {
		t.Fatalf("WriteJSON() error: %v", err)
	}
	got, err := ReadJSON(&buf)
	if err != nil {
		t.Fatalf("ReadJSON() error: %v", err)
	}
	if got.Side != 2 || got.Len() != 2 || got.Labels[1] != "b" || got.Vectors[1][3] != 8 {
		t.Errorf("ReadJSON() = %+v, want %+v", got, set)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()

	csvPath := filepath.Join(dir, "faces.csv")
	if err := os.WriteFile(csvPath, []byte("a,1,2\nb,3,4\n"), 0600); err != nil {
		t.Fatal(err)
	}
	set, err := Load(csvPath)
	if err != nil {
		t.Fatalf("Load(csv) error: %v", err)
	}
	if set.Len() != 2 {
		t.Errorf("Load(csv) Len() = %d, want 2", set.Len())
	}

	jsonPath := filepath.Join(dir, "faces.json")
	if err := os.WriteFile(jsonPath, []byte(`{"side":1,"faces":[{"label":"a","pixels":[1]}]}`), 0600); err != nil {
		t.Fatal(err)
	}
	set, err = Load(jsonPath)
	if err != nil {
		t.Fatalf("Load(json) error: %v", err)
	}
	if set.Len() != 1 || set.Side != 1 {
		t.Errorf("Load(json) = %+v", set)
	}

	txtPath := filepath.Join(dir, "faces.txt")
	if err := os.WriteFile(txtPath, []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(txtPath); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("Load(txt) error = %v, want ErrUnsupportedFormat", err)
	}

	if _, err := Load(filepath.Join(dir, "missing.csv")); err == nil {
		t.Error("Load(missing) expected error")
	}
}

func TestValidate(t *testing.T) {
	set := FaceSet{Vectors: [][]float64{{1, 2}, {1, 2, 3}}, Labels: []string{"a", "b"}}
	if err := set.Validate(2); !errors.Is(err, eigenface.ErrDimensionMismatch) {
		t.Errorf("Validate() error = %v, want ErrDimensionMismatch", err)
	}

	set = FaceSet{Vectors: [][]float64{{1, 2}}, Labels: nil}
	if err := set.Validate(2); !errors.Is(err, eigenface.ErrDimensionMismatch) {
		t.Errorf("Validate() error = %v, want ErrDimensionMismatch", err)
	}

	set = FaceSet{Vectors: [][]float64{{1, 2}}, Labels: []string{"a"}}
	if err := set.Validate(2); err != nil {
		t.Errorf("Validate() unexpected error: %v", err)
	}
}

func TestSplit_FirstToTrainLastToTest(t *testing.T) {
	set := FaceSet{
		Vectors: [][]float64{{1}, {2}, {3}, {4}, {5}, {6}, {7}},
		Labels:  []string{"Anna", "Bob", "anna", "Cyril", "Bob", "ANNA", "Bob"},
	}

	train, test, skipped, err := Split(set)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if train.Len() != 2 || test.Len() != 2 {
		t.Fatalf("train=%d test=%d, want 2 and 2", train.Len(), test.Len())
	}
	// Anna: first 1, last 6. Bob: first 2, last 7.
	wantTrain := []float64{1, 2}
	wantTest := []float64{6, 7}
	for i := range wantTrain {
		if train.Vectors[i][0] != wantTrain[i] {
			t.Errorf("train[%d] = %v, want %v", i, train.Vectors[i][0], wantTrain[i])
		}
		if test.Vectors[i][0] != wantTest[i] {
			t.Errorf("test[%d] = %v, want %v", i, test.Vectors[i][0], wantTest[i])
		}
		if train.Labels[i] != test.Labels[i] {
			t.Errorf("labels not aligned at %d: %q vs %q", i, train.Labels[i], test.Labels[i])
		}
	}
	if len(skipped) != 1 || skipped[0] != "Cyril" {
		t.Errorf("skipped = %v, want [Cyril]", skipped)
	}
}

func TestSplit_Errors(t *testing.T) {
	if _, _, _, err := Split(FaceSet{}); !errors.Is(err, eigenface.ErrEmptyInput) {
		t.Errorf("Split(empty) error = %v, want ErrEmptyInput", err)
	}

	single := FaceSet{Vectors: [][]float64{{1}, {2}}, Labels: []string{"a", "b"}}
	if _, _, _, err := Split(single); !errors.Is(err, eigenface.ErrEmptyInput) {
		t.Errorf("Split(single images) error = %v, want ErrEmptyInput", err)
	}

	ragged := FaceSet{Vectors: [][]float64{{1}}, Labels: []string{"a", "b"}}
	if _, _, _, err := Split(ragged); !errors.Is(err, eigenface.ErrDimensionMismatch) {
		t.Errorf("Split(ragged) error = %v, want ErrDimensionMismatch", err)
	}
}
