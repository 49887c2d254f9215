package database

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
)

func TestGalleryIndex_Search(t *testing.T) {
	run := testRun(t)

	idx := NewGalleryIndex()
	if err := idx.BuildFromRun(run); err != nil {
		t.Fatalf("BuildFromRun failed: %v", err)
	}
	if idx.Count() != 3 {
		t.Fatalf("Count() = %d, want 3", idx.Count())
	}

	for i, w := range run.TrainLoadings {
		got, err := idx.Search(w, 2)
		if err != nil {
			t.Fatalf("Search(%d) error: %v", i, err)
		}
		if len(got) != 2 {
			t.Fatalf("Search(%d) returned %d candidates, want 2", i, len(got))
		}
		if got[0].TrainIndex != i || got[0].Identity != run.Identities[i] {
			t.Errorf("Search(%d) top = %+v", i, got[0])
		}
		if math.Abs(got[0].Distance) > 1e-12 {
			t.Errorf("Search(%d) top distance = %v, want 0", i, got[0].Distance)
		}
		// Distinct unit identities are sqrt(2) apart in face space.
		if math.Abs(got[1].Distance-2) > 1e-8 {
			t.Errorf("Search(%d) second distance = %v, want 2", i, got[1].Distance)
		}
	}
}

// randomGallery builds a run with n random k-component train loadings.
func randomGallery(n, k int, seed uint64) *StoredRun {
	rng := rand.New(rand.NewPCG(seed, seed+1))
	run := &StoredRun{ID: uuid.New(), Components: k}
	for i := 0; i < n; i++ {
		w := make([]float64, k)
		for j := range w {
			w[j] = rng.NormFloat64()
		}
		run.Identities = append(run.Identities, fmt.Sprintf("id-%d", i))
		run.TrainLoadings = append(run.TrainLoadings, w)
	}
	return run
}

func bruteNearest(run *StoredRun, query []float64) (int, float64) {
	best, bestDist := -1, math.Inf(1)
	for i, w := range run.TrainLoadings {
		if d := bruteDistance(w, query); d < bestDist {
			best, bestDist = i, d
		}
	}
	return best, bestDist
}

func TestGalleryIndex_SearchMatchesBruteForce(t *testing.T) {
	const k = 6
	for _, n := range []int{40, 400} {
		run := randomGallery(n, k, uint64(n))
		idx := NewGalleryIndex()
		if err := idx.BuildFromRun(run); err != nil {
			t.Fatalf("BuildFromRun(%d) failed: %v", n, err)
		}

		rng := rand.New(rand.NewPCG(7, 8))
		for q := 0; q < 50; q++ {
			query := make([]float64, k)
			for j := range query {
				query[j] = rng.NormFloat64()
			}
			got, err := idx.Search(query, 1)
			if err != nil {
				t.Fatalf("Search failed: %v", err)
			}
			want, wantDist := bruteNearest(run, query)
			if len(got) != 1 || got[0].TrainIndex != want {
				t.Errorf("n=%d query %d: got %+v, want train index %d at %v", n, q, got, want, wantDist)
			}
		}
	}
}

func TestGalleryIndex_SearchLargeGallery(t *testing.T) {
	const k = 4
	run := randomGallery(HNSWExactScanLimit+200, k, 99)
	idx := NewGalleryIndex()
	if err := idx.BuildFromRun(run); err != nil {
		t.Fatalf("BuildFromRun failed: %v", err)
	}

	query := run.TrainLoadings[10]
	got, err := idx.Search(query, 5)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("Search returned %d candidates, want 5", len(got))
	}
	for i, c := range got {
		d := bruteDistance(run.TrainLoadings[c.TrainIndex], query)
		if c.Distance != d {
			t.Errorf("candidate %d distance = %v, want exact %v", i, c.Distance, d)
		}
		if i > 0 && got[i-1].Distance > c.Distance {
			t.Errorf("candidates out of order at %d: %v > %v", i, got[i-1].Distance, c.Distance)
		}
	}
}

func bruteDistance(a, b []float64) float64 {
	var d float64
	for j := range a {
		diff := a[j] - b[j]
		d += diff * diff
	}
	return d
}

func TestSortCandidates(t *testing.T) {
	candidates := []Candidate{
		{TrainIndex: 4, Distance: 1},
		{TrainIndex: 2, Distance: 0.5},
		{TrainIndex: 1, Distance: 1},
		{TrainIndex: 3, Distance: 0.5},
	}
	SortCandidates(candidates)

	want := []int{2, 3, 1, 4}
	for i, c := range candidates {
		if c.TrainIndex != want[i] {
			t.Errorf("position %d: train index %d, want %d", i, c.TrainIndex, want[i])
		}
	}
}

func TestGalleryIndex_Errors(t *testing.T) {
	idx := NewGalleryIndex()
	if _, err := idx.Search([]float64{0, 0}, 1); !errors.Is(err, ErrIndexNotInitialized) {
		t.Errorf("expected ErrIndexNotInitialized, got %v", err)
	}
	if !idx.IsEmpty() {
		t.Error("expected empty index")
	}

	if err := idx.BuildFromRun(testRun(t)); err != nil {
		t.Fatal(err)
	}
	if _, err := idx.Search([]float64{0, 0, 0}, 1); err == nil {
		t.Error("expected error for wrong query length")
	}
}

func TestGalleryIndex_SaveLoad(t *testing.T) {
	run := testRun(t)
	idx := NewGalleryIndex()
	if err := idx.BuildFromRun(run); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(t.TempDir(), "gallery.hnsw")
	if err := idx.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	meta, err := LoadGalleryMetadata(path)
	if err != nil {
		t.Fatalf("LoadGalleryMetadata failed: %v", err)
	}
	if meta.RunID != run.ID || meta.Identities != 3 || meta.Components != 2 {
		t.Errorf("unexpected metadata %+v", meta)
	}

	loaded, err := LoadGalleryIndex(path)
	if err != nil {
		t.Fatalf("LoadGalleryIndex failed: %v", err)
	}
	if loaded.RunID() != run.ID {
		t.Errorf("RunID() = %s, want %s", loaded.RunID(), run.ID)
	}
	got, err := loaded.Search(run.TrainLoadings[1], 1)
	if err != nil {
		t.Fatalf("Search after load failed: %v", err)
	}
	if len(got) != 1 || got[0].Identity != "b" {
		t.Errorf("Search after load = %+v, want identity b", got)
	}
}

func TestGalleryCache(t *testing.T) {
	run := testRun(t)
	cache := NewGalleryCache()

	first, err := cache.Get(run)
	if err != nil {
		t.Fatal(err)
	}
	second, err := cache.Get(run)
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Error("expected cached index to be reused")
	}
}
