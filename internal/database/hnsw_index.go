package database

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/coder/hnsw"
	"github.com/google/uuid"

	"github.com/kozaktomas/eigenfaces/internal/facematch"
)

// ErrIndexNotInitialized is returned when searching an index with no graph.
var ErrIndexNotInitialized = errors.New("index not initialized")

// GalleryMetadata stores metadata for validating a cached gallery index.
type GalleryMetadata struct {
	RunID      uuid.UUID `json:"run_id"`
	Identities int       `json:"identities"`
	Components int       `json:"components"`
	BuildTime  time.Time `json:"build_time"`
	Version    int       `json:"version"` // For future compatibility
}

const galleryMetadataVersion = 1

// galleryEntries is the gob payload written next to the graph.
type galleryEntries struct {
	Identities []string
	Loadings   [][]float64
}

// GalleryIndex wraps an HNSW graph over the train loadings of one run.
// Node keys are train indices. The graph ranks in float32; Search re-ranks
// the candidates with exact float64 squared distances.
type GalleryIndex struct {
	graph      *hnsw.Graph[int64]
	runID      uuid.UUID
	components int
	identities []string
	loadings   [][]float64
	mu         sync.RWMutex
}

// NewGalleryIndex creates a new empty gallery index.
func NewGalleryIndex() *GalleryIndex {
	return &GalleryIndex{}
}

func newGraph() *hnsw.Graph[int64] {
	g := hnsw.NewGraph[int64]()
	g.M = HNSWMaxNeighbors
	g.Ml = 1.0 / float64(HNSWMaxNeighbors) // Standard HNSW formula
	g.EfSearch = HNSWEfSearch
	g.Distance = hnsw.EuclideanDistance
	return g
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}

// BuildFromRun builds the index from the train loadings of a stored run.
func (h *GalleryIndex) BuildFromRun(run *StoredRun) error {
	if run == nil {
		return errors.New("nil run")
	}
	if len(run.TrainLoadings) != len(run.Identities) {
		return fmt.Errorf("run %s has %d loadings for %d identities", run.ID, len(run.TrainLoadings), len(run.Identities))
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.runID = run.ID
	h.components = run.Components
	h.identities = append([]string(nil), run.Identities...)
	h.loadings = make([][]float64, len(run.TrainLoadings))

	if len(run.TrainLoadings) == 0 {
		h.graph = nil
		return nil
	}

	g := newGraph()
	for i, w := range run.TrainLoadings {
		if len(w) != run.Components {
			return fmt.Errorf("loading %d has %d components, want %d", i, len(w), run.Components)
		}
		h.loadings[i] = append([]float64(nil), w...)
		g.Add(hnsw.MakeNode(int64(i), toFloat32(w)))
	}
	h.graph = g
	return nil
}

// Search finds the k enrolled identities closest to the query loading,
// ordered by ascending squared distance with ties broken by train index.
func (h *GalleryIndex) Search(query []float64, k int) ([]Candidate, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.graph == nil {
		return nil, ErrIndexNotInitialized
	}
	if len(query) != h.components {
		return nil, fmt.Errorf("query has %d components, index has %d: %w",
			len(query), h.components, facematch.ErrLengthMismatch)
	}
	if k < 1 {
		return nil, nil
	}

	var keys []int
	if len(h.loadings) <= HNSWExactScanLimit {
		keys = make([]int, len(h.loadings))
		for i := range keys {
			keys[i] = i
		}
	} else {
		neighbors := h.graph.Search(toFloat32(query), max(k*HNSWSearchMultiplier, HNSWEfSearch))
		keys = make([]int, 0, len(neighbors))
		for _, n := range neighbors {
			keys = append(keys, int(n.Key))
		}
	}

	candidates := make([]Candidate, 0, len(keys))
	for _, idx := range keys {
		if idx < 0 || idx >= len(h.loadings) {
			continue
		}
		// Recompute in float64 so distances agree with the match table.
		d, err := facematch.SquaredDistance(query, h.loadings[idx])
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, Candidate{TrainIndex: idx, Identity: h.identities[idx], Distance: d})
	}

	SortCandidates(candidates)
	if len(candidates) > k {
		candidates = candidates[:k]
	}
	return candidates, nil
}

// SortCandidates orders candidates by ascending distance, ties broken by
// train index, so every search backend ranks identically.
func SortCandidates(candidates []Candidate) {
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Distance != candidates[j].Distance {
			return candidates[i].Distance < candidates[j].Distance
		}
		return candidates[i].TrainIndex < candidates[j].TrainIndex
	})
}

// RunID returns the ID of the run the index was built from.
func (h *GalleryIndex) RunID() uuid.UUID {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.runID
}

// Count returns the number of indexed identities.
func (h *GalleryIndex) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.graph == nil {
		return 0
	}
	return h.graph.Len()
}

// IsEmpty returns true if the index has no graph data loaded.
func (h *GalleryIndex) IsEmpty() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.graph == nil
}

// Save persists the graph to path, metadata to path.meta and the exact
// loadings with identity labels to path.gallery.
func (h *GalleryIndex) Save(path string) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.graph == nil {
		// Remove existing files if index is empty (best-effort cleanup).
		_ = os.Remove(path)
		_ = os.Remove(path + ".meta")
		_ = os.Remove(path + ".gallery")
		return nil
	}

	f, err := os.Create(path) //nolint:gosec // path is from trusted config
	if err != nil {
		return fmt.Errorf("failed to create HNSW index file: %w", err)
	}
	if err := h.graph.Export(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to export HNSW graph: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing HNSW index file: %w", err)
	}

	metadata := GalleryMetadata{
		RunID:      h.runID,
		Identities: len(h.identities),
		Components: h.components,
		BuildTime:  time.Now().UTC(),
		Version:    galleryMetadataVersion,
	}
	metaData, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := os.WriteFile(path+".meta", metaData, 0600); err != nil {
		return fmt.Errorf("failed to write metadata file: %w", err)
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(galleryEntries{Identities: h.identities, Loadings: h.loadings}); err != nil {
		return fmt.Errorf("failed to encode gallery: %w", err)
	}
	if err := os.WriteFile(path+".gallery", buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write gallery file: %w", err)
	}
	return nil
}

// LoadGalleryMetadata loads metadata from a separate .meta file.
func LoadGalleryMetadata(path string) (GalleryMetadata, error) {
	var metadata GalleryMetadata

	data, err := os.ReadFile(path + ".meta") //nolint:gosec // path is from trusted config
	if err != nil {
		return metadata, fmt.Errorf("failed to read metadata file: %w", err)
	}
	if err := json.Unmarshal(data, &metadata); err != nil {
		return metadata, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	return metadata, nil
}

// LoadGalleryIndex loads a gallery index written by Save.
func LoadGalleryIndex(path string) (*GalleryIndex, error) {
	metadata, err := LoadGalleryMetadata(path)
	if err != nil {
		return nil, err
	}
	if metadata.Version != galleryMetadataVersion {
		return nil, fmt.Errorf("unsupported gallery index version %d", metadata.Version)
	}

	saved, err := hnsw.LoadSavedGraph[int64](path)
	if err != nil {
		return nil, fmt.Errorf("failed to load HNSW index: %w", err)
	}

	data, err := os.ReadFile(path + ".gallery") //nolint:gosec // path is from trusted config
	if err != nil {
		return nil, fmt.Errorf("failed to read gallery file: %w", err)
	}
	var entries galleryEntries
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&entries); err != nil {
		return nil, fmt.Errorf("failed to decode gallery: %w", err)
	}
	if len(entries.Identities) != metadata.Identities || len(entries.Loadings) != metadata.Identities {
		return nil, fmt.Errorf("gallery file has %d identities, metadata says %d", len(entries.Identities), metadata.Identities)
	}

	return &GalleryIndex{
		graph:      saved.Graph,
		runID:      metadata.RunID,
		components: metadata.Components,
		identities: entries.Identities,
		loadings:   entries.Loadings,
	}, nil
}

// GalleryCache keeps one gallery index per run, built on first use.
type GalleryCache struct {
	mu      sync.Mutex
	indexes map[uuid.UUID]*GalleryIndex
}

// NewGalleryCache creates an empty cache.
func NewGalleryCache() *GalleryCache {
	return &GalleryCache{indexes: make(map[uuid.UUID]*GalleryIndex)}
}

// Put registers a prebuilt index, e.g. one loaded from HNSW_INDEX_PATH.
func (c *GalleryCache) Put(idx *GalleryIndex) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.indexes[idx.RunID()] = idx
}

// Get returns the index for run, building it if needed.
func (c *GalleryCache) Get(run *StoredRun) (*GalleryIndex, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if idx, ok := c.indexes[run.ID]; ok {
		return idx, nil
	}
	idx := NewGalleryIndex()
	if err := idx.BuildFromRun(run); err != nil {
		return nil, err
	}
	c.indexes[run.ID] = idx
	return idx, nil
}
