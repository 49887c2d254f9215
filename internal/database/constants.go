package database

// HNSW index parameters for low-dimensional loading vectors
const (
	// HNSWMaxNeighbors (M) is the maximum number of neighbors per node.
	// Higher values improve recall but increase memory and build time.
	HNSWMaxNeighbors = 16

	// HNSWEfSearch is the search candidate pool size.
	// Higher values improve recall but slow down search.
	HNSWEfSearch = 100

	// HNSWSearchMultiplier is the factor to request more candidates from HNSW
	// before exact re-ranking in float64.
	HNSWSearchMultiplier = 3

	// HNSWExactScanLimit is the gallery size up to which Search compares the
	// query against every enrolled loading instead of walking the graph.
	HNSWExactScanLimit = 1000
)
