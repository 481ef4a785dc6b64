package database

// HNSW index parameters for LBP histogram descriptors
const (
	// HNSWMaxNeighbors (M) is the maximum number of neighbors per node.
	// Higher values improve recall but increase memory and build time.
	HNSWMaxNeighbors = 16

	// HNSWEfSearch is the search candidate pool size.
	// Higher values improve recall but slow down search.
	HNSWEfSearch = 100

	// HNSWSearchMultiplier is the factor to request more candidates from HNSW
	// to make up for records removed since the graph was built.
	HNSWSearchMultiplier = 3

	// HNSWDistanceName is the name the Chi-square distance is registered under,
	// stored inside exported graphs.
	HNSWDistanceName = "chisquare"
)
