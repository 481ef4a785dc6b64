package database

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/coder/hnsw"
)

func init() {
	// Exported graphs reference their distance function by name.
	hnsw.RegisterDistanceFunc(HNSWDistanceName, ChiSquareDistance)
}

// HNSWIndexMetadata stores metadata for validating cached HNSW indexes.
type HNSWIndexMetadata struct {
	Records   int       `json:"records"`
	Layout    string    `json:"layout"`
	BuildTime time.Time `json:"build_time"`
	Version   int       `json:"version"`
}

const hnswMetadataVersion = 1

// HNSWIndex wraps the HNSW graph for approximate descriptor search.
type HNSWIndex struct {
	graph *hnsw.Graph[string]
	live  map[string]struct{} // IDs that may be returned by Search
	mu    sync.RWMutex
}

// NewHNSWIndex creates a new empty HNSW index.
func NewHNSWIndex() *HNSWIndex {
	return &HNSWIndex{
		graph: newGraph(),
		live:  make(map[string]struct{}),
	}
}

func newGraph() *hnsw.Graph[string] {
	g := hnsw.NewGraph[string]()
	g.M = HNSWMaxNeighbors
	g.Ml = 1.0 / float64(HNSWMaxNeighbors) // Standard HNSW formula
	g.EfSearch = HNSWEfSearch
	g.Distance = ChiSquareDistance
	return g
}

// Add adds a single vector to the index. An ID already in the graph with the
// same vector is only marked live again. A different vector means the ID was
// reused (a store recreated under a kept graph file), so the graph is rebuilt
// without the old node first.
func (h *HNSWIndex) Add(id string, vec []float32) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(vec) == 0 {
		return
	}
	if old, ok := h.graph.Lookup(id); ok {
		if slices.Equal(old, vec) {
			h.live[id] = struct{}{}
			return
		}
		h.rebuildWithout(id)
	}
	h.graph.Add(hnsw.MakeNode(id, slices.Clone(vec)))
	h.live[id] = struct{}{}
}

// rebuildWithout replaces the graph with a fresh one holding the live nodes
// other than id. Dead nodes are dropped as well.
func (h *HNSWIndex) rebuildWithout(id string) {
	delete(h.live, id)
	g := newGraph()
	for _, key := range slices.Sorted(maps.Keys(h.live)) {
		if vec, ok := h.graph.Lookup(key); ok {
			g.Add(hnsw.MakeNode(key, vec))
		}
	}
	h.graph = g
}

// Has reports whether id is live in the index.
func (h *HNSWIndex) Has(id string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.live[id]
	return ok
}

// Delete removes an ID from search results.
func (h *HNSWIndex) Delete(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.live, id)
	// Note: the node stays in the graph; search results are filtered by the live set.
}

// Search finds up to k live nearest neighbors to vec, nearest first.
func (h *HNSWIndex) Search(vec []float32, k int) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.graph.Len() == 0 || k <= 0 {
		return nil
	}

	// Ask for more than k so that deleted nodes don't starve the result.
	want := k
	if dead := h.graph.Len() - len(h.live); dead > 0 {
		want += dead
	}
	neighbors := h.graph.Search(vec, want)

	ids := make([]string, 0, k)
	for _, n := range neighbors {
		if _, ok := h.live[n.Key]; !ok {
			continue
		}
		ids = append(ids, n.Key)
		if len(ids) == k {
			break
		}
	}
	return ids
}

// Count returns the number of live IDs.
func (h *HNSWIndex) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.live)
}

// Save persists the graph to path and its metadata to path.meta.
func (h *HNSWIndex) Save(path string, metadata HNSWIndexMetadata) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.graph.Len() == 0 {
		// Remove existing files if index is empty (best-effort cleanup).
		_ = os.Remove(path)
		_ = os.Remove(path + ".meta")
		return nil
	}

	f, err := os.Create(path) //nolint:gosec // path is from trusted config
	if err != nil {
		return fmt.Errorf("failed to create HNSW index file: %w", err)
	}
	defer f.Close()

	if err := h.graph.Export(f); err != nil {
		return fmt.Errorf("failed to export HNSW graph: %w", err)
	}

	metadata.Version = hnswMetadataVersion
	metaData, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := os.WriteFile(path+".meta", metaData, 0600); err != nil {
		return fmt.Errorf("failed to write metadata file: %w", err)
	}
	return nil
}

// Load replaces the graph with the one saved at path. The live set is cleared;
// callers mark surviving IDs with Add.
func (h *HNSWIndex) Load(path string) error {
	saved, err := hnsw.LoadSavedGraph[string](path)
	if err != nil {
		return fmt.Errorf("failed to load HNSW index: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.graph = saved.Graph
	h.live = make(map[string]struct{}, saved.Len())
	return nil
}

// LoadHNSWMetadata loads metadata from a separate .meta file.
func LoadHNSWMetadata(path string) (HNSWIndexMetadata, error) {
	var metadata HNSWIndexMetadata

	data, err := os.ReadFile(path + ".meta") //nolint:gosec // path is from trusted config
	if err != nil {
		return metadata, fmt.Errorf("failed to read metadata file: %w", err)
	}
	if err := json.Unmarshal(data, &metadata); err != nil {
		return metadata, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	if metadata.Version != hnswMetadataVersion {
		return metadata, errors.New("unsupported HNSW metadata version")
	}
	return metadata, nil
}
