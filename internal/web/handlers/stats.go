package handlers

import (
	"net/http"
	"sync"
	"time"

	"github.com/kozaktomas/face-search/internal/engine"
)

const statsCacheTTL = 10 * time.Second

// statsCache holds cached stats with expiry
type statsCache struct {
	mu        sync.RWMutex
	data      *engine.Stats
	expiresAt time.Time
}

func (c *statsCache) get() (*engine.Stats, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.data == nil || time.Now().After(c.expiresAt) {
		return nil, false
	}
	return c.data, true
}

func (c *statsCache) set(data *engine.Stats) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = data
	c.expiresAt = time.Now().Add(statsCacheTTL)
}

func (c *statsCache) invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = nil
}

// StatsHandler handles statistics endpoints
type StatsHandler struct {
	engine Engine
	jobs   *JobManager
	cache  statsCache
}

// NewStatsHandler creates a new stats handler
func NewStatsHandler(e Engine, jobs *JobManager) *StatsHandler {
	return &StatsHandler{engine: e, jobs: jobs}
}

// InvalidateCache clears the cached stats so the next request fetches fresh data
func (h *StatsHandler) InvalidateCache() {
	h.cache.invalidate()
}

// StatsResponse represents the statistics response
type StatsResponse struct {
	engine.Stats
	QueryJobs int `json:"query_jobs"`
}

// Get returns store and engine statistics. Store counters go through the
// engine worker, so they are cached briefly.
func (h *StatsHandler) Get(w http.ResponseWriter, r *http.Request) {
	stats, ok := h.cache.get()
	if !ok {
		fresh, err := h.engine.Stats(r.Context())
		if err != nil {
			respondError(w, errorStatus(err), err.Error())
			return
		}
		stats = &fresh
		h.cache.set(stats)
	}

	resp := StatsResponse{Stats: *stats}
	if h.jobs != nil {
		resp.QueryJobs = h.jobs.Count()
	}
	respondJSON(w, http.StatusOK, resp)
}
