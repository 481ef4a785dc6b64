package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kozaktomas/face-search/internal/config"
	"github.com/kozaktomas/face-search/internal/constants"
	"github.com/kozaktomas/face-search/internal/query"
)

// QueriesHandler handles asynchronous similarity queries.
type QueriesHandler struct {
	engine    Engine
	extractor query.Extractor
	jobs      *JobManager
	defaults  config.QueryConfig
	logger    *slog.Logger
}

// NewQueriesHandler creates a new queries handler.
func NewQueriesHandler(e Engine, extractor query.Extractor, jobs *JobManager, defaults config.QueryConfig, logger *slog.Logger) *QueriesHandler {
	return &QueriesHandler{
		engine:    e,
		extractor: extractor,
		jobs:      jobs,
		defaults:  defaults,
		logger:    logger,
	}
}

// formInt parses an optional non-negative integer form value.
func formInt(r *http.Request, name string, def int) (int, bool) {
	raw := r.FormValue(name)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, false
	}
	return v, true
}

// Create handles POST /queries: multipart fields "image", "region" (a region
// sidecar document), and optional "face" (index into its faces), "limit" and
// "max_distance". The query runs asynchronously; its ID is returned.
func (h *QueriesHandler) Create(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, constants.MaxUploadSize)
	if err := r.ParseMultipartForm(constants.MultipartMemory); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	img, err := readImage(r, "image")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	faces, err := readRegions(r, "region", img)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	face, ok := formInt(r, "face", 0)
	if !ok || face >= len(faces) {
		respondError(w, http.StatusBadRequest, "region does not contain the requested face")
		return
	}
	limit, ok := formInt(r, "limit", h.defaults.Limit)
	if !ok || limit > constants.MaxQueryLimit {
		respondError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	maxDistance := h.defaults.MaxDistance
	if raw := r.FormValue("max_distance"); raw != "" {
		maxDistance, err = strconv.ParseFloat(raw, 64)
		if err != nil || maxDistance < 0 {
			respondError(w, http.StatusBadRequest, "invalid max_distance")
			return
		}
	}

	job, opts := h.jobs.NewJob(uuid.NewString())
	opts = append(opts,
		query.WithLimit(limit),
		query.WithMaxDistance(maxDistance),
		query.WithCandidates(h.defaults.Candidates),
	)
	q := query.New(img, faces[face], h.extractor, opts...)

	// The query outlives the request; it is bounded by its own timeout and
	// released by the job once terminal.
	ctx, cancel := context.WithTimeout(context.Background(), constants.QueryWaitTimeout)
	if !h.jobs.Attach(job, q, cancel) {
		cancel()
		respondError(w, http.StatusTooManyRequests, "too many queries in progress")
		return
	}
	if err := h.engine.RunQuery(ctx, q); err != nil {
		cancel()
		h.jobs.DeleteJob(job.ID)
		respondError(w, errorStatus(err), err.Error())
		return
	}

	h.logger.Info("query submitted", "query", job.ID, "limit", limit)
	respondJSON(w, http.StatusAccepted, map[string]string{
		"id":    job.ID,
		"state": q.State().String(),
	})
}

func (h *QueriesHandler) lookup(w http.ResponseWriter, r *http.Request) *QueryJob {
	id := chi.URLParam(r, "queryId")
	if id == "" {
		respondError(w, http.StatusBadRequest, "missing query ID")
		return nil
	}
	job := h.jobs.GetJob(id)
	if job == nil {
		respondError(w, http.StatusNotFound, "query not found")
		return nil
	}
	return job
}

// Status handles GET /queries/{queryId}.
func (h *QueriesHandler) Status(w http.ResponseWriter, r *http.Request) {
	job := h.lookup(w, r)
	if job == nil {
		return
	}
	respondJSON(w, http.StatusOK, job.Status())
}

// Events handles GET /queries/{queryId}/events as a server-sent event stream.
func (h *QueriesHandler) Events(w http.ResponseWriter, r *http.Request) {
	streamSSEEvents(w, r,
		func(id string) SSEJob {
			if job := h.jobs.GetJob(id); job != nil {
				return job
			}
			return nil
		},
		func(j SSEJob) any { return j.(*QueryJob).Status() },
	)
}

// Cancel handles DELETE /queries/{queryId}. Canceling a finished query is a no-op.
func (h *QueriesHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	job := h.lookup(w, r)
	if job == nil {
		return
	}
	job.Cancel()
	respondJSON(w, http.StatusOK, map[string]string{
		"id":    job.ID,
		"state": job.GetState().String(),
	})
}
