package handlers

import (
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/face-search/internal/constants"
	"github.com/kozaktomas/face-search/internal/indexer"
)

// FacesHandler handles indexing and owner removal.
type FacesHandler struct {
	engine Engine
	stats  *StatsHandler
	logger *slog.Logger
}

// NewFacesHandler creates a new faces handler. Successful writes invalidate the
// stats cache of stats when it is set.
func NewFacesHandler(e Engine, stats *StatsHandler, logger *slog.Logger) *FacesHandler {
	return &FacesHandler{engine: e, stats: stats, logger: logger}
}

// IndexResponse is the JSON view of an indexing result.
type IndexResponse struct {
	OK        bool     `json:"ok"`
	OwnerID   string   `json:"owner_id"`
	RecordIDs []string `json:"record_ids"`
	FaceIDs   []string `json:"face_ids"`
	Preview   []byte   `json:"preview,omitempty"` // PNG, base64 in JSON
	Error     string   `json:"error,omitempty"`
}

// Index handles POST /faces: multipart fields "owner", "image" and "regions"
// (a region sidecar document).
func (h *FacesHandler) Index(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, constants.MaxUploadSize)
	if err := r.ParseMultipartForm(constants.MultipartMemory); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	owner := r.FormValue("owner")
	if owner == "" {
		respondError(w, http.StatusBadRequest, "owner is required")
		return
	}

	img, err := readImage(r, "image")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	faces, err := readRegions(r, "regions", img)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	doc := indexer.Document{OwnerID: owner, Image: img, Regions: faces}
	var res indexer.Result
	select {
	case res = <-h.engine.IndexFace(r.Context(), doc):
	case <-r.Context().Done():
		return
	}

	resp := IndexResponse{
		OK:        res.OK,
		OwnerID:   res.OwnerID,
		RecordIDs: res.RecordIDs,
		FaceIDs:   res.FaceIDs,
		Preview:   res.Preview,
	}
	if len(res.RecordIDs) > 0 && h.stats != nil {
		h.stats.InvalidateCache()
	}
	if res.Err != nil {
		h.logger.Warn("index request failed", "owner", sanitizeForLog(owner), "error", res.Err)
		resp.Error = res.Err.Error()
		respondJSON(w, errorStatus(res.Err), resp)
		return
	}
	respondJSON(w, http.StatusCreated, resp)
}

// RemoveOwner handles DELETE /owners/{owner}.
func (h *FacesHandler) RemoveOwner(w http.ResponseWriter, r *http.Request) {
	owner, err := url.PathUnescape(chi.URLParam(r, "owner"))
	if err != nil || owner == "" {
		respondError(w, http.StatusBadRequest, "missing owner")
		return
	}

	var res struct {
		OwnerID string `json:"owner_id"`
		Removed int    `json:"removed"`
	}
	select {
	case rr := <-h.engine.RemoveOwner(r.Context(), owner):
		if rr.Err != nil {
			respondError(w, errorStatus(rr.Err), rr.Err.Error())
			return
		}
		res.OwnerID, res.Removed = rr.OwnerID, rr.Removed
	case <-r.Context().Done():
		return
	}

	if res.Removed > 0 && h.stats != nil {
		h.stats.InvalidateCache()
	}
	respondJSON(w, http.StatusOK, res)
}
