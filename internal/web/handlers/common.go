package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"net/http"
	"strings"

	"github.com/kozaktomas/face-search/internal/database"
	"github.com/kozaktomas/face-search/internal/engine"
	"github.com/kozaktomas/face-search/internal/imageops"
	"github.com/kozaktomas/face-search/internal/indexer"
	"github.com/kozaktomas/face-search/internal/photo"
	"github.com/kozaktomas/face-search/internal/query"
	"github.com/kozaktomas/face-search/internal/regions"
)

// errInvalidRequestBody is a shared error message for malformed multipart requests.
const errInvalidRequestBody = "failed to parse multipart form"

// Engine is the part of the coordinator the handlers use.
type Engine interface {
	IndexFace(ctx context.Context, doc indexer.Document) <-chan indexer.Result
	RemoveOwner(ctx context.Context, owner string) <-chan engine.RemoveResult
	RunQuery(ctx context.Context, q *query.Query) error
	Stats(ctx context.Context) (engine.Stats, error)
}

// sanitizeForLog removes newlines and carriage returns to prevent log injection.
func sanitizeForLog(s string) string {
	return strings.NewReplacer("\n", "", "\r", "").Replace(s)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// errorStatus maps domain errors to HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, database.ErrInvalidOwner),
		errors.Is(err, imageops.ErrInvalidGeometry),
		errors.Is(err, indexer.ErrNoFaces),
		errors.Is(err, photo.ErrUnsupportedFormat):
		return http.StatusBadRequest
	case errors.Is(err, database.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, database.ErrLayoutMismatch):
		return http.StatusConflict
	case errors.Is(err, engine.ErrAlreadyShutdown), errors.Is(err, engine.ErrNotStarted),
		errors.Is(err, database.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// readImage decodes the multipart file field of r.
func readImage(r *http.Request, field string) (image.Image, error) {
	file, _, err := r.FormFile(field)
	if err != nil {
		return nil, fmt.Errorf("%s is required", field)
	}
	defer file.Close()

	img, err := photo.DecodeReader(file)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", field, err)
	}
	return img, nil
}

// readRegions parses the region sidecar JSON in form field and converts it to
// face regions of img.
func readRegions(r *http.Request, field string, img image.Image) ([]database.FaceRegion, error) {
	raw := r.FormValue(field)
	if raw == "" {
		return nil, fmt.Errorf("%s is required", field)
	}
	sidecar, err := regions.ParseSidecar([]byte(raw))
	if err != nil {
		return nil, err
	}
	size := img.Bounds().Size()
	return sidecar.Regions(size.X, size.Y), nil
}

// HealthCheck handles the health check endpoint.
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}
