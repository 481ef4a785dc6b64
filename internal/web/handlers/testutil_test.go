package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/face-search/internal/config"
	"github.com/kozaktomas/face-search/internal/database/mock"
	"github.com/kozaktomas/face-search/internal/engine"
	"github.com/kozaktomas/face-search/internal/indexer"
	"github.com/kozaktomas/face-search/internal/photo"
)

// testConfig creates a minimal config for testing
func testConfig() *config.Config {
	return &config.Config{
		Descriptor: config.DescriptorConfig{
			GridRows:    4,
			GridCols:    4,
			BinCount:    16,
			BlockPolicy: "clip",
			BitDepth:    8,
		},
		Query: config.QueryConfig{Limit: 5},
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testEnv is a started engine over an in-memory store.
type testEnv struct {
	engine   *engine.Engine
	store    *mock.Store
	pipeline *indexer.Pipeline
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := testConfig()
	p, err := indexer.NewPipeline(cfg.Descriptor)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	store := mock.NewStore(p.Layout())
	e := engine.New(store,
		engine.WithLogger(discardLogger()),
		engine.WithIndexer(indexer.NewFaceIndexer(p, indexer.WithLogger(discardLogger()))),
		engine.WithBackend("memory"),
	)
	if err := e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { e.Shutdown(context.Background()) })
	return &testEnv{engine: e, store: store, pipeline: p}
}

// texturePNG renders a deterministic non-uniform grayscale image.
func texturePNG(t *testing.T, w, h, seed int) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.SetGray(x, y, color.Gray{Y: uint8((x*7 + y*13 + (x*y+seed)%11 + seed*31) % 256)})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode: %v", err)
	}
	return buf.Bytes()
}

func decodeTexture(t *testing.T, seed int) image.Image {
	t.Helper()
	img, err := photo.Decode(texturePNG(t, 64, 48, seed))
	if err != nil {
		t.Fatal(err)
	}
	return img
}

// multipartRequest builds a multipart request with text fields and an optional image file.
func multipartRequest(t *testing.T, method, path string, fields map[string]string, imageData []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	if imageData != nil {
		fw, err := mw.CreateFormFile("image", "face.png")
		if err != nil {
			t.Fatal(err)
		}
		fw.Write(imageData)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

// requestWithChiParams creates a request with chi URL parameters
func requestWithChiParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// waitForJob blocks until the query of job is terminal.
func waitForJob(t *testing.T, job *QueryJob) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := job.Query.Wait(ctx); ctx.Err() != nil {
		t.Fatalf("query did not finish: %v", err)
	}
}

// parseJSONResponse parses a JSON response body into the target type
func parseJSONResponse(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to parse JSON response: %v\nBody: %s", err, recorder.Body.String())
	}
}

// assertStatusCode checks if the response has the expected status code
func assertStatusCode(t *testing.T, recorder *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if recorder.Code != expected {
		t.Errorf("expected status %d, got %d\nBody: %s", expected, recorder.Code, recorder.Body.String())
	}
}

// assertContentType checks if the response has the expected content type
func assertContentType(t *testing.T, recorder *httptest.ResponseRecorder, expected string) {
	t.Helper()
	ct := recorder.Header().Get("Content-Type")
	if ct != expected {
		t.Errorf("expected Content-Type '%s', got '%s'", expected, ct)
	}
}

// assertJSONError checks if the response is a JSON error with the expected message
func assertJSONError(t *testing.T, recorder *httptest.ResponseRecorder, expectedMessage string) {
	t.Helper()
	var result map[string]string
	if err := json.Unmarshal(recorder.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to parse error response: %v\nBody: %s", err, recorder.Body.String())
	}
	if result["error"] != expectedMessage {
		t.Errorf("expected error '%s', got '%s'", expectedMessage, result["error"])
	}
}
