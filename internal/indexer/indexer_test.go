package indexer

import (
	"context"
	"errors"
	"image"
	"image/color"
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"

	"github.com/kozaktomas/face-search/internal/config"
	"github.com/kozaktomas/face-search/internal/database"
	"github.com/kozaktomas/face-search/internal/database/mock"
	"github.com/kozaktomas/face-search/internal/descriptor"
	"github.com/kozaktomas/face-search/internal/imageops"
	"github.com/kozaktomas/face-search/internal/photo"
)

var testDescriptorConfig = config.DescriptorConfig{
	GridRows:    4,
	GridCols:    4,
	BinCount:    16,
	BlockPolicy: "clip",
	BitDepth:    8,
	DoGSigma1:   1,
	DoGSigma2:   2,
}

func texture(w, h int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.SetGray(x, y, color.Gray{Y: uint8((x*7 + y*13 + (x*y)%11) % 256)})
		}
	}
	return img
}

func newTestIndexer(t *testing.T) *FaceIndexer {
	t.Helper()
	p, err := NewPipeline(testDescriptorConfig)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	return NewFaceIndexer(p, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
}

func TestPipeline_Deterministic(t *testing.T) {
	p, err := NewPipeline(testDescriptorConfig)
	if err != nil {
		t.Fatal(err)
	}
	img := texture(64, 64)
	region := database.FaceRegion{X: 8, Y: 8, Width: 40, Height: 40}

	a, err := p.Describe(img, region)
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	b, err := p.Describe(img, region)
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	if !a.Equal(b) {
		t.Error("descriptors of identical input differ")
	}
	if a.Len() != testDescriptorConfig.Layout().Len() {
		t.Errorf("length = %d, want %d", a.Len(), testDescriptorConfig.Layout().Len())
	}

	// A full turn normalizes to no rotation.
	region.Angle = 2 * math.Pi
	c, err := p.Describe(img, region)
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	if !a.Equal(c) {
		t.Error("full turn changed the descriptor")
	}
}

func TestPipeline_DoG(t *testing.T) {
	cfg := testDescriptorConfig
	cfg.DoG = true
	p, err := NewPipeline(cfg)
	if err != nil {
		t.Fatal(err)
	}
	d, err := p.Describe(texture(64, 64), database.FaceRegion{Width: 64, Height: 64})
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	if d.Len() != cfg.Layout().Len() {
		t.Errorf("length = %d", d.Len())
	}
}

func TestPipeline_Errors(t *testing.T) {
	p, err := NewPipeline(testDescriptorConfig)
	if err != nil {
		t.Fatal(err)
	}
	img := texture(32, 32)

	tests := []struct {
		name   string
		region database.FaceRegion
		want   error
	}{
		{"empty", database.FaceRegion{Width: 0, Height: 10}, imageops.ErrInvalidGeometry},
		{"nan angle", database.FaceRegion{Width: 10, Height: 10, Angle: math.NaN()}, imageops.ErrInvalidGeometry},
		{"outside", database.FaceRegion{X: 20, Y: 20, Width: 20, Height: 20}, imageops.ErrOutOfBounds},
		{"too small for grid", database.FaceRegion{Width: 4, Height: 4}, descriptor.ErrEmptyRegion},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := p.Describe(img, tt.region); !errors.Is(err, tt.want) {
				t.Errorf("Describe() error = %v, want %v", err, tt.want)
			}
		})
	}

	if _, err := NewPipeline(config.DescriptorConfig{GridRows: 0, GridCols: 1, BinCount: 1, BlockPolicy: "clip"}); err == nil {
		t.Error("expected invalid layout error")
	}
}

func TestFaceIndexer_Index(t *testing.T) {
	ix := newTestIndexer(t)
	store := mock.NewStore(testDescriptorConfig.Layout())
	doc := Document{
		OwnerID: "  Jan Novák.jpg ",
		Image:   texture(96, 64),
		Regions: []database.FaceRegion{
			{X: 0, Y: 0, Width: 40, Height: 40},
			{X: 10, Y: 50, Width: 40, Height: 40, Angle: math.Pi / 2},
		},
	}

	res := ix.Index(context.Background(), doc, store)
	if !res.OK || res.Err != nil {
		t.Fatalf("Index failed: %v", res.Err)
	}
	if res.OwnerID != "Jan Novák.jpg" {
		t.Errorf("owner = %q, want normalized", res.OwnerID)
	}
	if len(res.RecordIDs) != 2 || len(res.FaceIDs) != 2 {
		t.Fatalf("records = %v, faces = %v", res.RecordIDs, res.FaceIDs)
	}
	if photo.DetectMIMEType(res.Preview) != "image/png" {
		t.Error("preview is not a PNG")
	}

	rec, err := store.Get(context.Background(), res.RecordIDs[1])
	if err != nil {
		t.Fatal(err)
	}
	if rec.FaceID != res.FaceIDs[1] || rec.OwnerID != res.OwnerID {
		t.Errorf("stored record = %+v", rec)
	}
	if rec.Region != doc.Regions[1] {
		t.Errorf("region = %+v, want %+v", rec.Region, doc.Regions[1])
	}
	if photo.DetectMIMEType(rec.Thumbnail) != "image/jpeg" {
		t.Error("thumbnail is not a JPEG")
	}
	if ix.Name() != FaceLBP {
		t.Errorf("Name() = %q", ix.Name())
	}
}

func TestFaceIndexer_Failures(t *testing.T) {
	ix := newTestIndexer(t)
	img := texture(64, 64)
	good := database.FaceRegion{Width: 32, Height: 32}

	tests := []struct {
		name string
		doc  Document
		want error
	}{
		{"no owner", Document{OwnerID: " ", Image: img, Regions: []database.FaceRegion{good}}, database.ErrInvalidOwner},
		{"no regions", Document{OwnerID: "a.jpg", Image: img}, ErrNoFaces},
		{"no image", Document{OwnerID: "a.jpg", Regions: []database.FaceRegion{good}}, imageops.ErrInvalidGeometry},
		{"second region outside", Document{OwnerID: "a.jpg", Image: img, Regions: []database.FaceRegion{
			good, {X: 60, Y: 60, Width: 32, Height: 32},
		}}, imageops.ErrOutOfBounds},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := mock.NewStore(testDescriptorConfig.Layout())
			res := ix.Index(context.Background(), tt.doc, store)
			if res.OK {
				t.Fatal("expected failure")
			}
			if !errors.Is(res.Err, tt.want) {
				t.Errorf("Err = %v, want %v", res.Err, tt.want)
			}
			if n, _ := store.Count(context.Background()); n != 0 {
				t.Errorf("store has %d records after failed extraction", n)
			}
		})
	}
}

func TestFaceIndexer_StoreError(t *testing.T) {
	ix := newTestIndexer(t)
	store := mock.NewStore(testDescriptorConfig.Layout())
	store.AppendError = errors.New("disk full")

	res := ix.Index(context.Background(), Document{
		OwnerID: "a.jpg",
		Image:   texture(64, 64),
		Regions: []database.FaceRegion{{Width: 32, Height: 32}},
	}, store)
	if res.OK {
		t.Fatal("expected failure")
	}
	var storeErr *database.StoreError
	if !errors.As(res.Err, &storeErr) {
		t.Errorf("Err = %v, want *database.StoreError", res.Err)
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	ix := newTestIndexer(t)
	r.Register(FaceLBP, ix)
	r.Register("other", ix)

	got, err := r.Get(FaceLBP)
	if err != nil || got != ix {
		t.Errorf("Get(%q) = %v, %v", FaceLBP, got, err)
	}
	if _, err := r.Get("missing"); err == nil {
		t.Error("expected error for unknown indexer")
	}
	names := r.Names()
	if len(names) != 2 || names[0] != FaceLBP || names[1] != "other" {
		t.Errorf("Names() = %v", names)
	}
}

// directSubmitter indexes synchronously into a store.
type directSubmitter struct {
	mu    sync.Mutex
	ix    Indexer
	store database.IndexWriter
	calls int
}

func (s *directSubmitter) IndexFace(ctx context.Context, doc Document) <-chan Result {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	ch := make(chan Result, 1)
	ch <- s.ix.Index(ctx, doc, s.store)
	return ch
}

func (s *directSubmitter) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestBatch_Run(t *testing.T) {
	store := mock.NewStore(testDescriptorConfig.Layout())
	sub := &directSubmitter{ix: newTestIndexer(t), store: store}
	load := func(_ context.Context, item string) (Document, error) {
		if item == "broken.jpg" {
			return Document{}, photo.ErrUnsupportedFormat
		}
		return Document{OwnerID: item, Image: texture(64, 64), Regions: []database.FaceRegion{{Width: 32, Height: 32}}}, nil
	}

	b := NewBatch([]string{"a.jpg", "broken.jpg", "c.jpg"}, load, sub)
	var seen []Progress
	b.OnProgress(func(p Progress) { seen = append(seen, p) })

	sum, err := b.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Total != 3 || sum.Indexed != 2 || sum.Faces != 2 || sum.Failed != 1 {
		t.Errorf("summary = %+v", sum)
	}
	if !errors.Is(sum.Errors["broken.jpg"], photo.ErrUnsupportedFormat) {
		t.Errorf("errors = %v", sum.Errors)
	}
	if len(seen) != 3 || seen[2].Done != 3 {
		t.Errorf("progress = %+v", seen)
	}
	if sub.count() != 2 {
		t.Errorf("submitted %d documents, want 2", sub.count())
	}
}

func TestBatch_PauseResume(t *testing.T) {
	store := mock.NewStore(testDescriptorConfig.Layout())
	sub := &directSubmitter{ix: newTestIndexer(t), store: store}
	load := func(_ context.Context, item string) (Document, error) {
		return Document{OwnerID: item, Image: texture(64, 64), Regions: []database.FaceRegion{{Width: 32, Height: 32}}}, nil
	}

	b := NewBatch([]string{"a.jpg", "b.jpg", "c.jpg"}, load, sub)
	paused := make(chan struct{})
	b.OnProgress(func(p Progress) {
		if p.Done == 1 {
			b.Pause()
			close(paused)
		}
	})

	done := make(chan BatchSummary)
	go func() {
		sum, _ := b.Run(context.Background())
		done <- sum
	}()

	<-paused
	if !b.Paused() {
		t.Fatal("batch not paused")
	}
	if n := sub.count(); n != 1 {
		t.Errorf("submitted %d documents while paused, want 1", n)
	}
	b.Resume()

	sum := <-done
	if sum.Indexed != 3 {
		t.Errorf("indexed %d, want 3", sum.Indexed)
	}
}

func TestBatch_CanceledWhilePaused(t *testing.T) {
	sub := &directSubmitter{ix: newTestIndexer(t), store: mock.NewStore(testDescriptorConfig.Layout())}
	b := NewBatch([]string{"a.jpg"}, func(context.Context, string) (Document, error) {
		return Document{}, nil
	}, sub)
	b.Pause()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := b.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Run = %v, want context.Canceled", err)
	}
	if sub.count() != 0 {
		t.Error("paused batch submitted work")
	}
}
