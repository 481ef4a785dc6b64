package indexer

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kozaktomas/face-search/internal/constants"
	"github.com/kozaktomas/face-search/internal/database"
	"github.com/kozaktomas/face-search/internal/descriptor"
	"github.com/kozaktomas/face-search/internal/imageops"
	"github.com/kozaktomas/face-search/internal/photo"
)

// FaceLBP is the name of the default indexing strategy.
const FaceLBP = "face-lbp"

// ErrNoFaces is returned when a document carries no face regions.
var ErrNoFaces = errors.New("document has no face regions")

// Document is one source image to index.
type Document struct {
	OwnerID string
	Image   image.Image
	Regions []database.FaceRegion
}

// Result is the outcome of indexing a document. Failures are reported in Err,
// never as panics.
type Result struct {
	OK        bool     `json:"ok"`
	OwnerID   string   `json:"owner_id"`
	RecordIDs []string `json:"record_ids,omitempty"`
	FaceIDs   []string `json:"face_ids,omitempty"`
	Preview   []byte   `json:"preview,omitempty"` // PNG histogram preview of the first face
	Err       error    `json:"-"`
}

// Failed builds an unsuccessful result.
func Failed(owner string, err error) Result {
	return Result{OwnerID: owner, Err: err}
}

// Indexer is an indexing strategy.
type Indexer interface {
	// Name returns the registry name of the strategy.
	Name() string
	// Index extracts doc and appends its records to w.
	Index(ctx context.Context, doc Document, w database.IndexWriter) Result
}

// FaceIndexer indexes every face region of a document as one LBP record.
type FaceIndexer struct {
	pipeline      *Pipeline
	thumbnailSize int
	logger        *slog.Logger
}

// FaceOption configures a FaceIndexer.
type FaceOption func(*FaceIndexer)

// WithThumbnailSize sets the longest edge of stored thumbnails; 0 disables them.
func WithThumbnailSize(n int) FaceOption {
	return func(f *FaceIndexer) { f.thumbnailSize = n }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) FaceOption {
	return func(f *FaceIndexer) { f.logger = l }
}

// NewFaceIndexer creates the default LBP face indexing strategy.
func NewFaceIndexer(pipeline *Pipeline, opts ...FaceOption) *FaceIndexer {
	f := &FaceIndexer{
		pipeline:      pipeline,
		thumbnailSize: photo.DefaultThumbnailSize,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Name returns FaceLBP.
func (f *FaceIndexer) Name() string { return FaceLBP }

// Pipeline returns the extraction pipeline.
func (f *FaceIndexer) Pipeline() *Pipeline { return f.pipeline }

// Index extracts every region before writing anything, so an extraction error
// leaves the store untouched. A store error part-way leaves the faces appended
// so far in place; their IDs are reported.
func (f *FaceIndexer) Index(ctx context.Context, doc Document, w database.IndexWriter) Result {
	owner, err := database.NormalizeOwnerID(doc.OwnerID)
	if err != nil {
		return Failed(doc.OwnerID, err)
	}
	if doc.Image == nil {
		return Failed(owner, fmt.Errorf("%w: no image", imageops.ErrInvalidGeometry))
	}
	if size := doc.Image.Bounds().Size(); size.X > constants.MaxImageSize || size.Y > constants.MaxImageSize {
		return Failed(owner, fmt.Errorf("%w: image %dx%d exceeds %d pixels", imageops.ErrInvalidGeometry,
			size.X, size.Y, constants.MaxImageSize))
	}
	if len(doc.Regions) == 0 {
		return Failed(owner, ErrNoFaces)
	}

	faces, err := f.extract(doc)
	if err != nil {
		return Failed(owner, err)
	}

	res := Result{OwnerID: owner}
	now := time.Now().UTC()
	for i, face := range faces {
		if err := ctx.Err(); err != nil {
			res.Err = err
			return res
		}
		rec := database.IndexRecord{
			FaceID:     uuid.NewString(),
			OwnerID:    owner,
			Region:     face.Region,
			Descriptor: face.Descriptor,
			CreatedAt:  now,
		}
		if f.thumbnailSize > 0 {
			if rec.Thumbnail, err = photo.Thumbnail(face.Crop, f.thumbnailSize); err != nil {
				f.logger.Warn("thumbnail failed", "owner", owner, "face", i, "error", err)
			}
		}
		if rec.Preview, err = descriptor.RenderPreview(face.Descriptor); err != nil {
			f.logger.Warn("preview failed", "owner", owner, "face", i, "error", err)
		}

		id, err := w.Append(ctx, rec)
		if err != nil {
			res.Err = fmt.Errorf("appending face %d: %w", i, err)
			return res
		}
		res.RecordIDs = append(res.RecordIDs, id)
		res.FaceIDs = append(res.FaceIDs, rec.FaceID)
		if res.Preview == nil {
			res.Preview = rec.Preview
		}
	}

	res.OK = true
	f.logger.Debug("indexed document", "owner", owner, "faces", len(faces))
	return res
}

// extract runs the pipeline over all regions, rotating the source once per
// distinct angle.
func (f *FaceIndexer) extract(doc Document) ([]Face, error) {
	upright := make(map[float64]*image.Gray)
	faces := make([]Face, 0, len(doc.Regions))
	for i, region := range doc.Regions {
		if err := region.Validate(); err != nil {
			return nil, fmt.Errorf("face %d: %w: %v", i, imageops.ErrInvalidGeometry, err)
		}
		img, ok := upright[region.Angle]
		if !ok {
			var err error
			img, err = imageops.NormalizeOrientation(doc.Image, region.Angle)
			if err != nil {
				return nil, fmt.Errorf("face %d: %w", i, err)
			}
			upright[region.Angle] = img
		}
		face, err := f.pipeline.extractUpright(img, region)
		if err != nil {
			return nil, fmt.Errorf("face %d: %w", i, err)
		}
		faces = append(faces, face)
	}
	return faces, nil
}
