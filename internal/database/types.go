package database

import (
	"fmt"
	"image"
	"math"
	"strconv"
	"time"

	"github.com/kozaktomas/face-search/internal/descriptor"
)

// FaceRegion is a face rectangle in pixel coordinates of the orientation-normalized
// image, plus the rotation (radians, anti-clockwise positive) applied to the source
// image before extraction.
type FaceRegion struct {
	X      int     `json:"x"`
	Y      int     `json:"y"`
	Width  int     `json:"width"`
	Height int     `json:"height"`
	Angle  float64 `json:"angle"`
}

// Rect returns the region as an image rectangle.
func (r FaceRegion) Rect() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.Width, r.Y+r.Height)
}

// Validate rejects empty rectangles and non-finite angles.
func (r FaceRegion) Validate() error {
	if r.Width <= 0 || r.Height <= 0 {
		return fmt.Errorf("face region %dx%d is empty", r.Width, r.Height)
	}
	if math.IsNaN(r.Angle) || math.IsInf(r.Angle, 0) {
		return fmt.Errorf("face region angle %v is not finite", r.Angle)
	}
	return nil
}

// IndexRecord is one indexed face. Records are never mutated after creation and
// are only deleted together with their owner.
type IndexRecord struct {
	ID         string
	FaceID     string
	OwnerID    string
	Region     FaceRegion
	Descriptor descriptor.Descriptor
	Thumbnail  []byte // JPEG of the face crop (optional)
	Preview    []byte // PNG histogram preview (optional)
	CreatedAt  time.Time
}

// FormatRecordID renders a store sequence number as a record ID. IDs are zero
// padded so that lexical and numeric order agree.
func FormatRecordID(seq uint64) string {
	return fmt.Sprintf("%016d", seq)
}

// ParseRecordID is the inverse of FormatRecordID.
func ParseRecordID(id string) (uint64, error) {
	seq, err := strconv.ParseUint(id, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: malformed record id %q", ErrNotFound, id)
	}
	return seq, nil
}

// StoreStats summarizes a store's contents.
type StoreStats struct {
	Records int    `json:"records"`
	Owners  int    `json:"owners"`
	Layout  string `json:"layout"`
	Backend string `json:"backend"`
}
