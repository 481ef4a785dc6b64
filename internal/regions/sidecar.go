package regions

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/kozaktomas/face-search/internal/database"
	"github.com/kozaktomas/face-search/internal/imageops"
)

// SidecarSuffix is appended to an image path to locate its region file.
const SidecarSuffix = ".faces.json"

// DuplicateIoU is the overlap above which two boxes are treated as one face.
const DuplicateIoU = 0.9

// ErrNoSidecar is returned when an image has no region file.
var ErrNoSidecar = errors.New("no region sidecar")

// Sidecar is the region file written by an external face detector.
//
//	{"orientation": 6, "relative": true, "faces": [{"bbox": [0.1, 0.2, 0.3, 0.4], "angle": 12}]}
//
// Boxes are [x1, y1, x2, y2] in display space (after the EXIF orientation is
// applied), in pixels unless Relative is set. Angle is an additional in-plane
// rotation of the face in degrees, anti-clockwise positive.
type Sidecar struct {
	Orientation int          `json:"orientation,omitempty"`
	Relative    bool         `json:"relative,omitempty"`
	Faces       []SidecarBox `json:"faces"`
}

// SidecarBox is one detected face.
type SidecarBox struct {
	BBox  []float64 `json:"bbox"`
	Angle float64   `json:"angle,omitempty"`
	Score float64   `json:"score,omitempty"`
}

// SidecarPath returns the region file path of an image.
func SidecarPath(imagePath string) string {
	return imagePath + SidecarSuffix
}

// IsSidecar reports whether name is a region file.
func IsSidecar(name string) bool {
	return strings.HasSuffix(strings.ToLower(name), SidecarSuffix)
}

// ParseSidecar decodes a region file.
func ParseSidecar(data []byte) (*Sidecar, error) {
	var s Sidecar
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing region sidecar: %w", err)
	}
	if s.Orientation < 0 || s.Orientation > 8 {
		return nil, fmt.Errorf("%w: orientation %d", imageops.ErrInvalidGeometry, s.Orientation)
	}
	for i, f := range s.Faces {
		if len(f.BBox) != 4 {
			return nil, fmt.Errorf("%w: face %d has %d bbox values, want 4", imageops.ErrInvalidGeometry, i, len(f.BBox))
		}
	}
	return &s, nil
}

// ReadSidecar loads the region file of imagePath.
func ReadSidecar(imagePath string) (*Sidecar, error) {
	data, err := os.ReadFile(SidecarPath(imagePath))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoSidecar
	}
	if err != nil {
		return nil, fmt.Errorf("reading region sidecar: %w", err)
	}
	return ParseSidecar(data)
}

// Regions converts the sidecar boxes of an image with the given file (stored)
// dimensions into face regions. A tilted face is addressed in the canvas of the
// image rotated by its tilt. Boxes outside the image are skipped and duplicates
// removed.
func (s *Sidecar) Regions(fileWidth, fileHeight int) []database.FaceRegion {
	width, height := DisplaySize(fileWidth, fileHeight, s.Orientation)
	base := imageops.OrientationAngle(s.Orientation)

	out := make([]database.FaceRegion, 0, len(s.Faces))
	for _, f := range s.Faces {
		box := f.BBox
		if s.Relative {
			box = RelativeToPixel(box, width, height)
		}
		tilt := imageops.DegreesToRadians(f.Angle)
		box, w, h := Tilt(box, width, height, tilt)
		if r, ok := ToRegion(box, w, h, base+tilt); ok {
			out = append(out, r)
		}
	}
	return Dedupe(out, DuplicateIoU)
}
