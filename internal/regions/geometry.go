// Package regions converts detector bounding boxes into face regions and
// reads the per-image region sidecar files.
package regions

import (
	"math"

	"github.com/kozaktomas/face-search/internal/database"
)

// ComputeIoU calculates Intersection over Union between two bounding boxes.
// bbox1 and bbox2 are [x1, y1, x2, y2] in the same coordinate system.
func ComputeIoU(bbox1, bbox2 []float64) float64 {
	if len(bbox1) != 4 || len(bbox2) != 4 {
		return 0
	}

	x1 := max(bbox1[0], bbox2[0])
	y1 := max(bbox1[1], bbox2[1])
	x2 := min(bbox1[2], bbox2[2])
	y2 := min(bbox1[3], bbox2[3])

	if x2 <= x1 || y2 <= y1 {
		return 0 // No intersection
	}

	intersection := (x2 - x1) * (y2 - y1)
	area1 := (bbox1[2] - bbox1[0]) * (bbox1[3] - bbox1[1])
	area2 := (bbox2[2] - bbox2[0]) * (bbox2[3] - bbox2[1])
	union := area1 + area2 - intersection

	if union <= 0 {
		return 0
	}
	return intersection / union
}

// DisplaySize returns the dimensions of an image after its EXIF orientation is
// applied. Orientations 5-8 are quarter turns, so width and height swap.
func DisplaySize(fileWidth, fileHeight, orientation int) (int, int) {
	if orientation >= 5 && orientation <= 8 {
		return fileHeight, fileWidth
	}
	return fileWidth, fileHeight
}

// RelativeToPixel converts a relative (0-1) [x1, y1, x2, y2] box to pixels.
func RelativeToPixel(bbox []float64, width, height int) []float64 {
	if len(bbox) != 4 || width <= 0 || height <= 0 {
		return bbox
	}
	return []float64{
		bbox[0] * float64(width),
		bbox[1] * float64(height),
		bbox[2] * float64(width),
		bbox[3] * float64(height),
	}
}

// RegionToCornerBBox converts a face region to [x1, y1, x2, y2] corner format.
func RegionToCornerBBox(r database.FaceRegion) []float64 {
	return []float64{
		float64(r.X),
		float64(r.Y),
		float64(r.X + r.Width),
		float64(r.Y + r.Height),
	}
}

// ToRegion rounds a pixel [x1, y1, x2, y2] box outwards, clips it to the
// display bounds and attaches the rotation angle. ok is false when nothing of
// the box lies inside the image.
func ToRegion(bbox []float64, width, height int, angle float64) (database.FaceRegion, bool) {
	if len(bbox) != 4 {
		return database.FaceRegion{}, false
	}
	x1 := max(0, int(math.Floor(bbox[0])))
	y1 := max(0, int(math.Floor(bbox[1])))
	x2 := min(width, int(math.Ceil(bbox[2])))
	y2 := min(height, int(math.Ceil(bbox[3])))
	if x2 <= x1 || y2 <= y1 {
		return database.FaceRegion{}, false
	}
	return database.FaceRegion{X: x1, Y: y1, Width: x2 - x1, Height: y2 - y1, Angle: angle}, true
}

// RotatedCanvas returns the size of a width x height image rotated by angle
// radians, matching imageops.NormalizeOrientation.
func RotatedCanvas(width, height int, angle float64) (int, int) {
	sin, cos := math.Sincos(math.Remainder(angle, 2*math.Pi))
	w, h := float64(width), float64(height)
	dw := int(math.Ceil(math.Abs(w*cos) + math.Abs(h*sin) - 1e-9))
	dh := int(math.Ceil(math.Abs(w*sin) + math.Abs(h*cos) - 1e-9))
	return dw, dh
}

// Tilt maps a pixel box of a width x height display image into the canvas of
// that image rotated anti-clockwise by angle. The box keeps its size and is
// re-centred on the rotated position of its centre.
func Tilt(bbox []float64, width, height int, angle float64) ([]float64, int, int) {
	if len(bbox) != 4 || angle == 0 {
		return bbox, width, height
	}
	dw, dh := RotatedCanvas(width, height, angle)
	sin, cos := math.Sincos(angle)

	// Image y grows downwards: an anti-clockwise turn maps
	// (dx, dy) -> (dx*cos + dy*sin, -dx*sin + dy*cos).
	dx := (bbox[0]+bbox[2])/2 - float64(width)/2
	dy := (bbox[1]+bbox[3])/2 - float64(height)/2
	cx := dx*cos + dy*sin + float64(dw)/2
	cy := -dx*sin + dy*cos + float64(dh)/2

	hw, hh := (bbox[2]-bbox[0])/2, (bbox[3]-bbox[1])/2
	return []float64{cx - hw, cy - hh, cx + hw, cy + hh}, dw, dh
}

// Dedupe drops regions overlapping an earlier kept region by at least
// threshold IoU. Detectors run at several scales report the same face twice.
func Dedupe(regions []database.FaceRegion, threshold float64) []database.FaceRegion {
	kept := make([]database.FaceRegion, 0, len(regions))
	for _, r := range regions {
		box := RegionToCornerBBox(r)
		duplicate := false
		for _, k := range kept {
			if ComputeIoU(box, RegionToCornerBBox(k)) >= threshold {
				duplicate = true
				break
			}
		}
		if !duplicate {
			kept = append(kept, r)
		}
	}
	return kept
}
