// Package imageops provides the pure image transforms used before LBP extraction:
// orientation normalization, luma extraction, cropping and block copies.
package imageops

import (
	"errors"
	"fmt"
	"image"
	"math"

	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
)

var (
	// ErrInvalidGeometry is returned for non-finite angles and degenerate rectangles.
	ErrInvalidGeometry = errors.New("invalid geometry")

	// ErrOutOfBounds is returned when a rectangle does not fit the source buffer.
	ErrOutOfBounds = errors.New("out of bounds")
)

// TIFF/EXIF orientation values.
const (
	OrientationTopLeft     = 1
	OrientationTopRight    = 2
	OrientationBottomRight = 3
	OrientationBottomLeft  = 4
	OrientationLeftTop     = 5
	OrientationRightTop    = 6
	OrientationRightBottom = 7
	OrientationLeftBottom  = 8
)

// DegreesToRadians converts an angle in degrees to radians.
func DegreesToRadians(deg float64) float64 {
	return deg * math.Pi / 180
}

// OrientationAngle returns the anti-clockwise rotation (radians) that brings an image
// stored with the given EXIF orientation upright. Mirrored orientations (2, 4, 5, 7)
// only contribute their rotation part; LBP codes of a mirrored face are not comparable
// anyway, so flipping is left to the caller.
func OrientationAngle(orientation int) float64 {
	switch orientation {
	case OrientationBottomRight, OrientationBottomLeft:
		return math.Pi
	case OrientationRightTop, OrientationRightBottom:
		return -math.Pi / 2
	case OrientationLeftBottom, OrientationLeftTop:
		return math.Pi / 2
	default:
		return 0
	}
}

// ToGray converts any image to an 8-bit grayscale image anchored at (0, 0).
// The conversion uses the ITU-R BT.601 luma weights of color.GrayModel.
func ToGray(img image.Image) *image.Gray {
	b := img.Bounds()
	gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(gray, gray.Bounds(), img, b.Min, draw.Src)
	return gray
}

// NormalizeOrientation rotates img by angle radians (anti-clockwise positive) around its
// centre and returns the grayscale result. The output canvas is the bounding box of the
// rotated image; uncovered corners are black. Bilinear resampling is used.
func NormalizeOrientation(img image.Image, angle float64) (*image.Gray, error) {
	if math.IsNaN(angle) || math.IsInf(angle, 0) {
		return nil, fmt.Errorf("%w: rotation angle %v", ErrInvalidGeometry, angle)
	}
	src := img.Bounds()
	if src.Empty() {
		return nil, fmt.Errorf("%w: empty image", ErrInvalidGeometry)
	}

	// Normalize to (-pi, pi] so exact quarter turns stay exact.
	angle = math.Remainder(angle, 2*math.Pi)
	if angle == 0 {
		return ToGray(img), nil
	}

	sin, cos := math.Sincos(angle)
	sin, cos = snap(sin), snap(cos)

	w, h := float64(src.Dx()), float64(src.Dy())
	dw := int(math.Ceil(math.Abs(w*cos) + math.Abs(h*sin) - 1e-9))
	dh := int(math.Ceil(math.Abs(w*sin) + math.Abs(h*cos) - 1e-9))
	dst := image.NewGray(image.Rect(0, 0, dw, dh))

	// Source centre and destination centre.
	cx := float64(src.Min.X) + w/2
	cy := float64(src.Min.Y) + h/2
	dcx, dcy := float64(dw)/2, float64(dh)/2

	// Image y grows downwards, so an anti-clockwise turn maps
	// (dx, dy) -> (dx*cos + dy*sin, -dx*sin + dy*cos).
	s2d := f64.Aff3{
		cos, sin, dcx - cos*cx - sin*cy,
		-sin, cos, dcy + sin*cx - cos*cy,
	}
	draw.BiLinear.Transform(dst, s2d, img, src, draw.Src, nil)
	return dst, nil
}

// snap rounds values within float noise of -1, 0 or 1.
func snap(v float64) float64 {
	for _, target := range []float64{-1, 0, 1} {
		if math.Abs(v-target) < 1e-12 {
			return target
		}
	}
	return v
}

// Crop copies rect out of img into a new grayscale image anchored at (0, 0).
func Crop(img *image.Gray, rect image.Rectangle) (*image.Gray, error) {
	if rect.Empty() {
		return nil, fmt.Errorf("%w: empty rectangle %v", ErrInvalidGeometry, rect)
	}
	if !rect.In(img.Bounds()) {
		return nil, fmt.Errorf("%w: rectangle %v outside image %v", ErrOutOfBounds, rect, img.Bounds())
	}
	out := image.NewGray(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	draw.Draw(out, out.Bounds(), img, rect.Min, draw.Src)
	return out, nil
}

// PixelBuffer returns the luma of img as a tightly packed buffer (one byte per pixel,
// row-major) together with its size.
func PixelBuffer(img image.Image) ([]byte, image.Point) {
	gray, ok := img.(*image.Gray)
	if !ok || gray.Rect.Min != (image.Point{}) {
		gray = ToGray(img)
	}
	size := gray.Rect.Size()
	if gray.Stride == size.X {
		buf := make([]byte, size.X*size.Y)
		copy(buf, gray.Pix)
		return buf, size
	}
	buf := make([]byte, size.X*size.Y)
	for y := range size.Y {
		copy(buf[y*size.X:(y+1)*size.X], gray.Pix[y*gray.Stride:y*gray.Stride+size.X])
	}
	return buf, size
}

// ExtractBlock copies block out of a packed pixel buffer of the given size.
// bytesPerPixel describes the buffer layout; the returned buffer uses the same layout.
func ExtractBlock(pixels []byte, size image.Point, block image.Rectangle, bytesPerPixel int) ([]byte, error) {
	if bytesPerPixel <= 0 {
		return nil, fmt.Errorf("%w: bytes per pixel %d", ErrInvalidGeometry, bytesPerPixel)
	}
	if block.Empty() {
		return nil, fmt.Errorf("%w: empty block %v", ErrInvalidGeometry, block)
	}
	if size.X <= 0 || size.Y <= 0 || len(pixels) < size.X*size.Y*bytesPerPixel {
		return nil, fmt.Errorf("%w: buffer of %d bytes cannot hold %dx%d pixels", ErrOutOfBounds, len(pixels), size.X, size.Y)
	}
	if !block.In(image.Rectangle{Max: size}) {
		return nil, fmt.Errorf("%w: block %v outside %dx%d buffer", ErrOutOfBounds, block, size.X, size.Y)
	}

	rowBytes := block.Dx() * bytesPerPixel
	stride := size.X * bytesPerPixel
	out := make([]byte, rowBytes*block.Dy())
	for y := block.Min.Y; y < block.Max.Y; y++ {
		start := y*stride + block.Min.X*bytesPerPixel
		copy(out[(y-block.Min.Y)*rowBytes:], pixels[start:start+rowBytes])
	}
	return out, nil
}
