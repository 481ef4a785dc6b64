package imageops

import (
	"errors"
	"image"
	"image/color"
	"math"
	"testing"
)

// gradientImage creates a grayscale image where each pixel is (x*16 + y) mod 256.
func gradientImage(w, h int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.SetGray(x, y, color.Gray{Y: uint8((x*16 + y) % 256)})
		}
	}
	return img
}

func TestOrientationAngle(t *testing.T) {
	tests := []struct {
		orientation int
		expected    float64
	}{
		{OrientationTopLeft, 0},
		{OrientationTopRight, 0},
		{OrientationBottomRight, math.Pi},
		{OrientationBottomLeft, math.Pi},
		{OrientationLeftTop, math.Pi / 2},
		{OrientationRightTop, -math.Pi / 2},
		{OrientationRightBottom, -math.Pi / 2},
		{OrientationLeftBottom, math.Pi / 2},
		{0, 0},
		{42, 0},
	}

	for _, tt := range tests {
		if got := OrientationAngle(tt.orientation); got != tt.expected {
			t.Errorf("OrientationAngle(%d) = %v, want %v", tt.orientation, got, tt.expected)
		}
	}
}

func TestDegreesToRadians(t *testing.T) {
	if got := DegreesToRadians(180); math.Abs(got-math.Pi) > 1e-12 {
		t.Errorf("DegreesToRadians(180) = %v, want pi", got)
	}
}

func TestNormalizeOrientation_InvalidAngle(t *testing.T) {
	img := gradientImage(4, 4)
	for _, angle := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		_, err := NormalizeOrientation(img, angle)
		if !errors.Is(err, ErrInvalidGeometry) {
			t.Errorf("NormalizeOrientation(%v) error = %v, want ErrInvalidGeometry", angle, err)
		}
	}
}

func TestNormalizeOrientation_ZeroAngleIsIdentity(t *testing.T) {
	img := gradientImage(7, 5)
	out, err := NormalizeOrientation(img, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Bounds() != img.Bounds() {
		t.Fatalf("bounds = %v, want %v", out.Bounds(), img.Bounds())
	}
	for i := range img.Pix {
		if out.Pix[i] != img.Pix[i] {
			t.Fatalf("pixel %d = %d, want %d", i, out.Pix[i], img.Pix[i])
		}
	}
}

func TestNormalizeOrientation_FullTurnIsIdentity(t *testing.T) {
	img := gradientImage(6, 3)
	out, err := NormalizeOrientation(img, 2*math.Pi)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Bounds() != img.Bounds() {
		t.Fatalf("bounds = %v, want %v", out.Bounds(), img.Bounds())
	}
}

func TestNormalizeOrientation_QuarterTurnSwapsDimensions(t *testing.T) {
	img := gradientImage(8, 4)
	out, err := NormalizeOrientation(img, math.Pi/2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Bounds().Dx() != 4 || out.Bounds().Dy() != 8 {
		t.Errorf("rotated size = %v, want 4x8", out.Bounds().Size())
	}
}

func TestNormalizeOrientation_AntiClockwise(t *testing.T) {
	// A single bright column on the right edge must end up on the top edge
	// after an anti-clockwise quarter turn.
	img := image.NewGray(image.Rect(0, 0, 6, 6))
	for y := range 6 {
		img.SetGray(5, y, color.Gray{Y: 255})
	}
	out, err := NormalizeOrientation(img, math.Pi/2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var top, bottom int
	for x := range 6 {
		top += int(out.GrayAt(x, 0).Y)
		bottom += int(out.GrayAt(x, 5).Y)
	}
	if top <= bottom {
		t.Errorf("expected bright row at top, got top=%d bottom=%d", top, bottom)
	}
}

func TestNormalizeOrientation_ColorInput(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 3, 3))
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	out, err := NormalizeOrientation(img, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.GrayAt(1, 1).Y != 255 {
		t.Errorf("white pixel converted to %d, want 255", out.GrayAt(1, 1).Y)
	}
}

func TestCrop(t *testing.T) {
	img := gradientImage(10, 10)

	tests := []struct {
		name    string
		rect    image.Rectangle
		wantErr error
	}{
		{"inside", image.Rect(2, 3, 6, 8), nil},
		{"full image", image.Rect(0, 0, 10, 10), nil},
		{"empty", image.Rect(2, 2, 2, 5), ErrInvalidGeometry},
		{"outside", image.Rect(5, 5, 11, 9), ErrOutOfBounds},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Crop(img, tt.rect)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Crop() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if out.Bounds().Min != (image.Point{}) || out.Bounds().Size() != tt.rect.Size() {
				t.Fatalf("bounds = %v, want origin rect of size %v", out.Bounds(), tt.rect.Size())
			}
			if out.GrayAt(0, 0) != img.GrayAt(tt.rect.Min.X, tt.rect.Min.Y) {
				t.Errorf("first pixel mismatch")
			}
		})
	}
}

func TestPixelBuffer_SubImage(t *testing.T) {
	img := gradientImage(8, 8)
	sub := img.SubImage(image.Rect(2, 2, 5, 4)).(*image.Gray)

	buf, size := PixelBuffer(sub)
	if size != image.Pt(3, 2) {
		t.Fatalf("size = %v, want 3x2", size)
	}
	if len(buf) != 6 {
		t.Fatalf("len(buf) = %d, want 6", len(buf))
	}
	if buf[0] != img.GrayAt(2, 2).Y || buf[5] != img.GrayAt(4, 3).Y {
		t.Errorf("buffer does not match sub-image pixels: %v", buf)
	}
}

func TestExtractBlock(t *testing.T) {
	// 4x3 buffer, two bytes per pixel: value = index of the byte.
	size := image.Pt(4, 3)
	pixels := make([]byte, 4*3*2)
	for i := range pixels {
		pixels[i] = byte(i)
	}

	out, err := ExtractBlock(pixels, size, image.Rect(1, 1, 3, 3), 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := []byte{10, 11, 12, 13, 18, 19, 20, 21}
	if len(out) != len(expected) {
		t.Fatalf("len = %d, want %d", len(out), len(expected))
	}
	for i := range expected {
		if out[i] != expected[i] {
			t.Fatalf("out = %v, want %v", out, expected)
		}
	}
}

func TestExtractBlock_Errors(t *testing.T) {
	pixels := make([]byte, 16)
	size := image.Pt(4, 4)

	tests := []struct {
		name    string
		pixels  []byte
		block   image.Rectangle
		bpp     int
		wantErr error
	}{
		{"outside", pixels, image.Rect(2, 2, 5, 4), 1, ErrOutOfBounds},
		{"negative origin", pixels, image.Rect(-1, 0, 2, 2), 1, ErrOutOfBounds},
		{"short buffer", pixels[:10], image.Rect(0, 0, 2, 2), 1, ErrOutOfBounds},
		{"bpp mismatch", pixels, image.Rect(0, 0, 2, 2), 2, ErrOutOfBounds},
		{"empty block", pixels, image.Rect(1, 1, 1, 3), 1, ErrInvalidGeometry},
		{"zero bpp", pixels, image.Rect(0, 0, 1, 1), 0, ErrInvalidGeometry},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ExtractBlock(tt.pixels, size, tt.block, tt.bpp)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ExtractBlock() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestDifferenceOfGaussians(t *testing.T) {
	flat := image.NewGray(image.Rect(0, 0, 12, 12))
	for i := range flat.Pix {
		flat.Pix[i] = 90
	}

	out, err := DifferenceOfGaussians(flat, 1, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// A flat image has no band-pass content: everything maps to mid-gray.
	for i, p := range out.Pix {
		if p != 128 {
			t.Fatalf("pixel %d = %d, want 128", i, p)
		}
	}

	if _, err := DifferenceOfGaussians(flat, 0, 2); !errors.Is(err, ErrInvalidGeometry) {
		t.Errorf("zero sigma error = %v, want ErrInvalidGeometry", err)
	}
	if _, err := DifferenceOfGaussians(flat, math.NaN(), 2); !errors.Is(err, ErrInvalidGeometry) {
		t.Errorf("NaN sigma error = %v, want ErrInvalidGeometry", err)
	}
}
