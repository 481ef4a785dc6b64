// Package lbp computes the Local Binary Pattern transform of grayscale face images.
package lbp

import (
	"errors"
	"fmt"
	"image"

	"github.com/kozaktomas/face-search/internal/imageops"
)

// DefaultBitDepth is the number of bits of a full 8-neighbour LBP code.
const DefaultBitDepth = 8

// ErrInvalidBitDepth is returned when Options.BitDepth is outside 1..8.
var ErrInvalidBitDepth = errors.New("invalid LBP bit depth")

// neighbours lists the sampling offsets clockwise from the top-left pixel.
// The first neighbour produces the most significant bit.
var neighbours = [8]image.Point{
	{-1, -1}, {0, -1}, {1, -1},
	{1, 0},
	{1, 1}, {0, 1}, {-1, 1},
	{-1, 0},
}

// Options configures the transform.
type Options struct {
	// BitDepth keeps the BitDepth most significant bits of each code (default 8).
	BitDepth int
}

func (o Options) bitDepth() (int, error) {
	if o.BitDepth == 0 {
		return DefaultBitDepth, nil
	}
	if o.BitDepth < 1 || o.BitDepth > DefaultBitDepth {
		return 0, fmt.Errorf("%w: %d", ErrInvalidBitDepth, o.BitDepth)
	}
	return o.BitDepth, nil
}

// Image holds one LBP code per source pixel. Codes are stored row-major with
// stride Width. Border pixels have no full neighbourhood: their code is 0 and
// they are reported as invalid so histograms can exclude them.
type Image struct {
	Width    int
	Height   int
	BitDepth int
	Codes    []uint8
}

// Transform computes the LBP code of every interior pixel of src. A neighbour sets
// its bit when its intensity is greater than or equal to the centre intensity.
func Transform(src image.Image, opts Options) (*Image, error) {
	depth, err := opts.bitDepth()
	if err != nil {
		return nil, err
	}
	pix, size := imageops.PixelBuffer(src)

	out := &Image{
		Width:    size.X,
		Height:   size.Y,
		BitDepth: depth,
		Codes:    make([]uint8, size.X*size.Y),
	}
	shift := uint(DefaultBitDepth - depth)

	for y := 1; y < size.Y-1; y++ {
		for x := 1; x < size.X-1; x++ {
			center := pix[y*size.X+x]
			var code uint8
			for _, n := range neighbours {
				code <<= 1
				if pix[(y+n.Y)*size.X+x+n.X] >= center {
					code |= 1
				}
			}
			out.Codes[y*size.X+x] = code >> shift
		}
	}
	return out, nil
}

// Bounds returns the image rectangle anchored at (0, 0).
func (m *Image) Bounds() image.Rectangle {
	return image.Rect(0, 0, m.Width, m.Height)
}

// Size returns the image dimensions.
func (m *Image) Size() image.Point {
	return image.Pt(m.Width, m.Height)
}

// Interior returns the rectangle of pixels with a full 8-neighbourhood.
// It is empty for images narrower or shorter than 3 pixels.
func (m *Image) Interior() image.Rectangle {
	if m.Width < 3 || m.Height < 3 {
		return image.Rectangle{}
	}
	return image.Rect(1, 1, m.Width-1, m.Height-1)
}

// Valid reports whether (x, y) carries a real LBP code.
func (m *Image) Valid(x, y int) bool {
	return image.Pt(x, y).In(m.Interior())
}

// CodeAt returns the code at (x, y), or 0 outside the image.
func (m *Image) CodeAt(x, y int) uint8 {
	if x < 0 || y < 0 || x >= m.Width || y >= m.Height {
		return 0
	}
	return m.Codes[y*m.Width+x]
}

// Levels returns the number of distinct codes (2^BitDepth).
func (m *Image) Levels() int {
	return 1 << m.BitDepth
}

// Gray renders the codes as a grayscale image, stretched to the full 8-bit range.
func (m *Image) Gray() *image.Gray {
	out := image.NewGray(m.Bounds())
	shift := uint(DefaultBitDepth - m.BitDepth)
	for i, c := range m.Codes {
		out.Pix[i] = c << shift
	}
	return out
}
