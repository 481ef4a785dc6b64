package imageops

import (
	"fmt"
	"image"
	"math"
)

// DifferenceOfGaussians band-pass filters img by subtracting a sigma2 blur from a
// sigma1 blur. The signed difference is re-centred on mid-gray (128) and clamped to
// 8 bits, which keeps LBP thresholds meaningful while suppressing slow illumination
// gradients.
func DifferenceOfGaussians(img *image.Gray, sigma1, sigma2 float64) (*image.Gray, error) {
	if !(sigma1 > 0) || !(sigma2 > 0) || math.IsInf(sigma1, 0) || math.IsInf(sigma2, 0) {
		return nil, fmt.Errorf("%w: sigmas %v, %v", ErrInvalidGeometry, sigma1, sigma2)
	}
	pix, size := PixelBuffer(img)
	if size.X == 0 || size.Y == 0 {
		return nil, fmt.Errorf("%w: empty image", ErrInvalidGeometry)
	}

	src := make([]float64, len(pix))
	for i, p := range pix {
		src[i] = float64(p)
	}
	narrow := gaussianBlur(src, size, sigma1)
	wide := gaussianBlur(src, size, sigma2)

	out := image.NewGray(image.Rect(0, 0, size.X, size.Y))
	for i := range narrow {
		v := math.Round(narrow[i] - wide[i] + 128)
		out.Pix[i] = uint8(max(0, min(255, v)))
	}
	return out, nil
}

// gaussianKernel returns a normalized 1-D kernel covering +/- 3 sigma.
func gaussianKernel(sigma float64) []float64 {
	radius := max(1, int(math.Ceil(3*sigma)))
	kernel := make([]float64, 2*radius+1)
	var sum float64
	for i := -radius; i <= radius; i++ {
		v := math.Exp(-float64(i*i) / (2 * sigma * sigma))
		kernel[i+radius] = v
		sum += v
	}
	for i := range kernel {
		kernel[i] /= sum
	}
	return kernel
}

// gaussianBlur applies a separable Gaussian blur with edge clamping.
func gaussianBlur(src []float64, size image.Point, sigma float64) []float64 {
	kernel := gaussianKernel(sigma)
	radius := len(kernel) / 2
	tmp := make([]float64, len(src))
	out := make([]float64, len(src))

	for y := range size.Y {
		row := y * size.X
		for x := range size.X {
			var acc float64
			for k, w := range kernel {
				sx := min(size.X-1, max(0, x+k-radius))
				acc += w * src[row+sx]
			}
			tmp[row+x] = acc
		}
	}
	for y := range size.Y {
		for x := range size.X {
			var acc float64
			for k, w := range kernel {
				sy := min(size.Y-1, max(0, y+k-radius))
				acc += w * tmp[sy*size.X+x]
			}
			out[y*size.X+x] = acc
		}
	}
	return out
}
