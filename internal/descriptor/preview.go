package descriptor

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
)

// previewCell is the edge length in pixels of one bin cell in the preview.
const previewCell = 2

// RenderPreview draws d as a PNG heat map: one row of cells per grid block and one
// column per bin, each block's bins scaled to that block's peak.
func RenderPreview(d Descriptor) ([]byte, error) {
	if d.IsZero() {
		return nil, fmt.Errorf("%w: zero descriptor", ErrInvalidLayout)
	}
	l := d.layout
	img := image.NewGray(image.Rect(0, 0, l.BinCount*previewCell, l.Blocks()*previewCell))

	for block := range l.Blocks() {
		hist := d.bins[block*l.BinCount : (block+1)*l.BinCount]
		var peak uint32
		for _, v := range hist {
			peak = max(peak, v)
		}
		if peak == 0 {
			continue
		}
		for bin, v := range hist {
			shade := color.Gray{Y: uint8(uint64(v) * 255 / uint64(peak))}
			for dy := range previewCell {
				for dx := range previewCell {
					img.SetGray(bin*previewCell+dx, block*previewCell+dy, shade)
				}
			}
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding preview: %w", err)
	}
	return buf.Bytes(), nil
}
