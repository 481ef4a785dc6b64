package descriptor

import (
	"errors"
	"fmt"
	"image"

	"github.com/kozaktomas/face-search/internal/imageops"
	"github.com/kozaktomas/face-search/internal/lbp"
)

// ErrEmptyRegion is returned when a grid block holds no valid LBP sample.
var ErrEmptyRegion = errors.New("empty region")

// Builder turns LBP images into descriptors of a fixed layout.
type Builder struct {
	layout Layout
}

// NewBuilder validates layout and returns a Builder for it.
func NewBuilder(layout Layout) (*Builder, error) {
	if err := layout.Validate(); err != nil {
		return nil, err
	}
	return &Builder{layout: layout}, nil
}

// Layout returns the builder's layout.
func (b *Builder) Layout() Layout { return b.layout }

// Blocks splits region into the layout's grid according to its block policy.
// Blocks are returned in row-major order and may extend past region under PolicyPad.
func (b *Builder) Blocks(region image.Rectangle) []image.Rectangle {
	xs := splits(region.Min.X, region.Dx(), b.layout.GridCols, b.layout.Policy)
	ys := splits(region.Min.Y, region.Dy(), b.layout.GridRows, b.layout.Policy)

	blocks := make([]image.Rectangle, 0, b.layout.Blocks())
	for r := range b.layout.GridRows {
		for c := range b.layout.GridCols {
			blocks = append(blocks, image.Rect(xs[c], ys[r], xs[c+1], ys[r+1]))
		}
	}
	return blocks
}

// splits returns the n+1 block edges along one axis. Both policies share the
// floor(length/n) leading edges; PolicyPad moves the final edge out to the next
// multiple of n so the last block has at least the nominal ceil size.
func splits(origin, length, n int, policy BlockPolicy) []int {
	edges := make([]int, n+1)
	step := length / n
	for i := range n {
		edges[i] = origin + i*step
	}
	edges[n] = origin + length
	if policy == PolicyPad {
		edges[n] = origin + n*((length+n-1)/n)
	}
	return edges
}

// Build computes the descriptor of region within img. Each block's histogram counts
// the codes of valid (non-border) pixels that fall inside both the block and region;
// codes larger than the bin count wrap modulo BinCount.
func (b *Builder) Build(img *lbp.Image, region image.Rectangle) (Descriptor, error) {
	if region.Empty() {
		return Descriptor{}, fmt.Errorf("%w: region %v", ErrEmptyRegion, region)
	}
	if !region.In(img.Bounds()) {
		return Descriptor{}, fmt.Errorf("%w: region %v outside LBP image %v", imageops.ErrOutOfBounds, region, img.Bounds())
	}

	usable := region.Intersect(img.Interior())
	bins := make([]uint32, b.layout.Len())
	n := b.layout.BinCount

	for i, block := range b.Blocks(region) {
		sample := block.Intersect(usable)
		if sample.Empty() {
			return Descriptor{}, fmt.Errorf("%w: block %d (%v) has no samples after border exclusion", ErrEmptyRegion, i, block)
		}
		codes, err := imageops.ExtractBlock(img.Codes, img.Size(), sample, 1)
		if err != nil {
			return Descriptor{}, fmt.Errorf("extracting block %d: %w", i, err)
		}
		hist := bins[i*n : (i+1)*n]
		for _, code := range codes {
			hist[int(code)%n]++
		}
	}
	return Descriptor{layout: b.layout, bins: bins}, nil
}
