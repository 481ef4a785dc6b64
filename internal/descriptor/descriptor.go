// Package descriptor builds and encodes the block LBP histogram descriptors that
// represent a face's texture signature.
package descriptor

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/kozaktomas/face-search/internal/lbp"
)

// BlockPolicy decides how a region that the grid does not divide evenly is split.
type BlockPolicy string

const (
	// PolicyClip uses floor(size/grid) blocks; the last row and column absorb the remainder.
	PolicyClip BlockPolicy = "clip"
	// PolicyPad splits like PolicyClip but pads the final row and column out to
	// ceil(size/grid)*grid; the padding contributes no samples.
	PolicyPad BlockPolicy = "pad"
)

// Default layout values.
const (
	DefaultGridRows = 8
	DefaultGridCols = 8
	DefaultBinCount = 256
)

var (
	// ErrInvalidLayout is returned for non-positive grid or bin values and unknown policies.
	ErrInvalidLayout = errors.New("invalid descriptor layout")

	// ErrLengthMismatch is returned when bins do not match the layout length.
	ErrLengthMismatch = errors.New("descriptor length does not match layout")

	// ErrCorrupt is returned when a binary descriptor cannot be decoded.
	ErrCorrupt = errors.New("corrupt descriptor encoding")
)

// Layout describes the shape of a descriptor. Changing any field invalidates every
// descriptor built with a different layout.
type Layout struct {
	GridRows int         `yaml:"grid_rows" json:"grid_rows"`
	GridCols int         `yaml:"grid_cols" json:"grid_cols"`
	BinCount int         `yaml:"bin_count" json:"bin_count"`
	Policy   BlockPolicy `yaml:"block_policy" json:"block_policy"`

	// Extraction tags the LBP settings that change what the bins mean without
	// changing their shape (see ExtractionTag). Empty for 8-bit codes, no filter.
	Extraction string `yaml:"extraction,omitempty" json:"extraction,omitempty"`
}

// ExtractionTag encodes the LBP bit depth and difference-of-Gaussians settings
// for Layout.Extraction, e.g. "b4+dog1/2". The default extraction is "".
func ExtractionTag(bitDepth int, dog bool, sigma1, sigma2 float64) string {
	var parts []string
	if bitDepth > 0 && bitDepth != lbp.DefaultBitDepth {
		parts = append(parts, "b"+strconv.Itoa(bitDepth))
	}
	if dog {
		parts = append(parts, "dog"+strconv.FormatFloat(sigma1, 'g', -1, 64)+"/"+strconv.FormatFloat(sigma2, 'g', -1, 64))
	}
	return strings.Join(parts, "+")
}

// DefaultLayout returns the 8x8 grid, 256 bin, clip layout.
func DefaultLayout() Layout {
	return Layout{
		GridRows: DefaultGridRows,
		GridCols: DefaultGridCols,
		BinCount: DefaultBinCount,
		Policy:   PolicyClip,
	}
}

// Len returns the number of bins of a descriptor with this layout.
func (l Layout) Len() int {
	return l.GridRows * l.GridCols * l.BinCount
}

// Blocks returns the number of grid blocks.
func (l Layout) Blocks() int {
	return l.GridRows * l.GridCols
}

// Validate checks that the layout can produce descriptors.
func (l Layout) Validate() error {
	if l.GridRows <= 0 || l.GridCols <= 0 || l.BinCount <= 0 {
		return fmt.Errorf("%w: grid %dx%d, %d bins", ErrInvalidLayout, l.GridRows, l.GridCols, l.BinCount)
	}
	if l.GridRows > 0xFFFF || l.GridCols > 0xFFFF {
		return fmt.Errorf("%w: grid %dx%d too large", ErrInvalidLayout, l.GridRows, l.GridCols)
	}
	if l.Policy != PolicyClip && l.Policy != PolicyPad {
		return fmt.Errorf("%w: unknown block policy %q", ErrInvalidLayout, l.Policy)
	}
	if strings.Contains(l.Extraction, ":") || len(l.Extraction) > 0xFF {
		return fmt.Errorf("%w: extraction tag %q", ErrInvalidLayout, l.Extraction)
	}
	return nil
}

// String returns the layout version tag, e.g. "lbp:8x8x256:clip" or
// "lbp:8x8x256:clip:b4". Stores persist this tag to detect configuration drift.
func (l Layout) String() string {
	tag := fmt.Sprintf("lbp:%dx%dx%d:%s", l.GridRows, l.GridCols, l.BinCount, l.Policy)
	if l.Extraction != "" {
		tag += ":" + l.Extraction
	}
	return tag
}

// ParseLayout parses a tag produced by Layout.String.
func ParseLayout(s string) (Layout, error) {
	parts := strings.Split(s, ":")
	if (len(parts) != 3 && len(parts) != 4) || parts[0] != "lbp" {
		return Layout{}, fmt.Errorf("%w: tag %q", ErrInvalidLayout, s)
	}
	dims := strings.Split(parts[1], "x")
	if len(dims) != 3 {
		return Layout{}, fmt.Errorf("%w: tag %q", ErrInvalidLayout, s)
	}
	var vals [3]int
	for i, d := range dims {
		n, err := strconv.Atoi(d)
		if err != nil {
			return Layout{}, fmt.Errorf("%w: tag %q: %w", ErrInvalidLayout, s, err)
		}
		vals[i] = n
	}
	l := Layout{GridRows: vals[0], GridCols: vals[1], BinCount: vals[2], Policy: BlockPolicy(parts[2])}
	if len(parts) == 4 {
		if parts[3] == "" {
			return Layout{}, fmt.Errorf("%w: tag %q", ErrInvalidLayout, s)
		}
		l.Extraction = parts[3]
	}
	if err := l.Validate(); err != nil {
		return Layout{}, err
	}
	return l, nil
}

// Descriptor is an immutable sequence of histogram bins: GridRows*GridCols blocks of
// BinCount counts each, in row-major block order.
type Descriptor struct {
	layout Layout
	bins   []uint32
}

// New creates a descriptor from bins. The slice is copied.
func New(layout Layout, bins []uint32) (Descriptor, error) {
	if err := layout.Validate(); err != nil {
		return Descriptor{}, err
	}
	if len(bins) != layout.Len() {
		return Descriptor{}, fmt.Errorf("%w: got %d bins, layout %s needs %d", ErrLengthMismatch, len(bins), layout, layout.Len())
	}
	cp := make([]uint32, len(bins))
	copy(cp, bins)
	return Descriptor{layout: layout, bins: cp}, nil
}

// Layout returns the layout the descriptor was built with.
func (d Descriptor) Layout() Layout { return d.layout }

// Len returns the number of bins.
func (d Descriptor) Len() int { return len(d.bins) }

// IsZero reports whether d is the zero Descriptor.
func (d Descriptor) IsZero() bool { return d.bins == nil }

// Bin returns the i-th bin.
func (d Descriptor) Bin(i int) uint32 { return d.bins[i] }

// Bins returns a copy of all bins.
func (d Descriptor) Bins() []uint32 {
	cp := make([]uint32, len(d.bins))
	copy(cp, d.bins)
	return cp
}

// Block returns a copy of the histogram of block (row, col).
func (d Descriptor) Block(row, col int) []uint32 {
	n := d.layout.BinCount
	start := (row*d.layout.GridCols + col) * n
	cp := make([]uint32, n)
	copy(cp, d.bins[start:start+n])
	return cp
}

// Total returns the sum of all bins.
func (d Descriptor) Total() uint64 {
	var sum uint64
	for _, b := range d.bins {
		sum += uint64(b)
	}
	return sum
}

// Equal reports bitwise equality of layout and bins.
func (d Descriptor) Equal(o Descriptor) bool {
	if d.layout != o.layout || len(d.bins) != len(o.bins) {
		return false
	}
	for i := range d.bins {
		if d.bins[i] != o.bins[i] {
			return false
		}
	}
	return true
}

// Normalized returns each block histogram scaled to sum to 1, as float32.
// Empty blocks stay zero.
func (d Descriptor) Normalized() []float32 {
	out := make([]float32, len(d.bins))
	n := d.layout.BinCount
	for start := 0; start < len(d.bins); start += n {
		var sum uint64
		for _, b := range d.bins[start : start+n] {
			sum += uint64(b)
		}
		if sum == 0 {
			continue
		}
		for i, b := range d.bins[start : start+n] {
			out[start+i] = float32(float64(b) / float64(sum))
		}
	}
	return out
}

// Binary encoding:
//
//	magic "LBPD" | version u8 | policy u8 | rows u16 | cols u16 | bins u32 |
//	extraction length u8 | extraction bytes | len*u32
//
// All integers are little-endian. Version 1 blobs have no extraction fields.
var magic = [4]byte{'L', 'B', 'P', 'D'}

const (
	encodingVersion = 2
	headerSize      = 4 + 1 + 1 + 2 + 2 + 4
)

// MarshalBinary encodes the descriptor as a self-describing blob.
func (d Descriptor) MarshalBinary() ([]byte, error) {
	if d.IsZero() {
		return nil, fmt.Errorf("%w: zero descriptor", ErrInvalidLayout)
	}
	tag := d.layout.Extraction
	payload := headerSize + 1 + len(tag)
	buf := make([]byte, payload+4*len(d.bins))
	copy(buf, magic[:])
	buf[4] = encodingVersion
	buf[5] = policyCode(d.layout.Policy)
	binary.LittleEndian.PutUint16(buf[6:], uint16(d.layout.GridRows))
	binary.LittleEndian.PutUint16(buf[8:], uint16(d.layout.GridCols))
	binary.LittleEndian.PutUint32(buf[10:], uint32(d.layout.BinCount))
	buf[headerSize] = byte(len(tag))
	copy(buf[headerSize+1:], tag)
	for i, b := range d.bins {
		binary.LittleEndian.PutUint32(buf[payload+4*i:], b)
	}
	return buf, nil
}

// UnmarshalBinary decodes a blob produced by MarshalBinary.
func (d *Descriptor) UnmarshalBinary(data []byte) error {
	if len(data) < headerSize || [4]byte(data[:4]) != magic {
		return fmt.Errorf("%w: bad header", ErrCorrupt)
	}
	if data[4] != 1 && data[4] != encodingVersion {
		return fmt.Errorf("%w: unsupported version %d", ErrCorrupt, data[4])
	}
	policy, ok := policyFromCode(data[5])
	if !ok {
		return fmt.Errorf("%w: unknown policy code %d", ErrCorrupt, data[5])
	}
	layout := Layout{
		GridRows: int(binary.LittleEndian.Uint16(data[6:])),
		GridCols: int(binary.LittleEndian.Uint16(data[8:])),
		BinCount: int(binary.LittleEndian.Uint32(data[10:])),
		Policy:   policy,
	}
	payload := headerSize
	if data[4] == encodingVersion {
		if len(data) < headerSize+1 || len(data) < headerSize+1+int(data[headerSize]) {
			return fmt.Errorf("%w: truncated extraction tag", ErrCorrupt)
		}
		n := int(data[headerSize])
		layout.Extraction = string(data[headerSize+1 : headerSize+1+n])
		payload += 1 + n
	}
	if err := layout.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	if len(data)-payload != 4*layout.Len() {
		return fmt.Errorf("%w: payload of %d bytes for layout %s", ErrCorrupt, len(data)-payload, layout)
	}
	bins := make([]uint32, layout.Len())
	for i := range bins {
		bins[i] = binary.LittleEndian.Uint32(data[payload+4*i:])
	}
	*d = Descriptor{layout: layout, bins: bins}
	return nil
}

func policyCode(p BlockPolicy) byte {
	if p == PolicyPad {
		return 2
	}
	return 1
}

func policyFromCode(c byte) (BlockPolicy, bool) {
	switch c {
	case 1:
		return PolicyClip, true
	case 2:
		return PolicyPad, true
	default:
		return "", false
	}
}
