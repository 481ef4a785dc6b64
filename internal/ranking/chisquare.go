// Package ranking scores face descriptors with the Chi-square distance and keeps
// the best matches of a query in a bounded heap.
package ranking

import (
	"errors"
	"fmt"

	"github.com/kozaktomas/face-search/internal/descriptor"
)

// Epsilon keeps the Chi-square denominator non-zero for bins empty in both descriptors.
const Epsilon = 1e-9

// ErrDescriptorLengthMismatch is returned when two descriptors have different lengths.
var ErrDescriptorLengthMismatch = errors.New("descriptor length mismatch")

// ChiSquare returns sum((e_i - t_i)^2 / (e_i + t_i + Epsilon)). Lower is more similar;
// ChiSquare(d, d) is 0.
func ChiSquare(expected, target descriptor.Descriptor) (float64, error) {
	if expected.Len() != target.Len() {
		return 0, fmt.Errorf("%w: %d vs %d bins", ErrDescriptorLengthMismatch, expected.Len(), target.Len())
	}
	var sum float64
	for i := range expected.Len() {
		e := float64(expected.Bin(i))
		t := float64(target.Bin(i))
		d := e - t
		sum += d * d / (e + t + Epsilon)
	}
	return sum, nil
}
