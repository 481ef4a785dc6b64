package database

// ChiSquareDistance computes the Chi-square distance between two normalized
// histograms. Bins empty in both histograms are skipped.
// Returns maxDistance for vectors of different length.
func ChiSquareDistance(a, b []float32) float32 {
	if len(a) != len(b) {
		return maxDistance
	}

	var sum float32
	for i := range a {
		d := a[i] - b[i]
		s := a[i] + b[i]
		if s == 0 {
			continue
		}
		sum += d * d / s
	}
	return sum
}

const maxDistance = float32(1 << 30)
