package store

import (
	"fmt"
	"math"
)

// CosineDistance returns 1 - cosine similarity, in [0, 2]. Lower means more similar.
// A zero-magnitude vector is maximally distant from everything.
func CosineDistance(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrDimensionMismatch, len(a), len(b))
	}
	if len(a) == 0 {
		return 0, fmt.Errorf("store: cosine distance on empty vectors")
	}
	var dot, na2, nb2 float64
	for i := range a {
		va := float64(a[i])
		vb := float64(b[i])
		dot += va * vb
		na2 += va * va
		nb2 += vb * vb
	}
	if na2 == 0 || nb2 == 0 {
		return 1, nil
	}
	sim := dot / (math.Sqrt(na2) * math.Sqrt(nb2))
	// clamp float noise so identical vectors give exactly 0
	if sim > 1 {
		sim = 1
	} else if sim < -1 {
		sim = -1
	}
	return 1 - sim, nil
}
