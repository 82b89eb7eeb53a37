// Package vector provides the face embedding distance and the nearest-identity decision engine.
package vector

import (
	"errors"
	"fmt"
	"math"
)

// ErrDimensionMismatch is returned when two vectors of different length are compared.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// DimensionMismatchError carries the two lengths involved in a failed comparison.
type DimensionMismatchError struct {
	Got  int
	Want int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("vector dimension mismatch: got %d, expected %d", e.Got, e.Want)
}

// Unwrap lets errors.Is match ErrDimensionMismatch.
func (e *DimensionMismatchError) Unwrap() error {
	return ErrDimensionMismatch
}

// Distance returns the Euclidean (L2) distance between a and b, accumulated in float64.
// Inputs are not normalized: thresholds are calibrated against the extractor's native scale.
// NaN or Inf components propagate into the result.
func Distance(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, &DimensionMismatchError{Got: len(b), Want: len(a)}
	}
	return math.Sqrt(squaredDistance(a, b)), nil
}

func squaredDistance(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return sum
}
