// Package vector provides the exact inner-product vector stores behind the image index.
package vector

import (
	"errors"
	"fmt"
)

// ErrDimensionMismatch is returned when a vector length differs from the store dimension.
var ErrDimensionMismatch = errors.New("dimension mismatch")

// DimensionError reports the expected and actual vector length.
type DimensionError struct {
	Expected int
	Actual   int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("dimension mismatch: got %d, expected %d", e.Actual, e.Expected)
}

// Is makes errors.Is(err, ErrDimensionMismatch) hold for *DimensionError.
func (e *DimensionError) Is(target error) bool {
	return target == ErrDimensionMismatch
}

// Store is an append-only collection of fixed-length vectors addressed by position.
// There is no deletion primitive; callers rebuild with Reconstruct.
type Store interface {
	Append(vec []float32) error
	// AppendBatch appends all vectors in order, or none if any has the wrong length.
	AppendBatch(vecs [][]float32) error
	Search(query []float32, k int) ([]Hit, error)
	// Reconstruct replaces the whole contents.
	Reconstruct(vecs [][]float32) error
	Len() int
	Dimensions() int
	// Vectors returns a copy of the contents in position order.
	Vectors() [][]float32
	Type() string
	Close() error
}

// Hit is a single search result: the position of a stored vector and its inner product with the query.
type Hit struct {
	Position int
	Score    float64
}

func checkDimensions(dimensions int, vecs ...[]float32) error {
	for _, v := range vecs {
		if len(v) != dimensions {
			return &DimensionError{Expected: dimensions, Actual: len(v)}
		}
	}
	return nil
}
