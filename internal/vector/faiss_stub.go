//go:build !faiss || !cgo
// +build !faiss !cgo

package vector

import "fmt"

var errFAISSUnavailable = fmt.Errorf("FAISS not available: build with -tags=faiss and install FAISS library")

// FAISSStore is a stub that returns an error when FAISS is not available.
type FAISSStore struct{}

// NewFAISSStore returns an error because FAISS is not available.
func NewFAISSStore(dimensions int) (*FAISSStore, error) {
	return nil, errFAISSUnavailable
}

func (f *FAISSStore) Append(vec []float32) error               { return errFAISSUnavailable }
func (f *FAISSStore) AppendBatch(vecs [][]float32) error       { return errFAISSUnavailable }
func (f *FAISSStore) Reconstruct(vecs [][]float32) error       { return errFAISSUnavailable }
func (f *FAISSStore) Search(q []float32, k int) ([]Hit, error) { return nil, errFAISSUnavailable }
func (f *FAISSStore) Len() int                                 { return 0 }
func (f *FAISSStore) Dimensions() int                          { return 0 }
func (f *FAISSStore) Vectors() [][]float32                     { return nil }
func (f *FAISSStore) Close() error                             { return nil }

// Type returns the store type identifier.
func (f *FAISSStore) Type() string {
	return string(TypeFAISS)
}
