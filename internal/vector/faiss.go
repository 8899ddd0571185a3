//go:build faiss && cgo
// +build faiss,cgo

package vector

/*
#cgo CFLAGS: -I/opt/homebrew/include -I/usr/local/include
#cgo LDFLAGS: -L/opt/homebrew/lib -L/usr/local/lib -lfaiss_c

#include <stdlib.h>
#include <faiss/c_api/Index_c.h>
#include <faiss/c_api/IndexFlat_c.h>
#include <faiss/c_api/error_c.h>
*/
import "C"

import (
	"fmt"
	"sync"
	"unsafe"
)

// FAISSStore keeps vectors in a FAISS IndexFlatIP. FAISS labels are sequential, so a label is a position.
type FAISSStore struct {
	index      *C.FaissIndexFlatIP
	dimensions int
	mu         sync.RWMutex
}

// NewFAISSStore creates an empty FAISS inner-product store.
func NewFAISSStore(dimensions int) (*FAISSStore, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	var index *C.FaissIndexFlatIP
	if ret := C.faiss_IndexFlatIP_new_with(&index, C.idx_t(dimensions)); ret != 0 {
		return nil, fmt.Errorf("failed to create FAISS index: %s", faissLastError())
	}
	return &FAISSStore{index: index, dimensions: dimensions}, nil
}

func faissLastError() string {
	cErr := C.faiss_get_last_error()
	if cErr == nil {
		return "unknown error"
	}
	return C.GoString(cErr)
}

// Type returns the store type identifier.
func (f *FAISSStore) Type() string {
	return string(TypeFAISS)
}

// Dimensions returns the vector length.
func (f *FAISSStore) Dimensions() int {
	return f.dimensions
}

// Len returns the number of stored vectors.
func (f *FAISSStore) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.index == nil {
		return 0
	}
	return int(C.faiss_Index_ntotal(f.index))
}

// Append adds one vector.
func (f *FAISSStore) Append(vec []float32) error {
	return f.AppendBatch([][]float32{vec})
}

// AppendBatch adds vectors in order after validating all of them.
func (f *FAISSStore) AppendBatch(vecs [][]float32) error {
	if err := checkDimensions(f.dimensions, vecs...); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.addLocked(vecs)
}

func (f *FAISSStore) addLocked(vecs [][]float32) error {
	if len(vecs) == 0 {
		return nil
	}
	flat := make([]float32, len(vecs)*f.dimensions)
	for i, v := range vecs {
		copy(flat[i*f.dimensions:(i+1)*f.dimensions], v)
	}
	ret := C.faiss_Index_add(f.index, C.idx_t(len(vecs)), (*C.float)(unsafe.Pointer(&flat[0])))
	if ret != 0 {
		return fmt.Errorf("failed to add vectors to FAISS index: %s", faissLastError())
	}
	return nil
}

// Reconstruct resets the FAISS index and adds vecs.
func (f *FAISSStore) Reconstruct(vecs [][]float32) error {
	if err := checkDimensions(f.dimensions, vecs...); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if ret := C.faiss_Index_reset(f.index); ret != 0 {
		return fmt.Errorf("failed to reset FAISS index: %s", faissLastError())
	}
	return f.addLocked(vecs)
}

// Search returns the top-k positions by inner product. FAISS does not order ties, so results are re-sorted.
func (f *FAISSStore) Search(query []float32, k int) ([]Hit, error) {
	if err := checkDimensions(f.dimensions, query); err != nil {
		return nil, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()

	ntotal := int(C.faiss_Index_ntotal(f.index))
	if k > ntotal {
		k = ntotal
	}
	if k <= 0 {
		return []Hit{}, nil
	}

	distances := make([]float32, k)
	labels := make([]int64, k)
	ret := C.faiss_Index_search(
		f.index,
		1,
		(*C.float)(unsafe.Pointer(&query[0])),
		C.idx_t(k),
		(*C.float)(unsafe.Pointer(&distances[0])),
		(*C.idx_t)(unsafe.Pointer(&labels[0])),
	)
	if ret != 0 {
		return nil, fmt.Errorf("FAISS search failed: %s", faissLastError())
	}

	hits := make([]Hit, 0, k)
	for i := 0; i < k; i++ {
		if labels[i] < 0 {
			continue
		}
		hits = append(hits, Hit{Position: int(labels[i]), Score: float64(distances[i])})
	}
	sortHits(hits)
	return hits, nil
}

// Vectors reads every stored vector back out of FAISS.
func (f *FAISSStore) Vectors() [][]float32 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	n := int(C.faiss_Index_ntotal(f.index))
	if n == 0 {
		return [][]float32{}
	}
	flat := make([]float32, n*f.dimensions)
	if ret := C.faiss_Index_reconstruct_n(f.index, 0, C.idx_t(n), (*C.float)(unsafe.Pointer(&flat[0]))); ret != 0 {
		return nil
	}
	out := make([][]float32, n)
	for i := range out {
		out[i] = flat[i*f.dimensions : (i+1)*f.dimensions : (i+1)*f.dimensions]
	}
	return out
}

// Close frees the FAISS index.
func (f *FAISSStore) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.index != nil {
		C.faiss_Index_free(f.index)
		f.index = nil
	}
	return nil
}
