package vector

import (
	"container/heap"
	"fmt"
	"sort"
	"sync"
)

// FlatStore keeps all vectors in one contiguous slice and answers queries by a full scan.
type FlatStore struct {
	dimensions int
	data       []float32
	mu         sync.RWMutex
}

// NewFlatStore creates an empty flat store for vectors of the given dimension.
func NewFlatStore(dimensions int) (*FlatStore, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	return &FlatStore{dimensions: dimensions}, nil
}

// Type returns the store type identifier.
func (f *FlatStore) Type() string {
	return string(TypeFlat)
}

// Dimensions returns the vector length.
func (f *FlatStore) Dimensions() int {
	return f.dimensions
}

// Len returns the number of stored vectors.
func (f *FlatStore) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.data) / f.dimensions
}

// Append adds one vector at the next position.
func (f *FlatStore) Append(vec []float32) error {
	if err := checkDimensions(f.dimensions, vec); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data = append(f.data, vec...)
	return nil
}

// AppendBatch validates every vector before touching the store.
func (f *FlatStore) AppendBatch(vecs [][]float32) error {
	if err := checkDimensions(f.dimensions, vecs...); err != nil {
		return err
	}
	if len(vecs) == 0 {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	grown := make([]float32, len(f.data), len(f.data)+len(vecs)*f.dimensions)
	copy(grown, f.data)
	for _, v := range vecs {
		grown = append(grown, v...)
	}
	f.data = grown
	return nil
}

// Reconstruct replaces the contents with vecs.
func (f *FlatStore) Reconstruct(vecs [][]float32) error {
	if err := checkDimensions(f.dimensions, vecs...); err != nil {
		return err
	}
	data := make([]float32, 0, len(vecs)*f.dimensions)
	for _, v := range vecs {
		data = append(data, v...)
	}
	f.mu.Lock()
	f.data = data
	f.mu.Unlock()
	return nil
}

// Search returns the k highest inner products, best first. Equal scores keep position order.
func (f *FlatStore) Search(query []float32, k int) ([]Hit, error) {
	if err := checkDimensions(f.dimensions, query); err != nil {
		return nil, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()

	n := len(f.data) / f.dimensions
	if k > n {
		k = n
	}
	if k <= 0 {
		return []Hit{}, nil
	}

	h := make(topK, 0, k)
	for i := 0; i < n; i++ {
		row := f.data[i*f.dimensions : (i+1)*f.dimensions]
		hit := Hit{Position: i, Score: InnerProduct(query, row)}
		if len(h) < k {
			heap.Push(&h, hit)
			continue
		}
		if better(hit, h[0]) {
			h[0] = hit
			heap.Fix(&h, 0)
		}
	}

	out := []Hit(h)
	sortHits(out)
	return out, nil
}

// Vectors returns a copy of every stored vector.
func (f *FlatStore) Vectors() [][]float32 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	n := len(f.data) / f.dimensions
	out := make([][]float32, n)
	for i := 0; i < n; i++ {
		v := make([]float32, f.dimensions)
		copy(v, f.data[i*f.dimensions:(i+1)*f.dimensions])
		out[i] = v
	}
	return out
}

// Close releases the backing slice.
func (f *FlatStore) Close() error {
	f.mu.Lock()
	f.data = nil
	f.mu.Unlock()
	return nil
}

// better reports whether a ranks ahead of b.
func better(a, b Hit) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.Position < b.Position
}

func sortHits(hits []Hit) {
	sort.Slice(hits, func(i, j int) bool { return better(hits[i], hits[j]) })
}

// topK is a min-heap whose root is the worst hit kept so far.
type topK []Hit

func (h topK) Len() int           { return len(h) }
func (h topK) Less(i, j int) bool { return better(h[j], h[i]) }
func (h topK) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *topK) Push(x any) { *h = append(*h, x.(Hit)) }

func (h *topK) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
