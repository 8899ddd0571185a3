package feature

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
	"math/rand/v2"
	"sync/atomic"
	"time"
)

// MockExtractor is a deterministic extractor for tests. The same bytes always map to the same
// unit vector; different bytes map to unrelated random directions.
type MockExtractor struct {
	dimensions int
	calls      atomic.Int64

	// FailOn, when set, is consulted before embedding; a non-nil error is returned as-is.
	FailOn func(img []byte) error
	// Delay simulates slow inference. The context deadline is honoured.
	Delay time.Duration
}

// NewMockExtractor returns an extractor that produces deterministic embeddings of the given dimensions.
func NewMockExtractor(dimensions int) *MockExtractor {
	if dimensions <= 0 {
		dimensions = 768
	}
	return &MockExtractor{dimensions: dimensions}
}

// Embed returns a vector seeded from the SHA-256 of img.
func (e *MockExtractor) Embed(ctx context.Context, img []byte) ([]float32, error) {
	e.calls.Add(1)
	if e.FailOn != nil {
		if err := e.FailOn(img); err != nil {
			return nil, err
		}
	}
	if e.Delay > 0 {
		select {
		case <-time.After(e.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return MockVector(img, e.dimensions), nil
}

// Calls returns how many times Embed ran.
func (e *MockExtractor) Calls() int64 {
	return e.calls.Load()
}

// Dimensions returns the embedding dimension.
func (e *MockExtractor) Dimensions() int {
	return e.dimensions
}

// Close is a no-op for MockExtractor.
func (e *MockExtractor) Close() error {
	return nil
}

// MockVector is the vector MockExtractor returns for img.
func MockVector(img []byte, dimensions int) []float32 {
	sum := sha256.Sum256(img)
	r := rand.New(rand.NewPCG(binary.LittleEndian.Uint64(sum[0:8]), binary.LittleEndian.Uint64(sum[8:16])))
	emb := make([]float32, dimensions)
	var norm float64
	for i := range emb {
		v := r.NormFloat64()
		emb[i] = float32(v)
		norm += v * v
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(norm))
		for i := range emb {
			emb[i] *= inv
		}
	}
	return emb
}
