package vector

import "fmt"

// StoreType names a Store implementation.
type StoreType string

const (
	// TypeFlat scans a contiguous in-memory slice. Always available.
	TypeFlat StoreType = "flat"
	// TypeFAISS uses a FAISS IndexFlatIP. Requires building with -tags=faiss and the FAISS C library.
	TypeFAISS StoreType = "faiss"
)

// New creates a store of the given type. An empty type selects flat.
func New(storeType string, dimensions int) (Store, error) {
	switch StoreType(storeType) {
	case TypeFlat, "memory", "":
		return NewFlatStore(dimensions)
	case TypeFAISS:
		return NewFAISSStore(dimensions)
	default:
		return nil, fmt.Errorf("unknown vector store type: %s (supported: flat, faiss)", storeType)
	}
}

// IsFAISSAvailable returns true if FAISS support is compiled in.
func IsFAISSAvailable() bool {
	s, err := NewFAISSStore(1)
	if err != nil {
		return false
	}
	_ = s.Close()
	return true
}
