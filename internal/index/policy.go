package index

import (
	"fmt"
	"time"
)

// FlushPolicy decides whether a single Add persists the snapshot immediately.
type FlushPolicy interface {
	ShouldFlush(size int, elapsed time.Duration) bool
	Name() string
}

// Always persists after every add.
type Always struct{}

func (Always) ShouldFlush(int, time.Duration) bool { return true }
func (Always) Name() string                        { return "always" }

// EveryN persists when the index size is a multiple of N.
type EveryN struct {
	N int
}

func (p EveryN) ShouldFlush(size int, _ time.Duration) bool {
	return p.N <= 1 || size%p.N == 0
}

func (p EveryN) Name() string { return "every_n" }

// Adaptive persists on every Nth record and whenever the add finished faster than FastThreshold.
type Adaptive struct {
	N             int
	FastThreshold time.Duration
}

func (p Adaptive) ShouldFlush(size int, elapsed time.Duration) bool {
	if p.N <= 1 || size%p.N == 0 {
		return true
	}
	return elapsed < p.FastThreshold
}

func (p Adaptive) Name() string { return "adaptive" }

// Deferred never persists inline; the periodic flush loop picks up dirty state.
type Deferred struct{}

func (Deferred) ShouldFlush(int, time.Duration) bool { return false }
func (Deferred) Name() string                        { return "interval" }

// ParsePolicy maps a config name to a FlushPolicy.
func ParsePolicy(name string, n int, fastThreshold time.Duration) (FlushPolicy, error) {
	switch name {
	case "always":
		return Always{}, nil
	case "every_n":
		return EveryN{N: n}, nil
	case "adaptive", "":
		return Adaptive{N: n, FastThreshold: fastThreshold}, nil
	case "interval":
		return Deferred{}, nil
	default:
		return nil, fmt.Errorf("unknown flush policy: %s (supported: always, every_n, adaptive, interval)", name)
	}
}
