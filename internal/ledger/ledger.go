// Package ledger keeps the ordered list of image identifiers that runs in lockstep with a vector store:
// the identifier at position i owns the vector at position i.
package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by PositionOf for an unknown identifier.
	ErrNotFound = errors.New("identifier not found")
	// ErrOutOfRange is returned for a position outside [0, Len).
	ErrOutOfRange = errors.New("position out of range")
)

// Ledger is an ordered, duplicate-tolerant list of identifiers. It is not safe for concurrent
// mutation; the index manager serializes writers.
type Ledger struct {
	ids []string
}

// New returns a ledger holding a copy of ids.
func New(ids ...string) *Ledger {
	l := &Ledger{ids: make([]string, len(ids))}
	copy(l.ids, ids)
	return l
}

// Append adds id at the next position.
func (l *Ledger) Append(id string) {
	l.ids = append(l.ids, id)
}

// AppendBatch adds ids in order.
func (l *Ledger) AppendBatch(ids []string) {
	l.ids = append(l.ids, ids...)
}

// PositionOf returns the first position holding id.
func (l *Ledger) PositionOf(id string) (int, error) {
	for i, v := range l.ids {
		if v == id {
			return i, nil
		}
	}
	return -1, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// IdentifierAt returns the identifier stored at position.
func (l *Ledger) IdentifierAt(position int) (string, error) {
	if position < 0 || position >= len(l.ids) {
		return "", fmt.Errorf("%w: %d (len %d)", ErrOutOfRange, position, len(l.ids))
	}
	return l.ids[position], nil
}

// Remove deletes the identifier at position, shifting later entries down by one.
func (l *Ledger) Remove(position int) error {
	if position < 0 || position >= len(l.ids) {
		return fmt.Errorf("%w: %d (len %d)", ErrOutOfRange, position, len(l.ids))
	}
	l.ids = append(l.ids[:position:position], l.ids[position+1:]...)
	return nil
}

// ReplaceAll swaps the whole contents for a copy of ids.
func (l *Ledger) ReplaceAll(ids []string) {
	l.ids = make([]string, len(ids))
	copy(l.ids, ids)
}

// Count reports how many positions hold id.
func (l *Ledger) Count(id string) int {
	n := 0
	for _, v := range l.ids {
		if v == id {
			n++
		}
	}
	return n
}

// Contains reports whether id is present at least once.
func (l *Ledger) Contains(id string) bool {
	_, err := l.PositionOf(id)
	return err == nil
}

// Len returns the number of entries.
func (l *Ledger) Len() int {
	return len(l.ids)
}

// IDs returns a copy of the identifiers in position order.
func (l *Ledger) IDs() []string {
	out := make([]string, len(l.ids))
	copy(out, l.ids)
	return out
}

// Clone returns an independent copy.
func (l *Ledger) Clone() *Ledger {
	return New(l.ids...)
}
