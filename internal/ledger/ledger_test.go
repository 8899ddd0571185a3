package ledger

import (
	"errors"
	"testing"
)

func TestLedger_AppendAndLookup(t *testing.T) {
	l := New()
	l.Append("a.jpg")
	l.AppendBatch([]string{"b.jpg", "c.jpg"})

	if l.Len() != 3 {
		t.Fatalf("Len=%d", l.Len())
	}
	pos, err := l.PositionOf("b.jpg")
	if err != nil || pos != 1 {
		t.Errorf("PositionOf(b.jpg)=%d, %v", pos, err)
	}
	id, err := l.IdentifierAt(2)
	if err != nil || id != "c.jpg" {
		t.Errorf("IdentifierAt(2)=%q, %v", id, err)
	}
}

func TestLedger_Errors(t *testing.T) {
	l := New("a")
	if _, err := l.PositionOf("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("PositionOf err=%v", err)
	}
	for _, p := range []int{-1, 1, 5} {
		if _, err := l.IdentifierAt(p); !errors.Is(err, ErrOutOfRange) {
			t.Errorf("IdentifierAt(%d) err=%v", p, err)
		}
		if err := l.Remove(p); !errors.Is(err, ErrOutOfRange) {
			t.Errorf("Remove(%d) err=%v", p, err)
		}
	}
}

func TestLedger_DuplicatesFirstMatch(t *testing.T) {
	l := New("x", "y", "x")
	if l.Count("x") != 2 {
		t.Errorf("Count(x)=%d", l.Count("x"))
	}
	pos, _ := l.PositionOf("x")
	if pos != 0 {
		t.Errorf("PositionOf returns first match, got %d", pos)
	}
}

func TestLedger_RemoveShifts(t *testing.T) {
	l := New("a", "b", "c", "d")
	if err := l.Remove(1); err != nil {
		t.Fatal(err)
	}
	want := []string{"a", "c", "d"}
	got := l.IDs()
	if len(got) != len(want) {
		t.Fatalf("IDs=%v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("IDs[%d]=%q, want %q", i, got[i], want[i])
		}
	}
}

func TestLedger_CloneIsIndependent(t *testing.T) {
	l := New("a", "b")
	c := l.Clone()
	_ = c.Remove(0)
	c.Append("z")
	if l.Len() != 2 || l.IDs()[0] != "a" {
		t.Errorf("original changed: %v", l.IDs())
	}

	ids := l.IDs()
	ids[0] = "mutated"
	if id, _ := l.IdentifierAt(0); id != "a" {
		t.Error("IDs must return a copy")
	}
}

func TestLedger_ReplaceAll(t *testing.T) {
	l := New("a", "b", "c")
	src := []string{"q"}
	l.ReplaceAll(src)
	src[0] = "changed"
	if l.Len() != 1 || !l.Contains("q") || l.Contains("a") {
		t.Errorf("ReplaceAll: %v", l.IDs())
	}
}
