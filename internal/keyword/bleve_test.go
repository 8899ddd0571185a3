package keyword

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/hyperjump/kagami/internal/models"
)

func newTestIndex(t *testing.T) (*BleveIndex, string) {
	t.Helper()
	indexPath := filepath.Join(t.TempDir(), "bleve")
	idx, err := NewBleveIndex(indexPath)
	if err != nil {
		t.Fatalf("NewBleveIndex: %v", err)
	}
	t.Cleanup(func() { _ = idx.Close() })
	return idx, indexPath
}

func resultIDs(results []*Result) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.ID
	}
	return out
}

func TestBleveIndex_SearchFindsNameWords(t *testing.T) {
	idx, _ := newTestIndex(t)
	ctx := context.Background()

	for _, img := range []*models.Image{
		{ID: "red_summer-dress.jpg", Folder: "summer"},
		{ID: "blue-skirt.png", Folder: "general", Customer: "acme"},
	} {
		if err := idx.Index(ctx, img); err != nil {
			t.Fatalf("Index: %v", err)
		}
	}

	results, err := idx.Search(ctx, "dress", 10, false)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].ID != "red_summer-dress.jpg" {
		t.Errorf("dress: got %v", resultIDs(results))
	}

	results, _ = idx.Search(ctx, "acme", 10, false)
	if len(results) != 1 || results[0].ID != "blue-skirt.png" {
		t.Errorf("customer lookup: got %v", resultIDs(results))
	}

	results, _ = idx.Search(ctx, "Summer", 10, false)
	if len(results) != 1 || results[0].ID != "red_summer-dress.jpg" {
		t.Errorf("case-insensitive: got %v", resultIDs(results))
	}
}

func TestBleveIndex_FuzzyToleratesTypos(t *testing.T) {
	idx, _ := newTestIndex(t)
	ctx := context.Background()
	if err := idx.Index(ctx, &models.Image{ID: "floral-skirt.jpg", Folder: "general"}); err != nil {
		t.Fatal(err)
	}

	exact, _ := idx.Search(ctx, "skrit", 10, false)
	if len(exact) != 0 {
		t.Errorf("exact search should miss typo, got %v", resultIDs(exact))
	}
	fuzzy, err := idx.Search(ctx, "skirr", 10, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(fuzzy) != 1 || fuzzy[0].ID != "floral-skirt.jpg" {
		t.Errorf("fuzzy: got %v", resultIDs(fuzzy))
	}
}

func TestBleveIndex_EmptyQuery(t *testing.T) {
	idx, _ := newTestIndex(t)
	results, err := idx.Search(context.Background(), "   ", 10, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Errorf("got %d results", len(results))
	}
}

func TestBleveIndex_Delete(t *testing.T) {
	idx, _ := newTestIndex(t)
	ctx := context.Background()
	if err := idx.Index(ctx, &models.Image{ID: "onlyone.jpg"}); err != nil {
		t.Fatalf("Index: %v", err)
	}
	if err := idx.Delete(ctx, "onlyone.jpg"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	results, err := idx.Search(ctx, "onlyone", 10, false)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected 0 results after delete, got %d", len(results))
	}
}

func TestBleveIndex_DeleteAll(t *testing.T) {
	idx, path := newTestIndex(t)
	ctx := context.Background()
	for _, id := range []string{"a.jpg", "b.jpg"} {
		if err := idx.Index(ctx, &models.Image{ID: id}); err != nil {
			t.Fatal(err)
		}
	}
	if err := idx.DeleteAll(ctx); err != nil {
		t.Fatal(err)
	}
	if n, _ := idx.DocCount(); n != 0 {
		t.Errorf("DocCount=%d after DeleteAll", n)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("index should be recreated: %v", err)
	}
	if err := idx.Index(ctx, &models.Image{ID: "c.jpg"}); err != nil {
		t.Fatalf("Index after DeleteAll: %v", err)
	}
	if n, _ := idx.DocCount(); n != 1 {
		t.Errorf("DocCount=%d, want 1", n)
	}
}

func TestBleveIndex_ReopenKeepsEntries(t *testing.T) {
	indexPath := filepath.Join(t.TempDir(), "sub", "bleve")
	ctx := context.Background()

	idx1, err := NewBleveIndex(indexPath)
	if err != nil {
		t.Fatalf("NewBleveIndex: %v", err)
	}
	if err := idx1.Index(ctx, &models.Image{ID: "uniqueword.jpg"}); err != nil {
		t.Fatal(err)
	}
	if err := idx1.Close(); err != nil {
		t.Fatal(err)
	}

	idx2, err := NewBleveIndex(indexPath)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = idx2.Close() }()
	results, _ := idx2.Search(ctx, "uniqueword", 10, false)
	if len(results) != 1 {
		t.Errorf("after reopen got %d results", len(results))
	}
}

func TestNameTerms(t *testing.T) {
	tests := map[string]string{
		"red_summer-dress.jpg": "red summer dress jpg",
		"plain":                "plain",
		"__a--b":               "a b",
		"":                     "",
	}
	for in, want := range tests {
		if got := NameTerms(in); got != want {
			t.Errorf("NameTerms(%q)=%q, want %q", in, got, want)
		}
	}
}
