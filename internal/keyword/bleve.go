package keyword

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	blevequery "github.com/blevesearch/bleve/v2/search/query"

	"github.com/hyperjump/kagami/internal/models"
)

const defaultFuzziness = 1

type imageDoc struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Folder   string `json:"folder"`
	Customer string `json:"customer"`
}

// BleveIndex implements NameIndex using Bleve.
type BleveIndex struct {
	mu    sync.RWMutex
	path  string
	index bleve.Index
}

// NewBleveIndex creates or opens a Bleve index at path.
func NewBleveIndex(path string) (*BleveIndex, error) {
	index, err := openOrCreate(path)
	if err != nil {
		return nil, err
	}
	return &BleveIndex{path: path, index: index}, nil
}

func newMapping() mapping.IndexMapping {
	im := bleve.NewIndexMapping()

	docMapping := bleve.NewDocumentMapping()
	// standard analyzer: lowercase + tokenize, no stemming, so "dresses" and "dress" stay distinct
	text := bleve.NewTextFieldMapping()
	text.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt("name", text)
	docMapping.AddFieldMappingsAt("folder", text)
	docMapping.AddFieldMappingsAt("customer", text)
	docMapping.AddFieldMappingsAt("id", bleve.NewKeywordFieldMapping())
	im.AddDocumentMapping("image", docMapping)
	im.DefaultType = "image"
	im.DefaultMapping = docMapping
	return im
}

func openOrCreate(path string) (bleve.Index, error) {
	if _, err := os.Stat(path); err == nil {
		index, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open Bleve index: %w", openErr)
		}
		return index, nil
	}
	index, err := bleve.New(path, newMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return index, nil
}

// Index adds or replaces the entry for img.
func (b *BleveIndex) Index(ctx context.Context, img *models.Image) error {
	doc := imageDoc{
		ID:       img.ID,
		Name:     NameTerms(img.ID),
		Folder:   img.Folder,
		Customer: img.Customer,
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.index.Index(img.ID, doc)
}

// Search matches query words against the name, folder and customer fields. Name matches weigh
// double. With fuzzy set, each word matches within one edit.
func (b *BleveIndex) Search(ctx context.Context, query string, limit int, fuzzy bool) ([]*Result, error) {
	query = strings.TrimSpace(query)
	if query == "" || limit <= 0 {
		return []*Result{}, nil
	}
	var q blevequery.Query
	if fuzzy {
		q = buildFuzzyQuery(NameTerms(query))
	} else {
		q = buildMatchQuery(NameTerms(query))
	}
	req := bleve.NewSearchRequest(q)
	req.Size = limit

	b.mu.RLock()
	results, err := b.index.SearchInContext(ctx, req)
	b.mu.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("Bleve search failed: %w", err)
	}
	out := make([]*Result, len(results.Hits))
	for i, hit := range results.Hits {
		out[i] = &Result{ID: hit.ID, Score: hit.Score}
	}
	return out, nil
}

func buildMatchQuery(terms string) blevequery.Query {
	name := bleve.NewMatchQuery(terms)
	name.SetField("name")
	name.SetBoost(2)
	folder := bleve.NewMatchQuery(terms)
	folder.SetField("folder")
	customer := bleve.NewMatchQuery(terms)
	customer.SetField("customer")
	return bleve.NewDisjunctionQuery(name, folder, customer)
}

// buildFuzzyQuery creates a disjunction of per-word fuzzy queries on every field.
func buildFuzzyQuery(terms string) blevequery.Query {
	words := strings.Fields(strings.ToLower(terms))
	queries := make([]blevequery.Query, 0, len(words)*3)
	for _, w := range words {
		for _, field := range []string{"name", "folder", "customer"} {
			fq := bleve.NewFuzzyQuery(w)
			fq.SetFuzziness(defaultFuzziness)
			fq.SetField(field)
			if field == "name" {
				fq.SetBoost(2)
			}
			queries = append(queries, fq)
		}
	}
	return bleve.NewDisjunctionQuery(queries...)
}

// Delete removes an image from the index.
func (b *BleveIndex) Delete(ctx context.Context, id string) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.index.Delete(id)
}

// DeleteAll drops the index directory and starts over with an empty index.
func (b *BleveIndex) DeleteAll(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.index.Close(); err != nil {
		return fmt.Errorf("close Bleve index: %w", err)
	}
	if err := os.RemoveAll(b.path); err != nil {
		return fmt.Errorf("remove Bleve index: %w", err)
	}
	index, err := bleve.New(b.path, newMapping())
	if err != nil {
		return fmt.Errorf("failed to create Bleve index: %w", err)
	}
	b.index = index
	return nil
}

// DocCount returns the total number of images in the index.
func (b *BleveIndex) DocCount() (uint64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.index.DocCount()
}

// Close closes the Bleve index.
func (b *BleveIndex) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.index.Close()
}
