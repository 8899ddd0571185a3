package models

import (
	"fmt"
	"strings"
)

// SearchRequest holds the tunables of a similarity search.
type SearchRequest struct {
	K int `json:"k,omitempty"`
}

// Normalize applies the default result count and caps it at maxK.
func (r *SearchRequest) Normalize(defaultK, maxK int) {
	if r.K <= 0 {
		r.K = defaultK
	}
	if maxK > 0 && r.K > maxK {
		r.K = maxK
	}
}

// LookupQuery is a text lookup over image names and metadata.
type LookupQuery struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
	Fuzzy bool   `json:"fuzzy,omitempty"`
}

// Validate ensures the lookup has a query and sets defaults.
func (q *LookupQuery) Validate() error {
	q.Query = strings.TrimSpace(q.Query)
	if q.Query == "" {
		return fmt.Errorf("query cannot be empty")
	}
	if q.Limit <= 0 {
		q.Limit = 20
	}
	if q.Limit > 100 {
		q.Limit = 100
	}
	return nil
}
