package models

import (
	"testing"
)

func TestSearchRequest_Normalize(t *testing.T) {
	tests := []struct {
		name string
		k    int
		want int
	}{
		{"default when zero", 0, 10},
		{"default when negative", -1, 10},
		{"keeps valid k", 3, 3},
		{"caps at max", 500, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &SearchRequest{K: tt.k}
			r.Normalize(10, 100)
			if r.K != tt.want {
				t.Errorf("K=%d, want %d", r.K, tt.want)
			}
		})
	}
}

func TestLookupQuery_Validate(t *testing.T) {
	tests := []struct {
		name    string
		query   *LookupQuery
		wantErr bool
	}{
		{"empty query", &LookupQuery{Query: ""}, true},
		{"blank query", &LookupQuery{Query: "   "}, true},
		{"valid query", &LookupQuery{Query: "dress"}, false},
		{"caps limit at 100", &LookupQuery{Query: "x", Limit: 200}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.query.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr {
				if tt.query.Limit <= 0 || tt.query.Limit > 100 {
					t.Errorf("limit not normalized: %d", tt.query.Limit)
				}
			}
		})
	}
}
