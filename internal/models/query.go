package models

import (
	"errors"
	"strings"
)

// ErrEmptyQuery is returned for a search with no query text.
var ErrEmptyQuery = errors.New("query cannot be empty")

// SearchRequest is a similarity search by free text.
type SearchRequest struct {
	Query string `json:"query"`
	K     int    `json:"k,omitempty"`
}

// Normalize trims the query and clamps K into [1, maxK], using defaultK when K is unset.
func (r *SearchRequest) Normalize(defaultK, maxK int) error {
	r.Query = strings.TrimSpace(r.Query)
	if r.Query == "" {
		return ErrEmptyQuery
	}
	if r.K <= 0 {
		r.K = defaultK
	}
	if maxK > 0 && r.K > maxK {
		r.K = maxK
	}
	return nil
}
