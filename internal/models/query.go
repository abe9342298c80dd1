package models

import "strings"

// SearchMode selects how a query is matched.
type SearchMode string

const (
	SearchSemantic SearchMode = "semantic"
	SearchKeyword  SearchMode = "keyword"
)

// Result count bounds accepted by Search.
const (
	MinTopN     = 1
	MaxTopN     = 20
	DefaultTopN = 5
)

// SearchQuery is a validated search request.
type SearchQuery struct {
	Query string     `json:"query"`
	Mode  SearchMode `json:"search_type"`
	TopN  int        `json:"top_n"`
}

// Validate checks the query without applying defaults; out-of-range values are errors,
// never clamped.
func (q *SearchQuery) Validate() error {
	if strings.TrimSpace(q.Query) == "" {
		return &ValidationError{Field: "query", Reason: "must not be empty"}
	}
	switch q.Mode {
	case SearchSemantic, SearchKeyword:
	default:
		return &ValidationError{Field: "search_type", Reason: "must be semantic or keyword"}
	}
	if q.TopN < MinTopN || q.TopN > MaxTopN {
		return &ValidationError{Field: "top_n", Reason: "must be between 1 and 20"}
	}
	return nil
}
