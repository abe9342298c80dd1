package models

// SearchResult is a single search hit. Score is set for semantic hits only; keyword
// hits carry no score at all rather than a zero score.
type SearchResult struct {
	TranscriptID string   `json:"transcript_id"`
	Score        *float64 `json:"score,omitempty"`
}

// SearchResponse is the response for a search request.
type SearchResponse struct {
	Query   string          `json:"query"`
	Mode    SearchMode      `json:"search_type"`
	Results []*SearchResult `json:"results"`
	TookMs  int64           `json:"took_ms"`
}
