package models

import "strings"

// EnrichKind names an enrichment task.
type EnrichKind string

const (
	EnrichTopics   EnrichKind = "topics"
	EnrichClassify EnrichKind = "classify"
)

// EnrichRequest asks for one enrichment over either a stored transcript or raw text.
// Exactly one of TranscriptID and Text must be set.
type EnrichRequest struct {
	Kind         EnrichKind `json:"kind"`
	TranscriptID string     `json:"transcript_id,omitempty"`
	Text         string     `json:"text,omitempty"`
}

// Validate enforces the exactly-one-of rule. Whitespace-only values count as unset.
func (r *EnrichRequest) Validate() error {
	switch r.Kind {
	case EnrichTopics, EnrichClassify:
	default:
		return &ValidationError{Field: "kind", Reason: "must be topics or classify"}
	}
	hasID := strings.TrimSpace(r.TranscriptID) != ""
	hasText := strings.TrimSpace(r.Text) != ""
	switch {
	case hasID && hasText:
		return &ValidationError{Field: "transcript_id", Reason: "provide either transcript_id or text, not both"}
	case !hasID && !hasText:
		return &ValidationError{Field: "transcript_id", Reason: "one of transcript_id or text is required"}
	}
	return nil
}

// EnrichmentResult is the outcome of one enrichment task. Topics is set for topic
// extraction and Category for classification; Simulated marks canned output produced
// without calling the language model.
type EnrichmentResult struct {
	Kind         EnrichKind `json:"kind"`
	TranscriptID string     `json:"transcript_id,omitempty"`
	Topics       []string   `json:"topics,omitempty"`
	Category     string     `json:"category,omitempty"`
	Simulated    bool       `json:"simulated"`
	Model        string     `json:"model,omitempty"`
}
