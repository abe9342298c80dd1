// Package models defines core data structures for transcripts, index points, queries, and results.
package models

import (
	"sort"
	"time"
)

// Transcript is a raw call record as produced by a transcript source, before cleaning
// and anonymization.
type Transcript struct {
	ID       string            `json:"id"`
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Payload is the data stored alongside a vector in the vector store.
type Payload struct {
	TranscriptID string `json:"transcript_id"`
	// Text is the anonymized transcript text.
	Text string `json:"text"`
	// SearchText is the lower-cased text used for keyword matching.
	SearchText     string            `json:"-"`
	EmbeddingModel string            `json:"embedding_model"`
	IndexedAt      time.Time         `json:"indexed_at"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// IndexPoint is the unit upserted into the vector store, keyed by transcript id.
type IndexPoint struct {
	ID      string
	Vector  []float32
	Payload Payload
}

// ScoredID is a vector query hit.
type ScoredID struct {
	ID    string
	Score float64
}

// SortScored orders hits by descending score, breaking ties by ascending id.
func SortScored(hits []ScoredID) {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
}

// RebuildMode controls how the indexer treats a collection that already holds points.
type RebuildMode string

const (
	// RebuildAbort refuses to touch a non-empty collection.
	RebuildAbort RebuildMode = "abort"
	// RebuildReplace drops every existing point before writing the new set.
	RebuildReplace RebuildMode = "replace"
	// RebuildAppend writes only ids the collection does not hold yet.
	RebuildAppend RebuildMode = "append"
)

// ParseRebuildMode maps user input to a RebuildMode. The empty string means abort.
func ParseRebuildMode(s string) (RebuildMode, error) {
	switch s {
	case "", string(RebuildAbort):
		return RebuildAbort, nil
	case string(RebuildReplace):
		return RebuildReplace, nil
	case string(RebuildAppend), "appendOnly", "append_only", "append-only":
		return RebuildAppend, nil
	default:
		return "", &ValidationError{Field: "mode", Reason: "must be one of replace, append"}
	}
}

// Skip reasons reported by a rebuild.
const (
	SkipEmpty     = "empty"
	SkipMissingID = "missing_id"
	SkipDuplicate = "duplicate"
	SkipExisting  = "exists"
)

// RebuildReport summarizes a rebuild run.
type RebuildReport struct {
	Collection     string         `json:"collection"`
	Mode           RebuildMode    `json:"mode"`
	Indexed        int            `json:"indexed"`
	Skipped        int            `json:"skipped"`
	SkipReasons    map[string]int `json:"skip_reasons,omitempty"`
	EmbeddingModel string         `json:"embedding_model"`
	DurationMs     int64          `json:"duration_ms"`
}

// Skip records one skipped record under reason.
func (r *RebuildReport) Skip(reason string) {
	if r.SkipReasons == nil {
		r.SkipReasons = make(map[string]int)
	}
	r.SkipReasons[reason]++
	r.Skipped++
}
