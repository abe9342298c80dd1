// Package cli provides CLI output formatting for callscope.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/hyperjump/callscope/internal/enrich"
	"github.com/hyperjump/callscope/internal/models"
	"github.com/hyperjump/callscope/internal/search"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

const snippetRunes = 160

// ParseFormat maps a -json flag to a format.
func ParseFormat(jsonOutput bool) OutputFormat {
	if jsonOutput {
		return OutputJSON
	}
	return OutputText
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteSearchResults writes search results to w in the given format. texts maps
// transcript ids to their stored text and is used for text-mode snippets; ids missing
// from it are printed without one.
func WriteSearchResults(w io.Writer, response *models.SearchResponse, texts map[string]string, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, response)
	}
	fmt.Fprintf(w, "\nFound %d results in %dms (%s)\n\n", len(response.Results), response.TookMs, response.Mode)
	for i, result := range response.Results {
		fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
		if result.Score != nil {
			fmt.Fprintf(w, "%d. %s | Score: %.4f\n", i+1, result.TranscriptID, *result.Score)
		} else {
			fmt.Fprintf(w, "%d. %s\n", i+1, result.TranscriptID)
		}
		text, ok := texts[result.TranscriptID]
		if !ok {
			continue
		}
		term := ""
		if response.Mode == models.SearchKeyword {
			term = response.Query
		}
		fmt.Fprintf(w, "\n%s\n\n", search.Snippet(text, term, snippetRunes))
	}
	return nil
}

// WriteEnrichment writes one enrichment result.
func WriteEnrichment(w io.Writer, result *models.EnrichmentResult, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, result)
	}
	writeEnrichmentText(w, result)
	return nil
}

func writeEnrichmentText(w io.Writer, result *models.EnrichmentResult) {
	source := result.TranscriptID
	if source == "" {
		source = "(text)"
	}
	label := ""
	if result.Simulated {
		label = " [simulated]"
	}
	switch result.Kind {
	case models.EnrichTopics:
		fmt.Fprintf(w, "%s topics%s: %s\n", source, label, strings.Join(result.Topics, ", "))
	default:
		fmt.Fprintf(w, "%s category%s: %s\n", source, label, result.Category)
	}
}

type batchLine struct {
	Request models.EnrichRequest     `json:"request"`
	Result  *models.EnrichmentResult `json:"result,omitempty"`
	Error   string                   `json:"error,omitempty"`
}

// WriteBatch writes the outcome of a batch enrichment in request order.
func WriteBatch(w io.Writer, items []enrich.BatchItem, format OutputFormat) error {
	if format == OutputJSON {
		lines := make([]batchLine, 0, len(items))
		for _, item := range items {
			line := batchLine{Request: item.Request, Result: item.Result}
			if item.Err != nil {
				line.Error = item.Err.Error()
			}
			lines = append(lines, line)
		}
		return writeJSON(w, lines)
	}
	for _, item := range items {
		if item.Err != nil {
			fmt.Fprintf(w, "%s error: %v\n", item.Request.TranscriptID, item.Err)
			continue
		}
		writeEnrichmentText(w, item.Result)
	}
	return nil
}

// WriteStatus writes a status snapshot.
func WriteStatus(w io.Writer, st *models.Status, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, st)
	}
	fmt.Fprintf(w, "status:             %s\n", st.Status)
	fmt.Fprintf(w, "store:              %s (%s)\n", st.Store, st.StoreStatus)
	fmt.Fprintf(w, "collection:         %s\n", st.Collection)
	fmt.Fprintf(w, "points_count:       %d   # indexed transcripts\n", st.PointsCount)
	fmt.Fprintf(w, "embedding_model:    %s\n", st.EmbeddingModel)
	fmt.Fprintf(w, "calls_enabled:      %t\n", st.CallsEnabled)
	if st.DiskUsageBytes > 0 {
		fmt.Fprintf(w, "disk_usage_bytes:   %d\n", st.DiskUsageBytes)
	}
	if st.UnavailableSince != nil {
		fmt.Fprintf(w, "unavailable_since:  %s\n", st.UnavailableSince.Format(time.RFC3339))
		fmt.Fprintf(w, "last_error:         %s\n", st.LastError)
	}
	return nil
}

// WriteRebuildReport writes the summary of an index rebuild.
func WriteRebuildReport(w io.Writer, report *models.RebuildReport, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, report)
	}
	fmt.Fprintf(w, "Indexed %d transcript(s) into %s (mode %s, model %s) in %dms\n",
		report.Indexed, report.Collection, report.Mode, report.EmbeddingModel, report.DurationMs)
	if report.Skipped > 0 {
		reasons := make([]string, 0, len(report.SkipReasons))
		for reason := range report.SkipReasons {
			reasons = append(reasons, reason)
		}
		sort.Strings(reasons)
		parts := make([]string, 0, len(reasons))
		for _, reason := range reasons {
			parts = append(parts, fmt.Sprintf("%s=%d", reason, report.SkipReasons[reason]))
		}
		fmt.Fprintf(w, "Skipped %d: %s\n", report.Skipped, strings.Join(parts, ", "))
	}
	return nil
}
