// Package enrich derives topics and categories from transcript text with a language
// model, or with deterministic simulated answers when model calls are disabled.
package enrich

import (
	"errors"
	"strings"

	"github.com/hyperjump/callscope/internal/models"
)

// errFormat marks model output that does not have the shape a task expects.
var errFormat = errors.New("unexpected output format")

// Params are completion parameters for one task.
type Params struct {
	MaxTokens   int
	Temperature float64
}

// Task is one kind of enrichment. Each task owns its prompt templates, its output parser
// and its simulated answer.
type Task interface {
	Kind() models.EnrichKind
	Params() Params
	// Prompt builds the first request for text.
	Prompt(text string) string
	// StrictPrompt builds the single retry after rejected failed to parse.
	StrictPrompt(text, rejected string) string
	// Parse validates the model output and fills the kind-specific result fields.
	Parse(output string) (*models.EnrichmentResult, error)
	// Simulate returns a canned result that depends only on text.
	Simulate(text string) *models.EnrichmentResult
}

const rejectedPreviewRunes = 200

func strictPreamble(rejected, reminder string) string {
	rejected = strings.TrimSpace(rejected)
	if r := []rune(rejected); len(r) > rejectedPreviewRunes {
		rejected = string(r[:rejectedPreviewRunes])
	}
	return "IMPORTANTE: tu respuesta anterior (\"" + rejected + "\") no respetó el formato pedido. " + reminder + "\n\n"
}

// trimLabel strips surrounding quotes, list markers and trailing punctuation.
func trimLabel(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimLeft(s, "-*•·>#")
	s = strings.TrimSpace(s)
	s = numberingPrefix(s)
	return strings.Trim(s, " \t\"'`“”‘’«».;:!¡?¿")
}

// numberingPrefix drops a leading "1." or "2)" list number.
func numberingPrefix(s string) string {
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i == 0 || i >= len(s) || (s[i] != '.' && s[i] != ')') {
		return s
	}
	return strings.TrimSpace(s[i+1:])
}

// stripAnswerLabel removes an echoed "label:" prefix such as "Categoría:".
func stripAnswerLabel(s string, labels ...string) string {
	t := strings.TrimSpace(s)
	lower := strings.ToLower(t)
	for _, l := range labels {
		if strings.HasPrefix(lower, l) {
			return strings.TrimSpace(t[len(l):])
		}
	}
	return t
}
