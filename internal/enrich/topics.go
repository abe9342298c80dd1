package enrich

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/hyperjump/callscope/internal/embedding"
	"github.com/hyperjump/callscope/internal/models"
)

const (
	minTopics        = 2
	maxTopics        = 3
	maxTopicWords    = 6
	maxTopicRunes    = 60
	topicsPromptTmpl = "Analiza la siguiente transcripción de una llamada de atención al cliente.\n" +
		"Extrae los 2 o 3 temas o problemas principales discutidos.\n" +
		"Responde únicamente con una lista de temas breves separados por comas. No incluyas introducciones ni explicaciones.\n\n" +
		"Transcripción:\n---\n%s\n---\nTemas principales:"
	topicsReminder = "Responde SOLO con 2 o 3 temas breves separados por comas, sin numeración ni explicaciones. Ejemplo: Facturación, Cambio de Plan"
)

// SimulatedTopics is the pool simulated topic answers draw from.
var SimulatedTopics = []string{
	"Conectividad Internet",
	"Facturación",
	"Cambio de Plan",
	"Soporte Técnico",
	"Consulta General",
}

// TopicsTask extracts two or three short topic labels.
type TopicsTask struct {
	params Params
}

// NewTopicsTask returns the topic extraction task.
func NewTopicsTask(params Params) *TopicsTask {
	return &TopicsTask{params: params}
}

func (t *TopicsTask) Kind() models.EnrichKind { return models.EnrichTopics }
func (t *TopicsTask) Params() Params          { return t.params }

func (t *TopicsTask) Prompt(text string) string {
	return fmt.Sprintf(topicsPromptTmpl, text)
}

func (t *TopicsTask) StrictPrompt(text, rejected string) string {
	return strictPreamble(rejected, topicsReminder) + t.Prompt(text)
}

// Parse splits output on commas, semicolons and newlines. Labels longer than six words
// or sixty runes are dropped, repeats are dropped, and the first three survivors are
// kept; fewer than two is a format error.
func (t *TopicsTask) Parse(output string) (*models.EnrichmentResult, error) {
	body := stripAnswerLabel(output, "temas principales:", "temas:")
	parts := strings.FieldsFunc(body, func(r rune) bool {
		return r == ',' || r == '\n' || r == ';'
	})
	seen := make(map[string]struct{})
	var topics []string
	for _, p := range parts {
		label := trimLabel(p)
		if label == "" || utf8.RuneCountInString(label) > maxTopicRunes || len(strings.Fields(label)) > maxTopicWords {
			continue
		}
		key := strings.ToLower(label)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		topics = append(topics, label)
		if len(topics) == maxTopics {
			break
		}
	}
	if len(topics) < minTopics {
		return nil, fmt.Errorf("topics: %w: got %d usable labels", errFormat, len(topics))
	}
	return &models.EnrichmentResult{Kind: models.EnrichTopics, Topics: topics}, nil
}

// Simulate picks two or three pool topics from a hash of text.
func (t *TopicsTask) Simulate(text string) *models.EnrichmentResult {
	h := embedding.HashString(text)
	n := minTopics + h%2
	topics := make([]string, n)
	for i := range topics {
		topics[i] = SimulatedTopics[(h+i)%len(SimulatedTopics)]
	}
	return &models.EnrichmentResult{Kind: models.EnrichTopics, Topics: topics, Simulated: true}
}
