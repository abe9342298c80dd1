package enrich

import (
	"fmt"
	"strings"

	"github.com/hyperjump/callscope/internal/embedding"
	"github.com/hyperjump/callscope/internal/models"
	"github.com/hyperjump/callscope/pkg/utils"
)

const (
	classifyPromptTmpl = "Clasifica la siguiente transcripción de atención al cliente en UNA de las siguientes categorías:\n" +
		"%s\n\n" +
		"Responde únicamente con el nombre exacto de la categoría elegida. No añadas ninguna otra palabra o puntuación.\n\n" +
		"Transcripción:\n---\n%s\n---\nCategoría:"
	classifyReminder = "Responde SOLO con el nombre exacto de una de estas categorías: %s"
)

// ClassifyTask assigns exactly one label from a closed category set.
type ClassifyTask struct {
	params     Params
	categories []string
	folded     []string
}

// NewClassifyTask returns the classification task over categories.
func NewClassifyTask(categories []string, params Params) (*ClassifyTask, error) {
	t := &ClassifyTask{params: params}
	seen := make(map[string]struct{})
	for _, c := range categories {
		c = strings.TrimSpace(c)
		f := utils.FoldAccents(c)
		if c == "" {
			continue
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		t.categories = append(t.categories, c)
		t.folded = append(t.folded, f)
	}
	if len(t.categories) == 0 {
		return nil, fmt.Errorf("classify: at least one category is required")
	}
	return t, nil
}

// Categories returns the canonical category labels.
func (t *ClassifyTask) Categories() []string { return append([]string(nil), t.categories...) }

func (t *ClassifyTask) Kind() models.EnrichKind { return models.EnrichClassify }
func (t *ClassifyTask) Params() Params          { return t.params }

func (t *ClassifyTask) Prompt(text string) string {
	return fmt.Sprintf(classifyPromptTmpl, strings.Join(t.categories, ", "), text)
}

func (t *ClassifyTask) StrictPrompt(text, rejected string) string {
	reminder := fmt.Sprintf(classifyReminder, strings.Join(t.categories, ", "))
	return strictPreamble(rejected, reminder) + t.Prompt(text)
}

// Parse matches output against the category set ignoring case, accents, quotes and
// trailing punctuation. Only a leading answer label may precede the category; any other
// words around it make the answer a format error.
func (t *ClassifyTask) Parse(output string) (*models.EnrichmentResult, error) {
	answer := utils.FoldAccents(trimLabel(stripAnswerLabel(output,
		"la categoría es", "la categoria es", "categoría:", "categoria:")))
	if answer == "" {
		return nil, fmt.Errorf("classify: %w: empty answer", errFormat)
	}
	for i, f := range t.folded {
		if answer == f {
			return t.result(i), nil
		}
	}
	return nil, fmt.Errorf("classify: %w: %q is not a known category", errFormat, answer)
}

func (t *ClassifyTask) result(i int) *models.EnrichmentResult {
	return &models.EnrichmentResult{Kind: models.EnrichClassify, Category: t.categories[i]}
}

// Simulate picks a category from a hash of text.
func (t *ClassifyTask) Simulate(text string) *models.EnrichmentResult {
	res := t.result(embedding.HashString(text) % len(t.categories))
	res.Simulated = true
	return res
}
