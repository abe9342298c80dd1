package search

import (
	"strings"

	"github.com/hyperjump/callscope/internal/models"
)

// ProcessQuery trims the query text, lower-cases the mode, then validates. The result
// count is never defaulted or clamped here.
func ProcessQuery(query *models.SearchQuery) error {
	if query == nil {
		return &models.ValidationError{Field: "query", Reason: "must not be empty"}
	}
	query.Query = strings.TrimSpace(query.Query)
	query.Mode = models.SearchMode(strings.ToLower(strings.TrimSpace(string(query.Mode))))
	return query.Validate()
}

// NormalizeTerm prepares a keyword term for the store's case-insensitive substring match.
func NormalizeTerm(term string) string {
	return strings.ToLower(strings.Join(strings.Fields(term), " "))
}
