package search

import (
	"sort"

	"github.com/hyperjump/callscope/internal/models"
	"github.com/hyperjump/callscope/pkg/utils"
)

// RankSemantic turns vector hits into results: scores are clamped to [-1, 1], ordered by
// descending score with ties broken by ascending id, repeated ids keep their best score,
// and at most topN results are returned.
func RankSemantic(hits []models.ScoredID, topN int) []*models.SearchResult {
	best := make(map[string]float64, len(hits))
	for _, h := range hits {
		score := utils.ClampUnit(h.Score)
		if s, ok := best[h.ID]; !ok || score > s {
			best[h.ID] = score
		}
	}
	merged := make([]models.ScoredID, 0, len(best))
	for id, score := range best {
		merged = append(merged, models.ScoredID{ID: id, Score: score})
	}
	models.SortScored(merged)
	if len(merged) > topN {
		merged = merged[:topN]
	}
	results := make([]*models.SearchResult, len(merged))
	for i, h := range merged {
		score := h.Score
		results[i] = &models.SearchResult{TranscriptID: h.ID, Score: &score}
	}
	return results
}

// RankKeyword turns keyword matches into unscored results in ascending id order, at most
// topN of them.
func RankKeyword(ids []string, topN int) []*models.SearchResult {
	seen := make(map[string]struct{}, len(ids))
	unique := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}
	sort.Strings(unique)
	if len(unique) > topN {
		unique = unique[:topN]
	}
	results := make([]*models.SearchResult, len(unique))
	for i, id := range unique {
		results[i] = &models.SearchResult{TranscriptID: id}
	}
	return results
}
