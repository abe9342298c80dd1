package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/callscope/internal/models"
)

const (
	maxBodyBytes      = 1 << 20
	maxIndexBodyBytes = 64 << 20
)

type searchRequest struct {
	Query      string `json:"query"`
	SearchType string `json:"search_type"`
	TopN       *int   `json:"top_n"`
}

type enrichRequest struct {
	TranscriptID string `json:"transcript_id"`
	Text         string `json:"text"`
}

type indexRequest struct {
	Records []models.Transcript `json:"records"`
	Mode    string              `json:"mode"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if !s.decode(w, r, maxBodyBytes, &req) {
		return
	}
	query := &models.SearchQuery{
		Query: req.Query,
		Mode:  models.SearchMode(req.SearchType),
		TopN:  models.DefaultTopN,
	}
	if strings.TrimSpace(req.SearchType) == "" {
		query.Mode = models.SearchSemantic
	}
	if req.TopN != nil {
		query.TopN = *req.TopN
	}
	s.logger.Debug("search request",
		zap.String("search_type", string(query.Mode)),
		zap.Int("top_n", query.TopN),
		zap.Int("query_len", len(query.Query)))
	response, err := s.search.Search(r.Context(), query)
	if err != nil {
		s.respondErr(w, "search", err)
		return
	}
	s.respondJSON(w, http.StatusOK, response)
}

func (s *Server) handleEnrich(kind models.EnrichKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req enrichRequest
		if !s.decode(w, r, maxBodyBytes, &req) {
			return
		}
		s.logger.Debug("enrich request",
			zap.String("kind", string(kind)),
			zap.String("transcript_id", req.TranscriptID),
			zap.Int("text_len", len(req.Text)))
		result, err := s.enricher.Enrich(r.Context(), models.EnrichRequest{
			Kind:         kind,
			TranscriptID: req.TranscriptID,
			Text:         req.Text,
		})
		if err != nil {
			s.respondErr(w, "enrich", err)
			return
		}
		s.respondJSON(w, http.StatusOK, result)
	}
}

func (s *Server) handleGetTranscript(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	payload, err := s.payloads.GetPayload(r.Context(), id)
	if err != nil {
		s.respondErr(w, "get transcript", err)
		return
	}
	s.respondJSON(w, http.StatusOK, payload)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	var req indexRequest
	if !s.decode(w, r, maxIndexBodyBytes, &req) {
		return
	}
	mode, err := models.ParseRebuildMode(strings.TrimSpace(req.Mode))
	if err != nil {
		s.respondErr(w, "index", err)
		return
	}
	s.logger.Debug("index request", zap.Int("records", len(req.Records)), zap.String("mode", string(mode)))
	report, err := s.indexer.Rebuild(r.Context(), req.Records, mode)
	if err != nil {
		s.respondErr(w, "index", err)
		return
	}
	s.respondJSON(w, http.StatusOK, report)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.status.Check(r.Context()))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, limit int64, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.respondError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// statusFor maps a pipeline error to an HTTP status code.
func statusFor(err error) int {
	var (
		validation  *models.ValidationError
		notFound    *models.NotFoundError
		notEmpty    *models.CollectionNotEmptyError
		mismatch    *models.ModelMismatchError
		external    *models.ExternalServiceError
		format      *models.UpstreamFormatError
		unavailable *models.StoreUnavailableError
	)
	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &notEmpty), errors.As(err, &mismatch), errors.Is(err, models.ErrRebuildInProgress):
		return http.StatusConflict
	case errors.As(err, &unavailable):
		return http.StatusServiceUnavailable
	case errors.As(err, &external), errors.As(err, &format):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondErr(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(op+" failed", zap.Int("status", status), zap.Error(err))
	} else {
		s.logger.Debug(op+" rejected", zap.Int("status", status), zap.Error(err))
	}
	s.respondError(w, status, err.Error())
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
