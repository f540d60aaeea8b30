package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/kaiwa/internal/models"
)

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req models.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.logger.Debug("chat request", zap.String("session_id", req.SessionID))
	response, err := s.manager.ProcessMessage(r.Context(), req.Message, req.SessionID)
	if err != nil {
		s.logger.Error("chat failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, &models.ChatResponse{
		Response:  response,
		SessionID: req.SessionID,
	})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	var req models.IndexRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	path := req.Path
	if path == "" {
		path = s.config.Corpus.Directory
	}
	if path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required (no corpus directory configured)")
		return
	}
	s.logger.Debug("index request", zap.String("path", path))
	report, err := s.ingestor.IngestPath(r.Context(), path)
	if err != nil {
		s.logger.Error("indexing failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusCreated, &models.IndexResponse{
		Documents: report.Documents,
		Passages:  report.Passages,
		Status:    "indexed",
	})
}

func (s *Server) handleMemorySearch(w http.ResponseWriter, r *http.Request) {
	var req models.SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	minScore := *s.config.Memory.MinScore
	if req.MinScore != nil {
		minScore = *req.MinScore
	}
	start := time.Now()
	results, err := s.engine.RetrieveSimilar(r.Context(), req.Query, req.Limit, minScore)
	if err != nil {
		s.logger.Error("memory search failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := &models.SearchResponse{
		Results:   results,
		Total:     len(results),
		Query:     req.Query,
		QueryTime: time.Since(start).Milliseconds(),
	}
	if req.Keyword {
		keywordResults, err := s.engine.RetrieveKeyword(r.Context(), req.Query, req.Limit)
		if err != nil {
			s.logger.Warn("keyword search failed", zap.Error(err))
		} else {
			resp.KeywordResults = keywordResults
		}
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSessionHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	records, err := s.engine.RetrieveSessionHistory(r.Context(), sessionID, s.config.Memory.HistoryLimit)
	if err != nil {
		s.logger.Error("history retrieval failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	stats, err := s.engine.SessionStats(r.Context(), sessionID)
	if err != nil {
		s.logger.Error("session stats failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if records == nil {
		records = []*models.Record{}
	}
	s.respondJSON(w, http.StatusOK, &models.HistoryResponse{
		SessionID: sessionID,
		Records:   records,
		Stats:     *stats,
	})
}

func (s *Server) handleClearSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	s.sessions.Clear(sessionID)
	s.respondJSON(w, http.StatusOK, map[string]string{
		"session_id": sessionID,
		"status":     "cleared",
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats, err := s.engine.Stats(r.Context())
	if err != nil {
		s.logger.Error("status failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"total_records":   stats.TotalRecords,
		"total_vectors":   stats.TotalVectors,
		"dimensions":      stats.Dimensions,
		"active_sessions": s.sessions.ActiveSessions(),
		"config": map[string]interface{}{
			"similar_limit": s.config.Memory.SimilarLimit,
			"min_score":     *s.config.Memory.MinScore,
			"history_limit": s.config.Memory.HistoryLimit,
			"model":         s.config.LLM.Model,
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
