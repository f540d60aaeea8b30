package models

import (
	"fmt"
	"time"
)

// ChatRequest is the body of POST /api/v1/chat and of websocket chat messages.
type ChatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
}

// Validate checks required fields.
func (r *ChatRequest) Validate() error {
	if r.Message == "" {
		return fmt.Errorf("message cannot be empty")
	}
	if r.SessionID == "" {
		return fmt.Errorf("session_id cannot be empty")
	}
	return nil
}

// ChatResponse is the reply for a chat turn.
type ChatResponse struct {
	Response  string `json:"response"`
	SessionID string `json:"session_id"`
	Error     string `json:"error,omitempty"`
}

// SearchRequest is the body of POST /api/v1/memory/search.
type SearchRequest struct {
	Query    string   `json:"query"`
	Limit    int      `json:"limit,omitempty"`
	MinScore *float64 `json:"min_score,omitempty"` // nil = configured default
	Keyword  bool     `json:"keyword,omitempty"`   // also run keyword recall
}

// Validate ensures the search request has valid fields and sets defaults.
func (r *SearchRequest) Validate() error {
	if r.Query == "" {
		return fmt.Errorf("query cannot be empty")
	}
	if r.Limit <= 0 {
		r.Limit = 5
	}
	if r.Limit > 100 {
		r.Limit = 100
	}
	return nil
}

// SearchResponse holds semantic (and optionally keyword) memory hits.
type SearchResponse struct {
	Results        []*ScoredRecord `json:"results"`
	KeywordResults []*ScoredRecord `json:"keyword_results,omitempty"`
	Total          int             `json:"total"`
	QueryTime      int64           `json:"query_time_ms"`
	Query          string          `json:"query"`
}

// SessionStats summarizes a session's durable history.
type SessionStats struct {
	SessionID     string     `json:"session_id"`
	TotalMessages int        `json:"total_messages"`
	FirstMessage  *time.Time `json:"first_message,omitempty"`
	LastMessage   *time.Time `json:"last_message,omitempty"`
}

// HistoryResponse is the reply for GET /api/v1/sessions/{id}/history.
type HistoryResponse struct {
	SessionID string       `json:"session_id"`
	Records   []*Record    `json:"records"`
	Stats     SessionStats `json:"stats"`
}

// IndexRequest is the body of POST /api/v1/index. Path overrides the
// configured corpus directory when set.
type IndexRequest struct {
	Path string `json:"path,omitempty"`
}

// IndexResponse reports a bulk ingest pass.
type IndexResponse struct {
	Documents int    `json:"documents"`
	Passages  int    `json:"passages"`
	Status    string `json:"status"`
}
