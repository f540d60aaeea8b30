// Package models defines core data structures for memory records, sessions, and API payloads.
package models

import (
	"fmt"
	"time"
)

// RecordKind distinguishes conversation turns from ingested document passages.
type RecordKind string

const (
	// KindConversation is a user/bot exchange ingested after a chat turn.
	KindConversation RecordKind = "conversation"
	// KindDocument is a passage chunked from a source document.
	KindDocument RecordKind = "document"
)

// Record is one entry in the append-only memory log. The record at position i
// corresponds exactly to the i-th vector in the vector index. Records are
// immutable after creation and never deleted.
type Record struct {
	Position      int                    `json:"position" db:"position"`
	Kind          RecordKind             `json:"kind" db:"kind"`
	UserMessage   string                 `json:"user_message,omitempty" db:"user_message"`
	BotResponse   string                 `json:"bot_response,omitempty" db:"bot_response"`
	SessionID     string                 `json:"session_id,omitempty" db:"session_id"`
	Content       string                 `json:"content,omitempty" db:"content"`
	Source        string                 `json:"source,omitempty" db:"source"`
	Metadata      map[string]interface{} `json:"metadata,omitempty" db:"metadata"`
	Timestamp     time.Time              `json:"timestamp" db:"timestamp"`
	CompositeText string                 `json:"composite_text" db:"composite_text"`
}

// NewConversationRecord builds a conversation record with its canonical
// composite text, which is the exact text the embedding is computed against.
func NewConversationRecord(userMessage, botResponse, sessionID string) *Record {
	return &Record{
		Kind:          KindConversation,
		UserMessage:   userMessage,
		BotResponse:   botResponse,
		SessionID:     sessionID,
		Timestamp:     time.Now().UTC(),
		CompositeText: CompositeText(userMessage, botResponse),
	}
}

// NewDocumentRecord builds a document record from a passage. The passage
// content is embedded verbatim.
func NewDocumentRecord(p *Passage) *Record {
	return &Record{
		Kind:          KindDocument,
		Content:       p.Content,
		Source:        p.Source,
		Metadata:      p.Metadata,
		Timestamp:     time.Now().UTC(),
		CompositeText: p.Content,
	}
}

// CompositeText returns the canonical embedded form of a conversation pair.
func CompositeText(userMessage, botResponse string) string {
	return fmt.Sprintf("User: %s\nBot: %s", userMessage, botResponse)
}

// Passage is a bounded-length span chunked from a raw document, immutable once created.
type Passage struct {
	Content  string                 `json:"content"`
	Source   string                 `json:"source"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// ScoredRecord pairs a retrieved record with its similarity score.
type ScoredRecord struct {
	Score  float64 `json:"score"`
	Record *Record `json:"record"`
}

// MemoryStats reports engine counters. TotalRecords must always equal
// TotalVectors; a mismatch indicates index/store skew.
type MemoryStats struct {
	TotalRecords int `json:"total_records"`
	TotalVectors int `json:"total_vectors"`
	Dimensions   int `json:"dimensions"`
}
