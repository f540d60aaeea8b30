// Package session keeps a bounded in-memory window of recent turns per session.
package session

import (
	"sync"
	"time"
)

// Turn is one completed user/assistant exchange.
type Turn struct {
	UserMessage string
	BotResponse string
	Timestamp   time.Time
}

// Registry tracks recent turns for active sessions. Each session keeps at
// most window turns; older turns are evicted first-in first-out. The durable
// record log is unaffected by eviction.
type Registry struct {
	window   int
	mu       sync.RWMutex
	sessions map[string][]*Turn
}

// NewRegistry creates a registry with the given per-session window size.
func NewRegistry(window int) *Registry {
	if window <= 0 {
		window = 1
	}
	return &Registry{
		window:   window,
		sessions: make(map[string][]*Turn),
	}
}

// AppendTurn records a completed exchange for a session, creating the session
// if it does not exist and evicting the oldest turn once the window is full.
func (r *Registry) AppendTurn(sessionID, userMessage, botResponse string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	turns := append(r.sessions[sessionID], &Turn{
		UserMessage: userMessage,
		BotResponse: botResponse,
		Timestamp:   time.Now().UTC(),
	})
	if len(turns) > r.window {
		turns = turns[len(turns)-r.window:]
	}
	r.sessions[sessionID] = turns
}

// Turns returns the recorded turns for a session in chronological order.
// Unknown sessions yield an empty slice, not an error.
func (r *Registry) Turns(sessionID string) []*Turn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	turns := r.sessions[sessionID]
	out := make([]*Turn, len(turns))
	copy(out, turns)
	return out
}

// Clear drops all in-memory turns for a session.
func (r *Registry) Clear(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sessionID)
}

// ActiveSessions returns the number of sessions with at least one turn.
func (r *Registry) ActiveSessions() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
