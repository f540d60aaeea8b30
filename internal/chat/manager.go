// Package chat orchestrates one exchange: retrieve, generate, persist.
package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kaiwa/internal/config"
	"github.com/hyperjump/kaiwa/internal/llm"
	"github.com/hyperjump/kaiwa/internal/memory"
	"github.com/hyperjump/kaiwa/internal/models"
	"github.com/hyperjump/kaiwa/internal/prompt"
	"github.com/hyperjump/kaiwa/internal/session"
)

// Manager runs the chat pipeline for each incoming message. The three phases
// are strictly sequential: retrieval completes before generation starts, and
// persistence only runs for successful generations.
type Manager struct {
	engine   *memory.Engine
	client   llm.Client
	sessions *session.Registry
	config   *config.Config
	logger   *zap.Logger
}

// NewManager wires the chat pipeline together.
func NewManager(
	engine *memory.Engine,
	client llm.Client,
	sessions *session.Registry,
	cfg *config.Config,
	logger *zap.Logger,
) *Manager {
	return &Manager{
		engine:   engine,
		client:   client,
		sessions: sessions,
		config:   cfg,
		logger:   logger,
	}
}

// ProcessMessage handles one user message and returns the assistant response.
// When the upstream model fails, an apologetic message is returned instead
// and the exchange is not persisted, so the failure never contaminates the
// memory. Retrieval or storage errors are returned as errors.
func (m *Manager) ProcessMessage(ctx context.Context, userMessage, sessionID string) (string, error) {
	similar, err := m.engine.RetrieveSimilar(ctx, userMessage, m.config.Memory.SimilarLimit, *m.config.Memory.MinScore)
	if err != nil {
		return "", fmt.Errorf("context retrieval failed: %w", err)
	}
	history, err := m.recentHistory(ctx, sessionID)
	if err != nil {
		return "", fmt.Errorf("history retrieval failed: %w", err)
	}

	block := prompt.Assemble(similar, history, userMessage)

	genCtx := ctx
	if m.config.LLM.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		genCtx, cancel = context.WithTimeout(ctx, time.Duration(m.config.LLM.TimeoutSeconds)*time.Second)
		defer cancel()
	}
	response, err := m.client.Generate(genCtx, block.Render())
	if err != nil {
		m.logger.Warn("generation failed, exchange not persisted",
			zap.String("session_id", sessionID), zap.Error(err))
		return m.apology(err), nil
	}

	if _, err := m.engine.IngestConversation(ctx, userMessage, response, sessionID); err != nil {
		if !errors.Is(err, memory.ErrDegradedDurability) {
			return "", fmt.Errorf("failed to store conversation: %w", err)
		}
		m.logger.Warn("conversation stored with degraded durability",
			zap.String("session_id", sessionID), zap.Error(err))
	}
	m.sessions.AppendTurn(sessionID, userMessage, response)
	return response, nil
}

// recentHistory returns the most recent turns for the prompt. The in-memory
// session window serves as the fast path; the durable log is only consulted
// when the window is empty, which happens for sessions resumed after a
// process restart.
func (m *Manager) recentHistory(ctx context.Context, sessionID string) ([]*models.Record, error) {
	turns := m.sessions.Turns(sessionID)
	if len(turns) == 0 {
		return m.engine.RetrieveSessionHistory(ctx, sessionID, m.config.Memory.HistoryLimit)
	}
	if limit := m.config.Memory.HistoryLimit; limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	records := make([]*models.Record, len(turns))
	for i, turn := range turns {
		records[i] = &models.Record{
			Kind:        models.KindConversation,
			UserMessage: turn.UserMessage,
			BotResponse: turn.BotResponse,
			SessionID:   sessionID,
			Timestamp:   turn.Timestamp,
		}
	}
	return records, nil
}

// apology is the user-facing text for an upstream model failure. The
// underlying reason is only exposed in debug mode.
func (m *Manager) apology(err error) string {
	if m.config.Debug {
		return fmt.Sprintf("I'm having trouble generating a response right now. Error: %s", err)
	}
	return "I'm having trouble generating a response right now. Please try again."
}
