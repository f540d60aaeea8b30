// Package prompt assembles model prompts from retrieved memory.
package prompt

import (
	"fmt"
	"strings"

	"github.com/hyperjump/kaiwa/internal/models"
)

const (
	noContextPlaceholder = "No relevant past conversations found."
	noHistoryPlaceholder = "No recent history."
)

// ContextBlock is the assembled prompt material for one exchange. Assembly is
// deterministic: the same inputs always produce the same rendered prompt.
type ContextBlock struct {
	Context  string
	History  string
	Question string
}

// Assemble formats retrieved similar records and session history into a
// ContextBlock. Empty inputs produce explicit placeholder text rather than
// empty sections, so the model always sees all three parts.
func Assemble(similar []*models.ScoredRecord, history []*models.Record, question string) *ContextBlock {
	return &ContextBlock{
		Context:  formatSimilar(similar),
		History:  formatHistory(history),
		Question: question,
	}
}

// Render produces the user-role prompt text sent to the model.
func (c *ContextBlock) Render() string {
	var b strings.Builder
	b.WriteString("Context from similar past conversations:\n")
	b.WriteString(c.Context)
	b.WriteString("\n\nRecent conversation history:\n")
	b.WriteString(c.History)
	b.WriteString("\n\nHuman: ")
	b.WriteString(c.Question)
	b.WriteString("\nAssistant:")
	return b.String()
}

func formatSimilar(similar []*models.ScoredRecord) string {
	if len(similar) == 0 {
		return noContextPlaceholder
	}
	parts := make([]string, 0, len(similar))
	for _, sr := range similar {
		switch sr.Record.Kind {
		case models.KindConversation:
			parts = append(parts, fmt.Sprintf(
				"Previous conversation (similarity: %.2f):\nUser: %s\nBot: %s\n",
				sr.Score, sr.Record.UserMessage, sr.Record.BotResponse))
		case models.KindDocument:
			parts = append(parts, fmt.Sprintf(
				"Reference passage (similarity: %.2f, source: %s):\n%s\n",
				sr.Score, sr.Record.Source, sr.Record.Content))
		}
	}
	if len(parts) == 0 {
		return noContextPlaceholder
	}
	return strings.Join(parts, "\n")
}

func formatHistory(history []*models.Record) string {
	if len(history) == 0 {
		return noHistoryPlaceholder
	}
	parts := make([]string, 0, len(history))
	for _, rec := range history {
		parts = append(parts, fmt.Sprintf("User: %s\nBot: %s", rec.UserMessage, rec.BotResponse))
	}
	return strings.Join(parts, "\n")
}
