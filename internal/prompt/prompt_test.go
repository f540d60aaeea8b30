package prompt

import (
	"strings"
	"testing"

	"github.com/hyperjump/kaiwa/internal/models"
)

func TestAssembleWithResults(t *testing.T) {
	similar := []*models.ScoredRecord{
		{Score: 0.87, Record: models.NewConversationRecord("what is Go?", "a programming language", "s1")},
	}
	history := []*models.Record{
		models.NewConversationRecord("hi", "hello!", "s1"),
	}
	block := Assemble(similar, history, "tell me more")

	if !strings.Contains(block.Context, "similarity: 0.87") {
		t.Errorf("context: %q", block.Context)
	}
	if !strings.Contains(block.Context, "User: what is Go?") {
		t.Errorf("context: %q", block.Context)
	}
	if !strings.Contains(block.History, "User: hi\nBot: hello!") {
		t.Errorf("history: %q", block.History)
	}
	if block.Question != "tell me more" {
		t.Errorf("question: %q", block.Question)
	}
}

func TestAssembleEmptyInputs(t *testing.T) {
	block := Assemble(nil, nil, "first message")
	if block.Context != "No relevant past conversations found." {
		t.Errorf("context placeholder: %q", block.Context)
	}
	if block.History != "No recent history." {
		t.Errorf("history placeholder: %q", block.History)
	}
}

func TestAssembleDocumentPassage(t *testing.T) {
	similar := []*models.ScoredRecord{
		{Score: 0.91, Record: models.NewDocumentRecord(&models.Passage{
			Content: "Go was announced in 2009.",
			Source:  "go-history.md",
		})},
	}
	block := Assemble(similar, nil, "when was Go announced?")
	if !strings.Contains(block.Context, "Reference passage") {
		t.Errorf("context: %q", block.Context)
	}
	if !strings.Contains(block.Context, "go-history.md") {
		t.Errorf("context: %q", block.Context)
	}
}

func TestRenderDeterministic(t *testing.T) {
	similar := []*models.ScoredRecord{
		{Score: 0.75, Record: models.NewConversationRecord("a", "b", "s1")},
	}
	history := []*models.Record{models.NewConversationRecord("c", "d", "s1")}

	first := Assemble(similar, history, "q").Render()
	second := Assemble(similar, history, "q").Render()
	if first != second {
		t.Error("render is not deterministic")
	}

	for _, want := range []string{
		"Context from similar past conversations:",
		"Recent conversation history:",
		"Human: q",
		"Assistant:",
	} {
		if !strings.Contains(first, want) {
			t.Errorf("rendered prompt missing %q:\n%s", want, first)
		}
	}
}
