package keyword

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/hyperjump/kaiwa/internal/models"
)

func newTestIndex(t *testing.T) *BleveIndex {
	t.Helper()
	idx, err := NewBleveIndex(filepath.Join(t.TempDir(), "keyword.bleve"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func TestIndexAndSearch(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	records := []*models.Record{
		models.NewConversationRecord("Tell me about Kubernetes", "Kubernetes orchestrates containers", "s1"),
		models.NewConversationRecord("What is Bayes theorem?", "A rule for updating probabilities", "s1"),
		models.NewDocumentRecord(&models.Passage{Content: "PostgreSQL is a relational database", Source: "db.md"}),
	}
	for i, rec := range records {
		if err := idx.Index(ctx, i, rec); err != nil {
			t.Fatal(err)
		}
	}

	results, err := idx.Search(ctx, "kubernetes", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 hit, got %d", len(results))
	}
	if results[0].Position != 0 {
		t.Errorf("position: %d", results[0].Position)
	}
	if results[0].Score <= 0 {
		t.Errorf("score: %f", results[0].Score)
	}

	results, err = idx.Search(ctx, "bayes", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Position != 1 {
		t.Errorf("bayes hit: %+v", results)
	}
}

func TestSearchNoMatch(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	if err := idx.Index(ctx, 0, models.NewConversationRecord("hello", "hi", "s1")); err != nil {
		t.Fatal(err)
	}
	results, err := idx.Search(ctx, "zebra", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Errorf("expected no hits, got %d", len(results))
	}
}

func TestDocCount(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := idx.Index(ctx, i, models.NewConversationRecord("msg", "resp", "s1")); err != nil {
			t.Fatal(err)
		}
	}
	count, err := idx.DocCount()
	if err != nil {
		t.Fatal(err)
	}
	if count != 3 {
		t.Errorf("doc count: %d", count)
	}
}

func TestReopenExistingIndex(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "keyword.bleve")
	ctx := context.Background()

	idx, err := NewBleveIndex(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := idx.Index(ctx, 0, models.NewConversationRecord("persistent", "yes", "s1")); err != nil {
		t.Fatal(err)
	}
	if err := idx.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := NewBleveIndex(path)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()
	results, err := reopened.Search(ctx, "persistent", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Errorf("expected indexed record to survive reopen, got %d hits", len(results))
	}
}
