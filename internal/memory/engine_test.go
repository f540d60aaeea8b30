package memory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kaiwa/internal/config"
	"github.com/hyperjump/kaiwa/internal/embedding"
	"github.com/hyperjump/kaiwa/internal/models"
	"github.com/hyperjump/kaiwa/internal/storage"
	"github.com/hyperjump/kaiwa/internal/vector"
)

const testDims = 64

func testMemoryConfig() *config.MemoryConfig {
	return &config.MemoryConfig{
		SimilarLimit:        5,
		HistoryLimit:        3,
		SessionWindow:       10,
		CandidateMultiplier: 3,
	}
}

func newTestEngine(t *testing.T) (*Engine, string) {
	t.Helper()
	dir := t.TempDir()
	engine, err := openEngine(t, dir)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = engine.Close() })
	return engine, dir
}

// openEngine builds an engine over stores rooted at dir, loading any
// previously saved state.
func openEngine(t *testing.T, dir string) (*Engine, error) {
	t.Helper()
	store, err := storage.NewSQLiteStore(filepath.Join(dir, "memory.db"))
	if err != nil {
		t.Fatal(err)
	}
	index, err := vector.NewFlatIndex(testDims)
	if err != nil {
		t.Fatal(err)
	}
	indexPath := filepath.Join(dir, "vectors.bin")
	if err := index.Load(indexPath); err != nil {
		t.Fatal(err)
	}
	embedder := embedding.NewMockEmbedder(testDims)
	return NewEngine(context.Background(), store, embedder, index, nil,
		testMemoryConfig(), indexPath, zap.NewNop())
}

func TestIngestConversationAlignsStores(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		rec, err := engine.IngestConversation(ctx, fmt.Sprintf("question %d", i), fmt.Sprintf("answer %d", i), "s1")
		if err != nil {
			t.Fatal(err)
		}
		if rec.Position != i {
			t.Errorf("position: got %d, want %d", rec.Position, i)
		}
	}

	stats, err := engine.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalRecords != 3 || stats.TotalVectors != 3 {
		t.Errorf("stats: %+v", stats)
	}
	if stats.Dimensions != testDims {
		t.Errorf("dimensions: %d", stats.Dimensions)
	}
}

func TestRetrieveSimilarFindsIngestedText(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	if _, err := engine.IngestConversation(ctx, "tell me about dogs", "dogs are loyal animals", "s1"); err != nil {
		t.Fatal(err)
	}
	if _, err := engine.IngestConversation(ctx, "explain quantum tunneling", "particles cross barriers", "s1"); err != nil {
		t.Fatal(err)
	}

	// Query with the exact stored composite text: identical text embeds to an
	// identical unit vector, so its self-similarity is 1.0 and passes any gate.
	query := models.CompositeText("tell me about dogs", "dogs are loyal animals")
	results, err := engine.RetrieveSimilar(ctx, query, 5, 0.5)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) == 0 {
		t.Fatal("expected at least one result")
	}
	if results[0].Record.Position != 0 {
		t.Errorf("top hit position: %d", results[0].Record.Position)
	}
	if results[0].Score < 0.999 {
		t.Errorf("self-similarity: %f", results[0].Score)
	}
	for i := 1; i < len(results); i++ {
		if results[i].Score > results[i-1].Score {
			t.Error("results not in descending score order")
		}
	}
}

func TestRetrieveSimilarScoreGate(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	if _, err := engine.IngestConversation(ctx, "hello", "hi there", "s1"); err != nil {
		t.Fatal(err)
	}

	// A gate above 1.0 excludes everything, including exact matches.
	query := models.CompositeText("hello", "hi there")
	results, err := engine.RetrieveSimilar(ctx, query, 5, 1.1)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Errorf("expected score gate to drop all results, got %d", len(results))
	}
}

func TestRetrieveSimilarEmptyMemory(t *testing.T) {
	engine, _ := newTestEngine(t)
	results, err := engine.RetrieveSimilar(context.Background(), "anything", 5, 0.5)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Errorf("expected empty results, got %d", len(results))
	}
}

func TestIngestPassages(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	passages := []*models.Passage{
		{Content: "The mitochondria is the powerhouse of the cell", Source: "bio.md"},
		{Content: "Photosynthesis converts light into chemical energy", Source: "bio.md"},
	}
	n, err := engine.IngestPassages(ctx, passages)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("ingested: %d", n)
	}

	stats, err := engine.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalRecords != 2 || stats.TotalVectors != 2 {
		t.Errorf("stats: %+v", stats)
	}

	results, err := engine.RetrieveSimilar(ctx, "The mitochondria is the powerhouse of the cell", 5, 0.5)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) == 0 || results[0].Record.Kind != models.KindDocument {
		t.Fatalf("results: %+v", results)
	}
	if results[0].Record.Source != "bio.md" {
		t.Errorf("source: %s", results[0].Record.Source)
	}
}

func TestIngestPassagesEmpty(t *testing.T) {
	engine, _ := newTestEngine(t)
	n, err := engine.IngestPassages(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("ingested: %d", n)
	}
}

func TestRetrieveSessionHistory(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := engine.IngestConversation(ctx, fmt.Sprintf("q%d", i), fmt.Sprintf("a%d", i), "s1"); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := engine.IngestConversation(ctx, "other", "session", "s2"); err != nil {
		t.Fatal(err)
	}

	history, err := engine.RetrieveSessionHistory(ctx, "s1", 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 3 {
		t.Fatalf("history length: %d", len(history))
	}
	// Most recent three, oldest first.
	if history[0].UserMessage != "q2" || history[2].UserMessage != "q4" {
		t.Errorf("history window: %s .. %s", history[0].UserMessage, history[2].UserMessage)
	}

	unknown, err := engine.RetrieveSessionHistory(ctx, "never-seen", 3)
	if err != nil {
		t.Fatalf("unknown session must not error: %v", err)
	}
	if len(unknown) != 0 {
		t.Errorf("unknown session history: %d", len(unknown))
	}
}

func TestPersistAndReload(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	engine, err := openEngine(t, dir)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := engine.IngestConversation(ctx, "do you remember me?", "of course", "s1"); err != nil {
		t.Fatal(err)
	}
	if err := engine.Close(); err != nil {
		t.Fatal(err)
	}

	reloaded, err := openEngine(t, dir)
	if err != nil {
		t.Fatal(err)
	}
	defer reloaded.Close()

	stats, err := reloaded.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalRecords != 1 || stats.TotalVectors != 1 {
		t.Errorf("stats after reload: %+v", stats)
	}

	query := models.CompositeText("do you remember me?", "of course")
	results, err := reloaded.RetrieveSimilar(ctx, query, 5, 0.5)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Score < 0.999 {
		t.Fatalf("results after reload: %+v", results)
	}
}

func TestStartupConsistencyCheck(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	engine, err := openEngine(t, dir)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := engine.IngestConversation(ctx, "hi", "hello", "s1"); err != nil {
		t.Fatal(err)
	}
	if err := engine.Close(); err != nil {
		t.Fatal(err)
	}

	// Simulate a lost vector blob: record log has one entry, index is empty.
	store, err := storage.NewSQLiteStore(filepath.Join(dir, "memory.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	index, err := vector.NewFlatIndex(testDims)
	if err != nil {
		t.Fatal(err)
	}
	_, err = NewEngine(ctx, store, embedding.NewMockEmbedder(testDims), index, nil,
		testMemoryConfig(), filepath.Join(dir, "vectors.bin"), zap.NewNop())
	if err == nil {
		t.Fatal("expected consistency error")
	}
	var cerr *ConsistencyError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected *ConsistencyError, got %T: %v", err, err)
	}
	if cerr.Records != 1 || cerr.Vectors != 0 {
		t.Errorf("counts: %+v", cerr)
	}
}

func TestDegradedDurability(t *testing.T) {
	dir := t.TempDir()
	store, err := storage.NewSQLiteStore(filepath.Join(dir, "memory.db"))
	if err != nil {
		t.Fatal(err)
	}
	index, err := vector.NewFlatIndex(testDims)
	if err != nil {
		t.Fatal(err)
	}
	// The index path points inside a file, so MkdirAll fails and the blob
	// cannot be written.
	obstruction := filepath.Join(dir, "not-a-dir")
	if err := os.WriteFile(obstruction, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	badPath := filepath.Join(obstruction, "sub", "vectors.bin")

	engine, err := NewEngine(context.Background(), store, embedding.NewMockEmbedder(testDims), index, nil,
		testMemoryConfig(), badPath, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = store.Close() }()

	rec, err := engine.IngestConversation(context.Background(), "hi", "hello", "s1")
	if !errors.Is(err, ErrDegradedDurability) {
		t.Fatalf("expected ErrDegradedDurability, got %v", err)
	}
	if rec == nil || rec.Position != 0 {
		t.Fatalf("record must still be stored: %+v", rec)
	}
	stats, statErr := engine.Stats(context.Background())
	if statErr != nil {
		t.Fatal(statErr)
	}
	if stats.TotalRecords != 1 || stats.TotalVectors != 1 {
		t.Errorf("in-memory state must stay consistent: %+v", stats)
	}
}

func TestEmbeddingFailureStoresNothing(t *testing.T) {
	dir := t.TempDir()
	store, err := storage.NewSQLiteStore(filepath.Join(dir, "memory.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	index, err := vector.NewFlatIndex(testDims)
	if err != nil {
		t.Fatal(err)
	}
	engine, err := NewEngine(context.Background(), store, &failingEmbedder{dims: testDims}, index, nil,
		testMemoryConfig(), filepath.Join(dir, "vectors.bin"), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}

	if _, err := engine.IngestConversation(context.Background(), "hi", "hello", "s1"); err == nil {
		t.Fatal("expected embedding failure")
	}
	stats, err := engine.Stats(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalRecords != 0 || stats.TotalVectors != 0 {
		t.Errorf("failed ingest must store nothing: %+v", stats)
	}
}

func TestConcurrentIngestAndRetrieve(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	const writers = 4
	const perWriter = 10
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				_, err := engine.IngestConversation(ctx,
					fmt.Sprintf("writer %d message %d", w, i), "ok", fmt.Sprintf("s%d", w))
				if err != nil {
					t.Error(err)
					return
				}
			}
		}(w)
	}
	// Readers run concurrently with the writers; they must never observe a
	// torn state, only some prefix of the completed ingests.
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			if _, err := engine.RetrieveSimilar(ctx, "writer message", 5, 0.0); err != nil {
				t.Error(err)
				return
			}
			stats, err := engine.Stats(ctx)
			if err != nil {
				t.Error(err)
				return
			}
			if stats.TotalVectors < 0 || stats.TotalRecords < 0 {
				t.Errorf("invalid stats: %+v", stats)
				return
			}
		}
	}()
	wg.Wait()

	stats, err := engine.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalRecords != writers*perWriter || stats.TotalVectors != writers*perWriter {
		t.Errorf("final stats: %+v", stats)
	}
}

// failingEmbedder always errors, standing in for an unavailable model.
type failingEmbedder struct {
	dims int
}

func (f *failingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, errors.New("model unavailable")
}

func (f *failingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, errors.New("model unavailable")
}

func (f *failingEmbedder) Dimensions() int { return f.dims }
func (f *failingEmbedder) Close() error    { return nil }

// cancellingStore cancels the turn context once a row has committed,
// imitating a client that disconnects mid-ingest.
type cancellingStore struct {
	storage.RecordStore
	cancel context.CancelFunc
}

func (c *cancellingStore) Append(ctx context.Context, rec *models.Record) (int, error) {
	pos, err := c.RecordStore.Append(ctx, rec)
	if err == nil {
		c.cancel()
	}
	return pos, err
}

func TestIngestSurvivesCancellationAfterCommit(t *testing.T) {
	dir := t.TempDir()
	sqlite, err := storage.NewSQLiteStore(filepath.Join(dir, "memory.db"))
	if err != nil {
		t.Fatal(err)
	}
	index, err := vector.NewFlatIndex(testDims)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := &cancellingStore{RecordStore: sqlite, cancel: cancel}
	engine, err := NewEngine(context.Background(), store, embedding.NewMockEmbedder(testDims),
		index, nil, testMemoryConfig(), filepath.Join(dir, "vectors.bin"), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer engine.Close()

	if _, err := engine.IngestConversation(ctx, "hello", "hi there", "s1"); err != nil {
		t.Fatalf("ingest with mid-turn cancellation: %v", err)
	}
	stats, err := engine.Stats(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalRecords != stats.TotalVectors {
		t.Fatalf("stores skewed after cancelled ingest: %d records vs %d vectors",
			stats.TotalRecords, stats.TotalVectors)
	}
	if stats.TotalRecords != 1 {
		t.Fatalf("records = %d, want 1", stats.TotalRecords)
	}
}

// parkingStore blocks inside the write critical section after the row
// commits, so a test can observe the engine mid-ingest.
type parkingStore struct {
	storage.RecordStore
	entered chan struct{}
	release chan struct{}
}

func (p *parkingStore) Append(ctx context.Context, rec *models.Record) (int, error) {
	pos, err := p.RecordStore.Append(ctx, rec)
	close(p.entered)
	<-p.release
	return pos, err
}

func TestStatsNeverTornMidIngest(t *testing.T) {
	dir := t.TempDir()
	sqlite, err := storage.NewSQLiteStore(filepath.Join(dir, "memory.db"))
	if err != nil {
		t.Fatal(err)
	}
	index, err := vector.NewFlatIndex(testDims)
	if err != nil {
		t.Fatal(err)
	}
	store := &parkingStore{
		RecordStore: sqlite,
		entered:     make(chan struct{}),
		release:     make(chan struct{}),
	}
	engine, err := NewEngine(context.Background(), store, embedding.NewMockEmbedder(testDims),
		index, nil, testMemoryConfig(), filepath.Join(dir, "vectors.bin"), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer engine.Close()

	done := make(chan error, 1)
	go func() {
		_, err := engine.IngestConversation(context.Background(), "question", "answer", "s1")
		done <- err
	}()
	<-store.entered

	statsCh := make(chan *models.MemoryStats, 1)
	go func() {
		stats, err := engine.Stats(context.Background())
		if err != nil {
			statsCh <- nil
			return
		}
		statsCh <- stats
	}()

	// The row is committed but the vector is not yet appended. Stats must
	// wait for the write to finish instead of reporting a half-ingest.
	select {
	case <-statsCh:
		t.Fatal("stats returned while an ingest held the critical section")
	case <-time.After(50 * time.Millisecond):
	}

	close(store.release)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	stats := <-statsCh
	if stats == nil {
		t.Fatal("stats failed")
	}
	if stats.TotalRecords != stats.TotalVectors {
		t.Fatalf("torn stats: %d records vs %d vectors", stats.TotalRecords, stats.TotalVectors)
	}
	if stats.TotalRecords != 1 {
		t.Fatalf("records = %d, want 1", stats.TotalRecords)
	}
}
