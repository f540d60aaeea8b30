// Package memory provides the conversation memory engine: an append-only,
// position-aligned pair of record log and vector index with semantic retrieval.
package memory

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/hyperjump/kaiwa/internal/config"
	"github.com/hyperjump/kaiwa/internal/embedding"
	"github.com/hyperjump/kaiwa/internal/keyword"
	"github.com/hyperjump/kaiwa/internal/models"
	"github.com/hyperjump/kaiwa/internal/storage"
	"github.com/hyperjump/kaiwa/internal/vector"
)

// Engine ties the embedder, vector index and record store together.
// All writes go through a single critical section so the i-th record
// always corresponds to the i-th vector.
type Engine struct {
	store    storage.RecordStore
	embedder embedding.Embedder
	index    vector.Index
	keyword  keyword.KeywordIndex
	config   *config.MemoryConfig
	logger   *zap.Logger

	indexPath string

	mu sync.Mutex // guards the store+index append pair
}

// NewEngine creates a memory engine and verifies that the record log and the
// vector index agree on their length. A mismatch means one of the two
// persistence artifacts was lost or truncated; the engine refuses to start
// rather than guess which side is authoritative.
func NewEngine(
	ctx context.Context,
	store storage.RecordStore,
	embedder embedding.Embedder,
	index vector.Index,
	keywordIndex keyword.KeywordIndex,
	cfg *config.MemoryConfig,
	indexPath string,
	logger *zap.Logger,
) (*Engine, error) {
	records, err := store.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count records: %w", err)
	}
	if vectors := index.Size(); records != vectors {
		return nil, &ConsistencyError{Records: records, Vectors: vectors}
	}
	e := &Engine{
		store:     store,
		embedder:  embedder,
		index:     index,
		keyword:   keywordIndex,
		config:    cfg,
		logger:    logger,
		indexPath: indexPath,
	}
	if err := e.rebuildKeyword(ctx, records); err != nil {
		logger.Warn("keyword index rebuild failed", zap.Error(err))
	}
	return e, nil
}

// rebuildKeyword re-indexes missing records into the keyword index. The
// keyword index is a derived artifact and may lag the record log (it is not
// part of the durability contract), so it is caught up on startup.
func (e *Engine) rebuildKeyword(ctx context.Context, records int) error {
	if e.keyword == nil {
		return nil
	}
	indexed, err := e.keyword.DocCount()
	if err != nil {
		return err
	}
	if int(indexed) >= records {
		return nil
	}
	// Indexing by position is an upsert, so missed records anywhere in the
	// log are repaired by walking it from the start.
	e.logger.Info("rebuilding keyword index",
		zap.Uint64("indexed", indexed), zap.Int("records", records))
	for pos := 0; pos < records; pos++ {
		rec, err := e.store.Get(ctx, pos)
		if err != nil {
			return fmt.Errorf("record %d: %w", pos, err)
		}
		if err := e.keyword.Index(ctx, pos, rec); err != nil {
			return fmt.Errorf("record %d: %w", pos, err)
		}
	}
	return nil
}

// IngestConversation embeds a user/bot exchange as one composite text and
// appends it to the memory. The returned record carries its assigned position.
// A nil error or ErrDegradedDurability both mean the record is stored; the
// latter signals that the vector index could not be flushed to disk.
func (e *Engine) IngestConversation(ctx context.Context, userMessage, botResponse, sessionID string) (*models.Record, error) {
	rec := models.NewConversationRecord(userMessage, botResponse, sessionID)
	vec, err := e.embedder.Embed(ctx, rec.CompositeText)
	if err != nil {
		return nil, fmt.Errorf("embedding failed: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.append(ctx, rec, vec); err != nil {
		return nil, err
	}
	return rec, e.save()
}

// IngestPassages embeds and appends document passages in one batch. Embedding
// is all-or-nothing: if any passage fails to embed, nothing is stored. The
// returned count is the number of passages appended.
func (e *Engine) IngestPassages(ctx context.Context, passages []*models.Passage) (int, error) {
	if len(passages) == 0 {
		return 0, nil
	}
	texts := make([]string, len(passages))
	for i, p := range passages {
		texts[i] = p.Content
	}
	vectors, err := e.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embedding failed: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for i, p := range passages {
		rec := models.NewDocumentRecord(p)
		if err := e.append(ctx, rec, vectors[i]); err != nil {
			return i, err
		}
	}
	return len(passages), e.save()
}

// append commits one record/vector pair. Callers must hold e.mu.
// The record log commits first; it is the authoritative side. The vector
// dimensions are validated up front so the in-memory index append cannot
// fail after the log commit.
func (e *Engine) append(ctx context.Context, rec *models.Record, vec []float32) error {
	if len(vec) != e.index.Dimensions() {
		return fmt.Errorf("embedding has %d dimensions, index expects %d", len(vec), e.index.Dimensions())
	}
	pos, err := e.store.Append(ctx, rec)
	if err != nil {
		return fmt.Errorf("failed to append record: %w", err)
	}
	// The row is committed. From here the vector append must not observe the
	// caller's cancellation, or the two sides skew permanently and the next
	// startup fails its consistency check.
	postCommit := context.WithoutCancel(ctx)
	positions, err := e.index.Add(postCommit, [][]float32{vec})
	if err != nil {
		return fmt.Errorf("vector append failed after record commit: %w", err)
	}
	if positions[0] != pos {
		return &ConsistencyError{Records: pos + 1, Vectors: positions[0] + 1}
	}
	if e.keyword != nil {
		if err := e.keyword.Index(postCommit, pos, rec); err != nil {
			e.logger.Warn("keyword indexing failed", zap.Int("position", pos), zap.Error(err))
		}
	}
	return nil
}

// save flushes the vector index to disk. Callers must hold e.mu.
func (e *Engine) save() error {
	if err := e.index.Save(e.indexPath); err != nil {
		e.logger.Warn("vector index save failed, running with degraded durability",
			zap.String("path", e.indexPath), zap.Error(err))
		return fmt.Errorf("%w: %v", ErrDegradedDurability, err)
	}
	return nil
}

// RetrieveSimilar returns records semantically similar to the query, most
// similar first. Only results scoring strictly above minScore are returned.
// Scores are inner products of unit vectors, so they behave as cosine
// similarity in [-1, 1]. limit <= 0 uses the configured default.
func (e *Engine) RetrieveSimilar(ctx context.Context, query string, limit int, minScore float64) ([]*models.ScoredRecord, error) {
	if limit <= 0 {
		limit = e.config.SimilarLimit
	}
	vec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding failed: %w", err)
	}

	// Over-fetch so the score gate does not starve the result set.
	k := limit * e.config.CandidateMultiplier
	if k < limit {
		k = limit
	}
	hits, err := e.index.Search(ctx, vec, k)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	results := make([]*models.ScoredRecord, 0, limit)
	for _, hit := range hits {
		if hit.Score <= minScore {
			continue
		}
		rec, err := e.store.Get(ctx, hit.Position)
		if err != nil {
			return nil, fmt.Errorf("record %d missing for indexed vector: %w", hit.Position, err)
		}
		results = append(results, &models.ScoredRecord{Score: hit.Score, Record: rec})
		if len(results) == limit {
			break
		}
	}
	return results, nil
}

// RetrieveSessionHistory returns the most recent limit conversation records
// for a session in chronological order. Unknown sessions yield an empty
// slice, not an error. limit <= 0 uses the configured default.
func (e *Engine) RetrieveSessionHistory(ctx context.Context, sessionID string, limit int) ([]*models.Record, error) {
	if limit <= 0 {
		limit = e.config.HistoryLimit
	}
	return e.store.BySession(ctx, sessionID, limit)
}

// RetrieveKeyword runs a keyword (BM25) search over record text.
// Returns nil if no keyword index is configured.
func (e *Engine) RetrieveKeyword(ctx context.Context, query string, limit int) ([]*models.ScoredRecord, error) {
	if e.keyword == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = e.config.SimilarLimit
	}
	hits, err := e.keyword.Search(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("keyword search failed: %w", err)
	}
	results := make([]*models.ScoredRecord, 0, len(hits))
	for _, hit := range hits {
		rec, err := e.store.Get(ctx, hit.Position)
		if err != nil {
			continue
		}
		results = append(results, &models.ScoredRecord{Score: hit.Score, Record: rec})
	}
	return results, nil
}

// SessionStats returns message counts and first/last timestamps for a session.
func (e *Engine) SessionStats(ctx context.Context, sessionID string) (*models.SessionStats, error) {
	return e.store.SessionStats(ctx, sessionID)
}

// Stats reports the current size of both stores. The counts are read inside
// the write critical section, so callers always see a matched pair.
func (e *Engine) Stats(ctx context.Context) (*models.MemoryStats, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	records, err := e.store.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count records: %w", err)
	}
	return &models.MemoryStats{
		TotalRecords: records,
		TotalVectors: e.index.Size(),
		Dimensions:   e.embedder.Dimensions(),
	}, nil
}

// Save flushes the vector index to disk. Used at shutdown.
func (e *Engine) Save() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.save()
}

// Close closes the underlying components. The vector index is saved first.
func (e *Engine) Close() error {
	saveErr := e.Save()
	if e.keyword != nil {
		if err := e.keyword.Close(); err != nil {
			e.logger.Warn("failed to close keyword index", zap.Error(err))
		}
	}
	if err := e.index.Close(); err != nil {
		return err
	}
	if err := e.store.Close(); err != nil {
		return err
	}
	return saveErr
}
