package embedding

import (
	"context"
	"math"

	"github.com/hyperjump/kaiwa/pkg/utils"
)

// MockEmbedder is a deterministic embedder for tests and as a fallback when
// the ONNX runtime is unavailable. The same text always yields the same
// unit-length vector, and similar word sets land near each other, which is
// enough for retrieval ordering in tests.
type MockEmbedder struct {
	dimensions int
}

// NewMockEmbedder returns an embedder producing deterministic embeddings of the given dimensions.
func NewMockEmbedder(dimensions int) *MockEmbedder {
	if dimensions <= 0 {
		dimensions = 384
	}
	return &MockEmbedder{dimensions: dimensions}
}

// Embed returns a deterministic normalized embedding derived from word hashes.
// Each word contributes a smooth bump to the vector so texts sharing words
// produce nearby embeddings.
func (e *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tok := &WordTokenizer{}
	ids, mask, _ := tok.Tokenize(text, 64)
	emb := make([]float32, e.dimensions)
	for i, id := range ids {
		if mask[i] == 0 || id == 101 || id == 102 {
			continue
		}
		for j := 0; j < e.dimensions; j++ {
			emb[j] += float32(math.Sin(float64(id) * float64(j+1) * 0.1))
		}
	}
	if allZero(emb) {
		emb[0] = 1
	}
	utils.NormalizeL2(emb)
	return emb, nil
}

// EmbedBatch calls Embed for each text; any failure discards the whole batch.
func (e *MockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		emb, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		embeddings[i] = emb
	}
	return embeddings, nil
}

// Dimensions returns the embedding dimension.
func (e *MockEmbedder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op for MockEmbedder.
func (e *MockEmbedder) Close() error {
	return nil
}

func allZero(x []float32) bool {
	for _, v := range x {
		if v != 0 {
			return false
		}
	}
	return true
}
