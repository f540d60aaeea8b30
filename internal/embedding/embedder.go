// Package embedding provides text embedding via ONNX with caching, plus a
// deterministic mock for tests and environments without the runtime.
package embedding

import "context"

// Embedder produces unit-length vector embeddings for text. Implementations
// are stateless with respect to callers and safe for concurrent use.
type Embedder interface {
	// Embed returns one normalized vector for text.
	Embed(ctx context.Context, text string) ([]float32, error)
	// EmbedBatch returns one vector per input in the same order. The batch is
	// all-or-nothing: on error no partial results are returned.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Close() error
}
