// Package vector provides append-only vector indexes with top-k inner-product search.
package vector

import "context"

// Index stores normalized vectors in insertion order and serves top-k search.
// Positions are assigned monotonically starting at the current size and never
// change; there is no removal or reordering.
type Index interface {
	// Add appends vectors and returns their assigned positions.
	Add(ctx context.Context, vectors [][]float32) ([]int, error)
	// Search returns up to k results ordered by descending score. Scores are
	// inner products, which equal cosine similarity for unit vectors.
	Search(ctx context.Context, query []float32, k int) ([]*Result, error)
	// Save serializes the index to a single blob at path with bit-level
	// fidelity: a reload reproduces identical positions and scores.
	Save(path string) error
	// Load replaces the in-memory contents from path. A missing file leaves
	// the index unchanged and returns nil.
	Load(path string) error
	Size() int
	Dimensions() int
	Close() error
	Type() string
}

// Result is a single search hit: the insertion position of the vector and its
// similarity to the query, in [-1, 1] for normalized vectors.
type Result struct {
	Position int
	Score    float64
}
