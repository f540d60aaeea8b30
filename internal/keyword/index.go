// Package keyword provides keyword (BM25) indexing and search over memory records.
package keyword

import (
	"context"

	"github.com/hyperjump/kaiwa/internal/models"
)

// KeywordIndex defines keyword search operations over stored records.
// Records are keyed by their position in the record log.
type KeywordIndex interface {
	Index(ctx context.Context, position int, rec *models.Record) error
	Search(ctx context.Context, query string, limit int) ([]*Result, error)
	Close() error
	// DocCount returns the total number of indexed records.
	DocCount() (uint64, error)
}

// Result is a single keyword search hit.
type Result struct {
	Position int
	Score    float64
}
