// Package storage defines persistence for the append-only memory record log.
package storage

import (
	"context"

	"github.com/hyperjump/kaiwa/internal/models"
)

// RecordStore is an ordered, append-only store of memory records. Positions
// are assigned sequentially from zero and must stay aligned one-for-one with
// the vector index: the record at position i describes the i-th vector.
type RecordStore interface {
	// Append stores rec at the next position and returns it. The position is
	// also written back to rec.Position.
	Append(ctx context.Context, rec *models.Record) (int, error)
	// Get returns the record at position.
	Get(ctx context.Context, position int) (*models.Record, error)
	// BySession returns the most recent limit conversation records for the
	// session, in chronological order (oldest of the window first). An
	// unknown session yields an empty slice, not an error.
	BySession(ctx context.Context, sessionID string, limit int) ([]*models.Record, error)
	// Filter returns all records matching pred, preserving insertion order.
	Filter(ctx context.Context, pred func(*models.Record) bool) ([]*models.Record, error)
	// SessionStats summarizes the durable history of a session.
	SessionStats(ctx context.Context, sessionID string) (*models.SessionStats, error)
	// Count returns the total number of records.
	Count(ctx context.Context) (int, error)
	Close() error
}
