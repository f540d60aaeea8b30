// Package storage provides the SQLite implementation of RecordStore.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/kaiwa/internal/models"
)

// SQLiteStore implements RecordStore using SQLite. The whole log lives in one
// database file, so a completed transaction is durable as a unit.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates a SQLite database at dbPath and initializes
// the schema. Parent directories are created if they do not exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS records (
		position INTEGER PRIMARY KEY,
		kind TEXT NOT NULL,
		user_message TEXT NOT NULL DEFAULT '',
		bot_response TEXT NOT NULL DEFAULT '',
		session_id TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL DEFAULT '',
		source TEXT NOT NULL DEFAULT '',
		metadata TEXT NOT NULL DEFAULT '',
		timestamp TIMESTAMP NOT NULL,
		composite_text TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_records_session ON records(session_id, position);
	`
	_, err := db.Exec(schema)
	return err
}

// Append inserts rec at the next position. The position is assigned inside a
// transaction so concurrent writers cannot produce gaps or duplicates.
func (s *SQLiteStore) Append(ctx context.Context, rec *models.Record) (int, error) {
	metadataJSON := ""
	if rec.Metadata != nil {
		b, err := json.Marshal(rec.Metadata)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal metadata: %w", err)
		}
		metadataJSON = string(b)
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var position int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM records`).Scan(&position); err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO records (position, kind, user_message, bot_response, session_id, content, source, metadata, timestamp, composite_text)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		position, rec.Kind, rec.UserMessage, rec.BotResponse, rec.SessionID,
		rec.Content, rec.Source, metadataJSON, rec.Timestamp, rec.CompositeText,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert record: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit record: %w", err)
	}
	rec.Position = position
	return position, nil
}

const recordColumns = `position, kind, user_message, bot_response, session_id, content, source, metadata, timestamp, composite_text`

func scanRecord(scan func(...interface{}) error) (*models.Record, error) {
	var rec models.Record
	var metadataJSON string
	if err := scan(&rec.Position, &rec.Kind, &rec.UserMessage, &rec.BotResponse,
		&rec.SessionID, &rec.Content, &rec.Source, &metadataJSON, &rec.Timestamp, &rec.CompositeText); err != nil {
		return nil, err
	}
	if metadataJSON != "" {
		if err := json.Unmarshal([]byte(metadataJSON), &rec.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	return &rec, nil
}

// Get returns the record at position.
func (s *SQLiteStore) Get(ctx context.Context, position int) (*models.Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM records WHERE position = ?`, position)
	rec, err := scanRecord(row.Scan)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("record not found at position %d", position)
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// BySession returns the most recent limit conversation records for sessionID,
// oldest first.
func (s *SQLiteStore) BySession(ctx context.Context, sessionID string, limit int) ([]*models.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM records
		 WHERE session_id = ? AND kind = ?
		 ORDER BY position DESC LIMIT ?`,
		sessionID, models.KindConversation, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*models.Record
	for rows.Next() {
		rec, err := scanRecord(rows.Scan)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Query returns newest first; flip to chronological order.
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	return records, nil
}

// Filter returns every record matching pred in insertion order.
func (s *SQLiteStore) Filter(ctx context.Context, pred func(*models.Record) bool) ([]*models.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM records ORDER BY position`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*models.Record
	for rows.Next() {
		rec, err := scanRecord(rows.Scan)
		if err != nil {
			return nil, err
		}
		if pred == nil || pred(rec) {
			records = append(records, rec)
		}
	}
	return records, rows.Err()
}

// SessionStats returns message count and first/last timestamps for a session.
func (s *SQLiteStore) SessionStats(ctx context.Context, sessionID string) (*models.SessionStats, error) {
	stats := &models.SessionStats{SessionID: sessionID}
	var first, last sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), MIN(timestamp), MAX(timestamp) FROM records
		 WHERE session_id = ? AND kind = ?`,
		sessionID, models.KindConversation,
	).Scan(&stats.TotalMessages, &first, &last)
	if err != nil {
		return nil, err
	}
	if first.Valid {
		stats.FirstMessage = &first.Time
	}
	if last.Valid {
		stats.LastMessage = &last.Time
	}
	return stats, nil
}

// Count returns the total number of records.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records`).Scan(&count)
	return count, err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
