// Package cli provides CLI output formatting for Kaiwa.
package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/hyperjump/kaiwa/internal/models"
	"github.com/hyperjump/kaiwa/pkg/utils"
)

// OutputFormat is the format for CLI output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat maps a flag value to an OutputFormat.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch s {
	case "text", "":
		return OutputText, nil
	case "json":
		return OutputJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q; use text or json", s)
	}
}

// WriteSearchResults writes memory search results to w in the given format.
func WriteSearchResults(w io.Writer, response *models.SearchResponse, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, response)
	}
	fmt.Fprintf(w, "\nFound %d results in %dms\n\n", response.Total, response.QueryTime)
	for i, result := range response.Results {
		writeOneResult(w, i+1, result)
	}
	if len(response.KeywordResults) > 0 {
		fmt.Fprintln(w, "--- Keyword matches ---")
		for i, result := range response.KeywordResults {
			writeOneResult(w, i+1, result)
		}
	}
	return nil
}

func writeOneResult(w io.Writer, rank int, result *models.ScoredRecord) {
	rec := result.Record
	fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
	fmt.Fprintf(w, "Rank: %d | Score: %.4f | Kind: %s | Position: %d\n", rank, result.Score, rec.Kind, rec.Position)
	if rec.Kind == models.KindDocument && rec.Source != "" {
		fmt.Fprintf(w, "Source: %s\n", rec.Source)
	}
	if rec.SessionID != "" {
		fmt.Fprintf(w, "Session: %s\n", rec.SessionID)
	}
	fmt.Fprintf(w, "\n%s\n\n", utils.Truncate(rec.CompositeText, 200))
}

// WriteHistory writes session history to w in the given format.
func WriteHistory(w io.Writer, response *models.HistoryResponse, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, response)
	}
	fmt.Fprintf(w, "\nSession %s: %d message(s)\n\n", response.SessionID, response.Stats.TotalMessages)
	for _, rec := range response.Records {
		fmt.Fprintf(w, "[%s]\n", rec.Timestamp.Format("2006-01-02 15:04:05"))
		fmt.Fprintf(w, "User: %s\n", rec.UserMessage)
		fmt.Fprintf(w, "Bot:  %s\n\n", rec.BotResponse)
	}
	return nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
