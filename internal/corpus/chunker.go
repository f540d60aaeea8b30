// Package corpus ingests reference documents into the conversation memory.
package corpus

import (
	"strings"

	"github.com/hyperjump/kaiwa/internal/models"
)

// Chunker splits document text into overlapping word-based passages.
type Chunker struct {
	chunkSize    int
	chunkOverlap int
}

// NewChunker creates a chunker with the given size and overlap (in words).
func NewChunker(chunkSize, chunkOverlap int) *Chunker {
	return &Chunker{
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
	}
}

// Chunk splits text into passages with overlapping windows. The source is
// recorded on every passage along with its chunk index.
func (c *Chunker) Chunk(source, text string) []*models.Passage {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	step := c.chunkSize - c.chunkOverlap
	if step <= 0 {
		step = 1
	}
	passages := make([]*models.Passage, 0)
	chunkIndex := 0
	for i := 0; i < len(words); i += step {
		end := i + c.chunkSize
		if end > len(words) {
			end = len(words)
		}
		passages = append(passages, &models.Passage{
			Content: strings.Join(words[i:end], " "),
			Source:  source,
			Metadata: map[string]interface{}{
				"chunk_index": chunkIndex,
			},
		})
		chunkIndex++
		if end >= len(words) {
			break
		}
	}
	return passages
}
