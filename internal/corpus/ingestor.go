package corpus

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/hyperjump/kaiwa/internal/extract"
	"github.com/hyperjump/kaiwa/internal/models"
)

// MemoryWriter is the slice of the memory engine the ingestor needs.
type MemoryWriter interface {
	IngestPassages(ctx context.Context, passages []*models.Passage) (int, error)
}

// Report summarizes one ingestion run.
type Report struct {
	Documents int
	Passages  int
	Skipped   int
}

// Ingestor extracts, chunks and stores documents.
type Ingestor struct {
	memory     MemoryWriter
	extractor  *extract.Extractor
	chunker    *Chunker
	extensions map[string]bool
	logger     *zap.Logger
}

// NewIngestor creates an ingestor. extensions filter which files are picked
// up when walking a directory (with leading dot, e.g. ".md"); empty means
// every extension the extractor supports.
func NewIngestor(memory MemoryWriter, chunker *Chunker, extensions []string, logger *zap.Logger) *Ingestor {
	extMap := make(map[string]bool, len(extensions))
	for _, ext := range extensions {
		extMap[ext] = true
	}
	return &Ingestor{
		memory:     memory,
		extractor:  extract.NewExtractor(),
		chunker:    chunker,
		extensions: extMap,
		logger:     logger,
	}
}

// IngestPath ingests a single file or every matching file under a directory.
func (g *Ingestor) IngestPath(ctx context.Context, path string) (*Report, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if !info.IsDir() {
		return g.ingestFiles(ctx, []string{path})
	}

	var files []string
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if g.wanted(p) {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", path, err)
	}
	return g.ingestFiles(ctx, files)
}

func (g *Ingestor) ingestFiles(ctx context.Context, files []string) (*Report, error) {
	report := &Report{}
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		text, err := g.extractor.Extract(file)
		if err != nil {
			g.logger.Warn("skipping document", zap.String("path", file), zap.Error(err))
			report.Skipped++
			continue
		}
		passages := g.chunker.Chunk(filepath.Base(file), text)
		if len(passages) == 0 {
			report.Skipped++
			continue
		}
		n, err := g.memory.IngestPassages(ctx, passages)
		if err != nil {
			return report, fmt.Errorf("ingest %s: %w", file, err)
		}
		report.Documents++
		report.Passages += n
		g.logger.Info("document ingested",
			zap.String("path", file), zap.Int("passages", n))
	}
	return report, nil
}

func (g *Ingestor) wanted(path string) bool {
	ext := filepath.Ext(path)
	if len(g.extensions) > 0 {
		return g.extensions[ext]
	}
	return g.extractor.Supported(ext)
}
