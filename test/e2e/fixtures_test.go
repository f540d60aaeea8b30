package e2e

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hyperjump/kaiwa/internal/extract"
)

func TestMinimalFilesAreExtractable(t *testing.T) {
	dir := t.TempDir()
	for _, ext := range FixtureExtensions {
		t.Run(ext, func(t *testing.T) {
			path := filepath.Join(dir, "fixture"+ext)
			if err := os.WriteFile(path, MinimalFile(ext, "hello fixture"), 0644); err != nil {
				t.Fatal(err)
			}
			text, err := extract.NewExtractor().Extract(path)
			if err != nil {
				t.Fatalf("extract %s: %v", ext, err)
			}
			if !strings.Contains(text, "hello fixture") {
				t.Errorf("extracted %q, want it to contain the fixture text", text)
			}
		})
	}
}
