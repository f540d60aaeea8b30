// Package e2e provides end-to-end tests; this file builds minimal files for supported types.
package e2e

import (
	"archive/zip"
	"bytes"

	"github.com/xuri/excelize/v2"
)

// FixtureExtensions is the list of file extensions used in the file-based
// ingestion tests. Covers plain text (.txt, .md) and OOXML (.docx, .xlsx).
// PDF is not generated here; there is no minimal PDF with extractable text.
var FixtureExtensions = []string{".txt", ".md", ".docx", ".xlsx"}

// MinimalFile returns the bytes of a minimal file of the given extension
// containing the given text.
func MinimalFile(ext, text string) []byte {
	switch ext {
	case ".docx":
		return minimalDocx(text)
	case ".xlsx":
		return minimalXlsx(text)
	default:
		return []byte(text)
	}
}

func minimalDocx(text string) []byte {
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	fw, _ := w.Create("word/document.xml")
	_, _ = fw.Write([]byte(`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body><w:p><w:r><w:t>` + text + `</w:t></w:r></w:p></w:body></w:document>`))
	_ = w.Close()
	return buf.Bytes()
}

func minimalXlsx(text string) []byte {
	f := excelize.NewFile()
	defer f.Close()
	f.SetCellValue("Sheet1", "A1", text)
	var buf bytes.Buffer
	_, _ = f.WriteTo(&buf)
	return buf.Bytes()
}
