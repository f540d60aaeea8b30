package vector

import "fmt"

// IndexType selects the vector index implementation.
type IndexType string

const (
	// IndexTypeFlat uses in-memory brute-force search. Good for small datasets (<100k vectors).
	IndexTypeFlat IndexType = "flat"
	// IndexTypeFAISS uses FAISS IndexFlatIP. Requires the FAISS library and -tags=faiss.
	IndexTypeFAISS IndexType = "faiss"
)

// New creates a vector index of the specified type.
// Supported types: "flat" (default), "faiss".
func New(indexType string, dimensions int) (Index, error) {
	switch IndexType(indexType) {
	case IndexTypeFlat, "":
		return NewFlatIndex(dimensions)
	case IndexTypeFAISS:
		return NewFAISSIndex(dimensions)
	default:
		return nil, fmt.Errorf("unknown index type: %s (supported: flat, faiss)", indexType)
	}
}

// IsFAISSAvailable reports whether FAISS support is compiled in (-tags=faiss).
func IsFAISSAvailable() bool {
	idx, err := NewFAISSIndex(1)
	if err != nil {
		return false
	}
	_ = idx.Close()
	return true
}
