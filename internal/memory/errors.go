package memory

import (
	"errors"
	"fmt"
)

// ErrDegradedDurability marks an ingestion that committed to the record log
// but failed to persist the vector index to disk. The in-memory state is
// still consistent; a crash before the next successful save would lose the
// vector side of recent writes. Callers should log a warning and continue.
var ErrDegradedDurability = errors.New("vector index not persisted, durability degraded")

// ConsistencyError reports a record/vector count mismatch between the two
// persistence artifacts. It is fatal at startup: the stores are corrupted
// relative to each other and must not be silently repaired.
type ConsistencyError struct {
	Records int
	Vectors int
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("memory stores inconsistent: %d records vs %d vectors", e.Records, e.Vectors)
}
