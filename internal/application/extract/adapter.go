package extract

import (
	"context"

	"github.com/techmart/pipeline/internal/domain/record"
)

// Result carries one source's extraction output: the canonical records that
// parsed cleanly and the quarantined rejects. A single bad record never
// fails the extraction; source-level failures are returned as errors.
type Result struct {
	Records  []record.CanonicalRecord
	Rejected []record.RejectedRecord
}

// SourceAdapter normalizes one upstream source into canonical records.
type SourceAdapter interface {
	// Source identifies the adapter's provenance tag.
	Source() record.SourceTag
	// Extract pulls the source and converts it. Record-level failures land
	// in Result.Rejected; only source-level failures (missing file,
	// exhausted retry budget) return a non-nil error.
	Extract(ctx context.Context) (Result, error)
}
