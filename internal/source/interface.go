package source

import (
	"context"

	"github.com/tobyh/feedvault/internal/domain"
)

// Collector is the boundary to the platform scrapers. How a collector
// turns a page into normalized records is its own business; the
// pipeline only consumes batches.
type Collector interface {
	// SourceID returns the stable identifier for this collector.
	SourceID() string

	// NextBatch returns the next batch of collected records, or nil
	// when the collector is exhausted.
	NextBatch(ctx context.Context) (*domain.Batch, error)
}
