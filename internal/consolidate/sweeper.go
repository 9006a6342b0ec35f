package consolidate

import (
	"context"
	"time"

	"github.com/famconomy/linz-memory/internal/storage"
)

// Sweeper purges consolidated records once they age past the retention
// window. Unconsolidated records are never deleted regardless of age; they
// must be processed first.
type Sweeper struct {
	store storage.RecordStore
}

// NewSweeper creates a sweeper over the given store.
func NewSweeper(store storage.RecordStore) *Sweeper {
	return &Sweeper{store: store}
}

// Sweep deletes consolidated records created at or before now - retention.
// Returns the number of rows removed. Sweep failures are logged by the
// caller and never fail the job as a whole.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time, retention time.Duration) (int, error) {
	cutoff := now.Add(-retention)
	return s.store.PurgeConsolidated(ctx, cutoff)
}
