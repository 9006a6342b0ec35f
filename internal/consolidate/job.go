package consolidate

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/famconomy/linz-memory/internal/extract"
	"github.com/famconomy/linz-memory/internal/storage"
)

// Config holds the job cycle parameters. All values are externally
// supplied; there is no hidden cross-invocation state.
type Config struct {
	// LookbackWindow bounds which unconsolidated conversation records are
	// eligible this cycle.
	LookbackWindow time.Duration

	// MaxRecords caps how many conversation records one cycle selects.
	// Zero means no cap.
	MaxRecords int

	// Retention is the minimum age, after consolidation, before a record
	// may be purged.
	Retention time.Duration
}

// DefaultConfig returns the standard cycle parameters: 24h lookback,
// 200-record cap, 72h retention.
func DefaultConfig() Config {
	return Config{
		LookbackWindow: 24 * time.Hour,
		MaxRecords:     200,
		Retention:      72 * time.Hour,
	}
}

// RunStats summarizes one job invocation for logs and tests.
type RunStats struct {
	RunID         string
	Batches       int
	Succeeded     int
	Failed        int
	FactsWritten  int
	RecordsPurged int
}

// Job is the consolidation job entry point. It is scheduler-agnostic: an
// external timer (or the linz-consolidate binary) invokes Run once per
// cycle. Failed batches are retried implicitly by recurrence — their
// records remain pending and are re-selected next cycle.
type Job struct {
	store      storage.RecordStore
	client     *extract.Client
	reconciler *Reconciler
	sweeper    *Sweeper
	cfg        Config
}

// NewJob wires a job from its collaborators.
func NewJob(store storage.RecordStore, client *extract.Client, cfg Config) *Job {
	return &Job{
		store:      store,
		client:     client,
		reconciler: NewReconciler(store),
		sweeper:    NewSweeper(store),
		cfg:        cfg,
	}
}

// Run executes one consolidation cycle. The now parameter pins the cycle's
// clock for deterministic tests; pass the zero time to use the wall clock.
//
// A missing model credential aborts the cycle before any batch work. Batch
// failures are logged with the offending family/user and do not abort the
// loop; partial success is the expected steady state. The sweeper runs
// last and its failure never rolls back committed reconciliations.
func (j *Job) Run(ctx context.Context, now time.Time) (RunStats, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}

	stats := RunStats{RunID: uuid.NewString()}

	if !j.client.Ready() {
		return stats, extract.ErrNoCredential
	}

	batches, err := SelectBatches(ctx, j.store, now, j.cfg.LookbackWindow, j.cfg.MaxRecords)
	if err != nil {
		return stats, fmt.Errorf("consolidate: batch selection failed: %w", err)
	}
	stats.Batches = len(batches)

	for _, batch := range batches {
		written, err := j.runBatch(ctx, stats.RunID, batch, now)
		if err != nil {
			stats.Failed++
			log.Printf("consolidate: batch failed (family=%d user=%s): %v", batch.FamilyID, batch.UserLabel(), err)
			continue
		}
		stats.Succeeded++
		stats.FactsWritten += written
	}

	purged, err := j.sweeper.Sweep(ctx, now, j.cfg.Retention)
	if err != nil {
		log.Printf("consolidate: purge failed: %v", err)
	} else {
		stats.RecordsPurged = purged
	}

	log.Printf("consolidate: run %s done: batches=%d succeeded=%d failed=%d facts=%d purged=%d",
		stats.RunID, stats.Batches, stats.Succeeded, stats.Failed, stats.FactsWritten, stats.RecordsPurged)

	return stats, nil
}

// runBatch extracts and reconciles a single batch.
func (j *Job) runBatch(ctx context.Context, runID string, batch Batch, now time.Time) (int, error) {
	facts, err := j.store.FindFacts(ctx, batch.FamilyID, batch.UserID)
	if err != nil {
		return 0, err
	}

	result, err := j.client.Extract(ctx, batch.Records, facts)
	if err != nil {
		return 0, err
	}

	return j.reconciler.Reconcile(ctx, runID, batch, result, now)
}
