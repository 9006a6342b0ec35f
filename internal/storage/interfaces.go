// Package storage provides composable storage interfaces for the LinZ
// memory consolidation service.
//
// The storage layer is designed with small, focused interfaces that can be
// implemented independently. Two backends are provided: PostgreSQL for
// production and SQLite for development and tests.
package storage

import (
	"context"
	"time"
)

// RecordStore is the transactional interface the consolidation job reads
// and writes through. The surrounding application owns the tables; this
// service only ever touches short-term records, long-term facts, and
// consolidation summaries.
type RecordStore interface {
	// FindUnconsolidated returns conversation records with no consolidation
	// timestamp created at or after since, ordered ascending by creation
	// time, capped at limit rows (limit <= 0 means no cap).
	FindUnconsolidated(ctx context.Context, since time.Time, limit int) ([]ShortTermRecord, error)

	// FindMemoryRecords returns all memory-kind records regardless of age,
	// ordered ascending by creation time. Memory records are standing notes
	// and are always eligible for batching.
	FindMemoryRecords(ctx context.Context) ([]ShortTermRecord, error)

	// FindFacts returns the long-term facts for one (family, user-or-null)
	// pair, ordered by key. A nil userID selects family-wide facts only.
	FindFacts(ctx context.Context, familyID int64, userID *string) ([]LongTermFact, error)

	// WithTx runs fn inside a single database transaction. If fn returns an
	// error the transaction is rolled back and the error is returned;
	// otherwise the transaction commits. All of a batch's reconciliation
	// writes go through one WithTx call.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// PurgeConsolidated permanently deletes consolidated records created at
	// or before cutoff. Unconsolidated records are never deleted regardless
	// of age. Returns the number of rows removed.
	PurgeConsolidated(ctx context.Context, cutoff time.Time) (int, error)

	// Stats returns row counts for operational logging.
	Stats(ctx context.Context) (StoreStats, error)

	// Close releases any resources held by the store.
	Close() error
}

// Tx is the write surface available inside a reconciliation transaction.
type Tx interface {
	// UpsertFact creates or overwrites the fact identified by its
	// (family, user-or-null, key) composite key. On conflict the value,
	// confidence, source, and last-confirmed timestamp are replaced.
	UpsertFact(ctx context.Context, fact LongTermFact) error

	// InsertSummary appends one consolidation summary row.
	InsertSummary(ctx context.Context, summary ConsolidationSummary) error

	// MarkConsolidated sets consolidated_at = now on the given record IDs.
	// Records already consolidated (for example by an overlapping run) are
	// left untouched. Returns the number of rows actually marked.
	MarkConsolidated(ctx context.Context, ids []int64, now time.Time) (int, error)
}
