// Package consolidate implements the LinZ memory consolidation job: group
// unconsolidated short-term records into per-(family, user) batches, run
// fact extraction for each, reconcile the results into long-term facts
// atomically, and purge consolidated records past the retention window.
//
// The job is best-effort across batches and atomic within a batch. A failed
// batch is logged and skipped; its records stay pending and are retried by
// the next scheduled cycle.
package consolidate

import (
	"context"
	"sort"
	"time"

	"github.com/famconomy/linz-memory/internal/storage"
)

// Batch is the unit of consolidation work: one (family, user-or-null) pair
// and its creation-time-ordered records for one job cycle. Transient; never
// persisted.
type Batch struct {
	FamilyID int64
	UserID   *string
	Records  []storage.ShortTermRecord
}

// ConversationIDs returns the IDs of the batch's conversation records.
// Memory-kind records are read-only context and are excluded: they are
// never marked consolidated.
func (b *Batch) ConversationIDs() []int64 {
	var ids []int64
	for _, rec := range b.Records {
		if rec.Kind == storage.KindConversation {
			ids = append(ids, rec.ID)
		}
	}
	return ids
}

// LatestRecordAt returns the most recent creation time among the batch's
// conversation records, or fallback when the batch has none.
func (b *Batch) LatestRecordAt(fallback time.Time) time.Time {
	latest := time.Time{}
	for _, rec := range b.Records {
		if rec.Kind == storage.KindConversation && rec.CreatedAt.After(latest) {
			latest = rec.CreatedAt
		}
	}
	if latest.IsZero() {
		return fallback
	}
	return latest
}

// UserLabel renders the batch's user for log lines.
func (b *Batch) UserLabel() string {
	if b.UserID == nil {
		return "family-wide"
	}
	return *b.UserID
}

// batchKey groups records. A nil user maps to ok=false, which is a distinct
// key from every concrete user of the same family.
type batchKey struct {
	familyID int64
	userID   string
	hasUser  bool
}

// SelectBatches loads the cycle's candidate groups: conversation records
// with no consolidation timestamp created within the lookback window
// (capped at limit rows), plus all memory-kind records regardless of age.
// Records are grouped by (family, user-or-null) and ordered ascending by
// creation time within each batch. Read-only; a storage failure propagates
// and no partial result is returned.
func SelectBatches(ctx context.Context, store storage.RecordStore, now time.Time, window time.Duration, limit int) ([]Batch, error) {
	since := now.Add(-window)

	conversations, err := store.FindUnconsolidated(ctx, since, limit)
	if err != nil {
		return nil, err
	}

	memories, err := store.FindMemoryRecords(ctx)
	if err != nil {
		return nil, err
	}

	groups := make(map[batchKey][]storage.ShortTermRecord)
	for _, rec := range append(conversations, memories...) {
		key := batchKey{familyID: rec.FamilyID}
		if rec.UserID != nil {
			key.userID = *rec.UserID
			key.hasUser = true
		}
		groups[key] = append(groups[key], rec)
	}

	batches := make([]Batch, 0, len(groups))
	for key, records := range groups {
		sort.SliceStable(records, func(i, j int) bool {
			if records[i].CreatedAt.Equal(records[j].CreatedAt) {
				return records[i].ID < records[j].ID
			}
			return records[i].CreatedAt.Before(records[j].CreatedAt)
		})

		batch := Batch{FamilyID: key.familyID, Records: records}
		if key.hasUser {
			user := key.userID
			batch.UserID = &user
		}
		batches = append(batches, batch)
	}

	// Deterministic batch order: family ascending, family-wide batch before
	// user batches, users ascending.
	sort.Slice(batches, func(i, j int) bool {
		if batches[i].FamilyID != batches[j].FamilyID {
			return batches[i].FamilyID < batches[j].FamilyID
		}
		if (batches[i].UserID == nil) != (batches[j].UserID == nil) {
			return batches[i].UserID == nil
		}
		if batches[i].UserID == nil {
			return false
		}
		return *batches[i].UserID < *batches[j].UserID
	})

	return batches, nil
}
