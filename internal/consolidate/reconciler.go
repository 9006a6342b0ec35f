package consolidate

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/famconomy/linz-memory/internal/extract"
	"github.com/famconomy/linz-memory/internal/storage"
)

const (
	// defaultConfidence is used when the model omits a fact's confidence.
	defaultConfidence = 0.9

	// provenanceTag marks facts written by consolidation.
	provenanceTag = "linz.consolidation"
)

// Reconciler commits one batch's extraction result: fact upserts, the audit
// summary, and consolidation marking, all inside a single transaction.
type Reconciler struct {
	store storage.RecordStore
}

// NewReconciler creates a reconciler over the given store.
func NewReconciler(store storage.RecordStore) *Reconciler {
	return &Reconciler{store: store}
}

// Reconcile atomically applies result to the batch. New and updated facts
// are treated uniformly as upserts on the (family, user-or-null, key)
// composite key. A failure in any step rolls the whole batch back: no facts
// without a summary, no summary without the source records marked. Returns
// the number of facts written.
func (r *Reconciler) Reconcile(ctx context.Context, runID string, batch Batch, result *extract.Result, now time.Time) (int, error) {
	facts := result.AllFacts()

	err := r.store.WithTx(ctx, func(tx storage.Tx) error {
		for _, candidate := range facts {
			fact := storage.LongTermFact{
				FamilyID:        batch.FamilyID,
				UserID:          factUser(candidate, batch),
				Key:             candidate.Key,
				Value:           candidate.Value,
				Confidence:      defaultConfidence,
				Source:          provenanceTag,
				LastConfirmedAt: now,
			}
			if candidate.Confidence != nil {
				fact.Confidence = *candidate.Confidence
			}
			if err := tx.UpsertFact(ctx, fact); err != nil {
				return err
			}
		}

		summary := storage.ConsolidationSummary{
			ID:             uuid.NewString(),
			RunID:          runID,
			FamilyID:       batch.FamilyID,
			UserID:         batch.UserID,
			Summary:        result.Summary,
			Tags:           summaryTags(result),
			LatestRecordAt: batch.LatestRecordAt(now),
			CreatedAt:      now,
		}
		if err := tx.InsertSummary(ctx, summary); err != nil {
			return err
		}

		_, err := tx.MarkConsolidated(ctx, batch.ConversationIDs(), now)
		return err
	})
	if err != nil {
		return 0, err
	}
	return len(facts), nil
}

// factUser resolves the user a fact is about: the model's userId when it
// supplied one, otherwise the batch's user.
func factUser(candidate extract.FactCandidate, batch Batch) *string {
	if candidate.UserID != nil {
		return candidate.UserID
	}
	return batch.UserID
}

// summaryTags returns the model's tags when present, otherwise tags derived
// from fact key prefixes ("food.likes" contributes "food"), deduplicated
// and sorted.
func summaryTags(result *extract.Result) []string {
	if len(result.Tags) > 0 {
		return result.Tags
	}

	seen := make(map[string]bool)
	var tags []string
	for _, fact := range result.AllFacts() {
		prefix, _, _ := strings.Cut(fact.Key, ".")
		if prefix == "" || seen[prefix] {
			continue
		}
		seen[prefix] = true
		tags = append(tags, prefix)
	}
	sort.Strings(tags)
	return tags
}
