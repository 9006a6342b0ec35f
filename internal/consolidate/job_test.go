package consolidate_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/famconomy/linz-memory/internal/consolidate"
	"github.com/famconomy/linz-memory/internal/extract"
	"github.com/famconomy/linz-memory/internal/storage"
)

func testConfig() consolidate.Config {
	return consolidate.Config{
		LookbackWindow: 24 * time.Hour,
		MaxRecords:     200,
		Retention:      6 * time.Hour,
	}
}

func newJob(store storage.RecordStore, gen *scriptedGenerator) *consolidate.Job {
	return consolidate.NewJob(store, extract.NewClient(gen), testConfig())
}

func TestJob_EndToEnd(t *testing.T) {
	store := newTestStore(t)
	now := baseTime

	r1 := seedRecord(t, store, storage.ShortTermRecord{
		FamilyID: 42, UserID: strPtr("u1"), Speaker: "u1",
		Payload: `{"text": "likes pizza"}`, CreatedAt: now.Add(-2 * time.Hour),
	})
	r2 := seedRecord(t, store, storage.ShortTermRecord{
		FamilyID: 42, UserID: strPtr("u1"), Speaker: "u1",
		Payload: "allergic to peanuts", CreatedAt: now.Add(-time.Hour),
	})

	gen := &scriptedGenerator{responses: []string{`{
		"new_facts": [
			{"key": "food.likes", "value": "pizza", "confidence": 0.8, "userId": "u1"},
			{"key": "allergy.peanuts", "value": true, "confidence": 0.95, "userId": "u1"}
		],
		"updated_facts": [],
		"summary": "Discussed food preferences and allergy."
	}`}}

	stats, err := newJob(store, gen).Run(context.Background(), now)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Batches)
	assert.Equal(t, 1, stats.Succeeded)
	assert.Equal(t, 0, stats.Failed)
	assert.Equal(t, 2, stats.FactsWritten)

	// Exactly two fact rows under the expected composite keys.
	facts, err := store.FindFacts(context.Background(), 42, strPtr("u1"))
	require.NoError(t, err)
	require.Len(t, facts, 2)
	assert.Equal(t, "allergy.peanuts", facts[0].Key)
	assert.JSONEq(t, `true`, string(facts[0].Value))
	assert.Equal(t, "food.likes", facts[1].Key)
	assert.JSONEq(t, `"pizza"`, string(facts[1].Value))
	assert.Equal(t, "linz.consolidation", facts[1].Source)

	// One summary row carrying the model's sentence.
	var summary string
	var latest time.Time
	require.NoError(t, store.GetDB().QueryRow(
		"SELECT summary, latest_record_at FROM consolidation_summaries WHERE run_id = ?",
		stats.RunID,
	).Scan(&summary, &latest))
	assert.Equal(t, "Discussed food preferences and allergy.", summary)
	assert.True(t, latest.Equal(now.Add(-time.Hour)), "latest record timestamp from the batch")

	// Both source records transitioned to consolidated.
	for _, id := range []int64{r1, r2} {
		n := countRows(t, store, "SELECT COUNT(*) FROM short_term_records WHERE id = ? AND consolidated_at IS NOT NULL", id)
		assert.Equal(t, 1, n, "record %d should be consolidated", id)
	}
}

func TestJob_MissingCredentialAbortsCycle(t *testing.T) {
	store := newTestStore(t)
	seedRecord(t, store, storage.ShortTermRecord{FamilyID: 1, Payload: "r", CreatedAt: baseTime})

	job := consolidate.NewJob(store, extract.NewClient(nil), testConfig())

	_, err := job.Run(context.Background(), baseTime)
	assert.ErrorIs(t, err, extract.ErrNoCredential)

	// No batch work happened.
	n := countRows(t, store, "SELECT COUNT(*) FROM short_term_records WHERE consolidated_at IS NOT NULL")
	assert.Equal(t, 0, n)
}

func TestJob_ValidationFailureSkipsBatchWithoutMutation(t *testing.T) {
	store := newTestStore(t)
	now := baseTime

	seedRecord(t, store, storage.ShortTermRecord{FamilyID: 1, Payload: "r", CreatedAt: now.Add(-time.Hour)})

	// Missing summary: contract violation.
	gen := &scriptedGenerator{responses: []string{`{"new_facts": [{"key": "k", "value": 1}], "updated_facts": []}`}}

	stats, err := newJob(store, gen).Run(context.Background(), now)
	require.NoError(t, err, "batch errors do not fail the job")

	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 0, stats.Succeeded)
	assert.Equal(t, 0, countRows(t, store, "SELECT COUNT(*) FROM long_term_facts"))
	assert.Equal(t, 0, countRows(t, store, "SELECT COUNT(*) FROM consolidation_summaries"))
	assert.Equal(t, 0, countRows(t, store, "SELECT COUNT(*) FROM short_term_records WHERE consolidated_at IS NOT NULL"))
}

func TestJob_BatchFailureIsIsolated(t *testing.T) {
	store := newTestStore(t)
	now := baseTime

	// Batches run in deterministic order: family 1 first, then family 2.
	seedRecord(t, store, storage.ShortTermRecord{FamilyID: 1, Payload: "r", CreatedAt: now.Add(-time.Hour)})
	seedRecord(t, store, storage.ShortTermRecord{FamilyID: 2, Payload: "r", CreatedAt: now.Add(-time.Hour)})

	gen := &scriptedGenerator{responses: []string{
		"not json at all",
		`{"new_facts": [{"key": "home.pet", "value": "dog"}], "updated_facts": [], "summary": "Pets."}`,
	}}

	stats, err := newJob(store, gen).Run(context.Background(), now)
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Batches)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 1, stats.Succeeded)

	// Family 2's facts landed despite family 1's failure.
	facts, err := store.FindFacts(context.Background(), 2, nil)
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.Equal(t, "home.pet", facts[0].Key)
}

func TestJob_NoPartialCommit(t *testing.T) {
	inner := newTestStore(t)
	store := &summaryFailStore{RecordStore: inner}
	now := baseTime

	seedRecord(t, inner, storage.ShortTermRecord{FamilyID: 1, Payload: "r", CreatedAt: now.Add(-time.Hour)})

	gen := &scriptedGenerator{responses: []string{
		`{"new_facts": [{"key": "home.pet", "value": "dog"}], "updated_facts": [], "summary": "Pets."}`,
	}}

	stats, err := consolidate.NewJob(store, extract.NewClient(gen), testConfig()).Run(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)

	// The forced summary failure rolled back the whole batch: no facts,
	// no summary, nothing marked consolidated.
	assert.Equal(t, 0, countRows(t, inner, "SELECT COUNT(*) FROM long_term_facts"))
	assert.Equal(t, 0, countRows(t, inner, "SELECT COUNT(*) FROM consolidation_summaries"))
	assert.Equal(t, 0, countRows(t, inner, "SELECT COUNT(*) FROM short_term_records WHERE consolidated_at IS NOT NULL"))
}

func TestJob_IdempotentUpsertAcrossRuns(t *testing.T) {
	store := newTestStore(t)

	seedRecord(t, store, storage.ShortTermRecord{FamilyID: 1, UserID: strPtr("u1"), Payload: "r1", CreatedAt: baseTime.Add(-2 * time.Hour)})

	gen := &scriptedGenerator{responses: []string{
		`{"new_facts": [{"key": "food.likes", "value": "pizza", "userId": "u1"}], "updated_facts": [], "summary": "s1"}`,
		`{"new_facts": [], "updated_facts": [{"key": "food.likes", "value": "sushi", "confidence": 0.7, "userId": "u1"}], "summary": "s2"}`,
	}}
	job := newJob(store, gen)

	_, err := job.Run(context.Background(), baseTime)
	require.NoError(t, err)

	// New pending record for the second cycle.
	seedRecord(t, store, storage.ShortTermRecord{FamilyID: 1, UserID: strPtr("u1"), Payload: "r2", CreatedAt: baseTime.Add(-time.Hour)})

	_, err = job.Run(context.Background(), baseTime.Add(time.Hour))
	require.NoError(t, err)

	// Same composite key twice: exactly one row, most recent value wins.
	facts, err := store.FindFacts(context.Background(), 1, strPtr("u1"))
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.JSONEq(t, `"sushi"`, string(facts[0].Value))
	assert.InEpsilon(t, 0.7, facts[0].Confidence, 1e-9)
	assert.True(t, facts[0].LastConfirmedAt.Equal(baseTime.Add(time.Hour)))
}

func TestJob_DefaultConfidenceAndDerivedTags(t *testing.T) {
	store := newTestStore(t)

	seedRecord(t, store, storage.ShortTermRecord{FamilyID: 1, Payload: "r", CreatedAt: baseTime.Add(-time.Hour)})

	gen := &scriptedGenerator{responses: []string{
		`{"new_facts": [{"key": "food.likes", "value": "pizza"}, {"key": "allergy.peanuts", "value": true}], "updated_facts": [], "summary": "s"}`,
	}}

	_, err := newJob(store, gen).Run(context.Background(), baseTime)
	require.NoError(t, err)

	facts, err := store.FindFacts(context.Background(), 1, nil)
	require.NoError(t, err)
	require.Len(t, facts, 2)
	assert.InEpsilon(t, 0.9, facts[1].Confidence, 1e-9, "default confidence when the model omits it")

	var tags string
	require.NoError(t, store.GetDB().QueryRow("SELECT tags FROM consolidation_summaries").Scan(&tags))
	assert.JSONEq(t, `["allergy", "food"]`, tags, "tags derived from fact key prefixes")
}

func TestJob_MemoryRecordsAreReadOnlyContext(t *testing.T) {
	store := newTestStore(t)

	memory := seedRecord(t, store, storage.ShortTermRecord{FamilyID: 1, Kind: storage.KindMemory, Payload: "standing note", CreatedAt: baseTime.Add(-300 * time.Hour)})
	conversation := seedRecord(t, store, storage.ShortTermRecord{FamilyID: 1, Payload: "talk", CreatedAt: baseTime.Add(-time.Hour)})

	gen := &scriptedGenerator{responses: []string{
		`{"new_facts": [], "updated_facts": [], "summary": "s"}`,
	}}

	_, err := newJob(store, gen).Run(context.Background(), baseTime)
	require.NoError(t, err)

	assert.Equal(t, 1, countRows(t, store, "SELECT COUNT(*) FROM short_term_records WHERE id = ? AND consolidated_at IS NOT NULL", conversation))
	assert.Equal(t, 0, countRows(t, store, "SELECT COUNT(*) FROM short_term_records WHERE id = ? AND consolidated_at IS NOT NULL", memory),
		"memory records are never marked consolidated")

	// And never purged, no matter the age.
	_, err = newJob(store, &scriptedGenerator{responses: []string{`{"new_facts": [], "updated_facts": [], "summary": "s"}`}}).Run(context.Background(), baseTime.Add(100*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, countRows(t, store, "SELECT COUNT(*) FROM short_term_records WHERE id = ?", memory))
}

func TestJob_SweepsConsolidatedPastRetention(t *testing.T) {
	store := newTestStore(t)
	now := baseTime

	marked := now.Add(-7 * time.Hour)
	old := seedRecord(t, store, storage.ShortTermRecord{FamilyID: 1, Payload: "old", CreatedAt: now.Add(-8 * time.Hour), ConsolidatedAt: &marked})

	gen := &scriptedGenerator{}

	stats, err := newJob(store, gen).Run(context.Background(), now)
	require.NoError(t, err)

	assert.Equal(t, 0, stats.Batches, "nothing pending")
	assert.Equal(t, 1, stats.RecordsPurged)
	assert.Equal(t, 0, countRows(t, store, "SELECT COUNT(*) FROM short_term_records WHERE id = ?", old))
}

func TestSweeper_RetentionBoundary(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := baseTime

	marked := now.Add(-time.Hour)
	pastWindow := seedRecord(t, store, storage.ShortTermRecord{FamilyID: 1, Payload: "a", CreatedAt: now.Add(-6*time.Hour - time.Minute), ConsolidatedAt: &marked})
	inWindow := seedRecord(t, store, storage.ShortTermRecord{FamilyID: 1, Payload: "b", CreatedAt: now.Add(-6*time.Hour + time.Minute), ConsolidatedAt: &marked})

	sweeper := consolidate.NewSweeper(store)
	n, err := sweeper.Sweep(ctx, now, 6*time.Hour)
	require.NoError(t, err)

	assert.Equal(t, 1, n)
	assert.Equal(t, 0, countRows(t, store, "SELECT COUNT(*) FROM short_term_records WHERE id = ?", pastWindow))
	assert.Equal(t, 1, countRows(t, store, "SELECT COUNT(*) FROM short_term_records WHERE id = ?", inWindow))
}

func TestJob_ZeroNowUsesWallClock(t *testing.T) {
	store := newTestStore(t)

	seedRecord(t, store, storage.ShortTermRecord{FamilyID: 1, Payload: "r", CreatedAt: time.Now().UTC().Add(-time.Minute)})

	gen := &scriptedGenerator{responses: []string{`{"new_facts": [], "updated_facts": [], "summary": "s"}`}}

	stats, err := newJob(store, gen).Run(context.Background(), time.Time{})
	require.NoError(t, err)
	assert.NotEmpty(t, stats.RunID)
	assert.Equal(t, 1, stats.Succeeded)
}

// Interface check: the failing wrapper still satisfies RecordStore.
var _ storage.RecordStore = (*summaryFailStore)(nil)
