package postgres_test

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/famconomy/linz-memory/internal/storage"
	"github.com/famconomy/linz-memory/internal/storage/postgres"
)

// newTestStore creates a store against the test database, or skips when
// POSTGRES_TEST_DSN is not set.
func newTestStore(t *testing.T) *postgres.RecordStore {
	t.Helper()

	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set; skipping PostgreSQL integration tests")
	}

	store, err := postgres.NewRecordStore(dsn)
	require.NoError(t, err, "NewRecordStore should succeed")

	// Each test starts from empty tables.
	for _, table := range []string{"short_term_records", "long_term_facts", "consolidation_summaries"} {
		_, err := store.GetDB().Exec("TRUNCATE " + table)
		require.NoError(t, err, "truncate %s", table)
	}

	t.Cleanup(func() {
		store.Close()
	})

	return store
}

func seedRecord(t *testing.T, store *postgres.RecordStore, rec storage.ShortTermRecord) int64 {
	t.Helper()

	var user interface{}
	if rec.UserID != nil {
		user = *rec.UserID
	}
	var consolidated interface{}
	if rec.ConsolidatedAt != nil {
		consolidated = rec.ConsolidatedAt.UTC()
	}
	kind := rec.Kind
	if kind == "" {
		kind = storage.KindConversation
	}

	var id int64
	err := store.GetDB().QueryRow(`
		INSERT INTO short_term_records (family_id, user_id, kind, speaker, payload, created_at, consolidated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, rec.FamilyID, user, string(kind), rec.Speaker, rec.Payload, rec.CreatedAt.UTC(), consolidated).Scan(&id)
	require.NoError(t, err, "seed record")
	return id
}

func strPtr(s string) *string { return &s }

var baseTime = time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

func TestPostgres_UpsertFactResolvesCompositeKey(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	fact := storage.LongTermFact{
		FamilyID:        42,
		UserID:          strPtr("u1"),
		Key:             "food.likes",
		Value:           json.RawMessage(`"pizza"`),
		Confidence:      0.8,
		Source:          "test",
		LastConfirmedAt: baseTime,
	}

	err := store.WithTx(ctx, func(tx storage.Tx) error {
		return tx.UpsertFact(ctx, fact)
	})
	require.NoError(t, err)

	fact.Value = json.RawMessage(`"sushi"`)
	err = store.WithTx(ctx, func(tx storage.Tx) error {
		return tx.UpsertFact(ctx, fact)
	})
	require.NoError(t, err)

	facts, err := store.FindFacts(ctx, 42, strPtr("u1"))
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.JSONEq(t, `"sushi"`, string(facts[0].Value))
}

func TestPostgres_NullUserCompositeKey(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// Two upserts of the same family-wide key must collapse to one row
	// even though user_id is NULL.
	for _, value := range []string{`"Lisbon"`, `"Porto"`} {
		err := store.WithTx(ctx, func(tx storage.Tx) error {
			return tx.UpsertFact(ctx, storage.LongTermFact{
				FamilyID: 1, Key: "home.city", Value: json.RawMessage(value),
				Confidence: 0.9, LastConfirmedAt: baseTime,
			})
		})
		require.NoError(t, err)
	}

	facts, err := store.FindFacts(ctx, 1, nil)
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.JSONEq(t, `"Porto"`, string(facts[0].Value))
}

func TestPostgres_MarkConsolidatedGuard(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id := seedRecord(t, store, storage.ShortTermRecord{FamilyID: 1, Payload: "r", CreatedAt: baseTime})

	err := store.WithTx(ctx, func(tx storage.Tx) error {
		n, err := tx.MarkConsolidated(ctx, []int64{id}, baseTime.Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		return nil
	})
	require.NoError(t, err)

	err = store.WithTx(ctx, func(tx storage.Tx) error {
		n, err := tx.MarkConsolidated(ctx, []int64{id}, baseTime.Add(2*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 0, n)
		return nil
	})
	require.NoError(t, err)
}

func TestPostgres_PurgeBoundary(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	marked := baseTime.Add(-time.Hour)
	seedRecord(t, store, storage.ShortTermRecord{FamilyID: 1, Payload: "old", CreatedAt: baseTime.Add(-7 * time.Hour), ConsolidatedAt: &marked})
	seedRecord(t, store, storage.ShortTermRecord{FamilyID: 1, Payload: "recent", CreatedAt: baseTime.Add(-5 * time.Hour), ConsolidatedAt: &marked})
	seedRecord(t, store, storage.ShortTermRecord{FamilyID: 1, Payload: "pending", CreatedAt: baseTime.Add(-100 * time.Hour)})

	n, err := store.PurgeConsolidated(ctx, baseTime.Add(-6*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.PendingRecords)
	assert.Equal(t, 1, stats.ConsolidatedRecords)
}
