package consolidate_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/famconomy/linz-memory/internal/storage"
	"github.com/famconomy/linz-memory/internal/storage/sqlite"
)

var baseTime = time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

func strPtr(s string) *string { return &s }

// newTestStore creates an in-memory SQLite store.
func newTestStore(t *testing.T) *sqlite.RecordStore {
	t.Helper()

	store, err := sqlite.NewRecordStore(":memory:")
	require.NoError(t, err)

	t.Cleanup(func() {
		store.Close()
	})

	return store
}

// seedRecord inserts a short-term record directly and returns its ID.
func seedRecord(t *testing.T, store *sqlite.RecordStore, rec storage.ShortTermRecord) int64 {
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

	result, err := store.GetDB().Exec(`
		INSERT INTO short_term_records (family_id, user_id, kind, speaker, payload, created_at, consolidated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, rec.FamilyID, user, string(kind), rec.Speaker, rec.Payload, rec.CreatedAt.UTC(), consolidated)
	require.NoError(t, err, "seed record")

	id, err := result.LastInsertId()
	require.NoError(t, err)
	return id
}

// scriptedGenerator returns queued responses in order, one per Complete call.
type scriptedGenerator struct {
	responses []string
	err       error
	calls     int
}

func (g *scriptedGenerator) Complete(_ context.Context, _ string) (string, error) {
	g.calls++
	if g.err != nil {
		return "", g.err
	}
	if len(g.responses) == 0 {
		return "", errors.New("scripted generator exhausted")
	}
	resp := g.responses[0]
	g.responses = g.responses[1:]
	return resp, nil
}

func (g *scriptedGenerator) GetModel() string { return "scripted" }

// summaryFailStore wraps a store so every InsertSummary inside a
// transaction fails, for atomicity tests.
type summaryFailStore struct {
	storage.RecordStore
}

func (s *summaryFailStore) WithTx(ctx context.Context, fn func(tx storage.Tx) error) error {
	return s.RecordStore.WithTx(ctx, func(tx storage.Tx) error {
		return fn(&summaryFailTx{tx})
	})
}

type summaryFailTx struct {
	storage.Tx
}

func (t *summaryFailTx) InsertSummary(context.Context, storage.ConsolidationSummary) error {
	return errors.New("simulated summary insert failure")
}

// countRows counts rows matching a raw query against the test store.
func countRows(t *testing.T, store *sqlite.RecordStore, query string, args ...interface{}) int {
	t.Helper()
	var count int
	require.NoError(t, store.GetDB().QueryRow(query, args...).Scan(&count))
	return count
}
