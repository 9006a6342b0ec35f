package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/famconomy/linz-memory/internal/storage"
)

// RecordStore implements storage.RecordStore using SQLite.
type RecordStore struct {
	db *sql.DB
}

// NewRecordStore opens (or creates) the SQLite database at dsn and applies
// the schema. Use ":memory:" for an ephemeral store in tests.
func NewRecordStore(dsn string) (*RecordStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to open database: %w", err)
	}

	// SQLite allows one writer; a single connection avoids database-locked
	// errors under the sequential batch loop.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: failed to ping database: %w", err)
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: failed to apply schema: %w", err)
	}

	return &RecordStore{db: db}, nil
}

// GetDB returns the underlying database connection. Tests use it to seed
// rows directly.
func (s *RecordStore) GetDB() *sql.DB {
	return s.db
}

// Close releases the database connection.
func (s *RecordStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

const recordColumns = "id, family_id, user_id, kind, speaker, payload, created_at, consolidated_at"

// FindUnconsolidated returns pending conversation records created at or
// after since, oldest first, capped at limit rows.
func (s *RecordStore) FindUnconsolidated(ctx context.Context, since time.Time, limit int) ([]storage.ShortTermRecord, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM short_term_records
		WHERE kind = ? AND consolidated_at IS NULL AND created_at >= ?
		ORDER BY created_at ASC, id ASC
	`
	args := []interface{}{string(storage.KindConversation), since.UTC()}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to query unconsolidated records: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// FindMemoryRecords returns all standing memory notes regardless of age,
// oldest first.
func (s *RecordStore) FindMemoryRecords(ctx context.Context) ([]storage.ShortTermRecord, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM short_term_records
		WHERE kind = ?
		ORDER BY created_at ASC, id ASC
	`
	rows, err := s.db.QueryContext(ctx, query, string(storage.KindMemory))
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to query memory records: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// FindFacts returns long-term facts for one (family, user-or-null) pair,
// ordered by key. A nil userID selects family-wide facts only.
func (s *RecordStore) FindFacts(ctx context.Context, familyID int64, userID *string) ([]storage.LongTermFact, error) {
	query := `
		SELECT family_id, user_id, key, value, confidence, source, last_confirmed_at
		FROM long_term_facts
		WHERE family_id = ? AND COALESCE(user_id, '') = COALESCE(?, '')
		ORDER BY key ASC
	`
	rows, err := s.db.QueryContext(ctx, query, familyID, nullableString(userID))
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to query facts: %w", err)
	}
	defer rows.Close()

	var facts []storage.LongTermFact
	for rows.Next() {
		var fact storage.LongTermFact
		var user sql.NullString
		var value string
		if err := rows.Scan(&fact.FamilyID, &user, &fact.Key, &value, &fact.Confidence, &fact.Source, &fact.LastConfirmedAt); err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan fact: %w", err)
		}
		if user.Valid {
			fact.UserID = &user.String
		}
		fact.Value = json.RawMessage(value)
		facts = append(facts, fact)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: fact rows iteration failed: %w", err)
	}
	return facts, nil
}

// WithTx runs fn inside one SQLite transaction.
func (s *RecordStore) WithTx(ctx context.Context, fn func(tx storage.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: failed to begin transaction: %w", err)
	}

	if err := fn(&recordTx{tx: sqlTx}); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil {
			return fmt.Errorf("sqlite: rollback failed (%v) after error: %w", rbErr, err)
		}
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("sqlite: failed to commit transaction: %w", err)
	}
	return nil
}

// PurgeConsolidated deletes consolidated records created at or before
// cutoff. Pending records survive regardless of age.
func (s *RecordStore) PurgeConsolidated(ctx context.Context, cutoff time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM short_term_records
		WHERE consolidated_at IS NOT NULL AND created_at <= ?
	`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("sqlite: failed to purge consolidated records: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite: failed to get rows affected: %w", err)
	}
	return int(n), nil
}

// Stats returns row counts for operational logging.
func (s *RecordStore) Stats(ctx context.Context) (storage.StoreStats, error) {
	var stats storage.StoreStats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM short_term_records WHERE kind = 'conversation' AND consolidated_at IS NULL),
			(SELECT COUNT(*) FROM short_term_records WHERE kind = 'conversation' AND consolidated_at IS NOT NULL),
			(SELECT COUNT(*) FROM short_term_records WHERE kind = 'memory'),
			(SELECT COUNT(*) FROM long_term_facts),
			(SELECT COUNT(*) FROM consolidation_summaries)
	`).Scan(&stats.PendingRecords, &stats.ConsolidatedRecords, &stats.MemoryRecords, &stats.Facts, &stats.Summaries)
	if err != nil {
		return storage.StoreStats{}, fmt.Errorf("sqlite: failed to query stats: %w", err)
	}
	return stats, nil
}

// recordTx implements storage.Tx on top of a *sql.Tx.
type recordTx struct {
	tx *sql.Tx
}

// UpsertFact creates or overwrites the fact for its composite key.
func (t *recordTx) UpsertFact(ctx context.Context, fact storage.LongTermFact) error {
	if fact.Key == "" {
		return fmt.Errorf("%w: fact key is required", storage.ErrInvalidInput)
	}
	if fact.Confidence < 0 || fact.Confidence > 1 {
		return fmt.Errorf("%w: confidence %v outside [0,1]", storage.ErrInvalidInput, fact.Confidence)
	}

	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO long_term_facts (family_id, user_id, key, value, confidence, source, last_confirmed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (family_id, COALESCE(user_id, ''), key) DO UPDATE SET
			value = excluded.value,
			confidence = excluded.confidence,
			source = excluded.source,
			last_confirmed_at = excluded.last_confirmed_at
	`, fact.FamilyID, nullableString(fact.UserID), fact.Key, string(fact.Value),
		fact.Confidence, fact.Source, fact.LastConfirmedAt.UTC())
	if err != nil {
		return fmt.Errorf("sqlite: failed to upsert fact %q: %w", fact.Key, err)
	}
	return nil
}

// InsertSummary appends one consolidation summary row.
func (t *recordTx) InsertSummary(ctx context.Context, summary storage.ConsolidationSummary) error {
	if summary.ID == "" || summary.RunID == "" {
		return fmt.Errorf("%w: summary ID and run ID are required", storage.ErrInvalidInput)
	}

	var tagsJSON interface{}
	if len(summary.Tags) > 0 {
		data, err := json.Marshal(summary.Tags)
		if err != nil {
			return fmt.Errorf("sqlite: failed to marshal tags: %w", err)
		}
		tagsJSON = string(data)
	}

	createdAt := summary.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO consolidation_summaries (id, run_id, family_id, user_id, summary, tags, latest_record_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, summary.ID, summary.RunID, summary.FamilyID, nullableString(summary.UserID),
		summary.Summary, tagsJSON, summary.LatestRecordAt.UTC(), createdAt.UTC())
	if err != nil {
		return fmt.Errorf("sqlite: failed to insert summary: %w", err)
	}
	return nil
}

// MarkConsolidated stamps consolidated_at on the given IDs. Rows already
// consolidated keep their original timestamp.
func (t *recordTx) MarkConsolidated(ctx context.Context, ids []int64, now time.Time) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	placeholders := make([]string, len(ids))
	args := make([]interface{}, 0, len(ids)+1)
	args = append(args, now.UTC())
	for i, id := range ids {
		placeholders[i] = "?"
		args = append(args, id)
	}

	query := fmt.Sprintf(`
		UPDATE short_term_records
		SET consolidated_at = ?
		WHERE id IN (%s) AND consolidated_at IS NULL
	`, strings.Join(placeholders, ", "))

	result, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("sqlite: failed to mark records consolidated: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite: failed to get rows affected: %w", err)
	}
	return int(n), nil
}

// scanRecords reads short_term_records rows in recordColumns order.
func scanRecords(rows *sql.Rows) ([]storage.ShortTermRecord, error) {
	var records []storage.ShortTermRecord
	for rows.Next() {
		var rec storage.ShortTermRecord
		var user sql.NullString
		var kind string
		var consolidatedAt sql.NullTime
		if err := rows.Scan(&rec.ID, &rec.FamilyID, &user, &kind, &rec.Speaker, &rec.Payload, &rec.CreatedAt, &consolidatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan record: %w", err)
		}
		if user.Valid {
			rec.UserID = &user.String
		}
		rec.Kind = storage.RecordKind(kind)
		if consolidatedAt.Valid {
			rec.ConsolidatedAt = &consolidatedAt.Time
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: record rows iteration failed: %w", err)
	}
	return records, nil
}

// nullableString converts *string to a driver-friendly NULL.
func nullableString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// Compile-time assertions.
var (
	_ storage.RecordStore = (*RecordStore)(nil)
	_ storage.Tx          = (*recordTx)(nil)
)
