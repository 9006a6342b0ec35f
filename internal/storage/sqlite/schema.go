// Package sqlite provides a SQLite implementation of the record store.
// It uses the CGO-free modernc.org/sqlite driver so tests and local
// development need no external services.
package sqlite

// Schema contains the SQL statements to create the consolidation tables.
// All statements are idempotent (IF NOT EXISTS) and are applied on open.
const Schema = `
-- Short-term records: conversation transcript entries and standing memory
-- notes written by the assistant. Consolidation only ever sets
-- consolidated_at; it never clears it.
CREATE TABLE IF NOT EXISTS short_term_records (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    family_id INTEGER NOT NULL,
    user_id TEXT,
    kind TEXT NOT NULL DEFAULT 'conversation',
    speaker TEXT NOT NULL DEFAULT '',
    payload TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    consolidated_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_short_term_pending
    ON short_term_records (created_at)
    WHERE consolidated_at IS NULL;

CREATE INDEX IF NOT EXISTS idx_short_term_kind
    ON short_term_records (kind);

-- Long-term facts: at most one row per (family, user-or-null, key). The
-- unique index folds a NULL user into the empty string so family-wide
-- facts share the same conflict target as user facts.
CREATE TABLE IF NOT EXISTS long_term_facts (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    family_id INTEGER NOT NULL,
    user_id TEXT,
    key TEXT NOT NULL,
    value TEXT NOT NULL,
    confidence REAL NOT NULL DEFAULT 0.9,
    source TEXT NOT NULL DEFAULT '',
    last_confirmed_at TIMESTAMP NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_facts_composite_key
    ON long_term_facts (family_id, COALESCE(user_id, ''), key);

-- Consolidation summaries: append-only audit trail, one row per
-- (run, family, user) pair.
CREATE TABLE IF NOT EXISTS consolidation_summaries (
    id TEXT PRIMARY KEY,
    run_id TEXT NOT NULL,
    family_id INTEGER NOT NULL,
    user_id TEXT,
    summary TEXT NOT NULL,
    tags TEXT,
    latest_record_at TIMESTAMP NOT NULL,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_summaries_run
    ON consolidation_summaries (run_id);
`
