// Package postgres provides a PostgreSQL implementation of the record store.
package postgres

// Schema contains the SQL statements to create the consolidation tables for
// PostgreSQL. All statements are idempotent (IF NOT EXISTS) and are applied
// on open.
const Schema = `
-- Short-term records: conversation transcript entries and standing memory
-- notes. consolidated_at is set exactly once by a successful reconciliation
-- and never cleared.
CREATE TABLE IF NOT EXISTS short_term_records (
    id BIGSERIAL PRIMARY KEY,
    family_id BIGINT NOT NULL,
    user_id TEXT,
    kind TEXT NOT NULL DEFAULT 'conversation',
    speaker TEXT NOT NULL DEFAULT '',
    payload TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    consolidated_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_short_term_pending
    ON short_term_records (created_at)
    WHERE consolidated_at IS NULL;

CREATE INDEX IF NOT EXISTS idx_short_term_kind
    ON short_term_records (kind);

-- Long-term facts: at most one row per (family, user-or-null, key). The
-- unique index folds a NULL user into the empty string because PostgreSQL
-- treats NULLs as distinct in plain unique constraints.
CREATE TABLE IF NOT EXISTS long_term_facts (
    id BIGSERIAL PRIMARY KEY,
    family_id BIGINT NOT NULL,
    user_id TEXT,
    key TEXT NOT NULL,
    value JSONB NOT NULL,
    confidence DOUBLE PRECISION NOT NULL DEFAULT 0.9,
    source TEXT NOT NULL DEFAULT '',
    last_confirmed_at TIMESTAMPTZ NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_facts_composite_key
    ON long_term_facts (family_id, COALESCE(user_id, ''), key);

-- Consolidation summaries: append-only audit trail.
CREATE TABLE IF NOT EXISTS consolidation_summaries (
    id TEXT PRIMARY KEY,
    run_id TEXT NOT NULL,
    family_id BIGINT NOT NULL,
    user_id TEXT,
    summary TEXT NOT NULL,
    tags JSONB,
    latest_record_at TIMESTAMPTZ NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_summaries_run
    ON consolidation_summaries (run_id);
`
