package storage

import (
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrNotFound indicates that the requested resource was not found.
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates that the input parameters are invalid.
	ErrInvalidInput = errors.New("invalid input")
)

// RecordKind distinguishes time-windowed conversation records from
// standing memory notes.
type RecordKind string

const (
	// KindConversation is a transcript entry from an assistant exchange.
	// Conversation records move through the consolidation state machine:
	// pending, consolidated, purged.
	KindConversation RecordKind = "conversation"

	// KindMemory is a standing note. Memory records are always eligible
	// for batching regardless of age and serve as read-only context: they
	// are never marked consolidated and never purged.
	KindMemory RecordKind = "memory"
)

// ShortTermRecord is a timestamped note tied to a family and optionally a
// user. The payload is opaque text; it may or may not be valid JSON.
//
// ConsolidatedAt is nil while the record is pending. Once set it is never
// cleared — every marking UPDATE carries a consolidated_at IS NULL guard.
type ShortTermRecord struct {
	ID             int64
	FamilyID       int64
	UserID         *string // nil means family-wide
	Kind           RecordKind
	Speaker        string
	Payload        string
	CreatedAt      time.Time
	ConsolidatedAt *time.Time
}

// Consolidated reports whether the record has been through a successful
// reconciliation.
func (r *ShortTermRecord) Consolidated() bool {
	return r.ConsolidatedAt != nil
}

// LongTermFact is a durable piece of knowledge about a family or one of its
// users. At most one fact exists per (family, user-or-null, key); upserts
// always resolve to that composite key.
type LongTermFact struct {
	FamilyID        int64
	UserID          *string // nil means the fact is about the family as a whole
	Key             string
	Value           json.RawMessage
	Confidence      float64
	Source          string
	LastConfirmedAt time.Time
}

// ConsolidationSummary is one append-only audit row per (run, family, user)
// produced by a single job invocation.
type ConsolidationSummary struct {
	ID             string
	RunID          string
	FamilyID       int64
	UserID         *string
	Summary        string
	Tags           []string
	LatestRecordAt time.Time
	CreatedAt      time.Time
}

// StoreStats holds row counts used for operational logging.
type StoreStats struct {
	PendingRecords      int
	ConsolidatedRecords int
	MemoryRecords       int
	Facts               int
	Summaries           int
}
