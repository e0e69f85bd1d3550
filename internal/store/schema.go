// Package store provides the durable local event store backed by SQLite.
// The store is the single source of truth for captured events and their sync
// lifecycle; the capture journal only bridges the gap between fsync and the
// insert landing here.
package store

// Schema contains the SQL schema definitions for the event store (events.db).

// CreateEventsTableSQL creates the core events table. Timestamps are Unix
// milliseconds; indicators are the sanitized field map as JSON.
const CreateEventsTableSQL = `
CREATE TABLE IF NOT EXISTS events (
    id TEXT PRIMARY KEY,
    session_hash TEXT NOT NULL,
    classroom_hash TEXT NOT NULL DEFAULT '',
    facilitator_hash TEXT NOT NULL DEFAULT '',
    lesson_id TEXT NOT NULL DEFAULT '',
    activity_id TEXT NOT NULL DEFAULT '',
    interaction_type TEXT NOT NULL,
    behavioral_category TEXT NOT NULL,
    indicators TEXT NOT NULL,
    occurred_at INTEGER NOT NULL,
    recorded_at INTEGER NOT NULL,
    anonymized INTEGER NOT NULL,
    anonymized_at INTEGER NOT NULL,
    anonymization_level TEXT NOT NULL,
    sync_state TEXT NOT NULL DEFAULT 'pending',
    sync_attempts INTEGER NOT NULL DEFAULT 0,
    last_attempt_at INTEGER,
    fail_reason TEXT NOT NULL DEFAULT '',
    batch_id TEXT,
    flagged INTEGER NOT NULL DEFAULT 0,
    FOREIGN KEY (batch_id) REFERENCES batches(batch_id)
)`

// CreateEventsIndexesSQL creates indexes for the hot paths: batch claiming in
// capture order, retention sweeps, and batch membership lookups.
var CreateEventsIndexesSQL = []string{
	// Claim order is (recorded_at, id); only unclaimed pending events qualify
	`CREATE INDEX IF NOT EXISTS idx_events_claimable ON events(recorded_at, id)
		WHERE sync_state = 'pending' AND batch_id IS NULL`,

	// Retention sweeps walk synced events by age
	`CREATE INDEX IF NOT EXISTS idx_events_synced_age ON events(recorded_at)
		WHERE sync_state = 'synced'`,

	// Batch reconciliation loads members by batch
	`CREATE INDEX IF NOT EXISTS idx_events_batch ON events(batch_id)
		WHERE batch_id IS NOT NULL`,

	// State counters for status reporting
	`CREATE INDEX IF NOT EXISTS idx_events_state ON events(sync_state)`,
}

// CreateBatchesTableSQL creates the batches table. A batch row exists from
// claim until terminal state; attempts count delivery tries across releases.
const CreateBatchesTableSQL = `
CREATE TABLE IF NOT EXISTS batches (
    batch_id TEXT PRIMARY KEY,
    status TEXT NOT NULL DEFAULT 'open',
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,
    attempts INTEGER NOT NULL DEFAULT 0
)`

// CreateBatchesIndexSQL indexes in-flight batches by last update for stale
// batch recovery.
const CreateBatchesIndexSQL = `
CREATE INDEX IF NOT EXISTS idx_batches_stale ON batches(updated_at)
	WHERE status = 'in_flight'`

// AllSchemaSQL returns all SQL statements needed to initialize the event store.
func AllSchemaSQL() []string {
	statements := []string{
		CreateBatchesTableSQL,
		CreateBatchesIndexSQL,
		CreateEventsTableSQL,
	}
	statements = append(statements, CreateEventsIndexesSQL...)
	return statements
}
