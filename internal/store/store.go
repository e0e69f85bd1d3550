package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/chalkline/chalkline/internal/errors"
	"github.com/chalkline/chalkline/pkg/types"
)

// EventStore manages captured events and sync batches in events.db.
type EventStore struct {
	db     *sql.DB // Write connection (single writer)
	readDB *sql.DB // Read connection pool (concurrent readers)
	dbPath string
	mu     sync.Mutex // Write-only lock (reads don't need this)

	insertEventStmt *sql.Stmt
}

// NewEventStore opens (or creates) the event store at dbPath.
func NewEventStore(dbPath string) (*EventStore, error) {
	// Write connection: single writer with WAL mode
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("store: failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // Single writer
	db.SetMaxIdleConns(1)

	// Read connection pool: concurrent readers
	readDB, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("store: failed to open read database: %w", err)
	}
	readDB.SetMaxOpenConns(4)
	readDB.SetMaxIdleConns(4)
	readDB.SetConnMaxLifetime(5 * time.Minute)

	s := &EventStore{
		db:     db,
		readDB: readDB,
		dbPath: dbPath,
	}

	if err := s.initSchema(); err != nil {
		readDB.Close()
		db.Close()
		return nil, fmt.Errorf("store: failed to initialize schema: %w", err)
	}

	// INSERT OR IGNORE makes the append idempotent on event id, which is
	// what lets journal replay and duplicate submissions be harmless.
	insertStmt, err := db.Prepare(`
		INSERT OR IGNORE INTO events (
			id, session_hash, classroom_hash, facilitator_hash,
			lesson_id, activity_id,
			interaction_type, behavioral_category, indicators,
			occurred_at, recorded_at,
			anonymized, anonymized_at, anonymization_level,
			sync_state, sync_attempts, last_attempt_at, fail_reason,
			batch_id, flagged
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		readDB.Close()
		db.Close()
		return nil, fmt.Errorf("store: failed to prepare insert statement: %w", err)
	}
	s.insertEventStmt = insertStmt

	return s, nil
}

// initSchema creates all required tables and indexes.
func (s *EventStore) initSchema() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, stmt := range AllSchemaSQL() {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

// Close closes both database connections.
func (s *EventStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.insertEventStmt != nil {
		s.insertEventStmt.Close()
	}
	if err := s.readDB.Close(); err != nil {
		s.db.Close()
		return fmt.Errorf("store: failed to close read database: %w", err)
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: failed to close database: %w", err)
	}
	return nil
}

// Append persists a sanitized event. Events without the provenance marker are
// refused outright: nothing reaches disk that did not pass the gate. The
// insert is idempotent on event id.
func (s *EventStore) Append(ctx context.Context, event types.Event) error {
	if !event.Provenance.Anonymized {
		return errors.New(errors.ErrCategoryStore, errors.CodeMissingProvenance,
			"event lacks sanitization provenance")
	}
	if event.ID.IsZero() {
		return errors.New(errors.ErrCategoryStore, errors.CodeAppendFailed,
			"event id is zero")
	}

	indicators, err := json.Marshal(event.Indicators)
	if err != nil {
		return errors.NewStoreError(errors.CodeAppendFailed, "failed to serialize indicators", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var lastAttempt interface{}
	if !event.LastAttemptAt.IsZero() {
		lastAttempt = event.LastAttemptAt.UnixMilli()
	}
	var batchID interface{}
	if event.BatchID != "" {
		batchID = event.BatchID
	}

	_, err = s.insertEventStmt.ExecContext(ctx,
		event.ID.String(), event.SessionHash, event.ClassroomHash, event.FacilitatorHash,
		event.LessonID, event.ActivityID,
		event.InteractionType, event.BehavioralCategory, string(indicators),
		event.OccurredAt.UnixMilli(), event.RecordedAt.UnixMilli(),
		boolToInt(event.Provenance.Anonymized), event.Provenance.AnonymizedAt.UnixMilli(), event.Provenance.Level,
		event.SyncState.String(), event.SyncAttempts, lastAttempt, event.FailReason,
		batchID, boolToInt(event.Flagged),
	)
	if err != nil {
		return errors.NewStoreError(errors.CodeAppendFailed, "failed to insert event", err)
	}
	return nil
}

const eventColumns = `id, session_hash, classroom_hash, facilitator_hash,
	lesson_id, activity_id,
	interaction_type, behavioral_category, indicators,
	occurred_at, recorded_at,
	anonymized, anonymized_at, anonymization_level,
	sync_state, sync_attempts, last_attempt_at, fail_reason,
	batch_id, flagged`

// Get retrieves a single event by id. Returns nil when absent.
func (s *EventStore) Get(ctx context.Context, id types.EventID) (*types.Event, error) {
	row := s.readDB.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE id = ?`, id.String())

	event, err := scanEvent(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, errors.NewStoreError(errors.CodeQueryFailed, "failed to get event", err)
	}
	return event, nil
}

// ListPending returns up to limit unclaimed pending events in capture order:
// (recorded_at, id) ascending.
func (s *EventStore) ListPending(ctx context.Context, limit int) ([]types.Event, error) {
	rows, err := s.readDB.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events
		 WHERE sync_state = 'pending' AND batch_id IS NULL
		 ORDER BY recorded_at, id
		 LIMIT ?`, limit)
	if err != nil {
		return nil, errors.NewStoreError(errors.CodeQueryFailed, "failed to list pending events", err)
	}
	defer rows.Close()

	return collectEvents(rows)
}

// CountByState returns the number of events in each sync state.
func (s *EventStore) CountByState(ctx context.Context) (map[types.SyncState]int64, error) {
	rows, err := s.readDB.QueryContext(ctx,
		`SELECT sync_state, COUNT(*) FROM events GROUP BY sync_state`)
	if err != nil {
		return nil, errors.NewStoreError(errors.CodeQueryFailed, "failed to count events", err)
	}
	defer rows.Close()

	counts := make(map[types.SyncState]int64)
	for rows.Next() {
		var stateName string
		var n int64
		if err := rows.Scan(&stateName, &n); err != nil {
			return nil, errors.NewStoreError(errors.CodeQueryFailed, "failed to scan count", err)
		}
		if state, ok := types.ParseSyncState(stateName); ok {
			counts[state] = n
		}
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewStoreError(errors.CodeQueryFailed, "error iterating counts", err)
	}
	return counts, nil
}

// TotalCount returns the total number of stored events.
func (s *EventStore) TotalCount(ctx context.Context) (int64, error) {
	var n int64
	err := s.readDB.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&n)
	if err != nil {
		return 0, errors.NewStoreError(errors.CodeQueryFailed, "failed to count events", err)
	}
	return n, nil
}

// ClaimBatch atomically claims up to size unclaimed pending events, in
// capture order, into a new open batch. Returns nil when nothing is pending.
// Membership is immutable for the life of the batch.
func (s *EventStore) ClaimBatch(ctx context.Context, batchID string, size int) (*types.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.NewStoreError(errors.CodeQueryFailed, "failed to begin claim transaction", err)
	}
	defer tx.Rollback()

	// Flagged pending events are parked for manual review and never
	// re-claimed automatically.
	rows, err := tx.QueryContext(ctx,
		`SELECT id FROM events
		 WHERE sync_state = 'pending' AND batch_id IS NULL AND flagged = 0
		 ORDER BY recorded_at, id
		 LIMIT ?`, size)
	if err != nil {
		return nil, errors.NewStoreError(errors.CodeQueryFailed, "failed to select claimable events", err)
	}

	var ids []types.EventID
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			rows.Close()
			return nil, errors.NewStoreError(errors.CodeQueryFailed, "failed to scan event id", err)
		}
		id, err := types.ParseEventID(raw)
		if err != nil {
			rows.Close()
			return nil, errors.NewStoreError(errors.CodeQueryFailed, "corrupt event id in store", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, errors.NewStoreError(errors.CodeQueryFailed, "error iterating claimable events", err)
	}
	rows.Close()

	if len(ids) == 0 {
		return nil, nil
	}

	now := time.Now()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO batches (batch_id, status, created_at, updated_at, attempts)
		 VALUES (?, 'open', ?, ?, 0)`,
		batchID, now.UnixMilli(), now.UnixMilli()); err != nil {
		return nil, errors.NewStoreError(errors.CodeQueryFailed, "failed to insert batch", err)
	}

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx,
			`UPDATE events SET batch_id = ? WHERE id = ?`, batchID, id.String()); err != nil {
			return nil, errors.NewStoreError(errors.CodeQueryFailed, "failed to claim event", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.NewStoreError(errors.CodeQueryFailed, "failed to commit claim", err)
	}

	return &types.Batch{
		ID:        batchID,
		EventIDs:  ids,
		Status:    types.BatchOpen,
		CreatedAt: now,
	}, nil
}

// OpenBatch returns the oldest batch still in the open state, or nil. The
// sync engine resumes an existing batch before claiming a new one, so at
// most one batch accumulates attempts at a time.
func (s *EventStore) OpenBatch(ctx context.Context) (*types.Batch, error) {
	var id string
	err := s.readDB.QueryRowContext(ctx,
		`SELECT batch_id FROM batches WHERE status = 'open' ORDER BY created_at LIMIT 1`).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewStoreError(errors.CodeQueryFailed, "failed to find open batch", err)
	}
	return s.GetBatch(ctx, id)
}

// GetBatch retrieves a batch with its member ids in capture order.
func (s *EventStore) GetBatch(ctx context.Context, batchID string) (*types.Batch, error) {
	var statusName string
	var createdAtMs int64
	var attempts int
	err := s.readDB.QueryRowContext(ctx,
		`SELECT status, created_at, attempts FROM batches WHERE batch_id = ?`, batchID).
		Scan(&statusName, &createdAtMs, &attempts)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewStoreError(errors.CodeQueryFailed, "failed to get batch", err)
	}

	rows, err := s.readDB.QueryContext(ctx,
		`SELECT id FROM events WHERE batch_id = ? ORDER BY recorded_at, id`, batchID)
	if err != nil {
		return nil, errors.NewStoreError(errors.CodeQueryFailed, "failed to load batch members", err)
	}
	defer rows.Close()

	var ids []types.EventID
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, errors.NewStoreError(errors.CodeQueryFailed, "failed to scan event id", err)
		}
		id, err := types.ParseEventID(raw)
		if err != nil {
			return nil, errors.NewStoreError(errors.CodeQueryFailed, "corrupt event id in store", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewStoreError(errors.CodeQueryFailed, "error iterating batch members", err)
	}

	return &types.Batch{
		ID:        batchID,
		EventIDs:  ids,
		Status:    types.BatchStatus(statusName),
		CreatedAt: time.UnixMilli(createdAtMs),
		Attempts:  attempts,
	}, nil
}

// BatchEvents loads the full event records of a batch in capture order.
func (s *EventStore) BatchEvents(ctx context.Context, batchID string) ([]types.Event, error) {
	rows, err := s.readDB.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events
		 WHERE batch_id = ?
		 ORDER BY recorded_at, id`, batchID)
	if err != nil {
		return nil, errors.NewStoreError(errors.CodeQueryFailed, "failed to load batch events", err)
	}
	defer rows.Close()

	return collectEvents(rows)
}

// MarkBatchInFlight transitions an open batch to in_flight and charges one
// attempt to the batch and each member.
func (s *EventStore) MarkBatchInFlight(ctx context.Context, batchID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewStoreError(errors.CodeQueryFailed, "failed to begin transaction", err)
	}
	defer tx.Rollback()

	now := time.Now().UnixMilli()
	res, err := tx.ExecContext(ctx,
		`UPDATE batches SET status = 'in_flight', updated_at = ?, attempts = attempts + 1
		 WHERE batch_id = ? AND status = 'open'`, now, batchID)
	if err != nil {
		return errors.NewStoreError(errors.CodeQueryFailed, "failed to mark batch in flight", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.New(errors.ErrCategoryStore, errors.CodeQueryFailed,
			fmt.Sprintf("batch %s is not open", batchID))
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE events SET sync_attempts = sync_attempts + 1, last_attempt_at = ?
		 WHERE batch_id = ?`, now, batchID); err != nil {
		return errors.NewStoreError(errors.CodeQueryFailed, "failed to charge attempt to events", err)
	}

	return tx.Commit()
}

// CompleteBatch reconciles a delivered batch. Accepted ids become synced.
// Rejected ids dissolve out of the batch: they return to pending with the
// collector's reason, keeping the attempts already charged, and are eligible
// for re-batching on a later cycle. A rejected member whose attempts have
// reached maxAttempts is terminally failed and flagged instead. The batch
// lands in committed or partially_failed accordingly.
func (s *EventStore) CompleteBatch(ctx context.Context, batchID string, accepted []types.EventID, rejected map[types.EventID]string, maxAttempts int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewStoreError(errors.CodeQueryFailed, "failed to begin transaction", err)
	}
	defer tx.Rollback()

	for _, id := range accepted {
		if _, err := tx.ExecContext(ctx,
			`UPDATE events SET sync_state = 'synced', fail_reason = ''
			 WHERE id = ? AND batch_id = ?`, id.String(), batchID); err != nil {
			return errors.NewStoreError(errors.CodeQueryFailed, "failed to mark event synced", err)
		}
	}

	for id, reason := range rejected {
		if _, err := tx.ExecContext(ctx,
			`UPDATE events SET sync_state = 'pending', batch_id = NULL, fail_reason = ?
			 WHERE id = ? AND batch_id = ?`, reason, id.String(), batchID); err != nil {
			return errors.NewStoreError(errors.CodeQueryFailed, "failed to return rejected event to pending", err)
		}
		if maxAttempts > 0 {
			if _, err := tx.ExecContext(ctx,
				`UPDATE events SET sync_state = 'failed', flagged = 1
				 WHERE id = ? AND sync_state = 'pending' AND sync_attempts >= ?`,
				id.String(), maxAttempts); err != nil {
				return errors.NewStoreError(errors.CodeQueryFailed, "failed to fail exhausted event", err)
			}
		}
	}

	status := types.BatchCommitted
	if len(rejected) > 0 {
		status = types.BatchPartiallyFailed
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE batches SET status = ?, updated_at = ? WHERE batch_id = ?`,
		string(status), time.Now().UnixMilli(), batchID); err != nil {
		return errors.NewStoreError(errors.CodeQueryFailed, "failed to finalize batch", err)
	}

	return tx.Commit()
}

// ReleaseBatch returns an in-flight batch to open after a transient delivery
// failure. Membership and charged attempts are kept; the recorded reason aids
// later inspection.
func (s *EventStore) ReleaseBatch(ctx context.Context, batchID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewStoreError(errors.CodeQueryFailed, "failed to begin transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE batches SET status = 'open', updated_at = ?
		 WHERE batch_id = ? AND status = 'in_flight'`,
		time.Now().UnixMilli(), batchID); err != nil {
		return errors.NewStoreError(errors.CodeQueryFailed, "failed to release batch", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE events SET fail_reason = ? WHERE batch_id = ?`, reason, batchID); err != nil {
		return errors.NewStoreError(errors.CodeQueryFailed, "failed to record release reason", err)
	}

	return tx.Commit()
}

// ReleaseStaleBatches returns in-flight batches older than staleAfter to the
// open state. Covers the crash-while-uploading case: after restart, nothing
// would otherwise retry them.
func (s *EventStore) ReleaseStaleBatches(ctx context.Context, staleAfter time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-staleAfter).UnixMilli()
	res, err := s.db.ExecContext(ctx,
		`UPDATE batches SET status = 'open', updated_at = ?
		 WHERE status = 'in_flight' AND updated_at < ?`,
		time.Now().UnixMilli(), cutoff)
	if err != nil {
		return 0, errors.NewStoreError(errors.CodeQueryFailed, "failed to release stale batches", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// RejectBatch dissolves a batch the collector refused outright (a permanent
// per-batch 4xx). Members return to pending but flagged, which parks them for
// manual review: a payload the collector has already refused is not retried
// automatically.
func (s *EventStore) RejectBatch(ctx context.Context, batchID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewStoreError(errors.CodeQueryFailed, "failed to begin transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE events SET batch_id = NULL, flagged = 1, fail_reason = ?
		 WHERE batch_id = ? AND sync_state = 'pending'`, reason, batchID); err != nil {
		return errors.NewStoreError(errors.CodeQueryFailed, "failed to park rejected batch events", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE batches SET status = 'partially_failed', updated_at = ?
		 WHERE batch_id = ?`, time.Now().UnixMilli(), batchID); err != nil {
		return errors.NewStoreError(errors.CodeQueryFailed, "failed to finalize rejected batch", err)
	}

	return tx.Commit()
}

// FailBatch terminally fails a batch whose attempt budget is exhausted. All
// members become failed and flagged for operator inspection.
func (s *EventStore) FailBatch(ctx context.Context, batchID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewStoreError(errors.CodeQueryFailed, "failed to begin transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE events SET sync_state = 'failed', flagged = 1, fail_reason = ?
		 WHERE batch_id = ? AND sync_state = 'pending'`, reason, batchID); err != nil {
		return errors.NewStoreError(errors.CodeQueryFailed, "failed to fail batch events", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE batches SET status = 'partially_failed', updated_at = ?
		 WHERE batch_id = ?`, time.Now().UnixMilli(), batchID); err != nil {
		return errors.NewStoreError(errors.CodeQueryFailed, "failed to finalize failed batch", err)
	}

	return tx.Commit()
}

// DeleteSyncedOlderThan removes synced events recorded before the cutoff.
// Pending and failed events are never aged out by the sweep; they still
// carry undelivered or inspectable data.
func (s *EventStore) DeleteSyncedOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM events WHERE sync_state = 'synced' AND recorded_at < ?`,
		cutoff.UnixMilli())
	if err != nil {
		return 0, errors.NewRetentionError("failed to delete expired events", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// TrimOldestSynced enforces the local storage cap: when the store holds more
// than maxEvents, the oldest synced events are deleted first. Unsynced events
// are never trimmed.
func (s *EventStore) TrimOldestSynced(ctx context.Context, maxEvents int) (int64, error) {
	total, err := s.TotalCount(ctx)
	if err != nil {
		return 0, err
	}
	excess := total - int64(maxEvents)
	if excess <= 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM events WHERE id IN (
			SELECT id FROM events WHERE sync_state = 'synced'
			ORDER BY recorded_at, id LIMIT ?
		)`, excess)
	if err != nil {
		return 0, errors.NewStoreError(errors.CodeQueryFailed, "failed to trim synced events", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// DeleteAll purges every event and batch. Consent withdrawal calls this;
// there is no soft delete and no recovery.
func (s *EventStore) DeleteAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewStoreError(errors.CodeQueryFailed, "failed to begin purge transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM events`); err != nil {
		return errors.NewStoreError(errors.CodeQueryFailed, "failed to purge events", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM batches`); err != nil {
		return errors.NewStoreError(errors.CodeQueryFailed, "failed to purge batches", err)
	}

	return tx.Commit()
}

// ListFlagged returns flagged events for operator inspection, oldest first.
func (s *EventStore) ListFlagged(ctx context.Context, limit int) ([]types.Event, error) {
	rows, err := s.readDB.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events
		 WHERE flagged = 1
		 ORDER BY recorded_at, id
		 LIMIT ?`, limit)
	if err != nil {
		return nil, errors.NewStoreError(errors.CodeQueryFailed, "failed to list flagged events", err)
	}
	defer rows.Close()

	return collectEvents(rows)
}

// scanner abstracts *sql.Row and *sql.Rows for event scanning.
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanEvent scans one event row.
func scanEvent(row scanner) (*types.Event, error) {
	var (
		rawID, stateName, indicators string
		occurredMs, recordedMs       int64
		anonymized, flagged          int
		anonymizedAtMs               int64
		lastAttemptMs                sql.NullInt64
		batchID                      sql.NullString
		event                        types.Event
	)

	err := row.Scan(
		&rawID, &event.SessionHash, &event.ClassroomHash, &event.FacilitatorHash,
		&event.LessonID, &event.ActivityID,
		&event.InteractionType, &event.BehavioralCategory, &indicators,
		&occurredMs, &recordedMs,
		&anonymized, &anonymizedAtMs, &event.Provenance.Level,
		&stateName, &event.SyncAttempts, &lastAttemptMs, &event.FailReason,
		&batchID, &flagged,
	)
	if err != nil {
		return nil, err
	}

	event.ID, err = types.ParseEventID(rawID)
	if err != nil {
		return nil, fmt.Errorf("corrupt event id %q: %w", rawID, err)
	}
	if err := json.Unmarshal([]byte(indicators), &event.Indicators); err != nil {
		return nil, fmt.Errorf("corrupt indicators for event %s: %w", rawID, err)
	}

	event.OccurredAt = time.UnixMilli(occurredMs).UTC()
	event.RecordedAt = time.UnixMilli(recordedMs).UTC()
	event.Provenance.Anonymized = anonymized != 0
	event.Provenance.AnonymizedAt = time.UnixMilli(anonymizedAtMs).UTC()
	if state, ok := types.ParseSyncState(stateName); ok {
		event.SyncState = state
	}
	if lastAttemptMs.Valid {
		event.LastAttemptAt = time.UnixMilli(lastAttemptMs.Int64).UTC()
	}
	if batchID.Valid {
		event.BatchID = batchID.String
	}
	event.Flagged = flagged != 0

	return &event, nil
}

// collectEvents drains a result set into a slice.
func collectEvents(rows *sql.Rows) ([]types.Event, error) {
	var events []types.Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, errors.NewStoreError(errors.CodeQueryFailed, "failed to scan event", err)
		}
		events = append(events, *event)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewStoreError(errors.CodeQueryFailed, "error iterating events", err)
	}
	return events, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
