package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/chalkline/chalkline/internal/errors"
	"github.com/chalkline/chalkline/pkg/types"
)

func newTestStore(t *testing.T) *EventStore {
	t.Helper()
	s, err := NewEventStore(filepath.Join(t.TempDir(), "events.db"))
	if err != nil {
		t.Fatalf("NewEventStore failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

var testGen = types.NewIDGenerator()

func makeEvent(t *testing.T, recordedAt time.Time) types.Event {
	t.Helper()
	id, err := testGen.GenerateAt(recordedAt)
	if err != nil {
		t.Fatalf("GenerateAt failed: %v", err)
	}
	return types.Event{
		ID:                 id,
		SessionHash:        "abc123",
		ClassroomHash:      "def456",
		LessonID:           "lesson-9",
		ActivityID:         "activity-2",
		InteractionType:    "activity_complete",
		BehavioralCategory: "engagement",
		Indicators: map[string]types.Value{
			"engagement_level": types.String("high"),
			"retry_count":      types.Int(2),
		},
		OccurredAt: recordedAt.Add(-50 * time.Millisecond),
		RecordedAt: recordedAt,
		Provenance: types.Provenance{
			Anonymized:   true,
			AnonymizedAt: recordedAt,
			Level:        "hashed_correlation_v1",
		},
		SyncState: types.SyncPending,
	}
}

func mustAppend(t *testing.T, s *EventStore, events ...types.Event) {
	t.Helper()
	for _, ev := range events {
		if err := s.Append(context.Background(), ev); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}
}

func TestAppendAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ev := makeEvent(t, time.Now())
	mustAppend(t, s, ev)

	got, err := s.Get(ctx, ev.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got == nil {
		t.Fatal("event not found after append")
	}
	if got.ID != ev.ID {
		t.Errorf("ID = %s, want %s", got.ID, ev.ID)
	}
	if got.SessionHash != "abc123" || got.InteractionType != "activity_complete" {
		t.Errorf("fields lost: %+v", got)
	}
	if !got.Indicators["engagement_level"].Equal(types.String("high")) {
		t.Error("indicators not preserved")
	}
	if !got.Indicators["retry_count"].Equal(types.Int(2)) {
		t.Error("integer indicator not preserved")
	}
	if got.SyncState != types.SyncPending {
		t.Errorf("SyncState = %v", got.SyncState)
	}
	if !got.Provenance.Anonymized {
		t.Error("provenance lost")
	}
	if !got.RecordedAt.Equal(ev.RecordedAt.Truncate(time.Millisecond)) {
		t.Errorf("RecordedAt = %v, want %v", got.RecordedAt, ev.RecordedAt)
	}
}

func TestAppendRequiresProvenance(t *testing.T) {
	s := newTestStore(t)

	ev := makeEvent(t, time.Now())
	ev.Provenance = types.Provenance{}

	err := s.Append(context.Background(), ev)
	if err == nil {
		t.Fatal("append without provenance must fail")
	}
	if errors.GetCode(err) != errors.CodeMissingProvenance {
		t.Errorf("code = %s", errors.GetCode(err))
	}

	n, _ := s.TotalCount(context.Background())
	if n != 0 {
		t.Error("rejected event reached disk")
	}
}

func TestAppendIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ev := makeEvent(t, time.Now())
	mustAppend(t, s, ev, ev, ev)

	n, err := s.TotalCount(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("TotalCount = %d after duplicate appends, want 1", n)
	}
}

func TestGetMissing(t *testing.T) {
	s := newTestStore(t)

	id, _ := testGen.Generate()
	got, err := s.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != nil {
		t.Error("expected nil for missing event")
	}
}

func TestListPendingCaptureOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now().Truncate(time.Millisecond)
	// Append out of capture order.
	e3 := makeEvent(t, base.Add(2*time.Second))
	e1 := makeEvent(t, base)
	e2 := makeEvent(t, base.Add(time.Second))
	mustAppend(t, s, e3, e1, e2)

	got, err := s.ListPending(ctx, 10)
	if err != nil {
		t.Fatalf("ListPending failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d", len(got))
	}
	want := []types.EventID{e1.ID, e2.ID, e3.ID}
	for i := range want {
		if got[i].ID != want[i] {
			t.Errorf("position %d: got %s, want %s", i, got[i].ID, want[i])
		}
	}
}

func TestListPendingSameMillisecondTieBreak(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	at := time.Now().Truncate(time.Millisecond)
	// Same recorded_at: the id (itself time-ordered) breaks the tie.
	a := makeEvent(t, at)
	b := makeEvent(t, at)
	mustAppend(t, s, b, a)

	got, err := s.ListPending(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d", len(got))
	}
	if got[0].ID.Compare(got[1].ID) >= 0 {
		t.Error("same-millisecond events not ordered by id")
	}
}

func TestClaimBatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now().Truncate(time.Millisecond)
	var events []types.Event
	for i := 0; i < 5; i++ {
		events = append(events, makeEvent(t, base.Add(time.Duration(i)*time.Second)))
	}
	mustAppend(t, s, events...)

	batch, err := s.ClaimBatch(ctx, "batch-1", 3)
	if err != nil {
		t.Fatalf("ClaimBatch failed: %v", err)
	}
	if batch == nil || len(batch.EventIDs) != 3 {
		t.Fatalf("batch = %+v", batch)
	}
	if batch.Status != types.BatchOpen {
		t.Errorf("Status = %s", batch.Status)
	}
	// Oldest three, in order.
	for i := 0; i < 3; i++ {
		if batch.EventIDs[i] != events[i].ID {
			t.Errorf("member %d = %s, want %s", i, batch.EventIDs[i], events[i].ID)
		}
	}

	// Claimed events leave the claimable pool.
	pending, err := s.ListPending(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 2 {
		t.Errorf("claimable after claim = %d, want 2", len(pending))
	}

	// The remaining two go to the next batch.
	batch2, err := s.ClaimBatch(ctx, "batch-2", 3)
	if err != nil {
		t.Fatal(err)
	}
	if batch2 == nil || len(batch2.EventIDs) != 2 {
		t.Fatalf("batch2 = %+v", batch2)
	}

	// Nothing left: claim returns nil.
	batch3, err := s.ClaimBatch(ctx, "batch-3", 3)
	if err != nil {
		t.Fatal(err)
	}
	if batch3 != nil {
		t.Errorf("expected nil batch, got %+v", batch3)
	}
}

func TestOpenBatchResume(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mustAppend(t, s, makeEvent(t, time.Now()))

	open, err := s.OpenBatch(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if open != nil {
		t.Fatal("no batch claimed yet")
	}

	claimed, err := s.ClaimBatch(ctx, "batch-1", 10)
	if err != nil {
		t.Fatal(err)
	}

	open, err = s.OpenBatch(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if open == nil || open.ID != claimed.ID {
		t.Fatalf("OpenBatch = %+v, want batch-1", open)
	}
	if len(open.EventIDs) != 1 {
		t.Errorf("members = %d", len(open.EventIDs))
	}
}

func TestBatchLifecycleCommitted(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now().Truncate(time.Millisecond)
	e1 := makeEvent(t, base)
	e2 := makeEvent(t, base.Add(time.Second))
	mustAppend(t, s, e1, e2)

	batch, err := s.ClaimBatch(ctx, "batch-1", 10)
	if err != nil {
		t.Fatal(err)
	}

	if err := s.MarkBatchInFlight(ctx, batch.ID); err != nil {
		t.Fatalf("MarkBatchInFlight failed: %v", err)
	}

	got, _ := s.GetBatch(ctx, batch.ID)
	if got.Status != types.BatchInFlight || got.Attempts != 1 {
		t.Errorf("after mark: status=%s attempts=%d", got.Status, got.Attempts)
	}

	// Attempt is charged to members too.
	ev, _ := s.Get(ctx, e1.ID)
	if ev.SyncAttempts != 1 || ev.LastAttemptAt.IsZero() {
		t.Errorf("member attempt not charged: %+v", ev)
	}

	// Full acceptance.
	if err := s.CompleteBatch(ctx, batch.ID, batch.EventIDs, nil, 8); err != nil {
		t.Fatalf("CompleteBatch failed: %v", err)
	}

	got, _ = s.GetBatch(ctx, batch.ID)
	if got.Status != types.BatchCommitted {
		t.Errorf("Status = %s, want committed", got.Status)
	}
	for _, id := range batch.EventIDs {
		ev, _ := s.Get(ctx, id)
		if ev.SyncState != types.SyncSynced {
			t.Errorf("event %s state = %v, want synced", id, ev.SyncState)
		}
	}
}

func TestBatchLifecyclePartialFailureDissolves(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now().Truncate(time.Millisecond)
	e1 := makeEvent(t, base)
	e2 := makeEvent(t, base.Add(time.Second))
	mustAppend(t, s, e1, e2)

	batch, _ := s.ClaimBatch(ctx, "batch-1", 10)
	if err := s.MarkBatchInFlight(ctx, batch.ID); err != nil {
		t.Fatal(err)
	}

	rejected := map[types.EventID]string{e2.ID: "schema_mismatch"}
	if err := s.CompleteBatch(ctx, batch.ID, []types.EventID{e1.ID}, rejected, 8); err != nil {
		t.Fatalf("CompleteBatch failed: %v", err)
	}

	got, _ := s.GetBatch(ctx, batch.ID)
	if got.Status != types.BatchPartiallyFailed {
		t.Errorf("Status = %s", got.Status)
	}

	ok, _ := s.Get(ctx, e1.ID)
	if ok.SyncState != types.SyncSynced {
		t.Errorf("accepted event state = %v", ok.SyncState)
	}

	// The rejected member dissolves back to pending with its charged
	// attempt, keeping the collector's reason; it still has retry budget,
	// so it is neither failed nor flagged.
	bad, _ := s.Get(ctx, e2.ID)
	if bad.SyncState != types.SyncPending {
		t.Errorf("rejected event state = %v, want pending", bad.SyncState)
	}
	if bad.SyncAttempts != 1 {
		t.Errorf("rejected event attempts = %d, want 1", bad.SyncAttempts)
	}
	if bad.Flagged {
		t.Error("rejected event flagged before exhausting its attempts")
	}
	if bad.FailReason != "schema_mismatch" {
		t.Errorf("FailReason = %q", bad.FailReason)
	}
	if bad.BatchID != "" {
		t.Errorf("rejected event still claimed by batch %q", bad.BatchID)
	}

	// And it is eligible for re-batching.
	next, err := s.ClaimBatch(ctx, "batch-2", 10)
	if err != nil {
		t.Fatal(err)
	}
	if next == nil || len(next.EventIDs) != 1 || next.EventIDs[0] != e2.ID {
		t.Fatalf("rejected event not re-claimable: %+v", next)
	}
}

func TestRejectedMemberFailsAtAttemptCap(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ev := makeEvent(t, time.Now())
	mustAppend(t, s, ev)
	rejected := map[types.EventID]string{ev.ID: "schema_mismatch"}

	// First rejection: one attempt charged, still under the cap of 2.
	b1, _ := s.ClaimBatch(ctx, "batch-1", 10)
	if err := s.MarkBatchInFlight(ctx, b1.ID); err != nil {
		t.Fatal(err)
	}
	if err := s.CompleteBatch(ctx, b1.ID, nil, rejected, 2); err != nil {
		t.Fatal(err)
	}
	got, _ := s.Get(ctx, ev.ID)
	if got.SyncState != types.SyncPending || got.SyncAttempts != 1 {
		t.Fatalf("after first rejection: state=%v attempts=%d", got.SyncState, got.SyncAttempts)
	}

	// Second rejection reaches the cap: terminal failed, flagged.
	b2, _ := s.ClaimBatch(ctx, "batch-2", 10)
	if err := s.MarkBatchInFlight(ctx, b2.ID); err != nil {
		t.Fatal(err)
	}
	if err := s.CompleteBatch(ctx, b2.ID, nil, rejected, 2); err != nil {
		t.Fatal(err)
	}
	got, _ = s.Get(ctx, ev.ID)
	if got.SyncState != types.SyncFailed || !got.Flagged {
		t.Errorf("at cap: state=%v flagged=%v, want terminal failed", got.SyncState, got.Flagged)
	}
	if got.SyncAttempts != 2 {
		t.Errorf("attempts = %d, want 2", got.SyncAttempts)
	}

	// Terminal events never return to the claimable pool.
	b3, err := s.ClaimBatch(ctx, "batch-3", 10)
	if err != nil {
		t.Fatal(err)
	}
	if b3 != nil {
		t.Errorf("terminally failed event was re-claimed: %+v", b3)
	}
}

func TestRejectBatchParksMembersForReview(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now().Truncate(time.Millisecond)
	e1 := makeEvent(t, base)
	e2 := makeEvent(t, base.Add(time.Second))
	mustAppend(t, s, e1, e2)

	batch, _ := s.ClaimBatch(ctx, "batch-1", 10)
	if err := s.MarkBatchInFlight(ctx, batch.ID); err != nil {
		t.Fatal(err)
	}
	if err := s.RejectBatch(ctx, batch.ID, "schema_version_unsupported"); err != nil {
		t.Fatalf("RejectBatch failed: %v", err)
	}

	got, _ := s.GetBatch(ctx, batch.ID)
	if !got.Status.Terminal() {
		t.Errorf("Status = %s, want terminal", got.Status)
	}

	// Members stay pending but are flagged and leave the claimable pool.
	for _, id := range []types.EventID{e1.ID, e2.ID} {
		ev, _ := s.Get(ctx, id)
		if ev.SyncState != types.SyncPending {
			t.Errorf("event %s state = %v, want pending", id, ev.SyncState)
		}
		if !ev.Flagged || ev.FailReason != "schema_version_unsupported" {
			t.Errorf("event %s not parked with reason: %+v", id, ev)
		}
	}

	next, err := s.ClaimBatch(ctx, "batch-2", 10)
	if err != nil {
		t.Fatal(err)
	}
	if next != nil {
		t.Errorf("parked events were re-claimed: %+v", next)
	}

	flagged, err := s.ListFlagged(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(flagged) != 2 {
		t.Errorf("ListFlagged = %d events, want 2", len(flagged))
	}
}

func TestReleaseBatchKeepsMembershipAndAttempts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mustAppend(t, s, makeEvent(t, time.Now()))
	batch, _ := s.ClaimBatch(ctx, "batch-1", 10)

	if err := s.MarkBatchInFlight(ctx, batch.ID); err != nil {
		t.Fatal(err)
	}
	if err := s.ReleaseBatch(ctx, batch.ID, "connection refused"); err != nil {
		t.Fatalf("ReleaseBatch failed: %v", err)
	}

	got, _ := s.GetBatch(ctx, batch.ID)
	if got.Status != types.BatchOpen {
		t.Errorf("Status = %s, want open", got.Status)
	}
	if got.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1 preserved", got.Attempts)
	}
	if len(got.EventIDs) != 1 {
		t.Error("membership lost on release")
	}

	// The batch can be retried.
	if err := s.MarkBatchInFlight(ctx, batch.ID); err != nil {
		t.Fatalf("retry mark failed: %v", err)
	}
	got, _ = s.GetBatch(ctx, batch.ID)
	if got.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", got.Attempts)
	}
}

func TestMarkInFlightRequiresOpen(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mustAppend(t, s, makeEvent(t, time.Now()))
	batch, _ := s.ClaimBatch(ctx, "batch-1", 10)

	if err := s.MarkBatchInFlight(ctx, batch.ID); err != nil {
		t.Fatal(err)
	}
	if err := s.MarkBatchInFlight(ctx, batch.ID); err == nil {
		t.Error("marking an in-flight batch again must fail")
	}
}

func TestReleaseStaleBatches(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mustAppend(t, s, makeEvent(t, time.Now()))
	batch, _ := s.ClaimBatch(ctx, "batch-1", 10)
	if err := s.MarkBatchInFlight(ctx, batch.ID); err != nil {
		t.Fatal(err)
	}

	// Not yet stale.
	n, err := s.ReleaseStaleBatches(ctx, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("released %d fresh batches", n)
	}

	time.Sleep(10 * time.Millisecond)
	n, err = s.ReleaseStaleBatches(ctx, time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("released %d batches, want 1", n)
	}

	got, _ := s.GetBatch(ctx, batch.ID)
	if got.Status != types.BatchOpen {
		t.Errorf("Status = %s after stale release", got.Status)
	}
}

func TestFailBatchTerminal(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mustAppend(t, s, makeEvent(t, time.Now()))
	batch, _ := s.ClaimBatch(ctx, "batch-1", 10)

	if err := s.FailBatch(ctx, batch.ID, "attempt budget exhausted"); err != nil {
		t.Fatalf("FailBatch failed: %v", err)
	}

	got, _ := s.GetBatch(ctx, batch.ID)
	if !got.Status.Terminal() {
		t.Errorf("Status = %s, want terminal", got.Status)
	}

	ev, _ := s.Get(ctx, batch.EventIDs[0])
	if ev.SyncState != types.SyncFailed || !ev.Flagged {
		t.Errorf("member not terminally failed: %+v", ev)
	}
	if ev.FailReason != "attempt budget exhausted" {
		t.Errorf("FailReason = %q", ev.FailReason)
	}
}

func TestDeleteSyncedOlderThan(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Now().Truncate(time.Millisecond)
	old := makeEvent(t, now.Add(-100*24*time.Hour))
	oldPending := makeEvent(t, now.Add(-100*24*time.Hour).Add(time.Second))
	recent := makeEvent(t, now)
	mustAppend(t, s, old, oldPending, recent)

	// Sync only `old` and `recent`.
	batch, _ := s.ClaimBatch(ctx, "b", 10)
	if err := s.MarkBatchInFlight(ctx, batch.ID); err != nil {
		t.Fatal(err)
	}
	if err := s.CompleteBatch(ctx, batch.ID, []types.EventID{old.ID, recent.ID},
		map[types.EventID]string{oldPending.ID: "rejected"}, 8); err != nil {
		t.Fatal(err)
	}

	n, err := s.DeleteSyncedOlderThan(ctx, now.Add(-90*24*time.Hour))
	if err != nil {
		t.Fatalf("DeleteSyncedOlderThan failed: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted %d events, want 1", n)
	}

	// Only the old synced event is gone; the old undelivered event and the
	// recent synced event survive.
	if ev, _ := s.Get(ctx, old.ID); ev != nil {
		t.Error("expired synced event survived")
	}
	if ev, _ := s.Get(ctx, oldPending.ID); ev == nil {
		t.Error("unsynced event was aged out")
	}
	if ev, _ := s.Get(ctx, recent.ID); ev == nil {
		t.Error("recent synced event was aged out")
	}
}

func TestTrimOldestSynced(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now().Truncate(time.Millisecond)
	var all []types.Event
	for i := 0; i < 6; i++ {
		all = append(all, makeEvent(t, base.Add(time.Duration(i)*time.Second)))
	}
	mustAppend(t, s, all...)

	// Sync the first four.
	batch, _ := s.ClaimBatch(ctx, "b", 4)
	if err := s.MarkBatchInFlight(ctx, batch.ID); err != nil {
		t.Fatal(err)
	}
	if err := s.CompleteBatch(ctx, batch.ID, batch.EventIDs, nil, 8); err != nil {
		t.Fatal(err)
	}

	// Cap at 3: three oldest synced events are trimmed.
	n, err := s.TrimOldestSynced(ctx, 3)
	if err != nil {
		t.Fatalf("TrimOldestSynced failed: %v", err)
	}
	if n != 3 {
		t.Errorf("trimmed %d, want 3", n)
	}

	total, _ := s.TotalCount(ctx)
	if total != 3 {
		t.Errorf("TotalCount = %d", total)
	}
	// Pending events were never candidates.
	for _, ev := range all[4:] {
		if got, _ := s.Get(ctx, ev.ID); got == nil {
			t.Errorf("pending event %s trimmed", ev.ID)
		}
	}

	// Under cap: no-op.
	n, err = s.TrimOldestSynced(ctx, 100)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("trim under cap removed %d", n)
	}
}

func TestDeleteAll(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mustAppend(t, s, makeEvent(t, time.Now()), makeEvent(t, time.Now().Add(time.Second)))
	if _, err := s.ClaimBatch(ctx, "b", 10); err != nil {
		t.Fatal(err)
	}

	if err := s.DeleteAll(ctx); err != nil {
		t.Fatalf("DeleteAll failed: %v", err)
	}

	total, _ := s.TotalCount(ctx)
	if total != 0 {
		t.Errorf("TotalCount = %d after purge", total)
	}
	batch, _ := s.GetBatch(ctx, "b")
	if batch != nil {
		t.Error("batch survived purge")
	}
}

func TestCountByState(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now().Truncate(time.Millisecond)
	e1 := makeEvent(t, base)
	e2 := makeEvent(t, base.Add(time.Second))
	e3 := makeEvent(t, base.Add(2*time.Second))
	mustAppend(t, s, e1, e2, e3)

	batch, _ := s.ClaimBatch(ctx, "b", 2)
	if err := s.MarkBatchInFlight(ctx, batch.ID); err != nil {
		t.Fatal(err)
	}
	if err := s.CompleteBatch(ctx, batch.ID, []types.EventID{e1.ID},
		map[types.EventID]string{e2.ID: "bad"}, 8); err != nil {
		t.Fatal(err)
	}

	// The rejection dissolves e2 back to pending alongside unclaimed e3.
	counts, err := s.CountByState(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if counts[types.SyncSynced] != 1 || counts[types.SyncPending] != 2 {
		t.Errorf("counts = %v", counts)
	}
}
