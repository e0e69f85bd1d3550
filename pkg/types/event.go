package types

import "time"

// SyncState tracks an event's position in the delivery lifecycle.
type SyncState int

const (
	// SyncPending means the event has not yet been acknowledged by the collector.
	SyncPending SyncState = iota
	// SyncSynced means the collector has explicitly acknowledged the event id.
	// Synced events are immutable and eligible for retention cleanup.
	SyncSynced
	// SyncFailed is terminal: the event exhausted its attempt budget or was
	// permanently rejected. Failed events are never retried but still age out.
	SyncFailed
)

// String returns the state name as stored in the event store.
func (s SyncState) String() string {
	switch s {
	case SyncPending:
		return "pending"
	case SyncSynced:
		return "synced"
	case SyncFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ParseSyncState parses a stored state name.
func ParseSyncState(s string) (SyncState, bool) {
	switch s {
	case "pending":
		return SyncPending, true
	case "synced":
		return SyncSynced, true
	case "failed":
		return SyncFailed, true
	default:
		return SyncPending, false
	}
}

// Provenance is the compliance marker attached by the gate. The store refuses
// events without it: nothing reaches disk that did not pass sanitization.
type Provenance struct {
	Anonymized   bool      `json:"anonymized"`
	AnonymizedAt time.Time `json:"anonymized_at"`
	Level        string    `json:"anonymization_level"`
}

// Event is one sanitized behavioral interaction record.
type Event struct {
	ID EventID

	// SessionHash, ClassroomHash, and FacilitatorHash are salted one-way
	// digests of the original correlation keys; the raw values never persist.
	SessionHash     string
	ClassroomHash   string
	FacilitatorHash string

	LessonID   string
	ActivityID string

	InteractionType    string
	BehavioralCategory string

	// Indicators are restricted to the behavioral allowlist by the gate.
	Indicators map[string]Value

	OccurredAt time.Time
	RecordedAt time.Time

	Provenance Provenance

	SyncState     SyncState
	SyncAttempts  int
	LastAttemptAt time.Time
	FailReason    string

	// BatchID is set once the event is claimed into a batch; empty otherwise.
	BatchID string

	// Flagged marks events from permanently rejected batches for operator
	// inspection. Flagged events are not retried automatically.
	Flagged bool
}

// BatchStatus tracks a sync batch's lifecycle.
type BatchStatus string

const (
	BatchOpen            BatchStatus = "open"
	BatchInFlight        BatchStatus = "in_flight"
	BatchCommitted       BatchStatus = "committed"
	BatchPartiallyFailed BatchStatus = "partially_failed"
)

// Terminal reports whether the batch can no longer claim its members.
func (s BatchStatus) Terminal() bool {
	return s == BatchCommitted || s == BatchPartiallyFailed
}

// Batch is a bounded group of pending events claimed for one bulk upload.
// Membership is immutable once created and preserves capture order.
type Batch struct {
	ID        string
	EventIDs  []EventID
	Status    BatchStatus
	CreatedAt time.Time
	Attempts  int
}
