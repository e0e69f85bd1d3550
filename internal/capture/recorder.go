// Package capture implements the recording pipeline: instrumented apps hand
// raw interactions to the Recorder, which sanitizes, journals, and stores
// them off the caller's goroutine.
package capture

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chalkline/chalkline/internal/audit"
	"github.com/chalkline/chalkline/internal/compliance"
	"github.com/chalkline/chalkline/internal/dedupe"
	"github.com/chalkline/chalkline/internal/errors"
	"github.com/chalkline/chalkline/pkg/types"
)

// RawEvent is an unsanitized interaction as submitted by an instrumented
// activity. Correlation ids arrive raw and never leave this package
// unhashed.
type RawEvent struct {
	SessionID     string
	ClassroomID   string
	FacilitatorID string

	LessonID   string
	ActivityID string

	InteractionType    string
	BehavioralCategory string

	Fields map[string]types.Value

	OccurredAt time.Time
}

// Journal is the durability layer the recorder writes through.
type Journal interface {
	Append(event types.Event) (uint64, error)
	Checkpoint(ackedSeq uint64) error
}

// Store is the slice of the event store the recorder needs.
type Store interface {
	Append(ctx context.Context, event types.Event) error
	TrimOldestSynced(ctx context.Context, maxEvents int) (int64, error)
}

// Config holds recorder configuration.
type Config struct {
	// QueueSize is the capacity of the submission queue. A full queue
	// drops new submissions rather than blocking the instrumented app.
	QueueSize int

	// MaxStoredEvents caps the local store; the oldest synced events are
	// trimmed past it.
	MaxStoredEvents int

	// CheckpointEvery is how many stored events may accumulate before the
	// journal is checkpointed. Journal entries the store has applied are
	// pruned so a later replay cannot resurrect events the retention
	// sweep deletes in the meantime.
	CheckpointEvery int
}

// Recorder is the capture pipeline front end. Record is fire-and-forget:
// validation and persistence happen on the worker goroutine.
type Recorder struct {
	cfg     Config
	gate    *compliance.Gate
	profile *compliance.Profile
	journal Journal
	store   Store
	auditor *audit.Log
	guard   *dedupe.Guard
	gen     *types.IDGenerator

	queue chan RawEvent

	// Checkpoint bookkeeping, touched only by the worker goroutine.
	ackedSeq        uint64
	sinceCheckpoint int
	replayNeeded    bool

	dropped  atomic.Int64
	rejected atomic.Int64
	accepted atomic.Int64

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewRecorder creates a recorder.
func NewRecorder(cfg Config, gate *compliance.Gate, profile *compliance.Profile,
	jnl Journal, store Store, auditor *audit.Log, guard *dedupe.Guard) *Recorder {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.CheckpointEvery <= 0 {
		cfg.CheckpointEvery = 64
	}
	return &Recorder{
		cfg:     cfg,
		gate:    gate,
		profile: profile,
		journal: jnl,
		store:   store,
		auditor: auditor,
		guard:   guard,
		gen:     types.NewIDGenerator(),
		queue:   make(chan RawEvent, cfg.QueueSize),
	}
}

// Start launches the worker goroutine. It runs until the context is
// cancelled or Stop is called.
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("capture: recorder is already running")
	}

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.running = true
	r.done = make(chan struct{})
	r.mu.Unlock()

	go r.run(ctx)
	return nil
}

// Stop drains the queue and stops the worker.
func (r *Recorder) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running {
		return nil
	}

	r.cancel()
	<-r.done
	r.running = false
	return nil
}

// Record submits a raw event. It never blocks: when the queue is full the
// submission is dropped and counted, which is the documented behavior for a
// device under sustained pressure.
func (r *Recorder) Record(raw RawEvent) {
	select {
	case r.queue <- raw:
	default:
		n := r.dropped.Add(1)
		if n%100 == 1 {
			log.Printf("[WARN] capture: queue full, %d submissions dropped so far", n)
		}
	}
}

// Stats returns lifetime pipeline counters: accepted, rejected, dropped.
func (r *Recorder) Stats() (accepted, rejected, dropped int64) {
	return r.accepted.Load(), r.rejected.Load(), r.dropped.Load()
}

// run is the worker loop. On shutdown it drains whatever is already queued
// so acknowledged submissions are not lost.
func (r *Recorder) run(ctx context.Context) {
	defer close(r.done)

	for {
		select {
		case raw := <-r.queue:
			r.process(ctx, raw)
		case <-ctx.Done():
			for {
				select {
				case raw := <-r.queue:
					r.process(context.Background(), raw)
				default:
					r.checkpoint()
					return
				}
			}
		}
	}
}

// process runs one submission through the full pipeline.
func (r *Recorder) process(ctx context.Context, raw RawEvent) {
	// Consent is checked per event, not per session: a withdrawal takes
	// effect for everything still in the queue.
	if !r.profile.ConsentGranted() {
		r.rejected.Add(1)
		return
	}

	if r.guard != nil && r.guard.Check(fingerprint(raw)) {
		return
	}

	category := compliance.FieldCategory(raw.BehavioralCategory)
	if !category.Valid() {
		category = compliance.CategoryBehavioral
	}

	sanitized, err := r.gate.Sanitize(raw.Fields, category)
	if err != nil {
		r.rejected.Add(1)
		if errors.IsComplianceViolation(err) {
			r.auditor.RecordViolation(
				errors.ViolationField(err),
				errors.ViolationPattern(err),
				raw.BehavioralCategory,
				raw.InteractionType,
			)
		} else {
			log.Printf("[WARN] capture: sanitize failed: %v", err)
		}
		return
	}

	id, err := r.gen.Generate()
	if err != nil {
		r.rejected.Add(1)
		log.Printf("[WARN] capture: id generation failed: %v", err)
		return
	}

	now := time.Now().UTC()
	occurred := raw.OccurredAt
	if occurred.IsZero() {
		occurred = now
	}

	event := types.Event{
		ID:                 id,
		SessionHash:        r.gate.HashKey(raw.SessionID),
		ClassroomHash:      r.gate.HashKey(raw.ClassroomID),
		FacilitatorHash:    r.gate.HashKey(raw.FacilitatorID),
		LessonID:           raw.LessonID,
		ActivityID:         raw.ActivityID,
		InteractionType:    raw.InteractionType,
		BehavioralCategory: raw.BehavioralCategory,
		Indicators:         sanitized.Fields,
		OccurredAt:         occurred,
		RecordedAt:         now,
		Provenance:         sanitized.Provenance,
		SyncState:          types.SyncPending,
	}

	// Journal first: once the fsync returns, a crash cannot lose the
	// event even if the store insert below never happens.
	seq, err := r.journal.Append(event)
	if err != nil {
		log.Printf("[WARN] capture: journal append failed: %v", err)
		seq = 0
	}

	if err := r.store.Append(ctx, event); err != nil {
		// The journaled copy replays on next startup. It is now the only
		// copy, so checkpoints stop until that replay happens.
		log.Printf("[WARN] capture: store append failed, event stays journaled: %v", err)
		if seq > 0 {
			r.replayNeeded = true
		}
		return
	}

	r.accepted.Add(1)

	if seq > 0 {
		r.ackedSeq = seq
		r.sinceCheckpoint++
		if r.sinceCheckpoint >= r.cfg.CheckpointEvery {
			r.checkpoint()
		}
	}

	if r.cfg.MaxStoredEvents > 0 {
		if n, err := r.store.TrimOldestSynced(ctx, r.cfg.MaxStoredEvents); err != nil {
			log.Printf("[WARN] capture: trim failed: %v", err)
		} else if n > 0 {
			log.Printf("capture: trimmed %d synced events to stay under cap", n)
		}
	}
}

// checkpoint prunes journal entries the store has acknowledged. Held back
// while a journal-only event exists: startup replay is what recovers it.
func (r *Recorder) checkpoint() {
	if r.ackedSeq == 0 || r.sinceCheckpoint == 0 || r.replayNeeded {
		return
	}
	if err := r.journal.Checkpoint(r.ackedSeq); err != nil {
		log.Printf("[WARN] capture: journal checkpoint failed: %v", err)
		return
	}
	r.sinceCheckpoint = 0
}

// fingerprint derives the dedupe key. Two submissions with the same session,
// interaction, and occurrence time are the same event resent.
func fingerprint(raw RawEvent) []byte {
	return []byte(fmt.Sprintf("%s|%s|%s|%s|%d",
		raw.SessionID, raw.ActivityID, raw.InteractionType,
		raw.BehavioralCategory, raw.OccurredAt.UnixMilli()))
}
