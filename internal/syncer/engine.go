package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/chalkline/chalkline/internal/errors"
	"github.com/chalkline/chalkline/internal/storage"
	"github.com/chalkline/chalkline/pkg/types"
)

// BatchStore is the slice of the event store the engine drives.
type BatchStore interface {
	BatchEvents(ctx context.Context, batchID string) ([]types.Event, error)
	MarkBatchInFlight(ctx context.Context, batchID string) error
	CompleteBatch(ctx context.Context, batchID string, accepted []types.EventID, rejected map[types.EventID]string, maxAttempts int) error
	ReleaseBatch(ctx context.Context, batchID, reason string) error
	RejectBatch(ctx context.Context, batchID, reason string) error
	FailBatch(ctx context.Context, batchID, reason string) error
}

// BatchSource hands the engine the next batch to deliver.
type BatchSource interface {
	Next(ctx context.Context) (*types.Batch, error)
	RecoverStale(ctx context.Context) error
}

// ConsentChecker gates the whole engine: no consent, no uploads.
type ConsentChecker interface {
	ConsentGranted() bool
}

// EngineConfig holds sync engine configuration.
type EngineConfig struct {
	// Interval between sync cycles.
	Interval time.Duration
	// MaxAttempts is the delivery attempt cap per batch. A batch that
	// exhausts it is failed and its events flagged for review.
	MaxAttempts int
	// Backoff spaces retries of a failing batch.
	Backoff Backoff
	// Device identifies this device to the collector.
	Device DeviceMeta
}

// EngineStats are lifetime engine counters.
type EngineStats struct {
	BatchesCommitted int64
	BatchesPartial   int64
	BatchesFailed    int64
	EventsSynced     int64
	EventsRejected   int64
	Deferrals        int64
}

// Engine is the sync daemon. Each cycle it recovers stranded batches, then
// delivers open batches oldest-first until the store is drained, the network
// fails, or a batch is still inside its backoff window.
type Engine struct {
	cfg       EngineConfig
	source    BatchSource
	store     BatchStore
	transport Transport
	consent   ConsentChecker
	flagged   storage.ObjectStore

	// nextAttempt holds per-batch earliest retry times. Backoff state is
	// advisory; the attempt counter that actually caps retries is in the
	// store and survives restarts.
	attemptMu   sync.Mutex
	nextAttempt map[string]time.Time

	statsMu sync.RWMutex
	stats   EngineStats

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewEngine creates a sync engine. flagged may be nil; when set, batches
// that exhaust the attempt cap are exported there for offline review.
func NewEngine(cfg EngineConfig, source BatchSource, store BatchStore,
	transport Transport, consent ConsentChecker, flagged storage.ObjectStore) *Engine {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 8
	}
	return &Engine{
		cfg:         cfg,
		source:      source,
		store:       store,
		transport:   transport,
		consent:     consent,
		flagged:     flagged,
		nextAttempt: make(map[string]time.Time),
	}
}

// Start launches the sync loop.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return fmt.Errorf("syncer: engine is already running")
	}

	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.running = true
	e.done = make(chan struct{})
	e.mu.Unlock()

	go e.run(ctx)
	return nil
}

// Stop halts the sync loop. An in-progress delivery finishes first.
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return nil
	}

	e.cancel()
	<-e.done
	e.running = false
	return nil
}

// Stats returns a copy of the lifetime counters.
func (e *Engine) Stats() EngineStats {
	e.statsMu.RLock()
	defer e.statsMu.RUnlock()
	return e.stats
}

func (e *Engine) run(ctx context.Context) {
	defer close(e.done)

	if err := e.RunOnce(ctx); err != nil {
		log.Printf("[WARN] syncer: sync cycle failed: %v", err)
	}

	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := e.RunOnce(ctx); err != nil {
				log.Printf("[WARN] syncer: sync cycle failed: %v", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// RunOnce executes a single sync cycle. Exported so operators can force a
// flush ahead of schedule (device shutdown, end of school day).
func (e *Engine) RunOnce(ctx context.Context) error {
	if !e.consent.ConsentGranted() {
		return nil
	}

	if err := e.source.RecoverStale(ctx); err != nil {
		return err
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		batch, err := e.source.Next(ctx)
		if err != nil {
			return err
		}
		if batch == nil {
			return nil
		}

		proceed, err := e.deliver(ctx, batch)
		if err != nil {
			return err
		}
		if !proceed {
			return nil
		}
	}
}

// deliver attempts one batch. The bool result says whether the cycle should
// move on to the next batch: a transient failure or a backoff deferral ends
// the cycle, since later batches would hit the same network.
func (e *Engine) deliver(ctx context.Context, batch *types.Batch) (bool, error) {
	if batch.Attempts >= e.cfg.MaxAttempts {
		return true, e.failBatch(ctx, batch)
	}

	if wait := e.untilNextAttempt(batch.ID); wait > 0 {
		e.bump(func(s *EngineStats) { s.Deferrals++ })
		log.Printf("syncer: batch %s backing off for %v (attempt %d)", batch.ID, wait.Round(time.Millisecond), batch.Attempts)
		return false, nil
	}

	events, err := e.store.BatchEvents(ctx, batch.ID)
	if err != nil {
		return false, err
	}
	if len(events) == 0 {
		// Every member already reached a terminal state out of band.
		return true, e.store.CompleteBatch(ctx, batch.ID, nil, nil, e.cfg.MaxAttempts)
	}

	if err := e.store.MarkBatchInFlight(ctx, batch.ID); err != nil {
		return false, err
	}
	attempts := batch.Attempts + 1

	result, err := e.transport.Send(ctx, UploadRequest{
		BatchID: batch.ID,
		Device:  e.cfg.Device,
		Events:  events,
	})
	if err != nil {
		if errors.IsRetryable(err) {
			delay := e.cfg.Backoff.Delay(attempts)
			e.setNextAttempt(batch.ID, delay)
			log.Printf("[WARN] syncer: batch %s delivery failed (attempt %d/%d), retrying in %v: %v",
				batch.ID, attempts, e.cfg.MaxAttempts, delay.Round(time.Millisecond), err)
			return false, e.store.ReleaseBatch(ctx, batch.ID, err.Error())
		}

		// Permanent rejection dissolves the batch: members go back to
		// pending but flagged, parked for manual review instead of
		// automatic re-batching.
		log.Printf("[WARN] syncer: batch %s rejected permanently: %v", batch.ID, err)
		e.clearNextAttempt(batch.ID)
		e.bump(func(s *EngineStats) {
			s.BatchesFailed++
			s.EventsRejected += int64(len(events))
		})
		return true, e.store.RejectBatch(ctx, batch.ID, err.Error())
	}

	e.clearNextAttempt(batch.ID)
	if err := e.store.CompleteBatch(ctx, batch.ID, result.Accepted, result.Rejected, e.cfg.MaxAttempts); err != nil {
		return false, err
	}

	e.bump(func(s *EngineStats) {
		if len(result.Rejected) == 0 {
			s.BatchesCommitted++
		} else {
			s.BatchesPartial++
		}
		s.EventsSynced += int64(len(result.Accepted))
		s.EventsRejected += int64(len(result.Rejected))
	})
	log.Printf("syncer: batch %s delivered: %d accepted, %d rejected",
		batch.ID, len(result.Accepted), len(result.Rejected))
	return true, nil
}

// failBatch retires a batch that exhausted its attempt cap: members are
// flagged in the store and, when an export store is configured, the batch is
// written out for manual review.
func (e *Engine) failBatch(ctx context.Context, batch *types.Batch) error {
	reason := fmt.Sprintf("attempt cap %d reached", e.cfg.MaxAttempts)
	log.Printf("[WARN] syncer: batch %s failed: %s", batch.ID, reason)

	if e.flagged != nil {
		if err := e.exportFlagged(ctx, batch, reason); err != nil {
			log.Printf("[WARN] syncer: failed to export flagged batch %s: %v", batch.ID, err)
		}
	}

	e.clearNextAttempt(batch.ID)
	e.bump(func(s *EngineStats) {
		s.BatchesFailed++
		s.EventsRejected += int64(len(batch.EventIDs))
	})
	return e.store.FailBatch(ctx, batch.ID, reason)
}

func (e *Engine) exportFlagged(ctx context.Context, batch *types.Batch, reason string) error {
	events, err := e.store.BatchEvents(ctx, batch.ID)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(struct {
		BatchID  string        `json:"batch_id"`
		Reason   string        `json:"reason"`
		Attempts int           `json:"attempts"`
		Events   []types.Event `json:"events"`
	}{batch.ID, reason, batch.Attempts, events})
	if err != nil {
		return err
	}
	return e.flagged.Put(ctx, fmt.Sprintf("flagged/%s.json", batch.ID), payload)
}

func (e *Engine) untilNextAttempt(batchID string) time.Duration {
	e.attemptMu.Lock()
	defer e.attemptMu.Unlock()
	return time.Until(e.nextAttempt[batchID])
}

func (e *Engine) setNextAttempt(batchID string, delay time.Duration) {
	e.attemptMu.Lock()
	e.nextAttempt[batchID] = time.Now().Add(delay)
	e.attemptMu.Unlock()
}

func (e *Engine) clearNextAttempt(batchID string) {
	e.attemptMu.Lock()
	delete(e.nextAttempt, batchID)
	e.attemptMu.Unlock()
}

func (e *Engine) bump(fn func(*EngineStats)) {
	e.statsMu.Lock()
	fn(&e.stats)
	e.statsMu.Unlock()
}
