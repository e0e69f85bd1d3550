// Package retention enforces the two bounds on local data: how long synced
// events may linger, and how many events the device may hold at all.
package retention

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// SweepStore is the slice of the event store the sweeper drives.
type SweepStore interface {
	DeleteSyncedOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	TrimOldestSynced(ctx context.Context, maxEvents int) (int64, error)
}

// WindowSource supplies the current retention window. The window is
// profile-driven and may shrink between sweeps; the next sweep applies the
// new bound to everything already stored.
type WindowSource interface {
	RetentionWindow() time.Duration
}

// Sweeper periodically deletes synced events past the retention window and
// trims the store back under its size cap. Unsynced events are never
// touched: data that has not reached the collector is not the sweeper's to
// discard.
type Sweeper struct {
	store     SweepStore
	window    WindowSource
	interval  time.Duration
	maxEvents int
	now       func() time.Time

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSweeper creates a sweeper. maxEvents of zero disables the size cap.
func NewSweeper(store SweepStore, window WindowSource, interval time.Duration, maxEvents int) *Sweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Sweeper{
		store:     store,
		window:    window,
		interval:  interval,
		maxEvents: maxEvents,
		now:       time.Now,
	}
}

// Start launches the sweep loop.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("retention: sweeper is already running")
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.run(ctx)
	return nil
}

// Stop halts the sweep loop.
func (s *Sweeper) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	s.cancel()
	<-s.done
	s.running = false
	return nil
}

func (s *Sweeper) run(ctx context.Context) {
	defer close(s.done)

	if err := s.RunSweep(ctx); err != nil {
		log.Printf("[WARN] retention: sweep failed: %v", err)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.RunSweep(ctx); err != nil {
				log.Printf("[WARN] retention: sweep failed: %v", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// RunSweep executes one sweep: age-out first, then the size cap.
func (s *Sweeper) RunSweep(ctx context.Context) error {
	cutoff := s.now().Add(-s.window.RetentionWindow())
	aged, err := s.store.DeleteSyncedOlderThan(ctx, cutoff)
	if err != nil {
		return err
	}

	var trimmed int64
	if s.maxEvents > 0 {
		trimmed, err = s.store.TrimOldestSynced(ctx, s.maxEvents)
		if err != nil {
			return err
		}
	}

	if aged > 0 || trimmed > 0 {
		log.Printf("retention: sweep deleted %d aged and %d over-cap events", aged, trimmed)
	}
	return nil
}
