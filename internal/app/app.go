// Package app wires the Chalkline agent together: compliance gate, durable
// capture pipeline, sync engine, retention sweeper, and the local admin
// surface, selected by mode.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	adminhttp "github.com/chalkline/chalkline/internal/api/http"
	"github.com/chalkline/chalkline/internal/audit"
	"github.com/chalkline/chalkline/internal/batch"
	"github.com/chalkline/chalkline/internal/capture"
	"github.com/chalkline/chalkline/internal/compliance"
	"github.com/chalkline/chalkline/internal/config"
	"github.com/chalkline/chalkline/internal/dedupe"
	"github.com/chalkline/chalkline/internal/journal"
	"github.com/chalkline/chalkline/internal/retention"
	"github.com/chalkline/chalkline/internal/server"
	"github.com/chalkline/chalkline/internal/storage"
	"github.com/chalkline/chalkline/internal/store"
	"github.com/chalkline/chalkline/internal/syncer"
)

// App manages the agent's service lifecycles.
type App struct {
	cfg *config.Config

	// Shared resources
	deviceID string
	gate     *compliance.Gate
	profile  *compliance.Profile
	auditor  *audit.Log
	objects  storage.ObjectStore
	events   *store.EventStore
	shutdown *server.ShutdownManager

	// Service components
	guard       *dedupe.Guard
	journal     *journal.Journal
	recorder    *capture.Recorder
	engine      *syncer.Engine
	sweeper     *retention.Sweeper
	adminServer *http.Server

	// Lifecycle
	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates an App with the given configuration.
func New(cfg *config.Config) (*App, error) {
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}

	return &App{cfg: cfg}, nil
}

// Start initializes shared resources and starts the services the mode
// selects.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("app is already running")
	}
	a.running = true
	a.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if err := a.initSharedResources(ctx); err != nil {
		a.cleanup()
		return fmt.Errorf("failed to initialize shared resources: %w", err)
	}

	if a.cfg.ShouldRunCapture() {
		if err := a.startCaptureService(ctx); err != nil {
			a.cleanup()
			return fmt.Errorf("failed to start capture service: %w", err)
		}
	}

	if a.cfg.ShouldRunSync() {
		if err := a.startSyncService(ctx); err != nil {
			a.cleanup()
			return fmt.Errorf("failed to start sync service: %w", err)
		}
	}

	if a.cfg.ShouldRunSweep() {
		if err := a.startSweepService(ctx); err != nil {
			a.cleanup()
			return fmt.Errorf("failed to start retention service: %w", err)
		}
	}

	if a.cfg.Admin.Enabled {
		if err := a.startAdminServer(ctx); err != nil {
			a.cleanup()
			return fmt.Errorf("failed to start admin server: %w", err)
		}
	}

	log.Printf("chalkline started in %s mode, device %s", a.cfg.Mode, a.deviceID)
	return nil
}

// Recorder exposes the capture entry point to embedding applications.
// Nil when the mode does not run capture.
func (a *App) Recorder() *capture.Recorder {
	return a.recorder
}

func (a *App) initSharedResources(ctx context.Context) error {
	var err error

	a.deviceID, err = a.loadOrCreateDeviceID()
	if err != nil {
		return err
	}

	a.gate = compliance.NewGate([]byte(a.cfg.HashSalt))
	a.profile = compliance.NewProfile()
	if err := a.loadProfile(); err != nil {
		log.Printf("[WARN] app: could not restore compliance profile, using defaults: %v", err)
	}
	a.auditor = audit.NewLog(0)

	switch a.cfg.Storage.Type {
	case "local":
		a.objects, err = storage.NewLocalStore(a.cfg.Storage.Path)
	case "s3":
		s3cfg := storage.S3Config{
			Region:   a.cfg.Storage.S3.Region,
			Endpoint: a.cfg.Storage.S3.Endpoint,
		}
		a.objects, err = storage.NewS3Store(ctx, a.cfg.Storage.S3.Bucket, s3cfg)
	default:
		return fmt.Errorf("unsupported storage type: %s", a.cfg.Storage.Type)
	}
	if err != nil {
		return fmt.Errorf("failed to initialize object storage: %w", err)
	}
	log.Printf("object storage initialized: type=%s", a.cfg.Storage.Type)

	a.events, err = store.NewEventStore(a.cfg.StorePath())
	if err != nil {
		return fmt.Errorf("failed to open event store: %w", err)
	}
	log.Printf("event store opened: %s", a.cfg.StorePath())

	a.shutdown = server.NewShutdownManager(server.DefaultShutdownConfig())
	return nil
}

func (a *App) startCaptureService(ctx context.Context) error {
	var err error
	a.journal, err = journal.New(a.cfg.Capture.JournalDir, a.cfg.Capture.JournalSegmentSize)
	if err != nil {
		return fmt.Errorf("failed to open journal: %w", err)
	}

	// Replay whatever the last run left behind before accepting new work.
	// Appends are idempotent, so replaying already stored events is safe.
	rec := journal.NewRecovery(a.journal, a.events)
	if _, err := rec.Recover(ctx); err != nil {
		return fmt.Errorf("journal recovery failed: %w", err)
	}

	a.guard = dedupe.NewGuard(a.cfg.Capture.MaxStoredEvents, 0.01)

	a.recorder = capture.NewRecorder(
		capture.Config{
			QueueSize:       a.cfg.Capture.QueueSize,
			MaxStoredEvents: a.cfg.Capture.MaxStoredEvents,
		},
		a.gate, a.profile, a.journal, a.events, a.auditor, a.guard,
	)
	if err := a.recorder.Start(ctx); err != nil {
		return err
	}
	log.Printf("capture pipeline started: queue=%d journal=%s",
		a.cfg.Capture.QueueSize, a.cfg.Capture.JournalDir)
	return nil
}

func (a *App) startSyncService(ctx context.Context) error {
	assembler := batch.NewAssembler(a.events, a.cfg.Sync.BatchSize, a.cfg.Sync.StaleAfter)

	var transport syncer.Transport
	switch a.cfg.Sync.Transport {
	case "http":
		transport = syncer.NewHTTPTransport(a.cfg.Sync.Endpoint, 30*time.Second, a.cfg.Sync.Compress)
	case "objectstore":
		transport = syncer.NewObjectStoreTransport(a.objects)
	default:
		return fmt.Errorf("unsupported sync transport: %s", a.cfg.Sync.Transport)
	}

	a.engine = syncer.NewEngine(
		syncer.EngineConfig{
			Interval:    a.cfg.Sync.Interval,
			MaxAttempts: a.cfg.Sync.MaxAttempts,
			Backoff:     syncer.NewBackoff(a.cfg.Sync.InitialBackoff, a.cfg.Sync.MaxBackoff),
			Device:      syncer.DeviceMeta{DeviceID: a.deviceID},
		},
		assembler, a.events, transport, a.profile, a.objects,
	)
	if err := a.engine.Start(ctx); err != nil {
		return err
	}
	log.Printf("sync engine started: transport=%s interval=%v batch=%d",
		a.cfg.Sync.Transport, a.cfg.Sync.Interval, a.cfg.Sync.BatchSize)
	return nil
}

func (a *App) startSweepService(ctx context.Context) error {
	a.sweeper = retention.NewSweeper(a.events, a.profile, a.cfg.Retention.Interval, a.cfg.Capture.MaxStoredEvents)
	if err := a.sweeper.Start(ctx); err != nil {
		return err
	}
	log.Printf("retention sweeper started: interval=%v window=%v",
		a.cfg.Retention.Interval, a.profile.RetentionWindow())
	return nil
}

func (a *App) startAdminServer(ctx context.Context) error {
	var flusher adminhttp.Flusher
	if a.engine != nil {
		flusher = a.engine
	}

	handler := adminhttp.NewAdminHandler(
		string(a.cfg.Mode), a.profile, a.auditor, a.events, flusher, a.WithdrawConsent,
	)

	mux := http.NewServeMux()
	wrapped := http.NewServeMux()
	handler.Register(mux)
	wrapped.Handle("/", server.ShutdownMiddleware(a.shutdown)(mux))

	a.adminServer = &http.Server{
		Addr:         a.cfg.Admin.Addr,
		Handler:      wrapped,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		log.Printf("admin server listening on %s", a.cfg.Admin.Addr)
		if err := a.adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[WARN] admin server error: %v", err)
		}
	}()
	return nil
}

// WithdrawConsent revokes consent and purges every locally held event, the
// journal, and the duplicate filter.
func (a *App) WithdrawConsent(ctx context.Context) error {
	var wiper retention.JournalWiper
	if a.journal != nil {
		wiper = a.journal
	}
	var filter retention.DedupeResetter
	if a.guard != nil {
		filter = a.guard
	}

	if err := retention.WithdrawConsent(ctx, a.profile, a.events, wiper, filter); err != nil {
		return err
	}
	return a.saveProfile()
}

// Stop gracefully stops all services and releases resources.
func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return nil
	}
	a.running = false
	a.mu.Unlock()

	log.Printf("chalkline shutting down")

	if a.cancel != nil {
		a.cancel()
	}

	// Capture stops first so the journal sees no writes after the final
	// drain; sync gets one more chance to flush before the store closes.
	if a.recorder != nil {
		if err := a.recorder.Stop(); err != nil {
			log.Printf("[WARN] recorder stop error: %v", err)
		}
	}
	if a.engine != nil {
		if err := a.engine.Stop(); err != nil {
			log.Printf("[WARN] sync engine stop error: %v", err)
		}
	}
	if a.sweeper != nil {
		if err := a.sweeper.Stop(); err != nil {
			log.Printf("[WARN] sweeper stop error: %v", err)
		}
	}

	if a.adminServer != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := a.adminServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("[WARN] admin server shutdown error: %v", err)
		}
		cancel()
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(15 * time.Second):
		log.Printf("[WARN] shutdown timeout, some goroutines may not have finished")
	}

	if err := a.saveProfile(); err != nil {
		log.Printf("[WARN] failed to persist compliance profile: %v", err)
	}
	a.cleanup()

	log.Printf("chalkline stopped")
	return nil
}

// WaitForShutdown blocks until a shutdown signal is received.
func (a *App) WaitForShutdown(ctx context.Context) error {
	return a.shutdown.ListenForSignals(ctx)
}

func (a *App) cleanup() {
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			log.Printf("[WARN] journal close error: %v", err)
		}
		a.journal = nil
	}
	if a.events != nil {
		if err := a.events.Close(); err != nil {
			log.Printf("[WARN] event store close error: %v", err)
		}
		a.events = nil
	}
}

// loadOrCreateDeviceID returns the configured device id, or the persisted
// one, minting and persisting a fresh id on first run. The id is random: it
// identifies the device install, never a student.
func (a *App) loadOrCreateDeviceID() (string, error) {
	if a.cfg.DeviceID != "" {
		return a.cfg.DeviceID, nil
	}

	path := a.cfg.DevicePath()
	if data, err := os.ReadFile(path); err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return id, nil
		}
	}

	id := uuid.NewString()
	if err := os.WriteFile(path, []byte(id+"\n"), 0600); err != nil {
		return "", fmt.Errorf("failed to persist device id: %w", err)
	}
	log.Printf("generated device id %s", id)
	return id, nil
}

// persistedProfile is the on-disk shape of the compliance profile. Consent
// must survive restarts; a revoked device that reboots stays revoked.
type persistedProfile struct {
	ConsentGranted         bool      `json:"consent_granted"`
	RetentionDays          int       `json:"retention_days"`
	EducationalPurposeOnly bool      `json:"educational_purpose_only"`
	UpdatedAt              time.Time `json:"updated_at"`
}

func (a *App) profilePath() string {
	return filepath.Join(a.cfg.DataDir, "profile.json")
}

func (a *App) loadProfile() error {
	data, err := os.ReadFile(a.profilePath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	var p persistedProfile
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}

	a.profile.Update(compliance.ProfileUpdate{
		ConsentGranted:         &p.ConsentGranted,
		RetentionDays:          &p.RetentionDays,
		EducationalPurposeOnly: &p.EducationalPurposeOnly,
	})
	return nil
}

func (a *App) saveProfile() error {
	s := a.profile.Snapshot()
	data, err := json.MarshalIndent(persistedProfile{
		ConsentGranted:         s.ConsentGranted,
		RetentionDays:          s.RetentionDays,
		EducationalPurposeOnly: s.EducationalPurposeOnly,
		UpdatedAt:              s.UpdatedAt,
	}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(a.profilePath(), append(data, '\n'), 0600)
}
