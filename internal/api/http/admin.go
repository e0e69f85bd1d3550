package http

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/chalkline/chalkline/internal/audit"
	"github.com/chalkline/chalkline/internal/compliance"
	"github.com/chalkline/chalkline/pkg/types"
)

// StatsStore is the read-only slice of the event store the admin surface
// reports on.
type StatsStore interface {
	CountByState(ctx context.Context) (map[types.SyncState]int64, error)
	TotalCount(ctx context.Context) (int64, error)
	ListFlagged(ctx context.Context, limit int) ([]types.Event, error)
}

// Flusher forces a sync cycle ahead of schedule.
type Flusher interface {
	RunOnce(ctx context.Context) error
}

// Withdrawer executes a full consent withdrawal, purge included.
type Withdrawer func(ctx context.Context) error

// AdminHandler serves the facilitator's local endpoints. Every dependency is
// optional except the profile; a handler whose dependency is absent answers
// 404, which is how single-mode processes surface what they do not run.
type AdminHandler struct {
	mode     string
	profile  *compliance.Profile
	auditor  *audit.Log
	store    StatsStore
	flusher  Flusher
	withdraw Withdrawer
}

// NewAdminHandler creates the admin handler.
func NewAdminHandler(mode string, profile *compliance.Profile, auditor *audit.Log,
	store StatsStore, flusher Flusher, withdraw Withdrawer) *AdminHandler {
	return &AdminHandler{
		mode:     mode,
		profile:  profile,
		auditor:  auditor,
		store:    store,
		flusher:  flusher,
		withdraw: withdraw,
	}
}

// Register installs the admin routes on a mux.
func (h *AdminHandler) Register(mux *http.ServeMux) {
	middleware := ChainMiddleware(
		RecoveryMiddleware,
		RequestIDMiddleware,
		ContentTypeMiddleware,
	)
	mux.Handle("/health", middleware(http.HandlerFunc(h.handleHealth)))
	mux.Handle("/v1/consent", middleware(http.HandlerFunc(h.handleConsent)))
	mux.Handle("/v1/audit", middleware(http.HandlerFunc(h.handleAudit)))
	mux.Handle("/v1/events/flagged", middleware(http.HandlerFunc(h.handleFlagged)))
	mux.Handle("/v1/sync/flush", middleware(http.HandlerFunc(h.handleFlush)))
}

func (h *AdminHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"status": "healthy",
		"mode":   h.mode,
	}
	if h.store != nil {
		if counts, err := h.store.CountByState(r.Context()); err == nil {
			states := make(map[string]int64, len(counts))
			for s, n := range counts {
				states[s.String()] = n
			}
			resp["events"] = states
		}
		if total, err := h.store.TotalCount(r.Context()); err == nil {
			resp["total_events"] = total
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleConsent reads or updates the compliance profile. Withdrawing consent
// through this endpoint triggers the full local purge.
func (h *AdminHandler) handleConsent(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, profileResponse(h.profile.Snapshot()))

	case http.MethodPost:
		var req struct {
			ConsentGranted         *bool `json:"consent_granted"`
			RetentionDays          *int  `json:"retention_days"`
			EducationalPurposeOnly *bool `json:"educational_purpose_only"`
		}
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body", GetRequestID(r.Context()))
			return
		}

		if req.ConsentGranted != nil && !*req.ConsentGranted {
			if h.withdraw == nil {
				writeError(w, http.StatusNotFound, "withdrawal not available in this mode", GetRequestID(r.Context()))
				return
			}
			if err := h.withdraw(r.Context()); err != nil {
				writeError(w, http.StatusInternalServerError, err.Error(), GetRequestID(r.Context()))
				return
			}
			// Retention preference changes may ride along with a withdrawal.
			req.ConsentGranted = nil
		}

		state := h.profile.Update(compliance.ProfileUpdate{
			ConsentGranted:         req.ConsentGranted,
			RetentionDays:          req.RetentionDays,
			EducationalPurposeOnly: req.EducationalPurposeOnly,
		})
		writeJSON(w, http.StatusOK, profileResponse(state))

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", GetRequestID(r.Context()))
	}
}

func (h *AdminHandler) handleAudit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", GetRequestID(r.Context()))
		return
	}
	if h.auditor == nil {
		writeError(w, http.StatusNotFound, "audit log not available in this mode", GetRequestID(r.Context()))
		return
	}

	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			limit = n
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total":  h.auditor.Total(),
		"counts": h.auditor.Counts(),
		"recent": h.auditor.Recent(limit),
	})
}

func (h *AdminHandler) handleFlagged(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", GetRequestID(r.Context()))
		return
	}
	if h.store == nil {
		writeError(w, http.StatusNotFound, "store not available in this mode", GetRequestID(r.Context()))
		return
	}

	limit := 100
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			limit = n
		}
	}

	events, err := h.store.ListFlagged(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list flagged events", GetRequestID(r.Context()))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": events})
}

// handleFlush kicks a sync cycle; used before planned device handoffs.
func (h *AdminHandler) handleFlush(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", GetRequestID(r.Context()))
		return
	}
	if h.flusher == nil {
		writeError(w, http.StatusNotFound, "sync engine not available in this mode", GetRequestID(r.Context()))
		return
	}

	go func() {
		if err := h.flusher.RunOnce(context.Background()); err != nil {
			// The engine logs its own failures; nothing to surface here.
			_ = err
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func decodeBody(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func profileResponse(s compliance.ProfileState) map[string]interface{} {
	return map[string]interface{}{
		"consent_granted":          s.ConsentGranted,
		"anonymous_only":           s.AnonymousOnly,
		"retention_days":           s.RetentionDays,
		"educational_purpose_only": s.EducationalPurposeOnly,
		"updated_at":               s.UpdatedAt,
	}
}
