package compliance

import (
	"sync"
	"time"
)

// Retention bounds. RetentionDays is a soft cap: facilitator updates beyond
// MaxRetentionDays are clamped, not rejected.
const (
	DefaultRetentionDays = 90
	MaxRetentionDays     = 365
)

// ProfileState is a point-in-time copy of the compliance profile.
type ProfileState struct {
	ConsentGranted         bool
	AnonymousOnly          bool
	RetentionDays          int
	EducationalPurposeOnly bool
	UpdatedAt              time.Time
}

// ProfileUpdate is a partial update; nil fields are left unchanged.
// AnonymousOnly is intentionally absent: compliant mode never turns it off.
type ProfileUpdate struct {
	ConsentGranted         *bool
	RetentionDays          *int
	EducationalPurposeOnly *bool
}

// Profile is the facilitator-controlled compliance profile shared by the
// capture, sync, and retention schedulers. It is the only mutable shared
// state besides the store, and it is passed explicitly, never global.
type Profile struct {
	mu    sync.RWMutex
	state ProfileState
}

// NewProfile returns a profile in the default compliant configuration:
// consent granted, anonymous-only, 90-day retention.
func NewProfile() *Profile {
	return &Profile{
		state: ProfileState{
			ConsentGranted:         true,
			AnonymousOnly:          true,
			RetentionDays:          DefaultRetentionDays,
			EducationalPurposeOnly: true,
			UpdatedAt:              time.Now().UTC(),
		},
	}
}

// Snapshot returns a copy of the current state.
func (p *Profile) Snapshot() ProfileState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// ConsentGranted reports whether capture and sync may run.
func (p *Profile) ConsentGranted() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state.ConsentGranted
}

// RetentionWindow returns the retention window as a duration.
func (p *Profile) RetentionWindow() time.Duration {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return time.Duration(p.state.RetentionDays) * 24 * time.Hour
}

// Update applies a partial facilitator update. Retention days below 1 or
// above the soft cap are clamped.
func (p *Profile) Update(u ProfileUpdate) ProfileState {
	p.mu.Lock()
	defer p.mu.Unlock()

	if u.ConsentGranted != nil {
		p.state.ConsentGranted = *u.ConsentGranted
	}
	if u.RetentionDays != nil {
		days := *u.RetentionDays
		if days < 1 {
			days = 1
		}
		if days > MaxRetentionDays {
			days = MaxRetentionDays
		}
		p.state.RetentionDays = days
	}
	if u.EducationalPurposeOnly != nil {
		p.state.EducationalPurposeOnly = *u.EducationalPurposeOnly
	}
	p.state.UpdatedAt = time.Now().UTC()
	return p.state
}

// Revoke flips the profile into the withdrawn state. The caller (the
// retention manager) is responsible for the purge; capture and sync check
// ConsentGranted each cycle and halt on their own.
func (p *Profile) Revoke() ProfileState {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.state.ConsentGranted = false
	p.state.UpdatedAt = time.Now().UTC()
	return p.state
}
