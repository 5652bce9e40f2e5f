package web

import (
	"sync"
	"time"

	"geobridge/internal/fix"
	"geobridge/internal/session"
)

// Status collects a small, UI-friendly view of the bridge for the debug
// surface. It is written from the lifecycle/tracking/fix paths and read
// by the HTTP handlers; intended for bring-up and verification, not as an
// operational API.
type Status struct {
	startUTC time.Time

	mu          sync.RWMutex
	inUse       bool
	activeCount int
	fixesTotal  uint64
	lastFix     *fix.Fix

	sessions func() []session.Snapshot
	tracking func() (state, provider string)
}

func NewStatus(sessions func() []session.Snapshot) *Status {
	return &Status{
		startUTC: time.Now().UTC(),
		sessions: sessions,
	}
}

// SetTrackingSource installs a live probe for the provider-acquisition
// state, queried on every snapshot.
func (s *Status) SetTrackingSource(f func() (state, provider string)) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.tracking = f
	s.mu.Unlock()
}

func (s *Status) SetInUse(inUse bool, activeCount int) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.inUse = inUse
	s.activeCount = activeCount
	s.mu.Unlock()
}

func (s *Status) MarkFix(f fix.Fix) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.fixesTotal++
	cp := f
	s.lastFix = &cp
	s.mu.Unlock()
}

type StatusSnapshot struct {
	Service       string             `json:"service"`
	NowUTC        string             `json:"now_utc"`
	UptimeSec     int64              `json:"uptime_sec"`
	InUse         bool               `json:"in_use"`
	ActiveCount   int                `json:"active_count"`
	TrackingState string             `json:"tracking_state"`
	Provider      string             `json:"provider,omitempty"`
	FixesTotal    uint64             `json:"fixes_total"`
	LastFix       *fix.Fix           `json:"last_fix,omitempty"`
	Sessions      []session.Snapshot `json:"sessions"`
}

func (s *Status) Snapshot(nowUTC time.Time) StatusSnapshot {
	if s == nil {
		return StatusSnapshot{}
	}
	if nowUTC.IsZero() {
		nowUTC = time.Now().UTC()
	}

	s.mu.RLock()
	snap := StatusSnapshot{
		Service:       "geobridge",
		NowUTC:        nowUTC.UTC().Format(time.RFC3339Nano),
		UptimeSec:     int64(nowUTC.Sub(s.startUTC).Seconds()),
		InUse:         s.inUse,
		ActiveCount:   s.activeCount,
		TrackingState: "idle",
		FixesTotal:    s.fixesTotal,
	}
	if s.lastFix != nil {
		cp := *s.lastFix
		snap.LastFix = &cp
	}
	tracking := s.tracking
	s.mu.RUnlock()

	if tracking != nil {
		snap.TrackingState, snap.Provider = tracking()
	}

	if s.sessions != nil {
		snap.Sessions = s.sessions()
	}
	if snap.Sessions == nil {
		snap.Sessions = []session.Snapshot{}
	}
	return snap
}
