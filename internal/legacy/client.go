package legacy

import (
	"log"
	"strings"
	"sync"

	"geobridge/internal/debuglog"
	"geobridge/internal/fix"
)

// State of the provider-acquisition machine.
type State string

const (
	// Idle: no backend session.
	Idle State = "idle"
	// Acquiring: master session created, requirements submitted, awaiting
	// provider selection.
	Acquiring State = "acquiring"
	// Tracking: a concrete provider is selected and its telemetry signals
	// are subscribed.
	Tracking State = "tracking"
)

// ProviderObject is the object path used for hardware-reference calls on a
// selected provider.
func ProviderObject(service, path string) string {
	return "provider/" + service + "/" + strings.TrimPrefix(path, "/")
}

// Client owns the single legacy provider session: the master session
// handle, the selected provider, and the merged telemetry stream. Fixes
// are handed to the injected emitter; no other component touches the
// hardware reference.
type Client struct {
	backend Backend
	emit    func(fix.Fix)
	merger  fix.Merger

	mu       sync.Mutex
	state    State
	session  string
	provider ProviderChange
}

func NewClient(backend Backend, emit func(fix.Fix)) *Client {
	return &Client{backend: backend, emit: emit, state: Idle}
}

// State returns the current acquisition state.
func (c *Client) State() State {
	if c == nil {
		return Idle
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Provider returns the currently selected provider, if tracking.
func (c *Client) Provider() (ProviderChange, bool) {
	if c == nil {
		return ProviderChange{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.provider, c.state == Tracking
}

// StartTracking ensures a master session exists and moves toward
// Acquiring. Idempotent: a call while already Acquiring or Tracking is a
// no-op. Any backend failure is reported and leaves the client Idle; the
// next StartTracking retries from scratch.
func (c *Client) StartTracking() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Idle {
		log.Printf("legacy start: already tracking state=%s", c.state)
		return
	}

	session, err := c.backend.CreateSession(c.handleProviderChanged)
	if err != nil {
		log.Printf("legacy start: create session failed: %v", err)
		return
	}
	log.Printf("legacy master session created session=%s", session)

	// The master session holds a hardware reference of its own. A failed
	// AddReference leaves the backend's refcount off but the session is
	// still usable; keep going.
	if err := c.backend.AddReference(session); err != nil {
		log.Printf("legacy start: add reference on session failed: %v", err)
	}

	if err := c.backend.SetRequirements(session, DefaultRequirements()); err != nil {
		log.Printf("legacy start: set requirements failed: %v", err)
		c.releaseSessionLocked(session)
		return
	}

	if err := c.backend.PositionStart(session); err != nil {
		log.Printf("legacy start: position start failed: %v", err)
		c.releaseSessionLocked(session)
		return
	}

	c.session = session
	c.state = Acquiring
	log.Printf("legacy acquiring: awaiting provider selection")
}

// StopTracking tears everything down best-effort and returns to Idle.
// Safe to call from any state, including Idle, and fully re-entrant with
// StartTracking: a subsequent start creates a fresh master session.
func (c *Client) StopTracking() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == Idle && c.session == "" {
		log.Printf("legacy stop: not tracking")
		return
	}
	log.Printf("legacy stop: tearing down session=%s", c.session)

	c.dropProviderLocked()

	if c.session != "" {
		if err := c.backend.RemoveReference(c.session); err != nil {
			log.Printf("legacy stop: remove reference on session failed: %v", err)
		}
		c.releaseSessionLocked(c.session)
	}

	c.merger.Reset()
	c.state = Idle
	log.Printf("legacy stop: done")
}

// releaseSessionLocked drops the master session handle. Failures are
// reported; teardown continues regardless.
func (c *Client) releaseSessionLocked(session string) {
	if err := c.backend.ReleaseSession(session); err != nil {
		log.Printf("legacy release session failed session=%s: %v", session, err)
	}
	c.session = ""
}

// dropProviderLocked unsubscribes telemetry and releases the provider's
// hardware reference, best-effort.
func (c *Client) dropProviderLocked() {
	if c.provider.Service == "" {
		return
	}
	p := c.provider
	if err := c.backend.UnsubscribeTelemetry(p.Service, p.Path); err != nil {
		log.Printf("legacy unsubscribe telemetry failed service=%s path=%s: %v", p.Service, p.Path, err)
	}
	if err := c.backend.RemoveReference(ProviderObject(p.Service, p.Path)); err != nil {
		log.Printf("legacy remove reference on provider failed service=%s path=%s: %v", p.Service, p.Path, err)
	}
	c.provider = ProviderChange{}
}

// handleProviderChanged reacts to a provider-selection notification from
// the backend: release the previous provider, acquire a reference on the
// new one, subscribe its telemetry, transition to Tracking.
func (c *Client) handleProviderChanged(pc ProviderChange) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == Idle {
		log.Printf("legacy provider change while idle, ignoring service=%s path=%s", pc.Service, pc.Path)
		return
	}

	// The backend may announce an empty provider while still deciding.
	if pc.Service == "" || pc.Path == "" {
		log.Printf("legacy provider change: empty service/path, ignoring")
		return
	}

	log.Printf("legacy provider selected name=%q service=%s path=%s", pc.Name, pc.Service, pc.Path)

	c.dropProviderLocked()

	if err := c.backend.AddReference(ProviderObject(pc.Service, pc.Path)); err != nil {
		// Provider might still be usable, but the refcount may be off.
		log.Printf("legacy add reference on provider failed: %v", err)
	}

	if err := c.backend.SubscribeTelemetry(pc.Service, pc.Path, c.handlePosition, c.handleVelocity); err != nil {
		log.Printf("legacy subscribe telemetry failed service=%s path=%s: %v", pc.Service, pc.Path, err)
		if err := c.backend.RemoveReference(ProviderObject(pc.Service, pc.Path)); err != nil {
			log.Printf("legacy remove reference on provider failed: %v", err)
		}
		return
	}

	c.provider = pc
	c.state = Tracking
}

func (c *Client) handlePosition(p PositionSample) {
	if c == nil {
		return
	}
	debuglog.Printf("legacy position lat=%.6f lon=%.6f alt=%.1f acc=%.1f", p.Latitude, p.Longitude, p.Altitude, p.AccuracyH)
	f := c.merger.MergePosition(p.Timestamp, p.Latitude, p.Longitude, p.Altitude, p.AccuracyH)
	if c.emit != nil {
		c.emit(f)
	}
}

func (c *Client) handleVelocity(v VelocitySample) {
	if c == nil {
		return
	}
	debuglog.Printf("legacy velocity speed=%.1f direction=%.1f climb=%.1f", v.Speed, v.Direction, v.Climb)
	c.merger.SetVelocity(v.Speed, v.Direction, v.Climb)
}
