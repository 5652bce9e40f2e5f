package session

import (
	"log"
	"sync"

	"geobridge/internal/debuglog"
	"geobridge/internal/fix"
)

// Hooks receives active-flag transitions. A transition fires exactly once:
// starting an already-active session (or stopping an already-stopped one)
// succeeds without firing.
type Hooks interface {
	SessionActivated()
	SessionDeactivated()
}

// Notifier announces session state outward to the owning consumer.
type Notifier interface {
	PropertiesChanged(snap Snapshot)
	LocationUpdated(handle, oldFix, newFix string)
	SessionDestroyed(handle string)
}

// Snapshot is the externally visible state of a session.
type Snapshot struct {
	Handle                 string `json:"handle"`
	Peer                   string `json:"peer"`
	Active                 bool   `json:"active"`
	Location               string `json:"location"`
	DesktopID              string `json:"desktop_id,omitempty"`
	RequestedAccuracyLevel int    `json:"requested_accuracy_level"`
	DistanceThreshold      uint32 `json:"distance_threshold"`
	TimeThreshold          uint32 `json:"time_threshold"`
}

// Session is one consumer's subscription. The accuracy level and the
// distance/time thresholds are advisory metadata: accepted, stored,
// unenforced.
type Session struct {
	handle string
	peer   string

	hooks  Hooks
	notify Notifier

	mu                sync.Mutex
	active            bool
	location          string
	desktopID         string
	accuracyLevel     int
	distanceThreshold uint32
	timeThreshold     uint32
}

func newSession(handle, peer string, hooks Hooks, notify Notifier) *Session {
	return &Session{
		handle:   handle,
		peer:     peer,
		hooks:    hooks,
		notify:   notify,
		location: fix.NoneHandle,
	}
}

func (s *Session) Handle() string { return s.handle }
func (s *Session) Peer() string   { return s.peer }

func (s *Session) Active() bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *Session) Snapshot() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	return Snapshot{
		Handle:                 s.handle,
		Peer:                   s.peer,
		Active:                 s.active,
		Location:               s.location,
		DesktopID:              s.desktopID,
		RequestedAccuracyLevel: s.accuracyLevel,
		DistanceThreshold:      s.distanceThreshold,
		TimeThreshold:          s.timeThreshold,
	}
}

// Start activates the session. Idempotent: a second Start is a no-op that
// still succeeds and fires no lifecycle transition.
func (s *Session) Start() {
	if s == nil {
		return
	}
	s.mu.Lock()
	if s.active {
		s.mu.Unlock()
		log.Printf("session already active handle=%s", s.handle)
		return
	}
	s.active = true
	snap := s.snapshotLocked()
	s.mu.Unlock()

	log.Printf("session activated handle=%s peer=%s", s.handle, s.peer)
	if s.hooks != nil {
		s.hooks.SessionActivated()
	}
	if s.notify != nil {
		s.notify.PropertiesChanged(snap)
	}
}

// Stop deactivates the session. Idempotent like Start.
func (s *Session) Stop() {
	if s == nil {
		return
	}
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		log.Printf("session already stopped handle=%s", s.handle)
		return
	}
	s.active = false
	snap := s.snapshotLocked()
	s.mu.Unlock()

	log.Printf("session deactivated handle=%s peer=%s", s.handle, s.peer)
	if s.hooks != nil {
		s.hooks.SessionDeactivated()
	}
	if s.notify != nil {
		s.notify.PropertiesChanged(snap)
	}
}

// DeliverFix hands a freshly published fix to the session. Inactive
// sessions receive nothing; active ones get their location reference
// updated and a LocationUpdated announcement.
func (s *Session) DeliverFix(handle string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	old := s.location
	s.location = handle
	snap := s.snapshotLocked()
	s.mu.Unlock()

	debuglog.Printf("session fix delivered handle=%s old=%s new=%s", s.handle, old, handle)
	if s.notify != nil {
		s.notify.PropertiesChanged(snap)
		s.notify.LocationUpdated(s.handle, old, handle)
	}
}

func (s *Session) SetDesktopID(v string) {
	s.setProperty(func() { s.desktopID = v })
}

func (s *Session) SetRequestedAccuracyLevel(v int) {
	s.setProperty(func() { s.accuracyLevel = v })
}

func (s *Session) SetDistanceThreshold(v uint32) {
	s.setProperty(func() { s.distanceThreshold = v })
}

func (s *Session) SetTimeThreshold(v uint32) {
	s.setProperty(func() { s.timeThreshold = v })
}

func (s *Session) setProperty(apply func()) {
	if s == nil {
		return
	}
	s.mu.Lock()
	apply()
	snap := s.snapshotLocked()
	s.mu.Unlock()
	if s.notify != nil {
		s.notify.PropertiesChanged(snap)
	}
}
