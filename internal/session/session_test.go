package session

import (
	"testing"

	"geobridge/internal/fix"
)

type countHooks struct {
	activated   int
	deactivated int
}

func (h *countHooks) SessionActivated()   { h.activated++ }
func (h *countHooks) SessionDeactivated() { h.deactivated++ }

type recordNotifier struct {
	props     []Snapshot
	locations [][2]string
	destroyed []string
}

func (n *recordNotifier) PropertiesChanged(snap Snapshot) { n.props = append(n.props, snap) }
func (n *recordNotifier) LocationUpdated(handle, oldFix, newFix string) {
	n.locations = append(n.locations, [2]string{oldFix, newFix})
}
func (n *recordNotifier) SessionDestroyed(handle string) { n.destroyed = append(n.destroyed, handle) }

func TestSession_StartStopIdempotent(t *testing.T) {
	hooks := &countHooks{}
	s := newSession("client/1", "peer-a", hooks, nil)

	s.Start()
	s.Start()
	if hooks.activated != 1 {
		t.Fatalf("activated=%d", hooks.activated)
	}
	if !s.Active() {
		t.Fatalf("expected active")
	}

	s.Stop()
	s.Stop()
	if hooks.deactivated != 1 {
		t.Fatalf("deactivated=%d", hooks.deactivated)
	}
	if s.Active() {
		t.Fatalf("expected inactive")
	}
}

func TestSession_InitialLocationIsNone(t *testing.T) {
	s := newSession("client/1", "peer-a", nil, nil)
	snap := s.Snapshot()
	if snap.Location != fix.NoneHandle {
		t.Fatalf("location=%s", snap.Location)
	}
}

func TestSession_DeliverFixOnlyWhenActive(t *testing.T) {
	n := &recordNotifier{}
	s := newSession("client/1", "peer-a", nil, n)

	s.DeliverFix("fix/1")
	if len(n.locations) != 0 {
		t.Fatalf("inactive session received fix")
	}
	if s.Snapshot().Location != fix.NoneHandle {
		t.Fatalf("location moved while inactive")
	}

	s.Start()
	s.DeliverFix("fix/2")
	if len(n.locations) != 1 {
		t.Fatalf("locations=%d", len(n.locations))
	}
	if n.locations[0] != [2]string{fix.NoneHandle, "fix/2"} {
		t.Fatalf("transition=%v", n.locations[0])
	}

	s.DeliverFix("fix/3")
	if n.locations[1] != [2]string{"fix/2", "fix/3"} {
		t.Fatalf("transition=%v", n.locations[1])
	}
}

func TestSession_PropertySettersNotify(t *testing.T) {
	n := &recordNotifier{}
	s := newSession("client/1", "peer-a", nil, n)

	s.SetDesktopID("org.example.maps")
	s.SetRequestedAccuracyLevel(8)
	s.SetDistanceThreshold(100)
	s.SetTimeThreshold(30)

	if len(n.props) != 4 {
		t.Fatalf("props=%d", len(n.props))
	}
	snap := s.Snapshot()
	if snap.DesktopID != "org.example.maps" || snap.RequestedAccuracyLevel != 8 {
		t.Fatalf("snapshot=%+v", snap)
	}
	if snap.DistanceThreshold != 100 || snap.TimeThreshold != 30 {
		t.Fatalf("thresholds=%d/%d", snap.DistanceThreshold, snap.TimeThreshold)
	}
}
