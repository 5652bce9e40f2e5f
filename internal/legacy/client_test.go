package legacy

import (
	"fmt"
	"testing"

	"geobridge/internal/fix"
)

// fakeBackend records every call and lets individual operations be made
// to fail.
type fakeBackend struct {
	calls []string

	failCreate       bool
	failRequirements bool
	failStart        bool
	failSubscribe    bool

	providerChanged func(ProviderChange)
	onPos           func(PositionSample)
	onVel           func(VelocitySample)
	sessions        int
}

func (b *fakeBackend) record(format string, args ...any) {
	b.calls = append(b.calls, fmt.Sprintf(format, args...))
}

func (b *fakeBackend) CreateSession(onProviderChanged func(ProviderChange)) (string, error) {
	if b.failCreate {
		return "", fmt.Errorf("create refused")
	}
	b.sessions++
	session := fmt.Sprintf("session/%d", b.sessions)
	b.providerChanged = onProviderChanged
	b.record("create %s", session)
	return session, nil
}

func (b *fakeBackend) SetRequirements(object string, req Requirements) error {
	if b.failRequirements {
		return fmt.Errorf("requirements refused")
	}
	b.record("requirements %s", object)
	return nil
}

func (b *fakeBackend) PositionStart(object string) error {
	if b.failStart {
		return fmt.Errorf("start refused")
	}
	b.record("position-start %s", object)
	return nil
}

func (b *fakeBackend) AddReference(object string) error {
	b.record("add-ref %s", object)
	return nil
}

func (b *fakeBackend) RemoveReference(object string) error {
	b.record("remove-ref %s", object)
	return nil
}

func (b *fakeBackend) SubscribeTelemetry(service, path string, onPos func(PositionSample), onVel func(VelocitySample)) error {
	if b.failSubscribe {
		return fmt.Errorf("subscribe refused")
	}
	b.onPos = onPos
	b.onVel = onVel
	b.record("subscribe %s %s", service, path)
	return nil
}

func (b *fakeBackend) UnsubscribeTelemetry(service, path string) error {
	b.record("unsubscribe %s %s", service, path)
	return nil
}

func (b *fakeBackend) ReleaseSession(object string) error {
	b.record("release %s", object)
	return nil
}

func TestClient_StartTracking(t *testing.T) {
	b := &fakeBackend{}
	c := NewClient(b, nil)

	c.StartTracking()
	if c.State() != Acquiring {
		t.Fatalf("state=%s", c.State())
	}

	want := []string{
		"create session/1",
		"add-ref session/1",
		"requirements session/1",
		"position-start session/1",
	}
	if len(b.calls) != len(want) {
		t.Fatalf("calls=%v", b.calls)
	}
	for i := range want {
		if b.calls[i] != want[i] {
			t.Fatalf("calls=%v", b.calls)
		}
	}
}

func TestClient_StartTrackingIdempotent(t *testing.T) {
	b := &fakeBackend{}
	c := NewClient(b, nil)

	c.StartTracking()
	n := len(b.calls)
	c.StartTracking()
	if len(b.calls) != n {
		t.Fatalf("second start touched the backend: %v", b.calls[n:])
	}
}

func TestClient_StartTrackingCreateFails(t *testing.T) {
	b := &fakeBackend{failCreate: true}
	c := NewClient(b, nil)

	c.StartTracking()
	if c.State() != Idle {
		t.Fatalf("state=%s", c.State())
	}

	// The failure is recoverable: the next start retries from scratch.
	b.failCreate = false
	c.StartTracking()
	if c.State() != Acquiring {
		t.Fatalf("state=%s", c.State())
	}
}

func TestClient_StartTrackingRequirementsFail(t *testing.T) {
	b := &fakeBackend{failRequirements: true}
	c := NewClient(b, nil)

	c.StartTracking()
	if c.State() != Idle {
		t.Fatalf("state=%s", c.State())
	}
	last := b.calls[len(b.calls)-1]
	if last != "release session/1" {
		t.Fatalf("expected session release, calls=%v", b.calls)
	}
}

func TestClient_ProviderChanged(t *testing.T) {
	b := &fakeBackend{}
	c := NewClient(b, nil)
	c.StartTracking()

	b.providerChanged(ProviderChange{Name: "GPS", Service: "legacy.gps", Path: "/gps0"})
	if c.State() != Tracking {
		t.Fatalf("state=%s", c.State())
	}
	p, ok := c.Provider()
	if !ok || p.Service != "legacy.gps" {
		t.Fatalf("provider=%+v ok=%v", p, ok)
	}

	tail := b.calls[len(b.calls)-2:]
	if tail[0] != "add-ref provider/legacy.gps/gps0" || tail[1] != "subscribe legacy.gps /gps0" {
		t.Fatalf("calls=%v", b.calls)
	}
}

func TestClient_ProviderChangedEmptyIgnored(t *testing.T) {
	b := &fakeBackend{}
	c := NewClient(b, nil)
	c.StartTracking()

	b.providerChanged(ProviderChange{Name: "pending"})
	if c.State() != Acquiring {
		t.Fatalf("state=%s", c.State())
	}
}

func TestClient_ProviderChangedWhileIdleIgnored(t *testing.T) {
	b := &fakeBackend{}
	c := NewClient(b, nil)
	c.StartTracking()
	c.StopTracking()

	n := len(b.calls)
	b.providerChanged(ProviderChange{Service: "legacy.gps", Path: "/gps0"})
	if len(b.calls) != n {
		t.Fatalf("idle provider change touched the backend: %v", b.calls[n:])
	}
}

func TestClient_ProviderReplaced(t *testing.T) {
	b := &fakeBackend{}
	c := NewClient(b, nil)
	c.StartTracking()

	b.providerChanged(ProviderChange{Service: "legacy.gps", Path: "/gps0"})
	b.providerChanged(ProviderChange{Service: "legacy.net", Path: "/wifi0"})

	p, _ := c.Provider()
	if p.Service != "legacy.net" {
		t.Fatalf("provider=%+v", p)
	}

	// The old provider must be fully released before the new one is
	// acquired.
	tail := b.calls[len(b.calls)-4:]
	want := []string{
		"unsubscribe legacy.gps /gps0",
		"remove-ref provider/legacy.gps/gps0",
		"add-ref provider/legacy.net/wifi0",
		"subscribe legacy.net /wifi0",
	}
	for i := range want {
		if tail[i] != want[i] {
			t.Fatalf("calls=%v", b.calls)
		}
	}
}

func TestClient_StopTrackingTeardownOrder(t *testing.T) {
	b := &fakeBackend{}
	c := NewClient(b, nil)
	c.StartTracking()
	b.providerChanged(ProviderChange{Service: "legacy.gps", Path: "/gps0"})

	c.StopTracking()
	if c.State() != Idle {
		t.Fatalf("state=%s", c.State())
	}

	tail := b.calls[len(b.calls)-4:]
	want := []string{
		"unsubscribe legacy.gps /gps0",
		"remove-ref provider/legacy.gps/gps0",
		"remove-ref session/1",
		"release session/1",
	}
	for i := range want {
		if tail[i] != want[i] {
			t.Fatalf("calls=%v", b.calls)
		}
	}
}

func TestClient_StopTrackingWhileIdle(t *testing.T) {
	b := &fakeBackend{}
	c := NewClient(b, nil)
	c.StopTracking()
	if len(b.calls) != 0 {
		t.Fatalf("idle stop touched the backend: %v", b.calls)
	}
}

func TestClient_TelemetryMergesIntoFixes(t *testing.T) {
	var emitted []fix.Fix
	b := &fakeBackend{}
	c := NewClient(b, func(f fix.Fix) { emitted = append(emitted, f) })
	c.StartTracking()
	b.providerChanged(ProviderChange{Service: "legacy.gps", Path: "/gps0"})

	b.onVel(VelocitySample{Speed: 0.5, Direction: 185.3, Climb: 0})
	b.onPos(PositionSample{Timestamp: 1700000000, Latitude: 59.0, Longitude: 24.0, Altitude: 12.0, AccuracyH: 15.0})

	if len(emitted) != 1 {
		t.Fatalf("emitted=%d", len(emitted))
	}
	f := emitted[0]
	if f.Latitude != 59.0 || f.Longitude != 24.0 || f.Accuracy != 15.0 {
		t.Fatalf("fix=%+v", f)
	}
	if f.Speed != 0.5 || f.Heading != 185.3 {
		t.Fatalf("velocity not merged: %+v", f)
	}
	if f.TimeSec != 1700000000 {
		t.Fatalf("time=%d", f.TimeSec)
	}
}

func TestClient_StopResetsVelocity(t *testing.T) {
	var emitted []fix.Fix
	b := &fakeBackend{}
	c := NewClient(b, func(f fix.Fix) { emitted = append(emitted, f) })
	c.StartTracking()
	b.providerChanged(ProviderChange{Service: "legacy.gps", Path: "/gps0"})
	b.onVel(VelocitySample{Speed: 2.0, Direction: 90.0})
	c.StopTracking()

	// A new tracking session must not inherit the previous velocity.
	c.StartTracking()
	b.providerChanged(ProviderChange{Service: "legacy.gps", Path: "/gps0"})
	b.onPos(PositionSample{Timestamp: 1700000001, Latitude: 1, Longitude: 2})

	if len(emitted) != 1 {
		t.Fatalf("emitted=%d", len(emitted))
	}
	if emitted[0].Speed != fix.Unknown {
		t.Fatalf("stale velocity leaked: %+v", emitted[0])
	}
}

func TestProviderObject(t *testing.T) {
	if got := ProviderObject("legacy.gps", "/gps0"); got != "provider/legacy.gps/gps0" {
		t.Fatalf("object=%s", got)
	}
	if got := ProviderObject("legacy.gps", "gps0"); got != "provider/legacy.gps/gps0" {
		t.Fatalf("object=%s", got)
	}
}
