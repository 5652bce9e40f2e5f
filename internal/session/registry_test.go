package session

import (
	"testing"
)

type recordWatcher struct {
	watched   []string
	unwatched []string
}

func (w *recordWatcher) WatchPeer(peer string)   { w.watched = append(w.watched, peer) }
func (w *recordWatcher) UnwatchPeer(peer string) { w.unwatched = append(w.unwatched, peer) }

func newTestRegistry() (*Registry, *countHooks, *recordNotifier, *recordWatcher) {
	hooks := &countHooks{}
	notifier := &recordNotifier{}
	watcher := &recordWatcher{}
	reg := NewRegistry(RegistryConfig{Hooks: hooks, Notifier: notifier, Watcher: watcher})
	return reg, hooks, notifier, watcher
}

func TestRegistry_GetOrCreateReusesPeerSession(t *testing.T) {
	reg, _, _, watcher := newTestRegistry()

	s1 := reg.GetOrCreate("peer-a")
	s2 := reg.GetOrCreate("peer-a")
	if s1 != s2 {
		t.Fatalf("expected same session")
	}
	if reg.Count() != 1 {
		t.Fatalf("count=%d", reg.Count())
	}
	if len(watcher.watched) != 1 || watcher.watched[0] != "peer-a" {
		t.Fatalf("watched=%v", watcher.watched)
	}
}

func TestRegistry_CreateAlwaysNew(t *testing.T) {
	reg, _, _, watcher := newTestRegistry()

	s1 := reg.Create("peer-a")
	s2 := reg.Create("peer-a")
	if s1 == s2 {
		t.Fatalf("expected distinct sessions")
	}
	if s1.Handle() == s2.Handle() {
		t.Fatalf("handles collide: %s", s1.Handle())
	}
	// Only the first session for a peer starts the watch.
	if len(watcher.watched) != 1 {
		t.Fatalf("watched=%v", watcher.watched)
	}
}

func TestRegistry_DestroyActiveSessionDeactivatesFirst(t *testing.T) {
	reg, hooks, notifier, watcher := newTestRegistry()

	s := reg.GetOrCreate("peer-a")
	s.Start()
	if hooks.activated != 1 {
		t.Fatalf("activated=%d", hooks.activated)
	}

	if !reg.Destroy(s.Handle()) {
		t.Fatalf("destroy failed")
	}
	if hooks.deactivated != 1 {
		t.Fatalf("deactivated=%d", hooks.deactivated)
	}
	if reg.Count() != 0 {
		t.Fatalf("count=%d", reg.Count())
	}
	if len(watcher.unwatched) != 1 || watcher.unwatched[0] != "peer-a" {
		t.Fatalf("unwatched=%v", watcher.unwatched)
	}
	if len(notifier.destroyed) != 1 || notifier.destroyed[0] != s.Handle() {
		t.Fatalf("destroyed=%v", notifier.destroyed)
	}
}

func TestRegistry_DestroyUnknownHandle(t *testing.T) {
	reg, hooks, _, _ := newTestRegistry()
	if reg.Destroy("client/99") {
		t.Fatalf("expected destroy to report unknown handle")
	}
	if hooks.deactivated != 0 {
		t.Fatalf("deactivated=%d", hooks.deactivated)
	}
}

func TestRegistry_PeerVanishedDestroysAllSessions(t *testing.T) {
	reg, hooks, _, watcher := newTestRegistry()

	s1 := reg.Create("peer-a")
	s2 := reg.Create("peer-a")
	other := reg.Create("peer-b")
	s1.Start()

	reg.PeerVanished("peer-a")
	if reg.Count() != 1 {
		t.Fatalf("count=%d", reg.Count())
	}
	if _, ok := reg.Lookup(s1.Handle()); ok {
		t.Fatalf("s1 survived")
	}
	if _, ok := reg.Lookup(s2.Handle()); ok {
		t.Fatalf("s2 survived")
	}
	if _, ok := reg.Lookup(other.Handle()); !ok {
		t.Fatalf("unrelated peer's session destroyed")
	}
	// The active session contributed exactly one deactivation.
	if hooks.deactivated != 1 {
		t.Fatalf("deactivated=%d", hooks.deactivated)
	}
	if len(watcher.unwatched) != 1 || watcher.unwatched[0] != "peer-a" {
		t.Fatalf("unwatched=%v", watcher.unwatched)
	}
}

func TestRegistry_PeerVanishedUnknownPeer(t *testing.T) {
	reg, _, notifier, _ := newTestRegistry()
	reg.PeerVanished("peer-x")
	if len(notifier.destroyed) != 0 {
		t.Fatalf("destroyed=%v", notifier.destroyed)
	}
}

func TestRegistry_TargetsEnumerateAllSessions(t *testing.T) {
	reg, _, _, _ := newTestRegistry()
	reg.Create("peer-a")
	reg.Create("peer-b")
	if got := len(reg.Targets()); got != 2 {
		t.Fatalf("targets=%d", got)
	}
}

func TestRegistry_Snapshots(t *testing.T) {
	reg, _, _, _ := newTestRegistry()
	s := reg.GetOrCreate("peer-a")
	s.Start()

	snaps := reg.Snapshots()
	if len(snaps) != 1 {
		t.Fatalf("snapshots=%d", len(snaps))
	}
	if snaps[0].Handle != s.Handle() || !snaps[0].Active {
		t.Fatalf("snapshot=%+v", snaps[0])
	}
}
