package session

import (
	"fmt"
	"log"
	"sync"

	"geobridge/internal/fix"
)

// Watcher subscribes to liveness events for a peer identifier. The
// registry watches a peer while it owns at least one session and unwatches
// it when the last one is destroyed; the transport reports a vanished peer
// back through Registry.PeerVanished.
type Watcher interface {
	WatchPeer(peer string)
	UnwatchPeer(peer string)
}

type RegistryConfig struct {
	Hooks    Hooks
	Notifier Notifier
	Watcher  Watcher
}

// Registry is the sole owner of session membership: it creates, reuses,
// and destroys sessions and keeps them indexed by handle and by peer.
type Registry struct {
	cfg RegistryConfig

	mu       sync.Mutex
	nextID   uint64
	byHandle map[string]*Session
	byPeer   map[string][]*Session
}

func NewRegistry(cfg RegistryConfig) *Registry {
	return &Registry{
		cfg:      cfg,
		byHandle: make(map[string]*Session),
		byPeer:   make(map[string][]*Session),
	}
}

// GetOrCreate returns the existing session for peer, creating one if the
// peer has none yet.
func (r *Registry) GetOrCreate(peer string) *Session {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	if owned := r.byPeer[peer]; len(owned) > 0 {
		s := owned[0]
		r.mu.Unlock()
		log.Printf("session reused handle=%s peer=%s", s.handle, peer)
		return s
	}
	s, firstForPeer := r.createLocked(peer)
	r.mu.Unlock()

	r.announceCreated(s, firstForPeer)
	return s
}

// Create unconditionally creates a new session for peer, even when one
// already exists (an explicitly independent subscription).
func (r *Registry) Create(peer string) *Session {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	s, firstForPeer := r.createLocked(peer)
	r.mu.Unlock()

	r.announceCreated(s, firstForPeer)
	return s
}

func (r *Registry) createLocked(peer string) (*Session, bool) {
	r.nextID++
	handle := fmt.Sprintf("client/%d", r.nextID)
	s := newSession(handle, peer, r.cfg.Hooks, r.cfg.Notifier)
	r.byHandle[handle] = s
	firstForPeer := len(r.byPeer[peer]) == 0
	r.byPeer[peer] = append(r.byPeer[peer], s)
	return s, firstForPeer
}

func (r *Registry) announceCreated(s *Session, firstForPeer bool) {
	log.Printf("session created handle=%s peer=%s", s.handle, s.peer)
	if firstForPeer && r.cfg.Watcher != nil {
		r.cfg.Watcher.WatchPeer(s.peer)
	}
	if r.cfg.Notifier != nil {
		r.cfg.Notifier.PropertiesChanged(s.Snapshot())
	}
}

// Destroy removes the session from both indices. An active session is
// deactivated first so the lifecycle count stays correct. Destroying an
// unknown handle is reported, not fatal.
func (r *Registry) Destroy(handle string) bool {
	if r == nil {
		return false
	}
	r.mu.Lock()
	s, ok := r.byHandle[handle]
	r.mu.Unlock()
	if !ok {
		log.Printf("session destroy: unknown handle=%s", handle)
		return false
	}

	// Deactivation must run before removal so the coordinator sees the
	// decrement while the session is still registered.
	s.Stop()

	r.mu.Lock()
	delete(r.byHandle, handle)
	owned := r.byPeer[s.peer]
	for i, other := range owned {
		if other == s {
			owned = append(owned[:i], owned[i+1:]...)
			break
		}
	}
	lastForPeer := len(owned) == 0
	if lastForPeer {
		delete(r.byPeer, s.peer)
	} else {
		r.byPeer[s.peer] = owned
	}
	r.mu.Unlock()

	log.Printf("session destroyed handle=%s peer=%s", handle, s.peer)
	if lastForPeer && r.cfg.Watcher != nil {
		r.cfg.Watcher.UnwatchPeer(s.peer)
	}
	if r.cfg.Notifier != nil {
		r.cfg.Notifier.SessionDestroyed(handle)
	}
	return true
}

// PeerVanished destroys every session still registered under a peer,
// through the same path as explicit destruction, so no orphaned active
// session survives a consumer crash.
func (r *Registry) PeerVanished(peer string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	owned := append([]*Session(nil), r.byPeer[peer]...)
	r.mu.Unlock()
	if len(owned) == 0 {
		return
	}

	log.Printf("peer vanished peer=%s sessions=%d", peer, len(owned))
	for _, s := range owned {
		r.Destroy(s.handle)
	}
}

// Lookup returns the session for a handle.
func (r *Registry) Lookup(handle string) (*Session, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byHandle[handle]
	return s, ok
}

// Targets enumerates all sessions as fix delivery targets. Each session
// decides activeness itself at delivery time.
func (r *Registry) Targets() []fix.Target {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]fix.Target, 0, len(r.byHandle))
	for _, s := range r.byHandle {
		out = append(out, s)
	}
	return out
}

// Count returns the number of registered sessions.
func (r *Registry) Count() int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byHandle)
}

// Snapshots returns the state of every registered session.
func (r *Registry) Snapshots() []Snapshot {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.byHandle))
	for _, s := range r.byHandle {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	out := make([]Snapshot, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Snapshot())
	}
	return out
}
