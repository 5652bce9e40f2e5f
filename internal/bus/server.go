package bus

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"geobridge/internal/debuglog"
	"geobridge/internal/fix"
	"geobridge/internal/session"
)

// AvailableAccuracyLevel is the fixed constant exposed by the Manager
// (the highest level, exact positioning).
const AvailableAccuracyLevel = 8

// Server serves the consumer-facing positioning contract: the Manager
// object, the per-session Client objects, retained fix records, and the
// peer-liveness watch. It implements session.Notifier and session.Watcher
// and publishes the Manager's in-use indicator for the lifecycle
// coordinator.
type Server struct {
	cli mqtt.Client

	reg  *session.Registry
	dist *fix.Distributor

	mu      sync.Mutex
	watched map[string]bool
}

func NewServer(cli mqtt.Client) (*Server, error) {
	if cli == nil {
		return nil, fmt.Errorf("positioning bus client is nil")
	}
	return &Server{cli: cli, watched: make(map[string]bool)}, nil
}

// Bind injects the registry and distributor; they in turn hold this
// server as their notifier/watcher, so wiring happens after construction.
func (s *Server) Bind(reg *session.Registry, dist *fix.Distributor) {
	s.reg = reg
	s.dist = dist
}

// Start publishes the fixed Manager properties and subscribes the request
// and peer-presence topics.
func (s *Server) Start() error {
	if s == nil || s.reg == nil {
		return fmt.Errorf("server is not bound")
	}

	s.PublishInUse(false)
	if err := s.publishRetained(ManagerAccuracyTopic(), AccuracyMessage{AvailableAccuracyLevel: AvailableAccuracyLevel}); err != nil {
		return err
	}

	subs := []struct {
		topic   string
		handler mqtt.MessageHandler
	}{
		{ManagerRequestTopic(), s.onManagerRequest},
		{clientRequestWildcard(), s.onClientRequest},
		{peerWildcard(), s.onPeerPresence},
	}
	for _, sub := range subs {
		if token := s.cli.Subscribe(sub.topic, 1, sub.handler); token.Wait() && token.Error() != nil {
			return fmt.Errorf("subscribe %s: %w", sub.topic, token.Error())
		}
	}
	log.Printf("positioning service ready")
	return nil
}

// Close clears the in-use indicator. Session topics are left retained so
// late consumers can still read final property values.
func (s *Server) Close() {
	if s == nil {
		return
	}
	s.PublishInUse(false)
}

func (s *Server) onManagerRequest(_ mqtt.Client, msg mqtt.Message) {
	var req Request
	if err := json.Unmarshal(msg.Payload(), &req); err != nil {
		log.Printf("manager request parse failed: %v", err)
		return
	}
	log.Printf("manager request method=%s peer=%s", req.Method, req.Peer)

	rep := Reply{ID: req.ID, OK: true}
	switch req.Method {
	case "GetClient":
		if req.Peer == "" {
			rep = Reply{ID: req.ID, Error: "peer is required"}
			break
		}
		rep.Client = s.reg.GetOrCreate(req.Peer).Handle()
	case "CreateClient":
		if req.Peer == "" {
			rep = Reply{ID: req.ID, Error: "peer is required"}
			break
		}
		rep.Client = s.reg.Create(req.Peer).Handle()
	case "DeleteClient":
		// A stale handle is reported by the registry; the call still
		// completes.
		s.reg.Destroy(req.Client)
	case "AddAgent":
		// No authorization model: accepted and ignored.
		log.Printf("manager add agent id=%s (not implemented)", req.Agent)
	default:
		rep = Reply{ID: req.ID, Error: "unknown method: " + req.Method}
	}
	s.reply(req.ReplyTo, rep)
}

func (s *Server) onClientRequest(_ mqtt.Client, msg mqtt.Message) {
	handle, ok := clientHandleFromRequestTopic(msg.Topic())
	if !ok {
		return
	}
	var req Request
	if err := json.Unmarshal(msg.Payload(), &req); err != nil {
		log.Printf("client request parse failed handle=%s: %v", handle, err)
		return
	}
	log.Printf("client request handle=%s method=%s", handle, req.Method)

	sess, found := s.reg.Lookup(handle)
	if !found {
		s.reply(req.ReplyTo, Reply{ID: req.ID, Error: "unknown client: " + handle})
		return
	}

	// Start and Stop always succeed once the local transition is applied,
	// whatever the legacy side is doing.
	rep := Reply{ID: req.ID, OK: true}
	switch req.Method {
	case "Start":
		sess.Start()
	case "Stop":
		sess.Stop()
	case "SetDesktopId":
		if req.DesktopID != nil {
			sess.SetDesktopID(*req.DesktopID)
		}
	case "SetRequestedAccuracyLevel":
		if req.AccuracyLevel != nil {
			sess.SetRequestedAccuracyLevel(*req.AccuracyLevel)
		}
	case "SetDistanceThreshold":
		// Accepted but unenforced.
		if req.DistanceThreshold != nil {
			sess.SetDistanceThreshold(*req.DistanceThreshold)
		}
	case "SetTimeThreshold":
		if req.TimeThreshold != nil {
			sess.SetTimeThreshold(*req.TimeThreshold)
		}
	default:
		rep = Reply{ID: req.ID, Error: "unknown method: " + req.Method}
	}
	s.reply(req.ReplyTo, rep)
}

// onPeerPresence reacts to the retained birth/will messages of consumers.
// Only watched peers (those owning sessions) trigger cleanup.
func (s *Server) onPeerPresence(_ mqtt.Client, msg mqtt.Message) {
	peer, ok := peerFromTopic(msg.Topic())
	if !ok || peer == "" {
		return
	}
	payload := string(msg.Payload())
	if payload == PeerOnline {
		return
	}

	s.mu.Lock()
	watched := s.watched[peer]
	s.mu.Unlock()
	if !watched {
		return
	}
	log.Printf("peer offline peer=%s", peer)
	s.reg.PeerVanished(peer)
}

// WatchPeer implements session.Watcher.
func (s *Server) WatchPeer(peer string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.watched[peer] = true
	s.mu.Unlock()
	debuglog.Printf("watching peer=%s", peer)
}

// UnwatchPeer implements session.Watcher.
func (s *Server) UnwatchPeer(peer string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	delete(s.watched, peer)
	s.mu.Unlock()
	debuglog.Printf("unwatching peer=%s", peer)
}

// PropertiesChanged implements session.Notifier: the session's current
// state is retained at its properties topic.
func (s *Server) PropertiesChanged(snap session.Snapshot) {
	if s == nil {
		return
	}
	if err := s.publishRetained(ClientPropertiesTopic(snap.Handle), snap); err != nil {
		log.Printf("publish properties failed handle=%s: %v", snap.Handle, err)
	}
}

// LocationUpdated implements session.Notifier.
func (s *Server) LocationUpdated(handle, oldFix, newFix string) {
	if s == nil {
		return
	}
	payload, err := json.Marshal(LocationUpdatedMessage{Old: oldFix, New: newFix})
	if err != nil {
		return
	}
	s.cli.Publish(ClientLocationUpdatedTopic(handle), 1, false, payload)
}

// SessionDestroyed implements session.Notifier: clears the retained
// properties so the object disappears from the bus.
func (s *Server) SessionDestroyed(handle string) {
	if s == nil {
		return
	}
	s.cli.Publish(ClientPropertiesTopic(handle), 1, true, []byte{})
}

// PublishInUse retains the Manager's "any session active" indicator.
func (s *Server) PublishInUse(inUse bool) {
	if s == nil {
		return
	}
	if err := s.publishRetained(ManagerInUseTopic(), InUseMessage{InUse: inUse}); err != nil {
		log.Printf("publish in-use failed: %v", err)
	}
}

// PublishFix retains a published fix at its handle topic. Invoked by the
// distributor before session delivery so a consumer reading the fix right
// after its LocationUpdated signal always finds it.
func (s *Server) PublishFix(f fix.Fix) {
	if s == nil {
		return
	}
	if err := s.publishRetained(FixTopic(f.Handle()), f); err != nil {
		log.Printf("publish fix failed seq=%d: %v", f.Seq, err)
	}
}

func (s *Server) publishRetained(topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", topic, err)
	}
	s.cli.Publish(topic, 1, true, payload)
	return nil
}

func (s *Server) reply(replyTo string, rep Reply) {
	if replyTo == "" {
		return
	}
	payload, err := json.Marshal(rep)
	if err != nil {
		log.Printf("marshal reply failed: %v", err)
		return
	}
	s.cli.Publish(replyTo, 1, false, payload)
}
