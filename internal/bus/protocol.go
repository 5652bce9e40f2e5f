// Package bus is the MQTT realization of the two fixed wire contracts:
// the consumer-facing positioning service and the outward legacy
// positioning backend. All payloads are JSON; calls are request/reply
// exchanges with a bounded wait; signals are plain publishes; properties
// are retained publishes so late readers observe the current value.
package bus

import (
	"strings"
)

const (
	posPrefix    = "positioning"
	legacyPrefix = "legacy"

	// PeerOnline/PeerOffline are the payloads of peer presence messages.
	// Consumers publish PeerOnline retained on connect and register
	// PeerOffline as their retained Last Will.
	PeerOnline  = "online"
	PeerOffline = "offline"
)

// Consumer-facing topics.

func ManagerRequestTopic() string {
	return posPrefix + "/manager/request"
}

func ManagerInUseTopic() string {
	return posPrefix + "/manager/in-use"
}

func ManagerAccuracyTopic() string {
	return posPrefix + "/manager/accuracy"
}

func ClientRequestTopic(handle string) string {
	return posPrefix + "/" + handle + "/request"
}

func clientRequestWildcard() string {
	return posPrefix + "/client/+/request"
}

// clientHandleFromRequestTopic recovers "client/<n>" from its request
// topic; ok is false for anything else.
func clientHandleFromRequestTopic(topic string) (string, bool) {
	rest, found := strings.CutPrefix(topic, posPrefix+"/")
	if !found {
		return "", false
	}
	handle, found := strings.CutSuffix(rest, "/request")
	if !found || !strings.HasPrefix(handle, "client/") {
		return "", false
	}
	return handle, true
}

func ClientPropertiesTopic(handle string) string {
	return posPrefix + "/" + handle + "/properties"
}

func ClientLocationUpdatedTopic(handle string) string {
	return posPrefix + "/" + handle + "/location-updated"
}

// FixTopic is where a published fix is retained, keyed by its handle.
func FixTopic(fixHandle string) string {
	return posPrefix + "/" + fixHandle
}

func PeerTopic(peer string) string {
	return posPrefix + "/peer/" + peer
}

func peerWildcard() string {
	return posPrefix + "/peer/+"
}

func peerFromTopic(topic string) (string, bool) {
	return strings.CutPrefix(topic, posPrefix+"/peer/")
}

// Legacy backend topics.

func LegacyCreateTopic() string {
	return legacyPrefix + "/master/create"
}

// LegacyObjectTopic addresses an operation on a legacy object (the master
// session or a provider). object is an opaque path like "session/1" or
// "provider/<service>/<path>".
func LegacyObjectTopic(object, op string) string {
	return legacyPrefix + "/" + object + "/" + op
}

func LegacyProviderChangedTopic(session string) string {
	return legacyPrefix + "/" + session + "/provider-changed"
}

func LegacyPositionTopic(service, path string) string {
	return legacyPrefix + "/provider/" + service + "/" + strings.TrimPrefix(path, "/") + "/position"
}

func LegacyVelocityTopic(service, path string) string {
	return legacyPrefix + "/provider/" + service + "/" + strings.TrimPrefix(path, "/") + "/velocity"
}

func legacyReplyTopic(clientID string) string {
	return legacyPrefix + "/reply/" + clientID
}

// Request is the envelope for consumer-facing calls (Manager and Client
// objects). Unused fields are omitted per method.
type Request struct {
	ID      string `json:"id"`
	Peer    string `json:"peer,omitempty"`
	ReplyTo string `json:"reply_to,omitempty"`
	Method  string `json:"method"`

	// DeleteClient argument.
	Client string `json:"client,omitempty"`
	// AddAgent argument.
	Agent string `json:"agent,omitempty"`

	// Property-setter arguments.
	DesktopID         *string `json:"desktop_id,omitempty"`
	AccuracyLevel     *int    `json:"accuracy_level,omitempty"`
	DistanceThreshold *uint32 `json:"distance_threshold,omitempty"`
	TimeThreshold     *uint32 `json:"time_threshold,omitempty"`
}

// Reply answers a Request (or a legacy call).
type Reply struct {
	ID    string `json:"id"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`

	// GetClient/CreateClient result.
	Client string `json:"client,omitempty"`
	// Legacy master create result.
	Session string `json:"session,omitempty"`
}

// InUseMessage is retained at ManagerInUseTopic.
type InUseMessage struct {
	InUse bool `json:"in_use"`
}

// AccuracyMessage is retained at ManagerAccuracyTopic.
type AccuracyMessage struct {
	AvailableAccuracyLevel int `json:"available_accuracy_level"`
}

// LocationUpdatedMessage is the signal emitted to a session's consumer.
type LocationUpdatedMessage struct {
	Old string `json:"old"`
	New string `json:"new"`
}
