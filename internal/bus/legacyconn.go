package bus

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"geobridge/internal/legacy"
)

// LegacyConn implements legacy.Backend over the legacy bus contract.
type LegacyConn struct {
	cli  mqtt.Client
	call *caller
}

func NewLegacyConn(cli mqtt.Client, clientID string, callTimeout time.Duration) (*LegacyConn, error) {
	if cli == nil {
		return nil, fmt.Errorf("legacy bus client is nil")
	}
	c, err := newCaller(cli, legacyReplyTopic(clientID), callTimeout)
	if err != nil {
		return nil, err
	}
	return &LegacyConn{cli: cli, call: c}, nil
}

// CreateSession calls the master session factory and subscribes the
// provider-selection signal for the returned session. The handler is
// offloaded to its own goroutine: it re-enters the legacy client, which
// may be mid-call on this same dispatcher.
func (lc *LegacyConn) CreateSession(onProviderChanged func(legacy.ProviderChange)) (string, error) {
	rep, err := lc.call.call(LegacyCreateTopic(), nil)
	if err != nil {
		return "", err
	}
	if rep.Session == "" {
		return "", fmt.Errorf("master create returned empty session")
	}

	topic := LegacyProviderChangedTopic(rep.Session)
	token := lc.cli.Subscribe(topic, 1, func(_ mqtt.Client, msg mqtt.Message) {
		var pc legacy.ProviderChange
		if err := json.Unmarshal(msg.Payload(), &pc); err != nil {
			log.Printf("legacy provider change parse failed: %v", err)
			return
		}
		if onProviderChanged != nil {
			go onProviderChanged(pc)
		}
	})
	if token.Wait() && token.Error() != nil {
		return "", fmt.Errorf("subscribe %s: %w", topic, token.Error())
	}
	return rep.Session, nil
}

func (lc *LegacyConn) SetRequirements(object string, req legacy.Requirements) error {
	_, err := lc.call.call(LegacyObjectTopic(object, "set-requirements"), func(r *LegacyRequest) {
		r.Requirements = &req
	})
	return err
}

func (lc *LegacyConn) PositionStart(object string) error {
	_, err := lc.call.call(LegacyObjectTopic(object, "position-start"), nil)
	return err
}

func (lc *LegacyConn) AddReference(object string) error {
	_, err := lc.call.call(LegacyObjectTopic(object, "add-reference"), nil)
	return err
}

func (lc *LegacyConn) RemoveReference(object string) error {
	_, err := lc.call.call(LegacyObjectTopic(object, "remove-reference"), nil)
	return err
}

// SubscribeTelemetry attaches the provider's position and velocity
// signals. Handlers run on the dispatcher in arrival order; they only
// touch the merger and distributor, never the legacy client's lock.
func (lc *LegacyConn) SubscribeTelemetry(service, path string, onPos func(legacy.PositionSample), onVel func(legacy.VelocitySample)) error {
	posTopic := LegacyPositionTopic(service, path)
	token := lc.cli.Subscribe(posTopic, 1, func(_ mqtt.Client, msg mqtt.Message) {
		var p legacy.PositionSample
		if err := json.Unmarshal(msg.Payload(), &p); err != nil {
			log.Printf("legacy position parse failed: %v", err)
			return
		}
		if onPos != nil {
			onPos(p)
		}
	})
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("subscribe %s: %w", posTopic, token.Error())
	}

	velTopic := LegacyVelocityTopic(service, path)
	token = lc.cli.Subscribe(velTopic, 1, func(_ mqtt.Client, msg mqtt.Message) {
		var v legacy.VelocitySample
		if err := json.Unmarshal(msg.Payload(), &v); err != nil {
			log.Printf("legacy velocity parse failed: %v", err)
			return
		}
		if onVel != nil {
			onVel(v)
		}
	})
	if token.Wait() && token.Error() != nil {
		// Roll back the half-made subscription.
		if t := lc.cli.Unsubscribe(posTopic); t.Wait() && t.Error() != nil {
			log.Printf("legacy unsubscribe %s failed: %v", posTopic, t.Error())
		}
		return fmt.Errorf("subscribe %s: %w", velTopic, token.Error())
	}
	return nil
}

func (lc *LegacyConn) UnsubscribeTelemetry(service, path string) error {
	token := lc.cli.Unsubscribe(LegacyPositionTopic(service, path), LegacyVelocityTopic(service, path))
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("unsubscribe telemetry: %w", token.Error())
	}
	return nil
}

func (lc *LegacyConn) ReleaseSession(object string) error {
	token := lc.cli.Unsubscribe(LegacyProviderChangedTopic(object))
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("unsubscribe provider-changed: %w", token.Error())
	}
	return nil
}
