package bus

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"geobridge/internal/legacy"
)

// DialOptions describe one bus connection.
type DialOptions struct {
	Broker   string
	ClientID string

	// Will, when set, is registered as a retained Last Will so other bus
	// participants observe this client vanishing.
	WillTopic   string
	WillPayload string
}

// Dial connects to an MQTT broker. Message dispatch preserves arrival
// order; handlers that must not stall the dispatcher offload themselves.
func Dial(opts DialOptions) (mqtt.Client, error) {
	if opts.Broker == "" {
		return nil, fmt.Errorf("bus broker is required")
	}
	if opts.ClientID == "" {
		return nil, fmt.Errorf("bus client id is required")
	}

	o := mqtt.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(5 * time.Second)
	if opts.WillTopic != "" {
		o.SetWill(opts.WillTopic, opts.WillPayload, 1, true)
	}

	cli := mqtt.NewClient(o)
	if token := cli.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("bus connect %s: %w", opts.Broker, token.Error())
	}
	log.Printf("bus connected broker=%s client_id=%s", opts.Broker, opts.ClientID)
	return cli, nil
}

// LegacyRequest is the envelope for outward legacy calls. Exported for
// implementations of the legacy side of the contract (the provider
// simulator decodes it).
type LegacyRequest struct {
	ID      string `json:"id"`
	ReplyTo string `json:"reply_to"`

	Requirements *legacy.Requirements `json:"requirements,omitempty"`
}

// caller implements bounded request/reply over MQTT: replies for all
// in-flight calls arrive on one per-connection reply topic and are routed
// by request id.
type caller struct {
	cli        mqtt.Client
	replyTopic string
	timeout    time.Duration

	mu      sync.Mutex
	nextID  uint64
	pending map[string]chan Reply
}

func newCaller(cli mqtt.Client, replyTopic string, timeout time.Duration) (*caller, error) {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	c := &caller{
		cli:        cli,
		replyTopic: replyTopic,
		timeout:    timeout,
		pending:    make(map[string]chan Reply),
	}
	token := cli.Subscribe(replyTopic, 1, c.onReply)
	if token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("subscribe %s: %w", replyTopic, token.Error())
	}
	return c, nil
}

// onReply never blocks the dispatcher: pending channels are buffered and
// stale replies are dropped.
func (c *caller) onReply(_ mqtt.Client, msg mqtt.Message) {
	var rep Reply
	if err := json.Unmarshal(msg.Payload(), &rep); err != nil {
		log.Printf("bus reply parse failed topic=%s: %v", msg.Topic(), err)
		return
	}
	c.mu.Lock()
	ch, ok := c.pending[rep.ID]
	if ok {
		delete(c.pending, rep.ID)
	}
	c.mu.Unlock()
	if ok {
		ch <- rep
	}
}

// call publishes a request built by fill and waits for its reply. A
// timeout is a transport fault; a reply with ok=false is a protocol
// fault. Both surface as errors.
func (c *caller) call(topic string, fill func(req *LegacyRequest)) (Reply, error) {
	c.mu.Lock()
	c.nextID++
	id := fmt.Sprintf("%d", c.nextID)
	ch := make(chan Reply, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	req := LegacyRequest{ID: id, ReplyTo: c.replyTopic}
	if fill != nil {
		fill(&req)
	}
	payload, err := json.Marshal(req)
	if err != nil {
		c.drop(id)
		return Reply{}, fmt.Errorf("marshal request: %w", err)
	}

	token := c.cli.Publish(topic, 1, false, payload)
	if token.Wait() && token.Error() != nil {
		c.drop(id)
		return Reply{}, fmt.Errorf("publish %s: %w", topic, token.Error())
	}

	select {
	case rep := <-ch:
		if !rep.OK {
			return rep, fmt.Errorf("call %s rejected: %s", topic, rep.Error)
		}
		return rep, nil
	case <-time.After(c.timeout):
		c.drop(id)
		return Reply{}, fmt.Errorf("call %s timed out after %s", topic, c.timeout)
	}
}

func (c *caller) drop(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}
