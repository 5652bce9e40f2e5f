// geobridge-probe is a minimal consumer of the positioning service: it
// obtains a client, starts it, and prints every fix the bridge announces.
// Intended for bring-up against a live broker.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"geobridge/internal/bus"
)

func main() {
	var (
		broker    string
		peer      string
		accuracy  int
		desktopID string
	)
	flag.StringVar(&broker, "broker", "tcp://127.0.0.1:1883", "MQTT broker URL")
	flag.StringVar(&peer, "peer", "", "Peer identifier (defaults to probe-<pid>)")
	flag.IntVar(&accuracy, "accuracy", 8, "Requested accuracy level")
	flag.StringVar(&desktopID, "desktop-id", "geobridge-probe", "Desktop id announced to the service")
	flag.Parse()

	if peer == "" {
		peer = fmt.Sprintf("probe-%d", os.Getpid())
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cli, err := bus.Dial(bus.DialOptions{
		Broker:      broker,
		ClientID:    peer,
		WillTopic:   bus.PeerTopic(peer),
		WillPayload: bus.PeerOffline,
	})
	if err != nil {
		log.Fatalf("bus dial failed: %v", err)
	}
	defer cli.Disconnect(250)

	// Birth message: the bridge watches this topic while the probe owns a
	// session and cleans up if the will fires instead.
	cli.Publish(bus.PeerTopic(peer), 1, true, []byte(bus.PeerOnline))

	p := &probe{
		cli:        cli,
		peer:       peer,
		replyTopic: "positioning/reply/" + peer,
		replies:    make(chan bus.Reply, 4),
	}
	if token := cli.Subscribe(p.replyTopic, 1, p.onReply); token.Wait() && token.Error() != nil {
		log.Fatalf("subscribe replies failed: %v", token.Error())
	}

	handle, err := p.getClient()
	if err != nil {
		log.Fatalf("get client failed: %v", err)
	}
	log.Printf("client obtained handle=%s", handle)

	subs := []struct {
		topic   string
		handler mqtt.MessageHandler
	}{
		{bus.ClientPropertiesTopic(handle), p.onProperties},
		{bus.ClientLocationUpdatedTopic(handle), p.onLocationUpdated},
		{bus.FixTopic("fix/+"), p.onFix},
	}
	for _, sub := range subs {
		if token := cli.Subscribe(sub.topic, 1, sub.handler); token.Wait() && token.Error() != nil {
			log.Fatalf("subscribe %s failed: %v", sub.topic, token.Error())
		}
	}

	if _, err := p.callClient(handle, "SetDesktopId", func(req *bus.Request) {
		req.DesktopID = &desktopID
	}); err != nil {
		log.Printf("set desktop id failed: %v", err)
	}
	if _, err := p.callClient(handle, "SetRequestedAccuracyLevel", func(req *bus.Request) {
		req.AccuracyLevel = &accuracy
	}); err != nil {
		log.Printf("set accuracy level failed: %v", err)
	}
	if _, err := p.callClient(handle, "Start", nil); err != nil {
		log.Fatalf("start failed: %v", err)
	}
	log.Printf("session started, waiting for fixes")

	<-ctx.Done()
	log.Printf("probe stopping")

	if _, err := p.callClient(handle, "Stop", nil); err != nil {
		log.Printf("stop failed: %v", err)
	}
	if _, err := p.callManager("DeleteClient", func(req *bus.Request) {
		req.Client = handle
	}); err != nil {
		log.Printf("delete client failed: %v", err)
	}
	// Clean exit: announce offline ourselves so the will is not needed.
	cli.Publish(bus.PeerTopic(peer), 1, true, []byte(bus.PeerOffline))
}

// probe performs sequential request/reply calls; there is never more than
// one in flight, so a single reply channel suffices.
type probe struct {
	cli        mqtt.Client
	peer       string
	replyTopic string
	nextID     uint64
	replies    chan bus.Reply
}

func (p *probe) onReply(_ mqtt.Client, msg mqtt.Message) {
	var rep bus.Reply
	if err := json.Unmarshal(msg.Payload(), &rep); err != nil {
		log.Printf("reply parse failed: %v", err)
		return
	}
	select {
	case p.replies <- rep:
	default:
	}
}

func (p *probe) call(topic, method string, fill func(*bus.Request)) (bus.Reply, error) {
	p.nextID++
	req := bus.Request{
		ID:      fmt.Sprintf("%d", p.nextID),
		Peer:    p.peer,
		ReplyTo: p.replyTopic,
		Method:  method,
	}
	if fill != nil {
		fill(&req)
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return bus.Reply{}, err
	}
	if token := p.cli.Publish(topic, 1, false, payload); token.Wait() && token.Error() != nil {
		return bus.Reply{}, token.Error()
	}

	deadline := time.After(3 * time.Second)
	for {
		select {
		case rep := <-p.replies:
			if rep.ID != req.ID {
				continue
			}
			if !rep.OK {
				return rep, fmt.Errorf("%s rejected: %s", method, rep.Error)
			}
			return rep, nil
		case <-deadline:
			return bus.Reply{}, fmt.Errorf("%s timed out", method)
		}
	}
}

func (p *probe) callManager(method string, fill func(*bus.Request)) (bus.Reply, error) {
	return p.call(bus.ManagerRequestTopic(), method, fill)
}

func (p *probe) callClient(handle, method string, fill func(*bus.Request)) (bus.Reply, error) {
	return p.call(bus.ClientRequestTopic(handle), method, fill)
}

func (p *probe) getClient() (string, error) {
	rep, err := p.callManager("GetClient", nil)
	if err != nil {
		return "", err
	}
	if rep.Client == "" {
		return "", fmt.Errorf("empty client handle")
	}
	return rep.Client, nil
}

func (p *probe) onProperties(_ mqtt.Client, msg mqtt.Message) {
	if len(msg.Payload()) == 0 {
		log.Printf("client gone")
		return
	}
	log.Printf("properties %s", msg.Payload())
}

func (p *probe) onLocationUpdated(_ mqtt.Client, msg mqtt.Message) {
	var lu bus.LocationUpdatedMessage
	if err := json.Unmarshal(msg.Payload(), &lu); err != nil {
		return
	}
	log.Printf("location updated old=%s new=%s", lu.Old, lu.New)
}

func (p *probe) onFix(_ mqtt.Client, msg mqtt.Message) {
	log.Printf("fix %s", msg.Payload())
}
