// geobridge-provider-sim stands in for the legacy positioning service: it
// answers the master-session contract on the bus and emits position and
// velocity telemetry parsed from NMEA sentences, read from a serial GNSS
// receiver or replayed from a file.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/adrianmo/go-nmea"
	"go.bug.st/serial"

	"geobridge/internal/bus"
	"geobridge/internal/legacy"
)

const knotsToMetersPerSecond = 0.514444

func main() {
	var (
		broker     string
		service    string
		objectPath string
		name       string
		serialDev  string
		baud       int
		nmeaPath   string
		interval   time.Duration
	)
	flag.StringVar(&broker, "broker", "tcp://127.0.0.1:1883", "MQTT broker URL")
	flag.StringVar(&service, "service", "sim.gnss", "Provider service name")
	flag.StringVar(&objectPath, "path", "gnss0", "Provider object path")
	flag.StringVar(&name, "name", "Simulated GNSS", "Provider display name")
	flag.StringVar(&serialDev, "serial", "", "Serial device with NMEA output (e.g. /dev/ttyUSB0)")
	flag.IntVar(&baud, "baud", 9600, "Serial baud rate")
	flag.StringVar(&nmeaPath, "nmea", "", "NMEA file to replay (\"-\" for stdin)")
	flag.DurationVar(&interval, "interval", time.Second, "Pacing between replayed sentences")
	flag.Parse()

	if serialDev == "" && nmeaPath == "" {
		log.Fatalf("either --serial or --nmea is required")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cli, err := bus.Dial(bus.DialOptions{
		Broker:   broker,
		ClientID: "geobridge-provider-sim",
	})
	if err != nil {
		log.Fatalf("bus dial failed: %v", err)
	}
	defer cli.Disconnect(250)

	s := &sim{
		cli:      cli,
		service:  service,
		path:     objectPath,
		name:     name,
		sessions: make(map[string]bool),
		refs:     make(map[string]int),
	}
	if err := s.start(); err != nil {
		log.Fatalf("sim start failed: %v", err)
	}
	log.Printf("provider sim ready service=%s path=%s", service, objectPath)

	src, err := openSource(serialDev, baud, nmeaPath)
	if err != nil {
		log.Fatalf("nmea source open failed: %v", err)
	}
	defer src.Close()

	// Replayed files are paced; a live serial port is already real-time.
	pace := interval
	if serialDev != "" {
		pace = 0
	}
	if err := s.feed(ctx, src, pace); err != nil && ctx.Err() == nil {
		log.Printf("nmea feed stopped: %v", err)
	}
	log.Printf("provider sim stopping")
}

func openSource(serialDev string, baud int, nmeaPath string) (io.ReadCloser, error) {
	if serialDev != "" {
		port, err := serial.Open(serialDev, &serial.Mode{BaudRate: baud})
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", serialDev, err)
		}
		return port, nil
	}
	if nmeaPath == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	return os.Open(nmeaPath)
}

// sim serves the legacy contract: a master-session factory, per-object
// operations with reference counting, and the provider-changed signal
// announcing its single simulated provider.
type sim struct {
	cli     mqtt.Client
	service string
	path    string
	name    string

	mu          sync.Mutex
	nextSession uint64
	sessions    map[string]bool
	refs        map[string]int
}

func (s *sim) start() error {
	subs := []struct {
		topic   string
		handler mqtt.MessageHandler
	}{
		{bus.LegacyCreateTopic(), s.onCreate},
		{bus.LegacyObjectTopic("session/+", "set-requirements"), s.onObjectOp},
		{bus.LegacyObjectTopic("session/+", "position-start"), s.onObjectOp},
		{bus.LegacyObjectTopic("session/+", "add-reference"), s.onObjectOp},
		{bus.LegacyObjectTopic("session/+", "remove-reference"), s.onObjectOp},
		{bus.LegacyObjectTopic("provider/+/+", "add-reference"), s.onObjectOp},
		{bus.LegacyObjectTopic("provider/+/+", "remove-reference"), s.onObjectOp},
	}
	for _, sub := range subs {
		if token := s.cli.Subscribe(sub.topic, 1, sub.handler); token.Wait() && token.Error() != nil {
			return fmt.Errorf("subscribe %s: %w", sub.topic, token.Error())
		}
	}
	return nil
}

func (s *sim) onCreate(_ mqtt.Client, msg mqtt.Message) {
	var req bus.LegacyRequest
	if err := json.Unmarshal(msg.Payload(), &req); err != nil {
		log.Printf("create parse failed: %v", err)
		return
	}

	s.mu.Lock()
	s.nextSession++
	session := fmt.Sprintf("session/%d", s.nextSession)
	s.sessions[session] = false
	s.mu.Unlock()

	log.Printf("master session created session=%s", session)
	s.reply(req, bus.Reply{ID: req.ID, OK: true, Session: session})
}

func (s *sim) onObjectOp(_ mqtt.Client, msg mqtt.Message) {
	object, op, ok := splitObjectOp(msg.Topic())
	if !ok {
		return
	}
	var req bus.LegacyRequest
	if err := json.Unmarshal(msg.Payload(), &req); err != nil {
		log.Printf("%s parse failed: %v", op, err)
		return
	}
	log.Printf("object op object=%s op=%s", object, op)

	rep := bus.Reply{ID: req.ID, OK: true}
	switch op {
	case "set-requirements":
		if req.Requirements == nil {
			rep = bus.Reply{ID: req.ID, Error: "requirements missing"}
		}
	case "position-start":
		s.mu.Lock()
		started, known := s.sessions[object]
		if known && !started {
			s.sessions[object] = true
		}
		s.mu.Unlock()
		if !known {
			rep = bus.Reply{ID: req.ID, Error: "unknown session: " + object}
			break
		}
		// The provider is announced once positioning is requested, like
		// the real service selecting its best provider.
		s.announceProvider(object)
	case "add-reference":
		s.mu.Lock()
		s.refs[object]++
		s.mu.Unlock()
	case "remove-reference":
		s.mu.Lock()
		if s.refs[object] > 0 {
			s.refs[object]--
		}
		s.mu.Unlock()
	}
	s.reply(req, rep)
}

func (s *sim) announceProvider(session string) {
	pc := legacy.ProviderChange{
		Name:        s.name,
		Description: "geobridge provider simulator",
		Service:     s.service,
		Path:        s.path,
	}
	payload, err := json.Marshal(pc)
	if err != nil {
		return
	}
	s.cli.Publish(bus.LegacyProviderChangedTopic(session), 1, false, payload)
	log.Printf("provider announced session=%s service=%s path=%s", session, s.service, s.path)
}

func (s *sim) reply(req bus.LegacyRequest, rep bus.Reply) {
	if req.ReplyTo == "" {
		return
	}
	payload, err := json.Marshal(rep)
	if err != nil {
		return
	}
	s.cli.Publish(req.ReplyTo, 1, false, payload)
}

// tracking reports whether any master session has requested positioning.
func (s *sim) tracking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, started := range s.sessions {
		if started {
			return true
		}
	}
	return false
}

// feed parses NMEA sentences from src and publishes telemetry while at
// least one session is positioning. GGA carries the position, RMC the
// velocity.
func (s *sim) feed(ctx context.Context, src io.Reader, pace time.Duration) error {
	scanner := bufio.NewScanner(src)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		sentence, err := nmea.Parse(line)
		if err != nil {
			// Receivers interleave proprietary sentences; skip quietly.
			continue
		}
		if s.tracking() {
			s.publishSentence(sentence)
		}

		if pace > 0 {
			select {
			case <-time.After(pace):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return scanner.Err()
}

func (s *sim) publishSentence(sentence nmea.Sentence) {
	now := time.Now().Unix()
	switch v := sentence.(type) {
	case nmea.GGA:
		if v.FixQuality == nmea.Invalid {
			return
		}
		s.publishPosition(legacy.PositionSample{
			Fields:    0x7,
			Timestamp: now,
			Latitude:  v.Latitude,
			Longitude: v.Longitude,
			Altitude:  v.Altitude,
			// HDOP scaled to a rough horizontal error in meters.
			AccuracyH: v.HDOP * 5.0,
		})
	case nmea.RMC:
		if v.Validity != nmea.ValidRMC {
			return
		}
		s.publishVelocity(legacy.VelocitySample{
			Fields:    0x3,
			Timestamp: now,
			Speed:     v.Speed * knotsToMetersPerSecond,
			Direction: v.Course,
			Climb:     0,
		})
	}
}

func (s *sim) publishPosition(p legacy.PositionSample) {
	payload, err := json.Marshal(p)
	if err != nil {
		return
	}
	s.cli.Publish(bus.LegacyPositionTopic(s.service, s.path), 1, false, payload)
}

func (s *sim) publishVelocity(v legacy.VelocitySample) {
	payload, err := json.Marshal(v)
	if err != nil {
		return
	}
	s.cli.Publish(bus.LegacyVelocityTopic(s.service, s.path), 1, false, payload)
}

// splitObjectOp recovers the object path and operation from an op topic,
// e.g. "legacy/session/1/position-start" -> ("session/1", "position-start").
func splitObjectOp(topic string) (object, op string, ok bool) {
	rest, found := strings.CutPrefix(topic, "legacy/")
	if !found {
		return "", "", false
	}
	i := strings.LastIndex(rest, "/")
	if i <= 0 {
		return "", "", false
	}
	return rest[:i], rest[i+1:], true
}
