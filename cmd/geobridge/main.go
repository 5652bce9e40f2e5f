package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"geobridge/internal/bus"
	"geobridge/internal/config"
	"geobridge/internal/debuglog"
	"geobridge/internal/fix"
	"geobridge/internal/legacy"
	"geobridge/internal/lifecycle"
	"geobridge/internal/session"
	"geobridge/internal/web"
)

func main() {
	var (
		configPath   string
		debug        bool
		graceTimeout int
	)
	flag.StringVar(&configPath, "config", "./geobridge.yaml", "Path to YAML config")
	flag.BoolVar(&debug, "debug", false, "Enable per-fix debug logging")
	flag.IntVar(&graceTimeout, "grace-timeout", 0, "Grace timeout in milliseconds before tracking stops (overrides config)")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	if debug {
		debuglog.Enable()
	}
	if graceTimeout > 0 {
		cfg.GraceTimeoutMs = graceTimeout
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.Printf("geobridge starting")
	log.Printf("grace timeout=%s history=%d", cfg.GraceTimeout(), cfg.History)

	posCli, err := bus.Dial(bus.DialOptions{
		Broker:   cfg.Positioning.Broker,
		ClientID: cfg.Positioning.ClientID,
	})
	if err != nil {
		log.Fatalf("positioning bus dial failed: %v", err)
	}
	defer posCli.Disconnect(250)

	legCli, err := bus.Dial(bus.DialOptions{
		Broker:   cfg.Legacy.Broker,
		ClientID: cfg.Legacy.ClientID,
	})
	if err != nil {
		log.Fatalf("legacy bus dial failed: %v", err)
	}
	defer legCli.Disconnect(250)

	srv, err := bus.NewServer(posCli)
	if err != nil {
		log.Fatalf("positioning server init failed: %v", err)
	}

	// reg is created after the coordinator but read by the status probe, so
	// it is declared up front.
	var reg *session.Registry
	status := web.NewStatus(func() []session.Snapshot {
		return reg.Snapshots()
	})

	var feed *web.FixFeed
	if cfg.Web.Enable {
		feed = web.NewFixFeed()
	}

	var coord *lifecycle.Coordinator
	coord = lifecycle.New(lifecycle.Config{
		GraceTimeout: cfg.GraceTimeout(),
		InUse: func(inUse bool) {
			srv.PublishInUse(inUse)
			status.SetInUse(inUse, coord.ActiveCount())
		},
	})
	defer coord.Close()

	reg = session.NewRegistry(session.RegistryConfig{
		Hooks:    coord,
		Notifier: srv,
		Watcher:  srv,
	})

	dist := fix.NewDistributor(fix.DistributorConfig{
		Capacity: cfg.History,
		Targets:  reg,
		Published: func(f fix.Fix) {
			srv.PublishFix(f)
			status.MarkFix(f)
			feed.Publish(f)
		},
	})

	legConn, err := bus.NewLegacyConn(legCli, cfg.Legacy.ClientID, cfg.Legacy.CallTimeout())
	if err != nil {
		log.Fatalf("legacy backend init failed: %v", err)
	}

	client := legacy.NewClient(legConn, func(f fix.Fix) {
		dist.Publish(f)
	})
	coord.SetTracker(client)
	status.SetTrackingSource(func() (string, string) {
		provider := ""
		if p, ok := client.Provider(); ok {
			provider = p.Name
		}
		return string(client.State()), provider
	})

	srv.Bind(reg, dist)
	if err := srv.Start(); err != nil {
		log.Fatalf("positioning server start failed: %v", err)
	}
	defer srv.Close()

	if cfg.Web.Enable {
		go func() {
			err := web.Serve(ctx, cfg.Web.Listen, status, feed)
			if err != nil && ctx.Err() == nil {
				log.Printf("web status server stopped: %v", err)
				cancel()
			}
		}()
	}

	<-ctx.Done()
	log.Printf("geobridge stopping")

	// The backend's hardware references outlive this process unless they
	// are dropped here.
	client.StopTracking()
}
