// garge-node - device lifecycle agent
//
// This is the entry point for one sensor or bridge node. It keeps the node
// connected to the broker (provisioning it when it has no network
// credentials), samples the configured telemetry channels and, when enabled,
// bridges WiZ devices on the local network into MQTT.
//
// The agent never restarts itself. It exits with a code from the process
// package and garge-supervisor acts on it.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	_ "github.com/nerrad567/garge-node/migrations"

	"github.com/nerrad567/garge-node/internal/bridges/wiz"
	"github.com/nerrad567/garge-node/internal/clock"
	"github.com/nerrad567/garge-node/internal/connectivity"
	"github.com/nerrad567/garge-node/internal/control"
	"github.com/nerrad567/garge-node/internal/infrastructure/config"
	"github.com/nerrad567/garge-node/internal/infrastructure/database"
	"github.com/nerrad567/garge-node/internal/infrastructure/influxdb"
	"github.com/nerrad567/garge-node/internal/infrastructure/logging"
	"github.com/nerrad567/garge-node/internal/infrastructure/mqtt"
	"github.com/nerrad567/garge-node/internal/node"
	"github.com/nerrad567/garge-node/internal/nvstore"
	"github.com/nerrad567/garge-node/internal/ota"
	"github.com/nerrad567/garge-node/internal/process"
	"github.com/nerrad567/garge-node/internal/provisioning"
	"github.com/nerrad567/garge-node/internal/retained"
	"github.com/nerrad567/garge-node/internal/telemetry"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	defaultConfigPath = "configs/config.yaml"
	configEnv         = "GARGE_CONFIG"
)

func main() {
	configFlag := flag.String("config", "", "path to config file (overrides "+configEnv+")")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := run(ctx, getConfigPath(*configFlag))
	cancel()

	code := process.ExitCode(err)
	if code == process.ExitError {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	os.Exit(code)
}

// run wires every component and drives the scheduler until ctx is done or
// a task asks for a restart or sleep.
//
// Returns:
//   - nil on clean shutdown
//   - a *node.FaultError when the node must restart or sleep
//   - any other error when startup failed
func run(ctx context.Context, configPath string) error {
	log := logging.Default()
	log.Info("starting garge-node",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	base := logging.New(cfg.Logging, version)
	defer func() { _ = base.Close() }()
	log = base
	log.Info("configuration loaded", "path", configPath, "level", cfg.Logging.Level)

	id, err := node.ResolveIdentity(cfg.Node)
	if err != nil {
		return fmt.Errorf("resolving identity: %w", err)
	}
	log = log.With("node", id.Name)
	log.Info("identity resolved", "id", id.ID)

	clk := clock.Real()
	topics := mqtt.Topics{Root: cfg.MQTT.TopicRoot}
	availability := topics.Availability(id.Name)

	// Credentials
	store, err := nvstore.Open(cfg.NVStore.Path)
	if err != nil {
		return fmt.Errorf("opening credential store: %w", err)
	}
	holder, err := connectivity.NewCredentialHolder(store)
	if err != nil {
		return err
	}
	log.Info("credential store opened",
		"path", store.Path(),
		"network", holder.Network().Present(),
		"broker", holder.Broker().Present(),
	)

	// Retained memory
	db, err := database.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	memory := retained.New(db)
	boots, err := memory.Increment(ctx, retained.CounterBoots)
	if err != nil {
		return fmt.Errorf("counting boot: %w", err)
	}
	log.Info("retained memory ready", "path", db.Path(), "boots", boots)

	// Optional archive
	var (
		channelArchive telemetry.Archive
		bridgeArchive  wiz.Archive
		lifecycle      func(event, detail string)
	)
	lifecycle = func(string, string) {}
	influx, err := influxdb.Connect(ctx, cfg.InfluxDB)
	switch {
	case errors.Is(err, influxdb.ErrDisabled):
	case err != nil:
		log.Warn("influxdb unavailable, archiving disabled", "error", err)
	default:
		influx.SetOnError(func(writeErr error) {
			log.Warn("influxdb write failed", "error", writeErr)
		})
		defer func() {
			if closeErr := influx.Close(); closeErr != nil {
				log.Error("error closing influxdb", "error", closeErr)
			}
		}()
		channelArchive, bridgeArchive = influx, influx
		lifecycle = func(event, detail string) {
			influx.WriteLifecycle(id.Name, event, detail, clk.Now())
		}
		log.Info("influxdb connected", "url", cfg.InfluxDB.URL)
	}
	lifecycle("boot", version)

	// Telemetry
	channels, hw, err := telemetry.BuildChannels(cfg.Telemetry, id, clk)
	if err != nil {
		return fmt.Errorf("building telemetry channels: %w", err)
	}
	defer func() {
		if closeErr := hw.Close(); closeErr != nil {
			log.Error("error closing sensor bus", "error", closeErr)
		}
	}()

	pipeOpts := telemetry.Options{
		Identity: id,
		Topics:   topics,
		Device: telemetry.DeviceInfo{
			Model:        cfg.Node.Model,
			Manufacturer: cfg.Node.Manufacturer,
			Version:      version,
		},
		QoS:          byte(cfg.MQTT.QoS), // #nosec G115 -- validated 0-2
		Interval:     cfg.Telemetry.ReadInterval,
		Clock:        clk,
		Availability: availability,
		Memory:       memory,
		Archive:      channelArchive,
		Logger:       log,
	}
	if cfg.Power.DeepSleep {
		suspend := telemetry.NewSuspendPolicy(cfg.Power.MaxPublishFailures)
		if retainErr := suspend.Retain(ctx, memory, retained.CounterPublishFailures); retainErr != nil {
			log.Warn("publish failure count not retained", "error", retainErr)
		}
		pipeOpts.Suspend = suspend
	}
	pipeline := telemetry.NewPipeline(pipeOpts, channels...)
	if setupErr := pipeline.Setup(ctx); setupErr != nil {
		return fmt.Errorf("preparing telemetry: %w", setupErr)
	}
	log.Info("telemetry ready",
		"channels", len(channels),
		"restored", pipeline.Restored(),
		"deep_sleep", cfg.Power.DeepSleep,
	)

	// WiZ bridge
	var bridge *wiz.Bridge
	if cfg.Bridge.Enabled {
		bridgeOpts := wiz.OptionsFromConfig(cfg.Bridge, cfg.MQTT.QoS)
		bridgeOpts.Identity = id
		bridgeOpts.Topics = topics
		bridgeOpts.Availability = availability
		bridgeOpts.Transport = wiz.NewUDPTransport(cfg.Bridge.BroadcastAddress, cfg.Bridge.Port, 0)
		bridgeOpts.Clock = clk
		bridgeOpts.Archive = bridgeArchive
		bridgeOpts.Logger = log.With("component", "wiz")
		if bridge, err = wiz.NewBridge(bridgeOpts); err != nil {
			return fmt.Errorf("creating bridge: %w", err)
		}
		log.Info("wiz bridge enabled", "broadcast", cfg.Bridge.BroadcastAddress)
	}

	// Connectivity
	network, err := connectivity.NewNetwork(cfg.Network)
	if err != nil {
		return err
	}

	var machine *connectivity.Machine
	portalOpts := provisioning.Options{
		Addr:     cfg.PortalAddress(),
		Identity: id,
		Version:  version,
		Logger:   log.With("component", "portal"),
		Status: func() provisioning.Status {
			st := provisioning.Status{Node: id.Name, Version: version}
			if machine != nil {
				state := machine.State()
				st.State = state.String()
				st.MQTTConnected = state.HasSession()
			}
			if bridge != nil {
				st.Devices = bridge.Registry().Len()
			}
			return st
		},
	}
	if scanner, ok := network.(*connectivity.NMCLI); ok {
		portalOpts.Scanner = scanner
	}
	portal := provisioning.New(portalOpts)

	apName := cfg.Network.APName
	if apName == "" {
		apName = id.Name
	}
	machine = connectivity.NewMachine(connectivity.Options{
		Network: network,
		Dialer: connectivity.MQTTDialer{
			Config:       cfg.MQTT,
			ClientID:     id.Name,
			Availability: availability,
			Logger:       log,
		},
		Portal:              portal,
		Credentials:         holder,
		Clock:               clk,
		AssociationAttempts: cfg.Network.AssociationAttempts,
		AssociationDelay:    cfg.Network.AssociationDelay,
		CheckInterval:       cfg.Network.CheckInterval,
		RetryInterval:       cfg.MQTT.RetryInterval,
		CredentialPoll:      cfg.MQTT.CredentialPoll,
		HandshakeTimeout:    cfg.MQTT.HandshakeTimeout,
		APName:              apName,
		Logger:              log.With("component", "connectivity"),
	})
	machine.OnOnline(func(sess connectivity.Session) {
		log.Info("online", "broker", cfg.BrokerAddress())
		lifecycle("online", cfg.BrokerAddress())
		if pubErr := pipeline.PublishConfigs(sess); pubErr != nil {
			log.Warn("publishing discovery documents failed", "error", pubErr)
		}
		if bridge != nil {
			bridge.Rearm()
		}
	})
	machine.OnSessionLost(func() {
		lifecycle("session_lost", "")
		if bridge != nil {
			bridge.OnSessionLost()
		}
	})
	defer machine.Close()

	// Scheduler
	sched := node.Context{
		Identity:  id,
		Clock:     clk,
		Link:      machine,
		Telemetry: pipeline.Task(machine.ReportPublish),
		Aux:       auxTasks(cfg, holder, portal, memory, clk, log),
		Logger:    log,
	}
	if bridge != nil {
		sched.Bridge = bridge
	}
	scheduler, err := node.NewScheduler(sched)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	// The always-on portal is only useful once the node has joined a
	// network; before that the machine serves it from the access point.
	if holder.Network().Present() {
		g.Go(func() error {
			if runErr := portal.Run(gctx); runErr != nil {
				log.Warn("settings portal unavailable", "addr", cfg.PortalAddress(), "error", runErr)
			}
			return nil
		})
	}

	if cfg.Control.CredentialsFile != "" {
		watcher := control.NewWatcher(cfg.Control.CredentialsFile, holder, log.With("component", "control"))
		g.Go(func() error {
			return watcher.Run(gctx)
		})
	}

	g.Go(func() error {
		return scheduler.Run(gctx)
	})

	log.Info("garge-node running")
	err = g.Wait()

	if fault, ok := node.AsFault(err); ok {
		log.Info("exiting for restart", "reason", fault.Kind, "source", fault.Source)
		lifecycle(fault.Kind.String(), fault.Source)
		if fault.Kind.Sleep() {
			if _, incErr := memory.Increment(context.Background(), retained.CounterSleeps); incErr != nil {
				log.Warn("counting sleep failed", "error", incErr)
			}
		}
		return err
	}
	if err != nil {
		return err
	}

	log.Info("shutdown complete", "passes", scheduler.Passes())
	return nil
}

// auxTasks builds the optional scheduler tasks: heartbeat LED, reset button,
// update checks and the portal's request queue.
func auxTasks(cfg *config.Config, holder *connectivity.CredentialHolder, portal *provisioning.Portal, memory *retained.Store, clk clock.Clock, log *logging.Logger) []node.Task {
	var tasks []node.Task

	if cfg.Heartbeat.LEDPath != "" {
		led := node.SysfsLED{Path: cfg.Heartbeat.LEDPath}
		tasks = append(tasks, node.NewHeartbeat(led, clk, cfg.Heartbeat.Interval, log))
	}

	if cfg.Button.GPIOPath != "" {
		gpio := node.SysfsGPIO{Path: cfg.Button.GPIOPath, ActiveLow: cfg.Button.ActiveLow}
		tasks = append(tasks, node.NewResetButton(gpio, clk, cfg.Button.Hold, holder.ClearNetwork, log))
	}

	if cfg.OTA.ManifestURL != "" {
		opts := ota.OptionsFromConfig(cfg.OTA, cfg.Node, version)
		opts.Client = &http.Client{Timeout: otaTimeout}
		opts.Staging = memory
		opts.Clock = clk
		opts.Logger = log.With("component", "ota")
		tasks = append(tasks, ota.NewChecker(opts))
	}

	return append(tasks, portal.Requests(holder))
}

const otaTimeout = 2 * time.Minute

// getConfigPath returns the -config flag, else $GARGE_CONFIG, else the
// default path.
func getConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if path := os.Getenv(configEnv); path != "" {
		return path
	}
	return defaultConfigPath
}
