// garge-supervisor - keeps garge-node running
//
// The supervisor launches garge-node and acts on its exit code: it relaunches
// after a restart request, waits out a deep sleep before relaunching, and
// gives up after too many crashes in a row. It plays the part a
// microcontroller's reset logic and RTC wake-up play on real hardware.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nerrad567/garge-node/internal/infrastructure/config"
	"github.com/nerrad567/garge-node/internal/infrastructure/logging"
	"github.com/nerrad567/garge-node/internal/process"
)

// Version information - set at build time via ldflags
var (
	version = "dev"
	commit  = "unknown"
)

const (
	defaultConfigPath = "configs/config.yaml"
	configEnv         = "GARGE_CONFIG"
)

func main() {
	configFlag := flag.String("config", "", "path to config file shared with garge-node")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, getConfigPath(*configFlag)); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run supervises garge-node until ctx is done or the node stops for good.
// The node is started with the same config file.
func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	base := logging.New(cfg.Logging, version)
	defer func() { _ = base.Close() }()
	log := base.With("component", "supervisor")
	log.Info("starting garge-supervisor",
		"version", version,
		"commit", commit,
		"binary", cfg.Supervisor.Binary,
	)

	sup := process.NewSupervisor(process.ConfigFrom(cfg, []string{"-config", configPath}))
	sup.SetLogger(log)

	err = sup.Run(ctx)
	stats := sup.Stats()
	log.Info("supervisor stopped",
		"launches", stats.Launches,
		"restarts", stats.Restarts,
		"sleeps", stats.Sleeps,
		"failures", stats.Failures,
	)
	if err != nil {
		return fmt.Errorf("supervising %s: %w", cfg.Supervisor.Binary, err)
	}
	return nil
}

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
