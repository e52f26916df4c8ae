// AquaNext Core - aquaculture line telemetry service
//
// This is the main entry point for the AquaNext Core application. It keeps
// a live snapshot of one production line (environment, tanks, operating
// mode) synchronised from an MQTT broker over WebSocket, and serves it to
// the dashboard over HTTP and WebSocket.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/eglab8306/aquanext-dashboard/internal/api"
	"github.com/eglab8306/aquanext-dashboard/internal/infrastructure/config"
	"github.com/eglab8306/aquanext-dashboard/internal/infrastructure/logging"
	"github.com/eglab8306/aquanext-dashboard/internal/infrastructure/metrics"
	"github.com/eglab8306/aquanext-dashboard/internal/infrastructure/mqtt"
	"github.com/eglab8306/aquanext-dashboard/internal/telemetry"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// healthCheckTimeout bounds the startup health check.
const healthCheckTimeout = 2 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//   - args: Command-line arguments without the program name
//   - stdout: Destination for --version output
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context, args []string, stdout io.Writer) error {
	flags := pflag.NewFlagSet("aquanext", pflag.ContinueOnError)
	flags.SetOutput(stdout)
	configFlag := flags.StringP("config", "c", "", "path to config.yaml (default $AQUANEXT_CONFIG or "+defaultConfigPath+")")
	showVersion := flags.BoolP("version", "v", false, "print version and exit")
	if err := flags.Parse(args); err != nil {
		return err
	}

	if *showVersion {
		fmt.Fprintf(stdout, "aquanext %s (commit %s, built %s)\n", version, commit, date)
		return nil
	}

	log := logging.Default()
	log.Info("starting AquaNext Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath(*configFlag)
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Telemetry state
	facility, err := telemetry.NewFacility(cfg.Facility)
	if err != nil {
		return fmt.Errorf("building facility: %w", err)
	}
	initial, _ := telemetry.ParseMode(cfg.Mode.Initial)

	promMetrics := metrics.New()

	store := telemetry.NewStore(facility, facility.Seed(initial),
		telemetry.WithQueueSize(cfg.Telemetry.QueueSize),
		telemetry.WithPendingTimeout(cfg.Mode.GetPendingTimeout()),
		telemetry.WithRecorder(promMetrics),
		telemetry.WithStoreLogger(log.Component("store")),
	)

	// Broker connection
	connector := mqtt.NewConnector(cfg.MQTT, mqtt.WithLogger(log.Component("mqtt")))

	mode := telemetry.NewModeController(store, telemetry.NewCommandPublisher(connector), facility.Topics)
	mode.SetLogger(log.Component("mode"))
	mode.SetObserver(promMetrics)

	server, err := api.New(api.Deps{
		Config:  cfg.API,
		WS:      cfg.WebSocket,
		Logger:  log.Component("api"),
		State:   store,
		Mode:    mode,
		Broker:  connector,
		Metrics: promMetrics,
		Version: version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	connector.SetOnStatusChange(func(status mqtt.Status) {
		log.Info("broker status changed", "status", string(status))
		promMetrics.ObserveStatus(status)
		server.ObserveStatus(status)
	})

	subscriptions := telemetry.NewSubscriptionManager(facility)
	candidates := mqtt.ResolveCandidates(cfg.MQTT.OverrideURL, cfg.MQTT.Candidates)
	supervisor := mqtt.NewSupervisor(connector, candidates, mqtt.PolicyFromConfig(cfg.MQTT.Reconnect),
		func(session mqtt.Session) error {
			// Subscribe before any message can be applied.
			if err := subscriptions.Subscribe(session, store); err != nil {
				return err
			}
			log.Info("subscribed to telemetry topics",
				"endpoint", session.Endpoint(),
				"filters", subscriptions.Filters(),
			)
			return nil
		})
	supervisor.SetLogger(log.Component("supervisor"))

	storeCtx, stopStore := context.WithCancel(context.Background())
	storeDone := make(chan struct{})
	go func() {
		defer close(storeDone)
		if err := store.Run(storeCtx); err != nil {
			log.Error("telemetry store stopped", "error", err)
		}
	}()
	defer func() {
		stopStore()
		<-storeDone
	}()

	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()
	log.Info("API server started", "address", server.Addr())

	supervisorDone := make(chan struct{})
	go func() {
		defer close(supervisorDone)
		if err := supervisor.Run(ctx); err != nil {
			// Not fatal: the last known snapshot stays available as stale.
			log.Error("broker connection unavailable", "error", err)
		}
	}()

	checkCtx, cancelCheck := context.WithTimeout(ctx, healthCheckTimeout)
	if err := server.HealthCheck(checkCtx); err != nil {
		log.Warn("API health check failed", "error", err)
	}
	cancelCheck()

	log.Info("AquaNext Core started successfully",
		"candidates", len(candidates),
		"tanks", len(store.Snapshot().Tanks),
	)

	<-ctx.Done()
	log.Info("shutdown signal received, stopping services")

	<-supervisorDone
	log.Info("AquaNext Core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Priority: --config flag, AQUANEXT_CONFIG environment variable, default path.
func getConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if path := os.Getenv("AQUANEXT_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
