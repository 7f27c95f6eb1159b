// OpenRGB bridge
//
// This is the main entry point of the OpenRGB bridge. The bridge connects to
// an OpenRGB SDK server, keeps one light entity per RGB device (and
// optionally per LED) in sync with it, and exposes those lights over MQTT
// (Home Assistant discovery), HTTP and WebSocket.
//
// Usage:
//
//	openrgb-bridge [-config path] [-check]
//
// With -check the bridge only tests the OpenRGB connection and prints
// "ok" or "cannot_connect".
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	_ "github.com/nerrad567/openrgb-bridge/migrations"

	"github.com/nerrad567/openrgb-bridge/internal/api"
	"github.com/nerrad567/openrgb-bridge/internal/audit"
	"github.com/nerrad567/openrgb-bridge/internal/bridges/openrgb"
	"github.com/nerrad567/openrgb-bridge/internal/dispatcher"
	"github.com/nerrad567/openrgb-bridge/internal/entity"
	"github.com/nerrad567/openrgb-bridge/internal/infrastructure/config"
	"github.com/nerrad567/openrgb-bridge/internal/infrastructure/database"
	"github.com/nerrad567/openrgb-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/openrgb-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/openrgb-bridge/internal/infrastructure/mqtt"
	sdk "github.com/nerrad567/openrgb-bridge/internal/openrgb"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

const (
	// defaultConfigPath is used when neither -config nor OPENRGB_BRIDGE_CONFIG is set.
	defaultConfigPath = "configs/config.yaml"

	// configEnv overrides the config path.
	configEnv = "OPENRGB_BRIDGE_CONFIG"

	// Connection test results printed by -check.
	checkOK            = "ok"
	checkCannotConnect = "cannot_connect"
)

// Setup retry backoff for the first OpenRGB connection.
var (
	setupInitialDelay = time.Second
	setupMaxDelay     = time.Minute
)

const setupMultiplier = 1.5

// shutdownTimeout bounds draining the event dispatcher.
const shutdownTimeout = 5 * time.Second

// errCannotConnect is returned by -check when the server is unreachable.
var errCannotConnect = errors.New(checkCannotConnect)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//   - args: Command line arguments without the program name
//   - stdout: Destination of the -check result
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context, args []string, stdout io.Writer) error {
	flags := flag.NewFlagSet("openrgb-bridge", flag.ContinueOnError)
	flags.SetOutput(io.Discard)
	configPath := flags.String("config", "", "path to config.yaml (default $"+configEnv+" or "+defaultConfigPath+")")
	check := flags.Bool("check", false, "test the OpenRGB connection and exit")
	if err := flags.Parse(args); err != nil {
		return fmt.Errorf("parsing flags: %w", err)
	}

	log := logging.Default()
	log.Info("starting OpenRGB bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, source, err := loadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "source", source)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	if *check {
		return runCheck(ctx, cfg, log, stdout)
	}

	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	repo := entity.NewSQLiteRepository(db.DB)
	server, err := entity.EnsureServer(ctx, repo, entity.Server{
		Host:       cfg.OpenRGB.Host,
		Port:       cfg.OpenRGB.Port,
		ClientName: cfg.OpenRGB.ClientName,
		AddLEDs:    cfg.OpenRGB.AddLEDs,
	}, log)
	if err != nil {
		return fmt.Errorf("registering OpenRGB server: %w", err)
	}
	log = log.ForServer(server.UniqueID)
	registry := entity.NewRegistry(repo, *server)
	registry.SetLogger(log.Component("registry"))
	log.Info("entity registry initialised", "server", server.UniqueID)

	topics := mqtt.NewTopics(cfg.HomeAssistant.BaseTopic, server.UniqueID)
	mqttClient, influxClient, err := connectOutputs(ctx, cfg, topics.Availability(), log)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	if influxClient != nil {
		defer func() {
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
			stats := influxClient.Stats()
			log.Info("InfluxDB connection closed",
				"points_written", stats.Written,
				"points_skipped", stats.Skipped,
				"failed_batches", stats.FailedBatches,
			)
		}()
	}

	// Detached after the bus drains so queued lifecycle events are still recorded.
	recorder := audit.NewRecorder(audit.NewSQLiteRepository(db.DB), log.Component("audit"))
	defer recorder.Detach()

	// Closed before MQTT so queued events can still be published.
	bus := dispatcher.New(log.Component("dispatcher"))
	recorder.Attach(bus)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		bus.Close(closeCtx)
	}()

	client := sdk.New(sdkConfig(cfg))
	client.SetLogger(log.Component("sdk"))
	defer func() {
		log.Info("disconnecting from OpenRGB")
		if closeErr := client.Close(); closeErr != nil {
			log.Error("error closing OpenRGB client", "error", closeErr)
		}
	}()

	if err := connectWithRetry(ctx, client, log); err != nil {
		if ctx.Err() != nil {
			log.Info("shutdown requested before OpenRGB became reachable")
			return nil
		}
		return err
	}

	bridge, err := openrgb.NewBridge(openrgb.BridgeOptions{
		Config:     cfg,
		Client:     client,
		MQTTClient: mqttClient,
		Registry:   registry,
		Bus:        bus,
		Version:    version,
		Audit:      recorder,
		Logger:     log.Component("bridge"),
	})
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}

	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
		bridge.HandleMQTTConnect()
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	if err := bridge.Start(ctx); err != nil {
		return fmt.Errorf("starting bridge: %w", err)
	}
	log.Info("bridge started", "server", server.UniqueID, "lights", bridge.LightCount())

	var telemetry *openrgb.Telemetry
	if influxClient != nil {
		telemetry = openrgb.NewTelemetry(server.UniqueID, bus, influxClient)
		telemetry.Start()
	}

	var apiServer *api.Server
	if cfg.API.Enabled {
		apiServer, err = api.New(api.Deps{
			Config:  cfg.API,
			WS:      cfg.WebSocket,
			Logger:  log.Component("api"),
			Bridge:  bridge,
			Events:  bus,
			Audit:   recorder,
			Version: version,
		})
		if err != nil {
			bridge.Stop()
			return fmt.Errorf("creating API server: %w", err)
		}
		if err := apiServer.Start(ctx); err != nil {
			bridge.Stop()
			return fmt.Errorf("starting API server: %w", err)
		}
	} else {
		log.Info("API server disabled")
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		log.Warn("startup health check failed", "error", err)
	} else {
		log.Info("all health checks passed")
	}

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	if err := unload(bridge, apiServer, telemetry); err != nil {
		log.Error("error during shutdown", "error", err)
	}

	log.Info("OpenRGB bridge stopped")
	return nil
}

// loadConfig resolves the config source: the -config flag, then
// OPENRGB_BRIDGE_CONFIG, then the default path if it exists, then the
// built-in defaults.
func loadConfig(flagPath string) (*config.Config, string, error) {
	path := flagPath
	if path == "" {
		path = os.Getenv(configEnv)
	}
	if path == "" {
		if _, err := os.Stat(defaultConfigPath); err != nil {
			cfg := config.Default()
			if err := cfg.Validate(); err != nil {
				return nil, "", err
			}
			return cfg, "defaults", nil
		}
		path = defaultConfigPath
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func sdkConfig(cfg *config.Config) sdk.Config {
	return sdk.Config{
		Host:           cfg.OpenRGB.Host,
		Port:           cfg.OpenRGB.Port,
		ClientName:     cfg.OpenRGB.ClientName,
		ConnectTimeout: cfg.GetConnectTimeout(),
		RequestTimeout: cfg.GetConnectTimeout(),
	}
}

// runCheck performs the connection test behind -check.
func runCheck(ctx context.Context, cfg *config.Config, log *logging.Logger, stdout io.Writer) error {
	client := sdk.New(sdkConfig(cfg))
	client.SetLogger(log.Component("sdk"))
	defer client.Close()

	checkCtx, cancel := context.WithTimeout(ctx, cfg.GetConnectTimeout())
	defer cancel()

	if err := client.Connect(checkCtx); err != nil {
		log.Warn("OpenRGB connection test failed", "address", sdkConfig(cfg).Address(), "error", err)
		fmt.Fprintln(stdout, checkCannotConnect)
		return fmt.Errorf("%w: %w", errCannotConnect, err)
	}

	devices, err := client.Update(checkCtx)
	if err != nil {
		fmt.Fprintln(stdout, checkCannotConnect)
		return fmt.Errorf("%w: %w", errCannotConnect, err)
	}

	log.Info("OpenRGB connection test passed",
		"address", sdkConfig(cfg).Address(),
		"protocol_version", client.ProtocolVersion(),
		"devices", len(devices),
	)
	fmt.Fprintln(stdout, checkOK)
	return nil
}

// connectOutputs connects MQTT and, when enabled, InfluxDB concurrently.
// The MQTT last will marks the bridge offline on the availability topic.
func connectOutputs(ctx context.Context, cfg *config.Config, availabilityTopic string, log *logging.Logger) (*mqtt.Client, *influxdb.Client, error) {
	var mqttClient *mqtt.Client
	var influxClient *influxdb.Client

	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		c, err := mqtt.Connect(cfg.MQTT, availabilityTopic)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		c.SetLogger(log.Component("mqtt"))
		mqttClient = c
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
		return nil
	})
	if cfg.InfluxDB.Enabled {
		g.Go(func() error {
			c, err := influxdb.Connect(cfg.InfluxDB)
			if err != nil {
				return fmt.Errorf("connecting to InfluxDB: %w", err)
			}
			c.SetOnError(func(err error) {
				log.Error("InfluxDB write error",
					"error", err,
					"failed_batches", c.Stats().FailedBatches,
				)
			})
			influxClient = c
			log.Info("InfluxDB connected",
				"url", cfg.InfluxDB.URL,
				"org", cfg.InfluxDB.Org,
				"bucket", cfg.InfluxDB.Bucket,
			)
			return nil
		})
	} else {
		log.Info("InfluxDB disabled")
	}

	if err := g.Wait(); err != nil {
		if mqttClient != nil {
			mqttClient.Close() //nolint:errcheck // Best-effort cleanup after failed startup
		}
		if influxClient != nil {
			influxClient.Close() //nolint:errcheck // Best-effort cleanup after failed startup
		}
		return nil, nil, err
	}
	return mqttClient, influxClient, nil
}

// connector is the part of the SDK client the setup retry needs.
type connector interface {
	Connect(ctx context.Context) error
}

// connectWithRetry connects to the OpenRGB server, retrying with a
// capped exponential backoff until it succeeds or ctx is cancelled.
func connectWithRetry(ctx context.Context, client connector, log *logging.Logger) error {
	delay := setupInitialDelay
	for attempt := 1; ; attempt++ {
		err := client.Connect(ctx)
		if err == nil {
			if attempt > 1 {
				log.Info("OpenRGB server reachable", "attempts", attempt)
			}
			return nil
		}
		log.Warn("OpenRGB server not ready, retrying",
			"attempt", attempt,
			"retry_in", delay.String(),
			"error", err,
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("connecting to OpenRGB: %w", ctx.Err())
		case <-timer.C:
		}
		delay = nextDelay(delay)
	}
}

// nextDelay grows a retry delay by setupMultiplier up to setupMaxDelay.
func nextDelay(d time.Duration) time.Duration {
	next := time.Duration(float64(d) * setupMultiplier)
	if next > setupMaxDelay {
		return setupMaxDelay
	}
	return next
}

// unload stops the bridge, the API server and telemetry in parallel.
// The OpenRGB client, MQTT, InfluxDB and the dispatcher are closed by the
// deferred calls in run afterwards, so the bridge can still publish its
// offline availability.
func unload(bridge *openrgb.Bridge, apiServer *api.Server, telemetry *openrgb.Telemetry) error {
	var g errgroup.Group
	g.Go(func() error {
		bridge.Stop()
		return nil
	})
	if apiServer != nil {
		g.Go(apiServer.Close)
	}
	if telemetry != nil {
		g.Go(func() error {
			telemetry.Stop()
			return nil
		})
	}
	return g.Wait()
}

func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}
