// Drone Fleet Core - registration, provisioning and telemetry bridge.
//
// This is the main entry point. It wires the registration workflow, the
// broker bridge, the telemetry router and the REST/WebSocket API, runs the
// startup self-test, and shuts everything down in reverse order on SIGINT or
// SIGTERM.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/nerrad567/dronefleet-core/migrations"

	"github.com/nerrad567/dronefleet-core/internal/api"
	"github.com/nerrad567/dronefleet-core/internal/audit"
	"github.com/nerrad567/dronefleet-core/internal/command"
	"github.com/nerrad567/dronefleet-core/internal/credential"
	"github.com/nerrad567/dronefleet-core/internal/device"
	"github.com/nerrad567/dronefleet-core/internal/infrastructure/config"
	"github.com/nerrad567/dronefleet-core/internal/infrastructure/database"
	"github.com/nerrad567/dronefleet-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/dronefleet-core/internal/infrastructure/logging"
	"github.com/nerrad567/dronefleet-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/dronefleet-core/internal/infrastructure/observability"
	"github.com/nerrad567/dronefleet-core/internal/registration"
	"github.com/nerrad567/dronefleet-core/internal/selftest"
	"github.com/nerrad567/dronefleet-core/internal/telemetry"
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

// shutdownTimeout bounds metric flushing on exit.
const shutdownTimeout = 5 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error { //nolint:gocognit,funlen // linear wiring of every component
	log := logging.Default()
	log.Info("starting Drone Fleet Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
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

	// Metrics
	metrics, err := observability.Init(ctx, observability.Config{
		ServiceName:    cfg.Service.Name,
		ServiceVersion: version,
		Environment:    cfg.Observability.Environment,
		OTLPEndpoint:   cfg.Observability.OTLPEndpoint,
		Interval:       time.Duration(cfg.Observability.Interval) * time.Second,
		Enabled:        cfg.Observability.Enabled,
	})
	if err != nil {
		return fmt.Errorf("initialising metrics: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if shutdownErr := metrics.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error("error flushing metrics", "error", shutdownErr)
		}
	}()

	// Open database
	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
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

	// Repositories and the event notifier
	droneRepo := device.NewSQLiteRepository(db.DB)
	auditRepo := audit.NewSQLiteRepository(db.DB)

	hub := api.NewHub(cfg.WebSocket, log)
	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	go hub.Run(hubCtx)

	regService := registration.NewService(
		registration.NewSQLiteRepository(db.DB),
		droneRepo,
		db,
		credential.NewIssuer(cfg.Registration.SecretLength),
		hub,
		registration.Options{
			TopicNamespace:       cfg.MQTT.TopicNamespace,
			BrokerURL:            cfg.MQTT.PublicBrokerURL,
			BaseURL:              cfg.Service.BaseURL,
			RotateSecretOnStatus: cfg.Registration.RotateSecretOnStatus,
			DefaultPageSize:      cfg.Registration.DefaultPageSize,
			MaxPageSize:          cfg.Registration.MaxPageSize,
		},
	)
	regService.SetLogger(log)

	// Connect to InfluxDB (optional). The interfaces stay nil when disabled so
	// the router skips the sink and the self-test reports it unconfigured.
	var (
		sink       telemetry.Sink
		timeseries selftest.Timeseries
	)
	if cfg.InfluxDB.Enabled {
		influxClient, connErr := influxdb.Connect(ctx, cfg.InfluxDB)
		if connErr != nil {
			// Degraded start: telemetry keeps flowing to heartbeats.
			log.Error("InfluxDB unavailable, telemetry will not be stored", "error", connErr)
		} else {
			defer func() {
				log.Info("closing InfluxDB connection")
				if closeErr := influxClient.Close(); closeErr != nil {
					log.Error("error closing InfluxDB", "error", closeErr)
				}
			}()
			influxClient.SetOnError(func(err error) {
				log.Error("InfluxDB write error", "error", err)
			})
			sink = influxClient
			timeseries = influxClient
			log.Info("InfluxDB connected",
				"url", cfg.InfluxDB.URL,
				"org", cfg.InfluxDB.Org,
				"bucket", cfg.InfluxDB.Bucket,
			)
		}
	} else {
		log.Info("InfluxDB disabled")
	}

	// Telemetry router consumes inbound broker messages on a worker pool.
	router := telemetry.NewRouter(sink, droneRepo, telemetry.Options{
		Namespace: cfg.MQTT.TopicNamespace,
		Workers:   cfg.Telemetry.Workers,
		QueueSize: cfg.Telemetry.QueueSize,
	})
	router.SetLogger(log)
	router.SetNotifier(hub)
	router.Start(ctx)
	defer func() {
		log.Info("stopping telemetry router")
		router.Stop()
	}()

	// Broker bridge. A failed initial connect is not fatal; the supervisor
	// keeps retrying and subscriptions are replayed once connected.
	bridge := mqtt.NewManager(cfg.MQTT)
	bridge.SetLogger(log)
	for _, filter := range router.Filters() {
		if subErr := bridge.Subscribe(filter, byte(cfg.MQTT.QoS), router.HandleMessage); subErr != nil {
			return fmt.Errorf("subscribing to %s: %w", filter, subErr)
		}
	}
	if startErr := bridge.Start(ctx); startErr != nil {
		log.Warn("broker unavailable at startup, continuing degraded", "error", startErr)
	}
	defer func() {
		log.Info("disconnecting from broker")
		if closeErr := bridge.Close(); closeErr != nil {
			log.Error("error closing broker connection", "error", closeErr)
		}
	}()

	publisher := command.NewPublisher(bridge, droneRepo, cfg.MQTT.TopicNamespace)
	publisher.SetLogger(log)

	// Startup self-test
	validator := selftest.New(db, timeseries, bridge, selftest.Options{
		Strict:        cfg.SelfTest.Strict,
		GracePeriod:   cfg.SelfTest.GetGracePeriod(),
		CanaryTimeout: cfg.SelfTest.GetCanaryTimeout(),
	})
	validator.SetLogger(log)
	if cfg.SelfTest.Enabled {
		validator.RunAtStartup(ctx)
	} else {
		log.Info("startup self-test disabled")
	}

	// REST + WebSocket API
	server, err := api.New(api.Deps{
		Config:        cfg.API,
		WS:            cfg.WebSocket,
		Security:      cfg.Security,
		Logger:        log,
		Registrations: regService,
		Drones:        droneRepo,
		Commands:      publisher,
		Bridge:        bridge,
		SelfTest:      validator,
		DB:            db,
		AuditRepo:     auditRepo,
		ExternalHub:   hub,
		Version:       version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := server.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred functions run in reverse order: API server, broker, router,
	// InfluxDB, hub, database, metrics.
	return nil
}

// getConfigPath returns the config file path from DRONEFLEET_CONFIG or the default.
func getConfigPath() string {
	if path := os.Getenv("DRONEFLEET_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
