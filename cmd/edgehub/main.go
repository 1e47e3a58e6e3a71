// Edge Hub Core - Central Hub for Unreliable Edge Devices
//
// This is the main entry point for the Edge Hub application. Edge Hub is
// the central coordination point for a fleet of edge devices that connect
// over flaky networks:
//   - Device registry with identity reconciliation
//   - Command dispatch with acknowledgement tracking
//   - Registration token issuance for device onboarding
//
// For the operator API surface, see internal/api.
// For the device channel protocol, see internal/transport.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	_ "github.com/nerrad567/edgehub-core/migrations"

	"github.com/nerrad567/edgehub-core/internal/api"
	"github.com/nerrad567/edgehub-core/internal/auth"
	"github.com/nerrad567/edgehub-core/internal/device"
	"github.com/nerrad567/edgehub-core/internal/events"
	"github.com/nerrad567/edgehub-core/internal/hub"
	"github.com/nerrad567/edgehub-core/internal/infrastructure/config"
	"github.com/nerrad567/edgehub-core/internal/infrastructure/database"
	"github.com/nerrad567/edgehub-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/edgehub-core/internal/infrastructure/logging"
	"github.com/nerrad567/edgehub-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/edgehub-core/internal/transport"
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

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Edge Hub",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

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

	// Run migrations
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Initialise repositories
	deviceRepo := device.NewSQLiteRepository(db.DB)
	tokenRepo := auth.NewTokenRepository(db.DB)

	// The hub was down, so any device recorded as online was last seen an
	// unknown time ago. Demote them until they re-register or time out.
	if markErr := deviceRepo.MarkUnseen(ctx); markErr != nil {
		return fmt.Errorf("marking devices unseen: %w", markErr)
	}
	devices, err := deviceRepo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading device registry: %w", err)
	}
	log.Info("device registry loaded", "devices", len(devices))

	// Event bus for device lifecycle events
	bus := events.NewBus(log)
	defer bus.Close()

	// Connection index and registration coordinator
	index := hub.NewConnectionIndex()
	coordinator := hub.NewCoordinator(deviceRepo, tokenRepo, index, bus, log, hub.CoordinatorConfig{
		RequireTokenForNewDevices: cfg.Registration.RequireTokenForNewDevices,
		StorageTimeout:            time.Duration(cfg.Registration.StorageTimeout) * time.Second,
		PushTimeout:               time.Duration(cfg.Registration.PushTimeout) * time.Second,
	})

	// Command dispatcher; also pushes assigned configuration on registration
	dispatcher := hub.NewDispatcher(index, deviceRepo, bus, log,
		time.Duration(cfg.Dispatch.AckTimeout)*time.Second)
	coordinator.SetConfigPusher(dispatcher)

	// Background workers (event bridge) run under a shared group so a
	// worker failure shuts the whole process down cleanly.
	group, groupCtx := errgroup.WithContext(ctx)

	// Connect to MQTT broker (optional): outward event bridge only
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		bridge := events.NewBridge(bus, mqttClient, log)
		group.Go(func() error {
			return bridge.Run(groupCtx)
		})
	} else {
		log.Info("MQTT disabled")
	}

	// Connect to InfluxDB (optional): telemetry history sink
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		coordinator.SetTelemetryRecorder(influxClient)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Device WebSocket channel
	channel := transport.NewHandler(coordinator, dispatcher, cfg.WebSocket, log)

	// Operator REST API, with the device channel mounted on it
	apiServer, err := api.New(api.Deps{
		Config:        cfg.API,
		Security:      cfg.Security,
		Logger:        log,
		Repo:          deviceRepo,
		Tokens:        tokenRepo,
		Dispatcher:    dispatcher,
		Index:         index,
		DeviceChannel: channel,
		ChannelPath:   cfg.WebSocket.Path,
		Version:       version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := apiServer.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal",
		"hub_id", cfg.Hub.ID,
		"api", fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port),
		"channel", cfg.WebSocket.Path,
	)

	// Block until the signal context cancels or a worker fails. The extra
	// goroutine keeps Wait() pinned to the signal context when no workers
	// are running (MQTT disabled).
	group.Go(func() error {
		<-groupCtx.Done()
		return nil
	})
	if waitErr := group.Wait(); waitErr != nil {
		return fmt.Errorf("background worker failed: %w", waitErr)
	}

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls will run in reverse order:
	// 1. API server (stops accepting operator requests and device connections)
	// 2. InfluxDB (if enabled)
	// 3. MQTT (if enabled)
	// 4. Event bus
	// 5. Database

	log.Info("Edge Hub stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses EDGEHUB_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("EDGEHUB_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
// mqttClient and influxClient may be nil when the feature is disabled.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}
