// Haven Core - Smart Home Automation Engine
//
// havend is the long-running daemon at the heart of Haven: it watches
// device state over MQTT, runs automation rules, drives schedules and
// timers, and keeps an execution history in SQLite.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	_ "github.com/draycott/haven-core/migrations"

	"github.com/draycott/haven-core/internal/automation"
	"github.com/draycott/haven-core/internal/control"
	"github.com/draycott/haven-core/internal/device"
	"github.com/draycott/haven-core/internal/events"
	"github.com/draycott/haven-core/internal/history"
	"github.com/draycott/haven-core/internal/infrastructure/config"
	"github.com/draycott/haven-core/internal/infrastructure/database"
	"github.com/draycott/haven-core/internal/infrastructure/logging"
	"github.com/draycott/haven-core/internal/infrastructure/mqtt"
	"github.com/draycott/haven-core/internal/infrastructure/telemetry"
	"github.com/draycott/haven-core/internal/scene"
	"github.com/draycott/haven-core/internal/schedule"
	"github.com/draycott/haven-core/internal/solar"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for
// testability. Returning an error allows main to handle exit codes
// consistently.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Haven Core",
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

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database and bring the schema up to date
	db, err := database.Open(database.Config{
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

	// Load rules and groups into the registry cache
	registry := automation.NewRegistry(automation.NewRepository(db))
	if loadErr := registry.Load(ctx); loadErr != nil {
		return fmt.Errorf("loading automation registry: %w", loadErr)
	}
	log.Info("automation registry loaded",
		"rules", len(registry.ListRules()),
		"groups", len(registry.ListGroups()),
	)

	// Connect to MQTT broker
	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log)
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	// Connect to InfluxDB telemetry (optional)
	var telemetryClient *telemetry.Client
	telemetryClient, err = telemetry.Connect(cfg.Telemetry)
	switch {
	case errors.Is(err, telemetry.ErrDisabled):
		telemetryClient = nil
		log.Info("telemetry disabled")
	case err != nil:
		return fmt.Errorf("connecting to telemetry: %w", err)
	default:
		defer func() {
			log.Info("closing telemetry connection")
			if closeErr := telemetryClient.Close(); closeErr != nil {
				log.Error("error closing telemetry", "error", closeErr)
			}
		}()
		telemetryClient.SetOnError(func(err error) {
			log.Error("telemetry write error", "error", err)
		})
		log.Info("telemetry connected",
			"url", cfg.Telemetry.URL,
			"bucket", cfg.Telemetry.Bucket,
		)
	}

	// Execution history: SQLite is the record, telemetry the mirror
	var telemetrySink history.TelemetrySink
	if telemetryClient != nil {
		telemetrySink = telemetryClient
	}
	recorder := history.NewRecorder(history.NewRepository(db), telemetrySink, log)

	// Event bus fans engine events out to MQTT
	bus := events.NewBus(log)
	topics := mqtt.Topics{}
	qos := byte(cfg.MQTT.QoS)
	bus.Subscribe(func(channel string, payload any) {
		body, marshalErr := json.Marshal(payload)
		if marshalErr != nil {
			log.Error("encoding event payload", "channel", channel, "error", marshalErr)
			return
		}
		if pubErr := mqttClient.Publish(topics.CoreEvent(channel), body, qos, false); pubErr != nil {
			log.Warn("publishing event", "channel", channel, "error", pubErr)
		}
	})

	// Engine collaborators
	states := device.NewStateStore()
	sink := device.NewMQTTSink(mqttClient, qos, cfg.GetCommandTimeout(), log)
	calendar := solar.NewCalendar(
		cfg.Site.Location.Latitude,
		cfg.Site.Location.Longitude,
		cfg.Timezone(),
	)
	executor := automation.NewExecutor(sink, automation.ExecutorConfig{
		DefaultInterval: cfg.GetSequenceInterval(),
		MaxParallel:     cfg.Engine.MaxParallelDispatch,
	}, log)

	engine := automation.NewEngine(automation.EngineOptions{
		Registry:   registry,
		Executor:   executor,
		Conditions: automation.NewConditionEvaluator(states, nil),
		Triggers:   automation.NewTriggerEvaluator(calendar),
		Recorder:   recorder,
		Bus:        bus,
		Logger:     log,
	})

	sceneManager := scene.NewManager(scene.ManagerOptions{
		Repository: scene.NewRepository(db),
		Groups:     registry,
		States:     states,
		Executor:   executor,
		Recorder:   recorder,
		Bus:        bus,
		Logger:     log,
	})

	scheduler := schedule.NewScheduler(schedule.Options{
		Repository: schedule.NewRepository(db),
		Sink:       engine,
		Calendar:   calendar,
		Location:   cfg.Timezone(),
		Interval:   cfg.GetTickInterval(),
		OnTick:     engine.HandleTick,
		Logger:     log,
	})

	// Feed device status reports into the state store and the engine.
	// Rule evaluation runs off the MQTT handler goroutine so a slow
	// dispatch never stalls incoming status messages.
	statusHandler := device.StatusHandler(states, func(deviceID string, changed map[string]any) {
		ev := automation.Event{
			DeviceID:  deviceID,
			Changed:   changed,
			Timestamp: time.Now(),
		}
		go engine.HandleEvent(ctx, ev)
	})
	if subErr := mqttClient.Subscribe(topics.AllDeviceStatus(), qos, statusHandler); subErr != nil {
		return fmt.Errorf("subscribing to device status: %w", subErr)
	}
	log.Info("subscribed to device status", "topic", topics.AllDeviceStatus())

	// Control requests drive manual triggers, scenes, and schedules
	controlHandler := control.NewHandler(control.Engine{
		Rules:     engine,
		Scenes:    sceneManager,
		Schedules: scheduler,
	}, log)
	if subErr := mqttClient.Subscribe(topics.AllControlRequests(), qos, controlHandler.MessageHandler()); subErr != nil {
		return fmt.Errorf("subscribing to control requests: %w", subErr)
	}
	log.Info("subscribed to control requests", "topic", topics.AllControlRequests())

	if err := healthCheck(ctx, db, mqttClient, telemetryClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return scheduler.Run(gctx)
	})

	log.Info("initialisation complete, waiting for shutdown signal")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	log.Info("shutdown signal received, cleaning up")
	log.Info("Haven Core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses HAVEN_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("HAVEN_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, telemetryClient *telemetry.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}
	if telemetryClient != nil {
		if err := telemetryClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("telemetry: %w", err)
		}
	}
	return nil
}
