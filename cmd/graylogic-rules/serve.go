package main

import (
	"context"
	"fmt"

	"github.com/nerrad567/gray-logic-rules/internal/actuator"
	"github.com/nerrad567/gray-logic-rules/internal/api"
	"github.com/nerrad567/gray-logic-rules/internal/audit"
	"github.com/nerrad567/gray-logic-rules/internal/automation"
	"github.com/nerrad567/gray-logic-rules/internal/homestate"
	"github.com/nerrad567/gray-logic-rules/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-rules/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-rules/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-rules/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-rules/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-rules/internal/scheduler"
)

// run is the service logic, separated from the command for testability.
// It returns nil on clean shutdown, or an error describing the failure.
func run(ctx context.Context, configPath string) error { //nolint:gocognit,funlen // startup sequence: one block per component
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Gray Logic rules engine",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

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

	db, err := openDatabase(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()

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
	mqttClient.SetLogger(log.Component("mqtt"))
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB, cfg.Site.ID)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Command output
	act := actuator.New(mqttClient, actuator.Config{
		QueueSize:       cfg.Engine.CommandQueueSize,
		NotifyPerMinute: cfg.Engine.NotifyPerMinute,
		NotifyBurst:     cfg.Engine.NotifyBurst,
	})
	act.SetLogger(log.Component("actuator"))
	act.Start()
	defer func() {
		log.Info("stopping actuator")
		act.Stop()
	}()

	// Automation registry
	registry, err := loadRegistry(ctx, cfg, db, act, log)
	if err != nil {
		return err
	}
	defer registry.Close()

	// Home state from MQTT
	store := homestate.NewStore(automation.Coordinate{
		Latitude:  cfg.Site.Location.Latitude,
		Longitude: cfg.Site.Location.Longitude,
	})
	if subErr := store.Subscribe(mqttClient, byte(cfg.MQTT.QoS)); subErr != nil {
		return fmt.Errorf("subscribing to home state: %w", subErr)
	}

	// Evaluation cycles
	sched, err := scheduler.New(registry, store, scheduler.Config{
		Schedule: cfg.Engine.EvaluationSchedule,
		Debounce: cfg.GetEventDebounce(),
		Location: cfg.Location(),
	})
	if err != nil {
		return fmt.Errorf("creating scheduler: %w", err)
	}
	sched.SetLogger(log.Component("scheduler"))
	store.OnChange(func(homestate.Change) { sched.RequestEvaluation() })

	// HTTP API
	health := map[string]api.HealthChecker{
		"database": db,
		"mqtt":     mqttClient,
	}
	if influxClient != nil {
		health["influxdb"] = influxClient
	}
	server, err := api.New(api.Deps{
		Config:    cfg.API,
		Logger:    log.Component("api"),
		Registry:  registry,
		Scheduler: sched,
		State:     store,
		Actuator:  act,
		Audit:     audit.NewSQLiteRepository(db.DB),
		Health:    health,
		Version:   version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	// Event fan-out
	registry.OnExecution(act.PublishExecution)
	registry.OnExecution(server.Hub().PublishExecution)
	sched.OnCycle(server.Hub().PublishCycle)
	store.OnChange(server.Hub().PublishStateChange)
	if influxClient != nil {
		registry.OnExecution(influxClient.WriteAutomationRun)
		sched.OnCycle(func(c scheduler.Cycle) { influxClient.WriteCycle(c.Report, c.StartedAt) })
	}

	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}
	defer sched.Stop()

	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	if err := healthCheck(ctx, health); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal",
		"automations", registry.Count(),
		"next_cycle", sched.NextRun(),
	)

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	// Deferred cleanup runs in reverse order: API, scheduler, registry,
	// actuator, InfluxDB, MQTT, database.
	log.Info("Gray Logic rules engine stopped")
	return nil
}

// openDatabase opens the SQLite file and applies pending migrations.
func openDatabase(ctx context.Context, cfg *config.Config, log *logging.Logger) (*database.DB, error) {
	db, err := database.Open(ctx, database.ConfigFrom(cfg.Database))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	log.Info("database connected", "path", cfg.Database.Path)

	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	schema, err := db.SchemaVersion(ctx)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("reading schema version: %w", err)
	}
	log.Info("database migrations complete", "schema_version", schema)
	return db, nil
}

// loadRegistry builds the automation registry over the database and loads
// the stored automations and execution log.
func loadRegistry(ctx context.Context, cfg *config.Config, db *database.DB, act automation.Actuator, log *logging.Logger) (*automation.Registry, error) {
	executor := automation.NewExecutor(act, log.Component("executor"))
	registry := automation.NewRegistry(
		automation.NewSQLiteRepository(db.DB),
		executor,
		automation.NewExecutionLog(cfg.Engine.LogCapacity),
	)
	registry.SetLogger(log.Component("automation"))

	if err := registry.RefreshCache(ctx); err != nil {
		registry.Close()
		return nil, fmt.Errorf("loading automation registry: %w", err)
	}
	log.Info("automation registry initialised",
		"automations", registry.Count(),
		"log_entries", registry.Log().Len(),
	)
	return registry, nil
}

// healthCheck runs every component check once at startup.
func healthCheck(ctx context.Context, checks map[string]api.HealthChecker) error {
	for name, c := range checks {
		if err := c.HealthCheck(ctx); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}
