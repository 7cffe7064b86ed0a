package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	_ "github.com/nerrad567/gray-logic-zones/migrations"

	"github.com/nerrad567/gray-logic-zones/internal/api"
	"github.com/nerrad567/gray-logic-zones/internal/audit"
	"github.com/nerrad567/gray-logic-zones/internal/bridge"
	"github.com/nerrad567/gray-logic-zones/internal/condition"
	"github.com/nerrad567/gray-logic-zones/internal/enforcer"
	"github.com/nerrad567/gray-logic-zones/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-zones/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-zones/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-zones/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-zones/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-zones/internal/statestore"
	"github.com/nerrad567/gray-logic-zones/internal/zone"
)

const hoursPerDay = 24

// newServeCmd creates the "zonectl serve" subcommand.
func newServeCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the controllers, enforcers, MQTT bridge and API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), opts)
		},
	}
}

// run is the actual application logic, separated from the command for
// testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//   - opts: Persistent command-line flags
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context, opts *globalOptions) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Gray Logic Zones",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath(opts.configPath)
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", configPath,
		"level", cfg.Logging.Level,
		"site", cfg.Site.ID,
	)

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

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	store := statestore.New(db.DB)
	store.SetLogger(log.Component("statestore"))
	if loadErr := store.Load(ctx); loadErr != nil {
		return fmt.Errorf("loading state store: %w", loadErr)
	}

	siteLoc, err := cfg.Site.Location()
	if err != nil {
		return err
	}
	conditions := condition.NewEngine(store,
		condition.WithLocation(siteLoc),
		condition.WithLogger(log.Component("condition")),
	)

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
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	influxClient, err := connectInflux(cfg, log)
	if err != nil {
		return err
	}
	if influxClient != nil {
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
	}

	br, err := bridge.New(bridge.Options{
		MQTT:   mqttClient,
		States: store,
		QoS:    byte(cfg.MQTT.QoS),
		Logger: log.Component("bridge"),
	})
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}

	registry := zone.NewRegistry(zone.RegistryDeps{
		Store:      store,
		Actions:    br,
		Scenes:     br,
		Conditions: conditions,
		QueueSize:  cfg.Zones.QueueSize,
	})
	registry.SetLogger(log.Component("zone"))
	registry.AddObserver(br.PublishTransition)
	defer registry.Close()

	base, multiplier, maxDelay := cfg.Enforcer.Durations()
	managerDeps := enforcer.ManagerDeps{
		Invoker: br,
		States:  store,
		Backoff: enforcer.Backoff{Base: base, Multiplier: multiplier, Max: maxDelay},
	}
	if influxClient != nil {
		managerDeps.Recorder = influxClient
		registry.AddObserver(func(t zone.Transition) {
			influxClient.WriteZoneTransition(t.Controller, string(t.Event), string(t.From), string(t.To))
		})
	}
	manager := enforcer.NewManager(managerDeps)
	manager.SetLogger(log.Component("enforcer"))
	manager.AddObserver(br.PublishEnforcerStatus)
	defer manager.Close()

	store.OnChange(func(c statestore.Change) {
		manager.OnStateChanged(ctx, c.EntityID)
	})

	// apply builds what it can. Rejected controllers are reported in the
	// returned error and never stop the enforcers or the other controllers.
	apply := func(ctx context.Context, f *zone.File) error {
		applyErr := registry.Apply(ctx, f)
		manager.Apply(f.Enforcers)
		log.Info("controllers applied",
			"controllers", len(registry.Names()),
			"enforcers", len(f.Enforcers),
		)
		return applyErr
	}

	// load reads the controller file and applies its valid definitions. The
	// error is non-nil when anything was rejected; zone.Rejections tells a
	// partial apply from an unreadable file.
	load := func(ctx context.Context) error {
		f, loadErr := zone.LoadConfig(cfg.Zones.ConfigFile)
		if f == nil {
			return loadErr
		}
		return errors.Join(loadErr, apply(ctx, f))
	}

	if loadErr := load(ctx); loadErr != nil {
		if _, partial := zone.Rejections(loadErr); !partial {
			return fmt.Errorf("loading controllers: %w", loadErr)
		}
		log.Error("controller definitions rejected, running the rest", "error", loadErr)
	}

	br.Attach(registry, manager)
	if startErr := br.Start(); startErr != nil {
		return fmt.Errorf("starting bridge: %w", startErr)
	}
	defer func() {
		log.Info("stopping bridge")
		br.Stop()
	}()

	checks := map[string]api.HealthChecker{
		"database": db,
		"mqtt":     mqttClient,
	}
	if influxClient != nil {
		checks["influxdb"] = influxClient
	}
	if checkErr := healthCheck(ctx, checks); checkErr != nil {
		return fmt.Errorf("health check failed: %w", checkErr)
	}
	log.Info("all health checks passed")

	auditLog := audit.NewSQLiteRepository(db.DB)

	g, gctx := errgroup.WithContext(ctx)

	if cfg.API.Enabled {
		server, serverErr := api.New(api.Deps{
			Config:       cfg.API,
			WS:           cfg.WebSocket,
			Security:     cfg.Security,
			Logger:       log.Component("api"),
			Zones:        registry,
			Enforcers:    manager,
			History:      store,
			Audit:        auditLog,
			Reload:       load,
			HealthChecks: checks,
			DB:           db.DB,
			Version:      version,
		})
		if serverErr != nil {
			return fmt.Errorf("creating API server: %w", serverErr)
		}
		if startErr := server.Start(gctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			log.Info("stopping API server")
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error stopping API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("API disabled")
	}

	if cfg.Zones.Watch {
		watcher := zone.NewWatcher(cfg.Zones.ConfigFile, apply, log.Component("watcher"))
		g.Go(func() error {
			return watcher.Run(gctx)
		})
	}

	if days := cfg.Database.HistoryRetentionDays; days > 0 {
		retention := time.Duration(days) * hoursPerDay * time.Hour
		g.Go(func() error {
			store.RunRetention(gctx, retention)
			return nil
		})
		g.Go(func() error {
			pruneAudit(gctx, auditLog, retention, log)
			return nil
		})
	}

	log.Info("initialisation complete, waiting for shutdown signal")

	// Blocks until a signal arrives or a background task fails.
	<-gctx.Done()
	if waitErr := g.Wait(); waitErr != nil && ctx.Err() == nil {
		return fmt.Errorf("background task failed: %w", waitErr)
	}

	log.Info("shutdown signal received, cleaning up")

	// Deferred cleanup runs in reverse order: API, bridge, enforcers,
	// controllers, InfluxDB, MQTT, database.
	return nil
}

// pruneAudit applies the history retention to the audit log once an hour
// until ctx is cancelled.
func pruneAudit(ctx context.Context, repo *audit.SQLiteRepository, retention time.Duration, log *logging.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		if n, err := repo.Prune(ctx, retention); err != nil {
			log.Warn("audit log pruning failed", "error", err)
		} else if n > 0 {
			log.Info("audit log pruned", "rows", n)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// connectInflux connects to InfluxDB when enabled. It returns a nil client
// when disabled.
func connectInflux(cfg *config.Config, log *logging.Logger) (*influxdb.Client, error) {
	if !cfg.InfluxDB.Enabled {
		log.Info("InfluxDB disabled")
		return nil, nil
	}

	client, err := influxdb.Connect(cfg.InfluxDB, influxdb.WithDefaultTag("site", cfg.Site.ID))
	if err != nil {
		return nil, fmt.Errorf("connecting to InfluxDB: %w", err)
	}
	client.SetOnError(func(err error) {
		log.Error("InfluxDB write error", "error", err)
	})
	log.Info("InfluxDB connected",
		"url", cfg.InfluxDB.URL,
		"org", cfg.InfluxDB.Org,
		"bucket", cfg.InfluxDB.Bucket,
	)
	return client, nil
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - checks: Components to check, keyed by name
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, checks map[string]api.HealthChecker) error {
	for _, name := range []string{"database", "mqtt", "influxdb"} {
		c, ok := checks[name]
		if !ok {
			continue
		}
		if err := c.HealthCheck(ctx); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}
