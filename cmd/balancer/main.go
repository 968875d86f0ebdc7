// Balancer Core - control plane for the household load balancer.
//
// It keeps the per-user device catalogue, proxies device commands to the
// device-control service, and fans status updates and balancer actions
// out to browsers over WebSocket and Web Push.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/nerrad567/balancer-core/internal/api"
	"github.com/nerrad567/balancer-core/internal/audit"
	"github.com/nerrad567/balancer-core/internal/auth"
	"github.com/nerrad567/balancer-core/internal/catalogue"
	"github.com/nerrad567/balancer-core/internal/device"
	"github.com/nerrad567/balancer-core/internal/downstream"
	"github.com/nerrad567/balancer-core/internal/infrastructure/config"
	"github.com/nerrad567/balancer-core/internal/infrastructure/database"
	"github.com/nerrad567/balancer-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/balancer-core/internal/infrastructure/logging"
	"github.com/nerrad567/balancer-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/balancer-core/internal/notify"
	"github.com/nerrad567/balancer-core/internal/relay"
	"github.com/nerrad567/balancer-core/migrations"
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

// startupCheckTimeout bounds the health checks run before serving.
const startupCheckTimeout = 10 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run wires every component, serves until ctx is cancelled, and then
// shuts down in reverse order of startup.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting Balancer Core",
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

	// Database
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

	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	users := auth.NewUserRepository(db.DB)
	if _, seedErr := auth.SeedAccounts(ctx, users, cfg.Security, log); seedErr != nil {
		return fmt.Errorf("seeding accounts: %w", seedErr)
	}

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	downstreamMetrics, err := downstream.NewMetrics(registry)
	if err != nil {
		return fmt.Errorf("registering downstream metrics: %w", err)
	}
	notifyMetrics, err := notify.NewMetrics(registry)
	if err != nil {
		return fmt.Errorf("registering notification metrics: %w", err)
	}

	// Downstream sync runs on its own context so queued notifications can
	// drain after the shutdown signal.
	downstreamClient := downstream.NewClient(cfg.Downstream, downstreamMetrics, log)
	queue := downstream.NewQueue(downstreamMetrics, log)
	queue.Start(context.WithoutCancel(ctx))
	defer func() {
		drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout(cfg.Downstream))
		defer cancel()
		if stopErr := queue.Stop(drainCtx); stopErr != nil {
			log.Warn("downstream sync queue did not drain", "error", stopErr, "pending", queue.Len())
		}
	}()

	auditRepo := audit.NewSQLiteRepository(db.DB)
	recorder := audit.NewRecorder(auditRepo, log)
	go recorder.Run(ctx)

	manager := catalogue.NewManager(catalogue.Deps{
		Devices:  device.NewSQLiteRepository(db.DB),
		Settings: device.NewSQLiteSettingsRepository(db.DB),
		Sync:     downstream.NewSyncer(downstreamClient, queue),
		Audit:    recorder,
		Logger:   log,
	})

	// InfluxDB (optional)
	var influxClient *influxdb.Client
	var telemetry notify.Recorder
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB)
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
		telemetry = influxClient
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Web Push (optional)
	var sender notify.Sender
	if cfg.WebPush.VAPIDPublicKey != "" {
		webPush, pushErr := notify.NewWebPushSender(cfg.WebPush)
		if pushErr != nil {
			return fmt.Errorf("configuring web push: %w", pushErr)
		}
		sender = webPush
	} else {
		log.Warn("VAPID keys not configured, push notifications disabled")
	}

	hub := api.NewHub(cfg.WebSocket, log)
	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	go hub.Run(hubCtx)

	notifier := notify.NewService(notify.Deps{
		Broadcaster:   hub,
		Sender:        sender,
		Subscriptions: notify.NewSubscriptionRepository(db.DB),
		Devices:       manager,
		Recorder:      telemetry,
		Metrics:       notifyMetrics,
		Logger:        log,
		PublicKey:     cfg.WebPush.VAPIDPublicKey,
		Concurrency:   cfg.WebPush.Concurrency,
	})

	// MQTT (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = startRelay(cfg.MQTT, manager, notifier, log)
		if err != nil {
			return err
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
	} else {
		log.Info("MQTT relay disabled")
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	server, err := api.New(api.Deps{
		Config:     cfg.API,
		WS:         cfg.WebSocket,
		Security:   cfg.Security,
		Logger:     log,
		Auth:       auth.NewService(users, cfg.Security.JWT.Secret, cfg.Security.JWT.GetAccessTokenTTL(), cfg.Security.Password.MinEntropy),
		Tickets:    auth.NewTicketStore(),
		Catalogue:  manager,
		Downstream: downstreamClient,
		Notify:     notifier,
		Audit:      auditRepo,
		DB:         db,
		MQTT:       mqttClient,
		Influx:     influxClient,
		Gatherer:   registry,
		Hub:        hub,
		Version:    version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse: API server, MQTT, hub, InfluxDB,
	// sync queue drain, database.
	log.Info("Balancer Core stopped")
	return nil
}

// startRelay connects to the broker and attaches the relay both ways:
// inbound events go to notifier and catalogue changes are published.
func startRelay(cfg config.MQTTConfig, manager *catalogue.Manager, notifier relay.Notifier, log *logging.Logger) (*mqtt.Client, error) {
	client, err := mqtt.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to MQTT: %w", err)
	}
	client.SetLogger(log)
	client.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	client.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.Broker.Host, cfg.Broker.Port),
		"client_id", cfg.Broker.ClientID,
	)

	r := relay.New(client, notifier, byte(cfg.QoS), log) //nolint:gosec // qos validated to 0..2
	if err := r.Start(); err != nil {
		client.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("starting MQTT relay: %w", err)
	}
	manager.SetObserver(r)
	return client, nil
}

// getConfigPath returns the configuration file path.
// Uses BALANCER_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("BALANCER_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// drainTimeout allows each pending notification one full attempt, capped.
func drainTimeout(cfg config.DownstreamConfig) time.Duration {
	d := time.Duration(cfg.NotifyTimeout*(cfg.RetryCount+1)) * time.Second
	if d <= 0 || d > time.Minute {
		return time.Minute
	}
	return d
}

// healthCheck verifies the infrastructure connections. mqttClient and
// influxClient are nil when disabled.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	ctx, cancel := context.WithTimeout(ctx, startupCheckTimeout)
	defer cancel()

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
