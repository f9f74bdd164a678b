package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nerrad567/laurel-core/internal/api"
	"github.com/nerrad567/laurel-core/internal/bridge"
	"github.com/nerrad567/laurel-core/internal/infrastructure/config"
	"github.com/nerrad567/laurel-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/laurel-core/internal/infrastructure/logging"
	"github.com/nerrad567/laurel-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/laurel-core/internal/process"
)

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bridge until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, path, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			log := logging.New(cfg.Logging, version)
			log.Info("starting laurel",
				"version", version,
				"commit", commit,
				"build_date", date,
				"config", path,
			)
			return run(ctx, cfg, log)
		},
	}
}

// run is the serve logic, separated from the command for testability.
// It returns nil on clean shutdown once ctx is cancelled.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//   - cfg: Loaded configuration
//   - log: Root logger
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context, cfg *config.Config, log *logging.Logger) error {
	network, transport, err := buildNetwork(ctx, cfg, log)
	if err != nil {
		return err
	}

	// Start the gateway daemon (if managed) before any session is opened.
	daemon, err := startGatewayDaemon(ctx, cfg, transport, log)
	if err != nil {
		return err
	}
	if daemon != nil {
		defer func() {
			log.Info("stopping gateway daemon")
			if stopErr := daemon.Stop(); stopErr != nil {
				log.Error("error stopping gateway daemon", "error", stopErr)
			}
		}()
	}

	defer func() {
		log.Info("closing mesh sessions")
		if closeErr := network.Close(); closeErr != nil {
			log.Error("error closing mesh sessions", "error", closeErr)
		}
	}()

	opts := bridge.Options{
		Network:           network,
		Version:           version,
		ReconnectInterval: config.Seconds(cfg.Mesh.ReconnectInterval),
		PollInterval:      config.Seconds(cfg.Mesh.PollInterval),
		Logger:            log.Component("bridge"),
	}

	// Connect to MQTT broker (optional)
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

		mqttClient.SetLogger(log.Component("mqtt"))
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		opts.MQTTClient = mqttClient
	} else {
		log.Info("MQTT disabled")
	}

	// Connect to InfluxDB (optional)
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
		opts.Recorder = influxClient
	} else {
		log.Info("InfluxDB disabled")
	}

	// The hub outlives the API server so the bridge can feed it from the start.
	hub := api.NewHub(cfg.WebSocket, log.Component("api"))
	go hub.Run(ctx)
	opts.Sink = hub

	b, err := bridge.New(opts)
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}
	if err := b.Start(ctx); err != nil {
		return fmt.Errorf("starting bridge: %w", err)
	}
	defer func() {
		log.Info("stopping bridge")
		b.Stop()
	}()

	var apiServer *api.Server
	if cfg.API.Enabled {
		apiServer, err = api.New(api.Deps{
			Config:   cfg.API,
			WS:       cfg.WebSocket,
			Security: cfg.Security,
			Logger:   log.Component("api"),
			Network:  network,
			Bridge:   b,
			Hub:      hub,
			Version:  version,
		})
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
		if err := apiServer.Start(ctx); err != nil {
			return fmt.Errorf("starting API server: %w", err)
		}
		defer func() {
			log.Info("stopping API server")
			if closeErr := apiServer.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
		if cfg.Security.JWT.Secret == "" {
			log.Warn("API authentication disabled: security.jwt.secret is empty")
		}
	} else {
		log.Info("API disabled")
	}

	if err := healthCheck(ctx, daemon, mqttClient, influxClient, apiServer); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Deferred closes run in reverse: API, bridge, InfluxDB, MQTT, meshes,
	// gateway daemon.
	log.Info("laurel stopped")
	return nil
}

// healthCheck verifies the optional infrastructure connections. Nil
// clients are skipped. Mesh sessions are not checked; the bridge keeps
// retrying them in the background.
func healthCheck(ctx context.Context, daemon *process.Manager, mqttClient *mqtt.Client, influxClient *influxdb.Client, apiServer *api.Server) error {
	var errs []error

	if daemon != nil {
		if err := daemon.HealthCheck(ctx); err != nil {
			errs = append(errs, fmt.Errorf("gateway daemon: %w", err))
		}
	}

	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			errs = append(errs, fmt.Errorf("mqtt: %w", err))
		}
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			errs = append(errs, fmt.Errorf("influxdb: %w", err))
		}
	}

	if apiServer != nil {
		if err := apiServer.HealthCheck(ctx); err != nil {
			errs = append(errs, fmt.Errorf("api: %w", err))
		}
	}

	return errors.Join(errs...)
}
