package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kozaktomas/presence-hub/internal/audit"
	"github.com/kozaktomas/presence-hub/internal/config"
	"github.com/kozaktomas/presence-hub/internal/database/mariadb"
	"github.com/kozaktomas/presence-hub/internal/database/postgres"
	"github.com/kozaktomas/presence-hub/internal/mqttingest"
	"github.com/kozaktomas/presence-hub/internal/presence"
	"github.com/kozaktomas/presence-hub/internal/registry"
	"github.com/kozaktomas/presence-hub/internal/tracker"
	"github.com/kozaktomas/presence-hub/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the presence server",
	Long: `Start the Presence Hub server.

The server accepts detections over HTTP (and MQTT when MQTT_BROKER_URL is set),
keeps the presence state of every location in memory and streams snapshots and
deltas to subscribers. Every change is also written to Kafka when KAFKA_BROKERS
is set.

The device registry backend is selected with REGISTRY_BACKEND:
  static    devices from the YAML file in DEVICES_FILE
  postgres  devices table in DATABASE_URL (migrated on start)
  mariadb   scanner_devices table in MARIADB_DSN`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 8080, "Port to listen on")
	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
}

// openRegistry opens the configured device registry behind a TTL cache. The returned
// function releases the backend's resources.
func openRegistry(ctx context.Context, cfg *config.Config, logger *zap.Logger) (registry.Registry, func(), error) {
	var (
		backend registry.Registry
		closer  = func() {}
	)

	switch cfg.Registry.Backend {
	case "", "static":
		if cfg.Registry.DevicesFile == "" {
			return nil, nil, errors.New("DEVICES_FILE environment variable is required for the static registry")
		}
		static, err := registry.LoadStatic(cfg.Registry.DevicesFile)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("using static device registry",
			zap.String("file", cfg.Registry.DevicesFile),
			zap.Int("devices", static.Len()),
		)
		// Nothing to cache for an in-memory registry.
		return static, closer, nil

	case "postgres":
		pool, err := postgres.Open(ctx, &cfg.Database)
		if err != nil {
			return nil, nil, err
		}
		backend = postgres.NewDeviceRepository(pool)
		closer = func() {
			if err := pool.Close(); err != nil {
				logger.Warn("closing PostgreSQL pool", zap.Error(err))
			}
		}
		logger.Info("using PostgreSQL device registry")

	case "mariadb":
		pool, err := mariadb.NewPool(ctx, cfg.MariaDB.DSN)
		if err != nil {
			return nil, nil, err
		}
		backend = mariadb.NewDeviceRepository(pool)
		closer = func() {
			if err := pool.Close(); err != nil {
				logger.Warn("closing MariaDB pool", zap.Error(err))
			}
		}
		logger.Info("using MariaDB device registry")

	default:
		return nil, nil, fmt.Errorf("unknown registry backend %q", cfg.Registry.Backend)
	}

	return registry.NewCached(backend, cfg.Registry.CacheTTL), closer, nil
}

// resolveServeHostPort applies --port/--host when given explicitly; otherwise the
// WEB_PORT/WEB_HOST values from the environment stay in effect.
func resolveServeHostPort(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("port") {
		cfg.Web.Port = mustGetInt(cmd, "port")
	}
	if cmd.Flags().Changed("host") {
		cfg.Web.Host = mustGetString(cmd, "host")
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	resolveServeHostPort(cmd, cfg)

	logger, err := newLogger(cmd, cfg.Log.Level)
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	if cfg.Auth.TokenSecret == "" {
		logger.Warn("DEVICE_TOKEN_SECRET is not set, detections are accepted without device tokens")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg, closeRegistry, err := openRegistry(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("opening device registry: %w", err)
	}
	defer closeRegistry()

	var wg sync.WaitGroup

	var publishers []presence.Publisher
	var sink *audit.Sink
	if len(cfg.Kafka.Brokers) > 0 {
		sink = audit.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.AuditTopic, audit.WithLogger(logger.Named("audit")))
		publishers = append(publishers, sink)
		go sink.Run(ctx)
		logger.Info("writing presence changes to Kafka",
			zap.Strings("brokers", cfg.Kafka.Brokers),
			zap.String("topic", cfg.Kafka.AuditTopic),
		)
	}

	tr := tracker.New(reg, cfg.Policy,
		tracker.WithLogger(logger.Named("tracker")),
		tracker.WithPublishers(publishers...),
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := tr.Run(ctx); err != nil {
			logger.Error("tracker stopped", zap.Error(err))
		}
	}()

	if cfg.MQTT.BrokerURL != "" {
		listener := mqttingest.NewListener(cfg.MQTT, tr, logger.Named("mqtt"))
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := listener.Run(ctx); err != nil {
				logger.Error("MQTT ingestion stopped", zap.Error(err))
			}
		}()
	}

	server := web.NewServer(cfg, tr, logger.Named("web"))
	go func() {
		<-ctx.Done()
		fmt.Println("\nShutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("error during shutdown", zap.Error(err))
		}
	}()

	fmt.Printf("Starting Presence Hub on http://%s:%d\n", cfg.Web.Host, cfg.Web.Port)
	fmt.Println("Press Ctrl+C to stop")

	serveErr := server.Start()

	// Stop the tracker and listeners even when the server failed to start.
	stop()
	wg.Wait()
	if sink != nil {
		sink.Wait()
	}

	if serveErr != nil {
		return fmt.Errorf("starting server: %w", serveErr)
	}
	return nil
}
