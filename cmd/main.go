package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"
	_ "time/tzdata"

	"go.uber.org/zap"

	"geomonitor/internal/config"
	"geomonitor/internal/delivery/http/handler"
	domain "geomonitor/internal/domain/location"
	badgerstore "geomonitor/internal/infrastructure/storage/badger"
	filestore "geomonitor/internal/infrastructure/storage/file"
	memorystore "geomonitor/internal/infrastructure/storage/memory"
	sqlitestore "geomonitor/internal/infrastructure/storage/sqlite"
	"geomonitor/internal/ingestion"
	"geomonitor/internal/logger"
	"geomonitor/internal/metrics"
	"geomonitor/internal/routes"
	"geomonitor/internal/stream"
	"geomonitor/internal/supervisor"
	"geomonitor/internal/timestamp"
	"geomonitor/internal/usecase/location"
	pkgmqtt "geomonitor/pkg/mqtt"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("Failed to load configuration: " + err.Error() + "\n")
		os.Exit(1)
	}

	env := cfg.Server.Environment
	if env == "" {
		env = "development"
	}
	if err := logger.Init(env); err != nil {
		os.Stderr.WriteString("Failed to initialize logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting application",
		zap.String("environment", env),
		zap.String("storage", cfg.Storage.Backend),
		zap.String("timezone", cfg.Server.Timezone),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	normalizer, err := timestamp.NewForZone(cfg.Server.Timezone)
	if err != nil {
		logger.Fatal("Invalid timezone", zap.String("timezone", cfg.Server.Timezone), zap.Error(err))
	}

	backend, err := openBackend(ctx, &cfg.Storage)
	if err != nil {
		logger.Fatal("Failed to open storage backend", zap.String("storage", cfg.Storage.Backend), zap.Error(err))
	}
	defer func() {
		if err := backend.Close(); err != nil {
			logger.Error("Failed to close storage backend", zap.Error(err))
		}
	}()

	store := location.NewStore(backend, normalizer, location.WithMaxPoints(cfg.Storage.MaxPoints))
	service := location.NewService(store, normalizer)
	aggregator := location.NewAggregator(store)
	history := location.NewHistoryQuery(store, normalizer)

	detector := stream.NewDetector(backend,
		stream.WithMode(cfg.Stream.DetectorMode),
		stream.WithPollInterval(cfg.Stream.PollInterval),
	)
	broker := stream.NewBroker(aggregator, detector.Changes())

	treeConfig := supervisor.DefaultTreeConfig()
	treeConfig.ShutdownTimeout = 15 * time.Second
	tree := supervisor.NewTree(logger.Named("supervisor"), treeConfig)
	tree.AddDataService(detector)
	tree.AddMessagingService(broker)

	health := handler.NewHealthHandler(backend, cfg.Storage.Backend, detector, broker)

	if cfg.MQTT.Enabled() {
		processor := ingestion.NewProcessor(service, metrics.SourceMQTT, cfg.Ingest.Workers, cfg.Ingest.BufferSize)
		mqttClient, err := ingestion.NewMQTTIngestionClient(&ingestion.MQTTIngestionConfig{
			ClientConfig: &pkgmqtt.Config{
				Broker:               cfg.MQTT.Broker,
				ClientID:             cfg.MQTT.ClientID,
				Username:             cfg.MQTT.Username,
				Password:             cfg.MQTT.Password,
				CleanSession:         true,
				KeepAlive:            30 * time.Second,
				ConnectTimeout:       10 * time.Second,
				AutoReconnect:        true,
				MaxReconnectInterval: time.Minute,
			},
			LocationTopic: cfg.MQTT.LocationTopic,
			QoS:           byte(cfg.MQTT.QoS),
		}, service, processor)
		if err != nil {
			logger.Fatal("Failed to configure MQTT ingestion", zap.Error(err))
		}
		tree.AddMessagingService(processor)
		tree.AddMessagingService(mqttClient)
		health.WithIngest(processor).WithMQTT(mqttClient)
	}

	router := routes.SetupRoutes(cfg, routes.Handlers{
		Location: handler.NewLocationHandler(service, aggregator, history),
		Stream:   handler.NewStreamHandler(broker, cfg.Stream.RetryMillis, cfg.CORS.AllowedOrigins),
		Health:   health,
	})

	addr := net.JoinHostPort(cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Event streams stay open indefinitely.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
		// Request contexts end on shutdown so open streams return.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	tree.AddAPIService(supervisor.NewHTTPService(server, 10*time.Second))

	logger.Info("Server starting", zap.String("address", addr))
	if err := tree.Serve(ctx); err != nil && ctx.Err() == nil {
		logger.Error("Supervisor tree stopped", zap.Error(err))
	}

	if report, err := tree.UnstoppedServiceReport(); err == nil && len(report) > 0 {
		logger.Warn("Services did not stop in time", zap.Int("count", len(report)))
	}
	logger.Info("Server exited properly")
}

func openBackend(ctx context.Context, cfg *config.StorageConfig) (domain.Backend, error) {
	switch cfg.Backend {
	case "file":
		return filestore.Open(cfg.Path)
	case "badger":
		return badgerstore.Open(badgerstore.Config{Path: cfg.Path, SyncWrites: true})
	case "sqlite":
		return sqlitestore.Open(ctx, filepath.Join(cfg.Path, "locations.db"))
	case "memory":
		return memorystore.New(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
