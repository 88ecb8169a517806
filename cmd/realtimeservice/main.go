/*
File: cmd/realtimeservice/main.go
Description: Main entrypoint for the realtime service.
Handles config loading, dependency injection, and starting the application.
*/
package main

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub/v2"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/tinywideclouds/go-realtime-service/internal/app"
	"github.com/tinywideclouds/go-realtime-service/internal/platform/auth"
	"github.com/tinywideclouds/go-realtime-service/internal/platform/persistence"
	ps "github.com/tinywideclouds/go-realtime-service/internal/platform/pubsub"
	"github.com/tinywideclouds/go-realtime-service/internal/platform/push"
	"github.com/tinywideclouds/go-realtime-service/internal/realtime"
	"github.com/tinywideclouds/go-realtime-service/internal/registry"
	pkgrealtime "github.com/tinywideclouds/go-realtime-service/pkg/realtime"
	"github.com/tinywideclouds/go-realtime-service/realtimeservice"
	"github.com/tinywideclouds/go-realtime-service/realtimeservice/config"
)

const serviceName = "go-realtime-service"

//go:embed config.yaml
var configFile []byte

func main() {
	// --- 1. Setup structured logging ---
	logLevel, zLevel := levelsFromEnv(os.Getenv("LOG_LEVEL"))

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})).With("service", serviceName)
	slog.SetDefault(logger)

	// The connection manager logs through zerolog.
	zlogger := zerolog.New(os.Stdout).Level(zLevel).With().Timestamp().Str("service", serviceName).Logger()

	// A local .env is optional; real environment variables take precedence.
	if err := godotenv.Load(); err == nil {
		logger.Debug("Loaded environment from .env")
	}

	// --- 2. Load Configuration (Stage 0: Unmarshal) ---
	var yamlCfg config.YamlConfig
	if err := yaml.Unmarshal(configFile, &yamlCfg); err != nil {
		logger.Error("Failed to unmarshal embedded yaml config", "err", err)
		os.Exit(1)
	}

	// --- 3. Build Base Config (Stage 1: YAML to Base Struct) ---
	baseCfg, err := config.NewConfigFromYaml(&yamlCfg, logger)
	if err != nil {
		logger.Error("Failed to build base configuration from YAML", "err", err)
		os.Exit(1)
	}

	// --- 4. Apply Overrides & Validate (Stage 2: Env Vars) ---
	cfg, err := config.UpdateConfigWithEnvOverrides(baseCfg, logger)
	if err != nil {
		logger.Error("Failed to finalize configuration with environment overrides", "err", err)
		os.Exit(1)
	}

	ctx := context.Background()

	// --- 5. Create dependencies ---
	deps, err := newProdDependencies(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize dependencies", "err", err)
		os.Exit(1)
	}

	// --- 6. Create Authentication Middleware ---
	authMiddleware, err := newAuthMiddleware(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize authentication middleware", "err", err)
		os.Exit(1)
	}

	// --- 7. Create the two main services ---
	connRegistry := registry.New()

	connManager, err := realtime.NewConnectionManager(
		realtime.Config{
			Port:           cfg.WebSocketPort,
			SendBuffer:     cfg.WebSocket.SendBuffer,
			IdleTimeout:    cfg.WebSocket.IdleTimeout,
			AllowedOrigins: cfg.CorsOrigins,
		},
		authMiddleware,
		connRegistry,
		zlogger,
	)
	if err != nil {
		logger.Error("Failed to create Connection Manager", "err", err)
		os.Exit(1)
	}

	apiService, err := realtimeservice.New(
		cfg,
		deps,
		connRegistry,
		connManager,
		authMiddleware,
		logger.With("component", "ApiService"),
	)
	if err != nil {
		logger.Error("Failed to create API service", "err", err)
		os.Exit(1)
	}

	// Typing frames are dispatched in-process.
	connManager.SetEventSink(apiService.Dispatcher())

	// --- 8. Run the application ---
	app.Run(ctx, logger, apiService, connManager)
}

func levelsFromEnv(value string) (slog.Level, zerolog.Level) {
	switch strings.ToLower(value) {
	case "debug":
		return slog.LevelDebug, zerolog.DebugLevel
	case "warn":
		return slog.LevelWarn, zerolog.WarnLevel
	case "error":
		return slog.LevelError, zerolog.ErrorLevel
	default:
		return slog.LevelInfo, zerolog.InfoLevel
	}
}

// newProdDependencies creates real, production-ready dependencies.
// Emulators are handled via environment variables, not a config flag.
func newProdDependencies(ctx context.Context, cfg *config.AppConfig, logger *slog.Logger) (*app.ServiceDependencies, error) {
	profiles, err := newProfileStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	deps := &app.ServiceDependencies{ProfileStore: profiles}

	var psClient *pubsub.Client
	if cfg.IngressTopicID != "" || cfg.Push.Provider == "relay" {
		logger.Debug("Connecting to PubSub", "project_id", cfg.ProjectID)
		psClient, err = pubsub.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to pubsub: %w", err)
		}
	}

	if cfg.IngressTopicID != "" {
		if err := wireIngestion(ctx, cfg, psClient, deps, logger); err != nil {
			return nil, err
		}
	} else {
		logger.Info("Pub/Sub ingestion disabled; API events dispatch in-process")
	}

	deps.PushProvider, err = newPushProvider(ctx, cfg, psClient, logger)
	if err != nil {
		return nil, err
	}

	logger.Debug("All production dependencies initialized")
	return deps, nil
}

// newProfileStore creates the pluggable profile store based on config.
func newProfileStore(ctx context.Context, cfg *config.AppConfig, logger *slog.Logger) (pkgrealtime.ProfileStore, error) {
	storeType := cfg.ProfileStore.Type
	logger.Info("Initializing profile store...", "type", storeType)

	switch storeType {
	case "firestore":
		logger.Debug("Connecting to Firestore", "project_id", cfg.ProjectID)
		fsClient, err := firestore.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to firestore: %w", err)
		}
		return persistence.NewFirestoreProfileStore(fsClient, logger)

	case "redis":
		redisAddr := cfg.ProfileStore.RedisAddr
		logger.Debug("Connecting to Redis profile store", "addr", redisAddr)
		rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("failed to connect to redis profile store at %s: %w", redisAddr, err)
		}
		logger.Info("Connected to Redis profile store", "addr", redisAddr)
		return persistence.NewRedisProfileStore(rdb, logger)

	default:
		return nil, fmt.Errorf("invalid profile_store type: %s", storeType)
	}
}

// wireIngestion ensures the ingestion topics and subscription exist and
// creates the ordered producer and the consumer.
func wireIngestion(ctx context.Context, cfg *config.AppConfig, psClient *pubsub.Client, deps *app.ServiceDependencies, logger *slog.Logger) error {
	topic := ps.ResourceName(cfg.ProjectID, cfg.IngressTopicID, ps.Pub)
	if err := ps.EnsureTopic(ctx, psClient, topic, logger); err != nil {
		return err
	}

	var dlq string
	if cfg.IngressTopicDLQID != "" {
		dlq = ps.ResourceName(cfg.ProjectID, cfg.IngressTopicDLQID, ps.Pub)
		if err := ps.EnsureTopic(ctx, psClient, dlq, logger); err != nil {
			return err
		}
	}

	sub := ps.ResourceName(cfg.ProjectID, cfg.IngressSubscriptionID, ps.Sub)
	err := ps.EnsureSubscription(ctx, psClient, ps.SubscriptionSpec{
		Name:            sub,
		Topic:           topic,
		DeadLetterTopic: dlq,
		Ordered:         true,
	}, logger)
	if err != nil {
		return err
	}

	logger.Debug("Creating ingestion producer", "topic", topic)
	publisher := psClient.Publisher(topic)
	publisher.EnableMessageOrdering = true
	producer, err := ps.NewProducer(publisher, true, logger)
	if err != nil {
		return fmt.Errorf("failed to create ingestion producer: %w", err)
	}

	consumer, err := ps.NewConsumer(psClient.Subscriber(sub), logger)
	if err != nil {
		return fmt.Errorf("failed to create ingestion consumer: %w", err)
	}

	deps.IngestionProducer = producer
	deps.IngestionConsumer = consumer
	return nil
}

// newPushProvider creates the configured push provider.
func newPushProvider(ctx context.Context, cfg *config.AppConfig, psClient *pubsub.Client, logger *slog.Logger) (push.Provider, error) {
	logger.Info("Initializing push provider...", "provider", cfg.Push.Provider)

	switch cfg.Push.Provider {
	case "fcm":
		return push.NewFCMProviderFromCredentials(ctx, cfg.ProjectID, cfg.Push.FirebaseCredentialsFile, logger)

	case "relay":
		topic := ps.ResourceName(cfg.ProjectID, cfg.Push.RelayTopicID, ps.Pub)
		if err := ps.EnsureTopic(ctx, psClient, topic, logger); err != nil {
			return nil, err
		}
		producer, err := ps.NewProducer(psClient.Publisher(topic), false, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create push relay producer: %w", err)
		}
		return push.NewRelayProvider(producer, logger)

	default:
		return nil, fmt.Errorf("invalid push provider: %s", cfg.Push.Provider)
	}
}

// newAuthMiddleware verifies bearer tokens against the configured JWKS, or
// passes requests through when none is configured.
func newAuthMiddleware(ctx context.Context, cfg *config.AppConfig, logger *slog.Logger) (func(http.Handler) http.Handler, error) {
	if cfg.JWKSURL == "" {
		logger.Warn("JWKS_URL not set; bearer-token verification is disabled")
		return auth.Noop, nil
	}
	verifier, err := auth.NewJWKSVerifier(ctx, cfg.JWKSURL, logger)
	if err != nil {
		return nil, err
	}
	return verifier.Middleware, nil
}
