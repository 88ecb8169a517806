package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cast"
)

type ProfileStoreConfig struct {
	Type      string
	RedisAddr string
}

type PushConfig struct {
	Provider                string
	FirebaseCredentialsFile string
	RelayTopicID            string
	Timeout                 time.Duration
	PoolSize                int
}

type WebSocketConfig struct {
	SendBuffer  int
	IdleTimeout time.Duration
}

// AppConfig is the canonical, validated configuration object used throughout the application.
// It is created by NewConfigFromYaml (Stage 1) and finalized by
// UpdateConfigWithEnvOverrides (Stage 2).
type AppConfig struct {
	ProjectID     string
	APIPort       string
	WebSocketPort string
	// JWKSURL enables bearer-token verification when set.
	JWKSURL      string
	CorsOrigins  []string
	ProfileStore ProfileStoreConfig
	Push         PushConfig

	SuppressLiveTaskUpdates bool
	Placeholders            map[string]string

	WebSocket WebSocketConfig

	// IngressTopicID enables Pub/Sub ingestion when set.
	IngressTopicID        string
	IngressSubscriptionID string
	IngressTopicDLQID     string
}

// UpdateConfigWithEnvOverrides takes the base configuration (created from YAML)
// and completes it by applying environment variables and final validation.
func UpdateConfigWithEnvOverrides(cfg *AppConfig, logger *slog.Logger) (*AppConfig, error) {
	logger.Debug("Applying environment variable overrides...")

	override := func(key string, target *string) {
		if v := os.Getenv(key); v != "" {
			logger.Debug("Overriding config value", "key", key, "source", "env")
			*target = v
		}
	}
	override("GCP_PROJECT_ID", &cfg.ProjectID)
	override("API_PORT", &cfg.APIPort)
	override("WEBSOCKET_PORT", &cfg.WebSocketPort)
	override("REDIS_ADDR", &cfg.ProfileStore.RedisAddr)
	override("PUSH_PROVIDER", &cfg.Push.Provider)
	override("FIREBASE_CREDENTIALS_FILE", &cfg.Push.FirebaseCredentialsFile)
	override("JWKS_URL", &cfg.JWKSURL)

	if v := os.Getenv("PUSH_POOL_SIZE"); v != "" {
		n, err := cast.ToIntE(v)
		if err != nil {
			return nil, fmt.Errorf("invalid PUSH_POOL_SIZE %q: %w", v, err)
		}
		logger.Debug("Overriding config value", "key", "PUSH_POOL_SIZE", "source", "env")
		cfg.Push.PoolSize = n
	}
	if v := os.Getenv("PUSH_TIMEOUT_SECONDS"); v != "" {
		n, err := cast.ToIntE(v)
		if err != nil {
			return nil, fmt.Errorf("invalid PUSH_TIMEOUT_SECONDS %q: %w", v, err)
		}
		logger.Debug("Overriding config value", "key", "PUSH_TIMEOUT_SECONDS", "source", "env")
		cfg.Push.Timeout = seconds(n)
	}

	if corsOrigins := os.Getenv("CORS_ALLOWED_ORIGINS"); corsOrigins != "" {
		logger.Debug("Overriding config value", "key", "CORS_ALLOWED_ORIGINS", "source", "env")
		var cleanOrigins []string
		for _, o := range strings.Split(corsOrigins, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				cleanOrigins = append(cleanOrigins, trimmed)
			}
		}
		cfg.CorsOrigins = cleanOrigins
	}

	if err := validate(cfg); err != nil {
		logger.Error("Final config validation failed", "error", err)
		return nil, err
	}

	logger.Debug("Configuration finalized and validated successfully")
	return cfg, nil
}

func validate(cfg *AppConfig) error {
	if cfg.ProjectID == "" {
		return fmt.Errorf("GCP_PROJECT_ID is not set in config or env var")
	}
	if cfg.APIPort == "" {
		return fmt.Errorf("API_PORT is not set in config or env var")
	}
	if cfg.WebSocketPort == "" {
		return fmt.Errorf("WEBSOCKET_PORT is not set in config or env var")
	}

	switch cfg.ProfileStore.Type {
	case "firestore":
	case "redis":
		if cfg.ProfileStore.RedisAddr == "" {
			return fmt.Errorf("profile_store type is redis but REDIS_ADDR is not set")
		}
	default:
		return fmt.Errorf("invalid profile_store type: %q (must be 'firestore' or 'redis')", cfg.ProfileStore.Type)
	}

	switch cfg.Push.Provider {
	case "fcm":
	case "relay":
		if cfg.Push.RelayTopicID == "" {
			return fmt.Errorf("push provider is relay but relay_topic_id is not set")
		}
	default:
		return fmt.Errorf("invalid push provider: %q (must be 'fcm' or 'relay')", cfg.Push.Provider)
	}

	if cfg.IngressTopicID != "" && cfg.IngressSubscriptionID == "" {
		return fmt.Errorf("ingress_subscription_id is required when ingress_topic_id is set")
	}
	return nil
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
