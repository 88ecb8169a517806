package config

import (
	"log/slog"
)

// --- YAML-Specific Structs ---

type YamlRedisConfig struct {
	Addr string `yaml:"addr"`
}

type YamlProfileStoreConfig struct {
	Type  string          `yaml:"type"` // "firestore" or "redis"
	Redis YamlRedisConfig `yaml:"redis"`
}

type YamlPushConfig struct {
	Provider                string `yaml:"provider"` // "fcm" or "relay"
	FirebaseCredentialsFile string `yaml:"firebase_credentials_file"`
	RelayTopicID            string `yaml:"relay_topic_id"`
	TimeoutSeconds          int    `yaml:"timeout_seconds"`
	PoolSize                int    `yaml:"pool_size"`
}

type YamlDispatchConfig struct {
	// Pointer so an absent key keeps the default.
	SuppressLiveTaskUpdates *bool             `yaml:"suppress_live_task_updates"`
	Placeholders            map[string]string `yaml:"placeholders"`
}

type YamlWebSocketConfig struct {
	SendBuffer         int `yaml:"send_buffer"`
	IdleTimeoutSeconds int `yaml:"idle_timeout_seconds"`
}

type YamlCorsConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// YamlConfig defines the structure for unmarshaling the embedded config.yaml file.
type YamlConfig struct {
	ProjectID             string                 `yaml:"project_id"`
	APIPort               string                 `yaml:"api_port"`
	WebSocketPort         string                 `yaml:"websocket_port"`
	JWKSURL               string                 `yaml:"jwks_url"`
	Cors                  YamlCorsConfig         `yaml:"cors"`
	ProfileStore          YamlProfileStoreConfig `yaml:"profile_store"`
	Push                  YamlPushConfig         `yaml:"push"`
	Dispatch              YamlDispatchConfig     `yaml:"dispatch"`
	WebSocket             YamlWebSocketConfig    `yaml:"websocket"`
	IngressTopicID        string                 `yaml:"ingress_topic_id"`
	IngressSubscriptionID string                 `yaml:"ingress_subscription_id"`
	IngressTopicDLQID     string                 `yaml:"ingress_topic_dlq_id"`
}

// --- Stage 1 Function ---

// NewConfigFromYaml converts the raw unmarshaled data (YamlConfig) into a base
// AppConfig. Environment overrides are applied separately.
func NewConfigFromYaml(yamlCfg *YamlConfig, logger *slog.Logger) (*AppConfig, error) {
	logger.Debug("Mapping YAML config to base config struct")

	suppress := true
	if yamlCfg.Dispatch.SuppressLiveTaskUpdates != nil {
		suppress = *yamlCfg.Dispatch.SuppressLiveTaskUpdates
	}

	appCfg := &AppConfig{
		ProjectID:     yamlCfg.ProjectID,
		APIPort:       yamlCfg.APIPort,
		WebSocketPort: yamlCfg.WebSocketPort,
		JWKSURL:       yamlCfg.JWKSURL,
		CorsOrigins:   yamlCfg.Cors.AllowedOrigins,
		ProfileStore: ProfileStoreConfig{
			Type:      yamlCfg.ProfileStore.Type,
			RedisAddr: yamlCfg.ProfileStore.Redis.Addr,
		},
		Push: PushConfig{
			Provider:                yamlCfg.Push.Provider,
			FirebaseCredentialsFile: yamlCfg.Push.FirebaseCredentialsFile,
			RelayTopicID:            yamlCfg.Push.RelayTopicID,
			Timeout:                 seconds(yamlCfg.Push.TimeoutSeconds),
			PoolSize:                yamlCfg.Push.PoolSize,
		},
		SuppressLiveTaskUpdates: suppress,
		Placeholders:            yamlCfg.Dispatch.Placeholders,
		WebSocket: WebSocketConfig{
			SendBuffer:  yamlCfg.WebSocket.SendBuffer,
			IdleTimeout: seconds(yamlCfg.WebSocket.IdleTimeoutSeconds),
		},
		IngressTopicID:        yamlCfg.IngressTopicID,
		IngressSubscriptionID: yamlCfg.IngressSubscriptionID,
		IngressTopicDLQID:     yamlCfg.IngressTopicDLQID,
	}

	logger.Debug("YAML config mapping complete",
		"project_id", appCfg.ProjectID,
		"api_port", appCfg.APIPort,
		"websocket_port", appCfg.WebSocketPort,
		"profile_store_type", appCfg.ProfileStore.Type,
		"push_provider", appCfg.Push.Provider,
	)

	return appCfg, nil
}
