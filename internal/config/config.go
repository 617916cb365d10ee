// Package config provides configuration loading for the workflow-bridge
// core.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration values for the workflow-bridge core.
type Config struct {
	// Host-facing HTTP server settings
	Port           int
	Host           string
	AllowedOrigins []string

	// Service settings
	ServiceBaseURL     string
	ServiceWSURL       string
	WorkflowDefinition string
	Environment        string
	ClientVersion      string

	// Credential/JWKS settings
	JWKSEndpoint string
	JWTAudience  string
	StaticToken  string

	// Persistence
	WorkflowStorePath string
	ModelCachePath    string

	// Socket settings
	ConnectTimeout    time.Duration
	HeartbeatInterval time.Duration
	KeepaliveInterval time.Duration

	// HTTP server timeouts
	HTTPReadTimeout time.Duration
	HTTPIdleTimeout time.Duration

	// REST client timeout
	RESTTimeout time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	serviceBaseURL := getEnv("DUO_WORKFLOW_SERVICE_URL", "")

	cfg := &Config{
		Port:           getEnvInt("DUO_WORKFLOW_CORE_PORT", 8090),
		Host:           getEnv("DUO_WORKFLOW_CORE_HOST", "0.0.0.0"),
		AllowedOrigins: getEnvStringSlice("ALLOWED_ORIGINS", []string{"*"}),

		ServiceBaseURL:     serviceBaseURL,
		ServiceWSURL:       getEnv("DUO_WORKFLOW_SERVICE_WS_URL", deriveWSURL(serviceBaseURL)),
		WorkflowDefinition: getEnv("DUO_WORKFLOW_DEFINITION", "software_development"),
		Environment:        getEnv("DUO_WORKFLOW_ENVIRONMENT", "remote"),
		ClientVersion:      getEnv("DUO_WORKFLOW_CLIENT_VERSION", "1.0.0"),

		JWKSEndpoint: getEnv("JWKS_ENDPOINT", ""),
		JWTAudience:  getEnv("JWT_AUDIENCE", "duo-workflow-core"),
		StaticToken:  getEnv("DUO_WORKFLOW_STATIC_TOKEN", ""),

		WorkflowStorePath: getEnv("WORKFLOW_STORE_PATH", "/var/lib/duo-workflow-core/workflows.db"),
		ModelCachePath:    getEnv("MODEL_CACHE_PATH", "/var/lib/duo-workflow-core/model-cache.db"),

		ConnectTimeout:    getEnvDuration("CONNECT_TIMEOUT", 30*time.Second),
		HeartbeatInterval: getEnvDuration("HEARTBEAT_INTERVAL", 20*time.Second),
		KeepaliveInterval: getEnvDuration("KEEPALIVE_INTERVAL", 45*time.Second),

		HTTPReadTimeout: getEnvDuration("HTTP_READ_TIMEOUT", 15*time.Second),
		HTTPIdleTimeout: getEnvDuration("HTTP_IDLE_TIMEOUT", 120*time.Second),

		RESTTimeout: getEnvDuration("REST_TIMEOUT", 30*time.Second),
	}

	if cfg.ServiceBaseURL == "" {
		return nil, fmt.Errorf("DUO_WORKFLOW_SERVICE_URL is required")
	}
	if cfg.JWKSEndpoint == "" && cfg.StaticToken == "" {
		return nil, fmt.Errorf("either JWKS_ENDPOINT or DUO_WORKFLOW_STATIC_TOKEN must be set")
	}

	return cfg, nil
}

// deriveWSURL rewrites an http(s) base URL to its ws(s) equivalent, with
// the Service's socket path appended.
func deriveWSURL(baseURL string) string {
	if baseURL == "" {
		return ""
	}
	ws := strings.Replace(baseURL, "https://", "wss://", 1)
	ws = strings.Replace(ws, "http://", "ws://", 1)
	return strings.TrimRight(ws, "/") + "/ai/duo_workflows/ws"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}
