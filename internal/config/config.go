// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	DevProxyURL string // Frontend dev server; non-API routes are proxied here when set.
	DBPath      string
	PromptsFile string // Optional template file; reloaded on change when set.
	SessionTTL  time.Duration

	Backend    BackendConfig
	LLM        LLMConfig
	Gateway    GatewayConfig
	GenLog     GenerationLogConfig
	HTTPClient time.Duration // Timeout for outbound calls. Zero keeps the client default.
}

// BackendConfig points at the hosted database/auth/storage/functions backend.
type BackendConfig struct {
	URL         string
	AnonKey     string
	ImageBucket string
}

// LLMConfig controls direct model access.
type LLMConfig struct {
	APIKey string // Default key used when a device has not stored its own.
	Model  string
}

// GatewayConfig selects how generation requests are served.
type GatewayConfig struct {
	Mode              string // "functions" or "direct"
	ServeFunctions    bool   // Expose /functions/v1/* backed by the direct gateway.
	RequestsPerMinute int
	Burst             int
}

// GenerationLogConfig controls NDJSON logging of gateway traffic.
type GenerationLogConfig struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

const (
	GatewayModeFunctions = "functions"
	GatewayModeDirect    = "direct"
)

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("GENERATION_LOG_QUEUE_SIZE", 256)
	if queueSize <= 0 {
		queueSize = 256
	}

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		DevProxyURL: getEnv("DEV_PROXY_URL", ""),
		DBPath:      getEnv("DB_PATH", "./data/persona-lab.db"),
		PromptsFile: getEnv("PROMPTS_FILE", ""),
		SessionTTL:  getEnvDuration("SESSION_TTL", 2*time.Hour),
		Backend: BackendConfig{
			URL:         strings.TrimRight(getEnv("BACKEND_URL", ""), "/"),
			AnonKey:     getEnv("BACKEND_ANON_KEY", ""),
			ImageBucket: getEnv("IMAGE_BUCKET", "images"),
		},
		LLM: LLMConfig{
			APIKey: getEnv("GEMINI_API_KEY", ""),
			Model:  getEnv("LLM_MODEL", "gemini-2.5-flash"),
		},
		Gateway: GatewayConfig{
			Mode:              strings.ToLower(getEnv("GATEWAY_MODE", GatewayModeFunctions)),
			ServeFunctions:    getEnvBool("SERVE_FUNCTIONS", false),
			RequestsPerMinute: getEnvInt("GATEWAY_REQUESTS_PER_MINUTE", 10),
			Burst:             getEnvInt("GATEWAY_BURST", 3),
		},
		GenLog: GenerationLogConfig{
			Enabled:   getEnvBool("GENERATION_LOG_ENABLED", true),
			Dir:       getEnv("GENERATION_LOG_DIR", "./data/logs/generations"),
			QueueSize: queueSize,
		},
		HTTPClient: getEnvDuration("HTTP_CLIENT_TIMEOUT", 0),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.Backend.URL == "" {
		return fmt.Errorf("BACKEND_URL cannot be empty")
	}
	if c.Backend.ImageBucket == "" {
		return fmt.Errorf("IMAGE_BUCKET cannot be empty")
	}
	switch c.Gateway.Mode {
	case GatewayModeFunctions, GatewayModeDirect:
	default:
		return fmt.Errorf("GATEWAY_MODE must be %q or %q, got %q", GatewayModeFunctions, GatewayModeDirect, c.Gateway.Mode)
	}
	if c.Gateway.RequestsPerMinute <= 0 {
		return fmt.Errorf("GATEWAY_REQUESTS_PER_MINUTE must be > 0")
	}
	if c.Gateway.Burst <= 0 {
		return fmt.Errorf("GATEWAY_BURST must be > 0")
	}
	if c.GenLog.Enabled && c.GenLog.Dir == "" {
		return fmt.Errorf("GENERATION_LOG_DIR cannot be empty")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// UsesDirectGateway reports whether generation talks to the model directly.
func (c *Config) UsesDirectGateway() bool {
	return c.Gateway.Mode == GatewayModeDirect
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
