// Package config provides configuration for the eyes orchestrator.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the orchestrator configuration.
type Config struct {
	// Server settings
	HTTPPort     int
	RateLimitRPS float64

	// Storage
	DatabaseURL    string
	RoutingBackend string // sqlite or redis
	RedisAddr      string
	RedisPassword  string
	RedisDB        int

	// Providers
	Mode            string // MOCK selects the mock provider for every id
	PrimaryTimeout  time.Duration
	FallbackTimeout time.Duration
	RetryMaxTries   int
	RetryInitial    time.Duration
	RetryMaxDelay   time.Duration

	// Event stream
	PingInterval     time.Duration
	PongTimeout      time.Duration
	WriteTimeout     time.Duration
	MaxMessageSize   int64
	ReplayBufferSize int
	SendBufferSize   int

	// Sessions
	SessionIdleTTL time.Duration

	// Optional YAML file with provider and routing seeds
	ConfigFile string
	File       FileConfig

	// Logging
	LogLevel string
}

// FileConfig is the YAML document referenced by EYES_CONFIG_FILE.
type FileConfig struct {
	Providers []ProviderConfig `yaml:"providers"`
	Routing   []RoutingSeed    `yaml:"routing"`
}

// ProviderConfig describes one OpenAI-compatible model backend.
type ProviderConfig struct {
	ID        string `yaml:"id"`
	BaseURL   string `yaml:"base_url"`
	APIKeyEnv string `yaml:"api_key_env"`
}

// APIKey resolves the provider key from the environment.
func (p ProviderConfig) APIKey() string {
	if p.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(p.APIKeyEnv)
}

// RoutingSeed is a routing entry applied to the routing store at startup.
type RoutingSeed struct {
	Stage            string `yaml:"stage"`
	PrimaryProvider  string `yaml:"primary_provider"`
	PrimaryModel     string `yaml:"primary_model"`
	FallbackProvider string `yaml:"fallback_provider"`
	FallbackModel    string `yaml:"fallback_model"`
}

// ModeMock indicates the mock provider should be used.
const ModeMock = "MOCK"

// Load loads configuration from environment variables and the optional config file.
func Load() (*Config, error) {
	cfg := &Config{
		HTTPPort:         getEnvInt("HTTP_PORT", 8080),
		RateLimitRPS:     getEnvFloat("RATE_LIMIT_RPS", 20),
		DatabaseURL:      getEnv("DATABASE_URL", "file:eyes.db?cache=shared&mode=rwc"),
		RoutingBackend:   strings.ToLower(getEnv("ROUTING_BACKEND", "sqlite")),
		RedisAddr:        getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:    getEnv("REDIS_PASSWORD", ""),
		RedisDB:          getEnvInt("REDIS_DB", 0),
		Mode:             strings.ToUpper(getEnv("EYES_MODE", "")),
		PrimaryTimeout:   getEnvDuration("PRIMARY_TIMEOUT_MS", 30*time.Second),
		FallbackTimeout:  getEnvDuration("FALLBACK_TIMEOUT_MS", 30*time.Second),
		RetryMaxTries:    getEnvInt("RETRY_MAX_ATTEMPTS", 3),
		RetryInitial:     getEnvDuration("RETRY_INITIAL_MS", 250*time.Millisecond),
		RetryMaxDelay:    getEnvDuration("RETRY_MAX_DELAY_MS", 4*time.Second),
		PingInterval:     getEnvDuration("WS_PING_INTERVAL_MS", 30*time.Second),
		PongTimeout:      getEnvDuration("WS_PONG_TIMEOUT_MS", 10*time.Second),
		WriteTimeout:     getEnvDuration("WS_WRITE_TIMEOUT_MS", 10*time.Second),
		MaxMessageSize:   int64(getEnvInt("WS_MAX_MESSAGE_SIZE", 65536)),
		ReplayBufferSize: getEnvInt("REPLAY_BUFFER_SIZE", 500),
		SendBufferSize:   getEnvInt("SEND_BUFFER_SIZE", 256),
		SessionIdleTTL:   getEnvDuration("SESSION_IDLE_TTL_MS", 30*time.Minute),
		ConfigFile:       getEnv("EYES_CONFIG_FILE", ""),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
	}

	if cfg.ConfigFile != "" {
		file, err := LoadFile(cfg.ConfigFile)
		if err != nil {
			return nil, err
		}
		cfg.File = *file
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile parses a YAML config file.
func LoadFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseFile(data)
}

// ParseFile parses YAML config content.
func ParseFile(data []byte) (*FileConfig, error) {
	var file FileConfig
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return &file, nil
}

// Validate checks the configuration and reports every invalid field.
func (c *Config) Validate() error {
	var errs []error
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("HTTP_PORT out of range: %d", c.HTTPPort))
	}
	if c.RoutingBackend != "sqlite" && c.RoutingBackend != "redis" {
		errs = append(errs, fmt.Errorf("ROUTING_BACKEND must be sqlite or redis, got %q", c.RoutingBackend))
	}
	if c.PrimaryTimeout <= 0 || c.FallbackTimeout <= 0 {
		errs = append(errs, errors.New("provider timeouts must be positive"))
	}
	if c.RetryMaxTries < 1 {
		errs = append(errs, fmt.Errorf("RETRY_MAX_ATTEMPTS must be >= 1, got %d", c.RetryMaxTries))
	}
	if c.PongTimeout <= 0 || c.PingInterval <= 0 {
		errs = append(errs, errors.New("heartbeat intervals must be positive"))
	}
	if c.ReplayBufferSize < 1 {
		errs = append(errs, fmt.Errorf("REPLAY_BUFFER_SIZE must be >= 1, got %d", c.ReplayBufferSize))
	}
	if c.SendBufferSize < 1 {
		errs = append(errs, fmt.Errorf("SEND_BUFFER_SIZE must be >= 1, got %d", c.SendBufferSize))
	}
	seen := make(map[string]bool)
	for i, p := range c.File.Providers {
		if p.ID == "" {
			errs = append(errs, fmt.Errorf("providers[%d]: id is required", i))
			continue
		}
		if seen[p.ID] {
			errs = append(errs, fmt.Errorf("providers[%d]: duplicate id %q", i, p.ID))
		}
		seen[p.ID] = true
		if p.BaseURL == "" && c.Mode != ModeMock {
			errs = append(errs, fmt.Errorf("providers[%d]: base_url is required", i))
		}
	}
	for i, r := range c.File.Routing {
		if r.Stage == "" || r.PrimaryProvider == "" || r.PrimaryModel == "" {
			errs = append(errs, fmt.Errorf("routing[%d]: stage, primary_provider and primary_model are required", i))
		}
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

// getEnvDuration reads a millisecond count.
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if ms, err := strconv.Atoi(val); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return defaultVal
}
