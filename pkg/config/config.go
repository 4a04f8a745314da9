package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/castellanhq/castellan/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig `yaml:"server"`

	// Storage configuration
	Storage StorageConfig `yaml:"storage"`

	// Push channel configuration
	Push PushConfig `yaml:"push"`

	// Auth configuration
	Auth AuthConfig `yaml:"auth"`

	// Observability configuration
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// Health/metrics server (separate port for k8s probes)
	HealthPort string `yaml:"health_port"`

	// CORS origins allowed to reach the API and the push endpoint
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// StorageConfig holds database configuration
type StorageConfig struct {
	// Driver is "postgres" or "sqlite3"
	Driver string `yaml:"driver"`
	// URL is the postgres connection URL or the sqlite file path
	URL         string        `yaml:"url"`
	MaxConns    int           `yaml:"max_conns"`
	MinConns    int           `yaml:"min_conns"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxLifetime time.Duration `yaml:"max_lifetime"`
}

// PushConfig holds live push channel configuration
type PushConfig struct {
	// RedisURL enables the cross-instance pub/sub bridge when set
	RedisURL      string        `yaml:"redis_url"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	WriteTimeout  time.Duration `yaml:"write_timeout"`
	// SendBuffer is the per-connection outbound queue size; a slow
	// consumer whose queue fills is disconnected.
	SendBuffer int `yaml:"send_buffer"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	TokenTTL time.Duration `yaml:"token_ttl"`
	// BcryptCost overrides the bcrypt default cost when > 0
	BcryptCost int `yaml:"bcrypt_cost"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel `yaml:"-"`
	LogLevelName   string                 `yaml:"log_level"`
	MetricsEnabled bool                   `yaml:"metrics_enabled"`
}

// Defaults returns the built-in configuration defaults
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			HealthPort:      "9090",
			AllowedOrigins:  []string{"*"},
		},
		Storage: StorageConfig{
			Driver:      "postgres",
			URL:         "postgres://localhost/castellan?sslmode=disable",
			MaxConns:    25,
			MinConns:    5,
			Timeout:     10 * time.Second,
			MaxLifetime: 30 * time.Minute,
		},
		Push: PushConfig{
			WriteTimeout: 10 * time.Second,
			SendBuffer:   64,
		},
		Auth: AuthConfig{
			TokenTTL: 2 * time.Hour,
		},
		Observability: ObservabilityConfig{
			LogLevel:       observability.InfoLevel,
			LogLevelName:   "info",
			MetricsEnabled: true,
		},
	}
}

// LoadConfig loads configuration: defaults, then the optional YAML file
// named by CASTELLAN_CONFIG_FILE (or the path argument), then
// environment overrides.
func LoadConfig(path string) (*Config, error) {
	cfg := Defaults()

	if path == "" {
		path = os.Getenv("CASTELLAN_CONFIG_FILE")
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	cfg.loadEnv()
	cfg.Observability.LogLevel = observability.ParseLogLevel(cfg.Observability.LogLevelName)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadFile overlays values from a YAML file
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("invalid YAML: %w", err)
	}
	return nil
}

// loadEnv overlays values from CASTELLAN_* environment variables
func (c *Config) loadEnv() {
	c.Server.Host = getEnv("CASTELLAN_HOST", c.Server.Host)
	c.Server.Port = getEnv("CASTELLAN_PORT", c.Server.Port)
	c.Server.HealthPort = getEnv("CASTELLAN_HEALTH_PORT", c.Server.HealthPort)
	c.Server.ReadTimeout = getEnvDuration("CASTELLAN_READ_TIMEOUT", c.Server.ReadTimeout)
	c.Server.WriteTimeout = getEnvDuration("CASTELLAN_WRITE_TIMEOUT", c.Server.WriteTimeout)
	c.Server.IdleTimeout = getEnvDuration("CASTELLAN_IDLE_TIMEOUT", c.Server.IdleTimeout)
	c.Server.ShutdownTimeout = getEnvDuration("CASTELLAN_SHUTDOWN_TIMEOUT", c.Server.ShutdownTimeout)
	if origins := getEnv("CASTELLAN_ALLOWED_ORIGINS", ""); origins != "" {
		c.Server.AllowedOrigins = strings.Split(origins, ",")
	}

	c.Storage.Driver = getEnv("CASTELLAN_DB_DRIVER", c.Storage.Driver)
	c.Storage.URL = getEnv("CASTELLAN_DB_URL", c.Storage.URL)
	c.Storage.MaxConns = getEnvInt("CASTELLAN_DB_MAX_CONNS", c.Storage.MaxConns)
	c.Storage.MinConns = getEnvInt("CASTELLAN_DB_MIN_CONNS", c.Storage.MinConns)
	c.Storage.Timeout = getEnvDuration("CASTELLAN_DB_TIMEOUT", c.Storage.Timeout)
	c.Storage.MaxLifetime = getEnvDuration("CASTELLAN_DB_MAX_LIFETIME", c.Storage.MaxLifetime)

	c.Push.RedisURL = getEnv("CASTELLAN_REDIS_URL", c.Push.RedisURL)
	c.Push.RedisPassword = getEnv("CASTELLAN_REDIS_PASSWORD", c.Push.RedisPassword)
	c.Push.RedisDB = getEnvInt("CASTELLAN_REDIS_DB", c.Push.RedisDB)
	c.Push.WriteTimeout = getEnvDuration("CASTELLAN_PUSH_WRITE_TIMEOUT", c.Push.WriteTimeout)
	c.Push.SendBuffer = getEnvInt("CASTELLAN_PUSH_SEND_BUFFER", c.Push.SendBuffer)

	c.Auth.TokenTTL = getEnvDuration("CASTELLAN_TOKEN_TTL", c.Auth.TokenTTL)
	c.Auth.BcryptCost = getEnvInt("CASTELLAN_BCRYPT_COST", c.Auth.BcryptCost)

	c.Observability.LogLevelName = getEnv("CASTELLAN_LOG_LEVEL", c.Observability.LogLevelName)
	c.Observability.MetricsEnabled = getEnvBool("CASTELLAN_METRICS_ENABLED", c.Observability.MetricsEnabled)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	switch c.Storage.Driver {
	case "postgres", "sqlite3":
	default:
		return fmt.Errorf("invalid storage driver: %s (must be postgres or sqlite3)", c.Storage.Driver)
	}
	if c.Storage.URL == "" {
		return fmt.Errorf("storage URL is required")
	}

	if c.Push.SendBuffer <= 0 {
		return fmt.Errorf("push send buffer must be positive")
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("token TTL must be positive")
	}

	return nil
}

// getEnv returns the environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as an int or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvBool returns the environment variable as a bool or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvDuration returns the environment variable as a duration or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
