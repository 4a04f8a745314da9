package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Server.HealthPort != "9090" {
		t.Errorf("expected default health port 9090, got %s", cfg.Server.HealthPort)
	}
	if cfg.Storage.Driver != "postgres" {
		t.Errorf("expected default driver postgres, got %s", cfg.Storage.Driver)
	}
	if cfg.Push.SendBuffer != 64 {
		t.Errorf("expected default send buffer 64, got %d", cfg.Push.SendBuffer)
	}
	if cfg.Auth.TokenTTL != 2*time.Hour {
		t.Errorf("expected default token TTL 2h, got %s", cfg.Auth.TokenTTL)
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("CASTELLAN_PORT", "9999")
	t.Setenv("CASTELLAN_DB_DRIVER", "sqlite3")
	t.Setenv("CASTELLAN_DB_URL", ":memory:")
	t.Setenv("CASTELLAN_REDIS_URL", "redis://localhost:6379")
	t.Setenv("CASTELLAN_TOKEN_TTL", "45m")
	t.Setenv("CASTELLAN_LOG_LEVEL", "debug")
	t.Setenv("CASTELLAN_METRICS_ENABLED", "false")

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != "9999" {
		t.Errorf("expected port 9999, got %s", cfg.Server.Port)
	}
	if cfg.Storage.Driver != "sqlite3" {
		t.Errorf("expected driver sqlite3, got %s", cfg.Storage.Driver)
	}
	if cfg.Storage.URL != ":memory:" {
		t.Errorf("expected URL :memory:, got %s", cfg.Storage.URL)
	}
	if cfg.Push.RedisURL != "redis://localhost:6379" {
		t.Errorf("expected redis URL set, got %s", cfg.Push.RedisURL)
	}
	if cfg.Auth.TokenTTL != 45*time.Minute {
		t.Errorf("expected token TTL 45m, got %s", cfg.Auth.TokenTTL)
	}
	if cfg.Observability.LogLevelName != "debug" {
		t.Errorf("expected log level debug, got %s", cfg.Observability.LogLevelName)
	}
	if cfg.Observability.MetricsEnabled {
		t.Error("expected metrics disabled")
	}
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "castellan.yaml")
	data := `
server:
  port: "7070"
  health_port: "7071"
storage:
  driver: sqlite3
  url: /var/lib/castellan/castellan.db
push:
  redis_url: redis://cache:6379
observability:
  log_level: warn
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != "7070" {
		t.Errorf("expected port 7070, got %s", cfg.Server.Port)
	}
	if cfg.Storage.URL != "/var/lib/castellan/castellan.db" {
		t.Errorf("unexpected storage URL: %s", cfg.Storage.URL)
	}
	if cfg.Push.RedisURL != "redis://cache:6379" {
		t.Errorf("unexpected redis URL: %s", cfg.Push.RedisURL)
	}
	// defaults survive where the file is silent
	if cfg.Auth.TokenTTL != 2*time.Hour {
		t.Errorf("expected default token TTL, got %s", cfg.Auth.TokenTTL)
	}
}

func TestLoadConfigEnvWinsOverFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "castellan.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: \"7070\"\n"), 0o600); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	t.Setenv("CASTELLAN_PORT", "6060")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != "6060" {
		t.Errorf("expected env override 6060, got %s", cfg.Server.Port)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid defaults",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "missing port",
			mutate:  func(c *Config) { c.Server.Port = "" },
			wantErr: true,
		},
		{
			name:    "same port and health port",
			mutate:  func(c *Config) { c.Server.HealthPort = c.Server.Port },
			wantErr: true,
		},
		{
			name:    "unknown driver",
			mutate:  func(c *Config) { c.Storage.Driver = "mysql" },
			wantErr: true,
		},
		{
			name:    "missing storage URL",
			mutate:  func(c *Config) { c.Storage.URL = "" },
			wantErr: true,
		},
		{
			name:    "zero send buffer",
			mutate:  func(c *Config) { c.Push.SendBuffer = 0 },
			wantErr: true,
		},
		{
			name:    "zero token TTL",
			mutate:  func(c *Config) { c.Auth.TokenTTL = 0 },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
