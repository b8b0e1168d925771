package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func validConfig() *Config {
	cfg := NewConfig()
	cfg.RPC.Endpoint = "http://localhost:8545"
	cfg.Database.Path = "/tmp/indexer-test"
	return cfg
}

// TestNewConfig tests creating a config with defaults
func TestNewConfig(t *testing.T) {
	cfg := NewConfig()
	if cfg == nil {
		t.Fatal("NewConfig() returned nil")
	}

	if cfg.Log.Level != "info" {
		t.Errorf("Expected default log level 'info', got %q", cfg.Log.Level)
	}
	if cfg.Log.Format != "json" {
		t.Errorf("Expected default log format 'json', got %q", cfg.Log.Format)
	}
	if cfg.Sync.BatchSize != 5 {
		t.Errorf("Expected default batch size 5, got %d", cfg.Sync.BatchSize)
	}
	if cfg.Sync.BootstrapWindow != 100 {
		t.Errorf("Expected default bootstrap window 100, got %d", cfg.Sync.BootstrapWindow)
	}
	if cfg.Sync.MonitorInterval != 15*time.Second {
		t.Errorf("Expected default monitor interval 15s, got %v", cfg.Sync.MonitorInterval)
	}
	if cfg.Sync.StartHeight != nil {
		t.Errorf("Expected no default start height, got %d", *cfg.Sync.StartHeight)
	}
	if cfg.API.WebSocketPath != "/ws" {
		t.Errorf("Expected default websocket path '/ws', got %q", cfg.API.WebSocketPath)
	}
}

// TestConfigValidation tests configuration validation
func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
		errMsg  string
	}{
		{
			name:    "valid config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "missing RPC endpoint",
			modify:  func(c *Config) { c.RPC.Endpoint = "" },
			wantErr: true,
			errMsg:  "RPC endpoint is required",
		},
		{
			name:    "non-positive RPC timeout",
			modify:  func(c *Config) { c.RPC.Timeout = 0 },
			wantErr: true,
			errMsg:  "RPC timeout must be positive",
		},
		{
			name:    "missing database path",
			modify:  func(c *Config) { c.Database.Path = "" },
			wantErr: true,
			errMsg:  "database path is required",
		},
		{
			name:    "invalid log level",
			modify:  func(c *Config) { c.Log.Level = "verbose" },
			wantErr: true,
			errMsg:  "invalid log level",
		},
		{
			name:    "invalid log format",
			modify:  func(c *Config) { c.Log.Format = "xml" },
			wantErr: true,
			errMsg:  "invalid log format",
		},
		{
			name:    "zero batch size",
			modify:  func(c *Config) { c.Sync.BatchSize = 0 },
			wantErr: true,
			errMsg:  "batch size must be between",
		},
		{
			name:    "batch size too large",
			modify:  func(c *Config) { c.Sync.BatchSize = 1000 },
			wantErr: true,
			errMsg:  "batch size must be between",
		},
		{
			name:    "zero tx workers",
			modify:  func(c *Config) { c.Sync.TxWorkers = 0 },
			wantErr: true,
			errMsg:  "tx worker count must be positive",
		},
		{
			name: "api port out of range",
			modify: func(c *Config) {
				c.API.Enabled = true
				c.API.Port = 70000
			},
			wantErr: true,
			errMsg:  "API port must be between",
		},
		{
			name:    "redis without addresses",
			modify:  func(c *Config) { c.EventBus.Redis.Enabled = true },
			wantErr: true,
			errMsg:  "redis relay enabled but no addresses configured",
		},
		{
			name:    "kafka without brokers",
			modify:  func(c *Config) { c.EventBus.Kafka.Enabled = true },
			wantErr: true,
			errMsg:  "kafka relay enabled but no brokers configured",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.modify(cfg)

			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("Validate() error = %q, want it to contain %q", err.Error(), tt.errMsg)
			}
		})
	}
}

// TestLoadFromEnv tests loading configuration from environment variables
func TestLoadFromEnv(t *testing.T) {
	t.Setenv("INDEXER_RPC_ENDPOINT", "http://env:8545")
	t.Setenv("INDEXER_RPC_TIMEOUT", "20s")
	t.Setenv("INDEXER_DB_PATH", "/tmp/env-db")
	t.Setenv("INDEXER_LOG_LEVEL", "debug")
	t.Setenv("INDEXER_SYNC_BATCH_SIZE", "7")
	t.Setenv("INDEXER_SYNC_MONITOR_INTERVAL", "3s")
	t.Setenv("INDEXER_SYNC_START_HEIGHT", "1200")
	t.Setenv("INDEXER_EVENTBUS_REDIS_ADDRESSES", "redis-a:6379, redis-b:6379")
	t.Setenv("INDEXER_EVENTBUS_KAFKA_BROKERS", "kafka:9092")
	t.Setenv("INDEXER_SYNC_RESOLVE_TOKEN_METADATA", "true")

	cfg := NewConfig()
	if err := cfg.LoadFromEnv(); err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}

	if cfg.RPC.Endpoint != "http://env:8545" {
		t.Errorf("Expected RPC endpoint from env, got %q", cfg.RPC.Endpoint)
	}
	if cfg.RPC.Timeout != 20*time.Second {
		t.Errorf("Expected RPC timeout 20s, got %v", cfg.RPC.Timeout)
	}
	if cfg.Database.Path != "/tmp/env-db" {
		t.Errorf("Expected database path from env, got %q", cfg.Database.Path)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Expected log level 'debug', got %q", cfg.Log.Level)
	}
	if cfg.Sync.BatchSize != 7 {
		t.Errorf("Expected batch size 7, got %d", cfg.Sync.BatchSize)
	}
	if cfg.Sync.MonitorInterval != 3*time.Second {
		t.Errorf("Expected monitor interval 3s, got %v", cfg.Sync.MonitorInterval)
	}
	if cfg.Sync.StartHeight == nil || *cfg.Sync.StartHeight != 1200 {
		t.Errorf("Expected start height 1200, got %v", cfg.Sync.StartHeight)
	}
	if len(cfg.EventBus.Redis.Addresses) != 2 || cfg.EventBus.Redis.Addresses[1] != "redis-b:6379" {
		t.Errorf("Expected two trimmed redis addresses, got %v", cfg.EventBus.Redis.Addresses)
	}
	if len(cfg.EventBus.Kafka.Brokers) != 1 {
		t.Errorf("Expected one kafka broker, got %v", cfg.EventBus.Kafka.Brokers)
	}
	if !cfg.Sync.ResolveTokenMetadata {
		t.Error("Expected token metadata resolution enabled from env")
	}
}

// TestLoadFromEnvInvalid tests malformed environment values
func TestLoadFromEnvInvalid(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{"INDEXER_RPC_TIMEOUT", "soon"},
		{"INDEXER_RPC_RATE_LIMIT", "fast"},
		{"INDEXER_DB_READONLY", "maybe"},
		{"INDEXER_SYNC_BATCH_SIZE", "five"},
		{"INDEXER_SYNC_TX_WORKERS", "-"},
		{"INDEXER_SYNC_BOOTSTRAP_WINDOW", "-1"},
		{"INDEXER_SYNC_MONITOR_INTERVAL", "15"},
		{"INDEXER_SYNC_START_HEIGHT", "latest"},
		{"INDEXER_SYNC_RESOLVE_TOKEN_METADATA", "sometimes"},
		{"INDEXER_API_PORT", "http"},
		{"INDEXER_EVENTBUS_KAFKA_ENABLED", "yes please"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)

			cfg := NewConfig()
			err := cfg.LoadFromEnv()
			if err == nil {
				t.Fatalf("Expected error for %s=%q, got nil", tt.key, tt.value)
			}
			if !strings.Contains(err.Error(), tt.key) {
				t.Errorf("Expected error to name %s, got %q", tt.key, err.Error())
			}
		})
	}
}

// TestLoadFromFile tests loading configuration from a YAML file
func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "config.yaml")

	configContent := `
rpc:
  endpoint: http://localhost:9545
  timeout: 45s

database:
  path: /tmp/test-db

log:
  level: warn
  format: console

sync:
  batch_size: 10
  tx_workers: 4
  bootstrap_window: 50
  monitor_interval: 5s
  start_height: 0

eventbus:
  kafka:
    enabled: true
    brokers: ["localhost:9092"]
    topic: blocks
`

	if err := os.WriteFile(configFile, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg := NewConfig()
	if err := cfg.LoadFromFile(configFile); err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}

	if cfg.RPC.Endpoint != "http://localhost:9545" {
		t.Errorf("Expected RPC endpoint 'http://localhost:9545', got %q", cfg.RPC.Endpoint)
	}
	if cfg.RPC.Timeout != 45*time.Second {
		t.Errorf("Expected RPC timeout 45s, got %v", cfg.RPC.Timeout)
	}
	if cfg.Log.Format != "console" {
		t.Errorf("Expected log format 'console', got %q", cfg.Log.Format)
	}
	if cfg.Sync.BatchSize != 10 || cfg.Sync.TxWorkers != 4 {
		t.Errorf("Expected batch size 10 and 4 workers, got %d and %d", cfg.Sync.BatchSize, cfg.Sync.TxWorkers)
	}
	if cfg.Sync.MonitorInterval != 5*time.Second {
		t.Errorf("Expected monitor interval 5s, got %v", cfg.Sync.MonitorInterval)
	}
	if cfg.Sync.StartHeight == nil || *cfg.Sync.StartHeight != 0 {
		t.Errorf("Expected explicit start height 0, got %v", cfg.Sync.StartHeight)
	}
	if !cfg.EventBus.Kafka.Enabled || cfg.EventBus.Kafka.Topic != "blocks" {
		t.Errorf("Expected kafka relay on topic 'blocks', got %+v", cfg.EventBus.Kafka)
	}
}

// TestLoadFromFileNotFound tests loading from non-existent file
func TestLoadFromFileNotFound(t *testing.T) {
	cfg := NewConfig()
	if err := cfg.LoadFromFile("/nonexistent/config.yaml"); err == nil {
		t.Error("Expected error when loading non-existent file, got nil")
	}
}

// TestLoadFromFileInvalidYAML tests loading from invalid YAML file
func TestLoadFromFileInvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "invalid.yaml")

	invalidYAML := `
rpc:
  endpoint: "http://localhost:8545
  timeout: invalid
`

	if err := os.WriteFile(configFile, []byte(invalidYAML), 0644); err != nil {
		t.Fatalf("Failed to write invalid config file: %v", err)
	}

	cfg := NewConfig()
	if err := cfg.LoadFromFile(configFile); err == nil {
		t.Error("Expected error when loading invalid YAML, got nil")
	}
}

// TestLoadPriority tests configuration priority (env > file > defaults)
func TestLoadPriority(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "config.yaml")

	configContent := `
rpc:
  endpoint: http://file:8545
database:
  path: /tmp/file-db
sync:
  batch_size: 9
`
	if err := os.WriteFile(configFile, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	t.Setenv("INDEXER_RPC_ENDPOINT", "http://env:8545")

	cfg, err := Load(configFile)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.RPC.Endpoint != "http://env:8545" {
		t.Errorf("Expected env to override file endpoint, got %q", cfg.RPC.Endpoint)
	}
	if cfg.Database.Path != "/tmp/file-db" {
		t.Errorf("Expected database path from file, got %q", cfg.Database.Path)
	}
	if cfg.Sync.BatchSize != 9 {
		t.Errorf("Expected batch size from file, got %d", cfg.Sync.BatchSize)
	}
	if cfg.Sync.TxWorkers != 8 {
		t.Errorf("Expected default tx workers, got %d", cfg.Sync.TxWorkers)
	}
}

// TestLoadInvalidConfig tests that Load surfaces validation errors
func TestLoadInvalidConfig(t *testing.T) {
	t.Setenv("INDEXER_RPC_ENDPOINT", "")
	t.Setenv("INDEXER_DB_PATH", "")

	if _, err := Load(""); err == nil {
		t.Error("Expected validation error without endpoint and path, got nil")
	}
}
