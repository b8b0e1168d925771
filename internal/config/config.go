package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/0xmhha/explorer-indexer/internal/constants"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the indexer
type Config struct {
	RPC      RPCConfig      `yaml:"rpc"`
	Database DatabaseConfig `yaml:"database"`
	Log      LogConfig      `yaml:"log"`
	Sync     SyncConfig     `yaml:"sync"`
	API      APIConfig      `yaml:"api"`
	EventBus EventBusConfig `yaml:"eventbus"`
}

// RPCConfig holds chain-data source configuration
type RPCConfig struct {
	Endpoint string        `yaml:"endpoint"`
	Timeout  time.Duration `yaml:"timeout"`
	// RateLimit is the maximum requests per second sent upstream (0 = unlimited)
	RateLimit float64 `yaml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path     string `yaml:"path"`
	ReadOnly bool   `yaml:"readonly"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// SyncConfig holds Sync Engine configuration
type SyncConfig struct {
	BatchSize       int           `yaml:"batch_size"`
	TxWorkers       int           `yaml:"tx_workers"`
	BootstrapWindow uint64        `yaml:"bootstrap_window"`
	MonitorInterval time.Duration `yaml:"monitor_interval"`
	// StartHeight forces the initial backfill to begin at this height when set
	StartHeight *uint64 `yaml:"start_height,omitempty"`
	// DisableMonitor runs the startup backfill only
	DisableMonitor bool `yaml:"disable_monitor"`
	// ResolveTokenMetadata reads name, symbol and decimals from token
	// contracts instead of storing blank metadata
	ResolveTokenMetadata bool `yaml:"resolve_token_metadata"`
	TokenCacheSize       int  `yaml:"token_cache_size"`
}

// APIConfig holds API server configuration
type APIConfig struct {
	Enabled            bool     `yaml:"enabled"`
	Host               string   `yaml:"host"`
	Port               int      `yaml:"port"`
	EnableWebSocket    bool     `yaml:"enable_websocket"`
	WebSocketPath      string   `yaml:"websocket_path"`
	EnableCORS         bool     `yaml:"enable_cors"`
	AllowedOrigins     []string `yaml:"allowed_origins"`
	EnableRateLimit    bool     `yaml:"enable_rate_limit"`
	RateLimitPerSecond float64  `yaml:"rate_limit_per_second"`
	RateLimitBurst     int      `yaml:"rate_limit_burst"`
}

// EventBusConfig holds the optional relays that mirror fan-out messages
// to other processes
type EventBusConfig struct {
	Redis EventBusRedisConfig `yaml:"redis"`
	Kafka EventBusKafkaConfig `yaml:"kafka"`
}

// EventBusRedisConfig holds Redis Pub/Sub relay configuration
type EventBusRedisConfig struct {
	Enabled bool `yaml:"enabled"`
	// Addresses is the list of Redis server addresses (first one is used unless ClusterMode)
	Addresses     []string      `yaml:"addresses"`
	Password      string        `yaml:"password,omitempty"`
	DB            int           `yaml:"db"`
	PoolSize      int           `yaml:"pool_size"`
	DialTimeout   time.Duration `yaml:"dial_timeout"`
	ReadTimeout   time.Duration `yaml:"read_timeout"`
	WriteTimeout  time.Duration `yaml:"write_timeout"`
	ChannelPrefix string        `yaml:"channel_prefix"`
	ClusterMode   bool          `yaml:"cluster_mode"`
}

// EventBusKafkaConfig holds Kafka relay configuration
type EventBusKafkaConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Brokers      []string      `yaml:"brokers"`
	Topic        string        `yaml:"topic"`
	ClientID     string        `yaml:"client_id"`
	BatchSize    int           `yaml:"batch_size"`
	BatchTimeout time.Duration `yaml:"batch_timeout"`
	// RequiredAcks: 0 = none, 1 = leader, -1 = all replicas
	RequiredAcks int `yaml:"required_acks"`
}

// NewConfig creates a new configuration with default values
func NewConfig() *Config {
	cfg := &Config{}
	cfg.SetDefaults()
	return cfg
}

// SetDefaults sets default values for the configuration
func (c *Config) SetDefaults() {
	// RPC defaults
	if c.RPC.Timeout == 0 {
		c.RPC.Timeout = constants.DefaultRPCTimeout
	}
	if c.RPC.RateBurst == 0 {
		c.RPC.RateBurst = constants.DefaultRPCRateBurst
	}

	// Log defaults
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}

	// Sync defaults
	if c.Sync.BatchSize == 0 {
		c.Sync.BatchSize = constants.DefaultBatchSize
	}
	if c.Sync.TxWorkers == 0 {
		c.Sync.TxWorkers = constants.DefaultTxWorkers
	}
	if c.Sync.BootstrapWindow == 0 {
		c.Sync.BootstrapWindow = constants.DefaultBootstrapWindow
	}
	if c.Sync.MonitorInterval == 0 {
		c.Sync.MonitorInterval = constants.DefaultMonitorInterval
	}
	if c.Sync.TokenCacheSize == 0 {
		c.Sync.TokenCacheSize = constants.DefaultTokenCacheSize
	}

	// API defaults
	if c.API.Host == "" {
		c.API.Host = constants.DefaultAPIHost
	}
	if c.API.Port == 0 {
		c.API.Port = constants.DefaultAPIPort
	}
	if c.API.WebSocketPath == "" {
		c.API.WebSocketPath = constants.DefaultWebSocketPath
	}
	if c.API.AllowedOrigins == nil {
		c.API.AllowedOrigins = []string{"*"}
	}
	if c.API.RateLimitPerSecond == 0 {
		c.API.RateLimitPerSecond = constants.DefaultRateLimitPerSecond
	}
	if c.API.RateLimitBurst == 0 {
		c.API.RateLimitBurst = constants.DefaultRateLimitBurst
	}

	// Redis relay defaults
	if c.EventBus.Redis.PoolSize == 0 {
		c.EventBus.Redis.PoolSize = constants.DefaultRedisPoolSize
	}
	if c.EventBus.Redis.DialTimeout == 0 {
		c.EventBus.Redis.DialTimeout = constants.DefaultRedisDialTimeout
	}
	if c.EventBus.Redis.ReadTimeout == 0 {
		c.EventBus.Redis.ReadTimeout = constants.DefaultRedisIOTimeout
	}
	if c.EventBus.Redis.WriteTimeout == 0 {
		c.EventBus.Redis.WriteTimeout = constants.DefaultRedisIOTimeout
	}
	if c.EventBus.Redis.ChannelPrefix == "" {
		c.EventBus.Redis.ChannelPrefix = constants.DefaultRedisChannelPrefix
	}

	// Kafka relay defaults
	if c.EventBus.Kafka.Topic == "" {
		c.EventBus.Kafka.Topic = constants.DefaultKafkaTopic
	}
	if c.EventBus.Kafka.BatchSize == 0 {
		c.EventBus.Kafka.BatchSize = constants.DefaultKafkaBatchSize
	}
	if c.EventBus.Kafka.BatchTimeout == 0 {
		c.EventBus.Kafka.BatchTimeout = constants.DefaultKafkaBatchTimeout
	}
	if c.EventBus.Kafka.RequiredAcks == 0 {
		c.EventBus.Kafka.RequiredAcks = -1
	}
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() error {
	// RPC configuration
	if endpoint := os.Getenv("INDEXER_RPC_ENDPOINT"); endpoint != "" {
		c.RPC.Endpoint = endpoint
	}
	if timeout := os.Getenv("INDEXER_RPC_TIMEOUT"); timeout != "" {
		duration, err := time.ParseDuration(timeout)
		if err != nil {
			return fmt.Errorf("invalid INDEXER_RPC_TIMEOUT: %w", err)
		}
		c.RPC.Timeout = duration
	}
	if rateLimit := os.Getenv("INDEXER_RPC_RATE_LIMIT"); rateLimit != "" {
		val, err := strconv.ParseFloat(rateLimit, 64)
		if err != nil {
			return fmt.Errorf("invalid INDEXER_RPC_RATE_LIMIT: %w", err)
		}
		c.RPC.RateLimit = val
	}

	// Database configuration
	if path := os.Getenv("INDEXER_DB_PATH"); path != "" {
		c.Database.Path = path
	}
	if readonly := os.Getenv("INDEXER_DB_READONLY"); readonly != "" {
		val, err := strconv.ParseBool(readonly)
		if err != nil {
			return fmt.Errorf("invalid INDEXER_DB_READONLY: %w", err)
		}
		c.Database.ReadOnly = val
	}

	// Log configuration
	if level := os.Getenv("INDEXER_LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}
	if format := os.Getenv("INDEXER_LOG_FORMAT"); format != "" {
		c.Log.Format = format
	}

	// Sync configuration
	if batchSize := os.Getenv("INDEXER_SYNC_BATCH_SIZE"); batchSize != "" {
		val, err := strconv.Atoi(batchSize)
		if err != nil {
			return fmt.Errorf("invalid INDEXER_SYNC_BATCH_SIZE: %w", err)
		}
		c.Sync.BatchSize = val
	}
	if txWorkers := os.Getenv("INDEXER_SYNC_TX_WORKERS"); txWorkers != "" {
		val, err := strconv.Atoi(txWorkers)
		if err != nil {
			return fmt.Errorf("invalid INDEXER_SYNC_TX_WORKERS: %w", err)
		}
		c.Sync.TxWorkers = val
	}
	if window := os.Getenv("INDEXER_SYNC_BOOTSTRAP_WINDOW"); window != "" {
		val, err := strconv.ParseUint(window, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid INDEXER_SYNC_BOOTSTRAP_WINDOW: %w", err)
		}
		c.Sync.BootstrapWindow = val
	}
	if interval := os.Getenv("INDEXER_SYNC_MONITOR_INTERVAL"); interval != "" {
		duration, err := time.ParseDuration(interval)
		if err != nil {
			return fmt.Errorf("invalid INDEXER_SYNC_MONITOR_INTERVAL: %w", err)
		}
		c.Sync.MonitorInterval = duration
	}
	if startHeight := os.Getenv("INDEXER_SYNC_START_HEIGHT"); startHeight != "" {
		val, err := strconv.ParseUint(startHeight, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid INDEXER_SYNC_START_HEIGHT: %w", err)
		}
		c.Sync.StartHeight = &val
	}

	if resolve := os.Getenv("INDEXER_SYNC_RESOLVE_TOKEN_METADATA"); resolve != "" {
		val, err := strconv.ParseBool(resolve)
		if err != nil {
			return fmt.Errorf("invalid INDEXER_SYNC_RESOLVE_TOKEN_METADATA: %w", err)
		}
		c.Sync.ResolveTokenMetadata = val
	}

	// API configuration
	if enabled := os.Getenv("INDEXER_API_ENABLED"); enabled != "" {
		val, err := strconv.ParseBool(enabled)
		if err != nil {
			return fmt.Errorf("invalid INDEXER_API_ENABLED: %w", err)
		}
		c.API.Enabled = val
	}
	if host := os.Getenv("INDEXER_API_HOST"); host != "" {
		c.API.Host = host
	}
	if port := os.Getenv("INDEXER_API_PORT"); port != "" {
		val, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid INDEXER_API_PORT: %w", err)
		}
		c.API.Port = val
	}
	if ws := os.Getenv("INDEXER_API_ENABLE_WEBSOCKET"); ws != "" {
		val, err := strconv.ParseBool(ws)
		if err != nil {
			return fmt.Errorf("invalid INDEXER_API_ENABLE_WEBSOCKET: %w", err)
		}
		c.API.EnableWebSocket = val
	}
	if origins := os.Getenv("INDEXER_API_ALLOWED_ORIGINS"); origins != "" {
		c.API.AllowedOrigins = splitList(origins)
	}

	// Redis relay configuration
	if enabled := os.Getenv("INDEXER_EVENTBUS_REDIS_ENABLED"); enabled != "" {
		val, err := strconv.ParseBool(enabled)
		if err != nil {
			return fmt.Errorf("invalid INDEXER_EVENTBUS_REDIS_ENABLED: %w", err)
		}
		c.EventBus.Redis.Enabled = val
	}
	if addrs := os.Getenv("INDEXER_EVENTBUS_REDIS_ADDRESSES"); addrs != "" {
		c.EventBus.Redis.Addresses = splitList(addrs)
	}
	if password := os.Getenv("INDEXER_EVENTBUS_REDIS_PASSWORD"); password != "" {
		c.EventBus.Redis.Password = password
	}

	// Kafka relay configuration
	if enabled := os.Getenv("INDEXER_EVENTBUS_KAFKA_ENABLED"); enabled != "" {
		val, err := strconv.ParseBool(enabled)
		if err != nil {
			return fmt.Errorf("invalid INDEXER_EVENTBUS_KAFKA_ENABLED: %w", err)
		}
		c.EventBus.Kafka.Enabled = val
	}
	if brokers := os.Getenv("INDEXER_EVENTBUS_KAFKA_BROKERS"); brokers != "" {
		c.EventBus.Kafka.Brokers = splitList(brokers)
	}
	if topic := os.Getenv("INDEXER_EVENTBUS_KAFKA_TOPIC"); topic != "" {
		c.EventBus.Kafka.Topic = topic
	}

	return nil
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.RPC.Endpoint == "" {
		return fmt.Errorf("RPC endpoint is required")
	}
	if c.RPC.Timeout <= 0 {
		return fmt.Errorf("RPC timeout must be positive")
	}
	if c.RPC.RateLimit < 0 {
		return fmt.Errorf("RPC rate limit cannot be negative")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.Log.Level] {
		return fmt.Errorf("invalid log level %q, must be one of: debug, info, warn, error", c.Log.Level)
	}

	validLogFormats := map[string]bool{
		"json":    true,
		"console": true,
	}
	if !validLogFormats[c.Log.Format] {
		return fmt.Errorf("invalid log format %q, must be one of: json, console", c.Log.Format)
	}

	if c.Sync.BatchSize <= 0 || c.Sync.BatchSize > constants.MaxBatchSize {
		return fmt.Errorf("batch size must be between 1 and %d", constants.MaxBatchSize)
	}
	if c.Sync.TxWorkers <= 0 {
		return fmt.Errorf("tx worker count must be positive")
	}
	if c.Sync.MonitorInterval <= 0 {
		return fmt.Errorf("monitor interval must be positive")
	}

	if c.API.Enabled && (c.API.Port < constants.MinPort || c.API.Port > constants.MaxPort) {
		return fmt.Errorf("API port must be between %d and %d", constants.MinPort, constants.MaxPort)
	}

	if c.EventBus.Redis.Enabled && len(c.EventBus.Redis.Addresses) == 0 {
		return fmt.Errorf("redis relay enabled but no addresses configured")
	}
	if c.EventBus.Kafka.Enabled {
		if len(c.EventBus.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka relay enabled but no brokers configured")
		}
		if c.EventBus.Kafka.Topic == "" {
			return fmt.Errorf("kafka topic is required when kafka is enabled")
		}
	}

	return nil
}

// Load is a convenience method that loads configuration in the following order:
// 1. Set defaults
// 2. Load from file (if provided)
// 3. Load from environment variables (override file)
// 4. Validate
func Load(configFile string) (*Config, error) {
	cfg := NewConfig()

	if configFile != "" {
		if err := cfg.LoadFromFile(configFile); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := cfg.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}
