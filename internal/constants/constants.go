package constants

import "time"

// API Server Constants
const (
	// DefaultAPIHost is the default API server host
	DefaultAPIHost = "localhost"

	// DefaultAPIPort is the default API server port
	DefaultAPIPort = 8080

	// MinPort is the minimum valid port number
	MinPort = 1

	// MaxPort is the maximum valid port number
	MaxPort = 65535

	// DefaultReadTimeout is the default HTTP read timeout
	DefaultReadTimeout = 15 * time.Second

	// DefaultWriteTimeout is the default HTTP write timeout
	DefaultWriteTimeout = 15 * time.Second

	// DefaultIdleTimeout is the default HTTP idle timeout
	DefaultIdleTimeout = 60 * time.Second

	// DefaultShutdownTimeout is the default graceful shutdown timeout
	DefaultShutdownTimeout = 30 * time.Second

	// DefaultMaxHeaderBytes is the default maximum request header size (1 MB)
	DefaultMaxHeaderBytes = 1 << 20

	// DefaultRateLimitPerSecond is the default per-IP request rate
	DefaultRateLimitPerSecond = 100

	// DefaultRateLimitBurst is the default per-IP burst size
	DefaultRateLimitBurst = 200

	// DefaultWebSocketPath is the default WebSocket endpoint path
	DefaultWebSocketPath = "/ws"
)

// Chain Reader Constants
const (
	// DefaultRPCTimeout bounds every single call to the chain-data source
	DefaultRPCTimeout = 10 * time.Second

	// DefaultRPCRateLimit is the default upstream request rate (0 disables limiting)
	DefaultRPCRateLimit = 0

	// DefaultRPCRateBurst is the burst used when upstream rate limiting is enabled
	DefaultRPCRateBurst = 20
)

// Sync Engine Constants
const (
	// DefaultBatchSize is the number of heights normalized concurrently per batch
	DefaultBatchSize = 5

	// MaxBatchSize caps the batch width so one pass cannot flood the source
	MaxBatchSize = 100

	// DefaultTxWorkers is the per-block transaction normalization concurrency
	DefaultTxWorkers = 8

	// DefaultBootstrapWindow is how far behind the tip an empty store starts
	DefaultBootstrapWindow = 100

	// DefaultMonitorInterval is the tip-following check period
	DefaultMonitorInterval = 15 * time.Second

	// DefaultStatsWindow is the number of recent blocks used for the average block time
	DefaultStatsWindow = 10
)

// Token Constants
const (
	// DefaultTokenDecimals is used when token metadata cannot be resolved
	DefaultTokenDecimals = 18

	// DefaultTokenCacheSize is the number of token contracts whose metadata is kept in memory
	DefaultTokenCacheSize = 4096
)

// Fan-out Constants
const (
	// DefaultHubBroadcastBuffer is the hub's pending broadcast queue size
	DefaultHubBroadcastBuffer = 256

	// DefaultClientSendBuffer is the per-subscriber outbound queue size
	DefaultClientSendBuffer = 256

	// DefaultMaxClients is the maximum number of concurrent subscribers
	DefaultMaxClients = 10000

	// DefaultPublishTimeout bounds a single relay publish (Redis, Kafka)
	DefaultPublishTimeout = 5 * time.Second
)

// EventBus relay defaults
const (
	// DefaultRedisChannelPrefix prefixes every relayed topic channel
	DefaultRedisChannelPrefix = "indexer"

	// DefaultRedisPoolSize is the default Redis connection pool size
	DefaultRedisPoolSize = 20

	// DefaultRedisDialTimeout is the default Redis dial timeout
	DefaultRedisDialTimeout = 5 * time.Second

	// DefaultRedisIOTimeout is the default Redis read/write timeout
	DefaultRedisIOTimeout = 3 * time.Second

	// DefaultKafkaTopic is the default Kafka topic for relayed records
	DefaultKafkaTopic = "indexer-records"

	// DefaultKafkaBatchSize is the default Kafka writer batch size
	DefaultKafkaBatchSize = 100

	// DefaultKafkaBatchTimeout is the default Kafka writer flush interval
	DefaultKafkaBatchTimeout = 50 * time.Millisecond
)
