package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/0xmhha/explorer-indexer/internal/config"
	"github.com/0xmhha/explorer-indexer/internal/constants"
	"github.com/0xmhha/explorer-indexer/storage"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// redisClient is the subset of redis.UniversalClient used for relaying
type redisClient interface {
	Ping(ctx context.Context) *redis.StatusCmd
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Close() error
}

// RedisPublisher relays fan-out messages to Redis Pub/Sub. Each topic maps
// to the channel "{prefix}:{topic}".
type RedisPublisher struct {
	client        redisClient
	channelPrefix string
	closed        atomic.Bool
	logger        *zap.Logger
}

var _ Publisher = (*RedisPublisher)(nil)

// NewRedisPublisher creates a standalone or cluster client from cfg
func NewRedisPublisher(cfg config.EventBusRedisConfig, logger *zap.Logger) (*RedisPublisher, error) {
	if len(cfg.Addresses) == 0 {
		return nil, fmt.Errorf("no Redis addresses configured")
	}

	var client redis.UniversalClient
	if cfg.ClusterMode {
		client = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:        cfg.Addresses,
			Password:     cfg.Password,
			PoolSize:     cfg.PoolSize,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		})
	} else {
		client = redis.NewClient(&redis.Options{
			Addr:         cfg.Addresses[0],
			Password:     cfg.Password,
			DB:           cfg.DB,
			PoolSize:     cfg.PoolSize,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		})
	}

	return newRedisPublisher(client, cfg.ChannelPrefix, logger), nil
}

func newRedisPublisher(client redisClient, prefix string, logger *zap.Logger) *RedisPublisher {
	if prefix == "" {
		prefix = constants.DefaultRedisChannelPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisPublisher{
		client:        client,
		channelPrefix: prefix,
		logger:        logger.With(zap.String("component", "redis-publisher")),
	}
}

// Connect verifies the server is reachable
func (p *RedisPublisher) Connect(ctx context.Context) error {
	if err := p.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	p.logger.Info("connected to Redis", zap.String("channel_prefix", p.channelPrefix))
	return nil
}

// Channel returns the Redis channel used for topic
func (p *RedisPublisher) Channel(topic string) string {
	return p.channelPrefix + ":" + topic
}

func (p *RedisPublisher) send(ctx context.Context, env Envelope) error {
	if p.closed.Load() {
		return ErrPublisherClosed
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal %s message: %w", env.Event, err)
	}
	if err := p.client.Publish(ctx, p.Channel(env.Topic), data).Err(); err != nil {
		return fmt.Errorf("failed to publish to Redis: %w", err)
	}
	return nil
}

// PublishBlock implements Publisher
func (p *RedisPublisher) PublishBlock(ctx context.Context, block *storage.Block) error {
	return sendAll(ctx, []Envelope{BlockEnvelope(block)}, p.send)
}

// PublishTransaction implements Publisher
func (p *RedisPublisher) PublishTransaction(ctx context.Context, tx *storage.Transaction) error {
	return sendAll(ctx, TransactionEnvelopes(tx), p.send)
}

// PublishNetworkStats implements Publisher
func (p *RedisPublisher) PublishNetworkStats(ctx context.Context, stats *NetworkStats) error {
	return sendAll(ctx, []Envelope{StatsEnvelope(stats)}, p.send)
}

// Close closes the Redis client
func (p *RedisPublisher) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	return p.client.Close()
}
