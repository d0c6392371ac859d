package publish

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"solana-token-feed/internal/domain"
	"solana-token-feed/internal/storage"
)

// DefaultRedisChannel receives token snapshots.
const DefaultRedisChannel = "solana-token-feed:tokens"

// RedisOptions configures the Redis connection.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisClient connects to Redis and verifies the connection.
func NewRedisClient(ctx context.Context, opts RedisOptions, logger *zap.Logger) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,

		// Connection pool
		PoolSize:     10,
		MinIdleConns: 2,

		// Timeouts
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", opts.Addr, err)
	}

	logger.Info("connected to redis",
		zap.String("addr", opts.Addr),
		zap.Int("db", opts.DB))

	return rdb, nil
}

// publisher is the part of the Redis client the broadcaster uses.
type publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisBroadcaster publishes token snapshots to a pub/sub channel. It
// implements storage.TokenSink so it can sit behind a write-behind buffer.
type RedisBroadcaster struct {
	client  publisher
	channel string
	logger  *zap.Logger
	now     func() time.Time
}

// NewRedisBroadcaster creates a broadcaster on channel.
func NewRedisBroadcaster(client publisher, channel string, logger *zap.Logger) *RedisBroadcaster {
	if channel == "" {
		channel = DefaultRedisChannel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisBroadcaster{
		client:  client,
		channel: channel,
		logger:  logger.Named("redis"),
		now:     time.Now,
	}
}

// Compile-time interface check.
var _ storage.TokenSink = (*RedisBroadcaster)(nil)

// UpsertTokens publishes one message per record. Publishing continues past
// individual failures; the joined error is returned.
func (b *RedisBroadcaster) UpsertTokens(ctx context.Context, records []domain.TokenRecord) error {
	var errs []error
	for _, r := range records {
		msg, err := encode(TypeToken, r, b.now())
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := b.client.Publish(ctx, b.channel, msg).Err(); err != nil {
			b.logger.Debug("publish failed", zap.String("mint", r.Mint), zap.Error(err))
			errs = append(errs, fmt.Errorf("publish %s: %w", r.Mint, err))
		}
	}
	return errors.Join(errs...)
}
