package storage

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	editor "github.com/KumarDhananjaya/Real-Time-Collaborative-Text-Editor"
	"github.com/KumarDhananjaya/Real-Time-Collaborative-Text-Editor/protocol"
	"github.com/KumarDhananjaya/Real-Time-Collaborative-Text-Editor/utils"
)

// RedisCache holds one serialized document state per key with a TTL.
type RedisCache struct {
	rdb *redis.Client
}

func NewRedisCache(ctx context.Context, url string) (*RedisCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "storage: bad redis url")
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, errors.Wrap(err, "storage: redis unreachable")
	}
	return &RedisCache{rdb: rdb}, nil
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := c.rdb.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, editor.ErrNotFound
	}
	return val, err
}

func (c *RedisCache) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	return c.rdb.Set(ctx, key, val, ttl).Err()
}

func (c *RedisCache) Close() error {
	return c.rdb.Close()
}

// RedisBroker fans document channels across processes over pub/sub.
// Payloads travel inside a sender-tagged envelope so each process can
// skip its own echo.
type RedisBroker struct {
	rdb *redis.Client
	log utils.Logger
}

func NewRedisBroker(ctx context.Context, url string, log utils.Logger) (*RedisBroker, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "storage: bad redis url")
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, errors.Wrap(err, "storage: redis unreachable")
	}
	return &RedisBroker{rdb: rdb, log: log}, nil
}

func (b *RedisBroker) Publish(ctx context.Context, channel, sender string, payload []byte) error {
	return b.rdb.Publish(ctx, channel, protocol.Envelope(sender, payload)).Err()
}

func (b *RedisBroker) Subscribe(ctx context.Context, channel string, fn func(sender string, payload []byte)) (editor.Subscription, error) {
	ps := b.rdb.Subscribe(ctx, channel)
	// Force the subscription onto the wire before returning.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, errors.Wrap(err, "storage: subscribe failed")
	}
	go func() {
		for msg := range ps.Channel() {
			sender, payload, err := protocol.ParseEnvelope([]byte(msg.Payload))
			if err != nil {
				b.log.Warn("dropping malformed broker envelope", "channel", channel)
				continue
			}
			fn(sender, payload)
		}
	}()
	return &redisSub{ps: ps}, nil
}

func (b *RedisBroker) Close() error {
	return b.rdb.Close()
}

type redisSub struct {
	ps *redis.PubSub
}

func (s *redisSub) Close() error {
	return s.ps.Close()
}
