package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisClient はRedisでClientを実装する。
type redisClient struct {
	client  *redis.Client
	prefix  string
	timeout time.Duration
}

// NewRedis はRedisクライアントを生成し、疎通を確認する。
func NewRedis(ctx context.Context, cfg Config) (Client, error) {
	if cfg.RedisAddr == "" {
		return nil, errors.New("Redisのアドレスが指定されていません")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  cfg.Timeout,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	})

	c := &redisClient{
		client:  rdb,
		prefix:  cfg.Prefix,
		timeout: cfg.Timeout,
	}
	if err := c.Ping(ctx); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return c, nil
}

func (c *redisClient) key(k string) string {
	return prefixed(c.prefix, k)
}

func (c *redisClient) Get(ctx context.Context, key string) ([]byte, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	val, err := c.client.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, unavailable("get", err)
	}
	return val, true, nil
}

func (c *redisClient) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		return c.Delete(ctx, key)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.client.Set(ctx, c.key(key), value, ttl).Err(); err != nil {
		return unavailable("set", err)
	}
	return nil
}

func (c *redisClient) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.client.Del(ctx, c.key(key)).Err(); err != nil {
		return unavailable("delete", err)
	}
	return nil
}

func (c *redisClient) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.client.Ping(ctx).Err(); err != nil {
		return unavailable("ping", fmt.Errorf("Redisへの疎通確認に失敗: %w", err))
	}
	return nil
}

func (c *redisClient) Close() error {
	return c.client.Close()
}
