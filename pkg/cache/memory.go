package cache

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// memoryCleanupInterval は期限切れエントリを掃除する間隔。
const memoryCleanupInterval = time.Minute

// memoryClient はプロセス内メモリでClientを実装する。開発・テスト用。
type memoryClient struct {
	c      *gocache.Cache
	prefix string
	closed atomic.Bool
}

// NewMemory はインメモリのキャッシュクライアントを生成する。
func NewMemory(cfg Config) Client {
	return &memoryClient{
		c:      gocache.New(gocache.NoExpiration, memoryCleanupInterval),
		prefix: cfg.Prefix,
	}
}

func (m *memoryClient) guard(ctx context.Context, op string) error {
	if m.closed.Load() {
		return unavailable(op, errors.New("クライアントはクローズ済み"))
	}
	if err := ctx.Err(); err != nil {
		return unavailable(op, err)
	}
	return nil
}

func (m *memoryClient) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := m.guard(ctx, "get"); err != nil {
		return nil, false, err
	}
	v, ok := m.c.Get(prefixed(m.prefix, key))
	if !ok {
		return nil, false, nil
	}
	b, _ := v.([]byte)
	return append([]byte(nil), b...), true, nil
}

func (m *memoryClient) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := m.guard(ctx, "set"); err != nil {
		return err
	}
	k := prefixed(m.prefix, key)
	switch {
	case ttl < 0:
		m.c.Delete(k)
	case ttl == 0:
		m.c.Set(k, append([]byte(nil), value...), gocache.NoExpiration)
	default:
		m.c.Set(k, append([]byte(nil), value...), ttl)
	}
	return nil
}

func (m *memoryClient) Delete(ctx context.Context, key string) error {
	if err := m.guard(ctx, "delete"); err != nil {
		return err
	}
	m.c.Delete(prefixed(m.prefix, key))
	return nil
}

func (m *memoryClient) Ping(ctx context.Context) error {
	return m.guard(ctx, "ping")
}

func (m *memoryClient) Close() error {
	m.closed.Store(true)
	m.c.Flush()
	return nil
}
