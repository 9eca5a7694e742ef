package cache

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
	"golang.org/x/crypto/blake2b"
)

const (
	// maxKeyLength はmemcachedが受け付けるキーの最大長。
	maxKeyLength = 250
	// maxRelativeExpiration を超える有効期限はmemcachedではunix時刻として解釈される。
	maxRelativeExpiration = 30 * 24 * time.Hour
)

// memcacheClient はmemcachedプロトコルでClientを実装する。
type memcacheClient struct {
	mc      *memcache.Client
	prefix  string
	timeout time.Duration
	closed  atomic.Bool
}

// NewMemcache はmemcachedクライアントを生成し、疎通を確認する。
func NewMemcache(ctx context.Context, cfg Config) (Client, error) {
	if len(cfg.Servers) == 0 {
		return nil, errors.New("memcachedサーバーが指定されていません")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	mc := memcache.New(cfg.Servers...)
	mc.Timeout = cfg.Timeout

	c := &memcacheClient{
		mc:      mc,
		prefix:  cfg.Prefix,
		timeout: cfg.Timeout,
	}
	if err := c.Ping(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// key はmemcachedで使用可能なキーを返す。
// ベアラートークンは長さ制限を超えることがあるため、不正なキーはBLAKE2bダイジェストに置き換える。
func (c *memcacheClient) key(k string) string {
	full := prefixed(c.prefix, k)
	if legalKey(full) {
		return full
	}
	sum := blake2b.Sum256([]byte(full))
	return prefixed(c.prefix, "b2:"+hex.EncodeToString(sum[:]))
}

// legalKey はmemcachedのキー制約（長さ・空白・制御文字）を満たすかを判定する。
func legalKey(key string) bool {
	if key == "" || len(key) > maxKeyLength {
		return false
	}
	for i := 0; i < len(key); i++ {
		if key[i] <= ' ' || key[i] == 0x7f {
			return false
		}
	}
	return true
}

// expiration はTTLをmemcachedのExpiration値に変換する。
func expiration(ttl time.Duration, now time.Time) int32 {
	if ttl == 0 {
		return 0
	}
	if ttl > maxRelativeExpiration {
		return int32(now.Add(ttl).Unix())
	}
	secs := int32(ttl / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

// guard はクローズ済みかどうかとコンテキストの状態を確認する。
// gomemcacheはcontextを受け取らないため、タイムアウトはクライアント設定で制御する。
func (c *memcacheClient) guard(ctx context.Context, op string) error {
	if c.closed.Load() {
		return unavailable(op, errors.New("クライアントはクローズ済み"))
	}
	if err := ctx.Err(); err != nil {
		return unavailable(op, err)
	}
	return nil
}

func (c *memcacheClient) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := c.guard(ctx, "get"); err != nil {
		return nil, false, err
	}
	item, err := c.mc.Get(c.key(key))
	if errors.Is(err, memcache.ErrCacheMiss) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, unavailable("get", err)
	}
	return item.Value, true, nil
}

func (c *memcacheClient) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		return c.Delete(ctx, key)
	}
	if err := c.guard(ctx, "set"); err != nil {
		return err
	}
	err := c.mc.Set(&memcache.Item{
		Key:        c.key(key),
		Value:      value,
		Expiration: expiration(ttl, time.Now()),
	})
	if err != nil {
		return unavailable("set", err)
	}
	return nil
}

func (c *memcacheClient) Delete(ctx context.Context, key string) error {
	if err := c.guard(ctx, "delete"); err != nil {
		return err
	}
	err := c.mc.Delete(c.key(key))
	if err != nil && !errors.Is(err, memcache.ErrCacheMiss) {
		return unavailable("delete", err)
	}
	return nil
}

func (c *memcacheClient) Ping(ctx context.Context) error {
	if err := c.guard(ctx, "ping"); err != nil {
		return err
	}
	if err := c.mc.Ping(); err != nil {
		return unavailable("ping", fmt.Errorf("memcachedへの疎通確認に失敗: %w", err))
	}
	return nil
}

// Close は以降の操作を拒否する。gomemcacheのアイドル接続はGCで解放される。
func (c *memcacheClient) Close() error {
	c.closed.Store(true)
	return nil
}
