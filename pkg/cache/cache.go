package cache

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultTimeout はキャッシュ操作1回あたりのデフォルトのタイムアウト。
const DefaultTimeout = 5 * time.Second

var (
	// ErrUnavailable はキャッシュサーバーとの通信に失敗したことを表す。
	// タイムアウトとクローズ済みクライアントへの操作もこのエラーになる。
	ErrUnavailable = errors.New("キャッシュに接続できません")
	// ErrCorrupt は保存された値をデシリアライズできなかったことを表す。
	ErrCorrupt = errors.New("キャッシュの値が破損しています")
)

// Client はキャッシュのget/set/delete操作を定義する。
type Client interface {
	// Get はキーに対応する値を返す。キーが存在しない場合はエラーではなく found=false を返す。
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	// Set は値をTTL付きで保存する。
	// ttlが0の場合は期限なし、負の場合はキーを保存せず既存の値も削除する。
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Delete はキーを削除する。存在しないキーの削除はエラーにならない。
	Delete(ctx context.Context, key string) error
	// Ping はキャッシュサーバーとの疎通を確認する。
	Ping(ctx context.Context) error
	// Close は接続を解放する。
	Close() error
}

// Driver はキャッシュのバックエンド種別。
type Driver string

const (
	// DriverMemcache はmemcachedプロトコルのバックエンド。
	DriverMemcache Driver = "memcache"
	// DriverRedis はRedisバックエンド。
	DriverRedis Driver = "redis"
	// DriverMemory はプロセス内メモリのバックエンド。
	DriverMemory Driver = "memory"
)

// Config はキャッシュクライアントの生成設定。
type Config struct {
	// Driver はバックエンド種別。空の場合はmemoryになる。
	Driver Driver `yaml:"driver"`
	// Servers はmemcachedサーバーのアドレス一覧（host:port）。
	Servers []string `yaml:"servers"`
	// RedisAddr はRedisのアドレス（host:port）。
	RedisAddr string `yaml:"redis_addr"`
	// RedisPassword はRedisのパスワード。
	RedisPassword string `yaml:"redis_password"`
	// RedisDB はRedisのDB番号。
	RedisDB int `yaml:"redis_db"`
	// Prefix はすべてのキーに付与する接頭辞。
	Prefix string `yaml:"prefix"`
	// Timeout は操作1回あたりのタイムアウト。0の場合はDefaultTimeout。
	Timeout time.Duration `yaml:"timeout"`
}

// New は設定に応じたキャッシュクライアントを生成する。
func New(ctx context.Context, cfg Config) (Client, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	switch cfg.Driver {
	case DriverMemcache:
		return NewMemcache(ctx, cfg)
	case DriverRedis:
		return NewRedis(ctx, cfg)
	case DriverMemory, "":
		return NewMemory(cfg), nil
	default:
		return nil, fmt.Errorf("未対応のキャッシュドライバー: %q", cfg.Driver)
	}
}

// unavailable はバックエンドのエラーをErrUnavailableでラップする。
func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrUnavailable, op, err)
}

// prefixed はキーに接頭辞を付与する。
func prefixed(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + ":" + key
}
