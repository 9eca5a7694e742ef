package metrics

import (
	"context"
	"time"

	"github.com/nao1215/bff/pkg/cache"
)

// instrumentedCache はキャッシュ操作の結果をCacheOperationsTotalに記録する。
type instrumentedCache struct {
	cache.Client
}

// InstrumentCache はキャッシュクライアントをメトリクス記録付きでラップする。
func InstrumentCache(c cache.Client) cache.Client {
	return &instrumentedCache{Client: c}
}

func (c *instrumentedCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, found, err := c.Client.Get(ctx, key)
	switch {
	case err != nil:
		CacheOperationsTotal.WithLabelValues("get", "error").Inc()
	case found:
		CacheOperationsTotal.WithLabelValues("get", "hit").Inc()
	default:
		CacheOperationsTotal.WithLabelValues("get", "miss").Inc()
	}
	return v, found, err
}

func (c *instrumentedCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	err := c.Client.Set(ctx, key, value, ttl)
	CacheOperationsTotal.WithLabelValues("set", result(err)).Inc()
	return err
}

func (c *instrumentedCache) Delete(ctx context.Context, key string) error {
	err := c.Client.Delete(ctx, key)
	CacheOperationsTotal.WithLabelValues("delete", result(err)).Inc()
	return err
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
