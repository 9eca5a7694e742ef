package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// GetJSON はキーに対応する値を取得し、T型にデシリアライズする。
// キーが存在しない場合は found=false を返す。
func GetJSON[T any](ctx context.Context, c Client, key string) (value T, found bool, err error) {
	raw, found, err := c.Get(ctx, key)
	if err != nil || !found {
		return value, false, err
	}
	if err := json.Unmarshal(raw, &value); err != nil {
		return value, false, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	return value, true, nil
}

// SetJSON は値をJSONにシリアライズして保存する。
func SetJSON(ctx context.Context, c Client, key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("キャッシュ値のシリアライズに失敗: %w", err)
	}
	return c.Set(ctx, key, raw, ttl)
}
