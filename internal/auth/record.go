package auth

import (
	"context"

	"github.com/gin-gonic/gin"
)

// CodeTokenExpired はプロバイダーがトークンの期限切れ・無効を示すエラーコード。
const CodeTokenExpired = 190

// ProviderError はプロバイダーがトークンを拒否した際のエラー情報。
type ProviderError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Record はトークン検証の結果（Identity Record）。
// キャッシュにはJSONで保存され、トークン文字列をキーとする。
type Record struct {
	// Cached はキャッシュから取得した場合にtrue。キャッシュへ書き込む値は常にtrue。
	Cached bool `json:"cached"`
	// ID はプロバイダー上のユーザーID。
	ID string `json:"id,omitempty"`
	// Email はユーザーのメールアドレス。
	Email string `json:"email"`
	// Name はユーザーの表示名。
	Name string `json:"name"`
	// Picture はプロフィール画像のURL。
	Picture string `json:"picture"`
	// ExpiresAt はトークンの有効期限（unix秒）。
	ExpiresAt int64 `json:"expiresAt"`
	// Error はプロバイダーがトークンを拒否した場合に設定される。
	Error *ProviderError `json:"error,omitempty"`
}

// Expired はプロバイダーがトークンを期限切れ・無効と判定したかを返す。
func (r *Record) Expired() bool {
	return r.Error != nil && r.Error.Code == CodeTokenExpired
}

type recordKey struct{}

// ginKeyRecord はGinコンテキストにRecordを格納するキー。
const ginKeyRecord = "auth.record"

// WithRecord はRecordをコンテキストに設定する。
func WithRecord(ctx context.Context, r *Record) context.Context {
	return context.WithValue(ctx, recordKey{}, r)
}

// FromContext はコンテキストからRecordを取り出す。
// Gateを通過したリクエストのコンテキストでのみ見つかる。
func FromContext(ctx context.Context) (*Record, bool) {
	r, ok := ctx.Value(recordKey{}).(*Record)
	return r, ok && r != nil
}

// RecordFrom はGinコンテキストからRecordを取り出す。
func RecordFrom(c *gin.Context) (*Record, bool) {
	if v, ok := c.Get(ginKeyRecord); ok {
		if r, ok := v.(*Record); ok && r != nil {
			return r, true
		}
	}
	return FromContext(c.Request.Context())
}
