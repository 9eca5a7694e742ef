package auth

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingToken はリクエストにトークンがないことを表す。
	ErrMissingToken = errors.New("トークンがありません")
	// ErrCacheUnavailable はキャッシュとの通信に失敗したことを表す。
	ErrCacheUnavailable = errors.New("キャッシュに接続できません")
	// ErrUpstreamUnavailable はプロバイダーまたはデータサービスとの通信に失敗したことを表す。
	ErrUpstreamUnavailable = errors.New("上流サービスに接続できません")
	// ErrTokenExpired はプロバイダーがトークンを期限切れ・無効と判定したことを表す。
	ErrTokenExpired = errors.New("トークンの有効期限が切れています")
	// ErrMalformedUpstreamResponse は上流サービスのレスポンスが想定した形式でないことを表す。
	ErrMalformedUpstreamResponse = errors.New("上流サービスのレスポンスが不正です")
)

// ExpiredError はプロバイダーが返したエラー情報を保持する期限切れエラー。
// errors.Is(err, ErrTokenExpired) が成り立つ。
type ExpiredError struct {
	Detail ProviderError
}

func (e *ExpiredError) Error() string {
	return fmt.Sprintf("%v: code=%d, message=%s", ErrTokenExpired, e.Detail.Code, e.Detail.Message)
}

// Is はErrTokenExpiredとの比較を可能にする。
func (e *ExpiredError) Is(target error) bool {
	return target == ErrTokenExpired
}

// Kind はエラー種別の名前を返す。レスポンスボディとログに使う。
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrMissingToken):
		return "MissingToken"
	case errors.Is(err, ErrTokenExpired):
		return "TokenExpired"
	case errors.Is(err, ErrCacheUnavailable):
		return "CacheUnavailable"
	case errors.Is(err, ErrMalformedUpstreamResponse):
		return "MalformedUpstreamResponse"
	case errors.Is(err, ErrUpstreamUnavailable):
		return "UpstreamUnavailable"
	default:
		return "Internal"
	}
}
