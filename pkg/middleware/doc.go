// Package middleware はGinベースのHTTP APIで使用する共通ミドルウェアを提供する。
//
// リクエストID付与、構造化アクセスログ、パニックリカバリ、CORS設定を含む。
// トークン検証のゲートは internal/auth にある。
package middleware
