// Package auth はベアラートークンの検証とリクエストゲートを提供する。
//
// Validator はキャッシュを優先してトークンを検証し、キャッシュにない場合は
// プロバイダーのトークン検証とプロフィール取得を並行して呼び出す。
// Gate はGinミドルウェアとして各リクエストのトークンを検証し、
// 検証済みのIdentity Recordをリクエストのコンテキストに設定する。
//
// プロバイダーのエラーコード190（期限切れ・無効）のみを認証失敗として扱い、
// それ以外のエラーコードはRecordに保持したまま通過させる。
package auth
