// Package bff はフロントエンド向けBFF（Backend for Frontend）のHTTPサーバーを提供する。
//
// 受信したリクエストのトークンをOAuthプロバイダーで検証し、検証結果をキャッシュした上で
// 上流のデータサービスにユーザー情報やフィードを問い合わせる。
// トークン検証は internal/auth のGateが担当し、このパッケージはその周りのルーティングと
// レスポンスの組み立てだけを行う。
package bff
