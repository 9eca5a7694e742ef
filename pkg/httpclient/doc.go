// Package httpclient は上流サービスとのJSON over HTTP通信を行うクライアントを提供する。
//
// OAuthプロバイダーのGraph API呼び出しとデータサービス呼び出しで共通して使用する。
// 送信失敗・非2xx応答・デコード失敗をそれぞれ区別できるエラーとして返すため、
// 呼び出し側は errors.Is / errors.As でエラー種別を判定できる。
package httpclient
