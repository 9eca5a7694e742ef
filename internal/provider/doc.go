// Package provider はOAuthプロバイダー（Graph API）へのトークン検証とプロフィール取得を行う。
//
// トークンの有効性はdebug_tokenエンドポイントで、ユーザー情報は/meエンドポイントで取得する。
// どちらも検証対象のトークンをクエリパラメータで渡す。
package provider
