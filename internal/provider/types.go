package provider

import (
	"bytes"
	"encoding/json"
)

// Error はプロバイダーがトークンを拒否した際のエラー情報。
type Error struct {
	// Code はプロバイダーのエラーコード。190はトークン期限切れ・無効を表す。
	Code int `json:"code"`
	// Message はエラーメッセージ。
	Message string `json:"message"`
	// Subcode はエラーの詳細コード（例: 463 期限切れ、467 無効）。
	Subcode int `json:"subcode,omitempty"`
}

// Introspection はトークン検証（debug_token）の結果。
type Introspection struct {
	// AppID はトークンを発行したアプリID。
	AppID string `json:"app_id"`
	// UserID はトークンの所有者。
	UserID string `json:"user_id"`
	// IsValid はトークンが有効かどうか。
	IsValid bool `json:"is_valid"`
	// ExpiresAt はトークンの有効期限（unix秒）。0は無期限。
	ExpiresAt int64 `json:"expires_at"`
	// Scopes は付与済みの権限。
	Scopes []string `json:"scopes,omitempty"`
	// Error はプロバイダーがトークンを拒否した場合に設定される。
	Error *Error `json:"error,omitempty"`
}

// Profile はユーザープロフィール（/me）の結果。
type Profile struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Email   string  `json:"email"`
	Picture Picture `json:"picture"`
	// Error はプロバイダーがトークンを拒否した場合に設定される。
	Error *Error `json:"error,omitempty"`
}

// Picture はプロフィール画像のURL。
// Graph APIは {"data":{"url":...}} 形式で返すが、URL文字列もそのまま受け付ける。
type Picture string

// UnmarshalJSON は文字列とオブジェクトのどちらの形式もURLに正規化する。
func (p *Picture) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*p = Picture(s)
		return nil
	}
	var obj struct {
		Data struct {
			URL string `json:"url"`
		} `json:"data"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	*p = Picture(obj.Data.URL)
	return nil
}

// introspectionEnvelope はdebug_tokenのレスポンス全体。
// トークンの状態はdata配下、リクエスト自体のエラーはトップレベルのerrorに入る。
type introspectionEnvelope struct {
	Data  *Introspection `json:"data"`
	Error *Error         `json:"error"`
}
