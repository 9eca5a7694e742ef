package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/nao1215/bff/internal/metrics"
	"github.com/nao1215/bff/pkg/httpclient"
)

// DefaultTimeout はプロバイダー呼び出し1回あたりのデフォルトのタイムアウト。
const DefaultTimeout = 5 * time.Second

var (
	// ErrUnavailable はプロバイダーとの通信に失敗したことを表す。
	ErrUnavailable = errors.New("プロバイダーに接続できません")
	// ErrMalformed はプロバイダーのレスポンスが想定した形式でないことを表す。
	ErrMalformed = errors.New("プロバイダーのレスポンスが不正です")
)

// Config はプロバイダークライアントの設定。
type Config struct {
	// GraphURL はGraph APIのベースURL。
	GraphURL string
	// AppToken は "appID|secret" 形式のアプリアクセストークン。
	AppToken string
	// AppID とAppSecret はAppTokenが空の場合にclient credentialsグラントで使用する。
	AppID     string
	AppSecret string
	// TokenURL はclient credentialsグラントのトークンエンドポイント。
	TokenURL string
	// ProfileFields は/meで要求するフィールド。
	ProfileFields []string
	// Timeout は呼び出し1回あたりのタイムアウト。
	Timeout time.Duration
	// Transport はテスト等でHTTPトランスポートを差し替える場合に指定する。
	Transport http.RoundTripper
}

// Client はプロバイダーのGraph APIクライアント。
type Client struct {
	http     *httpclient.Client
	appToken oauth2.TokenSource
	fields   string
}

// New はプロバイダークライアントを生成する。
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	opts := []httpclient.Option{httpclient.WithTimeout(cfg.Timeout)}
	if cfg.Transport != nil {
		opts = append(opts, httpclient.WithTransport(cfg.Transport))
	}

	return &Client{
		http:     httpclient.New(strings.TrimRight(cfg.GraphURL, "/"), opts...),
		appToken: appTokenSource(cfg),
		fields:   strings.Join(cfg.ProfileFields, ","),
	}
}

// appTokenSource はアプリアクセストークンの取得元を返す。
// 固定トークンがなければclient credentialsグラントで取得し、期限まで再利用する。
func appTokenSource(cfg Config) oauth2.TokenSource {
	if cfg.AppToken != "" {
		return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.AppToken})
	}

	cc := &clientcredentials.Config{
		ClientID:     cfg.AppID,
		ClientSecret: cfg.AppSecret,
		TokenURL:     cfg.TokenURL,
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	hc := &http.Client{Timeout: cfg.Timeout, Transport: cfg.Transport}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, hc)
	return cc.TokenSource(ctx)
}

// Introspect はトークンの有効性と有効期限をdebug_tokenで検証する。
func (c *Client) Introspect(ctx context.Context, token string) (*Introspection, error) {
	app, err := c.appToken.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: アプリトークンの取得に失敗: %w", ErrUnavailable, err)
	}

	query := url.Values{
		"input_token":  {token},
		"access_token": {app.AccessToken},
	}
	var env introspectionEnvelope
	if err := c.get(ctx, "/debug_token", query, &env); err != nil {
		return nil, err
	}

	switch {
	case env.Data != nil:
		return env.Data, nil
	case env.Error != nil:
		return &Introspection{Error: env.Error}, nil
	default:
		return nil, fmt.Errorf("%w: debug_tokenにdataがありません", ErrMalformed)
	}
}

// Profile はトークン所有者のプロフィールを/meで取得する。
func (c *Client) Profile(ctx context.Context, token string) (*Profile, error) {
	query := url.Values{
		"fields":       {c.fields},
		"access_token": {token},
	}
	var p Profile
	if err := c.get(ctx, "/me", query, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// get はGETリクエストを送信し、エラーをプロバイダーのエラー種別に変換する。
// 4xxでエラーオブジェクトを含むレスポンスはプロバイダーの回答としてresultにデコードする。
func (c *Client) get(ctx context.Context, path string, query url.Values, result any) error {
	err := c.http.GetJSON(ctx, path, query, result)
	metrics.ObserveUpstream("provider", err)
	if err == nil {
		return nil
	}

	var statusErr *httpclient.StatusError
	switch {
	case errors.As(err, &statusErr):
		if statusErr.StatusCode >= 400 && statusErr.StatusCode < 500 && decodeErrorBody(statusErr.Body, result) {
			return nil
		}
		return fmt.Errorf("%w: %s: %w", ErrUnavailable, path, err)
	case errors.Is(err, httpclient.ErrDecode):
		return fmt.Errorf("%w: %s: %w", ErrMalformed, path, err)
	default:
		return fmt.Errorf("%w: %s: %w", ErrUnavailable, path, err)
	}
}
