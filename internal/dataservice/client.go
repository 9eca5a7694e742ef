// Package dataservice は上流データサービス（ユーザー・フィード等のREST API）のクライアントを提供する。
//
// ユーザー情報はメールアドレスをキーにキャッシュし、フィード取得はキャッシュ済みのユーザーのみを対象とする。
package dataservice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nao1215/bff/internal/logger"
	"github.com/nao1215/bff/internal/metrics"
	"github.com/nao1215/bff/pkg/cache"
	"github.com/nao1215/bff/pkg/httpclient"
	"github.com/nao1215/bff/pkg/servicetoken"
)

var (
	// ErrUnavailable はデータサービスとの通信に失敗したことを表す。
	ErrUnavailable = errors.New("データサービスに接続できません")
	// ErrMalformed はデータサービスのレスポンスが想定した形式でないことを表す。
	ErrMalformed = errors.New("データサービスのレスポンスが不正です")
	// ErrUserNotFound はユーザーが登録されていないことを表す。
	ErrUserNotFound = errors.New("ユーザーが見つかりません")
	// ErrUserNotCreated はユーザー作成のレスポンスが空だったことを表す。
	ErrUserNotCreated = errors.New("ユーザーを作成できませんでした")
)

// User はデータサービスのユーザー。未知のフィールドもそのまま保持してクライアントへ返す。
type User map[string]any

// PersonID はユーザーに紐づくperson._idを返す。
func (u User) PersonID() (string, bool) {
	person, ok := u["person"].(map[string]any)
	if !ok {
		return "", false
	}
	id, ok := person["_id"].(string)
	return id, ok && id != ""
}

// Config はデータサービスクライアントの設定。
type Config struct {
	// BaseURL はAPIのベースURL（例: http://localhost:5000/api）。
	BaseURL string
	// Timeout は呼び出し1回あたりのタイムアウト。
	Timeout time.Duration
	// UserCacheTTL はユーザー情報のキャッシュ期間。0は無期限。
	UserCacheTTL time.Duration
	// ServiceTokens が設定されていれば、各リクエストにサービストークンを付与する。
	ServiceTokens *servicetoken.Issuer
	// Transport はテスト等でHTTPトランスポートを差し替える場合に指定する。
	Transport http.RoundTripper
}

// Client はデータサービスのクライアント。
type Client struct {
	http    *httpclient.Client
	cache   cache.Client
	userTTL time.Duration
}

// New はデータサービスクライアントを生成する。
func New(cfg Config, c cache.Client) *Client {
	opts := []httpclient.Option{httpclient.WithTimeout(cfg.Timeout)}
	if cfg.Transport != nil {
		opts = append(opts, httpclient.WithTransport(cfg.Transport))
	}
	if cfg.ServiceTokens != nil {
		opts = append(opts, httpclient.WithRequestHook(bearerHook(cfg.ServiceTokens)))
	}

	return &Client{
		http:    httpclient.New(strings.TrimRight(cfg.BaseURL, "/"), opts...),
		cache:   c,
		userTTL: cfg.UserCacheTTL,
	}
}

// bearerHook はコンテキストの認証済みユーザーをsubjectとしたサービストークンを付与する。
func bearerHook(iss *servicetoken.Issuer) httpclient.RequestHook {
	return func(ctx context.Context, req *http.Request) error {
		subject, ok := httpclient.SubjectFrom(ctx)
		if !ok {
			return nil
		}
		tok, err := iss.Issue(subject)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+tok)
		return nil
	}
}

// FindUser はメールアドレスでユーザーを取得する。キャッシュになければデータサービスに問い合わせる。
// 登録されていない場合はErrUserNotFoundを返す。
func (c *Client) FindUser(ctx context.Context, email string) (User, error) {
	user, found, err := c.CachedUser(ctx, email)
	if err != nil {
		return nil, err
	}
	if found {
		return user, nil
	}

	logger.From(ctx).Debug("データサービスからユーザーを取得", zap.String("email", email))
	var users []User
	if err := wrap(c.http.GetJSON(ctx, "/user/details", url.Values{"email": {email}}, &users)); err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, ErrUserNotFound
	}
	c.storeUser(ctx, email, users[0])
	return users[0], nil
}

// CreateUser はユーザーを作成してキャッシュする。
func (c *Client) CreateUser(ctx context.Context, email, name string) (User, error) {
	body := map[string]string{"email": email, "name": name}
	var users []User
	if err := wrap(c.http.PostJSON(ctx, "/user/add", body, &users)); err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, ErrUserNotCreated
	}
	c.storeUser(ctx, email, users[0])
	return users[0], nil
}

// CachedUser はキャッシュだけを参照してユーザーを取得する。
// 破損したエントリは見つからなかったものとして扱う。
func (c *Client) CachedUser(ctx context.Context, email string) (User, bool, error) {
	user, found, err := cache.GetJSON[User](ctx, c.cache, email)
	switch {
	case errors.Is(err, cache.ErrCorrupt):
		logger.From(ctx).Warn("キャッシュのユーザー情報を破棄", zap.Error(err))
		return nil, false, nil
	case err != nil:
		return nil, false, err
	}
	return user, found, nil
}

// LikedArtists はユーザーがお気に入り登録したアーティスト一覧を返す。
func (c *Client) LikedArtists(ctx context.Context, email string) (json.RawMessage, error) {
	return c.getRaw(ctx, "/user/likedartists", email)
}

// LikedHosts はユーザーがお気に入り登録したホスト一覧を返す。
func (c *Client) LikedHosts(ctx context.Context, email string) (json.RawMessage, error) {
	return c.getRaw(ctx, "/user/likedhosts", email)
}

// Attending はユーザーが参加予定のイベント一覧を返す。
func (c *Client) Attending(ctx context.Context, email string) (json.RawMessage, error) {
	return c.getRaw(ctx, "/user/attending", email)
}

// Feed はpersonIDのフィードを返す。
func (c *Client) Feed(ctx context.Context, personID string) (json.RawMessage, error) {
	var feed json.RawMessage
	if err := wrap(c.http.PostJSON(ctx, "/user/feed", map[string]string{"personId": personID}, &feed)); err != nil {
		return nil, err
	}
	return feed, nil
}

func (c *Client) getRaw(ctx context.Context, path, email string) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := wrap(c.http.GetJSON(ctx, path, url.Values{"email": {email}}, &raw)); err != nil {
		return nil, err
	}
	return raw, nil
}

// storeUser はユーザー情報をキャッシュする。失敗してもレスポンスには影響させない。
func (c *Client) storeUser(ctx context.Context, email string, user User) {
	if err := cache.SetJSON(ctx, c.cache, email, user, c.userTTL); err != nil {
		logger.From(ctx).Warn("ユーザー情報のキャッシュ書き込みに失敗", zap.Error(err))
	}
}

// wrap はHTTPクライアントのエラーをデータサービスのエラー種別に変換する。
func wrap(err error) error {
	metrics.ObserveUpstream("dataservice", err)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, httpclient.ErrDecode):
		return fmt.Errorf("%w: %w", ErrMalformed, err)
	default:
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
}
