package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// DefaultTimeout はリクエスト1回あたりのデフォルトタイムアウト。
const DefaultTimeout = 30 * time.Second

// maxErrorBody はStatusErrorに保持するレスポンスボディの上限バイト数。
const maxErrorBody = 64 << 10

var (
	// ErrTransport はリクエストの送信またはレスポンスの受信に失敗したことを表す。
	// タイムアウトとコンテキストのキャンセルも含む。
	ErrTransport = errors.New("HTTP通信に失敗")
	// ErrDecode はレスポンスボディのデシリアライズに失敗したことを表す。
	ErrDecode = errors.New("レスポンスボディのデシリアライズに失敗")
)

// StatusError は上流サービスが2xx以外のステータスを返したことを表す。
type StatusError struct {
	// StatusCode はHTTPステータスコード。
	StatusCode int
	// Body はレスポンスボディ（先頭64KiBまで）。
	Body []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTPエラー: status=%d, body=%s", e.StatusCode, string(e.Body))
}

// RequestHook は送信直前のリクエストを加工する関数。
type RequestHook func(ctx context.Context, req *http.Request) error

// Client は上流サービス通信用のHTTPクライアント。
type Client struct {
	// httpClient は内部で使用するHTTPクライアント。
	httpClient *http.Client
	// baseURL は接続先サービスのベースURL。
	baseURL string
	// hooks は送信前に順に適用される。
	hooks []RequestHook
}

// Option はClientの生成オプション。
type Option func(*Client)

// WithTimeout はリクエスト1回あたりのタイムアウトを設定する。
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithTransport は内部で使用するRoundTripperを差し替える。
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) {
		c.httpClient.Transport = rt
	}
}

// WithRequestHook は送信前にリクエストを加工するフックを追加する。
func WithRequestHook(h RequestHook) Option {
	return func(c *Client) {
		c.hooks = append(c.hooks, h)
	}
}

// New は新しいHTTPクライアントを生成する。
// baseURLには接続先のベースURL（例: "https://graph.facebook.com"）を指定する。
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		baseURL: baseURL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// PostJSON は指定パスにJSONボディでPOSTリクエストを送信する。
// レスポンスボディをresultにデシリアライズする。
func (c *Client) PostJSON(ctx context.Context, path string, body any, result any) error {
	return c.doJSON(ctx, http.MethodPost, path, nil, body, result)
}

// GetJSON は指定パスにクエリ付きのGETリクエストを送信する。
// レスポンスボディをresultにデシリアライズする。
func (c *Client) GetJSON(ctx context.Context, path string, query url.Values, result any) error {
	return c.doJSON(ctx, http.MethodGet, path, query, nil, result)
}

// doJSON はJSON形式のHTTPリクエストを実行する共通処理。
func (c *Client) doJSON(ctx context.Context, method, path string, query url.Values, body any, result any) error {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("リクエストボディのシリアライズに失敗: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return fmt.Errorf("HTTPリクエストの作成に失敗: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	// コンテキストからユーザーを伝播する
	if subject, ok := SubjectFrom(ctx); ok {
		req.Header.Set(headerKeySubject, subject)
	}
	for _, h := range c.hooks {
		if err := h(ctx, req); err != nil {
			return fmt.Errorf("リクエストの加工に失敗: %w", err)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", ErrTransport, method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{StatusCode: resp.StatusCode, Body: respBody}
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("%w: %w", ErrDecode, err)
		}
	}
	return nil
}

// contextKey はコンテキストキーの型。
type contextKey string

// contextKeySubject はコンテキストに認証済みユーザーを格納するためのキー。
const contextKeySubject contextKey = "subject"

// headerKeySubject は上流サービスへ認証済みユーザーを伝播するHTTPヘッダーキー。
const headerKeySubject = "X-User-Email"

// WithSubject はコンテキストに認証済みユーザー（メールアドレス）を設定する。
// 上流サービス呼び出し時にX-User-Emailヘッダーとして伝播される。
func WithSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, contextKeySubject, subject)
}

// SubjectFrom はコンテキストから認証済みユーザーを取り出す。
func SubjectFrom(ctx context.Context) (string, bool) {
	s, ok := ctx.Value(contextKeySubject).(string)
	return s, ok && s != ""
}
