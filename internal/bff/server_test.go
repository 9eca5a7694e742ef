package bff

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nao1215/bff/internal/auth"
	"github.com/nao1215/bff/internal/config"
	"github.com/nao1215/bff/internal/dataservice"
	"github.com/nao1215/bff/internal/provider"
	"github.com/nao1215/bff/pkg/cache"
	"github.com/nao1215/bff/pkg/servicetoken"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// testServiceSecret はテスト用のサービスJWT署名鍵。
const testServiceSecret = "test-service-secret"

// fakeGraph はGraph APIのモック。トークン"expired"はコード190で拒否する。
type fakeGraph struct {
	server     *httptest.Server
	debugCalls atomic.Int32
	meCalls    atomic.Int32
}

func newFakeGraph(t *testing.T) *fakeGraph {
	t.Helper()

	g := &fakeGraph{}
	mux := http.NewServeMux()
	mux.HandleFunc("/debug_token", func(w http.ResponseWriter, r *http.Request) {
		g.debugCalls.Add(1)
		if r.URL.Query().Get("input_token") == "expired" {
			writeJSON(w, http.StatusOK, `{"data":{"is_valid":false,"expires_at":1600000000,"error":{"code":190,"message":"Session has expired"}}}`)
			return
		}
		exp := time.Now().Add(time.Hour).Unix()
		writeJSON(w, http.StatusOK, `{"data":{"app_id":"1","user_id":"42","is_valid":true,"expires_at":`+strconv.FormatInt(exp, 10)+`}}`)
	})
	mux.HandleFunc("/me", func(w http.ResponseWriter, _ *http.Request) {
		g.meCalls.Add(1)
		writeJSON(w, http.StatusOK, `{"id":"42","name":"Ada","email":"ada@example.com","picture":{"data":{"url":"https://img/ada.png"}}}`)
	})
	g.server = httptest.NewServer(mux)
	t.Cleanup(g.server.Close)
	return g
}

// fakeDataService はデータサービスのモック。
type fakeDataService struct {
	server *httptest.Server

	mu         sync.Mutex
	users      map[string]string
	subjects   []string
	feedPerson string
	failPath   string
}

func newFakeDataService(t *testing.T) *fakeDataService {
	t.Helper()

	d := &fakeDataService{users: map[string]string{}}
	iss := servicetoken.NewIssuer(testServiceSecret, time.Minute)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/", func(w http.ResponseWriter, r *http.Request) {
		d.mu.Lock()
		defer d.mu.Unlock()

		if bearer := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "); bearer != "" {
			if claims, err := iss.Parse(bearer); err == nil {
				d.subjects = append(d.subjects, claims.Subject)
			}
		}
		if r.URL.Path == d.failPath {
			writeJSON(w, http.StatusInternalServerError, `{"error":"boom"}`)
			return
		}

		switch r.URL.Path {
		case "/api/user/details":
			if u, ok := d.users[r.URL.Query().Get("email")]; ok {
				writeJSON(w, http.StatusOK, "["+u+"]")
				return
			}
			writeJSON(w, http.StatusOK, `[]`)
		case "/api/user/add":
			var body struct {
				Email string `json:"email"`
				Name  string `json:"name"`
			}
			_ = json.NewDecoder(r.Body).Decode(&body)
			u := `{"email":"` + body.Email + `","name":"` + body.Name + `","person":{"_id":"p-42"}}`
			d.users[body.Email] = u
			writeJSON(w, http.StatusOK, "["+u+"]")
		case "/api/user/likedartists":
			writeJSON(w, http.StatusOK, `[{"name":"artist"}]`)
		case "/api/user/likedhosts":
			writeJSON(w, http.StatusOK, `[{"name":"host"}]`)
		case "/api/user/attending":
			writeJSON(w, http.StatusOK, `[{"gig":"g1"}]`)
		case "/api/user/feed":
			var body struct {
				PersonID string `json:"personId"`
			}
			_ = json.NewDecoder(r.Body).Decode(&body)
			d.feedPerson = body.PersonID
			writeJSON(w, http.StatusOK, `{"items":[1,2,3]}`)
		default:
			http.NotFound(w, r)
		}
	})
	d.server = httptest.NewServer(mux)
	t.Cleanup(d.server.Close)
	return d
}

func (d *fakeDataService) addUser(email, body string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[email] = body
}

func (d *fakeDataService) fail(path string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failPath = path
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	io.WriteString(w, body)
}

// testEnv はモックの上流を持つテスト用サーバー一式。
type testEnv struct {
	server *Server
	cache  cache.Client
	graph  *fakeGraph
	data   *fakeDataService
}

// newTestEnv はメモリキャッシュとモック上流でBFFサーバーを生成する。
func newTestEnv(t *testing.T, strict bool) *testEnv {
	t.Helper()

	graph := newFakeGraph(t)
	data := newFakeDataService(t)
	c := cache.NewMemory(cache.Config{})

	prov := provider.New(provider.Config{
		GraphURL:      graph.server.URL,
		AppToken:      "1|app-secret",
		ProfileFields: []string{"name", "email", "picture"},
		Timeout:       time.Second,
	})
	ds := dataservice.New(dataservice.Config{
		BaseURL:       data.server.URL + "/api",
		Timeout:       time.Second,
		UserCacheTTL:  time.Minute,
		ServiceTokens: servicetoken.NewIssuer(testServiceSecret, time.Minute),
	}, c)

	s, err := NewServer(config.ServerConfig{
		Port:         "0",
		FrontendURL:  "http://localhost:3000",
		TokenHeader:  "token",
		StrictStatus: strict,
	}, Deps{
		Cache:     c,
		Validator: auth.NewValidator(c, prov),
		Data:      ds,
	})
	if err != nil {
		t.Fatalf("サーバーの生成に失敗: %v", err)
	}
	return &testEnv{server: s, cache: c, graph: graph, data: data}
}

func (e *testEnv) do(method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("token", token)
	}
	w := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(w, req)
	return w
}

// TestNewServer はサーバー生成時の入力検証を検証する。
func TestNewServer(t *testing.T) {
	t.Parallel()

	_, err := NewServer(config.ServerConfig{}, Deps{Cache: cache.NewMemory(cache.Config{})})
	if err == nil {
		t.Error("必須コンポーネントが無い場合にエラーが返らない")
	}
}

// TestHandleLogout はログアウトを検証する。
func TestHandleLogout(t *testing.T) {
	t.Parallel()

	t.Run("トークンがない場合500とToken not foundが返ること", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t, false)
		w := env.do(http.MethodPost, "/api/user/logout", "")

		if w.Code != http.StatusInternalServerError {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusInternalServerError)
		}
		if w.Body.String() != auth.MessageTokenNotFound {
			t.Errorf("ボディ = %q, want %q", w.Body.String(), auth.MessageTokenNotFound)
		}
	})

	t.Run("StrictStatusではトークンがない場合401が返ること", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t, true)
		w := env.do(http.MethodPost, "/api/user/logout", "")

		if w.Code != http.StatusUnauthorized {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusUnauthorized)
		}
	})

	t.Run("キャッシュ済みのトークンが削除され次のリクエストで再検証されること", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t, false)
		env.data.addUser("ada@example.com", `{"email":"ada@example.com","person":{"_id":"p-1"}}`)

		if w := env.do(http.MethodGet, "/api/user/profile", "tok"); w.Code != http.StatusOK {
			t.Fatalf("プロフィール取得のステータスコード = %d, body = %s", w.Code, w.Body.String())
		}
		if _, found, _ := env.cache.Get(context.Background(), "tok"); !found {
			t.Fatal("検証後にトークンがキャッシュされていない")
		}

		w := env.do(http.MethodPost, "/api/user/logout", "tok")
		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
		}
		var body map[string]bool
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("レスポンスのパースに失敗: %v", err)
		}
		if !body["success"] {
			t.Errorf("success = false, want true")
		}
		if _, found, _ := env.cache.Get(context.Background(), "tok"); found {
			t.Error("ログアウト後もトークンがキャッシュに残っている")
		}

		env.do(http.MethodGet, "/api/user/profile", "tok")
		if got := env.graph.debugCalls.Load(); got != 2 {
			t.Errorf("debug_token呼び出し回数 = %d, want 2", got)
		}
	})
}

// TestHandleProfile はプロフィール取得を検証する。
func TestHandleProfile(t *testing.T) {
	t.Parallel()

	t.Run("登録済みユーザーが返りトークンの検証結果がキャッシュされること", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t, false)
		env.data.addUser("ada@example.com", `{"email":"ada@example.com","name":"Ada","person":{"_id":"p-1"}}`)

		for i := 0; i < 2; i++ {
			w := env.do(http.MethodGet, "/api/user/profile", "tok")
			if w.Code != http.StatusOK {
				t.Fatalf("ステータスコード = %d, body = %s", w.Code, w.Body.String())
			}
			var user map[string]any
			if err := json.Unmarshal(w.Body.Bytes(), &user); err != nil {
				t.Fatalf("レスポンスのパースに失敗: %v", err)
			}
			if user["name"] != "Ada" {
				t.Errorf("name = %v, want %q", user["name"], "Ada")
			}
		}

		if got := env.graph.debugCalls.Load(); got != 1 {
			t.Errorf("debug_token呼び出し回数 = %d, want 1", got)
		}
		if got := env.graph.meCalls.Load(); got != 1 {
			t.Errorf("/me呼び出し回数 = %d, want 1", got)
		}

		rec, found, err := cache.GetJSON[auth.Record](context.Background(), env.cache, "tok")
		if err != nil || !found {
			t.Fatalf("キャッシュされたRecordの取得に失敗: found=%v err=%v", found, err)
		}
		if !rec.Cached || rec.Email != "ada@example.com" || rec.Picture != "https://img/ada.png" {
			t.Errorf("キャッシュされたRecord = %+v", rec)
		}
	})

	t.Run("未登録のユーザーは作成されること", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t, false)
		w := env.do(http.MethodGet, "/api/user/profile", "tok")

		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d, body = %s", w.Code, w.Body.String())
		}
		var user map[string]any
		if err := json.Unmarshal(w.Body.Bytes(), &user); err != nil {
			t.Fatalf("レスポンスのパースに失敗: %v", err)
		}
		if user["email"] != "ada@example.com" || user["name"] != "Ada" {
			t.Errorf("作成されたユーザー = %v", user)
		}
	})

	t.Run("データサービスへの呼び出しに検証済みのメールアドレスがサービストークンで付与されること", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t, false)
		env.do(http.MethodGet, "/api/user/profile", "tok")

		env.data.mu.Lock()
		defer env.data.mu.Unlock()
		if len(env.data.subjects) == 0 {
			t.Fatal("サービストークンが付与されていない")
		}
		for _, s := range env.data.subjects {
			if s != "ada@example.com" {
				t.Errorf("subject = %q, want %q", s, "ada@example.com")
			}
		}
	})

	t.Run("トークンがない場合はGateで中断されること", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t, false)
		w := env.do(http.MethodGet, "/api/user/profile", "")

		if w.Code != http.StatusInternalServerError || w.Body.String() != auth.MessageTokenNotFound {
			t.Errorf("レスポンス = %d %q", w.Code, w.Body.String())
		}
		if got := env.graph.debugCalls.Load(); got != 0 {
			t.Errorf("debug_token呼び出し回数 = %d, want 0", got)
		}
	})

	t.Run("期限切れトークンは200でERRORステータスが返りキャッシュされないこと", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t, false)
		w := env.do(http.MethodGet, "/api/user/profile", "expired")

		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
		}
		var body struct {
			Status string             `json:"status"`
			Error  auth.ProviderError `json:"error"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("レスポンスのパースに失敗: %v", err)
		}
		if body.Status != "ERROR" || body.Error.Code != auth.CodeTokenExpired {
			t.Errorf("レスポンス = %+v", body)
		}
		if _, found, _ := env.cache.Get(context.Background(), "expired"); found {
			t.Error("期限切れトークンがキャッシュされた")
		}
	})

	t.Run("StrictStatusでは期限切れトークンに401が返ること", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t, true)
		w := env.do(http.MethodGet, "/api/user/profile", "expired")

		if w.Code != http.StatusUnauthorized {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusUnauthorized)
		}
	})

	t.Run("データサービスが失敗した場合500が返ること", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t, false)
		env.data.fail("/api/user/details")
		w := env.do(http.MethodGet, "/api/user/profile", "tok")

		if w.Code != http.StatusInternalServerError {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusInternalServerError)
		}
		if !strings.Contains(w.Body.String(), "error") {
			t.Errorf("ボディにerrorが含まれない: %s", w.Body.String())
		}
	})
}

// TestHandleFullProfile はフルプロフィール取得を検証する。
func TestHandleFullProfile(t *testing.T) {
	t.Parallel()

	t.Run("ユーザー情報とお気に入り・参加予定がまとめて返ること", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t, false)
		env.data.addUser("ada@example.com", `{"email":"ada@example.com","person":{"_id":"p-1"}}`)
		w := env.do(http.MethodGet, "/api/user/fullprofile", "tok")

		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d, body = %s", w.Code, w.Body.String())
		}
		var got FullProfile
		if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
			t.Fatalf("レスポンスのパースに失敗: %v", err)
		}
		if got.User["email"] != "ada@example.com" {
			t.Errorf("user = %v", got.User)
		}
		if string(got.LikedArtists) != `[{"name":"artist"}]` {
			t.Errorf("likedArtists = %s", got.LikedArtists)
		}
		if string(got.LikedHosts) != `[{"name":"host"}]` {
			t.Errorf("likedHosts = %s", got.LikedHosts)
		}
		if string(got.Attending) != `[{"gig":"g1"}]` {
			t.Errorf("attending = %s", got.Attending)
		}
	})

	t.Run("未登録ユーザーの場合userはnullになること", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t, false)
		w := env.do(http.MethodGet, "/api/user/fullprofile", "tok")

		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d, body = %s", w.Code, w.Body.String())
		}
		if !strings.Contains(w.Body.String(), `"user":null`) {
			t.Errorf("ボディ = %s", w.Body.String())
		}
	})

	t.Run("いずれかの取得に失敗した場合500が返ること", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t, false)
		env.data.fail("/api/user/likedhosts")
		w := env.do(http.MethodGet, "/api/user/fullprofile", "tok")

		if w.Code != http.StatusInternalServerError {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusInternalServerError)
		}
	})
}

// TestHandleFeed はフィード取得を検証する。
func TestHandleFeed(t *testing.T) {
	t.Parallel()

	t.Run("ユーザーがキャッシュされていない場合403が返ること", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t, false)
		w := env.do(http.MethodPost, "/api/user/feed", "tok")

		if w.Code != http.StatusForbidden {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusForbidden)
		}
	})

	t.Run("プロフィール取得後はキャッシュされたperson._idでフィードが返ること", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t, false)
		if w := env.do(http.MethodGet, "/api/user/profile", "tok"); w.Code != http.StatusOK {
			t.Fatalf("プロフィール取得のステータスコード = %d", w.Code)
		}

		w := env.do(http.MethodPost, "/api/user/feed", "tok")
		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d, body = %s", w.Code, w.Body.String())
		}
		if w.Body.String() != `{"items":[1,2,3]}` {
			t.Errorf("ボディ = %s", w.Body.String())
		}

		env.data.mu.Lock()
		defer env.data.mu.Unlock()
		if env.data.feedPerson != "p-42" {
			t.Errorf("personId = %q, want %q", env.data.feedPerson, "p-42")
		}
	})
}

// TestHealthAndMetrics はヘルスチェックとメトリクスを検証する。
func TestHealthAndMetrics(t *testing.T) {
	t.Parallel()

	t.Run("ヘルスチェックが200を返すこと", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t, false)
		w := env.do(http.MethodGet, "/health", "")

		if w.Code != http.StatusOK {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
		}
		if !strings.Contains(w.Body.String(), `"service":"bff"`) {
			t.Errorf("ボディ = %s", w.Body.String())
		}
	})

	t.Run("キャッシュを閉じた後のヘルスチェックは503を返すこと", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t, false)
		if err := env.cache.Close(); err != nil {
			t.Fatalf("キャッシュのクローズに失敗: %v", err)
		}
		w := env.do(http.MethodGet, "/health", "")

		if w.Code != http.StatusServiceUnavailable {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusServiceUnavailable)
		}
	})

	t.Run("メトリクスにトークン検証の件数が含まれること", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t, false)
		env.do(http.MethodGet, "/api/user/profile", "tok")
		w := env.do(http.MethodGet, "/metrics", "")

		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
		}
		for _, name := range []string{"bff_token_validations_total", "bff_http_requests_total"} {
			if !strings.Contains(w.Body.String(), name) {
				t.Errorf("メトリクス %s が含まれない", name)
			}
		}
	})
}

// TestServe はグレースフルシャットダウンを検証する。
func TestServe(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, false)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("リッスンに失敗: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- env.server.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/health")
	if err != nil {
		t.Fatalf("ヘルスチェックに失敗: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("ステータスコード = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("シャットダウンがタイムアウトした")
	}

	if err := env.cache.Ping(context.Background()); !errors.Is(err, cache.ErrUnavailable) {
		t.Errorf("シャットダウン後のPing = %v, want ErrUnavailable", err)
	}
}
