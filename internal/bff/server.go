package bff

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/nao1215/bff/internal/auth"
	"github.com/nao1215/bff/internal/config"
	"github.com/nao1215/bff/internal/dataservice"
	"github.com/nao1215/bff/internal/logger"
	"github.com/nao1215/bff/internal/metrics"
	"github.com/nao1215/bff/pkg/cache"
	"github.com/nao1215/bff/pkg/middleware"
)

// DataService は上流データサービスへの問い合わせ。
type DataService interface {
	FindUser(ctx context.Context, email string) (dataservice.User, error)
	CreateUser(ctx context.Context, email, name string) (dataservice.User, error)
	CachedUser(ctx context.Context, email string) (dataservice.User, bool, error)
	LikedArtists(ctx context.Context, email string) (json.RawMessage, error)
	LikedHosts(ctx context.Context, email string) (json.RawMessage, error)
	Attending(ctx context.Context, email string) (json.RawMessage, error)
	Feed(ctx context.Context, personID string) (json.RawMessage, error)
}

// Deps はサーバーが利用するコンポーネント。
type Deps struct {
	// Cache はトークンとユーザー情報のキャッシュ。シャットダウン時にCloseされる。
	Cache cache.Client
	// Validator はトークン検証を行う。
	Validator auth.TokenValidator
	// Data は上流データサービスのクライアント。
	Data DataService
	// Registry は/metricsで公開するレジストリ。nilの場合は新たに作成する。
	Registry *prometheus.Registry
}

// Server はBFFのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// cfg はサーバー設定。
	cfg config.ServerConfig
	// cache はトークンキャッシュ。ログアウトとヘルスチェックで直接参照する。
	cache cache.Client
	// validator はGateが使うトークン検証器。
	validator auth.TokenValidator
	// data は上流データサービス。
	data DataService
	// registry はPrometheusレジストリ。
	registry *prometheus.Registry
}

// NewServer は新しいBFFサーバーを生成する。
func NewServer(cfg config.ServerConfig, deps Deps) (*Server, error) {
	if deps.Cache == nil || deps.Validator == nil || deps.Data == nil {
		return nil, errors.New("キャッシュ、トークン検証器、データサービスは必須です")
	}
	if cfg.TokenHeader == "" {
		cfg.TokenHeader = auth.DefaultTokenHeader
	}

	reg := deps.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	if err := metrics.Register(reg); err != nil {
		return nil, fmt.Errorf("メトリクスの登録に失敗: %w", err)
	}

	router := gin.New()
	router.Use(middleware.RequestID())
	router.Use(middleware.Recovery())
	router.Use(middleware.AccessLog())
	router.Use(metrics.HTTP())
	if cfg.FrontendURL != "" {
		router.Use(middleware.CORS([]string{cfg.FrontendURL}, cfg.TokenHeader))
	}

	s := &Server{
		router:    router,
		cfg:       cfg,
		cache:     deps.Cache,
		validator: deps.Validator,
		data:      deps.Data,
		registry:  reg,
	}
	s.setupRoutes()

	return s, nil
}

// Handler はサーバーのHTTPハンドラを返す。
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes() {
	api := s.router.Group("/api")

	// ログアウトはトークンの検証を行わずにキャッシュから削除する
	api.POST("/user/logout", s.handleLogout())

	gated := api.Group("")
	gated.Use(auth.Gate(s.validator, auth.GateOptions{
		Header:       s.cfg.TokenHeader,
		StrictStatus: s.cfg.StrictStatus,
	}))
	{
		gated.GET("/user/profile", s.handleProfile())
		gated.GET("/user/fullprofile", s.handleFullProfile())
		gated.POST("/user/feed", s.handleFeed())
	}

	s.router.GET("/health", s.handleHealth())
	s.router.GET("/metrics", gin.WrapH(metrics.Handler(s.registry)))
}

// Run はHTTPサーバーを起動し、ctxがキャンセルされるとグレースフルシャットダウンする。
// シャットダウン後にキャッシュを閉じる。
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", ":"+s.cfg.Port)
	if err != nil {
		return fmt.Errorf("ポート%sのリッスンに失敗: %w", s.cfg.Port, err)
	}
	return s.Serve(ctx, ln)
}

// Serve は指定したリスナーでHTTPサーバーを起動する。
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	log := logger.L()

	errCh := make(chan error, 1)
	go func() {
		log.Info("BFFサービスを起動します", zap.String("addr", ln.Addr().String()))
		errCh <- srv.Serve(ln)
	}()

	var serveErr error
	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = fmt.Errorf("HTTPサーバーが停止: %w", err)
		}
	case <-ctx.Done():
		log.Info("シャットダウンを開始します")
		timeout := s.cfg.ShutdownTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			serveErr = fmt.Errorf("グレースフルシャットダウンに失敗: %w", err)
		}
	}

	if err := s.cache.Close(); err != nil {
		log.Warn("キャッシュのクローズに失敗", zap.Error(err))
	}
	return serveErr
}
