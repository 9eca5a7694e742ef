// Package config はBFFの設定を読み込む。
//
// 優先順位はデフォルト値 < YAMLファイル（BFF_CONFIG）< 環境変数（.envを含む）。
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/nao1215/bff/pkg/cache"
)

// Config はBFF全体の設定。
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Log         LogConfig         `yaml:"log"`
	Cache       cache.Config      `yaml:"cache"`
	Provider    ProviderConfig    `yaml:"provider"`
	DataService DataServiceConfig `yaml:"data_service"`
}

// ServerConfig はHTTPサーバーの設定。
type ServerConfig struct {
	// Port はリッスンポート。
	Port string `yaml:"port"`
	// FrontendURL はCORSで許可するフロントエンドのオリジン。
	FrontendURL string `yaml:"frontend_url"`
	// TokenHeader はベアラートークンを運ぶリクエストヘッダー名。
	TokenHeader string `yaml:"token_header"`
	// StrictStatus が true の場合、認証エラーに401等の一般的なステータスコードを使う。
	// false の場合は既存クライアント互換の500/200を返す。
	StrictStatus bool `yaml:"strict_status"`
	// ShutdownTimeout はグレースフルシャットダウンの待ち時間。
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LogConfig はロガーの設定。
type LogConfig struct {
	Env   string `yaml:"env"`
	Level string `yaml:"level"`
}

// ProviderConfig はOAuthプロバイダー（Graph API）の設定。
type ProviderConfig struct {
	// GraphURL はGraph APIのベースURL。
	GraphURL string `yaml:"graph_url"`
	// AppToken は "appID|secret" 形式のアプリアクセストークン。
	// 空の場合はAppID/AppSecretでclient credentialsグラントを使う。
	AppToken  string `yaml:"app_token"`
	AppID     string `yaml:"app_id"`
	AppSecret string `yaml:"app_secret"`
	// TokenURL はclient credentialsグラントのトークンエンドポイント。
	TokenURL string `yaml:"token_url"`
	// ProfileFields はプロフィール取得時に要求するフィールド。
	ProfileFields []string `yaml:"profile_fields"`
	// Timeout はプロバイダー呼び出し1回あたりのタイムアウト。
	Timeout time.Duration `yaml:"timeout"`
}

// DataServiceConfig は上流データサービスの設定。
type DataServiceConfig struct {
	// BaseURL はデータサービスのAPIベースURL（例: http://localhost:5000/api）。
	BaseURL string `yaml:"base_url"`
	// Timeout はデータサービス呼び出し1回あたりのタイムアウト。
	Timeout time.Duration `yaml:"timeout"`
	// UserCacheTTL はメールアドレスをキーにしたユーザー情報のキャッシュ期間。0は無期限。
	UserCacheTTL time.Duration `yaml:"user_cache_ttl"`
	// ServiceSecret はデータサービスに送るサービスJWTの署名鍵。空の場合は送らない。
	ServiceSecret string `yaml:"service_secret"`
	// ServiceTokenTTL はサービスJWTの有効期間。
	ServiceTokenTTL time.Duration `yaml:"service_token_ttl"`
}

// Default はデフォルト値を設定したConfigを返す。
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:            "8080",
			FrontendURL:     "http://localhost:3000",
			TokenHeader:     "token",
			ShutdownTimeout: 10 * time.Second,
		},
		Log: LogConfig{Env: "dev", Level: "info"},
		Cache: cache.Config{
			Driver:  cache.DriverMemory,
			Timeout: cache.DefaultTimeout,
		},
		Provider: ProviderConfig{
			GraphURL:      "https://graph.facebook.com",
			TokenURL:      "https://graph.facebook.com/oauth/access_token",
			ProfileFields: []string{"name", "email", "picture"},
			Timeout:       5 * time.Second,
		},
		DataService: DataServiceConfig{
			BaseURL:         "http://localhost:5000/api",
			Timeout:         5 * time.Second,
			UserCacheTTL:    time.Hour,
			ServiceTokenTTL: 5 * time.Minute,
		},
	}
}

// Load は設定を読み込んで検証する。
// BFF_CONFIG が設定されていればYAMLファイルを読み、カレントディレクトリの.envがあれば環境変数に取り込む。
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf(".envの読み込みに失敗: %w", err)
	}
	return LoadFrom(os.Getenv("BFF_CONFIG"), os.LookupEnv)
}

// LoadFrom はYAMLファイルと環境変数の参照関数から設定を組み立てる。
// pathが空の場合はYAMLを読まない。
func LoadFrom(path string, lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("設定ファイルの読み込みに失敗: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("設定ファイルのパースに失敗: %w", err)
		}
	}

	if err := applyEnv(&cfg, lookup); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate は必須項目と値の範囲を検証する。
func (c Config) Validate() error {
	var errs []error
	if c.Server.Port == "" {
		errs = append(errs, errors.New("server.port は必須です"))
	}
	if c.Server.TokenHeader == "" {
		errs = append(errs, errors.New("server.token_header は必須です"))
	}
	if c.Provider.GraphURL == "" {
		errs = append(errs, errors.New("provider.graph_url は必須です"))
	}
	if c.Provider.AppToken == "" && (c.Provider.AppID == "" || c.Provider.AppSecret == "") {
		errs = append(errs, errors.New("provider.app_token または provider.app_id/app_secret が必要です"))
	}
	if len(c.Provider.ProfileFields) == 0 {
		errs = append(errs, errors.New("provider.profile_fields は1つ以上必要です"))
	}
	if c.DataService.BaseURL == "" {
		errs = append(errs, errors.New("data_service.base_url は必須です"))
	}
	if c.Cache.Driver == cache.DriverMemcache && len(c.Cache.Servers) == 0 {
		errs = append(errs, errors.New("cache.servers はmemcacheドライバーで必須です"))
	}
	if c.Cache.Driver == cache.DriverRedis && c.Cache.RedisAddr == "" {
		errs = append(errs, errors.New("cache.redis_addr はredisドライバーで必須です"))
	}
	return errors.Join(errs...)
}

// applyEnv は環境変数の値で設定を上書きする。
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	env := envReader{lookup: lookup}

	env.str("PORT", &cfg.Server.Port)
	env.str("FRONTEND_URL", &cfg.Server.FrontendURL)
	env.str("TOKEN_HEADER", &cfg.Server.TokenHeader)
	env.boolean("BFF_STRICT_STATUS", &cfg.Server.StrictStatus)
	env.duration("SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)

	env.str("APP_ENV", &cfg.Log.Env)
	env.str("LOG_LEVEL", &cfg.Log.Level)

	var driver string
	if env.str("CACHE_DRIVER", &driver) {
		cfg.Cache.Driver = cache.Driver(driver)
	}
	// MemCachierアドオンが設定するMEMCACHIER_SERVERSも受け付ける
	env.list("MEMCACHIER_SERVERS", &cfg.Cache.Servers)
	env.list("MEMCACHE_SERVERS", &cfg.Cache.Servers)
	env.str("REDIS_ADDR", &cfg.Cache.RedisAddr)
	env.str("REDIS_PASSWORD", &cfg.Cache.RedisPassword)
	env.integer("REDIS_DB", &cfg.Cache.RedisDB)
	env.str("CACHE_PREFIX", &cfg.Cache.Prefix)
	env.duration("CACHE_TIMEOUT", &cfg.Cache.Timeout)

	env.str("GRAPH_API_URL", &cfg.Provider.GraphURL)
	env.str("PROVIDER_APP_TOKEN", &cfg.Provider.AppToken)
	env.str("PROVIDER_APP_ID", &cfg.Provider.AppID)
	env.str("PROVIDER_APP_SECRET", &cfg.Provider.AppSecret)
	env.str("PROVIDER_TOKEN_URL", &cfg.Provider.TokenURL)
	env.list("PROFILE_FIELDS", &cfg.Provider.ProfileFields)
	env.duration("PROVIDER_TIMEOUT", &cfg.Provider.Timeout)

	env.str("DATA_SERVICE_URL", &cfg.DataService.BaseURL)
	env.duration("DATA_SERVICE_TIMEOUT", &cfg.DataService.Timeout)
	env.duration("USER_CACHE_TTL", &cfg.DataService.UserCacheTTL)
	env.str("SERVICE_JWT_SECRET", &cfg.DataService.ServiceSecret)
	env.duration("SERVICE_TOKEN_TTL", &cfg.DataService.ServiceTokenTTL)

	return errors.Join(env.errs...)
}

// envReader は環境変数を型付きで読み出し、パースエラーを蓄積する。
type envReader struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (e *envReader) get(key string) (string, bool) {
	v, ok := e.lookup(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (e *envReader) str(key string, dst *string) bool {
	v, ok := e.get(key)
	if ok {
		*dst = v
	}
	return ok
}

func (e *envReader) list(key string, dst *[]string) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	*dst = out
}

func (e *envReader) boolean(key string, dst *bool) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s の値が不正: %w", key, err))
		return
	}
	*dst = b
}

func (e *envReader) integer(key string, dst *int) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s の値が不正: %w", key, err))
		return
	}
	*dst = n
}

func (e *envReader) duration(key string, dst *time.Duration) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s の値が不正: %w", key, err))
		return
	}
	*dst = d
}
