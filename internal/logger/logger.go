// Package logger はzapによる構造化ロガーを提供する。
//
// main で Init を一度呼び出し、以降は L() または From(ctx) で取得する。
// リクエスト単位のロガーはミドルウェアがコンテキストに設定する。
package logger

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config はロガーの設定。
type Config struct {
	// Env は "dev"（色付きコンソール）または "prod"（JSON）。
	Env string
	// Level は最小ログレベル（debug, info, warn, error）。
	Level string
	// ServiceName はすべてのログに付与するサービス名。
	ServiceName string
}

var (
	once     sync.Once
	instance *zap.Logger
)

// Init はロガーを初期化する。2回目以降の呼び出しは無視される。
func Init(cfg Config) {
	once.Do(func() {
		instance = build(cfg)
	})
}

// L は初期化済みのロガーを返す。未初期化の場合は開発用設定で初期化する。
func L() *zap.Logger {
	Init(Config{Env: "dev", Level: "info"})
	return instance
}

// Sync はバッファされたログを書き出す。
func Sync() error {
	if instance == nil {
		return nil
	}
	return instance.Sync()
}

type ctxKey struct{}

// ToContext はリクエスト単位のロガーをコンテキストに設定する。
func ToContext(ctx context.Context, l *zap.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// From はコンテキストからロガーを取り出す。設定されていなければ L() を返す。
func From(ctx context.Context) *zap.Logger {
	if ctx != nil {
		if l, ok := ctx.Value(ctxKey{}).(*zap.Logger); ok {
			return l
		}
	}
	return L()
}

func build(cfg Config) *zap.Logger {
	var zcfg zap.Config
	if strings.EqualFold(cfg.Env, "prod") {
		zcfg = zap.NewProductionConfig()
		zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		zcfg = zap.NewDevelopmentConfig()
		zcfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zcfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
		zcfg.DisableStacktrace = true
	}
	zcfg.Level = zap.NewAtomicLevelAt(ParseLevel(cfg.Level))
	zcfg.EncoderConfig.EncodeCaller = zapcore.ShortCallerEncoder

	l, err := zcfg.Build()
	if err != nil {
		l = zap.NewNop()
	}
	if cfg.ServiceName != "" {
		l = l.With(zap.String("service", cfg.ServiceName))
	}
	return l
}

// ParseLevel はレベル文字列をzapcore.Levelに変換する。不明な値はinfoになる。
func ParseLevel(lvl string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(lvl)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
