package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nao1215/bff/internal/logger"
	"github.com/nao1215/bff/internal/metrics"
	"github.com/nao1215/bff/internal/provider"
	"github.com/nao1215/bff/pkg/cache"
)

// Provider はトークン検証とプロフィール取得を行う上流のOAuthプロバイダー。
type Provider interface {
	Introspect(ctx context.Context, token string) (*provider.Introspection, error)
	Profile(ctx context.Context, token string) (*provider.Profile, error)
}

// Validator はキャッシュとプロバイダーを使ってトークンを検証する。
// 同じトークンの並行検証は重複排除せず、それぞれが上流を呼び出してキャッシュに書き込む。
type Validator struct {
	cache    cache.Client
	provider Provider
	now      func() time.Time
}

// ValidatorOption はValidatorの生成オプション。
type ValidatorOption func(*Validator)

// WithClock はTTL計算に使う現在時刻の取得関数を差し替える。
func WithClock(now func() time.Time) ValidatorOption {
	return func(v *Validator) {
		v.now = now
	}
}

// NewValidator はValidatorを生成する。
func NewValidator(c cache.Client, p Provider, opts ...ValidatorOption) *Validator {
	v := &Validator{
		cache:    c,
		provider: p,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate はトークンを検証してIdentity Recordを返す。
//
// キャッシュにあればそのまま返し、なければプロバイダーの2つのAPIを並行に呼び出して結果をマージする。
// プロバイダーがコード190を返した場合は*ExpiredErrorを返し、キャッシュ済みのRecordは削除する。
// 新たに取得したRecordは有効期限までのTTLでキャッシュに書き込む。
func (v *Validator) Validate(ctx context.Context, token string) (rec *Record, err error) {
	defer func() {
		metrics.ValidationsTotal.WithLabelValues(outcome(rec, err)).Inc()
	}()

	if token == "" {
		return nil, ErrMissingToken
	}
	log := logger.From(ctx)

	rec, err = v.lookup(ctx, token)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		if rec, err = v.fetch(ctx, token); err != nil {
			return nil, err
		}
	}

	if rec.Expired() {
		if rec.Cached {
			if err := v.cache.Delete(ctx, token); err != nil {
				log.Warn("期限切れトークンのキャッシュ削除に失敗", zap.Error(err))
			}
		}
		return nil, &ExpiredError{Detail: *rec.Error}
	}

	if !rec.Cached {
		v.store(ctx, token, rec)
	}
	return rec, nil
}

// lookup はキャッシュからRecordを取得する。見つからなければnilを返す。
// デコードできないエントリはキャッシュミスとして扱い、取得し直した値で上書きする。
func (v *Validator) lookup(ctx context.Context, token string) (*Record, error) {
	rec, found, err := cache.GetJSON[Record](ctx, v.cache, token)
	switch {
	case errors.Is(err, cache.ErrCorrupt):
		logger.From(ctx).Warn("キャッシュのRecordを破棄", zap.Error(err))
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("%w: %w", ErrCacheUnavailable, err)
	case !found:
		return nil, nil
	}
	rec.Cached = true
	return &rec, nil
}

// fetch はトークン検証とプロフィール取得を並行に実行してマージする。
// どちらかが失敗した場合はもう一方もキャンセルし、検証全体を失敗させる。
func (v *Validator) fetch(ctx context.Context, token string) (*Record, error) {
	var (
		in *provider.Introspection
		pr *provider.Profile
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		in, err = v.provider.Introspect(gctx, token)
		return err
	})
	g.Go(func() error {
		var err error
		pr, err = v.provider.Profile(gctx, token)
		return err
	})
	if err := g.Wait(); err != nil {
		if errors.Is(err, provider.ErrMalformed) {
			return nil, fmt.Errorf("%w: %w", ErrMalformedUpstreamResponse, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
	}
	if in == nil || pr == nil {
		return nil, ErrMalformedUpstreamResponse
	}
	return merge(in, pr), nil
}

// merge は2つのレスポンスを1つのRecordにまとめる。
// ユーザー情報はプロフィールを優先し、有効期限とエラーはトークン検証の結果を使う。
func merge(in *provider.Introspection, pr *provider.Profile) *Record {
	rec := &Record{
		ID:        in.UserID,
		ExpiresAt: in.ExpiresAt,
		Email:     pr.Email,
		Name:      pr.Name,
		Picture:   string(pr.Picture),
	}
	if pr.ID != "" {
		rec.ID = pr.ID
	}

	switch {
	case in.Error != nil:
		rec.Error = &ProviderError{Code: in.Error.Code, Message: in.Error.Message}
	case pr.Error != nil:
		rec.Error = &ProviderError{Code: pr.Error.Code, Message: pr.Error.Message}
	}
	return rec
}

// store はRecordを有効期限までのTTLでキャッシュに書き込む。
// TTLが0以下（期限切れ・無期限トークン）の場合は書き込まない。
// 書き込みの失敗は検証結果に影響させずログに残す。
func (v *Validator) store(ctx context.Context, token string, rec *Record) {
	log := logger.From(ctx)

	ttl := time.Duration(rec.ExpiresAt-v.now().Unix()) * time.Second
	if ttl <= 0 {
		log.Debug("有効期限が過ぎているためキャッシュしない", zap.Int64("expires_at", rec.ExpiresAt))
		return
	}

	cached := *rec
	cached.Cached = true
	if err := cache.SetJSON(ctx, v.cache, token, &cached, ttl); err != nil {
		log.Warn("トークンのキャッシュ書き込みに失敗", zap.Error(err))
		return
	}
	log.Debug("トークンをキャッシュに書き込み", zap.Duration("ttl", ttl))
}

// outcome はメトリクス用に検証結果を分類する。
func outcome(rec *Record, err error) string {
	switch {
	case err != nil:
		return Kind(err)
	case rec.Cached:
		return "cache_hit"
	default:
		return "fetched"
	}
}
