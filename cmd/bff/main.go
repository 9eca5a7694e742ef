// BFFサービスのエントリポイント。
// フロントエンドからのリクエストのトークンをOAuthプロバイダーで検証し、
// 検証結果をキャッシュした上で上流のデータサービスに問い合わせる。
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nao1215/bff/internal/auth"
	"github.com/nao1215/bff/internal/bff"
	"github.com/nao1215/bff/internal/config"
	"github.com/nao1215/bff/internal/dataservice"
	"github.com/nao1215/bff/internal/logger"
	"github.com/nao1215/bff/internal/metrics"
	"github.com/nao1215/bff/internal/provider"
	"github.com/nao1215/bff/pkg/cache"
	"github.com/nao1215/bff/pkg/servicetoken"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

// components は設定から組み立てたBFFの構成要素。
type components struct {
	cfg       config.Config
	cache     cache.Client
	validator *auth.Validator
}

// setup は設定を読み込み、ロガーとキャッシュ、トークン検証器を初期化する。
func setup(ctx context.Context) (*components, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger.Init(logger.Config{Env: cfg.Log.Env, Level: cfg.Log.Level, ServiceName: "bff"})

	c, err := cache.New(ctx, cfg.Cache)
	if err != nil {
		return nil, fmt.Errorf("キャッシュの初期化に失敗: %w", err)
	}
	c = metrics.InstrumentCache(c)

	prov := provider.New(provider.Config{
		GraphURL:      cfg.Provider.GraphURL,
		AppToken:      cfg.Provider.AppToken,
		AppID:         cfg.Provider.AppID,
		AppSecret:     cfg.Provider.AppSecret,
		TokenURL:      cfg.Provider.TokenURL,
		ProfileFields: cfg.Provider.ProfileFields,
		Timeout:       cfg.Provider.Timeout,
	})

	return &components{
		cfg:       cfg,
		cache:     c,
		validator: auth.NewValidator(c, prov),
	}, nil
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "bff",
		Short:         "トークン検証とキャッシュを行うBFFサービス",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(), newValidateCmd(), newLogoutCmd())
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "HTTPサーバーを起動する",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			app, err := setup(ctx)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			var issuer *servicetoken.Issuer
			if secret := app.cfg.DataService.ServiceSecret; secret != "" {
				issuer = servicetoken.NewIssuer(secret, app.cfg.DataService.ServiceTokenTTL)
			}
			ds := dataservice.New(dataservice.Config{
				BaseURL:       app.cfg.DataService.BaseURL,
				Timeout:       app.cfg.DataService.Timeout,
				UserCacheTTL:  app.cfg.DataService.UserCacheTTL,
				ServiceTokens: issuer,
			}, app.cache)

			server, err := bff.NewServer(app.cfg.Server, bff.Deps{
				Cache:     app.cache,
				Validator: app.validator,
				Data:      ds,
			})
			if err != nil {
				app.cache.Close()
				return fmt.Errorf("BFFサーバーの初期化に失敗: %w", err)
			}

			logger.L().Info("設定を読み込みました",
				zap.String("port", app.cfg.Server.Port),
				zap.String("cache_driver", string(app.cfg.Cache.Driver)),
				zap.Bool("strict_status", app.cfg.Server.StrictStatus),
			)
			return server.Run(ctx)
		},
	}
}

func newValidateCmd() *cobra.Command {
	var token string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "トークンを検証してIdentity Recordを表示する",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			app, err := setup(ctx)
			if err != nil {
				return err
			}
			defer app.cache.Close()

			rec, err := app.validator.Validate(ctx, token)
			var expired *auth.ExpiredError
			if errors.As(err, &expired) {
				return printJSON(cmd, map[string]any{"status": "ERROR", "error": expired.Detail})
			}
			if err != nil {
				return fmt.Errorf("%s: %w", auth.Kind(err), err)
			}
			return printJSON(cmd, rec)
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "検証するアクセストークン")
	_ = cmd.MarkFlagRequired("token")
	return cmd
}

func newLogoutCmd() *cobra.Command {
	var token string
	cmd := &cobra.Command{
		Use:   "logout",
		Short: "キャッシュからトークンを削除する",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			app, err := setup(ctx)
			if err != nil {
				return err
			}
			defer app.cache.Close()

			if err := app.cache.Delete(ctx, token); err != nil {
				return fmt.Errorf("キャッシュの削除に失敗: %w", err)
			}
			return printJSON(cmd, map[string]bool{"success": true})
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "削除するアクセストークン")
	_ = cmd.MarkFlagRequired("token")
	return cmd
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
