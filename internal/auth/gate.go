package auth

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nao1215/bff/internal/logger"
)

// DefaultTokenHeader はトークンを運ぶリクエストヘッダーのデフォルト名。
const DefaultTokenHeader = "token"

// MessageTokenNotFound はトークンがない場合のレスポンスボディ。既存クライアントが文字列一致で判定している。
const MessageTokenNotFound = "Token not found"

// TokenValidator はトークンを検証してRecordを返す。
type TokenValidator interface {
	Validate(ctx context.Context, token string) (*Record, error)
}

// GateOptions はGateの設定。
type GateOptions struct {
	// Header はトークンを読み取るヘッダー名。空の場合はDefaultTokenHeader。
	Header string
	// StrictStatus が false の場合は既存クライアント互換のステータスを返す
	// （トークンなしは500、期限切れは200）。true の場合は401/502/503を返す。
	StrictStatus bool
}

// Gate はトークンを検証するGinミドルウェアを返す。
// 検証に成功した場合、RecordをリクエストのコンテキストとGinコンテキストに設定する。
func Gate(v TokenValidator, opts GateOptions) gin.HandlerFunc {
	header := opts.Header
	if header == "" {
		header = DefaultTokenHeader
	}

	return func(c *gin.Context) {
		token := c.GetHeader(header)
		if token == "" {
			RespondMissingToken(c, opts.StrictStatus)
			return
		}

		ctx := c.Request.Context()
		rec, err := v.Validate(ctx, token)
		if err != nil {
			respondError(c, err, opts.StrictStatus)
			return
		}

		c.Request = c.Request.WithContext(WithRecord(ctx, rec))
		c.Set(ginKeyRecord, rec)
		c.Next()
	}
}

// RespondMissingToken はトークンがない場合のレスポンスを返して処理を中断する。
// ログアウト等、Gateを通らないハンドラでも同じ応答にするために公開している。
func RespondMissingToken(c *gin.Context, strict bool) {
	status := http.StatusInternalServerError
	if strict {
		status = http.StatusUnauthorized
	}
	c.String(status, MessageTokenNotFound)
	c.Abort()
}

// respondError は検証エラーをレスポンスに変換する。
func respondError(c *gin.Context, err error, strict bool) {
	var expired *ExpiredError
	if errors.As(err, &expired) {
		status := http.StatusOK
		if strict {
			status = http.StatusUnauthorized
		}
		c.AbortWithStatusJSON(status, gin.H{
			"status": "ERROR",
			"error":  expired.Detail,
		})
		return
	}

	logger.From(c.Request.Context()).Error("トークン検証エラー",
		zap.String("kind", Kind(err)),
		zap.Error(err),
	)
	c.AbortWithStatusJSON(errorStatus(err, strict), gin.H{
		"error":   Kind(err),
		"message": err.Error(),
	})
}

// errorStatus はエラー種別に応じたステータスコードを返す。
func errorStatus(err error, strict bool) int {
	if !strict {
		return http.StatusInternalServerError
	}
	switch {
	case errors.Is(err, ErrMissingToken):
		return http.StatusUnauthorized
	case errors.Is(err, ErrCacheUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrUpstreamUnavailable), errors.Is(err, ErrMalformedUpstreamResponse):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
