package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nao1215/bff/internal/logger"
)

// HeaderRequestID はリクエストIDを運ぶHTTPヘッダー。
const HeaderRequestID = "X-Request-ID"

// maxRequestIDLength を超える受信したリクエストIDは採用せず新たに採番する。
const maxRequestIDLength = 128

// RequestID はリクエストIDを付与し、リクエスト単位のロガーをコンテキストに設定するGinミドルウェアを返す。
// 受信したX-Request-IDがあればそれを引き継ぐ。
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if id == "" || len(id) > maxRequestIDLength {
			id = uuid.NewString()
		}
		c.Header(HeaderRequestID, id)

		reqLog := logger.L().With(
			zap.String("request_id", id),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
		)
		c.Request = c.Request.WithContext(logger.ToContext(c.Request.Context(), reqLog))
		c.Next()
	}
}

// AccessLog はリクエストの完了をステータスと処理時間とともに記録するGinミドルウェアを返す。
// RequestIDの後に適用する。
func AccessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		fields := []zap.Field{
			zap.Int("status", status),
			zap.Int("bytes", c.Writer.Size()),
			zap.Duration("duration", time.Since(start)),
		}
		l := logger.From(c.Request.Context())
		switch {
		case status >= 500:
			l.Error("リクエスト完了", fields...)
		case status >= 400:
			l.Warn("リクエスト完了", fields...)
		default:
			l.Info("リクエスト完了", fields...)
		}
	}
}
