// Package metrics はPrometheusメトリクスを定義し、/metrics用のハンドラを提供する。
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal はHTTPリクエスト数。
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bff_http_requests_total",
		Help: "処理したHTTPリクエスト数",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration はHTTPリクエストの処理時間。
	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bff_http_request_duration_seconds",
		Help:    "HTTPリクエストの処理時間",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	// ValidationsTotal はトークン検証の結果別の件数。
	ValidationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bff_token_validations_total",
		Help: "トークン検証の結果別件数",
	}, []string{"result"})

	// CacheOperationsTotal はキャッシュ操作の結果別の件数。
	CacheOperationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bff_cache_operations_total",
		Help: "キャッシュ操作の結果別件数",
	}, []string{"op", "result"})

	// UpstreamRequestsTotal は上流サービス呼び出しの結果別の件数。
	UpstreamRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bff_upstream_requests_total",
		Help: "上流サービス呼び出しの結果別件数",
	}, []string{"service", "result"})
)

// collectors は登録対象のメトリクス一覧。
func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		HTTPRequestsTotal,
		HTTPRequestDuration,
		ValidationsTotal,
		CacheOperationsTotal,
		UpstreamRequestsTotal,
	}
}

// Register はメトリクスをレジストリに登録する。登録済みのメトリクスは無視する。
func Register(reg prometheus.Registerer) error {
	for _, c := range collectors() {
		if err := reg.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveUpstream は上流サービス呼び出しの結果を記録する。
func ObserveUpstream(service string, err error) {
	UpstreamRequestsTotal.WithLabelValues(service, result(err)).Inc()
}

// Handler は/metrics用のHTTPハンドラを返す。
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// HTTP はリクエスト数と処理時間を記録するGinミドルウェアを返す。
// パスにはルート定義（例: /api/user/profile）を使い、未定義のルートは "unmatched" にまとめる。
func HTTP() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		method := c.Request.Method
		HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(c.Writer.Status())).Inc()
		HTTPRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}
