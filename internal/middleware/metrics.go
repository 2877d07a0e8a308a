package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// httpRequestsTotal 记录 HTTP 请求总数
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "objectstore_http_requests_total",
			Help: "Total number of HTTP requests handled by the object gateway",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "objectstore_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "route"},
	)

	// 对象大小跨度大，从 1KB 到 1GB
	httpTransferredBytes = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "objectstore_http_transferred_bytes",
			Help:    "Bytes received or sent per request",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 11),
		},
		[]string{"method", "route", "direction"},
	)

	inflightRequests = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "objectstore_http_inflight_requests",
		Help: "Number of HTTP requests currently being served",
	})
)

// Metrics 创建 Prometheus 指标收集中间件。
// 标签使用路由模式而非实际路径，避免对象 key 造成高基数。
func Metrics() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			inflightRequests.Inc()
			defer inflightRequests.Dec()

			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			route := routePattern(r)
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}

			httpRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
			httpRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
			httpTransferredBytes.WithLabelValues(r.Method, route, "out").Observe(float64(ww.BytesWritten()))
			if r.ContentLength > 0 {
				httpTransferredBytes.WithLabelValues(r.Method, route, "in").Observe(float64(r.ContentLength))
			}
		})
	}
}

func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return "unknown"
	}
	if pattern := rctx.RoutePattern(); pattern != "" {
		return pattern
	}
	return "unknown"
}
