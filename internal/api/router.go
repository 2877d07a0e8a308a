package api

import (
	"net/http"

	"objectstore/internal/config"
	osmiddleware "objectstore/internal/middleware"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// NewRouter 构建 HTTP 路由，集中注册所有对外服务的端点。
func NewRouter(cfg *config.Config, objectHandler *ObjectHandler, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(osmiddleware.RequestLogger(logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(osmiddleware.CORS(cfg.CORSAllowedOrigins))
	r.Use(osmiddleware.Metrics())

	// 健康检查不需要鉴权
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Handle("/metrics", promhttp.Handler())

	if objectHandler != nil {
		r.Group(func(r chi.Router) {
			if cfg.AuthEnabled {
				r.Use(osmiddleware.APIKeyAuth(cfg.APIKeys))
			}
			// 放在鉴权之后，按 API Key 计数
			r.Use(osmiddleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))
			objectHandler.RegisterRoutes(r)
		})
	}

	return r
}
