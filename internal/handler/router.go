// Package handler はHTTP APIのハンドラーとルーティングを提供する。
package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/powderwatch/internal/metrics"
	"github.com/hitoshi/powderwatch/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger            *slog.Logger
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter

	SubscriptionService SubscriptionServiceInterface
	DB                  Pinger
	Gatherer            prometheus.Gatherer
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → RealIP → Recovery → Logging → SecurityHeaders → CORS → RateLimit(General)
//
// /health と /metrics はレート制限の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	var running RunningCounter
	if rc, ok := deps.SubscriptionService.(RunningCounter); ok {
		running = rc
	}
	health := NewHealthHandler(deps.DB, running)
	subHandler := NewSubscriptionHandler(deps.SubscriptionService)

	r.Get("/health", health.Health)
	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Gatherer))
	}

	r.Group(func(r chi.Router) {
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// フィード取得を伴う操作はセットアップ用の制限を追加
		setup := deps.RateLimiter.SetupMiddleware()

		r.With(setup).Get("/api/resorts", subHandler.ListResorts)

		r.Route("/api/subscriptions", func(r chi.Router) {
			r.Get("/", subHandler.ListSubscriptions)
			r.With(setup).Post("/", subHandler.CreateSubscription)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", subHandler.GetSubscription)
				r.Delete("/", subHandler.DeleteSubscription)
				r.Get("/entities", subHandler.ListEntities)
				r.Get("/stats", subHandler.GetStats)
				r.With(setup).Post("/refresh", subHandler.Refresh)
			})
		})
	})

	return r
}
