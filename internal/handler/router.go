package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/boletin/internal/metrics"
	"github.com/hitoshi/boletin/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter

	// ヘルスチェック・メトリクス（nilの場合はそれぞれ省略）
	HealthChecker   HealthChecker
	MetricsGatherer prometheus.Gatherer

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// データ
	DataService DataServiceInterface
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → RealIP → Logging → SecurityHeaders → CORS
//
// アサーション受信（POST /auth/google/callback）はIDプロバイダーからの
// クロスサイトPOSTのため、CSRFミドルウェアの外に置きg_csrf_tokenで検証する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(chimw.RealIP)
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig)
	dataHandler := NewDataHandler(deps.DataService)
	csrfConfig := middleware.CSRFConfig{
		CookieSecure: deps.AuthConfig.CookieSecure,
		CookieDomain: deps.AuthConfig.CookieDomain,
	}

	// --- 認証不要のルート ---

	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.MetricsGatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.MetricsGatherer))
	}

	r.With(deps.RateLimiter.SignInMiddleware()).Post(callbackPath, authHandler.Callback)
	r.Method(http.MethodGet, "/auth/csrf-token", middleware.NewCSRFTokenHandler(csrfConfig))

	// --- ページ（CSRFトークンを発行・検証） ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewCSRFMiddleware(csrfConfig))

		r.Get("/login", authHandler.LoginPage)
		r.Post("/auth/logout", authHandler.Logout)

		r.With(middleware.NewPageSessionMiddleware(deps.AuthService, "/login")).
			Get("/", dataHandler.Dashboard)
	})

	// --- 認証が必要なAPI ---
	// ミドルウェアスタック: Session → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.AuthService))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Get("/auth/me", authHandler.Me)

		r.Route("/api", func(r chi.Router) {
			r.Get("/data", dataHandler.Data)
			r.Get("/automations", dataHandler.Automations)
			r.Get("/processes", dataHandler.Processes)
			r.Get("/image-links", dataHandler.ImageLinks)
		})
	})

	return r
}
