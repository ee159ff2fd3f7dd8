package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/catalog/internal/metrics"
	"github.com/hitoshi/catalog/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	Sessions          middleware.SessionStore
	SessionConfig     middleware.SessionConfig
	CSRFConfig        middleware.CSRFConfig
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Metrics           metrics.MetricsCollector
	MetricsHandler    http.Handler
	// MaxUploadSize は更新操作のリクエスト本文の上限（バイト）。
	MaxUploadSize int64

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// カタログ
	CatalogService CatalogServiceInterface
	RecentLimit    int

	// 画像配信とヘルスチェック
	Pictures PictureOpener
	DB       Pinger
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → Logging → Metrics → CORS → Session
//
// 更新操作にはさらに RequireLogin → RateLimit(Write) → BodyLimit → CSRF を適用する。
// /health と /metrics はセッションを発行しないようSessionの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	collector := deps.Metrics
	if collector == nil {
		collector = metrics.Nop{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewMetricsMiddleware(collector))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	r.Get("/health", NewHealthHandler(deps.DB))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}
	r.Get("/uploads/{name}", NewUploadsHandler(deps.Pictures))

	authConfig := deps.AuthConfig
	authConfig.Session = deps.SessionConfig
	authHandler := NewAuthHandler(deps.AuthService, authConfig)
	catalogHandler := NewCatalogHandler(deps.CatalogService, deps.RecentLimit)
	csrf := middleware.NewCSRFMiddleware(deps.CSRFConfig)

	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.Sessions, deps.SessionConfig))

		r.Get("/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig).ServeHTTP)

		// --- 認証 ---
		r.Group(func(r chi.Router) {
			r.Use(deps.RateLimiter.LoginMiddleware())
			r.Get("/login", authHandler.Login)
			r.Get("/auth/google/login", authHandler.LoginRedirect)
			r.Get("/auth/google/callback", authHandler.Callback)
			// stateで保護されるためCSRFトークンは要求しない
			r.With(middleware.NewBodyLimitMiddleware(maxOneTimeCodeSize)).Post("/gconnect", authHandler.Connect)
		})
		r.With(csrf).Post("/logout", authHandler.Logout)
		r.Get("/auth/me", authHandler.Me)

		// --- 閲覧（ログイン不要） ---
		r.Get("/", catalogHandler.Home)
		r.Get("/catalog/", catalogHandler.Home)
		r.Get("/catalog/category/{id}/", catalogHandler.Category)
		r.Get("/catalog/product/{id}/", catalogHandler.Product)

		// --- JSONエクスポート ---
		r.Get("/catalog.json/", catalogHandler.CatalogJSON)
		r.Get("/catalog/category.json/{id}/", catalogHandler.CategoryJSON)
		r.Get("/catalog/product.json/{id}/", catalogHandler.ProductJSON)

		// --- 更新操作 ---
		r.Group(func(r chi.Router) {
			r.Use(middleware.NewRequireLoginMiddleware())
			r.Use(deps.RateLimiter.WriteMiddleware())
			if deps.MaxUploadSize > 0 {
				r.Use(middleware.NewBodyLimitMiddleware(deps.MaxUploadSize))
			}
			r.Use(csrf)

			r.Post("/catalog/category/new/", catalogHandler.CreateCategory)
			r.Post("/catalog/category/{id}/edit/", catalogHandler.RenameCategory)
			r.Post("/catalog/category/{id}/delete/", catalogHandler.DeleteCategory)
			r.Post("/catalog/category/{id}/product/new/", catalogHandler.CreateProductInCategory)
			r.Post("/catalog/product/new/", catalogHandler.CreateProduct)
			r.Post("/catalog/product/{id}/edit/", catalogHandler.UpdateProduct)
			r.Post("/catalog/product/{id}/delete/", catalogHandler.DeleteProduct)
		})
	})

	return r
}
