package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/catalog/internal/metrics"
)

// unmatchedRoute はルーティングされなかったリクエストのラベル。
// パスをそのままラベルにするとカーディナリティが発散するため固定値にする。
const unmatchedRoute = "unmatched"

// NewMetricsMiddleware はHTTPステータスとルートごとのレイテンシを記録するミドルウェアを返す。
// ルートはchiのルートパターン（例: /catalog/product/{id}/）で集計する。
func NewMetricsMiddleware(collector metrics.MetricsCollector) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := newStatusRecorder(w)

			next.ServeHTTP(rec, r)

			route := unmatchedRoute
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if pattern := rctx.RoutePattern(); pattern != "" {
					route = pattern
				}
			}

			collector.RecordHTTPStatus(rec.statusCode)
			collector.RecordRequestLatency(route, time.Since(start))
		})
	}
}
