package middleware

import "net/http"

// NewBodyLimitMiddleware はリクエスト本文をmaxBytesに制限するミドルウェアを返す。
// 超過時の読み取りは*http.MaxBytesErrorで失敗する。
func NewBodyLimitMiddleware(maxBytes int64) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}
