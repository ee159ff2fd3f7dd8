// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/catalog/internal/auth"
	"github.com/hitoshi/catalog/internal/model"
)

// SessionCookieName はセッションIDを保持するCookieの名前。
const SessionCookieName = "session_id"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// sessionContextKey はリクエストコンテキストにAuthSessionを格納するためのキー。
var sessionContextKey = contextKey("auth_session")

// SessionStore はセッションの読み込みと発行に必要なインターフェース。
// repository.SessionRepositoryの部分集合として定義する。
type SessionStore interface {
	Create(ctx context.Context, session *model.AuthSession) error
	FindByID(ctx context.Context, id string) (*model.AuthSession, error)
}

// SessionConfig はセッションミドルウェアの設定。
type SessionConfig struct {
	MaxAge       time.Duration
	CookieSecure bool
	CookieDomain string
}

// NewSessionMiddleware はCookieのセッションIDからAuthSessionを読み込み、
// リクエストコンテキストに注入するミドルウェアを返す。
// Cookieがない、またはセッションが存在しない・期限切れの場合は匿名セッションを新規発行する。
// 未ログインでも拒否はしない（更新操作の保護はRequireLoginで行う）。
func NewSessionMiddleware(store SessionStore, config SessionConfig) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			session, err := loadSession(r, store)
			if err != nil {
				slog.Error("failed to find session", slog.String("error", err.Error()))
				WriteInternalServerError(w)
				return
			}

			if session == nil {
				session, err = auth.NewSession(config.MaxAge)
				if err == nil {
					err = store.Create(r.Context(), session)
				}
				if err != nil {
					slog.Error("failed to create session", slog.String("error", err.Error()))
					WriteInternalServerError(w)
					return
				}
				SetSessionCookie(w, session, config)
			}

			annotateSession(r.Context(), session)
			next.ServeHTTP(w, r.WithContext(ContextWithSession(r.Context(), session)))
		})
	}
}

func loadSession(r *http.Request, store SessionStore) (*model.AuthSession, error) {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil || cookie.Value == "" {
		return nil, nil
	}
	return store.FindByID(r.Context(), cookie.Value)
}

// SetSessionCookie はセッションCookieを設定する。ログイン・ログアウトでIDを再発行した際にも使う。
// OAuthプロバイダーからのリダイレクトでも送信されるようSameSite=Laxとする。
func SetSessionCookie(w http.ResponseWriter, session *model.AuthSession, config SessionConfig) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    session.ID,
		Path:     "/",
		Domain:   config.CookieDomain,
		MaxAge:   int(config.MaxAge.Seconds()),
		HttpOnly: true,
		Secure:   config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// NewRequireLoginMiddleware は未ログインのリクエストを401で拒否するミドルウェアを返す。
// NewSessionMiddlewareの後に配置する。
func NewRequireLoginMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !SessionFromContext(r.Context()).IsAuthenticated() {
				WriteFlash(w, http.StatusUnauthorized, FlashWarning, model.NewLoginRequiredError().Message)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// SessionFromContext はリクエストコンテキストからAuthSessionを取得する。
// セッションミドルウェアを通過していない場合はnilを返す。
func SessionFromContext(ctx context.Context) *model.AuthSession {
	session, _ := ctx.Value(sessionContextKey).(*model.AuthSession)
	return session
}

// ContextWithSession はコンテキストにAuthSessionを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithSession(ctx context.Context, session *model.AuthSession) context.Context {
	return context.WithValue(ctx, sessionContextKey, session)
}
