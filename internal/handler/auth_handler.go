package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/catalog/internal/auth"
	"github.com/hitoshi/catalog/internal/middleware"
	"github.com/hitoshi/catalog/internal/model"
)

// maxOneTimeCodeSize はポップアップ型ログインで受け取る認可コードの上限サイズ。
const maxOneTimeCodeSize = 4 << 10

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	BeginLogin(ctx context.Context, session *model.AuthSession) (*auth.LoginStart, error)
	CompleteLogin(ctx context.Context, session *model.AuthSession, receivedState, code, redirectURI string) (*auth.LoginResult, error)
	Logout(ctx context.Context, session *model.AuthSession) (*auth.LogoutResult, error)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	// BaseURL はリダイレクト型ログインの完了後・ログアウト後の遷移先。
	BaseURL string
	// Session は再発行したセッションIDのCookie設定。
	Session middleware.SessionConfig
}

// AuthHandler はOAuth認証関連のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	config  AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		service: service,
		config:  config,
	}
}

type loginResponse struct {
	Status   string `json:"status"`
	Message  string `json:"message,omitempty"`
	State    string `json:"state,omitempty"`
	LoginURL string `json:"login_url,omitempty"`
}

type meResponse struct {
	LoggedIn       bool   `json:"logged_in"`
	Username       string `json:"username,omitempty"`
	ProviderUserID string `json:"provider_user_id,omitempty"`
}

// Login はstateを発行してログインURLを返す（ポップアップ型ログイン用）。
// GET /login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	start, err := h.service.BeginLogin(r.Context(), middleware.SessionFromContext(r.Context()))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if start.AlreadyLoggedIn {
		writeJSON(w, http.StatusOK, loginResponse{Status: middleware.FlashSuccess, Message: start.Message})
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{
		Status:   middleware.FlashSuccess,
		State:    start.State,
		LoginURL: start.LoginURL,
	})
}

// LoginRedirect はGoogle OAuthフローを開始し、認証画面へリダイレクトする。
// GET /auth/google/login
func (h *AuthHandler) LoginRedirect(w http.ResponseWriter, r *http.Request) {
	start, err := h.service.BeginLogin(r.Context(), middleware.SessionFromContext(r.Context()))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if start.AlreadyLoggedIn {
		http.Redirect(w, r, h.config.BaseURL, http.StatusSeeOther)
		return
	}
	http.Redirect(w, r, start.LoginURL, http.StatusTemporaryRedirect)
}

// Callback はリダイレクト型ログインのコールバックを処理する。
// GET /auth/google/callback?state=xxx&code=yyy
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if providerErr := q.Get("error"); providerErr != "" {
		slog.Warn("oauth provider returned error", slog.String("error", providerErr))
	}

	session := middleware.SessionFromContext(r.Context())
	_, err := h.service.CompleteLogin(r.Context(), session, q.Get("state"), q.Get("code"), "")
	if err != nil {
		handleServiceError(w, err)
		return
	}
	middleware.SetSessionCookie(w, session, h.config.Session)
	http.Redirect(w, r, h.config.BaseURL, http.StatusSeeOther)
}

// Connect はポップアップ型ログインを完了する。本文はワンタイム認可コード。
// POST /gconnect?state=xxx
func (h *AuthHandler) Connect(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxOneTimeCodeSize))
	if err != nil {
		middleware.WriteFlash(w, http.StatusBadRequest, middleware.FlashWarning, "Invalid request body")
		return
	}

	session := middleware.SessionFromContext(r.Context())
	result, err := h.service.CompleteLogin(
		r.Context(),
		session,
		r.URL.Query().Get("state"),
		strings.TrimSpace(string(body)),
		auth.PopupRedirectURI,
	)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	middleware.SetSessionCookie(w, session, h.config.Session)
	middleware.WriteFlash(w, http.StatusOK, middleware.FlashSuccess, result.Message)
}

// Logout はトークンを失効させてセッションを匿名状態に戻す。
// POST /logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	session := middleware.SessionFromContext(r.Context())
	result, err := h.service.Logout(r.Context(), session)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if result.WasLoggedIn {
		middleware.SetSessionCookie(w, session, h.config.Session)
	}

	level := middleware.FlashSuccess
	if !result.WasLoggedIn {
		level = middleware.FlashWarning
	}
	middleware.WriteFlash(w, http.StatusOK, level, result.Message)
}

// Me は現在のログイン状態を返す。
// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	session := middleware.SessionFromContext(r.Context())
	if !session.IsAuthenticated() {
		writeJSON(w, http.StatusOK, meResponse{})
		return
	}
	writeJSON(w, http.StatusOK, meResponse{
		LoggedIn:       true,
		Username:       session.Username,
		ProviderUserID: session.ProviderUserID,
	})
}
