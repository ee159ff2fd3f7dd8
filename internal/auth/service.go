// Package auth はOAuthログインのハンドシェイクとセッション発行を提供する。
//
// セッションは Anonymous → AwaitingCallback（state発行済み）→ Authenticated と遷移し、
// ログアウトまたは失敗で Anonymous に戻る。
package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/catalog/internal/metrics"
	"github.com/hitoshi/catalog/internal/model"
)

// ハンドシェイクのメッセージ
const (
	MsgAlreadyLoggedIn   = "Already logged in"
	MsgAlreadyConnected  = "Current user is already connected."
	MsgNotLoggedIn       = "You are not logged in"
	MsgLoggedOut         = "Logged out"
	MsgExchangeFailed    = "Failed to upgrade the authorization code."
	MsgTokenInfoFailed   = "Failed to verify the access token."
	MsgUserIDMismatch    = "Token's user ID doesn't match given user ID."
	MsgClientIDMismatch  = "Token's client ID does not match app's."
	MsgUserInfoFailed    = "Failed to fetch the user profile."
	msgLoggedInAsPattern = "You are now logged in as %s"
)

// Token は認可コード交換の結果。
type Token struct {
	AccessToken string
	// Subject はid_tokenのsubクレーム（プロバイダー上のユーザーID）。
	Subject string
}

// TokenInfo はアクセストークンのイントロスペクション結果。
type TokenInfo struct {
	UserID   string
	IssuedTo string
	// Error はプロバイダーが返したエラー理由。正常時は空。
	Error string
}

// UserInfo はプロバイダーから取得したプロフィール。
type UserInfo struct {
	Name  string
	Email string
}

// Provider はOAuthプロバイダーのインターフェース。
type Provider interface {
	ClientID() string
	GetLoginURL(state string) string
	Exchange(ctx context.Context, code, redirectURI string) (*Token, error)
	TokenInfo(ctx context.Context, accessToken string) (*TokenInfo, error)
	UserInfo(ctx context.Context, accessToken string) (*UserInfo, error)
	Revoke(ctx context.Context, accessToken string) error
}

// SessionStore はセッションの永続化と再発行に必要な操作。
// repository.SessionRepositoryの部分集合として定義する。
type SessionStore interface {
	Create(ctx context.Context, s *model.AuthSession) error
	Save(ctx context.Context, s *model.AuthSession) error
	DeleteByID(ctx context.Context, id string) error
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	// ProviderTimeout はプロバイダー呼び出し1回あたりの上限時間。
	ProviderTimeout time.Duration
	// SessionTTL は再発行したセッションの有効期間。
	SessionTTL time.Duration
}

const defaultSessionTTL = 24 * time.Hour

// LoginStart はログイン開始の結果。
type LoginStart struct {
	// AlreadyLoggedIn がtrueの場合、StateとLoginURLは空。
	AlreadyLoggedIn bool
	State           string
	LoginURL        string
	Message         string
}

// LoginResult はログイン完了の結果。
type LoginResult struct {
	Username         string
	AlreadyConnected bool
	Message          string
}

// LogoutResult はログアウトの結果。
type LogoutResult struct {
	WasLoggedIn bool
	Message     string
}

// Service はログインハンドシェイクのビジネスロジックを提供する。
type Service struct {
	provider Provider
	sessions SessionStore
	config   ServiceConfig
	metrics  metrics.MetricsCollector
}

// NewService はServiceを生成する。
func NewService(provider Provider, sessions SessionStore, config ServiceConfig, collector metrics.MetricsCollector) *Service {
	if config.ProviderTimeout <= 0 {
		config.ProviderTimeout = defaultProviderTimeout
	}
	if config.SessionTTL <= 0 {
		config.SessionTTL = defaultSessionTTL
	}
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Service{
		provider: provider,
		sessions: sessions,
		config:   config,
		metrics:  collector,
	}
}

// BeginLogin はstateを発行してセッションに保存し、プロバイダーのログインURLを返す。
// ログイン済みの場合は何もしない。
func (s *Service) BeginLogin(ctx context.Context, session *model.AuthSession) (*LoginStart, error) {
	if session.IsAuthenticated() {
		return &LoginStart{AlreadyLoggedIn: true, Message: MsgAlreadyLoggedIn}, nil
	}

	state, err := generateToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate state: %w", err)
	}

	session.State = state
	if err := s.sessions.Save(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save state: %w", err)
	}

	return &LoginStart{State: state, LoginURL: s.provider.GetLoginURL(state)}, nil
}

// CompleteLogin はプロバイダーから戻ったstateと認可コードでログインを完了する。
//
// stateの照合はプロバイダー呼び出しより前に行い、一致したstateは即座に消費する。
// 新規ログインが成功するとセッションIDを再発行し、sessionのIDを書き換える。
// redirectURIは認可リクエスト時と同じ値を渡す（ポップアップ型ではPopupRedirectURI）。
func (s *Service) CompleteLogin(ctx context.Context, session *model.AuthSession, receivedState, code, redirectURI string) (*LoginResult, error) {
	if !stateMatches(session.State, receivedState) {
		s.metrics.RecordLogin(metrics.OutcomeRejected)
		slog.Warn("oauth state mismatch", slog.String("session_id", session.ID))
		return nil, model.NewInvalidStateError()
	}

	session.State = ""
	if err := s.sessions.Save(ctx, session); err != nil {
		s.metrics.RecordLogin(metrics.OutcomeError)
		return nil, fmt.Errorf("failed to consume state: %w", err)
	}

	result, err := s.completeWithProvider(ctx, session, code, redirectURI)
	if err != nil {
		if model.IsAPIErrorCode(err, model.ErrCodeUnauthorized) {
			s.metrics.RecordLogin(metrics.OutcomeRejected)
		} else {
			s.metrics.RecordLogin(metrics.OutcomeError)
		}
		return nil, err
	}

	s.metrics.RecordLogin(metrics.OutcomeSuccess)
	return result, nil
}

func (s *Service) completeWithProvider(ctx context.Context, session *model.AuthSession, code, redirectURI string) (*LoginResult, error) {
	exchangeCtx, cancel := context.WithTimeout(ctx, s.config.ProviderTimeout)
	token, err := s.provider.Exchange(exchangeCtx, code, redirectURI)
	cancel()
	if err != nil {
		slog.Warn("authorization code exchange failed", slog.String("error", err.Error()))
		return nil, model.NewUnauthorizedError(MsgExchangeFailed)
	}

	infoCtx, cancel := context.WithTimeout(ctx, s.config.ProviderTimeout)
	info, err := s.provider.TokenInfo(infoCtx, token.AccessToken)
	cancel()
	if err != nil {
		slog.Warn("token introspection failed", slog.String("error", err.Error()))
		return nil, model.NewUnauthorizedError(MsgTokenInfoFailed)
	}
	if info.Error != "" {
		return nil, model.NewUnauthorizedError(info.Error)
	}
	if info.UserID != token.Subject {
		return nil, model.NewUnauthorizedError(MsgUserIDMismatch)
	}
	if info.IssuedTo != s.provider.ClientID() {
		return nil, model.NewUnauthorizedError(MsgClientIDMismatch)
	}

	if session.IsAuthenticated() && session.ProviderUserID == token.Subject {
		return &LoginResult{
			Username:         session.Username,
			AlreadyConnected: true,
			Message:          MsgAlreadyConnected,
		}, nil
	}

	userCtx, cancel := context.WithTimeout(ctx, s.config.ProviderTimeout)
	profile, err := s.provider.UserInfo(userCtx, token.AccessToken)
	timedOut := errors.Is(userCtx.Err(), context.DeadlineExceeded)
	cancel()
	if err != nil {
		if timedOut || errors.Is(err, context.DeadlineExceeded) {
			slog.Warn("user info fetch timed out", slog.String("error", err.Error()))
			return nil, model.NewUnauthorizedError(MsgUserInfoFailed)
		}
		slog.Error("user info fetch failed", slog.String("error", err.Error()))
		return nil, model.NewUpstreamError(MsgUserInfoFailed)
	}

	username := strings.TrimSpace(profile.Name)
	if username == "" {
		username = profile.Email
	}

	// 別のユーザーとしての再ログインは新規ログインとして上書きする
	session.SetIdentity(token.AccessToken, token.Subject, username)
	if err := s.reissue(ctx, session); err != nil {
		session.Clear()
		return nil, err
	}

	slog.Info("user logged in",
		slog.String("session_id", session.ID),
		slog.String("provider_user_id", token.Subject),
	)
	return &LoginResult{
		Username: username,
		Message:  fmt.Sprintf(msgLoggedInAsPattern, username),
	}, nil
}

// Logout はトークンを失効させ、セッションを匿名状態に戻してIDを再発行する。
// 失効に失敗してもログアウトは完了させる。
func (s *Service) Logout(ctx context.Context, session *model.AuthSession) (*LogoutResult, error) {
	if !session.IsAuthenticated() {
		return &LogoutResult{Message: MsgNotLoggedIn}, nil
	}

	revokeCtx, cancel := context.WithTimeout(ctx, s.config.ProviderTimeout)
	if err := s.provider.Revoke(revokeCtx, session.AccessToken); err != nil {
		slog.Warn("failed to revoke token",
			slog.String("provider_user_id", session.ProviderUserID),
			slog.String("error", err.Error()),
		)
	}
	cancel()

	providerUserID := session.ProviderUserID
	session.Clear()
	if err := s.sessions.Save(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}
	if err := s.reissue(ctx, session); err != nil {
		return nil, err
	}

	slog.Info("user logged out",
		slog.String("session_id", session.ID),
		slog.String("provider_user_id", providerUserID),
	)
	return &LogoutResult{WasLoggedIn: true, Message: MsgLoggedOut}, nil
}

// reissue はsessionの内容を新しいIDで保存し、古いIDのセッションを削除する。
// 失敗した場合sessionのIDと期限は元に戻る。
func (s *Service) reissue(ctx context.Context, session *model.AuthSession) error {
	fresh, err := NewSession(s.config.SessionTTL)
	if err != nil {
		return err
	}

	old := *session
	session.ID = fresh.ID
	session.ExpiresAt = fresh.ExpiresAt
	session.CreatedAt = fresh.CreatedAt
	session.UpdatedAt = fresh.UpdatedAt
	if err := s.sessions.Create(ctx, session); err != nil {
		session.ID = old.ID
		session.ExpiresAt = old.ExpiresAt
		session.CreatedAt = old.CreatedAt
		session.UpdatedAt = old.UpdatedAt
		return fmt.Errorf("failed to reissue session: %w", err)
	}

	// 削除の失敗はログのみ
	if err := s.sessions.DeleteByID(ctx, old.ID); err != nil {
		slog.Warn("failed to delete previous session",
			slog.String("session_id", old.ID),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

// stateMatches は発行済みstateと受信したstateを定数時間で比較する。
// 未発行（空）のstateは常に不一致。
func stateMatches(pending, received string) bool {
	if pending == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(pending), []byte(received)) == 1
}

// NewSession は有効期限ttlの匿名セッションを生成する。永続化は呼び出し側で行う。
func NewSession(ttl time.Duration) (*model.AuthSession, error) {
	id, err := generateToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}
	now := time.Now()
	return &model.AuthSession{
		ID:        id,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// generateToken は256ビットの暗号的に安全なランダム値を16進文字列で返す。
func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
