package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/hitoshi/catalog/internal/metrics"
)

const (
	defaultGoogleAuthURL      = "https://accounts.google.com/o/oauth2/auth"
	defaultGoogleTokenURL     = "https://oauth2.googleapis.com/token"
	defaultGoogleTokenInfoURL = "https://www.googleapis.com/oauth2/v1/tokeninfo"
	defaultGoogleUserInfoURL  = "https://www.googleapis.com/oauth2/v1/userinfo"
	defaultGoogleRevokeURL    = "https://accounts.google.com/o/oauth2/revoke"

	defaultProviderTimeout = 10 * time.Second

	// maxProviderResponseSize はプロバイダー応答の読み取り上限
	maxProviderResponseSize = 1 << 20
)

// PopupRedirectURI はポップアップ型ログイン（/gconnect）で使うredirect_uri。
const PopupRedirectURI = "postmessage"

// GoogleOAuthConfig はGoogle OAuthプロバイダーの設定。
type GoogleOAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// Timeout は1回のプロバイダー呼び出しの上限時間。0の場合は10秒。
	Timeout time.Duration

	// テスト用にオーバーライド可能なURL
	AuthURL      string
	TokenURL     string
	TokenInfoURL string
	UserInfoURL  string
	RevokeURL    string
}

// GoogleOAuthProvider はGoogle OAuth 2.0の各エンドポイントを呼び出す。
type GoogleOAuthProvider struct {
	config  GoogleOAuthConfig
	client  *http.Client
	metrics metrics.MetricsCollector
}

// NewGoogleOAuthProvider はGoogleOAuthProviderを生成する。
// collectorがnilの場合はレイテンシを記録しない。
func NewGoogleOAuthProvider(config GoogleOAuthConfig, collector metrics.MetricsCollector) *GoogleOAuthProvider {
	if config.AuthURL == "" {
		config.AuthURL = defaultGoogleAuthURL
	}
	if config.TokenURL == "" {
		config.TokenURL = defaultGoogleTokenURL
	}
	if config.TokenInfoURL == "" {
		config.TokenInfoURL = defaultGoogleTokenInfoURL
	}
	if config.UserInfoURL == "" {
		config.UserInfoURL = defaultGoogleUserInfoURL
	}
	if config.RevokeURL == "" {
		config.RevokeURL = defaultGoogleRevokeURL
	}
	if config.Timeout <= 0 {
		config.Timeout = defaultProviderTimeout
	}
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &GoogleOAuthProvider{
		config:  config,
		client:  &http.Client{Timeout: config.Timeout},
		metrics: collector,
	}
}

// ClientID はこのアプリのOAuthクライアントIDを返す。
func (p *GoogleOAuthProvider) ClientID() string {
	return p.config.ClientID
}

// GetLoginURL はGoogle OAuthの認証URLを生成する。
// スコープにはopenid, email, profileを含む。
func (p *GoogleOAuthProvider) GetLoginURL(state string) string {
	params := url.Values{
		"client_id":     {p.config.ClientID},
		"redirect_uri":  {p.config.RedirectURL},
		"response_type": {"code"},
		"scope":         {"openid email profile"},
		"state":         {state},
	}
	return p.config.AuthURL + "?" + params.Encode()
}

// googleTokenResponse はGoogleのトークンエンドポイントのレスポンス。
type googleTokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
	IDToken     string `json:"id_token"`
}

// Exchange は認可コードをアクセストークンに交換し、id_tokenのsubjectを取り出す。
// redirectURIが空の場合は設定のRedirectURLを使う。
func (p *GoogleOAuthProvider) Exchange(ctx context.Context, code, redirectURI string) (*Token, error) {
	if redirectURI == "" {
		redirectURI = p.config.RedirectURL
	}
	data := url.Values{
		"code":          {code},
		"client_id":     {p.config.ClientID},
		"client_secret": {p.config.ClientSecret},
		"redirect_uri":  {redirectURI},
		"grant_type":    {"authorization_code"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.TokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	body, status, err := p.do(req, "token")
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("token exchange failed with status %d: %s", status, string(body))
	}

	var tokenResp googleTokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}
	if tokenResp.AccessToken == "" {
		return nil, errors.New("empty access token in response")
	}

	subject, err := subjectFromIDToken(tokenResp.IDToken)
	if err != nil {
		return nil, err
	}

	return &Token{AccessToken: tokenResp.AccessToken, Subject: subject}, nil
}

// subjectFromIDToken はid_tokenのsubクレームを取り出す。
// id_tokenはトークンエンドポイントからTLSで直接受け取ったものなので署名検証は行わない。
func subjectFromIDToken(idToken string) (string, error) {
	if idToken == "" {
		return "", errors.New("empty id_token in response")
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(idToken, claims); err != nil {
		return "", fmt.Errorf("failed to parse id_token: %w", err)
	}
	sub, err := claims.GetSubject()
	if err != nil {
		return "", fmt.Errorf("failed to read id_token subject: %w", err)
	}
	if sub == "" {
		return "", errors.New("empty subject in id_token")
	}
	return sub, nil
}

// googleTokenInfo はtokeninfoエンドポイントのレスポンス。
type googleTokenInfo struct {
	UserID   string `json:"user_id"`
	IssuedTo string `json:"issued_to"`
	Error    string `json:"error"`
	// v1エンドポイントはエラー時にerror_descriptionを返す場合がある
	ErrorDescription string `json:"error_description"`
}

// TokenInfo はアクセストークンをイントロスペクションする。
// プロバイダーがerrorを返した場合はTokenInfo.Errorに理由を入れて返す。
func (p *GoogleOAuthProvider) TokenInfo(ctx context.Context, accessToken string) (*TokenInfo, error) {
	u := p.config.TokenInfoURL + "?" + url.Values{"access_token": {accessToken}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create tokeninfo request: %w", err)
	}

	body, _, err := p.do(req, "tokeninfo")
	if err != nil {
		return nil, fmt.Errorf("tokeninfo request failed: %w", err)
	}

	var info googleTokenInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("failed to parse tokeninfo response: %w", err)
	}

	reason := info.Error
	if reason != "" && info.ErrorDescription != "" {
		reason = info.ErrorDescription
	}
	return &TokenInfo{UserID: info.UserID, IssuedTo: info.IssuedTo, Error: reason}, nil
}

// googleUserInfo はGoogleのユーザー情報エンドポイントのレスポンス。
type googleUserInfo struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// UserInfo はアクセストークンで名前とメールアドレスを取得する。
func (p *GoogleOAuthProvider) UserInfo(ctx context.Context, accessToken string) (*UserInfo, error) {
	u := p.config.UserInfoURL + "?" + url.Values{"alt": {"json"}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create user info request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	body, status, err := p.do(req, "userinfo")
	if err != nil {
		return nil, fmt.Errorf("user info request failed: %w", err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("user info fetch failed with status %d: %s", status, string(body))
	}

	var info googleUserInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("failed to parse user info response: %w", err)
	}
	return &UserInfo{Name: info.Name, Email: info.Email}, nil
}

// Revoke はアクセストークンを失効させる。
func (p *GoogleOAuthProvider) Revoke(ctx context.Context, accessToken string) error {
	u := p.config.RevokeURL + "?" + url.Values{"token": {accessToken}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("failed to create revoke request: %w", err)
	}

	body, status, err := p.do(req, "revoke")
	if err != nil {
		return fmt.Errorf("revoke request failed: %w", err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("revoke failed with status %d: %s", status, string(body))
	}
	return nil
}

// do はリクエストを送信し、応答本文とステータスを返す。レイテンシを記録する。
func (p *GoogleOAuthProvider) do(req *http.Request, endpoint string) ([]byte, int, error) {
	start := time.Now()
	defer func() {
		p.metrics.RecordProviderLatency(endpoint, time.Since(start))
	}()

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProviderResponseSize))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read %s response: %w", endpoint, err)
	}
	return body, resp.StatusCode, nil
}

// compile-time interface check
var _ Provider = (*GoogleOAuthProvider)(nil)
