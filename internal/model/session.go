// Package model はドメインモデルを定義する。
package model

import "time"

// AuthSession はブラウザセッションごとの認証状態を表す。
//
// AccessToken, ProviderUserID, Username はログイン中のみ設定され、
// 常に3つ同時に設定・クリアされる。
type AuthSession struct {
	ID string

	// State はログイン開始時に発行されるCSRF対策トークン。コールバックで1回だけ消費される。
	State string

	AccessToken    string
	ProviderUserID string
	Username       string

	ExpiresAt time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsAuthenticated はログイン済みかどうかを返す。
func (s *AuthSession) IsAuthenticated() bool {
	return s != nil && s.AccessToken != ""
}

// IsAwaitingCallback はstateが発行済みでコールバック待ちかどうかを返す。
func (s *AuthSession) IsAwaitingCallback() bool {
	return s != nil && s.State != ""
}

// SetIdentity はログイン済みの認証情報をまとめて設定する。
// 保留中のstateは消費済みとしてクリアする。
func (s *AuthSession) SetIdentity(accessToken, providerUserID, username string) {
	s.State = ""
	s.AccessToken = accessToken
	s.ProviderUserID = providerUserID
	s.Username = username
}

// Clear は完全な匿名状態に戻す。部分的なクリアは行わない。
func (s *AuthSession) Clear() {
	s.State = ""
	s.AccessToken = ""
	s.ProviderUserID = ""
	s.Username = ""
}

// IsExpired は指定時刻時点でセッションが期限切れかどうかを返す。
func (s *AuthSession) IsExpired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}
