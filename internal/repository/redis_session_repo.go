package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/catalog/internal/model"
	"github.com/redis/go-redis/v9"
)

// sessionKeyPrefix はRedis上のセッションキーの接頭辞。
const sessionKeyPrefix = "catalog:session:"

// redisSession はRedisに保存するセッションのJSON表現。
type redisSession struct {
	State          string    `json:"state"`
	AccessToken    string    `json:"access_token"`
	ProviderUserID string    `json:"provider_user_id"`
	Username       string    `json:"username"`
	ExpiresAt      time.Time `json:"expires_at"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// RedisSessionRepo はRedisを使用したセッションリポジトリ。
// 有効期限はキーのTTLで管理するため、期限切れの掃除は不要。
type RedisSessionRepo struct {
	client *redis.Client
}

// NewRedisSessionRepo はRedisSessionRepoを生成する。
func NewRedisSessionRepo(client *redis.Client) *RedisSessionRepo {
	return &RedisSessionRepo{client: client}
}

// Create はセッションを作成する。TTLはExpiresAtまでの残り時間。
func (r *RedisSessionRepo) Create(ctx context.Context, s *model.AuthSession) error {
	ttl := time.Until(s.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("failed to create session: already expired")
	}

	data, err := json.Marshal(toRedisSession(s))
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	if err := r.client.Set(ctx, sessionKeyPrefix+s.ID, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// FindByID は指定IDのセッションを取得する。存在しない場合はnilを返す。
func (r *RedisSessionRepo) FindByID(ctx context.Context, id string) (*model.AuthSession, error) {
	data, err := r.client.Get(ctx, sessionKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}

	var rs redisSession
	if err := json.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}

	s := &model.AuthSession{
		ID:             id,
		State:          rs.State,
		AccessToken:    rs.AccessToken,
		ProviderUserID: rs.ProviderUserID,
		Username:       rs.Username,
		ExpiresAt:      rs.ExpiresAt,
		CreatedAt:      rs.CreatedAt,
		UpdatedAt:      rs.UpdatedAt,
	}
	if s.IsExpired(time.Now()) {
		return nil, nil
	}
	return s, nil
}

// Save はstateと認証情報を保存する。既存キーのTTLは維持する。
func (r *RedisSessionRepo) Save(ctx context.Context, s *model.AuthSession) error {
	s.UpdatedAt = time.Now()
	data, err := json.Marshal(toRedisSession(s))
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	ok, err := r.client.SetXX(ctx, sessionKeyPrefix+s.ID, data, redis.KeepTTL).Result()
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	if !ok {
		return fmt.Errorf("session not found: %s", s.ID)
	}
	return nil
}

// DeleteByID は指定IDのセッションを削除する。
func (r *RedisSessionRepo) DeleteByID(ctx context.Context, id string) error {
	if err := r.client.Del(ctx, sessionKeyPrefix+id).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// DeleteExpired はRedisのTTLに任せるため何もしない。
func (r *RedisSessionRepo) DeleteExpired(_ context.Context) (int64, error) {
	return 0, nil
}

func toRedisSession(s *model.AuthSession) redisSession {
	return redisSession{
		State:          s.State,
		AccessToken:    s.AccessToken,
		ProviderUserID: s.ProviderUserID,
		Username:       s.Username,
		ExpiresAt:      s.ExpiresAt,
		CreatedAt:      s.CreatedAt,
		UpdatedAt:      s.UpdatedAt,
	}
}

// compile-time interface check
var _ SessionRepository = (*RedisSessionRepo)(nil)
