package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/boletin/internal/model"
	"github.com/redis/go-redis/v9"
)

const sessionKeyPrefix = "boletin:session:"

// ErrSessionAlreadyExpired は有効期限が過去のセッションを保存しようとしたことを示す。
var ErrSessionAlreadyExpired = errors.New("session already expired")

// redisSessionRecord はRedisに保存するセッションの表現。
// 時刻はUnixミリ秒で保持する。
type redisSessionRecord struct {
	User      model.User `json:"user"`
	ExpiresAt int64      `json:"expiresAt"`
	CreatedAt int64      `json:"createdAt"`
}

// RedisSessionRepo はRedisを使用したセッションリポジトリ。
// キーのTTLをセッションの有効期限に合わせるため、失効セッションはRedis側で消える。
type RedisSessionRepo struct {
	client *redis.Client
	now    func() time.Time
}

// NewRedisSessionRepo はRedisSessionRepoを生成する。
func NewRedisSessionRepo(client *redis.Client) *RedisSessionRepo {
	return &RedisSessionRepo{client: client, now: time.Now}
}

func (r *RedisSessionRepo) key(id string) string {
	return sessionKeyPrefix + id
}

// Create はセッションをTTL付きで保存する。
func (r *RedisSessionRepo) Create(ctx context.Context, session *model.Session) error {
	ttl := session.ExpiresAt.Sub(r.now())
	if ttl <= 0 {
		return ErrSessionAlreadyExpired
	}

	payload, err := json.Marshal(redisSessionRecord{
		User:      session.User,
		ExpiresAt: session.ExpiresAt.UnixMilli(),
		CreatedAt: session.CreatedAt.UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	if err := r.client.Set(ctx, r.key(session.ID), payload, ttl).Err(); err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// FindByID は指定IDのセッションを取得する。見つからない場合はnilを返す。
func (r *RedisSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	raw, err := r.client.Get(ctx, r.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}

	var rec redisSessionRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}

	return &model.Session{
		ID:        id,
		User:      rec.User,
		ExpiresAt: time.UnixMilli(rec.ExpiresAt),
		CreatedAt: time.UnixMilli(rec.CreatedAt),
	}, nil
}

// DeleteByID は指定IDのセッションを削除する。
func (r *RedisSessionRepo) DeleteByID(ctx context.Context, id string) error {
	if err := r.client.Del(ctx, r.key(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// DeleteExpired はRedisのTTLに任せるため常に0を返す。
func (r *RedisSessionRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}

// compile-time interface check
var _ SessionRepository = (*RedisSessionRepo)(nil)
