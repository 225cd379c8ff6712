// Package session provides the Redis backend for refresh sessions.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"rfphub/api/internal/store"

	"github.com/redis/go-redis/v9"
)

const (
	refreshKeyPrefix  = "refresh:"
	defaultRefreshTTL = 30 * 24 * time.Hour
)

// refreshRecord is the value stored per refresh-token hash. Only the
// user ID lives in Redis; callers re-load the full user from Postgres
// so role and group changes take effect on the next refresh.
type refreshRecord struct {
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

// RedisStore stores refresh sessions in Redis keyed by token hash.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RedisStore{client: client}, nil
}

// Client exposes the underlying Redis client so other components, such
// as the rate limiter, can share the connection.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// SaveRefreshSession stores a refresh session; the key expires with the token.
func (s *RedisStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	payload, err := json.Marshal(refreshRecord{UserID: userID, CreatedAt: time.Now()})
	if err != nil {
		return fmt.Errorf("marshal refresh record: %w", err)
	}

	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		ttl = defaultRefreshTTL
	}

	if err := s.client.Set(ctx, refreshKeyPrefix+tokenHash, payload, ttl).Err(); err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *RedisStore) LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error) {
	payload, err := s.client.Get(ctx, refreshKeyPrefix+tokenHash).Result()
	if err == redis.Nil {
		return store.User{}, fmt.Errorf("refresh session not found or expired")
	}
	if err != nil {
		return store.User{}, fmt.Errorf("lookup refresh session: %w", err)
	}

	var rec refreshRecord
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		return store.User{}, fmt.Errorf("unmarshal refresh record: %w", err)
	}
	return store.User{ID: rec.UserID}, nil
}

// RevokeRefreshSession deletes a refresh session; missing keys are a no-op.
func (s *RedisStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	if err := s.client.Del(ctx, refreshKeyPrefix+tokenHash).Err(); err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
