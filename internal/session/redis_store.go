// Package session stores portal viewer sessions in Redis. A session is
// created when a viewer opens a portal link (and clears its password, when
// one is set). Records are keyed by the hash of the issued token, so
// deleting one invalidates the token ahead of its embedded expiry.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Viewer is the session payload: which client the token holder may view.
type Viewer struct {
	ClientID   string    `json:"clientId"`
	BusinessID string    `json:"businessId"`
	Slug       string    `json:"slug"`
	CreatedAt  time.Time `json:"createdAt"`
}

// ErrNotFound reports a session that never existed, expired, or was
// revoked. The three cases are indistinguishable to the caller.
var ErrNotFound = errors.New("session not found or expired")

const defaultTTL = 24 * time.Hour

// RedisStore keeps viewer sessions in Redis with a TTL matching the token
// expiry, so abandoned sessions clean themselves up.
type RedisStore struct {
	client *redis.Client
	prefix string
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

	return &RedisStore{client: client, prefix: "portal:sess:"}, nil
}

func (s *RedisStore) key(tokenHash string) string {
	return s.prefix + tokenHash
}

// Save stores the viewer under the token hash until expiresAt.
func (s *RedisStore) Save(ctx context.Context, tokenHash string, viewer Viewer, expiresAt time.Time) error {
	if viewer.CreatedAt.IsZero() {
		viewer.CreatedAt = time.Now()
	}
	data, err := json.Marshal(viewer)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		ttl = defaultTTL
	}

	if err := s.client.Set(ctx, s.key(tokenHash), data, ttl).Err(); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// Lookup resolves a token hash to its viewer.
func (s *RedisStore) Lookup(ctx context.Context, tokenHash string) (Viewer, error) {
	data, err := s.client.Get(ctx, s.key(tokenHash)).Result()
	if errors.Is(err, redis.Nil) {
		return Viewer{}, ErrNotFound
	}
	if err != nil {
		return Viewer{}, fmt.Errorf("lookup session: %w", err)
	}

	var viewer Viewer
	if err := json.Unmarshal([]byte(data), &viewer); err != nil {
		return Viewer{}, fmt.Errorf("unmarshal session: %w", err)
	}
	return viewer, nil
}

// Revoke deletes a session. Revoking a missing session is not an error.
func (s *RedisStore) Revoke(ctx context.Context, tokenHash string) error {
	if err := s.client.Del(ctx, s.key(tokenHash)).Err(); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
