package sessions

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRepository implements Repository using Redis as the backing store.
// Each session is a hash under "<prefix><refreshToken>" whose TTL matches
// the session expiry.
type RedisRepository struct {
	client *redis.Client
	prefix string
}

// NewRedisRepository creates a Redis-based session repository. Prefix may be empty.
func NewRedisRepository(client *redis.Client, prefix string) *RedisRepository {
	if prefix == "" {
		prefix = "session:"
	}
	return &RedisRepository{client: client, prefix: prefix}
}

func (r *RedisRepository) key(refresh string) string {
	return r.prefix + refresh
}

func (r *RedisRepository) Create(ctx context.Context, s *Session) error {
	exp := time.Until(s.ExpiresAt)
	if exp <= 0 {
		// ensure a minimal TTL so Redis won't store expired sessions
		exp = time.Second
	}
	key := r.key(s.RefreshToken)
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, key,
			"id", s.ID,
			"sub", s.Sub,
			"createdAt", s.CreatedAt.UTC().Format(time.RFC3339Nano),
			"expiresAt", s.ExpiresAt.UTC().Format(time.RFC3339Nano),
		)
		p.Expire(ctx, key, exp)
		return nil
	})
	return err
}

func (r *RedisRepository) GetByRefresh(ctx context.Context, refresh string) (*Session, error) {
	h, err := r.client.HGetAll(ctx, r.key(refresh)).Result()
	if err != nil {
		return nil, err
	}
	if len(h) == 0 {
		return nil, nil
	}
	s := &Session{ID: h["id"], RefreshToken: refresh, Sub: h["sub"]}
	if s.CreatedAt, err = time.Parse(time.RFC3339Nano, h["createdAt"]); err != nil {
		return nil, fmt.Errorf("session %s: createdAt: %w", refresh, err)
	}
	if s.ExpiresAt, err = time.Parse(time.RFC3339Nano, h["expiresAt"]); err != nil {
		return nil, fmt.Errorf("session %s: expiresAt: %w", refresh, err)
	}
	// If session expired from perspective of stored value, treat as missing
	if s.Expired(time.Now().UTC()) {
		_ = r.client.Del(ctx, r.key(refresh)).Err()
		return nil, nil
	}
	return s, nil
}

func (r *RedisRepository) DeleteByRefresh(ctx context.Context, refresh string) error {
	return r.client.Del(ctx, r.key(refresh)).Err()
}
