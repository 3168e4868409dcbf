package sessions

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Revoker records access tokens that were logged out before they expired.
// A nil client turns every call into a no-op.
type Revoker struct {
	client *redis.Client
	prefix string
}

func NewRevoker(client *redis.Client) *Revoker {
	return &Revoker{client: client, prefix: "revoked:access:"}
}

// Revoke remembers token for ttl, normally the token's remaining lifetime.
func (r *Revoker) Revoke(ctx context.Context, token string, ttl time.Duration) error {
	if r == nil || r.client == nil {
		return nil
	}
	if ttl <= 0 {
		return nil
	}
	return r.client.Set(ctx, r.prefix+token, "1", ttl).Err()
}

func (r *Revoker) IsRevoked(ctx context.Context, token string) (bool, error) {
	if r == nil || r.client == nil {
		return false, nil
	}
	n, err := r.client.Exists(ctx, r.prefix+token).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
