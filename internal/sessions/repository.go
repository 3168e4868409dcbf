package sessions

import "context"

// Repository stores refresh sessions keyed by their refresh token. Lookups of
// unknown or already expired tokens return (nil, nil). Implementations:
// MemoryRepository, RedisRepository, MongoRepository.
type Repository interface {
	Create(ctx context.Context, s *Session) error
	GetByRefresh(ctx context.Context, refresh string) (*Session, error)
	DeleteByRefresh(ctx context.Context, refresh string) error
}
