package sessions

import (
	"context"
	"testing"
	"time"

	mr "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newRedis(t *testing.T) (*mr.Miniredis, *redis.Client) {
	t.Helper()
	m, err := mr.Run()
	require.NoError(t, err)
	t.Cleanup(m.Close)
	return m, redis.NewClient(&redis.Options{Addr: m.Addr()})
}

func TestRedisRepository_CreateGetDelete(t *testing.T) {
	_, client := newRedis(t)
	repo := NewRedisRepository(client, "test:session:")

	ctx := context.Background()
	s := &Session{
		ID:           "s1",
		RefreshToken: "r1",
		Sub:          "sub-1",
		CreatedAt:    time.Now().UTC(),
		ExpiresAt:    time.Now().UTC().Add(5 * time.Second),
	}

	require.NoError(t, repo.Create(ctx, s))

	got, err := repo.GetByRefresh(ctx, "r1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, s.Sub, got.Sub)
	require.Equal(t, "s1", got.ID)
	require.True(t, s.ExpiresAt.Equal(got.ExpiresAt))

	// test deletion
	require.NoError(t, repo.DeleteByRefresh(ctx, "r1"))
	got2, err := repo.GetByRefresh(ctx, "r1")
	require.NoError(t, err)
	require.Nil(t, got2)
}

func TestRedisRepository_TTLExpiry(t *testing.T) {
	m, client := newRedis(t)
	repo := NewRedisRepository(client, "test:session:")

	ctx := context.Background()
	s := &Session{
		RefreshToken: "r2",
		Sub:          "sub-2",
		CreatedAt:    time.Now().UTC(),
		ExpiresAt:    time.Now().UTC().Add(10 * time.Second),
	}

	require.NoError(t, repo.Create(ctx, s))
	require.True(t, m.Exists("test:session:r2"))

	// visible immediately
	got, err := repo.GetByRefresh(ctx, "r2")
	require.NoError(t, err)
	require.NotNil(t, got)

	// advance miniredis clock past TTL
	m.FastForward(11 * time.Second)

	got2, err := repo.GetByRefresh(ctx, "r2")
	require.NoError(t, err)
	require.Nil(t, got2)
}

func TestRevoker(t *testing.T) {
	m, client := newRedis(t)
	rv := NewRevoker(client)
	ctx := context.Background()

	require.NoError(t, rv.Revoke(ctx, "access-token-1", 2*time.Second))
	ok, err := rv.IsRevoked(ctx, "access-token-1")
	require.NoError(t, err)
	require.True(t, ok)

	m.FastForward(3 * time.Second)
	ok, err = rv.IsRevoked(ctx, "access-token-1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRevokerWithoutClientIsNoop(t *testing.T) {
	ctx := context.Background()
	for _, rv := range []*Revoker{nil, NewRevoker(nil)} {
		require.NoError(t, rv.Revoke(ctx, "t", time.Second))
		ok, err := rv.IsRevoked(ctx, "t")
		require.NoError(t, err)
		require.False(t, ok)
	}
}
