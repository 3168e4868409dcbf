package users

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUpsertFromClaims(t *testing.T) {
	repo := NewMemoryUserRepository()
	svc := NewService(repo)
	ctx := context.Background()

	u, err := svc.UpsertFromClaims(ctx, map[string]interface{}{
		"sub":   "sub-123",
		"email": "x@example.com",
		"name":  "X User",
	})
	require.NoError(t, err)
	require.Equal(t, "sub-123", u.Sub)
	require.Equal(t, "x@example.com", u.Email)
	require.Equal(t, "X User", u.Name)
	require.NotEmpty(t, u.ID)
	require.False(t, u.CreatedAt.IsZero())
	require.False(t, u.CreatedAt.After(u.UpdatedAt))

	again, err := svc.UpsertFromClaims(ctx, map[string]interface{}{
		"sub":                "sub-123",
		"preferred_username": "xuser",
	})
	require.NoError(t, err)
	require.Equal(t, u.ID, again.ID, "upsert keeps the same user")
	require.Equal(t, u.CreatedAt, again.CreatedAt)
	require.Equal(t, "xuser", again.Name)

	got, err := svc.GetBySub(ctx, "sub-123")
	require.NoError(t, err)
	require.Equal(t, "xuser", got.Name)

	missing, err := svc.GetBySub(ctx, "nobody")
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestUpsertFromClaimsRequiresSubject(t *testing.T) {
	svc := NewService(NewMemoryUserRepository())
	_, err := svc.UpsertFromClaims(context.Background(), map[string]interface{}{"email": "y@e.com"})
	require.ErrorIs(t, err, ErrNoSubject)
}
