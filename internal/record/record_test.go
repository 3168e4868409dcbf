package record

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carecoord/carecoord/internal/identity"
	"github.com/carecoord/carecoord/internal/store"
)

func TestStampsRequireIdentity(t *testing.T) {
	ctx := context.Background()
	_, err := CreationStamp(ctx, identity.ContextProvider{})
	require.ErrorIs(t, err, identity.ErrUnauthenticated)
	_, err = UpdateStamp(ctx, identity.ContextProvider{})
	require.ErrorIs(t, err, identity.ErrUnauthenticated)
	_, err = DeletionStamp(ctx, identity.ContextProvider{})
	require.ErrorIs(t, err, identity.ErrUnauthenticated)
}

func TestCreationStamp(t *testing.T) {
	ctx := identity.WithUser(context.Background(), "u1")
	f, err := CreationStamp(ctx, identity.ContextProvider{})
	require.NoError(t, err)

	created := f[FieldCreated].(map[string]any)
	updated := f[FieldUpdated].(map[string]any)
	assert.Equal(t, "u1", created[FieldBy])
	assert.Equal(t, "u1", updated[FieldBy])
	assert.True(t, store.IsServerTimestamp(created[FieldOn]))
	assert.True(t, store.IsServerTimestamp(updated[FieldOn]))
	assert.Equal(t, false, f[FieldIsDeleted])
}

func TestUpdateAndDeletionStamp(t *testing.T) {
	ctx := identity.WithUser(context.Background(), "u2")
	f, err := UpdateStamp(ctx, identity.ContextProvider{})
	require.NoError(t, err)
	require.Len(t, f, 1)
	require.Equal(t, "u2", f[FieldUpdated].(map[string]any)[FieldBy])

	d, err := DeletionStamp(ctx, identity.ContextProvider{})
	require.NoError(t, err)
	require.Equal(t, true, d[FieldIsDeleted])
	require.Contains(t, d, FieldUpdated)
	require.NotContains(t, d, FieldCreated)
}

func TestNormalize(t *testing.T) {
	require.Nil(t, Normalize(store.Snapshot{ID: "x"}))

	r := Normalize(store.Snapshot{ID: "d1", Exists: true, Fields: store.Fields{"name": "Dr. A", "id": "spoofed"}})
	require.Equal(t, "d1", r.ID())
	require.Equal(t, "Dr. A", r.String("name"))
}

func TestNormalizeListKeepsOrder(t *testing.T) {
	require.NotNil(t, NormalizeList(nil))
	require.Empty(t, NormalizeList(nil))

	list := NormalizeList([]store.Snapshot{
		{ID: "b", Exists: true, Fields: store.Fields{}},
		{ID: "a", Exists: true, Fields: store.Fields{}},
	})
	require.Equal(t, "b", list[0].ID())
	require.Equal(t, "a", list[1].ID())
}

func TestAccessors(t *testing.T) {
	at := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	r := Record{
		"memberIds": []any{"u1", "u2", 3},
		"tags":      []string{"x"},
		"isDeleted": true,
		"created":   map[string]any{"by": "u1", "on": at},
	}
	require.Equal(t, []string{"u1", "u2"}, r.Strings("memberIds"))
	require.Equal(t, []string{"x"}, r.Strings("tags"))
	require.Nil(t, r.Strings("missing"))
	require.True(t, r.IsDeleted())
	require.Equal(t, Stamp{By: "u1", On: at}, r.Created())
	require.Equal(t, Stamp{}, r.Updated())
}
