package subscription

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/carecoord/carecoord/internal/entity"
	"github.com/carecoord/carecoord/internal/identity"
	"github.com/carecoord/carecoord/internal/record"
	"github.com/carecoord/carecoord/internal/repository"
	"github.com/carecoord/carecoord/internal/store"
)

type fakeSub struct {
	owned   bool
	key     string
	value   any
	fn      repository.Listener
	cancels atomic.Int32
}

// fakeSource records every subscription so tests can fire callbacks by hand.
type fakeSource struct {
	mu   sync.Mutex
	subs []*fakeSub
	err  error
}

func (f *fakeSource) add(s *fakeSub) (store.CancelFunc, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.subs = append(f.subs, s)
	return func() { s.cancels.Add(1) }, nil
}

func (f *fakeSource) SubscribeOwned(_ context.Context, uid string, fn repository.Listener) (store.CancelFunc, error) {
	return f.add(&fakeSub{owned: true, key: uid, fn: fn})
}

func (f *fakeSource) SubscribeFiltered(_ context.Context, field string, value any, fn repository.Listener) (store.CancelFunc, error) {
	return f.add(&fakeSub{key: field, value: value, fn: fn})
}

func (f *fakeSource) sub(i int) *fakeSub {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subs[i]
}

func (f *fakeSource) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func recs(ids ...string) []record.Record {
	out := make([]record.Record, 0, len(ids))
	for _, id := range ids {
		out = append(out, record.Record{"id": id})
	}
	return out
}

func viewIDs(v View) []string {
	out := []string{}
	for _, r := range v.Data {
		out = append(out, r.ID())
	}
	return out
}

func TestListIdleWithoutIdentity(t *testing.T) {
	src := &fakeSource{}
	l := NewList(context.Background(), src)
	l.Owned("")
	v := l.View()
	require.NotNil(t, v.Data)
	require.Empty(t, v.Data)
	require.False(t, v.Loading)
	require.NoError(t, v.Err)
	require.Zero(t, src.count())

	l.Filtered("itineraryId", nil)
	require.Zero(t, src.count())
}

func TestListSubscribingThenReplacement(t *testing.T) {
	src := &fakeSource{}
	l := NewList(context.Background(), src)
	l.Owned("u1")

	require.True(t, l.View().Loading)
	require.Equal(t, 1, src.count())

	src.sub(0).fn(recs("a", "b", "c"), nil)
	v := l.View()
	require.False(t, v.Loading)
	require.Equal(t, []string{"a", "b", "c"}, viewIDs(v))

	src.sub(0).fn(recs("b"), nil)
	require.Equal(t, []string{"b"}, viewIDs(l.View()))
}

func TestListSameArgumentIsNoop(t *testing.T) {
	src := &fakeSource{}
	l := NewList(context.Background(), src)
	l.Filtered("itineraryId", "it1")
	l.Filtered("itineraryId", "it1")
	require.Equal(t, 1, src.count())
	require.Zero(t, src.sub(0).cancels.Load())
}

func TestListTeardownDropsStaleSnapshots(t *testing.T) {
	src := &fakeSource{}
	l := NewList(context.Background(), src)
	l.Owned("u1")
	old := src.sub(0)

	l.Owned("u2")
	require.Equal(t, int32(1), old.cancels.Load())

	old.fn(recs("stale"), nil)
	v := l.View()
	require.Empty(t, v.Data)
	require.True(t, v.Loading)

	src.sub(1).fn(recs("fresh"), nil)
	require.Equal(t, []string{"fresh"}, viewIDs(l.View()))

	l.Owned("")
	require.Equal(t, int32(1), src.sub(1).cancels.Load())
	require.Equal(t, int32(1), old.cancels.Load(), "cancelled exactly once")
	src.sub(1).fn(recs("late"), nil)
	require.Empty(t, l.View().Data)
	require.False(t, l.View().Loading)
}

// racingSource fires a callback of the first subscription while the
// second one is being opened.
type racingSource struct {
	fakeSource
	onSecond func()
}

func (r *racingSource) SubscribeOwned(ctx context.Context, uid string, fn repository.Listener) (store.CancelFunc, error) {
	if r.count() == 1 && r.onSecond != nil {
		r.onSecond()
	}
	return r.fakeSource.SubscribeOwned(ctx, uid, fn)
}

func TestListStaleCallbackDuringResubscribe(t *testing.T) {
	src := &racingSource{}
	l := NewList(context.Background(), src)
	l.Owned("u1")
	src.onSecond = func() { src.sub(0).fn(recs("stale"), nil) }

	l.Owned("u2")
	require.Empty(t, l.View().Data)
	require.True(t, l.View().Loading)
}

func TestListSynchronousErrorEntersErrorState(t *testing.T) {
	boom := errors.New("misconfigured")
	src := &fakeSource{err: boom}
	l := NewList(context.Background(), src)
	l.Owned("u1")
	v := l.View()
	require.ErrorIs(t, v.Err, boom)
	require.False(t, v.Loading)
	require.Empty(t, v.Data)
}

func TestListCallbackErrorAndRecovery(t *testing.T) {
	src := &fakeSource{}
	l := NewList(context.Background(), src)
	l.Owned("u1")
	src.sub(0).fn(recs("a"), nil)

	boom := errors.New("network")
	src.sub(0).fn([]record.Record{}, boom)
	v := l.View()
	require.ErrorIs(t, v.Err, boom)
	require.Empty(t, v.Data)
	require.False(t, v.Loading)

	src.sub(0).fn(recs("a"), nil)
	v = l.View()
	require.NoError(t, v.Err)
	require.Equal(t, []string{"a"}, viewIDs(v))
}

func TestListLoadTimeout(t *testing.T) {
	src := &fakeSource{}
	l := NewList(context.Background(), src, WithLoadTimeout(20*time.Millisecond))
	l.Owned("u1")
	require.Eventually(t, func() bool {
		return errors.Is(l.View().Err, ErrLoadTimeout)
	}, time.Second, 5*time.Millisecond)
	require.False(t, l.View().Loading)

	src.sub(0).fn(recs("late"), nil)
	require.Equal(t, []string{"late"}, viewIDs(l.View()))
}

func TestListWithoutTimeoutStaysLoading(t *testing.T) {
	src := &fakeSource{}
	l := NewList(context.Background(), src)
	l.Owned("u1")
	time.Sleep(30 * time.Millisecond)
	require.True(t, l.View().Loading)
}

func TestListCloseCancelsOnce(t *testing.T) {
	src := &fakeSource{}
	l := NewList(context.Background(), src)
	l.Owned("u1")
	l.Close()
	l.Close()
	require.Equal(t, int32(1), src.sub(0).cancels.Load())

	src.sub(0).fn(recs("after"), nil)
	require.Empty(t, l.View().Data)

	l.Owned("u2")
	require.Equal(t, 1, src.count())
}

func TestListUpdatedSignals(t *testing.T) {
	src := &fakeSource{}
	l := NewList(context.Background(), src)
	l.Owned("u1")
	<-l.Updated()

	src.sub(0).fn(recs("a"), nil)
	select {
	case <-l.Updated():
	case <-time.After(time.Second):
		t.Fatal("no update signal")
	}
	require.Equal(t, []string{"a"}, viewIDs(l.View()))
}

func TestListViewIsACopy(t *testing.T) {
	src := &fakeSource{}
	l := NewList(context.Background(), src)
	l.Owned("u1")
	src.sub(0).fn(recs("a", "b"), nil)
	v := l.View()
	v.Data[0] = record.Record{"id": "x"}
	require.Equal(t, []string{"a", "b"}, viewIDs(l.View()))
}

func TestListPermissionDeniedIsEmptyNotError(t *testing.T) {
	ms := store.NewMemoryStore()
	repo := repository.NewFactory(ms, identity.ContextProvider{}).For(entity.Itineraries)
	ctx := identity.WithUser(context.Background(), "u1")
	_, err := repo.Create(ctx, store.Fields{"name": "Rome"})
	require.NoError(t, err)

	l := NewList(ctx, repo, WithLabel("itineraries"))
	defer l.Close()
	l.Owned("u1")
	require.Eventually(t, func() bool { return len(l.View().Data) == 1 }, time.Second, 5*time.Millisecond)

	ms.SetRule(func(store.Access, string) error { return store.ErrPermissionDenied })
	require.Eventually(t, func() bool {
		v := l.View()
		return len(v.Data) == 0 && !v.Loading && v.Err == nil
	}, time.Second, 5*time.Millisecond)
}

func TestListAgainstMemoryStore(t *testing.T) {
	ms := store.NewMemoryStore()
	repo := repository.NewFactory(ms, identity.ContextProvider{}).For(entity.Itineraries)
	u1 := identity.WithUser(context.Background(), "u1")
	id, err := repo.Create(u1, store.Fields{"name": "Nice"})
	require.NoError(t, err)

	l := NewList(context.Background(), repo)
	defer l.Close()
	l.Owned("u2")
	require.Eventually(t, func() bool { v := l.View(); return !v.Loading && len(v.Data) == 0 }, time.Second, 5*time.Millisecond)

	require.NoError(t, repo.Update(u1, id, store.Fields{"ownerId": "u1", "memberIds": []any{"u1", "u2"}}))
	require.Eventually(t, func() bool {
		v := l.View()
		return len(v.Data) == 1 && v.Data[0].ID() == id
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, repo.Delete(u1, id))
	require.Eventually(t, func() bool { return len(l.View().Data) == 0 }, time.Second, 5*time.Millisecond)
}
