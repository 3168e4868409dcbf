package subscription

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/carecoord/carecoord/internal/record"
)

// gatedGetter blocks each Get until the test releases it.
type gatedGetter struct {
	mu    sync.Mutex
	calls []string
	gates map[string]chan struct{}
	data  map[string]record.Record
	err   error
}

func newGatedGetter() *gatedGetter {
	return &gatedGetter{gates: map[string]chan struct{}{}, data: map[string]record.Record{}}
}

func (g *gatedGetter) gate(id string) chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	ch, ok := g.gates[id]
	if !ok {
		ch = make(chan struct{})
		g.gates[id] = ch
	}
	return ch
}

func (g *gatedGetter) Get(ctx context.Context, id string) (record.Record, error) {
	g.mu.Lock()
	g.calls = append(g.calls, id)
	g.mu.Unlock()
	select {
	case <-g.gate(id):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return nil, g.err
	}
	return g.data[id], nil
}

func (g *gatedGetter) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

func (g *gatedGetter) set(id string, r record.Record) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.data[id] = r
}

func TestDocLoadAndRefetch(t *testing.T) {
	g := newGatedGetter()
	g.set("p1", record.Record{"id": "p1", "status": "active"})
	close(g.gate("p1"))

	d := NewDoc(context.Background(), g)
	d.Load("p1")
	require.Eventually(t, func() bool { v := d.View(); return !v.Loading && v.Data != nil }, time.Second, 5*time.Millisecond)
	require.Equal(t, "active", d.View().Data.String("status"))

	d.Load("p1")
	require.Equal(t, 1, g.callCount(), "same id must not refetch")

	g.set("p1", record.Record{"id": "p1", "status": "paused"})
	d.Refetch()
	require.Eventually(t, func() bool { return d.View().Data.String("status") == "paused" }, time.Second, 5*time.Millisecond)
	require.Equal(t, 2, g.callCount())
}

func TestDocStaleFetchIsDropped(t *testing.T) {
	g := newGatedGetter()
	g.set("a", record.Record{"id": "a"})
	g.set("b", record.Record{"id": "b"})

	d := NewDoc(context.Background(), g)
	d.Load("a")
	require.True(t, d.View().Loading)
	d.Load("b")
	close(g.gate("b"))
	require.Eventually(t, func() bool { v := d.View(); return !v.Loading }, time.Second, 5*time.Millisecond)
	require.Equal(t, "b", d.View().Data.ID())

	close(g.gate("a"))
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, "b", d.View().Data.ID())
}

func TestDocMissingDocument(t *testing.T) {
	g := newGatedGetter()
	close(g.gate("gone"))
	d := NewDoc(context.Background(), g)
	d.Load("gone")
	require.Eventually(t, func() bool { return !d.View().Loading }, time.Second, 5*time.Millisecond)
	v := d.View()
	require.Nil(t, v.Data)
	require.NoError(t, v.Err)
}

func TestDocError(t *testing.T) {
	g := newGatedGetter()
	g.err = errors.New("denied")
	close(g.gate("x"))
	d := NewDoc(context.Background(), g)
	d.Load("x")
	require.Eventually(t, func() bool { return d.View().Err != nil }, time.Second, 5*time.Millisecond)
	require.False(t, d.View().Loading)
}

func TestDocLoadTimeout(t *testing.T) {
	g := newGatedGetter()
	d := NewDoc(context.Background(), g, WithLoadTimeout(20*time.Millisecond))
	d.Load("slow")
	require.Eventually(t, func() bool { return errors.Is(d.View().Err, ErrLoadTimeout) }, time.Second, 5*time.Millisecond)
}

func TestDocCloseDropsInFlight(t *testing.T) {
	g := newGatedGetter()
	g.set("a", record.Record{"id": "a"})
	d := NewDoc(context.Background(), g)
	d.Load("a")
	d.Close()
	close(g.gate("a"))
	time.Sleep(20 * time.Millisecond)
	require.Nil(t, d.View().Data)

	d.Load("b")
	require.Equal(t, 1, g.callCount())
}

func TestDocEmptyIDClears(t *testing.T) {
	g := newGatedGetter()
	g.set("a", record.Record{"id": "a"})
	close(g.gate("a"))
	d := NewDoc(context.Background(), g)
	d.Load("a")
	require.Eventually(t, func() bool { return d.View().Data != nil }, time.Second, 5*time.Millisecond)
	d.Load("")
	require.Equal(t, DocView{}, d.View())
	d.Refetch()
	require.Equal(t, 1, g.callCount())
}
