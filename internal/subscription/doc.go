package subscription

import (
	"context"
	"sync"

	"github.com/carecoord/carecoord/internal/record"
)

// Getter is the read side of a repository.
type Getter interface {
	Get(ctx context.Context, id string) (record.Record, error)
}

// DocView is the state of a detail hook. Data is nil while loading the
// first time and when the document does not exist.
type DocView struct {
	ID      string
	Data    record.Record
	Loading bool
	Err     error
}

// Doc fetches one document on demand. It is not a live subscription: the
// document is read when the id changes and when Refetch is called.
type Doc struct {
	ctx  context.Context
	get  Getter
	opts options

	mu      sync.Mutex
	epoch   uint64
	id      string
	view    DocView
	closed  bool
	updated chan struct{}
}

func NewDoc(ctx context.Context, get Getter, opts ...Option) *Doc {
	var o options
	for _, fn := range opts {
		fn(&o)
	}
	return &Doc{ctx: ctx, get: get, opts: o, updated: make(chan struct{}, 1)}
}

// Load switches the hook to id. Loading the current id again does nothing;
// an empty id clears the hook.
func (d *Doc) Load(id string) {
	d.mu.Lock()
	if d.closed || id == d.id {
		d.mu.Unlock()
		return
	}
	d.id = id
	if id == "" {
		d.epoch++
		d.view = DocView{}
		d.mu.Unlock()
		d.notify()
		return
	}
	d.view = DocView{ID: id}
	d.fetchLocked()
}

// Refetch reads the current document again, keeping the data already shown
// until the fresh read lands.
func (d *Doc) Refetch() {
	d.mu.Lock()
	if d.closed || d.id == "" {
		d.mu.Unlock()
		return
	}
	d.fetchLocked()
}

// fetchLocked is called with d.mu held and releases it.
func (d *Doc) fetchLocked() {
	d.epoch++
	epoch, id := d.epoch, d.id
	d.view.Loading = true
	d.view.Err = nil
	d.mu.Unlock()
	d.notify()

	go func() {
		ctx := d.ctx
		if d.opts.loadTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d.opts.loadTimeout)
			defer cancel()
		}
		rec, err := d.get.Get(ctx, id)
		if err != nil && ctx.Err() == context.DeadlineExceeded {
			err = ErrLoadTimeout
		}

		d.mu.Lock()
		if epoch != d.epoch {
			d.mu.Unlock()
			return
		}
		d.view = DocView{ID: id, Data: rec, Err: err}
		if err != nil {
			d.view.Data = nil
		}
		d.mu.Unlock()
		d.notify()
	}()
}

func (d *Doc) View() DocView {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.view
}

func (d *Doc) Updated() <-chan struct{} {
	return d.updated
}

// Close drops any fetch still in flight.
func (d *Doc) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.epoch++
}

func (d *Doc) notify() {
	select {
	case d.updated <- struct{}{}:
	default:
	}
}
