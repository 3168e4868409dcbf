// Package subscription turns repository live queries and one-shot reads into
// pull-based views with loading and error state.
//
// Every hook keeps an epoch counter that is bumped whenever its argument
// changes or it is closed. Callbacks carry the epoch they were opened under
// and are dropped when it is no longer current, so a late snapshot from a
// torn-down subscription can never overwrite newer state.
package subscription

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"time"

	"github.com/carecoord/carecoord/internal/record"
	"github.com/carecoord/carecoord/internal/repository"
	"github.com/carecoord/carecoord/internal/store"
	"github.com/carecoord/carecoord/pkg/metrics"
)

// ErrLoadTimeout is reported when a hook stays loading longer than the cap
// set with WithLoadTimeout.
var ErrLoadTimeout = errors.New("subscription: no data before load timeout")

// Source is the subscribe side of a repository.
type Source interface {
	SubscribeOwned(ctx context.Context, uid string, fn repository.Listener) (store.CancelFunc, error)
	SubscribeFiltered(ctx context.Context, field string, value any, fn repository.Listener) (store.CancelFunc, error)
}

type Option func(*options)

type options struct {
	loadTimeout time.Duration
	label       string
}

// WithLoadTimeout caps how long a hook may stay loading. Zero means no cap.
func WithLoadTimeout(d time.Duration) Option {
	return func(o *options) { o.loadTimeout = d }
}

// WithLabel sets the kind label used for metrics.
func WithLabel(kind string) Option {
	return func(o *options) { o.label = kind }
}

// View is the state of a list hook at one point in time.
type View struct {
	Data    []record.Record
	Loading bool
	Err     error
}

type listArg struct {
	owned bool
	uid   string
	field string
	value any
}

func (a *listArg) equal(b *listArg) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.owned == b.owned && a.uid == b.uid && a.field == b.field && reflect.DeepEqual(a.value, b.value)
}

// List is a live list subscription. It is Idle until given an identity or a
// filter, Subscribing until the first result arrives, and Subscribed after.
// The zero value is not usable; call NewList.
type List struct {
	ctx  context.Context
	src  Source
	opts options

	mu      sync.Mutex
	epoch   uint64
	arg     *listArg
	cancel  store.CancelFunc
	timer   *time.Timer
	view    View
	closed  bool
	updated chan struct{}
}

func NewList(ctx context.Context, src Source, opts ...Option) *List {
	o := options{label: "list"}
	for _, fn := range opts {
		fn(&o)
	}
	return &List{
		ctx:     ctx,
		src:     src,
		opts:    o,
		view:    View{Data: []record.Record{}},
		updated: make(chan struct{}, 1),
	}
}

// Owned follows the records visible to uid. An empty uid returns the hook
// to Idle.
func (l *List) Owned(uid string) {
	if uid == "" {
		l.set(nil)
		return
	}
	l.set(&listArg{owned: true, uid: uid})
}

// Filtered follows the records whose field equals value. An empty field or
// a nil value returns the hook to Idle.
func (l *List) Filtered(field string, value any) {
	if field == "" || value == nil {
		l.set(nil)
		return
	}
	l.set(&listArg{field: field, value: value})
}

// View returns a copy of the current state.
func (l *List) View() View {
	l.mu.Lock()
	defer l.mu.Unlock()
	v := l.view
	v.Data = append([]record.Record(nil), l.view.Data...)
	if v.Data == nil {
		v.Data = []record.Record{}
	}
	return v
}

// Updated signals after every state change. Signals coalesce: a receiver
// should read View once per signal.
func (l *List) Updated() <-chan struct{} {
	return l.updated
}

// Close cancels the live subscription. Callbacks arriving afterwards are
// dropped.
func (l *List) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	l.epoch++
	l.arg = nil
	cancel := l.detach()
	l.mu.Unlock()
	l.release(cancel)
}

// detach must be called with l.mu held.
func (l *List) detach() store.CancelFunc {
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
	cancel := l.cancel
	l.cancel = nil
	return cancel
}

func (l *List) release(cancel store.CancelFunc) {
	if cancel == nil {
		return
	}
	cancel()
	metrics.SubscriptionsActive.WithLabelValues(l.opts.label).Dec()
}

func (l *List) set(arg *listArg) {
	l.mu.Lock()
	if l.closed || l.arg.equal(arg) {
		l.mu.Unlock()
		return
	}
	l.epoch++
	epoch := l.epoch
	l.arg = arg
	old := l.detach()
	l.view = View{Data: []record.Record{}, Loading: arg != nil}
	l.mu.Unlock()

	l.release(old)
	l.notify()
	if arg == nil {
		return
	}

	listen := func(recs []record.Record, err error) { l.deliver(epoch, recs, err) }
	var (
		cancel store.CancelFunc
		err    error
	)
	if arg.owned {
		cancel, err = l.src.SubscribeOwned(l.ctx, arg.uid, listen)
	} else {
		cancel, err = l.src.SubscribeFiltered(l.ctx, arg.field, arg.value, listen)
	}

	l.mu.Lock()
	if epoch != l.epoch {
		// superseded or closed while subscribing
		l.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		return
	}
	if err != nil {
		l.view = View{Data: []record.Record{}, Err: err}
		l.mu.Unlock()
		l.notify()
		return
	}
	l.cancel = cancel
	metrics.SubscriptionsActive.WithLabelValues(l.opts.label).Inc()
	if l.opts.loadTimeout > 0 && l.view.Loading {
		l.timer = time.AfterFunc(l.opts.loadTimeout, func() { l.expire(epoch) })
	}
	l.mu.Unlock()
}

func (l *List) deliver(epoch uint64, recs []record.Record, err error) {
	l.mu.Lock()
	if epoch != l.epoch {
		l.mu.Unlock()
		return
	}
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
	if err != nil {
		l.view = View{Data: []record.Record{}, Err: err}
	} else {
		if recs == nil {
			recs = []record.Record{}
		}
		l.view = View{Data: recs}
	}
	l.mu.Unlock()
	l.notify()
}

func (l *List) expire(epoch uint64) {
	l.mu.Lock()
	if epoch != l.epoch || !l.view.Loading {
		l.mu.Unlock()
		return
	}
	l.timer = nil
	l.view = View{Data: []record.Record{}, Err: ErrLoadTimeout}
	l.mu.Unlock()
	l.notify()
}

func (l *List) notify() {
	select {
	case l.updated <- struct{}{}:
	default:
	}
}
