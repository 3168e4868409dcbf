package store

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Access int

const (
	AccessRead Access = iota
	AccessWrite
)

// Rule stands in for the hosted store's security rules. Returning an error
// (normally ErrPermissionDenied) rejects the access.
type Rule func(access Access, collection string) error

// MemoryStore is an in-process Store used by tests, the dev server and the
// watch CLI when no MongoDB is configured.
type MemoryStore struct {
	mu       sync.RWMutex
	cols     map[string]map[string]*memDoc
	seq      uint64
	watchers map[uint64]*watcher
	nextW    uint64
	rule     Rule
	clock    func() time.Time
	newID    func() string
}

type memDoc struct {
	fields Fields
	seq    uint64
}

type MemoryOption func(*MemoryStore)

// WithClock sets the clock used to resolve ServerTimestamp.
func WithClock(clock func() time.Time) MemoryOption {
	return func(m *MemoryStore) { m.clock = clock }
}

// WithIDGenerator sets the key generator used by Create.
func WithIDGenerator(gen func() string) MemoryOption {
	return func(m *MemoryStore) { m.newID = gen }
}

func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	m := &MemoryStore{
		cols:     make(map[string]map[string]*memDoc),
		watchers: make(map[uint64]*watcher),
		clock:    func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// SetRule replaces the access rule and re-evaluates every live query, so a
// revoked reader sees the change immediately.
func (m *MemoryStore) SetRule(r Rule) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rule = r
	for _, w := range m.watchers {
		w.push(m.evaluate(w.q))
	}
}

func (m *MemoryStore) check(access Access, collection string) error {
	if m.rule == nil {
		return nil
	}
	return m.rule(access, collection)
}

func (m *MemoryStore) Get(ctx context.Context, collection, id string) (Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check(AccessRead, collection); err != nil {
		return Snapshot{}, err
	}
	d, ok := m.cols[collection][id]
	if !ok {
		return Snapshot{ID: id}, nil
	}
	return Snapshot{ID: id, Exists: true, Fields: cloneFields(d.fields)}, nil
}

func (m *MemoryStore) Create(ctx context.Context, collection string, fields Fields) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(AccessWrite, collection); err != nil {
		return "", err
	}
	col, ok := m.cols[collection]
	if !ok {
		col = make(map[string]*memDoc)
		m.cols[collection] = col
	}
	id := m.newID()
	if _, dup := col[id]; dup {
		return "", fmt.Errorf("create %s/%s: key already exists", collection, id)
	}
	m.seq++
	col[id] = &memDoc{fields: resolve(cloneFields(fields), m.clock()), seq: m.seq}
	m.notify(collection)
	return id, nil
}

func (m *MemoryStore) Update(ctx context.Context, collection, id string, fields Fields) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(AccessWrite, collection); err != nil {
		return err
	}
	d, ok := m.cols[collection][id]
	if !ok {
		return ErrNotFound
	}
	for k, v := range resolve(cloneFields(fields), m.clock()) {
		d.fields[k] = v
	}
	m.notify(collection)
	return nil
}

func (m *MemoryStore) Query(ctx context.Context, q Query) ([]Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.evaluate(q)
}

func (m *MemoryStore) Watch(ctx context.Context, q Query, fn Listener) (CancelFunc, error) {
	w := &watcher{q: q, fn: fn, kick: make(chan struct{}, 1), done: make(chan struct{})}

	m.mu.Lock()
	m.nextW++
	wid := m.nextW
	m.watchers[wid] = w
	w.push(m.evaluate(q))
	m.mu.Unlock()

	stop := Once(func() {
		m.mu.Lock()
		delete(m.watchers, wid)
		m.mu.Unlock()
		close(w.done)
	})
	go func() {
		w.run(ctx)
		stop()
	}()
	return stop, nil
}

// EnsureIndex is a no-op; the memory store scans.
func (m *MemoryStore) EnsureIndex(ctx context.Context, collection string, fields ...IndexField) error {
	return nil
}

// notify must be called with m.mu held.
func (m *MemoryStore) notify(collection string) {
	for _, w := range m.watchers {
		if w.q.Collection == collection {
			w.push(m.evaluate(w.q))
		}
	}
}

// evaluate must be called with m.mu held (read or write).
func (m *MemoryStore) evaluate(q Query) ([]Snapshot, error) {
	if err := m.check(AccessRead, q.Collection); err != nil {
		return nil, err
	}
	type hit struct {
		id  string
		doc *memDoc
	}
	var hits []hit
	for id, d := range m.cols[q.Collection] {
		if matches(d.fields, q.Filters) {
			hits = append(hits, hit{id: id, doc: d})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if q.OrderBy != "" {
			a, _ := Lookup(hits[i].doc.fields, q.OrderBy)
			b, _ := Lookup(hits[j].doc.fields, q.OrderBy)
			if c := compare(a, b); c != 0 {
				if q.Direction == Descending {
					return c > 0
				}
				return c < 0
			}
		}
		return hits[i].doc.seq < hits[j].doc.seq
	})
	out := make([]Snapshot, 0, len(hits))
	for _, h := range hits {
		out = append(out, Snapshot{ID: h.id, Exists: true, Fields: cloneFields(h.doc.fields)})
	}
	return out, nil
}

// watcher delivers results of one live query on its own goroutine. Only the
// latest pending result is kept: every result is a full set, so dropping an
// intermediate one loses nothing.
type watcher struct {
	q    Query
	fn   Listener
	kick chan struct{}
	done chan struct{}

	mu      sync.Mutex
	pending *emission
}

type emission struct {
	snaps []Snapshot
	err   error
}

func (w *watcher) push(snaps []Snapshot, err error) {
	w.mu.Lock()
	w.pending = &emission{snaps: snaps, err: err}
	w.mu.Unlock()
	select {
	case w.kick <- struct{}{}:
	default:
	}
}

func (w *watcher) run(ctx context.Context) {
	for {
		select {
		case <-w.done:
			return
		case <-ctx.Done():
			return
		case <-w.kick:
		}
		w.mu.Lock()
		e := w.pending
		w.pending = nil
		w.mu.Unlock()
		if e == nil {
			continue
		}
		select {
		case <-w.done:
			return
		default:
		}
		w.fn(e.snaps, e.err)
	}
}

func matches(fields Fields, filters []Filter) bool {
	for _, f := range filters {
		v, ok := Lookup(fields, f.Field)
		switch f.Op {
		case OpEqual:
			if !ok || !reflect.DeepEqual(v, f.Value) {
				return false
			}
		case OpArrayContains:
			if !ok || !contains(v, f.Value) {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func contains(arr, value any) bool {
	switch a := arr.(type) {
	case []any:
		for _, e := range a {
			if reflect.DeepEqual(e, value) {
				return true
			}
		}
	case []string:
		s, ok := value.(string)
		if !ok {
			return false
		}
		for _, e := range a {
			if e == s {
				return true
			}
		}
	}
	return false
}

// compare orders values of the same family; missing values sort first.
func compare(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	switch x := a.(type) {
	case time.Time:
		if y, ok := b.(time.Time); ok {
			return x.Compare(y)
		}
	case string:
		if y, ok := b.(string); ok {
			switch {
			case x < y:
				return -1
			case x > y:
				return 1
			}
			return 0
		}
	case bool:
		if y, ok := b.(bool); ok && x != y {
			if !x {
				return -1
			}
			return 1
		}
		return 0
	}
	if x, ok := number(a); ok {
		if y, ok := number(b); ok {
			switch {
			case x < y:
				return -1
			case x > y:
				return 1
			}
			return 0
		}
	}
	return 0
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func cloneFields(f Fields) Fields {
	if f == nil {
		return Fields{}
	}
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		return cloneFields(x)
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = cloneValue(e)
		}
		return out
	case []string:
		return append([]string(nil), x...)
	}
	return v
}

// resolve replaces ServerTimestamp sentinels in place with now.
func resolve(f Fields, now time.Time) Fields {
	for k, v := range f {
		f[k] = resolveValue(v, now)
	}
	return f
}

func resolveValue(v any, now time.Time) any {
	switch x := v.(type) {
	case map[string]any:
		return resolve(x, now)
	case []any:
		for i, e := range x {
			x[i] = resolveValue(e, now)
		}
		return x
	}
	if IsServerTimestamp(v) {
		return now
	}
	return v
}
