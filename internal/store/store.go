// Package store defines the document store the repository layer talks to:
// keyed documents grouped in collections, merge updates, filtered and sorted
// queries, and live queries that push the full result set on every change.
package store

import (
	"context"
	"errors"
	"strings"
	"sync"
)

var (
	ErrNotFound = errors.New("document not found")
	// ErrPermissionDenied is returned when the store's access rules reject an
	// operation. It is kept distinct from every other failure class.
	ErrPermissionDenied = errors.New("permission denied")
)

// Fields is the field/value payload of a document.
type Fields = map[string]any

type serverTimestamp struct{}

// ServerTimestamp may be used as a field value (also inside nested maps) on
// create and update. The store replaces it with its own clock at write time;
// every occurrence in one write resolves to the same instant.
var ServerTimestamp any = serverTimestamp{}

// IsServerTimestamp reports whether v is the ServerTimestamp sentinel.
func IsServerTimestamp(v any) bool {
	_, ok := v.(serverTimestamp)
	return ok
}

// Snapshot is one document as read from the store.
type Snapshot struct {
	ID     string
	Exists bool
	Fields Fields
}

type Op int

const (
	// OpEqual matches documents whose field equals the value.
	OpEqual Op = iota
	// OpArrayContains matches documents whose array field contains the value.
	OpArrayContains
)

type Filter struct {
	Field string
	Op    Op
	Value any
}

type Direction int

const (
	Ascending Direction = iota
	Descending
)

func (d Direction) String() string {
	if d == Descending {
		return "desc"
	}
	return "asc"
}

// Query selects documents of one collection. All filters must match.
// Field names may be dotted paths into nested maps ("created.by").
type Query struct {
	Collection string
	Filters    []Filter
	OrderBy    string
	Direction  Direction
}

// Listener receives the full result set of a live query, or an error.
type Listener func(snaps []Snapshot, err error)

// CancelFunc stops a live query. Calling it more than once is safe.
type CancelFunc func()

// Store is the document store contract.
type Store interface {
	// Get reads one document. A missing document is not an error: the
	// snapshot comes back with Exists == false.
	Get(ctx context.Context, collection, id string) (Snapshot, error)
	// Create writes a new document and returns its generated key.
	Create(ctx context.Context, collection string, fields Fields) (string, error)
	// Update merges fields into an existing document; fields not present are
	// left untouched. Missing documents yield ErrNotFound.
	Update(ctx context.Context, collection, id string, fields Fields) error
	Query(ctx context.Context, q Query) ([]Snapshot, error)
	// Watch opens a live query. fn is called with the initial result and again
	// after every change that may affect it. Watch never blocks on delivery.
	Watch(ctx context.Context, q Query, fn Listener) (CancelFunc, error)
}

// IndexField is one key of a compound index.
type IndexField struct {
	Field     string
	Direction Direction
}

// Indexer is implemented by stores that can maintain secondary indexes.
type Indexer interface {
	EnsureIndex(ctx context.Context, collection string, fields ...IndexField) error
}

// Once wraps fn so that only its first invocation has an effect.
func Once(fn CancelFunc) CancelFunc {
	if fn == nil {
		return func() {}
	}
	var once sync.Once
	return func() { once.Do(fn) }
}

// Compact returns a copy of fields without nil values, recursing into nested
// maps. Writes never persist explicit nulls: a field with no value is omitted.
func Compact(fields Fields) Fields {
	out := make(Fields, len(fields))
	for k, v := range fields {
		if v == nil {
			continue
		}
		if m, ok := v.(map[string]any); ok {
			out[k] = Compact(m)
			continue
		}
		out[k] = v
	}
	return out
}

// Lookup resolves a dotted path inside fields.
func Lookup(fields Fields, path string) (any, bool) {
	var cur any = fields
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}
