// Package record stamps audit metadata onto writes and turns store snapshots
// into plain records with the document key merged in as "id".
package record

import (
	"context"
	"time"

	"github.com/carecoord/carecoord/internal/identity"
	"github.com/carecoord/carecoord/internal/store"
)

const (
	FieldID        = "id"
	FieldCreated   = "created"
	FieldUpdated   = "updated"
	FieldIsDeleted = "isDeleted"
	FieldBy        = "by"
	FieldOn        = "on"
)

// Record is a normalized document.
type Record map[string]any

// Stamp is the {by, on} audit pair.
type Stamp struct {
	By string
	On time.Time
}

func (r Record) ID() string { return r.String(FieldID) }

func (r Record) IsDeleted() bool {
	b, _ := r[FieldIsDeleted].(bool)
	return b
}

// String returns the string at a (possibly dotted) path, or "".
func (r Record) String(path string) string {
	v, _ := store.Lookup(r, path)
	s, _ := v.(string)
	return s
}

// Strings returns the string list at path. Both []string and []any holding
// strings are accepted.
func (r Record) Strings(path string) []string {
	v, _ := store.Lookup(r, path)
	switch x := v.(type) {
	case []string:
		return append([]string(nil), x...)
	case []any:
		out := make([]string, 0, len(x))
		for _, e := range x {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Time returns the timestamp at path; the zero time when absent.
func (r Record) Time(path string) time.Time {
	v, _ := store.Lookup(r, path)
	t, _ := v.(time.Time)
	return t
}

func (r Record) Created() Stamp {
	return Stamp{By: r.String(FieldCreated + "." + FieldBy), On: r.Time(FieldCreated + "." + FieldOn)}
}

func (r Record) Updated() Stamp {
	return Stamp{By: r.String(FieldUpdated + "." + FieldBy), On: r.Time(FieldUpdated + "." + FieldOn)}
}

func stamp(uid string) map[string]any {
	return map[string]any{FieldBy: uid, FieldOn: store.ServerTimestamp}
}

// CreationStamp returns the metadata merged into every new document.
// Both "on" values are the same sentinel, so they resolve to one instant.
func CreationStamp(ctx context.Context, p identity.Provider) (store.Fields, error) {
	uid, err := identity.Current(ctx, p)
	if err != nil {
		return nil, err
	}
	return store.Fields{
		FieldCreated:   stamp(uid),
		FieldUpdated:   stamp(uid),
		FieldIsDeleted: false,
	}, nil
}

func UpdateStamp(ctx context.Context, p identity.Provider) (store.Fields, error) {
	uid, err := identity.Current(ctx, p)
	if err != nil {
		return nil, err
	}
	return store.Fields{FieldUpdated: stamp(uid)}, nil
}

// DeletionStamp is the update stamp plus the soft-delete flag.
func DeletionStamp(ctx context.Context, p identity.Provider) (store.Fields, error) {
	f, err := UpdateStamp(ctx, p)
	if err != nil {
		return nil, err
	}
	f[FieldIsDeleted] = true
	return f, nil
}

// Normalize returns nil for a missing document.
func Normalize(s store.Snapshot) Record {
	if !s.Exists {
		return nil
	}
	r := make(Record, len(s.Fields)+1)
	for k, v := range s.Fields {
		r[k] = v
	}
	r[FieldID] = s.ID
	return r
}

// NormalizeList keeps the store's ordering and never returns nil.
func NormalizeList(snaps []store.Snapshot) []Record {
	out := make([]Record, 0, len(snaps))
	for _, s := range snaps {
		if r := Normalize(s); r != nil {
			out = append(out, r)
		}
	}
	return out
}
