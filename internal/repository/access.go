package repository

import (
	"context"
	"fmt"

	"github.com/carecoord/carecoord/internal/entity"
	"github.com/carecoord/carecoord/internal/record"
	"github.com/carecoord/carecoord/internal/store"
)

// A caller reaches the records it owns (the ownership field equals or lists
// its id) and every record whose parent reference names a live record it
// reaches. Parent references never form a cycle, so the walk ends.

// Authorize reads the record id of r for uid. It returns nil, nil when the
// record does not exist and store.ErrPermissionDenied when uid cannot reach
// it. Soft-deleted records stay reachable by their owners.
func (f *Factory) Authorize(ctx context.Context, r *Repository, id, uid string) (record.Record, error) {
	rec, err := r.Get(ctx, id)
	if err != nil || rec == nil {
		return rec, err
	}
	ok, err := f.newReach(uid).record(ctx, r.cfg, rec)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", store.ErrPermissionDenied, r.cfg.Collection, id)
	}
	return rec, nil
}

// AuthorizeFilter checks a filtered read of field == value for uid. A filter
// on a parent reference is allowed when uid reaches that parent, and every
// record it selects is then reachable too. For any other field perRecord is
// true and the results must go through Reachable.
func (f *Factory) AuthorizeFilter(ctx context.Context, r *Repository, field, value, uid string) (perRecord bool, err error) {
	kind, isParent := r.cfg.ParentKind(field)
	if !isParent {
		return true, nil
	}
	ok, err := f.newReach(uid).ref(ctx, kind, value)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, fmt.Errorf("%w: %s %s", store.ErrPermissionDenied, kind, value)
	}
	return false, nil
}

// Reachable keeps the records of recs that uid reaches, in order.
func (f *Factory) Reachable(ctx context.Context, r *Repository, recs []record.Record, uid string) ([]record.Record, error) {
	rc := f.newReach(uid)
	out := make([]record.Record, 0, len(recs))
	for _, rec := range recs {
		ok, err := rc.record(ctx, r.cfg, rec)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (f *Factory) newReach(uid string) *reach {
	return &reach{f: f, uid: uid, seen: map[string]bool{}}
}

// reach memoizes parent lookups for one caller.
type reach struct {
	f    *Factory
	uid  string
	seen map[string]bool
}

func (rc *reach) record(ctx context.Context, cfg entity.Config, rec record.Record) (bool, error) {
	if owns(cfg, rec, rc.uid) {
		return true, nil
	}
	for _, p := range cfg.Parents {
		id := rec.String(p.Field)
		if id == "" {
			continue
		}
		ok, err := rc.ref(ctx, p.Kind, id)
		if err != nil || ok {
			return ok, err
		}
	}
	return false, nil
}

func (rc *reach) ref(ctx context.Context, k entity.Kind, id string) (bool, error) {
	key := k.String() + "/" + id
	if ok, done := rc.seen[key]; done {
		return ok, nil
	}
	repo := rc.f.For(k)
	parent, err := repo.Get(ctx, id)
	if err != nil {
		return false, err
	}
	ok := false
	if parent != nil && !parent.IsDeleted() {
		if ok, err = rc.record(ctx, repo.cfg, parent); err != nil {
			return false, err
		}
	}
	rc.seen[key] = ok
	return ok, nil
}

func owns(cfg entity.Config, rec record.Record, uid string) bool {
	if uid == "" {
		return false
	}
	if !cfg.OwnershipIsArray {
		return rec.String(cfg.OwnershipField) == uid
	}
	for _, m := range rec.Strings(cfg.OwnershipField) {
		if m == uid {
			return true
		}
	}
	return false
}
