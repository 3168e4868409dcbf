// Package repository wraps the document store with per-kind create, read,
// update, soft-delete and subscribe operations.
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/carecoord/carecoord/internal/entity"
	"github.com/carecoord/carecoord/internal/identity"
	"github.com/carecoord/carecoord/internal/record"
	"github.com/carecoord/carecoord/internal/store"
	"github.com/carecoord/carecoord/pkg/logger"
	"github.com/carecoord/carecoord/pkg/metrics"
)

// Listener receives the full, normalized result of a live query.
type Listener func(records []record.Record, err error)

// protected keys are owned by the stamping code and never taken from an
// update payload.
var protected = []string{record.FieldID, record.FieldCreated, record.FieldIsDeleted}

// Repository is a stateless façade over one collection.
type Repository struct {
	cfg   entity.Config
	store store.Store
	ids   identity.Provider
}

func New(cfg entity.Config, s store.Store, ids identity.Provider) *Repository {
	return &Repository{cfg: cfg, store: s, ids: ids}
}

func (r *Repository) Config() entity.Config { return r.cfg }

func (r *Repository) observe(op string, err error) {
	metrics.RepositoryOperations.WithLabelValues(r.cfg.Collection, op, metrics.Result(err)).Inc()
}

// Create stamps and writes a new record and returns its key.
func (r *Repository) Create(ctx context.Context, data store.Fields) (id string, err error) {
	defer func() { r.observe("create", err) }()

	uid, err := identity.Current(ctx, r.ids)
	if err != nil {
		return "", err
	}
	fields := store.Fields{}
	for k, v := range data {
		fields[k] = v
	}
	delete(fields, record.FieldID)
	if r.cfg.OnCreate != nil {
		if fields, err = r.cfg.OnCreate(uid, fields); err != nil {
			return "", err
		}
	}
	stamp, err := record.CreationStamp(ctx, r.ids)
	if err != nil {
		return "", err
	}
	for k, v := range stamp {
		fields[k] = v
	}
	id, err = r.store.Create(ctx, r.cfg.Collection, store.Compact(fields))
	if err != nil {
		return "", fmt.Errorf("create %s: %w", r.cfg.Collection, err)
	}
	return id, nil
}

// Get returns nil, nil when the record does not exist. Soft-deleted records
// are returned as they are.
func (r *Repository) Get(ctx context.Context, id string) (rec record.Record, err error) {
	defer func() { r.observe("get", err) }()

	snap, err := r.store.Get(ctx, r.cfg.Collection, id)
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", r.cfg.Collection, id, err)
	}
	return record.Normalize(snap), nil
}

// Update merges data into the record. Keys owned by the stamping code (id,
// created, isDeleted) are ignored, so an update can neither rewrite creation
// metadata nor bring a deleted record back.
func (r *Repository) Update(ctx context.Context, id string, data store.Fields) (err error) {
	defer func() { r.observe("update", err) }()

	uid, err := identity.Current(ctx, r.ids)
	if err != nil {
		return err
	}
	fields := store.Fields{}
	for k, v := range data {
		fields[k] = v
	}
	for _, k := range protected {
		delete(fields, k)
	}
	if err := r.keepOwner(ctx, id, fields); err != nil {
		return err
	}
	if r.cfg.OnUpdate != nil {
		if fields, err = r.cfg.OnUpdate(uid, fields); err != nil {
			return err
		}
	}
	stamp, err := record.UpdateStamp(ctx, r.ids)
	if err != nil {
		return err
	}
	for k, v := range stamp {
		fields[k] = v
	}
	return r.write(ctx, id, fields)
}

// keepOwner adds the stored owner to an update that replaces the member
// list without naming an owner, so the transform keeps the owner a member.
func (r *Repository) keepOwner(ctx context.Context, id string, fields store.Fields) error {
	if r.cfg.OwnerField == "" || fields[r.cfg.OwnershipField] == nil {
		return nil
	}
	if owner, _ := fields[r.cfg.OwnerField].(string); owner != "" {
		return nil
	}
	snap, err := r.store.Get(ctx, r.cfg.Collection, id)
	if err != nil {
		return fmt.Errorf("get %s/%s: %w", r.cfg.Collection, id, err)
	}
	if owner := record.Normalize(snap).String(r.cfg.OwnerField); owner != "" {
		fields[r.cfg.OwnerField] = owner
	}
	return nil
}

// Delete marks the record deleted. Nothing is ever physically removed.
func (r *Repository) Delete(ctx context.Context, id string) (err error) {
	defer func() { r.observe("delete", err) }()

	stamp, err := record.DeletionStamp(ctx, r.ids)
	if err != nil {
		return err
	}
	return r.write(ctx, id, stamp)
}

func (r *Repository) write(ctx context.Context, id string, fields store.Fields) error {
	if err := r.store.Update(ctx, r.cfg.Collection, id, store.Compact(fields)); err != nil {
		return fmt.Errorf("update %s/%s: %w", r.cfg.Collection, id, err)
	}
	return nil
}

// OwnedQuery selects the live records visible to uid.
func (r *Repository) OwnedQuery(uid string) store.Query {
	f := store.Filter{Field: r.cfg.OwnershipField, Op: store.OpEqual, Value: uid}
	if r.cfg.OwnershipIsArray {
		f.Op = store.OpArrayContains
	}
	return r.query(f)
}

// FilteredQuery selects the live records whose field equals value.
func (r *Repository) FilteredQuery(field string, value any) store.Query {
	return r.query(store.Filter{Field: field, Op: store.OpEqual, Value: value})
}

func (r *Repository) query(f store.Filter) store.Query {
	return store.Query{
		Collection: r.cfg.Collection,
		Filters: []store.Filter{
			f,
			{Field: record.FieldIsDeleted, Op: store.OpEqual, Value: false},
		},
		OrderBy:   r.cfg.SortField,
		Direction: r.cfg.SortDirection,
	}
}

func (r *Repository) ListOwned(ctx context.Context, uid string) ([]record.Record, error) {
	return r.list(ctx, r.OwnedQuery(uid))
}

func (r *Repository) ListFiltered(ctx context.Context, field string, value any) ([]record.Record, error) {
	return r.list(ctx, r.FilteredQuery(field, value))
}

func (r *Repository) list(ctx context.Context, q store.Query) (recs []record.Record, err error) {
	defer func() { r.observe("list", err) }()

	snaps, err := r.store.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", r.cfg.Collection, err)
	}
	return record.NormalizeList(snaps), nil
}

func (r *Repository) SubscribeOwned(ctx context.Context, uid string, fn Listener) (store.CancelFunc, error) {
	return r.subscribe(ctx, r.OwnedQuery(uid), fn)
}

func (r *Repository) SubscribeFiltered(ctx context.Context, field string, value any, fn Listener) (store.CancelFunc, error) {
	return r.subscribe(ctx, r.FilteredQuery(field, value), fn)
}

// subscribe opens a live query. A permission-denied answer from the store,
// whether at open time or later, is delivered as an empty result. Other
// errors are logged and passed on.
func (r *Repository) subscribe(ctx context.Context, q store.Query, fn Listener) (store.CancelFunc, error) {
	kind := r.cfg.Collection
	listen := func(snaps []store.Snapshot, err error) {
		if err != nil {
			if errors.Is(err, store.ErrPermissionDenied) {
				metrics.SubscriptionDenied.WithLabelValues(kind).Inc()
				fn([]record.Record{}, nil)
				return
			}
			logger.Errorf("subscription on %s failed: %v", kind, err)
			fn([]record.Record{}, err)
			return
		}
		metrics.SnapshotsDelivered.WithLabelValues(kind).Inc()
		fn(record.NormalizeList(snaps), nil)
	}

	cancel, err := r.store.Watch(ctx, q, listen)
	r.observe("subscribe", err)
	if err != nil {
		if errors.Is(err, store.ErrPermissionDenied) {
			listen(nil, err)
			return store.Once(nil), nil
		}
		logger.Errorf("subscribe to %s failed: %v", kind, err)
		return nil, fmt.Errorf("subscribe %s: %w", kind, err)
	}
	return store.Once(cancel), nil
}
