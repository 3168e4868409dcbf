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
)

var ErrUnknownEntityType = errors.New("unknown entity type")

// Factory hands out one configured Repository per entity kind.
type Factory struct {
	store store.Store
	repos map[entity.Kind]*Repository
}

func NewFactory(s store.Store, ids identity.Provider) *Factory {
	f := &Factory{store: s, repos: make(map[entity.Kind]*Repository, len(entity.Kinds))}
	for _, k := range entity.Kinds {
		f.repos[k] = New(entity.ConfigFor(k), s, ids)
	}
	return f
}

func (f *Factory) For(k entity.Kind) *Repository {
	if r, ok := f.repos[k]; ok {
		return r
	}
	panic(fmt.Sprintf("repository: kind %v not registered", k))
}

// Lookup resolves an entity-type name coming from outside the process.
func (f *Factory) Lookup(name string) (*Repository, error) {
	k, err := entity.ParseKind(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEntityType, name)
	}
	return f.For(k), nil
}

// EnsureIndexes creates the (ownership, isDeleted, sort) index of every kind
// on stores that support indexes.
func (f *Factory) EnsureIndexes(ctx context.Context) error {
	ix, ok := f.store.(store.Indexer)
	if !ok {
		return nil
	}
	for _, k := range entity.Kinds {
		cfg := entity.ConfigFor(k)
		err := ix.EnsureIndex(ctx, cfg.Collection,
			store.IndexField{Field: cfg.OwnershipField, Direction: store.Ascending},
			store.IndexField{Field: record.FieldIsDeleted, Direction: store.Ascending},
			store.IndexField{Field: cfg.SortField, Direction: cfg.SortDirection},
		)
		if err != nil {
			return err
		}
		logger.Debugf("index ensured on %s(%s, %s, %s)", cfg.Collection, cfg.OwnershipField, record.FieldIsDeleted, cfg.SortField)
	}
	return nil
}
