package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// codeUnauthorized is the server error returned when the connected user
// lacks the privilege for a command.
const codeUnauthorized = 13

// MongoStore implements Store on a MongoDB database. Documents use string
// "_id" keys; live queries are built on change streams and therefore need a
// replica set.
type MongoStore struct {
	db *mongo.Database
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{db: db}
}

func (s *MongoStore) Get(ctx context.Context, collection, id string) (Snapshot, error) {
	var raw bson.M
	err := s.db.Collection(collection).FindOne(ctx, bson.M{"_id": id}).Decode(&raw)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return Snapshot{ID: id}, nil
		}
		return Snapshot{}, translate(err)
	}
	return toSnapshot(raw), nil
}

func (s *MongoStore) Create(ctx context.Context, collection string, fields Fields) (string, error) {
	id := uuid.NewString()
	doc := bson.M{"_id": id}
	for k, v := range resolve(cloneFields(fields), time.Now().UTC()) {
		doc[k] = v
	}
	if _, err := s.db.Collection(collection).InsertOne(ctx, doc); err != nil {
		return "", translate(err)
	}
	return id, nil
}

func (s *MongoStore) Update(ctx context.Context, collection, id string, fields Fields) error {
	res, err := s.db.Collection(collection).UpdateOne(ctx, bson.M{"_id": id}, updateDocument(fields))
	if err != nil {
		return translate(err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) Query(ctx context.Context, q Query) ([]Snapshot, error) {
	opts := options.Find()
	if sort := toSort(q); sort != nil {
		opts.SetSort(sort)
	}
	cur, err := s.db.Collection(q.Collection).Find(ctx, toFilter(q.Filters), opts)
	if err != nil {
		return nil, translate(err)
	}
	defer cur.Close(ctx)
	out := []Snapshot{}
	for cur.Next(ctx) {
		var raw bson.M
		if err := cur.Decode(&raw); err != nil {
			return nil, fmt.Errorf("decode %s: %w", q.Collection, err)
		}
		out = append(out, toSnapshot(raw))
	}
	if err := cur.Err(); err != nil {
		return nil, translate(err)
	}
	return out, nil
}

// Watch opens a change stream on the collection before running the initial
// query, so no change between the two is missed. Each change (bursts are
// drained first) re-runs the query and delivers the full result.
func (s *MongoStore) Watch(ctx context.Context, q Query, fn Listener) (CancelFunc, error) {
	wctx, cancel := context.WithCancel(ctx)
	cs, err := s.db.Collection(q.Collection).Watch(wctx, mongo.Pipeline{})
	if err != nil {
		cancel()
		return nil, translate(err)
	}
	go func() {
		defer cs.Close(context.Background())
		s.emit(wctx, q, fn)
		for cs.Next(wctx) {
			for cs.TryNext(wctx) {
			}
			s.emit(wctx, q, fn)
		}
		if err := cs.Err(); err != nil && wctx.Err() == nil {
			fn(nil, translate(err))
		}
	}()
	return Once(CancelFunc(cancel)), nil
}

func (s *MongoStore) emit(ctx context.Context, q Query, fn Listener) {
	snaps, err := s.Query(ctx, q)
	if ctx.Err() != nil {
		return
	}
	fn(snaps, err)
}

func (s *MongoStore) EnsureIndex(ctx context.Context, collection string, fields ...IndexField) error {
	keys := bson.D{}
	for _, f := range fields {
		keys = append(keys, bson.E{Key: f.Field, Value: direction(f.Direction)})
	}
	if _, err := s.db.Collection(collection).Indexes().CreateOne(ctx, mongo.IndexModel{Keys: keys}); err != nil {
		return fmt.Errorf("ensure index on %s: %w", collection, translate(err))
	}
	return nil
}

func direction(d Direction) int {
	if d == Descending {
		return -1
	}
	return 1
}

func toFilter(filters []Filter) bson.D {
	out := bson.D{}
	for _, f := range filters {
		switch f.Op {
		case OpArrayContains:
			out = append(out, bson.E{Key: f.Field, Value: bson.M{"$elemMatch": bson.M{"$eq": f.Value}}})
		default:
			out = append(out, bson.E{Key: f.Field, Value: f.Value})
		}
	}
	return out
}

func toSort(q Query) bson.D {
	if q.OrderBy == "" {
		return nil
	}
	// _id as tie-breaker keeps pages stable between runs
	return bson.D{{Key: q.OrderBy, Value: direction(q.Direction)}, {Key: "_id", Value: 1}}
}

// updateDocument turns a merge payload into $set / $currentDate operators.
// Nested maps carrying a ServerTimestamp are flattened to dotted paths so the
// server clock fills them in.
func updateDocument(fields Fields) bson.M {
	set := bson.M{}
	now := bson.M{}
	for k, v := range fields {
		if IsServerTimestamp(v) {
			now[k] = true
			continue
		}
		if m, ok := v.(map[string]any); ok && hasTimestamp(m) {
			for sk, sv := range m {
				path := k + "." + sk
				if IsServerTimestamp(sv) {
					now[path] = true
				} else {
					set[path] = sv
				}
			}
			continue
		}
		set[k] = v
	}
	doc := bson.M{}
	if len(set) > 0 {
		doc["$set"] = bson.M(resolve(set, time.Now().UTC()))
	}
	if len(now) > 0 {
		doc["$currentDate"] = now
	}
	return doc
}

func hasTimestamp(m map[string]any) bool {
	for _, v := range m {
		if IsServerTimestamp(v) {
			return true
		}
	}
	return false
}

func toSnapshot(raw bson.M) Snapshot {
	id := fmt.Sprint(plain(raw["_id"]))
	fields := make(Fields, len(raw))
	for k, v := range raw {
		if k == "_id" {
			continue
		}
		fields[k] = plain(v)
	}
	return Snapshot{ID: id, Exists: true, Fields: fields}
}

// plain converts decoded BSON values into the plain Go values the rest of
// the code works with.
func plain(v any) any {
	switch x := v.(type) {
	case primitive.DateTime:
		return x.Time().UTC()
	case primitive.Timestamp:
		return time.Unix(int64(x.T), 0).UTC()
	case primitive.ObjectID:
		return x.Hex()
	case primitive.A:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = plain(e)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = plain(e)
		}
		return out
	case primitive.M:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = plain(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = plain(e)
		}
		return out
	case primitive.D:
		out := make(map[string]any, len(x))
		for _, e := range x {
			out[e.Key] = plain(e.Value)
		}
		return out
	}
	return v
}

func translate(err error) error {
	var se mongo.ServerError
	if errors.As(err, &se) && se.HasErrorCode(codeUnauthorized) {
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	return err
}
