package sessions

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoRepository keeps sessions in a collection when Redis is not
// configured. A TTL index on expiresAt removes stale sessions.
type MongoRepository struct {
	col *mongo.Collection
	now func() time.Time
}

func NewMongoRepository(col *mongo.Collection) *MongoRepository {
	return &MongoRepository{col: col, now: func() time.Time { return time.Now().UTC() }}
}

// EnsureIndexes creates the unique refresh-token index and the TTL index on
// expiresAt.
func (r *MongoRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.col.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "refreshToken", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "expiresAt", Value: 1}}, Options: options.Index().SetExpireAfterSeconds(0)},
	})
	return err
}

func (r *MongoRepository) Create(ctx context.Context, s *Session) error {
	if s.ExpiresAt.IsZero() {
		return errors.New("session has no expiry")
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = r.now()
	}
	_, err := r.col.InsertOne(ctx, s)
	return err
}

// liveSession matches the session for refresh unless it has expired. The
// TTL monitor only sweeps about once a minute.
func liveSession(refresh string, now time.Time) bson.M {
	return bson.M{"refreshToken": refresh, "expiresAt": bson.M{"$gt": now}}
}

func (r *MongoRepository) GetByRefresh(ctx context.Context, refresh string) (*Session, error) {
	var s Session
	err := r.col.FindOne(ctx, liveSession(refresh, r.now())).Decode(&s)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *MongoRepository) DeleteByRefresh(ctx context.Context, refresh string) error {
	_, err := r.col.DeleteOne(ctx, bson.M{"refreshToken": refresh})
	return err
}
