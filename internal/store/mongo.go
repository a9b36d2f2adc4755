package store

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/AnshRaj112/tracklog-backend/internal/models"
)

const (
	usersCollection     = "users"
	sessionsCollection  = "user_sessions"
	sightingsCollection = "sightings"
)

// MongoStore is the default backend; one document per user, session and sighting.
type MongoStore struct {
	db        *mongo.Database
	users     *mongo.Collection
	sessions  *mongo.Collection
	sightings *mongo.Collection
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{
		db:        db,
		users:     db.Collection(usersCollection),
		sessions:  db.Collection(sessionsCollection),
		sightings: db.Collection(sightingsCollection),
	}
}

// EnsureIndexes creates the unique and lookup indexes. Called on startup
// after Mongo has connected; creating an existing index is a no-op.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	indexes := map[*mongo.Collection][]mongo.IndexModel{
		s.users: {
			{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetName("uniq_email").SetUnique(true)},
			{Keys: bson.D{{Key: "user_id", Value: 1}}, Options: options.Index().SetName("uniq_user_id").SetUnique(true)},
		},
		s.sessions: {
			{Keys: bson.D{{Key: "session_token", Value: 1}}, Options: options.Index().SetName("uniq_session_token").SetUnique(true)},
			{Keys: bson.D{{Key: "user_id", Value: 1}}, Options: options.Index().SetName("idx_user_id")},
		},
		s.sightings: {
			{Keys: bson.D{{Key: "sighting_id", Value: 1}}, Options: options.Index().SetName("uniq_sighting_id").SetUnique(true)},
			{
				Keys: bson.D{
					{Key: "user_id", Value: 1},
					{Key: "created_at", Value: -1},
				},
				Options: options.Index().SetName("idx_user_created"),
			},
		},
	}
	for col, idx := range indexes {
		if _, err := col.Indexes().CreateMany(ctx, idx); err != nil {
			return fmt.Errorf("create indexes on %s: %w", col.Name(), err)
		}
	}
	return nil
}

func (s *MongoStore) Ping(ctx context.Context) error {
	return s.db.Client().Ping(ctx, nil)
}

func (s *MongoStore) CreateUser(ctx context.Context, u *models.User) error {
	if _, err := s.users.InsertOne(ctx, u); err != nil {
		return mongoWriteErr("insert user", err)
	}
	return nil
}

func (s *MongoStore) GetUserByID(ctx context.Context, userID string) (*models.User, error) {
	return s.findUser(ctx, bson.M{"user_id": userID})
}

func (s *MongoStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.findUser(ctx, bson.M{"email": email})
}

func (s *MongoStore) findUser(ctx context.Context, filter bson.M) (*models.User, error) {
	var u models.User
	if err := s.users.FindOne(ctx, filter).Decode(&u); err != nil {
		return nil, mongoReadErr("find user", err)
	}
	return &u, nil
}

func (s *MongoStore) UpdateUserProfile(ctx context.Context, userID, name string, picture *string) error {
	update := bson.M{"$set": bson.M{"name": name}}
	if picture != nil {
		update["$set"] = bson.M{"name": name, "picture": *picture}
	} else {
		update["$unset"] = bson.M{"picture": ""}
	}
	return s.updateUser(ctx, userID, update)
}

func (s *MongoStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	return s.updateUser(ctx, userID, bson.M{"$set": bson.M{"password_hash": passwordHash}})
}

func (s *MongoStore) updateUser(ctx context.Context, userID string, update bson.M) error {
	res, err := s.users.UpdateOne(ctx, bson.M{"user_id": userID}, update)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) DeleteUser(ctx context.Context, userID string) error {
	res, err := s.users.DeleteOne(ctx, bson.M{"user_id": userID})
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) CreateSession(ctx context.Context, sess *models.Session) error {
	if _, err := s.sessions.InsertOne(ctx, sess); err != nil {
		return mongoWriteErr("insert session", err)
	}
	return nil
}

func (s *MongoStore) GetSession(ctx context.Context, token string) (*models.Session, error) {
	var sess models.Session
	if err := s.sessions.FindOne(ctx, bson.M{"session_token": token}).Decode(&sess); err != nil {
		return nil, mongoReadErr("find session", err)
	}
	return &sess, nil
}

func (s *MongoStore) DeleteSession(ctx context.Context, token string) error {
	if _, err := s.sessions.DeleteOne(ctx, bson.M{"session_token": token}); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (s *MongoStore) DeleteUserSessions(ctx context.Context, userID, keepToken string) error {
	filter := bson.M{"user_id": userID}
	if keepToken != "" {
		filter["session_token"] = bson.M{"$ne": keepToken}
	}
	if _, err := s.sessions.DeleteMany(ctx, filter); err != nil {
		return fmt.Errorf("delete user sessions: %w", err)
	}
	return nil
}

func (s *MongoStore) CreateSighting(ctx context.Context, sighting *models.Sighting) error {
	if _, err := s.sightings.InsertOne(ctx, sighting); err != nil {
		return mongoWriteErr("insert sighting", err)
	}
	return nil
}

func (s *MongoStore) ListSightings(ctx context.Context, userID string, skip, limit int) ([]models.Sighting, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetSkip(int64(skip)).
		SetLimit(int64(limit))
	return s.findSightings(ctx, bson.M{"user_id": userID}, opts)
}

func (s *MongoStore) ListAllSightings(ctx context.Context, userID string) ([]models.Sighting, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	return s.findSightings(ctx, bson.M{"user_id": userID}, opts)
}

func (s *MongoStore) findSightings(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]models.Sighting, error) {
	cur, err := s.sightings.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find sightings: %w", err)
	}
	defer cur.Close(ctx)

	out := []models.Sighting{}
	for cur.Next(ctx) {
		var sighting models.Sighting
		if err := cur.Decode(&sighting); err != nil {
			return nil, fmt.Errorf("decode sighting: %w", err)
		}
		out = append(out, sighting)
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("iterate sightings: %w", err)
	}
	return out, nil
}

func (s *MongoStore) GetSighting(ctx context.Context, userID, sightingID string) (*models.Sighting, error) {
	var sighting models.Sighting
	filter := bson.M{"sighting_id": sightingID, "user_id": userID}
	if err := s.sightings.FindOne(ctx, filter).Decode(&sighting); err != nil {
		return nil, mongoReadErr("find sighting", err)
	}
	return &sighting, nil
}

func (s *MongoStore) ReplaceSighting(ctx context.Context, sighting *models.Sighting) error {
	filter := bson.M{"sighting_id": sighting.SightingID, "user_id": sighting.UserID}
	res, err := s.sightings.ReplaceOne(ctx, filter, sighting)
	if err != nil {
		return fmt.Errorf("replace sighting: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) DeleteSighting(ctx context.Context, userID, sightingID string) error {
	res, err := s.sightings.DeleteOne(ctx, bson.M{"sighting_id": sightingID, "user_id": userID})
	if err != nil {
		return fmt.Errorf("delete sighting: %w", err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) DeleteUserSightings(ctx context.Context, userID string) error {
	if _, err := s.sightings.DeleteMany(ctx, bson.M{"user_id": userID}); err != nil {
		return fmt.Errorf("delete user sightings: %w", err)
	}
	return nil
}

func mongoReadErr(op string, err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ErrNotFound
	}
	return fmt.Errorf("%s: %w", op, err)
}

func mongoWriteErr(op string, err error) error {
	if mongo.IsDuplicateKeyError(err) {
		return ErrDuplicate
	}
	return fmt.Errorf("%s: %w", op, err)
}
