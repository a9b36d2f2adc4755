package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"

	"github.com/AnshRaj112/tracklog-backend/internal/models"
)

func TestMongoStoreUsers(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	ctx := context.Background()

	mt.Run("create user", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateSuccessResponse())
		s := NewMongoStore(mt.DB)
		err := s.CreateUser(ctx, &models.User{UserID: "user_1", Email: "a@example.com"})
		assert.NoError(mt, err)
	})

	mt.Run("duplicate email", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateWriteErrorsResponse(mtest.WriteError{
			Index:   0,
			Code:    11000,
			Message: "duplicate key error collection: tracklog.users index: uniq_email",
		}))
		s := NewMongoStore(mt.DB)
		err := s.CreateUser(ctx, &models.User{UserID: "user_2", Email: "a@example.com"})
		assert.ErrorIs(mt, err, ErrDuplicate)
	})

	mt.Run("get by email", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateCursorResponse(0, "tracklog.users", mtest.FirstBatch, bson.D{
			{Key: "user_id", Value: "user_1"},
			{Key: "email", Value: "a@example.com"},
			{Key: "name", Value: "Ann"},
			{Key: "auth_provider", Value: "email"},
		}))
		s := NewMongoStore(mt.DB)
		u, err := s.GetUserByEmail(ctx, "a@example.com")
		require.NoError(mt, err)
		assert.Equal(mt, "user_1", u.UserID)
		assert.Equal(mt, "Ann", u.Name)
		assert.Nil(mt, u.Picture)
	})

	mt.Run("get missing user", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateCursorResponse(0, "tracklog.users", mtest.FirstBatch))
		s := NewMongoStore(mt.DB)
		_, err := s.GetUserByID(ctx, "nobody")
		assert.ErrorIs(mt, err, ErrNotFound)
	})

	mt.Run("update missing user", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 0}, bson.E{Key: "nModified", Value: 0}))
		s := NewMongoStore(mt.DB)
		err := s.UpdateUserPassword(ctx, "nobody", "hash")
		assert.ErrorIs(mt, err, ErrNotFound)
	})
}

func TestMongoStoreSightings(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	ctx := context.Background()
	created := time.Date(2026, 10, 2, 8, 0, 0, 0, time.UTC)

	mt.Run("list", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateCursorResponse(0, "tracklog.sightings", mtest.FirstBatch,
			bson.D{
				{Key: "sighting_id", Value: "sighting_b"},
				{Key: "user_id", Value: "user_1"},
				{Key: "train_number", Value: "ICE 123"},
				{Key: "photos", Value: bson.A{"/api/uploads/sighting_b_0.jpg"}},
				{Key: "created_at", Value: created},
			},
			bson.D{
				{Key: "sighting_id", Value: "sighting_a"},
				{Key: "user_id", Value: "user_1"},
				{Key: "train_number", Value: "RE 7"},
				{Key: "route", Value: "Hamburg - Kiel"},
				{Key: "created_at", Value: created.Add(-time.Hour)},
			},
		))
		s := NewMongoStore(mt.DB)
		list, err := s.ListSightings(ctx, "user_1", 0, 100)
		require.NoError(mt, err)
		require.Len(mt, list, 2)
		assert.Equal(mt, "sighting_b", list[0].SightingID)
		assert.Equal(mt, []string{"/api/uploads/sighting_b_0.jpg"}, list[0].Photos)
		require.NotNil(mt, list[1].Route)
		assert.Equal(mt, "Hamburg - Kiel", *list[1].Route)
	})

	mt.Run("get not owned", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateCursorResponse(0, "tracklog.sightings", mtest.FirstBatch))
		s := NewMongoStore(mt.DB)
		_, err := s.GetSighting(ctx, "user_2", "sighting_b")
		assert.ErrorIs(mt, err, ErrNotFound)
	})

	mt.Run("delete missing", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 0}))
		s := NewMongoStore(mt.DB)
		assert.ErrorIs(mt, s.DeleteSighting(ctx, "user_1", "sighting_x"), ErrNotFound)
	})

	mt.Run("delete existing", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 1}))
		s := NewMongoStore(mt.DB)
		assert.NoError(mt, s.DeleteSighting(ctx, "user_1", "sighting_b"))
	})

	mt.Run("replace", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 1}, bson.E{Key: "nModified", Value: 1}))
		s := NewMongoStore(mt.DB)
		err := s.ReplaceSighting(ctx, &models.Sighting{SightingID: "sighting_b", UserID: "user_1"})
		assert.NoError(mt, err)
	})
}

func TestMongoStoreSessions(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	ctx := context.Background()
	exp := time.Date(2026, 10, 26, 0, 0, 0, 0, time.UTC)

	mt.Run("get", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateCursorResponse(0, "tracklog.user_sessions", mtest.FirstBatch, bson.D{
			{Key: "session_token", Value: "tok"},
			{Key: "user_id", Value: "user_1"},
			{Key: "expires_at", Value: exp},
		}))
		s := NewMongoStore(mt.DB)
		sess, err := s.GetSession(ctx, "tok")
		require.NoError(mt, err)
		assert.Equal(mt, "user_1", sess.UserID)
		assert.True(mt, sess.ExpiresAt.Equal(exp))
	})

	mt.Run("delete unknown token is not an error", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 0}))
		s := NewMongoStore(mt.DB)
		assert.NoError(mt, s.DeleteSession(ctx, "gone"))
	})
}
