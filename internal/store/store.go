// Package store persists users, sessions and sightings. Every sighting and
// session query is filtered by the owning user id.
package store

import (
	"context"
	"errors"

	"github.com/AnshRaj112/tracklog-backend/internal/models"
)

var (
	// ErrNotFound is returned when a record is absent or not owned by the caller.
	ErrNotFound = errors.New("store: not found")
	// ErrDuplicate is returned when a unique constraint (e.g. users.email) rejects a write.
	ErrDuplicate = errors.New("store: duplicate key")
)

type UserStore interface {
	CreateUser(ctx context.Context, u *models.User) error
	GetUserByID(ctx context.Context, userID string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	UpdateUserProfile(ctx context.Context, userID, name string, picture *string) error
	UpdateUserPassword(ctx context.Context, userID, passwordHash string) error
	DeleteUser(ctx context.Context, userID string) error
}

type SessionStore interface {
	CreateSession(ctx context.Context, s *models.Session) error
	GetSession(ctx context.Context, token string) (*models.Session, error)
	// DeleteSession is a no-op when the token is unknown.
	DeleteSession(ctx context.Context, token string) error
	// DeleteUserSessions removes every session of userID except keepToken ("" keeps none).
	DeleteUserSessions(ctx context.Context, userID, keepToken string) error
}

type SightingStore interface {
	CreateSighting(ctx context.Context, s *models.Sighting) error
	// ListSightings returns the user's sightings newest first.
	ListSightings(ctx context.Context, userID string, skip, limit int) ([]models.Sighting, error)
	// ListAllSightings returns the user's full set, unpaginated.
	ListAllSightings(ctx context.Context, userID string) ([]models.Sighting, error)
	GetSighting(ctx context.Context, userID, sightingID string) (*models.Sighting, error)
	ReplaceSighting(ctx context.Context, s *models.Sighting) error
	DeleteSighting(ctx context.Context, userID, sightingID string) error
	DeleteUserSightings(ctx context.Context, userID string) error
}

// Store is the full persistence surface the services depend on.
type Store interface {
	UserStore
	SessionStore
	SightingStore
	Ping(ctx context.Context) error
}
