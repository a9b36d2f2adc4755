package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// AuthProviderEmail marks accounts created with email + password.
	AuthProviderEmail = "email"
	// AuthProviderGoogle marks accounts created through the external identity provider.
	AuthProviderGoogle = "google"
)

type User struct {
	UserID       string    `bson:"user_id" json:"user_id"`
	Email        string    `bson:"email" json:"email"`
	Name         string    `bson:"name" json:"name"`
	Picture      *string   `bson:"picture,omitempty" json:"picture"`
	PasswordHash *string   `bson:"password_hash,omitempty" json:"-"` // Never returned in JSON
	AuthProvider string    `bson:"auth_provider" json:"auth_provider"`
	CreatedAt    time.Time `bson:"created_at" json:"created_at"`
}

// HasPassword reports whether the user can sign in with a local password.
func (u *User) HasPassword() bool {
	return u.AuthProvider != AuthProviderGoogle && u.PasswordHash != nil && *u.PasswordHash != ""
}

// NewUserID returns an opaque user id of the form user_<12 hex>.
func NewUserID() string {
	return "user_" + shortHex()
}

// NewSightingID returns an opaque sighting id of the form sighting_<12 hex>.
func NewSightingID() string {
	return "sighting_" + shortHex()
}

// NewRevision returns a short random tag used to keep replaced photo file names unique.
func NewRevision() string {
	return shortHex()[:8]
}

func shortHex() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// NormalizeEmail lower-cases and trims an email for storage and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
