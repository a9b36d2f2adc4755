package models

import "time"

type Session struct {
	Token     string    `bson:"session_token" json:"-"`
	UserID    string    `bson:"user_id" json:"user_id"`
	ExpiresAt time.Time `bson:"expires_at" json:"expires_at"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
}

// Active reports whether the session expiry is strictly after now.
func (s *Session) Active(now time.Time) bool {
	return s.ExpiresAt.After(now)
}
