package services

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"time"

	"github.com/AnshRaj112/tracklog-backend/internal/apperr"
	"github.com/AnshRaj112/tracklog-backend/internal/logging"
	"github.com/AnshRaj112/tracklog-backend/internal/metrics"
	"github.com/AnshRaj112/tracklog-backend/internal/models"
	"github.com/AnshRaj112/tracklog-backend/internal/store"
	"github.com/AnshRaj112/tracklog-backend/pkg/utils"
)

const (
	// DefaultSessionTTL is 7 days
	DefaultSessionTTL = 7 * 24 * time.Hour

	msgNotAuthenticated   = "Not authenticated"
	msgInvalidCredentials = "Invalid email or password"
	msgUseExternalSignIn  = "This account uses Google sign-in"
)

// Internal reasons a session fails to resolve. Callers only ever see a
// generic authentication error; these are for logs and errors.Is in tests.
var (
	ErrNoToken        = errors.New("no session token")
	ErrUnknownSession = errors.New("unknown session token")
	ErrSessionExpired = errors.New("session expired")
	ErrUserGone       = errors.New("session user no longer exists")
)

var resolveReasons = map[error]string{
	ErrNoToken:        "no_token",
	ErrUnknownSession: "unknown_session",
	ErrSessionExpired: "expired",
	ErrUserGone:       "user_missing",
}

// Authenticator issues, resolves and revokes opaque session tokens.
type Authenticator struct {
	users    store.UserStore
	sessions store.SessionStore
	cache    SessionCache
	identity IdentityProvider
	ttl      time.Duration
	now      func() time.Time
}

type AuthOption func(*Authenticator)

// WithSessionCache puts a read-through cache in front of the session store.
func WithSessionCache(c SessionCache) AuthOption {
	return func(a *Authenticator) { a.cache = c }
}

func WithIdentityProvider(p IdentityProvider) AuthOption {
	return func(a *Authenticator) { a.identity = p }
}

// WithClock overrides time.Now, for expiry tests.
func WithClock(now func() time.Time) AuthOption {
	return func(a *Authenticator) { a.now = now }
}

func NewAuthenticator(users store.UserStore, sessions store.SessionStore, ttl time.Duration, opts ...AuthOption) *Authenticator {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	a := &Authenticator{
		users:    users,
		sessions: sessions,
		ttl:      ttl,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// TTL is the lifetime of newly issued sessions; also used as cookie Max-Age.
func (a *Authenticator) TTL() time.Duration { return a.ttl }

// Issue creates a new session for userID.
func (a *Authenticator) Issue(ctx context.Context, userID string) (*models.Session, error) {
	token, err := newSessionToken()
	if err != nil {
		return nil, apperr.Internal(err)
	}
	now := a.now().UTC()
	sess := &models.Session{
		Token:     token,
		UserID:    userID,
		ExpiresAt: now.Add(a.ttl),
		CreatedAt: now,
	}
	if err := a.sessions.CreateSession(ctx, sess); err != nil {
		return nil, apperr.Internal(err)
	}
	if a.cache != nil {
		a.cache.Put(ctx, sess)
	}
	return sess, nil
}

// Resolve maps a token to its user. Missing, unknown and expired tokens and
// sessions whose user was deleted all fail with the same authentication error.
func (a *Authenticator) Resolve(ctx context.Context, token string) (*models.User, error) {
	if token == "" {
		return nil, a.reject(ctx, ErrNoToken)
	}

	sess, err := a.lookupSession(ctx, token)
	if errors.Is(err, store.ErrNotFound) {
		return nil, a.reject(ctx, ErrUnknownSession)
	}
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if !sess.Active(a.now()) {
		return nil, a.reject(ctx, ErrSessionExpired)
	}

	user, err := a.users.GetUserByID(ctx, sess.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, a.reject(ctx, ErrUserGone)
	}
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return user, nil
}

func (a *Authenticator) lookupSession(ctx context.Context, token string) (*models.Session, error) {
	if a.cache != nil {
		if sess, ok := a.cache.Get(ctx, token); ok {
			return sess, nil
		}
	}
	sess, err := a.sessions.GetSession(ctx, token)
	if err != nil {
		return nil, err
	}
	if a.cache != nil && sess.Active(a.now()) {
		return a.fillCache(ctx, sess)
	}
	return sess, nil
}

// fillCache caches sess and then re-reads the store. Invalidate deletes from
// the store before the cache, so an entry written from a row that was revoked
// in between is found here and removed again.
func (a *Authenticator) fillCache(ctx context.Context, sess *models.Session) (*models.Session, error) {
	a.cache.Put(ctx, sess)
	_, err := a.sessions.GetSession(ctx, sess.Token)
	if err == nil {
		return sess, nil
	}
	if derr := a.cache.Delete(ctx, sess.Token); derr != nil {
		logging.Ctx(ctx).Error().Err(derr).Msg("failed to drop revoked session from cache")
		return nil, derr
	}
	return nil, err
}

func (a *Authenticator) reject(ctx context.Context, reason error) error {
	label := resolveReasons[reason]
	metrics.AuthFailures.WithLabelValues(label).Inc()
	logging.Ctx(ctx).Debug().Str("reason", label).Msg("session rejected")
	return apperr.Authentication(msgNotAuthenticated, reason)
}

// VerifyCredentials checks an email/password pair. Accounts created through
// the external provider get a distinct message since they have no password.
func (a *Authenticator) VerifyCredentials(ctx context.Context, email, password string) (*models.User, error) {
	user, err := a.users.GetUserByEmail(ctx, models.NormalizeEmail(email))
	if errors.Is(err, store.ErrNotFound) {
		metrics.AuthFailures.WithLabelValues("bad_credentials").Inc()
		return nil, apperr.Authentication(msgInvalidCredentials, err)
	}
	if err != nil {
		return nil, apperr.Internal(err)
	}

	if !user.HasPassword() {
		metrics.AuthFailures.WithLabelValues("external_account").Inc()
		return nil, apperr.Authentication(msgUseExternalSignIn, nil)
	}

	ok, err := utils.VerifyPassword(password, *user.PasswordHash)
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("user_id", user.UserID).Msg("stored password hash is unreadable")
	}
	if !ok {
		metrics.AuthFailures.WithLabelValues("bad_credentials").Inc()
		return nil, apperr.Authentication(msgInvalidCredentials, err)
	}
	return user, nil
}

// Invalidate deletes the session; unknown tokens are not an error. The store
// row goes first and the cache entry second, and a failed cache delete fails
// the call since the cached entry would keep the token usable.
func (a *Authenticator) Invalidate(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := a.sessions.DeleteSession(ctx, token); err != nil {
		return apperr.Internal(err)
	}
	if a.cache != nil {
		if err := a.cache.Delete(ctx, token); err != nil {
			return apperr.Internal(err)
		}
	}
	return nil
}

// InvalidateUser deletes every session of userID except keepToken ("" keeps none).
func (a *Authenticator) InvalidateUser(ctx context.Context, userID, keepToken string) error {
	if err := a.sessions.DeleteUserSessions(ctx, userID, keepToken); err != nil {
		return apperr.Internal(err)
	}
	if a.cache != nil {
		if err := a.cache.DeleteUser(ctx, userID, keepToken); err != nil {
			return apperr.Internal(err)
		}
	}
	return nil
}

// ExchangeExternalSession trades an identity-provider session id for a local
// user (created or refreshed by email) and a new session.
func (a *Authenticator) ExchangeExternalSession(ctx context.Context, externalSessionID string) (*models.User, *models.Session, error) {
	if externalSessionID == "" {
		metrics.AuthFailures.WithLabelValues("missing_session_id").Inc()
		return nil, nil, apperr.UpstreamAuth(errors.New("missing external session id"))
	}
	if a.identity == nil {
		return nil, nil, apperr.UpstreamAuth(errors.New("no identity provider configured"))
	}

	profile, err := a.identity.FetchProfile(ctx, externalSessionID)
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Msg("external session exchange failed")
		return nil, nil, apperr.UpstreamAuth(err)
	}

	user, err := a.upsertExternalUser(ctx, profile)
	if err != nil {
		return nil, nil, err
	}
	sess, err := a.Issue(ctx, user.UserID)
	if err != nil {
		return nil, nil, err
	}
	return user, sess, nil
}

func (a *Authenticator) upsertExternalUser(ctx context.Context, p *ExternalProfile) (*models.User, error) {
	email := models.NormalizeEmail(p.Email)
	name := p.Name
	if name == "" {
		name = email
	}

	existing, err := a.users.GetUserByEmail(ctx, email)
	switch {
	case err == nil:
		picture := existing.Picture
		if p.Picture != "" {
			picture = &p.Picture
		}
		if err := a.users.UpdateUserProfile(ctx, existing.UserID, name, picture); err != nil {
			return nil, apperr.Internal(err)
		}
		existing.Name = name
		existing.Picture = picture
		return existing, nil
	case !errors.Is(err, store.ErrNotFound):
		return nil, apperr.Internal(err)
	}

	user := &models.User{
		UserID:       models.NewUserID(),
		Email:        email,
		Name:         name,
		AuthProvider: models.AuthProviderGoogle,
		CreatedAt:    a.now().UTC(),
	}
	if p.Picture != "" {
		user.Picture = &p.Picture
	}
	err = a.users.CreateUser(ctx, user)
	if errors.Is(err, store.ErrDuplicate) {
		// Lost a race with a concurrent exchange for the same email.
		existing, err := a.users.GetUserByEmail(ctx, email)
		if err != nil {
			return nil, apperr.Internal(err)
		}
		return existing, nil
	}
	if err != nil {
		return nil, apperr.Internal(err)
	}
	logging.Ctx(ctx).Info().Str("user_id", user.UserID).Msg("user created from external sign-in")
	return user, nil
}

// newSessionToken returns 32 random bytes, base64url encoded.
func newSessionToken() (string, error) {
	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(tokenBytes), nil
}
