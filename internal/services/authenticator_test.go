package services

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AnshRaj112/tracklog-backend/internal/apperr"
	"github.com/AnshRaj112/tracklog-backend/internal/metrics"
	"github.com/AnshRaj112/tracklog-backend/internal/models"
	"github.com/AnshRaj112/tracklog-backend/internal/store"
)

func register(t *testing.T, env *testEnv, email string) (*models.User, *models.Session) {
	t.Helper()
	u, sess, err := env.accounts.Register(context.Background(), RegisterInput{
		Email: email, Password: "semaphore", Name: "Rail Fan",
	})
	require.NoError(t, err)
	return u, sess
}

func TestRegisterIssuesResolvableSession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	u, sess := register(t, env, "  Spotter@Example.com ")
	assert.Equal(t, "spotter@example.com", u.Email)
	assert.Equal(t, models.AuthProviderEmail, u.AuthProvider)
	assert.NotEmpty(t, sess.Token)
	assert.True(t, sess.ExpiresAt.Equal(env.clock.Now().Add(DefaultSessionTTL)))

	resolved, err := env.auth.Resolve(ctx, sess.Token)
	require.NoError(t, err)
	assert.Equal(t, u.UserID, resolved.UserID)
	assert.Equal(t, u.Email, resolved.Email)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	first, _ := register(t, env, "dup@example.com")

	_, _, err := env.accounts.Register(ctx, RegisterInput{Email: "DUP@example.com", Password: "another1", Name: "Other"})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
	assert.Equal(t, "Email already registered", apperr.PublicMessage(err))

	stored, err := env.store.GetUserByEmail(ctx, "dup@example.com")
	require.NoError(t, err)
	assert.Equal(t, first.UserID, stored.UserID)
}

func TestRegisterValidation(t *testing.T) {
	env := newTestEnv(t)
	_, _, err := env.accounts.Register(context.Background(), RegisterInput{Email: "not-an-email", Password: "longenough", Name: "X"})
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, _, err = env.accounts.Register(context.Background(), RegisterInput{Email: "a@example.com", Password: "123", Name: "X"})
	assert.True(t, apperr.Is(err, apperr.KindValidation))
	assert.Equal(t, "password must be at least 6 characters", apperr.PublicMessage(err))

	_, _, err = env.accounts.Register(context.Background(), RegisterInput{Email: "b@example.com", Password: strings.Repeat("x", 100), Name: "X"})
	assert.True(t, apperr.Is(err, apperr.KindValidation))
	assert.Equal(t, "password must be at most 72 bytes", apperr.PublicMessage(err))
	_, err = env.store.GetUserByEmail(context.Background(), "b@example.com")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestResolveExpiredMatchesUnknown(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, sess := register(t, env, "late@example.com")

	before := testutil.ToFloat64(metrics.AuthFailures.WithLabelValues("expired"))
	env.clock.Advance(DefaultSessionTTL) // expiry == now is already expired

	_, expiredErr := env.auth.Resolve(ctx, sess.Token)
	_, unknownErr := env.auth.Resolve(ctx, "never-issued")
	_, emptyErr := env.auth.Resolve(ctx, "")

	for _, err := range []error{expiredErr, unknownErr, emptyErr} {
		require.Error(t, err)
		assert.Equal(t, apperr.KindAuthentication, apperr.KindOf(err))
		assert.Equal(t, 401, apperr.Status(err))
		assert.Equal(t, "Not authenticated", apperr.PublicMessage(err))
	}
	assert.ErrorIs(t, expiredErr, ErrSessionExpired)
	assert.ErrorIs(t, unknownErr, ErrUnknownSession)
	assert.ErrorIs(t, emptyErr, ErrNoToken)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.AuthFailures.WithLabelValues("expired")))

	// Expired rows are not swept on read.
	_, err := env.store.GetSession(ctx, sess.Token)
	assert.NoError(t, err)
}

func TestResolveUserGone(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u, sess := register(t, env, "gone@example.com")
	require.NoError(t, env.store.DeleteUser(ctx, u.UserID))

	_, err := env.auth.Resolve(ctx, sess.Token)
	assert.ErrorIs(t, err, ErrUserGone)
	assert.Equal(t, "Not authenticated", apperr.PublicMessage(err))
}

func TestLogoutIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, sess := register(t, env, "bye@example.com")

	require.NoError(t, env.auth.Invalidate(ctx, sess.Token))
	_, err := env.auth.Resolve(ctx, sess.Token)
	assert.True(t, apperr.Is(err, apperr.KindAuthentication))

	assert.NoError(t, env.auth.Invalidate(ctx, sess.Token))
	assert.NoError(t, env.auth.Invalidate(ctx, ""))
}

func TestLoginCredentials(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u, _ := register(t, env, "login@example.com")

	got, sess, err := env.accounts.Login(ctx, LoginInput{Email: "LOGIN@example.com", Password: "semaphore"})
	require.NoError(t, err)
	assert.Equal(t, u.UserID, got.UserID)
	assert.NotEmpty(t, sess.Token)

	_, _, err = env.accounts.Login(ctx, LoginInput{Email: "login@example.com", Password: "wrong-one"})
	assert.Equal(t, "Invalid email or password", apperr.PublicMessage(err))
	assert.Equal(t, 401, apperr.Status(err))

	_, _, err = env.accounts.Login(ctx, LoginInput{Email: "nobody@example.com", Password: "semaphore"})
	assert.Equal(t, "Invalid email or password", apperr.PublicMessage(err))
}

func TestLoginExternalAccountHasDistinctMessage(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.store.CreateUser(ctx, &models.User{
		UserID: "user_google", Email: "g@example.com", Name: "G", AuthProvider: models.AuthProviderGoogle,
	}))

	_, _, err := env.accounts.Login(ctx, LoginInput{Email: "g@example.com", Password: "anything"})
	require.Error(t, err)
	assert.Equal(t, 401, apperr.Status(err))
	assert.Equal(t, "This account uses Google sign-in", apperr.PublicMessage(err))
	assert.NotEqual(t, "Invalid email or password", apperr.PublicMessage(err))
}

func TestInvalidateUserKeepsCurrentSession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u, keep := register(t, env, "multi@example.com")
	other, err := env.auth.Issue(ctx, u.UserID)
	require.NoError(t, err)

	require.NoError(t, env.auth.InvalidateUser(ctx, u.UserID, keep.Token))

	_, err = env.auth.Resolve(ctx, keep.Token)
	assert.NoError(t, err)
	_, err = env.auth.Resolve(ctx, other.Token)
	assert.ErrorIs(t, err, ErrUnknownSession)
}

func TestSessionCacheErrorsFallBackToStore(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { client.Close() })

	env := newTestEnv(t, WithSessionCache(NewRedisSessionCache(client)))
	ctx := context.Background()
	u, sess := register(t, env, "cache@example.com")

	got, err := env.auth.Resolve(ctx, sess.Token)
	require.NoError(t, err)
	assert.Equal(t, u.UserID, got.UserID)

	// The row is gone but the unreachable cache cannot confirm the delete.
	err = env.auth.Invalidate(ctx, sess.Token)
	assert.True(t, apperr.Is(err, apperr.KindInternal))
	_, err = env.store.GetSession(ctx, sess.Token)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestLogoutDuringCacheFillDoesNotRevive(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, sess := register(t, env, "race@example.com")

	cache := newMemSessionCache()
	sessions := &hookedSessions{SessionStore: env.store}
	auth := NewAuthenticator(env.store, sessions, DefaultSessionTTL,
		WithClock(env.clock.Now), WithSessionCache(cache))

	// Logout lands between the store read and the cache write.
	sessions.afterGet = func() {
		require.NoError(t, auth.Invalidate(ctx, sess.Token))
	}

	_, err := auth.Resolve(ctx, sess.Token)
	assert.ErrorIs(t, err, ErrUnknownSession)
	assert.False(t, cache.has(sess.Token))

	_, err = auth.Resolve(ctx, sess.Token)
	assert.ErrorIs(t, err, ErrUnknownSession)
}

func TestResolveFillsCache(t *testing.T) {
	cache := newMemSessionCache()
	env := newTestEnv(t, WithSessionCache(cache))
	ctx := context.Background()
	u, sess := register(t, env, "fill@example.com")

	cache.entries = map[string]models.Session{}
	_, err := env.auth.Resolve(ctx, sess.Token)
	require.NoError(t, err)
	assert.True(t, cache.has(sess.Token))

	require.NoError(t, env.auth.InvalidateUser(ctx, u.UserID, ""))
	assert.False(t, cache.has(sess.Token))
	_, err = env.auth.Resolve(ctx, sess.Token)
	assert.ErrorIs(t, err, ErrUnknownSession)
}

func TestInvalidateFailsWhenCacheDeleteFails(t *testing.T) {
	cache := newMemSessionCache()
	env := newTestEnv(t, WithSessionCache(cache))
	ctx := context.Background()
	u, sess := register(t, env, "stuck@example.com")

	cache.deleteErr = errors.New("redis: connection reset")
	err := env.auth.Invalidate(ctx, sess.Token)
	assert.True(t, apperr.Is(err, apperr.KindInternal))
	err = env.auth.InvalidateUser(ctx, u.UserID, "")
	assert.True(t, apperr.Is(err, apperr.KindInternal))
}

func identityServer(t *testing.T, handler http.HandlerFunc) *HTTPIdentityProvider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewHTTPIdentityProvider(IdentityConfig{URL: srv.URL, Timeout: 200 * time.Millisecond})
}

func TestExchangeExternalSessionCreatesUser(t *testing.T) {
	provider := identityServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "ext-123", r.Header.Get("X-Session-ID"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"g1","email":"Ext@Example.com","name":"Ext User","picture":"https://img.example/p.png","session_token":"upstream"}`))
	})
	env := newTestEnv(t, WithIdentityProvider(provider))
	ctx := context.Background()

	u, sess, err := env.auth.ExchangeExternalSession(ctx, "ext-123")
	require.NoError(t, err)
	assert.Equal(t, "ext@example.com", u.Email)
	assert.Equal(t, models.AuthProviderGoogle, u.AuthProvider)
	assert.Nil(t, u.PasswordHash)
	require.NotNil(t, u.Picture)
	assert.NotEqual(t, "upstream", sess.Token)

	resolved, err := env.auth.Resolve(ctx, sess.Token)
	require.NoError(t, err)
	assert.Equal(t, u.UserID, resolved.UserID)

	// Password login stays closed for this account.
	_, _, err = env.accounts.Login(ctx, LoginInput{Email: "ext@example.com", Password: "whatever"})
	assert.Equal(t, "This account uses Google sign-in", apperr.PublicMessage(err))
}

func TestExchangeExternalSessionUpdatesExistingUser(t *testing.T) {
	provider := identityServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"email":"known@example.com","name":"New Name","picture":"https://img.example/new.png"}`))
	})
	env := newTestEnv(t, WithIdentityProvider(provider))
	ctx := context.Background()
	existing, _ := register(t, env, "known@example.com")

	u, _, err := env.auth.ExchangeExternalSession(ctx, "ext")
	require.NoError(t, err)
	assert.Equal(t, existing.UserID, u.UserID)

	stored, err := env.store.GetUserByID(ctx, existing.UserID)
	require.NoError(t, err)
	assert.Equal(t, "New Name", stored.Name)
	assert.Equal(t, "https://img.example/new.png", *stored.Picture)
	assert.Equal(t, models.AuthProviderEmail, stored.AuthProvider)
}

func TestExchangeExternalSessionFailures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"non-2xx", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "bad session", http.StatusUnauthorized)
		}},
		{"server error", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}},
		{"malformed payload", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"email":`))
		}},
		{"missing email", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"name":"No Email"}`))
		}},
		{"timeout", func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, WithIdentityProvider(identityServer(t, tt.handler)))
			_, _, err := env.auth.ExchangeExternalSession(context.Background(), "ext")
			require.Error(t, err)
			assert.Equal(t, apperr.KindUpstreamAuth, apperr.KindOf(err))
			assert.Equal(t, 401, apperr.Status(err))
			assert.Equal(t, "External authentication failed", apperr.PublicMessage(err))
		})
	}
}

func TestExchangeExternalSessionRequiresID(t *testing.T) {
	env := newTestEnv(t)
	_, _, err := env.auth.ExchangeExternalSession(context.Background(), "")
	assert.True(t, apperr.Is(err, apperr.KindUpstreamAuth))
	assert.Equal(t, "External authentication failed", apperr.PublicMessage(err))
}

func TestIdentityBreakerOpensAfterFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)
	provider := NewHTTPIdentityProvider(IdentityConfig{URL: srv.URL, Timeout: time.Second, FailureThreshold: 2, OpenTimeout: time.Minute})

	for i := 0; i < 4; i++ {
		_, err := provider.FetchProfile(context.Background(), "x")
		assert.Error(t, err)
	}
	assert.Equal(t, int32(2), calls.Load())
}
