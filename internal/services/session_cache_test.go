package services

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisCacheEnv(t *testing.T) (*testEnv, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	cache := NewRedisSessionCache(client)
	env := newTestEnv(t, WithSessionCache(cache))
	cache.now = env.clock.Now
	return env, mr
}

func TestRedisSessionCacheServesAndRevokes(t *testing.T) {
	env, mr := newRedisCacheEnv(t)
	ctx := context.Background()
	u, sess := register(t, env, "redis@example.com")

	key := SessionKeyPrefix + sess.Token
	assert.True(t, mr.Exists(key))
	assert.Equal(t, DefaultSessionTTL, mr.TTL(key))
	member, err := mr.IsMember(UserSessionsKeyPrefix+u.UserID, sess.Token)
	require.NoError(t, err)
	assert.True(t, member)

	// Served from Redis without touching the session store.
	require.NoError(t, env.store.DeleteSession(ctx, sess.Token))
	got, err := env.auth.Resolve(ctx, sess.Token)
	require.NoError(t, err)
	assert.Equal(t, u.UserID, got.UserID)

	require.NoError(t, env.auth.Invalidate(ctx, sess.Token))
	assert.False(t, mr.Exists(key))
	member, err = mr.IsMember(UserSessionsKeyPrefix+u.UserID, sess.Token)
	if err == nil {
		assert.False(t, member)
	}
	_, err = env.auth.Resolve(ctx, sess.Token)
	assert.ErrorIs(t, err, ErrUnknownSession)
}

func TestRedisSessionCacheDeleteUserKeepsCurrent(t *testing.T) {
	env, mr := newRedisCacheEnv(t)
	ctx := context.Background()
	u, keep := register(t, env, "devices@example.com")
	other, err := env.auth.Issue(ctx, u.UserID)
	require.NoError(t, err)
	require.True(t, mr.Exists(SessionKeyPrefix+other.Token))

	require.NoError(t, env.auth.InvalidateUser(ctx, u.UserID, keep.Token))

	assert.True(t, mr.Exists(SessionKeyPrefix+keep.Token))
	assert.False(t, mr.Exists(SessionKeyPrefix+other.Token))
	members, err := mr.Members(UserSessionsKeyPrefix + u.UserID)
	require.NoError(t, err)
	assert.Equal(t, []string{keep.Token}, members)

	_, err = env.auth.Resolve(ctx, keep.Token)
	assert.NoError(t, err)
	_, err = env.auth.Resolve(ctx, other.Token)
	assert.ErrorIs(t, err, ErrUnknownSession)
}

func TestRedisSessionCacheExpiredEntryRejected(t *testing.T) {
	env, mr := newRedisCacheEnv(t)
	ctx := context.Background()
	_, sess := register(t, env, "late@example.com")

	// The entry is still in Redis but the session itself has expired.
	env.clock.Advance(DefaultSessionTTL + time.Second)
	require.True(t, mr.Exists(SessionKeyPrefix+sess.Token))
	_, err := env.auth.Resolve(ctx, sess.Token)
	assert.ErrorIs(t, err, ErrSessionExpired)

	mr.FastForward(DefaultSessionTTL)
	assert.False(t, mr.Exists(SessionKeyPrefix+sess.Token))
}

func TestRedisSessionCacheSkipsExpiredPut(t *testing.T) {
	env, mr := newRedisCacheEnv(t)
	ctx := context.Background()
	_, sess := register(t, env, "stale@example.com")
	mr.FlushAll()

	env.clock.Advance(DefaultSessionTTL)
	_, err := env.auth.Resolve(ctx, sess.Token)
	assert.ErrorIs(t, err, ErrSessionExpired)
	assert.False(t, mr.Exists(SessionKeyPrefix+sess.Token))
}
