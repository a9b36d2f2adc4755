package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/AnshRaj112/tracklog-backend/internal/logging"
	"github.com/AnshRaj112/tracklog-backend/internal/models"
)

const (
	// SessionKeyPrefix is the Redis key prefix for sessions
	SessionKeyPrefix = "session:"
	// UserSessionsKeyPrefix is the Redis key prefix for the set of a user's tokens
	UserSessionsKeyPrefix = "user_sessions:"
)

// SessionCache is a read-through cache of session rows. Read and write errors
// are reported as misses; the session store stays authoritative. Deletes
// return their error so revocation never silently leaves a live entry.
type SessionCache interface {
	Get(ctx context.Context, token string) (*models.Session, bool)
	Put(ctx context.Context, sess *models.Session)
	Delete(ctx context.Context, token string) error
	DeleteUser(ctx context.Context, userID, keepToken string) error
}

type cachedSession struct {
	UserID    string    `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// RedisSessionCache stores session:<token> with a TTL equal to the remaining
// lifetime, plus user_sessions:<user_id> as a set of tokens for bulk revocation.
type RedisSessionCache struct {
	client *redis.Client
	now    func() time.Time
}

func NewRedisSessionCache(client *redis.Client) *RedisSessionCache {
	return &RedisSessionCache{client: client, now: time.Now}
}

func (c *RedisSessionCache) Get(ctx context.Context, token string) (*models.Session, bool) {
	val, err := c.client.Get(ctx, SessionKeyPrefix+token).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logging.Ctx(ctx).Warn().Err(err).Msg("session cache read failed")
		}
		return nil, false
	}
	var cs cachedSession
	if err := json.Unmarshal(val, &cs); err != nil {
		return nil, false
	}
	return &models.Session{
		Token:     token,
		UserID:    cs.UserID,
		ExpiresAt: cs.ExpiresAt,
		CreatedAt: cs.CreatedAt,
	}, true
}

func (c *RedisSessionCache) Put(ctx context.Context, sess *models.Session) {
	ttl := sess.ExpiresAt.Sub(c.now())
	if ttl <= 0 {
		return
	}
	payload, err := json.Marshal(cachedSession{UserID: sess.UserID, ExpiresAt: sess.ExpiresAt, CreatedAt: sess.CreatedAt})
	if err != nil {
		return
	}

	userKey := UserSessionsKeyPrefix + sess.UserID
	pipe := c.client.TxPipeline()
	pipe.Set(ctx, SessionKeyPrefix+sess.Token, payload, ttl)
	pipe.SAdd(ctx, userKey, sess.Token)
	pipe.Expire(ctx, userKey, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Msg("session cache write failed")
	}
}

func (c *RedisSessionCache) Delete(ctx context.Context, token string) error {
	key := SessionKeyPrefix + token
	// Get user ID before deleting so the user set stays accurate
	val, err := c.client.Get(ctx, key).Bytes()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("session cache delete: %w", err)
	}
	pipe := c.client.TxPipeline()
	pipe.Del(ctx, key)
	var cs cachedSession
	if err == nil && json.Unmarshal(val, &cs) == nil && cs.UserID != "" {
		pipe.SRem(ctx, UserSessionsKeyPrefix+cs.UserID, token)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("session cache delete: %w", err)
	}
	return nil
}

func (c *RedisSessionCache) DeleteUser(ctx context.Context, userID, keepToken string) error {
	userKey := UserSessionsKeyPrefix + userID
	tokens, err := c.client.SMembers(ctx, userKey).Result()
	if err != nil {
		return fmt.Errorf("session cache lookup: %w", err)
	}
	pipe := c.client.TxPipeline()
	for _, token := range tokens {
		if token == keepToken {
			continue
		}
		pipe.Del(ctx, SessionKeyPrefix+token)
		pipe.SRem(ctx, userKey, token)
	}
	if pipe.Len() == 0 {
		return nil
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("session cache delete: %w", err)
	}
	return nil
}
