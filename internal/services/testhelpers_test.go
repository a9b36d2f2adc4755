package services

import (
	"context"
	"encoding/base64"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/AnshRaj112/tracklog-backend/internal/models"
	"github.com/AnshRaj112/tracklog-backend/internal/store"
)

// fakeClock is a settable clock shared by the services under test.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type testEnv struct {
	store     *store.MemoryStore
	clock     *fakeClock
	auth      *Authenticator
	photos    *LocalPhotoStore
	sightings *Sightings
	accounts  *Accounts
}

func newTestEnv(t *testing.T, opts ...AuthOption) *testEnv {
	t.Helper()
	mem := store.NewMemoryStore()
	clock := &fakeClock{t: time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)}
	photos, err := NewLocalPhotoStore(t.TempDir())
	require.NoError(t, err)

	opts = append([]AuthOption{WithClock(clock.Now)}, opts...)
	auth := NewAuthenticator(mem, mem, DefaultSessionTTL, opts...)
	sightings := NewSightings(mem, photos)
	sightings.now = clock.Now
	accounts := NewAccounts(mem, auth, sightings, photos)
	accounts.now = clock.Now

	return &testEnv{
		store:     mem,
		clock:     clock,
		auth:      auth,
		photos:    photos,
		sightings: sightings,
		accounts:  accounts,
	}
}

func pngDataURL(payload string) string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte(payload))
}

func jpegDataURL(payload string) string {
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString([]byte(payload))
}

// memSessionCache is an in-process SessionCache; deleteErr makes deletes fail.
type memSessionCache struct {
	mu        sync.Mutex
	entries   map[string]models.Session
	deleteErr error
}

func newMemSessionCache() *memSessionCache {
	return &memSessionCache{entries: make(map[string]models.Session)}
}

func (c *memSessionCache) Get(_ context.Context, token string) (*models.Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.entries[token]
	if !ok {
		return nil, false
	}
	return &s, true
}

func (c *memSessionCache) Put(_ context.Context, sess *models.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[sess.Token] = *sess
}

func (c *memSessionCache) Delete(_ context.Context, token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.deleteErr != nil {
		return c.deleteErr
	}
	delete(c.entries, token)
	return nil
}

func (c *memSessionCache) DeleteUser(_ context.Context, userID, keepToken string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.deleteErr != nil {
		return c.deleteErr
	}
	for token, s := range c.entries {
		if s.UserID == userID && token != keepToken {
			delete(c.entries, token)
		}
	}
	return nil
}

func (c *memSessionCache) has(token string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[token]
	return ok
}

// hookedSessions runs afterGet once, right after the next GetSession returns.
type hookedSessions struct {
	store.SessionStore
	afterGet func()
}

func (h *hookedSessions) GetSession(ctx context.Context, token string) (*models.Session, error) {
	sess, err := h.SessionStore.GetSession(ctx, token)
	if hook := h.afterGet; hook != nil {
		h.afterGet = nil
		hook()
	}
	return sess, err
}
