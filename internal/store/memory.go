package store

import (
	"context"
	"sort"
	"sync"

	"github.com/AnshRaj112/tracklog-backend/internal/models"
)

// MemoryStore keeps everything in process memory. Used for local runs
// (STORE_DRIVER=memory) and service tests.
type MemoryStore struct {
	mu        sync.RWMutex
	users     map[string]models.User // by user_id
	emails    map[string]string      // email -> user_id
	sessions  map[string]models.Session
	sightings []models.Sighting // insertion order
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[string]models.User),
		emails:   make(map[string]string),
		sessions: make(map[string]models.Session),
	}
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) CreateUser(_ context.Context, u *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.emails[u.Email]; ok {
		return ErrDuplicate
	}
	if _, ok := m.users[u.UserID]; ok {
		return ErrDuplicate
	}
	m.users[u.UserID] = copyUser(*u)
	m.emails[u.Email] = u.UserID
	return nil
}

func (m *MemoryStore) GetUserByID(_ context.Context, userID string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[userID]
	if !ok {
		return nil, ErrNotFound
	}
	out := copyUser(u)
	return &out, nil
}

func (m *MemoryStore) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.emails[email]
	if !ok {
		return nil, ErrNotFound
	}
	out := copyUser(m.users[id])
	return &out, nil
}

func (m *MemoryStore) UpdateUserProfile(_ context.Context, userID, name string, picture *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.Name = name
	u.Picture = copyString(picture)
	m.users[userID] = u
	return nil
}

func (m *MemoryStore) UpdateUserPassword(_ context.Context, userID, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.PasswordHash = &passwordHash
	m.users[userID] = u
	return nil
}

func (m *MemoryStore) DeleteUser(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	delete(m.emails, u.Email)
	delete(m.users, userID)
	return nil
}

func (m *MemoryStore) CreateSession(_ context.Context, s *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.Token]; ok {
		return ErrDuplicate
	}
	m.sessions[s.Token] = *s
	return nil
}

func (m *MemoryStore) GetSession(_ context.Context, token string) (*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[token]
	if !ok {
		return nil, ErrNotFound
	}
	return &s, nil
}

func (m *MemoryStore) DeleteSession(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, token)
	return nil
}

func (m *MemoryStore) DeleteUserSessions(_ context.Context, userID, keepToken string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for token, s := range m.sessions {
		if s.UserID == userID && token != keepToken {
			delete(m.sessions, token)
		}
	}
	return nil
}

func (m *MemoryStore) CreateSighting(_ context.Context, s *models.Sighting) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.sightings {
		if existing.SightingID == s.SightingID {
			return ErrDuplicate
		}
	}
	m.sightings = append(m.sightings, copySighting(*s))
	return nil
}

func (m *MemoryStore) ListSightings(ctx context.Context, userID string, skip, limit int) ([]models.Sighting, error) {
	all, _ := m.ListAllSightings(ctx, userID)
	if skip < 0 {
		skip = 0
	}
	if skip >= len(all) {
		return []models.Sighting{}, nil
	}
	all = all[skip:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

func (m *MemoryStore) ListAllSightings(_ context.Context, userID string) ([]models.Sighting, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []models.Sighting{}
	// Walk backwards so equal timestamps come out newest-inserted first.
	for i := len(m.sightings) - 1; i >= 0; i-- {
		if m.sightings[i].UserID == userID {
			out = append(out, copySighting(m.sightings[i]))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemoryStore) GetSighting(_ context.Context, userID, sightingID string) (*models.Sighting, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	i := m.indexOf(userID, sightingID)
	if i < 0 {
		return nil, ErrNotFound
	}
	out := copySighting(m.sightings[i])
	return &out, nil
}

func (m *MemoryStore) ReplaceSighting(_ context.Context, s *models.Sighting) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.indexOf(s.UserID, s.SightingID)
	if i < 0 {
		return ErrNotFound
	}
	m.sightings[i] = copySighting(*s)
	return nil
}

func (m *MemoryStore) DeleteSighting(_ context.Context, userID, sightingID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.indexOf(userID, sightingID)
	if i < 0 {
		return ErrNotFound
	}
	m.sightings = append(m.sightings[:i], m.sightings[i+1:]...)
	return nil
}

func (m *MemoryStore) DeleteUserSightings(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.sightings[:0]
	for _, s := range m.sightings {
		if s.UserID != userID {
			kept = append(kept, s)
		}
	}
	m.sightings = kept
	return nil
}

// indexOf must be called with mu held.
func (m *MemoryStore) indexOf(userID, sightingID string) int {
	for i, s := range m.sightings {
		if s.SightingID == sightingID && s.UserID == userID {
			return i
		}
	}
	return -1
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func copyUser(u models.User) models.User {
	u.Picture = copyString(u.Picture)
	u.PasswordHash = copyString(u.PasswordHash)
	return u
}

func copySighting(s models.Sighting) models.Sighting {
	s.Route = copyString(s.Route)
	s.Notes = copyString(s.Notes)
	s.Photos = append([]string{}, s.Photos...)
	return s
}
