package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/AnshRaj112/tracklog-backend/internal/models"
)

// PostgresStore is the relational backend (STORE_DRIVER=postgres).
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		user_id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		picture TEXT,
		password_hash TEXT,
		auth_provider TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS user_sessions (
		session_token TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(user_id) ON DELETE CASCADE,
		expires_at TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS sightings (
		sighting_id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(user_id) ON DELETE CASCADE,
		train_number TEXT NOT NULL,
		train_type TEXT NOT NULL,
		operator TEXT NOT NULL,
		route TEXT,
		location TEXT NOT NULL,
		sighting_date TEXT NOT NULL,
		sighting_time TEXT NOT NULL,
		notes TEXT,
		photos TEXT[] NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE INDEX IF NOT EXISTS idx_user_sessions_user_id ON user_sessions(user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_sightings_user_created ON sightings(user_id, created_at DESC)`,
}

// EnsureSchema creates all tables and indexes if they don't exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	for _, query := range schema {
		if _, err := s.db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const userColumns = `user_id, email, name, picture, password_hash, auth_provider, created_at`

func (s *PostgresStore) CreateUser(ctx context.Context, u *models.User) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		u.UserID, u.Email, u.Name, nullString(u.Picture), nullString(u.PasswordHash), u.AuthProvider, u.CreatedAt,
	)
	if err != nil {
		return pgWriteErr("insert user", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (*models.User, error) {
	return s.getUser(ctx, `SELECT `+userColumns+` FROM users WHERE user_id = $1`, userID)
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.getUser(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
}

func (s *PostgresStore) getUser(ctx context.Context, query string, arg string) (*models.User, error) {
	var (
		u               models.User
		picture, pwHash sql.NullString
	)
	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&u.UserID, &u.Email, &u.Name, &picture, &pwHash, &u.AuthProvider, &u.CreatedAt,
	)
	if err != nil {
		return nil, pgReadErr("select user", err)
	}
	u.Picture = stringPtr(picture)
	u.PasswordHash = stringPtr(pwHash)
	return &u, nil
}

func (s *PostgresStore) UpdateUserProfile(ctx context.Context, userID, name string, picture *string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET name = $2, picture = $3 WHERE user_id = $1`,
		userID, name, nullString(picture),
	)
	return affectedOne("update user profile", res, err)
}

func (s *PostgresStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET password_hash = $2 WHERE user_id = $1`,
		userID, passwordHash,
	)
	return affectedOne("update user password", res, err)
}

func (s *PostgresStore) DeleteUser(ctx context.Context, userID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE user_id = $1`, userID)
	return affectedOne("delete user", res, err)
}

func (s *PostgresStore) CreateSession(ctx context.Context, sess *models.Session) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_sessions (session_token, user_id, expires_at, created_at) VALUES ($1, $2, $3, $4)`,
		sess.Token, sess.UserID, sess.ExpiresAt, sess.CreatedAt,
	)
	if err != nil {
		return pgWriteErr("insert session", err)
	}
	return nil
}

func (s *PostgresStore) GetSession(ctx context.Context, token string) (*models.Session, error) {
	var sess models.Session
	err := s.db.QueryRowContext(ctx,
		`SELECT session_token, user_id, expires_at, created_at FROM user_sessions WHERE session_token = $1`,
		token,
	).Scan(&sess.Token, &sess.UserID, &sess.ExpiresAt, &sess.CreatedAt)
	if err != nil {
		return nil, pgReadErr("select session", err)
	}
	return &sess, nil
}

func (s *PostgresStore) DeleteSession(ctx context.Context, token string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM user_sessions WHERE session_token = $1`, token); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteUserSessions(ctx context.Context, userID, keepToken string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM user_sessions WHERE user_id = $1 AND session_token <> $2`,
		userID, keepToken,
	); err != nil {
		return fmt.Errorf("delete user sessions: %w", err)
	}
	return nil
}

const sightingColumns = `sighting_id, user_id, train_number, train_type, operator, route, location, sighting_date, sighting_time, notes, photos, created_at`

func (s *PostgresStore) CreateSighting(ctx context.Context, sg *models.Sighting) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sightings (`+sightingColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		sg.SightingID, sg.UserID, sg.TrainNumber, sg.TrainType, sg.Operator, nullString(sg.Route), sg.Location,
		sg.SightingDate, sg.SightingTime, nullString(sg.Notes), pq.Array(photosOrEmpty(sg.Photos)), sg.CreatedAt,
	)
	if err != nil {
		return pgWriteErr("insert sighting", err)
	}
	return nil
}

func (s *PostgresStore) ListSightings(ctx context.Context, userID string, skip, limit int) ([]models.Sighting, error) {
	return s.querySightings(ctx,
		`SELECT `+sightingColumns+` FROM sightings WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		userID, limit, skip,
	)
}

func (s *PostgresStore) ListAllSightings(ctx context.Context, userID string) ([]models.Sighting, error) {
	return s.querySightings(ctx,
		`SELECT `+sightingColumns+` FROM sightings WHERE user_id = $1 ORDER BY created_at DESC`,
		userID,
	)
}

func (s *PostgresStore) querySightings(ctx context.Context, query string, args ...any) ([]models.Sighting, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select sightings: %w", err)
	}
	defer rows.Close()

	out := []models.Sighting{}
	for rows.Next() {
		sg, err := scanSighting(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sighting: %w", err)
		}
		out = append(out, *sg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sightings: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) GetSighting(ctx context.Context, userID, sightingID string) (*models.Sighting, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sightingColumns+` FROM sightings WHERE sighting_id = $1 AND user_id = $2`,
		sightingID, userID,
	)
	sg, err := scanSighting(row)
	if err != nil {
		return nil, pgReadErr("select sighting", err)
	}
	return sg, nil
}

func (s *PostgresStore) ReplaceSighting(ctx context.Context, sg *models.Sighting) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sightings SET train_number = $3, train_type = $4, operator = $5, route = $6, location = $7,
			sighting_date = $8, sighting_time = $9, notes = $10, photos = $11
		WHERE sighting_id = $1 AND user_id = $2`,
		sg.SightingID, sg.UserID, sg.TrainNumber, sg.TrainType, sg.Operator, nullString(sg.Route), sg.Location,
		sg.SightingDate, sg.SightingTime, nullString(sg.Notes), pq.Array(photosOrEmpty(sg.Photos)),
	)
	return affectedOne("replace sighting", res, err)
}

func (s *PostgresStore) DeleteSighting(ctx context.Context, userID, sightingID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM sightings WHERE sighting_id = $1 AND user_id = $2`,
		sightingID, userID,
	)
	return affectedOne("delete sighting", res, err)
}

func (s *PostgresStore) DeleteUserSightings(ctx context.Context, userID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sightings WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("delete user sightings: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSighting(row scanner) (*models.Sighting, error) {
	var (
		sg           models.Sighting
		route, notes sql.NullString
		photos       []string
	)
	err := row.Scan(
		&sg.SightingID, &sg.UserID, &sg.TrainNumber, &sg.TrainType, &sg.Operator, &route, &sg.Location,
		&sg.SightingDate, &sg.SightingTime, &notes, pq.Array(&photos), &sg.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	sg.Route = stringPtr(route)
	sg.Notes = stringPtr(notes)
	sg.Photos = photosOrEmpty(photos)
	return &sg, nil
}

func affectedOne(op string, res sql.Result, err error) error {
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func pgReadErr(op string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return fmt.Errorf("%s: %w", op, err)
}

// unique_violation
const pgUniqueViolation = "23505"

func pgWriteErr(op string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation {
		return ErrDuplicate
	}
	return fmt.Errorf("%s: %w", op, err)
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func photosOrEmpty(p []string) []string {
	if p == nil {
		return []string{}
	}
	return p
}
