package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/AnshRaj112/tracklog-backend/internal/apperr"
	"github.com/AnshRaj112/tracklog-backend/internal/logging"
	"github.com/AnshRaj112/tracklog-backend/internal/metrics"
	"github.com/AnshRaj112/tracklog-backend/internal/models"
	"github.com/AnshRaj112/tracklog-backend/internal/store"
	"github.com/AnshRaj112/tracklog-backend/internal/validation"
	"github.com/AnshRaj112/tracklog-backend/pkg/utils"
)

const msgEmailTaken = "Email already registered"

type RegisterInput struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required"`
	Name     string `json:"name" validate:"required,max=100"`
}

type LoginInput struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// ProfileInput updates the display name and, when Picture is set, the avatar.
// Picture may be a data URL (stored), an URL (kept) or "" (removed).
type ProfileInput struct {
	Name    string  `json:"name" validate:"required,max=100"`
	Picture *string `json:"picture"`
}

type PasswordInput struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required"`
}

// Accounts covers registration, login and profile management.
type Accounts struct {
	users     store.UserStore
	auth      *Authenticator
	sightings *Sightings
	photos    PhotoStore
	now       func() time.Time
}

func NewAccounts(users store.UserStore, auth *Authenticator, sightings *Sightings, photos PhotoStore) *Accounts {
	return &Accounts{users: users, auth: auth, sightings: sightings, photos: photos, now: time.Now}
}

// Register creates an email/password account and signs it in. The email
// pre-check gives the common case a clean error; the unique index on email
// settles concurrent registrations.
func (a *Accounts) Register(ctx context.Context, in RegisterInput) (*models.User, *models.Session, error) {
	in.Email = models.NormalizeEmail(in.Email)
	in.Name = strings.TrimSpace(in.Name)
	if err := validation.Struct(in); err != nil {
		return nil, nil, err
	}
	if err := checkPassword("password", in.Password); err != nil {
		return nil, nil, err
	}

	_, err := a.users.GetUserByEmail(ctx, in.Email)
	if err == nil {
		return nil, nil, apperr.Validation(msgEmailTaken)
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, nil, apperr.Internal(err)
	}

	hash, err := utils.HashPassword(in.Password)
	if err != nil {
		return nil, nil, apperr.Internal(err)
	}
	user := &models.User{
		UserID:       models.NewUserID(),
		Email:        in.Email,
		Name:         in.Name,
		PasswordHash: &hash,
		AuthProvider: models.AuthProviderEmail,
		CreatedAt:    a.now().UTC(),
	}
	if err := a.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, nil, apperr.Validation(msgEmailTaken)
		}
		return nil, nil, apperr.Internal(err)
	}

	sess, err := a.auth.Issue(ctx, user.UserID)
	if err != nil {
		return nil, nil, err
	}
	logging.Ctx(ctx).Info().Str("user_id", user.UserID).Msg("user registered")
	return user, sess, nil
}

func (a *Accounts) Login(ctx context.Context, in LoginInput) (*models.User, *models.Session, error) {
	if err := validation.Struct(in); err != nil {
		return nil, nil, err
	}
	user, err := a.auth.VerifyCredentials(ctx, in.Email, in.Password)
	if err != nil {
		return nil, nil, err
	}
	sess, err := a.auth.Issue(ctx, user.UserID)
	if err != nil {
		return nil, nil, err
	}
	return user, sess, nil
}

func (a *Accounts) UpdateProfile(ctx context.Context, user *models.User, in ProfileInput) (*models.User, error) {
	in.Name = strings.TrimSpace(in.Name)
	if err := validation.Struct(in); err != nil {
		return nil, err
	}

	picture := user.Picture
	if in.Picture != nil {
		p := strings.TrimSpace(*in.Picture)
		switch {
		case p == "":
			picture = nil
		case isDataURL(p):
			ref, err := a.saveAvatar(ctx, user.UserID, p)
			if err != nil {
				return nil, err
			}
			picture = &ref
		case a.photos != nil && a.photos.Owns(p) && (user.Picture == nil || *user.Picture != p):
			// Only the user's current stored avatar may be sent back as a ref.
			return nil, apperr.Validation("Invalid picture")
		default:
			picture = &p
		}
	}

	if err := a.users.UpdateUserProfile(ctx, user.UserID, in.Name, picture); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.Authentication(msgNotAuthenticated, ErrUserGone)
		}
		return nil, apperr.Internal(err)
	}

	if old := user.Picture; old != nil && (picture == nil || *picture != *old) {
		deleteStoredPhotos(ctx, a.photos, avatarPrefix(user.UserID), []string{*old})
	}

	updated := *user
	updated.Name = in.Name
	updated.Picture = picture
	return &updated, nil
}

func (a *Accounts) saveAvatar(ctx context.Context, userID, dataURL string) (string, error) {
	if a.photos == nil {
		return "", apperr.Validation("Picture uploads are not available")
	}
	data, ext, contentType, err := decodeDataURL(dataURL)
	if err != nil {
		metrics.PhotoFailures.WithLabelValues("decode").Inc()
		return "", apperr.Validation("Invalid picture")
	}
	// Revision keeps the old avatar file distinct until it is deleted.
	name := avatarPrefix(userID) + models.NewRevision() + "." + ext
	ref, err := a.photos.Save(ctx, name, contentType, data)
	if err != nil {
		metrics.PhotoFailures.WithLabelValues("save").Inc()
		return "", apperr.Internal(err)
	}
	return ref, nil
}

// checkPassword applies the password length rules; bcrypt rejects input past 72 bytes.
func checkPassword(field, password string) error {
	switch err := utils.CheckPasswordLength(password); {
	case errors.Is(err, utils.ErrPasswordTooShort):
		return apperr.Validation(fmt.Sprintf("%s must be at least %d characters", field, utils.MinPasswordLength))
	case errors.Is(err, utils.ErrPasswordTooLong):
		return apperr.Validation(fmt.Sprintf("%s must be at most %d bytes", field, utils.MaxPasswordBytes))
	}
	return nil
}

func avatarPrefix(userID string) string { return userID + "_avatar_" }

// UpdatePassword changes the password and revokes every other session of
// the user; currentToken stays valid.
func (a *Accounts) UpdatePassword(ctx context.Context, user *models.User, currentToken string, in PasswordInput) error {
	if !user.HasPassword() {
		return apperr.Validation("Password login is not enabled for this account")
	}
	if err := validation.Struct(in); err != nil {
		return err
	}
	if err := checkPassword("new_password", in.NewPassword); err != nil {
		return err
	}
	ok, err := utils.VerifyPassword(in.CurrentPassword, *user.PasswordHash)
	if err != nil {
		return apperr.Internal(err)
	}
	if !ok {
		return apperr.Validation("Current password is incorrect")
	}

	hash, err := utils.HashPassword(in.NewPassword)
	if err != nil {
		return apperr.Internal(err)
	}
	if err := a.users.UpdateUserPassword(ctx, user.UserID, hash); err != nil {
		return apperr.Internal(err)
	}
	if err := a.auth.InvalidateUser(ctx, user.UserID, currentToken); err != nil {
		return err
	}
	logging.Ctx(ctx).Info().Str("user_id", user.UserID).Msg("password changed")
	return nil
}

// DeleteAccount removes the user's sightings and photos, sessions, avatar and
// finally the user record.
func (a *Accounts) DeleteAccount(ctx context.Context, user *models.User) error {
	if err := a.sightings.DeleteAllForUser(ctx, user.UserID); err != nil {
		return err
	}
	if err := a.auth.InvalidateUser(ctx, user.UserID, ""); err != nil {
		return err
	}
	if user.Picture != nil {
		deleteStoredPhotos(ctx, a.photos, avatarPrefix(user.UserID), []string{*user.Picture})
	}
	if err := a.users.DeleteUser(ctx, user.UserID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return apperr.Internal(err)
	}
	logging.Ctx(ctx).Info().Str("user_id", user.UserID).Msg("account deleted")
	return nil
}
