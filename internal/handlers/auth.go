package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/AnshRaj112/tracklog-backend/internal/middleware"
	"github.com/AnshRaj112/tracklog-backend/internal/models"
	"github.com/AnshRaj112/tracklog-backend/internal/services"
)

// CookieConfig controls the session cookie. Production cookies are Secure
// and SameSite=None so the cross-site frontend can send them.
type CookieConfig struct {
	Name     string
	Secure   bool
	SameSite http.SameSite
	MaxAge   time.Duration
}

func NewCookieConfig(name string, production bool, ttl time.Duration) CookieConfig {
	c := CookieConfig{Name: name, MaxAge: ttl, SameSite: http.SameSiteLaxMode}
	if production {
		c.Secure = true
		c.SameSite = http.SameSiteNoneMode
	}
	return c
}

// AuthResponse is the user plus the session token for bearer clients.
type AuthResponse struct {
	*models.User
	SessionToken string `json:"session_token"`
}

type sessionExchangeRequest struct {
	SessionID string `json:"session_id"`
}

type AuthHandler struct {
	accounts *services.Accounts
	auth     *services.Authenticator
	cookie   CookieConfig
}

func NewAuthHandler(accounts *services.Accounts, auth *services.Authenticator, cookie CookieConfig) *AuthHandler {
	return &AuthHandler{accounts: accounts, auth: auth, cookie: cookie}
}

// Register handles POST /api/auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req services.RegisterInput
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}
	user, sess, err := h.accounts.Register(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.signedIn(w, user, sess)
}

// Login handles POST /api/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req services.LoginInput
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}
	user, sess, err := h.accounts.Login(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.signedIn(w, user, sess)
}

// ExchangeSession handles POST /api/auth/session. The external session id
// comes from the body or the X-Session-ID header.
func (h *AuthHandler) ExchangeSession(w http.ResponseWriter, r *http.Request) {
	var req sessionExchangeRequest
	if err := decodeJSON(w, r, &req, true); err != nil {
		writeError(w, r, err)
		return
	}
	id := strings.TrimSpace(req.SessionID)
	if id == "" {
		id = strings.TrimSpace(r.Header.Get("X-Session-ID"))
	}
	user, sess, err := h.auth.ExchangeExternalSession(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.signedIn(w, user, sess)
}

// Me handles GET /api/auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, middleware.UserFromContext(r.Context()))
}

// Logout handles POST /api/auth/logout. Unknown or missing tokens still succeed.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if token := middleware.TokenFromContext(r.Context()); token != "" {
		if err := h.auth.Invalidate(r.Context(), token); err != nil {
			writeError(w, r, err)
			return
		}
	}
	h.clearCookie(w)
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Logged out successfully"})
}

// UpdateProfile handles PUT /api/auth/profile
func (h *AuthHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req services.ProfileInput
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}
	user, err := h.accounts.UpdateProfile(r.Context(), middleware.UserFromContext(r.Context()), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// UpdatePassword handles PUT /api/auth/password
func (h *AuthHandler) UpdatePassword(w http.ResponseWriter, r *http.Request) {
	var req services.PasswordInput
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}
	ctx := r.Context()
	if err := h.accounts.UpdatePassword(ctx, middleware.UserFromContext(ctx), middleware.TokenFromContext(ctx), req); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Password updated successfully"})
}

// DeleteAccount handles DELETE /api/auth/account
func (h *AuthHandler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	if err := h.accounts.DeleteAccount(r.Context(), middleware.UserFromContext(r.Context())); err != nil {
		writeError(w, r, err)
		return
	}
	h.clearCookie(w)
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Account deleted successfully"})
}

func (h *AuthHandler) signedIn(w http.ResponseWriter, user *models.User, sess *models.Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cookie.Name,
		Value:    sess.Token,
		Path:     "/",
		MaxAge:   int(h.cookie.MaxAge / time.Second),
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: h.cookie.SameSite,
	})
	writeJSON(w, http.StatusOK, AuthResponse{User: user, SessionToken: sess.Token})
}

func (h *AuthHandler) clearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cookie.Name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: h.cookie.SameSite,
	})
}
