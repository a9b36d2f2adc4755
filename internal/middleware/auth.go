package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/goccy/go-json"

	"github.com/AnshRaj112/tracklog-backend/internal/apperr"
	"github.com/AnshRaj112/tracklog-backend/internal/models"
)

// TokenExtractor pulls a session token out of a request; "" means absent.
type TokenExtractor func(r *http.Request) string

// CookieExtractor reads the token from the named cookie.
func CookieExtractor(name string) TokenExtractor {
	return func(r *http.Request) string {
		c, err := r.Cookie(name)
		if err != nil {
			return ""
		}
		return strings.TrimSpace(c.Value)
	}
}

// BearerExtractor reads "Authorization: Bearer <token>".
func BearerExtractor(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// ExtractToken returns the first non-empty token in extractor order.
func ExtractToken(r *http.Request, extractors []TokenExtractor) string {
	for _, ex := range extractors {
		if t := ex(r); t != "" {
			return t
		}
	}
	return ""
}

// SessionResolver maps a token to its user.
type SessionResolver interface {
	Resolve(ctx context.Context, token string) (*models.User, error)
}

type ctxKey int

const (
	userKey ctxKey = iota
	tokenKey
)

// UserFromContext returns the authenticated user, or nil.
func UserFromContext(ctx context.Context) *models.User {
	u, _ := ctx.Value(userKey).(*models.User)
	return u
}

// TokenFromContext returns the presented session token, or "".
func TokenFromContext(ctx context.Context) string {
	t, _ := ctx.Value(tokenKey).(string)
	return t
}

// WithSession stores user and token in ctx. Exposed for handler tests.
func WithSession(ctx context.Context, user *models.User, token string) context.Context {
	if token != "" {
		ctx = context.WithValue(ctx, tokenKey, token)
	}
	if user != nil {
		ctx = context.WithValue(ctx, userKey, user)
	}
	return ctx
}

// RequireSession rejects the request with 401 unless the token resolves.
func RequireSession(resolver SessionResolver, extractors []TokenExtractor) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := ExtractToken(r, extractors)
			user, err := resolver.Resolve(r.Context(), token)
			if err != nil {
				writeDetail(w, apperr.Status(err), apperr.PublicMessage(err))
				return
			}
			next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), user, token)))
		})
	}
}

// OptionalSession attaches the token, and the user when it resolves, without
// ever rejecting.
func OptionalSession(resolver SessionResolver, extractors []TokenExtractor) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := ExtractToken(r, extractors)
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}
			user, err := resolver.Resolve(r.Context(), token)
			if err != nil {
				user = nil
			}
			next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), user, token)))
		})
	}
}

func writeDetail(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"detail": msg})
}
