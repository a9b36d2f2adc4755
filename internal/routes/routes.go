package routes

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/AnshRaj112/tracklog-backend/internal/handlers"
	"github.com/AnshRaj112/tracklog-backend/internal/metrics"
	"github.com/AnshRaj112/tracklog-backend/internal/middleware"
	"github.com/AnshRaj112/tracklog-backend/internal/services"
)

// Deps are the wired services the routes dispatch to.
type Deps struct {
	Store     handlers.Pinger
	Auth      *services.Authenticator
	Accounts  *services.Accounts
	Sightings *services.Sightings

	Cookie         handlers.CookieConfig
	AllowedOrigins []string
	Production     bool
	TrustProxy     bool
	// UploadsDir is served at /api/uploads/ when photos are stored locally.
	UploadsDir string
}

// NewRouter builds the router with the global middleware chain and all routes.
func NewRouter(d Deps) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.AccessLog(d.TrustProxy))
	r.Use(middleware.CORS(d.AllowedOrigins))
	if d.Production {
		for _, mw := range middleware.ProductionSecurity() {
			r.Use(mw)
		}
	}
	SetupRoutes(r, d)
	return r
}

func SetupRoutes(r chi.Router, d Deps) {
	extractors := []middleware.TokenExtractor{
		middleware.CookieExtractor(d.Cookie.Name),
		middleware.BearerExtractor,
	}
	requireSession := middleware.RequireSession(d.Auth, extractors)
	optionalSession := middleware.OptionalSession(d.Auth, extractors)

	authH := handlers.NewAuthHandler(d.Accounts, d.Auth, d.Cookie)
	sightingH := handlers.NewSightingHandler(d.Sightings)

	r.Get("/health", handlers.Health(d.Store))
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/", handlers.Root)

		// Auth routes
		r.Post("/auth/register", authH.Register)
		r.Post("/auth/login", authH.Login)
		r.Post("/auth/session", authH.ExchangeSession)
		r.With(optionalSession).Post("/auth/logout", authH.Logout)
		r.Group(func(r chi.Router) {
			r.Use(requireSession)
			r.Get("/auth/me", authH.Me)
			r.Put("/auth/profile", authH.UpdateProfile)
			r.Put("/auth/password", authH.UpdatePassword)
			r.Delete("/auth/account", authH.DeleteAccount)
		})

		// Sighting routes
		r.Group(func(r chi.Router) {
			r.Use(requireSession)
			r.Post("/sightings", sightingH.Create)
			r.Get("/sightings", sightingH.List)
			r.Get("/sightings/stats", sightingH.Stats)
			r.Get("/sightings/{id}", sightingH.Get)
			r.Put("/sightings/{id}", sightingH.Replace)
			r.Delete("/sightings/{id}", sightingH.Delete)
		})

		// Stored photo files (local backend only)
		if d.UploadsDir != "" {
			files := http.StripPrefix(services.UploadsURLPrefix, http.FileServer(http.Dir(d.UploadsDir)))
			r.Get("/uploads/*", noDirListing(files).ServeHTTP)
		}
	})
}

func noDirListing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}
