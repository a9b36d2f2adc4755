package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/AnshRaj112/tracklog-backend/internal/logging"
)

// Root handles GET /api/
func Root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Hello World"})
}

// Pinger is satisfied by the configured store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Health answers OK while the store responds within two seconds.
func Health(p Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			logging.Ctx(ctx).Warn().Err(err).Msg("health check: store unreachable")
			http.Error(w, "store unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("OK"))
	}
}
