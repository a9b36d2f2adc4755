package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/AnshRaj112/tracklog-backend/internal/apperr"
	"github.com/AnshRaj112/tracklog-backend/internal/logging"
)

const (
	// maxJSONBody bounds JSON bodies, which may carry several data-URL photos.
	maxJSONBody = 32 << 20
	// maxMultipartMemory is the in-memory part of a multipart form (10MB); the rest spills to disk.
	maxMultipartMemory = 10 << 20
)

// MessageResponse is the body of endpoints that only confirm an action.
type MessageResponse struct {
	Message string `json:"message"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Warn().Err(err).Msg("encode response")
	}
}

// writeError maps err to its status and {"detail": ...} body. Internal causes
// are logged, never returned.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.Status(err)
	switch {
	case status >= http.StatusInternalServerError:
		logging.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	case apperr.Is(err, apperr.KindUpstreamAuth):
		// The upstream reason is for logs only.
		logging.Ctx(r.Context()).Warn().Err(err).Str("path", r.URL.Path).Msg("external authentication failed")
	}
	writeJSON(w, status, errorResponse{Detail: apperr.PublicMessage(err)})
}

// decodeJSON reads one JSON value into v. An empty body is allowed when
// allowEmpty is set.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any, allowEmpty bool) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return nil
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return apperr.Validation("Request body too large")
		}
		return apperr.Validation("Invalid request body")
	}
	return nil
}
