package handlers

import (
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/AnshRaj112/tracklog-backend/internal/apperr"
	"github.com/AnshRaj112/tracklog-backend/internal/middleware"
	"github.com/AnshRaj112/tracklog-backend/internal/models"
	"github.com/AnshRaj112/tracklog-backend/internal/services"
)

// SightingResponse adds the positions of photos that could not be stored.
type SightingResponse struct {
	*models.Sighting
	SkippedPhotos []int `json:"skipped_photos,omitempty"`
}

type SightingHandler struct {
	sightings *services.Sightings
}

func NewSightingHandler(sightings *services.Sightings) *SightingHandler {
	return &SightingHandler{sightings: sightings}
}

// Create handles POST /api/sightings (JSON or multipart/form-data)
func (h *SightingHandler) Create(w http.ResponseWriter, r *http.Request) {
	in, uploads, err := readSighting(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	user := middleware.UserFromContext(r.Context())
	s, skipped, err := h.sightings.Create(r.Context(), user.UserID, in, uploads)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SightingResponse{Sighting: s, SkippedPhotos: skipped})
}

// List handles GET /api/sightings?skip=&limit=
func (h *SightingHandler) List(w http.ResponseWriter, r *http.Request) {
	skip, err := queryInt(r, "skip")
	if err != nil {
		writeError(w, r, err)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, r, err)
		return
	}
	user := middleware.UserFromContext(r.Context())
	list, err := h.sightings.List(r.Context(), user.UserID, skip, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if list == nil {
		list = []models.Sighting{}
	}
	writeJSON(w, http.StatusOK, list)
}

// Stats handles GET /api/sightings/stats
func (h *SightingHandler) Stats(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())
	stats, err := h.sightings.Stats(r.Context(), user.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// Get handles GET /api/sightings/{id}
func (h *SightingHandler) Get(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())
	s, err := h.sightings.Get(r.Context(), user.UserID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// Replace handles PUT /api/sightings/{id}
func (h *SightingHandler) Replace(w http.ResponseWriter, r *http.Request) {
	in, uploads, err := readSighting(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	user := middleware.UserFromContext(r.Context())
	s, skipped, err := h.sightings.Replace(r.Context(), user.UserID, chi.URLParam(r, "id"), in, uploads)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SightingResponse{Sighting: s, SkippedPhotos: skipped})
}

// Delete handles DELETE /api/sightings/{id}
func (h *SightingHandler) Delete(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())
	if err := h.sightings.Delete(r.Context(), user.UserID, chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Sighting deleted successfully"})
}

func queryInt(r *http.Request, name string) (int, error) {
	v := strings.TrimSpace(r.URL.Query().Get(name))
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, apperr.Validation(name + " must be a non-negative integer")
	}
	return n, nil
}

// readSighting decodes a JSON body, or a multipart form whose "photos" parts
// are files and whose text fields mirror the JSON keys.
func readSighting(w http.ResponseWriter, r *http.Request) (services.SightingInput, []services.PhotoUpload, error) {
	var in services.SightingInput
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		err := decodeJSON(w, r, &in, false)
		return in, nil, err
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		return in, nil, apperr.Validation("Failed to parse form")
	}
	form := r.MultipartForm
	field := func(key string) string {
		if vs := form.Value[key]; len(vs) > 0 {
			return vs[0]
		}
		return ""
	}
	optional := func(key string) *string {
		if vs, ok := form.Value[key]; ok && len(vs) > 0 {
			v := vs[0]
			return &v
		}
		return nil
	}

	in = services.SightingInput{
		TrainNumber:  field("train_number"),
		TrainType:    field("train_type"),
		Operator:     field("operator"),
		Route:        optional("route"),
		Location:     field("location"),
		SightingDate: field("sighting_date"),
		SightingTime: field("sighting_time"),
		Notes:        optional("notes"),
		Photos:       form.Value["photos"],
	}

	files := form.File["photos"]
	uploads := make([]services.PhotoUpload, 0, len(files))
	for _, fh := range files {
		up, err := readUpload(fh)
		if err != nil {
			return in, nil, apperr.Validation(fmt.Sprintf("Failed to read photo %q", fh.Filename))
		}
		uploads = append(uploads, up)
	}
	return in, uploads, nil
}

func readUpload(fh *multipart.FileHeader) (services.PhotoUpload, error) {
	f, err := fh.Open()
	if err != nil {
		return services.PhotoUpload{}, err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return services.PhotoUpload{}, err
	}
	return services.PhotoUpload{
		Filename:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}
