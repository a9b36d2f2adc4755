package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/AnshRaj112/tracklog-backend/internal/apperr"
	"github.com/AnshRaj112/tracklog-backend/internal/logging"
	"github.com/AnshRaj112/tracklog-backend/internal/metrics"
	"github.com/AnshRaj112/tracklog-backend/internal/models"
	"github.com/AnshRaj112/tracklog-backend/internal/store"
	"github.com/AnshRaj112/tracklog-backend/internal/validation"
)

const (
	DefaultListLimit = 100
	MaxListLimit     = 1000

	msgSightingNotFound = "Sighting not found"
)

// SightingInput is the user-editable part of a sighting. Photos holds data
// URLs to store or external URLs to keep as they are.
type SightingInput struct {
	TrainNumber  string   `json:"train_number" validate:"required,max=50"`
	TrainType    string   `json:"train_type" validate:"required,max=50"`
	Operator     string   `json:"operator" validate:"required,max=100"`
	Route        *string  `json:"route" validate:"omitempty,max=200"`
	Location     string   `json:"location" validate:"required,max=200"`
	SightingDate string   `json:"sighting_date" validate:"required,max=20"`
	SightingTime string   `json:"sighting_time" validate:"required,max=20"`
	Notes        *string  `json:"notes" validate:"omitempty,max=2000"`
	Photos       []string `json:"photos"`
}

// PhotoUpload is one multipart file.
type PhotoUpload struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Sightings owns the sighting lifecycle and its stored photos.
type Sightings struct {
	store  store.SightingStore
	photos PhotoStore
	now    func() time.Time
}

func NewSightings(s store.SightingStore, photos PhotoStore) *Sightings {
	return &Sightings{store: s, photos: photos, now: time.Now}
}

// Create stores a new sighting. Photos that fail to decode or save are
// skipped; their positions (data URLs first, then uploads) are returned.
func (s *Sightings) Create(ctx context.Context, userID string, in SightingInput, uploads []PhotoUpload) (*models.Sighting, []int, error) {
	in = normalizeInput(in)
	if err := validation.Struct(in); err != nil {
		return nil, nil, err
	}

	sighting := &models.Sighting{
		SightingID: models.NewSightingID(),
		UserID:     userID,
		CreatedAt:  s.now().UTC(),
	}
	applyInput(sighting, in)

	refs, skipped, saved := s.storePhotos(ctx, sighting.SightingID, "", in.Photos, nil, uploads)
	sighting.Photos = refs

	if err := s.store.CreateSighting(ctx, sighting); err != nil {
		s.deletePhotos(ctx, sighting.SightingID, saved)
		return nil, nil, apperr.Internal(err)
	}
	logging.Ctx(ctx).Info().Str("user_id", userID).Str("sighting_id", sighting.SightingID).
		Int("photos", len(refs)).Ints("skipped_photos", skipped).Msg("sighting created")
	return sighting, skipped, nil
}

// List returns the user's sightings newest first.
func (s *Sightings) List(ctx context.Context, userID string, skip, limit int) ([]models.Sighting, error) {
	if skip < 0 {
		skip = 0
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	list, err := s.store.ListSightings(ctx, userID, skip, limit)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return list, nil
}

func (s *Sightings) Get(ctx context.Context, userID, sightingID string) (*models.Sighting, error) {
	sighting, err := s.store.GetSighting(ctx, userID, sightingID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound(msgSightingNotFound)
	}
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return sighting, nil
}

// Replace overwrites every user-editable field. Stored photos the new
// version no longer references are deleted afterwards.
func (s *Sightings) Replace(ctx context.Context, userID, sightingID string, in SightingInput, uploads []PhotoUpload) (*models.Sighting, []int, error) {
	in = normalizeInput(in)
	if err := validation.Struct(in); err != nil {
		return nil, nil, err
	}
	existing, err := s.Get(ctx, userID, sightingID)
	if err != nil {
		return nil, nil, err
	}

	updated := &models.Sighting{
		SightingID: existing.SightingID,
		UserID:     existing.UserID,
		CreatedAt:  existing.CreatedAt,
	}
	applyInput(updated, in)

	// New files get a revision tag so they never overwrite a file the old version still points at.
	refs, skipped, saved := s.storePhotos(ctx, updated.SightingID, models.NewRevision(), in.Photos, existing.Photos, uploads)
	updated.Photos = refs

	if err := s.store.ReplaceSighting(ctx, updated); err != nil {
		s.deletePhotos(ctx, updated.SightingID, saved)
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, apperr.NotFound(msgSightingNotFound)
		}
		return nil, nil, apperr.Internal(err)
	}

	keep := make(map[string]struct{}, len(refs))
	for _, r := range refs {
		keep[r] = struct{}{}
	}
	var dropped []string
	for _, r := range existing.Photos {
		if _, ok := keep[r]; !ok {
			dropped = append(dropped, r)
		}
	}
	s.deletePhotos(ctx, updated.SightingID, dropped)
	return updated, skipped, nil
}

// Delete removes the sighting and then its stored photos. Photos that are
// already gone are ignored.
func (s *Sightings) Delete(ctx context.Context, userID, sightingID string) error {
	existing, err := s.Get(ctx, userID, sightingID)
	if err != nil {
		return err
	}
	err = s.store.DeleteSighting(ctx, userID, sightingID)
	if errors.Is(err, store.ErrNotFound) {
		return apperr.NotFound(msgSightingNotFound)
	}
	if err != nil {
		return apperr.Internal(err)
	}
	s.deletePhotos(ctx, sightingID, existing.Photos)
	return nil
}

// DeleteAllForUser removes every sighting of userID along with their photos.
func (s *Sightings) DeleteAllForUser(ctx context.Context, userID string) error {
	all, err := s.store.ListAllSightings(ctx, userID)
	if err != nil {
		return apperr.Internal(err)
	}
	if err := s.store.DeleteUserSightings(ctx, userID); err != nil {
		return apperr.Internal(err)
	}
	for _, sighting := range all {
		s.deletePhotos(ctx, sighting.SightingID, sighting.Photos)
	}
	return nil
}

// Stats summarizes the user's full sighting set.
func (s *Sightings) Stats(ctx context.Context, userID string) (models.SightingStats, error) {
	all, err := s.store.ListAllSightings(ctx, userID)
	if err != nil {
		return models.SightingStats{}, apperr.Internal(err)
	}
	return Summarize(all, s.now()), nil
}

// storePhotos saves data URLs and uploads, keeps external URLs verbatim and
// returns the final refs, the skipped positions and the refs it created.
// Refs into our own photo store are kept only when current (the version
// being replaced) already holds them; any other one names a file this
// sighting does not own and is skipped.
func (s *Sightings) storePhotos(ctx context.Context, sightingID, revision string, photos, current []string, uploads []PhotoUpload) (refs []string, skipped []int, saved []string) {
	refs = []string{}
	log := logging.Ctx(ctx)
	owned := make(map[string]struct{}, len(current))
	for _, r := range current {
		owned[r] = struct{}{}
	}

	save := func(i int, ext, contentType string, data []byte) {
		if s.photos == nil {
			metrics.PhotoFailures.WithLabelValues("save").Inc()
			skipped = append(skipped, i)
			return
		}
		ref, err := s.photos.Save(ctx, photoName(sightingID, revision, i, ext), contentType, data)
		if err != nil {
			log.Warn().Err(err).Str("sighting_id", sightingID).Int("photo", i).Msg("photo save failed, skipping")
			metrics.PhotoFailures.WithLabelValues("save").Inc()
			skipped = append(skipped, i)
			return
		}
		refs = append(refs, ref)
		saved = append(saved, ref)
	}

	for i, p := range photos {
		p = strings.TrimSpace(p)
		if !isDataURL(p) {
			if p == "" {
				skipped = append(skipped, i)
				continue
			}
			if s.photos != nil && s.photos.Owns(p) {
				if _, ok := owned[p]; !ok {
					log.Warn().Str("sighting_id", sightingID).Int("photo", i).Msg("photo ref not owned by sighting, skipping")
					skipped = append(skipped, i)
					continue
				}
			}
			refs = append(refs, p)
			continue
		}
		data, ext, contentType, err := decodeDataURL(p)
		if err != nil {
			log.Warn().Err(err).Str("sighting_id", sightingID).Int("photo", i).Msg("photo decode failed, skipping")
			metrics.PhotoFailures.WithLabelValues("decode").Inc()
			skipped = append(skipped, i)
			continue
		}
		save(i, ext, contentType, data)
	}

	for j, up := range uploads {
		i := len(photos) + j
		if len(up.Data) == 0 {
			metrics.PhotoFailures.WithLabelValues("decode").Inc()
			skipped = append(skipped, i)
			continue
		}
		save(i, extensionFor(up.Filename, up.ContentType), up.ContentType, up.Data)
	}
	return refs, skipped, saved
}

func (s *Sightings) deletePhotos(ctx context.Context, sightingID string, refs []string) {
	deleteStoredPhotos(ctx, s.photos, sightingID+"_", refs)
}

// deleteStoredPhotos removes refs owned by photos whose file name starts with
// namePrefix; failures are logged, not returned.
func deleteStoredPhotos(ctx context.Context, photos PhotoStore, namePrefix string, refs []string) {
	if photos == nil {
		return
	}
	for _, ref := range refs {
		if !photos.Owns(ref) {
			continue
		}
		if !strings.HasPrefix(photoFileName(ref), namePrefix) {
			logging.Ctx(ctx).Warn().Str("photo", ref).Str("owner", strings.TrimSuffix(namePrefix, "_")).
				Msg("refusing to delete photo stored under another name")
			continue
		}
		if err := photos.Delete(ctx, ref); err != nil {
			logging.Ctx(ctx).Warn().Err(err).Str("photo", ref).Msg("photo delete failed")
			metrics.PhotoFailures.WithLabelValues("delete").Inc()
		}
	}
}

// photoFileName is the last path element of a stored photo ref, local path or URL.
func photoFileName(ref string) string {
	if u, err := url.Parse(ref); err == nil && u.Path != "" {
		return path.Base(u.Path)
	}
	return path.Base(ref)
}

// photoName is <sighting_id>_<i>.<ext>, or <sighting_id>_<rev>_<i>.<ext> on replace.
func photoName(sightingID, revision string, i int, ext string) string {
	if revision == "" {
		return fmt.Sprintf("%s_%d.%s", sightingID, i, ext)
	}
	return fmt.Sprintf("%s_%s_%d.%s", sightingID, revision, i, ext)
}

func normalizeInput(in SightingInput) SightingInput {
	in.TrainNumber = strings.TrimSpace(in.TrainNumber)
	in.TrainType = strings.TrimSpace(in.TrainType)
	in.Operator = strings.TrimSpace(in.Operator)
	in.Location = strings.TrimSpace(in.Location)
	in.SightingDate = strings.TrimSpace(in.SightingDate)
	in.SightingTime = strings.TrimSpace(in.SightingTime)
	in.Route = trimOptional(in.Route)
	in.Notes = trimOptional(in.Notes)
	return in
}

func trimOptional(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

func applyInput(dst *models.Sighting, in SightingInput) {
	dst.TrainNumber = in.TrainNumber
	dst.TrainType = in.TrainType
	dst.Operator = in.Operator
	dst.Route = in.Route
	dst.Location = in.Location
	dst.SightingDate = in.SightingDate
	dst.SightingTime = in.SightingTime
	dst.Notes = in.Notes
}
