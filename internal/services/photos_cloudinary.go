package services

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
)

// CloudinaryPhotoStore keeps photos in a Cloudinary folder.
type CloudinaryPhotoStore struct {
	cld    *cloudinary.Cloudinary
	folder string
}

func NewCloudinaryPhotoStore(cloudName, apiKey, apiSecret, folder string) (*CloudinaryPhotoStore, error) {
	cld, err := cloudinary.NewFromParams(cloudName, apiKey, apiSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Cloudinary: %w", err)
	}
	return &CloudinaryPhotoStore{cld: cld, folder: strings.Trim(folder, "/")}, nil
}

func (s *CloudinaryPhotoStore) Save(ctx context.Context, name, _ string, data []byte) (string, error) {
	uploadResult, err := s.cld.Upload.Upload(ctx, bytes.NewReader(data), uploader.UploadParams{
		PublicID:     s.publicID(name),
		Overwrite:    api.Bool(true),
		ResourceType: "image",
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload to Cloudinary: %w", err)
	}
	if uploadResult.Error.Message != "" {
		return "", fmt.Errorf("cloudinary upload: %s", uploadResult.Error.Message)
	}
	return uploadResult.SecureURL, nil
}

func (s *CloudinaryPhotoStore) Delete(ctx context.Context, ref string) error {
	publicID, ok := s.publicIDFromURL(ref)
	if !ok {
		return nil
	}
	// Destroy reports "not found" in the result, not as an error.
	if _, err := s.cld.Upload.Destroy(ctx, uploader.DestroyParams{PublicID: publicID}); err != nil {
		return fmt.Errorf("failed to delete from Cloudinary: %w", err)
	}
	return nil
}

func (s *CloudinaryPhotoStore) Owns(ref string) bool {
	_, ok := s.publicIDFromURL(ref)
	return ok
}

// publicID is <folder>/<name without extension>.
func (s *CloudinaryPhotoStore) publicID(name string) string {
	base := strings.TrimSuffix(name, path.Ext(name))
	if s.folder == "" {
		return base
	}
	return s.folder + "/" + base
}

// publicIDFromURL recovers the public id from
// https://res.cloudinary.com/<cloud>/image/upload/v123/<folder>/<name>.<ext>.
func (s *CloudinaryPhotoStore) publicIDFromURL(ref string) (string, bool) {
	u, err := url.Parse(ref)
	if err != nil || !strings.HasSuffix(u.Host, "cloudinary.com") {
		return "", false
	}
	_, rest, ok := strings.Cut(u.Path, "/upload/")
	if !ok {
		return "", false
	}
	// Drop the optional version segment.
	if first, after, found := strings.Cut(rest, "/"); found && len(first) > 1 && first[0] == 'v' && isDigits(first[1:]) {
		rest = after
	}
	id := strings.TrimSuffix(rest, path.Ext(rest))
	if s.folder != "" && !strings.HasPrefix(id, s.folder+"/") {
		return "", false
	}
	return id, id != ""
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
