package services

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// UploadsURLPrefix is where LocalPhotoStore files are served from.
const UploadsURLPrefix = "/api/uploads/"

// PhotoStore persists image bytes and hands back a reference to store on the record.
type PhotoStore interface {
	// Save writes data under name and returns the reference to persist.
	Save(ctx context.Context, name, contentType string, data []byte) (string, error)
	// Delete removes a stored photo; a missing object is not an error.
	Delete(ctx context.Context, ref string) error
	// Owns reports whether ref was produced by this store (as opposed to an external URL).
	Owns(ref string) bool
}

// LocalPhotoStore writes files under a directory served at /api/uploads/.
type LocalPhotoStore struct {
	dir string
}

func NewLocalPhotoStore(dir string) (*LocalPhotoStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create uploads dir: %w", err)
	}
	return &LocalPhotoStore{dir: dir}, nil
}

// Dir is the directory backing the /api/uploads/ file server.
func (s *LocalPhotoStore) Dir() string { return s.dir }

func (s *LocalPhotoStore) Save(_ context.Context, name, _ string, data []byte) (string, error) {
	name = filepath.Base(name)
	if err := os.WriteFile(filepath.Join(s.dir, name), data, 0o644); err != nil {
		return "", fmt.Errorf("write photo: %w", err)
	}
	return UploadsURLPrefix + name, nil
}

func (s *LocalPhotoStore) Delete(_ context.Context, ref string) error {
	if !s.Owns(ref) {
		return nil
	}
	name := path.Base(strings.TrimPrefix(ref, UploadsURLPrefix))
	err := os.Remove(filepath.Join(s.dir, name))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove photo: %w", err)
	}
	return nil
}

func (s *LocalPhotoStore) Owns(ref string) bool {
	return strings.HasPrefix(ref, UploadsURLPrefix)
}

var errNotDataURL = errors.New("not a data URL")

// decodeDataURL parses data:image/<type>;base64,<payload>. The extension is
// jpg when the header mentions jpeg and png otherwise.
func decodeDataURL(s string) (data []byte, ext, contentType string, err error) {
	if !strings.HasPrefix(s, "data:") {
		return nil, "", "", errNotDataURL
	}
	header, payload, ok := strings.Cut(s, ",")
	if !ok {
		return nil, "", "", errors.New("data URL has no payload")
	}
	if !strings.Contains(header, ";base64") {
		return nil, "", "", errors.New("data URL is not base64 encoded")
	}
	data, err = base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", "", fmt.Errorf("decode data URL: %w", err)
	}
	if len(data) == 0 {
		return nil, "", "", errors.New("data URL is empty")
	}
	contentType = strings.TrimSuffix(strings.TrimPrefix(header, "data:"), ";base64")
	ext = "png"
	if strings.Contains(header, "jpeg") {
		ext = "jpg"
	}
	return data, ext, contentType, nil
}

// isDataURL reports whether s looks like an inline upload rather than a URL.
func isDataURL(s string) bool {
	return strings.HasPrefix(s, "data:")
}

// extensionFor picks a file extension for a multipart upload.
func extensionFor(filename, contentType string) string {
	switch strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), ".")) {
	case "jpg", "jpeg":
		return "jpg"
	case "png", "gif", "webp":
		return strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	}
	switch contentType {
	case "image/jpeg":
		return "jpg"
	case "image/gif":
		return "gif"
	case "image/webp":
		return "webp"
	}
	return "png"
}
