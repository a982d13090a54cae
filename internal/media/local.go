package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// LocalUploader stores files below BaseDir and serves them from BaseURL.
type LocalUploader struct {
	BaseDir string
	BaseURL string
}

// NewLocalUploader constructs an uploader that writes to the provided directory.
// If baseDir is empty, os.TempDir() is used.
func NewLocalUploader(baseDir, baseURL string) (*LocalUploader, error) {
	dir := baseDir
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "homera-media")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create local media dir: %w", err)
	}
	if baseURL == "" {
		baseURL = "/media"
	}
	return &LocalUploader{BaseDir: dir, BaseURL: strings.TrimSuffix(baseURL, "/")}, nil
}

// Upload writes the content to BaseDir/<folder>/<uuid><ext>.
func (l *LocalUploader) Upload(_ context.Context, input UploadInput) (UploadResult, error) {
	if input.Body == nil {
		return UploadResult{}, fmt.Errorf("upload body is required")
	}

	ext := strings.ToLower(filepath.Ext(input.Filename))
	if len(ext) > 10 {
		ext = ext[:10]
	}
	key := path.Join(safeSegment(input.Folder), uuid.NewString()+ext)
	full := filepath.Join(l.BaseDir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return UploadResult{}, fmt.Errorf("create media folder: %w", err)
	}

	f, err := os.Create(full)
	if err != nil {
		return UploadResult{}, fmt.Errorf("create media file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, input.Body); err != nil {
		os.Remove(full)
		return UploadResult{}, fmt.Errorf("write media file: %w", err)
	}

	return UploadResult{
		Key: key,
		URL: l.BaseURL + "/" + key,
	}, nil
}

// Delete removes a previously uploaded file.
func (l *LocalUploader) Delete(_ context.Context, key string) error {
	clean := path.Clean("/" + key)
	if clean == "/" {
		return errors.New("object key is required")
	}
	err := os.Remove(filepath.Join(l.BaseDir, filepath.FromSlash(clean)))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete media file: %w", err)
	}
	return nil
}

func safeSegment(s string) string {
	s = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return -1
	}, s)
	if s == "" {
		return "shared"
	}
	return s
}
