// Package images stores uploaded chat images on local disk and tracks them
// per session so deletes can clean up.
package images

import (
	"context"
	"fmt"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/etwicaksono/droid-remote/internal/session/models"
	"github.com/etwicaksono/droid-remote/internal/session/store"
)

var allowedExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".webp": true,
}

// Service writes uploads under a base directory and records them in the
// session store.
type Service struct {
	baseDir  string
	urlBase  string
	sessions *store.Store
}

// NewService creates the image service. The base directory is created on
// first use.
func NewService(baseDir, urlBase string, sessions *store.Store) *Service {
	return &Service{baseDir: baseDir, urlBase: strings.TrimRight(urlBase, "/"), sessions: sessions}
}

// Save stores one uploaded file and returns its public ID and URL.
func (s *Service) Save(ctx context.Context, c *gin.Context, sessionID string, file *multipart.FileHeader) (*models.SessionImage, error) {
	ext := strings.ToLower(filepath.Ext(file.Filename))
	if !allowedExtensions[ext] {
		return nil, fmt.Errorf("unsupported image type %q", ext)
	}

	if err := os.MkdirAll(s.baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create uploads dir: %w", err)
	}

	publicID := uuid.NewString() + ext
	dest := filepath.Join(s.baseDir, publicID)
	if err := c.SaveUploadedFile(file, dest); err != nil {
		return nil, fmt.Errorf("failed to store upload: %w", err)
	}

	img := &models.SessionImage{
		SessionID: sessionID,
		PublicID:  publicID,
		URL:       s.urlBase + "/uploads/" + publicID,
	}
	if err := s.sessions.AddImage(ctx, img); err != nil {
		_ = os.Remove(dest)
		return nil, err
	}
	return img, nil
}

// Delete removes an upload by public ID: the file first, then the record.
func (s *Service) Delete(ctx context.Context, publicID string) error {
	// Reject anything that could escape the uploads directory.
	if publicID == "" || publicID != filepath.Base(publicID) {
		return fmt.Errorf("invalid image id %q", publicID)
	}
	if err := os.Remove(filepath.Join(s.baseDir, publicID)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return s.sessions.DeleteImage(ctx, publicID)
}

// BaseDir exposes the uploads directory for static serving.
func (s *Service) BaseDir() string { return s.baseDir }
