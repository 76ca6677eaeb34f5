package store

import (
	"context"
	"time"

	"github.com/etwicaksono/droid-remote/internal/session/models"
)

// AddImage records an uploaded image asset against a session.
func (s *Store) AddImage(ctx context.Context, img *models.SessionImage) error {
	if img.CreatedAt.IsZero() {
		img.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO session_images (session_id, public_id, url, created_at)
		VALUES (?, ?, ?, ?)
	`, img.SessionID, img.PublicID, img.URL, img.CreatedAt)
	if err != nil {
		return err
	}
	img.ID, err = res.LastInsertId()
	return err
}

// ListImages returns the image assets recorded for a session.
func (s *Store) ListImages(ctx context.Context, sessionID string) ([]*models.SessionImage, error) {
	rows, err := s.ro.QueryContext(ctx, `
		SELECT id, session_id, public_id, url, created_at
		FROM session_images WHERE session_id = ? ORDER BY created_at
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var imgs []*models.SessionImage
	for rows.Next() {
		var img models.SessionImage
		if err := rows.Scan(&img.ID, &img.SessionID, &img.PublicID, &img.URL, &img.CreatedAt); err != nil {
			return nil, err
		}
		imgs = append(imgs, &img)
	}
	return imgs, rows.Err()
}

// DeleteImage removes one image record by public ID.
func (s *Store) DeleteImage(ctx context.Context, publicID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM session_images WHERE public_id = ?`, publicID)
	if err != nil {
		return err
	}
	return requireRow(res)
}
