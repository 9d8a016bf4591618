package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackzampolin/scan2doc/internal/model"
)

// SavePageImage upserts the full-resolution rendered bytes for one page.
func (s *Store) SavePageImage(ctx context.Context, img *model.PageImage) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO page_images(page_id, blob, width, height) VALUES(?,?,?,?)
			ON CONFLICT(page_id) DO UPDATE SET blob=excluded.blob, width=excluded.width, height=excluded.height`,
			img.PageID, img.Blob, img.Width, img.Height)
		return err
	})
}

// GetPageImage loads the rendered image for a page.
func (s *Store) GetPageImage(ctx context.Context, pageID string) (*model.PageImage, error) {
	db, err := s.ensureDB(ctx)
	if err != nil {
		return nil, err
	}
	defer s.ReleaseDB()

	var img model.PageImage
	img.PageID = pageID
	err = db.QueryRowContext(ctx, `SELECT blob, width, height FROM page_images WHERE page_id = ?`, pageID).
		Scan(&img.Blob, &img.Width, &img.Height)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("page image %s: %w", pageID, err)
	}
	if err != nil {
		return nil, err
	}
	return &img, nil
}

// SaveArtifact upserts one (pageId, format) artifact.
func (s *Store) SaveArtifact(ctx context.Context, a *model.PageArtifact) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO page_artifacts(page_id, format, bytes, mime_type) VALUES(?,?,?,?)
			ON CONFLICT(page_id, format) DO UPDATE SET bytes=excluded.bytes, mime_type=excluded.mime_type`,
			a.PageID, string(a.Format), a.Bytes, a.MimeType)
		return err
	})
}

// GetArtifact loads one (pageId, format) artifact.
func (s *Store) GetArtifact(ctx context.Context, pageID string, format model.ArtifactFormat) (*model.PageArtifact, error) {
	db, err := s.ensureDB(ctx)
	if err != nil {
		return nil, err
	}
	defer s.ReleaseDB()

	a := &model.PageArtifact{PageID: pageID, Format: format}
	err = db.QueryRowContext(ctx, `SELECT bytes, mime_type FROM page_artifacts WHERE page_id = ? AND format = ?`, pageID, string(format)).
		Scan(&a.Bytes, &a.MimeType)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("artifact %s/%s: %w", pageID, format, err)
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// SaveExtractedImage upserts one cropped sub-region of a page.
func (s *Store) SaveExtractedImage(ctx context.Context, img *model.ExtractedImage) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO page_extracted_images(page_id, idx, bytes, mime_type) VALUES(?,?,?,?)
			ON CONFLICT(page_id, idx) DO UPDATE SET bytes=excluded.bytes, mime_type=excluded.mime_type`,
			img.PageID, img.Index, img.Bytes, img.MimeType)
		return err
	})
}

// ListExtractedImages returns every cropped region for a page, ordered by index.
func (s *Store) ListExtractedImages(ctx context.Context, pageID string) ([]*model.ExtractedImage, error) {
	db, err := s.ensureDB(ctx)
	if err != nil {
		return nil, err
	}
	defer s.ReleaseDB()

	rows, err := db.QueryContext(ctx, `SELECT page_id, idx, bytes, mime_type FROM page_extracted_images WHERE page_id = ? ORDER BY idx ASC`, pageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.ExtractedImage
	for rows.Next() {
		var img model.ExtractedImage
		if err := rows.Scan(&img.PageID, &img.Index, &img.Bytes, &img.MimeType); err != nil {
			return nil, err
		}
		out = append(out, &img)
	}
	return out, rows.Err()
}
