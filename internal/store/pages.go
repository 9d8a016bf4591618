package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackzampolin/scan2doc/internal/apperr"
	"github.com/jackzampolin/scan2doc/internal/model"
)

// GetNextOrder returns a strictly monotonic integer via a single atomic
// read-modify-write on the counters row (spec §4.1).
func (s *Store) GetNextOrder(ctx context.Context) (int, error) {
	var next int
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var cur int
		if err := tx.QueryRowContext(ctx, `SELECT value FROM counters WHERE name = 'page_order'`).Scan(&cur); err != nil {
			return err
		}
		next = cur
		_, err := tx.ExecContext(ctx, `UPDATE counters SET value = ? WHERE name = 'page_order'`, cur+1)
		return err
	})
	return next, err
}

// ReserveOrderRange atomically reserves n contiguous order values and
// returns the first one; the caller assigns first, first+1, ..., first+n-1
// (spec §4.7 "allocate pageCount contiguous order values ... reserving the
// range" in one call).
func (s *Store) ReserveOrderRange(ctx context.Context, n int) (int, error) {
	if n <= 0 {
		return 0, fmt.Errorf("%w: n must be positive", apperr.ProgrammerError)
	}
	var first int
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var cur int
		if err := tx.QueryRowContext(ctx, `SELECT value FROM counters WHERE name = 'page_order'`).Scan(&cur); err != nil {
			return err
		}
		first = cur
		_, err := tx.ExecContext(ctx, `UPDATE counters SET value = ? WHERE name = 'page_order'`, cur+n)
		return err
	})
	return first, err
}

type pageRow struct {
	logJSON []byte
	ocrRaw  []byte
}

// SavePage upserts a single page row.
func (s *Store) SavePage(ctx context.Context, p *model.Page) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return savePageTx(ctx, tx, p)
	})
}

func savePageTx(ctx context.Context, tx *sql.Tx, p *model.Page) error {
	logJSON, err := json.Marshal(p.Log)
	if err != nil {
		return fmt.Errorf("marshal log: %w", err)
	}

	var ocrText sql.NullString
	var ocrConf sql.NullFloat64
	var ocrRaw []byte
	if p.OCR != nil {
		ocrText = sql.NullString{String: p.OCR.Text, Valid: true}
		ocrConf = sql.NullFloat64{Float64: p.OCR.Confidence, Valid: true}
		ocrRaw, err = json.Marshal(p.OCR)
		if err != nil {
			return fmt.Errorf("marshal ocr: %w", err)
		}
	}

	var sourceFileID sql.NullString
	if p.SourceFileID != "" {
		sourceFileID = sql.NullString{String: p.SourceFileID, Valid: true}
	}

	now := time.Now().Unix()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	p.UpdatedAt = time.Now()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO pages(id, filename, size, mime_type, origin, status, progress, "order",
			source_file_id, page_number, width, height, thumbnail,
			ocr_text, ocr_confidence, ocr_raw, pre_error_status, log_json, created_at, updated_at)
		VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			filename=excluded.filename, size=excluded.size, mime_type=excluded.mime_type,
			origin=excluded.origin, status=excluded.status, progress=excluded.progress,
			"order"=excluded."order", source_file_id=excluded.source_file_id,
			page_number=excluded.page_number, width=excluded.width, height=excluded.height,
			thumbnail=excluded.thumbnail, ocr_text=excluded.ocr_text,
			ocr_confidence=excluded.ocr_confidence, ocr_raw=excluded.ocr_raw,
			pre_error_status=excluded.pre_error_status, log_json=excluded.log_json,
			updated_at=excluded.updated_at`,
		p.ID, p.Filename, p.Size, p.MimeType, string(p.Origin), string(p.Status), p.Progress, p.Order,
		sourceFileID, p.PageNumber, p.Width, p.Height, p.Thumbnail,
		ocrText, ocrConf, ocrRaw, string(p.PreErrorStatus), logJSON, p.CreatedAt.Unix(), now,
	)
	return err
}

// GetPage loads a single page by ID. Returns an error wrapping
// sql.ErrNoRows when absent.
func (s *Store) GetPage(ctx context.Context, id string) (*model.Page, error) {
	db, err := s.ensureDB(ctx)
	if err != nil {
		return nil, err
	}
	defer s.ReleaseDB()

	row := db.QueryRowContext(ctx, pageSelectColumns+` FROM pages WHERE id = ?`, id)
	p, err := scanPage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("page %s: %w", id, err)
	}
	return p, err
}

const pageSelectColumns = `SELECT id, filename, size, mime_type, origin, status, progress, "order",
	source_file_id, page_number, width, height, thumbnail,
	ocr_text, ocr_confidence, ocr_raw, pre_error_status, log_json, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPage(row rowScanner) (*model.Page, error) {
	var p model.Page
	var origin, status, preErrorStatus string
	var sourceFileID sql.NullString
	var ocrText sql.NullString
	var ocrConf sql.NullFloat64
	var ocrRaw []byte
	var logJSON []byte
	var createdAt, updatedAt int64

	err := row.Scan(&p.ID, &p.Filename, &p.Size, &p.MimeType, &origin, &status, &p.Progress, &p.Order,
		&sourceFileID, &p.PageNumber, &p.Width, &p.Height, &p.Thumbnail,
		&ocrText, &ocrConf, &ocrRaw, &preErrorStatus, &logJSON, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	p.Origin = model.Origin(origin)
	p.Status = model.Status(status)
	p.PreErrorStatus = model.Status(preErrorStatus)
	if sourceFileID.Valid {
		p.SourceFileID = sourceFileID.String
	}
	p.CreatedAt = time.Unix(createdAt, 0)
	p.UpdatedAt = time.Unix(updatedAt, 0)

	if len(logJSON) > 0 {
		if err := json.Unmarshal(logJSON, &p.Log); err != nil {
			return nil, fmt.Errorf("unmarshal log: %w", err)
		}
	}
	if ocrText.Valid {
		var res model.OCRResult
		if len(ocrRaw) > 0 {
			if err := json.Unmarshal(ocrRaw, &res); err != nil {
				return nil, fmt.Errorf("unmarshal ocr: %w", err)
			}
		}
		res.Text = ocrText.String
		res.Confidence = ocrConf.Float64
		p.OCR = &res
	}

	return &p, nil
}

// GetAllPagesForDisplay returns every page ordered by Order ascending.
func (s *Store) GetAllPagesForDisplay(ctx context.Context) ([]*model.Page, error) {
	db, err := s.ensureDB(ctx)
	if err != nil {
		return nil, err
	}
	defer s.ReleaseDB()

	rows, err := db.QueryContext(ctx, pageSelectColumns+` FROM pages ORDER BY "order" ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPages(rows)
}

// GetPagesByStatus returns every page with the given status, ordered by Order.
func (s *Store) GetPagesByStatus(ctx context.Context, status model.Status) ([]*model.Page, error) {
	db, err := s.ensureDB(ctx)
	if err != nil {
		return nil, err
	}
	defer s.ReleaseDB()

	rows, err := db.QueryContext(ctx, pageSelectColumns+` FROM pages WHERE status = ? ORDER BY "order" ASC`, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPages(rows)
}

func scanPages(rows *sql.Rows) ([]*model.Page, error) {
	var pages []*model.Page
	for rows.Next() {
		p, err := scanPage(rows)
		if err != nil {
			return nil, err
		}
		pages = append(pages, p)
	}
	return pages, rows.Err()
}

// DeletePage deletes a page and cascades to its images, artifacts, and
// extracted images in one transaction (spec §4.1).
func (s *Store) DeletePage(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM pages WHERE id = ?`, id)
		return err
	})
}

// OrderUpdate is one (pageID, newOrder) pair for UpdatePagesOrder.
type OrderUpdate struct {
	PageID   string
	NewOrder int
}

// UpdatePagesOrder applies a batch of order reassignments in one
// transaction (spec §4.1 updatePagesOrder(batch)).
func (s *Store) UpdatePagesOrder(ctx context.Context, updates []OrderUpdate) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, u := range updates {
			if _, err := tx.ExecContext(ctx, `UPDATE pages SET "order" = ? WHERE id = ?`, u.NewOrder, u.PageID); err != nil {
				return err
			}
		}
		return nil
	})
}

// SaveFile persists a SourceFile's bytes.
func (s *Store) SaveFile(ctx context.Context, f *model.SourceFile) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO files(id, filename, size, content) VALUES(?,?,?,?)
			ON CONFLICT(id) DO UPDATE SET filename=excluded.filename, size=excluded.size, content=excluded.content`,
			f.ID, f.Filename, f.Size, f.Content)
		return err
	})
}

// GetFile loads a SourceFile by ID.
func (s *Store) GetFile(ctx context.Context, id string) (*model.SourceFile, error) {
	db, err := s.ensureDB(ctx)
	if err != nil {
		return nil, err
	}
	defer s.ReleaseDB()

	var f model.SourceFile
	err = db.QueryRowContext(ctx, `SELECT id, filename, size, content FROM files WHERE id = ?`, id).
		Scan(&f.ID, &f.Filename, &f.Size, &f.Content)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("file %s: %w", id, err)
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// DeleteFile removes a SourceFile row. Pages referencing it keep their
// source_file_id NULLed by the ON DELETE SET NULL foreign key.
func (s *Store) DeleteFile(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM files WHERE id = ?`, id)
		return err
	})
}

// ClearAllData truncates every table and resets counters, for tests and
// the CLI's reset path.
func (s *Store) ClearAllData(ctx context.Context) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, stmt := range []string{
			`DELETE FROM page_extracted_images`,
			`DELETE FROM page_artifacts`,
			`DELETE FROM page_images`,
			`DELETE FROM pages`,
			`DELETE FROM files`,
			`UPDATE counters SET value = 0 WHERE name = 'page_order'`,
		} {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return err
			}
		}
		return nil
	})
}
