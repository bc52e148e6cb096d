package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/vertextoedge/segfetch/internal/domain"
)

// Load returns every saved descriptor in the order it was saved
func (s *Store) Load(ctx context.Context) ([]*domain.Descriptor, error) {
	query := `
		SELECT id, url, final_url, filename, path, filename_fixed, content_type,
			   referrer, total_bytes, received_bytes, accepts_ranges, status,
			   priority, segments, last_error, queue_position,
			   added_at, started_at, completed_at
		FROM downloads
		ORDER BY save_order ASC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query downloads: %w", err)
	}
	defer rows.Close()

	var downloads []*domain.Descriptor
	for rows.Next() {
		d, err := scanDescriptor(rows)
		if err != nil {
			return nil, err
		}
		downloads = append(downloads, d)
	}
	return downloads, rows.Err()
}

// Save replaces the stored set with downloads in one transaction
func (s *Store) Save(ctx context.Context, downloads []*domain.Descriptor) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM downloads`); err != nil {
		return fmt.Errorf("failed to clear downloads: %w", err)
	}

	insert, err := tx.PrepareContext(ctx, `
		INSERT INTO downloads (
			id, url, final_url, filename, path, filename_fixed, content_type,
			referrer, total_bytes, received_bytes, accepts_ranges, status,
			priority, segments, last_error, queue_position,
			added_at, started_at, completed_at, save_order
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer insert.Close()

	for i, d := range downloads {
		if d == nil {
			continue
		}
		segments, err := encodeSegments(d.Segments)
		if err != nil {
			return fmt.Errorf("failed to encode segments of %s: %w", d.ID, err)
		}
		_, err = insert.ExecContext(ctx,
			d.ID, d.URL, d.FinalURL, d.Filename, d.Path, d.FilenameFixed, d.ContentType,
			d.Referrer, d.TotalBytes, d.ReceivedBytes, d.AcceptsRanges, string(d.Status),
			int(d.Priority), segments, d.LastError, d.QueuePosition,
			d.AddedAt, nullTime(d.StartedAt), nullTime(d.CompletedAt), i,
		)
		if err != nil {
			if isUniqueConstraintError(err) {
				return fmt.Errorf("%w: duplicate download %s", domain.ErrAlreadyExists, d.ID)
			}
			return fmt.Errorf("failed to save download %s: %w", d.ID, err)
		}
	}

	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDescriptor(row rowScanner) (*domain.Descriptor, error) {
	d := &domain.Descriptor{}
	var (
		status                          string
		priority                        int
		segments                        sql.NullString
		addedAt, startedAt, completedAt sql.NullTime
	)

	err := row.Scan(
		&d.ID, &d.URL, &d.FinalURL, &d.Filename, &d.Path, &d.FilenameFixed, &d.ContentType,
		&d.Referrer, &d.TotalBytes, &d.ReceivedBytes, &d.AcceptsRanges, &status,
		&priority, &segments, &d.LastError, &d.QueuePosition,
		&addedAt, &startedAt, &completedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan download: %w", err)
	}

	d.Status = domain.Status(status)
	d.Priority = domain.Priority(priority)
	if addedAt.Valid {
		d.AddedAt = addedAt.Time
	}
	if startedAt.Valid {
		t := startedAt.Time
		d.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		d.CompletedAt = &t
	}
	if segments.Valid && segments.String != "" {
		if err := json.Unmarshal([]byte(segments.String), &d.Segments); err != nil {
			return nil, fmt.Errorf("failed to decode segments of %s: %w", d.ID, err)
		}
	}
	return d, nil
}

func encodeSegments(segments []domain.Segment) (sql.NullString, error) {
	if len(segments) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(segments)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// isUniqueConstraintError checks if the error is a unique constraint violation
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "duplicate key")
}
