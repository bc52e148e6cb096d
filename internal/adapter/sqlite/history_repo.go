package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/vertextoedge/segfetch/internal/domain"
)

// MaxHistoryEntries bounds the history table; older rows are dropped on insert
const MaxHistoryEntries = 1000

// AddHistory records a finished download and trims the table
func (s *Store) AddHistory(ctx context.Context, entry domain.HistoryEntry) error {
	if entry.CompletedAt.IsZero() {
		entry.CompletedAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO history (download_id, url, filename, path, size, completed_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, entry.ID, entry.URL, entry.Filename, entry.Path, entry.Size, entry.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to insert history: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		DELETE FROM history
		WHERE id NOT IN (SELECT id FROM history ORDER BY id DESC LIMIT ?)
	`, MaxHistoryEntries)
	if err != nil {
		return fmt.Errorf("failed to trim history: %w", err)
	}

	return tx.Commit()
}

// History returns up to limit entries, newest first. limit <= 0 returns all.
func (s *Store) History(ctx context.Context, limit int) ([]domain.HistoryEntry, error) {
	if limit <= 0 || limit > MaxHistoryEntries {
		limit = MaxHistoryEntries
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT download_id, url, filename, path, size, completed_at
		FROM history
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var entries []domain.HistoryEntry
	for rows.Next() {
		var e domain.HistoryEntry
		if err := rows.Scan(&e.ID, &e.URL, &e.Filename, &e.Path, &e.Size, &e.CompletedAt); err != nil {
			return nil, fmt.Errorf("failed to scan history: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ClearHistory deletes every history entry
func (s *Store) ClearHistory(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM history`)
	return err
}
