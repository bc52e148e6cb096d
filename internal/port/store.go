package port

import (
	"context"

	"github.com/vertextoedge/segfetch/internal/domain"
)

// DownloadStore persists download descriptors.
// Save is an idempotent full overwrite.
type DownloadStore interface {
	Load(ctx context.Context) ([]*domain.Descriptor, error)
	Save(ctx context.Context, downloads []*domain.Descriptor) error
}

// HistoryStore keeps a bounded record of completed downloads
type HistoryStore interface {
	AddHistory(ctx context.Context, entry domain.HistoryEntry) error
	History(ctx context.Context, limit int) ([]domain.HistoryEntry, error)
	ClearHistory(ctx context.Context) error
}

// SettingsStore keeps runtime settings that survive restarts
type SettingsStore interface {
	GetSetting(ctx context.Context, key string) (string, bool, error)
	SetSetting(ctx context.Context, key, value string) error
}

// Store combines all persistence interfaces
type Store interface {
	DownloadStore
	HistoryStore
	SettingsStore
	Ping() error
	Close() error
}
