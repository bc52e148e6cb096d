package sqlite

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/vertextoedge/segfetch/internal/domain"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "db", "segfetch.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	downloads := []*domain.Descriptor{
		{
			ID:            "b",
			URL:           "https://example.com/big.iso",
			Filename:      "big.iso",
			Path:          "/downloads/big.iso",
			TotalBytes:    4000,
			ReceivedBytes: 1500,
			AcceptsRanges: true,
			Status:        domain.StatusPaused,
			Priority:      domain.PriorityHigh,
			Segments: []domain.Segment{
				{Index: 0, Start: 0, End: 1999, Received: 1000, ScratchPath: "/downloads/big.iso.seg0"},
				{Index: 1, Start: 2000, End: 3999, Received: 500, Retries: 2, ScratchPath: "/downloads/big.iso.seg1"},
			},
			AddedAt:   started.Add(-time.Minute),
			StartedAt: &started,
		},
		{
			ID:            "a",
			URL:           "https://example.com/small.txt",
			Filename:      "small.txt",
			FilenameFixed: true,
			Status:        domain.StatusQueued,
			Priority:      domain.PriorityLow,
			QueuePosition: 1,
			LastError:     "HTTP 503: Service Unavailable",
			AddedAt:       started,
		},
	}

	if err := store.Save(ctx, downloads); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("Load() returned %d downloads, want 2", len(loaded))
	}
	if loaded[0].ID != "b" || loaded[1].ID != "a" {
		t.Errorf("Load() order = [%s %s], want [b a]", loaded[0].ID, loaded[1].ID)
	}

	b := loaded[0]
	if len(b.Segments) != 2 || b.Segments[1].Retries != 2 || b.Segments[1].Received != 500 {
		t.Errorf("segments = %+v", b.Segments)
	}
	if b.Status != domain.StatusPaused || b.Priority != domain.PriorityHigh || !b.AcceptsRanges {
		t.Errorf("descriptor fields lost: %+v", b)
	}
	if b.StartedAt == nil || !b.StartedAt.Equal(started) {
		t.Errorf("StartedAt = %v, want %v", b.StartedAt, started)
	}
	if b.CompletedAt != nil {
		t.Errorf("CompletedAt = %v, want nil", b.CompletedAt)
	}

	a := loaded[1]
	if !a.FilenameFixed || a.LastError == "" || a.Segments != nil {
		t.Errorf("descriptor fields lost: %+v", a)
	}
}

func TestStore_SaveOverwrites(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	first := []*domain.Descriptor{
		{ID: "a", URL: "https://example.com/a", Status: domain.StatusQueued},
		{ID: "b", URL: "https://example.com/b", Status: domain.StatusQueued},
	}
	if err := store.Save(ctx, first); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	// saving the same set twice is idempotent
	if err := store.Save(ctx, first); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	if err := store.Save(ctx, first[1:]); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	loaded, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(loaded) != 1 || loaded[0].ID != "b" {
		t.Errorf("Load() = %v, want only b", loaded)
	}

	if err := store.Save(ctx, nil); err != nil {
		t.Fatalf("Save(nil) error = %v", err)
	}
	loaded, _ = store.Load(ctx)
	if len(loaded) != 0 {
		t.Errorf("Load() after empty save = %d downloads, want 0", len(loaded))
	}
}

func TestStore_History(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < MaxHistoryEntries+5; i++ {
		err := store.AddHistory(ctx, domain.HistoryEntry{
			ID:       fmt.Sprintf("d%d", i),
			URL:      "https://example.com/file",
			Filename: "file",
			Size:     int64(i),
		})
		if err != nil {
			t.Fatalf("AddHistory() error = %v", err)
		}
	}

	all, err := store.History(ctx, 0)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(all) != MaxHistoryEntries {
		t.Errorf("History() len = %d, want %d", len(all), MaxHistoryEntries)
	}
	if all[0].ID != fmt.Sprintf("d%d", MaxHistoryEntries+4) {
		t.Errorf("newest entry = %s", all[0].ID)
	}

	recent, err := store.History(ctx, 3)
	if err != nil {
		t.Fatalf("History(3) error = %v", err)
	}
	if len(recent) != 3 || recent[0].CompletedAt.IsZero() {
		t.Errorf("History(3) = %+v", recent)
	}

	if err := store.ClearHistory(ctx); err != nil {
		t.Fatalf("ClearHistory() error = %v", err)
	}
	all, _ = store.History(ctx, 0)
	if len(all) != 0 {
		t.Errorf("History() after clear len = %d, want 0", len(all))
	}
}

func TestStore_Settings(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if _, ok, err := store.GetSetting(ctx, "bandwidth_limit"); err != nil || ok {
		t.Fatalf("GetSetting() on empty store = (%v, %v)", ok, err)
	}

	for _, v := range []string{"1048576", "0"} {
		if err := store.SetSetting(ctx, "bandwidth_limit", v); err != nil {
			t.Fatalf("SetSetting() error = %v", err)
		}
		got, ok, err := store.GetSetting(ctx, "bandwidth_limit")
		if err != nil || !ok || got != v {
			t.Errorf("GetSetting() = (%q, %v, %v), want %q", got, ok, err, v)
		}
	}

	if err := store.Ping(); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
}
