package maintenance

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

// mockSaver implements Saver for testing
type mockSaver struct {
	mu     sync.Mutex
	err    error
	called int
}

func (m *mockSaver) Save(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.called++
	return m.err
}

func (m *mockSaver) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.called
}

// mockCleaner implements ScratchCleaner for testing
type mockCleaner struct {
	mu      sync.Mutex
	count   int
	err     error
	dirs    []string
	maxAge  time.Duration
	checked []bool
}

func (m *mockCleaner) CleanOldScratchFiles(dir string, olderThan time.Duration, keep func(path string) bool) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dirs = append(m.dirs, dir)
	m.maxAge = olderThan
	m.checked = append(m.checked, keep("/downloads/a.bin.part0"))
	return m.count, m.err
}

func (m *mockCleaner) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.dirs)
}

// mockOwner implements Owner for testing
type mockOwner struct {
	owned map[string]bool
}

func (m *mockOwner) Owns(path string) bool {
	return m.owned[path]
}

func runService(t *testing.T, s *Service, d time.Duration) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- s.Start(ctx)
	}()

	time.Sleep(d)
	cancel()
	s.Stop()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Start() did not return after Stop()")
	}
}

func TestService_New(t *testing.T) {
	s := New(nil, &mockSaver{}, &mockCleaner{}, &mockOwner{}, zap.NewNop())
	if s.config.AutosaveInterval != 5*time.Second {
		t.Errorf("AutosaveInterval = %v, want 5s", s.config.AutosaveInterval)
	}
	if s.config.ScratchMaxAge != 24*time.Hour {
		t.Errorf("ScratchMaxAge = %v, want 24h", s.config.ScratchMaxAge)
	}

	s = New(&Config{AutosaveInterval: time.Second}, &mockSaver{}, &mockCleaner{}, &mockOwner{}, zap.NewNop())
	if s.config.AutosaveInterval != time.Second {
		t.Errorf("AutosaveInterval = %v, want 1s", s.config.AutosaveInterval)
	}
	if s.config.CleanupInterval != time.Hour {
		t.Errorf("CleanupInterval = %v, want 1h", s.config.CleanupInterval)
	}
}

func TestService_Autosave(t *testing.T) {
	saver := &mockSaver{}
	cfg := &Config{
		AutosaveInterval: 10 * time.Millisecond,
		CleanupInterval:  time.Hour,
		ScratchMaxAge:    time.Hour,
	}
	s := New(cfg, saver, &mockCleaner{}, &mockOwner{}, zap.NewNop())

	runService(t, s, 60*time.Millisecond)

	if saver.calls() == 0 {
		t.Error("Save was not called")
	}
}

func TestService_AutosaveErrorKeepsRunning(t *testing.T) {
	saver := &mockSaver{err: errors.New("database is locked")}
	cfg := &Config{
		AutosaveInterval: 10 * time.Millisecond,
		CleanupInterval:  time.Hour,
	}
	s := New(cfg, saver, &mockCleaner{}, &mockOwner{}, zap.NewNop())

	runService(t, s, 60*time.Millisecond)

	if saver.calls() < 2 {
		t.Errorf("Save called %d times, want repeated attempts", saver.calls())
	}
}

func TestService_CleanupScratchFiles(t *testing.T) {
	cleaner := &mockCleaner{count: 2}
	owner := &mockOwner{owned: map[string]bool{"/downloads/a.bin.part0": true}}
	cfg := &Config{
		AutosaveInterval: time.Hour,
		CleanupInterval:  10 * time.Millisecond,
		ScratchMaxAge:    6 * time.Hour,
		ScratchDirs:      []string{"/downloads", "/media"},
	}
	s := New(cfg, &mockSaver{}, cleaner, owner, zap.NewNop())

	runService(t, s, 50*time.Millisecond)

	// once at startup for each dir, then on every tick
	if got := cleaner.calls(); got < 4 {
		t.Errorf("CleanOldScratchFiles called %d times, want at least 4", got)
	}

	cleaner.mu.Lock()
	defer cleaner.mu.Unlock()
	if cleaner.dirs[0] != "/downloads" || cleaner.dirs[1] != "/media" {
		t.Errorf("dirs = %v", cleaner.dirs[:2])
	}
	if cleaner.maxAge != 6*time.Hour {
		t.Errorf("olderThan = %v, want 6h", cleaner.maxAge)
	}
	for i, kept := range cleaner.checked {
		if !kept {
			t.Errorf("call %d: owned scratch file not kept", i)
		}
	}
}

func TestService_DoubleStart(t *testing.T) {
	s := New(nil, &mockSaver{}, &mockCleaner{}, &mockOwner{}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go s.Start(ctx)
	time.Sleep(10 * time.Millisecond)

	if err := s.Start(ctx); err == nil {
		t.Error("second Start() succeeded")
	}
	s.Stop()
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.AutosaveInterval != 5*time.Second {
		t.Errorf("AutosaveInterval = %v, want %v", cfg.AutosaveInterval, 5*time.Second)
	}
	if cfg.CleanupInterval != time.Hour {
		t.Errorf("CleanupInterval = %v, want %v", cfg.CleanupInterval, time.Hour)
	}
	if cfg.ScratchMaxAge != 24*time.Hour {
		t.Errorf("ScratchMaxAge = %v, want %v", cfg.ScratchMaxAge, 24*time.Hour)
	}
}
