package maintenance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Config contains maintenance service configuration
type Config struct {
	// AutosaveInterval is how often download state is persisted
	AutosaveInterval time.Duration

	// CleanupInterval is how often orphaned scratch files are looked for
	CleanupInterval time.Duration

	// ScratchMaxAge is the minimum age of an orphaned scratch file before removal
	ScratchMaxAge time.Duration

	// ScratchDirs are the directories scanned for scratch files
	ScratchDirs []string
}

// DefaultConfig returns default maintenance configuration
func DefaultConfig() *Config {
	return &Config{
		AutosaveInterval: 5 * time.Second,
		CleanupInterval:  time.Hour,
		ScratchMaxAge:    24 * time.Hour,
	}
}

// Saver persists the current download state
type Saver interface {
	Save(ctx context.Context) error
}

// ScratchCleaner removes old scratch files
type ScratchCleaner interface {
	CleanOldScratchFiles(dir string, olderThan time.Duration, keep func(path string) bool) (int, error)
}

// Owner reports whether a scratch file still belongs to a download
type Owner interface {
	Owns(path string) bool
}

// Service handles periodic maintenance tasks
type Service struct {
	config *Config
	saver  Saver
	fs     ScratchCleaner
	owner  Owner
	logger *zap.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a new maintenance Service
func New(cfg *Config, saver Saver, fs ScratchCleaner, owner Owner, logger *zap.Logger) *Service {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.AutosaveInterval == 0 {
		cfg.AutosaveInterval = 5 * time.Second
	}
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = time.Hour
	}
	if cfg.ScratchMaxAge == 0 {
		cfg.ScratchMaxAge = 24 * time.Hour
	}

	return &Service{
		config: cfg,
		saver:  saver,
		fs:     fs,
		owner:  owner,
		logger: logger,
	}
}

// Start runs maintenance until ctx is cancelled or Stop is called
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("maintenance service already running")
	}
	s.running = true
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.logger.Info("maintenance service started",
		zap.Duration("autosave_interval", s.config.AutosaveInterval),
		zap.Duration("cleanup_interval", s.config.CleanupInterval))

	// orphans from a previous run
	s.cleanupScratchFiles()

	s.wg.Add(1)
	go s.maintenanceLoop(ctx)

	<-ctx.Done()
	s.wg.Wait()
	s.logger.Info("maintenance service stopped")
	return nil
}

// Stop stops the maintenance service
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	s.running = false
}

func (s *Service) maintenanceLoop(ctx context.Context) {
	defer s.wg.Done()

	autosaveTicker := time.NewTicker(s.config.AutosaveInterval)
	defer autosaveTicker.Stop()

	cleanupTicker := time.NewTicker(s.config.CleanupInterval)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-autosaveTicker.C:
			s.autosave(ctx)
		case <-cleanupTicker.C:
			s.cleanupScratchFiles()
		}
	}
}

// autosave persists progress so a crash loses at most one interval
func (s *Service) autosave(ctx context.Context) {
	saveCtx, cancel := context.WithTimeout(ctx, s.config.AutosaveInterval)
	defer cancel()
	if err := s.saver.Save(saveCtx); err != nil {
		s.logger.Error("failed to autosave downloads", zap.Error(err))
	}
}

// cleanupScratchFiles removes old scratch files no download claims
func (s *Service) cleanupScratchFiles() {
	for _, dir := range s.config.ScratchDirs {
		count, err := s.fs.CleanOldScratchFiles(dir, s.config.ScratchMaxAge, s.owner.Owns)
		if err != nil {
			s.logger.Error("failed to cleanup scratch files", zap.String("dir", dir), zap.Error(err))
		} else if count > 0 {
			s.logger.Info("cleaned up orphaned scratch files", zap.String("dir", dir), zap.Int("count", count))
		}
	}
}
