package manager

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vertextoedge/segfetch/internal/domain"
	"github.com/vertextoedge/segfetch/internal/domain/event"
	"github.com/vertextoedge/segfetch/internal/port"
	"github.com/vertextoedge/segfetch/internal/service/queue"
	"github.com/vertextoedge/segfetch/internal/service/resolver"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Setting keys persisted in the store
const (
	SettingBandwidthLimit = "bandwidth_limit"
	SettingMaxConcurrent  = "max_concurrent"
)

// saveTimeout bounds snapshot writes triggered by events
const saveTimeout = 5 * time.Second

// Engine is the transfer side the manager drives
type Engine interface {
	Start(desc *domain.Descriptor) error
	Pause(id string) error
	Resume(id string) error
	Cancel(id string) error
	DiscardFiles(desc *domain.Descriptor)
	SetBandwidthLimit(bytesPerSec int64)
	BandwidthLimit() int64
	Snapshot(id string) (*domain.Descriptor, bool)
	Close(ctx context.Context) error
}

// Config contains manager configuration
type Config struct {
	// DownloadDir is used when Add is not given a directory
	DownloadDir string
}

// AddOptions are the optional parameters of Add
type AddOptions struct {
	Filename     string `json:"filename,omitempty"`
	Priority     string `json:"priority,omitempty"`
	DownloadPath string `json:"download_path,omitempty"`
	Referrer     string `json:"referrer,omitempty"`
	ContentType  string `json:"mime,omitempty"`
}

// Manager is the control API: it validates requests, keeps the queue and
// engine in step through events, and persists snapshots.
type Manager struct {
	config     *Config
	engine     Engine
	queue      *queue.Queue
	store      port.Store
	fs         port.FileSystem
	dispatcher event.EventDispatcher
	logger     *zap.Logger
	handler    *event.HandlerFunc

	addMu  sync.Mutex
	saveMu sync.Mutex
}

// New creates a Manager and subscribes it to dispatcher. store may be nil.
func New(cfg *Config, engine Engine, q *queue.Queue, store port.Store, fs port.FileSystem, dispatcher event.EventDispatcher, logger *zap.Logger) *Manager {
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.DownloadDir == "" {
		cfg.DownloadDir = "."
	}
	m := &Manager{
		config:     cfg,
		engine:     engine,
		queue:      q,
		store:      store,
		fs:         fs,
		dispatcher: dispatcher,
		logger:     logger,
	}
	m.handler = &event.HandlerFunc{
		Events: []string{
			event.NameAdmitted,
			event.NameProgress,
			event.NameCompleted,
			event.NameFailed,
			event.NamePaused,
			event.NameCancelled,
		},
		Fn: m.handle,
	}
	dispatcher.Subscribe(m.handler)
	return m
}

// Add validates rawURL, picks a unique destination and queues the download
func (m *Manager) Add(ctx context.Context, rawURL string, opts AddOptions) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("%w: invalid url: %v", domain.ErrInvalidInput, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: %q", domain.ErrUnsupportedScheme, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: url without host", domain.ErrInvalidInput)
	}

	priority, err := domain.ParsePriority(opts.Priority)
	if err != nil {
		return "", err
	}

	dir := opts.DownloadPath
	if dir == "" {
		dir = m.config.DownloadDir
	}

	name := resolver.DeriveFilename(u.String())
	fixed := false
	if opts.Filename != "" {
		if sanitized := resolver.Sanitize(opts.Filename); sanitized != "" {
			name = sanitized
			fixed = true
		}
	}

	m.addMu.Lock()
	path := m.reservePath(filepath.Join(dir, name))
	desc := &domain.Descriptor{
		ID:            uuid.NewString(),
		URL:           u.String(),
		Filename:      filepath.Base(path),
		Path:          path,
		FilenameFixed: fixed,
		ContentType:   opts.ContentType,
		Referrer:      opts.Referrer,
		Status:        domain.StatusPending,
		Priority:      priority,
		AddedAt:       time.Now(),
	}
	_, err = m.queue.Add(desc, priority)
	m.addMu.Unlock()
	if err != nil {
		return "", err
	}

	m.logger.Info("download added",
		zap.String("download_id", desc.ID),
		zap.String("url", desc.URL),
		zap.String("path", desc.Path),
		zap.String("priority", priority.String()))

	if err := m.Save(ctx); err != nil {
		m.logger.Warn("failed to save downloads", zap.Error(err))
	}
	return desc.ID, nil
}

// reservePath returns a destination that neither exists on disk nor is
// claimed by another known download. Caller holds addMu.
func (m *Manager) reservePath(path string) string {
	inUse := make(map[string]bool)
	all := m.queue.GetAll()
	for _, list := range [][]*domain.Descriptor{all.Queued, all.Active, all.Paused} {
		for _, d := range list {
			inUse[d.Path] = true
		}
	}

	ext := filepath.Ext(path)
	stem := strings.TrimSuffix(path, ext)
	candidate := path
	for n := 1; ; n++ {
		if !inUse[candidate] && m.fs.UniquePath(candidate) == candidate {
			return candidate
		}
		candidate = fmt.Sprintf("%s (%d)%s", stem, n, ext)
	}
}

// Pause pauses an active or waiting download. An active download keeps its
// slot while paused. Pausing a paused download is a no-op.
func (m *Manager) Pause(id string) error {
	entry, ok := m.queue.Get(id)
	if !ok {
		return fmt.Errorf("%w: download %s", domain.ErrNotFound, id)
	}

	switch {
	case entry.Location == domain.LocationPaused, m.queue.Held(id):
		return nil
	case entry.Location == domain.LocationCompleted:
		return fmt.Errorf("%w: download %s already completed", domain.ErrInvalidStateTransition, id)
	}

	engineOwned := false
	if entry.Location == domain.LocationActive {
		err := m.engine.Pause(id)
		switch {
		case err == nil:
			engineOwned = true
		case !errors.Is(err, domain.ErrNotFound):
			return err
		}
	}

	if _, err := m.queue.Pause(id); err != nil {
		return err
	}
	if !engineOwned {
		// the engine never saw it, so the event comes from here
		if e, ok := m.queue.Get(id); ok {
			m.dispatcher.Dispatch(event.NewDownloadPaused(e.Descriptor))
		}
	}
	return nil
}

// Resume restarts a paused download that kept its slot, requeues one from
// the paused set, or restarts one that failed. Resuming anything else is a no-op.
func (m *Manager) Resume(id string) error {
	entry, ok := m.queue.Get(id)
	if !ok {
		return fmt.Errorf("%w: download %s", domain.ErrNotFound, id)
	}

	switch {
	case m.queue.Held(id):
		err := m.engine.Resume(id)
		if errors.Is(err, domain.ErrNotFound) {
			// paused before the engine picked it up
			err = m.engine.Start(entry.Descriptor)
		}
		if err != nil {
			return err
		}
		_, err = m.queue.Resume(id)
		return err
	case entry.Location == domain.LocationPaused:
		_, err := m.queue.Resume(id)
		return err
	case entry.Location == domain.LocationActive && entry.Descriptor.Status == domain.StatusError:
		m.logger.Info("retrying failed download", zap.String("download_id", id))
		return m.engine.Start(entry.Descriptor)
	}
	return nil
}

// Cancel stops a download, frees its slot and removes its partial files
func (m *Manager) Cancel(id string) error {
	removed, err := m.queue.Remove(id)
	if err != nil {
		return err
	}

	if err := m.engine.Cancel(id); err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		m.engine.DiscardFiles(removed)
		if removed.Status != domain.StatusCompleted {
			removed.Status = domain.StatusCancelled
			m.dispatcher.Dispatch(event.NewDownloadCancelled(removed))
		}
	}
	return nil
}

// ChangePriority moves a download to another priority class
func (m *Manager) ChangePriority(id, level string) error {
	priority, err := domain.ParsePriority(level)
	if err != nil {
		return err
	}
	return m.queue.ChangePriority(id, priority)
}

// MoveUp moves a waiting download one place towards admission
func (m *Manager) MoveUp(id string) error {
	return m.queue.MoveUp(id)
}

// MoveDown moves a waiting download one place away from admission
func (m *Manager) MoveDown(id string) error {
	return m.queue.MoveDown(id)
}

// Get returns the freshest snapshot of id
func (m *Manager) Get(id string) (domain.QueueEntry, bool) {
	entry, ok := m.queue.Get(id)
	if !ok {
		return entry, false
	}
	if entry.Location == domain.LocationActive || entry.Location == domain.LocationPaused {
		entry.Descriptor = m.fresh(entry.Descriptor)
	}
	return entry, true
}

// GetAll returns every download grouped by queue list
func (m *Manager) GetAll() domain.QueueSnapshot {
	all := m.queue.GetAll()
	for i, d := range all.Active {
		all.Active[i] = m.fresh(d)
	}
	for i, d := range all.Paused {
		all.Paused[i] = m.fresh(d)
	}
	return all
}

// fresh prefers the engine's live progress over the queue's copy
func (m *Manager) fresh(d *domain.Descriptor) *domain.Descriptor {
	live, ok := m.engine.Snapshot(d.ID)
	if !ok {
		return d
	}
	if d.Status == domain.StatusPaused {
		live.Status = domain.StatusPaused
		live.Speed = 0
	}
	live.Priority = d.Priority
	live.QueuePosition = d.QueuePosition
	return live
}

// Owns reports whether path is a scratch file of an unfinished download
func (m *Manager) Owns(path string) bool {
	all := m.GetAll()
	for _, list := range [][]*domain.Descriptor{all.Queued, all.Active, all.Paused} {
		for _, d := range list {
			for _, seg := range d.Segments {
				if seg.ScratchPath == path {
					return true
				}
			}
		}
	}
	return false
}

// Stats returns queue counters
func (m *Manager) Stats() domain.QueueStats {
	return m.queue.Stats()
}

// SetBandwidthLimit updates and persists the global limit; 0 disables it
func (m *Manager) SetBandwidthLimit(ctx context.Context, bytesPerSec int64) error {
	if bytesPerSec < 0 {
		return fmt.Errorf("%w: negative bandwidth limit", domain.ErrInvalidInput)
	}
	m.engine.SetBandwidthLimit(bytesPerSec)
	return m.saveSetting(ctx, SettingBandwidthLimit, strconv.FormatInt(bytesPerSec, 10))
}

// BandwidthLimit returns the current limit in bytes per second
func (m *Manager) BandwidthLimit() int64 {
	return m.engine.BandwidthLimit()
}

// SetMaxConcurrent updates and persists the admission bound
func (m *Manager) SetMaxConcurrent(ctx context.Context, n int) error {
	if err := m.queue.SetMaxConcurrent(n); err != nil {
		return err
	}
	return m.saveSetting(ctx, SettingMaxConcurrent, strconv.Itoa(n))
}

// MaxConcurrent returns the admission bound
func (m *Manager) MaxConcurrent() int {
	return m.queue.MaxConcurrent()
}

func (m *Manager) saveSetting(ctx context.Context, key, value string) error {
	if m.store == nil {
		return nil
	}
	if err := m.store.SetSetting(ctx, key, value); err != nil {
		return fmt.Errorf("failed to persist %s: %w", key, err)
	}
	return nil
}

// History returns up to limit finished downloads, newest first
func (m *Manager) History(ctx context.Context, limit int) ([]domain.HistoryEntry, error) {
	if m.store == nil {
		return nil, nil
	}
	return m.store.History(ctx, limit)
}

// ClearHistory forgets every finished download
func (m *Manager) ClearHistory(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	return m.store.ClearHistory(ctx)
}

// ClearCompleted drops completed entries from the queue
func (m *Manager) ClearCompleted() int {
	return m.queue.ClearCompleted()
}

// Restore applies persisted settings and re-admits unfinished downloads.
// Paused downloads come back paused. Returns the number restored.
func (m *Manager) Restore(ctx context.Context) (int, error) {
	if m.store == nil {
		return 0, nil
	}
	m.restoreSettings(ctx)

	downloads, err := m.store.Load(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load downloads: %w", err)
	}

	restored := 0
	var errs error
	for _, d := range downloads {
		if !d.Status.Restorable() {
			continue
		}
		d.Speed = 0
		for i := range d.Segments {
			d.Segments[i].Speed = 0
		}

		if d.Status == domain.StatusPaused {
			err = m.queue.AddPaused(d)
		} else {
			_, err = m.queue.Add(d, d.Priority)
		}
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("restore %s: %w", d.ID, err))
			continue
		}
		restored++
	}

	if restored > 0 {
		m.logger.Info("restored downloads", zap.Int("count", restored))
	}
	return restored, errs
}

func (m *Manager) restoreSettings(ctx context.Context) {
	if v, ok, err := m.store.GetSetting(ctx, SettingBandwidthLimit); err == nil && ok {
		if limit, err := strconv.ParseInt(v, 10, 64); err == nil && limit >= 0 {
			m.engine.SetBandwidthLimit(limit)
		}
	}
	if v, ok, err := m.store.GetSetting(ctx, SettingMaxConcurrent); err == nil && ok {
		if n, err := strconv.Atoi(v); err == nil {
			if err := m.queue.SetMaxConcurrent(n); err != nil {
				m.logger.Warn("ignoring stored max_concurrent", zap.String("value", v), zap.Error(err))
			}
		}
	}
}

// Save writes every unfinished download to the store
func (m *Manager) Save(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	m.saveMu.Lock()
	defer m.saveMu.Unlock()

	all := m.GetAll()
	downloads := make([]*domain.Descriptor, 0, len(all.Queued)+len(all.Active)+len(all.Paused))
	downloads = append(downloads, all.Active...)
	downloads = append(downloads, all.Queued...)
	downloads = append(downloads, all.Paused...)
	return m.store.Save(ctx, downloads)
}

// Close stops every transfer, saves their state and detaches from events
func (m *Manager) Close(ctx context.Context) error {
	err := m.engine.Close(ctx)
	err = multierr.Append(err, m.Save(ctx))
	m.dispatcher.Unsubscribe(m.handler)
	return err
}

func (m *Manager) handle(e event.DomainEvent) error {
	de, ok := e.(event.DownloadEvent)
	if !ok {
		return nil
	}
	snap := de.Snapshot()

	switch e.EventName() {
	case event.NameAdmitted:
		m.startAdmitted(snap)
	case event.NameProgress:
		m.queue.Update(snap)
	case event.NameCompleted:
		m.queue.Update(snap)
		if err := m.queue.MoveToCompleted(snap.ID); err != nil && !errors.Is(err, domain.ErrNotFound) {
			m.logger.Warn("failed to move download to completed", zap.String("download_id", snap.ID), zap.Error(err))
		}
		m.recordHistory(snap)
		m.saveAfterEvent()
	case event.NameFailed, event.NamePaused:
		m.queue.Update(snap)
		m.saveAfterEvent()
	case event.NameCancelled:
		m.saveAfterEvent()
	}
	return nil
}

// startAdmitted hands an admitted download to the engine unless it was
// paused or removed while the event was in flight.
func (m *Manager) startAdmitted(snap *domain.Descriptor) {
	entry, ok := m.queue.Get(snap.ID)
	if !ok || entry.Location != domain.LocationActive || m.queue.Held(snap.ID) {
		return
	}

	if err := m.engine.Start(entry.Descriptor); err != nil && !errors.Is(err, domain.ErrClosed) {
		m.logger.Error("failed to start download",
			zap.String("download_id", snap.ID),
			zap.Error(err))
	}
}

func (m *Manager) recordHistory(snap *domain.Descriptor) {
	if m.store == nil {
		return
	}
	entry := domain.HistoryEntry{
		ID:       snap.ID,
		URL:      snap.URL,
		Filename: snap.Filename,
		Path:     snap.Path,
		Size:     snap.TotalBytes,
	}
	if snap.CompletedAt != nil {
		entry.CompletedAt = *snap.CompletedAt
	}

	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()
	if err := m.store.AddHistory(ctx, entry); err != nil {
		m.logger.Warn("failed to record history", zap.String("download_id", snap.ID), zap.Error(err))
	}
}

// saveAfterEvent snapshots after a terminal or pause event. It runs on the
// dispatcher goroutine, so it stays synchronous with respect to later events.
func (m *Manager) saveAfterEvent() {
	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()
	if err := m.Save(ctx); err != nil {
		m.logger.Warn("failed to save downloads", zap.Error(err))
	}
}
