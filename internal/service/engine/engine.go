package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/vertextoedge/segfetch/internal/adapter/httpclient"
	"github.com/vertextoedge/segfetch/internal/domain"
	"github.com/vertextoedge/segfetch/internal/domain/event"
	"github.com/vertextoedge/segfetch/internal/port"
	"github.com/vertextoedge/segfetch/internal/service/resolver"
	"github.com/vertextoedge/segfetch/internal/util/ratelimiter"
	"go.uber.org/zap"
)

// Run cancellation causes
var (
	errPaused    = errors.New("download paused")
	errCancelled = errors.New("download cancelled")
	errShutdown  = errors.New("engine shutting down")
)

// Config contains engine configuration
type Config struct {
	MaxSegments      int
	MinSegmentSize   int64
	RetryAttempts    int
	RetryDelay       time.Duration
	IdleTimeout      time.Duration
	UserAgent        string
	BufferSize       int
	ProgressInterval time.Duration
	SpeedInterval    time.Duration
	BandwidthLimit   int64
}

// DefaultConfig returns default engine configuration
func DefaultConfig() *Config {
	return &Config{
		MaxSegments:      8,
		MinSegmentSize:   1024 * 1024,
		RetryAttempts:    3,
		RetryDelay:       time.Second,
		IdleTimeout:      30 * time.Second,
		UserAgent:        httpclient.DefaultUserAgent,
		BufferSize:       256 * 1024,
		ProgressInterval: 100 * time.Millisecond,
		SpeedInterval:    100 * time.Millisecond,
	}
}

// MetadataResolver probes a URL before transfer
type MetadataResolver interface {
	Resolve(ctx context.Context, rawURL string) (*domain.FileInfo, error)
}

// Engine runs downloads. It owns every descriptor it has been handed;
// callers only ever see clones.
type Engine struct {
	config     *Config
	client     *http.Client
	resolver   MetadataResolver
	fs         port.FileSystem
	space      port.SpaceChecker
	dispatcher event.EventDispatcher
	logger     *zap.Logger
	throttle   *Throttle
	progress   *ratelimiter.Limiter

	mu     sync.Mutex
	jobs   map[string]*job
	closed bool
	wg     sync.WaitGroup
}

type job struct {
	desc       *domain.Descriptor
	run        *run
	finalizing bool
	// filename announced by the final response, applied at completion
	suggestedName string
	startedAt     time.Time
}

type run struct {
	ctx    context.Context
	cancel context.CancelCauseFunc
	done   chan struct{}
}

// New creates a new Engine. space may be nil to skip disk checks.
func New(cfg *Config, client *http.Client, res MetadataResolver, fs port.FileSystem, space port.SpaceChecker, dispatcher event.EventDispatcher, logger *zap.Logger) *Engine {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	defaults := DefaultConfig()
	if cfg.MaxSegments <= 0 {
		cfg.MaxSegments = defaults.MaxSegments
	}
	if cfg.MinSegmentSize <= 0 {
		cfg.MinSegmentSize = defaults.MinSegmentSize
	}
	if cfg.RetryAttempts < 0 {
		cfg.RetryAttempts = 0
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = 0
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = defaults.IdleTimeout
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaults.BufferSize
	}
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = defaults.ProgressInterval
	}
	if cfg.SpeedInterval <= 0 {
		cfg.SpeedInterval = defaults.SpeedInterval
	}
	if client == nil {
		client = httpclient.New(httpclient.Config{
			UserAgent:  cfg.UserAgent,
			Timeout:    cfg.IdleTimeout,
			BufferSize: cfg.BufferSize,
		})
	}
	if res == nil {
		res = resolver.New(&resolver.Config{UserAgent: cfg.UserAgent}, client, logger)
	}
	if dispatcher == nil {
		dispatcher = event.NewNullDispatcher()
	}

	return &Engine{
		config:     cfg,
		client:     client,
		resolver:   res,
		fs:         fs,
		space:      space,
		dispatcher: dispatcher,
		logger:     logger,
		throttle:   NewThrottle(cfg.BandwidthLimit),
		progress:   ratelimiter.New(cfg.ProgressInterval),
		jobs:       make(map[string]*job),
	}
}

// Start begins transferring desc. Starting a download that is already
// running is a no-op; a known download in error state is restarted.
func (e *Engine) Start(desc *domain.Descriptor) error {
	if desc == nil || desc.ID == "" {
		return fmt.Errorf("%w: descriptor without id", domain.ErrInvalidInput)
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return domain.ErrClosed
	}

	j, ok := e.jobs[desc.ID]
	if !ok {
		j = &job{desc: desc.Clone()}
	} else if j.run != nil && j.desc.Status == domain.StatusDownloading {
		e.mu.Unlock()
		return nil
	}
	if err := j.desc.TransitionTo(domain.StatusDownloading); err != nil {
		e.mu.Unlock()
		return err
	}
	e.jobs[desc.ID] = j

	now := time.Now()
	j.desc.LastError = ""
	j.desc.MarkStarted(now)
	j.startedAt = now
	e.launchLocked(j)
	e.mu.Unlock()

	e.logger.Info("download started",
		zap.String("download_id", desc.ID),
		zap.String("url", desc.URL))
	return nil
}

// launchLocked starts a new run for j once its previous run has wound down
func (e *Engine) launchLocked(j *job) {
	prev := j.run
	ctx, cancel := context.WithCancelCause(context.Background())
	r := &run{ctx: ctx, cancel: cancel, done: make(chan struct{})}
	j.run = r

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer close(r.done)
		if prev != nil {
			<-prev.done
		}
		err := e.transfer(ctx, j)
		e.finish(j, r, err)
		cancel(nil)
	}()
}

// Pause stops in-flight requests and keeps received data. Pausing a paused
// or finalizing download is a no-op; a failed one cannot be paused.
func (e *Engine) Pause(id string) error {
	e.mu.Lock()
	j, ok := e.jobs[id]
	if !ok {
		e.mu.Unlock()
		return domain.ErrNotFound
	}
	if j.finalizing || j.desc.Status == domain.StatusPaused {
		e.mu.Unlock()
		return nil
	}
	if err := j.desc.TransitionTo(domain.StatusPaused); err != nil {
		e.mu.Unlock()
		return err
	}

	clearSpeed(j.desc)
	if j.run != nil {
		j.run.cancel(errPaused)
	}
	snap := j.desc.Clone()
	e.mu.Unlock()

	e.dispatcher.Dispatch(event.NewDownloadPaused(snap))
	return nil
}

// Resume relaunches a paused download from its acknowledged offsets.
// Resuming a running download is a no-op.
func (e *Engine) Resume(id string) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return domain.ErrClosed
	}
	j, ok := e.jobs[id]
	if !ok {
		e.mu.Unlock()
		return domain.ErrNotFound
	}
	if j.desc.Status == domain.StatusDownloading {
		e.mu.Unlock()
		return nil
	}
	if j.desc.Status != domain.StatusPaused {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s download cannot be resumed", domain.ErrInvalidStateTransition, j.desc.Status)
	}

	j.desc.Status = domain.StatusDownloading
	e.launchLocked(j)
	snap := j.desc.Clone()
	e.mu.Unlock()

	e.progress.Reset(id)
	e.dispatcher.Dispatch(event.NewDownloadResumed(snap))
	return nil
}

// Cancel abandons a download and removes its partial files in the background
func (e *Engine) Cancel(id string) error {
	e.mu.Lock()
	j, ok := e.jobs[id]
	if !ok {
		e.mu.Unlock()
		return domain.ErrNotFound
	}
	if err := j.desc.TransitionTo(domain.StatusCancelled); err != nil {
		e.mu.Unlock()
		return err
	}
	delete(e.jobs, id)

	r := j.run
	if r != nil {
		r.cancel(errCancelled)
	}
	clearSpeed(j.desc)
	snap := j.desc.Clone()
	e.mu.Unlock()

	e.progress.Reset(id)
	e.dispatcher.Dispatch(event.NewDownloadCancelled(snap))

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if r != nil {
			<-r.done
		}
		e.mu.Lock()
		final := j.desc.Clone()
		e.mu.Unlock()
		e.removeFiles(final)
	}()
	return nil
}

// DiscardFiles removes partial files of a download the engine never ran
func (e *Engine) DiscardFiles(desc *domain.Descriptor) {
	if desc == nil || desc.Status == domain.StatusCompleted {
		return
	}
	snap := desc.Clone()
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.removeFiles(snap)
	}()
}

func (e *Engine) removeFiles(desc *domain.Descriptor) {
	paths := make([]string, 0, len(desc.Segments)+1)
	for _, seg := range desc.Segments {
		paths = append(paths, seg.ScratchPath)
	}
	if desc.Path != "" {
		paths = append(paths, desc.Path)
	}
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := e.fs.Remove(p); err != nil {
			e.logger.Debug("failed to remove partial file", zap.String("path", p), zap.Error(err))
		}
	}
}

// SetBandwidthLimit updates the shared limit; 0 disables throttling
func (e *Engine) SetBandwidthLimit(bytesPerSec int64) {
	e.throttle.SetLimit(bytesPerSec)
	e.logger.Info("bandwidth limit updated", zap.String("limit", limitString(bytesPerSec)))
}

// BandwidthLimit returns the current limit in bytes per second
func (e *Engine) BandwidthLimit() int64 {
	return e.throttle.Limit()
}

// Snapshot returns a copy of the descriptor for id
func (e *Engine) Snapshot(id string) (*domain.Descriptor, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	j, ok := e.jobs[id]
	if !ok {
		return nil, false
	}
	return j.desc.Clone(), true
}

// Snapshots returns copies of every descriptor the engine holds
func (e *Engine) Snapshots() []*domain.Descriptor {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*domain.Descriptor, 0, len(e.jobs))
	for _, j := range e.jobs {
		out = append(out, j.desc.Clone())
	}
	return out
}

// Owns reports whether scratchPath belongs to a download the engine holds
func (e *Engine) Owns(path string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, j := range e.jobs {
		for _, seg := range j.desc.Segments {
			if seg.ScratchPath == path {
				return true
			}
		}
	}
	return false
}

// Close interrupts every run and waits for them to return.
// Interrupted downloads keep their status so they can be restored.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	for _, j := range e.jobs {
		if j.run != nil {
			j.run.cancel(errShutdown)
		}
	}
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for downloads to stop: %w", ctx.Err())
	}
}

// transfer resolves metadata, picks a strategy and runs it to completion
func (e *Engine) transfer(ctx context.Context, j *job) error {
	if err := ctx.Err(); err != nil {
		return context.Cause(ctx)
	}

	e.mu.Lock()
	needsResolve := j.desc.TotalBytes == 0 && j.desc.ReceivedBytes == 0 && len(j.desc.Segments) == 0
	url := j.desc.URL
	e.mu.Unlock()

	if needsResolve {
		info, err := e.resolver.Resolve(ctx, url)
		if ctx.Err() != nil {
			return context.Cause(ctx)
		}
		if err != nil {
			if domain.IsRedirectLoop(err) {
				return err
			}
			e.logger.Warn("metadata resolution failed, continuing without it",
				zap.String("url", url),
				zap.Error(err))
		} else {
			e.applyFileInfo(j, info)
		}
	}

	e.mu.Lock()
	multi := len(j.desc.Segments) > 0 ||
		(j.desc.ReceivedBytes == 0 && j.desc.AcceptsRanges && j.desc.TotalBytes > e.config.MinSegmentSize)
	if multi && len(j.desc.Segments) == 0 {
		ranges := Plan(j.desc.TotalBytes, e.config.MinSegmentSize, e.config.MaxSegments, j.desc.AcceptsRanges)
		j.desc.Segments = segmentsFor(ranges, j.desc.Path, e.fs.ScratchPath)
	}
	remaining := j.desc.TotalBytes - j.desc.ReceivedBytes
	dir := filepath.Dir(j.desc.Path)
	snap := j.desc.Clone()
	e.mu.Unlock()

	if err := e.checkSpace(dir, remaining); err != nil {
		return err
	}

	e.progress.Reset(snap.ID)
	e.dispatcher.Dispatch(event.NewDownloadProgress(snap))

	if multi {
		e.logger.Debug("segmented transfer",
			zap.String("download_id", snap.ID),
			zap.Int("segments", len(snap.Segments)),
			zap.String("size", humanize.IBytes(uint64(snap.TotalBytes))))
		return e.runSegments(ctx, j, snap)
	}
	e.logger.Debug("single stream transfer",
		zap.String("download_id", snap.ID),
		zap.Int64("offset", snap.ReceivedBytes))
	return e.runSingle(ctx, j, snap)
}

func (e *Engine) applyFileInfo(j *job, info *domain.FileInfo) {
	e.mu.Lock()
	defer e.mu.Unlock()

	d := j.desc
	d.TotalBytes = info.TotalBytes
	d.AcceptsRanges = info.AcceptsRanges
	if info.ContentType != "" {
		d.ContentType = info.ContentType
	}
	if info.FinalURL != "" {
		d.FinalURL = info.FinalURL
	}
	if d.FilenameFixed || info.Filename == "" || info.Filename == resolver.DefaultFilename || info.Filename == d.Filename {
		return
	}
	// nothing is on disk yet, so the destination can move freely
	d.Path = e.uniqueDestLocked(j, filepath.Join(filepath.Dir(d.Path), info.Filename))
	d.Filename = filepath.Base(d.Path)
}

// uniqueDestLocked returns path, or the first "name (n).ext" sibling that
// neither exists on disk nor is claimed by another download.
func (e *Engine) uniqueDestLocked(self *job, path string) string {
	ext := filepath.Ext(path)
	stem := strings.TrimSuffix(path, ext)
	candidate := path
	for n := 1; ; n++ {
		if !e.claimedLocked(self, candidate) && e.fs.UniquePath(candidate) == candidate {
			return candidate
		}
		candidate = fmt.Sprintf("%s (%d)%s", stem, n, ext)
	}
}

// claimedLocked reports whether path is the destination of another job or
// already has scratch files on disk.
func (e *Engine) claimedLocked(self *job, path string) bool {
	for _, j := range e.jobs {
		if j == self {
			continue
		}
		if j.desc.Path == path {
			return true
		}
	}
	scratch := e.fs.ScratchPath(path, 0)
	return e.fs.UniquePath(scratch) != scratch
}

func (e *Engine) checkSpace(dir string, size int64) error {
	if e.space == nil || size <= 0 {
		return nil
	}
	result, err := e.space.CheckSpace(dir, size)
	if err != nil {
		e.logger.Warn("disk space check failed", zap.String("dir", dir), zap.Error(err))
		return nil
	}
	if !result.HasSpace {
		return &domain.FilesystemError{
			Op:   "reserve",
			Path: dir,
			Err:  fmt.Errorf("%w: need %s, %s free", domain.ErrInsufficientSpace, humanize.IBytes(uint64(size)), humanize.IBytes(result.FreeBytes)),
		}
	}
	return nil
}

// finish records the outcome of run r
func (e *Engine) finish(j *job, r *run, err error) {
	e.mu.Lock()
	if j.run == r {
		j.run = nil
	}
	j.finalizing = false

	// Cancelled downloads are gone from the map; pause and shutdown
	// already set the status the descriptor should keep.
	if e.jobs[j.desc.ID] != j || r.ctx.Err() != nil && err != nil {
		clearSpeed(j.desc)
		e.mu.Unlock()
		return
	}

	if err != nil {
		j.desc.MarkFailed(err)
		clearSpeed(j.desc)
		snap := j.desc.Clone()
		e.mu.Unlock()

		e.logger.Warn("download failed",
			zap.String("download_id", snap.ID),
			zap.Error(err))
		e.dispatcher.Dispatch(event.NewDownloadFailed(snap, err))
		return
	}

	j.desc.MarkCompleted(time.Now())
	clearSpeed(j.desc)
	delete(e.jobs, j.desc.ID)
	snap := j.desc.Clone()
	duration := time.Since(j.startedAt)
	e.mu.Unlock()

	e.progress.Reset(snap.ID)
	e.dispatcher.Dispatch(event.NewDownloadCompleted(snap, duration))
}

// renameToSuggested applies a filename learned during transfer.
// The new name is picked and taken under e.mu so concurrent renames cannot collide.
func (e *Engine) renameToSuggested(j *job) {
	e.mu.Lock()
	defer e.mu.Unlock()

	name := j.suggestedName
	d := j.desc
	if d.FilenameFixed || name == "" || name == d.Filename {
		return
	}
	oldPath := d.Path
	newPath := e.uniqueDestLocked(j, filepath.Join(filepath.Dir(oldPath), name))
	if err := e.fs.Rename(oldPath, newPath); err != nil {
		e.logger.Warn("failed to apply server filename",
			zap.String("from", oldPath),
			zap.String("to", newPath),
			zap.Error(err))
		return
	}
	d.Path = newPath
	d.Filename = filepath.Base(newPath)
}

// progressSnapshotLocked returns a snapshot when a progress event is due.
// The caller dispatches it after releasing e.mu.
func (e *Engine) progressSnapshotLocked(j *job) *domain.Descriptor {
	if j.desc.Status != domain.StatusDownloading {
		return nil
	}
	if ok, _ := e.progress.Allow(j.desc.ID); !ok {
		return nil
	}
	return j.desc.Clone()
}

func (e *Engine) publishProgress(snap *domain.Descriptor) {
	if snap != nil {
		e.dispatcher.Dispatch(event.NewDownloadProgress(snap))
	}
}

func clearSpeed(d *domain.Descriptor) {
	d.Speed = 0
	for i := range d.Segments {
		d.Segments[i].Speed = 0
	}
}

func limitString(bytesPerSec int64) string {
	if bytesPerSec <= 0 {
		return "unlimited"
	}
	return humanize.IBytes(uint64(bytesPerSec)) + "/s"
}
