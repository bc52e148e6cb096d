package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/vertextoedge/segfetch/internal/adapter/httpclient"
	"github.com/vertextoedge/segfetch/internal/domain"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// segmentUpdate is the only way a worker reports state; the coordinator applies it
type segmentUpdate struct {
	index    int
	received int64
	speed    int64
	retries  int
}

// runSegments fans out one worker per incomplete segment, applies their
// updates as the single writer of the descriptor, then merges.
func (e *Engine) runSegments(ctx context.Context, j *job, snap *domain.Descriptor) error {
	target := snap.FinalURL
	if target == "" {
		target = snap.URL
	}

	updates := make(chan segmentUpdate, len(snap.Segments)*4)
	g, gctx := errgroup.WithContext(ctx)

	for _, seg := range snap.Segments {
		if seg.Complete() {
			continue
		}
		w := &segmentWorker{
			engine:   e,
			id:       snap.ID,
			referrer: snap.Referrer,
			seg:      seg,
			target:   target,
			updates:  updates,
			pacer:    e.throttle.pacer(),
			meter:    newSpeedMeter(e.config.SpeedInterval),
		}
		g.Go(func() error {
			return w.run(gctx)
		})
	}

	var werr error
	go func() {
		werr = g.Wait()
		close(updates)
	}()

	for u := range updates {
		e.applySegmentUpdate(j, u)
	}
	if werr != nil {
		if ctx.Err() != nil {
			return context.Cause(ctx)
		}
		return werr
	}

	return e.finalizeSegments(ctx, j)
}

func (e *Engine) applySegmentUpdate(j *job, u segmentUpdate) {
	e.mu.Lock()
	if u.index < 0 || u.index >= len(j.desc.Segments) {
		e.mu.Unlock()
		return
	}
	seg := &j.desc.Segments[u.index]
	seg.Received = u.received
	seg.Speed = u.speed
	seg.Retries = u.retries
	j.desc.SumSegments()
	snap := e.progressSnapshotLocked(j)
	e.mu.Unlock()

	e.publishProgress(snap)
}

// finalizeSegments merges scratch files once every segment is complete
func (e *Engine) finalizeSegments(ctx context.Context, j *job) error {
	e.mu.Lock()
	if ctx.Err() != nil {
		e.mu.Unlock()
		return context.Cause(ctx)
	}
	for _, seg := range j.desc.Segments {
		if !seg.Complete() {
			e.mu.Unlock()
			return &domain.TransportError{Op: "segment", Err: fmt.Errorf("segment %d incomplete: %w", seg.Index, io.ErrUnexpectedEOF)}
		}
	}
	j.finalizing = true
	dest := j.desc.Path
	segments := make([]domain.Segment, len(j.desc.Segments))
	copy(segments, j.desc.Segments)
	e.mu.Unlock()

	if err := Merge(e.fs, dest, segments, e.config.BufferSize); err != nil {
		return err
	}
	// dest is complete; leftovers are collected by maintenance
	if err := RemoveScratch(e.fs, segments); err != nil {
		e.logger.Warn("failed to remove scratch files",
			zap.String("id", j.desc.ID),
			zap.Errors("errors", multierr.Errors(err)))
	}
	e.renameToSuggested(j)
	return nil
}

// segmentWorker fetches one byte range into its scratch file
type segmentWorker struct {
	engine   *Engine
	id       string
	referrer string
	seg      domain.Segment
	target   string
	updates  chan<- segmentUpdate
	pacer    *pacer
	meter    *speedMeter

	received int64
	retries  int
}

func (w *segmentWorker) run(ctx context.Context) error {
	e := w.engine
	w.retries = w.seg.Retries

	// The scratch file is the ground truth for how much was written
	size, err := e.fs.FileSize(w.seg.ScratchPath)
	if err != nil {
		return &domain.FilesystemError{Op: "stat", Path: w.seg.ScratchPath, Err: err}
	}
	w.received = w.seg.Received
	if size < w.received {
		w.received = size
	}
	if w.received > w.seg.Length() {
		w.received = w.seg.Length()
	}
	w.report()

	redirects := 0
	attempt := 0
	for w.received < w.seg.Length() {
		before := w.received
		next, err := w.fetch(ctx)
		if w.received > before {
			// the bound applies to consecutive redirects only
			redirects = 0
		}
		if err == nil && next == "" {
			continue
		}
		if ctx.Err() != nil {
			return context.Cause(ctx)
		}

		if next != "" {
			redirects++
			if redirects > domain.MaxRedirects {
				return &domain.RedirectLoopError{URL: w.target, Hops: redirects - 1}
			}
			w.target = next
			continue
		}

		if !domain.IsRetryable(err) || attempt >= e.config.RetryAttempts {
			return fmt.Errorf("segment %d: %w", w.seg.Index, err)
		}
		attempt++
		w.retries++

		// partial data is discarded and the range refetched from its start
		w.received = 0
		if rmErr := e.fs.Remove(w.seg.ScratchPath); rmErr != nil {
			return &domain.FilesystemError{Op: "remove", Path: w.seg.ScratchPath, Err: rmErr}
		}
		w.meter.reset(time.Now())
		w.report()

		delay := e.config.RetryDelay * time.Duration(attempt)
		e.logger.Warn("segment failed, retrying",
			zap.String("download_id", w.id),
			zap.Int("segment", w.seg.Index),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))
		if err := sleepCtx(ctx, delay); err != nil {
			return err
		}
	}

	w.meter.reset(time.Now())
	w.report()
	return nil
}

// fetch performs one ranged request. A non-empty next means the server
// redirected and the same range should be requested from there.
func (w *segmentWorker) fetch(ctx context.Context) (next string, err error) {
	e := w.engine
	offset := w.seg.Start + w.received

	reqCtx, wd := newWatchdog(ctx, e.config.IdleTimeout)
	defer wd.Cancel()

	req, err := httpclient.NewRequest(reqCtx, w.target, e.config.UserAgent, w.referrer)
	if err != nil {
		return "", &domain.ProtocolError{StatusCode: 0, Message: err.Error()}
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", offset, w.seg.End))

	resp, err := e.client.Do(req)
	if err != nil {
		return "", transportError(ctx, reqCtx, "request", err)
	}
	defer resp.Body.Close()

	if httpclient.IsRedirect(resp.StatusCode) {
		return redirectTarget(w.target, resp)
	}
	switch resp.StatusCode {
	case http.StatusPartialContent:
	case http.StatusOK:
		if offset != 0 {
			return "", &domain.ProtocolError{StatusCode: resp.StatusCode, Message: "server ignored range request"}
		}
	default:
		return "", domain.NewProtocolError(resp.StatusCode)
	}

	f, err := e.fs.OpenAt(w.seg.ScratchPath, w.received)
	if err != nil {
		return "", &domain.FilesystemError{Op: "open", Path: w.seg.ScratchPath, Err: err}
	}

	body := io.LimitReader(resp.Body, w.seg.Length()-w.received)
	copyErr := e.copy(ctx, reqCtx, wd, w.pacer, body, f, w.seg.ScratchPath, func(n int) {
		w.received += int64(n)
		if w.meter.add(n, time.Now()) {
			w.report()
		}
	})
	if closeErr := f.Close(); closeErr != nil && copyErr == nil {
		copyErr = &domain.FilesystemError{Op: "close", Path: w.seg.ScratchPath, Err: closeErr}
	}
	if copyErr != nil {
		return "", copyErr
	}
	if w.received < w.seg.Length() {
		return "", &domain.TransportError{Op: "read", Err: io.ErrUnexpectedEOF}
	}
	return "", nil
}

func (w *segmentWorker) report() {
	w.updates <- segmentUpdate{
		index:    w.seg.Index,
		received: w.received,
		speed:    w.meter.speed,
		retries:  w.retries,
	}
}

// copy streams body into dst, kicking the watchdog and pacing each chunk.
// The idle countdown is suspended while the pacer holds the chunk back.
func (e *Engine) copy(ctx, reqCtx context.Context, wd *watchdog, p *pacer, body io.Reader, dst io.Writer, path string, onChunk func(n int)) error {
	buf := make([]byte, e.config.BufferSize)
	for {
		n, rerr := body.Read(buf)
		if n > 0 {
			wd.Kick()
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return &domain.FilesystemError{Op: "write", Path: path, Err: werr}
			}
			onChunk(n)
			wd.Suspend()
			if err := p.Wait(ctx, n); err != nil {
				return err
			}
			wd.Kick()
		}
		if rerr == io.EOF {
			return nil
		}
		if rerr != nil {
			return transportError(ctx, reqCtx, "read", rerr)
		}
	}
}

// transportError classifies a request failure: parent cancellation passes
// its cause through, a watchdog expiry becomes an idle timeout.
func transportError(ctx, reqCtx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return context.Cause(ctx)
	}
	if expired(reqCtx) {
		return &domain.TransportError{Op: "idle timeout", Err: context.DeadlineExceeded}
	}
	var te *domain.TransportError
	if errors.As(err, &te) {
		return err
	}
	return &domain.TransportError{Op: op, Err: err}
}

func redirectTarget(current string, resp *http.Response) (string, error) {
	location := resp.Header.Get("Location")
	if location == "" {
		return "", &domain.ProtocolError{StatusCode: resp.StatusCode, Message: "redirect without Location"}
	}
	next, err := httpclient.ResolveLocation(current, location)
	if err != nil {
		return "", &domain.ProtocolError{StatusCode: resp.StatusCode, Message: "invalid Location: " + err.Error()}
	}
	return next, nil
}
