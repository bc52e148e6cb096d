package engine

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/vertextoedge/segfetch/internal/adapter/httpclient"
	"github.com/vertextoedge/segfetch/internal/domain"
	"github.com/vertextoedge/segfetch/internal/service/resolver"
	"go.uber.org/zap"
)

// runSingle streams the resource into its destination in one request,
// resuming from ReceivedBytes with an open-ended range when possible.
func (e *Engine) runSingle(ctx context.Context, j *job, snap *domain.Descriptor) error {
	s := &singleStream{
		engine:   e,
		job:      j,
		id:       snap.ID,
		referrer: snap.Referrer,
		path:     snap.Path,
		target:   snap.FinalURL,
		received: snap.ReceivedBytes,
		pacer:    e.throttle.pacer(),
		meter:    newSpeedMeter(e.config.SpeedInterval),
	}
	if s.target == "" {
		s.target = snap.URL
	}

	size, err := e.fs.FileSize(s.path)
	if err != nil {
		return &domain.FilesystemError{Op: "stat", Path: s.path, Err: err}
	}
	if size < s.received {
		s.setReceived(size)
	}

	redirects := 0
	attempt := 0
	for {
		before := s.received
		done, next, err := s.fetch(ctx)
		if s.received > before {
			redirects = 0
		}
		if err == nil && done {
			break
		}
		if ctx.Err() != nil {
			return context.Cause(ctx)
		}

		if next != "" {
			redirects++
			if redirects > domain.MaxRedirects {
				return &domain.RedirectLoopError{URL: s.target, Hops: redirects - 1}
			}
			s.target = next
			continue
		}
		if err == nil {
			continue
		}

		if !domain.IsRetryable(err) || attempt >= e.config.RetryAttempts {
			return err
		}
		attempt++
		delay := e.config.RetryDelay * time.Duration(attempt)
		e.logger.Warn("stream failed, retrying",
			zap.String("download_id", s.id),
			zap.Int64("offset", s.received),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))
		if err := sleepCtx(ctx, delay); err != nil {
			return err
		}
	}

	e.mu.Lock()
	if ctx.Err() != nil {
		e.mu.Unlock()
		return context.Cause(ctx)
	}
	j.finalizing = true
	e.mu.Unlock()

	e.renameToSuggested(j)
	return nil
}

type singleStream struct {
	engine   *Engine
	job      *job
	id       string
	referrer string
	path     string
	target   string
	received int64
	pacer    *pacer
	meter    *speedMeter
}

// fetch issues one request. done reports that the whole body is on disk,
// next that the server redirected.
func (s *singleStream) fetch(ctx context.Context) (done bool, next string, err error) {
	e := s.engine

	reqCtx, wd := newWatchdog(ctx, e.config.IdleTimeout)
	defer wd.Cancel()

	req, err := httpclient.NewRequest(reqCtx, s.target, e.config.UserAgent, s.referrer)
	if err != nil {
		return false, "", &domain.ProtocolError{Message: err.Error()}
	}
	if s.received > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", s.received))
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return false, "", transportError(ctx, reqCtx, "request", err)
	}
	defer resp.Body.Close()

	if name := resolver.FilenameFromDisposition(resp.Header.Get("Content-Disposition")); name != "" {
		e.mu.Lock()
		s.job.suggestedName = name
		e.mu.Unlock()
	}

	if httpclient.IsRedirect(resp.StatusCode) {
		next, err := redirectTarget(s.target, resp)
		return false, next, err
	}

	var total int64
	switch resp.StatusCode {
	case http.StatusOK:
		// range ignored, or nothing received yet
		if s.received > 0 {
			e.logger.Info("server restarted transfer from the beginning",
				zap.String("download_id", s.id),
				zap.Int64("discarded", s.received))
		}
		s.setReceived(0)
		total = resp.ContentLength
	case http.StatusPartialContent:
		total = resolver.ParseContentRangeTotal(resp.Header.Get("Content-Range"))
	case http.StatusRequestedRangeNotSatisfiable:
		e.mu.Lock()
		known := s.job.desc.TotalBytes
		e.mu.Unlock()
		if known > 0 && s.received >= known {
			return true, "", nil
		}
		return false, "", domain.NewProtocolError(resp.StatusCode)
	default:
		return false, "", domain.NewProtocolError(resp.StatusCode)
	}
	if total > 0 {
		e.mu.Lock()
		s.job.desc.TotalBytes = total
		e.mu.Unlock()
	}

	f, err := e.fs.OpenAt(s.path, s.received)
	if err != nil {
		return false, "", &domain.FilesystemError{Op: "open", Path: s.path, Err: err}
	}

	var body io.Reader = resp.Body
	if total > 0 {
		body = io.LimitReader(resp.Body, total-s.received)
	}
	s.meter.reset(time.Now())
	copyErr := e.copy(ctx, reqCtx, wd, s.pacer, body, f, s.path, func(n int) {
		s.received += int64(n)
		sampled := s.meter.add(n, time.Now())
		e.mu.Lock()
		s.job.desc.ReceivedBytes = s.received
		if sampled {
			s.job.desc.Speed = s.meter.speed
		}
		snap := e.progressSnapshotLocked(s.job)
		e.mu.Unlock()
		e.publishProgress(snap)
	})
	if closeErr := f.Close(); closeErr != nil && copyErr == nil {
		copyErr = &domain.FilesystemError{Op: "close", Path: s.path, Err: closeErr}
	}
	if copyErr != nil {
		return false, "", copyErr
	}
	if total > 0 && s.received < total {
		return false, "", &domain.TransportError{Op: "read", Err: io.ErrUnexpectedEOF}
	}
	return true, "", nil
}

func (s *singleStream) setReceived(n int64) {
	s.received = n
	s.engine.mu.Lock()
	s.job.desc.ReceivedBytes = n
	s.engine.mu.Unlock()
}
