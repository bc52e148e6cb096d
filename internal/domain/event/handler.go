package event

import (
	"sync"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
)

// LoggingHandler logs all events
type LoggingHandler struct {
	logger *zap.Logger
}

// NewLoggingHandler creates a new LoggingHandler
func NewLoggingHandler(logger *zap.Logger) *LoggingHandler {
	return &LoggingHandler{logger: logger}
}

// Handle logs the event
func (h *LoggingHandler) Handle(event DomainEvent) error {
	switch e := event.(type) {
	case DownloadQueued:
		h.logger.Info("download queued",
			zap.String("download_id", e.ID),
			zap.String("url", e.Descriptor.URL),
			zap.String("priority", e.Descriptor.Priority.String()),
			zap.Int("position", e.Position),
		)
	case DownloadAdmitted:
		h.logger.Debug("download admitted",
			zap.String("download_id", e.ID),
			zap.String("filename", e.Descriptor.Filename),
		)
	case DownloadProgress:
		// too chatty for info
	case DownloadCompleted:
		h.logger.Info("download completed",
			zap.String("download_id", e.ID),
			zap.String("path", e.Descriptor.Path),
			zap.String("size", humanize.IBytes(uint64(e.Descriptor.ReceivedBytes))),
			zap.Int("segments", len(e.Descriptor.Segments)),
			zap.Duration("duration", e.Duration),
		)
	case DownloadFailed:
		h.logger.Warn("download failed",
			zap.String("download_id", e.ID),
			zap.String("url", e.Descriptor.URL),
			zap.Error(e.Err),
		)
	case DownloadPaused:
		h.logger.Info("download paused",
			zap.String("download_id", e.ID),
			zap.Float64("progress", e.Descriptor.Progress()),
		)
	case DownloadResumed:
		h.logger.Info("download resumed",
			zap.String("download_id", e.ID),
			zap.Int64("received_bytes", e.Descriptor.ReceivedBytes),
		)
	case DownloadCancelled:
		h.logger.Info("download cancelled", zap.String("download_id", e.ID))
	default:
		h.logger.Debug("domain event",
			zap.String("event", event.EventName()),
			zap.Time("occurred_at", event.OccurredAt()),
		)
	}
	return nil
}

// HandledEvents returns the events this handler handles
func (h *LoggingHandler) HandledEvents() []string {
	return []string{NameAllEvents}
}

// MetricsHandler collects counters from events
type MetricsHandler struct {
	mu sync.Mutex

	downloadsQueued    int64
	downloadsCompleted int64
	downloadsFailed    int64
	downloadsCancelled int64
	bytesDownloaded    int64
}

// NewMetricsHandler creates a new MetricsHandler
func NewMetricsHandler() *MetricsHandler {
	return &MetricsHandler{}
}

// Handle updates metrics based on the event
func (h *MetricsHandler) Handle(event DomainEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch e := event.(type) {
	case DownloadQueued:
		h.downloadsQueued++
	case DownloadCompleted:
		h.downloadsCompleted++
		h.bytesDownloaded += e.Descriptor.ReceivedBytes
	case DownloadFailed:
		h.downloadsFailed++
	case DownloadCancelled:
		h.downloadsCancelled++
	}
	return nil
}

// HandledEvents returns the events this handler handles
func (h *MetricsHandler) HandledEvents() []string {
	return []string{
		NameQueued,
		NameCompleted,
		NameFailed,
		NameCancelled,
	}
}

// GetMetrics returns current metrics
func (h *MetricsHandler) GetMetrics() map[string]int64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	return map[string]int64{
		"downloads_queued":    h.downloadsQueued,
		"downloads_completed": h.downloadsCompleted,
		"downloads_failed":    h.downloadsFailed,
		"downloads_cancelled": h.downloadsCancelled,
		"bytes_downloaded":    h.bytesDownloaded,
	}
}
