package server

import (
	"context"
	"net/http"
	"time"

	"github.com/vertextoedge/segfetch/internal/domain"
	"github.com/vertextoedge/segfetch/internal/service/manager"
	"go.uber.org/zap"
)

// Config contains HTTP server configuration
type Config struct {
	BindAddr      string
	AdminUsername string
	AdminPassword string
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	IdleTimeout   time.Duration
}

// DefaultConfig returns default server configuration
func DefaultConfig() *Config {
	return &Config{
		BindAddr:     "127.0.0.1:6800",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// Controller is the control API exposed over HTTP
type Controller interface {
	Add(ctx context.Context, rawURL string, opts manager.AddOptions) (string, error)
	Pause(id string) error
	Resume(id string) error
	Cancel(id string) error
	ChangePriority(id, level string) error
	MoveUp(id string) error
	MoveDown(id string) error
	Get(id string) (domain.QueueEntry, bool)
	GetAll() domain.QueueSnapshot
	Stats() domain.QueueStats
	SetBandwidthLimit(ctx context.Context, bytesPerSec int64) error
	BandwidthLimit() int64
	SetMaxConcurrent(ctx context.Context, n int) error
	MaxConcurrent() int
	History(ctx context.Context, limit int) ([]domain.HistoryEntry, error)
	ClearHistory(ctx context.Context) error
	ClearCompleted() int
}

// Pinger reports backend health
type Pinger interface {
	Ping() error
}

// Metrics exposes event counters
type Metrics interface {
	GetMetrics() map[string]int64
}

// Server represents the HTTP API server
type Server struct {
	config          *Config
	pinger          Pinger
	logger          *zap.Logger
	server          *http.Server
	downloadHandler *DownloadHandler
	settingsHandler *SettingsHandler
}

// New creates a new HTTP server. pinger and metrics may be nil.
func New(cfg *Config, ctl Controller, pinger Pinger, metrics Metrics, logger *zap.Logger) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	s := &Server{
		config: cfg,
		pinger: pinger,
		logger: logger,
	}

	s.downloadHandler = NewDownloadHandler(ctl, logger)
	s.settingsHandler = NewSettingsHandler(ctl, logger)

	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("GET /health", s.handleHealth)

	auth := func(h http.HandlerFunc) http.HandlerFunc { return h }
	if cfg.AdminPassword != "" {
		auth = BasicAuthMiddleware(cfg.AdminUsername, cfg.AdminPassword, logger)
	}

	// Downloads
	mux.HandleFunc("GET /api/downloads", auth(s.downloadHandler.HandleList))
	mux.HandleFunc("POST /api/downloads", auth(s.downloadHandler.HandleAdd))
	mux.HandleFunc("GET /api/downloads/{id}", auth(s.downloadHandler.HandleGet))
	mux.HandleFunc("DELETE /api/downloads/{id}", auth(s.downloadHandler.HandleCancel))
	mux.HandleFunc("POST /api/downloads/{id}/pause", auth(s.downloadHandler.HandlePause))
	mux.HandleFunc("POST /api/downloads/{id}/resume", auth(s.downloadHandler.HandleResume))
	mux.HandleFunc("POST /api/downloads/{id}/move-up", auth(s.downloadHandler.HandleMoveUp))
	mux.HandleFunc("POST /api/downloads/{id}/move-down", auth(s.downloadHandler.HandleMoveDown))
	mux.HandleFunc("PUT /api/downloads/{id}/priority", auth(s.downloadHandler.HandlePriority))
	mux.HandleFunc("DELETE /api/completed", auth(s.downloadHandler.HandleClearCompleted))

	// Stats, settings and history
	mux.HandleFunc("GET /api/stats", auth(s.settingsHandler.HandleStats))
	mux.HandleFunc("GET /api/settings", auth(s.settingsHandler.HandleGetSettings))
	mux.HandleFunc("PUT /api/settings", auth(s.settingsHandler.HandleUpdateSettings))
	mux.HandleFunc("GET /api/history", auth(s.settingsHandler.HandleHistory))
	mux.HandleFunc("DELETE /api/history", auth(s.settingsHandler.HandleClearHistory))

	// Debug endpoints
	if metrics != nil {
		mux.HandleFunc("GET /debug/events", auth(func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, metrics.GetMetrics())
		}))
	}

	s.server = &http.Server{
		Addr:         cfg.BindAddr,
		Handler:      LoggingMiddleware(logger)(mux),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return s
}

// Handler returns the routed handler with middleware applied
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping HTTP server")
	return s.server.Shutdown(ctx)
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.pinger != nil {
		if err := s.pinger.Ping(); err != nil {
			s.logger.Error("health check failed", zap.Error(err))
			http.Error(w, "Database connection failed", http.StatusServiceUnavailable)
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}
