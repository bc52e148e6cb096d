package server

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/vertextoedge/segfetch/internal/domain"
	"go.uber.org/zap"
)

// defaultHistoryLimit caps GET /api/history without a limit parameter
const defaultHistoryLimit = 100

// SettingsHandler handles stats, runtime settings and history requests
type SettingsHandler struct {
	ctl    Controller
	logger *zap.Logger
}

// NewSettingsHandler creates a new SettingsHandler
func NewSettingsHandler(ctl Controller, logger *zap.Logger) *SettingsHandler {
	return &SettingsHandler{
		ctl:    ctl,
		logger: logger,
	}
}

// Settings are the runtime settings adjustable over the API
type Settings struct {
	BandwidthLimit *int64 `json:"bandwidth_limit,omitempty"`
	MaxConcurrent  *int   `json:"max_concurrent,omitempty"`
}

// HandleStats returns queue counters
func (h *SettingsHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ctl.Stats())
}

// HandleGetSettings returns the current runtime settings
func (h *SettingsHandler) HandleGetSettings(w http.ResponseWriter, r *http.Request) {
	limit := h.ctl.BandwidthLimit()
	maxConcurrent := h.ctl.MaxConcurrent()
	writeJSON(w, http.StatusOK, Settings{BandwidthLimit: &limit, MaxConcurrent: &maxConcurrent})
}

// HandleUpdateSettings applies the settings present in the body
func (h *SettingsHandler) HandleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req Settings
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	if req.MaxConcurrent != nil {
		if err := h.ctl.SetMaxConcurrent(r.Context(), *req.MaxConcurrent); err != nil {
			writeError(w, err)
			return
		}
	}
	if req.BandwidthLimit != nil {
		if err := h.ctl.SetBandwidthLimit(r.Context(), *req.BandwidthLimit); err != nil {
			writeError(w, err)
			return
		}
	}

	h.logger.Info("settings updated via API")
	h.HandleGetSettings(w, r)
}

// HandleHistory returns finished downloads, newest first
func (h *SettingsHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, fmt.Errorf("%w: limit must be a positive integer", domain.ErrInvalidInput))
			return
		}
		limit = n
	}

	history, err := h.ctl.History(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to load history", zap.Error(err))
		writeError(w, err)
		return
	}
	if history == nil {
		history = []domain.HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, history)
}

// HandleClearHistory forgets every finished download
func (h *SettingsHandler) HandleClearHistory(w http.ResponseWriter, r *http.Request) {
	if err := h.ctl.ClearHistory(r.Context()); err != nil {
		h.logger.Error("failed to clear history", zap.Error(err))
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
