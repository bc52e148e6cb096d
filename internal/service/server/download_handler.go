package server

import (
	"fmt"
	"net/http"

	"github.com/vertextoedge/segfetch/internal/domain"
	"github.com/vertextoedge/segfetch/internal/service/manager"
	"go.uber.org/zap"
)

// DownloadHandler handles download control requests
type DownloadHandler struct {
	ctl    Controller
	logger *zap.Logger
}

// NewDownloadHandler creates a new DownloadHandler
func NewDownloadHandler(ctl Controller, logger *zap.Logger) *DownloadHandler {
	return &DownloadHandler{
		ctl:    ctl,
		logger: logger,
	}
}

// AddRequest is the body of POST /api/downloads
type AddRequest struct {
	URL string `json:"url"`
	manager.AddOptions
}

// AddResponse is returned for an accepted download
type AddResponse struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	Path     string `json:"path"`
}

type listResponse struct {
	Queued    []downloadView `json:"queued"`
	Active    []downloadView `json:"active"`
	Paused    []downloadView `json:"paused"`
	Completed []downloadView `json:"completed"`
}

type entryResponse struct {
	downloadView
	Location domain.Location `json:"location"`
	Position int             `json:"position,omitempty"`
}

type priorityRequest struct {
	Priority string `json:"priority"`
}

// HandleList returns every download grouped by queue list
func (h *DownloadHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	all := h.ctl.GetAll()
	writeJSON(w, http.StatusOK, listResponse{
		Queued:    newDownloadViews(all.Queued),
		Active:    newDownloadViews(all.Active),
		Paused:    newDownloadViews(all.Paused),
		Completed: newDownloadViews(all.Completed),
	})
}

// HandleAdd queues a new download
func (h *DownloadHandler) HandleAdd(w http.ResponseWriter, r *http.Request) {
	var req AddRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.URL == "" {
		writeError(w, fmt.Errorf("%w: url is required", domain.ErrInvalidInput))
		return
	}

	id, err := h.ctl.Add(r.Context(), req.URL, req.AddOptions)
	if err != nil {
		h.logger.Warn("rejected download", zap.String("url", req.URL), zap.Error(err))
		writeError(w, err)
		return
	}

	resp := AddResponse{ID: id}
	if entry, ok := h.ctl.Get(id); ok {
		resp.Filename = entry.Descriptor.Filename
		resp.Path = entry.Descriptor.Path
	}
	writeJSON(w, http.StatusCreated, resp)
}

// HandleGet returns one download
func (h *DownloadHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	entry, ok := h.ctl.Get(id)
	if !ok {
		writeError(w, fmt.Errorf("%w: download %s", domain.ErrNotFound, id))
		return
	}
	writeJSON(w, http.StatusOK, entryResponse{
		downloadView: newDownloadView(entry.Descriptor),
		Location:     entry.Location,
		Position:     entry.Position,
	})
}

// HandleCancel cancels a download and removes its partial files
func (h *DownloadHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	h.action(w, r, h.ctl.Cancel)
}

// HandlePause pauses a download
func (h *DownloadHandler) HandlePause(w http.ResponseWriter, r *http.Request) {
	h.action(w, r, h.ctl.Pause)
}

// HandleResume resumes a paused or failed download
func (h *DownloadHandler) HandleResume(w http.ResponseWriter, r *http.Request) {
	h.action(w, r, h.ctl.Resume)
}

// HandleMoveUp moves a waiting download towards admission
func (h *DownloadHandler) HandleMoveUp(w http.ResponseWriter, r *http.Request) {
	h.action(w, r, h.ctl.MoveUp)
}

// HandleMoveDown moves a waiting download away from admission
func (h *DownloadHandler) HandleMoveDown(w http.ResponseWriter, r *http.Request) {
	h.action(w, r, h.ctl.MoveDown)
}

// HandlePriority changes the priority class of a download
func (h *DownloadHandler) HandlePriority(w http.ResponseWriter, r *http.Request) {
	var req priorityRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	h.action(w, r, func(id string) error {
		return h.ctl.ChangePriority(id, req.Priority)
	})
}

// HandleClearCompleted drops completed downloads from the list
func (h *DownloadHandler) HandleClearCompleted(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{"cleared": h.ctl.ClearCompleted()})
}

func (h *DownloadHandler) action(w http.ResponseWriter, r *http.Request, fn func(id string) error) {
	id := r.PathValue("id")
	if err := fn(id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
