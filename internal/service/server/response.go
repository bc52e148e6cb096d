package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/dustin/go-humanize"
	"github.com/vertextoedge/segfetch/internal/domain"
)

type errorResponse struct {
	Error string `json:"error"`
}

// downloadView adds derived fields to a descriptor for API clients
type downloadView struct {
	*domain.Descriptor
	Progress  float64 `json:"progress"`
	SizeHuman string  `json:"size_human,omitempty"`
	RateHuman string  `json:"speed_human,omitempty"`
}

func newDownloadView(d *domain.Descriptor) downloadView {
	v := downloadView{Descriptor: d, Progress: d.Progress()}
	if d.TotalBytes > 0 {
		v.SizeHuman = humanize.IBytes(uint64(d.TotalBytes))
	}
	if d.Speed > 0 {
		v.RateHuman = humanize.IBytes(uint64(d.Speed)) + "/s"
	}
	return v
}

func newDownloadViews(list []*domain.Descriptor) []downloadView {
	out := make([]downloadView, len(list))
	for i, d := range list {
		out[i] = newDownloadView(d)
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), errorResponse{Error: err.Error()})
}

// statusFor maps domain errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidInput), errors.Is(err, domain.ErrUnsupportedScheme):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrAlreadyExists), errors.Is(err, domain.ErrInvalidStateTransition):
		return http.StatusConflict
	case errors.Is(err, domain.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// decodeBody reads a JSON request body into v
func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20)).Decode(v); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	return nil
}
