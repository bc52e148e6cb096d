package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"
)

// Message types understood by the host
const (
	TypeDownload = "download"
	TypePing     = "ping"
	TypeOpen     = "open"
)

// placeholderFilename is what extensions send when they know no name
const placeholderFilename = "download"

// Message is an incoming native message
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// DownloadRequest is the payload of a download message
type DownloadRequest struct {
	URL        string `json:"url"`
	Filename   string `json:"filename,omitempty"`
	Referrer   string `json:"referrer,omitempty"`
	MIME       string `json:"mime,omitempty"`
	TotalBytes int64  `json:"totalBytes,omitempty"`
}

// Response is written back for every message
type Response struct {
	Success       bool   `json:"success"`
	Message       string `json:"message,omitempty"`
	Error         string `json:"error,omitempty"`
	Filename      string `json:"filename,omitempty"`
	ID            string `json:"id,omitempty"`
	ServerRunning *bool  `json:"serverRunning,omitempty"`
}

// Submitter forwards downloads to the control API
type Submitter interface {
	Ping(ctx context.Context) error
	Submit(ctx context.Context, req DownloadRequest) (*Submission, error)
}

// Host serves the native messaging protocol on a reader/writer pair,
// normally the process's stdin and stdout.
type Host struct {
	submitter Submitter
	logger    *zap.Logger
}

// NewHost creates a Host
func NewHost(submitter Submitter, logger *zap.Logger) *Host {
	return &Host{
		submitter: submitter,
		logger:    logger,
	}
}

// Serve answers messages from r on w until r is exhausted or ctx is done
func (h *Host) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	var dec Decoder
	buf := make([]byte, 32*1024)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, readErr := r.Read(buf)
		if n > 0 {
			frames, err := dec.Feed(buf[:n])
			for _, frame := range frames {
				if err := WriteFrame(w, h.Handle(ctx, frame)); err != nil {
					return err
				}
			}
			if err != nil {
				h.logger.Warn("discarded input", zap.Error(err))
			}
		}

		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return nil
			}
			return fmt.Errorf("failed to read input: %w", readErr)
		}
	}
}

// Handle decodes one frame and produces its response
func (h *Host) Handle(ctx context.Context, frame []byte) Response {
	var msg Message
	if err := json.Unmarshal(frame, &msg); err != nil {
		h.logger.Warn("malformed message", zap.Error(err))
		return Response{Error: err.Error()}
	}
	h.logger.Debug("received message", zap.String("type", msg.Type))

	switch msg.Type {
	case TypePing:
		running := h.submitter.Ping(ctx) == nil
		return Response{Success: true, Message: "pong", ServerRunning: &running}
	case TypeOpen:
		if err := h.submitter.Ping(ctx); err != nil {
			return Response{Error: err.Error()}
		}
		return Response{Success: true, Message: "segfetch is running"}
	case TypeDownload:
		return h.download(ctx, msg.Data)
	default:
		t := msg.Type
		if t == "" {
			t = "undefined"
		}
		return Response{Error: "Unknown message type: " + t}
	}
}

func (h *Host) download(ctx context.Context, data json.RawMessage) Response {
	var req DownloadRequest
	if len(data) == 0 {
		return Response{Error: "download message without data"}
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return Response{Error: err.Error()}
	}
	if req.URL == "" {
		return Response{Error: "download message without url"}
	}
	if req.Filename == placeholderFilename {
		req.Filename = ""
	}

	sub, err := h.submitter.Submit(ctx, req)
	if err != nil {
		h.logger.Error("failed to submit download", zap.String("url", req.URL), zap.Error(err))
		return Response{Error: err.Error()}
	}

	h.logger.Info("download submitted",
		zap.String("download_id", sub.ID),
		zap.String("url", req.URL))
	return Response{
		Success:  true,
		Message:  "Download sent to segfetch",
		Filename: sub.Filename,
		ID:       sub.ID,
	}
}
