package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ClientConfig contains control API client configuration
type ClientConfig struct {
	ServerURL string
	Username  string
	Password  string
	Timeout   time.Duration
}

// Submission is the server's answer to an accepted download
type Submission struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	Path     string `json:"path"`
}

// Client talks to a running segfetch server
type Client struct {
	config *ClientConfig
	http   *http.Client
}

// NewClient creates a control API client
func NewClient(cfg *ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		config: cfg,
		http:   &http.Client{Timeout: timeout},
	}
}

// Ping checks that the server is up
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// Submit queues a download on the server
func (c *Client) Submit(ctx context.Context, req DownloadRequest) (*Submission, error) {
	body, err := json.Marshal(map[string]string{
		"url":      req.URL,
		"filename": req.Filename,
		"referrer": req.Referrer,
		"mime":     req.MIME,
	})
	if err != nil {
		return nil, err
	}

	resp, err := c.do(ctx, http.MethodPost, "/api/downloads", body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var sub Submission
	if err := json.NewDecoder(resp.Body).Decode(&sub); err != nil {
		return nil, fmt.Errorf("failed to decode server response: %w", err)
	}
	return &sub, nil
}

// do sends a request and turns non-2xx replies into errors
func (c *Client) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	url := strings.TrimSuffix(c.config.ServerURL, "/") + path

	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, r)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.config.Password != "" {
		req.SetBasicAuth(c.config.Username, c.config.Password)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("segfetch server unreachable: %w", err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()

	var apiErr struct {
		Error string `json:"error"`
	}
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if json.Unmarshal(b, &apiErr) != nil || apiErr.Error == "" {
		apiErr.Error = strings.TrimSpace(string(b))
	}
	return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, apiErr.Error)
}
