package httpclient

import (
	"context"
	"crypto/tls"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultUserAgent is sent when no user agent is configured
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Config contains transfer client configuration
type Config struct {
	UserAgent          string
	Timeout            time.Duration // response header timeout, not a total transfer timeout
	InsecureSkipVerify bool
	BufferSize         int
}

// New creates an http.Client tuned for large ranged transfers.
// Redirects are never followed automatically; callers handle 3xx themselves.
func New(cfg Config) *http.Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 256 * 1024
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: cfg.InsecureSkipVerify,
		},
		// Connection pooling
		MaxIdleConns:        200,
		MaxIdleConnsPerHost: 32,
		IdleConnTimeout:     120 * time.Second,

		// Buffer sizes for high-speed transfers
		WriteBufferSize: cfg.BufferSize,
		ReadBufferSize:  cfg.BufferSize,

		ForceAttemptHTTP2: true,

		// Byte offsets must refer to the identity encoding
		DisableCompression: true,

		ResponseHeaderTimeout: cfg.Timeout,
		TLSHandshakeTimeout:   cfg.Timeout,
	}

	return &http.Client{
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// IsRedirect reports whether status is a redirect the transfer code follows
func IsRedirect(status int) bool {
	switch status {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

// ResolveLocation resolves a Location header against the URL that returned it.
// Absolute, root-relative and relative forms are accepted.
func ResolveLocation(base, location string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	ref, err := url.Parse(strings.TrimSpace(location))
	if err != nil {
		return "", err
	}
	return b.ResolveReference(ref).String(), nil
}

// NewRequest builds a GET request carrying the transfer headers
func NewRequest(ctx context.Context, rawURL, userAgent, referrer string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Accept-Encoding", "identity")
	if referrer != "" {
		req.Header.Set("Referer", referrer)
	}
	return req, nil
}
