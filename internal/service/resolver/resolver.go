package resolver

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/vertextoedge/segfetch/internal/adapter/httpclient"
	"github.com/vertextoedge/segfetch/internal/domain"
	"go.uber.org/zap"
)

// drainLimit bounds how much of a probe body is read before closing
const drainLimit = 64 * 1024

var contentRangeTotal = regexp.MustCompile(`/(\d+)\s*$`)

// Config contains resolver configuration
type Config struct {
	UserAgent    string
	MaxRedirects int
}

// DefaultConfig returns default resolver configuration
func DefaultConfig() *Config {
	return &Config{
		UserAgent:    httpclient.DefaultUserAgent,
		MaxRedirects: domain.MaxRedirects,
	}
}

// Resolver learns size, type, name and range support of a remote resource
type Resolver struct {
	config *Config
	client *http.Client
	logger *zap.Logger
}

// New creates a new Resolver. The client must not follow redirects.
func New(cfg *Config, client *http.Client, logger *zap.Logger) *Resolver {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.MaxRedirects <= 0 {
		cfg.MaxRedirects = domain.MaxRedirects
	}
	if client == nil {
		client = httpclient.New(httpclient.Config{UserAgent: cfg.UserAgent})
	}
	return &Resolver{
		config: cfg,
		client: client,
		logger: logger,
	}
}

// Resolve probes rawURL with a one-byte range request, following redirects manually.
// Every failure is returned as a *domain.ResolutionError.
func (r *Resolver) Resolve(ctx context.Context, rawURL string) (*domain.FileInfo, error) {
	info, err := r.resolve(ctx, rawURL)
	if err != nil {
		return nil, &domain.ResolutionError{URL: rawURL, Err: err}
	}
	return info, nil
}

func (r *Resolver) resolve(ctx context.Context, rawURL string) (*domain.FileInfo, error) {
	current := rawURL
	var redirectName string

	for hops := 0; ; hops++ {
		resp, err := r.probe(ctx, current)
		if err != nil {
			return nil, err
		}

		if httpclient.IsRedirect(resp.StatusCode) {
			location := resp.Header.Get("Location")
			if name := FilenameFromDisposition(resp.Header.Get("Content-Disposition")); name != "" {
				redirectName = name
			}
			closeBody(resp)

			if location == "" {
				return nil, &domain.ProtocolError{StatusCode: resp.StatusCode, Message: "redirect without Location"}
			}
			if hops >= r.config.MaxRedirects {
				return nil, &domain.RedirectLoopError{URL: rawURL, Hops: hops}
			}
			next, err := httpclient.ResolveLocation(current, location)
			if err != nil {
				return nil, fmt.Errorf("invalid redirect location %q: %w", location, err)
			}
			r.logger.Debug("following redirect",
				zap.String("from", current),
				zap.String("to", next),
				zap.Int("hop", hops+1))
			current = next
			continue
		}

		closeBody(resp)
		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
			return nil, domain.NewProtocolError(resp.StatusCode)
		}
		return r.fileInfo(resp, current, redirectName), nil
	}
}

func (r *Resolver) probe(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := httpclient.NewRequest(ctx, rawURL, r.config.UserAgent, "")
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	req.Header.Set("Range", "bytes=0-0")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, &domain.TransportError{Op: "probe", Err: err}
	}
	return resp, nil
}

func (r *Resolver) fileInfo(resp *http.Response, finalURL, redirectName string) *domain.FileInfo {
	info := &domain.FileInfo{
		FinalURL:      finalURL,
		StatusCode:    resp.StatusCode,
		ContentType:   resp.Header.Get("Content-Type"),
		LastModified:  resp.Header.Get("Last-Modified"),
		AcceptsRanges: resp.StatusCode == http.StatusPartialContent || strings.EqualFold(resp.Header.Get("Accept-Ranges"), "bytes"),
	}

	if resp.StatusCode == http.StatusPartialContent {
		info.TotalBytes = ParseContentRangeTotal(resp.Header.Get("Content-Range"))
	} else if resp.ContentLength > 0 {
		info.TotalBytes = resp.ContentLength
	}

	info.Filename = FilenameFromDisposition(resp.Header.Get("Content-Disposition"))
	if info.Filename == "" {
		info.Filename = redirectName
	}
	if info.Filename == "" {
		info.Filename = FilenameFromURL(finalURL)
	}
	if info.Filename == "" {
		info.Filename = DefaultFilename
	}
	return info
}

// ParseContentRangeTotal returns N from "bytes a-b/N", or 0 when unknown
func ParseContentRangeTotal(header string) int64 {
	m := contentRangeTotal.FindStringSubmatch(header)
	if m == nil {
		return 0
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func closeBody(resp *http.Response) {
	io.Copy(io.Discard, io.LimitReader(resp.Body, drainLimit))
	resp.Body.Close()
}
