package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/vertextoedge/segfetch/internal/domain"
	"github.com/vertextoedge/segfetch/internal/service/manager"
	"go.uber.org/zap"
)

// stubController implements Controller for testing
type stubController struct {
	downloads map[string]*domain.Descriptor
	added     []manager.AddOptions
	actions   []string
	limit     int64
	max       int
	history   []domain.HistoryEntry
}

func newStubController() *stubController {
	return &stubController{
		downloads: map[string]*domain.Descriptor{
			"d1": {ID: "d1", URL: "http://example.com/a.iso", Filename: "a.iso", TotalBytes: 2048, ReceivedBytes: 1024, Status: domain.StatusDownloading, Speed: 4096},
		},
		max: 3,
	}
}

func (c *stubController) Add(ctx context.Context, rawURL string, opts manager.AddOptions) (string, error) {
	if !strings.HasPrefix(rawURL, "http") {
		return "", fmt.Errorf("%w: %q", domain.ErrUnsupportedScheme, rawURL)
	}
	c.added = append(c.added, opts)
	c.downloads["d2"] = &domain.Descriptor{ID: "d2", URL: rawURL, Filename: "b.bin", Path: "/dl/b.bin"}
	return "d2", nil
}

func (c *stubController) act(name, id string) error {
	if _, ok := c.downloads[id]; !ok {
		return fmt.Errorf("%w: download %s", domain.ErrNotFound, id)
	}
	c.actions = append(c.actions, name+":"+id)
	return nil
}

func (c *stubController) Pause(id string) error    { return c.act("pause", id) }
func (c *stubController) Resume(id string) error   { return c.act("resume", id) }
func (c *stubController) Cancel(id string) error   { return c.act("cancel", id) }
func (c *stubController) MoveUp(id string) error   { return c.act("up", id) }
func (c *stubController) MoveDown(id string) error { return c.act("down", id) }

func (c *stubController) ChangePriority(id, level string) error {
	if _, err := domain.ParsePriority(level); err != nil {
		return err
	}
	return c.act("priority="+level, id)
}

func (c *stubController) Get(id string) (domain.QueueEntry, bool) {
	d, ok := c.downloads[id]
	if !ok {
		return domain.QueueEntry{}, false
	}
	return domain.QueueEntry{Descriptor: d, Location: domain.LocationActive}, true
}

func (c *stubController) GetAll() domain.QueueSnapshot {
	return domain.QueueSnapshot{Active: []*domain.Descriptor{c.downloads["d1"]}}
}

func (c *stubController) Stats() domain.QueueStats {
	return domain.QueueStats{Active: 1, Total: 1}
}

func (c *stubController) SetBandwidthLimit(ctx context.Context, bytesPerSec int64) error {
	if bytesPerSec < 0 {
		return domain.ErrInvalidInput
	}
	c.limit = bytesPerSec
	return nil
}

func (c *stubController) BandwidthLimit() int64 { return c.limit }

func (c *stubController) SetMaxConcurrent(ctx context.Context, n int) error {
	if n < 1 {
		return domain.ErrInvalidInput
	}
	c.max = n
	return nil
}

func (c *stubController) MaxConcurrent() int { return c.max }

func (c *stubController) History(ctx context.Context, limit int) ([]domain.HistoryEntry, error) {
	if limit < len(c.history) {
		return c.history[:limit], nil
	}
	return c.history, nil
}

func (c *stubController) ClearHistory(ctx context.Context) error {
	c.history = nil
	return nil
}

func (c *stubController) ClearCompleted() int { return 2 }

type stubPinger struct{ err error }

func (p stubPinger) Ping() error { return p.err }

type stubMetrics map[string]int64

func (m stubMetrics) GetMetrics() map[string]int64 { return m }

func newTestServer(t *testing.T, cfg *Config, ctl Controller, pinger Pinger) *httptest.Server {
	t.Helper()
	metrics := stubMetrics{"downloads_completed": 4}
	srv := httptest.NewServer(New(cfg, ctl, pinger, metrics, zap.NewNop()).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, nil, newStubController(), stubPinger{})
	if resp := do(t, http.MethodGet, srv.URL+"/health", ""); resp.StatusCode != http.StatusOK {
		t.Errorf("GET /health = %d, want 200", resp.StatusCode)
	}

	down := newTestServer(t, nil, newStubController(), stubPinger{err: errors.New("disk I/O error")})
	if resp := do(t, http.MethodGet, down.URL+"/health", ""); resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("GET /health with failing store = %d, want 503", resp.StatusCode)
	}
}

func TestAddDownload(t *testing.T) {
	ctl := newStubController()
	srv := newTestServer(t, nil, ctl, nil)

	resp := do(t, http.MethodPost, srv.URL+"/api/downloads",
		`{"url":"https://example.com/b.bin","filename":"b.bin","priority":"high","referrer":"https://example.com/"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("POST /api/downloads = %d, want 201", resp.StatusCode)
	}

	var got AddResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != "d2" || got.Path != "/dl/b.bin" {
		t.Errorf("response = %+v", got)
	}
	if len(ctl.added) != 1 || ctl.added[0].Priority != "high" || ctl.added[0].Referrer != "https://example.com/" {
		t.Errorf("options not forwarded: %+v", ctl.added)
	}
}

func TestAddDownload_Errors(t *testing.T) {
	srv := newTestServer(t, nil, newStubController(), nil)

	tests := []struct {
		name string
		body string
		want int
	}{
		{name: "malformed json", body: `{"url":`, want: http.StatusBadRequest},
		{name: "missing url", body: `{}`, want: http.StatusBadRequest},
		{name: "unsupported scheme", body: `{"url":"ftp://example.com/a"}`, want: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := do(t, http.MethodPost, srv.URL+"/api/downloads", tt.body)
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestListAndGet(t *testing.T) {
	srv := newTestServer(t, nil, newStubController(), nil)

	resp := do(t, http.MethodGet, srv.URL+"/api/downloads", "")
	var list struct {
		Active []map[string]any `json:"active"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list.Active) != 1 {
		t.Fatalf("active = %d entries, want 1", len(list.Active))
	}
	if list.Active[0]["id"] != "d1" || list.Active[0]["progress"] != 50.0 {
		t.Errorf("active[0] = %v", list.Active[0])
	}
	if list.Active[0]["speed_human"] != "4.0 KiB/s" {
		t.Errorf("speed_human = %v", list.Active[0]["speed_human"])
	}

	resp = do(t, http.MethodGet, srv.URL+"/api/downloads/d1", "")
	var entry map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&entry); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if entry["location"] != "active" || entry["url"] != "http://example.com/a.iso" {
		t.Errorf("entry = %v", entry)
	}

	if resp := do(t, http.MethodGet, srv.URL+"/api/downloads/missing", ""); resp.StatusCode != http.StatusNotFound {
		t.Errorf("GET missing = %d, want 404", resp.StatusCode)
	}
}

func TestActions(t *testing.T) {
	ctl := newStubController()
	srv := newTestServer(t, nil, ctl, nil)

	tests := []struct {
		method string
		path   string
		body   string
		want   int
	}{
		{http.MethodPost, "/api/downloads/d1/pause", "", http.StatusNoContent},
		{http.MethodPost, "/api/downloads/d1/resume", "", http.StatusNoContent},
		{http.MethodPost, "/api/downloads/d1/move-up", "", http.StatusNoContent},
		{http.MethodPost, "/api/downloads/d1/move-down", "", http.StatusNoContent},
		{http.MethodPut, "/api/downloads/d1/priority", `{"priority":"low"}`, http.StatusNoContent},
		{http.MethodPut, "/api/downloads/d1/priority", `{"priority":"asap"}`, http.StatusBadRequest},
		{http.MethodDelete, "/api/downloads/d1", "", http.StatusNoContent},
		{http.MethodPost, "/api/downloads/nope/pause", "", http.StatusNotFound},
		{http.MethodGet, "/api/downloads/d1/pause", "", http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		resp := do(t, tt.method, srv.URL+tt.path, tt.body)
		if resp.StatusCode != tt.want {
			t.Errorf("%s %s = %d, want %d", tt.method, tt.path, resp.StatusCode, tt.want)
		}
	}

	want := []string{"pause:d1", "resume:d1", "up:d1", "down:d1", "priority=low:d1", "cancel:d1"}
	if strings.Join(ctl.actions, ",") != strings.Join(want, ",") {
		t.Errorf("actions = %v, want %v", ctl.actions, want)
	}
}

func TestSettings(t *testing.T) {
	ctl := newStubController()
	srv := newTestServer(t, nil, ctl, nil)

	resp := do(t, http.MethodPut, srv.URL+"/api/settings", `{"bandwidth_limit":1048576,"max_concurrent":5}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("PUT /api/settings = %d, want 200", resp.StatusCode)
	}
	if ctl.limit != 1048576 || ctl.max != 5 {
		t.Errorf("limit = %d, max = %d", ctl.limit, ctl.max)
	}

	// omitted fields are left alone
	do(t, http.MethodPut, srv.URL+"/api/settings", `{"bandwidth_limit":0}`)
	if ctl.limit != 0 || ctl.max != 5 {
		t.Errorf("limit = %d, max = %d", ctl.limit, ctl.max)
	}

	if resp := do(t, http.MethodPut, srv.URL+"/api/settings", `{"max_concurrent":0}`); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("invalid max_concurrent = %d, want 400", resp.StatusCode)
	}

	resp = do(t, http.MethodGet, srv.URL+"/api/settings", "")
	var got Settings
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.MaxConcurrent == nil || *got.MaxConcurrent != 5 {
		t.Errorf("settings = %+v", got)
	}
}

func TestHistory(t *testing.T) {
	ctl := newStubController()
	ctl.history = []domain.HistoryEntry{{ID: "h2"}, {ID: "h1"}}
	srv := newTestServer(t, nil, ctl, nil)

	resp := do(t, http.MethodGet, srv.URL+"/api/history?limit=1", "")
	var got []domain.HistoryEntry
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 1 || got[0].ID != "h2" {
		t.Errorf("history = %+v", got)
	}

	if resp := do(t, http.MethodGet, srv.URL+"/api/history?limit=zero", ""); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad limit = %d, want 400", resp.StatusCode)
	}
	if resp := do(t, http.MethodDelete, srv.URL+"/api/history", ""); resp.StatusCode != http.StatusNoContent {
		t.Errorf("DELETE /api/history = %d, want 204", resp.StatusCode)
	}
	if ctl.history != nil {
		t.Error("history not cleared")
	}
}

func TestBasicAuth(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AdminUsername = "admin"
	cfg.AdminPassword = "secret"
	srv := newTestServer(t, cfg, newStubController(), nil)

	if resp := do(t, http.MethodGet, srv.URL+"/api/stats", ""); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("no credentials = %d, want 401", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/stats", nil)
	req.SetBasicAuth("admin", "wrong")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("wrong password = %d, want 401", resp.StatusCode)
	}

	req.SetBasicAuth("admin", "secret")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("valid credentials = %d, want 200", resp.StatusCode)
	}

	// health stays open
	if resp := do(t, http.MethodGet, srv.URL+"/health", ""); resp.StatusCode != http.StatusOK {
		t.Errorf("GET /health = %d, want 200", resp.StatusCode)
	}
}

func TestDebugEvents(t *testing.T) {
	srv := newTestServer(t, nil, newStubController(), nil)

	resp := do(t, http.MethodGet, srv.URL+"/debug/events", "")
	var got map[string]int64
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["downloads_completed"] != 4 {
		t.Errorf("metrics = %v", got)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("wrap: %w", domain.ErrNotFound), http.StatusNotFound},
		{domain.ErrUnsupportedScheme, http.StatusBadRequest},
		{domain.ErrInvalidStateTransition, http.StatusConflict},
		{domain.ErrClosed, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
