package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vertextoedge/segfetch/internal/config"
	"github.com/vertextoedge/segfetch/internal/service/manager"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Downloads.Dir = t.TempDir()
	cfg.Downloads.MinSegmentSize = 64 * 1024
	cfg.Downloads.RetryAttempts = 0
	cfg.Downloads.ReserveMB = 0
	return cfg
}

func TestRunGet(t *testing.T) {
	payload := bytes.Repeat([]byte("segfetch"), 64*1024)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "data.bin", time.Time{}, bytes.NewReader(payload))
	}))
	defer srv.Close()

	cfg := testConfig(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err := runGet(ctx, cfg, []string{srv.URL + "/data.bin"}, manager.AddOptions{Filename: "copy.bin"}, true)
	require.NoError(t, err)

	got, err := os.ReadFile(filepath.Join(cfg.Downloads.Dir, "copy.bin"))
	require.NoError(t, err)
	assert.True(t, bytes.Equal(payload, got), "downloaded content differs")
}

func TestRunGet_Failures(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	cfg := testConfig(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err := runGet(ctx, cfg, []string{srv.URL + "/missing.bin", "ftp://example.com/a.bin"}, manager.AddOptions{}, true)
	require.Error(t, err)
	assert.Equal(t, "2 of 2 downloads failed", err.Error())
}
