package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "debug", want: "debug"},
		{in: "info", want: "info"},
		{in: "", want: "info"},
		{in: "warn", want: "warn"},
		{in: "error", want: "error"},
		{in: "verbose", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !tt.wantErr && got.String() != tt.want {
				t.Errorf("parseLevel(%q) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}

func TestNew_WritesToOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "segfetch.log")
	l, err := New(Options{Level: "info", Format: "json", Output: path})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	l.Info("download started")
	l.Debug("hidden")
	l.Sync()

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	out := string(b)
	if !strings.Contains(out, `"msg":"download started"`) {
		t.Errorf("log output missing message: %s", out)
	}
	if strings.Contains(out, "hidden") {
		t.Errorf("debug entry written at info level: %s", out)
	}
}

func TestGetZapLogger_BeforeInit(t *testing.T) {
	if GetZapLogger() == nil {
		t.Fatal("GetZapLogger() = nil before Init")
	}
	Component("engine").Info("no-op")
}
