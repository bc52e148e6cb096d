package httpclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestResolveLocation(t *testing.T) {
	tests := []struct {
		name     string
		base     string
		location string
		want     string
	}{
		{"absolute", "http://a.example/x/y", "https://b.example/z", "https://b.example/z"},
		{"root relative", "http://a.example/x/y?q=1", "/files/z.bin", "http://a.example/files/z.bin"},
		{"relative", "http://a.example/x/y", "z.bin", "http://a.example/x/z.bin"},
		{"dot relative", "http://a.example/x/y/w", "../z", "http://a.example/x/z"},
		{"scheme relative", "https://a.example/x", "//cdn.example/f", "https://cdn.example/f"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveLocation(tt.base, tt.location)
			if err != nil {
				t.Fatalf("ResolveLocation() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("ResolveLocation() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestIsRedirect(t *testing.T) {
	for _, code := range []int{301, 302, 303, 307, 308} {
		if !IsRedirect(code) {
			t.Errorf("IsRedirect(%d) = false", code)
		}
	}
	for _, code := range []int{200, 206, 304, 404} {
		if IsRedirect(code) {
			t.Errorf("IsRedirect(%d) = true", code)
		}
	}
}

func TestNew_DoesNotFollowRedirects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Accept-Encoding"); got != "identity" {
			t.Errorf("Accept-Encoding = %q, want identity", got)
		}
		http.Redirect(w, r, "/elsewhere", http.StatusFound)
	}))
	defer srv.Close()

	req, err := NewRequest(context.Background(), srv.URL, "", "http://ref.example/")
	if err != nil {
		t.Fatal(err)
	}
	resp, err := New(Config{}).Do(req)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusFound {
		t.Errorf("StatusCode = %d, want 302", resp.StatusCode)
	}
}
