package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func TestIsOriginAllowed(t *testing.T) {
	allowed := map[string]struct{}{"https://faces.example": {}}

	tests := []struct {
		origin   string
		expected bool
	}{
		{"", false},
		{"http://localhost", true},
		{"http://localhost:5173", true},
		{"https://localhost:8443", true},
		{"http://localhost.evil.com", false},
		{"https://faces.example", true},
		{"https://other.example", false},
	}

	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			if got := isOriginAllowed(tt.origin, allowed); got != tt.expected {
				t.Errorf("isOriginAllowed(%q) = %v, want %v", tt.origin, got, tt.expected)
			}
		})
	}
}

func TestCORS(t *testing.T) {
	handler := CORS([]string{"https://faces.example"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs", nil)
	req.Header.Set("Origin", "https://faces.example")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusTeapot {
		t.Errorf("expected request to reach handler, got status %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "https://faces.example" {
		t.Errorf("missing allow-origin header")
	}

	preflight := httptest.NewRequest(http.MethodOptions, "/api/v1/runs", nil)
	preflight.Header.Set("Origin", "https://other.example")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, preflight)

	if rec.Code != http.StatusNoContent {
		t.Errorf("expected preflight status 204, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Errorf("unexpected allow-origin for foreign origin")
	}
}

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	orig := log.Logger
	log.Logger = zerolog.New(&buf)
	t.Cleanup(func() { log.Logger = orig })

	handler := RequestLogger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/runs/x", nil))

	line := buf.String()
	if !strings.Contains(line, `"status":404`) || !strings.Contains(line, `"path":"/api/v1/runs/x"`) {
		t.Errorf("unexpected log line %q", line)
	}
}
