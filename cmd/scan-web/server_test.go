package main

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	tmpDir := t.TempDir()
	scanFile := filepath.Join(tmpDir, "line.yaml")
	if err := os.WriteFile(scanFile, []byte(`
name: line
scan:
  - {type: step, name: x, start: 0, stop: 2, step: 1}
devices:
  - {name: x, kind: motor}
  - {name: det, kind: detector}
`), 0644); err != nil {
		t.Fatal(err)
	}

	srv, err := NewServer(ServerConfig{
		Port:    0,
		ScanDir: tmpDir,
		DBPath:  ":memory:",
		Version: "1.0.0-test",
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	t.Cleanup(func() { srv.Close() })
	return srv
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	w := httptest.NewRecorder()
	srv.mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if resp["status"] != "ok" {
		t.Errorf("Expected status 'ok', got %q", resp["status"])
	}
	if resp["version"] != "1.0.0-test" {
		t.Errorf("Expected version '1.0.0-test', got %q", resp["version"])
	}
}

func TestHealthEndpointMethodNotAllowed(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/health", nil)
	w := httptest.NewRecorder()
	srv.mux.ServeHTTP(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected status 405, got %d", w.Code)
	}
}

func TestInfoEndpoint(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/runs", strings.NewReader(`{"scan": "line"}`))
	w := httptest.NewRecorder()
	srv.mux.ServeHTTP(w, req)
	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected status 202, got %d: %s", w.Code, w.Body.String())
	}
	srv.runsAPI.Wait()

	req = httptest.NewRequest(http.MethodGet, "/api/v1/info", nil)
	w = httptest.NewRecorder()
	srv.mux.ServeHTTP(w, req)

	var resp map[string]int
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if resp["scan_count"] != 1 {
		t.Errorf("Expected scan_count 1, got %d", resp["scan_count"])
	}
	if resp["run_count"] != 1 {
		t.Errorf("Expected run_count 1, got %d", resp["run_count"])
	}
}

func TestScanRoutes(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		path        string
		wantStatus  int
		wantContain string
	}{
		{"/api/v1/scans", http.StatusOK, `"total":1`},
		{"/api/v1/scans/line", http.StatusOK, `"shape":[3]`},
		{"/api/v1/scans/line/yaml", http.StatusOK, "type: step"},
		{"/api/v1/scans/other", http.StatusNotFound, "Scan not found"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			w := httptest.NewRecorder()
			srv.mux.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("Expected status %d, got %d", tt.wantStatus, w.Code)
			}
			if !strings.Contains(w.Body.String(), tt.wantContain) {
				t.Errorf("Response body should contain %q, got %s", tt.wantContain, w.Body.String())
			}
		})
	}
}

func TestStaticFileRouting(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		path        string
		wantType    string
		wantContain string
	}{
		{"/", "text/html", "<!DOCTYPE html>"},
		{"/style.css", "text/css", "log-container"},
		{"/app.js", "application/javascript", "EventSource"},
		{"/runs/anything", "text/html", "<!DOCTYPE html>"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			w := httptest.NewRecorder()
			srv.mux.ServeHTTP(w, req)

			if w.Code != http.StatusOK {
				t.Errorf("Expected status 200, got %d", w.Code)
			}
			if !strings.HasPrefix(w.Header().Get("Content-Type"), tt.wantType) {
				t.Errorf("Expected content type %q, got %q", tt.wantType, w.Header().Get("Content-Type"))
			}
			if !strings.Contains(w.Body.String(), tt.wantContain) {
				t.Errorf("Response body should contain %q", tt.wantContain)
			}
		})
	}
}
