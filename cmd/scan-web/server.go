package main

import (
	"cmp"
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/opengda/scanning-go/cmd/scan-web/api"
)

//go:embed static/*
var staticFiles embed.FS

// ServerConfig holds configuration for the HTTP server.
type ServerConfig struct {
	Port    int
	ScanDir string
	DBPath  string
	Version string
	Logger  *slog.Logger
}

// Server is the HTTP server of the scan frontend.
type Server struct {
	config  ServerConfig
	mux     *http.ServeMux
	server  *http.Server
	store   *api.Store
	scanAPI *api.ScansAPI
	runsAPI *api.RunsAPI
	static  fs.FS
}

// NewServer creates a new server with the given configuration.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	store, err := api.NewStore(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	static, err := fs.Sub(staticFiles, "static")
	if err != nil {
		store.Close()
		return nil, err
	}

	scanAPI := api.NewScansAPI(cfg.ScanDir, cfg.Logger)
	s := &Server{
		config:  cfg,
		mux:     http.NewServeMux(),
		store:   store,
		scanAPI: scanAPI,
		runsAPI: api.NewRunsAPI(store, scanAPI, cfg.Logger),
		static:  static,
	}
	s.registerRoutes()

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/api/v1/health", getOnly(s.handleHealth))
	s.mux.HandleFunc("/api/v1/info", getOnly(s.handleInfo))

	s.mux.HandleFunc("/api/v1/scans", s.scanAPI.HandleList)
	s.mux.HandleFunc("/api/v1/scans/", s.scanAPI.HandleGet)

	s.mux.HandleFunc("/api/v1/runs", s.runsAPI.HandleRuns)
	s.mux.HandleFunc("/api/v1/runs/", s.runsAPI.HandleRunByID)

	s.mux.HandleFunc("/", getOnly(s.handleStatic))
}

func getOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	version := cmp.Or(s.config.Version, "dev")
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": version})
}

// handleInfo reports how many scan files and recorded runs there are.
func (s *Server) handleInfo(w http.ResponseWriter, _ *http.Request) {
	scans, _ := s.scanAPI.Count()
	runs, _ := s.store.CountRuns()
	writeJSON(w, http.StatusOK, map[string]int{"scan_count": scans, "run_count": runs})
}

var contentTypes = map[string]string{
	".html": "text/html; charset=utf-8",
	".css":  "text/css; charset=utf-8",
	".js":   "application/javascript; charset=utf-8",
}

// handleStatic serves the single page UI. Unknown paths get index.html so
// that the page can route them.
func (s *Server) handleStatic(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/")
	if _, err := fs.Stat(s.static, name); name == "" || err != nil {
		name = "index.html"
	}
	if ct, ok := contentTypes[path.Ext(name)]; ok {
		w.Header().Set("Content-Type", ct)
	}
	http.ServeFileFS(w, r, s.static, name)
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() { errc <- s.server.ListenAndServe() }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}

// Close aborts active runs and closes the store.
func (s *Server) Close() error {
	s.runsAPI.Close()
	if s.store != nil {
		return s.store.Close()
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
