// Command scan-web provides an HTTP frontend for running scans.
//
// It offers:
//   - REST API listing the scan files in a directory and starting runs
//   - Pause, resume, seek and abort of active runs
//   - Server-Sent Events with the state changes and progress of a run
//   - SQLite persistence for run history
//
// Scan files with a remote section run on that controller; the others run
// in process against their simulated devices.
//
// Usage:
//
//	scan-web [flags]
//
// Flags:
//
//	-port int          HTTP server port (default 8080)
//	-scans string      Scan file directory (default "./scans")
//	-db string         SQLite database path (default "./scan-web.db")
//	-log-level string  Log level: debug, info, warn, error (default "info")
//
// Examples:
//
//	# Start the web server on default port
//	scan-web
//
//	# Use an in-memory database
//	scan-web -db :memory: -scans ./beamline
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/opengda/scanning-go/pkg/config"
)

// Version information - set at build time via ldflags
var (
	Version   = "0.1.0"
	BuildDate = "dev"
	GitCommit = "unknown"
)

var (
	port        = flag.Int("port", 8080, "HTTP server port")
	scanDir     = flag.String("scans", "./scans", "Scan file directory")
	dbPath      = flag.String("db", "./scan-web.db", "SQLite database path")
	logLevel    = flag.String("log-level", "info", "Log level: debug, info, warn, error")
	showVersion = flag.Bool("version", false, "Show version information")
)

func main() {
	os.Exit(run())
}

func run() int {
	flag.Parse()

	if *showVersion {
		fmt.Printf("scan-web %s (built %s, commit %s)\n", Version, BuildDate, GitCommit)
		return 0
	}

	if info, err := os.Stat(*scanDir); err != nil || !info.IsDir() {
		fmt.Fprintf(os.Stderr, "Error: scan directory %q does not exist or is not a directory\n", *scanDir)
		return 1
	}

	logger := config.NewLogger(config.LoggingConfig{Level: *logLevel, Format: "text"})
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv, err := NewServer(ServerConfig{
		Port:    *port,
		ScanDir: *scanDir,
		DBPath:  *dbPath,
		Version: Version,
		Logger:  logger,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to create server: %v\n", err)
		return 1
	}
	defer srv.Close()

	logger.Info("starting scan-web", "url", fmt.Sprintf("http://localhost:%d", *port), "scans", *scanDir, "db", *dbPath)

	if err := srv.ListenAndServe(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		fmt.Fprintf(os.Stderr, "Error: server failed: %v\n", err)
		return 1
	}
	return 0
}
