// Command scan-run runs a scan described by a scan file.
//
// Without a remote section the scan runs in process against the simulated
// devices the file declares. With one, the scan is configured and run on a
// remote controller (see scan-server) and followed across reconnects.
//
// Usage:
//
//	scan-run [flags] <scan.yaml>
//
// Flags:
//
//	-resume             Continue from the checkpoint of an interrupted run
//	-interactive        Read pause, resume, seek and abort from the terminal
//	-protocol-log string  Write a CBOR protocol trace to this file
//	-log-level string   Overrides the scan file's log level
//
// Examples:
//
//	# Run locally
//	scan-run grid.yaml
//
//	# Run on the controller named in the file, with a console
//	SCAN_REMOTE_ADDRESS=beamline:8008 scan-run -interactive grid.yaml
//
//	# Pick up where an aborted run stopped
//	scan-run -resume grid.yaml
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"github.com/opengda/scanning-go/cmd/scan-run/console"
	"github.com/opengda/scanning-go/internal/scanrun"
	"github.com/opengda/scanning-go/pkg/config"
	"github.com/opengda/scanning-go/pkg/device"
	"github.com/opengda/scanning-go/pkg/log"
	"github.com/opengda/scanning-go/pkg/persistence"
)

// Config holds the command line flags.
type Config struct {
	ScanFile    string
	Resume      bool
	Interactive bool
	ProtocolLog string
	LogLevel    string
}

var cfg Config

func init() {
	flag.BoolVar(&cfg.Resume, "resume", false, "Continue from the checkpoint of an interrupted run")
	flag.BoolVar(&cfg.Interactive, "interactive", false, "Read pause, resume, seek and abort from the terminal")
	flag.StringVar(&cfg.ProtocolLog, "protocol-log", "", "Write a CBOR protocol trace to this file")
	flag.StringVar(&cfg.LogLevel, "log-level", "", "Log level: debug, info, warn, error")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] <scan.yaml>\n\nFlags:\n", os.Args[0])
		flag.PrintDefaults()
	}
}

func main() {
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	cfg.ScanFile = flag.Arg(0)

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "scan-run: %v\n", err)
		if errors.Is(err, device.ErrAborted) {
			os.Exit(3)
		}
		os.Exit(1)
	}
}

func run() error {
	file, err := config.Load(cfg.ScanFile)
	if err != nil {
		return err
	}
	if cfg.LogLevel != "" {
		file.Logging.Level = cfg.LogLevel
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var con *console.Console
	var out io.Writer = os.Stdout
	if cfg.Interactive {
		if con, err = console.New(); err != nil {
			return err
		}
		out = con.Stdout()
	}
	logger := newLogger(file.Logging, con)
	slog.SetDefault(logger)

	trace, closeTrace, err := file.Logging.OpenTrace(cfg.ProtocolLog, logger)
	if err != nil {
		return err
	}
	defer closeTrace()

	runID := uuid.NewString()
	if trace != nil {
		trace = log.WithScanID(trace, runID)
	}
	start := 0
	var store *persistence.CheckpointStore
	if file.Checkpoint != "" {
		store = persistence.NewCheckpointStore(file.Checkpoint)
		if start, err = resumePoint(store, file.Name); err != nil {
			return err
		}
	} else if cfg.Resume {
		return errors.New("-resume needs a checkpoint path in the scan file")
	}
	logger = logger.With("scan", file.Name, "run", runID)

	r, err := scanrun.New(ctx, file, trace, logger)
	if err != nil {
		return err
	}
	defer r.Close()

	if store != nil {
		total := r.TotalSteps()
		r.Track(func(t persistence.Tracked) {
			store.Track(t, persistence.Checkpoint{Scan: file.Name, RunID: runID, TotalSteps: total}, logger)
		})
	}

	if con != nil {
		runCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go con.Run(runCtx, r, cancel)
		ctx = runCtx
	}

	logger.Info("scan starting", "from", start)
	err = r.Run(ctx, start)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "scan %s complete: %d steps\n", file.Name, r.CompletedSteps())
	if store != nil {
		if err := store.Clear(); err != nil {
			logger.Warn("clearing checkpoint failed", "error", err)
		}
	}
	return nil
}

// resumePoint returns the step to start from. Without -resume an existing
// checkpoint is only reported.
func resumePoint(store *persistence.CheckpointStore, scan string) (int, error) {
	cp, err := store.Load()
	if err != nil {
		return 0, err
	}
	if !cp.Resumable() {
		if cfg.Resume {
			return 0, fmt.Errorf("no interrupted run to resume in %s", store.Path())
		}
		return 0, nil
	}
	if cp.Scan != scan {
		return 0, fmt.Errorf("checkpoint %s belongs to scan %q", store.Path(), cp.Scan)
	}
	if !cfg.Resume {
		slog.Warn("an interrupted run was found; pass -resume to continue it",
			"completed", cp.CompletedSteps, "total", cp.TotalSteps, "state", cp.State)
		return 0, nil
	}
	return cp.CompletedSteps, nil
}

// newLogger writes to the console when there is one so that log lines do
// not tear the prompt.
func newLogger(lc config.LoggingConfig, con *console.Console) *slog.Logger {
	if con == nil {
		return config.NewLogger(lc)
	}
	return slog.New(slog.NewTextHandler(con.Stderr(), &slog.HandlerOptions{Level: config.ParseLevel(lc.Level)}))
}
