// Command scan-server exposes a scan controller to remote clients.
//
// The controller owns the simulated devices declared in a scan file and
// runs scans configured by clients over the Malcolm-style protocol.
//
// Usage:
//
//	scan-server [flags]
//
// Flags:
//
//	-config string      Scan file declaring the devices (required)
//	-name string        Controller name (default "scan")
//	-transport string   tcp, websocket or mqtt (default "tcp")
//	-listen string      Listen address, or broker URL for mqtt (default ":8008")
//	-client-id string   MQTT client id of the server (default "<name>-server")
//	-protocol-log string  Write a CBOR protocol trace to this file
//	-log-level string   Overrides the scan file's log level
//
// Examples:
//
//	# Serve the devices of grid.yaml over TCP
//	scan-server -config grid.yaml
//
//	# Serve over a broker with a protocol trace
//	scan-server -config grid.yaml -transport mqtt -listen tcp://localhost:1883 -protocol-log /tmp/scan.log
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
	"time"

	"github.com/opengda/scanning-go/pkg/config"
	"github.com/opengda/scanning-go/pkg/device"
	"github.com/opengda/scanning-go/pkg/malcolm"
	"github.com/opengda/scanning-go/pkg/transport"
)

// Config holds the server flags.
type Config struct {
	ConfigFile  string
	Name        string
	Transport   string
	Listen      string
	ClientID    string
	ProtocolLog string
	LogLevel    string
}

var cfg Config

func init() {
	flag.StringVar(&cfg.ConfigFile, "config", "", "Scan file declaring the devices")
	flag.StringVar(&cfg.Name, "name", "scan", "Controller name")
	flag.StringVar(&cfg.Transport, "transport", config.TransportTCP, "Transport: tcp, websocket, mqtt")
	flag.StringVar(&cfg.Listen, "listen", ":8008", "Listen address, or broker URL for mqtt")
	flag.StringVar(&cfg.ClientID, "client-id", "", "MQTT client id of the server")
	flag.StringVar(&cfg.ProtocolLog, "protocol-log", "", "Write a CBOR protocol trace to this file")
	flag.StringVar(&cfg.LogLevel, "log-level", "", "Log level: debug, info, warn, error")
}

func main() {
	flag.Parse()
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "scan-server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if cfg.ConfigFile == "" {
		return errors.New("-config is required")
	}
	file, err := config.Load(cfg.ConfigFile)
	if err != nil {
		return err
	}
	if cfg.LogLevel != "" {
		file.Logging.Level = cfg.LogLevel
	}
	logger := config.NewLogger(file.Logging).With("controller", cfg.Name)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	trace, closeTrace, err := file.Logging.OpenTrace(cfg.ProtocolLog, logger)
	if err != nil {
		return err
	}
	defer closeTrace()

	reg, err := file.Registry(ctx, logger)
	if err != nil {
		return err
	}
	ctrl := device.NewAcquisitionDevice(cfg.Name, reg)
	ctrl.SetLogger(logger)
	if trace != nil {
		ctrl.SetProtocolLogger(trace)
	}
	ctrl.AddStateListener(func(ev device.StateEvent) {
		if ev.Err != nil {
			logger.Warn("state changed", "from", ev.Old, "to", ev.New, "error", ev.Err)
			return
		}
		logger.Info("state changed", "from", ev.Old, "to", ev.New)
	})

	srv := malcolm.NewServer(ctrl,
		malcolm.WithModelDecoder(config.ModelDecoder(ctx, reg, logger)),
		malcolm.WithServerLogger(logger),
		malcolm.WithServerProtocolLogger(trace),
	)

	ln, shutdown, err := listen(ctx, transport.Config{Logger: trace}, logger)
	if err != nil {
		return err
	}
	logger.Info("serving", "transport", cfg.Transport, "address", ln.Addr(), "devices", reg.Names())

	err = srv.Serve(ctx, ln)
	logger.Info("shutting down")

	abortCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if ctrl.State().IsRunning() {
		if err := ctrl.Abort(abortCtx); err != nil {
			logger.Warn("aborting scan failed", "error", err)
		}
	}
	ln.Close()
	if shutdown != nil {
		shutdown(abortCtx)
	}
	srv.Wait()
	return err
}

// listen opens the configured listener. For websocket the returned
// shutdown stops the HTTP server carrying it.
func listen(ctx context.Context, tc transport.Config, logger *slog.Logger) (transport.Listener, func(context.Context), error) {
	switch cfg.Transport {
	case config.TransportTCP:
		ln, err := transport.Listen(cfg.Listen, tc)
		return ln, nil, err

	case config.TransportWebSocket:
		ln := transport.NewWSListener(cfg.Listen, tc)
		mux := http.NewServeMux()
		mux.Handle("/ws", ln)
		hs := &http.Server{Addr: cfg.Listen, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		go func() {
			if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server failed", "error", err)
				ln.Close()
			}
		}()
		return ln, func(ctx context.Context) { hs.Shutdown(ctx) }, nil

	case config.TransportMQTT:
		clientID := cfg.ClientID
		if clientID == "" {
			clientID = cfg.Name + "-server"
		}
		ln, err := transport.ListenMQTT(ctx, transport.MQTTConfig{
			Broker:   cfg.Listen,
			ClientID: clientID,
			Device:   cfg.Name,
			QoS:      transport.DefaultMQTTQoS,
		}, tc)
		return ln, nil, err
	}
	return nil, nil, fmt.Errorf("unknown transport %q", cfg.Transport)
}
