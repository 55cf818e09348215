package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/opengda/scanning-go/pkg/connection"
	"github.com/opengda/scanning-go/pkg/log"
	"github.com/opengda/scanning-go/pkg/malcolm"
	"github.com/opengda/scanning-go/pkg/transport"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Transports accepted in RemoteConfig.
const (
	TransportTCP       = "tcp"
	TransportWebSocket = "websocket"
	TransportMQTT      = "mqtt"
)

// File is a scan file.
type File struct {
	Scan `yaml:",inline"`

	Devices []DeviceSpec  `yaml:"devices"`
	Remote  *RemoteConfig `yaml:"remote,omitempty"`
	Logging LoggingConfig `yaml:"logging"`

	// Checkpoint is the file progress is saved to. Empty disables
	// checkpoints.
	Checkpoint string `yaml:"checkpoint,omitempty"`
}

// RemoteConfig says how to reach a remote controller.
type RemoteConfig struct {
	Transport string `yaml:"transport"`
	Address   string `yaml:"address"`

	// Device is the controller's name. MQTT topics are built from it.
	Device   string `yaml:"device"`
	ClientID string `yaml:"clientId,omitempty"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`

	Timeout          time.Duration `yaml:"timeout,omitempty"`
	ConfigureTimeout time.Duration `yaml:"configureTimeout,omitempty"`
	RunTimeout       time.Duration `yaml:"runTimeout,omitempty"`

	Backoff connection.BackoffConfig `yaml:"backoff,omitempty"`
}

// Timeouts returns the call timeouts, defaults filled in.
func (r *RemoteConfig) Timeouts() malcolm.Timeouts {
	t := malcolm.DefaultTimeouts
	if r.Timeout > 0 {
		t.Default = r.Timeout
	}
	if r.ConfigureTimeout > 0 {
		t.Configure = r.ConfigureTimeout
	}
	if r.RunTimeout > 0 {
		t.Run = r.RunTimeout
	}
	return t
}

// MQTT returns the broker settings for the mqtt transport.
func (r *RemoteConfig) MQTT() transport.MQTTConfig {
	return transport.MQTTConfig{
		Broker:   r.Address,
		ClientID: r.ClientID,
		Device:   r.Device,
		Username: r.Username,
		Password: r.Password,
	}
}

// Dial opens a connection to the controller over the configured
// transport. For websocket the address is a ws:// URL; for mqtt it is the
// broker URL.
func (r *RemoteConfig) Dial(ctx context.Context, cfg transport.Config) (transport.Conn, error) {
	switch r.Transport {
	case TransportTCP:
		return transport.Dial(ctx, r.Address, cfg)
	case TransportWebSocket:
		return transport.DialWebSocket(ctx, r.Address, cfg)
	case TransportMQTT:
		return transport.DialMQTT(ctx, r.MQTT(), cfg)
	}
	return nil, fmt.Errorf("%w: unknown transport %q", ErrInvalid, r.Transport)
}

func (r *RemoteConfig) validate() error {
	switch r.Transport {
	case TransportTCP, TransportWebSocket:
	case TransportMQTT:
		if err := r.MQTT().Validate(); err != nil {
			return fmt.Errorf("%w: remote: %w", ErrInvalid, err)
		}
	default:
		return fmt.Errorf("%w: remote.transport %q is not tcp, websocket or mqtt", ErrInvalid, r.Transport)
	}
	if r.Address == "" {
		return fmt.Errorf("%w: remote.address must be set", ErrInvalid)
	}
	return nil
}

// LoggingConfig sets up the operational log.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// NewLogger returns a logger writing as cfg says. Unknown levels mean
// info; unknown formats mean text.
func NewLogger(cfg LoggingConfig) *slog.Logger {
	var w io.Writer = os.Stderr
	if strings.EqualFold(cfg.Output, "stdout") {
		w = os.Stdout
	}
	return newLogger(cfg, w)
}

func newLogger(cfg LoggingConfig, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// OpenTrace returns the protocol trace logger. Events are appended to the
// file at path, if any, and also written to logger when the level is
// debug. The result is nil when neither applies. close is never nil.
func (c LoggingConfig) OpenTrace(path string, logger *slog.Logger) (trace log.Logger, close func() error, err error) {
	var loggers []log.Logger
	close = func() error { return nil }
	if path != "" {
		fl, err := log.NewFileLogger(path)
		if err != nil {
			return nil, close, fmt.Errorf("opening protocol log: %w", err)
		}
		loggers = append(loggers, fl)
		close = fl.Close
	}
	if ParseLevel(c.Level) <= slog.LevelDebug {
		loggers = append(loggers, log.NewSlogAdapter(logger))
	}
	return log.Combine(loggers...), close, nil
}

// ParseLevel maps debug, info, warn and error to slog levels.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Load reads and validates the scan file at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scan file: %w", err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Parse decodes and validates a scan file. Unknown keys are errors.
func Parse(data []byte) (*File, error) {
	f := defaultFile()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing scan file: %w", err)
	}
	applyEnvOverrides(f)
	f.applyDefaults()
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

func defaultFile() *File {
	return &File{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

func applyEnvOverrides(f *File) {
	if v := os.Getenv("SCAN_LOG_LEVEL"); v != "" {
		f.Logging.Level = v
	}
	if v := os.Getenv("SCAN_REMOTE_ADDRESS"); v != "" {
		if f.Remote == nil {
			f.Remote = &RemoteConfig{Transport: TransportTCP}
		}
		f.Remote.Address = v
	}
	if f.Remote == nil {
		return
	}
	if v := os.Getenv("SCAN_REMOTE_TRANSPORT"); v != "" {
		f.Remote.Transport = v
	}
	if v := os.Getenv("SCAN_REMOTE_PASSWORD"); v != "" {
		f.Remote.Password = v
	}
}

func (f *File) applyDefaults() {
	if f.Remote == nil {
		return
	}
	if f.Remote.Transport == "" {
		f.Remote.Transport = TransportTCP
	}
	if f.Remote.Transport == TransportMQTT && f.Remote.ClientID == "" {
		f.Remote.ClientID = "scan-" + uuid.NewString()[:8]
	}
}

// Validate checks the scan, the devices and the remote settings.
func (f *File) Validate() error {
	if err := f.Scan.Validate(); err != nil {
		return err
	}
	seen := make(map[string]bool)
	for i, d := range f.Devices {
		if err := d.validate(); err != nil {
			return fmt.Errorf("%w: devices[%d]: %w", ErrInvalid, i, err)
		}
		if seen[d.Name] {
			return fmt.Errorf("%w: device %q declared twice", ErrInvalid, d.Name)
		}
		seen[d.Name] = true
	}
	if f.Remote != nil {
		return f.Remote.validate()
	}
	return nil
}
