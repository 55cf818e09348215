package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/opengda/scanning-go/pkg/device"
	"github.com/opengda/scanning-go/pkg/wire"
)

// Device kinds.
const (
	KindMotor    = "motor"
	KindMonitor  = "monitor"
	KindDetector = "detector"
)

// DeviceSpec declares a simulated local device.
type DeviceSpec struct {
	Name  string `yaml:"name"`
	Kind  string `yaml:"kind"`
	Level int    `yaml:"level,omitempty"`

	// Motors and monitors.
	Position  float64       `yaml:"position,omitempty"`
	Tolerance *float64      `yaml:"tolerance,omitempty"`
	Limits    []float64     `yaml:"limits,omitempty"`
	Timeout   time.Duration `yaml:"timeout,omitempty"`
	MoveTime  time.Duration `yaml:"moveTime,omitempty"`

	// Role is when a monitor is read: perPoint (default) or perScan.
	Role string `yaml:"role,omitempty"`

	// Detectors.
	Exposure time.Duration `yaml:"exposure,omitempty"`
}

func (d DeviceSpec) validate() error {
	if d.Name == "" {
		return errors.New("name must be set")
	}
	switch d.Kind {
	case KindMotor, KindMonitor, KindDetector:
	default:
		return fmt.Errorf("device %q: kind %q is not motor, monitor or detector", d.Name, d.Kind)
	}
	if len(d.Limits) != 0 && (len(d.Limits) != 2 || d.Limits[0] > d.Limits[1]) {
		return fmt.Errorf("device %q: limits must be [low, high]", d.Name)
	}
	if _, err := parseRole(d.Role); err != nil {
		return fmt.Errorf("device %q: %w", d.Name, err)
	}
	if d.Exposure < 0 {
		return fmt.Errorf("device %q: negative exposure", d.Name)
	}
	return nil
}

func parseRole(role string) (device.MonitorRole, error) {
	switch strings.ToLower(role) {
	case "", "perpoint", "per_point":
		return device.MonitorPerPoint, nil
	case "perscan", "per_scan":
		return device.MonitorPerScan, nil
	case "none":
		return device.MonitorNone, nil
	}
	return 0, fmt.Errorf("unknown monitor role %q", role)
}

func (d DeviceSpec) scannable() *device.Scannable {
	role, _ := parseRole(d.Role)
	if d.Kind == KindMotor {
		role = device.MonitorNone
	}
	opts := []device.Option{
		device.WithLevel(d.Level),
		device.WithMonitorRole(role),
		device.WithInitialPosition(d.Position),
		device.WithMoveTime(d.MoveTime),
	}
	if d.Tolerance != nil {
		opts = append(opts, device.WithTolerance(*d.Tolerance))
	}
	if len(d.Limits) == 2 {
		opts = append(opts, device.WithLimits(d.Limits[0], d.Limits[1]))
	}
	if d.Timeout > 0 {
		opts = append(opts, device.WithTimeout(d.Timeout))
	}
	return device.NewScannable(d.Name, opts...)
}

// Registry creates the declared devices. Detectors are configured with
// their exposure and left ARMED.
func (f *File) Registry(ctx context.Context, logger *slog.Logger) (*device.Registry, error) {
	reg := device.NewRegistry()
	for _, spec := range f.Devices {
		var err error
		switch spec.Kind {
		case KindDetector:
			det := device.NewDetector(spec.Name)
			det.SetLogger(logger)
			if err = det.Configure(ctx, device.DetectorModel{Exposure: spec.Exposure}); err == nil {
				err = reg.RegisterRunnable(det)
			}
		default:
			err = reg.Register(spec.scannable())
		}
		if err != nil {
			return nil, fmt.Errorf("device %q: %w", spec.Name, err)
		}
	}
	return reg, nil
}

// Prepare builds the acquisition model for the scan from the devices in
// reg. Detectors left in ABORTED, FAULT or DISABLED are reset and
// configured again with their previous model.
func (s *Scan) Prepare(ctx context.Context, reg *device.Registry, logger *slog.Logger) (*device.AcquisitionModel, error) {
	gen, err := s.Generator(logger)
	if err != nil {
		return nil, err
	}
	m := &device.AcquisitionModel{Name: s.Name, Points: gen}

	detectors := reg.Runnables()
	if len(s.Detectors) > 0 {
		detectors = make([]device.RunnableDevice, 0, len(s.Detectors))
		for _, name := range s.Detectors {
			det, err := reg.Runnable(name)
			if err != nil {
				return nil, err
			}
			detectors = append(detectors, det)
		}
	}
	for _, det := range detectors {
		if err := arm(ctx, det); err != nil {
			return nil, err
		}
		m.Detectors = append(m.Detectors, det)
	}

	for _, name := range s.Monitors {
		mon, err := reg.Device(name)
		if err != nil {
			return nil, err
		}
		m.Monitors = append(m.Monitors, mon)
	}
	return m, nil
}

func arm(ctx context.Context, det device.RunnableDevice) error {
	s := det.State()
	if s.IsRunnable() {
		return nil
	}
	if s.IsResettable() {
		if err := det.Reset(ctx); err != nil {
			return err
		}
	}
	model := det.Model()
	if model == nil {
		model = device.DetectorModel{}
	}
	return det.Configure(ctx, model)
}

// DecodeScan turns decoded call arguments back into a Scan.
func DecodeScan(args any) (*Scan, error) {
	var s Scan
	if err := wire.Convert(args, &s); err != nil {
		return nil, fmt.Errorf("decoding scan: %w", err)
	}
	return &s, nil
}

// ModelDecoder returns a decoder turning configure arguments into
// acquisition models over the devices in reg. Decoding arms the named
// detectors.
func ModelDecoder(ctx context.Context, reg *device.Registry, logger *slog.Logger) func(any) (any, error) {
	return func(args any) (any, error) {
		s, err := DecodeScan(args)
		if err != nil {
			return nil, err
		}
		return s.Prepare(ctx, reg, logger)
	}
}
