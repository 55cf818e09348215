package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/opengda/scanning-go/pkg/points"
)

// DefaultLevelTimeout bounds the moves of one level.
const DefaultLevelTimeout = 3 * time.Minute

// Resolver finds devices by name.
type Resolver interface {
	Device(name string) (Device, error)
}

// Positioner moves devices to scan positions. Devices are grouped by level
// and the levels moved in ascending order; the devices of a level move
// concurrently and the next level starts when all of them have arrived.
type Positioner struct {
	resolver Resolver

	mu       sync.Mutex
	timeout  time.Duration
	monitors []Device
	last     *points.Position
	readings map[string]float64
	cancel   context.CancelFunc
	logger   *slog.Logger
}

func NewPositioner(r Resolver) *Positioner {
	return &Positioner{
		resolver: r,
		timeout:  DefaultLevelTimeout,
		logger:   slog.Default(),
	}
}

// SetLevelTimeout bounds the moves of each level; zero or less means
// unbounded.
func (p *Positioner) SetLevelTimeout(d time.Duration) {
	p.mu.Lock()
	p.timeout = d
	p.mu.Unlock()
}

// SetMonitors sets the devices read after every move. Only per-point
// monitors are kept.
func (p *Positioner) SetMonitors(monitors []Device) {
	var kept []Device
	for _, m := range monitors {
		if m.MonitorRole() == MonitorPerPoint {
			kept = append(kept, m)
		}
	}
	p.mu.Lock()
	p.monitors = kept
	p.mu.Unlock()
}

func (p *Positioner) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	p.mu.Lock()
	p.logger = logger
	p.mu.Unlock()
}

// Position returns the last position reached.
func (p *Positioner) Position() *points.Position {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

// Readings returns the monitor values read at the last position.
func (p *Positioner) Readings() map[string]float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return maps.Clone(p.readings)
}

// Abort cancels the moves in progress.
func (p *Positioner) Abort() {
	p.mu.Lock()
	cancel := p.cancel
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// SetPosition moves every axis of pos, then reads the monitors. A nil pos
// is a no-op.
func (p *Positioner) SetPosition(ctx context.Context, pos *points.Position) error {
	if pos == nil {
		return nil
	}

	levels, err := p.group(pos)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	p.mu.Lock()
	p.cancel = cancel
	timeout, monitors, logger := p.timeout, p.monitors, p.logger
	p.mu.Unlock()

	for _, level := range slices.Sorted(maps.Keys(levels)) {
		if err := p.moveLevel(ctx, timeout, levels[level], pos); err != nil {
			return fmt.Errorf("level %d: %w", level, err)
		}
	}

	readings := make(map[string]float64, len(monitors))
	for _, m := range monitors {
		v, err := m.Position()
		if err != nil {
			logger.Warn("monitor read failed", "monitor", m.Name(), "step", pos.StepIndex, "error", err)
			continue
		}
		readings[m.Name()] = v
	}

	p.mu.Lock()
	p.last = pos
	p.readings = readings
	p.cancel = nil
	p.mu.Unlock()
	return nil
}

type move struct {
	dev   Device
	value float64
}

func (p *Positioner) group(pos *points.Position) (map[int][]move, error) {
	levels := make(map[int][]move)
	for _, a := range pos.Axes() {
		dev, err := p.resolver.Device(a.Name)
		if err != nil {
			return nil, err
		}
		levels[dev.Level()] = append(levels[dev.Level()], move{dev: dev, value: a.Value})
	}
	return levels, nil
}

func (p *Positioner) moveLevel(ctx context.Context, timeout time.Duration, moves []move, pos *points.Position) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	errs := make([]error, len(moves))
	var wg sync.WaitGroup
	for i, m := range moves {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = moveOne(ctx, m.dev, m.value, pos)
		}()
	}
	wg.Wait()

	if ctx.Err() == context.DeadlineExceeded {
		return fmt.Errorf("moves exceeded %v: %w", timeout, ErrTimeout)
	}
	return errors.Join(errs...)
}

// moveOne skips the move when a tolerant device is already close enough.
func moveOne(ctx context.Context, dev Device, value float64, pos *points.Position) error {
	if dev.Capabilities().Has(CapTolerance) {
		if t, ok := dev.(Tolerant); ok {
			if cur, err := dev.Position(); err == nil && math.Abs(cur-value) < t.Tolerance() {
				return nil
			}
		}
	}
	return dev.SetPosition(ctx, value, pos)
}
