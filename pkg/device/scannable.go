package device

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opengda/scanning-go/pkg/points"
)

// Device is something a scan moves or reads: a motor, a stage axis, a
// temperature controller.
type Device interface {
	Name() string

	// Level orders moves within one position; lower levels move first and
	// devices on the same level move together.
	Level() int

	Position() (float64, error)

	// SetPosition moves to value and returns once the move completes. pos
	// is the scan position being visited, or nil outside a scan.
	SetPosition(ctx context.Context, value float64, pos *points.Position) error

	// Activated reports whether the device takes part in scans.
	Activated() bool

	MonitorRole() MonitorRole
	Capabilities() Capabilities
}

// Tolerant devices skip moves closer than Tolerance. Implemented by
// devices with CapTolerance.
type Tolerant interface {
	Tolerance() float64
}

// Limited devices reject positions outside Limits. Implemented by devices
// with CapLimits.
type Limited interface {
	Limits() (lo, hi float64)
}

// TimeoutBound devices fail moves that take longer than Timeout.
// Implemented by devices with CapTimeout.
type TimeoutBound interface {
	Timeout() time.Duration
}

// MonitorRole says when a device is read during a scan.
type MonitorRole uint8

const (
	// MonitorNone devices are only moved.
	MonitorNone MonitorRole = iota
	// MonitorPerPoint devices are read at every position.
	MonitorPerPoint
	// MonitorPerScan devices are read once, when the scan is configured.
	MonitorPerScan
)

// String returns the role name.
func (r MonitorRole) String() string {
	switch r {
	case MonitorNone:
		return "none"
	case MonitorPerPoint:
		return "per_point"
	case MonitorPerScan:
		return "per_scan"
	default:
		return "unknown"
	}
}

// Capability is an optional device behaviour.
type Capability uint8

const (
	CapTolerance Capability = 1 << iota
	CapLimits
	CapTimeout
	CapNexus
)

var capabilityNames = []struct {
	c    Capability
	name string
}{
	{CapTolerance, "tolerance"},
	{CapLimits, "limits"},
	{CapTimeout, "timeout"},
	{CapNexus, "nexus"},
}

// Capabilities is a set of capabilities.
type Capabilities uint8

// Caps returns the set holding cs.
func Caps(cs ...Capability) Capabilities {
	var set Capabilities
	for _, c := range cs {
		set |= Capabilities(c)
	}
	return set
}

// Has reports whether c is in the set.
func (s Capabilities) Has(c Capability) bool {
	return s&Capabilities(c) != 0
}

// String lists the capabilities, e.g. "tolerance|limits".
func (s Capabilities) String() string {
	var names []string
	for _, cn := range capabilityNames {
		if s.Has(cn.c) {
			names = append(names, cn.name)
		}
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, "|")
}

// PositionEvent reports a completed move.
type PositionEvent struct {
	Device string
	Value  float64
	Point  *points.Position
}

// MoveFunc drives hardware to value.
type MoveFunc func(ctx context.Context, value float64) error

// Scannable is a Device built from a position store, an attribute bag and
// a listener set. Without a MoveFunc it simulates motion, taking MoveTime
// per move.
type Scannable struct {
	name  string
	level int
	role  MonitorRole
	caps  Capabilities

	tolerance float64
	lo, hi    float64
	timeout   time.Duration
	moveTime  time.Duration
	move      MoveFunc

	activated atomic.Bool
	store     positionStore
	attrs     *AttributeBag
	listeners listeners[PositionEvent]
}

// Option configures a Scannable.
type Option func(*Scannable)

func WithLevel(level int) Option { return func(s *Scannable) { s.level = level } }

func WithMonitorRole(role MonitorRole) Option { return func(s *Scannable) { s.role = role } }

// WithTolerance enables CapTolerance.
func WithTolerance(tolerance float64) Option {
	return func(s *Scannable) {
		s.tolerance = tolerance
		s.caps |= Caps(CapTolerance)
	}
}

// WithLimits enables CapLimits. Both ends are inside.
func WithLimits(lo, hi float64) Option {
	return func(s *Scannable) {
		s.lo, s.hi = lo, hi
		s.caps |= Caps(CapLimits)
	}
}

// WithTimeout enables CapTimeout.
func WithTimeout(d time.Duration) Option {
	return func(s *Scannable) {
		s.timeout = d
		s.caps |= Caps(CapTimeout)
	}
}

// WithMoveTime sets the simulated duration of a move.
func WithMoveTime(d time.Duration) Option { return func(s *Scannable) { s.moveTime = d } }

// WithMoveFunc drives hardware instead of simulating motion.
func WithMoveFunc(fn MoveFunc) Option { return func(s *Scannable) { s.move = fn } }

func WithInitialPosition(v float64) Option { return func(s *Scannable) { s.store.set(v) } }

// NewScannable returns an activated device, read at every point.
func NewScannable(name string, opts ...Option) *Scannable {
	s := &Scannable{
		name:  name,
		role:  MonitorPerPoint,
		attrs: NewAttributeBag(),
	}
	s.activated.Store(true)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Scannable) Name() string               { return s.name }
func (s *Scannable) Level() int                 { return s.level }
func (s *Scannable) MonitorRole() MonitorRole   { return s.role }
func (s *Scannable) Capabilities() Capabilities { return s.caps }
func (s *Scannable) Activated() bool            { return s.activated.Load() }
func (s *Scannable) SetActivated(on bool)       { s.activated.Store(on) }
func (s *Scannable) Attributes() *AttributeBag  { return s.attrs }
func (s *Scannable) Tolerance() float64         { return s.tolerance }
func (s *Scannable) Limits() (lo, hi float64)   { return s.lo, s.hi }
func (s *Scannable) Timeout() time.Duration     { return s.timeout }

// Position returns the last position reached. A device never moved reports
// zero.
func (s *Scannable) Position() (float64, error) {
	v, _ := s.store.get()
	return v, nil
}

// SetPosition moves to value. It fails with ErrOutOfRange outside the
// limits and with ErrTimeout when a bounded move overruns.
func (s *Scannable) SetPosition(ctx context.Context, value float64, pos *points.Position) error {
	if s.caps.Has(CapLimits) && (value < s.lo || value > s.hi) {
		return fmt.Errorf("%s: %w: %g not in [%g, %g]", s.name, ErrOutOfRange, value, s.lo, s.hi)
	}
	if s.caps.Has(CapTimeout) && s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	var err error
	if s.move != nil {
		err = s.move(ctx, value)
	} else {
		err = sleep(ctx, s.moveTime)
	}
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("%s: move to %g: %w", s.name, value, ErrTimeout)
		}
		return fmt.Errorf("%s: move to %g: %w", s.name, value, err)
	}

	s.store.set(value)
	s.listeners.fire(PositionEvent{Device: s.name, Value: value, Point: pos})
	return nil
}

// AddPositionListener registers fn for every completed move.
func (s *Scannable) AddPositionListener(fn func(PositionEvent)) {
	s.listeners.add(fn)
}

type positionStore struct {
	mu    sync.RWMutex
	value float64
	known bool
}

func (p *positionStore) get() (float64, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.value, p.known
}

func (p *positionStore) set(v float64) {
	p.mu.Lock()
	p.value, p.known = v, true
	p.mu.Unlock()
}

// sleep waits for d or until ctx ends.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var (
	_ Device       = (*Scannable)(nil)
	_ Tolerant     = (*Scannable)(nil)
	_ Limited      = (*Scannable)(nil)
	_ TimeoutBound = (*Scannable)(nil)
)
