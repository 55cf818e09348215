package device

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opengda/scanning-go/pkg/points"
)

// DefaultAbortTimeout bounds how long an abort waits for a run to stop.
const DefaultAbortTimeout = 10 * time.Second

// DetectorModel configures a Detector.
type DetectorModel struct {
	Exposure time.Duration `json:"exposure" yaml:"exposure" cbor:"exposure"`
}

// ReadoutFunc reads a frame after an exposure.
type ReadoutFunc func(ctx context.Context, pos *points.Position) error

// Detector is a simulated area detector. Each Run exposes for the
// configured time and counts a frame.
type Detector struct {
	*Base

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	readout ReadoutFunc
	nexus   *ScanInfo

	frames atomic.Int64
}

func NewDetector(name string) *Detector {
	return &Detector{Base: NewBase(name, 0)}
}

// SetReadout installs fn to run after every exposure.
func (d *Detector) SetReadout(fn ReadoutFunc) {
	d.mu.Lock()
	d.readout = fn
	d.mu.Unlock()
}

// Frames returns the number of frames taken.
func (d *Detector) Frames() int64 { return d.frames.Load() }

func detectorModel(model any) (DetectorModel, error) {
	var m DetectorModel
	switch v := model.(type) {
	case DetectorModel:
		m = v
	case *DetectorModel:
		if v == nil {
			return m, fmt.Errorf("%w: nil", ErrInvalidModel)
		}
		m = *v
	default:
		return m, fmt.Errorf("%w: %T is not a detector model", ErrInvalidModel, model)
	}
	if m.Exposure < 0 {
		return m, fmt.Errorf("%w: negative exposure %v", ErrInvalidModel, m.Exposure)
	}
	return m, nil
}

func (d *Detector) Validate(_ context.Context, model any) error {
	if _, err := detectorModel(model); err != nil {
		return d.Wrap("validate", err)
	}
	return nil
}

func (d *Detector) Configure(_ context.Context, model any) error {
	m, err := detectorModel(model)
	if err != nil {
		return d.Wrap("configure", err)
	}
	return d.ConfigureWith(m, nil)
}

func (d *Detector) Run(ctx context.Context, pos *points.Position) error {
	if _, err := d.Begin("run", State.IsRunnable, "ARMED", StateRunning); err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan struct{})
	defer close(done)

	d.mu.Lock()
	d.cancel, d.done = cancel, done
	readout := d.readout
	d.mu.Unlock()

	// An abort that ran before cancel was published cannot have stopped us.
	if d.State() != StateRunning {
		return d.Wrap("run", ErrAborted)
	}
	d.SetBusy(true)
	defer d.SetBusy(false)

	m, _ := d.Model().(DetectorModel)
	err := sleep(ctx, m.Exposure)
	if err == nil && readout != nil {
		err = readout(ctx, pos)
	}
	if err != nil {
		if ctx.Err() != nil {
			d.Transition(is(StateRunning), StateAborted)
			return d.Wrap("run", ErrAborted)
		}
		d.Fail(err)
		return d.Wrap("run", err)
	}

	d.frames.Add(1)
	if _, ok := d.Transition(is(StateRunning), StatePostRun); !ok {
		return d.Wrap("run", ErrAborted)
	}
	d.Transition(is(StatePostRun), StateArmed)
	return nil
}

func (d *Detector) Start(ctx context.Context, pos *points.Position) *RunHandle {
	return d.StartWith(ctx, pos, d.Run)
}

// stop cancels the exposure in progress and waits for Run to return.
func (d *Detector) stop() error {
	d.mu.Lock()
	cancel, done := d.cancel, d.done
	d.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		return nil
	case <-time.After(DefaultAbortTimeout):
		return ErrTimeout
	}
}

func (d *Detector) Abort(context.Context) error   { return d.AbortWith(d.stop) }
func (d *Detector) Disable(context.Context) error { return d.DisableWith(d.stop) }
func (d *Detector) Reset(context.Context) error   { return d.ResetWith(nil) }

// PrepareNexus records the scan the detector is about to take part in.
func (d *Detector) PrepareNexus(info ScanInfo) error {
	d.mu.Lock()
	d.nexus = &info
	d.mu.Unlock()
	return nil
}

// NexusInfo returns the scan recorded by PrepareNexus.
func (d *Detector) NexusInfo() (ScanInfo, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.nexus == nil {
		return ScanInfo{}, false
	}
	return *d.nexus, true
}

var (
	_ RunnableDevice = (*Detector)(nil)
	_ NexusProvider  = (*Detector)(nil)
)
