package device

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opengda/scanning-go/pkg/points"
)

// AcquisitionModel describes a scan: the path, the detectors triggered at
// each position and the devices read alongside.
type AcquisitionModel struct {
	Name      string
	Points    *points.Generator
	Detectors []RunnableDevice
	Monitors  []Device
}

// ProgressEvent reports a completed position.
type ProgressEvent struct {
	Device    string
	Completed int
	Total     int
	Position  *points.Position
}

// AcquisitionDevice runs a scan. At every position it moves the positioner
// and then runs all detectors in parallel. Pause, seek and abort take
// effect between positions.
type AcquisitionDevice struct {
	*Base
	positioner *Positioner

	// mu guards the run-loop fields; cond wakes a paused loop.
	mu        sync.Mutex
	cond      *sync.Cond
	seekTo    int
	cancelRun context.CancelFunc
	loopDone  chan struct{}

	abortTimeout time.Duration
	total        atomic.Int64
	completed    atomic.Int64
	progress     listeners[ProgressEvent]

	infoMu       sync.Mutex
	info         ScanInfo
	scanReadings map[string]float64
}

func NewAcquisitionDevice(name string, resolver Resolver) *AcquisitionDevice {
	d := &AcquisitionDevice{
		Base:         NewBase(name, 0),
		positioner:   NewPositioner(resolver),
		seekTo:       -1,
		abortTimeout: DefaultAbortTimeout,
	}
	d.cond = sync.NewCond(&d.mu)
	return d
}

// Positioner returns the positioner moving the scan axes.
func (d *AcquisitionDevice) Positioner() *Positioner { return d.positioner }

// SetAbortTimeout bounds how long Abort waits for the run loop to stop.
func (d *AcquisitionDevice) SetAbortTimeout(t time.Duration) { d.abortTimeout = t }

// CompletedSteps returns the number of positions finished in the current
// or last run.
func (d *AcquisitionDevice) CompletedSteps() int { return int(d.completed.Load()) }

// TotalSteps returns the number of positions in the configured scan.
func (d *AcquisitionDevice) TotalSteps() int { return int(d.total.Load()) }

// AddProgressListener registers fn for every completed position.
func (d *AcquisitionDevice) AddProgressListener(fn func(ProgressEvent)) {
	d.progress.add(fn)
}

// ScanInfo returns the description computed by the last Configure.
func (d *AcquisitionDevice) ScanInfo() ScanInfo {
	d.infoMu.Lock()
	defer d.infoMu.Unlock()
	return d.info
}

// ScanReadings returns the per-scan monitor values read by Configure.
func (d *AcquisitionDevice) ScanReadings() map[string]float64 {
	d.infoMu.Lock()
	defer d.infoMu.Unlock()
	return maps.Clone(d.scanReadings)
}

func acquisitionModel(model any) (*AcquisitionModel, error) {
	m, ok := model.(*AcquisitionModel)
	if !ok || m == nil {
		return nil, fmt.Errorf("%w: %T is not an acquisition model", ErrInvalidModel, model)
	}
	if m.Points == nil {
		return nil, fmt.Errorf("%w: no points", ErrInvalidModel)
	}
	if err := m.Points.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func (d *AcquisitionDevice) Validate(_ context.Context, model any) error {
	if _, err := acquisitionModel(model); err != nil {
		return d.Wrap("validate", err)
	}
	return nil
}

// Configure validates the path, checks that every detector is ARMED, reads
// the per-scan monitors and offers the scan description to devices that
// write NeXus data.
func (d *AcquisitionDevice) Configure(ctx context.Context, model any) error {
	m, err := acquisitionModel(model)
	if err != nil {
		return d.Wrap("configure", err)
	}
	return d.ConfigureWith(m, func(any) error {
		// A paused run ends here rather than outliving its model.
		if err := d.awaitLoop(ctx, d.cancelLoop()); err != nil {
			return err
		}
		for _, det := range m.Detectors {
			if s := det.State(); !s.IsRunnable() {
				return fmt.Errorf("detector %q is %s, not ARMED", det.Name(), s)
			}
		}

		info, err := d.describe(m)
		if err != nil {
			return err
		}
		targets := make([]any, 0, len(m.Detectors)+len(m.Monitors))
		for _, det := range m.Detectors {
			targets = append(targets, det)
		}
		for _, mon := range m.Monitors {
			targets = append(targets, mon)
		}
		if err := prepareNexus(info, targets...); err != nil {
			return fmt.Errorf("prepare nexus: %w", err)
		}

		readings := make(map[string]float64)
		for _, mon := range m.Monitors {
			if mon.MonitorRole() != MonitorPerScan {
				continue
			}
			v, err := mon.Position()
			if err != nil {
				return fmt.Errorf("read monitor %q: %w", mon.Name(), err)
			}
			readings[mon.Name()] = v
		}

		d.positioner.SetMonitors(m.Monitors)
		d.total.Store(int64(info.Size))
		d.completed.Store(0)
		d.infoMu.Lock()
		d.info = info
		d.scanReadings = readings
		d.infoMu.Unlock()
		return nil
	})
}

func (d *AcquisitionDevice) describe(m *AcquisitionModel) (ScanInfo, error) {
	shape, err := m.Points.Shape()
	if err != nil {
		return ScanInfo{}, err
	}
	size, err := m.Points.Size()
	if err != nil {
		return ScanInfo{}, err
	}
	info := ScanInfo{
		Name:       m.Name,
		Shape:      shape,
		Rank:       len(shape),
		Size:       size,
		Scannables: m.Points.Axes(),
	}
	for _, det := range m.Detectors {
		info.Detectors = append(info.Detectors, det.Name())
	}
	return info, nil
}

// Run executes the configured scan. pos is ignored; the path comes from
// the model. A cancelled ctx aborts the run.
func (d *AcquisitionDevice) Run(ctx context.Context, _ *points.Position) error {
	if _, err := d.Begin("run", State.IsRunnable, "ARMED", StateRunning); err != nil {
		return err
	}
	m, ok := d.Model().(*AcquisitionModel)
	if !ok {
		err := fmt.Errorf("%w: not configured", ErrInvalidModel)
		d.Fail(err)
		return d.Wrap("run", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	d.mu.Lock()
	d.cancelRun, d.loopDone, d.seekTo = cancel, done, -1
	d.mu.Unlock()

	// Wake a paused loop when the run is cancelled.
	stop := context.AfterFunc(runCtx, func() {
		d.mu.Lock()
		d.cond.Broadcast()
		d.mu.Unlock()
	})
	defer close(done)
	defer stop()
	defer cancel()

	d.SetBusy(true)
	err := d.loop(runCtx, m)
	d.SetBusy(false)
	return d.finish(runCtx, err)
}

func (d *AcquisitionDevice) loop(ctx context.Context, m *AcquisitionModel) error {
	it, err := m.Points.Iterator()
	if err != nil {
		return err
	}
	d.completed.Store(0)
	total := d.TotalSteps()

	step := 0
	for {
		seek, ok := d.waitRunning(ctx)
		if !ok {
			return ErrAborted
		}
		if seek >= 0 {
			if it, err = skipTo(m.Points, seek); err != nil {
				return err
			}
			step = seek
			d.completed.Store(int64(step))
		}
		if !it.Next() {
			break
		}
		pos := it.Position()

		if err := d.positioner.SetPosition(ctx, pos); err != nil {
			if ctx.Err() != nil {
				return ErrAborted
			}
			return fmt.Errorf("step %d: %w", step, err)
		}
		if err := runAll(ctx, m.Detectors, pos); err != nil {
			if ctx.Err() != nil {
				return ErrAborted
			}
			return fmt.Errorf("step %d: %w", step, err)
		}

		step++
		d.completed.Store(int64(step))
		d.progress.fire(ProgressEvent{Device: d.Name(), Completed: step, Total: total, Position: pos})
	}
	return it.Err()
}

// waitRunning blocks while the device is PAUSED or SEEKING. It returns the
// step to seek to, or -1, and false when the run must stop.
func (d *AcquisitionDevice) waitRunning(ctx context.Context) (int, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for {
		if ctx.Err() != nil {
			return -1, false
		}
		switch d.State() {
		case StateRunning:
			seek := d.seekTo
			d.seekTo = -1
			return seek, true
		case StatePaused, StateSeeking:
			d.cond.Wait()
		default:
			return -1, false
		}
	}
}

// skipTo returns a fresh iterator positioned just before step.
func skipTo(g *points.Generator, step int) (points.Iterator, error) {
	it, err := g.Iterator()
	if err != nil {
		return nil, err
	}
	for i := 0; i < step; i++ {
		if !it.Next() {
			break
		}
	}
	return it, it.Err()
}

// runAll runs every detector at pos concurrently.
func runAll(ctx context.Context, dets []RunnableDevice, pos *points.Position) error {
	errs := make([]error, len(dets))
	var wg sync.WaitGroup
	for i, det := range dets {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = det.Run(ctx, pos)
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}

// finish settles the state after the loop: POSTRUN then ARMED on success,
// ABORTED after an abort or cancellation, FAULT otherwise.
func (d *AcquisitionDevice) finish(ctx context.Context, err error) error {
	if err == nil {
		if _, ok := d.Transition(is(StateRunning), StatePostRun); ok {
			d.Transition(is(StatePostRun), StateArmed)
			return nil
		}
		err = ErrAborted
	}
	if errors.Is(err, ErrAborted) || ctx.Err() != nil {
		d.Transition(is(StateRunning, StatePaused, StateSeeking, StateAborting), StateAborted)
		return d.Wrap("run", ErrAborted)
	}
	d.Fail(err)
	return d.Wrap("run", err)
}

func (d *AcquisitionDevice) Start(ctx context.Context, pos *points.Position) *RunHandle {
	return d.StartWith(ctx, pos, d.Run)
}

// Pause suspends the run after the current position.
func (d *AcquisitionDevice) Pause(context.Context) error {
	if _, err := d.Begin("pause", is(StateRunning), "RUNNING", StateSeeking); err != nil {
		return err
	}
	d.Transition(is(StateSeeking), StatePaused)
	return nil
}

// Resume continues a paused run.
func (d *AcquisitionDevice) Resume(context.Context) error {
	if _, err := d.Begin("resume", is(StatePaused), "PAUSED", StateRunning); err != nil {
		return err
	}
	d.mu.Lock()
	d.cond.Broadcast()
	d.mu.Unlock()
	return nil
}

// Seek makes a paused run continue from step once resumed. Steps already
// taken are repeated when seeking backwards.
func (d *AcquisitionDevice) Seek(_ context.Context, step int) error {
	if err := d.Require("seek", is(StatePaused), "PAUSED"); err != nil {
		return err
	}
	if total := d.TotalSteps(); step < 0 || step > total {
		return d.Wrap("seek", fmt.Errorf("%w: step %d not in [0, %d]", ErrOutOfRange, step, total))
	}
	d.mu.Lock()
	d.seekTo = step
	d.mu.Unlock()
	d.completed.Store(int64(step))
	return nil
}

// Abort stops the run at the next position boundary and waits for the
// loop to acknowledge. Detectors still running are aborted too.
func (d *AcquisitionDevice) Abort(ctx context.Context) error {
	return d.AbortWith(func() error {
		done := d.cancelLoop()
		d.positioner.Abort()

		var errs []error
		if m, ok := d.Model().(*AcquisitionModel); ok {
			for _, det := range m.Detectors {
				// A detector may settle on its own once the run is
				// cancelled; only a failed abort counts.
				if det.State().IsAbortable() {
					if err := det.Abort(ctx); err != nil && !errors.Is(err, ErrIllegalState) {
						errs = append(errs, err)
					}
				}
			}
		}
		if err := d.awaitLoop(ctx, done); err != nil {
			errs = append(errs, err)
		}
		return errors.Join(errs...)
	})
}

// cancelLoop cancels the current run loop and wakes it if paused. It
// returns the channel closed when the loop has returned, nil if no run was
// ever started.
func (d *AcquisitionDevice) cancelLoop() <-chan struct{} {
	d.mu.Lock()
	cancel, done := d.cancelRun, d.loopDone
	d.cond.Broadcast()
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return done
}

// awaitLoop waits up to the abort timeout for done to close.
func (d *AcquisitionDevice) awaitLoop(ctx context.Context, done <-chan struct{}) error {
	if done == nil {
		return nil
	}
	timer := time.NewTimer(d.abortTimeout)
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-timer.C:
		return fmt.Errorf("run loop did not stop: %w", ErrTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Disable ends a paused run before disabling.
func (d *AcquisitionDevice) Disable(ctx context.Context) error {
	return d.DisableWith(func() error {
		return d.awaitLoop(ctx, d.cancelLoop())
	})
}

// Reset returns to READY, resetting detectors left in FAULT or ABORTED.
func (d *AcquisitionDevice) Reset(ctx context.Context) error {
	return d.ResetWith(func() error {
		m, ok := d.Model().(*AcquisitionModel)
		if !ok {
			return nil
		}
		var errs []error
		for _, det := range m.Detectors {
			if s := det.State(); s == StateFault || s == StateAborted {
				errs = append(errs, det.Reset(ctx))
			}
		}
		return errors.Join(errs...)
	})
}

var (
	_ RunnableDevice = (*AcquisitionDevice)(nil)
	_ Pausable       = (*AcquisitionDevice)(nil)
)
