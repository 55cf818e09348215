// Package scanrun drives one scan from a scan file, either in process or
// on a remote controller, and lets a front end steer it while it runs.
package scanrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opengda/scanning-go/pkg/config"
	"github.com/opengda/scanning-go/pkg/connection"
	"github.com/opengda/scanning-go/pkg/device"
	"github.com/opengda/scanning-go/pkg/log"
	"github.com/opengda/scanning-go/pkg/malcolm"
	"github.com/opengda/scanning-go/pkg/persistence"
	"github.com/opengda/scanning-go/pkg/points"
	"github.com/opengda/scanning-go/pkg/transport"
)

// scanDevice is the in-process acquisition device or a remote controller.
type scanDevice interface {
	device.RunnableDevice
	device.Pausable
	AddProgressListener(fn func(device.ProgressEvent))
	CompletedSteps() int
}

// Runner runs one scan and lets a front end steer it. For remote scans the
// device is replaced whenever the connection is re-established.
type Runner struct {
	file   *config.File
	gen    *points.Generator
	trace  log.Logger
	logger *slog.Logger

	mu       sync.Mutex
	dev      scanDevice
	trackers []func(persistence.Tracked)

	// Remote scans only.
	mgr *connection.Manager
}

// New returns a remote runner when file names a controller and a local one
// otherwise.
func New(ctx context.Context, file *config.File, trace log.Logger, logger *slog.Logger) (*Runner, error) {
	if file.Remote != nil {
		return NewRemote(ctx, file, trace, logger)
	}
	return NewLocal(ctx, file, trace, logger)
}

// NewLocal builds the file's simulated devices and configures an acquisition
// device over them.
func NewLocal(ctx context.Context, file *config.File, trace log.Logger, logger *slog.Logger) (*Runner, error) {
	reg, err := file.Registry(ctx, logger)
	if err != nil {
		return nil, err
	}
	m, err := file.Prepare(ctx, reg, logger)
	if err != nil {
		return nil, err
	}
	acq := device.NewAcquisitionDevice(file.Name, reg)
	acq.SetLogger(logger)
	if trace != nil {
		acq.SetProtocolLogger(trace)
	}
	if err := acq.Configure(ctx, m); err != nil {
		return nil, err
	}

	r := &Runner{file: file, gen: m.Points, trace: trace, logger: logger}
	r.install(acq)
	return r, nil
}

// NewRemote connects to the file's controller and configures the scan there.
func NewRemote(ctx context.Context, file *config.File, trace log.Logger, logger *slog.Logger) (*Runner, error) {
	gen, err := file.Generator(logger)
	if err != nil {
		return nil, err
	}
	remote := file.Remote
	dial := func(ctx context.Context) (transport.Conn, error) {
		return remote.Dial(ctx, transport.Config{Logger: trace})
	}
	r := &Runner{
		file:   file,
		gen:    gen,
		trace:  trace,
		logger: logger,
		mgr: connection.NewManager(dial,
			connection.WithBackoff(remote.Backoff),
			connection.WithLogger(logger),
		),
	}
	r.mgr.OnStateChange(func(from, to connection.State) {
		logger.Info("controller connection", "from", from, "to", to, "address", remote.Address)
	})
	if err := r.mgr.Connect(ctx); err != nil {
		r.mgr.Close()
		return nil, fmt.Errorf("connecting to %s: %w", remote.Address, err)
	}

	dev, err := r.attach(ctx)
	if err != nil {
		r.Close()
		return nil, err
	}
	if err := dev.Configure(ctx, &file.Scan); err != nil {
		r.Close()
		return nil, fmt.Errorf("configuring %s: %w", dev.Name(), err)
	}
	return r, nil
}

func (r *Runner) deviceName() string {
	if r.file.Remote.Device != "" {
		return r.file.Remote.Device
	}
	return "scan"
}

// attach waits for a connection and wraps the controller behind it.
func (r *Runner) attach(ctx context.Context) (*malcolm.Device, error) {
	conn, err := r.mgr.Wait(ctx)
	if err != nil {
		return nil, err
	}
	timeouts := r.file.Remote.Timeouts()
	connector := malcolm.NewConnector(conn,
		malcolm.WithTimeout(timeouts.Default),
		malcolm.WithLogger(r.logger),
		malcolm.WithProtocolLogger(r.trace),
		malcolm.WithDeviceName(r.deviceName()),
	)
	dev, err := malcolm.NewDevice(ctx, r.deviceName(), connector, malcolm.WithTimeouts(timeouts))
	if err != nil {
		connector.Close()
		return nil, err
	}
	dev.SetLogger(r.logger)
	r.install(dev)
	return dev, nil
}

// install makes dev current and hooks up the listeners every device gets.
func (r *Runner) install(dev scanDevice) {
	total, _ := r.gen.Size()
	dev.AddProgressListener(func(ev device.ProgressEvent) {
		r.logger.Debug("step complete", "completed", ev.Completed, "total", total)
	})
	dev.AddStateListener(func(ev device.StateEvent) {
		if ev.Err != nil {
			r.logger.Warn("state changed", "from", ev.Old, "to", ev.New, "error", ev.Err)
			return
		}
		r.logger.Info("state changed", "from", ev.Old, "to", ev.New)
	})

	r.mu.Lock()
	old := r.dev
	r.dev = dev
	trackers := append([]func(persistence.Tracked){}, r.trackers...)
	r.mu.Unlock()

	for _, fn := range trackers {
		fn(dev)
	}
	if d, ok := old.(device.Disposer); ok && old != dev {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		d.Dispose(ctx)
		cancel()
	}
}

// Track applies fn to the current device and to every later one.
func (r *Runner) Track(fn func(persistence.Tracked)) {
	r.mu.Lock()
	r.trackers = append(r.trackers, fn)
	dev := r.dev
	r.mu.Unlock()
	fn(dev)
}

func (r *Runner) current() scanDevice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dev
}

// Run runs the scan from step start and returns once it has ended.
func (r *Runner) Run(ctx context.Context, start int) error {
	dev := r.current()
	var err error
	if start > 0 {
		err = r.runFrom(ctx, dev, start)
	} else {
		err = dev.Run(ctx, nil)
	}
	for r.lost(ctx, dev, err) {
		r.logger.Warn("lost the controller during the scan; waiting to reconnect", "error", err)
		rd, aerr := r.attach(ctx)
		if aerr != nil {
			return aerr
		}
		dev, err = rd, r.follow(ctx, rd)
	}
	return err
}

// lost reports whether err came from the connection to a remote controller
// dropping while the scan may still be going.
func (r *Runner) lost(ctx context.Context, dev scanDevice, err error) bool {
	if err == nil || r.mgr == nil || ctx.Err() != nil || errors.Is(err, device.ErrAborted) {
		return false
	}
	rd, ok := dev.(*malcolm.Device)
	return ok && !rd.Alive()
}

// runFrom starts the run, pauses it straight away and seeks to step.
func (r *Runner) runFrom(ctx context.Context, dev scanDevice, step int) error {
	running := make(chan struct{})
	var once sync.Once
	dev.AddStateListener(func(ev device.StateEvent) {
		if ev.New == device.StateRunning {
			once.Do(func() { close(running) })
		}
	})

	h := dev.Start(ctx, nil)
	select {
	case <-running:
	case <-h.Done():
		return dev.Latch(ctx)
	case <-ctx.Done():
		return dev.Latch(context.WithoutCancel(ctx))
	}

	if err := dev.Pause(ctx); err != nil {
		r.logger.Warn("pausing to seek failed; running from the start", "error", err)
		return dev.Latch(ctx)
	}
	if err := dev.Seek(ctx, step); err != nil {
		dev.Abort(context.WithoutCancel(ctx))
		dev.Latch(context.WithoutCancel(ctx))
		return fmt.Errorf("seeking to step %d: %w", step, err)
	}
	r.logger.Info("resuming interrupted run", "step", step)
	if err := dev.Resume(ctx); err != nil {
		return err
	}
	return dev.Latch(ctx)
}

// follow waits for a run already in progress on the controller to end.
func (r *Runner) follow(ctx context.Context, dev *malcolm.Device) error {
	states := make(chan device.State, 16)
	dev.AddStateListener(func(ev device.StateEvent) {
		select {
		case states <- ev.New:
		default:
		}
	})

	s := dev.State()
	for s.IsRunning() || s.IsTransient() {
		select {
		case s = <-states:
		case <-dev.Done():
			return fmt.Errorf("controller connection lost: %w", transport.ErrConnectionClosed)
		case <-ctx.Done():
			actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), malcolm.DefaultTimeout)
			defer cancel()
			if err := dev.Abort(actx); err != nil {
				return errors.Join(device.ErrAborted, err)
			}
			return device.ErrAborted
		}
	}

	switch s {
	case device.StateArmed:
		return nil
	case device.StateAborted:
		return device.ErrAborted
	case device.StateFault:
		return fmt.Errorf("controller fault: %s", dev.Health())
	}
	return fmt.Errorf("run ended with the controller %s", s.Label())
}

// Close releases the device and any controller connection.
func (r *Runner) Close() {
	if d, ok := r.current().(device.Disposer); ok {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		d.Dispose(ctx)
		cancel()
	}
	if r.mgr != nil {
		r.mgr.Close()
	}
}

// Generator returns the scan's points generator.
func (r *Runner) Generator() *points.Generator { return r.gen }

// The steering methods act on whichever device is current.

func (r *Runner) Name() string        { return r.current().Name() }
func (r *Runner) State() device.State { return r.current().State() }
func (r *Runner) Health() string      { return r.current().Health() }
func (r *Runner) CompletedSteps() int { return r.current().CompletedSteps() }
func (r *Runner) Axes() []string      { return r.gen.Axes() }

func (r *Runner) TotalSteps() int {
	n, _ := r.gen.Size()
	return n
}

func (r *Runner) Pause(ctx context.Context) error {
	return r.current().Pause(ctx)
}

func (r *Runner) Resume(ctx context.Context) error {
	return r.current().Resume(ctx)
}

func (r *Runner) Seek(ctx context.Context, step int) error {
	return r.current().Seek(ctx, step)
}

func (r *Runner) Abort(ctx context.Context) error {
	return r.current().Abort(ctx)
}
