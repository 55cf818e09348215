package malcolm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opengda/scanning-go/pkg/device"
	"github.com/opengda/scanning-go/pkg/points"
	"github.com/opengda/scanning-go/pkg/wire"
)

// Timeouts bound the calls of a Device. A context with its own deadline
// overrides them.
type Timeouts struct {
	Default   time.Duration
	Configure time.Duration
	Run       time.Duration
}

// DefaultTimeouts suits controllers that configure detectors and write
// files: configure may take minutes and a run may take days.
var DefaultTimeouts = Timeouts{
	Default:   5 * time.Second,
	Configure: 10 * time.Minute,
	Run:       48 * time.Hour,
}

// Device is a runnable device whose operations are calls to a remote
// controller. Its state, busy flag, health and progress mirror the
// controller through subscriptions.
//
// State listeners run on the connector's read goroutine and must not call
// back into the device.
type Device struct {
	*device.Base

	conn     *Connector
	timeouts Timeouts

	mu        sync.Mutex
	seq       map[string]uint64
	health    string
	completed int
	progress  []func(device.ProgressEvent)
	subs      []*Subscription

	aborting atomic.Bool
}

// DeviceOption configures a Device.
type DeviceOption func(*deviceConfig)

type deviceConfig struct {
	level    int
	timeouts Timeouts
}

// WithLevel sets the device's level.
func WithLevel(level int) DeviceOption {
	return func(c *deviceConfig) { c.level = level }
}

// WithTimeouts replaces DefaultTimeouts. Zero fields keep their default.
func WithTimeouts(t Timeouts) DeviceOption {
	return func(c *deviceConfig) {
		if t.Default > 0 {
			c.timeouts.Default = t.Default
		}
		if t.Configure > 0 {
			c.timeouts.Configure = t.Configure
		}
		if t.Run > 0 {
			c.timeouts.Run = t.Run
		}
	}
}

// NewDevice subscribes to the controller's state, progress, busy flag and
// health. The device owns conn and closes it on Dispose.
func NewDevice(ctx context.Context, name string, conn *Connector, opts ...DeviceOption) (*Device, error) {
	cfg := deviceConfig{timeouts: DefaultTimeouts}
	for _, opt := range opts {
		opt(&cfg)
	}

	d := &Device{
		Base:     device.NewBase(name, cfg.level),
		conn:     conn,
		timeouts: cfg.timeouts,
		seq:      make(map[string]uint64),
		health:   "OK",
	}

	handlers := []struct {
		endpoint string
		fn       func(any) error
	}{
		{EndpointState, d.onState},
		{EndpointCompletedSteps, d.onCompleted},
		{EndpointBusy, d.onBusy},
		{EndpointHealth, d.onHealth},
	}
	for _, h := range handlers {
		sub, err := conn.Subscribe(ctx, h.endpoint, d.ordered(h.endpoint, h.fn))
		if err != nil {
			return nil, d.Wrap("subscribe", err)
		}
		d.mu.Lock()
		d.subs = append(d.subs, sub)
		d.mu.Unlock()
	}
	return d, nil
}

// ordered applies fn to updates newer than any seen for endpoint.
func (d *Device) ordered(endpoint string, fn func(any) error) UpdateFunc {
	return func(seq uint64, value any) {
		d.mu.Lock()
		if seq <= d.seq[endpoint] {
			d.mu.Unlock()
			d.Logger().Debug("dropping stale update", "endpoint", endpoint, "seq", seq)
			return
		}
		d.seq[endpoint] = seq
		d.mu.Unlock()

		if err := fn(value); err != nil {
			d.Logger().Warn("bad update", "endpoint", endpoint, "value", value, "error", err)
		}
	}
}

func (d *Device) onState(v any) error {
	name, ok := v.(string)
	if !ok {
		return fmt.Errorf("state is %T, not a string", v)
	}
	s, err := device.ParseState(name)
	if err != nil {
		return err
	}
	d.SetState(s)
	return nil
}

func (d *Device) onCompleted(v any) error {
	n, err := toInt(v)
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.completed = n
	fns := append([]func(device.ProgressEvent){}, d.progress...)
	d.mu.Unlock()

	ev := device.ProgressEvent{Device: d.Name(), Completed: n}
	for _, fn := range fns {
		fn(ev)
	}
	return nil
}

func (d *Device) onBusy(v any) error {
	busy, ok := v.(bool)
	if !ok {
		return fmt.Errorf("busy is %T, not a bool", v)
	}
	d.SetBusy(busy)
	return nil
}

func (d *Device) onHealth(v any) error {
	text, ok := v.(string)
	if !ok {
		return fmt.Errorf("health is %T, not a string", v)
	}
	d.mu.Lock()
	d.health = text
	d.mu.Unlock()
	return nil
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case uint64:
		return int(n), nil
	case float64:
		return int(n), nil
	default:
		return 0, fmt.Errorf("%T is not a number", v)
	}
}

// Health returns the controller's health, or the local fault when a call
// to the controller failed in a way that left its state unknown.
func (d *Device) Health() string {
	if err := d.Fault(); err != nil && d.State() == device.StateFault {
		return err.Error()
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.health
}

// CompletedSteps returns the controller's progress in the current run.
func (d *Device) CompletedSteps() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.completed
}

// AddProgressListener registers fn for progress updates.
func (d *Device) AddProgressListener(fn func(device.ProgressEvent)) {
	d.mu.Lock()
	d.progress = append(d.progress, fn)
	d.mu.Unlock()
}

// Alive reports whether the connection to the controller is open.
func (d *Device) Alive() bool { return d.conn.Alive() }

// Done is closed when the connection to the controller ends.
func (d *Device) Done() <-chan struct{} { return d.conn.Done() }

func (d *Device) call(ctx context.Context, op string, method wire.Method, args any, timeout time.Duration, expected ...device.State) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if _, err := d.conn.Call(ctx, method, args, expected...); err != nil {
		return d.Wrap(op, err)
	}
	return nil
}

func inState(states ...device.State) func(device.State) bool {
	return func(s device.State) bool {
		for _, want := range states {
			if s == want {
				return true
			}
		}
		return false
	}
}

func notTransient(s device.State) bool { return !s.IsTransient() }

func (d *Device) Validate(ctx context.Context, model any) error {
	return d.call(ctx, "validate", wire.MethodValidate, model, d.timeouts.Default)
}

// Configure resets the controller, in case it is in FAULT, and configures
// it with model. A failed reset is ignored; the configure call decides.
func (d *Device) Configure(ctx context.Context, model any) error {
	if err := d.Require("configure", notTransient, "a non-transient state"); err != nil {
		return err
	}
	if err := d.Reset(ctx); err != nil {
		d.Logger().Debug("reset before configure failed", "error", err)
	}
	if err := d.call(ctx, "configure", wire.MethodConfigure, model, d.timeouts.Configure, device.StateArmed); err != nil {
		return err
	}
	d.SetModel(model)
	d.mu.Lock()
	d.completed = 0
	d.mu.Unlock()
	return nil
}

// Run calls run on the controller and blocks until it returns. The
// position is not sent; the controller follows its configured path.
// Cancelling ctx aborts the controller.
func (d *Device) Run(ctx context.Context, _ *points.Position) error {
	if err := d.Require("run", device.State.IsRunnable, "ARMED"); err != nil {
		return err
	}
	d.aborting.Store(false)
	d.SetBusy(true)
	defer d.SetBusy(false)

	err := d.call(ctx, "run", wire.MethodRun, nil, d.timeouts.Run, device.StateArmed, device.StateReady)
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeouts.Default)
		defer cancel()
		if aerr := d.Abort(actx); aerr != nil {
			return errors.Join(d.Wrap("run", device.ErrAborted), aerr)
		}
		return d.Wrap("run", device.ErrAborted)
	}
	if d.aborting.Load() {
		return d.Wrap("run", fmt.Errorf("%w: %w", device.ErrAborted, err))
	}
	return err
}

func (d *Device) Start(ctx context.Context, pos *points.Position) *device.RunHandle {
	return d.StartWith(ctx, pos, d.Run)
}

// Abort calls abort on the controller. If the controller does not confirm,
// the device is moved to FAULT.
func (d *Device) Abort(ctx context.Context) error {
	if err := d.Require("abort", device.State.IsAbortable, "RUNNING, CONFIGURING, PAUSED, SEEKING, ARMED or POSTRUN"); err != nil {
		return err
	}
	d.aborting.Store(true)
	if err := d.call(ctx, "abort", wire.MethodAbort, nil, d.timeouts.Default, device.StateAborted); err != nil {
		d.Fail(fmt.Errorf("abort not confirmed: %w", err))
		return err
	}
	return nil
}

// Disable calls disable on the controller. Like Abort, an unconfirmed
// disable moves the device to FAULT.
func (d *Device) Disable(ctx context.Context) error {
	if err := d.Require("disable", notTransient, "a non-transient state"); err != nil {
		return err
	}
	if err := d.call(ctx, "disable", wire.MethodDisable, nil, d.timeouts.Default, device.StateDisabled); err != nil {
		d.Fail(fmt.Errorf("disable not confirmed: %w", err))
		return err
	}
	return nil
}

func (d *Device) Reset(ctx context.Context) error {
	if err := d.Require("reset", device.State.IsResettable, "FAULT, ABORTED, DISABLED or ARMED"); err != nil {
		return err
	}
	if err := d.call(ctx, "reset", wire.MethodReset, nil, d.timeouts.Default, device.StateReady); err != nil {
		return err
	}
	d.aborting.Store(false)
	return nil
}

func (d *Device) Pause(ctx context.Context) error {
	if err := d.Require("pause", inState(device.StateRunning), "RUNNING"); err != nil {
		return err
	}
	return d.call(ctx, "pause", wire.MethodPause, nil, d.timeouts.Configure, device.StatePaused)
}

func (d *Device) Resume(ctx context.Context) error {
	if err := d.Require("resume", inState(device.StatePaused), "PAUSED"); err != nil {
		return err
	}
	return d.call(ctx, "resume", wire.MethodResume, nil, d.timeouts.Default, device.StateRunning)
}

// Seek asks a paused controller to continue from step.
func (d *Device) Seek(ctx context.Context, step int) error {
	if err := d.Require("seek", inState(device.StatePaused), "PAUSED"); err != nil {
		return err
	}
	args := map[string]any{EndpointCompletedSteps: step}
	return d.call(ctx, "seek", wire.MethodPause, args, d.timeouts.Configure, device.StatePaused)
}

// Dispose aborts a run in progress, cancels the subscriptions and closes
// the connection.
func (d *Device) Dispose(ctx context.Context) error {
	var errs []error
	if d.State().IsRunning() {
		errs = append(errs, d.Abort(ctx))
	}
	d.mu.Lock()
	subs := d.subs
	d.subs = nil
	d.mu.Unlock()
	if d.conn.Alive() {
		for _, sub := range subs {
			errs = append(errs, d.conn.Unsubscribe(ctx, sub))
		}
	}
	errs = append(errs, d.conn.Close())
	return errors.Join(errs...)
}

var (
	_ device.RunnableDevice = (*Device)(nil)
	_ device.Pausable       = (*Device)(nil)
	_ device.Disposer       = (*Device)(nil)
)
