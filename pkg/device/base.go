package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/opengda/scanning-go/pkg/log"
	"github.com/opengda/scanning-go/pkg/points"
)

// Base holds the state shared by runnable devices: name, state, model,
// busy flag, fault and the last started run. Devices embed it and build
// their operations from its transition helpers.
//
// All methods are safe for concurrent use. State listeners run after the
// lock is released, in the goroutine that made the change.
type Base struct {
	name  string
	level int

	mu    sync.RWMutex
	state State
	model any
	busy  bool
	fault error

	runMu sync.Mutex
	run   *RunHandle

	listeners listeners[StateEvent]

	logger *slog.Logger
	trace  log.Logger
}

// NewBase returns a base in READY.
func NewBase(name string, level int) *Base {
	return &Base{
		name:   name,
		level:  level,
		state:  StateReady,
		logger: slog.Default(),
		trace:  log.NoopLogger{},
	}
}

// SetLogger sets the operational logger; nil means slog.Default.
func (b *Base) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	b.mu.Lock()
	b.logger = logger.With("device", b.name)
	b.mu.Unlock()
}

// Logger returns the operational logger.
func (b *Base) Logger() *slog.Logger {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.logger
}

// SetProtocolLogger records state changes to a protocol trace.
func (b *Base) SetProtocolLogger(l log.Logger) {
	if l == nil {
		l = log.NoopLogger{}
	}
	b.mu.Lock()
	b.trace = l
	b.mu.Unlock()
}

func (b *Base) Name() string { return b.name }
func (b *Base) Level() int   { return b.level }

func (b *Base) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

func (b *Base) Model() any {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.model
}

// SetModel replaces the model without a state change.
func (b *Base) SetModel(model any) {
	b.mu.Lock()
	b.model = model
	b.mu.Unlock()
}

func (b *Base) Busy() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.busy
}

func (b *Base) SetBusy(busy bool) {
	b.mu.Lock()
	b.busy = busy
	b.mu.Unlock()
}

// Health returns "OK", or the error recorded by the last Fail.
func (b *Base) Health() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.fault != nil {
		return b.fault.Error()
	}
	return "OK"
}

// Fault returns the error recorded by the last Fail.
func (b *Base) Fault() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.fault
}

// AddStateListener registers fn for every later state change.
func (b *Base) AddStateListener(fn func(StateEvent)) {
	b.listeners.add(fn)
}

// SetState moves to next unconditionally.
func (b *Base) SetState(next State) {
	b.Transition(func(State) bool { return true }, next)
}

// Transition moves to next if the current state satisfies allowed. It
// returns the state found and whether the move happened.
func (b *Base) Transition(allowed func(State) bool, next State) (State, bool) {
	return b.transition(allowed, next, nil)
}

// Begin starts operation op: it moves to next if the current state
// satisfies allowed, and otherwise returns an illegal state error naming
// required.
func (b *Base) Begin(op string, allowed func(State) bool, required string, next State) (State, error) {
	prev, ok := b.transition(allowed, next, nil)
	if !ok {
		return prev, illegalState(b.name, op, prev, required)
	}
	return prev, nil
}

// Require returns an illegal state error unless the current state
// satisfies allowed.
func (b *Base) Require(op string, allowed func(State) bool, required string) error {
	if s := b.State(); !allowed(s) {
		return illegalState(b.name, op, s, required)
	}
	return nil
}

// Fail records err and moves to FAULT.
func (b *Base) Fail(err error) {
	b.transition(func(State) bool { return true }, StateFault, err)
}

// Wrap wraps err as a ScanningError for op, capturing the current state.
func (b *Base) Wrap(op string, err error) error {
	var se *ScanningError
	if errors.As(err, &se) && se.Device == b.name {
		return err
	}
	return &ScanningError{Device: b.name, Op: op, State: b.State(), Err: err}
}

func (b *Base) transition(allowed func(State) bool, next State, cause error) (State, bool) {
	b.mu.Lock()
	prev := b.state
	if !allowed(prev) {
		b.mu.Unlock()
		return prev, false
	}
	b.state = next
	if cause != nil {
		b.fault = cause
	}
	logger, trace := b.logger, b.trace
	b.mu.Unlock()

	if prev == next {
		return prev, true
	}

	if cause != nil {
		logger.Warn("device fault", "from", prev, "error", cause)
	} else {
		logger.Debug("device state", "from", prev, "to", next)
	}
	reason := ""
	if cause != nil {
		reason = cause.Error()
	}
	log.Emit(trace, log.Event{
		Layer:    log.LayerDevice,
		Category: log.CategoryState,
		Device:   b.name,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityDevice,
			OldState: prev.String(),
			NewState: next.String(),
			Reason:   reason,
		},
	})
	b.listeners.fire(StateEvent{Device: b.name, Old: prev, New: next, Err: cause, Time: time.Now()})
	return prev, true
}

func (b *Base) clearFault() {
	b.mu.Lock()
	b.fault = nil
	b.mu.Unlock()
}

// ConfigureWith moves through CONFIGURING to ARMED. apply runs in
// CONFIGURING; if it fails the device goes to FAULT and the model is kept.
func (b *Base) ConfigureWith(model any, apply func(any) error) error {
	if _, err := b.Begin("configure", State.isConfigurable, "a non-transient state", StateConfiguring); err != nil {
		return err
	}
	if apply != nil {
		if err := apply(model); err != nil {
			b.Fail(err)
			return b.Wrap("configure", err)
		}
	}
	b.SetModel(model)
	b.clearFault()
	b.SetState(StateArmed)
	return nil
}

// AbortWith moves through ABORTING to ABORTED. stop must halt any activity
// and return once it has; if it fails the abort is unconfirmed and the
// device goes to FAULT.
func (b *Base) AbortWith(stop func() error) error {
	if _, err := b.Begin("abort", State.IsAbortable, "RUNNING, CONFIGURING, PAUSED, SEEKING, ARMED or POSTRUN", StateAborting); err != nil {
		return err
	}
	if stop != nil {
		if err := stop(); err != nil {
			err = fmt.Errorf("abort not confirmed: %w", err)
			b.Fail(err)
			return b.Wrap("abort", err)
		}
	}
	b.Transition(is(StateAborting), StateAborted)
	return nil
}

// DisableWith moves through DISABLING to DISABLED.
func (b *Base) DisableWith(stop func() error) error {
	if _, err := b.Begin("disable", State.isConfigurable, "a non-transient state", StateDisabling); err != nil {
		return err
	}
	if stop != nil {
		if err := stop(); err != nil {
			err = fmt.Errorf("disable not confirmed: %w", err)
			b.Fail(err)
			return b.Wrap("disable", err)
		}
	}
	b.SetState(StateDisabled)
	return nil
}

// ResetWith moves through RESETTING to READY and clears the fault.
func (b *Base) ResetWith(reset func() error) error {
	if _, err := b.Begin("reset", State.IsResettable, "FAULT, ABORTED, DISABLED or ARMED", StateResetting); err != nil {
		return err
	}
	if reset != nil {
		if err := reset(); err != nil {
			b.Fail(err)
			return b.Wrap("reset", err)
		}
	}
	b.clearFault()
	b.SetState(StateReady)
	return nil
}

// StartWith calls run in a new goroutine and remembers the handle for
// Latch. A panic in run is returned as the run's error.
func (b *Base) StartWith(ctx context.Context, pos *points.Position, run func(context.Context, *points.Position) error) *RunHandle {
	h := newRunHandle()
	b.runMu.Lock()
	b.run = h
	b.runMu.Unlock()

	go func() {
		var err error
		defer func() { h.finish(err) }()
		defer func() {
			if r := recover(); r != nil {
				err = b.Wrap("run", fmt.Errorf("run panicked: %v", r))
				b.Fail(err)
			}
		}()
		err = run(ctx, pos)
	}()
	return h
}

func (b *Base) lastRun() *RunHandle {
	b.runMu.Lock()
	defer b.runMu.Unlock()
	return b.run
}

// Latch waits for the run begun by the last StartWith.
func (b *Base) Latch(ctx context.Context) error {
	h := b.lastRun()
	if h == nil {
		return b.Wrap("latch", ErrNotImplemented)
	}
	return h.Wait(ctx)
}

// LatchTimeout waits at most timeout for the last started run. It reports
// whether the run ended, and the run's error if it did.
func (b *Base) LatchTimeout(ctx context.Context, timeout time.Duration) (bool, error) {
	h := b.lastRun()
	if h == nil {
		return false, b.Wrap("latch", ErrNotImplemented)
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-h.done:
		return true, h.err
	case <-timer.C:
		return false, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// listeners is a set of callbacks fired outside any device lock.
type listeners[E any] struct {
	mu  sync.Mutex
	fns []func(E)
}

func (l *listeners[E]) add(fn func(E)) {
	l.mu.Lock()
	l.fns = append(l.fns, fn)
	l.mu.Unlock()
}

func (l *listeners[E]) fire(ev E) {
	l.mu.Lock()
	fns := slices.Clone(l.fns)
	l.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}
