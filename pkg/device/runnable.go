package device

import (
	"context"
	"time"

	"github.com/opengda/scanning-go/pkg/points"
)

// RunnableDevice is a device driven through the run state machine.
//
// State, Health, Busy and Model are side-effect-free reads meant for
// polling by monitoring layers.
type RunnableDevice interface {
	Name() string
	Level() int
	State() State

	// Health is "OK", or the error that moved the device to FAULT.
	Health() string
	Busy() bool
	Model() any

	// Validate checks model without applying it.
	Validate(ctx context.Context, model any) error

	// Configure moves the device through CONFIGURING to ARMED and replaces
	// its model. It fails unless the state is non-transient.
	Configure(ctx context.Context, model any) error

	// Run blocks until the run completes. It fails unless the state is
	// ARMED. A nil pos runs without an explicit target.
	Run(ctx context.Context, pos *points.Position) error

	// Start calls Run in a new goroutine.
	Start(ctx context.Context, pos *points.Position) *RunHandle

	Abort(ctx context.Context) error
	Disable(ctx context.Context) error
	Reset(ctx context.Context) error

	// Latch waits for the run begun by the last Start and returns its
	// error. Devices never started fail with ErrNotImplemented.
	Latch(ctx context.Context) error

	// LatchTimeout is Latch bounded by timeout. It reports false, with a
	// nil error, if the run is still going when timeout expires.
	LatchTimeout(ctx context.Context, timeout time.Duration) (bool, error)

	AddStateListener(fn func(StateEvent))
}

// Pausable devices can suspend a run between positions.
type Pausable interface {
	// Pause moves RUNNING through SEEKING to PAUSED.
	Pause(ctx context.Context) error

	// Resume moves PAUSED back to RUNNING.
	Resume(ctx context.Context) error

	// Seek moves the run to step while PAUSED; the run continues from
	// there when resumed.
	Seek(ctx context.Context, step int) error
}

// Disposer releases resources held by a device.
type Disposer interface {
	Dispose(ctx context.Context) error
}

// StateEvent reports a state change.
type StateEvent struct {
	Device string
	Old    State
	New    State

	// Err is set when the change was caused by a failure.
	Err  error
	Time time.Time
}

// RunHandle tracks a run started with Start.
type RunHandle struct {
	done chan struct{}
	err  error
}

func newRunHandle() *RunHandle {
	return &RunHandle{done: make(chan struct{})}
}

func (h *RunHandle) finish(err error) {
	h.err = err
	close(h.done)
}

// Done is closed when the run ends.
func (h *RunHandle) Done() <-chan struct{} { return h.done }

// Join waits for the run and returns its error.
func (h *RunHandle) Join() error {
	<-h.done
	return h.err
}

// Wait is Join bounded by ctx. It returns ctx.Err() if ctx ends first.
func (h *RunHandle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
