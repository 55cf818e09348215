package device

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/opengda/scanning-go/pkg/points"
)

type scanFixture struct {
	acq   *AcquisitionDevice
	det   *Detector
	x     *Scannable
	model *AcquisitionModel
}

func newScan(t *testing.T, n int, exposure time.Duration) *scanFixture {
	t.Helper()
	reg := NewRegistry()
	x := NewScannable("x")
	require.NoError(t, reg.Register(x))

	det := NewDetector("det")
	require.NoError(t, det.Configure(context.Background(), DetectorModel{Exposure: exposure}))

	return &scanFixture{
		acq: NewAcquisitionDevice("scan", reg),
		det: det,
		x:   x,
		model: &AcquisitionModel{
			Name:      "line",
			Points:    points.New(points.Step{Name: "x", Start: 0, Stop: float64(n - 1), Step: 1}),
			Detectors: []RunnableDevice{det},
		},
	}
}

func (f *scanFixture) configure(t *testing.T) {
	t.Helper()
	require.NoError(t, f.acq.Configure(context.Background(), f.model))
	require.Equal(t, StateArmed, f.acq.State())
}

func TestRunWhileReadyFails(t *testing.T) {
	f := newScan(t, 3, 0)

	err := f.acq.Run(context.Background(), nil)
	assert.ErrorIs(t, err, ErrIllegalState)
	assert.Equal(t, StateReady, f.acq.State())
	assert.Zero(t, f.det.Frames())
}

func TestRunCompletes(t *testing.T) {
	f := newScan(t, 5, 0)
	f.configure(t)

	var mu sync.Mutex
	var progress []int
	var states []State
	f.acq.AddProgressListener(func(ev ProgressEvent) {
		mu.Lock()
		progress = append(progress, ev.Completed)
		mu.Unlock()
	})
	f.acq.AddStateListener(func(ev StateEvent) {
		mu.Lock()
		states = append(states, ev.New)
		mu.Unlock()
	})

	require.NoError(t, f.acq.Run(context.Background(), nil))

	assert.Equal(t, StateArmed, f.acq.State())
	assert.Equal(t, 5, f.acq.CompletedSteps())
	assert.Equal(t, int64(5), f.det.Frames())
	assert.Equal(t, StateArmed, f.det.State())
	assert.False(t, f.acq.Busy())

	v, err := f.x.Position()
	require.NoError(t, err)
	assert.Equal(t, 4.0, v)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{1, 2, 3, 4, 5}, progress)
	assert.Equal(t, []State{StateRunning, StatePostRun, StateArmed}, states)
}

func TestRunTwice(t *testing.T) {
	f := newScan(t, 3, 0)
	f.configure(t)

	require.NoError(t, f.acq.Run(context.Background(), nil))
	require.NoError(t, f.acq.Run(context.Background(), nil))
	assert.Equal(t, int64(6), f.det.Frames())
}

func TestAbortDuringSlowRun(t *testing.T) {
	f := newScan(t, 100, 20*time.Millisecond)
	f.configure(t)

	h := f.acq.Start(context.Background(), nil)
	require.Eventually(t, func() bool { return f.acq.CompletedSteps() >= 1 }, 2*time.Second, time.Millisecond)

	require.NoError(t, f.acq.Abort(context.Background()))
	assert.Equal(t, StateAborted, f.acq.State())

	err := h.Join()
	assert.ErrorIs(t, err, ErrAborted)
	assert.Less(t, f.acq.CompletedSteps(), 100)
	assert.ErrorIs(t, f.acq.Latch(context.Background()), ErrAborted)

	require.NoError(t, f.acq.Reset(context.Background()))
	assert.Equal(t, StateReady, f.acq.State())
	assert.Equal(t, StateReady, f.det.State())
}

func TestAbortWhilePaused(t *testing.T) {
	f := newScan(t, 50, 2*time.Millisecond)
	f.configure(t)

	h := f.acq.Start(context.Background(), nil)
	require.Eventually(t, func() bool { return f.acq.CompletedSteps() >= 1 }, 2*time.Second, time.Millisecond)
	require.NoError(t, f.acq.Pause(context.Background()))

	require.NoError(t, f.acq.Abort(context.Background()))
	assert.ErrorIs(t, h.Join(), ErrAborted)
	assert.Equal(t, StateAborted, f.acq.State())
}

func joinWithin(t *testing.T, h *RunHandle, d time.Duration) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	err := h.Wait(ctx)
	require.NotErrorIs(t, err, context.DeadlineExceeded, "run did not return")
	return err
}

func TestDisableWhilePausedEndsRun(t *testing.T) {
	f := newScan(t, 50, 2*time.Millisecond)
	f.configure(t)

	h := f.acq.Start(context.Background(), nil)
	require.Eventually(t, func() bool { return f.acq.CompletedSteps() >= 1 }, 2*time.Second, time.Millisecond)
	require.NoError(t, f.acq.Pause(context.Background()))

	require.NoError(t, f.acq.Disable(context.Background()))
	assert.ErrorIs(t, joinWithin(t, h, 2*time.Second), ErrAborted)
	assert.Equal(t, StateDisabled, f.acq.State())
	assert.False(t, f.acq.Busy())
}

func TestConfigureWhilePausedEndsRun(t *testing.T) {
	f := newScan(t, 50, 2*time.Millisecond)
	f.configure(t)

	first := f.acq.Start(context.Background(), nil)
	require.Eventually(t, func() bool { return f.acq.CompletedSteps() >= 1 }, 2*time.Second, time.Millisecond)
	require.NoError(t, f.acq.Pause(context.Background()))

	f.model.Points = points.New(points.Step{Name: "x", Start: 0, Stop: 2, Step: 1})
	f.configure(t)
	assert.ErrorIs(t, joinWithin(t, first, 2*time.Second), ErrAborted)
	assert.Equal(t, StateArmed, f.acq.State())

	frames := f.det.Frames()
	second := f.acq.Start(context.Background(), nil)
	require.NoError(t, joinWithin(t, second, 2*time.Second))
	assert.Equal(t, 3, f.acq.CompletedSteps())
	assert.Equal(t, frames+3, f.det.Frames(), "only the new run drives the detector")
}

func TestPauseResumeSeek(t *testing.T) {
	f := newScan(t, 20, 2*time.Millisecond)
	f.configure(t)
	ctx := context.Background()

	assert.ErrorIs(t, f.acq.Pause(ctx), ErrIllegalState, "not running")

	h := f.acq.Start(ctx, nil)
	require.Eventually(t, func() bool { return f.acq.CompletedSteps() >= 2 }, 2*time.Second, time.Millisecond)

	require.NoError(t, f.acq.Pause(ctx))
	assert.Equal(t, StatePaused, f.acq.State())

	// The position in flight may still complete.
	time.Sleep(20 * time.Millisecond)
	held := f.acq.CompletedSteps()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, held, f.acq.CompletedSteps(), "no progress while paused")

	assert.ErrorIs(t, f.acq.Seek(ctx, 21), ErrOutOfRange)
	require.NoError(t, f.acq.Seek(ctx, 15))
	assert.Equal(t, 15, f.acq.CompletedSteps())

	require.NoError(t, f.acq.Resume(ctx))
	require.NoError(t, h.Join())

	assert.Equal(t, StateArmed, f.acq.State())
	assert.Equal(t, 20, f.acq.CompletedSteps())
	assert.Equal(t, int64(held+5), f.det.Frames())
	assert.ErrorIs(t, f.acq.Seek(ctx, 0), ErrIllegalState, "not paused")
}

func TestCancelledContextAborts(t *testing.T) {
	f := newScan(t, 100, 10*time.Millisecond)
	f.configure(t)

	ctx, cancel := context.WithCancel(context.Background())
	h := f.acq.Start(ctx, nil)
	require.Eventually(t, func() bool { return f.acq.CompletedSteps() >= 1 }, 2*time.Second, time.Millisecond)
	cancel()

	assert.ErrorIs(t, h.Join(), ErrAborted)
	assert.Equal(t, StateAborted, f.acq.State())
}

func TestDetectorFailureFaultsScan(t *testing.T) {
	f := newScan(t, 5, 0)
	f.det.SetReadout(func(_ context.Context, pos *points.Position) error {
		if pos.StepIndex == 2 {
			return errors.New("readout overrun")
		}
		return nil
	})
	f.configure(t)

	err := f.acq.Run(context.Background(), nil)
	require.Error(t, err)
	assert.ErrorContains(t, err, "readout overrun")
	assert.Equal(t, StateFault, f.acq.State())
	assert.Contains(t, f.acq.Health(), "step 2")
	assert.Equal(t, StateFault, f.det.State())
	assert.Equal(t, 2, f.acq.CompletedSteps())

	require.NoError(t, f.acq.Reset(context.Background()))
	assert.Equal(t, StateReady, f.det.State())
}

func TestConfigureRequiresArmedDetectors(t *testing.T) {
	f := newScan(t, 3, 0)
	require.NoError(t, f.det.Reset(context.Background()))

	err := f.acq.Configure(context.Background(), f.model)
	assert.ErrorContains(t, err, `detector "det" is READY, not ARMED`)
	assert.Equal(t, StateFault, f.acq.State())
}

func TestConfigureRejectsBadModel(t *testing.T) {
	f := newScan(t, 3, 0)

	err := f.acq.Configure(context.Background(), "grid please")
	assert.ErrorIs(t, err, ErrInvalidModel)
	assert.Equal(t, StateReady, f.acq.State())

	bad := &AcquisitionModel{Points: points.New(points.Step{Name: "x", Start: 0, Stop: 1, Step: 0})}
	err = f.acq.Validate(context.Background(), bad)
	assert.ErrorIs(t, err, points.ErrInvalidModel)
}

func TestConfigureDescribesScan(t *testing.T) {
	f := newScan(t, 4, 0)
	temp := NewScannable("temp", WithMonitorRole(MonitorPerScan), WithInitialPosition(295))
	f.model.Monitors = []Device{temp}
	f.configure(t)

	info, ok := f.det.NexusInfo()
	require.True(t, ok)
	assert.Equal(t, []int{4}, info.Shape)
	assert.Equal(t, 1, info.Rank)
	assert.Equal(t, 4, info.Size)
	assert.Equal(t, []string{"x"}, info.Scannables)
	assert.Equal(t, []string{"det"}, info.Detectors)
	assert.Equal(t, info, f.acq.ScanInfo())

	assert.Equal(t, map[string]float64{"temp": 295}, f.acq.ScanReadings())
	assert.Equal(t, 4, f.acq.TotalSteps())
}

// nexusMonitor is a monitor that also writes to the scan file.
type nexusMonitor struct {
	*Scannable
	mock.Mock
}

func (m *nexusMonitor) PrepareNexus(info ScanInfo) error {
	return m.Called(info).Error(0)
}

func TestConfigureCallsNexusProviders(t *testing.T) {
	f := newScan(t, 3, 0)
	mon := &nexusMonitor{Scannable: NewScannable("ring", WithMonitorRole(MonitorPerPoint))}
	mon.On("PrepareNexus", mock.MatchedBy(func(info ScanInfo) bool {
		return info.Size == 3 && info.Name == "line"
	})).Return(nil).Once()
	f.model.Monitors = []Device{mon}

	f.configure(t)
	mon.AssertExpectations(t)
}

func TestConfigureFailsWhenNexusProviderFails(t *testing.T) {
	f := newScan(t, 3, 0)
	mon := &nexusMonitor{Scannable: NewScannable("ring", WithMonitorRole(MonitorPerPoint))}
	mon.On("PrepareNexus", mock.Anything).Return(errors.New("disk full"))
	f.model.Monitors = []Device{mon}

	err := f.acq.Configure(context.Background(), f.model)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, StateFault, f.acq.State())
	mon.AssertNumberOfCalls(t, "PrepareNexus", 1)
}

func TestStartLatch(t *testing.T) {
	f := newScan(t, 3, time.Millisecond)
	f.configure(t)

	f.acq.Start(context.Background(), nil)
	done, err := f.acq.LatchTimeout(context.Background(), 2*time.Second)
	assert.True(t, done)
	assert.NoError(t, err)
	assert.Equal(t, StateArmed, f.acq.State())
}
