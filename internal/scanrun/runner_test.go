package scanrun

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opengda/scanning-go/pkg/config"
	"github.com/opengda/scanning-go/pkg/device"
	"github.com/opengda/scanning-go/pkg/persistence"
)

const lineScan = `
name: line
scan:
  - {type: step, name: x, start: 0, stop: 5, step: 1}
devices:
  - {name: x, kind: motor, moveTime: 20ms}
  - {name: det, kind: detector}
`

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testRunner(t *testing.T) *Runner {
	t.Helper()
	file, err := config.Parse([]byte(lineScan))
	require.NoError(t, err)

	r, err := NewLocal(context.Background(), file, nil, quietLogger())
	require.NoError(t, err)
	t.Cleanup(r.Close)
	return r
}

func TestRunnerLocal(t *testing.T) {
	r := testRunner(t)
	assert.Equal(t, device.StateArmed, r.State())
	assert.Equal(t, 6, r.TotalSteps())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, r.Run(ctx, 0))
	assert.Equal(t, 6, r.CompletedSteps())
	assert.Equal(t, device.StateArmed, r.State())
}

func TestRunnerResumesFromStep(t *testing.T) {
	r := testRunner(t)

	var mu sync.Mutex
	var seen []int
	r.current().AddProgressListener(func(ev device.ProgressEvent) {
		mu.Lock()
		seen = append(seen, ev.Completed)
		mu.Unlock()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, r.Run(ctx, 4))
	assert.Equal(t, 6, r.CompletedSteps())

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, seen)
	assert.Equal(t, 6, seen[len(seen)-1])
	// At most the first point runs before the pause lands.
	assert.LessOrEqual(t, len(seen), 3)
}

func TestRunnerCheckpoints(t *testing.T) {
	r := testRunner(t)
	store := persistence.NewCheckpointStore(filepath.Join(t.TempDir(), "cp.json"))
	r.Track(func(d persistence.Tracked) {
		store.Track(d, persistence.Checkpoint{Scan: "line", RunID: "run-1", TotalSteps: 6}, quietLogger())
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, r.Run(ctx, 0))

	cp, err := store.Load()
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, "run-1", cp.RunID)
	assert.Equal(t, 6, cp.CompletedSteps)
	assert.Equal(t, device.StateArmed, cp.State)
	assert.Equal(t, map[string]float64{"x": 5}, cp.Position)
	assert.False(t, cp.Resumable())
}

func TestRunnerCancelAborts(t *testing.T) {
	r := testRunner(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.current().AddProgressListener(func(ev device.ProgressEvent) {
		if ev.Completed == 1 {
			cancel()
		}
	})
	err := r.Run(ctx, 0)
	assert.ErrorIs(t, err, device.ErrAborted)
	assert.Equal(t, device.StateAborted, r.State())
	assert.Less(t, r.CompletedSteps(), 6)
}
