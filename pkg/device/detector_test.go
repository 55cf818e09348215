package device

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectorLifecycle(t *testing.T) {
	d := NewDetector("det")
	ctx := context.Background()

	assert.ErrorIs(t, d.Run(ctx, nil), ErrIllegalState)
	assert.ErrorIs(t, d.Configure(ctx, DetectorModel{Exposure: -time.Second}), ErrInvalidModel)
	assert.ErrorIs(t, d.Configure(ctx, 42), ErrInvalidModel)
	assert.Equal(t, StateReady, d.State())

	require.NoError(t, d.Configure(ctx, &DetectorModel{Exposure: time.Millisecond}))
	assert.Equal(t, StateArmed, d.State())
	assert.Equal(t, DetectorModel{Exposure: time.Millisecond}, d.Model())

	require.NoError(t, d.Run(ctx, nil))
	assert.Equal(t, int64(1), d.Frames())
	assert.Equal(t, StateArmed, d.State())

	require.NoError(t, d.Disable(ctx))
	assert.Equal(t, StateDisabled, d.State())
	require.NoError(t, d.Reset(ctx))
	assert.Equal(t, StateReady, d.State())
}

func TestDetectorAbortExposure(t *testing.T) {
	d := NewDetector("det")
	ctx := context.Background()
	require.NoError(t, d.Configure(ctx, DetectorModel{Exposure: time.Minute}))

	h := d.Start(ctx, nil)
	require.Eventually(t, d.Busy, time.Second, time.Millisecond)

	require.NoError(t, d.Abort(ctx))
	assert.Equal(t, StateAborted, d.State())
	assert.ErrorIs(t, h.Join(), ErrAborted)
	assert.Zero(t, d.Frames())
}
