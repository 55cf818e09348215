package device

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opengda/scanning-go/pkg/points"
)

func TestScannableLimits(t *testing.T) {
	s := NewScannable("x", WithLimits(-1, 1))
	ctx := context.Background()

	require.NoError(t, s.SetPosition(ctx, 1, nil))
	err := s.SetPosition(ctx, 1.5, nil)
	assert.ErrorIs(t, err, ErrOutOfRange)

	v, _ := s.Position()
	assert.Equal(t, 1.0, v, "rejected move must not change the position")
}

func TestScannableTimeout(t *testing.T) {
	s := NewScannable("x", WithTimeout(5*time.Millisecond), WithMoveTime(time.Second))
	err := s.SetPosition(context.Background(), 3, nil)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestScannableCapabilities(t *testing.T) {
	assert.Equal(t, "none", NewScannable("x").Capabilities().String())

	s := NewScannable("x", WithTolerance(0.1), WithTimeout(time.Second))
	assert.True(t, s.Capabilities().Has(CapTolerance))
	assert.False(t, s.Capabilities().Has(CapLimits))
	assert.Equal(t, "tolerance|timeout", s.Capabilities().String())
	assert.Equal(t, Caps(CapTolerance, CapTimeout), s.Capabilities())
}

func TestScannablePositionListener(t *testing.T) {
	s := NewScannable("x")
	var got []PositionEvent
	s.AddPositionListener(func(ev PositionEvent) { got = append(got, ev) })

	pos := points.NewPoint("x", 3, 1.5)
	require.NoError(t, s.SetPosition(context.Background(), 1.5, pos))

	require.Len(t, got, 1)
	assert.Equal(t, PositionEvent{Device: "x", Value: 1.5, Point: pos}, got[0])
}

func TestScannableActivation(t *testing.T) {
	s := NewScannable("x")
	assert.True(t, s.Activated())
	s.SetActivated(false)
	assert.False(t, s.Activated())
	assert.Equal(t, MonitorPerPoint, s.MonitorRole())
}

func TestAttributeBag(t *testing.T) {
	b := NewAttributeBag()
	require.NoError(t, b.Set("units", "mm"))
	require.NoError(t, b.Set("offset", float32(0.5)))
	require.NoError(t, b.Set("counts", 7))
	require.NoError(t, b.Set("inverted", true))
	require.NoError(t, b.Set("settle", 50*time.Millisecond))

	units, ok := b.Text("units")
	assert.True(t, ok)
	assert.Equal(t, "mm", units)

	offset, ok := b.Float("offset")
	assert.True(t, ok)
	assert.Equal(t, 0.5, offset)

	counts, ok := b.Int("counts")
	assert.True(t, ok)
	assert.Equal(t, int64(7), counts)

	_, ok = b.Float("counts")
	assert.False(t, ok, "wrong kind")

	_, ok = b.Bool("missing")
	assert.False(t, ok)

	settle, ok := Lookup[time.Duration](b, "settle")
	assert.True(t, ok)
	assert.Equal(t, 50*time.Millisecond, settle)

	a, ok := b.Get("inverted")
	require.True(t, ok)
	assert.Equal(t, KindBool, a.Kind)
	assert.Equal(t, true, a.Value())

	assert.Equal(t, []string{"counts", "inverted", "offset", "settle", "units"}, b.Names())

	b.Delete("units")
	_, ok = b.Get("units")
	assert.False(t, ok)

	assert.ErrorIs(t, b.Set("bad", []int{1}), ErrUnsupported)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(NewScannable("x")))
	require.NoError(t, r.RegisterRunnable(NewDetector("det")))

	assert.Error(t, r.Register(NewScannable("x")))
	assert.Error(t, r.Register(NewScannable("det")), "names are shared")
	assert.Error(t, r.Register(NewScannable("")))

	_, err := r.Device("y")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = r.Runnable("x")
	assert.ErrorIs(t, err, ErrNotFound)

	det, err := r.Runnable("det")
	require.NoError(t, err)
	assert.Equal(t, "det", det.Name())

	assert.Equal(t, []string{"det", "x"}, r.Names())
	assert.Len(t, r.Runnables(), 1)
}
