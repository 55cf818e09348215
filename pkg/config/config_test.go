package config

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opengda/scanning-go/pkg/device"
	"github.com/opengda/scanning-go/pkg/log"
	"github.com/opengda/scanning-go/pkg/points"
	"github.com/opengda/scanning-go/pkg/wire"
)

func TestLoad(t *testing.T) {
	f, err := Load(filepath.Join("testdata", "grid.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "grid-demo", f.Name)
	require.Len(t, f.Path, 2)
	assert.Equal(t, "grid", f.Path[1].Type)
	assert.True(t, f.Path[1].Snake)
	assert.Len(t, f.Devices, 5)
	assert.Equal(t, time.Millisecond, f.Devices[4].Exposure)
	assert.Equal(t, "/tmp/grid-demo.json", f.Checkpoint)
	assert.Equal(t, "debug", f.Logging.Level)

	require.NotNil(t, f.Remote)
	assert.Equal(t, TransportTCP, f.Remote.Transport)
	assert.Equal(t, 100*time.Millisecond, f.Remote.Backoff.Initial)
	timeouts := f.Remote.Timeouts()
	assert.Equal(t, 2*time.Second, timeouts.Default)
	assert.Equal(t, 10*time.Minute, timeouts.Configure)

	g, err := f.Generator(nil)
	require.NoError(t, err)
	shape, err := g.Shape()
	require.NoError(t, err)
	assert.Equal(t, []int{3, 5}, shape)
	assert.Equal(t, []string{"T", "y", "x"}, g.Axes())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unnamed", "scan: [{type: step, name: x, start: 0, stop: 1, step: 1}]"},
		{"no path", "name: s"},
		{"unknown key", "name: s\nscna: []"},
		{"unknown model", "name: s\nscan: [{type: zigzag}]"},
		{"untyped model", "name: s\nscan: [{name: x}]"},
		{"zero step", "name: s\nscan: [{type: step, name: x, start: 0, stop: 1, step: 0}]"},
		{"region axis not scanned", "name: s\nscan: [{type: step, name: x, start: 0, stop: 1, step: 1}]\nregions: [{type: range, axis: q, min: 0, max: 1}]"},
		{"bad region", "name: s\nscan: [{type: step, name: x, start: 0, stop: 1, step: 1}]\nregions: [{type: circle, radius: 0}]"},
		{"duplicate device", "name: s\nscan: [{type: static, size: 1}]\ndevices: [{name: a, kind: motor}, {name: a, kind: detector}]"},
		{"bad kind", "name: s\nscan: [{type: static, size: 1}]\ndevices: [{name: a, kind: laser}]"},
		{"bad limits", "name: s\nscan: [{type: static, size: 1}]\ndevices: [{name: a, kind: motor, limits: [2, 1]}]"},
		{"bad transport", "name: s\nscan: [{type: static, size: 1}]\nremote: {transport: carrier-pigeon, address: x}"},
		{"no address", "name: s\nscan: [{type: static, size: 1}]\nremote: {transport: tcp}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SCAN_REMOTE_ADDRESS", "ws://beamline:8080/ws")
	t.Setenv("SCAN_REMOTE_TRANSPORT", TransportWebSocket)
	t.Setenv("SCAN_LOG_LEVEL", "warn")

	f, err := Parse([]byte("name: s\nscan: [{type: static, size: 2}]"))
	require.NoError(t, err)
	require.NotNil(t, f.Remote)
	assert.Equal(t, "ws://beamline:8080/ws", f.Remote.Address)
	assert.Equal(t, TransportWebSocket, f.Remote.Transport)
	assert.Equal(t, "warn", f.Logging.Level)
}

func TestMQTTClientIDDefault(t *testing.T) {
	f, err := Parse([]byte("name: s\nscan: [{type: static, size: 1}]\nremote: {transport: mqtt, address: tcp://broker:1883, device: zebra}"))
	require.NoError(t, err)
	assert.Regexp(t, `^scan-[0-9a-f]{8}$`, f.Remote.ClientID)
	assert.NoError(t, f.Remote.MQTT().Validate())
}

func TestModelSpecBuild(t *testing.T) {
	box := &BoxSpec{FastLength: 1, SlowLength: 1}
	tests := []struct {
		spec ModelSpec
		want points.Model
	}{
		{ModelSpec{Type: "step", Name: "x", Start: 0, Stop: 1, Step: 0.5}, points.Step{Name: "x", Start: 0, Stop: 1, Step: 0.5}},
		{ModelSpec{Type: "Array", Name: "x", Values: []float64{1, 2}}, points.Array{Name: "x", Values: []float64{1, 2}}},
		{ModelSpec{Type: "line", Name: "x", Stop: 1, Points: 3}, points.Line{Name: "x", Stop: 1, Points: 3}},
		{ModelSpec{Type: "repeat", Name: "x", Value: 2, Count: 4}, points.Repeat{Name: "x", Value: 2, Count: 4}},
		{ModelSpec{Type: "static", Size: 3}, points.Static{Size: 3}},
		{
			ModelSpec{Type: "multistep", Name: "e", Steps: []ModelSpec{{Start: 0, Stop: 1, Step: 1}, {Start: 1, Stop: 3, Step: 2}}},
			points.MultiStep{Name: "e", Steps: []points.Step{{Name: "e", Start: 0, Stop: 1, Step: 1}, {Name: "e", Start: 1, Stop: 3, Step: 2}}},
		},
		{
			ModelSpec{Type: "raster", Fast: "x", Slow: "y", Box: box, FastStep: 0.5, SlowStep: 0.5},
			points.Raster{Fast: "x", Slow: "y", Box: &points.BoundingBox{FastLength: 1, SlowLength: 1}, FastStep: 0.5, SlowStep: 0.5},
		},
	}
	for _, tt := range tests {
		t.Run(tt.spec.Type, func(t *testing.T) {
			got, err := tt.spec.Build()
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.NoError(t, got.Validate())
		})
	}

	_, err := ModelSpec{Type: "multistep", Steps: []ModelSpec{{Type: "grid"}}}.Build()
	assert.Error(t, err)
}

func TestRegionSpecBuild(t *testing.T) {
	r, err := RegionSpec{Type: "rectangle", Axes: []string{"a", "b"}, X: 1, Y: 2, Width: 3, Height: 4}.Build()
	require.NoError(t, err)
	assert.Equal(t, points.Rectangle{X: "a", Y: "b", XStart: 1, YStart: 2, XLength: 3, YLength: 4}, r)

	r, err = RegionSpec{Type: "polygon", Vertices: [][2]float64{{0, 0}, {1, 0}, {0, 1}}}.Build()
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y"}, r.Axes())

	_, err = RegionSpec{Type: "ellipse", Axes: []string{"x"}}.Build()
	assert.Error(t, err)
	_, err = RegionSpec{Type: "range", Axis: "x", Min: 2, Max: 1}.Build()
	assert.Error(t, err)
}

func TestRegistryAndPrepare(t *testing.T) {
	f, err := Load(filepath.Join("testdata", "grid.yaml"))
	require.NoError(t, err)
	ctx := context.Background()

	reg, err := f.Registry(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"T", "det", "ring", "x", "y"}, reg.Names())

	det, err := reg.Runnable("det")
	require.NoError(t, err)
	assert.Equal(t, device.StateArmed, det.State())

	x, err := reg.Device("x")
	require.NoError(t, err)
	assert.True(t, x.Capabilities().Has(device.CapLimits))

	ring, err := reg.Device("ring")
	require.NoError(t, err)
	assert.Equal(t, device.MonitorPerScan, ring.MonitorRole())

	// A detector left ABORTED is armed again.
	require.NoError(t, det.Abort(ctx))
	m, err := f.Prepare(ctx, reg, nil)
	require.NoError(t, err)
	assert.Equal(t, "grid-demo", m.Name)
	require.Len(t, m.Detectors, 1)
	assert.Equal(t, device.StateArmed, det.State())
	require.Len(t, m.Monitors, 1)
	size, err := m.Points.Size()
	require.NoError(t, err)
	assert.Equal(t, 15, size)

	f.Detectors = []string{"missing"}
	_, err = f.Prepare(ctx, reg, nil)
	assert.ErrorIs(t, err, device.ErrNotFound)
}

func TestScanSurvivesTheWire(t *testing.T) {
	f, err := Load(filepath.Join("testdata", "grid.yaml"))
	require.NoError(t, err)

	data, err := wire.Marshal(&f.Scan)
	require.NoError(t, err)
	var args any
	require.NoError(t, wire.Unmarshal(data, &args))

	s, err := DecodeScan(args)
	require.NoError(t, err)
	assert.Equal(t, f.Scan, *s)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	l := newLogger(LoggingConfig{Level: "warn", Format: "json"}, &buf)
	l.Info("hidden")
	l.Warn("shown", "k", 1)
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)

	assert.Equal(t, ParseLevel("bogus"), ParseLevel("info"))
}

func TestOpenTrace(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(LoggingConfig{Level: "debug"}, &buf)

	trace, closeTrace, err := LoggingConfig{Level: "info"}.OpenTrace("", logger)
	require.NoError(t, err)
	assert.Nil(t, trace)
	assert.NoError(t, closeTrace())

	path := filepath.Join(t.TempDir(), "trace.log")
	trace, closeTrace, err = LoggingConfig{Level: "debug"}.OpenTrace(path, logger)
	require.NoError(t, err)
	require.NotNil(t, trace)
	log.Emit(trace, log.Event{Device: "det", Layer: log.LayerDevice})
	require.NoError(t, closeTrace())

	assert.Contains(t, buf.String(), "device=det")
	r, err := log.NewReader(path)
	require.NoError(t, err)
	defer r.Close()
	events, err := r.All()
	require.NoError(t, err)
	assert.Len(t, events, 1)
}
