package malcolm

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opengda/scanning-go/pkg/device"
	"github.com/opengda/scanning-go/pkg/transport"
	"github.com/opengda/scanning-go/pkg/wire"
)

func decodeDetectorModel(args any) (any, error) {
	var m device.DetectorModel
	if err := wire.Convert(args, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// serve connects a new connector to a server for dev over a pipe.
func serve(t *testing.T, dev device.RunnableDevice) (*Server, *Connector) {
	t.Helper()
	srv := NewServer(dev, WithModelDecoder(decodeDetectorModel))
	client, server := transport.Pipe(transport.Config{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.ServeConn(ctx, server)
	}()

	c := NewConnector(client, WithIDs(&IDCounter{}), WithDeviceName(dev.Name()))
	t.Cleanup(func() {
		c.Close()
		cancel()
		<-done
		srv.Wait()
	})
	return srv, c
}

func TestServerGet(t *testing.T) {
	det := device.NewDetector("det")
	_, c := serve(t, det)
	ctx := testCtx(t)

	v, err := c.Get(ctx, EndpointState)
	require.NoError(t, err)
	assert.Equal(t, "Ready", v)

	v, err = c.Get(ctx, EndpointBusy)
	require.NoError(t, err)
	assert.Equal(t, false, v)

	v, err = c.Get(ctx, EndpointHealth)
	require.NoError(t, err)
	assert.Equal(t, "OK", v)

	v, err = c.Get(ctx, "")
	require.NoError(t, err)
	all, ok := v.(map[string]any)
	require.True(t, ok, "got %T", v)
	assert.Equal(t, "det", all["name"])
	assert.Equal(t, "Ready", all[EndpointState])

	_, err = c.Get(ctx, "temperature")
	var pe *ProtocolError
	require.ErrorAs(t, err, &pe)
	assert.Contains(t, pe.Remote, "not found")
}

func TestServerCallReturnsState(t *testing.T) {
	det := device.NewDetector("det")
	_, c := serve(t, det)
	ctx := testCtx(t)

	v, err := c.Call(ctx, wire.MethodConfigure, device.DetectorModel{Exposure: time.Millisecond}, device.StateArmed)
	require.NoError(t, err)
	assert.Equal(t, "Armed", v)
	assert.Equal(t, device.DetectorModel{Exposure: time.Millisecond}, det.Model())

	v, err = c.Call(ctx, wire.MethodRun, nil)
	require.NoError(t, err)
	assert.Equal(t, "Armed", v)
	assert.Equal(t, int64(1), det.Frames())

	_, err = c.Call(ctx, wire.MethodValidate, device.DetectorModel{Exposure: -time.Second})
	var pe *ProtocolError
	require.ErrorAs(t, err, &pe)
	assert.Contains(t, pe.Remote, "invalid device model")
}

func TestServerPauseUnsupported(t *testing.T) {
	_, c := serve(t, device.NewDetector("det"))
	_, err := c.Call(testCtx(t), wire.MethodPause, nil)
	var pe *ProtocolError
	require.ErrorAs(t, err, &pe)
	assert.Contains(t, pe.Remote, "not supported")
}

func TestServerPushesStateChanges(t *testing.T) {
	det := device.NewDetector("det")
	_, c := serve(t, det)
	ctx := testCtx(t)

	var mu sync.Mutex
	var states []any
	var seqs []uint64
	_, err := c.Subscribe(ctx, EndpointState, func(seq uint64, v any) {
		mu.Lock()
		defer mu.Unlock()
		seqs = append(seqs, seq)
		states = append(states, v)
	})
	require.NoError(t, err)

	require.NoError(t, det.Configure(ctx, device.DetectorModel{}))
	require.NoError(t, det.Run(ctx, nil))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(states) > 0 && states[len(states)-1] == "Armed" && len(states) >= 5
	}, 2*time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "Ready", states[0])
	for i := 1; i < len(seqs); i++ {
		assert.Greater(t, seqs[i], seqs[i-1])
	}
}

func TestServerUnsubscribe(t *testing.T) {
	_, c := serve(t, device.NewDetector("det"))
	ctx := testCtx(t)

	sub, err := c.Subscribe(ctx, EndpointBusy, func(uint64, any) {})
	require.NoError(t, err)
	require.NoError(t, c.Unsubscribe(ctx, sub))

	err = c.Unsubscribe(ctx, sub)
	var pe *ProtocolError
	require.ErrorAs(t, err, &pe)
	assert.Contains(t, pe.Remote, "not found")
}

func TestServerOverTCP(t *testing.T) {
	det := device.NewDetector("det")
	srv := NewServer(det, WithModelDecoder(decodeDetectorModel))

	ln, err := transport.Listen("127.0.0.1:0", transport.Config{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- srv.Serve(ctx, ln) }()

	conn, err := transport.Dial(testCtx(t), ln.Addr(), transport.Config{})
	require.NoError(t, err)
	c := NewConnector(conn, WithIDs(&IDCounter{}))

	v, err := c.Call(testCtx(t), wire.MethodConfigure, device.DetectorModel{Exposure: time.Millisecond})
	require.NoError(t, err)
	assert.Equal(t, "Armed", v)

	require.NoError(t, c.Close())
	cancel()
	require.NoError(t, ln.Close())
	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
	}
}
