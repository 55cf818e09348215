package transport

import (
	"bytes"
	"encoding/binary"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opengda/scanning-go/pkg/log"
)

func TestFrameRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
	}{
		{"single byte", []byte{0x42}},
		{"cbor map", []byte{0xa2, 0x01, 0x03, 0x02, 0x02}},
		{"kilobytes", bytes.Repeat([]byte("p"), 4000)},
		{"at limit", bytes.Repeat([]byte("m"), DefaultMaxMessageSize)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, NewFrameWriter(&buf).WriteFrame(tt.payload))
			assert.Equal(t, FrameSize(len(tt.payload)), buf.Len())

			got, err := NewFrameReader(&buf).ReadFrame()
			require.NoError(t, err)
			assert.True(t, bytes.Equal(tt.payload, got))
		})
	}
}

func TestFrameSequenceEndsWithEOF(t *testing.T) {
	var buf bytes.Buffer
	w := NewFrameWriter(&buf)
	for _, s := range []string{"configure", "run", "abort"} {
		require.NoError(t, w.WriteFrame([]byte(s)))
	}

	r := NewFrameReader(&buf)
	for _, want := range []string{"configure", "run", "abort"} {
		got, err := r.ReadFrame()
		require.NoError(t, err)
		assert.Equal(t, want, string(got))
	}
	_, err := r.ReadFrame()
	assert.Equal(t, io.EOF, err)
}

func prefix(n uint32) []byte {
	var b [LengthPrefixSize]byte
	binary.BigEndian.PutUint32(b[:], n)
	return b[:]
}

func TestFrameErrors(t *testing.T) {
	t.Run("write empty", func(t *testing.T) {
		w := NewFrameWriter(io.Discard)
		assert.ErrorIs(t, w.WriteFrame(nil), ErrMessageEmpty)
		assert.ErrorIs(t, w.WriteFrame([]byte{}), ErrMessageEmpty)
	})
	t.Run("write too large", func(t *testing.T) {
		w := NewFrameWriterWithMaxSize(io.Discard, 8)
		assert.ErrorIs(t, w.WriteFrame(make([]byte, 9)), ErrMessageTooLarge)
	})

	reads := []struct {
		name  string
		input []byte
		max   uint32
		want  error
	}{
		{"zero length", prefix(0), DefaultMaxMessageSize, ErrMessageEmpty},
		{"length over limit", append(prefix(64), make([]byte, 64)...), 32, ErrMessageTooLarge},
		{"short prefix", []byte{0x00, 0x01}, DefaultMaxMessageSize, ErrFrameTruncated},
		{"short payload", append(prefix(10), "abc"...), DefaultMaxMessageSize, ErrFrameTruncated},
		{"prefix only", prefix(3), DefaultMaxMessageSize, ErrFrameTruncated},
	}
	for _, tt := range reads {
		t.Run("read "+tt.name, func(t *testing.T) {
			_, err := NewFrameReaderWithMaxSize(bytes.NewReader(tt.input), tt.max).ReadFrame()
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

// recorder collects trace events.
type recorder struct {
	mu     sync.Mutex
	events []log.Event
}

func (r *recorder) Log(e log.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) Events() []log.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]log.Event(nil), r.events...)
}

func TestFramerTracesBothDirections(t *testing.T) {
	var buf bytes.Buffer
	rec := &recorder{}
	f := NewFramer(&buf)
	f.SetLogger(rec, "conn-1")

	require.NoError(t, f.WriteFrame([]byte("hello")))
	_, err := f.ReadFrame()
	require.NoError(t, err)

	events := rec.Events()
	require.Len(t, events, 2)
	assert.Equal(t, log.DirectionOut, events[0].Direction)
	assert.Equal(t, log.DirectionIn, events[1].Direction)
	for _, e := range events {
		assert.Equal(t, "conn-1", e.ConnectionID)
		assert.Equal(t, log.LayerTransport, e.Layer)
		require.NotNil(t, e.Frame)
		assert.Equal(t, FrameSize(5), e.Frame.Size)
		assert.Equal(t, []byte("hello"), e.Frame.Data)
		assert.False(t, e.Timestamp.IsZero())
	}
}

func TestFrameTraceTruncatesLargePayloads(t *testing.T) {
	rec := &recorder{}
	w := NewFrameWriter(io.Discard)
	w.SetLogger(rec, "conn-big")

	payload := bytes.Repeat([]byte("z"), 3*log.MaxFrameData)
	require.NoError(t, w.WriteFrame(payload))

	events := rec.Events()
	require.Len(t, events, 1)
	assert.Equal(t, FrameSize(len(payload)), events[0].Frame.Size)
	assert.Len(t, events[0].Frame.Data, log.MaxFrameData)
	assert.True(t, events[0].Frame.Truncated)
}

func TestFramerWithoutLogger(t *testing.T) {
	var buf bytes.Buffer
	f := NewFramer(&buf)
	require.NoError(t, f.WriteFrame([]byte("quiet")))
	f.SetLogger(nil, "ignored")
	require.NoError(t, f.WriteFrame([]byte("still quiet")))
	_, err := f.ReadFrame()
	assert.NoError(t, err)
}

func BenchmarkFrameWrite(b *testing.B) {
	w := NewFrameWriter(io.Discard)
	payload := bytes.Repeat([]byte("x"), 1000)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = w.WriteFrame(payload)
	}
}
