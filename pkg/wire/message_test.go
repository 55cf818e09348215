package wire

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
	}{
		{
			name: "get",
			msg:  Message{ID: 1, Type: TypeGet, Endpoint: "state"},
		},
		{
			name: "call with arguments",
			msg: Message{ID: 2, Type: TypeCall, Method: MethodConfigure, Arguments: map[string]any{
				"exposure": 0.1,
				"axes":     []any{"x", "y"},
			}},
		},
		{
			name: "update",
			msg:  *Update(3, 7, "Armed"),
		},
		{
			name: "error",
			msg:  *Failure(4, errors.New("device busy")),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := Encode(&tt.msg)
			require.NoError(t, err)

			got, err := Decode(data)
			require.NoError(t, err)
			assert.Equal(t, tt.msg, *got)
		})
	}
}

func TestMethodEncodedLowerCase(t *testing.T) {
	data, err := Encode(&Message{ID: 9, Type: TypeCall, Method: MethodRun})
	require.NoError(t, err)

	var raw map[int]any
	require.NoError(t, Unmarshal(data, &raw))
	assert.Equal(t, "run", raw[4])
	assert.NotContains(t, raw, 3, "empty endpoint must be omitted")
}

func TestMethodOmittedWhenUnset(t *testing.T) {
	data, err := Encode(&Message{ID: 1, Type: TypeSubscribe, Endpoint: "state"})
	require.NoError(t, err)

	var raw map[int]any
	require.NoError(t, Unmarshal(data, &raw))
	assert.NotContains(t, raw, 4)
}

func TestDecodeUnknownMethod(t *testing.T) {
	data, err := Marshal(map[int]any{1: 1, 2: uint8(TypeCall), 4: "explode"})
	require.NoError(t, err)

	_, err = Decode(data)
	assert.ErrorContains(t, err, `unknown method "explode"`)
}

func TestParseMethod(t *testing.T) {
	for _, m := range Methods() {
		got, err := ParseMethod(m.String())
		require.NoError(t, err)
		assert.Equal(t, m, got)
	}

	got, err := ParseMethod("ABORT")
	require.NoError(t, err)
	assert.Equal(t, MethodAbort, got)

	assert.Len(t, Methods(), 8)
	assert.Equal(t, "unknown", Method(0).String())
}

func TestMessageValidate(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
		ok   bool
	}{
		{"zero id", Message{Type: TypeGet, Endpoint: "state"}, false},
		{"unknown type", Message{ID: 1, Type: 42}, false},
		{"get of the whole device", Message{ID: 1, Type: TypeGet}, true},
		{"subscribe without endpoint", Message{ID: 1, Type: TypeSubscribe}, false},
		{"call without method", Message{ID: 1, Type: TypeCall}, false},
		{"error without text", Message{ID: 1, Type: TypeError}, false},
		{"unsubscribe", Message{ID: 1, Type: TypeUnsubscribe}, true},
		{"return without value", Message{ID: 1, Type: TypeReturn}, true},
		{"call", Message{ID: 1, Type: TypeCall, Method: MethodAbort}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.msg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidMessage)
			}
		})
	}
}

func TestMessageString(t *testing.T) {
	assert.Equal(t, "CALL#3 run", (&Message{ID: 3, Type: TypeCall, Method: MethodRun}).String())
	assert.Equal(t, "SUBSCRIBE#4 state", (&Message{ID: 4, Type: TypeSubscribe, Endpoint: "state"}).String())
	assert.Equal(t, "ERROR#5: boom", (&Message{ID: 5, Type: TypeError, Error: "boom"}).String())
}

func TestMessageTypeClasses(t *testing.T) {
	assert.True(t, TypeCall.IsRequest())
	assert.False(t, TypeCall.IsReply())
	assert.True(t, TypeUpdate.IsReply())

	typ, err := ParseMessageType("unsubscribe")
	require.NoError(t, err)
	assert.Equal(t, TypeUnsubscribe, typ)
}

func TestConvert(t *testing.T) {
	var dst struct {
		Exposure float64 `cbor:"exposure"`
		Frames   int     `cbor:"frames"`
	}
	require.NoError(t, Convert(map[string]any{"exposure": 0.5, "frames": uint64(3)}, &dst))
	assert.Equal(t, 0.5, dst.Exposure)
	assert.Equal(t, 3, dst.Frames)
}
