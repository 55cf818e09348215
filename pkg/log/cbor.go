package log

import (
	"fmt"
	"io"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// Trace files hold a plain sequence of CBOR events, one per data item.
// Message payloads are scan models and device values, so the decoder
// bounds nesting and container sizes to survive a damaged file.
const (
	maxPayloadDepth = 32
	maxPayloadItems = 1 << 16
)

type traceCodec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

var codec = mustTraceCodec()

func mustTraceCodec() traceCodec {
	enc, err := cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeRFC3339Nano,
	}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("trace encoder: %v", err))
	}
	dec, err := cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyQuiet,
		IndefLength:       cbor.IndefLengthAllowed,
		ExtraReturnErrors: cbor.ExtraDecErrorNone,
		DefaultMapType:    reflect.TypeOf(map[string]any(nil)),
		MaxNestedLevels:   maxPayloadDepth,
		MaxArrayElements:  maxPayloadItems,
		MaxMapPairs:       maxPayloadItems,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("trace decoder: %v", err))
	}
	return traceCodec{enc: enc, dec: dec}
}

// EncodeEvent returns the trace encoding of event.
func EncodeEvent(event Event) ([]byte, error) {
	return codec.enc.Marshal(event)
}

// DecodeEvent parses one trace entry.
func DecodeEvent(data []byte) (Event, error) {
	var event Event
	err := codec.dec.Unmarshal(data, &event)
	return event, err
}

func newTraceEncoder(w io.Writer) *cbor.Encoder { return codec.enc.NewEncoder(w) }

func newTraceDecoder(r io.Reader) *cbor.Decoder { return codec.dec.NewDecoder(r) }
