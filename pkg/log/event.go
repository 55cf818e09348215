package log

import (
	"time"

	"github.com/opengda/scanning-go/pkg/wire"
)

// Event is one entry of a protocol trace. Exactly one of the payload
// pointers is set.
type Event struct {
	Timestamp time.Time `cbor:"1,keyasint"`

	// ConnectionID identifies the connection (UUID). Empty for device
	// events that are not tied to a connection.
	ConnectionID string `cbor:"2,keyasint,omitempty"`

	Direction Direction `cbor:"3,keyasint"`
	Layer     Layer     `cbor:"4,keyasint"`
	Category  Category  `cbor:"5,keyasint"`
	LocalRole Role      `cbor:"6,keyasint,omitempty"`

	RemoteAddr string `cbor:"7,keyasint,omitempty"`

	// Device is the name of the device the event concerns.
	Device string `cbor:"8,keyasint,omitempty"`

	// ScanID identifies the scan run, when one is active.
	ScanID string `cbor:"9,keyasint,omitempty"`

	Frame       *FrameEvent       `cbor:"10,keyasint,omitempty"`
	Message     *MessageEvent     `cbor:"11,keyasint,omitempty"`
	StateChange *StateChangeEvent `cbor:"12,keyasint,omitempty"`
	Error       *ErrorEventData   `cbor:"13,keyasint,omitempty"`
}

// Direction indicates message flow.
type Direction uint8

const (
	DirectionIn Direction = iota
	DirectionOut
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates where an event was captured.
type Layer uint8

const (
	// LayerTransport sees raw frames.
	LayerTransport Layer = iota
	// LayerWire sees decoded messages.
	LayerWire
	// LayerDevice sees state machine changes.
	LayerDevice
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerTransport:
		return "TRANSPORT"
	case LayerWire:
		return "WIRE"
	case LayerDevice:
		return "DEVICE"
	default:
		return "UNKNOWN"
	}
}

// Category classifies events.
type Category uint8

const (
	CategoryMessage Category = iota
	CategoryState
	CategoryError
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryMessage:
		return "MESSAGE"
	case CategoryState:
		return "STATE"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Role tells whether the trace was written by the connecting client or by
// the server exposing a device.
type Role uint8

const (
	RoleClient Role = iota
	RoleServer
)

// String returns the role name.
func (r Role) String() string {
	switch r {
	case RoleClient:
		return "CLIENT"
	case RoleServer:
		return "SERVER"
	default:
		return "UNKNOWN"
	}
}

// FrameEvent captures a frame at the transport layer.
type FrameEvent struct {
	// Size is the frame size in bytes, including the length prefix.
	Size int `cbor:"1,keyasint"`

	// Data may be truncated for large frames.
	Data      []byte `cbor:"2,keyasint,omitempty"`
	Truncated bool   `cbor:"3,keyasint,omitempty"`
}

// MaxFrameData bounds FrameEvent.Data.
const MaxFrameData = 1024

// NewFrameEvent captures frame, truncating its bytes to MaxFrameData.
func NewFrameEvent(frame []byte) *FrameEvent {
	ev := &FrameEvent{Size: len(frame) + 4}
	if len(frame) > MaxFrameData {
		ev.Data = append([]byte(nil), frame[:MaxFrameData]...)
		ev.Truncated = true
	} else {
		ev.Data = append([]byte(nil), frame...)
	}
	return ev
}

// MessageEvent captures a decoded message.
type MessageEvent struct {
	Type     wire.MessageType `cbor:"1,keyasint"`
	ID       int64            `cbor:"2,keyasint"`
	Endpoint string           `cbor:"3,keyasint,omitempty"`
	Method   string           `cbor:"4,keyasint,omitempty"`
	Seq      uint64           `cbor:"5,keyasint,omitempty"`

	// Payload is the arguments of a request, the value of a reply or the
	// text of an error.
	Payload any `cbor:"6,keyasint,omitempty"`

	// RoundTrip is the time from request to reply, on replies only.
	RoundTrip *time.Duration `cbor:"7,keyasint,omitempty"`
}

// NewMessageEvent captures m.
func NewMessageEvent(m *wire.Message) *MessageEvent {
	ev := &MessageEvent{
		Type:     m.Type,
		ID:       m.ID,
		Endpoint: m.Endpoint,
		Seq:      m.Seq,
	}
	if m.Method.IsValid() {
		ev.Method = m.Method.String()
	}
	switch {
	case m.Type.IsRequest():
		ev.Payload = m.Arguments
	case m.Type == wire.TypeError:
		ev.Payload = m.Error
	default:
		ev.Payload = m.Value
	}
	return ev
}

// StateChangeEvent captures a lifecycle change.
type StateChangeEvent struct {
	Entity   StateEntity `cbor:"1,keyasint"`
	OldState string      `cbor:"2,keyasint,omitempty"`
	NewState string      `cbor:"3,keyasint"`
	Reason   string      `cbor:"4,keyasint,omitempty"`
}

// StateEntity indicates what changed state.
type StateEntity uint8

const (
	StateEntityConnection StateEntity = iota
	StateEntityDevice
	StateEntitySubscription
)

// String returns the entity name.
func (s StateEntity) String() string {
	switch s {
	case StateEntityConnection:
		return "CONNECTION"
	case StateEntityDevice:
		return "DEVICE"
	case StateEntitySubscription:
		return "SUBSCRIPTION"
	default:
		return "UNKNOWN"
	}
}

// ErrorEventData captures an error at any layer.
type ErrorEventData struct {
	Layer   Layer  `cbor:"1,keyasint"`
	Message string `cbor:"2,keyasint"`

	// Context names the operation that failed.
	Context string `cbor:"3,keyasint,omitempty"`
}
