package wire

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidMessage is wrapped by every Validate failure.
var ErrInvalidMessage = errors.New("invalid message")

// MessageType identifies a request or reply.
type MessageType uint8

const (
	TypeGet MessageType = iota + 1
	TypeCall
	TypeSubscribe
	TypeUnsubscribe
	TypeReturn
	TypeUpdate
	TypeError
)

// String returns the type name.
func (t MessageType) String() string {
	switch t {
	case TypeGet:
		return "GET"
	case TypeCall:
		return "CALL"
	case TypeSubscribe:
		return "SUBSCRIBE"
	case TypeUnsubscribe:
		return "UNSUBSCRIBE"
	case TypeReturn:
		return "RETURN"
	case TypeUpdate:
		return "UPDATE"
	case TypeError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// IsValid reports whether t is a known type.
func (t MessageType) IsValid() bool {
	return t >= TypeGet && t <= TypeError
}

// IsRequest reports whether t is sent by a client.
func (t MessageType) IsRequest() bool {
	return t >= TypeGet && t <= TypeUnsubscribe
}

// IsReply reports whether t is sent by a server.
func (t MessageType) IsReply() bool {
	return t >= TypeReturn && t <= TypeError
}

// ParseMessageType parses a type name, ignoring case.
func ParseMessageType(s string) (MessageType, error) {
	for t := TypeGet; t <= TypeError; t++ {
		if strings.EqualFold(s, t.String()) {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown message type %q", s)
}

// Message is a single request or reply.
type Message struct {
	ID        int64       `cbor:"1,keyasint"`
	Type      MessageType `cbor:"2,keyasint"`
	Endpoint  string      `cbor:"3,keyasint,omitempty"`
	Method    Method      `cbor:"4,keyasint,omitzero"`
	Arguments any         `cbor:"5,keyasint,omitempty"`
	Value     any         `cbor:"6,keyasint,omitempty"`
	Error     string      `cbor:"7,keyasint,omitempty"`
	Seq       uint64      `cbor:"8,keyasint,omitempty"`
}

// Validate checks that the fields required by the message type are set.
func (m *Message) Validate() error {
	if m.ID <= 0 {
		return fmt.Errorf("%w: id %d is not positive", ErrInvalidMessage, m.ID)
	}
	switch m.Type {
	case TypeGet:
		// An empty endpoint reads the whole device.
	case TypeSubscribe:
		if m.Endpoint == "" {
			return fmt.Errorf("%w: %s without endpoint", ErrInvalidMessage, m.Type)
		}
	case TypeCall:
		if !m.Method.IsValid() {
			return fmt.Errorf("%w: CALL with method %d", ErrInvalidMessage, m.Method)
		}
	case TypeError:
		if m.Error == "" {
			return fmt.Errorf("%w: ERROR without text", ErrInvalidMessage)
		}
	case TypeUnsubscribe, TypeReturn, TypeUpdate:
	default:
		return fmt.Errorf("%w: type %d", ErrInvalidMessage, m.Type)
	}
	return nil
}

// String returns a short description for logs, e.g. "CALL#3 run".
func (m *Message) String() string {
	s := fmt.Sprintf("%s#%d", m.Type, m.ID)
	switch {
	case m.Type == TypeCall:
		s += " " + m.Method.String()
	case m.Endpoint != "":
		s += " " + m.Endpoint
	case m.Type == TypeError:
		s += ": " + m.Error
	}
	return s
}

// Return builds a RETURN reply to request id.
func Return(id int64, value any) *Message {
	return &Message{ID: id, Type: TypeReturn, Value: value}
}

// Update builds an UPDATE for subscription id. seq orders updates of one
// subscription; larger is newer.
func Update(id int64, seq uint64, value any) *Message {
	return &Message{ID: id, Type: TypeUpdate, Value: value, Seq: seq}
}

// Failure builds an ERROR reply to request id.
func Failure(id int64, err error) *Message {
	text := "unknown error"
	if err != nil {
		text = err.Error()
	}
	return &Message{ID: id, Type: TypeError, Error: text}
}
