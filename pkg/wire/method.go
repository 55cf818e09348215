package wire

import (
	"fmt"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

// Method is a state machine verb invoked with a CALL. On the wire it is the
// lower-cased name.
type Method uint8

const (
	MethodAbort Method = iota + 1
	MethodConfigure
	MethodDisable
	MethodPause
	MethodReset
	MethodResume
	MethodRun
	MethodValidate
)

var methodNames = [...]string{
	MethodAbort:     "abort",
	MethodConfigure: "configure",
	MethodDisable:   "disable",
	MethodPause:     "pause",
	MethodReset:     "reset",
	MethodResume:    "resume",
	MethodRun:       "run",
	MethodValidate:  "validate",
}

// Methods lists every method in declaration order.
func Methods() []Method {
	ms := make([]Method, 0, len(methodNames)-1)
	for m := MethodAbort; m <= MethodValidate; m++ {
		ms = append(ms, m)
	}
	return ms
}

// String returns the wire name.
func (m Method) String() string {
	if !m.IsValid() {
		return "unknown"
	}
	return methodNames[m]
}

// IsValid reports whether m is a known method.
func (m Method) IsValid() bool {
	return m >= MethodAbort && m <= MethodValidate
}

// ParseMethod parses a method name, ignoring case.
func ParseMethod(s string) (Method, error) {
	for m := MethodAbort; m <= MethodValidate; m++ {
		if strings.EqualFold(s, methodNames[m]) {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown method %q", s)
}

// MarshalCBOR encodes the method as its wire name.
func (m Method) MarshalCBOR() ([]byte, error) {
	if !m.IsValid() {
		return nil, fmt.Errorf("cannot encode method %d", m)
	}
	return cbor.Marshal(m.String())
}

// UnmarshalCBOR decodes a wire name.
func (m *Method) UnmarshalCBOR(data []byte) error {
	var s string
	if err := cbor.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("method: %w", err)
	}
	parsed, err := ParseMethod(s)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
