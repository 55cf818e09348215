package malcolm

import (
	"errors"
	"fmt"
	"time"

	"github.com/opengda/scanning-go/pkg/device"
)

// ErrConnectorClosed is wrapped by requests made on or cut off by a closed
// connector.
var ErrConnectorClosed = errors.New("connector closed")

// ProtocolError reports a request that failed on the wire: the transport
// failed, the reply was malformed, or the controller answered with ERROR.
type ProtocolError struct {
	// Request describes the request, e.g. "CALL#7 configure".
	Request string

	// Remote is the controller's error text, for ERROR replies.
	Remote string

	Err error
}

func (e *ProtocolError) Error() string {
	if e.Remote != "" {
		return fmt.Sprintf("%s: controller error: %s", e.Request, e.Remote)
	}
	return fmt.Sprintf("%s: %v", e.Request, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// TimeoutError reports a request that got no reply in time.
type TimeoutError struct {
	Request string
	After   time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: no reply after %v", e.Request, e.After)
}

// Unwrap lets errors.Is match device.ErrTimeout.
func (e *TimeoutError) Unwrap() error { return device.ErrTimeout }
