package transport

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/opengda/scanning-go/pkg/log"
)

var (
	// ErrConnectionClosed is returned by operations on a closed Conn.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrListenerClosed is returned by Accept after Close.
	ErrListenerClosed = errors.New("listener closed")
)

// Conn is a bidirectional message connection.
type Conn interface {
	// ID returns the connection's unique identifier, used in traces.
	ID() string

	// RemoteAddr describes the peer.
	RemoteAddr() string

	// Send writes one message. It returns when the message has been handed
	// to the carrier or ctx is done.
	Send(ctx context.Context, data []byte) error

	// Receive blocks until a message arrives, the connection fails or ctx
	// is done.
	Receive(ctx context.Context) ([]byte, error)

	// Done is closed once the connection is closed or has failed.
	Done() <-chan struct{}

	// Err returns the reason the connection ended, or nil while it is open.
	Err() error

	// Close closes the connection. It is safe to call more than once.
	Close() error
}

// Listener accepts server-side connections.
type Listener interface {
	Accept(ctx context.Context) (Conn, error)
	Addr() string
	Close() error
}

// Config holds options shared by all carriers.
type Config struct {
	// MaxMessageSize bounds a single message (default DefaultMaxMessageSize).
	MaxMessageSize uint32

	// Logger receives frame events. Nil disables tracing.
	Logger log.Logger
}

func (c Config) withDefaults() Config {
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = DefaultMaxMessageSize
	}
	return c
}

func (c Config) tracer(connID string, role log.Role, remote string) *tracer {
	if c.Logger == nil {
		return nil
	}
	return &tracer{logger: c.Logger, connID: connID, role: role, remote: remote}
}

func newConnID() string {
	return uuid.NewString()
}

// inbox is the receive side shared by the carriers: a reader goroutine
// delivers messages, and close/fail end the connection once.
type inbox struct {
	msgs chan []byte
	done chan struct{}
	err  error
}

func newInbox(depth int) *inbox {
	return &inbox{
		msgs: make(chan []byte, depth),
		done: make(chan struct{}),
	}
}

// deliver queues msg, giving up when the connection ends.
func (b *inbox) deliver(msg []byte) bool {
	select {
	case b.msgs <- msg:
		return true
	case <-b.done:
		return false
	}
}

// receive returns queued messages before reporting the end of the
// connection.
func (b *inbox) receive(ctx context.Context) ([]byte, error) {
	select {
	case msg := <-b.msgs:
		return msg, nil
	default:
	}
	select {
	case msg := <-b.msgs:
		return msg, nil
	case <-b.done:
		select {
		case msg := <-b.msgs:
			return msg, nil
		default:
		}
		return nil, b.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// end records err and closes done. Callers serialize it with a sync.Once.
func (b *inbox) end(err error) {
	if err == nil {
		err = ErrConnectionClosed
	}
	b.err = err
	close(b.done)
}

func (b *inbox) error() error {
	select {
	case <-b.done:
		return b.err
	default:
		return nil
	}
}
