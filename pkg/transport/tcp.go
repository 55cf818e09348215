package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/opengda/scanning-go/pkg/log"
)

// DefaultConnectTimeout bounds Dial when ctx has no deadline.
const DefaultConnectTimeout = 10 * time.Second

// Dial connects to a TCP address.
func Dial(ctx context.Context, address string, cfg Config) (Conn, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultConnectTimeout)
		defer cancel()
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("dial failed: %w", err)
	}
	return NewStreamConn(conn, log.RoleClient, cfg), nil
}

// TCPListener accepts framed TCP connections.
type TCPListener struct {
	ln    net.Listener
	cfg   Config
	conns chan net.Conn

	closeOnce sync.Once
	done      chan struct{}
	err       error
}

// Listen listens on a TCP address. Use ":0" for an ephemeral port.
func Listen(address string, cfg Config) (*TCPListener, error) {
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("listen failed: %w", err)
	}
	l := &TCPListener{
		ln:    ln,
		cfg:   cfg,
		conns: make(chan net.Conn),
		done:  make(chan struct{}),
	}
	go l.acceptLoop()
	return l, nil
}

func (l *TCPListener) acceptLoop() {
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				l.shutdown(err)
			}
			return
		}
		select {
		case l.conns <- conn:
		case <-l.done:
			conn.Close()
			return
		}
	}
}

// Accept waits for the next connection or for ctx to be done.
func (l *TCPListener) Accept(ctx context.Context) (Conn, error) {
	select {
	case conn := <-l.conns:
		return NewStreamConn(conn, log.RoleServer, l.cfg), nil
	case <-l.done:
		return nil, l.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Addr returns the listen address.
func (l *TCPListener) Addr() string {
	return l.ln.Addr().String()
}

// Close stops listening. Pending Accept calls return ErrListenerClosed.
func (l *TCPListener) Close() error {
	return l.shutdown(nil)
}

func (l *TCPListener) shutdown(cause error) error {
	var err error
	l.closeOnce.Do(func() {
		l.err = ErrListenerClosed
		if cause != nil {
			l.err = fmt.Errorf("%w: %w", ErrListenerClosed, cause)
		}
		close(l.done)
		err = l.ln.Close()
	})
	return err
}

var _ Listener = (*TCPListener)(nil)
