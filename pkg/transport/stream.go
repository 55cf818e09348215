package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/opengda/scanning-go/pkg/log"
)

// StreamConn carries framed messages over a net.Conn.
type StreamConn struct {
	id     string
	conn   net.Conn
	framer *Framer
	in     *inbox

	writeMu   sync.Mutex
	closeOnce sync.Once
}

// NewStreamConn wraps conn and starts its reader. role is the local side
// of the connection as recorded in traces.
func NewStreamConn(conn net.Conn, role log.Role, cfg Config) *StreamConn {
	cfg = cfg.withDefaults()
	c := &StreamConn{
		id:     newConnID(),
		conn:   conn,
		framer: NewFramerWithMaxSize(conn, cfg.MaxMessageSize),
		in:     newInbox(16),
	}
	c.framer.setTracer(cfg.tracer(c.id, role, addrString(conn.RemoteAddr())))
	go c.readLoop()
	return c
}

func addrString(a net.Addr) string {
	if a == nil {
		return ""
	}
	return a.String()
}

func (c *StreamConn) ID() string            { return c.id }
func (c *StreamConn) RemoteAddr() string    { return addrString(c.conn.RemoteAddr()) }
func (c *StreamConn) Done() <-chan struct{} { return c.in.done }
func (c *StreamConn) Err() error            { return c.in.error() }

// Send writes data as one frame. A deadline or cancellation of ctx
// interrupts a blocked write.
func (c *StreamConn) Send(ctx context.Context, data []byte) error {
	select {
	case <-c.in.done:
		return c.in.err
	default:
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if dl, ok := ctx.Deadline(); ok {
		_ = c.conn.SetWriteDeadline(dl)
	}
	interrupted := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetWriteDeadline(time.Unix(1, 0))
		close(interrupted)
	})
	defer func() {
		if !stop() {
			<-interrupted
		}
		_ = c.conn.SetWriteDeadline(time.Time{})
	}()

	if err := c.framer.WriteFrame(data); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		// The write deadline can fire before ctx's own timer.
		if dl, ok := ctx.Deadline(); ok && errors.Is(err, os.ErrDeadlineExceeded) && !time.Now().Before(dl) {
			return context.DeadlineExceeded
		}
		return err
	}
	return nil
}

// Receive returns the next message.
func (c *StreamConn) Receive(ctx context.Context) ([]byte, error) {
	return c.in.receive(ctx)
}

// Close closes the underlying connection.
func (c *StreamConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.in.end(ErrConnectionClosed)
		err = c.conn.Close()
	})
	return err
}

func (c *StreamConn) readLoop() {
	for {
		data, err := c.framer.ReadFrame()
		if err != nil {
			c.fail(err)
			return
		}
		if !c.in.deliver(data) {
			return
		}
	}
}

func (c *StreamConn) fail(err error) {
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
		err = ErrConnectionClosed
	default:
		err = fmt.Errorf("%w: %w", ErrConnectionClosed, err)
	}
	c.closeOnce.Do(func() {
		c.in.end(err)
		_ = c.conn.Close()
	})
}

var _ Conn = (*StreamConn)(nil)
