package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/opengda/scanning-go/pkg/log"
)

// WebSocket keepalive timing.
const (
	wsPingInterval = 30 * time.Second
	wsPongWait     = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(*http.Request) bool {
		// Controllers are reached from lab networks and scripts, not
		// browsers with ambient credentials.
		return true
	},
}

// WSConn carries one message per binary WebSocket message.
type WSConn struct {
	id    string
	ws    *websocket.Conn
	in    *inbox
	trace *tracer

	writeMu   sync.Mutex
	closeOnce sync.Once
}

// DialWebSocket connects to a ws:// or wss:// URL.
func DialWebSocket(ctx context.Context, url string, cfg Config) (Conn, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultConnectTimeout)
		defer cancel()
	}
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	return newWSConn(ws, log.RoleClient, cfg), nil
}

func newWSConn(ws *websocket.Conn, role log.Role, cfg Config) *WSConn {
	cfg = cfg.withDefaults()
	c := &WSConn{
		id: newConnID(),
		ws: ws,
		in: newInbox(16),
	}
	c.trace = cfg.tracer(c.id, role, addrString(ws.RemoteAddr()))
	ws.SetReadLimit(int64(cfg.MaxMessageSize))
	go c.readLoop()
	go c.pingLoop()
	return c
}

func (c *WSConn) ID() string            { return c.id }
func (c *WSConn) RemoteAddr() string    { return addrString(c.ws.RemoteAddr()) }
func (c *WSConn) Done() <-chan struct{} { return c.in.done }
func (c *WSConn) Err() error            { return c.in.error() }

// Send writes data as one binary message.
func (c *WSConn) Send(ctx context.Context, data []byte) error {
	if len(data) == 0 {
		return ErrMessageEmpty
	}
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

	deadline := time.Now().Add(wsPongWait)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	//nolint:errcheck // write error reported below
	c.ws.SetWriteDeadline(deadline)
	if err := c.ws.WriteMessage(websocket.BinaryMessage, data); err != nil {
		c.fail(err)
		return fmt.Errorf("websocket write failed: %w", err)
	}
	c.trace.frame(data, log.DirectionOut)
	return nil
}

// Receive returns the next message.
func (c *WSConn) Receive(ctx context.Context) ([]byte, error) {
	return c.in.receive(ctx)
}

// Close sends a close message and closes the connection.
func (c *WSConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.in.end(ErrConnectionClosed)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		//nolint:errcheck // best-effort close handshake
		c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		err = c.ws.Close()
	})
	return err
}

func (c *WSConn) readLoop() {
	extend := func() {
		//nolint:errcheck // a missed deadline surfaces as a read error
		c.ws.SetReadDeadline(time.Now().Add(wsPingInterval + wsPongWait))
	}
	extend()
	c.ws.SetPongHandler(func(string) error {
		extend()
		return nil
	})

	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			c.fail(err)
			return
		}
		extend()
		if kind != websocket.BinaryMessage || len(data) == 0 {
			continue
		}
		c.trace.frame(data, log.DirectionIn)
		if !c.in.deliver(data) {
			return
		}
	}
}

func (c *WSConn) pingLoop() {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.in.done:
			return
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsPongWait)); err != nil {
				c.fail(err)
				return
			}
		}
	}
}

func (c *WSConn) fail(err error) {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		err = ErrConnectionClosed
	} else {
		err = fmt.Errorf("%w: %w", ErrConnectionClosed, err)
	}
	c.closeOnce.Do(func() {
		c.in.end(err)
		_ = c.ws.Close()
	})
}

// WSListener is an http.Handler that upgrades requests into Conns handed
// out by Accept.
type WSListener struct {
	cfg   Config
	conns chan *WSConn
	addr  string

	closeOnce sync.Once
	done      chan struct{}
}

// NewWSListener returns a listener to mount on an HTTP server. addr is
// reported by Addr.
func NewWSListener(addr string, cfg Config) *WSListener {
	return &WSListener{
		cfg:   cfg,
		conns: make(chan *WSConn),
		addr:  addr,
		done:  make(chan struct{}),
	}
}

// ServeHTTP upgrades the request and waits until the connection is
// accepted, the listener closes or the client goes away.
func (l *WSListener) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	select {
	case <-l.done:
		http.Error(w, ErrListenerClosed.Error(), http.StatusServiceUnavailable)
		return
	default:
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := newWSConn(ws, log.RoleServer, l.cfg)
	select {
	case l.conns <- c:
	case <-l.done:
		c.Close()
	case <-r.Context().Done():
		c.Close()
	}
}

// Accept waits for the next upgraded connection.
func (l *WSListener) Accept(ctx context.Context) (Conn, error) {
	select {
	case c := <-l.conns:
		return c, nil
	case <-l.done:
		return nil, ErrListenerClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *WSListener) Addr() string { return l.addr }

// Close rejects further upgrades. Accepted connections stay open.
func (l *WSListener) Close() error {
	l.closeOnce.Do(func() { close(l.done) })
	return nil
}

var (
	_ Conn     = (*WSConn)(nil)
	_ Listener = (*WSListener)(nil)
)
