package malcolm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/opengda/scanning-go/pkg/device"
	"github.com/opengda/scanning-go/pkg/log"
	"github.com/opengda/scanning-go/pkg/transport"
	"github.com/opengda/scanning-go/pkg/wire"
)

// DefaultTimeout bounds a request whose context has no deadline.
const DefaultTimeout = 5 * time.Second

// UpdateFunc receives the updates of a subscription in arrival order. It
// runs on the connector's read goroutine and must not block or make
// requests.
type UpdateFunc func(seq uint64, value any)

// Subscription is an active SUBSCRIBE.
type Subscription struct {
	// ID is the id of the SUBSCRIBE message; updates carry it.
	ID       int64
	Endpoint string

	fn     UpdateFunc
	primed chan *wire.Message
}

type pendingRequest struct {
	req   *wire.Message
	reply chan *wire.Message
	sent  time.Time
}

// Connector sends requests over a transport.Conn and demultiplexes the
// replies by message id. It is safe for concurrent use.
type Connector struct {
	conn    transport.Conn
	gen     *MessageGenerator
	timeout time.Duration
	device  string

	logger *slog.Logger
	trace  log.Logger

	mu      sync.Mutex
	pending map[int64]*pendingRequest
	subs    map[int64]*Subscription
	closed  bool

	stopped chan struct{}
}

// ConnectorOption configures a Connector.
type ConnectorOption func(*Connector)

// WithIDs draws message ids from ids instead of DefaultIDs.
func WithIDs(ids *IDCounter) ConnectorOption {
	return func(c *Connector) { c.gen = NewMessageGenerator(ids) }
}

// WithTimeout sets the bound for requests whose context has no deadline.
func WithTimeout(d time.Duration) ConnectorOption {
	return func(c *Connector) { c.timeout = d }
}

// WithLogger sets the operational logger.
func WithLogger(logger *slog.Logger) ConnectorOption {
	return func(c *Connector) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithProtocolLogger records every message sent and received.
func WithProtocolLogger(l log.Logger) ConnectorOption {
	return func(c *Connector) { c.trace = l }
}

// WithDeviceName tags log records and trace events with the remote
// device's name.
func WithDeviceName(name string) ConnectorOption {
	return func(c *Connector) { c.device = name }
}

// NewConnector starts reading from conn. The connector owns conn and
// closes it on Close.
func NewConnector(conn transport.Conn, opts ...ConnectorOption) *Connector {
	c := &Connector{
		conn:    conn,
		gen:     NewMessageGenerator(nil),
		timeout: DefaultTimeout,
		logger:  slog.Default(),
		pending: make(map[int64]*pendingRequest),
		subs:    make(map[int64]*Subscription),
		stopped: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("conn_id", conn.ID())
	if c.device != "" {
		c.logger = c.logger.With("device", c.device)
	}
	go c.readLoop()
	return c
}

// Messages returns the generator used for requests.
func (c *Connector) Messages() *MessageGenerator { return c.gen }

// Alive reports whether the connection is open.
func (c *Connector) Alive() bool {
	select {
	case <-c.stopped:
		return false
	default:
		return true
	}
}

// Done is closed when the connection ends.
func (c *Connector) Done() <-chan struct{} { return c.stopped }

// Close closes the connection. Requests in flight fail with
// ErrConnectorClosed.
func (c *Connector) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	err := c.conn.Close()
	<-c.stopped
	return err
}

// Request sends req and waits for its RETURN. An ERROR reply becomes a
// ProtocolError; no reply before the deadline of ctx, or DefaultTimeout
// without one, becomes a TimeoutError.
func (c *Connector) Request(ctx context.Context, req *wire.Message) (*wire.Message, error) {
	bound := c.timeout
	if dl, ok := ctx.Deadline(); ok {
		bound = time.Until(dl)
	} else {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, bound)
		defer cancel()
	}

	p := &pendingRequest{req: req, reply: make(chan *wire.Message, 1)}
	if err := c.register(req.ID, p); err != nil {
		return nil, &ProtocolError{Request: req.String(), Err: err}
	}
	defer c.unregister(req.ID)

	if err := c.send(ctx, req, &p.sent); err != nil {
		return nil, c.requestError(ctx, req, bound, err)
	}

	select {
	case reply, ok := <-p.reply:
		if !ok {
			return nil, &ProtocolError{Request: req.String(), Err: c.connErr()}
		}
		if reply.Type == wire.TypeError {
			return nil, &ProtocolError{Request: req.String(), Remote: reply.Error}
		}
		return reply, nil
	case <-ctx.Done():
		return nil, c.requestError(ctx, req, bound, ctx.Err())
	}
}

func (c *Connector) requestError(ctx context.Context, req *wire.Message, bound time.Duration, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &TimeoutError{Request: req.String(), After: bound.Round(time.Millisecond)}
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return &ProtocolError{Request: req.String(), Err: err}
}

// Call invokes method and returns the reply value. expected lists the
// states the caller expects the device to reach; a reply naming another
// state is logged, not treated as an error, and nothing is retried.
func (c *Connector) Call(ctx context.Context, method wire.Method, args any, expected ...device.State) (any, error) {
	reply, err := c.Request(ctx, c.gen.CallMessage(method, args))
	if err != nil {
		return nil, err
	}
	if len(expected) > 0 {
		if name, ok := reply.Value.(string); ok {
			if s, err := device.ParseState(name); err == nil && !slices.Contains(expected, s) {
				c.logger.Warn("unexpected state after call", "method", method, "state", s.Label(), "expected", labels(expected))
			}
		}
	}
	return reply.Value, nil
}

func labels(states []device.State) []string {
	out := make([]string, len(states))
	for i, s := range states {
		out[i] = s.Label()
	}
	return out
}

// Get reads endpoint.
func (c *Connector) Get(ctx context.Context, endpoint string) (any, error) {
	reply, err := c.Request(ctx, c.gen.GetMessage(endpoint))
	if err != nil {
		return nil, err
	}
	return reply.Value, nil
}

// Subscribe asks for updates of endpoint and waits for the first one,
// which carries the current value and is passed to fn before Subscribe
// returns.
func (c *Connector) Subscribe(ctx context.Context, endpoint string, fn UpdateFunc) (*Subscription, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req := c.gen.SubscribeMessage(endpoint)
	sub := &Subscription{ID: req.ID, Endpoint: endpoint, fn: fn, primed: make(chan *wire.Message, 1)}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, &ProtocolError{Request: req.String(), Err: ErrConnectorClosed}
	}
	c.subs[req.ID] = sub
	c.mu.Unlock()

	fail := func(err error) (*Subscription, error) {
		c.mu.Lock()
		delete(c.subs, req.ID)
		c.mu.Unlock()
		return nil, err
	}

	if err := c.send(ctx, req, nil); err != nil {
		return fail(c.requestError(ctx, req, c.timeout, err))
	}
	select {
	case first, ok := <-sub.primed:
		if !ok {
			return fail(&ProtocolError{Request: req.String(), Err: c.connErr()})
		}
		if first.Type == wire.TypeError {
			return fail(&ProtocolError{Request: req.String(), Remote: first.Error})
		}
		return sub, nil
	case <-ctx.Done():
		return fail(c.requestError(ctx, req, c.timeout, ctx.Err()))
	}
}

// Unsubscribe cancels sub. Updates already in flight are dropped.
func (c *Connector) Unsubscribe(ctx context.Context, sub *Subscription) error {
	c.mu.Lock()
	delete(c.subs, sub.ID)
	c.mu.Unlock()
	_, err := c.Request(ctx, c.gen.UnsubscribeMessage(sub.ID))
	return err
}

func (c *Connector) register(id int64, p *pendingRequest) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnectorClosed
	}
	c.pending[id] = p
	return nil
}

func (c *Connector) unregister(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Connector) connErr() error {
	if err := c.conn.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrConnectorClosed, err)
	}
	return ErrConnectorClosed
}

func (c *Connector) send(ctx context.Context, m *wire.Message, sent *time.Time) error {
	data, err := wire.Encode(m)
	if err != nil {
		return err
	}
	if sent != nil {
		c.mu.Lock()
		*sent = time.Now()
		c.mu.Unlock()
	}
	if err := c.conn.Send(ctx, data); err != nil {
		return err
	}
	c.traceMessage(m, log.DirectionOut, nil)
	return nil
}

func (c *Connector) traceMessage(m *wire.Message, dir log.Direction, rtt *time.Duration) {
	if c.trace == nil {
		return
	}
	ev := log.NewMessageEvent(m)
	ev.RoundTrip = rtt
	log.Emit(c.trace, log.Event{
		ConnectionID: c.conn.ID(),
		Direction:    dir,
		Layer:        log.LayerWire,
		Category:     log.CategoryMessage,
		LocalRole:    log.RoleClient,
		RemoteAddr:   c.conn.RemoteAddr(),
		Device:       c.device,
		Message:      ev,
	})
}

func (c *Connector) readLoop() {
	defer c.shutdown()
	for {
		data, err := c.conn.Receive(context.Background())
		if err != nil {
			c.mu.Lock()
			closing := c.closed
			c.mu.Unlock()
			if !closing {
				c.logger.Warn("connection lost", "error", err)
			}
			return
		}
		m, err := wire.Decode(data)
		if err != nil {
			c.logger.Warn("dropping malformed message", "error", err)
			log.Emit(c.trace, log.Event{
				ConnectionID: c.conn.ID(),
				Direction:    log.DirectionIn,
				Layer:        log.LayerWire,
				Category:     log.CategoryError,
				Device:       c.device,
				Error:        &log.ErrorEventData{Layer: log.LayerWire, Message: err.Error(), Context: "decode"},
			})
			continue
		}
		c.dispatch(m)
	}
}

func (c *Connector) dispatch(m *wire.Message) {
	c.mu.Lock()
	p := c.pending[m.ID]
	sub := c.subs[m.ID]
	var rtt *time.Duration
	if p != nil && !p.sent.IsZero() {
		d := time.Since(p.sent)
		rtt = &d
	}
	c.mu.Unlock()

	c.traceMessage(m, log.DirectionIn, rtt)

	switch {
	case p != nil && (m.Type == wire.TypeReturn || m.Type == wire.TypeError):
		select {
		case p.reply <- m:
		default:
		}
	case sub != nil && m.Type == wire.TypeUpdate:
		sub.fn(m.Seq, m.Value)
		select {
		case sub.primed <- m:
		default:
		}
	case sub != nil && m.Type == wire.TypeError:
		select {
		case sub.primed <- m:
		default:
			c.logger.Warn("subscription failed", "endpoint", sub.Endpoint, "error", m.Error)
		}
	default:
		c.logger.Debug("dropping uncorrelated message", "message", m.String())
	}
}

// shutdown fails everything still waiting once the connection has ended.
func (c *Connector) shutdown() {
	c.mu.Lock()
	c.closed = true
	pending := c.pending
	subs := c.subs
	c.pending = make(map[int64]*pendingRequest)
	c.subs = make(map[int64]*Subscription)
	c.mu.Unlock()

	for _, p := range pending {
		close(p.reply)
	}
	for _, s := range subs {
		// A primed subscription keeps its first update for Subscribe.
		if len(s.primed) == 0 {
			close(s.primed)
		}
	}
	close(c.stopped)
}
