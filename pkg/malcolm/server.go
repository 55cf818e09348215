package malcolm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opengda/scanning-go/pkg/device"
	"github.com/opengda/scanning-go/pkg/log"
	"github.com/opengda/scanning-go/pkg/transport"
	"github.com/opengda/scanning-go/pkg/wire"
)

// sendTimeout bounds a single reply or update.
const sendTimeout = 5 * time.Second

// ModelDecoder turns the arguments of a configure or validate call into a
// model for the served device.
type ModelDecoder func(args any) (any, error)

// progressReporter is implemented by devices that report run progress.
type progressReporter interface {
	CompletedSteps() int
	AddProgressListener(fn func(device.ProgressEvent))
}

// Server exposes a local device to remote clients. Each call runs in its
// own goroutine, so abort, pause and seek reach a device that is running.
type Server struct {
	dev    device.RunnableDevice
	decode ModelDecoder
	logger *slog.Logger
	trace  log.Logger

	mu       sync.Mutex
	sessions map[*session]struct{}
	calls    sync.WaitGroup
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithModelDecoder sets how call arguments become models. By default the
// decoded arguments are passed through unchanged.
func WithModelDecoder(fn ModelDecoder) ServerOption {
	return func(s *Server) { s.decode = fn }
}

// WithServerLogger sets the operational logger.
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithServerProtocolLogger records every message sent and received.
func WithServerProtocolLogger(l log.Logger) ServerOption {
	return func(s *Server) { s.trace = l }
}

// NewServer returns a server for dev and starts watching its state.
func NewServer(dev device.RunnableDevice, opts ...ServerOption) *Server {
	s := &Server{
		dev:      dev,
		decode:   func(args any) (any, error) { return args, nil },
		logger:   slog.Default(),
		sessions: make(map[*session]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("device", dev.Name())

	dev.AddStateListener(func(device.StateEvent) {
		s.publish(EndpointState, EndpointBusy, EndpointHealth)
	})
	if p, ok := dev.(progressReporter); ok {
		p.AddProgressListener(func(device.ProgressEvent) {
			s.publish(EndpointCompletedSteps)
		})
	}
	return s
}

// Serve accepts connections from ln until ctx is done or ln is closed.
// Calls in progress keep running; Wait blocks until they end.
func (s *Server) Serve(ctx context.Context, ln transport.Listener) error {
	for {
		conn, err := ln.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, transport.ErrListenerClosed) {
				return nil
			}
			return err
		}
		go func() {
			if err := s.ServeConn(ctx, conn); err != nil {
				s.logger.Warn("connection ended", "conn_id", conn.ID(), "error", err)
			}
		}()
	}
}

// Wait blocks until every call started by the server has returned.
func (s *Server) Wait() {
	s.calls.Wait()
}

// ServeConn handles requests on conn until it closes or ctx is done.
func (s *Server) ServeConn(ctx context.Context, conn transport.Conn) error {
	sess := &session{srv: s, conn: conn, subs: make(map[int64]*serverSub)}
	s.mu.Lock()
	s.sessions[sess] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.sessions, sess)
		s.mu.Unlock()
		conn.Close()
	}()

	s.logger.Debug("client connected", "conn_id", conn.ID(), "remote", conn.RemoteAddr())
	for {
		data, err := conn.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, transport.ErrConnectionClosed) {
				return nil
			}
			return err
		}
		m, err := wire.Decode(data)
		if err != nil {
			s.logger.Warn("dropping malformed request", "conn_id", conn.ID(), "error", err)
			continue
		}
		sess.traceMessage(m, log.DirectionIn)
		s.handle(ctx, sess, m)
	}
}

func (s *Server) handle(ctx context.Context, sess *session, m *wire.Message) {
	switch m.Type {
	case wire.TypeGet:
		v, err := s.read(m.Endpoint)
		sess.reply(m.ID, v, err)

	case wire.TypeCall:
		s.calls.Add(1)
		go func() {
			defer s.calls.Done()
			err := s.call(ctx, m)
			if err != nil {
				s.logger.Debug("call failed", "method", m.Method, "error", err)
			}
			sess.reply(m.ID, s.dev.State().Label(), err)
		}()

	case wire.TypeSubscribe:
		if _, err := s.read(m.Endpoint); err != nil {
			sess.reply(m.ID, nil, err)
			return
		}
		sub := &serverSub{id: m.ID, endpoint: m.Endpoint}
		sess.mu.Lock()
		sess.subs[m.ID] = sub
		sess.mu.Unlock()
		sess.push(sub)

	case wire.TypeUnsubscribe:
		id, err := subscriptionArg(m.Arguments)
		if err == nil {
			sess.mu.Lock()
			_, ok := sess.subs[id]
			delete(sess.subs, id)
			sess.mu.Unlock()
			if !ok {
				err = fmt.Errorf("%w: subscription %d", device.ErrNotFound, id)
			}
		}
		sess.reply(m.ID, nil, err)

	default:
		s.logger.Debug("ignoring message", "message", m.String())
	}
}

func subscriptionArg(args any) (int64, error) {
	m, ok := args.(map[string]any)
	if !ok {
		return 0, fmt.Errorf("unsubscribe arguments are %T, not a map", args)
	}
	switch v := m["subscription"].(type) {
	case uint64:
		return int64(v), nil
	case int64:
		return v, nil
	default:
		return 0, fmt.Errorf("unsubscribe without a subscription id")
	}
}

// busy reports whether a method of the device is in progress: a run,
// including while paused, or any other transient state.
func busy(s device.State) bool {
	return s.IsRunning() || s.IsTransient()
}

func (s *Server) read(endpoint string) (any, error) {
	switch endpoint {
	case EndpointState:
		return s.dev.State().Label(), nil
	case EndpointBusy:
		return busy(s.dev.State()), nil
	case EndpointHealth:
		return s.dev.Health(), nil
	case EndpointCompletedSteps:
		if p, ok := s.dev.(progressReporter); ok {
			return p.CompletedSteps(), nil
		}
		return 0, nil
	case EndpointModel:
		return s.dev.Model(), nil
	case "":
		st := s.dev.State()
		v := map[string]any{
			"name":         s.dev.Name(),
			"level":        s.dev.Level(),
			EndpointState:  st.Label(),
			EndpointBusy:   busy(st),
			EndpointHealth: s.dev.Health(),
		}
		if p, ok := s.dev.(progressReporter); ok {
			v[EndpointCompletedSteps] = p.CompletedSteps()
		}
		return v, nil
	}
	return nil, fmt.Errorf("%w: endpoint %q", device.ErrNotFound, endpoint)
}

func (s *Server) call(ctx context.Context, m *wire.Message) error {
	switch m.Method {
	case wire.MethodValidate, wire.MethodConfigure:
		model, err := s.decode(m.Arguments)
		if err != nil {
			return fmt.Errorf("%w: %w", device.ErrInvalidModel, err)
		}
		if m.Method == wire.MethodValidate {
			return s.dev.Validate(ctx, model)
		}
		return s.dev.Configure(ctx, model)
	case wire.MethodRun:
		return s.dev.Run(ctx, nil)
	case wire.MethodAbort:
		return s.dev.Abort(ctx)
	case wire.MethodDisable:
		return s.dev.Disable(ctx)
	case wire.MethodReset:
		return s.dev.Reset(ctx)
	}

	p, ok := s.dev.(device.Pausable)
	if !ok {
		return fmt.Errorf("%w: %s", device.ErrUnsupported, m.Method)
	}
	switch m.Method {
	case wire.MethodPause:
		if args, ok := m.Arguments.(map[string]any); ok {
			if v, ok := args[EndpointCompletedSteps]; ok {
				step, err := toInt(v)
				if err != nil {
					return fmt.Errorf("seek: %w", err)
				}
				return p.Seek(ctx, step)
			}
		}
		return p.Pause(ctx)
	case wire.MethodResume:
		return p.Resume(ctx)
	}
	return fmt.Errorf("%w: %s", device.ErrUnsupported, m.Method)
}

// publish pushes the current value of endpoints to their subscribers.
func (s *Server) publish(endpoints ...string) {
	s.mu.Lock()
	sessions := make([]*session, 0, len(s.sessions))
	for sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	for _, sess := range sessions {
		for _, sub := range sess.subscribers(endpoints) {
			sess.push(sub)
		}
	}
}

// session is one client connection.
type session struct {
	srv  *Server
	conn transport.Conn

	mu   sync.Mutex
	subs map[int64]*serverSub
}

type serverSub struct {
	id       int64
	endpoint string

	mu  sync.Mutex
	seq uint64
}

func (sess *session) subscribers(endpoints []string) []*serverSub {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	var subs []*serverSub
	for _, sub := range sess.subs {
		for _, ep := range endpoints {
			if sub.endpoint == ep {
				subs = append(subs, sub)
			}
		}
	}
	return subs
}

// push sends the endpoint's current value. Reading and sending under the
// subscription's lock keeps sequence numbers in send order, and the last
// update sent carries the latest value.
func (sess *session) push(sub *serverSub) {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	v, err := sess.srv.read(sub.endpoint)
	if err != nil {
		return
	}
	sub.seq++
	sess.send(wire.Update(sub.id, sub.seq, v))
}

func (sess *session) reply(id int64, value any, err error) {
	if err != nil {
		sess.send(wire.Failure(id, err))
		return
	}
	sess.send(wire.Return(id, value))
}

func (sess *session) send(m *wire.Message) {
	data, err := wire.Encode(m)
	if err != nil {
		// The value could not be encoded; tell the client instead.
		m = wire.Failure(m.ID, err)
		if data, err = wire.Encode(m); err != nil {
			return
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	if err := sess.conn.Send(ctx, data); err != nil {
		sess.srv.logger.Debug("send failed", "conn_id", sess.conn.ID(), "message", m.String(), "error", err)
		return
	}
	sess.traceMessage(m, log.DirectionOut)
}

func (sess *session) traceMessage(m *wire.Message, dir log.Direction) {
	if sess.srv.trace == nil {
		return
	}
	log.Emit(sess.srv.trace, log.Event{
		ConnectionID: sess.conn.ID(),
		Direction:    dir,
		Layer:        log.LayerWire,
		Category:     log.CategoryMessage,
		LocalRole:    log.RoleServer,
		RemoteAddr:   sess.conn.RemoteAddr(),
		Device:       sess.srv.dev.Name(),
		Message:      log.NewMessageEvent(m),
	})
}
