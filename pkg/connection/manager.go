package connection

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/opengda/scanning-go/pkg/transport"
)

var (
	ErrClosed           = errors.New("connection manager closed")
	ErrAlreadyConnected = errors.New("already connected")
	ErrNotConnected     = errors.New("not connected")
)

// DefaultAttemptTimeout bounds a single dial made by the reconnect loop.
const DefaultAttemptTimeout = 10 * time.Second

// State is the manager's link state.
type State uint8

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateReconnecting:
		return "RECONNECTING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// DialFunc opens a connection to the controller.
type DialFunc func(ctx context.Context) (transport.Conn, error)

// Manager owns the connection to one controller.
type Manager struct {
	dial           DialFunc
	backoff        *Backoff
	attemptTimeout time.Duration
	autoReconnect  bool
	logger         *slog.Logger

	mu        sync.Mutex
	state     State
	conn      transport.Conn
	ready     chan struct{}
	onState   []func(old, new State)
	onConnect []func(transport.Conn)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Manager.
type Option func(*Manager)

func WithBackoff(cfg BackoffConfig) Option {
	return func(m *Manager) { m.backoff = NewBackoff(cfg) }
}

func WithAttemptTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.attemptTimeout = d
		}
	}
}

// WithAutoReconnect turns redialling after a lost connection on or off.
// It is on by default.
func WithAutoReconnect(on bool) Option {
	return func(m *Manager) { m.autoReconnect = on }
}

func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewManager returns a disconnected manager.
func NewManager(dial DialFunc, opts ...Option) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		dial:           dial,
		backoff:        NewBackoff(BackoffConfig{}),
		attemptTimeout: DefaultAttemptTimeout,
		autoReconnect:  true,
		logger:         slog.Default(),
		ready:          make(chan struct{}),
		ctx:            ctx,
		cancel:         cancel,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// OnStateChange registers fn for every state change.
func (m *Manager) OnStateChange(fn func(old, new State)) {
	m.mu.Lock()
	m.onState = append(m.onState, fn)
	m.mu.Unlock()
}

// OnConnect registers fn for every new connection, including those made
// by the reconnect loop.
func (m *Manager) OnConnect(fn func(transport.Conn)) {
	m.mu.Lock()
	m.onConnect = append(m.onConnect, fn)
	m.mu.Unlock()
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Attempts returns the number of redials since the last success.
func (m *Manager) Attempts() int { return m.backoff.Attempts() }

// Conn returns the current connection.
func (m *Manager) Conn() (transport.Conn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateClosed {
		return nil, ErrClosed
	}
	if m.conn == nil {
		return nil, ErrNotConnected
	}
	return m.conn, nil
}

// Wait blocks until the manager is connected and returns the connection.
func (m *Manager) Wait(ctx context.Context) (transport.Conn, error) {
	for {
		m.mu.Lock()
		state, conn, ready := m.state, m.conn, m.ready
		m.mu.Unlock()

		switch {
		case state == StateClosed:
			return nil, ErrClosed
		case conn != nil:
			return conn, nil
		case state == StateDisconnected:
			return nil, ErrNotConnected
		}
		select {
		case <-ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-m.ctx.Done():
			return nil, ErrClosed
		}
	}
}

// Connect dials once. Use Wait to ride out a reconnect instead.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	switch m.state {
	case StateClosed:
		m.mu.Unlock()
		return ErrClosed
	case StateConnecting, StateConnected, StateReconnecting:
		m.mu.Unlock()
		return ErrAlreadyConnected
	}
	fire := m.setState(StateConnecting)
	m.mu.Unlock()
	fire()

	conn, err := m.dial(ctx)
	if err != nil {
		m.mu.Lock()
		fire := func() {}
		if m.state == StateConnecting {
			fire = m.setState(StateDisconnected)
		}
		m.mu.Unlock()
		fire()
		return err
	}
	if !m.install(conn, StateConnecting) {
		conn.Close()
		return ErrClosed
	}
	return nil
}

// Disconnect closes the connection and stops any reconnect in progress.
func (m *Manager) Disconnect() error {
	m.mu.Lock()
	if m.state == StateClosed || m.state == StateDisconnected {
		m.mu.Unlock()
		return nil
	}
	conn := m.conn
	if conn != nil {
		m.conn = nil
		m.ready = make(chan struct{})
	}
	fire := m.setState(StateDisconnected)
	m.mu.Unlock()
	fire()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

// Close stops reconnecting and closes the connection.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		return nil
	}
	conn := m.conn
	m.conn = nil
	fire := m.setState(StateClosed)
	m.mu.Unlock()
	fire()

	m.cancel()
	var err error
	if conn != nil {
		err = conn.Close()
	}
	m.wg.Wait()
	return err
}

// setState must be called with mu held. The returned func runs the
// listeners and must be called after mu is released.
func (m *Manager) setState(next State) func() {
	prev := m.state
	m.state = next
	if prev == next {
		return func() {}
	}
	fns := append([]func(State, State){}, m.onState...)
	return func() {
		m.logger.Debug("connection state", "from", prev, "to", next)
		for _, fn := range fns {
			fn(prev, next)
		}
	}
}

// install makes conn current if the state is still from.
func (m *Manager) install(conn transport.Conn, from State) bool {
	m.mu.Lock()
	if m.state != from {
		m.mu.Unlock()
		return false
	}
	m.conn = conn
	close(m.ready)
	m.backoff.Reset()
	fire := m.setState(StateConnected)
	onConnect := append([]func(transport.Conn){}, m.onConnect...)
	m.wg.Add(1)
	m.mu.Unlock()

	go m.watch(conn)
	fire()
	for _, fn := range onConnect {
		fn(conn)
	}
	m.logger.Info("connected", "remote", conn.RemoteAddr(), "conn_id", conn.ID())
	return true
}

func (m *Manager) watch(conn transport.Conn) {
	defer m.wg.Done()
	select {
	case <-conn.Done():
	case <-m.ctx.Done():
		return
	}

	m.mu.Lock()
	if m.conn != conn {
		m.mu.Unlock()
		return
	}
	m.conn = nil
	m.ready = make(chan struct{})
	next := StateDisconnected
	if m.autoReconnect {
		next = StateReconnecting
		m.wg.Add(1)
	}
	fire := m.setState(next)
	m.mu.Unlock()

	m.logger.Warn("connection lost", "remote", conn.RemoteAddr(), "error", conn.Err())
	fire()
	if next == StateReconnecting {
		go m.reconnect()
	}
}

func (m *Manager) reconnect() {
	defer m.wg.Done()
	for {
		delay := m.backoff.Next()
		m.logger.Info("reconnecting", "attempt", m.backoff.Attempts(), "delay", delay)

		timer := time.NewTimer(delay)
		select {
		case <-m.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		if m.State() != StateReconnecting {
			return
		}

		ctx, cancel := context.WithTimeout(m.ctx, m.attemptTimeout)
		conn, err := m.dial(ctx)
		cancel()
		if err != nil {
			m.logger.Debug("reconnect failed", "error", err)
			continue
		}
		if !m.install(conn, StateReconnecting) {
			conn.Close()
		}
		return
	}
}
