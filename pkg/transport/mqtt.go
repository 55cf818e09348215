package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/opengda/scanning-go/pkg/log"
)

// MQTT defaults.
const (
	DefaultMQTTQoS = 1

	mqttTopicRoot      = "scan"
	mqttKeepAlive      = 30 * time.Second
	mqttDisconnectWait = 250 // milliseconds
	mqttAcceptBacklog  = 8
)

var ErrInvalidTopic = errors.New("invalid mqtt topic segment")

// MQTTConfig addresses a device through an MQTT broker.
type MQTTConfig struct {
	// Broker is the broker URL, e.g. tcp://localhost:1883.
	Broker string

	// ClientID identifies this side to the broker. It is also the client
	// segment of the topics for client connections.
	ClientID string

	// Device is the device segment of the topics.
	Device string

	QoS      byte
	Username string
	Password string
}

// Validate checks that the topic segments are usable.
func (c MQTTConfig) Validate() error {
	if c.Broker == "" {
		return errors.New("mqtt broker is required")
	}
	if err := checkSegment("device", c.Device); err != nil {
		return err
	}
	if err := checkSegment("client id", c.ClientID); err != nil {
		return err
	}
	if c.QoS > 2 {
		return fmt.Errorf("mqtt qos %d out of range", c.QoS)
	}
	return nil
}

func checkSegment(what, s string) error {
	if s == "" || strings.ContainsAny(s, "/+#") {
		return fmt.Errorf("%w: %s %q", ErrInvalidTopic, what, s)
	}
	return nil
}

// RequestTopic is the topic a client publishes requests on.
func RequestTopic(device, client string) string {
	return mqttTopicRoot + "/" + device + "/" + client + "/req"
}

// ReplyTopic is the topic a server publishes replies and updates on.
func ReplyTopic(device, client string) string {
	return mqttTopicRoot + "/" + device + "/" + client + "/rep"
}

// requestClient extracts the client segment of a request topic for device.
func requestClient(device, topic string) (string, bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 || parts[0] != mqttTopicRoot || parts[1] != device || parts[3] != "req" || parts[2] == "" {
		return "", false
	}
	return parts[2], true
}

func mqttOptions(mc MQTTConfig) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(mc.Broker)
	opts.SetClientID(mc.ClientID)
	if mc.Username != "" {
		opts.SetUsername(mc.Username)
		opts.SetPassword(mc.Password)
	}
	opts.SetCleanSession(true)
	opts.SetKeepAlive(mqttKeepAlive)
	opts.SetConnectTimeout(DefaultConnectTimeout)
	// Reconnection is owned by the caller so that subscriptions on the
	// remote device are re-established together with the connection.
	opts.SetAutoReconnect(false)
	return opts
}

// wait blocks until tok completes or ctx is done.
func wait(ctx context.Context, tok pahomqtt.Token) error {
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// MQTTConn carries one message per MQTT publish. An empty publish from
// the peer ends the connection.
type MQTTConn struct {
	id       string
	remote   string
	client   pahomqtt.Client
	pubTopic string
	qos      byte
	in       *inbox
	trace    *tracer

	closeOnce sync.Once
	onClose   func()
}

// DialMQTT connects to the broker and opens a connection to mc.Device.
func DialMQTT(ctx context.Context, mc MQTTConfig, cfg Config) (Conn, error) {
	if err := mc.Validate(); err != nil {
		return nil, err
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultConnectTimeout)
		defer cancel()
	}

	opts := mqttOptions(mc)
	// An abrupt disconnect reaches the server as an empty request.
	opts.SetWill(RequestTopic(mc.Device, mc.ClientID), "", mc.QoS, false)
	client := pahomqtt.NewClient(opts)
	if err := wait(ctx, client.Connect()); err != nil {
		return nil, fmt.Errorf("mqtt connect failed: %w", err)
	}

	c := newMQTTConn(client, RequestTopic(mc.Device, mc.ClientID), mc.Device, mc.QoS, log.RoleClient, cfg)
	c.onClose = func() {
		//nolint:errcheck // best-effort goodbye
		client.Publish(c.pubTopic, c.qos, false, []byte{}).WaitTimeout(time.Second)
		client.Disconnect(mqttDisconnectWait)
	}
	tok := client.Subscribe(ReplyTopic(mc.Device, mc.ClientID), mc.QoS, func(_ pahomqtt.Client, m pahomqtt.Message) {
		c.receive(m.Payload())
	})
	if err := wait(ctx, tok); err != nil {
		client.Disconnect(mqttDisconnectWait)
		return nil, fmt.Errorf("mqtt subscribe failed: %w", err)
	}
	return c, nil
}

func newMQTTConn(client pahomqtt.Client, pubTopic, remote string, qos byte, role log.Role, cfg Config) *MQTTConn {
	cfg = cfg.withDefaults()
	c := &MQTTConn{
		id:       newConnID(),
		remote:   remote,
		client:   client,
		pubTopic: pubTopic,
		qos:      qos,
		in:       newInbox(16),
	}
	c.trace = cfg.tracer(c.id, role, remote)
	return c
}

func (c *MQTTConn) ID() string            { return c.id }
func (c *MQTTConn) RemoteAddr() string    { return c.remote }
func (c *MQTTConn) Done() <-chan struct{} { return c.in.done }
func (c *MQTTConn) Err() error            { return c.in.error() }

// Send publishes data and waits for the broker to acknowledge it at the
// configured QoS.
func (c *MQTTConn) Send(ctx context.Context, data []byte) error {
	if len(data) == 0 {
		return ErrMessageEmpty
	}
	select {
	case <-c.in.done:
		return c.in.err
	default:
	}
	if err := wait(ctx, c.client.Publish(c.pubTopic, c.qos, false, data)); err != nil {
		return fmt.Errorf("mqtt publish failed: %w", err)
	}
	c.trace.frame(data, log.DirectionOut)
	return nil
}

// Receive returns the next message.
func (c *MQTTConn) Receive(ctx context.Context) ([]byte, error) {
	return c.in.receive(ctx)
}

// Close ends the connection and tells the peer.
func (c *MQTTConn) Close() error {
	c.closeOnce.Do(func() {
		c.in.end(ErrConnectionClosed)
		if c.onClose != nil {
			c.onClose()
		}
	})
	return nil
}

func (c *MQTTConn) receive(payload []byte) {
	if len(payload) == 0 {
		c.closeOnce.Do(func() {
			c.in.end(ErrConnectionClosed)
			if c.onClose != nil {
				c.onClose()
			}
		})
		return
	}
	data := append([]byte(nil), payload...)
	c.trace.frame(data, log.DirectionIn)
	c.in.deliver(data)
}

// MQTTListener serves one device over a broker. Each client segment seen
// on the request topics becomes a connection.
type MQTTListener struct {
	mc     MQTTConfig
	cfg    Config
	client pahomqtt.Client
	accept chan *MQTTConn

	mu    sync.Mutex
	conns map[string]*MQTTConn

	closeOnce sync.Once
	done      chan struct{}
}

// ListenMQTT connects to the broker and subscribes to the requests for
// mc.Device. mc.ClientID identifies the server to the broker.
func ListenMQTT(ctx context.Context, mc MQTTConfig, cfg Config) (*MQTTListener, error) {
	if err := mc.Validate(); err != nil {
		return nil, err
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultConnectTimeout)
		defer cancel()
	}

	client := pahomqtt.NewClient(mqttOptions(mc))
	if err := wait(ctx, client.Connect()); err != nil {
		return nil, fmt.Errorf("mqtt connect failed: %w", err)
	}
	l := &MQTTListener{
		mc:     mc,
		cfg:    cfg,
		client: client,
		accept: make(chan *MQTTConn, mqttAcceptBacklog),
		conns:  make(map[string]*MQTTConn),
		done:   make(chan struct{}),
	}
	filter := mqttTopicRoot + "/" + mc.Device + "/+/req"
	if err := wait(ctx, client.Subscribe(filter, mc.QoS, l.route)); err != nil {
		client.Disconnect(mqttDisconnectWait)
		return nil, fmt.Errorf("mqtt subscribe failed: %w", err)
	}
	return l, nil
}

func (l *MQTTListener) route(_ pahomqtt.Client, m pahomqtt.Message) {
	peer, ok := requestClient(l.mc.Device, m.Topic())
	if !ok {
		return
	}

	l.mu.Lock()
	c, known := l.conns[peer]
	if !known {
		if len(m.Payload()) == 0 {
			l.mu.Unlock()
			return
		}
		c = l.newConn(peer)
		l.conns[peer] = c
	}
	l.mu.Unlock()

	if !known {
		select {
		case l.accept <- c:
		case <-l.done:
			c.Close()
			return
		}
	}
	c.receive(m.Payload())
}

func (l *MQTTListener) newConn(peer string) *MQTTConn {
	c := newMQTTConn(l.client, ReplyTopic(l.mc.Device, peer), peer, l.mc.QoS, log.RoleServer, l.cfg)
	c.onClose = func() {
		l.mu.Lock()
		if l.conns[peer] == c {
			delete(l.conns, peer)
		}
		l.mu.Unlock()
		//nolint:errcheck // best-effort goodbye
		l.client.Publish(c.pubTopic, c.qos, false, []byte{})
	}
	return c
}

// Accept waits for a request from a new client.
func (l *MQTTListener) Accept(ctx context.Context) (Conn, error) {
	select {
	case c := <-l.accept:
		return c, nil
	case <-l.done:
		return nil, ErrListenerClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Addr returns the request topic filter.
func (l *MQTTListener) Addr() string {
	return mqttTopicRoot + "/" + l.mc.Device + "/+/req"
}

// Close ends all connections and disconnects from the broker.
func (l *MQTTListener) Close() error {
	l.closeOnce.Do(func() {
		close(l.done)
		l.mu.Lock()
		conns := make([]*MQTTConn, 0, len(l.conns))
		for _, c := range l.conns {
			conns = append(conns, c)
		}
		l.mu.Unlock()
		for _, c := range conns {
			c.Close()
		}
		l.client.Disconnect(mqttDisconnectWait)
	})
	return nil
}

var (
	_ Conn     = (*MQTTConn)(nil)
	_ Listener = (*MQTTListener)(nil)
)
