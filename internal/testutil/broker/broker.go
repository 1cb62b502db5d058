// Package broker runs an in-process MQTT broker for tests.
//
// It wraps mochi-mqtt so packages can exercise real CONNECT, PUBLISH and
// SUBSCRIBE exchanges (plaintext or mutual TLS) without an external Mosquitto.
package broker

import (
	"crypto/tls"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/mochi-mqtt/server/v2/packets"
)

// Received is a message observed by an inline broker subscription.
type Received struct {
	Topic   string
	Payload []byte
	QoS     byte
	Retain  bool
}

// Broker is a running in-process broker.
type Broker struct {
	Server *mochi.Server
	Host   string
	Port   int

	nextSubID int
}

type options struct {
	tlsConfig *tls.Config
	users     map[string]string
}

// Option configures Start.
type Option func(*options)

// WithTLS serves the listener over TLS. Set ClientAuth on cfg for mutual TLS.
func WithTLS(cfg *tls.Config) Option {
	return func(o *options) {
		o.tlsConfig = cfg
	}
}

// WithUsers allows only the given username/password pairs.
// Without it every client is accepted.
func WithUsers(users map[string]string) Option {
	return func(o *options) {
		o.users = users
	}
}

// Start runs a broker on a free loopback port. It is closed by t.Cleanup.
func Start(t testing.TB, opts ...Option) *Broker {
	t.Helper()

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	server := mochi.New(&mochi.Options{
		InlineClient: true,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	if err := addAuth(server, o.users); err != nil {
		t.Fatalf("adding auth hook: %v", err)
	}

	inner, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listening: %v", err)
	}
	tracked := &trackingListener{Listener: inner}

	var listener net.Listener = tracked
	if o.tlsConfig != nil {
		listener = tls.NewListener(tracked, o.tlsConfig)
	}
	if err := server.AddListener(listeners.NewNet("mqttprobe-test", listener)); err != nil {
		t.Fatalf("adding listener: %v", err)
	}

	go func() {
		_ = server.Serve() //nolint:errcheck // Serve only fails if a listener fails to start
	}()

	t.Cleanup(func() {
		// mochi registers each connection with its WaitGroup from the
		// accepting goroutine; closing before those have finished races
		// with Server.Close.
		tracked.waitIdle(2 * time.Second)
		_ = server.Close() //nolint:errcheck // best effort in cleanup
	})

	return &Broker{
		Server: server,
		Host:   "127.0.0.1",
		Port:   inner.Addr().(*net.TCPAddr).Port,
	}
}

// trackingListener counts accepted connections that are not yet closed.
type trackingListener struct {
	net.Listener
	open atomic.Int64
}

func (l *trackingListener) Accept() (net.Conn, error) {
	conn, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}
	l.open.Add(1)
	return &trackedConn{Conn: conn, owner: l}, nil
}

// waitIdle polls until every accepted connection is closed or timeout elapses.
func (l *trackingListener) waitIdle(timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for l.open.Load() > 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
}

type trackedConn struct {
	net.Conn
	owner *trackingListener
	once  sync.Once
}

func (c *trackedConn) Close() error {
	err := c.Conn.Close()
	c.once.Do(func() { c.owner.open.Add(-1) })
	return err
}

// addAuth installs an allow-all hook or a username/password ledger.
func addAuth(server *mochi.Server, users map[string]string) error {
	if users == nil {
		return server.AddHook(new(auth.AllowHook), nil)
	}

	rules := auth.AuthRules{}
	for user, pass := range users {
		rules = append(rules, auth.AuthRule{
			Username: auth.RString(user),
			Password: auth.RString(pass),
			Allow:    true,
		})
	}
	return server.AddHook(new(auth.Hook), &auth.Options{
		Ledger: &auth.Ledger{
			Auth: rules,
			ACL: auth.ACLRules{
				{Filters: auth.Filters{"#": auth.ReadWrite}},
			},
		},
	})
}

// Publish sends a message from the broker's inline client.
func (b *Broker) Publish(t testing.TB, topic string, payload []byte, qos byte, retain bool) {
	t.Helper()
	if err := b.Server.Publish(topic, payload, retain, qos); err != nil {
		t.Fatalf("broker publish to %s: %v", topic, err)
	}
}

// PublishUntil publishes payload every 100ms until done reports true.
// It fails the test after 5 seconds.
func (b *Broker) PublishUntil(t testing.TB, topic string, payload []byte, done func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		b.Publish(t, topic, payload, 0, false)
		time.Sleep(100 * time.Millisecond)
		if done() {
			return
		}
	}
	t.Fatalf("no delivery on %s within 5s", topic)
}

// Collect returns a channel receiving every message matching filter.
// The channel is buffered; tests should drain it promptly.
func (b *Broker) Collect(t testing.TB, filter string) <-chan Received {
	t.Helper()

	b.nextSubID++
	out := make(chan Received, 64)
	err := b.Server.Subscribe(filter, b.nextSubID, func(_ *mochi.Client, _ packets.Subscription, pk packets.Packet) {
		payload := make([]byte, len(pk.Payload))
		copy(payload, pk.Payload)
		select {
		case out <- Received{
			Topic:   pk.TopicName,
			Payload: payload,
			QoS:     pk.FixedHeader.Qos,
			Retain:  pk.FixedHeader.Retain,
		}:
		default:
		}
	})
	if err != nil {
		t.Fatalf("broker subscribe to %s: %v", filter, err)
	}
	return out
}

// Kick drops the connection of clientID as if the network failed.
func (b *Broker) Kick(t testing.TB, clientID string) {
	t.Helper()
	cl, ok := b.Server.Clients.Get(clientID)
	if !ok {
		t.Fatalf("broker has no client %q", clientID)
	}
	cl.Stop(errors.New("connection dropped by test broker"))
}

// Subscribed reports whether a client holds a subscription to filter.
func (b *Broker) Subscribed(filter string) bool {
	for _, cl := range b.Server.Clients.GetAll() {
		if _, ok := cl.State.Subscriptions.Get(filter); ok {
			return true
		}
	}
	return false
}

// WaitSubscribed polls Subscribed until it is true or timeout elapses.
func (b *Broker) WaitSubscribed(t testing.TB, filter string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if b.Subscribed(filter) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("no client subscribed to %s within %v", filter, timeout)
}
