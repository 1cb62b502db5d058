package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/eclipse/paho.mqtt.golang/packets"

	"github.com/nerrad567/mqttprobe/internal/infrastructure/config"
)

// Client is a paho client that reports each CONNACK and publish
// acknowledgment through callbacks and bounds every wait.
//
// Safe for concurrent use. Subscriptions are replayed after auto-reconnect.
type Client struct {
	client   pahomqtt.Client
	options  *pahomqtt.ClientOptions
	cfg      *config.Config
	clientID string

	// subscriptions tracks active subscriptions for re-subscription on reconnect.
	subscriptions map[string]subscription
	subMu         sync.RWMutex

	// connected tracks current connection state; connects counts
	// successful connections so reconnects can be told apart.
	connected bool
	connects  int
	connMu    sync.RWMutex

	onConnect    func(ConnectResult)
	onDisconnect func(err error)
	onPublish    func(PublishResult)
	callbackMu   sync.RWMutex

	// qos0Seq numbers QoS 0 publishes, which carry no packet identifier.
	qos0Seq atomic.Uint32

	// logger for error/panic logging (optional, set via SetLogger).
	logger   Logger
	loggerMu sync.RWMutex
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// subscription holds subscription details for re-subscription on reconnect.
type subscription struct {
	topic   string
	qos     byte
	handler MessageHandler
}

// ConnectResult describes a CONNACK.
type ConnectResult struct {
	ReturnCode     byte
	SessionPresent bool
	Latency        time.Duration

	// Reconnect is true for connections made by auto-reconnect.
	Reconnect bool
}

// Accepted reports whether the broker accepted the connection.
func (r ConnectResult) Accepted() bool {
	return r.ReturnCode == packets.Accepted
}

// String returns the return code description, e.g. "Connection Accepted".
func (r ConnectResult) String() string {
	return ReturnCodeString(r.ReturnCode)
}

// ReturnCodeString maps a CONNACK return code to its description.
func ReturnCodeString(code byte) string {
	if s, ok := packets.ConnackReturnCodes[code]; ok {
		return s
	}
	return fmt.Sprintf("Unknown return code %d", code)
}

// Message is a received PUBLISH.
type Message struct {
	Topic      string
	Payload    []byte
	QoS        byte
	Retained   bool
	Duplicate  bool
	MessageID  uint16
	ReceivedAt time.Time
}

// MessageHandler is the callback signature for received messages.
//
// Handlers are invoked sequentially from the paho router goroutine, in
// arrival order. They must not block and must not call Subscribe.
//
// Returns:
//   - error: Logged but does not affect message acknowledgment
type MessageHandler func(msg Message) error

// New builds a client from configuration without connecting.
//
// It performs the following setup:
//  1. Resolves the client ID (optionally with a random suffix)
//  2. Builds connection options (broker URL, auth, keepalive, reconnect)
//  3. Loads mutual-TLS material when TLS is enabled
//  4. Configures Last Will and Testament when status messages are enabled
//
// Callbacks should be registered before Connect so the first CONNACK is seen.
//
// Returns:
//   - *Client: Disconnected client
//   - error: If TLS material cannot be loaded
func New(cfg *config.Config) (*Client, error) {
	clientID := resolveClientID(cfg)
	opts := buildClientOptions(cfg, clientID)

	if cfg.TLS.Enabled {
		tlsConfig, err := BuildTLSConfig(cfg.TLS)
		if err != nil {
			return nil, fmt.Errorf("configuring TLS: %w", err)
		}
		if tlsConfig.ServerName == "" {
			tlsConfig.ServerName = cfg.Broker.Host
		}
		opts.SetTLSConfig(tlsConfig)
	}

	if cfg.Status.Enabled {
		configureLWT(opts, cfg.Status.Topic, clientID)
	}

	c := &Client{
		cfg:           cfg,
		clientID:      clientID,
		options:       opts,
		subscriptions: make(map[string]subscription),
	}

	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		c.handleConnect()
	})

	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.handleDisconnect(err)
	})

	opts.SetReconnectingHandler(func(_ pahomqtt.Client, _ *pahomqtt.ClientOptions) {
		if logger := c.getLogger(); logger != nil {
			logger.Info("MQTT reconnecting", "broker", cfg.BrokerAddress())
		}
	})

	c.client = pahomqtt.NewClient(opts)
	return c, nil
}

// Connect is New followed by Client.Connect.
func Connect(ctx context.Context, cfg *config.Config) (*Client, error) {
	c, err := New(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// Connect performs the CONNECT/CONNACK exchange.
//
// The wait is bounded by the configured connect timeout and by ctx.
// The OnConnect callback fires for the first CONNACK whether accepted or
// refused; a refusal is returned as a *RefusedError (errors.Is ErrConnectionRefused).
//
// Returns:
//   - error: ErrConnectionFailed, ErrConnectionRefused or ErrTimeout wrapped with detail
func (c *Client) Connect(ctx context.Context) error {
	start := time.Now()
	token := c.client.Connect()

	timeout := c.cfg.GetConnectTimeout()
	if err := waitToken(ctx, token, timeout); err != nil {
		c.client.Disconnect(0)
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	result := ConnectResult{Latency: time.Since(start)}
	if ct, ok := token.(*pahomqtt.ConnectToken); ok {
		result.ReturnCode = ct.ReturnCode()
		result.SessionPresent = ct.SessionPresent()
	}

	if err := token.Error(); err != nil {
		if isRefusalCode(result.ReturnCode) {
			c.notifyConnect(result)
			return &RefusedError{ReturnCode: result.ReturnCode}
		}
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// paho runs OnConnectHandler on its own goroutine; mark the client
	// connected before the callback so Subscribe from it succeeds.
	c.connMu.Lock()
	c.connected = true
	c.connMu.Unlock()

	c.notifyConnect(result)
	return nil
}

// isRefusalCode reports whether code is one of the CONNACK refusal codes 1-5.
// paho uses codes above 5 for local network and protocol errors.
func isRefusalCode(code byte) bool {
	return code >= packets.ErrRefusedBadProtocolVersion && code <= packets.ErrRefusedNotAuthorised
}

// waitToken waits for token completion, ctx cancellation or timeout.
func waitToken(ctx context.Context, token pahomqtt.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("%w after %v", ErrTimeout, timeout)
	}
}

// handleConnect is called by paho when a connection is established.
func (c *Client) handleConnect() {
	c.connMu.Lock()
	c.connected = true
	c.connects++
	initial := c.connects == 1
	c.connMu.Unlock()

	c.restoreSubscriptions()
	c.publishStatus(statusOnline, "")

	// The initial connection is reported by Connect with the real CONNACK;
	// this path only reports reconnects.
	if initial {
		return
	}
	c.notifyConnect(ConnectResult{ReturnCode: packets.Accepted, Reconnect: true})
}

// handleDisconnect is called when the connection is lost.
func (c *Client) handleDisconnect(err error) {
	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()

	c.callbackMu.RLock()
	callback := c.onDisconnect
	c.callbackMu.RUnlock()
	if callback != nil {
		callback(err)
	}
}

// notifyConnect invokes the OnConnect callback, if any.
func (c *Client) notifyConnect(result ConnectResult) {
	c.callbackMu.RLock()
	callback := c.onConnect
	c.callbackMu.RUnlock()
	if callback != nil {
		callback(result)
	}
}

// restoreSubscriptions re-subscribes to all tracked topics after reconnect.
func (c *Client) restoreSubscriptions() {
	c.subMu.RLock()
	defer c.subMu.RUnlock()

	for _, sub := range c.subscriptions {
		// Failures surface as missing messages; the SUBACK is not awaited here.
		c.client.Subscribe(sub.topic, sub.qos, c.wrapHandler(sub.handler))
	}
}

// publishStatus publishes a retained status document when status is enabled.
func (c *Client) publishStatus(status, reason string) pahomqtt.Token {
	if !c.cfg.Status.Enabled {
		return nil
	}
	payload := buildStatusPayload(c.clientID, status, reason)
	return c.client.Publish(c.cfg.Status.Topic, 1, true, payload)
}

// Close publishes the offline status (when enabled), then disconnects
// after a short quiesce so in-flight acknowledgments can arrive.
//
// Returns:
//   - error: Always nil; a connection already closed is not an error
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}

	if c.IsConnected() {
		if token := c.publishStatus(statusOffline, reasonGraceful); token != nil {
			token.WaitTimeout(defaultPublishTimeout)
		}
	}

	c.client.Disconnect(defaultDisconnectQuiesce)

	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()

	return nil
}

// IsConnected returns the current connection state.
func (c *Client) IsConnected() bool {
	if c.client == nil {
		return false
	}
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected && c.client.IsConnected()
}

// ClientID returns the client identifier sent in CONNECT.
func (c *Client) ClientID() string {
	return c.clientID
}

// BrokerURL returns the URL the client dials.
func (c *Client) BrokerURL() string {
	return brokerURL(c.cfg)
}

// SetOnConnect sets a callback invoked for the first CONNACK (accepted or
// refused) and for every successful reconnect.
func (c *Client) SetOnConnect(callback func(ConnectResult)) {
	c.callbackMu.Lock()
	c.onConnect = callback
	c.callbackMu.Unlock()
}

// SetOnDisconnect sets a callback for an unexpected connection loss.
// It is not called for Close.
func (c *Client) SetOnDisconnect(callback func(err error)) {
	c.callbackMu.Lock()
	c.onDisconnect = callback
	c.callbackMu.Unlock()
}

// SetOnPublish sets a callback invoked once per acknowledged outbound message.
// For QoS 0 "acknowledged" means written to the network.
func (c *Client) SetOnPublish(callback func(PublishResult)) {
	c.callbackMu.Lock()
	c.onPublish = callback
	c.callbackMu.Unlock()
}

// SetLogger sets the logger for handler errors, recovered panics and
// reconnect attempts. Without one they are dropped.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

// getLogger returns the current logger (may be nil).
func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

// wrapHandler wraps a MessageHandler with panic recovery and optional logging.
func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				if logger := c.getLogger(); logger != nil {
					logger.Error("MQTT handler panic recovered",
						"topic", msg.Topic(),
						"panic", r,
					)
				}
			}
		}()

		m := Message{
			Topic:      msg.Topic(),
			Payload:    msg.Payload(),
			QoS:        msg.Qos(),
			Retained:   msg.Retained(),
			Duplicate:  msg.Duplicate(),
			MessageID:  msg.MessageID(),
			ReceivedAt: time.Now(),
		}

		if err := handler(m); err != nil {
			if logger := c.getLogger(); logger != nil {
				logger.Warn("MQTT handler returned error",
					"topic", msg.Topic(),
					"error", err,
				)
			}
		}
	}
}
