package mqtt

import (
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/nerrad567/mqttprobe/internal/infrastructure/config"
)

// Connection constants.
const (
	// defaultPublishTimeout is the maximum time to wait for publish acknowledgment.
	defaultPublishTimeout = 5 * time.Second

	// defaultSubscribeTimeout is the maximum time to wait for SUBACK/UNSUBACK.
	defaultSubscribeTimeout = 5 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending operations on disconnect.
	defaultDisconnectQuiesce = 250 // milliseconds

	// maxQoS is the maximum QoS level supported.
	maxQoS = 2

	// clientIDSuffixLen is the number of random characters appended to the client ID.
	clientIDSuffixLen = 8
)

// brokerURL returns the paho broker URL, ssl:// when TLS is enabled.
func brokerURL(cfg *config.Config) string {
	scheme := "tcp"
	if cfg.TLS.Enabled {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port)
}

// resolveClientID returns the configured client ID, with a short random
// suffix when client_id_suffix is set so parallel probes do not evict each other.
func resolveClientID(cfg *config.Config) string {
	if !cfg.Broker.ClientIDSuffix {
		return cfg.Broker.ClientID
	}
	return cfg.Broker.ClientID + "-" + uuid.NewString()[:clientIDSuffixLen]
}

// buildClientOptions creates paho MQTT options from the probe config.
//
// This configures:
//   - Broker URL (tcp:// or ssl:// based on TLS setting)
//   - Client ID for identification
//   - Authentication credentials (if provided)
//   - Keepalive, connect timeout, clean session, protocol version
//   - Auto-reconnect with exponential backoff after a successful connect
//
// TLS is applied separately by New because loading certificates can fail.
// Initial connection retries are disabled: a failed first connect is reported.
func buildClientOptions(cfg *config.Config, clientID string) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	opts.AddBroker(brokerURL(cfg))
	opts.SetClientID(clientID)

	// Authentication (if credentials provided)
	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}

	opts.SetCleanSession(cfg.Broker.CleanSession)
	opts.SetProtocolVersion(uint(cfg.Broker.ProtocolVersion)) //nolint:gosec // validated to 3 or 4
	opts.SetKeepAlive(cfg.GetKeepAlive())
	opts.SetConnectTimeout(cfg.GetConnectTimeout())

	opts.SetConnectRetry(false)
	opts.SetAutoReconnect(cfg.Reconnect.Enabled)
	if cfg.Reconnect.Enabled && cfg.Reconnect.MaxDelay > 0 {
		opts.SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay) * time.Second)
	}

	return opts
}

// configureLWT sets up Last Will and Testament for offline detection.
//
// The LWT message is published by the broker if the client disconnects
// unexpectedly (crash, network failure, etc.).
//
// QoS: 1 (guaranteed delivery)
// Retained: true (new subscribers see last status)
func configureLWT(opts *pahomqtt.ClientOptions, topic, clientID string) {
	opts.SetBinaryWill(topic, buildStatusPayload(clientID, statusOffline, reasonUnexpected), 1, true)
}
