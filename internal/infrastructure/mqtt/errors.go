package mqtt

import "errors"

// Domain-specific errors for MQTT operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotConnected is returned when attempting operations on a disconnected client.
	ErrNotConnected = errors.New("mqtt: client not connected")

	// ErrConnectionFailed is returned when the initial connection attempt fails
	// before a CONNACK is received (network, TLS handshake, timeout).
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	// ErrConnectionRefused is returned when the broker answers CONNECT with a
	// non-zero CONNACK return code. Use errors.As with *RefusedError for the code.
	ErrConnectionRefused = errors.New("mqtt: connection refused")

	// ErrPublishFailed is returned when a publish operation fails.
	ErrPublishFailed = errors.New("mqtt: publish failed")

	// ErrSubscribeFailed is returned when a subscribe operation fails.
	ErrSubscribeFailed = errors.New("mqtt: subscribe failed")

	// ErrInvalidQoS is returned when an invalid QoS level is specified.
	// Valid QoS levels are 0, 1, or 2.
	ErrInvalidQoS = errors.New("mqtt: invalid QoS level (must be 0, 1, or 2)")

	// ErrInvalidTopic is returned when a topic is empty or malformed.
	ErrInvalidTopic = errors.New("mqtt: invalid topic")

	// ErrTimeout is returned when an operation times out.
	ErrTimeout = errors.New("mqtt: operation timed out")

	// ErrInvalidCA is returned when the CA bundle has no usable certificate.
	ErrInvalidCA = errors.New("mqtt: invalid CA certificate bundle")

	// ErrInvalidClientCert is returned when the client key pair cannot be loaded.
	ErrInvalidClientCert = errors.New("mqtt: invalid client certificate or key")

	// ErrInvalidTLSVersion is returned for an unrecognised TLS version string.
	ErrInvalidTLSVersion = errors.New("mqtt: invalid TLS version")

	// ErrPeerVerification is returned when the broker certificate chain
	// does not verify against the configured CA.
	ErrPeerVerification = errors.New("mqtt: broker certificate verification failed")
)

// RefusedError carries the CONNACK return code of a refused connection.
type RefusedError struct {
	ReturnCode byte
}

func (e *RefusedError) Error() string {
	return "mqtt: connection refused: " + ReturnCodeString(e.ReturnCode)
}

// Is reports ErrConnectionRefused as a match.
func (e *RefusedError) Is(target error) bool {
	return target == ErrConnectionRefused
}
