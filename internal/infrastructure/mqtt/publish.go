package mqtt

import (
	"context"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// Maximum payload size for MQTT messages (1MB).
// This prevents resource exhaustion and aligns with typical broker limits.
const maxPayloadSize = 1 << 20 // 1MB

// PublishResult describes an acknowledged outbound message.
type PublishResult struct {
	Topic     string
	QoS       byte
	Retained  bool
	Size      int
	MessageID uint16
	Latency   time.Duration
}

// Publish sends a message and waits for it to be acknowledged.
//
// QoS Levels:
//   - 0: At most once; completes when written to the network. QoS 0 has no
//     packet identifier, so MessageID is a per-client sequence starting at 1
//   - 1: At least once; completes on PUBACK
//   - 2: Exactly once; completes on PUBCOMP
//
// The wait is bounded by ctx and a fixed publish timeout. On success the
// OnPublish callback is invoked before Publish returns.
//
// Returns:
//   - PublishResult: Message ID and acknowledgment latency
//   - error: nil on success, or wrapped error describing the failure
//
// Example:
//
//	res, err := client.Publish(ctx, "mutual/test", []byte("m=random"), 1, false)
func (c *Client) Publish(ctx context.Context, topic string, payload []byte, qos byte, retained bool) (PublishResult, error) {
	if err := ValidatePublishTopic(topic); err != nil {
		return PublishResult{}, err
	}
	if qos > maxQoS {
		return PublishResult{}, ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return PublishResult{}, fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}

	if !c.IsConnected() {
		return PublishResult{}, ErrNotConnected
	}

	start := time.Now()
	token := c.client.Publish(topic, qos, retained, payload)
	if err := waitToken(ctx, token, defaultPublishTimeout); err != nil {
		return PublishResult{}, fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	if err := token.Error(); err != nil {
		return PublishResult{}, fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}

	result := PublishResult{
		Topic:    topic,
		QoS:      qos,
		Retained: retained,
		Size:     len(payload),
		Latency:  time.Since(start),
	}
	if pt, ok := token.(*pahomqtt.PublishToken); ok {
		result.MessageID = pt.MessageID()
	}
	if qos == 0 {
		result.MessageID = c.nextQoS0ID()
	}

	c.callbackMu.RLock()
	callback := c.onPublish
	c.callbackMu.RUnlock()
	if callback != nil {
		callback(result)
	}

	return result, nil
}

// nextQoS0ID returns the next local message ID for a QoS 0 publish,
// counting 1..65535 and wrapping past 0.
func (c *Client) nextQoS0ID() uint16 {
	for {
		if id := uint16(c.qos0Seq.Add(1)); id != 0 { //nolint:gosec // truncation is the wrap
			return id
		}
	}
}
