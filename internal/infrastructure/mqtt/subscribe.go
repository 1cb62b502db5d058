package mqtt

import (
	"fmt"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// Subscribe registers a handler for messages on the specified topic filter.
//
// Filters can include MQTT wildcards, passed through to the broker unchanged:
//   - + (single-level): "mutual/+/status"
//   - # (multi-level): "mutual/#"
//
// Subscriptions are automatically restored if the connection is lost and
// reconnected (tracked internally). Subscribing again to the same filter
// replaces the handler.
//
// Parameters:
//   - topic: The topic filter to subscribe to
//   - qos: Maximum QoS level for received messages (0, 1, or 2)
//   - handler: Callback function invoked for each message
//
// Returns:
//   - byte: QoS granted by the broker
//   - error: nil on success, or wrapped error describing the failure
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) (byte, error) {
	if err := ValidateSubscribeTopic(topic); err != nil {
		return 0, err
	}
	if qos > maxQoS {
		return 0, ErrInvalidQoS
	}
	if handler == nil {
		return 0, fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}

	if !c.IsConnected() {
		return 0, ErrNotConnected
	}

	// Track subscription for reconnection restoration
	c.subMu.Lock()
	previous, existed := c.subscriptions[topic]
	c.subscriptions[topic] = subscription{
		topic:   topic,
		qos:     qos,
		handler: handler,
	}
	c.subMu.Unlock()

	token := c.client.Subscribe(topic, qos, c.wrapHandler(handler))
	if !token.WaitTimeout(defaultSubscribeTimeout) {
		c.untrack(topic, previous, existed)
		return 0, fmt.Errorf("%w: timeout after %v", ErrSubscribeFailed, defaultSubscribeTimeout)
	}
	if err := token.Error(); err != nil {
		c.untrack(topic, previous, existed)
		return 0, fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}

	granted := qos
	if st, ok := token.(*pahomqtt.SubscribeToken); ok {
		if g, found := st.Result()[topic]; found {
			granted = g
		}
	}

	// 0x80 in SUBACK is a broker-side refusal.
	if granted == subackFailure {
		c.untrack(topic, previous, existed)
		return granted, fmt.Errorf("%w: broker rejected %q", ErrSubscribeFailed, topic)
	}

	return granted, nil
}

// subackFailure is the SUBACK return code for a rejected filter.
const subackFailure = 0x80

// untrack rolls back tracking after a failed subscribe.
func (c *Client) untrack(topic string, previous subscription, existed bool) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	if existed {
		c.subscriptions[topic] = previous
		return
	}
	delete(c.subscriptions, topic)
}
