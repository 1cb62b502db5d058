package probe

import (
	"context"
	"time"
)

// ConnectEvent is emitted for every CONNACK the probe sees, accepted or not.
type ConnectEvent struct {
	RunID          string
	ClientID       string
	Broker         string
	ReturnCode     byte
	SessionPresent bool
	Reconnect      bool
	Latency        time.Duration
	At             time.Time
}

// PublishEvent is emitted once per acknowledged outbound message.
type PublishEvent struct {
	RunID     string
	ClientID  string
	Broker    string
	Topic     string
	QoS       byte
	Retained  bool
	MessageID uint16
	Size      int
	Latency   time.Duration
	At        time.Time
}

// MessageEvent is emitted once per received message. The payload is not
// carried; recorders only see its size.
type MessageEvent struct {
	RunID     string
	ClientID  string
	Broker    string
	Topic     string
	QoS       byte
	Retained  bool
	MessageID uint16
	Size      int
	At        time.Time
}

// ErrorEvent is emitted when a run step fails.
type ErrorEvent struct {
	RunID    string
	ClientID string
	Broker   string
	Stage    string
	Topic    string
	Err      error
	At       time.Time
}

// Recorder receives probe events. Implementations must be safe for
// concurrent use; message events arrive on the MQTT router goroutine.
// Recording is best effort: failures are the recorder's to log.
type Recorder interface {
	RecordConnect(ctx context.Context, e ConnectEvent)
	RecordPublish(ctx context.Context, e PublishEvent)
	RecordMessage(ctx context.Context, e MessageEvent)
	RecordError(ctx context.Context, e ErrorEvent)
}

// Recorders fans events out to every non-nil recorder in order.
type Recorders []Recorder

// RecordConnect implements Recorder.
func (rs Recorders) RecordConnect(ctx context.Context, e ConnectEvent) {
	for _, r := range rs {
		if r != nil {
			r.RecordConnect(ctx, e)
		}
	}
}

// RecordPublish implements Recorder.
func (rs Recorders) RecordPublish(ctx context.Context, e PublishEvent) {
	for _, r := range rs {
		if r != nil {
			r.RecordPublish(ctx, e)
		}
	}
}

// RecordMessage implements Recorder.
func (rs Recorders) RecordMessage(ctx context.Context, e MessageEvent) {
	for _, r := range rs {
		if r != nil {
			r.RecordMessage(ctx, e)
		}
	}
}

// RecordError implements Recorder.
func (rs Recorders) RecordError(ctx context.Context, e ErrorEvent) {
	for _, r := range rs {
		if r != nil {
			r.RecordError(ctx, e)
		}
	}
}
