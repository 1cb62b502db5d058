package probe

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/mqttprobe/internal/infrastructure/config"
	"github.com/nerrad567/mqttprobe/internal/infrastructure/mqtt"
)

// Subscriber connects, subscribes from the connect callback and reports
// every message until it is stopped.
type Subscriber struct {
	runner
	received atomic.Int64
}

// NewSubscriber creates a subscriber for cfg. cfg must already be validated.
func NewSubscriber(cfg *config.Config, opts ...Option) *Subscriber {
	return &Subscriber{runner: newRunner(cfg, opts)}
}

// RunID identifies this run in the journal and metrics.
func (s *Subscriber) RunID() string { return s.runID }

// Received returns the number of messages delivered during the last Run.
func (s *Subscriber) Received() int { return int(s.received.Load()) }

// Run performs one subscribe run.
//
// Steps:
//  1. Create the client
//  2. Load TLS material (only when TLS is enabled)
//  3. Report the CONNACK (from the connect callback)
//  4. Subscribe (from the connect callback, so reconnects resubscribe)
//  5. Report each received message
//  6. Connect
//  7. Wait for messages
//
// Run returns nil when ctx is cancelled, when subscribe.max_messages messages
// have arrived or when subscribe.duration elapses. A failed connect or
// subscribe ends the run with an error.
func (s *Subscriber) Run(ctx context.Context) error {
	s.received.Store(0)

	client, err := s.newClient(ctx)
	if err != nil {
		return err
	}

	sub := s.cfg.Subscribe
	clientID := client.ClientID()

	var (
		doneOnce sync.Once
		done     = make(chan struct{})
		failed   = make(chan error, 1)
	)

	handler := func(m mqtt.Message) error {
		s.report.Received(m.Topic, m.Payload)
		s.recorder.RecordMessage(ctx, MessageEvent{
			RunID:     s.runID,
			ClientID:  clientID,
			Broker:    s.broker,
			Topic:     m.Topic,
			QoS:       m.QoS,
			Retained:  m.Retained,
			MessageID: m.MessageID,
			Size:      len(m.Payload),
			At:        m.ReceivedAt,
		})
		n := s.received.Add(1)
		if sub.MaxMessages > 0 && n >= int64(sub.MaxMessages) {
			doneOnce.Do(func() { close(done) })
		}
		return nil
	}

	client.SetOnConnect(func(res mqtt.ConnectResult) {
		s.onConnect(ctx, clientID, res)
		if !res.Accepted() {
			return
		}

		s.report.Subscribing(sub.Topic)
		granted, err := client.Subscribe(sub.Topic, byte(sub.QoS), handler) //nolint:gosec // QoS validated to 0-2
		if err != nil {
			s.fail(ctx, "subscribe", sub.Topic, clientID, err)
			select {
			case failed <- fmt.Errorf("subscribing to %s: %w", sub.Topic, err):
			default:
			}
			return
		}
		s.logger.Info("subscribed",
			"topic", sub.Topic,
			"granted_qos", granted,
			"run_id", s.runID,
		)
	})

	if err := s.connect(ctx, client, 6); err != nil {
		return err
	}
	defer client.Close()

	s.report.Waiting()

	var timeout <-chan time.Time
	if sub.Duration > 0 {
		timer := time.NewTimer(time.Duration(sub.Duration) * time.Second)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-ctx.Done():
		s.logger.Info("subscriber stopping", "reason", ctx.Err(), "received", s.Received())
	case <-done:
		s.logger.Info("subscriber reached max messages", "received", s.Received())
	case <-timeout:
		s.logger.Info("subscriber duration elapsed", "received", s.Received())
	case err := <-failed:
		return err
	}
	return nil
}
