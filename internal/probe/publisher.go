package probe

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/mqttprobe/internal/infrastructure/config"
	"github.com/nerrad567/mqttprobe/internal/infrastructure/mqtt"
)

// Publisher connects, publishes the configured message and disconnects.
type Publisher struct {
	runner
	published int
}

// NewPublisher creates a publisher for cfg. cfg must already be validated.
func NewPublisher(cfg *config.Config, opts ...Option) *Publisher {
	return &Publisher{runner: newRunner(cfg, opts)}
}

// RunID identifies this run in the journal and metrics.
func (p *Publisher) RunID() string { return p.runID }

// Published returns the number of acknowledged messages from the last Run.
func (p *Publisher) Published() int { return p.published }

// Run performs one publish run.
//
// Steps:
//  1. Create the client
//  2. Load TLS material (only when TLS is enabled)
//  3. Report the CONNACK (from the connect callback)
//  4. Connect, waiting for the CONNACK within the connect timeout
//  5. Report each acknowledged message (from the publish callback)
//  6. Publish publish.count messages, publish.interval apart
//  7. Disconnect and report done
//
// Optional publish.delay_before and publish.delay_after pauses are honoured
// but nothing depends on them: every step waits on its acknowledgment.
//
// Returns:
//   - error: The first failure; a refused CONNACK wraps mqtt.ErrConnectionRefused
func (p *Publisher) Run(ctx context.Context) error {
	p.published = 0

	client, err := p.newClient(ctx)
	if err != nil {
		return err
	}

	clientID := client.ClientID()
	client.SetOnConnect(func(res mqtt.ConnectResult) {
		p.onConnect(ctx, clientID, res)
	})
	client.SetOnPublish(func(res mqtt.PublishResult) {
		p.report.Published(res.MessageID)
		p.recorder.RecordPublish(ctx, PublishEvent{
			RunID:     p.runID,
			ClientID:  clientID,
			Broker:    p.broker,
			Topic:     res.Topic,
			QoS:       res.QoS,
			Retained:  res.Retained,
			MessageID: res.MessageID,
			Size:      res.Size,
			Latency:   res.Latency,
			At:        time.Now(),
		})
	})

	if err := p.connect(ctx, client, 4); err != nil {
		return err
	}
	defer client.Close()

	pub := p.cfg.Publish
	if err := sleep(ctx, time.Duration(pub.DelayBefore)*time.Millisecond); err != nil {
		return err
	}

	payload := []byte(pub.Payload)
	for i := 0; i < pub.Count; i++ {
		if i > 0 {
			if err := sleep(ctx, time.Duration(pub.Interval)*time.Millisecond); err != nil {
				return err
			}
		}

		p.report.Publishing(pub.Topic)
		if _, err := client.Publish(ctx, pub.Topic, payload, byte(pub.QoS), pub.Retained); err != nil { //nolint:gosec // QoS validated to 0-2
			p.fail(ctx, "publish", pub.Topic, clientID, err)
			return fmt.Errorf("publishing to %s: %w", pub.Topic, err)
		}
		p.published++
	}

	if err := sleep(ctx, time.Duration(pub.DelayAfter)*time.Millisecond); err != nil {
		return err
	}

	client.Close()
	p.report.Done()
	return nil
}
